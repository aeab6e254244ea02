package stream

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"alphaledger/internal/model"
	"alphaledger/pkg/exception"
)

// AuthResponse answers the auth op on the private channel.
type AuthResponse struct {
	Op      string `json:"op"`
	Success bool   `json:"success"`
	RetMsg  string `json:"ret_msg"`
	ConnID  string `json:"conn_id"`
}

// SubscribeResponse answers a subscribe op.
type SubscribeResponse struct {
	Op      string `json:"op"`
	Success bool   `json:"success"`
	ReqID   string `json:"req_id"`
	RetMsg  string `json:"ret_msg"`
}

// TopicMessage is the envelope for data pushes on subscribed topics.
type TopicMessage struct {
	Topic        string            `json:"topic"`
	ID           string            `json:"id"`
	CreationTime int64             `json:"creationTime"`
	Data         []json.RawMessage `json:"data"`
}

func (m TopicMessage) Unmarshal(index int, p any) error {
	if index >= len(m.Data) {
		return errors.Errorf("index %d out of range, len: %d", index, len(m.Data))
	}

	if err := json.Unmarshal(m.Data[index], p); err != nil {
		return errors.Wrapf(err, "unmarshal from index: %d", index)
	}

	return nil
}

// Executions decodes the payload of an execution push. A push on any other
// topic fails with exception.ErrStreamUnknownTopic.
func (m TopicMessage) Executions() ([]ExecutionEvent, error) {
	if m.Topic != _topicExecution {
		return nil, errors.Wrapf(exception.ErrStreamUnknownTopic, "topic: %q", m.Topic)
	}

	events := make([]ExecutionEvent, len(m.Data))
	for i := range m.Data {
		if err := m.Unmarshal(i, &events[i]); err != nil {
			return nil, err
		}
	}

	return events, nil
}

// ExecutionEvent is one fill pushed on the execution topic.
type ExecutionEvent struct {
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
	ExecID      string `json:"execId"`
	ExecPrice   string `json:"execPrice"`
	ExecQty     string `json:"execQty"`
	ExecFee     string `json:"execFee"`
	ExecType    string `json:"execType"`
	ExecTime    string `json:"execTime"`
	IsMaker     bool   `json:"isMaker"`
}

// ToFill converts the event into a ledger fill. The bot id and intent come
// from the client order id; events carrying a foreign or empty link id fail
// here and belong to some other actor on the account.
func (e *ExecutionEvent) ToFill() (model.Fill, error) {
	botID, reason, _, err := model.ParseClientOrderID(e.OrderLinkID)
	if err != nil {
		return model.Fill{}, err
	}

	price, err := decimal.NewFromString(e.ExecPrice)
	if err != nil {
		return model.Fill{}, errors.Wrapf(err, "parse execPrice: %q", e.ExecPrice)
	}

	qty, err := decimal.NewFromString(e.ExecQty)
	if err != nil {
		return model.Fill{}, errors.Wrapf(err, "parse execQty: %q", e.ExecQty)
	}

	fee := decimal.Zero
	if len(e.ExecFee) != 0 {
		fee, err = decimal.NewFromString(e.ExecFee)
		if err != nil {
			return model.Fill{}, errors.Wrapf(err, "parse execFee: %q", e.ExecFee)
		}
	}

	ms, err := strconv.ParseInt(e.ExecTime, 10, 64)
	if err != nil {
		return model.Fill{}, errors.Wrapf(err, "parse execTime: %q", e.ExecTime)
	}

	return model.Fill{
		BotID:      botID,
		Symbol:     e.Symbol,
		Side:       model.Side(e.Side),
		Price:      price,
		Quantity:   qty,
		OrderID:    e.OrderID,
		FillID:     e.ExecID,
		Commission: fee,
		Time:       time.UnixMilli(ms).UTC(),
		Reason:     reason,
	}, nil
}
