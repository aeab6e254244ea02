package stream

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"alphaledger/internal/model"
	"alphaledger/pkg/exception"
)

func TestDecodeExecutionPush(t *testing.T) {
	payload := []byte(`{"topic":"execution","id":"msg-1","creationTime":1717236000500,"data":[{"symbol":"BTCUSDT","side":"Sell","orderId":"ord-1","orderLinkId":"alpha-01:take_profit:1717236000123","execId":"exec-1","execPrice":"52000.5","execQty":"0.25","execFee":"0.0715","execType":"Trade","execTime":"1717236000456","isMaker":false}]}`)

	var msg TopicMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if msg.Topic != "execution" {
		t.Fatalf("topic mismatch: got %s", msg.Topic)
	}
	if len(msg.Data) != 1 {
		t.Fatalf("data length mismatch: got %d", len(msg.Data))
	}

	var event ExecutionEvent
	if err := msg.Unmarshal(0, &event); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}

	fill, err := event.ToFill()
	if err != nil {
		t.Fatalf("to fill: %v", err)
	}
	if fill.BotID != "alpha-01" {
		t.Fatalf("bot id mismatch: got %s", fill.BotID)
	}
	if fill.Reason != model.ReasonTakeProfit {
		t.Fatalf("reason mismatch: got %s", fill.Reason)
	}
	if fill.Symbol != "BTCUSDT" || fill.Side != model.SideSell {
		t.Fatalf("symbol/side mismatch: %s %s", fill.Symbol, fill.Side)
	}
	if !fill.Price.Equal(decimal.NewFromFloat(52000.5)) {
		t.Fatalf("price mismatch: got %s", fill.Price)
	}
	if !fill.Quantity.Equal(decimal.NewFromFloat(0.25)) {
		t.Fatalf("quantity mismatch: got %s", fill.Quantity)
	}
	if !fill.Commission.Equal(decimal.NewFromFloat(0.0715)) {
		t.Fatalf("commission mismatch: got %s", fill.Commission)
	}
	if fill.OrderID != "ord-1" || fill.FillID != "exec-1" {
		t.Fatalf("id mismatch: order %s fill %s", fill.OrderID, fill.FillID)
	}
	if !fill.Time.Equal(time.UnixMilli(1717236000456).UTC()) {
		t.Fatalf("time mismatch: got %s", fill.Time)
	}
	if err := fill.Validate(); err != nil {
		t.Fatalf("mapped fill must be valid: %v", err)
	}
}

func TestExecutionsRejectsOtherTopics(t *testing.T) {
	wallet := TopicMessage{Topic: "wallet", Data: []json.RawMessage{[]byte(`{}`)}}
	if _, err := wallet.Executions(); !errors.Is(err, exception.ErrStreamUnknownTopic) {
		t.Fatalf("wallet push must be refused: %v", err)
	}

	exec := TopicMessage{Topic: "execution", Data: []json.RawMessage{[]byte(`{"symbol":"BTCUSDT"}`)}}
	events, err := exec.Executions()
	if err != nil {
		t.Fatalf("executions: %v", err)
	}
	if len(events) != 1 || events[0].Symbol != "BTCUSDT" {
		t.Fatalf("events mismatch: %+v", events)
	}
}

func TestToFillRejectsForeignLinkID(t *testing.T) {
	for _, linkID := range []string{"", "manual-by-hand", "too:many:colons:here"} {
		event := ExecutionEvent{
			Symbol:      "BTCUSDT",
			Side:        "Sell",
			OrderID:     "ord-1",
			OrderLinkID: linkID,
			ExecID:      "exec-1",
			ExecPrice:   "52000",
			ExecQty:     "1",
			ExecTime:    "1717236000456",
		}
		if _, err := event.ToFill(); err == nil {
			t.Fatalf("link id %q must not map to a fill", linkID)
		}
	}
}

func TestToFillEntryIntent(t *testing.T) {
	event := ExecutionEvent{
		Symbol:      "ETHUSDT",
		Side:        "Buy",
		OrderID:     "ord-2",
		OrderLinkID: "alpha-01:entry:1717236000001",
		ExecID:      "exec-2",
		ExecPrice:   "3000",
		ExecQty:     "2",
		ExecTime:    "1717236000002",
	}

	fill, err := event.ToFill()
	if err != nil {
		t.Fatalf("to fill: %v", err)
	}
	if !fill.Reason.IsEntry() {
		t.Fatalf("entry link id must map to an entry reason, got %s", fill.Reason)
	}
	if !fill.Commission.IsZero() {
		t.Fatalf("missing fee must map to zero, got %s", fill.Commission)
	}
}

func TestDecodeControlResponses(t *testing.T) {
	var auth AuthResponse
	if err := json.Unmarshal([]byte(`{"op":"auth","success":true,"ret_msg":"","conn_id":"c-1"}`), &auth); err != nil {
		t.Fatalf("unmarshal auth: %v", err)
	}
	if auth.Op != "auth" || !auth.Success {
		t.Fatalf("auth mismatch: %+v", auth)
	}

	var sub SubscribeResponse
	if err := json.Unmarshal([]byte(`{"op":"subscribe","success":false,"req_id":"subscribe-execution","ret_msg":"invalid topic"}`), &sub); err != nil {
		t.Fatalf("unmarshal subscribe: %v", err)
	}
	if sub.Success || sub.ReqID != "subscribe-execution" || sub.RetMsg != "invalid topic" {
		t.Fatalf("subscribe mismatch: %+v", sub)
	}
}
