package bybit

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"alphaledger/internal/exchange"
	"alphaledger/internal/model"
	"alphaledger/pkg/exception"
)

// Response is the v5 envelope. Every endpoint wraps its payload in Result
// and signals errors through a non-zero RetCode.
type Response[T any] struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  T      `json:"result"`
	Time    int64  `json:"time"`
}

type ResponsePositionList struct {
	Category string             `json:"category"`
	List     []ResponsePosition `json:"list"`
}

type ResponsePosition struct {
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Size          string `json:"size"`
	AvgPrice      string `json:"avgPrice"`
	PositionValue string `json:"positionValue"`
	UnrealisedPnl string `json:"unrealisedPnl"`
	Leverage      string `json:"leverage"`
	UpdatedTime   string `json:"updatedTime"`
}

type ResponseExecutionList struct {
	Category       string              `json:"category"`
	List           []ResponseExecution `json:"list"`
	NextPageCursor string              `json:"nextPageCursor"`
}

type ResponseExecution struct {
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
	ClosedSize  string `json:"closedSize"`
	IsMaker     bool   `json:"isMaker"`
}

type ResponseClosedPnlList struct {
	Category       string              `json:"category"`
	List           []ResponseClosedPnl `json:"list"`
	NextPageCursor string              `json:"nextPageCursor"`
}

type ResponseClosedPnl struct {
	Symbol        string `json:"symbol"`
	OrderID       string `json:"orderId"`
	Side          string `json:"side"`
	Qty           string `json:"qty"`
	ClosedSize    string `json:"closedSize"`
	OrderPrice    string `json:"orderPrice"`
	AvgEntryPrice string `json:"avgEntryPrice"`
	AvgExitPrice  string `json:"avgExitPrice"`
	ClosedPnl     string `json:"closedPnl"`
	OpenFee       string `json:"openFee"`
	CloseFee      string `json:"closeFee"`
	Leverage      string `json:"leverage"`
	ExecType      string `json:"execType"`
	FillCount     string `json:"fillCount"`
	CreatedTime   string `json:"createdTime"`
	UpdatedTime   string `json:"updatedTime"`
}

type ResponseWalletBalanceList struct {
	List []ResponseWalletBalance `json:"list"`
}

type ResponseWalletBalance struct {
	AccountType string `json:"accountType"`
	TotalEquity string `json:"totalEquity"`
}

func parseDecimal(field, value string) (decimal.Decimal, error) {
	if len(value) == 0 {
		return decimal.Zero, nil
	}

	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, errors.Wrapf(exception.ErrExchangeDecodeResponseBody, "field %s: %q", field, value)
	}

	return d, nil
}

func parseMillis(field, value string) (time.Time, error) {
	if len(value) == 0 {
		return time.Time{}, nil
	}

	ms, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, errors.Wrapf(exception.ErrExchangeDecodeResponseBody, "field %s: %q", field, value)
	}

	return time.UnixMilli(ms).UTC(), nil
}

func toExecution(item *ResponseExecution) (exchange.Execution, error) {
	price, err := parseDecimal("execPrice", item.ExecPrice)
	if err != nil {
		return exchange.Execution{}, err
	}

	qty, err := parseDecimal("execQty", item.ExecQty)
	if err != nil {
		return exchange.Execution{}, err
	}

	fee, err := parseDecimal("execFee", item.ExecFee)
	if err != nil {
		return exchange.Execution{}, err
	}

	ts, err := parseMillis("execTime", item.ExecTime)
	if err != nil {
		return exchange.Execution{}, err
	}

	return exchange.Execution{
		Symbol:      item.Symbol,
		Side:        model.Side(item.Side),
		Price:       price,
		Quantity:    qty,
		Fee:         fee,
		OrderID:     item.OrderID,
		OrderLinkID: item.OrderLinkID,
		ExecID:      item.ExecID,
		Time:        ts,
	}, nil
}

func toClosedPnl(item *ResponseClosedPnl) (exchange.ClosedPnL, error) {
	// closedSize carries the matched quantity; qty is the order quantity and
	// can exceed it on partially filled closes
	qty, err := parseDecimal("closedSize", item.ClosedSize)
	if err != nil {
		return exchange.ClosedPnL{}, err
	}

	entry, err := parseDecimal("avgEntryPrice", item.AvgEntryPrice)
	if err != nil {
		return exchange.ClosedPnL{}, err
	}

	exit, err := parseDecimal("avgExitPrice", item.AvgExitPrice)
	if err != nil {
		return exchange.ClosedPnL{}, err
	}

	pnl, err := parseDecimal("closedPnl", item.ClosedPnl)
	if err != nil {
		return exchange.ClosedPnL{}, err
	}

	openFee, err := parseDecimal("openFee", item.OpenFee)
	if err != nil {
		return exchange.ClosedPnL{}, err
	}

	closeFee, err := parseDecimal("closeFee", item.CloseFee)
	if err != nil {
		return exchange.ClosedPnL{}, err
	}

	created, err := parseMillis("createdTime", item.CreatedTime)
	if err != nil {
		return exchange.ClosedPnL{}, err
	}

	updated, err := parseMillis("updatedTime", item.UpdatedTime)
	if err != nil {
		return exchange.ClosedPnL{}, err
	}

	return exchange.ClosedPnL{
		Symbol:      item.Symbol,
		OrderID:     item.OrderID,
		Side:        model.Side(item.Side),
		Quantity:    qty,
		EntryPrice:  entry,
		ExitPrice:   exit,
		RealizedPnL: pnl,
		OpenFee:     openFee,
		CloseFee:    closeFee,
		CreatedAt:   created,
		UpdatedAt:   updated,
	}, nil
}
