package model

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"alphaledger/pkg/exception"
)

// Side is the exchange-facing order direction.
type Side string

const (
	SideBuy  Side = "Buy"
	SideSell Side = "Sell"
)

func (s Side) IsAvailable() bool {
	return s == SideBuy || s == SideSell
}

// Opposite returns the side that reduces exposure opened by s.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}

	return SideBuy
}

// Reason classifies why an order was placed. It rides inside the client
// order id so fills can be routed without extra state.
type Reason string

const (
	ReasonEntry           Reason = "entry"
	ReasonScaleIn         Reason = "scale_in"
	ReasonTakeProfit      Reason = "take_profit"
	ReasonStopLoss        Reason = "stop_loss"
	ReasonTrailingStop    Reason = "trailing_stop"
	ReasonManualClose     Reason = "manual_close"
	ReasonBackfilledClose Reason = "backfilled_close"
)

func (r Reason) IsAvailable() bool {
	switch r {
	case ReasonEntry, ReasonScaleIn, ReasonTakeProfit, ReasonStopLoss,
		ReasonTrailingStop, ReasonManualClose, ReasonBackfilledClose:
		return true
	}

	return false
}

// IsEntry reports whether the reason opens or adds exposure.
func (r Reason) IsEntry() bool {
	return r == ReasonEntry || r == ReasonScaleIn
}

// Fill is one execution delivered by the exchange stream or synthesized
// locally. FillID is the idempotency key for entries; OrderID for exits.
type Fill struct {
	BotID      string
	Symbol     string
	Side       Side
	Price      decimal.Decimal
	Quantity   decimal.Decimal
	OrderID    string
	FillID     string
	Commission decimal.Decimal
	Time       time.Time
	Reason     Reason
}

func (f Fill) Validate() error {
	switch {
	case f.BotID == "":
		return errors.Wrap(exception.ErrLedgerInvalidFill, "empty bot id")
	case f.Symbol == "":
		return errors.Wrap(exception.ErrLedgerInvalidFill, "empty symbol")
	case !f.Side.IsAvailable():
		return errors.Wrapf(exception.ErrLedgerInvalidFill, "side: %s", f.Side)
	case f.FillID == "":
		return errors.Wrap(exception.ErrLedgerInvalidFill, "empty fill id")
	case !f.Price.IsPositive():
		return errors.Wrapf(exception.ErrLedgerInvalidFill, "price: %s", f.Price)
	case !f.Quantity.IsPositive():
		return errors.Wrapf(exception.ErrLedgerInvalidFill, "quantity: %s", f.Quantity)
	case f.Commission.IsNegative():
		return errors.Wrapf(exception.ErrLedgerInvalidFill, "commission: %s", f.Commission)
	}

	return nil
}

const clientOrderIDSep = ":"

// FormatClientOrderID builds "{bot_id}:{reason}:{unix_millis}". Bot ids must
// not contain ':'.
func FormatClientOrderID(botID string, reason Reason, ts time.Time) string {
	var sb strings.Builder
	sb.Grow(len(botID) + len(reason) + 16)
	sb.WriteString(botID)
	sb.WriteString(clientOrderIDSep)
	sb.WriteString(string(reason))
	sb.WriteString(clientOrderIDSep)
	sb.WriteString(strconv.FormatInt(ts.UnixMilli(), 10))

	return sb.String()
}

// ParseClientOrderID splits a client order id back into its parts. Ids not
// produced by FormatClientOrderID fail with ErrInvalidArgument; fills carrying
// them belong to another system and are skipped upstream.
func ParseClientOrderID(id string) (botID string, reason Reason, ts time.Time, err error) {
	parts := strings.SplitN(id, clientOrderIDSep, 3)
	if len(parts) != 3 {
		return "", "", time.Time{}, errors.Wrapf(exception.ErrInvalidArgument, "client order id: %s", id)
	}

	ms, parseErr := strconv.ParseInt(parts[2], 10, 64)
	if parseErr != nil {
		return "", "", time.Time{}, errors.Wrapf(exception.ErrInvalidArgument, "client order id timestamp: %s", parts[2])
	}

	reason = Reason(parts[1])
	if !reason.IsAvailable() {
		return "", "", time.Time{}, errors.Wrapf(exception.ErrInvalidArgument, "client order id reason: %s", parts[1])
	}

	return parts[0], reason, time.UnixMilli(ms).UTC(), nil
}
