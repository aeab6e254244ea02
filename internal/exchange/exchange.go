// Package exchange defines the thin venue boundary the engine consumes:
// a current position snapshot plus recent execution and closed-PnL history.
// Implementations live in subpackages; everything above this interface is
// venue agnostic.
package exchange

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"alphaledger/internal/model"
)

// PositionSnapshot is the venue's current view of one symbol. Quantity is
// zero when the venue is flat; Side is empty in that case.
type PositionSnapshot struct {
	Symbol   string
	Side     model.Side
	Quantity decimal.Decimal
	AvgPrice decimal.Decimal
}

// IsFlat reports whether the venue holds no exposure.
func (p PositionSnapshot) IsFlat() bool {
	return p.Quantity.IsZero()
}

// Execution is one historical fill reported by the venue.
type Execution struct {
	Symbol      string
	Side        model.Side
	Price       decimal.Decimal
	Quantity    decimal.Decimal
	Fee         decimal.Decimal
	OrderID     string
	OrderLinkID string
	ExecID      string
	Time        time.Time
}

// ClosedPnL is one realized-PnL record from the venue's closed-position
// history.
type ClosedPnL struct {
	Symbol      string
	OrderID     string
	Side        model.Side
	Quantity    decimal.Decimal
	EntryPrice  decimal.Decimal
	ExitPrice   decimal.Decimal
	RealizedPnL decimal.Decimal
	OpenFee     decimal.Decimal
	CloseFee    decimal.Decimal
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Client is the venue surface used by reconciliation and trade sync. Calls
// must respect the context deadline; reconciliation treats a timeout as
// "unknown", never as "flat".
type Client interface {
	// Position returns the venue's current snapshot for the symbol.
	Position(ctx context.Context, symbol string) (PositionSnapshot, error)

	// Executions returns fills for the symbol since the given time, oldest
	// first.
	Executions(ctx context.Context, symbol string, since time.Time) ([]Execution, error)

	// ClosedPnL returns one page of closed-PnL records inside [start, end]
	// together with the cursor for the next page. An empty cursor means the
	// last page.
	ClosedPnL(ctx context.Context, symbol string, start, end time.Time, cursor string) ([]ClosedPnL, string, error)
}
