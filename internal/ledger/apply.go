package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"alphaledger/internal/model"
	"alphaledger/pkg/exception"
)

// Apply routes one observed fill into the ledger. Entry intents append a
// PositionEntry, exit intents run the FIFO close walk keyed by the fill id.
// Redelivered fills are absorbed, matching the at-least-once delivery of
// the venue stream; an exit that cannot be covered by open entries
// propagates ErrLedgerInsufficientPosition and the caller must stop exits
// on the symbol.
func (e *Engine) Apply(ctx context.Context, fill model.Fill) error {
	if e == nil {
		return exception.ErrNilInstance
	}

	if fill.BotID != e.botID {
		return fmt.Errorf("fill %s belongs to bot %s, not %s: %w",
			fill.FillID, fill.BotID, e.botID, exception.ErrLedgerInvalidFill)
	}

	started := time.Now()

	if fill.Reason.IsEntry() {
		if _, err := e.CreateEntry(ctx, fill); err != nil && !errors.Is(err, exception.ErrLedgerDuplicateFill) {
			return err
		}

		e.metrics.ObserveApply(time.Since(started))

		return nil
	}

	_, err := e.CloseFIFO(ctx, CloseRequest{
		Symbol:     fill.Symbol,
		ExitPrice:  fill.Price,
		Quantity:   fill.Quantity,
		ExitTime:   fill.Time,
		Reason:     fill.Reason,
		OrderID:    fill.OrderID,
		FillID:     fill.FillID,
		Commission: fill.Commission,
	})
	if err != nil {
		return err
	}

	e.metrics.ObserveApply(time.Since(started))

	return nil
}
