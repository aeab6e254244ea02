package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"alphaledger/internal/model"
	"alphaledger/internal/storage"
	"alphaledger/pkg/exception"
)

// CloseRequest describes one exit to be matched against open entries.
// FillID is set when the request mirrors a single venue execution; partial
// fills of one exit order then arrive as separate requests sharing OrderID
// but carrying distinct fill ids.
type CloseRequest struct {
	Symbol     string
	ExitPrice  decimal.Decimal
	Quantity   decimal.Decimal
	ExitTime   time.Time
	Reason     model.Reason
	OrderID    string
	FillID     string
	Commission decimal.Decimal
}

func (r CloseRequest) validate() error {
	switch {
	case r.Symbol == "":
		return errors.Wrap(exception.ErrLedgerInvalidCloseRequest, "empty symbol")
	case !r.ExitPrice.IsPositive():
		return errors.Wrapf(exception.ErrLedgerInvalidCloseRequest, "exit price: %s", r.ExitPrice)
	case !r.Quantity.IsPositive():
		return errors.Wrapf(exception.ErrLedgerInvalidCloseRequest, "quantity: %s", r.Quantity)
	case r.Commission.IsNegative():
		return errors.Wrapf(exception.ErrLedgerInvalidCloseRequest, "commission: %s", r.Commission)
	}

	return nil
}

// CloseFIFO consumes open entries oldest-first until the requested quantity
// is satisfied, emitting one CompletedTrade per consumed slice. The whole
// walk runs in a single transaction: it either commits every decrement and
// trade insert, or nothing.
//
// A request whose quantity exceeds the total open remaining quantity fails
// with ErrLedgerInsufficientPosition before any mutation. The caller must
// stop issuing exits for the symbol until the discrepancy is resolved.
//
// Requests are idempotent on their exit fill id when present, otherwise on
// their exit order id: a retry after a crash returns the trades recorded by
// the committed walk instead of double closing.
func (e *Engine) CloseFIFO(ctx context.Context, req CloseRequest) ([]model.CompletedTrade, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	started := time.Now()

	var (
		trades   []model.CompletedTrade
		replayed bool
	)

	err := e.store.WithTransaction(ctx, func(ctx context.Context, tx storage.Store) error {
		var (
			recorded []model.CompletedTrade
			err      error
		)
		switch {
		case len(req.FillID) != 0:
			recorded, err = tx.TradesByExitFill(ctx, e.botID, req.FillID)
		case len(req.OrderID) != 0:
			recorded, err = tx.TradesByExitOrder(ctx, e.botID, req.OrderID)
		}
		if err != nil {
			return err
		}
		if len(recorded) != 0 {
			trades = recorded
			replayed = true
			return nil
		}

		entries, err := tx.OpenEntries(ctx, e.botID, req.Symbol)
		if err != nil {
			return err
		}

		available := decimal.Zero
		for i := range entries {
			available = available.Add(entries[i].RemainingQuantity)
		}
		if available.LessThan(req.Quantity) {
			return errors.Wrapf(exception.ErrLedgerInsufficientPosition,
				"symbol: %s, requested: %s, available: %s", req.Symbol, req.Quantity, available)
		}

		trades = make([]model.CompletedTrade, 0, len(entries))
		needed := req.Quantity

		for i := range entries {
			if !needed.IsPositive() {
				break
			}

			entry := &entries[i]
			matched := decimal.Min(entry.RemainingQuantity, needed)

			trade := buildTrade(entry, req, matched)
			trades = append(trades, trade)

			entry.RemainingQuantity = entry.RemainingQuantity.Sub(matched)
			entry.RefreshStatus()
			if err := tx.SaveEntry(ctx, entry); err != nil {
				return err
			}

			needed = needed.Sub(matched)
		}

		return tx.CreateTrades(ctx, trades)
	})
	if err != nil {
		return nil, err
	}

	if replayed {
		e.metrics.IncCloseReplay()
		return trades, nil
	}

	e.metrics.AddTradesCompleted(len(trades))
	e.metrics.ObserveCloseWalk(time.Since(started))
	e.refreshProjection(ctx, req.Symbol)

	return trades, nil
}

// buildTrade prices one consumed slice. Commissions are pro-rated:
// the entry's share by consumed/original quantity, the exit's share by
// consumed/close quantity. P&L is (exit-entry)*matched for long exposure,
// negated for short, minus both shares.
func buildTrade(entry *model.PositionEntry, req CloseRequest, matched decimal.Decimal) model.CompletedTrade {
	entryShare := decimal.Zero
	if entry.Commission.IsPositive() && entry.OriginalQuantity.IsPositive() {
		entryShare = entry.Commission.Mul(matched).Div(entry.OriginalQuantity)
	}

	exitShare := decimal.Zero
	if req.Commission.IsPositive() {
		exitShare = req.Commission.Mul(matched).Div(req.Quantity)
	}

	gross := req.ExitPrice.Sub(entry.EntryPrice).Mul(matched)
	if entry.Side == model.SideSell {
		gross = gross.Neg()
	}

	net := gross.Sub(entryShare).Sub(exitShare)

	basis := entry.EntryPrice.Mul(matched)
	pct := decimal.Zero
	if basis.IsPositive() {
		pct = net.Div(basis)
	}

	return model.CompletedTrade{
		BotID:                entry.BotID,
		Symbol:               entry.Symbol,
		Side:                 entry.Side,
		EntryID:              entry.ID,
		EntryFillID:          entry.EntryFillID,
		MatchedQuantity:      matched,
		EntryPrice:           entry.EntryPrice,
		ExitPrice:            req.ExitPrice,
		EntryTime:            entry.EntryTime,
		ExitTime:             req.ExitTime.UTC(),
		ExitReason:           req.Reason,
		ExitOrderID:          req.OrderID,
		ExitFillID:           req.FillID,
		EntryCommissionShare: entryShare,
		ExitCommissionShare:  exitShare,
		NetPnL:               net,
		PnLPct:               pct,
	}
}
