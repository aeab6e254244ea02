package ledger

import (
	"context"

	"github.com/yanun0323/errors"

	"alphaledger/internal/model"
	"alphaledger/internal/storage"
	"alphaledger/pkg/exception"
)

// CreateEntry records an entry fill as a new open PositionEntry. Fills may be
// delivered more than once (stream redelivery, another instance): a known
// fill id returns the already-recorded entry together with
// ErrLedgerDuplicateFill so callers can absorb the retry.
func (e *Engine) CreateEntry(ctx context.Context, fill model.Fill) (*model.PositionEntry, error) {
	if err := fill.Validate(); err != nil {
		return nil, err
	}

	var (
		entry     *model.PositionEntry
		duplicate bool
	)

	err := e.store.WithTransaction(ctx, func(ctx context.Context, tx storage.Store) error {
		existing, err := tx.EntryByFillID(ctx, e.botID, fill.Symbol, fill.FillID)
		if err != nil {
			return err
		}
		if existing != nil {
			entry = existing
			duplicate = true
			return nil
		}

		entry = &model.PositionEntry{
			BotID:             e.botID,
			Symbol:            fill.Symbol,
			Side:              fill.Side,
			EntryPrice:        fill.Price,
			OriginalQuantity:  fill.Quantity,
			RemainingQuantity: fill.Quantity,
			EntryTime:         fill.Time.UTC(),
			EntryOrderID:      fill.OrderID,
			EntryFillID:       fill.FillID,
			Commission:        fill.Commission,
			Status:            model.EntryStatusOpen,
		}

		return tx.CreateEntry(ctx, entry)
	})
	if err != nil {
		// the unique index may have beaten a concurrent writer between the
		// lookup and the insert; a present row means the fill is recorded
		if again, lookupErr := e.store.EntryByFillID(ctx, e.botID, fill.Symbol, fill.FillID); lookupErr == nil && again != nil {
			e.metrics.IncDuplicateFill()
			return again, errors.Wrapf(exception.ErrLedgerDuplicateFill, "fill id: %s", fill.FillID)
		}

		return nil, err
	}

	if duplicate {
		e.metrics.IncDuplicateFill()
		return entry, errors.Wrapf(exception.ErrLedgerDuplicateFill, "fill id: %s", fill.FillID)
	}

	e.metrics.IncEntryRecorded()
	e.refreshProjection(ctx, fill.Symbol)

	return entry, nil
}
