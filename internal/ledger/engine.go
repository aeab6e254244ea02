// Package ledger is the append-only position ledger and its FIFO close
// engine. PositionEntry and CompletedTrade rows are owned exclusively by this
// package; every aggregate view is recomputed from the entries, never kept as
// an independent counter.
package ledger

import (
	"context"

	"github.com/yanun0323/logs"

	"alphaledger/internal/model"
	"alphaledger/internal/obs"
	"alphaledger/internal/storage"
)

// Projector mirrors freshly computed summaries into the read cache. A flat
// summary means the symbol's cached view must be cleared.
type Projector interface {
	Refresh(ctx context.Context, summary model.PositionSummary) error
}

// Engine exposes the ledger operations for one bot. All mutations run in
// scoped store transactions; the projector is refreshed only after commit.
type Engine struct {
	botID     string
	store     storage.Store
	projector Projector
	metrics   *obs.Metrics
}

// New creates a ledger engine. The projector may be nil; cache refreshes are
// then skipped entirely.
func New(botID string, store storage.Store, projector Projector) *Engine {
	return &Engine{
		botID:     botID,
		store:     store,
		projector: projector,
	}
}

// WithMetrics attaches pipeline counters and returns the engine. Metrics
// stay optional; a nil argument keeps recording disabled.
func (e *Engine) WithMetrics(m *obs.Metrics) *Engine {
	e.metrics = m

	return e
}

// BotID returns the owning bot id.
func (e *Engine) BotID() string {
	return e.botID
}

// OpenEntries returns the symbol's non-closed entries in FIFO order.
func (e *Engine) OpenEntries(ctx context.Context, symbol string) ([]model.PositionEntry, error) {
	return e.store.OpenEntries(ctx, e.botID, symbol)
}

// OpenSymbols lists every symbol the ledger still holds exposure on.
func (e *Engine) OpenSymbols(ctx context.Context) ([]string, error) {
	return e.store.OpenSymbols(ctx, e.botID)
}

// Summary computes the weighted-average view over the symbol's open entries.
// A symbol with no exposure yields a flat summary, not an error.
func (e *Engine) Summary(ctx context.Context, symbol string) (model.PositionSummary, error) {
	entries, err := e.store.OpenEntries(ctx, e.botID, symbol)
	if err != nil {
		return model.PositionSummary{}, err
	}

	return model.SummarizeEntries(e.botID, symbol, entries), nil
}

// refreshProjection recomputes the symbol summary and pushes it to the cache.
// Cache trouble is logged and swallowed: the ledger commit already happened
// and remains the source of truth.
func (e *Engine) refreshProjection(ctx context.Context, symbol string) {
	if e == nil || e.projector == nil {
		return
	}

	summary, err := e.Summary(ctx, symbol)
	if err != nil {
		logs.Errorf("compute summary for projection, symbol: %s, err: %+v", symbol, err)
		return
	}

	if err := e.projector.Refresh(ctx, summary); err != nil {
		logs.Errorf("refresh projection, symbol: %s, err: %+v", symbol, err)
	}
}
