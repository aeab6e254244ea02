package reconcile

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"alphaledger/internal/exchange"
	"alphaledger/internal/guard"
	"alphaledger/internal/ledger"
	"alphaledger/internal/model"
	"alphaledger/internal/projection"
	"alphaledger/internal/storage"
	"alphaledger/pkg/exception"
)

type fakeExchange struct {
	positions map[string]exchange.PositionSnapshot
	execs     map[string][]exchange.Execution
	posDelay  time.Duration
}

func (f *fakeExchange) Position(ctx context.Context, symbol string) (exchange.PositionSnapshot, error) {
	if f.posDelay > 0 {
		select {
		case <-ctx.Done():
			return exchange.PositionSnapshot{}, ctx.Err()
		case <-time.After(f.posDelay):
		}
	}

	pos, ok := f.positions[symbol]
	if !ok {
		return exchange.PositionSnapshot{Symbol: symbol, Quantity: decimal.Zero}, nil
	}

	return pos, nil
}

func (f *fakeExchange) Executions(_ context.Context, symbol string, since time.Time) ([]exchange.Execution, error) {
	var out []exchange.Execution
	for _, ex := range f.execs[symbol] {
		if ex.Time.Before(since) {
			continue
		}
		out = append(out, ex)
	}

	return out, nil
}

func (f *fakeExchange) ClosedPnL(context.Context, string, time.Time, time.Time, string) ([]exchange.ClosedPnL, string, error) {
	return nil, "", nil
}

type harness struct {
	store   storage.Store
	engine  *ledger.Engine
	cache   *projection.Cache
	guard   *guard.Guard
	service *Service
}

func newHarness(t *testing.T, cfg Config, fake *fakeExchange) *harness {
	t.Helper()

	path := filepath.Join(t.TempDir(), "ledger.db")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	store := storage.New(db)
	require.NoError(t, store.Migrate(t.Context()))

	cache := projection.New("alpha-01", nil)
	engine := ledger.New("alpha-01", store, cache)
	g := guard.New()

	return &harness{
		store:   store,
		engine:  engine,
		cache:   cache,
		guard:   g,
		service: New(cfg, engine, cache, fake, g),
	}
}

func openEntry(t *testing.T, h *harness, fillID string, sec int64, qty, price float64) {
	t.Helper()

	_, err := h.engine.CreateEntry(t.Context(), model.Fill{
		BotID:    "alpha-01",
		Symbol:   "BTCUSDT",
		Side:     model.SideBuy,
		Price:    decimal.NewFromFloat(price),
		Quantity: decimal.NewFromFloat(qty),
		OrderID:  "o-" + fillID,
		FillID:   fillID,
		Time:     time.Unix(sec, 0).UTC(),
		Reason:   model.ReasonEntry,
	})
	require.NoError(t, err)
}

func outcomeOf(t *testing.T, report model.ReconcileReport, symbol string) model.SymbolReconciliation {
	t.Helper()

	for _, rec := range report.Symbols {
		if rec.Symbol == symbol {
			return rec
		}
	}
	t.Fatalf("symbol %s missing from report: %+v", symbol, report.Symbols)

	return model.SymbolReconciliation{}
}

func TestRunMatched(t *testing.T) {
	fake := &fakeExchange{positions: map[string]exchange.PositionSnapshot{
		"BTCUSDT": {
			Symbol:   "BTCUSDT",
			Side:     model.SideBuy,
			Quantity: decimal.NewFromFloat(1.5),
			AvgPrice: decimal.NewFromInt(50000),
		},
	}}
	h := newHarness(t, Config{}, fake)
	openEntry(t, h, "f-1", 1000, 1.5, 50000)

	report, err := h.service.Run(t.Context())
	require.NoError(t, err)

	rec := outcomeOf(t, report, "BTCUSDT")
	assert.Equal(t, model.ReconcileMatched, rec.Outcome)
	assert.NoError(t, h.guard.CheckExit("BTCUSDT"))
	assert.NoError(t, EnsureResolved(report))

	cached, ok := h.cache.Get("BTCUSDT")
	require.True(t, ok, "matched symbol must be mirrored after the rebuild")
	assert.True(t, cached.TotalQuantity.Equal(decimal.NewFromFloat(1.5)))

	// matched runs mutate nothing; a fresh service over the same state
	// reaches the same verdict
	again := New(Config{}, h.engine, h.cache, fake, h.guard)
	report2, err := again.Run(t.Context())
	require.NoError(t, err)
	assert.Equal(t, model.ReconcileMatched, outcomeOf(t, report2, "BTCUSDT").Outcome)
}

func TestRunBackfillsMissedClose(t *testing.T) {
	fake := &fakeExchange{
		execs: map[string][]exchange.Execution{
			"BTCUSDT": {
				{
					Symbol:   "BTCUSDT",
					Side:     model.SideSell,
					Price:    decimal.NewFromInt(52000),
					Quantity: decimal.NewFromInt(60),
					OrderID:  "x-1",
					Time:     time.Unix(2000, 0).UTC(),
				},
				{
					Symbol:   "BTCUSDT",
					Side:     model.SideSell,
					Price:    decimal.NewFromInt(53000),
					Quantity: decimal.NewFromInt(40),
					OrderID:  "x-2",
					Time:     time.Unix(2100, 0).UTC(),
				},
			},
		},
	}
	h := newHarness(t, Config{}, fake)
	openEntry(t, h, "f-1", 1000, 100, 50000)

	report, err := h.service.Run(t.Context())
	require.NoError(t, err)

	rec := outcomeOf(t, report, "BTCUSDT")
	assert.Equal(t, model.ReconcileBackfilled, rec.Outcome)
	assert.True(t, rec.ClosedQuantity.Equal(decimal.NewFromInt(100)))

	summary, err := h.engine.Summary(t.Context(), "BTCUSDT")
	require.NoError(t, err)
	assert.True(t, summary.IsFlat(), "backfilled symbol must be flat: %s", summary.TotalQuantity)

	entries, err := h.engine.OpenEntries(t.Context(), "BTCUSDT")
	require.NoError(t, err)
	assert.Empty(t, entries)

	// the backfill stamps the newest discovered order id on the close, and
	// the exit price is the volume weighted average of the history
	closed, err := h.store.TradesByExitOrder(t.Context(), "alpha-01", "x-2")
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.True(t, closed[0].ExitPrice.Equal(decimal.NewFromInt(52400)),
		"weighted exit price: %s", closed[0].ExitPrice)
	assert.Equal(t, model.ReasonBackfilledClose, closed[0].ExitReason)
}

func TestRunBackfillReplayedOrderStaysUnresolved(t *testing.T) {
	// the whole exit order is in history, but part of it was already applied
	// before the crash: the synthesized close replays into the recorded
	// trades and closes nothing, which must not be reported as backfilled
	fake := &fakeExchange{
		execs: map[string][]exchange.Execution{
			"BTCUSDT": {
				{
					Symbol:   "BTCUSDT",
					Side:     model.SideSell,
					Price:    decimal.NewFromInt(52000),
					Quantity: decimal.NewFromInt(100),
					OrderID:  "x-1",
					Time:     time.Unix(2000, 0).UTC(),
				},
			},
		},
	}
	h := newHarness(t, Config{}, fake)
	openEntry(t, h, "f-1", 1000, 100, 50000)

	_, err := h.engine.CloseFIFO(t.Context(), ledger.CloseRequest{
		Symbol:    "BTCUSDT",
		ExitPrice: decimal.NewFromInt(52000),
		Quantity:  decimal.NewFromInt(40),
		ExitTime:  time.Unix(2000, 0).UTC(),
		Reason:    model.ReasonTakeProfit,
		OrderID:   "x-1",
	})
	require.NoError(t, err)

	report, err := h.service.Run(t.Context())
	require.NoError(t, err)

	rec := outcomeOf(t, report, "BTCUSDT")
	assert.Equal(t, model.ReconcileUnresolved, rec.Outcome)

	summary, err := h.engine.Summary(t.Context(), "BTCUSDT")
	require.NoError(t, err)
	assert.True(t, summary.TotalQuantity.Equal(decimal.NewFromInt(60)),
		"remaining quantity must survive the replay: %s", summary.TotalQuantity)

	assert.ErrorIs(t, h.guard.CheckExit("BTCUSDT"), exception.ErrGuardSymbolSuspended)
	assert.ErrorIs(t, EnsureResolved(report), exception.ErrReconcileUnresolved)
}

func TestRunUnresolvedWithoutHistory(t *testing.T) {
	fake := &fakeExchange{}
	h := newHarness(t, Config{}, fake)
	openEntry(t, h, "f-1", 1000, 100, 50000)

	report, err := h.service.Run(t.Context())
	require.NoError(t, err)

	rec := outcomeOf(t, report, "BTCUSDT")
	assert.Equal(t, model.ReconcileUnresolved, rec.Outcome)

	entries, err := h.engine.OpenEntries(t.Context(), "BTCUSDT")
	require.NoError(t, err)
	require.Len(t, entries, 1, "entries must stay open, an exit price is never guessed")
	assert.True(t, entries[0].RemainingQuantity.Equal(decimal.NewFromInt(100)))

	assert.ErrorIs(t, h.guard.CheckExit("BTCUSDT"), exception.ErrGuardSymbolSuspended)
	assert.ErrorIs(t, EnsureResolved(report), exception.ErrReconcileUnresolved)
}

func TestRunUnresolvedWithPartialHistory(t *testing.T) {
	fake := &fakeExchange{
		execs: map[string][]exchange.Execution{
			"BTCUSDT": {
				{
					Symbol:   "BTCUSDT",
					Side:     model.SideSell,
					Price:    decimal.NewFromInt(52000),
					Quantity: decimal.NewFromInt(40),
					OrderID:  "x-1",
					Time:     time.Unix(2000, 0).UTC(),
				},
			},
		},
	}
	h := newHarness(t, Config{}, fake)
	openEntry(t, h, "f-1", 1000, 100, 50000)

	report, err := h.service.Run(t.Context())
	require.NoError(t, err)

	rec := outcomeOf(t, report, "BTCUSDT")
	assert.Equal(t, model.ReconcileUnresolved, rec.Outcome)

	entries, err := h.engine.OpenEntries(t.Context(), "BTCUSDT")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestRunIgnoresOtherBotsFills(t *testing.T) {
	fake := &fakeExchange{
		execs: map[string][]exchange.Execution{
			"BTCUSDT": {
				{
					Symbol:      "BTCUSDT",
					Side:        model.SideSell,
					Price:       decimal.NewFromInt(52000),
					Quantity:    decimal.NewFromInt(100),
					OrderID:     "x-other",
					OrderLinkID: "beta-02:take_profit:1717236000123",
					Time:        time.Unix(2000, 0).UTC(),
				},
			},
		},
	}
	h := newHarness(t, Config{}, fake)
	openEntry(t, h, "f-1", 1000, 100, 50000)

	report, err := h.service.Run(t.Context())
	require.NoError(t, err)

	assert.Equal(t, model.ReconcileUnresolved, outcomeOf(t, report, "BTCUSDT").Outcome)
}

func TestRunAdoptsNothingSilently(t *testing.T) {
	fake := &fakeExchange{positions: map[string]exchange.PositionSnapshot{
		"ETHUSDT": {
			Symbol:   "ETHUSDT",
			Side:     model.SideBuy,
			Quantity: decimal.NewFromInt(2),
			AvgPrice: decimal.NewFromInt(3000),
		},
	}}
	h := newHarness(t, Config{Symbols: []string{"ETHUSDT"}}, fake)

	report, err := h.service.Run(t.Context())
	require.NoError(t, err)

	rec := outcomeOf(t, report, "ETHUSDT")
	assert.Equal(t, model.ReconcileAdopted, rec.Outcome)

	entries, err := h.engine.OpenEntries(t.Context(), "ETHUSDT")
	require.NoError(t, err)
	assert.Empty(t, entries, "adopted positions are flagged, never materialized")

	assert.ErrorIs(t, h.guard.CheckExit("ETHUSDT"), exception.ErrGuardSymbolSuspended)
}

func TestRunQuantityMismatchBeyondTolerance(t *testing.T) {
	fake := &fakeExchange{positions: map[string]exchange.PositionSnapshot{
		"BTCUSDT": {
			Symbol:   "BTCUSDT",
			Side:     model.SideBuy,
			Quantity: decimal.NewFromInt(60),
			AvgPrice: decimal.NewFromInt(50000),
		},
	}}
	h := newHarness(t, Config{}, fake)
	openEntry(t, h, "f-1", 1000, 100, 50000)

	report, err := h.service.Run(t.Context())
	require.NoError(t, err)

	assert.Equal(t, model.ReconcileUnresolved, outcomeOf(t, report, "BTCUSDT").Outcome)
}

func TestRunSnapshotTimeout(t *testing.T) {
	fake := &fakeExchange{posDelay: 500 * time.Millisecond}
	h := newHarness(t, Config{SnapshotTimeout: 50 * time.Millisecond}, fake)
	openEntry(t, h, "f-1", 1000, 100, 50000)

	report, err := h.service.Run(t.Context())
	require.NoError(t, err)

	rec := outcomeOf(t, report, "BTCUSDT")
	assert.Equal(t, model.ReconcileUnresolved, rec.Outcome)
	assert.Contains(t, rec.Note, "timed out")

	entries, err := h.engine.OpenEntries(t.Context(), "BTCUSDT")
	require.NoError(t, err)
	assert.Len(t, entries, 1, "a timeout must never be read as flat")
}

func TestRunOnlyOnce(t *testing.T) {
	h := newHarness(t, Config{}, &fakeExchange{})

	_, err := h.service.Run(t.Context())
	require.NoError(t, err)

	_, err = h.service.Run(t.Context())
	assert.ErrorIs(t, err, exception.ErrReconcileAlreadyRan)
}
