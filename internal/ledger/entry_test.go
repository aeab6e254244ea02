package ledger

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"alphaledger/internal/model"
	"alphaledger/internal/storage"
	"alphaledger/pkg/exception"
)

type projectorSpy struct {
	mu        sync.Mutex
	published []model.PositionSummary
}

func (p *projectorSpy) Refresh(_ context.Context, summary model.PositionSummary) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, summary)

	return nil
}

func (p *projectorSpy) last(t *testing.T) model.PositionSummary {
	t.Helper()

	p.mu.Lock()
	defer p.mu.Unlock()
	require.NotEmpty(t, p.published)

	return p.published[len(p.published)-1]
}

func (p *projectorSpy) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.published)
}

func newTestEngine(t *testing.T) (*Engine, storage.Store, *projectorSpy) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "ledger.db")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	store := storage.New(db)
	require.NoError(t, store.Migrate(t.Context()))

	spy := &projectorSpy{}

	return New("alpha-01", store, spy), store, spy
}

func entryFill(fillID string, sec int64, qty, price float64) model.Fill {
	return model.Fill{
		BotID:      "alpha-01",
		Symbol:     "BTCUSDT",
		Side:       model.SideBuy,
		Price:      decimal.NewFromFloat(price),
		Quantity:   decimal.NewFromFloat(qty),
		OrderID:    "o-" + fillID,
		FillID:     fillID,
		Commission: decimal.Zero,
		Time:       time.Unix(sec, 0).UTC(),
		Reason:     model.ReasonEntry,
	}
}

func TestCreateEntryPersists(t *testing.T) {
	engine, store, spy := newTestEngine(t)

	entry, err := engine.CreateEntry(t.Context(), entryFill("f-1", 1, 100, 50000))
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.NotZero(t, entry.ID)
	assert.Equal(t, model.EntryStatusOpen, entry.Status)
	assert.True(t, entry.RemainingQuantity.Equal(decimal.NewFromInt(100)))

	stored, err := store.EntryByFillID(t.Context(), "alpha-01", "BTCUSDT", "f-1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.True(t, stored.EntryPrice.Equal(decimal.NewFromInt(50000)))

	published := spy.last(t)
	assert.True(t, published.TotalQuantity.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, "BTCUSDT", published.Symbol)
}

func TestCreateEntryIdempotent(t *testing.T) {
	engine, _, spy := newTestEngine(t)

	first, err := engine.CreateEntry(t.Context(), entryFill("f-1", 1, 100, 50000))
	require.NoError(t, err)

	second, err := engine.CreateEntry(t.Context(), entryFill("f-1", 1, 100, 50000))
	require.ErrorIs(t, err, exception.ErrLedgerDuplicateFill)
	require.NotNil(t, second)
	assert.Equal(t, first.ID, second.ID)

	entries, err := engine.OpenEntries(t.Context(), "BTCUSDT")
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	// the duplicate must not trigger a second projection refresh
	assert.Equal(t, 1, spy.count())
}

func TestCreateEntryRejectsInvalidFill(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	fill := entryFill("f-1", 1, 100, 50000)
	fill.Quantity = decimal.Zero

	_, err := engine.CreateEntry(t.Context(), fill)
	assert.ErrorIs(t, err, exception.ErrLedgerInvalidFill)
}

func TestSummaryWeightedAverage(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	_, err := engine.CreateEntry(t.Context(), entryFill("f-1", 1, 100, 50000))
	require.NoError(t, err)
	_, err = engine.CreateEntry(t.Context(), entryFill("f-2", 2, 50, 51000))
	require.NoError(t, err)

	summary, err := engine.Summary(t.Context(), "BTCUSDT")
	require.NoError(t, err)

	assert.True(t, summary.TotalQuantity.Equal(decimal.NewFromInt(150)),
		"total quantity: %s", summary.TotalQuantity)

	diff := summary.AvgEntryPrice.Sub(decimal.NewFromFloat(50333.33)).Abs()
	assert.True(t, diff.LessThanOrEqual(decimal.NewFromFloat(0.01)),
		"avg entry price: %s", summary.AvgEntryPrice)
}

func TestSummaryFlatSymbol(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	summary, err := engine.Summary(t.Context(), "BTCUSDT")
	require.NoError(t, err)
	assert.True(t, summary.IsFlat())
	assert.True(t, summary.AvgEntryPrice.IsZero())
}
