// Package storage is the persistence boundary for the position ledger and
// its satellites. Implementations must provide scoped transactions: every
// mutation inside WithTransaction commits atomically or not at all.
package storage

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"alphaledger/internal/model"
)

// Store abstracts the durable ledger store. The GORM implementation backs it
// with PostgreSQL in production and SQLite in development and tests.
type Store interface {
	// Migrate creates or updates the schema for all ledger tables.
	Migrate(ctx context.Context) error

	// CreateEntry appends a new position entry. A fill id already recorded
	// for the bot/symbol fails with the duplicate-fill sentinel.
	CreateEntry(ctx context.Context, entry *model.PositionEntry) error

	// SaveEntry persists mutated quantity/status of an existing entry.
	SaveEntry(ctx context.Context, entry *model.PositionEntry) error

	// EntryByFillID returns the entry recorded for the fill id, or nil when
	// none exists.
	EntryByFillID(ctx context.Context, botID, symbol, fillID string) (*model.PositionEntry, error)

	// OpenEntries returns non-closed entries for the symbol ordered by
	// entry_time ascending, entry_fill_id ascending on ties.
	OpenEntries(ctx context.Context, botID, symbol string) ([]model.PositionEntry, error)

	// OpenSymbols lists symbols that still hold non-closed entries.
	OpenSymbols(ctx context.Context, botID string) ([]string, error)

	// CreateTrades appends completed trades produced by one close walk.
	CreateTrades(ctx context.Context, trades []model.CompletedTrade) error

	// TradesByExitOrder returns trades already recorded for the exit order
	// id. A non-empty result marks a close request as already applied.
	TradesByExitOrder(ctx context.Context, botID, exitOrderID string) ([]model.CompletedTrade, error)

	// TradesByExitFill returns trades already recorded for the exit fill
	// id, the per-execution twin of TradesByExitOrder.
	TradesByExitFill(ctx context.Context, botID, exitFillID string) ([]model.CompletedTrade, error)

	// TradesClosedSince returns completed trades whose exit time is at or
	// after the cutoff, oldest first. An empty bot id spans every bot; a
	// zero cutoff spans all history.
	TradesClosedSince(ctx context.Context, botID string, since time.Time) ([]model.CompletedTrade, error)

	// RecentTrades returns the newest completed trades, newest first.
	RecentTrades(ctx context.Context, botID string, limit int) ([]model.CompletedTrade, error)

	// InsertSyncedTrades appends exchange closed-PnL records, ignoring ones
	// whose trade id is already present. Returns how many rows were new.
	InsertSyncedTrades(ctx context.Context, trades []model.SyncedTrade) (int, error)

	// LatestSyncedTradeTime returns the newest synced close time for the
	// bot, or the zero time when nothing has been synced.
	LatestSyncedTradeTime(ctx context.Context, botID string) (time.Time, error)

	// Heartbeat upserts the bot status row.
	Heartbeat(ctx context.Context, botID, status string, equity decimal.Decimal) error

	// RecordEquity appends one equity curve sample.
	RecordEquity(ctx context.Context, botID string, equity decimal.Decimal, at time.Time) error

	// WithTransaction runs fn against a transactional view of the store.
	WithTransaction(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}
