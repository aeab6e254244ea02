// Package projection keeps a write-through, read-optimized mirror of the
// ledger's per-symbol summaries: one copy in Redis for other processes, one
// in memory for lock-free local reads. The mirror holds no authority; on any
// disagreement it is discarded and rebuilt from the ledger.
package projection

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"alphaledger/internal/model"
	"alphaledger/pkg/exception"
)

// Source is the authoritative view the cache is rebuilt from and verified
// against. The ledger engine satisfies it.
type Source interface {
	OpenSymbols(ctx context.Context) ([]string, error)
	Summary(ctx context.Context, symbol string) (model.PositionSummary, error)
}

// Cache mirrors the last computed PositionSummary per symbol.
type Cache struct {
	botID string
	rdb   *redis.Client

	mu    sync.RWMutex
	local map[string]model.PositionSummary
}

// New creates a projection cache. rdb may be nil; the cache then degrades to
// the in-process copy only.
func New(botID string, rdb *redis.Client) *Cache {
	return &Cache{
		botID: botID,
		rdb:   rdb,
		local: make(map[string]model.PositionSummary),
	}
}

func (c *Cache) sizeKey(symbol string) string {
	return fmt.Sprintf("position:%s:%s", c.botID, symbol)
}

func (c *Cache) detailsKey(symbol string) string {
	return c.sizeKey(symbol) + ":details"
}

// Refresh writes the summary through to Redis and the local copy. A flat
// summary clears the symbol. Redis trouble is reported but never fails the
// refresh: the local copy and the ledger remain usable.
func (c *Cache) Refresh(ctx context.Context, summary model.PositionSummary) error {
	if summary.Symbol == "" {
		return nil
	}

	c.mu.Lock()
	if summary.IsFlat() {
		delete(c.local, summary.Symbol)
	} else {
		c.local[summary.Symbol] = summary
	}
	c.mu.Unlock()

	if c.rdb == nil {
		return nil
	}

	if summary.IsFlat() {
		if err := c.rdb.Del(ctx, c.sizeKey(summary.Symbol), c.detailsKey(summary.Symbol)).Err(); err != nil {
			logs.Errorf("delete cached position, symbol: %s, err: %+v", summary.Symbol, err)
		}

		return nil
	}

	if err := c.rdb.Set(ctx, c.sizeKey(summary.Symbol), summary.TotalQuantity.String(), 0).Err(); err != nil {
		logs.Errorf("cache position size, symbol: %s, err: %+v", summary.Symbol, err)
		return nil
	}

	details := map[string]interface{}{
		"size":         summary.TotalQuantity.String(),
		"side":         string(summary.Side),
		"avg_price":    summary.AvgEntryPrice.String(),
		"open_entries": summary.OpenEntries,
		"last_update":  summary.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if err := c.rdb.HSet(ctx, c.detailsKey(summary.Symbol), details).Err(); err != nil {
		logs.Errorf("cache position details, symbol: %s, err: %+v", summary.Symbol, err)
	}

	return nil
}

// Get returns the locally mirrored summary for the symbol.
func (c *Cache) Get(symbol string) (model.PositionSummary, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	summary, ok := c.local[symbol]

	return summary, ok
}

// Symbols lists the symbols currently mirrored locally.
func (c *Cache) Symbols() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	symbols := make([]string, 0, len(c.local))
	for symbol := range c.local {
		symbols = append(symbols, symbol)
	}

	return symbols
}

// Rebuild discards the mirror and recomputes every open symbol from the
// source. Symbols that disappeared from the ledger are cleared.
func (c *Cache) Rebuild(ctx context.Context, source Source) error {
	symbols, err := source.OpenSymbols(ctx)
	if err != nil {
		return fmt.Errorf("list open symbols: %w", err)
	}

	open := make(map[string]struct{}, len(symbols))
	for _, symbol := range symbols {
		open[symbol] = struct{}{}
	}

	for _, stale := range c.Symbols() {
		if _, ok := open[stale]; ok {
			continue
		}

		flat := model.PositionSummary{
			BotID:     c.botID,
			Symbol:    stale,
			UpdatedAt: time.Now().UTC(),
		}
		if err := c.Refresh(ctx, flat); err != nil {
			return err
		}
	}

	for _, symbol := range symbols {
		summary, err := source.Summary(ctx, symbol)
		if err != nil {
			return fmt.Errorf("summarize %s: %w", symbol, err)
		}

		if err := c.Refresh(ctx, summary); err != nil {
			return err
		}
	}

	return nil
}

// Verify recomputes every mirrored symbol from the source and rebuilds the
// whole cache when any summary disagrees. A clean pass returns nil; a
// divergence is rebuilt from the source and then reported as
// exception.ErrProjectionDiverged.
func (c *Cache) Verify(ctx context.Context, source Source) error {
	for _, symbol := range c.Symbols() {
		cached, ok := c.Get(symbol)
		if !ok {
			continue
		}

		fresh, err := source.Summary(ctx, symbol)
		if err != nil {
			return fmt.Errorf("summarize %s: %w", symbol, err)
		}

		if cached.TotalQuantity.Equal(fresh.TotalQuantity) && cached.AvgEntryPrice.Equal(fresh.AvgEntryPrice) {
			continue
		}

		logs.Infof("projection diverged, symbol: %s, cached: %s@%s, ledger: %s@%s, rebuilding",
			symbol, cached.TotalQuantity, cached.AvgEntryPrice, fresh.TotalQuantity, fresh.AvgEntryPrice)

		if err := c.Rebuild(ctx, source); err != nil {
			return err
		}

		return errors.Wrapf(exception.ErrProjectionDiverged, "symbol: %s", symbol)
	}

	// ledger exposure missing from the mirror entirely is a divergence too
	symbols, err := source.OpenSymbols(ctx)
	if err != nil {
		return fmt.Errorf("list open symbols: %w", err)
	}
	for _, symbol := range symbols {
		if _, ok := c.Get(symbol); ok {
			continue
		}

		logs.Infof("projection missing symbol: %s, rebuilding", symbol)

		if err := c.Rebuild(ctx, source); err != nil {
			return err
		}

		return errors.Wrapf(exception.ErrProjectionDiverged, "symbol missing: %s", symbol)
	}

	return nil
}
