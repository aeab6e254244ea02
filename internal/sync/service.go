// Package sync mirrors the venue's settled closed-PnL history into the
// local synced_trades table. The deterministic trade id makes every run
// re-runnable: overlapping windows insert only rows not seen before.
package sync

import (
	"context"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"

	"alphaledger/internal/exchange"
	"alphaledger/internal/model"
	"alphaledger/internal/storage"
)

const (
	_defaultBackfillWindow = 90 * 24 * time.Hour
	_defaultBatchWindow    = 24 * time.Hour
	_defaultOverlap        = 2 * time.Hour
	_defaultInterval       = time.Hour
)

type Config struct {
	// BackfillWindow bounds how far back Backfill reaches.
	BackfillWindow time.Duration

	// BatchWindow slices the backfill range; the venue caps how much
	// history one cursor walk may span.
	BatchWindow time.Duration

	// Overlap is re-fetched on every incremental run so late-settling
	// records on the window edge are never missed.
	Overlap time.Duration

	// Interval paces Run.
	Interval time.Duration
}

func (c Config) withDefaults() Config {
	if c.BackfillWindow <= 0 {
		c.BackfillWindow = _defaultBackfillWindow
	}
	if c.BatchWindow <= 0 {
		c.BatchWindow = _defaultBatchWindow
	}
	if c.Overlap <= 0 {
		c.Overlap = _defaultOverlap
	}
	if c.Interval <= 0 {
		c.Interval = _defaultInterval
	}

	return c
}

type Service struct {
	cfg    Config
	botID  string
	store  storage.Store
	client exchange.Client
}

func New(cfg Config, botID string, store storage.Store, client exchange.Client) *Service {
	return &Service{
		cfg:    cfg.withDefaults(),
		botID:  botID,
		store:  store,
		client: client,
	}
}

// Backfill walks the whole backfill window in batches, oldest first, and
// reports how many rows were new.
func (s *Service) Backfill(ctx context.Context) (int, error) {
	end := time.Now().UTC()
	start := end.Add(-s.cfg.BackfillWindow)

	logs.Infof("backfill %s: %s to %s", s.botID, start.Format(time.RFC3339), end.Format(time.RFC3339))

	inserted := 0
	for batchStart := start; batchStart.Before(end); batchStart = batchStart.Add(s.cfg.BatchWindow) {
		batchEnd := batchStart.Add(s.cfg.BatchWindow)
		if batchEnd.After(end) {
			batchEnd = end
		}

		n, err := s.syncRange(ctx, model.TradeSourceBackfill, batchStart, batchEnd)
		if err != nil {
			return inserted, errors.Wrapf(err, "backfill batch %s", batchStart.Format(time.RFC3339))
		}
		inserted += n
	}

	logs.Infof("backfill %s done: %d new trades", s.botID, inserted)

	return inserted, nil
}

// SyncRecent fetches from just before the newest synced trade (minus the
// overlap) to now. With an empty table it falls back to the full backfill
// window.
func (s *Service) SyncRecent(ctx context.Context) (int, error) {
	end := time.Now().UTC()

	latest, err := s.store.LatestSyncedTradeTime(ctx, s.botID)
	if err != nil {
		return 0, err
	}

	start := end.Add(-s.cfg.BackfillWindow)
	if !latest.IsZero() {
		start = latest.Add(-s.cfg.Overlap)
	}

	return s.syncRange(ctx, model.TradeSourceRestSync, start, end)
}

// Run executes SyncRecent on the configured interval until shutdown. Errors
// are logged and the next tick retries; a missed window is recovered by the
// overlap on the following run.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-sys.Shutdown():
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.SyncRecent(ctx)
			if err != nil {
				logs.Errorf("sync %s, err: %+v", s.botID, err)
				continue
			}

			if n > 0 {
				logs.Infof("sync %s: %d new trades", s.botID, n)
			}
		}
	}
}

func (s *Service) syncRange(ctx context.Context, source string, start, end time.Time) (int, error) {
	inserted := 0
	cursor := ""

	for {
		records, next, err := s.client.ClosedPnL(ctx, "", start, end, cursor)
		if err != nil {
			return inserted, err
		}

		trades := mapTrades(s.botID, source, records)
		n, err := s.store.InsertSyncedTrades(ctx, trades)
		if err != nil {
			return inserted, err
		}
		inserted += n

		if len(next) == 0 || len(records) == 0 {
			return inserted, nil
		}
		cursor = next
	}
}
