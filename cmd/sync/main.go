// Command sync mirrors the venue's settled closed-PnL history into the
// local synced_trades table and periodically logs a performance digest.
// It runs beside the trader; the deterministic trade ids make the two
// safe to overlap.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"

	"alphaledger/internal/analytics"
	"alphaledger/internal/exchange/bybit"
	"alphaledger/internal/ops"
	"alphaledger/internal/storage"
	syncsvc "alphaledger/internal/sync"
	"alphaledger/pkg/conn"
)

const _reportWindow = 7 * 24 * time.Hour

func main() {
	if err := run(); err != nil {
		log.Printf("sync: %v", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "config.json", "path to JSON config")
	backfill := flag.Bool("backfill", false, "walk the whole backfill window before the interval sync")
	once := flag.Bool("once", false, "run a single sync pass and exit")
	flag.Parse()

	cfg, err := ops.Load(*configPath)
	if err != nil {
		return err
	}

	ctx := context.Background()

	db, err := conn.New(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	store := storage.New(db.DB())
	if err := store.Migrate(ctx); err != nil {
		return err
	}

	client, err := bybit.New(bybit.Option{
		Testnet:   cfg.Exchange.Testnet,
		APIKey:    cfg.Exchange.APIKey,
		APISecret: cfg.Exchange.APISecret,
	})
	if err != nil {
		return err
	}

	service := syncsvc.New(syncsvc.Config{
		BackfillWindow: cfg.Sync.BackfillWindow,
		BatchWindow:    cfg.Sync.BatchWindow,
		Overlap:        cfg.Sync.Overlap,
		Interval:       cfg.Sync.Interval,
	}, cfg.BotID, store, client)

	if *backfill {
		if _, err := service.Backfill(ctx); err != nil {
			return err
		}
	}

	if *once {
		n, err := service.SyncRecent(ctx)
		if err != nil {
			return err
		}
		logs.Infof("sync %s: %d new trades", cfg.BotID, n)

		return nil
	}

	go service.Run(ctx)
	go reportLoop(ctx, cfg.BotID, analytics.New(store))

	logs.Infof("sync %s running", cfg.BotID)

	<-sys.Shutdown()
	logs.Infof("sync %s stopped", cfg.BotID)

	return nil
}

// reportLoop logs a rolling performance digest so operators can eyeball the
// bot without a dashboard.
func reportLoop(ctx context.Context, botID string, reporter *analytics.Reporter) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-sys.Shutdown():
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			summary, err := reporter.Summary(ctx, botID, _reportWindow)
			if err != nil {
				logs.Errorf("summarize trades, err: %+v", err)
				continue
			}

			logs.Infof("7d %s: %d trades, win rate %s%%, pnl %s, fees %s",
				botID, summary.TotalTrades,
				summary.WinRate, summary.TotalPnL, summary.TotalFees)

			reasons, err := reporter.ReasonBreakdown(ctx, botID, _reportWindow)
			if err != nil {
				logs.Errorf("reason breakdown, err: %+v", err)
				continue
			}
			for _, r := range reasons {
				logs.Infof("7d %s by %s: %d trades, pnl %s", botID, r.Reason, r.Trades, r.NetPnL)
			}
		}
	}
}
