// Command trader runs the position-tracking side of one bot: it reconciles
// the ledger against the venue before anything else, then consumes the
// private execution stream and applies every fill of its own making to the
// ledger. Strategy and order placement live in a separate process; this
// binary only guarantees the recorded position state stays correct.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"

	"alphaledger/internal/analytics"
	"alphaledger/internal/bus"
	"alphaledger/internal/exchange/bybit"
	"alphaledger/internal/guard"
	"alphaledger/internal/ledger"
	"alphaledger/internal/model"
	"alphaledger/internal/obs"
	"alphaledger/internal/ops"
	"alphaledger/internal/projection"
	"alphaledger/internal/reconcile"
	"alphaledger/internal/storage"
	"alphaledger/internal/stream"
	"alphaledger/pkg/conn"
	"alphaledger/pkg/exception"
)

const (
	_statusRunning = "running"
	_statusStopped = "stopped"

	_metricsDumpInterval = time.Minute
	_verifyInterval      = 5 * time.Minute
)

func main() {
	if err := run(); err != nil {
		log.Printf("trader: %v", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "config.json", "path to JSON config")
	noStream := flag.Bool("no-stream", false, "reconcile and exit without consuming the execution stream")
	flag.Parse()

	cfg, err := ops.Load(*configPath)
	if err != nil {
		return err
	}

	ctx := context.Background()

	if cfg.Profiling.Enabled {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "alphaledger.trader",
			ServerAddress:   cfg.Profiling.ServerAddress,
			Tags:            map[string]string{"bot": cfg.BotID},
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			return err
		}
		defer func() {
			_ = profiler.Stop()
		}()
	}

	db, err := conn.New(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	store := storage.New(db.DB())
	if err := store.Migrate(ctx); err != nil {
		return err
	}

	// the projection mirror is optional; without Redis the in-process copy
	// still serves local reads
	var rdb *redis.Client
	if cfg.RedisEnabled {
		rdb, err = conn.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logs.Errorf("redis unavailable, projection degrades to local copy, err: %+v", err)
			rdb = nil
		}
	}
	cache := projection.New(cfg.BotID, rdb)

	client, err := bybit.New(bybit.Option{
		Testnet:   cfg.Exchange.Testnet,
		APIKey:    cfg.Exchange.APIKey,
		APISecret: cfg.Exchange.APISecret,
	})
	if err != nil {
		return err
	}

	metrics := obs.NewMetrics()
	g := guard.New()
	engine := ledger.New(cfg.BotID, store, cache).WithMetrics(metrics)

	// startup reconciliation runs to completion before any fill is accepted
	report, err := reconcile.New(reconcile.Config{
		Symbols:           cfg.Symbols,
		QuantityTolerance: cfg.Reconcile.QuantityTolerance,
		PriceTolerance:    cfg.Reconcile.PriceTolerance,
		SnapshotTimeout:   cfg.Reconcile.SnapshotTimeout,
	}, engine, cache, client, g).Run(ctx)
	if err != nil {
		return err
	}
	for _, symbol := range report.Symbols {
		metrics.AddReconcileOutcome(symbol.Outcome, 1)
	}
	if err := reconcile.EnsureResolved(report); err != nil {
		logs.Errorf("startup degraded, err: %+v", err)
	}

	if *noStream {
		return nil
	}

	queue := bus.NewQueue(cfg.QueueCapacity)
	go queue.Run(ctx, func(fill model.Fill) {
		applyFill(ctx, engine, g, fill)
	})

	listener := stream.NewListener(ctx, cfg.Exchange.Testnet, cfg.Exchange.APIKey, cfg.Exchange.APISecret)
	if err := listener.StartAndAuth(ctx); err != nil {
		return err
	}
	defer listener.Close()

	if err := listener.SubscribeExecutions(ctx); err != nil {
		return err
	}

	unsubscribe := listener.ObserveExecutions(ctx, func(fill model.Fill) {
		if fill.BotID != cfg.BotID {
			return
		}

		if err := queue.TryPublish(fill); err != nil {
			if errors.Is(err, bus.ErrQueueFull) {
				metrics.IncQueueDrop()
			} else {
				metrics.IncQueueClosed()
			}
			logs.Errorf("enqueue fill %s, err: %+v", fill.FillID, err)
		}
	})
	defer unsubscribe()

	go heartbeatLoop(ctx, cfg, store, client, analytics.New(store))
	go dumpMetrics(ctx, metrics)
	go verifyLoop(ctx, cache, engine)

	logs.Infof("trader %s running, symbols: %v", cfg.BotID, cfg.Symbols)

	<-sys.Shutdown()

	queue.Close()
	if err := store.Heartbeat(ctx, cfg.BotID, _statusStopped, cfg.InitialEquity); err != nil {
		logs.Errorf("record stopped status, err: %+v", err)
	}
	logs.Infof("trader %s stopped", cfg.BotID)

	return nil
}

// applyFill routes one fill into the ledger. Exits on a suspended symbol are
// refused up front; an insufficient-position failure suspends the symbol so
// no further exit can fabricate P&L before reconciliation.
func applyFill(ctx context.Context, engine *ledger.Engine, g *guard.Guard, fill model.Fill) {
	if !fill.Reason.IsEntry() {
		if err := g.CheckExit(fill.Symbol); err != nil {
			logs.Errorf("refuse exit fill %s, err: %+v", fill.FillID, err)
			return
		}
	}

	if err := engine.Apply(ctx, fill); err != nil {
		if errors.Is(err, exception.ErrLedgerInsufficientPosition) {
			g.Suspend(fill.Symbol, guard.ReasonInsufficientPosition, err.Error())
		}
		logs.Errorf("apply fill %s, err: %+v", fill.FillID, err)
	}
}

// heartbeatLoop marks the bot alive and samples the equity curve. The
// venue's wallet balance is preferred; when it is unreachable the sample
// falls back to initial equity plus all-time realized P&L.
func heartbeatLoop(ctx context.Context, cfg ops.Loaded, store storage.Store, client *bybit.Client, reporter *analytics.Reporter) {
	ticker := time.NewTicker(cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sys.Shutdown():
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			equity, err := client.TotalEquity(ctx)
			if err != nil {
				logs.Errorf("fetch wallet equity, err: %+v", err)

				summary, err := reporter.Summary(ctx, cfg.BotID, 0)
				if err != nil {
					logs.Errorf("summarize realized pnl, err: %+v", err)
					continue
				}
				equity = cfg.InitialEquity.Add(summary.TotalPnL)
			}

			if err := store.Heartbeat(ctx, cfg.BotID, _statusRunning, equity); err != nil {
				logs.Errorf("heartbeat, err: %+v", err)
				continue
			}
			if err := store.RecordEquity(ctx, cfg.BotID, equity, time.Now().UTC()); err != nil {
				logs.Errorf("record equity, err: %+v", err)
			}
		}
	}
}

// verifyLoop periodically rechecks the projection mirror against the ledger.
// A divergence is already rebuilt by Verify; it is only worth a log line.
func verifyLoop(ctx context.Context, cache *projection.Cache, engine *ledger.Engine) {
	ticker := time.NewTicker(_verifyInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sys.Shutdown():
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			switch err := cache.Verify(ctx, engine); {
			case err == nil:
			case errors.Is(err, exception.ErrProjectionDiverged):
				logs.Warnf("projection verify, err: %+v", err)
			default:
				logs.Errorf("projection verify, err: %+v", err)
			}
		}
	}
}

func dumpMetrics(ctx context.Context, metrics *obs.Metrics) {
	ticker := time.NewTicker(_metricsDumpInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sys.Shutdown():
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := metrics.Snapshot()
			logs.Infof("pipeline entries: %d, duplicates: %d, trades: %d, replays: %d, drops: %d, apply avg: %s, close avg: %s",
				s.EntriesRecorded, s.DuplicateFills, s.TradesCompleted, s.CloseReplays, s.QueueDrops,
				s.ApplyLatency.Avg, s.CloseLatency.Avg)
		}
	}
}
