// Package reconcile restores a trustworthy ledger after a restart. It runs
// exactly once during startup, before any new fill is accepted: per symbol it
// diffs the ledger's open quantity against the venue's snapshot, synthesizes
// closes the process missed while it was down, and flags everything it
// cannot explain instead of guessing.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"

	"alphaledger/internal/exchange"
	"alphaledger/internal/guard"
	"alphaledger/internal/ledger"
	"alphaledger/internal/model"
	"alphaledger/internal/projection"
	"alphaledger/pkg/exception"
)

const (
	defaultSnapshotTimeout   = 10 * time.Second
	defaultQuantityTolerance = "0.00000001"
)

// Config tunes one reconciliation run.
type Config struct {
	// Symbols the bot trades. Unioned with symbols the ledger still holds
	// open entries for.
	Symbols []string

	// QuantityTolerance is the maximum ledger/exchange quantity difference
	// still considered matched.
	QuantityTolerance decimal.Decimal

	// PriceTolerance only controls drift logging; average price never
	// decides an outcome because the ledger is authoritative on entries.
	PriceTolerance decimal.Decimal

	// SnapshotTimeout bounds every venue call. A timeout yields an
	// unresolved outcome, never an assumption of flatness.
	SnapshotTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.QuantityTolerance.IsZero() {
		c.QuantityTolerance, _ = decimal.NewFromString(defaultQuantityTolerance)
	}
	if c.SnapshotTimeout <= 0 {
		c.SnapshotTimeout = defaultSnapshotTimeout
	}

	return c
}

// Service reconciles one bot's ledger against the venue.
type Service struct {
	cfg    Config
	engine *ledger.Engine
	cache  *projection.Cache
	client exchange.Client
	guard  *guard.Guard

	ran atomic.Bool
}

func New(cfg Config, engine *ledger.Engine, cache *projection.Cache, client exchange.Client, g *guard.Guard) *Service {
	return &Service{
		cfg:    cfg.withDefaults(),
		engine: engine,
		cache:  cache,
		client: client,
		guard:  g,
	}
}

// Run executes the startup reconciliation. Calling it a second time fails
// with ErrReconcileAlreadyRan; the first run's repairs must not be repeated.
func (s *Service) Run(ctx context.Context) (model.ReconcileReport, error) {
	if !s.ran.CompareAndSwap(false, true) {
		return model.ReconcileReport{}, fmt.Errorf("bot %s: %w", s.engine.BotID(), exception.ErrReconcileAlreadyRan)
	}

	report := model.ReconcileReport{
		RunID:     uuid.NewString(),
		BotID:     s.engine.BotID(),
		StartedAt: time.Now().UTC(),
	}

	symbols, err := s.collectSymbols(ctx)
	if err != nil {
		return report, err
	}

	for _, symbol := range symbols {
		rec := s.reconcileSymbol(ctx, symbol)
		if rec == nil {
			continue
		}

		report.Symbols = append(report.Symbols, *rec)
	}

	if s.cache != nil {
		if err := s.cache.Rebuild(ctx, s.engine); err != nil {
			logs.Errorf("rebuild projection after reconciliation, err: %+v", err)
		}
	}

	report.FinishedAt = time.Now().UTC()

	logs.Infof("reconciliation %s finished, matched: %d, backfilled: %d, adopted: %d, unresolved: %d",
		report.RunID,
		report.Count(model.ReconcileMatched),
		report.Count(model.ReconcileBackfilled),
		report.Count(model.ReconcileAdopted),
		report.Count(model.ReconcileUnresolved),
	)

	return report, nil
}

// EnsureResolved fails when the report left symbols suspended. Startup may
// proceed regardless; this is for operational surfacing.
func EnsureResolved(report model.ReconcileReport) error {
	suspended := report.Suspended()
	if len(suspended) == 0 {
		return nil
	}

	return fmt.Errorf("symbols %v: %w", suspended, exception.ErrReconcileUnresolved)
}

func (s *Service) collectSymbols(ctx context.Context) ([]string, error) {
	open, err := s.engine.OpenSymbols(ctx)
	if err != nil {
		return nil, fmt.Errorf("list open symbols: %w", err)
	}

	set := make(map[string]struct{}, len(open)+len(s.cfg.Symbols))
	for _, symbol := range s.cfg.Symbols {
		set[symbol] = struct{}{}
	}
	for _, symbol := range open {
		set[symbol] = struct{}{}
	}

	symbols := make([]string, 0, len(set))
	for symbol := range set {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	return symbols, nil
}

func (s *Service) reconcileSymbol(ctx context.Context, symbol string) *model.SymbolReconciliation {
	summary, err := s.engine.Summary(ctx, symbol)
	if err != nil {
		return s.unresolved(symbol, decimal.Zero, decimal.Zero,
			fmt.Sprintf("ledger read failed: %v", err))
	}

	posCtx, cancel := context.WithTimeout(ctx, s.cfg.SnapshotTimeout)
	pos, err := s.client.Position(posCtx, symbol)
	cancel()
	if err != nil {
		note := fmt.Sprintf("position snapshot failed: %v", err)
		if errors.Is(err, context.DeadlineExceeded) {
			note = "position snapshot timed out"
			logs.Errorf("reconcile %s: %+v", symbol,
				fmt.Errorf("%v: %w", err, exception.ErrReconcileSnapshotTimeout))
		}

		return s.unresolved(symbol, summary.TotalQuantity, decimal.Zero, note)
	}

	ledgerQty := summary.TotalQuantity
	exchQty := pos.Quantity

	switch {
	case ledgerQty.IsZero() && exchQty.IsZero():
		// flat on both sides, nothing to reconcile
		return nil

	case !ledgerQty.IsZero() && !exchQty.IsZero():
		diff := ledgerQty.Sub(exchQty).Abs()
		if diff.GreaterThan(s.cfg.QuantityTolerance) {
			return s.unresolved(symbol, ledgerQty, exchQty,
				fmt.Sprintf("quantity mismatch, ledger: %s, exchange: %s", ledgerQty, exchQty))
		}

		if s.cfg.PriceTolerance.IsPositive() && !pos.AvgPrice.IsZero() {
			drift := summary.AvgEntryPrice.Sub(pos.AvgPrice).Abs()
			if drift.GreaterThan(s.cfg.PriceTolerance) {
				logs.Infof("reconcile %s: avg price drift, ledger: %s, exchange: %s",
					symbol, summary.AvgEntryPrice, pos.AvgPrice)
			}
		}

		return &model.SymbolReconciliation{
			Symbol:           symbol,
			Outcome:          model.ReconcileMatched,
			LedgerQuantity:   ledgerQty,
			ExchangeQuantity: exchQty,
		}

	case !ledgerQty.IsZero():
		// the venue went flat while the process was down
		return s.backfill(ctx, symbol, summary)

	default:
		// the venue holds exposure the ledger never recorded; materializing
		// entries silently could mask a bug, so the operator decides
		note := fmt.Sprintf("exchange holds %s %s absent from ledger", pos.Quantity, symbol)
		s.guard.Suspend(symbol, guard.ReasonAdoptedPosition, note)

		return &model.SymbolReconciliation{
			Symbol:           symbol,
			Outcome:          model.ReconcileAdopted,
			ExchangeQuantity: exchQty,
			Note:             note,
		}
	}
}

// backfill synthesizes the close the process missed, using only evidence
// from the venue's execution history. No evidence means the entries stay
// open and flagged; an exit price is never invented.
func (s *Service) backfill(ctx context.Context, symbol string, summary model.PositionSummary) *model.SymbolReconciliation {
	entries, err := s.engine.OpenEntries(ctx, symbol)
	if err != nil || len(entries) == 0 {
		return s.unresolved(symbol, summary.TotalQuantity, decimal.Zero,
			fmt.Sprintf("ledger read failed: %v", err))
	}
	oldest := entries[0].EntryTime

	histCtx, cancel := context.WithTimeout(ctx, s.cfg.SnapshotTimeout)
	execs, err := s.client.Executions(histCtx, symbol, oldest)
	cancel()
	if err != nil {
		note := fmt.Sprintf("execution history failed: %v", err)
		if errors.Is(err, context.DeadlineExceeded) {
			note = "execution history timed out"
		}

		return s.unresolved(symbol, summary.TotalQuantity, decimal.Zero, note)
	}

	closeSide := summary.Side.Opposite()

	var (
		total       = decimal.Zero
		weighted    = decimal.Zero
		fees        = decimal.Zero
		lastTime    time.Time
		lastOrderID string
	)
	for _, ex := range execs {
		if ex.Side != closeSide || ex.Time.Before(oldest) {
			continue
		}
		if botID, _, _, parseErr := model.ParseClientOrderID(ex.OrderLinkID); parseErr == nil && botID != s.engine.BotID() {
			// another bot's fill on the shared account
			continue
		}

		total = total.Add(ex.Quantity)
		weighted = weighted.Add(ex.Price.Mul(ex.Quantity))
		fees = fees.Add(ex.Fee)
		if ex.Time.After(lastTime) {
			lastTime = ex.Time
			lastOrderID = ex.OrderID
		}
	}

	ledgerQty := summary.TotalQuantity

	if total.IsZero() {
		return s.unresolved(symbol, ledgerQty, decimal.Zero,
			"exchange flat but no matching exit fills in history")
	}
	if total.Add(s.cfg.QuantityTolerance).LessThan(ledgerQty) {
		return s.unresolved(symbol, ledgerQty, decimal.Zero,
			fmt.Sprintf("history covers %s of %s open quantity", total, ledgerQty))
	}

	avgExit := weighted.Div(total)

	exitCommission := fees
	if total.GreaterThan(ledgerQty) {
		exitCommission = fees.Mul(ledgerQty).Div(total)
	}

	trades, err := s.engine.CloseFIFO(ctx, ledger.CloseRequest{
		Symbol:     symbol,
		ExitPrice:  avgExit,
		Quantity:   ledgerQty,
		ExitTime:   lastTime,
		Reason:     model.ReasonBackfilledClose,
		OrderID:    lastOrderID,
		Commission: exitCommission,
	})
	if err != nil {
		return s.unresolved(symbol, ledgerQty, decimal.Zero,
			fmt.Sprintf("backfill close failed: %v", err))
	}

	// CloseFIFO short circuits when the order id was already recorded and
	// hands back the old trades; the sum check catches that replay before
	// a still-open ledger gets reported as closed.
	closed := decimal.Zero
	for i := range trades {
		closed = closed.Add(trades[i].MatchedQuantity)
	}

	remaining, err := s.engine.Summary(ctx, symbol)
	if err != nil {
		return s.unresolved(symbol, ledgerQty, decimal.Zero,
			fmt.Sprintf("ledger read after backfill failed: %v", err))
	}
	if !remaining.IsFlat() {
		return s.unresolved(symbol, ledgerQty, decimal.Zero,
			fmt.Sprintf("backfill close recorded %s but left %s open", closed, remaining.TotalQuantity))
	}

	logs.Infof("reconcile %s: backfilled %s @ %s into %d trades",
		symbol, ledgerQty, avgExit, len(trades))

	return &model.SymbolReconciliation{
		Symbol:         symbol,
		Outcome:        model.ReconcileBackfilled,
		LedgerQuantity: ledgerQty,
		ClosedQuantity: closed,
		Note:           fmt.Sprintf("closed at discovered price %s", avgExit),
	}
}

func (s *Service) unresolved(symbol string, ledgerQty, exchQty decimal.Decimal, note string) *model.SymbolReconciliation {
	s.guard.Suspend(symbol, guard.ReasonUnresolvedReconciliation, note)
	logs.Errorf("reconcile %s unresolved: %s", symbol, note)

	return &model.SymbolReconciliation{
		Symbol:           symbol,
		Outcome:          model.ReconcileUnresolved,
		LedgerQuantity:   ledgerQty,
		ExchangeQuantity: exchQty,
		Note:             note,
	}
}
