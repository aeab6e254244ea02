// Package guard tracks which symbols may accept new exit instructions. A
// symbol is suspended when its ledger state can no longer be trusted
// (insufficient position, unresolved reconciliation) and stays suspended
// until reconciliation or an operator resumes it.
package guard

import (
	"sync"
	"time"

	"github.com/yanun0323/errors"

	"alphaledger/pkg/exception"
)

// SuspendReason explains why a symbol is halted.
type SuspendReason string

const (
	ReasonInsufficientPosition     SuspendReason = "insufficient_position"
	ReasonUnresolvedReconciliation SuspendReason = "unresolved_reconciliation"
	ReasonAdoptedPosition          SuspendReason = "adopted_position"
	ReasonManual                   SuspendReason = "manual"
)

// Decision is the verdict for one symbol.
type Decision struct {
	Symbol  string
	Allowed bool
	Reason  SuspendReason
	Note    string
	Since   time.Time
}

type suspension struct {
	reason SuspendReason
	note   string
	since  time.Time
}

// Guard is safe for concurrent use.
type Guard struct {
	mu        sync.RWMutex
	suspended map[string]suspension
}

func New() *Guard {
	return &Guard{
		suspended: make(map[string]suspension),
	}
}

// Suspend halts exits for the symbol. Re-suspending updates the reason but
// keeps the original suspension time.
func (g *Guard) Suspend(symbol string, reason SuspendReason, note string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	since := time.Now().UTC()
	if prev, ok := g.suspended[symbol]; ok {
		since = prev.since
	}

	g.suspended[symbol] = suspension{
		reason: reason,
		note:   note,
		since:  since,
	}
}

// Resume lifts the suspension for the symbol.
func (g *Guard) Resume(symbol string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.suspended, symbol)
}

// Evaluate returns the current verdict for the symbol.
func (g *Guard) Evaluate(symbol string) Decision {
	g.mu.RLock()
	defer g.mu.RUnlock()

	s, ok := g.suspended[symbol]
	if !ok {
		return Decision{Symbol: symbol, Allowed: true}
	}

	return Decision{
		Symbol:  symbol,
		Allowed: false,
		Reason:  s.reason,
		Note:    s.note,
		Since:   s.since,
	}
}

// CheckExit fails with ErrGuardSymbolSuspended when the symbol is halted.
func (g *Guard) CheckExit(symbol string) error {
	decision := g.Evaluate(symbol)
	if decision.Allowed {
		return nil
	}

	return errors.Wrapf(exception.ErrGuardSymbolSuspended,
		"symbol: %s, reason: %s", symbol, decision.Reason)
}

// Suspended lists every halted symbol.
func (g *Guard) Suspended() []Decision {
	g.mu.RLock()
	defer g.mu.RUnlock()

	decisions := make([]Decision, 0, len(g.suspended))
	for symbol, s := range g.suspended {
		decisions = append(decisions, Decision{
			Symbol:  symbol,
			Allowed: false,
			Reason:  s.reason,
			Note:    s.note,
			Since:   s.since,
		})
	}

	return decisions
}
