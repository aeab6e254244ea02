package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ReconcileOutcome is the per-symbol verdict of a startup reconciliation run.
type ReconcileOutcome string

const (
	// ReconcileMatched means ledger and exchange agree within tolerance.
	ReconcileMatched ReconcileOutcome = "matched"
	// ReconcileBackfilled means the exchange went flat while the process was
	// down and the close was synthesized from exchange history.
	ReconcileBackfilled ReconcileOutcome = "backfilled"
	// ReconcileAdopted means the exchange holds a position the ledger never
	// recorded. Flagged for the operator, never auto-created.
	ReconcileAdopted ReconcileOutcome = "adopted"
	// ReconcileUnresolved means the divergence is ambiguous. The symbol stays
	// suspended until an operator resolves it.
	ReconcileUnresolved ReconcileOutcome = "unresolved"
)

func (o ReconcileOutcome) IsAvailable() bool {
	switch o {
	case ReconcileMatched, ReconcileBackfilled, ReconcileAdopted, ReconcileUnresolved:
		return true
	}

	return false
}

// SymbolReconciliation is one symbol's reconciliation result.
type SymbolReconciliation struct {
	Symbol           string
	Outcome          ReconcileOutcome
	LedgerQuantity   decimal.Decimal
	ExchangeQuantity decimal.Decimal
	ClosedQuantity   decimal.Decimal
	Note             string
}

// ReconcileReport is the full result of one reconciliation run.
type ReconcileReport struct {
	RunID      string
	BotID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Symbols    []SymbolReconciliation
}

// Suspended lists symbols whose trading must stay halted after the run.
func (r ReconcileReport) Suspended() []string {
	var symbols []string
	for _, s := range r.Symbols {
		if s.Outcome == ReconcileUnresolved || s.Outcome == ReconcileAdopted {
			symbols = append(symbols, s.Symbol)
		}
	}

	return symbols
}

// Count returns how many symbols finished with the given outcome.
func (r ReconcileReport) Count(outcome ReconcileOutcome) int {
	n := 0
	for _, s := range r.Symbols {
		if s.Outcome == outcome {
			n++
		}
	}

	return n
}
