package exception

import "errors"

var (
	// ErrLedgerDuplicateFill is returned when an entry fill id was already
	// recorded for the bot/symbol. Callers treat it as an idempotent no-op.
	ErrLedgerDuplicateFill = errors.New("ledger: duplicate fill")

	// ErrLedgerInsufficientPosition is returned when a close quantity exceeds
	// the total open remaining quantity. Exits on the symbol must halt until
	// the discrepancy is resolved.
	ErrLedgerInsufficientPosition = errors.New("ledger: insufficient position")

	ErrLedgerInvalidFill         = errors.New("ledger: invalid fill")
	ErrLedgerInvalidCloseRequest = errors.New("ledger: invalid close request")
)
