package exception

import "errors"

var (
	// ErrGuardSymbolSuspended is returned when an exit is attempted on a
	// symbol whose trading is suspended pending operator resolution.
	ErrGuardSymbolSuspended = errors.New("guard: symbol suspended")
)
