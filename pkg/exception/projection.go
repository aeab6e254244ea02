package exception

import "errors"

var (
	// ErrProjectionDiverged is returned by a verify pass when the cached
	// summary disagrees with the ledger. The cache is rebuilt; the ledger wins.
	ErrProjectionDiverged = errors.New("projection: cache diverged from ledger")
)
