package exception

import "errors"

var (
	ErrReconcileUnresolved      = errors.New("reconcile: unresolved symbol")
	ErrReconcileSnapshotTimeout = errors.New("reconcile: snapshot timeout")
	ErrReconcileAlreadyRan      = errors.New("reconcile: already ran")
)
