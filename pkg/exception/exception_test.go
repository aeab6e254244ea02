package exception

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/yanun0323/errors"
)

func TestSentinelsSurviveWrapping(t *testing.T) {
	for name, sentinel := range map[string]error{
		"duplicate fill":        ErrLedgerDuplicateFill,
		"insufficient position": ErrLedgerInsufficientPosition,
		"invalid fill":          ErrLedgerInvalidFill,
		"guard suspended":       ErrGuardSymbolSuspended,
		"invalid argument":      ErrInvalidArgument,
		"decode response body":  ErrExchangeDecodeResponseBody,
	} {
		t.Run(name, func(t *testing.T) {
			wrapped := errors.Wrapf(sentinel, "context: %s", name)
			if !stderrors.Is(wrapped, sentinel) {
				t.Fatalf("wrapped sentinel lost identity: %+v", wrapped)
			}

			rewrapped := errors.Wrap(wrapped, "outer context")
			if !stderrors.Is(rewrapped, sentinel) {
				t.Fatalf("double-wrapped sentinel lost identity: %+v", rewrapped)
			}

			viaFmt := fmt.Errorf("storage: %w", sentinel)
			if !stderrors.Is(viaFmt, sentinel) {
				t.Fatalf("fmt-wrapped sentinel lost identity: %+v", viaFmt)
			}
		})
	}
}
