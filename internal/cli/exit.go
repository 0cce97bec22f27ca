// internal/cli/exit.go
package cli

import (
	"errors"

	"github.com/hearthd/certward/acmeissuer"
	"github.com/hearthd/certward/install"
	"github.com/hearthd/certward/material"
	"github.com/hearthd/certward/store"
)

// Process exit codes. Each validator or issuance failure kind gets a
// distinguishing code so schedulers and wrapper scripts can react without
// parsing log output.
const (
	ExitOK                 = 0
	ExitGeneric            = 1
	ExitMalformed          = 2
	ExitKeyMismatch        = 3
	ExitExpired            = 4
	ExitUnreadable         = 5
	ExitChallengeFailed    = 6
	ExitPropagationTimeout = 7
	ExitRateLimited        = 8
	ExitInstallError       = 9
	ExitLockHeld           = 10
)

// exitCode classifies an error into the exit contract. Order matters only
// where kinds can wrap each other; these sentinels are disjoint.
func exitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	switch {
	case errors.Is(err, material.ErrMalformed):
		return ExitMalformed
	case errors.Is(err, material.ErrKeyMismatch):
		return ExitKeyMismatch
	case errors.Is(err, material.ErrExpired):
		return ExitExpired
	case errors.Is(err, material.ErrUnreadable):
		return ExitUnreadable
	case errors.Is(err, acmeissuer.ErrChallengeFailed):
		return ExitChallengeFailed
	case errors.Is(err, acmeissuer.ErrPropagationTimeout):
		return ExitPropagationTimeout
	case errors.Is(err, acmeissuer.ErrRateLimited):
		return ExitRateLimited
	case errors.Is(err, install.ErrInstall):
		return ExitInstallError
	case errors.Is(err, store.ErrLockNotAcquired):
		return ExitLockHeld
	default:
		return ExitGeneric
	}
}
