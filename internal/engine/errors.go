package engine

import (
	"errors"

	"github.com/opsline/failsafe/internal/authz"
)

// Error taxonomy. Unauthorized, InvalidScopeForLevel, and NotActive
// fail fast with no side effects beyond the denial record. Persistence
// is the one fatal case: the switch is aborted and an internal alert
// raised. Adapter failures are not errors — they are aggregated into
// the outcome and the switch stays active.
var (
	// ErrUnauthorized is the gate's sentinel, re-exported so callers
	// match one error regardless of which layer denied.
	ErrUnauthorized = authz.ErrUnauthorized

	// ErrInvalidScopeForLevel marks a scope variant the level does not accept.
	ErrInvalidScopeForLevel = errors.New("invalid scope for level")

	// ErrNotActive marks a deactivate for a switch that is not active.
	ErrNotActive = errors.New("switch not active")

	// ErrActivationTimeout marks an overall call budget overrun. State
	// may be partially applied and is reported as such.
	ErrActivationTimeout = errors.New("activation timed out")

	// ErrPersistence marks a durable write failure. The activation is
	// aborted and reported failed.
	ErrPersistence = errors.New("persistence failure")
)
