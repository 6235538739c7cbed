package failsafe

import (
	"github.com/opsline/failsafe/internal/scope"
	"github.com/opsline/failsafe/internal/state"
)

// Blocker answers scope-blocking queries. Implemented by the in-process
// Gate and the remote Client.
type Blocker interface {
	// IsBlocked reports whether any active switch targets the scope. An
	// active platform stop blocks every scope.
	IsBlocked(ref scope.Ref) bool
	// GlobalActive reports whether the platform-stop switch is active.
	GlobalActive() bool
}

// Gate is the in-process blocker. Reads are lock-free against the
// store's published snapshot and never observe a half-updated state.
type Gate struct {
	store *state.Store
}

// NewGate wraps a state store.
func NewGate(store *state.Store) *Gate {
	return &Gate{store: store}
}

func (g *Gate) IsBlocked(ref scope.Ref) bool { return g.store.IsBlocked(ref) }

func (g *Gate) GlobalActive() bool { return g.store.GlobalActive() }
