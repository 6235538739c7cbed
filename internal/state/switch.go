// Package state is the single source of truth for active emergency
// switches. One owner goroutine serializes all mutations in arrival
// order; readers are served from an immutable snapshot behind an atomic
// pointer and never block on the writer. Every mutation is appended to
// a durable log before the snapshot swap and before the caller is told
// success.
package state

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/opsline/failsafe/internal/actor"
	"github.com/opsline/failsafe/internal/scope"
)

// Switch is one active emergency restriction. Identity is (Level, Scope);
// at most one active switch exists per key.
type Switch struct {
	ID            string            `json:"id"`
	Level         scope.Level       `json:"level"`
	Scope         scope.Ref         `json:"scope"`
	Reason        string            `json:"reason"`
	Actor         actor.Actor       `json:"actor"`
	ActivatedAt   time.Time         `json:"activated_at"`
	AutoActivated bool              `json:"auto_activated"`
	Opts          map[string]string `json:"opts,omitempty"`
}

// Key returns the switch identity key.
func (s *Switch) Key() scope.Key {
	return scope.Key{Level: s.Level, Scope: s.Scope}
}

// NewSwitchID generates a switch identifier (sw-<hex>).
func NewSwitchID() string {
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("sw-%x", time.Now().UnixNano())
	}
	return "sw-" + hex.EncodeToString(b)
}
