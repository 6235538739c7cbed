// Package authz is the authorization gate for emergency transitions.
// Humans are checked against a per-level role table; automated subsystems
// present a single-use signed token instead. Pure validation — every
// denial is returned to the caller, which records it.
package authz

import (
	"errors"
	"fmt"
	"sync"

	"github.com/opsline/failsafe/internal/actor"
	"github.com/opsline/failsafe/internal/scope"
	"github.com/opsline/failsafe/internal/token"
)

// ErrUnauthorized is returned for every authorization failure. The
// wrapped message carries the specific reason for the audit trail.
var ErrUnauthorized = errors.New("unauthorized")

// RoleTable maps each severity level to the roles allowed to act on it.
type RoleTable map[scope.Level][]actor.Role

// DefaultRoles is the built-in role table. Level 0 is strictest; each
// lower severity admits strictly more roles.
func DefaultRoles() RoleTable {
	return RoleTable{
		scope.LevelPlatformStop: {actor.RolePlatformAdmin, actor.RoleSecurityAdmin},
		scope.LevelTenantHalt:   {actor.RolePlatformAdmin, actor.RoleSecurityAdmin},
		scope.LevelServiceStop:  {actor.RolePlatformAdmin, actor.RoleSecurityAdmin, actor.RoleSRE},
		scope.LevelFeatureOff:   {actor.RolePlatformAdmin, actor.RoleSecurityAdmin, actor.RoleSRE},
		scope.LevelThrottle:     {actor.RolePlatformAdmin, actor.RoleSecurityAdmin, actor.RoleSRE, actor.RoleOperator},
	}
}

// Gate validates that an actor may act at a given level and scope.
type Gate struct {
	mu       sync.RWMutex
	roles    RoleTable
	verifier *token.Verifier
}

// New creates a Gate. A nil roles table selects DefaultRoles. The
// verifier may be nil, in which case all system actors are refused.
func New(roles RoleTable, verifier *token.Verifier) *Gate {
	if roles == nil {
		roles = DefaultRoles()
	}
	return &Gate{roles: roles, verifier: verifier}
}

// SetRoles swaps the role table (hot reload). A nil table is ignored.
func (g *Gate) SetRoles(roles RoleTable) {
	if roles == nil {
		return
	}
	g.mu.Lock()
	g.roles = roles
	g.mu.Unlock()
}

// Request carries everything the gate needs for one decision.
type Request struct {
	Actor actor.Actor
	Level scope.Level
	Scope scope.Ref

	// Token is the encoded EmergencyToken presented by system actors.
	Token string

	// Deactivate marks a relaxation request; only humans may relax.
	Deactivate bool
}

// Authorize returns nil if the request is allowed, or an error wrapping
// ErrUnauthorized describing the denial. Verifying a system token
// consumes its nonce; a denied human check has no side effects.
func (g *Gate) Authorize(req Request) error {
	if req.Actor.ID == "" {
		return fmt.Errorf("%w: missing actor id", ErrUnauthorized)
	}

	switch req.Actor.Kind {
	case actor.Human:
		return g.authorizeHuman(req)
	case actor.System:
		return g.authorizeSystem(req)
	default:
		return fmt.Errorf("%w: unknown actor kind %q", ErrUnauthorized, req.Actor.Kind)
	}
}

func (g *Gate) authorizeHuman(req Request) error {
	g.mu.RLock()
	required, ok := g.roles[req.Level]
	g.mu.RUnlock()
	if !ok || len(required) == 0 {
		return fmt.Errorf("%w: no roles configured for %s", ErrUnauthorized, req.Level)
	}
	if !req.Actor.HasAny(required) {
		return fmt.Errorf("%w: actor %q lacks a role required for %s on %s",
			ErrUnauthorized, req.Actor.ID, req.Level, req.Scope)
	}
	return nil
}

func (g *Gate) authorizeSystem(req Request) error {
	// Relaxing a restriction is a human decision; automated actors may
	// only ever escalate.
	if req.Deactivate {
		return fmt.Errorf("%w: deactivation is restricted to human actors", ErrUnauthorized)
	}
	if g.verifier == nil {
		return fmt.Errorf("%w: no token verifier configured", ErrUnauthorized)
	}
	if req.Token == "" {
		return fmt.Errorf("%w: system actor %q presented no token", ErrUnauthorized, req.Actor.ID)
	}
	claims, err := g.verifier.Verify(req.Token)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if claims.Subject != req.Actor.ID {
		return fmt.Errorf("%w: token subject %q does not match actor %q",
			ErrUnauthorized, claims.Subject, req.Actor.ID)
	}
	return nil
}
