// Package engine orchestrates emergency transitions: authorization,
// scope legality, idempotency, ordered adapter execution, durable
// persistence, and audit/alert fan-out. Adapter side effects run
// outside every exclusive section; the state store's owner covers only
// the in-memory mutation and the durable log append.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/opsline/failsafe/internal/actor"
	"github.com/opsline/failsafe/internal/adapter"
	"github.com/opsline/failsafe/internal/alert"
	"github.com/opsline/failsafe/internal/audit"
	"github.com/opsline/failsafe/internal/authz"
	"github.com/opsline/failsafe/internal/scope"
	"github.com/opsline/failsafe/internal/state"
)

// DefaultBudget is the overall activate/deactivate call budget.
const DefaultBudget = 30 * time.Second

// Request carries one activate or deactivate call.
type Request struct {
	Level  scope.Level
	Scope  scope.Ref
	Reason string
	Actor  actor.Actor
	Opts   map[string]string

	// Token is the encoded EmergencyToken for system actors.
	Token string

	// Auto marks a health-monitor-initiated activation for the audit trail.
	Auto bool
}

// AdapterFailure describes one failed sub-action of a transition.
type AdapterFailure struct {
	Adapter string `json:"adapter"`
	Error   string `json:"error"`
}

// Outcome reports a completed transition. Callers can distinguish fully
// applied from applied-with-failed-sub-actions, and an idempotent
// duplicate from a fresh activation.
type Outcome struct {
	Switch    *state.Switch    `json:"switch"`
	Active    bool             `json:"active"`
	Duplicate bool             `json:"duplicate,omitempty"`
	Failures  []AdapterFailure `json:"failures,omitempty"`
}

// Config assembles an Engine.
type Config struct {
	Gate       *authz.Gate
	Store      *state.Store
	Registry   *adapter.Registry
	AuditLog   *audit.Log
	Detector   *audit.Detector   // optional
	Dispatcher *alert.Dispatcher // optional
	Budget     time.Duration
	ConfigHash string
}

// Engine executes activate/deactivate requests.
type Engine struct {
	gate       *authz.Gate
	store      *state.Store
	registry   *adapter.Registry
	auditLog   *audit.Log
	detector   *audit.Detector
	dispatcher *alert.Dispatcher
	budget     time.Duration
	configHash string
	keys       *keyQueue

	now func() time.Time
}

// New creates an Engine. Gate, Store, Registry, and AuditLog are required.
func New(cfg Config) (*Engine, error) {
	if cfg.Gate == nil || cfg.Store == nil || cfg.Registry == nil || cfg.AuditLog == nil {
		return nil, fmt.Errorf("engine: gate, store, registry, and audit log are required")
	}
	if cfg.Budget <= 0 {
		cfg.Budget = DefaultBudget
	}
	return &Engine{
		gate:       cfg.Gate,
		store:      cfg.Store,
		registry:   cfg.Registry,
		auditLog:   cfg.AuditLog,
		detector:   cfg.Detector,
		dispatcher: cfg.Dispatcher,
		budget:     cfg.Budget,
		configHash: cfg.ConfigHash,
		keys:       newKeyQueue(),
		now:        time.Now,
	}, nil
}

// Activate applies an emergency switch. Adapter failures do not fail
// the call: a half-finished emergency stop must never be less safe than
// doing nothing, so successful destructive steps are not rolled back
// and the switch is persisted active regardless.
func (e *Engine) Activate(ctx context.Context, req Request) (*Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, e.budget)
	defer cancel()

	if err := e.admit(req, false); err != nil {
		return nil, err
	}

	key := scope.Key{Level: req.Level, Scope: req.Scope}
	release, err := e.keys.acquire(ctx, key.String())
	if err != nil {
		return nil, e.budgetErr(err)
	}
	defer release()

	// Idempotency: an already-active key records a duplicate and
	// returns success without re-running adapters.
	if existing, ok := e.store.Get(req.Level, req.Scope); ok {
		e.append(audit.Record{
			Action:    audit.ActionDuplicate,
			Level:     int(req.Level),
			Scope:     req.Scope.String(),
			Tenant:    tenantOf(req.Scope),
			Reason:    req.Reason,
			ActorID:   req.Actor.ID,
			ActorKind: string(req.Actor.Kind),
		})
		return &Outcome{Switch: existing, Active: true, Duplicate: true}, nil
	}

	adapters, err := e.registry.Resolve(req.Level, req.Scope)
	if err != nil {
		return nil, err
	}

	failures := e.runAdapters(ctx, adapters, req, false)

	sw := &state.Switch{
		ID:            state.NewSwitchID(),
		Level:         req.Level,
		Scope:         req.Scope,
		Reason:        req.Reason,
		Actor:         req.Actor,
		ActivatedAt:   e.now().UTC(),
		AutoActivated: req.Auto,
		Opts:          req.Opts,
	}

	action := audit.ActionActivate
	if req.Auto {
		action = audit.ActionAutoActivate
	}
	rec := audit.Record{
		Action:         action,
		Level:          int(req.Level),
		Scope:          req.Scope.String(),
		Tenant:         tenantOf(req.Scope),
		Reason:         req.Reason,
		ActorID:        req.Actor.ID,
		ActorKind:      string(req.Actor.Kind),
		ResultSummary:  summarize(failures),
		FailedAdapters: failedNames(failures),
	}

	if err := e.persist(ctx, rec, func(pctx context.Context) error {
		return e.store.Put(pctx, sw)
	}); err != nil {
		return nil, err
	}

	e.dispatchAsync(alert.Event{
		Action:    string(action),
		Level:     int(req.Level),
		Scope:     req.Scope.String(),
		Reason:    req.Reason,
		ActorID:   req.Actor.ID,
		ActorKind: string(req.Actor.Kind),
		Failures:  failedNames(failures),
	})

	return &Outcome{Switch: sw, Active: true, Failures: failures}, nil
}

// Deactivate removes an emergency switch. Restricted to human actors;
// the gate enforces role strength at least equal to activation.
func (e *Engine) Deactivate(ctx context.Context, req Request) (*Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, e.budget)
	defer cancel()

	if err := e.admit(req, true); err != nil {
		return nil, err
	}

	key := scope.Key{Level: req.Level, Scope: req.Scope}
	release, err := e.keys.acquire(ctx, key.String())
	if err != nil {
		return nil, e.budgetErr(err)
	}
	defer release()

	if _, ok := e.store.Get(req.Level, req.Scope); !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotActive, key)
	}

	adapters, err := e.registry.Resolve(req.Level, req.Scope)
	if err != nil {
		return nil, err
	}

	failures := e.runAdapters(ctx, adapters, req, true)

	rec := audit.Record{
		Action:         audit.ActionDeactivate,
		Level:          int(req.Level),
		Scope:          req.Scope.String(),
		Tenant:         tenantOf(req.Scope),
		Reason:         req.Reason,
		ActorID:        req.Actor.ID,
		ActorKind:      string(req.Actor.Kind),
		ResultSummary:  summarize(failures),
		FailedAdapters: failedNames(failures),
	}

	if err := e.persist(ctx, rec, func(pctx context.Context) error {
		return e.store.Remove(pctx, req.Level, req.Scope)
	}); err != nil {
		return nil, err
	}

	e.dispatchAsync(alert.Event{
		Action:    string(audit.ActionDeactivate),
		Level:     int(req.Level),
		Scope:     req.Scope.String(),
		Reason:    req.Reason,
		ActorID:   req.Actor.ID,
		ActorKind: string(req.Actor.Kind),
		Failures:  failedNames(failures),
	})

	return &Outcome{Active: false, Failures: failures}, nil
}

// admit runs authorization and scope legality. Denials are recorded and
// fed to the anomaly detector; legality failures have no side effects.
func (e *Engine) admit(req Request, deactivate bool) error {
	gateReq := authz.Request{
		Actor:      req.Actor,
		Level:      req.Level,
		Scope:      req.Scope,
		Token:      req.Token,
		Deactivate: deactivate,
	}
	if err := e.gate.Authorize(gateReq); err != nil {
		rec := audit.Record{
			Action:    audit.ActionDenied,
			Level:     int(req.Level),
			Scope:     req.Scope.String(),
			Tenant:    tenantOf(req.Scope),
			Reason:    err.Error(),
			ActorID:   req.Actor.ID,
			ActorKind: string(req.Actor.Kind),
		}
		e.append(rec)
		if e.detector != nil {
			e.detector.Observe(rec)
		}
		return err
	}

	if !req.Level.Valid() {
		return fmt.Errorf("%w: level %d out of range", ErrInvalidScopeForLevel, int(req.Level))
	}
	if err := req.Scope.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidScopeForLevel, err)
	}
	if !scope.LegalForLevel(req.Level, req.Scope) {
		return fmt.Errorf("%w: %s does not accept %s scope", ErrInvalidScopeForLevel, req.Level, req.Scope.Kind)
	}
	return nil
}

// runAdapters executes adapters sequentially so failures are
// attributable and ordering guarantees hold. Each invocation gets an
// even share of the remaining budget. Failures are collected, never
// short-circuit: the remaining adapters still run.
func (e *Engine) runAdapters(ctx context.Context, adapters []adapter.Adapter, req Request, start bool) []AdapterFailure {
	if start {
		// Restart in reverse stop order: collaborators come back up
		// before new inbound work is accepted again.
		reversed := make([]adapter.Adapter, len(adapters))
		for i, a := range adapters {
			reversed[len(adapters)-1-i] = a
		}
		adapters = reversed
	}

	var failures []AdapterFailure
	deadline, hasDeadline := ctx.Deadline()

	for i, a := range adapters {
		if ctx.Err() != nil {
			failures = append(failures, AdapterFailure{Adapter: a.Name(), Error: "call budget exhausted"})
			continue
		}

		actx := ctx
		var cancel context.CancelFunc
		if hasDeadline {
			remaining := time.Until(deadline)
			slice := remaining / time.Duration(len(adapters)-i)
			actx, cancel = context.WithTimeout(ctx, slice)
		}

		var err error
		if start {
			err = a.Start(actx, req.Scope, req.Reason, req.Opts)
		} else {
			err = a.Stop(actx, req.Scope, req.Reason, req.Opts)
		}
		if cancel != nil {
			cancel()
		}
		if err != nil {
			failures = append(failures, AdapterFailure{Adapter: a.Name(), Error: err.Error()})
		}
	}
	return failures
}

// persist writes the audit record, then the durable state mutation.
// The record precedes the state swap so no mutation is ever observable
// without its audit trail. Either write failing is fatal: the caller
// sees ErrPersistence (or ErrActivationTimeout on budget overrun) and a
// high-severity internal alert is raised.
func (e *Engine) persist(ctx context.Context, rec audit.Record, mutate func(context.Context) error) error {
	if err := e.auditLog.Append(rec); err != nil {
		e.persistFailed(rec, err)
		return fmt.Errorf("%w: audit append: %v", ErrPersistence, err)
	}
	if err := mutate(ctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			// The store owner may still complete the mutation after
			// the caller's budget expires.
			return fmt.Errorf("%w: state may still be applied", ErrActivationTimeout)
		}
		e.persistFailed(rec, err)
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}

// persistFailed records the failure (best effort) and raises the
// internal alert: the safety mechanism's own durability is monitored.
func (e *Engine) persistFailed(rec audit.Record, cause error) {
	e.append(audit.Record{
		Action:    audit.ActionPersistFailure,
		Level:     rec.Level,
		Scope:     rec.Scope,
		Tenant:    rec.Tenant,
		Reason:    cause.Error(),
		ActorID:   rec.ActorID,
		ActorKind: rec.ActorKind,
	})
	e.dispatchAsync(alert.Event{
		Action:   string(audit.ActionPersistFailure),
		Level:    rec.Level,
		Scope:    rec.Scope,
		Reason:   cause.Error(),
		ActorID:  rec.ActorID,
		Internal: true,
	})
}

// append writes a record, filling the config hash. Denial and failure
// records are best effort: the primary error already propagates.
func (e *Engine) append(rec audit.Record) {
	rec.ConfigHash = e.configHash
	_ = e.auditLog.Append(rec)
}

// dispatchAsync fans the event out without blocking the caller, bounded
// by its own copy of the call budget.
func (e *Engine) dispatchAsync(event alert.Event) {
	if e.dispatcher == nil {
		return
	}
	event.Timestamp = e.now().UTC().Format(audit.TimestampFormat)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), e.budget)
		defer cancel()
		e.dispatcher.Dispatch(ctx, event)
	}()
}

func (e *Engine) budgetErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: queued behind in-flight operation", ErrActivationTimeout)
	}
	return err
}

func summarize(failures []AdapterFailure) string {
	if len(failures) == 0 {
		return "ok"
	}
	return fmt.Sprintf("partial: %d failed", len(failures))
}

func failedNames(failures []AdapterFailure) []string {
	if len(failures) == 0 {
		return nil
	}
	names := make([]string, len(failures))
	for i, f := range failures {
		names[i] = f.Adapter
	}
	return names
}

func tenantOf(s scope.Ref) string {
	if s.Kind == scope.KindTenant {
		return s.Value
	}
	return ""
}
