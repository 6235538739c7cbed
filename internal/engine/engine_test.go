package engine

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/opsline/failsafe/internal/actor"
	"github.com/opsline/failsafe/internal/adapter"
	"github.com/opsline/failsafe/internal/audit"
	"github.com/opsline/failsafe/internal/authz"
	"github.com/opsline/failsafe/internal/scope"
	"github.com/opsline/failsafe/internal/state"
	"github.com/opsline/failsafe/internal/token"
)

var secret = []byte("engine-test-secret")

type harness struct {
	engine    *Engine
	store     *state.Store
	auditPath string
	registry  *adapter.Registry
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()

	store, err := state.Open(filepath.Join(dir, "state.jsonl"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	auditPath := filepath.Join(dir, "audit.jsonl")
	log, err := audit.Open(auditPath)
	if err != nil {
		t.Fatalf("open audit log: %v", err)
	}
	t.Cleanup(func() { log.Close() })

	verifier, err := token.NewVerifier(secret, []string{"health-monitor"})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	registry := adapter.NewRegistry()
	eng, err := New(Config{
		Gate:     authz.New(nil, verifier),
		Store:    store,
		Registry: registry,
		AuditLog: log,
		Budget:   5 * time.Second,
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return &harness{engine: eng, store: store, auditPath: auditPath, registry: registry}
}

func admin() actor.Actor {
	return actor.Actor{ID: "alice", Roles: []actor.Role{actor.RolePlatformAdmin}, Kind: actor.Human}
}

func sre() actor.Actor {
	return actor.Actor{ID: "sam", Roles: []actor.Role{actor.RoleSRE}, Kind: actor.Human}
}

func (h *harness) activate(t *testing.T, req Request) *Outcome {
	t.Helper()
	out, err := h.engine.Activate(context.Background(), req)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	return out
}

func (h *harness) actions(t *testing.T) []audit.Action {
	t.Helper()
	result, err := audit.Query(h.auditPath, audit.Filter{})
	if err != nil {
		t.Fatalf("query audit: %v", err)
	}
	out := make([]audit.Action, len(result.Records))
	for i, r := range result.Records {
		out[i] = r.Action
	}
	return out
}

// --- Activation tests ---

func TestActivatePersistsSwitch(t *testing.T) {
	h := newHarness(t)
	out := h.activate(t, Request{
		Level: scope.LevelTenantHalt, Scope: scope.Tenant("42"),
		Reason: "abuse", Actor: admin(),
	})
	if !out.Active || out.Duplicate {
		t.Errorf("unexpected outcome: %+v", out)
	}
	if !h.store.IsBlocked(scope.Tenant("42")) {
		t.Error("expected tenant blocked after success return")
	}
	if got := h.actions(t); len(got) != 1 || got[0] != audit.ActionActivate {
		t.Errorf("expected one activate record, got %v", got)
	}
}

func TestActivateDuplicateIsIdempotent(t *testing.T) {
	h := newHarness(t)
	req := Request{Level: scope.LevelTenantHalt, Scope: scope.Tenant("42"), Reason: "abuse", Actor: admin()}

	var stops int
	h.registry.Register(&adapter.Func{
		AdapterName: "sessions",
		StopFn: func(context.Context, scope.Ref, string, map[string]string) error {
			stops++
			return nil
		},
	})
	h.registry.Bind(scope.LevelTenantHalt, []string{"sessions"})

	first := h.activate(t, req)
	second := h.activate(t, req)

	if !second.Duplicate || !second.Active {
		t.Errorf("expected duplicate outcome, got %+v", second)
	}
	if second.Switch.ID != first.Switch.ID {
		t.Error("expected duplicate to return the existing switch")
	}
	if stops != 1 {
		t.Errorf("expected adapters to run once, ran %d times", stops)
	}
	if got := h.actions(t); len(got) != 2 || got[1] != audit.ActionDuplicate {
		t.Errorf("expected duplicate record, got %v", got)
	}
}

func TestActivateUnauthorized(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.Activate(context.Background(), Request{
		Level: scope.LevelPlatformStop, Scope: scope.Global,
		Reason: "panic", Actor: sre(),
	})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if h.store.GlobalActive() {
		t.Error("expected no state change on denial")
	}
	if got := h.actions(t); len(got) != 1 || got[0] != audit.ActionDenied {
		t.Errorf("expected exactly one denied record, got %v", got)
	}
}

func TestActivateIllegalScope(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.Activate(context.Background(), Request{
		Level: scope.LevelPlatformStop, Scope: scope.Tenant("42"),
		Reason: "x", Actor: admin(),
	})
	if !errors.Is(err, ErrInvalidScopeForLevel) {
		t.Fatalf("expected ErrInvalidScopeForLevel, got %v", err)
	}
	if len(h.actions(t)) != 0 {
		t.Error("expected no audit records for a legality failure")
	}
}

// --- Adapter execution tests ---

func TestActivatePartialFailure(t *testing.T) {
	h := newHarness(t)
	var order []string
	mk := func(name string, fail bool) *adapter.Func {
		return &adapter.Func{
			AdapterName: name,
			StopFn: func(context.Context, scope.Ref, string, map[string]string) error {
				order = append(order, name)
				if fail {
					return errors.New("unreachable")
				}
				return nil
			},
		}
	}
	h.registry.Register(mk("first", false))
	h.registry.Register(mk("second", true))
	h.registry.Register(mk("third", false))
	h.registry.Bind(scope.LevelServiceStop, []string{"first", "second", "third"})

	out := h.activate(t, Request{
		Level: scope.LevelServiceStop, Scope: scope.Service("payments"),
		Reason: "incident", Actor: sre(),
	})

	if !out.Active {
		t.Error("expected switch active despite adapter failure")
	}
	if len(out.Failures) != 1 || out.Failures[0].Adapter != "second" {
		t.Errorf("expected one failure for 'second', got %+v", out.Failures)
	}
	want := []string{"first", "second", "third"}
	for i, n := range want {
		if order[i] != n {
			t.Fatalf("adapter order: got %v, want %v", order, want)
		}
	}
	if _, ok := h.store.Get(scope.LevelServiceStop, scope.Service("payments")); !ok {
		t.Error("expected switch persisted despite partial failure")
	}

	result, _ := audit.Query(h.auditPath, audit.Filter{Action: audit.ActionActivate})
	if len(result.Records) != 1 {
		t.Fatalf("expected one activate record, got %d", len(result.Records))
	}
	rec := result.Records[0]
	if rec.ResultSummary != "partial: 1 failed" {
		t.Errorf("expected partial summary, got %q", rec.ResultSummary)
	}
	if len(rec.FailedAdapters) != 1 || rec.FailedAdapters[0] != "second" {
		t.Errorf("expected failed adapter named, got %v", rec.FailedAdapters)
	}
}

func TestDeactivateRunsAdaptersReversed(t *testing.T) {
	h := newHarness(t)
	var starts []string
	mk := func(name string) *adapter.Func {
		return &adapter.Func{
			AdapterName: name,
			StartFn: func(context.Context, scope.Ref, string, map[string]string) error {
				starts = append(starts, name)
				return nil
			},
		}
	}
	h.registry.Register(mk("a"))
	h.registry.Register(mk("b"))
	h.registry.Register(mk("c"))
	h.registry.Bind(scope.LevelServiceStop, []string{"a", "b", "c"})

	req := Request{Level: scope.LevelServiceStop, Scope: scope.Service("payments"), Reason: "x", Actor: sre()}
	h.activate(t, req)
	if _, err := h.engine.Deactivate(context.Background(), req); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	want := []string{"c", "b", "a"}
	if len(starts) != 3 {
		t.Fatalf("expected 3 starts, got %v", starts)
	}
	for i, n := range want {
		if starts[i] != n {
			t.Fatalf("start order: got %v, want %v", starts, want)
		}
	}
}

// --- Deactivation tests ---

func TestDeactivateNotActive(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.Deactivate(context.Background(), Request{
		Level: scope.LevelTenantHalt, Scope: scope.Tenant("42"),
		Reason: "x", Actor: admin(),
	})
	if !errors.Is(err, ErrNotActive) {
		t.Errorf("expected ErrNotActive, got %v", err)
	}
}

func TestDeactivateUnauthorizedLeavesSwitchActive(t *testing.T) {
	h := newHarness(t)
	h.activate(t, Request{Level: scope.LevelTenantHalt, Scope: scope.Tenant("42"), Reason: "x", Actor: admin()})

	// SRE lacks the tenant-halt role; the switch must stay up.
	_, err := h.engine.Deactivate(context.Background(), Request{
		Level: scope.LevelTenantHalt, Scope: scope.Tenant("42"),
		Reason: "oops", Actor: sre(),
	})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if !h.store.IsBlocked(scope.Tenant("42")) {
		t.Error("expected switch still active after denied deactivation")
	}
}

func TestSystemActorCannotDeactivate(t *testing.T) {
	h := newHarness(t)
	h.activate(t, Request{Level: scope.LevelThrottle, Scope: scope.Global, Reason: "x", Actor: admin()})

	minter, _ := token.NewMinter("health-monitor", secret, 0)
	tok, _ := minter.Mint("health-monitor")
	_, err := h.engine.Deactivate(context.Background(), Request{
		Level: scope.LevelThrottle, Scope: scope.Global, Reason: "auto",
		Actor: actor.Actor{ID: "health-monitor", Kind: actor.System},
		Token: tok,
	})
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected system deactivation denied, got %v", err)
	}
}

// --- Scenario tests ---

func TestTenantIsolationScenario(t *testing.T) {
	h := newHarness(t)
	h.activate(t, Request{Level: scope.LevelTenantHalt, Scope: scope.Tenant("42"), Reason: "abuse", Actor: admin()})

	if !h.store.IsBlocked(scope.Tenant("42")) {
		t.Error("expected tenant 42 blocked")
	}
	if h.store.IsBlocked(scope.Tenant("43")) {
		t.Error("expected tenant 43 unaffected")
	}

	req43 := Request{Level: scope.LevelTenantHalt, Scope: scope.Tenant("43"), Reason: "abuse", Actor: admin()}
	h.activate(t, req43)
	if !h.store.IsBlocked(scope.Tenant("43")) {
		t.Error("expected tenant 43 blocked after its own activation")
	}

	if _, err := h.engine.Deactivate(context.Background(), req43); err != nil {
		t.Fatalf("deactivate 43: %v", err)
	}
	if h.store.IsBlocked(scope.Tenant("43")) {
		t.Error("expected tenant 43 unblocked")
	}
	if !h.store.IsBlocked(scope.Tenant("42")) {
		t.Error("expected tenant 42 still blocked")
	}
}

func TestAutoActivationRecordsAutoAction(t *testing.T) {
	h := newHarness(t)
	minter, _ := token.NewMinter("health-monitor", secret, 0)
	tok, _ := minter.Mint("health-monitor")

	out := h.activate(t, Request{
		Level: scope.LevelServiceStop, Scope: scope.Service("inference"),
		Reason: "auto: check failing",
		Actor:  actor.Actor{ID: "health-monitor", Kind: actor.System},
		Token:  tok,
		Auto:   true,
	})
	if !out.Switch.AutoActivated {
		t.Error("expected switch marked auto-activated")
	}
	if got := h.actions(t); len(got) != 1 || got[0] != audit.ActionAutoActivate {
		t.Errorf("expected auto_activate record, got %v", got)
	}
}

// --- Ordering tests ---

func TestSameKeyArrivalOrder(t *testing.T) {
	h := newHarness(t)
	req := Request{Level: scope.LevelTenantHalt, Scope: scope.Tenant("42"), Reason: "x", Actor: admin()}

	started := make(chan struct{})
	release := make(chan struct{})
	h.registry.Register(&adapter.Func{
		AdapterName: "slow",
		StopFn: func(context.Context, scope.Ref, string, map[string]string) error {
			close(started)
			<-release
			return nil
		},
	})
	h.registry.Bind(scope.LevelTenantHalt, []string{"slow"})

	var wg sync.WaitGroup
	wg.Add(1)
	var actErr error
	go func() {
		defer wg.Done()
		_, actErr = h.engine.Activate(context.Background(), req)
	}()
	<-started

	// Deactivate issued while the activate holds the key: it must wait
	// and then observe the fully applied activation.
	wg.Add(1)
	var deactErr error
	go func() {
		defer wg.Done()
		_, deactErr = h.engine.Deactivate(context.Background(), req)
	}()

	time.Sleep(50 * time.Millisecond)
	if _, ok := h.store.Get(scope.LevelTenantHalt, scope.Tenant("42")); ok {
		t.Error("expected no visible switch while activation is mid-flight")
	}

	close(release)
	wg.Wait()

	if actErr != nil {
		t.Fatalf("activate: %v", actErr)
	}
	if deactErr != nil {
		t.Fatalf("queued deactivate: %v", deactErr)
	}
	if _, ok := h.store.Get(scope.LevelTenantHalt, scope.Tenant("42")); ok {
		t.Error("expected switch removed after queued deactivate ran")
	}
}

func TestBudgetExhaustedMarksRemainingAdapters(t *testing.T) {
	dir := t.TempDir()
	store, _ := state.Open(filepath.Join(dir, "state.jsonl"))
	t.Cleanup(func() { store.Close() })
	log, _ := audit.Open(filepath.Join(dir, "audit.jsonl"))
	t.Cleanup(func() { log.Close() })

	registry := adapter.NewRegistry()
	registry.Register(&adapter.Func{
		AdapterName: "stall",
		StopFn: func(ctx context.Context, _ scope.Ref, _ string, _ map[string]string) error {
			<-ctx.Done()
			return ctx.Err()
		},
	})
	registry.Register(&adapter.Func{AdapterName: "after"})
	registry.Bind(scope.LevelServiceStop, []string{"stall", "after"})

	eng, err := New(Config{
		Gate:     authz.New(nil, nil),
		Store:    store,
		Registry: registry,
		AuditLog: log,
		Budget:   200 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	out, err := eng.Activate(context.Background(), Request{
		Level: scope.LevelServiceStop, Scope: scope.Service("payments"),
		Reason: "x", Actor: sre(),
	})
	if err != nil {
		// The budget may expire before persistence; that is reported as
		// a timeout, which is also a legal outcome here.
		if !errors.Is(err, ErrActivationTimeout) {
			t.Fatalf("unexpected error: %v", err)
		}
		return
	}
	if len(out.Failures) == 0 {
		t.Error("expected the stalled adapter counted as failed")
	}
}
