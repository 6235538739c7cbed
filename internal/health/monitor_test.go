package health

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/opsline/failsafe/internal/engine"
	"github.com/opsline/failsafe/internal/scope"
	"github.com/opsline/failsafe/internal/token"
)

// --- Classification tests ---

func results(failing, total int) []CheckResult {
	out := make([]CheckResult, total)
	for i := range out {
		out[i] = CheckResult{Name: "c", Status: StatusOK}
		if i < failing {
			out[i].Status = StatusFail
		}
	}
	return out
}

func TestClassifyThresholds(t *testing.T) {
	cases := []struct {
		failing int
		want    Classification
	}{
		{0, Normal},
		{1, Degraded},
		{2, Degraded},
		{3, Critical},
		{5, Critical},
	}
	for _, c := range cases {
		if got := Classify(results(c.failing, 5), 1, 3); got != c.want {
			t.Errorf("%d failing: got %s, want %s", c.failing, got, c.want)
		}
	}
}

func TestClassifyWarnIsNotFailing(t *testing.T) {
	rs := []CheckResult{
		{Name: "a", Status: StatusWarn},
		{Name: "b", Status: StatusWarn},
		{Name: "c", Status: StatusWarn},
	}
	if got := Classify(rs, 1, 3); got != Normal {
		t.Errorf("expected warns to classify Normal, got %s", got)
	}
}

func TestSnapshotFailing(t *testing.T) {
	snap := &Snapshot{Checks: []CheckResult{
		{Name: "db", Status: StatusFail},
		{Name: "api", Status: StatusOK},
		{Name: "queue", Status: StatusFail},
	}}
	got := snap.Failing()
	if len(got) != 2 || got[0] != "db" || got[1] != "queue" {
		t.Errorf("unexpected failing set: %v", got)
	}
}

// --- HTTPCheck tests ---

func TestHTTPCheckStatuses(t *testing.T) {
	code := http.StatusOK
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(code)
	}))
	defer srv.Close()

	c := NewHTTPCheck("probe", srv.URL, time.Second)

	if got := c.Run(context.Background()); got.Status != StatusOK {
		t.Errorf("200: expected ok, got %s", got.Status)
	}
	code = http.StatusNotFound
	if got := c.Run(context.Background()); got.Status != StatusWarn {
		t.Errorf("404: expected warn, got %s", got.Status)
	}
	code = http.StatusInternalServerError
	if got := c.Run(context.Background()); got.Status != StatusFail {
		t.Errorf("500: expected fail, got %s", got.Status)
	}
}

func TestHTTPCheckTransportError(t *testing.T) {
	c := NewHTTPCheck("probe", "http://127.0.0.1:1", 200*time.Millisecond)
	if got := c.Run(context.Background()); got.Status != StatusFail {
		t.Errorf("expected transport error to fail, got %s", got.Status)
	}
}

// --- Monitor tests ---

// fakeActivator records auto-activation requests.
type fakeActivator struct {
	mu   sync.Mutex
	reqs []engine.Request
	done chan struct{}
}

func (f *fakeActivator) Activate(ctx context.Context, req engine.Request) (*engine.Outcome, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	select {
	case f.done <- struct{}{}:
	default:
	}
	return &engine.Outcome{Active: true}, nil
}

func (f *fakeActivator) requests() []engine.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]engine.Request(nil), f.reqs...)
}

func failingCheck(name string) Check {
	return &FuncCheck{CheckName: name, RunFn: func(context.Context) CheckResult {
		return CheckResult{Name: name, Status: StatusFail}
	}}
}

func okCheck(name string) Check {
	return &FuncCheck{CheckName: name}
}

func newTestMonitor(t *testing.T, act Activator, checks []Check, escalations []Escalation) *Monitor {
	t.Helper()
	minter, err := token.NewMinter("health-monitor", []byte("health-test-secret"), 0)
	if err != nil {
		t.Fatalf("new minter: %v", err)
	}
	m, err := New(Config{
		Interval:    time.Second,
		Cooldown:    5 * time.Minute,
		DegradedMin: 1,
		CriticalMin: 3,
		Checks:      checks,
		Escalations: escalations,
		Minter:      minter,
	}, act)
	if err != nil {
		t.Fatalf("new monitor: %v", err)
	}
	return m
}

func waitForActivation(t *testing.T, f *fakeActivator) {
	t.Helper()
	select {
	case <-f.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for auto-activation")
	}
}

func TestTickBelowCriticalDoesNotEscalate(t *testing.T) {
	act := &fakeActivator{done: make(chan struct{}, 8)}
	m := newTestMonitor(t, act,
		[]Check{failingCheck("db"), okCheck("api"), okCheck("queue")},
		[]Escalation{{Check: "db", Level: scope.LevelServiceStop, Scope: scope.Service("db")}})

	snap := m.Tick(context.Background())
	if snap.Classification != Degraded {
		t.Fatalf("expected Degraded, got %s", snap.Classification)
	}
	time.Sleep(50 * time.Millisecond)
	if len(act.requests()) != 0 {
		t.Error("expected no escalation below Critical")
	}
}

func TestTickCriticalEscalatesMappedSwitch(t *testing.T) {
	act := &fakeActivator{done: make(chan struct{}, 8)}
	m := newTestMonitor(t, act,
		[]Check{failingCheck("db"), failingCheck("api"), failingCheck("queue")},
		[]Escalation{
			{Check: "db", Level: scope.LevelServiceStop, Scope: scope.Service("db")},
			{Check: "api", Level: scope.LevelThrottle, Scope: scope.Global},
			{Check: "queue", Level: scope.LevelFeatureOff, Scope: scope.Feature("async")},
		})

	snap := m.Tick(context.Background())
	if snap.Classification != Critical {
		t.Fatalf("expected Critical, got %s", snap.Classification)
	}
	waitForActivation(t, act)
	waitForActivation(t, act)
	waitForActivation(t, act)

	reqs := act.requests()
	if len(reqs) != 3 {
		t.Fatalf("expected 3 escalations, got %d", len(reqs))
	}
	for _, r := range reqs {
		if !r.Auto {
			t.Error("expected escalation marked auto")
		}
		if r.Actor.ID != DefaultSubject {
			t.Errorf("expected actor %s, got %s", DefaultSubject, r.Actor.ID)
		}
		if r.Token == "" {
			t.Error("expected a minted token")
		}
	}
}

func TestCooldownSuppressesRepeatEscalation(t *testing.T) {
	act := &fakeActivator{done: make(chan struct{}, 8)}
	m := newTestMonitor(t, act,
		[]Check{failingCheck("a"), failingCheck("b"), failingCheck("c")},
		[]Escalation{{Check: "a", Level: scope.LevelThrottle, Scope: scope.Global}})

	base := time.Now()
	m.now = func() time.Time { return base }

	m.Tick(context.Background())
	m.Tick(context.Background())
	waitForActivation(t, act)
	time.Sleep(100 * time.Millisecond)

	// Checks b and c fall back to the same default (throttle, global)
	// key, so the first tick activates at most 1 distinct key: "a" maps
	// to the same key as the fallback.
	if got := len(act.requests()); got != 1 {
		t.Fatalf("expected 1 escalation within cooldown, got %d", got)
	}

	// After the cooldown the same key escalates again, covering the
	// deactivated-then-still-critical case.
	m.now = func() time.Time { return base.Add(6 * time.Minute) }
	m.Tick(context.Background())
	waitForActivation(t, act)
	if got := len(act.requests()); got != 2 {
		t.Errorf("expected re-escalation after cooldown, got %d", got)
	}
}

// flakyMinter fails its first fails calls, then mints normally.
type flakyMinter struct {
	mu    sync.Mutex
	fails int
	calls int
}

func (f *flakyMinter) Mint(subject string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.fails {
		return "", fmt.Errorf("signing backend unavailable")
	}
	return "fst.minted-for-" + subject, nil
}

func TestMintFailureDoesNotConsumeCooldown(t *testing.T) {
	act := &fakeActivator{done: make(chan struct{}, 8)}
	m := newTestMonitor(t, act,
		[]Check{failingCheck("a"), failingCheck("b"), failingCheck("c")},
		[]Escalation{{Check: "a", Level: scope.LevelThrottle, Scope: scope.Global}})

	// All three checks resolve to the (throttle, global) key; failing
	// all three mint attempts makes the whole first tick mint-less.
	m.cfg.Minter = &flakyMinter{fails: 3}

	base := time.Now()
	m.now = func() time.Time { return base }

	m.Tick(context.Background())
	time.Sleep(50 * time.Millisecond)
	if got := len(act.requests()); got != 0 {
		t.Fatalf("expected no escalation while minting fails, got %d", got)
	}

	// Same instant, minting recovered: the key must escalate now rather
	// than wait out a cooldown the failed tick never earned.
	m.Tick(context.Background())
	waitForActivation(t, act)
	if got := len(act.requests()); got != 1 {
		t.Errorf("expected 1 escalation after mint recovery, got %d", got)
	}
}

func TestUnmappedCheckFallsBackToGlobalThrottle(t *testing.T) {
	act := &fakeActivator{done: make(chan struct{}, 8)}
	m := newTestMonitor(t, act,
		[]Check{failingCheck("mystery"), failingCheck("b"), failingCheck("c")},
		nil)

	m.Tick(context.Background())
	waitForActivation(t, act)

	reqs := act.requests()
	if len(reqs) == 0 {
		t.Fatal("expected fallback escalation")
	}
	if reqs[0].Level != scope.LevelThrottle || reqs[0].Scope != scope.Global {
		t.Errorf("expected fallback (throttle, global), got (%s, %s)", reqs[0].Level, reqs[0].Scope)
	}
}

func TestLastSnapshot(t *testing.T) {
	act := &fakeActivator{done: make(chan struct{}, 1)}
	m := newTestMonitor(t, act, []Check{okCheck("api")}, nil)
	if m.Last() != nil {
		t.Error("expected nil before first tick")
	}
	m.Tick(context.Background())
	if m.Last() == nil || m.Last().Classification != Normal {
		t.Error("expected Normal snapshot after tick")
	}
}
