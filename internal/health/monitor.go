package health

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/opsline/failsafe/internal/actor"
	"github.com/opsline/failsafe/internal/engine"
	"github.com/opsline/failsafe/internal/scope"
)

const (
	// DefaultInterval is the health loop period.
	DefaultInterval = 30 * time.Second
	// DefaultCooldown suppresses repeated auto-activation of one key.
	DefaultCooldown = 5 * time.Minute
	// DefaultSubject is the system actor id the monitor acts as.
	DefaultSubject = "health-monitor"
)

// Activator is the slice of the engine the monitor needs.
type Activator interface {
	Activate(ctx context.Context, req engine.Request) (*engine.Outcome, error)
}

// Minter issues the credential each auto-activation presents to the
// authorization gate. Satisfied by *token.Minter.
type Minter interface {
	Mint(subject string) (string, error)
}

// Escalation maps one failing check to the switch it activates.
type Escalation struct {
	Check string
	Level scope.Level
	Scope scope.Ref
}

// Config assembles a Monitor.
type Config struct {
	Interval    time.Duration
	Cooldown    time.Duration
	DegradedMin int
	CriticalMin int
	Checks      []Check
	Escalations []Escalation
	Minter      Minter
	Subject     string
}

// Monitor is the autonomous health loop. It classifies check results on
// a fixed period and, while the system is Critical, auto-activates the
// mapped switch for each failing check — escalation only, debounced per
// key by a local cooldown on top of the engine's idempotency check.
type Monitor struct {
	cfg    Config
	engine Activator

	mu        sync.Mutex
	cooldowns map[string]time.Time
	last      *Snapshot

	now func() time.Time
}

// New creates a Monitor.
func New(cfg Config, act Activator) (*Monitor, error) {
	if act == nil {
		return nil, fmt.Errorf("health: activator is required")
	}
	if cfg.Minter == nil {
		return nil, fmt.Errorf("health: token minter is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.Subject == "" {
		cfg.Subject = DefaultSubject
	}
	return &Monitor{
		cfg:       cfg,
		engine:    act,
		cooldowns: make(map[string]time.Time),
		now:       time.Now,
	}, nil
}

// Run starts the loop. Blocks until ctx is cancelled. The loop never
// waits on an activation it triggers: escalations are dispatched as
// detached work and the cadence continues.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// Tick runs one observation cycle and returns the snapshot.
func (m *Monitor) Tick(ctx context.Context) *Snapshot {
	snap := &Snapshot{Timestamp: m.now().UTC()}
	for _, c := range m.cfg.Checks {
		snap.Checks = append(snap.Checks, c.Run(ctx))
	}
	snap.Classification = Classify(snap.Checks, m.cfg.DegradedMin, m.cfg.CriticalMin)

	m.mu.Lock()
	m.last = snap
	m.mu.Unlock()

	if snap.Classification == Critical {
		m.escalate(snap)
	}
	return snap
}

// Last returns the most recent snapshot, or nil before the first tick.
func (m *Monitor) Last() *Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// escalate auto-activates the mapped switch for each failing check,
// skipping keys still in cooldown.
func (m *Monitor) escalate(snap *Snapshot) {
	for _, name := range snap.Failing() {
		esc := m.lookup(name)
		key := scope.Key{Level: esc.Level, Scope: esc.Scope}.String()

		if m.inCooldown(key) {
			continue
		}

		// Reserve the cooldown only once a token is in hand: a
		// transient mint failure must not suppress the next tick.
		tok, err := m.cfg.Minter.Mint(m.cfg.Subject)
		if err != nil {
			fmt.Fprintf(os.Stderr, "health: mint token for %s: %v\n", key, err)
			continue
		}
		m.reserveCooldown(key)

		req := engine.Request{
			Level:  esc.Level,
			Scope:  esc.Scope,
			Reason: fmt.Sprintf("auto: health check %q failing, system critical", name),
			Actor:  actor.Actor{ID: m.cfg.Subject, Kind: actor.System},
			Token:  tok,
			Auto:   true,
		}
		go func(req engine.Request, key string) {
			if _, err := m.engine.Activate(context.Background(), req); err != nil {
				fmt.Fprintf(os.Stderr, "health: auto-activation of %s failed: %v\n", key, err)
			}
		}(req, key)
	}
}

// lookup resolves the escalation for a failing check. Checks with no
// configured mapping fall back to a global throttle: resource pressure
// with no clear owner gets the narrowest global action.
func (m *Monitor) lookup(check string) Escalation {
	for _, e := range m.cfg.Escalations {
		if e.Check == check {
			return e
		}
	}
	return Escalation{Check: check, Level: scope.LevelThrottle, Scope: scope.Global}
}

// inCooldown reports whether the key's cooldown window is still open.
func (m *Monitor) inCooldown(key string) bool {
	now := m.now().UTC()
	m.mu.Lock()
	defer m.mu.Unlock()
	last, ok := m.cooldowns[key]
	return ok && now.Sub(last) < m.cfg.Cooldown
}

func (m *Monitor) reserveCooldown(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cooldowns[key] = m.now().UTC()
}
