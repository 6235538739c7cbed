package adapter

import (
	"fmt"
	"sync"

	"github.com/opsline/failsafe/internal/scope"
)

// Level-0 stage names. A full platform stop executes these in a fixed,
// significant order: new inbound work must stop being accepted before
// in-flight work is torn down.
const (
	StageMaintenance  = "maintenance"  // reject new inbound work
	StageIntegrations = "integrations" // stop external service integrations
	StageSessions     = "sessions"     // terminate in-flight sessions
	StageBackground   = "background"   // pause background work
	StageNotify       = "notify"       // dispatch notifications
)

// Level0Order is the mandatory execution order for a platform stop.
var Level0Order = []string{
	StageMaintenance,
	StageIntegrations,
	StageSessions,
	StageBackground,
	StageNotify,
}

// Registry is the startup-time table binding adapter names to levels.
// Registration and binding happen before serving; Resolve is read-only
// and safe for concurrent use afterwards.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	byLevel  map[scope.Level][]string
	byScope  map[string][]string // "level/scope" override
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]Adapter),
		byLevel:  make(map[scope.Level][]string),
		byScope:  make(map[string][]string),
	}
}

// Register adds an adapter. Names must be unique.
func (r *Registry) Register(a Adapter) error {
	if a == nil || a.Name() == "" {
		return fmt.Errorf("adapter: registration requires a named adapter")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adapters[a.Name()]; exists {
		return fmt.Errorf("adapter: %q already registered", a.Name())
	}
	r.adapters[a.Name()] = a
	return nil
}

// Bind associates an ordered list of adapter names with a level.
// Every name must already be registered. Level-0 bindings must follow
// Level0Order (a subsequence is allowed, reordering is not).
func (r *Registry) Bind(level scope.Level, names []string) error {
	if !level.Valid() {
		return fmt.Errorf("adapter: invalid level %d", int(level))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkNamesLocked(names); err != nil {
		return err
	}
	if level == scope.LevelPlatformStop {
		if err := checkLevel0Order(names); err != nil {
			return err
		}
	}
	r.byLevel[level] = append([]string(nil), names...)
	return nil
}

// BindScope overrides the level binding for one specific scope.
func (r *Registry) BindScope(level scope.Level, s scope.Ref, names []string) error {
	if err := s.Validate(); err != nil {
		return fmt.Errorf("adapter: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkNamesLocked(names); err != nil {
		return err
	}
	r.byScope[scope.Key{Level: level, Scope: s}.String()] = append([]string(nil), names...)
	return nil
}

// Resolve returns the ordered adapters for a level/scope. Scope-specific
// bindings win over level bindings. A bound name with no registered
// adapter is a hard error — activating an unregistered adapter must
// fail fast, not silently no-op.
func (r *Registry) Resolve(level scope.Level, s scope.Ref) ([]Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names, ok := r.byScope[scope.Key{Level: level, Scope: s}.String()]
	if !ok {
		names = r.byLevel[level]
	}

	out := make([]Adapter, 0, len(names))
	for _, n := range names {
		a, ok := r.adapters[n]
		if !ok {
			return nil, fmt.Errorf("adapter: %q bound but not registered", n)
		}
		out = append(out, a)
	}
	return out, nil
}

// Names returns all registered adapter names (unordered).
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for n := range r.adapters {
		names = append(names, n)
	}
	return names
}

func (r *Registry) checkNamesLocked(names []string) error {
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if _, ok := r.adapters[n]; !ok {
			return fmt.Errorf("adapter: cannot bind unregistered adapter %q", n)
		}
		if seen[n] {
			return fmt.Errorf("adapter: %q bound twice", n)
		}
		seen[n] = true
	}
	return nil
}

func checkLevel0Order(names []string) error {
	pos := make(map[string]int, len(Level0Order))
	for i, stage := range Level0Order {
		pos[stage] = i
	}
	last := -1
	for _, n := range names {
		p, ok := pos[n]
		if !ok {
			return fmt.Errorf("adapter: %q is not a platform-stop stage", n)
		}
		if p < last {
			return fmt.Errorf("adapter: platform-stop stage %q out of order", n)
		}
		last = p
	}
	return nil
}
