package state

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/opsline/failsafe/internal/scope"
)

// ErrNotFound is returned by Remove when no switch is active for the key.
var ErrNotFound = errors.New("switch not active")

// ErrClosed is returned for mutations submitted after Close.
var ErrClosed = errors.New("state store closed")

// snapshot is the immutable read view. Never mutated after publication.
type snapshot struct {
	switches map[string]*Switch // key.String() -> switch
	blocked  map[string]bool    // scope.String() -> any active switch targets it
}

var emptySnapshot = &snapshot{
	switches: map[string]*Switch{},
	blocked:  map[string]bool{},
}

type mutation struct {
	op   string // walOpPut / walOpRemove
	sw   *Switch
	key  scope.Key
	done chan error
}

// Store owns the active switch set. See the package comment for the
// concurrency contract.
type Store struct {
	wal  *wal
	ops  chan mutation
	stop chan struct{}
	done chan struct{}

	snap         atomic.Pointer[snapshot]
	globalActive atomic.Bool
}

// Open replays the durable log at path and starts the mutation owner.
// The store serves reads and accepts mutations only after replay has
// completed.
func Open(path string) (*Store, error) {
	switches, err := replayWAL(path)
	if err != nil {
		return nil, err
	}
	w, err := openWAL(path)
	if err != nil {
		return nil, err
	}

	s := &Store{
		wal:  w,
		ops:  make(chan mutation),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	s.publish(switches)
	go s.run(switches)
	return s, nil
}

// run is the single mutation owner. It processes requests in arrival
// order; the exclusive section covers only the log append and the
// snapshot swap — adapter side effects never run here.
func (s *Store) run(switches map[string]*Switch) {
	defer close(s.done)
	for {
		select {
		case <-s.stop:
			return
		case m := <-s.ops:
			m.done <- s.apply(switches, m)
		}
	}
}

func (s *Store) apply(switches map[string]*Switch, m mutation) error {
	switch m.op {
	case walOpPut:
		if err := s.wal.append(walRecord{Op: walOpPut, Switch: m.sw}); err != nil {
			return err
		}
		switches[m.sw.Key().String()] = m.sw
	case walOpRemove:
		key := m.key.String()
		if _, ok := switches[key]; !ok {
			return fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		if err := s.wal.append(walRecord{Op: walOpRemove, Key: key}); err != nil {
			return err
		}
		delete(switches, key)
	default:
		return fmt.Errorf("state: unknown op %q", m.op)
	}
	s.publish(switches)
	return nil
}

// publish swaps in a freshly built immutable snapshot. The standalone
// global flag is updated first so level-0 dominance is never observed
// late relative to the map.
func (s *Store) publish(switches map[string]*Switch) {
	snap := &snapshot{
		switches: make(map[string]*Switch, len(switches)),
		blocked:  make(map[string]bool, len(switches)),
	}
	global := false
	for k, sw := range switches {
		snap.switches[k] = sw
		snap.blocked[sw.Scope.String()] = true
		if sw.Level == scope.LevelPlatformStop && sw.Scope.Kind == scope.KindGlobal {
			global = true
		}
	}
	s.globalActive.Store(global)
	s.snap.Store(snap)
}

func (s *Store) submit(ctx context.Context, m mutation) error {
	m.done = make(chan error, 1)
	select {
	case s.ops <- m:
	case <-s.stop:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-m.done:
		return err
	case <-ctx.Done():
		// The owner may still complete the mutation; the caller's budget
		// expired, which the engine reports as a timeout with state
		// possibly applied.
		return ctx.Err()
	}
}

// Put activates (or overwrites) the switch for its key. The record is
// durable before Put returns nil.
func (s *Store) Put(ctx context.Context, sw *Switch) error {
	if sw == nil {
		return fmt.Errorf("state: nil switch")
	}
	return s.submit(ctx, mutation{op: walOpPut, sw: sw})
}

// Remove deletes the switch for (level, scope). Returns ErrNotFound if
// no switch is active for the key.
func (s *Store) Remove(ctx context.Context, level scope.Level, ref scope.Ref) error {
	return s.submit(ctx, mutation{op: walOpRemove, key: scope.Key{Level: level, Scope: ref}})
}

// Get returns the active switch for (level, scope), if any. Lock-free.
func (s *Store) Get(level scope.Level, ref scope.Ref) (*Switch, bool) {
	sw, ok := s.view().switches[scope.Key{Level: level, Scope: ref}.String()]
	return sw, ok
}

// ListActive returns all active switches ordered by key. Lock-free.
func (s *Store) ListActive() []*Switch {
	snap := s.view()
	out := make([]*Switch, 0, len(snap.switches))
	for _, sw := range snap.switches {
		out = append(out, sw)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Key().String() < out[j].Key().String()
	})
	return out
}

// IsBlocked reports whether any active switch targets the scope. An
// active platform stop dominates: every scope is blocked while
// (0, global) is active. O(1), non-blocking; consulted on every inbound
// unit of work.
func (s *Store) IsBlocked(ref scope.Ref) bool {
	if s.globalActive.Load() {
		return true
	}
	return s.view().blocked[ref.String()]
}

// GlobalActive reports whether the platform-stop switch is active.
func (s *Store) GlobalActive() bool {
	return s.globalActive.Load()
}

func (s *Store) view() *snapshot {
	if snap := s.snap.Load(); snap != nil {
		return snap
	}
	return emptySnapshot
}

// Close stops the mutation owner and closes the durable log. In-flight
// mutations complete first.
func (s *Store) Close() error {
	close(s.stop)
	<-s.done
	return s.wal.close()
}
