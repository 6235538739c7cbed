package alert

import (
	"context"
	"sync"
	"sync/atomic"
)

// Dispatcher fans events out to matching channels.
type Dispatcher struct {
	channels []ChannelConfig
	failures []atomic.Int64 // parallel to channels
	sender   func(ctx context.Context, cfg ChannelConfig, event Event) error
}

// NewDispatcher creates a Dispatcher from channel configurations.
// Returns nil if configs is empty (callers should nil-check).
func NewDispatcher(channels []ChannelConfig) *Dispatcher {
	if len(channels) == 0 {
		return nil
	}
	return &Dispatcher{
		channels: channels,
		failures: make([]atomic.Int64, len(channels)),
		sender:   Send,
	}
}

// Dispatch delivers the event to every matching channel concurrently
// and waits for completion or ctx expiry, whichever comes first. A
// channel failure after bounded retry is recorded as a local counter,
// never propagated.
func (d *Dispatcher) Dispatch(ctx context.Context, event Event) {
	var wg sync.WaitGroup
	for i, cfg := range d.channels {
		if !matchesChannel(cfg.Events, event) {
			continue
		}
		wg.Add(1)
		go func(i int, cfg ChannelConfig) {
			defer wg.Done()
			if err := d.sender(ctx, cfg, event); err != nil {
				d.failures[i].Add(1)
			}
		}(i, cfg)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		// Late channel attempts finish (and count failures) on their own.
	}
}

// Failures reports the per-channel delivery failure counts by name.
func (d *Dispatcher) Failures() map[string]int64 {
	out := make(map[string]int64, len(d.channels))
	for i, cfg := range d.channels {
		name := cfg.Name
		if name == "" {
			name = cfg.URL
		}
		out[name] = d.failures[i].Load()
	}
	return out
}

func matchesChannel(events []string, event Event) bool {
	if len(events) == 0 {
		return true
	}
	for _, e := range events {
		if e == event.Action {
			return true
		}
		if event.Internal && e == "internal" {
			return true
		}
	}
	return false
}
