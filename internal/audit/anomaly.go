package audit

import (
	"sync"
	"time"
)

const (
	// DefaultAnomalyWindow is the sliding window for denial counting.
	DefaultAnomalyWindow = 10 * time.Minute
	// DefaultAnomalyThreshold is the denial count that raises an alert.
	DefaultAnomalyThreshold = 5
)

// Detector counts Denied records per actor in a sliding window and
// invokes a callback when an actor crosses the threshold. Layered on
// top of the basic log: the records themselves are the evidence, the
// detector only raises the secondary alert.
type Detector struct {
	window    time.Duration
	threshold int
	onTrigger func(actorID string, count int)

	mu        sync.Mutex
	denials   map[string][]time.Time
	lastAlert map[string]time.Time

	now func() time.Time
}

// NewDetector creates a Detector. Non-positive window/threshold select
// the defaults. onTrigger fires at most once per window per actor.
func NewDetector(window time.Duration, threshold int, onTrigger func(actorID string, count int)) *Detector {
	if window <= 0 {
		window = DefaultAnomalyWindow
	}
	if threshold <= 0 {
		threshold = DefaultAnomalyThreshold
	}
	return &Detector{
		window:    window,
		threshold: threshold,
		onTrigger: onTrigger,
		denials:   make(map[string][]time.Time),
		lastAlert: make(map[string]time.Time),
		now:       time.Now,
	}
}

// Observe feeds one record into the detector. Non-denial records are
// ignored.
func (d *Detector) Observe(rec Record) {
	if rec.Action != ActionDenied || rec.ActorID == "" {
		return
	}

	now := d.now().UTC()

	d.mu.Lock()
	times := append(d.denials[rec.ActorID], now)
	cutoff := now.Add(-d.window)
	kept := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	d.denials[rec.ActorID] = kept

	count := len(kept)
	trigger := count >= d.threshold && now.Sub(d.lastAlert[rec.ActorID]) >= d.window
	if trigger {
		d.lastAlert[rec.ActorID] = now
	}
	d.mu.Unlock()

	if trigger && d.onTrigger != nil {
		d.onTrigger(rec.ActorID, count)
	}
}
