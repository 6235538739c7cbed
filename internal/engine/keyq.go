package engine

import (
	"context"
	"sync"
)

// keyQueue serializes operations per switch key in strict arrival
// order. Each arrival chains behind the previous holder's release
// channel, so a deactivate issued while an activate on the same key is
// mid-flight begins only after the prior operation has fully finished.
type keyQueue struct {
	mu    sync.Mutex
	tails map[string]chan struct{}
}

func newKeyQueue() *keyQueue {
	return &keyQueue{tails: make(map[string]chan struct{})}
}

// acquire blocks until the caller holds the key or ctx expires. On
// success the returned release function must be called exactly once.
func (q *keyQueue) acquire(ctx context.Context, key string) (func(), error) {
	ch := make(chan struct{})

	q.mu.Lock()
	prev := q.tails[key]
	q.tails[key] = ch
	q.mu.Unlock()

	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			// Keep the chain intact for later arrivals queued behind us.
			go func() {
				<-prev
				close(ch)
			}()
			return nil, ctx.Err()
		}
	}

	release := func() {
		q.mu.Lock()
		if q.tails[key] == ch {
			delete(q.tails, key)
		}
		q.mu.Unlock()
		close(ch)
	}
	return release, nil
}
