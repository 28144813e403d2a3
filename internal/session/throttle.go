package session

import (
	"sync"
	"time"
)

// trailingThrottle coalesces bursts of events per key into at most one
// emission per interval. Only the final emit offered within a window fires,
// so a stream of cursor positions collapses to the latest one.
type trailingThrottle struct {
	interval time.Duration

	mu      sync.Mutex
	pending map[string]func()
}

func newTrailingThrottle(interval time.Duration) *trailingThrottle {
	return &trailingThrottle{
		interval: interval,
		pending:  make(map[string]func()),
	}
}

// Offer schedules emit for the key. An already-open window swallows the
// previous emit and keeps the window's deadline.
func (t *trailingThrottle) Offer(key string, emit func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, open := t.pending[key]; open {
		t.pending[key] = emit
		return
	}
	t.pending[key] = emit
	time.AfterFunc(t.interval, func() {
		t.mu.Lock()
		fire := t.pending[key]
		delete(t.pending, key)
		t.mu.Unlock()
		if fire != nil {
			fire()
		}
	})
}
