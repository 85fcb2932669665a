package mcp

import (
	"sync"
	"time"
)

// viewTracker records when each operator last read the alert board so
// kensa_override_set can nudge callers who override blind. It is in-memory
// and per-process; the nudge is advisory.
type viewTracker struct {
	mu     sync.Mutex
	views  map[string]time.Time
	window time.Duration
	now    func() time.Time
}

func newViewTracker(window time.Duration) *viewTracker {
	return &viewTracker{
		views:  make(map[string]time.Time),
		window: window,
		now:    time.Now,
	}
}

// Record notes that operatorID just read the alert board.
func (t *viewTracker) Record(operatorID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.views[operatorID] = t.now()

	if len(t.views) > 1000 {
		t.purgeStale()
	}
}

// Recent reports whether operatorID read the alert board within the window.
func (t *viewTracker) Recent(operatorID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	ts, ok := t.views[operatorID]
	if !ok {
		return false
	}
	if t.now().Sub(ts) > t.window {
		delete(t.views, operatorID)
		return false
	}
	return true
}

// purgeStale removes entries older than the window. Must be called with mu held.
func (t *viewTracker) purgeStale() {
	now := t.now()
	for k, ts := range t.views {
		if now.Sub(ts) > t.window {
			delete(t.views, k)
		}
	}
}
