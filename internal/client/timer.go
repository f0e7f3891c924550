package client

import (
	"sync"
	"time"
)

// CallTimer reports elapsed call time from a wall-clock start, so a missed
// tick or a backgrounded process never skews the displayed duration.
type CallTimer struct {
	mu      sync.Mutex
	started time.Time
	now     func() time.Time
}

func NewCallTimer() *CallTimer {
	return &CallTimer{now: time.Now}
}

func (t *CallTimer) Start() {
	t.mu.Lock()
	t.started = t.now()
	t.mu.Unlock()
}

func (t *CallTimer) Reset() {
	t.mu.Lock()
	t.started = time.Time{}
	t.mu.Unlock()
}

// Elapsed is zero before Start.
func (t *CallTimer) Elapsed() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started.IsZero() {
		return 0
	}
	return t.now().Sub(t.started)
}
