package slot

import (
	"context"
	"sync"
	"time"
)

// Timer drives end-of-session finalization for one client session. It ticks
// once per second while an active window is running and fires the callback
// when the window lapses. Each client owns its own Timer; there is no
// process-wide countdown state.
type Timer struct {
	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool

	// Now is the clock used for window checks, swappable in tests. Set it
	// before Start.
	Now func() time.Time
}

// NewTimer creates a stopped timer.
func NewTimer() *Timer {
	return &Timer{Now: time.Now}
}

// Start begins the countdown. onExpired is called exactly once, from the
// timer's goroutine, when the active slot window lapses or if no window is
// active at start. Starting an already-running timer restarts it.
func (t *Timer) Start(ctx context.Context, onExpired func()) {
	t.Stop()

	t.mu.Lock()
	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.running = true
	t.mu.Unlock()

	go t.run(ctx, onExpired)
}

// Stop cancels the countdown without firing the callback. Safe to call
// multiple times and on a timer that never started.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	t.running = false
}

// Running reports whether the countdown is active.
func (t *Timer) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Remaining returns the seconds left in the active slot window.
func (t *Timer) Remaining() int {
	return SecondsUntilSlotEnds(t.Now())
}

func (t *Timer) run(ctx context.Context, onExpired func()) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		if SecondsUntilSlotEnds(t.Now()) <= 0 {
			t.Stop()
			onExpired()
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
