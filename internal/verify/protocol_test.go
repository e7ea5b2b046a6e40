package verify

import (
	"context"
	"testing"
	"time"
)

func TestSubmit_EmptyWordIsRetryable(t *testing.T) {
	p := NewProtocol(nil, nil, nil, "alice")

	// Empty and whitespace-only input must be rejected before any store
	// access, with no error and no state change.
	for _, word := range []string{"", "   ", "\t"} {
		result, err := p.Submit(context.Background(), "room-1", word)
		if err != nil {
			t.Fatalf("Submit(%q) error: %v", word, err)
		}
		if result.OK || result.Promoted {
			t.Errorf("Submit(%q) = %+v, want rejection", word, result)
		}
		if result.Message == "" {
			t.Errorf("Submit(%q) should carry a user-facing message", word)
		}
	}
}

func TestMarkReported_FiresOnce(t *testing.T) {
	p := NewProtocol(nil, nil, nil, "alice")

	if !p.markReported() {
		t.Fatal("first markReported should return true")
	}
	for i := 0; i < 5; i++ {
		if p.markReported() {
			t.Fatal("promotion must be reported at most once")
		}
	}
}

func TestMarkGone_FiresOnce(t *testing.T) {
	p := NewProtocol(nil, nil, nil, "alice")

	if !p.markGone() {
		t.Fatal("first markGone should return true")
	}
	if p.markGone() {
		t.Fatal("room-gone must be reported at most once")
	}
}

func TestLatches_ResetPerRoom(t *testing.T) {
	p := NewProtocol(nil, nil, nil, "alice")

	// First room: both latches fire once.
	p.bind("room-1")
	if !p.markGone() || !p.markReported() {
		t.Fatal("first room's latches should fire")
	}
	if p.markGone() || p.markReported() {
		t.Fatal("latches must fire at most once per room")
	}

	// Re-binding the same room keeps the latches set.
	p.bind("room-1")
	if p.markGone() || p.markReported() {
		t.Fatal("re-binding the same room must not reset the latches")
	}

	// A rematch binds a fresh room; its lifecycle must be reportable too.
	p.bind("room-2")
	if !p.markGone() {
		t.Fatal("second room's disappearance should be reported")
	}
	if !p.markReported() {
		t.Fatal("second room's promotion should be reported")
	}
}

func TestTeardown_BeforeWatchIsSafe(t *testing.T) {
	p := NewProtocol(nil, nil, nil, "alice")
	p.Teardown()
	p.Teardown() // must not panic or double-cancel
}

func TestDriftPoll_StopsOnBudget(t *testing.T) {
	p := NewProtocol(nil, nil, nil, "alice")
	p.SetPollBudget(5*time.Millisecond, 25*time.Millisecond)

	ticks := make(chan struct{}, 64)
	done := make(chan struct{})
	go func() {
		p.driftPoll(context.Background(), func() { ticks <- struct{}{} })
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("drift poll should stop once the budget lapses")
	}
	if len(ticks) == 0 {
		t.Error("drift poll should have reconciled at least once")
	}
}

func TestDriftPoll_StopsOnCancel(t *testing.T) {
	p := NewProtocol(nil, nil, nil, "alice")
	p.SetPollBudget(5*time.Millisecond, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.driftPoll(ctx, func() {})
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("drift poll should stop when cancelled")
	}
}
