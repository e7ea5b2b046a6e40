package slot

import (
	"testing"
	"time"
)

func at(hour, min int) time.Time {
	return time.Date(2026, 3, 10, hour, min, 0, 0, time.Local)
}

func TestActiveSlotAt_Daytime(t *testing.T) {
	cases := []struct {
		t    time.Time
		tag  string
		want bool
	}{
		{at(8, 29), "", false},
		{at(8, 30), TagMorning, true},
		{at(11, 29), TagMorning, true},
		{at(11, 30), "", false},
		{at(12, 0), TagMidday, true},
		{at(15, 15), "", false},
		{at(16, 0), TagAfternoon, true},
		{at(18, 45), "", false},
		{at(19, 0), TagEvening, true},
		{at(23, 59), TagEvening, true},
	}

	for _, tc := range cases {
		w, ok := ActiveSlotAt(tc.t)
		if ok != tc.want {
			t.Errorf("ActiveSlotAt(%v) active=%v, want %v", tc.t, ok, tc.want)
			continue
		}
		if ok && w.Tag != tc.tag {
			t.Errorf("ActiveSlotAt(%v) = %s, want %s", tc.t, w.Tag, tc.tag)
		}
	}
}

func TestActiveSlotAt_OvernightEvening(t *testing.T) {
	// 02:00 is inside the evening window anchored to the previous day.
	w, ok := ActiveSlotAt(at(2, 0))
	if !ok || w.Tag != TagEvening {
		t.Fatalf("02:00 should be in the evening window, got %v ok=%v", w.Tag, ok)
	}

	// 04:48 is the exclusive end.
	if _, ok := ActiveSlotAt(at(4, 48)); ok {
		t.Error("04:48 should be outside the evening window")
	}
	if _, ok := ActiveSlotAt(at(4, 47)); !ok {
		t.Error("04:47 should still be inside the evening window")
	}
}

func TestSecondsUntilSlotEnds(t *testing.T) {
	// 11:00 -> morning ends 11:30, 1800s left.
	if got := SecondsUntilSlotEnds(at(11, 0)); got != 1800 {
		t.Errorf("remaining at 11:00 = %d, want 1800", got)
	}

	// 02:00 -> overnight evening ends 04:48 same day, 2h48m left.
	if got := SecondsUntilSlotEnds(at(2, 0)); got != 2*3600+48*60 {
		t.Errorf("remaining at 02:00 = %d, want %d", got, 2*3600+48*60)
	}

	// Outside any window.
	if got := SecondsUntilSlotEnds(at(5, 30)); got != 0 {
		t.Errorf("remaining at 05:30 = %d, want 0", got)
	}
}

func TestEndAfter(t *testing.T) {
	morning, _ := ByTag(TagMorning)

	// Before today's window: today's end.
	end := morning.EndAfter(at(7, 0))
	if end.Hour() != 11 || end.Minute() != 30 || end.Day() != 10 {
		t.Errorf("EndAfter(07:00) = %v", end)
	}

	// Inside the window: the running occurrence's end.
	end = morning.EndAfter(at(9, 0))
	if end.Day() != 10 || end.Hour() != 11 {
		t.Errorf("EndAfter(09:00) = %v", end)
	}

	// After the window: tomorrow's end.
	end = morning.EndAfter(at(13, 0))
	if end.Day() != 11 {
		t.Errorf("EndAfter(13:00) should roll to tomorrow, got %v", end)
	}
}

func TestLatestSharedEnd(t *testing.T) {
	now := at(9, 0)

	end, ok := LatestSharedEnd(now,
		[]string{TagMorning, TagEvening},
		[]string{TagMorning, TagEvening, TagMidday})
	if !ok {
		t.Fatal("expected a shared slot")
	}
	// Evening ends 04:48 on the 11th, later than morning's 11:30 today.
	if end.Day() != 11 || end.Hour() != 4 || end.Minute() != 48 {
		t.Errorf("LatestSharedEnd = %v, want evening end 04:48 next day", end)
	}
}

func TestLatestSharedEnd_NoOverlap(t *testing.T) {
	if _, ok := LatestSharedEnd(at(9, 0), []string{TagMorning}, []string{TagEvening}); ok {
		t.Error("disjoint slot sets should report no shared end")
	}
}

func TestLatestSharedEnd_UnknownTagIgnored(t *testing.T) {
	end, ok := LatestSharedEnd(at(9, 0),
		[]string{"slot_bogus", TagMidday},
		[]string{"slot_bogus", TagMidday})
	if !ok {
		t.Fatal("expected midday to be shared")
	}
	if end.Hour() != 15 {
		t.Errorf("shared end = %v, want 15:00", end)
	}
}

func TestTimer_StopWithoutStart(t *testing.T) {
	tm := NewTimer()
	tm.Stop() // must not panic
	if tm.Running() {
		t.Error("stopped timer should not be running")
	}
}

func TestTimer_ExpiresImmediatelyOutsideWindow(t *testing.T) {
	tm := NewTimer()
	tm.Now = func() time.Time { return at(5, 30) } // no active window

	done := make(chan struct{})
	tm.Start(t.Context(), func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timer should fire immediately when no window is active")
	}
	if tm.Running() {
		t.Error("expired timer should not be running")
	}
}

func TestTimer_StopPreventsCallback(t *testing.T) {
	tm := NewTimer()
	tm.Now = func() time.Time { return at(9, 0) } // mid-morning, long remaining

	fired := make(chan struct{}, 1)
	tm.Start(t.Context(), func() { fired <- struct{}{} })
	tm.Stop()

	select {
	case <-fired:
		t.Fatal("stopped timer must not fire")
	case <-time.After(100 * time.Millisecond):
	}
}
