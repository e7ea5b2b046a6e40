// Package slot models the fixed wall-clock study windows used both for
// availability matching and for session expiry. The evening window spans
// midnight, so window checks consider both "anchored today" and "anchored
// yesterday, still running".
package slot

import "time"

// Availability tag values as persisted in profile timeslot_avail.
const (
	TagMorning   = "slot_morning"
	TagMidday    = "slot_midday"
	TagAfternoon = "slot_afternoon"
	TagEvening   = "slot_evening"
)

// Window is one fixed time-of-day study window. Start and End are offsets
// from local midnight; End may exceed 24h for overnight windows.
type Window struct {
	Tag   string
	Start time.Duration
	End   time.Duration
}

// Overnight reports whether the window runs past midnight.
func (w Window) Overnight() bool {
	return w.End > 24*time.Hour
}

// Windows is the fixed slot table, in day order.
var Windows = []Window{
	{Tag: TagMorning, Start: 8*time.Hour + 30*time.Minute, End: 11*time.Hour + 30*time.Minute},
	{Tag: TagMidday, Start: 12 * time.Hour, End: 15 * time.Hour},
	{Tag: TagAfternoon, Start: 15*time.Hour + 30*time.Minute, End: 18*time.Hour + 30*time.Minute},
	{Tag: TagEvening, Start: 19 * time.Hour, End: 28*time.Hour + 48*time.Minute}, // ends 04:48 next day
}

// ByTag returns the window for an availability tag.
func ByTag(tag string) (Window, bool) {
	for _, w := range Windows {
		if w.Tag == tag {
			return w, true
		}
	}
	return Window{}, false
}

// boundsAt anchors a window to the calendar day of t, returning its
// absolute start and end instants.
func (w Window) boundsAt(t time.Time) (time.Time, time.Time) {
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	return midnight.Add(w.Start), midnight.Add(w.End)
}

// containsAt reports whether t falls inside the window anchored either to
// t's own day or, for overnight windows, to the previous day.
func (w Window) containsAt(t time.Time) (time.Time, bool) {
	start, end := w.boundsAt(t)
	if !t.Before(start) && t.Before(end) {
		return end, true
	}
	if w.Overnight() {
		start, end = w.boundsAt(t.AddDate(0, 0, -1))
		if !t.Before(start) && t.Before(end) {
			return end, true
		}
	}
	return time.Time{}, false
}

// ActiveSlotAt returns the window containing the given instant, if any.
func ActiveSlotAt(t time.Time) (Window, bool) {
	for _, w := range Windows {
		if _, ok := w.containsAt(t); ok {
			return w, true
		}
	}
	return Window{}, false
}

// SecondsUntilSlotEnds returns the remaining seconds of the active window
// at t, or 0 if no window is active.
func SecondsUntilSlotEnds(t time.Time) int {
	for _, w := range Windows {
		if end, ok := w.containsAt(t); ok {
			return int(end.Sub(t).Seconds())
		}
	}
	return 0
}

// EndAfter returns the end instant of the next occurrence of the window at
// or after t: the running occurrence if the window is active, otherwise
// today's occurrence if it has not started yet, otherwise tomorrow's.
func (w Window) EndAfter(t time.Time) time.Time {
	if end, ok := w.containsAt(t); ok {
		return end
	}
	start, end := w.boundsAt(t)
	if t.Before(start) {
		return end
	}
	_, end = w.boundsAt(t.AddDate(0, 0, 1))
	return end
}

// LatestSharedEnd computes the end instant of the latest-ending window both
// users hold, looking at the next occurrence of each shared slot from now.
// Returns false if the users share no slots.
func LatestSharedEnd(now time.Time, slotsA, slotsB []string) (time.Time, bool) {
	shared := make(map[string]bool, len(slotsA))
	for _, tag := range slotsA {
		shared[tag] = true
	}

	var latest time.Time
	found := false
	for _, tag := range slotsB {
		if !shared[tag] {
			continue
		}
		w, ok := ByTag(tag)
		if !ok {
			continue
		}
		if end := w.EndAfter(now); end.After(latest) {
			latest = end
			found = true
		}
	}
	return latest, found
}
