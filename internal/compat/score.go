// Package compat computes the compatibility score between two users'
// matching attributes. Scoring is pure and deterministic; the same pair of
// attribute sets always produces the same score, in either argument order.
package compat

import "github.com/studybuddy/match-app/internal/profile"

const (
	// ScoreNever is the sentinel for pairs that must never match.
	ScoreNever = -1

	// EligibleThreshold is the minimum score for a pairing. Both hard
	// criteria (same gender, overlapping timeslot) are worth 100 each, so
	// neither can be compensated for by the +1 tie-breakers.
	EligibleThreshold = 200

	genderWeight = 100
	slotWeight   = 100 // flat bonus for any non-empty slot intersection

	// maxHoursGap is the largest weekly study-hours difference that still
	// earns the tie-breaker point.
	maxHoursGap = 2
)

// Score computes the compatibility score between two profiles.
//
//	+100 same gender tag
//	+100 non-empty intersection of availability slots (flat, not per slot)
//	+1 per common module code
//	+1 identical degree program
//	+1 weekly study hours within 2 of each other
//
// Returns ScoreNever if either profile is missing or both belong to the
// same user.
func Score(me, other *profile.Attributes) int {
	if me == nil || other == nil {
		return ScoreNever
	}
	if me.UserID != "" && me.UserID == other.UserID {
		return ScoreNever
	}

	score := 0

	if me.Gender != "" && me.Gender == other.Gender {
		score += genderWeight
	}

	if overlaps(me.Timeslots, other.Timeslots) {
		score += slotWeight
	}

	score += common(me.Modules, other.Modules)

	if me.Degree != "" && me.Degree == other.Degree {
		score++
	}

	gap := me.StudyHours - other.StudyHours
	if gap < 0 {
		gap = -gap
	}
	if gap <= maxHoursGap {
		score++
	}

	return score
}

// Eligible reports whether a score clears the pairing threshold.
func Eligible(score int) bool {
	return score >= EligibleThreshold
}

func overlaps(a, b []string) bool {
	set := make(map[string]bool, len(a))
	for _, tag := range a {
		set[tag] = true
	}
	for _, tag := range b {
		if set[tag] {
			return true
		}
	}
	return false
}

func common(a, b []string) int {
	set := make(map[string]bool, len(a))
	for _, tag := range a {
		set[tag] = true
	}
	n := 0
	for _, tag := range b {
		if set[tag] {
			n++
			set[tag] = false // each module counted once
		}
	}
	return n
}
