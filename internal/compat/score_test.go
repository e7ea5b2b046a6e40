package compat

import (
	"testing"

	"github.com/studybuddy/match-app/internal/profile"
)

func attrs(id, gender string, slots, modules []string, degree string, hours int) *profile.Attributes {
	return &profile.Attributes{
		UserID:     id,
		Gender:     gender,
		Timeslots:  slots,
		Modules:    modules,
		Degree:     degree,
		StudyHours: hours,
	}
}

func TestScore_SpecScenario(t *testing.T) {
	// A: F, {morning}, {IS113}; B: F, {morning, evening}, {IS113, IS216}.
	a := attrs("a", "F", []string{"slot_morning"}, []string{"IS113"}, "", 10)
	b := attrs("b", "F", []string{"slot_morning", "slot_evening"}, []string{"IS113", "IS216"}, "", 40)

	got := Score(a, b)
	// 100 gender + 100 slot + 1 shared module = 201.
	if got != 201 {
		t.Errorf("Score = %d, want 201", got)
	}
	if !Eligible(got) {
		t.Error("score 201 should be eligible")
	}
}

func TestScore_GenderMismatchNeverEligible(t *testing.T) {
	a := attrs("a", "M", []string{"slot_morning"}, []string{"IS113", "IS216", "CS205"}, "IS", 20)
	b := attrs("b", "F", []string{"slot_morning"}, []string{"IS113", "IS216", "CS205"}, "IS", 20)

	got := Score(a, b)
	if Eligible(got) {
		t.Errorf("gender mismatch must never be eligible, got %d", got)
	}
}

func TestScore_NoSlotOverlapNeverEligible(t *testing.T) {
	a := attrs("a", "F", []string{"slot_morning"}, []string{"IS113"}, "IS", 20)
	b := attrs("b", "F", []string{"slot_evening"}, []string{"IS113"}, "IS", 20)

	if got := Score(a, b); Eligible(got) {
		t.Errorf("zero slot overlap must never be eligible, got %d", got)
	}
}

func TestScore_FlatSlotBonus(t *testing.T) {
	// Two overlapping slots must not score higher than one.
	a1 := attrs("a", "F", []string{"slot_morning"}, nil, "", 0)
	b1 := attrs("b", "F", []string{"slot_morning"}, nil, "", 0)
	a2 := attrs("a", "F", []string{"slot_morning", "slot_evening"}, nil, "", 0)
	b2 := attrs("b", "F", []string{"slot_morning", "slot_evening"}, nil, "", 0)

	if Score(a1, b1) != Score(a2, b2) {
		t.Errorf("slot bonus should be flat: one overlap %d, two overlaps %d",
			Score(a1, b1), Score(a2, b2))
	}
}

func TestScore_TieBreakers(t *testing.T) {
	a := attrs("a", "F", []string{"slot_morning"}, []string{"IS113", "IS216"}, "IS", 10)
	b := attrs("b", "F", []string{"slot_morning"}, []string{"IS113", "IS216"}, "IS", 11)

	// 100 + 100 + 2 modules + 1 degree + 1 hours = 204.
	if got := Score(a, b); got != 204 {
		t.Errorf("Score = %d, want 204", got)
	}
}

func TestScore_StudyHoursGapBoundary(t *testing.T) {
	base := attrs("a", "F", nil, nil, "", 10)

	within := attrs("b", "M", nil, nil, "", 12)
	if got := Score(base, within); got != 1 {
		t.Errorf("gap of 2 should earn the point, got %d", got)
	}

	beyond := attrs("b", "M", nil, nil, "", 13)
	if got := Score(base, beyond); got != 0 {
		t.Errorf("gap of 3 should not earn the point, got %d", got)
	}
}

func TestScore_Symmetric(t *testing.T) {
	a := attrs("a", "F", []string{"slot_morning", "slot_midday"}, []string{"IS113"}, "IS", 8)
	b := attrs("b", "F", []string{"slot_midday"}, []string{"IS113", "IS112"}, "SOE", 12)

	if Score(a, b) != Score(b, a) {
		t.Errorf("score should be symmetric: %d vs %d", Score(a, b), Score(b, a))
	}
}

func TestScore_Sentinels(t *testing.T) {
	a := attrs("a", "F", nil, nil, "", 0)

	if got := Score(nil, a); got != ScoreNever {
		t.Errorf("nil profile should score %d, got %d", ScoreNever, got)
	}
	if got := Score(a, nil); got != ScoreNever {
		t.Errorf("nil profile should score %d, got %d", ScoreNever, got)
	}
	if got := Score(a, attrs("a", "F", nil, nil, "", 0)); got != ScoreNever {
		t.Errorf("same user should score %d, got %d", ScoreNever, got)
	}
}

func TestScore_DuplicateModulesCountOnce(t *testing.T) {
	a := attrs("a", "M", nil, []string{"IS113"}, "", 50)
	b := attrs("b", "F", nil, []string{"IS113", "IS113"}, "", 0)

	if got := Score(a, b); got != 1 {
		t.Errorf("duplicate module should count once, got %d", got)
	}
}
