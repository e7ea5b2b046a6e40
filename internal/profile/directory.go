// Package profile is the read-side of the profile directory: matching
// attributes for a user, backed by PostgreSQL. Module lists and timeslot
// availability are persisted as comma-joined tag strings and parsed into
// de-duplicated slices before use.
package profile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// Attributes are the matching-relevant fields of a user's profile.
type Attributes struct {
	UserID     string
	Gender     string
	Degree     string
	Modules    []string
	StudyHours int
	Timeslots  []string
}

// HasSlot reports whether the user marked the given timeslot tag available.
func (a *Attributes) HasSlot(tag string) bool {
	for _, s := range a.Timeslots {
		if s == tag {
			return true
		}
	}
	return false
}

// Directory reads user attributes from PostgreSQL.
type Directory struct {
	db *sql.DB
}

// NewDirectory creates a profile directory backed by the given database handle.
func NewDirectory(db *sql.DB) *Directory {
	return &Directory{db: db}
}

// Get returns a user's matching attributes. A missing profile returns
// (nil, nil): the caller treats that as "cannot match", not as a store error.
func (d *Directory) Get(ctx context.Context, userID string) (*Attributes, error) {
	const query = `
		SELECT gender, degree, modules, COALESCE(study_hours, 0), timeslot_avail
		FROM profiles
		WHERE user_id = $1`

	var (
		gender, degree, modules, timeslots string
		studyHours                         int
	)
	err := d.db.QueryRowContext(ctx, query, userID).Scan(
		&gender, &degree, &modules, &studyHours, &timeslots,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("profile: get %s: %w", userID, err)
	}

	return &Attributes{
		UserID:     userID,
		Gender:     gender,
		Degree:     degree,
		Modules:    ParseTags(modules),
		StudyHours: studyHours,
		Timeslots:  ParseTags(timeslots),
	}, nil
}

// UpdateTimeslots persists the user's availability tags as a comma-joined
// string, collapsing duplicates.
func (d *Directory) UpdateTimeslots(ctx context.Context, userID string, slots []string) error {
	const query = `
		UPDATE profiles SET timeslot_avail = $2, updated_at = NOW()
		WHERE user_id = $1`

	_, err := d.db.ExecContext(ctx, query, userID, JoinTags(slots))
	if err != nil {
		return fmt.Errorf("profile: update timeslots for %s: %w", userID, err)
	}
	return nil
}

// SaveAcademic updates the academic-info bundle written by profile setup.
func (d *Directory) SaveAcademic(ctx context.Context, userID, gender, degree string, modules []string, studyHours int) error {
	const query = `
		INSERT INTO profiles (user_id, gender, degree, modules, study_hours, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			gender = EXCLUDED.gender,
			degree = EXCLUDED.degree,
			modules = EXCLUDED.modules,
			study_hours = EXCLUDED.study_hours,
			updated_at = NOW()`

	_, err := d.db.ExecContext(ctx, query, userID, gender, degree, JoinTags(modules), studyHours)
	if err != nil {
		return fmt.Errorf("profile: save academic for %s: %w", userID, err)
	}
	return nil
}

// ParseTags splits a comma-joined tag string into a slice, trimming
// whitespace and collapsing duplicates. Ordering of the input is irrelevant;
// the output preserves first-seen order.
func ParseTags(joined string) []string {
	if strings.TrimSpace(joined) == "" {
		return nil
	}

	seen := make(map[string]bool)
	var tags []string
	for _, part := range strings.Split(joined, ",") {
		tag := strings.TrimSpace(part)
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		tags = append(tags, tag)
	}
	return tags
}

// JoinTags is the inverse of ParseTags, producing the persisted form.
func JoinTags(tags []string) string {
	return strings.Join(ParseTags(strings.Join(tags, ",")), ",")
}
