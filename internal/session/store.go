// Package session persists finalized study sessions in PostgreSQL. A
// session row is created when a room reaches dual verification and is
// finalized (ended_at set) when the active slot window lapses or either
// participant leaves.
package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Session is one finalized, time-bounded study meeting.
type Session struct {
	ID      string
	RoomID  string
	EndedAt *time.Time // nil while the session is active
}

// Active reports whether the session has not ended yet.
func (s *Session) Active() bool {
	return s.EndedAt == nil
}

// Store manages session rows in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a session store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Ensure inserts the session row if it does not exist. Dual-verify
// promotion runs on both clients, so the insert is expected to race with
// itself; ON CONFLICT DO NOTHING makes the duplicate apply harmless.
func (s *Store) Ensure(ctx context.Context, sessID, roomID string) error {
	const query = `
		INSERT INTO sessions (sessid, room_id)
		VALUES ($1, $2)
		ON CONFLICT (sessid) DO NOTHING`

	if _, err := s.db.ExecContext(ctx, query, sessID, roomID); err != nil {
		return fmt.Errorf("session: ensure %s: %w", sessID, err)
	}
	return nil
}

// Finalize sets ended_at once. A session that is already finalized keeps
// its original end time; the redundant call reports false with no error.
func (s *Store) Finalize(ctx context.Context, sessID string) (bool, error) {
	const query = `
		UPDATE sessions SET ended_at = NOW()
		WHERE sessid = $1 AND ended_at IS NULL`

	res, err := s.db.ExecContext(ctx, query, sessID)
	if err != nil {
		return false, fmt.Errorf("session: finalize %s: %w", sessID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("session: finalize %s: %w", sessID, err)
	}
	return n == 1, nil
}

// Get retrieves a session. Returns nil if not found.
func (s *Store) Get(ctx context.Context, sessID string) (*Session, error) {
	const query = `SELECT sessid, room_id, ended_at FROM sessions WHERE sessid = $1`

	var (
		sess    Session
		endedAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, query, sessID).Scan(&sess.ID, &sess.RoomID, &endedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: get %s: %w", sessID, err)
	}
	if endedAt.Valid {
		sess.EndedAt = &endedAt.Time
	}
	return &sess, nil
}

// CountActive returns the number of sessions without an end time, for the
// daemon's gauge refresh.
func (s *Store) CountActive(ctx context.Context) (int, error) {
	const query = `SELECT COUNT(*) FROM sessions WHERE ended_at IS NULL`

	var n int
	if err := s.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("session: count active: %w", err)
	}
	return n, nil
}
