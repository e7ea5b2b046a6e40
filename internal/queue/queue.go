// Package queue owns the pool of users currently seeking a study partner.
// Each user has at most one entry, stored as a Redis hash with an idle
// membership set for candidate listing. All writes are idempotent upserts
// or deletes, safe to retry and to duplicate.
package queue

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyEntryPrefix = "mq:entry:" // + <user_id> -> Hash {status, room_id, updated_at}
	keyIdleSet     = "mq:idle"   // Set of idle user IDs

	// entryTTL auto-expires abandoned entries; live clients refresh it on
	// every enqueue and status reset.
	entryTTL = 5 * time.Minute

	// Status values for a queue entry.
	StatusIdle    = "idle"
	StatusWaiting = "waiting"
	StatusMatched = "matched"
)

// Entry is one user's state in the matching queue.
type Entry struct {
	UserID    string
	Status    string
	RoomID    string
	UpdatedAt int64 // unix timestamp
}

// Manager manages the Redis data structures for the matching queue.
type Manager struct {
	rdb *redis.Client
}

// NewManager creates a queue manager backed by Redis.
func NewManager(rdb *redis.Client) *Manager {
	return &Manager{rdb: rdb}
}

// Enqueue upserts the user's entry with idle status and no room reference.
// Re-entering the queue overwrites any previous entry.
func (m *Manager) Enqueue(ctx context.Context, userID string) error {
	key := keyEntryPrefix + userID

	pipe := m.rdb.Pipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"status":     StatusIdle,
		"room_id":    "",
		"updated_at": time.Now().Unix(),
	})
	pipe.Expire(ctx, key, entryTTL)
	pipe.SAdd(ctx, keyIdleSet, userID)
	_, err := pipe.Exec(ctx)
	return err
}

// Leave deletes the user's entry. A missing entry is not an error.
func (m *Manager) Leave(ctx context.Context, userID string) error {
	return m.RemoveFromQueue(ctx, userID)
}

// ListIdleOthers returns all idle user IDs other than the caller.
func (m *Manager) ListIdleOthers(ctx context.Context, userID string) ([]string, error) {
	members, err := m.rdb.SMembers(ctx, keyIdleSet).Result()
	if err != nil {
		return nil, err
	}

	others := members[:0]
	for _, id := range members {
		if id != userID {
			others = append(others, id)
		}
	}
	return others, nil
}

// RemoveFromQueue removes all given users in one pipeline, so neither party
// of a freshly formed room stays discoverable.
func (m *Manager) RemoveFromQueue(ctx context.Context, userIDs ...string) error {
	if len(userIDs) == 0 {
		return nil
	}

	pipe := m.rdb.Pipeline()
	for _, id := range userIDs {
		pipe.Del(ctx, keyEntryPrefix+id)
		pipe.SRem(ctx, keyIdleSet, id)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// MarkMatched records the room a user was claimed into and removes them
// from the idle set.
func (m *Manager) MarkMatched(ctx context.Context, userID, roomID string) error {
	key := keyEntryPrefix + userID

	pipe := m.rdb.Pipeline()
	pipe.HSet(ctx, key, "status", StatusMatched, "room_id", roomID, "updated_at", time.Now().Unix())
	pipe.Expire(ctx, key, entryTTL)
	pipe.SRem(ctx, keyIdleSet, userID)
	_, err := pipe.Exec(ctx)
	return err
}

// ResetIdle returns a user to idle status, clearing any stale room
// reference. Used when a search times out or a room is declined, so the
// user stays discoverable without showing a dead "matched" state.
func (m *Manager) ResetIdle(ctx context.Context, userID string) error {
	key := keyEntryPrefix + userID

	pipe := m.rdb.Pipeline()
	pipe.HSet(ctx, key, "status", StatusIdle, "room_id", "", "updated_at", time.Now().Unix())
	pipe.Expire(ctx, key, entryTTL)
	pipe.SAdd(ctx, keyIdleSet, userID)
	_, err := pipe.Exec(ctx)
	return err
}

// PruneStale removes idle-set members whose entry hash has expired, so
// abandoned users stop counting toward the queue size and stop costing the
// search loop a lookup each pass. Returns how many members were pruned.
func (m *Manager) PruneStale(ctx context.Context) (int, error) {
	members, err := m.rdb.SMembers(ctx, keyIdleSet).Result()
	if err != nil {
		return 0, err
	}
	if len(members) == 0 {
		return 0, nil
	}

	pipe := m.rdb.Pipeline()
	checks := make([]*redis.IntCmd, len(members))
	for i, id := range members {
		checks[i] = pipe.Exists(ctx, keyEntryPrefix+id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}

	var stale []interface{}
	for i, check := range checks {
		if check.Val() == 0 {
			stale = append(stale, members[i])
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}
	if err := m.rdb.SRem(ctx, keyIdleSet, stale...).Err(); err != nil {
		return 0, err
	}
	return len(stale), nil
}

// Entry retrieves a user's queue entry. Returns nil if not found.
func (m *Manager) Entry(ctx context.Context, userID string) (*Entry, error) {
	result, err := m.rdb.HGetAll(ctx, keyEntryPrefix+userID).Result()
	if err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return nil, nil
	}

	updatedAt, _ := strconv.ParseInt(result["updated_at"], 10, 64)
	return &Entry{
		UserID:    userID,
		Status:    result["status"],
		RoomID:    result["room_id"],
		UpdatedAt: updatedAt,
	}, nil
}

// Size returns the number of idle users in the queue.
func (m *Manager) Size(ctx context.Context) (int64, error) {
	return m.rdb.SCard(ctx, keyIdleSet).Result()
}
