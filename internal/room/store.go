// Package room owns the shared pairing record created when a match is
// claimed. Rooms live in Redis:
//
//	Key: room:<id>         -> Hash (users, timestamps, verify state)
//	Key: room:byuser:<uid> -> ZSet of room IDs, score = created_at
//	Key: room:byexpiry     -> ZSet of room IDs, score = expires_at
//	Key: room:claim:<uid>  -> room ID currently claiming this user
//
// The per-user claim keys are the race guard: creating a room claims both
// participants atomically, so neither a simultaneous claim of the same
// pair nor two clients grabbing the same third party can double-book
// anyone. A same-pair loser reads back the winner's room; a claim held by
// some other pairing rejects the attempt with ErrClaimed. Verification
// flags are promote-only and session promotion is first-writer-wins, both
// enforced atomically in Lua.
package room

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/studybuddy/match-app/internal/slot"
)

const (
	keyRoomPrefix   = "room:"
	keyByUserPrefix = "room:byuser:"
	keyByExpiry     = "room:byexpiry"
	keyClaimPrefix  = "room:claim:"

	// fallbackHorizon bounds a room's life when the pair shares no slot
	// data to derive an expiry from.
	fallbackHorizon = 2 * time.Hour
)

// ErrNotFound is returned when a room no longer exists (declined, expired,
// or superseded).
var ErrNotFound = errors.New("room: not found")

// ErrClaimed is returned when a participant is already claimed by a room
// for a different pairing. Not an error condition for the search loop: the
// caller skips the candidate and the next poll re-reads the store.
var ErrClaimed = errors.New("room: participant already claimed")

// Room is the shared record for one claimed pairing.
type Room struct {
	ID         string
	User1      string
	User2      string
	CreatedAt  int64 // unix timestamp
	ExpiresAt  int64 // unix timestamp
	VerifyCode string
	VerifiedA  bool
	VerifiedB  bool
	SessionID  string // empty until both sides verify
}

// Partner returns the other participant's ID, or "" for a non-participant.
func (r *Room) Partner(userID string) string {
	switch userID {
	case r.User1:
		return r.User2
	case r.User2:
		return r.User1
	}
	return ""
}

// SideOf returns "a" for user1, "b" for user2, "" otherwise.
func (r *Room) SideOf(userID string) string {
	switch userID {
	case r.User1:
		return "a"
	case r.User2:
		return "b"
	}
	return ""
}

// Expired reports whether the room's expiry has passed at t.
func (r *Room) Expired(t time.Time) bool {
	return t.Unix() >= r.ExpiresAt
}

// Store manages room records in Redis.
type Store struct {
	rdb        *redis.Client
	verifyLua  *redis.Script
	claimLua   *redis.Script
	releaseLua *redis.Script
	now        func() time.Time
	newCode    func() string
	newRoomID  func() string
	newSessID  func() string
}

// NewStore creates a room store backed by Redis.
func NewStore(rdb *redis.Client) *Store {
	return &Store{
		rdb:        rdb,
		verifyLua:  redis.NewScript(setVerifiedLua),
		claimLua:   redis.NewScript(claimUsersLua),
		releaseLua: redis.NewScript(releaseClaimsLua),
		now:        time.Now,
		newCode:    NewVerifyCode,
		newRoomID:  func() string { return uuid.New().String() },
		newSessID:  func() string { return uuid.New().String() },
	}
}

// claimKey is the per-user claim guarding against double-booking.
func claimKey(userID string) string {
	return keyClaimPrefix + userID
}

// Create claims both users for the (a, b) pairing and creates its room.
// expires_at is the end of the latest slot window both users hold, falling
// back to a fixed horizon when they share no slot data.
//
// The claim script SETNXes both users' claim keys in one atomic step,
// rolling back on partial failure. If a claim is already held, the winning
// room is read back: a room naming this same pair is returned with
// created=false (the caller adopts it and discards its own attempt); a
// room for any other pairing rejects the attempt with ErrClaimed, so no
// user can sit in two open rooms at once.
func (s *Store) Create(ctx context.Context, a, b string, slotsA, slotsB []string) (*Room, bool, error) {
	now := s.now()

	expiresAt := now.Add(fallbackHorizon)
	if end, ok := slot.LatestSharedEnd(now, slotsA, slotsB); ok {
		expiresAt = end
	}

	id := s.newRoomID()
	ttl := time.Until(expiresAt).Milliseconds()
	if ttl < 1 {
		ttl = 1
	}

	winner, err := s.claimLua.Run(ctx, s.rdb,
		[]string{claimKey(a), claimKey(b)}, id, ttl).Text()
	if err != nil {
		return nil, false, fmt.Errorf("room: claim users: %w", err)
	}
	if winner != "" {
		existing, err := s.Get(ctx, winner)
		if err != nil {
			// Winner claimed but has not finished writing the hash yet;
			// the caller's next poll cycle will find it.
			return nil, false, fmt.Errorf("room: users claimed, row not readable yet: %w", err)
		}
		if existing.Partner(a) != b {
			return nil, false, fmt.Errorf("room: %s or %s held by room %s: %w", a, b, winner, ErrClaimed)
		}
		return existing, false, nil
	}

	room := &Room{
		ID:         id,
		User1:      a,
		User2:      b,
		CreatedAt:  now.Unix(),
		ExpiresAt:  expiresAt.Unix(),
		VerifyCode: s.newCode(),
	}

	key := keyRoomPrefix + id
	pipe := s.rdb.Pipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"user1":       room.User1,
		"user2":       room.User2,
		"created_at":  room.CreatedAt,
		"expires_at":  room.ExpiresAt,
		"verify_code": room.VerifyCode,
		"verified_a":  "false",
		"verified_b":  "false",
		"session_id":  "",
	})
	pipe.ZAdd(ctx, keyByUserPrefix+a, redis.Z{Score: float64(room.CreatedAt), Member: id})
	pipe.ZAdd(ctx, keyByUserPrefix+b, redis.Z{Score: float64(room.CreatedAt), Member: id})
	pipe.ZAdd(ctx, keyByExpiry, redis.Z{Score: float64(room.ExpiresAt), Member: id})
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, false, fmt.Errorf("room: write %s: %w", id, err)
	}

	return room, true, nil
}

// Get retrieves a room by ID. Returns ErrNotFound if it no longer exists.
func (s *Store) Get(ctx context.Context, roomID string) (*Room, error) {
	result, err := s.rdb.HGetAll(ctx, keyRoomPrefix+roomID).Result()
	if err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return nil, ErrNotFound
	}

	createdAt, _ := strconv.ParseInt(result["created_at"], 10, 64)
	expiresAt, _ := strconv.ParseInt(result["expires_at"], 10, 64)

	return &Room{
		ID:         roomID,
		User1:      result["user1"],
		User2:      result["user2"],
		CreatedAt:  createdAt,
		ExpiresAt:  expiresAt,
		VerifyCode: result["verify_code"],
		VerifiedA:  result["verified_a"] == "true",
		VerifiedB:  result["verified_b"] == "true",
		SessionID:  result["session_id"],
	}, nil
}

// Delete removes a room and all of its index entries. Deleting an already
// deleted room is a no-op.
func (s *Store) Delete(ctx context.Context, roomID string) error {
	room, err := s.Get(ctx, roomID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	pipe := s.rdb.Pipeline()
	pipe.Del(ctx, keyRoomPrefix+roomID)
	pipe.ZRem(ctx, keyByUserPrefix+room.User1, roomID)
	pipe.ZRem(ctx, keyByUserPrefix+room.User2, roomID)
	pipe.ZRem(ctx, keyByExpiry, roomID)
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}

	// Release the participants' claims only if this room still holds them;
	// an unconditional delete could free a claim a newer room already took.
	return s.releaseLua.Run(ctx, s.rdb,
		[]string{claimKey(room.User1), claimKey(room.User2)}, roomID).Err()
}

// FindOpenRoomForUser returns the most recently created room naming this
// user that has no session yet and has not expired. Returns nil if none.
func (s *Store) FindOpenRoomForUser(ctx context.Context, userID string) (*Room, error) {
	return s.findNewest(ctx, userID, func(r *Room) bool {
		return r.SessionID == "" && !r.Expired(s.now())
	})
}

// FindActiveSessionForUser returns the most recent room naming this user
// that already has a session assigned. Returns nil if none.
func (s *Store) FindActiveSessionForUser(ctx context.Context, userID string) (*Room, error) {
	return s.findNewest(ctx, userID, func(r *Room) bool {
		return r.SessionID != ""
	})
}

func (s *Store) findNewest(ctx context.Context, userID string, match func(*Room) bool) (*Room, error) {
	ids, err := s.rdb.ZRevRange(ctx, keyByUserPrefix+userID, 0, -1).Result()
	if err != nil {
		return nil, err
	}

	for _, id := range ids {
		room, err := s.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			// Stale index entry; drop it and keep scanning.
			s.rdb.ZRem(ctx, keyByUserPrefix+userID, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		if match(room) {
			return room, nil
		}
	}
	return nil, nil
}

// PurgeExpiredForUser deletes the caller's rooms whose expiry has passed,
// so a ghost room does not suppress a fresh matching attempt. Rooms that
// already hold a session are left for the session sweeper.
func (s *Store) PurgeExpiredForUser(ctx context.Context, userID string) error {
	ids, err := s.rdb.ZRange(ctx, keyByUserPrefix+userID, 0, -1).Result()
	if err != nil {
		return err
	}

	for _, id := range ids {
		room, err := s.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			s.rdb.ZRem(ctx, keyByUserPrefix+userID, id)
			continue
		}
		if err != nil {
			return err
		}
		if room.SessionID == "" && room.Expired(s.now()) {
			if err := s.Delete(ctx, id); err != nil {
				return err
			}
		}
	}
	return nil
}

// ExpiredRooms returns IDs of all rooms whose expiry passed, for the
// daemon's global sweep.
func (s *Store) ExpiredRooms(ctx context.Context) ([]string, error) {
	max := strconv.FormatInt(s.now().Unix(), 10)
	return s.rdb.ZRangeByScore(ctx, keyByExpiry, &redis.ZRangeBy{
		Min: "0",
		Max: max,
	}).Result()
}

// CountRooms returns the number of rooms currently tracked, verified or not.
func (s *Store) CountRooms(ctx context.Context) (int64, error) {
	return s.rdb.ZCard(ctx, keyByExpiry).Result()
}

// VerifyState is the room's verification state after a SetVerified write.
type VerifyState struct {
	VerifiedA bool
	VerifiedB bool
	SessionID string
}

// BothVerified reports whether both sides have confirmed.
func (v VerifyState) BothVerified() bool {
	return v.VerifiedA && v.VerifiedB
}

// SetVerified promotes one side's verified flag to true. The write is
// monotonic: the script only ever writes "true", so a redundant or
// out-of-order apply is harmless. When the write completes the dual-verify
// condition, the script assigns the candidate session ID in the same atomic
// step; if another writer promoted first, their session ID is kept and
// returned (first writer wins).
func (s *Store) SetVerified(ctx context.Context, roomID, side string) (*VerifyState, error) {
	if side != "a" && side != "b" {
		return nil, fmt.Errorf("room: invalid side %q", side)
	}

	key := keyRoomPrefix + roomID
	candidate := s.newSessID()

	vals, err := s.verifyLua.Run(ctx, s.rdb, []string{key}, side, candidate).Slice()
	if err != nil {
		return nil, fmt.Errorf("room: set verified: %w", err)
	}
	if len(vals) == 1 {
		return nil, ErrNotFound
	}
	if len(vals) != 4 {
		return nil, fmt.Errorf("room: unexpected verify reply %v", vals)
	}

	state := &VerifyState{
		VerifiedA: vals[1] == "true",
		VerifiedB: vals[2] == "true",
	}
	if sess, ok := vals[3].(string); ok {
		state.SessionID = sess
	}
	return state, nil
}

// setVerifiedLua flips one verified flag false->true and, if both flags are
// now true and no session exists, assigns the candidate session ID. Returns
// {-1} when the room is gone, else {1, verified_a, verified_b, session_id}.
const setVerifiedLua = `
local key = KEYS[1]
local side = ARGV[1]
local candidate = ARGV[2]

if redis.call('EXISTS', key) == 0 then return {-1} end

redis.call('HSET', key, 'verified_' .. side, 'true')

local va = redis.call('HGET', key, 'verified_a')
local vb = redis.call('HGET', key, 'verified_b')
local sess = redis.call('HGET', key, 'session_id')

if va == 'true' and vb == 'true' and (not sess or sess == '') then
    redis.call('HSET', key, 'session_id', candidate)
    sess = candidate
end

return {1, va, vb, sess or ''}
`

// claimUsersLua claims both participants for a new room, or neither. The
// claims carry the room's TTL so an abandoned room frees its users by
// expiry at the latest. Returns '' on success, else the room ID already
// holding whichever claim blocked the attempt.
const claimUsersLua = `
local id = ARGV[1]
local ttl = ARGV[2]

if not redis.call('SET', KEYS[1], id, 'NX', 'PX', ttl) then
    return redis.call('GET', KEYS[1])
end
if not redis.call('SET', KEYS[2], id, 'NX', 'PX', ttl) then
    redis.call('DEL', KEYS[1])
    return redis.call('GET', KEYS[2])
end

return ''
`

// releaseClaimsLua deletes each claim key only if it still points at the
// room being torn down.
const releaseClaimsLua = `
for i, key in ipairs(KEYS) do
    if redis.call('GET', key) == ARGV[1] then
        redis.call('DEL', key)
    end
end
return 1
`
