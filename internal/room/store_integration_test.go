//go:build integration

// Integration tests require a local Redis:
//
//	go test -tags=integration ./internal/room/
package room

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/studybuddy/match-app/internal/slot"
)

func newTestStore(t *testing.T) (*Store, context.Context) {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	t.Cleanup(func() { rdb.Close() })
	return NewStore(rdb), ctx
}

func TestCreate_PairRaceProducesOneRoom(t *testing.T) {
	s, ctx := newTestStore(t)
	a, b := uuid.New().String(), uuid.New().String()
	slots := []string{slot.TagMorning}

	// Both sides attempt to claim the same pair concurrently, in both
	// argument orders; exactly one insert must win.
	var wg sync.WaitGroup
	results := make([]*Room, 2)
	created := make([]bool, 2)
	attempts := [][2]string{{a, b}, {b, a}}

	for i := range attempts {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for {
				r, won, err := s.Create(ctx, attempts[i][0], attempts[i][1], slots, slots)
				if err != nil {
					// Claimed but not readable yet; retry like the poll loop.
					time.Sleep(10 * time.Millisecond)
					continue
				}
				results[i], created[i] = r, won
				return
			}
		}(i)
	}
	wg.Wait()
	t.Cleanup(func() { s.Delete(ctx, results[0].ID) })

	if results[0].ID != results[1].ID {
		t.Fatalf("race produced two rooms: %s and %s", results[0].ID, results[1].ID)
	}
	if created[0] == created[1] {
		t.Errorf("exactly one attempt should report created, got %v", created)
	}
}

func TestCreate_ThirdPartySingleBooking(t *testing.T) {
	s, ctx := newTestStore(t)
	b, c, x := uuid.New().String(), uuid.New().String(), uuid.New().String()

	// B claims (B, X); C's attempt on (C, X) must lose X's claim, not
	// produce a second open room for X.
	first, created, err := s.Create(ctx, b, x, nil, nil)
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	if !created {
		t.Fatal("first create should win")
	}
	t.Cleanup(func() { s.Delete(ctx, first.ID) })

	if _, _, err := s.Create(ctx, c, x, nil, nil); !errors.Is(err, ErrClaimed) {
		t.Fatalf("second create with claimed third party = %v, want ErrClaimed", err)
	}

	open, err := s.FindOpenRoomForUser(ctx, x)
	if err != nil {
		t.Fatalf("find open for %s: %v", x, err)
	}
	if open == nil || open.ID != first.ID {
		t.Fatalf("open room for %s = %+v, want only %s", x, open, first.ID)
	}

	// Deleting the first room releases the claims; the rejected pairing
	// can now form.
	if err := s.Delete(ctx, first.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	second, created, err := s.Create(ctx, c, x, nil, nil)
	if err != nil {
		t.Fatalf("create after release: %v", err)
	}
	if !created {
		t.Error("claim should be free after the blocking room is deleted")
	}
	t.Cleanup(func() { s.Delete(ctx, second.ID) })
}

func TestCreate_LoserAdoptsWinnerVerifyCode(t *testing.T) {
	s, ctx := newTestStore(t)
	a, b := uuid.New().String(), uuid.New().String()

	first, _, err := s.Create(ctx, a, b, nil, nil)
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	t.Cleanup(func() { s.Delete(ctx, first.ID) })

	second, won, err := s.Create(ctx, b, a, nil, nil)
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if won {
		t.Error("second create should lose the pair claim")
	}
	if second.VerifyCode != first.VerifyCode {
		t.Errorf("loser read different code %q vs %q", second.VerifyCode, first.VerifyCode)
	}
}

func TestSetVerified_MonotonicAndExactlyOneSession(t *testing.T) {
	s, ctx := newTestStore(t)
	a, b := uuid.New().String(), uuid.New().String()

	r, _, err := s.Create(ctx, a, b, nil, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	t.Cleanup(func() { s.Delete(ctx, r.ID) })

	// First side verifies.
	state, err := s.SetVerified(ctx, r.ID, "a")
	if err != nil {
		t.Fatalf("verify a: %v", err)
	}
	if !state.VerifiedA || state.VerifiedB || state.SessionID != "" {
		t.Fatalf("after a: %+v, want a only, no session", state)
	}

	// Redundant apply never demotes.
	state, err = s.SetVerified(ctx, r.ID, "a")
	if err != nil {
		t.Fatalf("verify a again: %v", err)
	}
	if !state.VerifiedA {
		t.Fatal("redundant verify reset the flag")
	}

	// Both sides promote concurrently; exactly one session ID must result.
	var wg sync.WaitGroup
	sessions := make([]string, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			side := "a"
			if i%2 == 1 {
				side = "b"
			}
			st, err := s.SetVerified(ctx, r.ID, side)
			if err == nil {
				sessions[i] = st.SessionID
			}
		}(i)
	}
	wg.Wait()

	final, err := s.Get(ctx, r.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !final.VerifiedA || !final.VerifiedB {
		t.Errorf("both flags should be true: %+v", final)
	}
	if final.SessionID == "" {
		t.Fatal("session should be assigned")
	}
	for i, sess := range sessions {
		if sess != "" && sess != final.SessionID {
			t.Errorf("writer %d observed session %s, want %s", i, sess, final.SessionID)
		}
	}
}

func TestFindOpenRoomForUser(t *testing.T) {
	s, ctx := newTestStore(t)
	a, b := uuid.New().String(), uuid.New().String()

	r, _, err := s.Create(ctx, a, b, []string{slot.TagEvening}, []string{slot.TagEvening})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	t.Cleanup(func() { s.Delete(ctx, r.ID) })

	for _, uid := range []string{a, b} {
		found, err := s.FindOpenRoomForUser(ctx, uid)
		if err != nil {
			t.Fatalf("find for %s: %v", uid, err)
		}
		if found == nil || found.ID != r.ID {
			t.Errorf("find for %s = %+v, want room %s", uid, found, r.ID)
		}
	}

	// Once a session exists, the room is no longer "open".
	s.SetVerified(ctx, r.ID, "a")
	s.SetVerified(ctx, r.ID, "b")
	found, err := s.FindOpenRoomForUser(ctx, a)
	if err != nil {
		t.Fatalf("find after promote: %v", err)
	}
	if found != nil {
		t.Errorf("promoted room should not be open, got %+v", found)
	}

	active, err := s.FindActiveSessionForUser(ctx, a)
	if err != nil {
		t.Fatalf("find active: %v", err)
	}
	if active == nil || active.ID != r.ID || active.SessionID == "" {
		t.Errorf("active = %+v, want promoted room", active)
	}
}

func TestPurgeExpiredForUser(t *testing.T) {
	s, ctx := newTestStore(t)
	s.now = func() time.Time { return time.Now() }
	a, b := uuid.New().String(), uuid.New().String()

	r, _, err := s.Create(ctx, a, b, nil, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	t.Cleanup(func() { s.Delete(ctx, r.ID) })

	// Not expired yet: purge keeps it.
	if err := s.PurgeExpiredForUser(ctx, a); err != nil {
		t.Fatalf("purge: %v", err)
	}
	if _, err := s.Get(ctx, r.ID); err != nil {
		t.Fatalf("live room should survive purge: %v", err)
	}

	// Move the clock past the fallback horizon: purge removes it.
	s.now = func() time.Time { return time.Now().Add(fallbackHorizon + time.Minute) }
	if err := s.PurgeExpiredForUser(ctx, a); err != nil {
		t.Fatalf("purge after expiry: %v", err)
	}
	if _, err := s.Get(ctx, r.ID); err != ErrNotFound {
		t.Errorf("expired room should be gone, got %v", err)
	}
}
