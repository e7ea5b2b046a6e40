// Package match implements the client-side matchmaking coordinator: the
// greedy-then-poll search over the shared queue, room adoption, decline
// handling, and the per-client session lifecycle. All coordination state
// lives in the shared store; the coordinator only caches its own stage and
// owns its own timers and subscriptions.
package match

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/studybuddy/match-app/internal/chat"
	"github.com/studybuddy/match-app/internal/messaging"
	"github.com/studybuddy/match-app/internal/metrics"
	"github.com/studybuddy/match-app/internal/profile"
	"github.com/studybuddy/match-app/internal/queue"
	"github.com/studybuddy/match-app/internal/ratelimit"
	"github.com/studybuddy/match-app/internal/reject"
	"github.com/studybuddy/match-app/internal/room"
	"github.com/studybuddy/match-app/internal/session"
	"github.com/studybuddy/match-app/internal/slot"
	"github.com/studybuddy/match-app/internal/verify"
)

// Stage is the client's position in the matchmaking state machine.
type Stage string

const (
	StageLanding   Stage = "landing"
	StageSearching Stage = "searching"
	StageMatched   Stage = "matched"
	StageNotFound  Stage = "notfound"
	StageChat      Stage = "chat"
)

// Search loop defaults; both are configurable per coordinator.
const (
	DefaultSearchBudget   = 20 * time.Second
	DefaultSearchInterval = 2 * time.Second
)

var (
	// ErrNotAuthenticated means the identity oracle produced no user.
	ErrNotAuthenticated = errors.New("match: not authenticated")

	// ErrNoProfile means the user has no profile row to match on.
	ErrNoProfile = errors.New("match: profile missing")

	// ErrNoMatch is the expected terminal outcome of an exhausted search.
	ErrNoMatch = errors.New("match: no partner found within budget")

	// ErrRateLimited means the user started too many searches.
	ErrRateLimited = errors.New("match: too many search attempts, slow down")
)

// Deps bundles the shared-store collaborators a coordinator needs.
type Deps struct {
	Profiles *profile.Directory
	Queue    *queue.Manager
	Rejects  *reject.Ledger
	Rooms    *room.Store
	Sessions *session.Store
	NATS     *messaging.Client
	Limiter  *ratelimit.Limiter // optional
	Chat     *chat.Stream       // optional, wired for GoToChat/teardown
}

// Coordinator drives matchmaking for one signed-in client. Create one per
// user session and Close it when the view tears down; it must never be
// shared across users or kept as a process-wide singleton.
type Coordinator struct {
	userID string
	deps   Deps

	budget   time.Duration
	interval time.Duration

	timer    *slot.Timer
	protocol *verify.Protocol

	mu        sync.Mutex
	stage     Stage
	roomID    string
	partnerID string
	sessionID string
	notice    string // one-line user-visible notice for the landing screen
}

// NewCoordinator creates a coordinator for the given user. userID may be
// empty; operations then fail with ErrNotAuthenticated.
func NewCoordinator(userID string, deps Deps) *Coordinator {
	return &Coordinator{
		userID:   userID,
		deps:     deps,
		budget:   DefaultSearchBudget,
		interval: DefaultSearchInterval,
		timer:    slot.NewTimer(),
		protocol: verify.NewProtocol(deps.Rooms, deps.Sessions, deps.NATS, userID),
		stage:    StageLanding,
	}
}

// SetSearchBudget overrides the poll loop's wall-clock budget and interval.
func (c *Coordinator) SetSearchBudget(budget, interval time.Duration) {
	c.budget = budget
	c.interval = interval
}

// Stage returns the client's current stage.
func (c *Coordinator) Stage() Stage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stage
}

// Room returns the adopted room and partner IDs, empty when unmatched.
func (c *Coordinator) Room() (roomID, partnerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID, c.partnerID
}

// SessionID returns the finalized session ID, empty before dual verification.
func (c *Coordinator) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Notice returns and clears the pending one-line user notice.
func (c *Coordinator) Notice() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.notice
	c.notice = ""
	return n
}

// Verification returns the verification protocol bound to this client.
func (c *Coordinator) Verification() *verify.Protocol {
	return c.protocol
}

// QueueAndPoll enters the matching queue and searches for a partner until a
// room is formed, another client's room naming this user is adopted, or the
// search budget runs out.
//
// On success the coordinator is in StageMatched and the room ID is
// returned. On budget exhaustion the queue entry is reset to idle, the
// stage becomes StageNotFound, and ErrNoMatch is returned; the caller may
// retry.
func (c *Coordinator) QueueAndPoll(ctx context.Context) (string, error) {
	if c.userID == "" {
		return "", ErrNotAuthenticated
	}

	if c.deps.Limiter != nil {
		allowed, _ := c.deps.Limiter.Allow(ctx, c.userID, ratelimit.RuleMatch)
		if !allowed {
			return "", ErrRateLimited
		}
	}

	me, err := c.deps.Profiles.Get(ctx, c.userID)
	if err != nil {
		return "", err
	}
	if me == nil {
		c.setStage(StageLanding)
		return "", ErrNoProfile
	}

	// A ghost room whose expiry passed must not suppress this attempt.
	if err := c.deps.Rooms.PurgeExpiredForUser(ctx, c.userID); err != nil {
		log.Printf("[match] purge expired rooms for %s: %v", c.userID, err)
	}

	// A running session from a previous view survives a reload; rejoin it
	// instead of searching again.
	if r, err := c.deps.Rooms.FindActiveSessionForUser(ctx, c.userID); err == nil && r != nil && !r.Expired(time.Now()) {
		c.mu.Lock()
		c.roomID = r.ID
		c.partnerID = r.Partner(c.userID)
		c.stage = StageChat
		c.mu.Unlock()
		c.onSessionLive(r.SessionID)
		return r.ID, nil
	}

	// A live open room naming us from a previous attempt is simply adopted.
	if r, err := c.deps.Rooms.FindOpenRoomForUser(ctx, c.userID); err == nil && r != nil {
		c.adopt(ctx, r)
		return r.ID, nil
	}

	if err := c.deps.Queue.Enqueue(ctx, c.userID); err != nil {
		return "", err
	}
	c.setStage(StageSearching)

	started := time.Now()
	defer func() {
		metrics.MatchDuration.Observe(time.Since(started).Seconds())
	}()

	// Wake-up signal: another client formed a room naming us. The handler
	// only nudges the loop; the loop re-reads truth from the store.
	wake := make(chan struct{}, 1)
	if err := c.deps.NATS.SubscribeRoomCreated(c.userID, func([]byte) {
		select {
		case wake <- struct{}{}:
		default:
		}
	}); err != nil {
		log.Printf("[match] subscribe room.created for %s: %v", c.userID, err)
	} else {
		defer func() {
			if err := c.deps.NATS.UnsubscribeRoomCreated(c.userID); err != nil {
				log.Printf("[match] unsubscribe room.created for %s: %v", c.userID, err)
			}
		}()
	}

	// Greedy attempt before the first poll wait.
	if r := c.tryGreedy(ctx, me); r != nil {
		metrics.MatchesTotal.WithLabelValues("matched").Inc()
		return r.ID, nil
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	deadline := time.NewTimer(c.budget)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			c.resetAfterSearch(StageLanding)
			metrics.MatchesTotal.WithLabelValues("cancelled").Inc()
			return "", ctx.Err()

		case <-deadline.C:
			// Stay discoverable, but stop showing a stale "searching" state.
			c.resetAfterSearch(StageNotFound)
			metrics.MatchesTotal.WithLabelValues("timeout").Inc()
			return "", ErrNoMatch

		case <-wake:
		case <-ticker.C:
		}

		// Someone else's greedy attempt may have claimed us.
		if r, err := c.deps.Rooms.FindOpenRoomForUser(ctx, c.userID); err == nil && r != nil {
			c.adopt(ctx, r)
			metrics.MatchesTotal.WithLabelValues("adopted").Inc()
			return r.ID, nil
		} else if err != nil {
			log.Printf("[match] open-room check for %s: %v", c.userID, err)
		}

		if r := c.tryGreedy(ctx, me); r != nil {
			metrics.MatchesTotal.WithLabelValues("matched").Inc()
			return r.ID, nil
		}
	}
}

// resetAfterSearch returns the caller's queue entry to idle and moves the
// state machine to the given terminal stage.
func (c *Coordinator) resetAfterSearch(stage Stage) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.deps.Queue.ResetIdle(ctx, c.userID); err != nil {
		log.Printf("[match] reset idle for %s: %v", c.userID, err)
	}
	c.setStage(stage)
}

// adopt records a room formed for this user (by either side's attempt) and
// flips the queue entry to matched so the user stops being discoverable.
func (c *Coordinator) adopt(ctx context.Context, r *room.Room) {
	if err := c.deps.Queue.MarkMatched(ctx, c.userID, r.ID); err != nil {
		log.Printf("[match] mark matched after adopt for %s: %v", c.userID, err)
	}

	c.mu.Lock()
	c.stage = StageMatched
	c.roomID = r.ID
	c.partnerID = r.Partner(c.userID)
	c.mu.Unlock()
}

// AcceptMatch confirms the proposed pairing on this side. The pairing only
// goes live through mutual verification; accepting just advances the local
// state machine.
func (c *Coordinator) AcceptMatch() {
	c.setStage(StageMatched)
}

// GoToChat moves to the chat stage and subscribes to the room's live
// message stream if a chat stream is wired.
func (c *Coordinator) GoToChat(handler func(chat.Event)) error {
	c.mu.Lock()
	roomID := c.roomID
	c.stage = StageChat
	c.mu.Unlock()

	if c.deps.Chat == nil || roomID == "" {
		return nil
	}
	return c.deps.Chat.Subscribe(roomID, c.userID, handler)
}

// DeclineMatch tears down the current room, records the mutual do-not-
// rematch pair, and returns this user to idle. The partner is not re-queued
// here; their own client detects the room's disappearance and reacts. With
// autoRematch the search restarts immediately.
func (c *Coordinator) DeclineMatch(ctx context.Context, partnerID string, autoRematch bool) (string, error) {
	if c.userID == "" {
		return "", ErrNotAuthenticated
	}

	c.mu.Lock()
	roomID := c.roomID
	if partnerID == "" {
		partnerID = c.partnerID
	}
	c.mu.Unlock()

	if roomID == "" {
		if r, err := c.deps.Rooms.FindOpenRoomForUser(ctx, c.userID); err == nil && r != nil {
			roomID = r.ID
			if partnerID == "" {
				partnerID = r.Partner(c.userID)
			}
		}
	}

	c.teardownRoomState()

	if roomID != "" {
		if err := c.deps.Rooms.Delete(ctx, roomID); err != nil {
			return "", err
		}
	}
	if partnerID != "" {
		if err := c.deps.Rejects.Record(ctx, c.userID, partnerID); err != nil {
			return "", err
		}
		if err := c.deps.NATS.PublishRoomDeclined(partnerID, []byte(`{"event":"declined"}`)); err != nil {
			log.Printf("[match] publish decline to %s: %v", partnerID, err)
		}
	}
	if err := c.deps.Queue.ResetIdle(ctx, c.userID); err != nil {
		return "", err
	}
	c.setStage(StageLanding)

	if autoRematch {
		return c.QueueAndPoll(ctx)
	}
	return "", nil
}

// CheckIfPartnerRejected reports whether the partner declined: either a
// rejection edge exists or the open room vanished out from under us.
func (c *Coordinator) CheckIfPartnerRejected(ctx context.Context, partnerID string) (bool, error) {
	if partnerID != "" {
		blocked, err := c.deps.Rejects.IsBlocked(ctx, c.userID, partnerID)
		if err != nil {
			return false, err
		}
		if blocked {
			return true, nil
		}
	}

	c.mu.Lock()
	roomID := c.roomID
	c.mu.Unlock()
	if roomID == "" {
		return false, nil
	}

	_, err := c.deps.Rooms.Get(ctx, roomID)
	if errors.Is(err, room.ErrNotFound) {
		return true, nil
	}
	return false, err
}

// LeaveQueue withdraws from matching entirely and returns to landing. A
// session still running is finalized first; leaving ends it for both sides.
func (c *Coordinator) LeaveQueue(ctx context.Context) error {
	if c.userID == "" {
		return ErrNotAuthenticated
	}

	c.mu.Lock()
	sessionID := c.sessionID
	c.mu.Unlock()
	if sessionID != "" {
		c.EndSession(ctx, "")
	}

	if err := c.deps.Queue.Leave(ctx, c.userID); err != nil {
		return err
	}
	c.setStage(StageLanding)
	return nil
}

// StartOver tears down all per-session state (timers, subscriptions, room
// references), leaves the queue, and returns to landing. It is the
// universal recovery path: callable from any stage, including after errors.
// A session still running is finalized, not abandoned to the sweeper.
func (c *Coordinator) StartOver(ctx context.Context) error {
	c.mu.Lock()
	sessionID := c.sessionID
	c.mu.Unlock()

	if sessionID != "" {
		c.EndSession(ctx, "")
	} else {
		c.teardownRoomState()
	}

	if c.userID != "" {
		if err := c.deps.Queue.Leave(ctx, c.userID); err != nil {
			log.Printf("[match] leave queue for %s: %v", c.userID, err)
		}
	}

	c.mu.Lock()
	c.roomID = ""
	c.partnerID = ""
	c.sessionID = ""
	c.stage = StageLanding
	c.mu.Unlock()
	return nil
}

// Close releases everything the coordinator owns. Idempotent.
func (c *Coordinator) Close() {
	c.teardownRoomState()
}

// teardownRoomState cancels the slot timer, the verification watch, and the
// chat subscription. Every exit path funnels through here so that no timer
// or subscription outlives its room.
func (c *Coordinator) teardownRoomState() {
	c.timer.Stop()
	c.protocol.Teardown()

	c.mu.Lock()
	roomID := c.roomID
	c.mu.Unlock()

	if c.deps.Chat != nil {
		if err := c.deps.Chat.Unsubscribe(c.userID); err != nil {
			log.Printf("[match] unsubscribe chat for %s: %v", c.userID, err)
		}
		if roomID != "" {
			c.deps.Chat.Forget(roomID)
		}
	}
}

func (c *Coordinator) setStage(stage Stage) {
	c.mu.Lock()
	c.stage = stage
	c.mu.Unlock()
}
