// Package verify implements the mutual verification handshake: both sides
// of a room must submit the shared verify code before the pairing becomes a
// live session. Per-side flags are promote-only and the session is assigned
// first-writer-wins, so the two clients never need to coordinate writes.
//
// Change detection is two independent triggers feeding one idempotent
// reconcile: a NATS room.changed signal and a short-lived drift poll that
// guards against missed notifications.
package verify

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/studybuddy/match-app/internal/messaging"
	"github.com/studybuddy/match-app/internal/metrics"
	"github.com/studybuddy/match-app/internal/room"
	"github.com/studybuddy/match-app/internal/session"
)

const (
	defaultPollInterval = 2 * time.Second
	defaultPollBudget   = 15 * time.Second
)

// ErrNotParticipant is returned when the caller is not named by the room.
var ErrNotParticipant = errors.New("verify: not a participant of this room")

// View is the caller's perspective on a room's verification state.
type View struct {
	RoomID          string
	Side            string // "a" or "b"
	Code            string
	VerifiedSelf    bool
	VerifiedPartner bool
	SessionID       string
}

// Result is the outcome of one code submission.
type Result struct {
	OK        bool   // the word matched and the caller's flag is set
	Promoted  bool   // this submission completed dual verification
	SessionID string // set once both sides verified
	Message   string // user-facing, for mismatch and empty input
}

// Protocol runs the verification handshake for one client on one room. It
// owns its subscription and drift-poll timer; Teardown must be called on
// every exit path, including errors.
type Protocol struct {
	rooms    *room.Store
	sessions *session.Store
	nats     *messaging.Client
	userID   string

	pollInterval time.Duration
	pollBudget   time.Duration

	mu         sync.Mutex
	roomID     string
	subscribed bool
	cancelPoll context.CancelFunc
	reported   bool // promotion callback fired
	goneFired  bool
}

// NewProtocol creates a verification protocol for one client.
func NewProtocol(rooms *room.Store, sessions *session.Store, nats *messaging.Client, userID string) *Protocol {
	return &Protocol{
		rooms:        rooms,
		sessions:     sessions,
		nats:         nats,
		userID:       userID,
		pollInterval: defaultPollInterval,
		pollBudget:   defaultPollBudget,
	}
}

// SetPollBudget overrides the drift-poll cadence and budget.
func (p *Protocol) SetPollBudget(interval, budget time.Duration) {
	p.pollInterval = interval
	p.pollBudget = budget
}

// Load reads the room and determines which side the caller occupies.
func (p *Protocol) Load(ctx context.Context, roomID string) (*View, error) {
	r, err := p.rooms.Get(ctx, roomID)
	if err != nil {
		return nil, err
	}

	side := r.SideOf(p.userID)
	if side == "" {
		return nil, ErrNotParticipant
	}

	view := &View{
		RoomID:    roomID,
		Side:      side,
		Code:      r.VerifyCode,
		SessionID: r.SessionID,
	}
	if side == "a" {
		view.VerifiedSelf, view.VerifiedPartner = r.VerifiedA, r.VerifiedB
	} else {
		view.VerifiedSelf, view.VerifiedPartner = r.VerifiedB, r.VerifiedA
	}
	return view, nil
}

// Submit checks the word against the room's verify code. Empty input and
// mismatches are retryable with no state change and no attempt limit. On a
// match the caller's flag is promoted; if that completes dual verification
// the session row is created and the result carries the session ID.
func (p *Protocol) Submit(ctx context.Context, roomID, word string) (*Result, error) {
	word = strings.TrimSpace(word)
	if word == "" {
		return &Result{Message: "Enter the verify word to continue."}, nil
	}

	r, err := p.rooms.Get(ctx, roomID)
	if err != nil {
		return nil, err
	}
	side := r.SideOf(p.userID)
	if side == "" {
		return nil, ErrNotParticipant
	}

	if !strings.EqualFold(word, r.VerifyCode) {
		metrics.VerificationAttempts.WithLabelValues("mismatch").Inc()
		return &Result{Message: "That word doesn't match. Check with your partner and try again."}, nil
	}

	state, err := p.rooms.SetVerified(ctx, roomID, side)
	if err != nil {
		return nil, err
	}
	metrics.VerificationAttempts.WithLabelValues("ok").Inc()

	// Wake the partner; they re-read the row.
	if err := p.nats.PublishRoomChanged(roomID, []byte(`{"event":"verified"}`)); err != nil {
		log.Printf("[verify] publish room.changed for %s: %v", roomID, err)
	}

	result := &Result{OK: true}
	if state.BothVerified() && state.SessionID != "" {
		if err := p.sessions.Ensure(ctx, state.SessionID, roomID); err != nil {
			return nil, err
		}
		p.markReported()
		metrics.VerificationAttempts.WithLabelValues("promoted").Inc()
		result.Promoted = true
		result.SessionID = state.SessionID
	}
	return result, nil
}

// Watch starts change detection for the room: a NATS subscription plus a
// bounded drift poll, both feeding Reconcile. onPromoted fires at most once
// with the session ID; onRoomGone fires at most once if the room vanishes
// (partner declined or expiry sweep).
func (p *Protocol) Watch(ctx context.Context, roomID string, onPromoted func(sessionID string), onRoomGone func()) error {
	p.bind(roomID)

	reconcile := func() {
		if err := p.Reconcile(context.Background(), roomID, onPromoted, onRoomGone); err != nil {
			log.Printf("[verify] reconcile room=%s: %v", roomID, err)
		}
	}

	if err := p.nats.SubscribeRoomChanged(roomID, func([]byte) { reconcile() }); err != nil {
		return err
	}
	p.mu.Lock()
	p.subscribed = true

	pollCtx, cancel := context.WithCancel(ctx)
	p.cancelPoll = cancel
	p.mu.Unlock()

	go p.driftPoll(pollCtx, reconcile)
	return nil
}

// driftPoll re-checks the room on a fixed interval for a bounded window,
// catching notifications lost before the subscription was live.
func (p *Protocol) driftPoll(ctx context.Context, reconcile func()) {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	deadline := time.NewTimer(p.pollBudget)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			return
		case <-ticker.C:
			reconcile()
		}
	}
}

// Reconcile re-reads the room and converges local state with the store.
// Both the push handler and the poll tick call this same routine, so the
// two triggers cannot diverge in behavior. Safe to run redundantly.
func (p *Protocol) Reconcile(ctx context.Context, roomID string, onPromoted func(string), onRoomGone func()) error {
	r, err := p.rooms.Get(ctx, roomID)
	if errors.Is(err, room.ErrNotFound) {
		if p.markGone() && onRoomGone != nil {
			onRoomGone()
		}
		return nil
	}
	if err != nil {
		return err
	}

	if r.VerifiedA && r.VerifiedB && r.SessionID != "" {
		if err := p.sessions.Ensure(ctx, r.SessionID, roomID); err != nil {
			return err
		}
		if p.markReported() && onPromoted != nil {
			onPromoted(r.SessionID)
		}
	}
	return nil
}

// Teardown unsubscribes from change notifications and cancels the drift
// poll. Safe to call repeatedly and before Watch.
func (p *Protocol) Teardown() {
	p.mu.Lock()
	roomID := p.roomID
	subscribed := p.subscribed
	cancel := p.cancelPoll
	p.subscribed = false
	p.cancelPoll = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if subscribed {
		if err := p.nats.UnsubscribeRoomChanged(roomID); err != nil {
			log.Printf("[verify] unsubscribe room=%s: %v", roomID, err)
		}
	}
}

// bind points the protocol at a room. Watching a different room than last
// time resets both report latches: the at-most-once guarantee is per room,
// and a coordinator reuses one protocol across rematches.
func (p *Protocol) bind(roomID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.roomID != roomID {
		p.reported = false
		p.goneFired = false
	}
	p.roomID = roomID
}

// markReported flips the promotion-reported latch. Returns true for the
// first caller only.
func (p *Protocol) markReported() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.reported {
		return false
	}
	p.reported = true
	return true
}

func (p *Protocol) markGone() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.goneFired {
		return false
	}
	p.goneFired = true
	return true
}
