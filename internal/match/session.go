package match

import (
	"context"
	"log"

	"github.com/studybuddy/match-app/internal/verify"
)

// StartVerification begins watching the adopted room for verification
// progress. onLive fires once when both sides have verified and the
// session exists; the partner declining or the room expiring funnels
// through the same landing-reset path as every other teardown.
func (c *Coordinator) StartVerification(ctx context.Context) error {
	c.mu.Lock()
	roomID := c.roomID
	c.mu.Unlock()
	if roomID == "" {
		return verify.ErrNotParticipant
	}

	// Partner decline arrives as a push signal; the handler re-reads truth
	// via the same reconcile the drift poll uses.
	if err := c.deps.NATS.SubscribeRoomDeclined(c.userID, func([]byte) {
		c.onRoomGone()
	}); err != nil {
		log.Printf("[match] subscribe room.declined for %s: %v", c.userID, err)
	}

	return c.protocol.Watch(ctx, roomID,
		func(sessionID string) { c.onSessionLive(sessionID) },
		func() { c.onRoomGone() },
	)
}

// SubmitVerification submits the shared word for the adopted room. A
// submission that completes dual verification promotes the pairing to a
// live session on this side too.
func (c *Coordinator) SubmitVerification(ctx context.Context, word string) (*verify.Result, error) {
	c.mu.Lock()
	roomID := c.roomID
	c.mu.Unlock()
	if roomID == "" {
		return nil, verify.ErrNotParticipant
	}

	result, err := c.protocol.Submit(ctx, roomID, word)
	if err != nil {
		return nil, err
	}
	if result.Promoted {
		c.onSessionLive(result.SessionID)
	}
	return result, nil
}

// onSessionLive records the finalized session and starts the slot
// countdown that ends it. Idempotent: the promotion latch in the protocol
// means this runs once per room on this client. The countdown runs off its
// own context, not the triggering request's; only Stop or the window
// lapsing ends it.
func (c *Coordinator) onSessionLive(sessionID string) {
	c.mu.Lock()
	if c.sessionID == sessionID {
		c.mu.Unlock()
		return
	}
	c.sessionID = sessionID
	c.mu.Unlock()

	c.timer.Start(context.Background(), func() {
		c.EndSession(context.Background(), "Your study slot has ended. See you next time!")
	})
}

// EndSession finalizes the session, notifies the room, tears down all
// subscriptions and timers, and returns the client to landing with a
// notice. Safe to call when no session is active.
func (c *Coordinator) EndSession(ctx context.Context, notice string) {
	c.mu.Lock()
	sessionID := c.sessionID
	roomID := c.roomID
	c.mu.Unlock()

	if sessionID != "" {
		ended, err := c.deps.Sessions.Finalize(ctx, sessionID)
		if err != nil {
			log.Printf("[match] finalize session %s: %v", sessionID, err)
		} else if ended && roomID != "" && c.deps.NATS != nil {
			if err := c.deps.NATS.PublishSessionEnded(roomID, []byte(`{"event":"ended"}`)); err != nil {
				log.Printf("[match] publish session.ended for %s: %v", roomID, err)
			}
		}
	}

	c.unsubscribeDeclined()
	c.teardownRoomState()

	c.mu.Lock()
	c.roomID = ""
	c.partnerID = ""
	c.sessionID = ""
	c.stage = StageLanding
	c.notice = notice
	c.mu.Unlock()
}

// onRoomGone handles the room vanishing mid-verification: partner declined
// or the expiry sweep removed it. The client lands with a notice; the
// rejection ledger (if the partner declined) keeps the pair apart on the
// next search.
func (c *Coordinator) onRoomGone() {
	c.unsubscribeDeclined()
	c.teardownRoomState()

	c.mu.Lock()
	c.roomID = ""
	c.partnerID = ""
	c.stage = StageLanding
	c.notice = "Your match is no longer available."
	c.mu.Unlock()
}

func (c *Coordinator) unsubscribeDeclined() {
	if c.deps.NATS == nil {
		return
	}
	if err := c.deps.NATS.UnsubscribeRoomDeclined(c.userID); err != nil {
		// No subscription is fine; StartVerification may not have run.
		return
	}
}
