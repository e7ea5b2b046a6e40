package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/studybuddy/match-app/internal/messaging"
	"github.com/studybuddy/match-app/internal/metrics"
	"github.com/studybuddy/match-app/internal/ratelimit"
)

// Stream ties the persistent message log to the room's live NATS subject.
// Sends are persisted first, then published; subscribers receive Events and
// re-read history if they need authoritative ordering.
type Stream struct {
	store   *Store
	nats    *messaging.Client
	limiter *ratelimit.Limiter
	buffer  *MessageBuffer
}

// NewStream creates a chat stream over the given store and NATS client.
// limiter may be nil to disable send throttling (tests).
func NewStream(store *Store, nats *messaging.Client, limiter *ratelimit.Limiter) *Stream {
	return &Stream{
		store:   store,
		nats:    nats,
		limiter: limiter,
		buffer:  NewMessageBuffer(),
	}
}

// Send appends a message to the room log and publishes it to the room
// subject. Rate-limited per sender.
func (st *Stream) Send(ctx context.Context, roomID, senderID, text string) (*Message, error) {
	if st.limiter != nil {
		allowed, _ := st.limiter.Allow(ctx, senderID, ratelimit.RuleMessage)
		if !allowed {
			metrics.MessagesTotal.WithLabelValues("blocked").Inc()
			return nil, fmt.Errorf("chat: rate limited")
		}
	}

	msg, err := st.store.Append(ctx, roomID, senderID, text)
	if err != nil {
		return nil, err
	}

	st.buffer.Add(roomID, BufferedMessage{
		From: senderID,
		Text: msg.Text,
		Ts:   msg.CreatedAt.Unix(),
	})

	event := Event{
		Type: EventMessage,
		From: senderID,
		Text: msg.Text,
		Ts:   msg.CreatedAt.Unix(),
	}
	data, err := json.Marshal(event)
	if err != nil {
		return msg, fmt.Errorf("chat: marshal event: %w", err)
	}
	if err := st.nats.PublishChatMessage(roomID, data); err != nil {
		// The message is persisted; the subscriber's next history load
		// catches up.
		log.Printf("[chat] publish to room=%s failed: %v", roomID, err)
	}

	metrics.MessagesTotal.WithLabelValues("sent").Inc()
	return msg, nil
}

// Typing publishes a typing indicator without persisting anything.
func (st *Stream) Typing(roomID, senderID string, isTyping bool) error {
	data, err := json.Marshal(Event{Type: EventTyping, From: senderID, IsTyping: isTyping})
	if err != nil {
		return fmt.Errorf("chat: marshal typing: %w", err)
	}
	return st.nats.PublishChatMessage(roomID, data)
}

// NotifyLeft tells the room's subscribers that a participant left.
func (st *Stream) NotifyLeft(roomID, userID string) error {
	data, err := json.Marshal(Event{Type: EventPartnerLeft, From: userID, Ts: time.Now().Unix()})
	if err != nil {
		return fmt.Errorf("chat: marshal partner_left: %w", err)
	}
	return st.nats.PublishChatMessage(roomID, data)
}

// Subscribe registers a handler for the room's live events, filtering out
// the subscriber's own messages.
func (st *Stream) Subscribe(roomID, userID string, handler func(Event)) error {
	return st.nats.SubscribeToChat(roomID, userID, func(data []byte) {
		var event Event
		if err := json.Unmarshal(data, &event); err != nil {
			log.Printf("[chat] bad event on room=%s: %v", roomID, err)
			return
		}
		if event.From == userID {
			return // don't echo to sender
		}
		handler(event)
	})
}

// Unsubscribe drops the user's live subscription. Always called on room
// teardown, together with Recent buffer cleanup if the room is gone.
func (st *Stream) Unsubscribe(userID string) error {
	return st.nats.UnsubscribeFromChat(userID)
}

// Recent returns the in-memory tail of the room's conversation, for quick
// display while History is loading.
func (st *Stream) Recent(roomID string) []BufferedMessage {
	return st.buffer.Get(roomID)
}

// Forget drops the room's in-memory buffer once the room is torn down.
func (st *Stream) Forget(roomID string) {
	st.buffer.Remove(roomID)
}

// History loads the persisted log, oldest first.
func (st *Stream) History(ctx context.Context, roomID string) ([]Message, error) {
	return st.store.History(ctx, roomID)
}
