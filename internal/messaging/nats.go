// Package messaging provides a NATS client wrapper for pub/sub signalling
// between matchmaking clients and the coordinator daemon. It handles
// connection lifecycle, subject-based subscriptions, and convenience
// methods for room, verification, and chat channels.
package messaging

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS subject patterns used across the matchmaking services.
//
// Every subject is a wake-up signal only: handlers re-read truth from the
// shared store, so a lost or duplicated message is never a correctness
// problem.
const (
	SubjectRoomCreated  = "room.created"  // + .<user_id>
	SubjectRoomChanged  = "room.changed"  // + .<room_id>
	SubjectRoomDeclined = "room.declined" // + .<user_id>
	SubjectChat         = "chat"          // + .<room_id>
	SubjectSessionEnded = "session.ended" // + .<room_id>
)

// Client wraps the NATS connection with helper methods for pub/sub.
type Client struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// Config holds NATS connection settings.
type Config struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:           "nats://localhost:4222",
		Name:          "studybuddy",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// NewClient connects to NATS with the given config and returns a ready
// client. It returns an error if the initial connection fails.
func NewClient(config Config) (*Client, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Printf("[nats] connected to %s", nc.ConnectedUrl())

	return &Client{
		conn: nc,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// Publish sends data to the given NATS subject.
func (c *Client) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// Subscribe registers a handler for the given subject and stores the
// subscription internally for later cleanup.
func (c *Client) Subscribe(subject string, handler func(msg *nats.Msg)) error {
	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs[subject] = sub
	c.mu.Unlock()

	return nil
}

// PublishRoomCreated notifies a user that a room naming them now exists.
func (c *Client) PublishRoomCreated(userID string, data []byte) error {
	return c.Publish(SubjectRoomCreated+"."+userID, data)
}

// SubscribeRoomCreated subscribes to room-created signals for a user.
func (c *Client) SubscribeRoomCreated(userID string, handler func(data []byte)) error {
	subject := SubjectRoomCreated + "." + userID
	return c.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

// UnsubscribeRoomCreated unsubscribes from room-created signals for a user.
func (c *Client) UnsubscribeRoomCreated(userID string) error {
	return c.unsubscribe(SubjectRoomCreated + "." + userID)
}

// PublishRoomChanged signals that a room row was mutated (verification
// flags, session promotion). Subscribers re-read the row.
func (c *Client) PublishRoomChanged(roomID string, data []byte) error {
	return c.Publish(SubjectRoomChanged+"."+roomID, data)
}

// SubscribeRoomChanged subscribes to change signals for a room.
func (c *Client) SubscribeRoomChanged(roomID string, handler func(data []byte)) error {
	subject := SubjectRoomChanged + "." + roomID
	return c.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

// UnsubscribeRoomChanged unsubscribes from change signals for a room.
func (c *Client) UnsubscribeRoomChanged(roomID string) error {
	return c.unsubscribe(SubjectRoomChanged + "." + roomID)
}

// PublishRoomDeclined notifies a user that their partner declined the room.
func (c *Client) PublishRoomDeclined(userID string, data []byte) error {
	return c.Publish(SubjectRoomDeclined+"."+userID, data)
}

// SubscribeRoomDeclined subscribes to decline notifications for a user.
func (c *Client) SubscribeRoomDeclined(userID string, handler func(data []byte)) error {
	subject := SubjectRoomDeclined + "." + userID
	return c.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

// UnsubscribeRoomDeclined unsubscribes from decline notifications.
func (c *Client) UnsubscribeRoomDeclined(userID string) error {
	return c.unsubscribe(SubjectRoomDeclined + "." + userID)
}

// SubscribeToChat subscribes to the chat.<roomID> subject for a specific
// user. The subscription is keyed by userID so two participants on the
// same process can subscribe to the same room without overwriting each
// other.
func (c *Client) SubscribeToChat(roomID, userID string, handler func(data []byte)) error {
	subject := SubjectChat + "." + roomID
	key := "chatsub:" + userID
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs[key] = sub
	c.mu.Unlock()
	return nil
}

// UnsubscribeFromChat unsubscribes a user's chat subscription.
func (c *Client) UnsubscribeFromChat(userID string) error {
	return c.unsubscribe("chatsub:" + userID)
}

// PublishChatMessage publishes data to the chat.<roomID> subject.
func (c *Client) PublishChatMessage(roomID string, data []byte) error {
	return c.Publish(SubjectChat+"."+roomID, data)
}

// PublishSessionEnded signals that a finalized session's slot window lapsed.
func (c *Client) PublishSessionEnded(roomID string, data []byte) error {
	return c.Publish(SubjectSessionEnded+"."+roomID, data)
}

// SubscribeSessionEnded subscribes to end-of-session signals for a room.
func (c *Client) SubscribeSessionEnded(roomID string, handler func(data []byte)) error {
	subject := SubjectSessionEnded + "." + roomID
	return c.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

// UnsubscribeSessionEnded unsubscribes from end-of-session signals.
func (c *Client) UnsubscribeSessionEnded(roomID string) error {
	return c.unsubscribe(SubjectSessionEnded + "." + roomID)
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			log.Printf("[nats] drain %s: %v", subject, err)
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		log.Printf("[nats] connection drain: %v", err)
	}

	log.Printf("[nats] client closed")
}

// unsubscribe removes and unsubscribes from a specific subject key.
func (c *Client) unsubscribe(subject string) error {
	c.mu.Lock()
	sub, ok := c.subs[subject]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("nats: no subscription for subject %s", subject)
	}
	delete(c.subs, subject)
	c.mu.Unlock()

	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("nats unsubscribe %s: %w", subject, err)
	}
	return nil
}
