// Package chat provides the room-scoped message log and its live stream.
// Messages are appended to PostgreSQL for history and fanned out over the
// room's NATS subject for real-time delivery; ordering for readers is by
// created_at ascending.
package chat

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// MaxMessageLen bounds a single chat message.
const MaxMessageLen = 2000

// Message is one row of the append-only room chat log.
type Message struct {
	ID        int64
	RoomID    string
	SenderID  string
	Text      string
	CreatedAt time.Time
}

// Store manages the chat log in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a chat store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Append inserts a message and returns it with its assigned ID and
// timestamp.
func (s *Store) Append(ctx context.Context, roomID, senderID, text string) (*Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("chat: empty message")
	}
	if len(text) > MaxMessageLen {
		return nil, fmt.Errorf("chat: message exceeds %d bytes", MaxMessageLen)
	}

	const query = `
		INSERT INTO chat_messages (room_id, sender_id, message_text)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`

	msg := &Message{RoomID: roomID, SenderID: senderID, Text: text}
	err := s.db.QueryRowContext(ctx, query, roomID, senderID, text).Scan(&msg.ID, &msg.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("chat: append to %s: %w", roomID, err)
	}
	return msg, nil
}

// History returns all messages for a room, oldest first.
func (s *Store) History(ctx context.Context, roomID string) ([]Message, error) {
	const query = `
		SELECT id, room_id, sender_id, message_text, created_at
		FROM chat_messages
		WHERE room_id = $1
		ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, roomID)
	if err != nil {
		return nil, fmt.Errorf("chat: history for %s: %w", roomID, err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.RoomID, &m.SenderID, &m.Text, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("chat: scan message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chat: history rows: %w", err)
	}
	return messages, nil
}
