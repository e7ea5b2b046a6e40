package chat

// Event is the payload published to NATS chat.<room_id> subjects for
// real-time delivery between paired users.
type Event struct {
	Type     string `json:"type"`                // "message", "typing", "partner_left"
	From     string `json:"from"`                // sender's user ID
	Text     string `json:"text,omitempty"`      // for message events
	IsTyping bool   `json:"is_typing,omitempty"` // for typing events
	Ts       int64  `json:"ts,omitempty"`        // unix timestamp for messages
}

// Event type values.
const (
	EventMessage     = "message"
	EventTyping      = "typing"
	EventPartnerLeft = "partner_left"
)
