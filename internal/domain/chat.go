package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Sender identifies who authored a message.
type Sender string

const (
	SenderUser   Sender = "user"
	SenderAI     Sender = "ai"
	SenderSystem Sender = "system"
)

// CloseSessionReplaced is the WebSocket close code a chat socket receives
// when a newer connection to the same chat replaces it. Clients must not
// reconnect after it.
const CloseSessionReplaced = 4001

// Chat is a conversation thread with one agent.
type Chat struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	AgentID   int64     `json:"agent_id"`
	CreatedAt Timestamp `json:"created_at"`
}

// ChatWithMessages is returned when a chat is created together with its
// first exchange.
type ChatWithMessages struct {
	Chat
	Messages []Message `json:"messages"`
}

// MessageID is a message identifier. Stored messages carry integer ids while
// live frames may carry synthetic string ids, so both JSON forms decode.
type MessageID string

// UnmarshalJSON accepts a JSON number or string.
func (id *MessageID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return fmt.Errorf("decode message id: %w", err)
		}
		*id = MessageID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("decode message id: %w", err)
	}
	*id = MessageID(n.String())
	return nil
}

// MarshalJSON writes integer ids as numbers and everything else as strings.
func (id MessageID) MarshalJSON() ([]byte, error) {
	if _, err := strconv.ParseInt(string(id), 10, 64); err == nil {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

// Message is one chat message. History rows carry created_at; live frames
// carry timestamp.
type Message struct {
	ID        MessageID `json:"id"`
	ChatID    int64     `json:"chat_id,omitempty"`
	Content   string    `json:"content"`
	Sender    Sender    `json:"sender"`
	ImageURL  string    `json:"image_url,omitempty"`
	CreatedAt Timestamp `json:"created_at"`
	Timestamp Timestamp `json:"timestamp"`
}

// Time returns the creation time of the message.
func (m Message) Time() time.Time {
	if !m.CreatedAt.IsZero() {
		return m.CreatedAt.Time
	}
	return m.Timestamp.Time
}
