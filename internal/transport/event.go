package transport

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ashureev/agentchat/internal/domain"
	"github.com/tidwall/gjson"
)

// ConnID identifies one Connect call. Ids increase monotonically per
// Transport, so an event can be matched against the current connection.
type ConnID uint64

// State is the connection lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Reason explains why a connection ended up Disconnected.
type Reason int

const (
	ReasonNone Reason = iota
	// ReasonClosed is an explicit Close or a superseding Connect.
	ReasonClosed
	// ReasonAuthFailed is a 1008 close or a 401/403 handshake. Terminal.
	ReasonAuthFailed
	// ReasonGaveUp means the reconnect budget is exhausted. Terminal.
	ReasonGaveUp
	// ReasonReplaced means another connection took over the chat. Terminal.
	ReasonReplaced
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonClosed:
		return "closed"
	case ReasonAuthFailed:
		return "auth_failed"
	case ReasonGaveUp:
		return "gave_up"
	case ReasonReplaced:
		return "replaced"
	}
	return fmt.Sprintf("Reason(%d)", int(r))
}

// Message returns the user-facing text for a terminal reason.
func (r Reason) Message() string {
	switch r {
	case ReasonAuthFailed:
		return "Authentication failed. Please log in again."
	case ReasonGaveUp:
		return "Could not connect to chat. Please refresh."
	case ReasonReplaced:
		return "This chat was opened in another session."
	}
	return ""
}

// EventKind classifies transport events.
type EventKind int

const (
	EventOpen EventKind = iota
	EventReconnecting
	EventDisconnected
	EventMessage
	EventStatus
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventOpen:
		return "open"
	case EventReconnecting:
		return "reconnecting"
	case EventDisconnected:
		return "disconnected"
	case EventMessage:
		return "message"
	case EventStatus:
		return "status"
	case EventError:
		return "error"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Event is delivered on Transport.Events.
type Event struct {
	Kind   EventKind
	Conn   ConnID
	ChatID int64

	// EventReconnecting.
	Attempt     int
	MaxAttempts int
	Delay       time.Duration

	// EventDisconnected.
	Reason Reason

	// EventMessage.
	Message *domain.Message

	// EventStatus carries the status keyword (e.g. "thinking") and text;
	// EventError and EventReconnecting carry text.
	Status string
	Text   string
}

// classify turns an inbound frame into an event. Frames that are not JSON
// objects are dropped.
func classify(data []byte) (Event, error) {
	if !gjson.ValidBytes(data) {
		return Event{}, fmt.Errorf("frame is not valid JSON")
	}
	frame := gjson.ParseBytes(data)
	if !frame.IsObject() {
		return Event{}, fmt.Errorf("frame is not an object")
	}

	if frame.Get("type").String() == "status" {
		text := frame.Get("message").String()
		status := frame.Get("status").String()
		if text == "" {
			text = status
		}
		return Event{Kind: EventStatus, Status: status, Text: text}, nil
	}

	if errField := frame.Get("error"); isErrorFlag(errField) {
		text := ""
		if errField.Type == gjson.String {
			text = errField.String()
		}
		if text == "" {
			text = frame.Get("content").String()
		}
		if text == "" {
			text = "Unknown error from server"
		}
		return Event{Kind: EventError, Text: text}, nil
	}

	var msg domain.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Event{}, fmt.Errorf("decode message frame: %w", err)
	}
	return Event{Kind: EventMessage, Message: &msg}, nil
}

func isErrorFlag(v gjson.Result) bool {
	switch v.Type {
	case gjson.True:
		return true
	case gjson.String:
		return v.String() != ""
	}
	return false
}
