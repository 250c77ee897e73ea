// Package transport maintains the WebSocket connection of a chat session,
// reconnecting with bounded exponential backoff.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ashureev/agentchat/internal/domain"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// ErrNotConnected is returned by Send when the connection is not open.
var ErrNotConnected = errors.New("not connected")

// URLFunc builds the socket address for a chat.
type URLFunc func(chatID int64, token string) string

// Options configures a Transport.
type Options struct {
	URL        URLFunc
	Backoff    Backoff
	HTTPClient *http.Client
	Logger     *slog.Logger
	// ReadLimit caps inbound frame size in bytes.
	ReadLimit int64
	// CloseTimeout bounds the wait for the peer's close frame. After it the
	// socket is dropped without completing the handshake.
	CloseTimeout time.Duration
}

// DefaultCloseTimeout is used when Options.CloseTimeout is not set.
const DefaultCloseTimeout = time.Second

// Status is a point-in-time view of the current connection.
type Status struct {
	Conn    ConnID
	ChatID  int64
	State   State
	Reason  Reason
	Attempt int
}

// Transport owns at most one live connection. Connect supersedes the
// previous connection; events of superseded connections are never delivered.
type Transport struct {
	opts   Options
	logger *slog.Logger
	events chan Event

	mu  sync.Mutex
	seq ConnID
	cur *session
}

type session struct {
	id     ConnID
	chatID int64
	token  string
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// Guarded by Transport.mu.
	conn    *websocket.Conn
	state   State
	reason  Reason
	attempt int
}

type outboundFrame struct {
	Content string `json:"content"`
}

// New creates a Transport.
func New(opts Options) *Transport {
	opts.Backoff = opts.Backoff.withDefaults()
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = 1 << 20
	}
	if opts.CloseTimeout <= 0 {
		opts.CloseTimeout = DefaultCloseTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{
		opts:   opts,
		logger: logger,
		events: make(chan Event, 64),
	}
}

// Events delivers connection lifecycle changes and inbound frames.
func (t *Transport) Events() <-chan Event {
	return t.events
}

// Status reports the current connection.
func (t *Transport) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cur == nil {
		return Status{State: StateDisconnected, Reason: ReasonClosed}
	}
	return Status{
		Conn:    t.cur.id,
		ChatID:  t.cur.chatID,
		State:   t.cur.state,
		Reason:  t.cur.reason,
		Attempt: t.cur.attempt,
	}
}

// Connect opens a connection for chatID, closing any current one first.
// It returns without waiting for the handshake.
func (t *Transport) Connect(chatID int64, token string) ConnID {
	ctx, cancel := context.WithCancel(context.Background())

	t.mu.Lock()
	prev := t.detachLocked()
	t.seq++
	s := &session{
		id:     t.seq,
		chatID: chatID,
		token:  token,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		state:  StateConnecting,
	}
	t.cur = s
	t.mu.Unlock()

	if prev != nil {
		go t.shutdown(prev, "superseded")
	}

	t.logger.Info("Chat connection starting", "chat_id", chatID, "conn_id", s.id)
	go t.run(s)
	return s.id
}

// Close closes the current connection with a normal closure. No reconnect
// follows an explicit Close.
func (t *Transport) Close() {
	t.mu.Lock()
	s := t.detachLocked()
	t.mu.Unlock()

	if s != nil {
		t.shutdown(s, "client closed")
	}
}

// Send writes a chat message on the open connection.
func (t *Transport) Send(ctx context.Context, content string) error {
	t.mu.Lock()
	s := t.cur
	if s == nil || s.state != StateOpen || s.conn == nil {
		t.mu.Unlock()
		return ErrNotConnected
	}
	conn := s.conn
	t.mu.Unlock()

	if err := wsjson.Write(ctx, conn, outboundFrame{Content: content}); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

func (t *Transport) detachLocked() *session {
	s := t.cur
	t.cur = nil
	if s != nil {
		s.state = StateClosing
		s.reason = ReasonClosed
	}
	return s
}

// shutdown closes a detached session and waits for its goroutine.
func (t *Transport) shutdown(s *session, reason string) {
	t.mu.Lock()
	conn := s.conn
	t.mu.Unlock()

	if conn != nil {
		closed := make(chan struct{})
		go func() {
			defer close(closed)
			if err := conn.Close(websocket.StatusNormalClosure, reason); err != nil {
				t.logger.Debug("Failed to close chat socket", "conn_id", s.id, "error", err)
			}
		}()
		timer := time.NewTimer(t.opts.CloseTimeout)
		select {
		case <-closed:
		case <-timer.C:
			t.logger.Debug("Close handshake timed out", "conn_id", s.id, "timeout", t.opts.CloseTimeout)
		}
		timer.Stop()
		// Cancelling the read context tears the socket down if the
		// handshake is still pending.
		s.cancel()
		<-closed
	}
	s.cancel()
	<-s.done

	t.mu.Lock()
	s.state = StateDisconnected
	t.mu.Unlock()
	t.logger.Debug("Chat connection closed", "chat_id", s.chatID, "conn_id", s.id, "reason", reason)
}

func (t *Transport) run(s *session) {
	defer close(s.done)

	url := t.opts.URL(s.chatID, s.token)
	for {
		conn, resp, err := websocket.Dial(s.ctx, url, &websocket.DialOptions{HTTPClient: t.opts.HTTPClient})
		if err != nil {
			if resp != nil && resp.Body != nil {
				_ = resp.Body.Close()
			}
			if !t.isCurrent(s) {
				return
			}
			if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
				t.logger.Warn("Chat handshake rejected", "chat_id", s.chatID, "conn_id", s.id, "status", resp.StatusCode)
				t.terminate(s, ReasonAuthFailed)
				return
			}
			t.logger.Warn("Chat dial failed", "chat_id", s.chatID, "conn_id", s.id, "error", err)
			if !t.retry(s) {
				return
			}
			continue
		}

		if !t.open(s, conn) {
			_ = conn.Close(websocket.StatusNormalClosure, "superseded")
			return
		}

		err = t.readLoop(s, conn)
		if !t.isCurrent(s) {
			return
		}
		status := websocket.CloseStatus(err)
		switch status {
		case websocket.StatusPolicyViolation:
			t.logger.Warn("Chat socket closed by policy", "chat_id", s.chatID, "conn_id", s.id)
			t.terminate(s, ReasonAuthFailed)
			return
		case websocket.StatusCode(domain.CloseSessionReplaced):
			t.logger.Info("Chat socket replaced by another connection", "chat_id", s.chatID, "conn_id", s.id)
			t.terminate(s, ReasonReplaced)
			return
		}
		t.logger.Warn("Chat socket lost", "chat_id", s.chatID, "conn_id", s.id, "close_status", int(status), "error", err)
		if !t.retry(s) {
			return
		}
	}
}

func (t *Transport) open(s *session, conn *websocket.Conn) bool {
	conn.SetReadLimit(t.opts.ReadLimit)

	t.mu.Lock()
	if t.cur != s {
		t.mu.Unlock()
		return false
	}
	s.conn = conn
	s.state = StateOpen
	s.attempt = 0
	t.mu.Unlock()

	t.logger.Info("Chat connection open", "chat_id", s.chatID, "conn_id", s.id)
	t.emit(s, Event{Kind: EventOpen})
	return true
}

func (t *Transport) readLoop(s *session, conn *websocket.Conn) error {
	for {
		_, data, err := conn.Read(s.ctx)
		if err != nil {
			t.mu.Lock()
			if s.conn == conn {
				s.conn = nil
			}
			t.mu.Unlock()
			return err
		}
		ev, err := classify(data)
		if err != nil {
			t.logger.Warn("Dropping unreadable chat frame", "conn_id", s.id, "error", err)
			continue
		}
		t.emit(s, ev)
	}
}

// retry schedules the next attempt. It reports false once the budget is
// spent or the session is no longer current.
func (t *Transport) retry(s *session) bool {
	b := t.opts.Backoff

	t.mu.Lock()
	if t.cur != s {
		t.mu.Unlock()
		return false
	}
	if s.attempt >= b.MaxAttempts {
		t.mu.Unlock()
		t.logger.Error("Chat reconnect attempts exhausted", "chat_id", s.chatID, "conn_id", s.id, "attempts", b.MaxAttempts)
		t.terminate(s, ReasonGaveUp)
		return false
	}
	delay := b.Delay(s.attempt)
	s.attempt++
	s.state = StateConnecting
	attempt := s.attempt
	t.mu.Unlock()

	t.logger.Info("Chat reconnect scheduled", "chat_id", s.chatID, "conn_id", s.id, "attempt", attempt, "delay", delay)
	t.emit(s, Event{
		Kind:        EventReconnecting,
		Attempt:     attempt,
		MaxAttempts: b.MaxAttempts,
		Delay:       delay,
		Text:        fmt.Sprintf("Connection lost. Reconnecting (%d/%d)...", attempt, b.MaxAttempts),
	})

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-s.ctx.Done():
		return false
	case <-timer.C:
		return t.isCurrent(s)
	}
}

// terminate moves a session to Disconnected with a terminal reason.
func (t *Transport) terminate(s *session, reason Reason) {
	t.mu.Lock()
	if t.cur != s {
		t.mu.Unlock()
		return
	}
	s.state = StateDisconnected
	s.reason = reason
	s.conn = nil
	t.mu.Unlock()

	t.emit(s, Event{Kind: EventDisconnected, Reason: reason, Text: reason.Message()})
}

func (t *Transport) isCurrent(s *session) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cur == s && s.ctx.Err() == nil
}

// emit delivers an event unless the session has been superseded.
func (t *Transport) emit(s *session, ev Event) {
	if !t.isCurrent(s) {
		return
	}
	ev.Conn = s.id
	ev.ChatID = s.chatID
	select {
	case t.events <- ev:
	case <-s.ctx.Done():
	}
}
