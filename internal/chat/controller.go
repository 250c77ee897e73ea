// Package chat coordinates a chat session: the transcript, lazy chat
// creation, and the live connection that feeds it.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/ashureev/agentchat/internal/api"
	"github.com/ashureev/agentchat/internal/domain"
	"github.com/ashureev/agentchat/internal/store"
	"github.com/ashureev/agentchat/internal/transport"
)

var (
	// ErrBusy is returned by Send while the first message is creating the chat.
	ErrBusy = errors.New("chat creation in progress")
	// ErrEmptyMessage is returned for blank input.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrNoAgent is returned when no agent has been selected.
	ErrNoAgent = errors.New("no agent selected")
)

// Gateway is the REST surface the controller uses.
type Gateway interface {
	ListChats(ctx context.Context, agentID int64) ([]domain.Chat, error)
	CreateChat(ctx context.Context, agentID int64, firstMessage string) (*domain.ChatWithMessages, error)
	DeleteChat(ctx context.Context, chatID int64) error
	Messages(ctx context.Context, chatID int64) ([]domain.Message, error)
}

// Transport is the live connection the controller drives.
type Transport interface {
	Connect(chatID int64, token string) transport.ConnID
	Close()
	Send(ctx context.Context, content string) error
	Events() <-chan transport.Event
}

// Snapshot is a copy of the controller state for rendering.
type Snapshot struct {
	AgentID  int64
	Chat     *domain.Chat
	Messages []domain.Message
	Conn     transport.ConnID
	State    transport.State
	Reason   transport.Reason
	// Status is transient server status text such as "Thinking...".
	Status string
	// Notice is connection progress text such as reconnect attempts.
	Notice    string
	Error     string
	Draft     string
	Creating  bool
	LoggedOut bool
}

// Controller owns one chat view. At most one connection is current; events
// of any other connection are ignored.
type Controller struct {
	gw     Gateway
	tr     Transport
	creds  store.CredentialStore
	logger *slog.Logger

	updates chan struct{}

	mu        sync.Mutex
	seq       uint64
	agentID   int64
	chat      *domain.Chat
	history   History
	conn      transport.ConnID
	state     transport.State
	reason    transport.Reason
	status    string
	notice    string
	errText   string
	draft     string
	creating  bool
	loggedOut bool

	pumpOnce sync.Once
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewController creates a controller in new-chat mode with no agent.
func NewController(gw Gateway, tr Transport, creds store.CredentialStore, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		gw:      gw,
		tr:      tr,
		creds:   creds,
		logger:  logger,
		updates: make(chan struct{}, 1),
	}
}

// Start runs the event pump until ctx is done or Dispose is called.
func (c *Controller) Start(ctx context.Context) {
	c.pumpOnce.Do(func() {
		ctx, c.cancel = context.WithCancel(ctx)
		c.done = make(chan struct{})
		go c.pump(ctx)
	})
}

// Dispose closes the connection and stops the pump.
func (c *Controller) Dispose() {
	c.mu.Lock()
	c.seq++
	c.conn = 0
	c.mu.Unlock()

	c.tr.Close()
	if c.cancel != nil {
		c.cancel()
		<-c.done
	}
}

// Updates signals state changes. Signals coalesce; read Snapshot after each.
func (c *Controller) Updates() <-chan struct{} {
	return c.updates
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Snapshot{
		AgentID:   c.agentID,
		Messages:  c.history.Messages(),
		Conn:      c.conn,
		State:     c.state,
		Reason:    c.reason,
		Status:    c.status,
		Notice:    c.notice,
		Error:     c.errText,
		Draft:     c.draft,
		Creating:  c.creating,
		LoggedOut: c.loggedOut,
	}
	if c.chat != nil {
		chat := *c.chat
		s.Chat = &chat
	}
	return s
}

// TakeDraft returns the input restored after a failed send and clears it.
func (c *Controller) TakeDraft() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	d := c.draft
	c.draft = ""
	return d
}

// NewChat tears down the current chat and enters new-chat mode for agentID.
// The chat is created by the first Send.
func (c *Controller) NewChat(agentID int64) {
	c.mu.Lock()
	c.resetLocked()
	c.agentID = agentID
	c.mu.Unlock()

	c.tr.Close()
	c.notify()
}

// SelectAgent switches to agentID in new-chat mode and returns its chats.
func (c *Controller) SelectAgent(ctx context.Context, agentID int64) ([]domain.Chat, error) {
	c.NewChat(agentID)
	return c.Chats(ctx)
}

// Chats lists the chats of the selected agent.
func (c *Controller) Chats(ctx context.Context) ([]domain.Chat, error) {
	c.mu.Lock()
	agentID := c.agentID
	c.mu.Unlock()

	if agentID == 0 {
		return nil, ErrNoAgent
	}
	chats, err := c.gw.ListChats(ctx, agentID)
	if err != nil {
		c.fail(err, "Failed to load chats.")
		return nil, err
	}
	return chats, nil
}

// DeleteChat deletes a chat; deleting the open chat returns to new-chat mode.
func (c *Controller) DeleteChat(ctx context.Context, chatID int64) error {
	if err := c.gw.DeleteChat(ctx, chatID); err != nil {
		c.fail(err, "Failed to delete chat.")
		return err
	}

	c.mu.Lock()
	current := c.chat != nil && c.chat.ID == chatID
	agentID := c.agentID
	c.mu.Unlock()

	if current {
		c.NewChat(agentID)
	}
	return nil
}

// SelectChat opens an existing chat: the previous connection and transcript
// are dropped, history is fetched, then the live connection is opened.
func (c *Controller) SelectChat(ctx context.Context, chat domain.Chat) error {
	c.mu.Lock()
	c.resetLocked()
	c.chat = &chat
	c.agentID = chat.AgentID
	seq := c.seq
	c.mu.Unlock()

	c.tr.Close()
	c.notify()

	msgs, err := c.gw.Messages(ctx, chat.ID)
	if err != nil {
		if c.current(seq) {
			c.fail(err, "Failed to load messages.")
		}
		return fmt.Errorf("load chat %d: %w", chat.ID, err)
	}

	c.mu.Lock()
	if c.seq != seq {
		c.mu.Unlock()
		return nil
	}
	c.history.Add(msgs...)
	c.mu.Unlock()

	return c.connect(ctx, seq, chat.ID)
}

// Send delivers content. In new-chat mode the first message creates the chat
// in a single request; otherwise it goes over the open connection. A failed
// send restores the input as the draft. Nothing is queued while disconnected.
func (c *Controller) Send(ctx context.Context, content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return ErrEmptyMessage
	}

	c.mu.Lock()
	if c.creating {
		c.mu.Unlock()
		return ErrBusy
	}
	if c.chat != nil {
		c.mu.Unlock()
		return c.sendLive(ctx, content)
	}
	if c.agentID == 0 {
		c.mu.Unlock()
		return ErrNoAgent
	}
	agentID := c.agentID
	seq := c.seq
	c.creating = true
	c.errText = ""
	c.draft = ""
	c.mu.Unlock()
	c.notify()

	res, err := c.gw.CreateChat(ctx, agentID, content)

	c.mu.Lock()
	c.creating = false
	if c.seq != seq {
		c.mu.Unlock()
		c.notify()
		return err
	}
	if err != nil {
		c.draft = content
		c.mu.Unlock()
		c.fail(err, "Failed to start chat. Please try again.")
		return err
	}
	chat := res.Chat
	c.chat = &chat
	c.history.Add(res.Messages...)
	c.mu.Unlock()

	c.logger.Info("Chat created", "chat_id", chat.ID, "agent_id", agentID)
	return c.connect(ctx, seq, chat.ID)
}

func (c *Controller) sendLive(ctx context.Context, content string) error {
	if err := c.tr.Send(ctx, content); err != nil {
		c.mu.Lock()
		c.draft = content
		if errors.Is(err, transport.ErrNotConnected) {
			c.errText = "Not connected. Message not sent."
		} else {
			c.errText = "Failed to send message."
		}
		c.mu.Unlock()
		c.notify()
		return err
	}

	c.mu.Lock()
	c.errText = ""
	c.mu.Unlock()
	c.notify()
	return nil
}

// connect opens the transport for chatID if the view is still seq.
func (c *Controller) connect(ctx context.Context, seq uint64, chatID int64) error {
	token, ok, err := c.creds.Token(ctx)
	if err != nil {
		c.fail(err, "Failed to read credentials.")
		return fmt.Errorf("read token: %w", err)
	}
	if !ok {
		c.mu.Lock()
		c.loggedOut = true
		c.errText = transport.ReasonAuthFailed.Message()
		c.mu.Unlock()
		c.notify()
		return api.ErrUnauthorized
	}

	c.mu.Lock()
	if c.seq != seq {
		c.mu.Unlock()
		return nil
	}
	// Connect under the lock so the pump cannot see this connection's
	// events before c.conn names it.
	c.conn = c.tr.Connect(chatID, token)
	c.state = transport.StateConnecting
	c.reason = transport.ReasonNone
	c.mu.Unlock()

	c.notify()
	return nil
}

func (c *Controller) pump(ctx context.Context) {
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-c.tr.Events():
			if !ok {
				return
			}
			c.handle(ctx, ev)
		}
	}
}

func (c *Controller) handle(ctx context.Context, ev transport.Event) {
	c.mu.Lock()
	if c.conn == 0 || ev.Conn != c.conn {
		c.mu.Unlock()
		c.logger.Debug("Ignoring event of stale connection", "conn_id", ev.Conn, "kind", ev.Kind)
		return
	}

	authFailed := false
	switch ev.Kind {
	case transport.EventOpen:
		c.state = transport.StateOpen
		c.reason = transport.ReasonNone
		c.notice = ""
		c.errText = ""
	case transport.EventReconnecting:
		c.state = transport.StateConnecting
		c.notice = ev.Text
	case transport.EventDisconnected:
		c.state = transport.StateDisconnected
		c.reason = ev.Reason
		c.notice = ""
		c.status = ""
		c.errText = ev.Text
		authFailed = ev.Reason == transport.ReasonAuthFailed
		if authFailed {
			c.loggedOut = true
		}
	case transport.EventMessage:
		if ev.Message != nil {
			c.history.Add(*ev.Message)
		}
		c.status = ""
	case transport.EventStatus:
		c.status = ev.Text
	case transport.EventError:
		c.errText = ev.Text
		c.status = ""
	}
	c.mu.Unlock()

	if authFailed && c.creds != nil {
		if err := c.creds.Clear(ctx); err != nil {
			c.logger.Warn("Failed to clear credential after auth failure", "error", err)
		}
	}
	c.notify()
}

// fail records err for display. Unauthorized errors were already reported
// by the gateway and only mark the session logged out.
func (c *Controller) fail(err error, text string) {
	c.mu.Lock()
	if errors.Is(err, api.ErrUnauthorized) {
		c.loggedOut = true
	} else {
		c.errText = text
	}
	c.mu.Unlock()
	c.logger.Warn(text, "error", err)
	c.notify()
}

func (c *Controller) current(seq uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq == seq
}

func (c *Controller) resetLocked() {
	c.seq++
	c.chat = nil
	c.history.Reset()
	c.conn = 0
	c.state = transport.StateDisconnected
	c.reason = transport.ReasonNone
	c.status = ""
	c.notice = ""
	c.errText = ""
	c.draft = ""
	c.creating = false
}

func (c *Controller) notify() {
	select {
	case c.updates <- struct{}{}:
	default:
	}
}
