package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/agentchat/internal/api"
	"github.com/ashureev/agentchat/internal/domain"
	"github.com/ashureev/agentchat/internal/store"
	"github.com/ashureev/agentchat/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGateway struct {
	mu           sync.Mutex
	history      map[int64][]domain.Message
	createCalls  int
	createGate   chan struct{}
	createErr    error
	created      *domain.ChatWithMessages
	deleted      []int64
	chatsOfAgent map[int64][]domain.Chat
}

func (g *fakeGateway) ListChats(_ context.Context, agentID int64) ([]domain.Chat, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.chatsOfAgent[agentID], nil
}

func (g *fakeGateway) CreateChat(_ context.Context, agentID int64, first string) (*domain.ChatWithMessages, error) {
	g.mu.Lock()
	g.createCalls++
	gate := g.createGate
	g.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if g.createErr != nil {
		return nil, g.createErr
	}
	return g.created, nil
}

func (g *fakeGateway) DeleteChat(_ context.Context, chatID int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deleted = append(g.deleted, chatID)
	return nil
}

func (g *fakeGateway) Messages(_ context.Context, chatID int64) ([]domain.Message, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.history[chatID], nil
}

type fakeTransport struct {
	mu       sync.Mutex
	seq      transport.ConnID
	connects []int64
	closes   int
	sent     []string
	sendErr  error
	events   chan transport.Event
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{events: make(chan transport.Event, 16)}
}

func (f *fakeTransport) Connect(chatID int64, _ string) transport.ConnID {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	f.connects = append(f.connects, chatID)
	return f.seq
}

func (f *fakeTransport) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
}

func (f *fakeTransport) Send(_ context.Context, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, content)
	return nil
}

func (f *fakeTransport) Events() <-chan transport.Event {
	return f.events
}

func (f *fakeTransport) Connects() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.connects...)
}

func newTestController(t *testing.T, gw *fakeGateway) (*Controller, *fakeTransport, *store.MemoryStore) {
	t.Helper()
	tr := newFakeTransport()
	creds := store.NewMemory()
	require.NoError(t, creds.SetToken(context.Background(), "tok"))

	c := NewController(gw, tr, creds, nil)
	c.Start(context.Background())
	t.Cleanup(c.Dispose)
	return c, tr, creds
}

// waitFor polls the snapshot until cond holds.
func waitFor(t *testing.T, c *Controller, cond func(Snapshot) bool) Snapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s := c.Snapshot(); cond(s) {
			return s
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met, last snapshot: %+v", c.Snapshot())
	return Snapshot{}
}

func TestController_SelectChat_MergesHistoryAndLive(t *testing.T) {
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	gw := &fakeGateway{history: map[int64][]domain.Message{
		9: {msgAt("1", "hi", base), msgAt("2", "hello there", base.Add(time.Second))},
	}}
	c, tr, _ := newTestController(t, gw)

	require.NoError(t, c.SelectChat(context.Background(), domain.Chat{ID: 9, AgentID: 4}))
	assert.Equal(t, []int64{9}, tr.Connects())

	conn := c.Snapshot().Conn
	dup := msgAt("2", "hello there", base.Add(time.Second))
	live := msgAt("3", "how are you?", base.Add(2*time.Second))
	tr.events <- transport.Event{Kind: transport.EventOpen, Conn: conn}
	tr.events <- transport.Event{Kind: transport.EventMessage, Conn: conn, Message: &dup}
	tr.events <- transport.Event{Kind: transport.EventMessage, Conn: conn, Message: &live}

	s := waitFor(t, c, func(s Snapshot) bool { return len(s.Messages) == 3 })
	assert.Equal(t, []string{"hi", "hello there", "how are you?"}, contents(s.Messages))
	assert.Equal(t, transport.StateOpen, s.State)
	assert.Equal(t, int64(4), s.AgentID)
}

func TestController_IgnoresEventsOfPreviousChat(t *testing.T) {
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	gw := &fakeGateway{history: map[int64][]domain.Message{}}
	c, tr, _ := newTestController(t, gw)

	require.NoError(t, c.SelectChat(context.Background(), domain.Chat{ID: 1, AgentID: 4}))
	oldConn := c.Snapshot().Conn
	require.NoError(t, c.SelectChat(context.Background(), domain.Chat{ID: 2, AgentID: 4}))
	newConn := c.Snapshot().Conn
	require.NotEqual(t, oldConn, newConn)

	stale := msgAt("10", "from chat A", base)
	fresh := msgAt("11", "from chat B", base.Add(time.Second))
	tr.events <- transport.Event{Kind: transport.EventMessage, Conn: oldConn, Message: &stale}
	tr.events <- transport.Event{Kind: transport.EventDisconnected, Conn: oldConn, Reason: transport.ReasonAuthFailed, Text: "stale"}
	tr.events <- transport.Event{Kind: transport.EventMessage, Conn: newConn, Message: &fresh}

	s := waitFor(t, c, func(s Snapshot) bool { return len(s.Messages) == 1 })
	assert.Equal(t, []string{"from chat B"}, contents(s.Messages))
	assert.False(t, s.LoggedOut)
	assert.Empty(t, s.Error)
}

func TestController_Send_CreatesChatExactlyOnce(t *testing.T) {
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	gate := make(chan struct{})
	gw := &fakeGateway{
		createGate: gate,
		created: &domain.ChatWithMessages{
			Chat: domain.Chat{ID: 77, AgentID: 4},
			Messages: []domain.Message{
				{ID: "1", Content: "hi", Sender: domain.SenderUser, CreatedAt: domain.NewTimestamp(base)},
				{ID: "2", Content: "hello!", Sender: domain.SenderAI, CreatedAt: domain.NewTimestamp(base.Add(time.Second))},
			},
		},
	}
	c, tr, _ := newTestController(t, gw)
	c.NewChat(4)

	errc := make(chan error, 1)
	go func() { errc <- c.Send(context.Background(), "hi") }()

	waitFor(t, c, func(s Snapshot) bool { return s.Creating })
	assert.ErrorIs(t, c.Send(context.Background(), "again"), ErrBusy)
	close(gate)
	require.NoError(t, <-errc)

	s := c.Snapshot()
	require.NotNil(t, s.Chat)
	assert.Equal(t, int64(77), s.Chat.ID)
	assert.Equal(t, []string{"hi", "hello!"}, contents(s.Messages))
	assert.Equal(t, []int64{77}, tr.Connects())
	assert.Equal(t, 1, gw.createCalls)

	// Subsequent messages go over the connection.
	require.NoError(t, c.Send(context.Background(), "next"))
	assert.Equal(t, []string{"next"}, tr.sent)
	assert.Equal(t, 1, gw.createCalls)
}

func TestController_Send_CreateFailureRestoresDraft(t *testing.T) {
	gw := &fakeGateway{createErr: &api.StatusError{StatusCode: 500}}
	c, tr, _ := newTestController(t, gw)
	c.NewChat(4)

	err := c.Send(context.Background(), "  hello  ")
	var se *api.StatusError
	require.ErrorAs(t, err, &se)

	s := c.Snapshot()
	assert.Equal(t, "hello", s.Draft)
	assert.NotEmpty(t, s.Error)
	assert.False(t, s.Creating)
	assert.Nil(t, s.Chat)
	assert.Empty(t, tr.Connects())
	assert.Equal(t, "hello", c.TakeDraft())
	assert.Empty(t, c.Snapshot().Draft)
}

func TestController_Send_UnauthorizedNotReportedTwice(t *testing.T) {
	gw := &fakeGateway{createErr: api.ErrUnauthorized}
	c, _, _ := newTestController(t, gw)
	c.NewChat(4)

	require.ErrorIs(t, c.Send(context.Background(), "hello"), api.ErrUnauthorized)
	s := c.Snapshot()
	assert.True(t, s.LoggedOut)
	assert.Empty(t, s.Error)
	assert.Equal(t, "hello", s.Draft)
}

func TestController_Send_DisconnectedIsNotQueued(t *testing.T) {
	gw := &fakeGateway{history: map[int64][]domain.Message{}}
	c, tr, _ := newTestController(t, gw)
	require.NoError(t, c.SelectChat(context.Background(), domain.Chat{ID: 3, AgentID: 4}))
	tr.sendErr = transport.ErrNotConnected

	require.ErrorIs(t, c.Send(context.Background(), "lost?"), transport.ErrNotConnected)
	s := c.Snapshot()
	assert.Equal(t, "lost?", s.Draft)
	assert.Equal(t, "Not connected. Message not sent.", s.Error)
	assert.Empty(t, tr.sent)
}

func TestController_Send_Validation(t *testing.T) {
	c, _, _ := newTestController(t, &fakeGateway{})
	assert.ErrorIs(t, c.Send(context.Background(), "   "), ErrEmptyMessage)
	assert.ErrorIs(t, c.Send(context.Background(), "hi"), ErrNoAgent)

	_, err := c.Chats(context.Background())
	assert.ErrorIs(t, err, ErrNoAgent)
}

func TestController_AuthFailureClearsCredentials(t *testing.T) {
	c, tr, creds := newTestController(t, &fakeGateway{history: map[int64][]domain.Message{}})
	require.NoError(t, c.SelectChat(context.Background(), domain.Chat{ID: 3, AgentID: 4}))

	conn := c.Snapshot().Conn
	tr.events <- transport.Event{
		Kind:   transport.EventDisconnected,
		Conn:   conn,
		Reason: transport.ReasonAuthFailed,
		Text:   transport.ReasonAuthFailed.Message(),
	}

	s := waitFor(t, c, func(s Snapshot) bool { return s.LoggedOut })
	assert.Equal(t, transport.StateDisconnected, s.State)
	assert.Equal(t, transport.ReasonAuthFailed, s.Reason)
	assert.Equal(t, "Authentication failed. Please log in again.", s.Error)

	require.Eventually(t, func() bool {
		_, ok, err := creds.Token(context.Background())
		return err == nil && !ok
	}, time.Second, 2*time.Millisecond)
}

func TestController_StatusAndErrorFrames(t *testing.T) {
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	c, tr, _ := newTestController(t, &fakeGateway{history: map[int64][]domain.Message{}})
	require.NoError(t, c.SelectChat(context.Background(), domain.Chat{ID: 3, AgentID: 4}))
	conn := c.Snapshot().Conn

	tr.events <- transport.Event{Kind: transport.EventStatus, Conn: conn, Status: "thinking", Text: "Thinking..."}
	waitFor(t, c, func(s Snapshot) bool { return s.Status == "Thinking..." })

	reply := msgAt("5", "done thinking", base)
	tr.events <- transport.Event{Kind: transport.EventMessage, Conn: conn, Message: &reply}
	waitFor(t, c, func(s Snapshot) bool { return s.Status == "" && len(s.Messages) == 1 })

	tr.events <- transport.Event{Kind: transport.EventReconnecting, Conn: conn, Attempt: 1, Text: "Reconnecting (1/5)"}
	s := waitFor(t, c, func(s Snapshot) bool { return s.Notice != "" })
	assert.Equal(t, transport.StateConnecting, s.State)

	tr.events <- transport.Event{Kind: transport.EventError, Conn: conn, Text: "model unavailable"}
	s = waitFor(t, c, func(s Snapshot) bool { return s.Error != "" })
	assert.Equal(t, "model unavailable", s.Error)
	assert.Len(t, s.Messages, 1)
}

func TestController_DeleteChat_CurrentReturnsToNewChat(t *testing.T) {
	gw := &fakeGateway{
		history:      map[int64][]domain.Message{},
		chatsOfAgent: map[int64][]domain.Chat{4: {{ID: 3, AgentID: 4}}},
	}
	c, _, _ := newTestController(t, gw)

	chats, err := c.SelectAgent(context.Background(), 4)
	require.NoError(t, err)
	require.Len(t, chats, 1)

	require.NoError(t, c.SelectChat(context.Background(), chats[0]))
	require.NoError(t, c.DeleteChat(context.Background(), 3))

	s := c.Snapshot()
	assert.Nil(t, s.Chat)
	assert.Equal(t, int64(4), s.AgentID)
	assert.Equal(t, transport.ConnID(0), s.Conn)
	assert.Equal(t, []int64{3}, gw.deleted)
}

func TestController_Dispose(t *testing.T) {
	tr := newFakeTransport()
	c := NewController(&fakeGateway{}, tr, store.NewMemory(), nil)
	c.Start(context.Background())
	c.Dispose()

	select {
	case <-c.done:
	default:
		t.Fatal("pump still running")
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()
	assert.Positive(t, tr.closes)
}
