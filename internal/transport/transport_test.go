package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ashureev/agentchat/internal/domain"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTransport(t *testing.T, h http.Handler, b Backoff) *Transport {
	t.Helper()
	return newTestTransportWithOptions(t, h, Options{Backoff: b})
}

func newTestTransportWithOptions(t *testing.T, h http.Handler, opts Options) *Transport {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	wsBase := "ws" + strings.TrimPrefix(srv.URL, "http")
	opts.URL = func(chatID int64, token string) string {
		return fmt.Sprintf("%s/chats/ws/%d?token=%s", wsBase, chatID, token)
	}
	tr := New(opts)
	t.Cleanup(tr.Close)
	return tr
}

func fastBackoff() Backoff {
	return Backoff{Base: time.Millisecond, Max: 4 * time.Millisecond, MaxAttempts: 5}
}

func next(t *testing.T, tr *Transport) Event {
	t.Helper()
	select {
	case ev := <-tr.Events():
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for transport event")
	}
	return Event{}
}

func nextOf(t *testing.T, tr *Transport, kind EventKind) Event {
	t.Helper()
	for {
		ev := next(t, tr)
		if ev.Kind == kind {
			return ev
		}
	}
}

func TestBackoff_Delay(t *testing.T) {
	b := DefaultBackoff()
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second, 10 * time.Second}
	for attempt, d := range want {
		assert.Equal(t, d, b.Delay(attempt), "attempt %d", attempt)
	}
}

func TestTransport_GivesUpAfterMaxAttempts(t *testing.T) {
	var dials atomic.Int32
	tr := newTestTransport(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		dials.Add(1)
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}), fastBackoff())

	id := tr.Connect(5, "tok")

	wantDelays := []time.Duration{1, 2, 4, 4, 4}
	for i, d := range wantDelays {
		ev := next(t, tr)
		require.Equal(t, EventReconnecting, ev.Kind)
		assert.Equal(t, id, ev.Conn)
		assert.Equal(t, i+1, ev.Attempt)
		assert.Equal(t, 5, ev.MaxAttempts)
		assert.Equal(t, d*time.Millisecond, ev.Delay)
		assert.Contains(t, ev.Text, fmt.Sprintf("(%d/5)", i+1))
	}

	ev := next(t, tr)
	require.Equal(t, EventDisconnected, ev.Kind)
	assert.Equal(t, ReasonGaveUp, ev.Reason)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(6), dials.Load())
	st := tr.Status()
	assert.Equal(t, StateDisconnected, st.State)
	assert.Equal(t, ReasonGaveUp, st.Reason)
}

func TestTransport_PolicyViolationCloseIsTerminal(t *testing.T) {
	var dials atomic.Int32
	tr := newTestTransport(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dials.Add(1)
		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		_ = ws.Close(websocket.StatusPolicyViolation, "invalid token")
	}), fastBackoff())

	tr.Connect(5, "bad")

	assert.Equal(t, EventOpen, next(t, tr).Kind)
	ev := next(t, tr)
	require.Equal(t, EventDisconnected, ev.Kind)
	assert.Equal(t, ReasonAuthFailed, ev.Reason)
	assert.Equal(t, "Authentication failed. Please log in again.", ev.Text)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), dials.Load())
}

func TestTransport_ReplacedCloseIsTerminal(t *testing.T) {
	var dials atomic.Int32
	tr := newTestTransport(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dials.Add(1)
		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		_ = ws.Close(websocket.StatusCode(domain.CloseSessionReplaced), "session replaced")
	}), fastBackoff())

	tr.Connect(5, "tok")

	assert.Equal(t, EventOpen, next(t, tr).Kind)
	ev := next(t, tr)
	require.Equal(t, EventDisconnected, ev.Kind)
	assert.Equal(t, ReasonReplaced, ev.Reason)
	assert.Equal(t, "This chat was opened in another session.", ev.Text)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), dials.Load())
}

func TestTransport_HandshakeUnauthorizedIsTerminal(t *testing.T) {
	var dials atomic.Int32
	tr := newTestTransport(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		dials.Add(1)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}), fastBackoff())

	tr.Connect(5, "bad")
	ev := next(t, tr)
	require.Equal(t, EventDisconnected, ev.Kind)
	assert.Equal(t, ReasonAuthFailed, ev.Reason)
	assert.Equal(t, int32(1), dials.Load())
}

func TestTransport_ResetsAttemptsAfterOpen(t *testing.T) {
	var dials atomic.Int32
	tr := newTestTransport(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := dials.Add(1)
		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		if n == 1 {
			_ = ws.Close(websocket.StatusGoingAway, "restart")
			return
		}
		<-r.Context().Done()
	}), fastBackoff())

	tr.Connect(1, "tok")
	assert.Equal(t, EventOpen, next(t, tr).Kind)
	ev := next(t, tr)
	require.Equal(t, EventReconnecting, ev.Kind)
	assert.Equal(t, 1, ev.Attempt)
	assert.Equal(t, EventOpen, next(t, tr).Kind)
	assert.Equal(t, 0, tr.Status().Attempt)
}

func TestTransport_Connect_DropsSupersededEvents(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/chats/ws/{id}", func(w http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = ws.CloseNow() }()
		if r.PathValue("id") == "1" {
			time.Sleep(50 * time.Millisecond)
		}
		_ = wsjson.Write(r.Context(), ws, map[string]any{
			"id": 100, "content": "from chat " + r.PathValue("id"), "sender": "ai", "timestamp": "2024-05-01T10:00:00",
		})
		<-r.Context().Done()
	})
	tr := newTestTransport(t, mux, fastBackoff())

	first := tr.Connect(1, "tok")
	second := tr.Connect(2, "tok")
	require.Greater(t, second, first)

	ev := nextOf(t, tr, EventMessage)
	assert.Equal(t, second, ev.Conn)
	assert.Equal(t, "from chat 2", ev.Message.Content)

	deadline := time.After(150 * time.Millisecond)
	for {
		select {
		case ev := <-tr.Events():
			assert.Equal(t, second, ev.Conn, "event of superseded connection delivered: %+v", ev)
		case <-deadline:
			return
		}
	}
}

func TestTransport_Send_RequiresOpenConnection(t *testing.T) {
	received := make(chan string, 1)
	tr := newTestTransport(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = ws.CloseNow() }()
		var in struct {
			Content string `json:"content"`
		}
		if err := wsjson.Read(r.Context(), ws, &in); err == nil {
			received <- in.Content
		}
		<-r.Context().Done()
	}), fastBackoff())

	require.ErrorIs(t, tr.Send(context.Background(), "early"), ErrNotConnected)

	tr.Connect(3, "tok")
	require.Equal(t, EventOpen, next(t, tr).Kind)
	require.NoError(t, tr.Send(context.Background(), "hello"))

	select {
	case got := <-received:
		assert.Equal(t, "hello", got)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not receive message")
	}
}

func TestTransport_Close_DoesNotReconnect(t *testing.T) {
	var dials atomic.Int32
	closed := make(chan websocket.StatusCode, 1)
	tr := newTestTransport(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dials.Add(1)
		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		_, _, err = ws.Read(r.Context())
		closed <- websocket.CloseStatus(err)
	}), fastBackoff())

	tr.Connect(3, "tok")
	require.Equal(t, EventOpen, next(t, tr).Kind)
	tr.Close()

	select {
	case code := <-closed:
		assert.Equal(t, websocket.StatusNormalClosure, code)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not observe close")
	}
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), dials.Load())
	assert.Equal(t, StateDisconnected, tr.Status().State)
	require.ErrorIs(t, tr.Send(context.Background(), "late"), ErrNotConnected)
}

func TestTransport_CloseBoundedWhenPeerIgnoresHandshake(t *testing.T) {
	release := make(chan struct{})
	tr := newTestTransportWithOptions(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer ws.CloseNow()
		// Never read, so the client's close frame is never answered.
		<-release
	}), Options{Backoff: fastBackoff(), CloseTimeout: 50 * time.Millisecond})
	t.Cleanup(func() { close(release) })

	tr.Connect(3, "tok")
	require.Equal(t, EventOpen, next(t, tr).Kind)

	start := time.Now()
	tr.Close()
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, StateDisconnected, tr.Status().State)
}

func TestClassify(t *testing.T) {
	ev, err := classify([]byte(`{"type":"status","status":"thinking","message":"Thinking..."}`))
	require.NoError(t, err)
	assert.Equal(t, EventStatus, ev.Kind)
	assert.Equal(t, "thinking", ev.Status)
	assert.Equal(t, "Thinking...", ev.Text)

	ev, err = classify([]byte(`{"id":"error_5_1700000000.1","error":true,"content":"model unavailable","sender":"system"}`))
	require.NoError(t, err)
	assert.Equal(t, EventError, ev.Kind)
	assert.Equal(t, "model unavailable", ev.Text)

	ev, err = classify([]byte(`{"error":"container_not_ready"}`))
	require.NoError(t, err)
	assert.Equal(t, EventError, ev.Kind)
	assert.Equal(t, "container_not_ready", ev.Text)

	ev, err = classify([]byte(`{"id":"system_prompt_5","content":"hi","sender":"system","error":false,"timestamp":"2024-05-01T10:00:00.123456"}`))
	require.NoError(t, err)
	assert.Equal(t, EventMessage, ev.Kind)
	assert.Equal(t, "system_prompt_5", string(ev.Message.ID))

	_, err = classify([]byte(`not json`))
	assert.Error(t, err)
	_, err = classify([]byte(`[1,2]`))
	assert.Error(t, err)
}
