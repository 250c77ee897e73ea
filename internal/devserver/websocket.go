package devserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ashureev/agentchat/internal/domain"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

type inboundFrame struct {
	Content string `json:"content"`
}

type statusFrame struct {
	Type    string `json:"type"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

type errorFrame struct {
	ID        string           `json:"id"`
	Error     bool             `json:"error"`
	Content   string           `json:"content"`
	Sender    domain.Sender    `json:"sender"`
	Timestamp domain.Timestamp `json:"timestamp"`
}

// liveFrame renders a stored message the way the socket sends it: with a
// timestamp instead of created_at.
func liveFrame(m domain.Message) domain.Message {
	m.Timestamp = m.CreatedAt
	m.CreatedAt = domain.Timestamp{}
	return m
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if s.isDevelopment() {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || origin == s.allowedOrigin {
		return true
	}
	s.logger.Warn("WebSocket origin rejected", "origin", origin, "allowed", s.allowedOrigin)
	return false
}

// chatSocket serves GET /chats/ws/{chatID}?token=. Authentication and chat
// lookup happen after the upgrade so failures reach the client as a 1008
// close.
func (s *Server) chatSocket(w http.ResponseWriter, r *http.Request) {
	if !s.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Error("Failed to accept WebSocket", "error", err)
		return
	}

	userID, ok := s.state.userForToken(r.URL.Query().Get("token"))
	if !ok {
		s.logger.Warn("Chat socket rejected, invalid token", "ip", r.RemoteAddr)
		_ = ws.Close(websocket.StatusPolicyViolation, "Invalid authentication token")
		return
	}
	chatID, _ := idParam(r, "chatID")
	chat, err := s.state.chat(userID, chatID)
	if err != nil {
		_ = ws.Close(websocket.StatusPolicyViolation, "Chat not found")
		return
	}
	agent, err := s.state.agent(userID, chat.AgentID)
	if err != nil {
		_ = ws.Close(websocket.StatusPolicyViolation, "Agent not found")
		return
	}

	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			s.logger.Debug("Failed to close websocket", "error", closeErr, "chat_id", chat.ID)
		}
	}()

	s.sessions.Register(chat.ID, ws)
	defer s.sessions.Unregister(chat.ID, ws)

	s.logger.Info("Chat socket connected", "chat_id", chat.ID, "user_id", userID)
	s.inputLoop(r.Context(), ws, chat, agent)
	s.logger.Info("Chat socket ended", "chat_id", chat.ID)
}

func (s *Server) inputLoop(ctx context.Context, ws *websocket.Conn, chat domain.Chat, agent domain.Agent) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				s.logger.Debug("WebSocket closed by client", "chat_id", chat.ID)
			} else {
				s.logger.Debug("WebSocket read error", "error", err, "chat_id", chat.ID)
			}
			return
		}

		var in inboundFrame
		if err := json.Unmarshal(data, &in); err != nil || strings.TrimSpace(in.Content) == "" {
			if err := s.writeError(ctx, ws, chat.ID, "Message content is required"); err != nil {
				return
			}
			continue
		}

		if err := s.handleMessage(ctx, ws, chat, agent, strings.TrimSpace(in.Content)); err != nil {
			s.logger.Debug("WebSocket write error", "error", err, "chat_id", chat.ID)
			return
		}
	}
}

// handleMessage echoes the user's message, reports that the agent is
// thinking, then sends the reply or an error frame.
func (s *Server) handleMessage(ctx context.Context, ws *websocket.Conn, chat domain.Chat, agent domain.Agent, content string) error {
	userMsg, err := s.state.addMessage(chat.ID, domain.SenderUser, content)
	if err != nil {
		return s.writeError(ctx, ws, chat.ID, "Chat not found")
	}
	if err := wsjson.Write(ctx, ws, liveFrame(userMsg)); err != nil {
		return err
	}
	if err := wsjson.Write(ctx, ws, statusFrame{Type: "status", Status: "thinking", Message: "Thinking..."}); err != nil {
		return err
	}

	reply, err := s.reply(ctx, chat, agent)
	if err != nil {
		s.logger.Warn("Reply generation failed", "chat_id", chat.ID, "error", err)
		return s.writeError(ctx, ws, chat.ID, "Sorry, something went wrong while generating a reply.")
	}
	return wsjson.Write(ctx, ws, liveFrame(reply))
}

func (s *Server) writeError(ctx context.Context, ws *websocket.Conn, chatID int64, text string) error {
	ts := time.Now().UTC()
	return wsjson.Write(ctx, ws, errorFrame{
		ID:        fmt.Sprintf("error_%d_%d", chatID, ts.UnixMilli()),
		Error:     true,
		Content:   text,
		Sender:    domain.SenderSystem,
		Timestamp: domain.NewTimestamp(ts),
	})
}
