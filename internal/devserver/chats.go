package devserver

import (
	"context"
	"net/http"
	"strings"

	"github.com/ashureev/agentchat/internal/domain"
)

type createChatRequest struct {
	AgentID      int64  `json:"agent_id"`
	FirstMessage string `json:"first_message"`
}

func (s *Server) createChat(w http.ResponseWriter, r *http.Request) {
	var req createChatRequest
	if err := decodeBody(r, &req); err != nil {
		Error(w, http.StatusUnprocessableEntity, "invalid request body")
		return
	}
	userID := UserIDFromContext(r.Context())
	agent, err := s.state.agent(userID, req.AgentID)
	if err != nil {
		Error(w, http.StatusNotFound, "Agent not found")
		return
	}
	chat, err := s.state.createChat(userID, agent.ID)
	if err != nil {
		Error(w, http.StatusNotFound, "Agent not found")
		return
	}
	s.logger.Info("Chat created", "chat_id", chat.ID, "agent_id", agent.ID)

	out := domain.ChatWithMessages{Chat: chat, Messages: []domain.Message{}}
	if first := strings.TrimSpace(req.FirstMessage); first != "" {
		msgs, err := s.exchange(r.Context(), chat, agent, first)
		if err != nil {
			s.logger.Error("Failed to answer first message", "chat_id", chat.ID, "error", err)
			Error(w, http.StatusInternalServerError, "Failed to generate a reply")
			return
		}
		out.Messages = msgs
	}
	JSON(w, http.StatusCreated, out)
}

// exchange stores the user's message and the agent's reply.
func (s *Server) exchange(ctx context.Context, chat domain.Chat, agent domain.Agent, content string) ([]domain.Message, error) {
	userMsg, err := s.state.addMessage(chat.ID, domain.SenderUser, content)
	if err != nil {
		return nil, err
	}
	reply, err := s.reply(ctx, chat, agent)
	if err != nil {
		return []domain.Message{userMsg}, err
	}
	return []domain.Message{userMsg, reply}, nil
}

func (s *Server) reply(ctx context.Context, chat domain.Chat, agent domain.Agent) (domain.Message, error) {
	history, err := s.state.chatMessages(chat.UserID, chat.ID)
	if err != nil {
		return domain.Message{}, err
	}
	text, err := s.responder.Reply(ctx, agent, history)
	if err != nil {
		return domain.Message{}, err
	}
	return s.state.addMessage(chat.ID, domain.SenderAI, text)
}

func (s *Server) listChats(w http.ResponseWriter, r *http.Request) {
	a, ok := s.withAgent(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, s.state.chatsOfAgent(a.OwnerID, a.ID))
}

func (s *Server) withChat(w http.ResponseWriter, r *http.Request) (domain.Chat, bool) {
	id, ok := idParam(r, "chatID")
	if !ok {
		Error(w, http.StatusNotFound, "Chat not found")
		return domain.Chat{}, false
	}
	c, err := s.state.chat(UserIDFromContext(r.Context()), id)
	if err != nil {
		Error(w, http.StatusNotFound, "Chat not found")
		return domain.Chat{}, false
	}
	return c, true
}

func (s *Server) getChat(w http.ResponseWriter, r *http.Request) {
	if c, ok := s.withChat(w, r); ok {
		JSON(w, http.StatusOK, c)
	}
}

func (s *Server) deleteChat(w http.ResponseWriter, r *http.Request) {
	c, ok := s.withChat(w, r)
	if !ok {
		return
	}
	if err := s.state.deleteChat(c.UserID, c.ID); err != nil {
		Error(w, http.StatusNotFound, "Chat not found")
		return
	}
	s.sessions.CloseChat(c.ID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	c, ok := s.withChat(w, r)
	if !ok {
		return
	}
	msgs, err := s.state.chatMessages(c.UserID, c.ID)
	if err != nil {
		Error(w, http.StatusNotFound, "Chat not found")
		return
	}
	JSON(w, http.StatusOK, msgs)
}
