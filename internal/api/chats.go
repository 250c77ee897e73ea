package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/ashureev/agentchat/internal/domain"
)

type createChatRequest struct {
	AgentID      int64  `json:"agent_id"`
	FirstMessage string `json:"first_message,omitempty"`
}

// ListChats returns the chats held with an agent.
func (c *Client) ListChats(ctx context.Context, agentID int64) ([]domain.Chat, error) {
	var chats []domain.Chat
	if err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/chats/agent/%d", agentID), nil, &chats); err != nil {
		return nil, fmt.Errorf("list chats of agent %d: %w", agentID, err)
	}
	return chats, nil
}

// GetChat fetches chat metadata.
func (c *Client) GetChat(ctx context.Context, chatID int64) (*domain.Chat, error) {
	var chat domain.Chat
	if err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/chats/%d", chatID), nil, &chat); err != nil {
		return nil, fmt.Errorf("get chat %d: %w", chatID, err)
	}
	return &chat, nil
}

// CreateChat creates a chat and, when firstMessage is non-empty, delivers it
// in the same round trip. The returned messages hold the initial exchange.
func (c *Client) CreateChat(ctx context.Context, agentID int64, firstMessage string) (*domain.ChatWithMessages, error) {
	var out domain.ChatWithMessages
	req := createChatRequest{AgentID: agentID, FirstMessage: firstMessage}
	if err := c.doJSON(ctx, http.MethodPost, "/chats/", req, &out); err != nil {
		return nil, fmt.Errorf("create chat with agent %d: %w", agentID, err)
	}
	return &out, nil
}

// DeleteChat removes a chat.
func (c *Client) DeleteChat(ctx context.Context, chatID int64) error {
	if err := c.doJSON(ctx, http.MethodDelete, fmt.Sprintf("/chats/%d", chatID), nil, nil); err != nil {
		return fmt.Errorf("delete chat %d: %w", chatID, err)
	}
	return nil
}

// Messages returns a chat's history in ascending creation order. The backend
// does not guarantee the order, so it is sorted here.
func (c *Client) Messages(ctx context.Context, chatID int64) ([]domain.Message, error) {
	var msgs []domain.Message
	if err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/chats/%d/messages", chatID), nil, &msgs); err != nil {
		return nil, fmt.Errorf("messages of chat %d: %w", chatID, err)
	}
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Time().Before(msgs[j].Time())
	})
	return msgs, nil
}

// WebSocketURL derives the chat socket address from the base URL by swapping
// http(s) for ws(s).
func (c *Client) WebSocketURL(chatID int64, token string) string {
	base := c.baseURL
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return fmt.Sprintf("%s/chats/ws/%d?token=%s", base, chatID, url.QueryEscape(token))
}
