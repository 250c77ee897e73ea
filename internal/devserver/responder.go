package devserver

import (
	"context"
	"fmt"

	"github.com/ashureev/agentchat/internal/domain"
)

// Responder produces the agent's reply to the latest message of a chat.
type Responder interface {
	Reply(ctx context.Context, agent domain.Agent, history []domain.Message) (string, error)
}

// ResponderFunc adapts a function to Responder.
type ResponderFunc func(ctx context.Context, agent domain.Agent, history []domain.Message) (string, error)

// Reply calls f.
func (f ResponderFunc) Reply(ctx context.Context, agent domain.Agent, history []domain.Message) (string, error) {
	return f(ctx, agent, history)
}

// EchoResponder answers in character by repeating the user's last message.
type EchoResponder struct{}

// Reply implements Responder.
func (EchoResponder) Reply(_ context.Context, agent domain.Agent, history []domain.Message) (string, error) {
	var last string
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Sender == domain.SenderUser {
			last = history[i].Content
			break
		}
	}
	name := agent.Name
	if name == "" {
		name = "Agent"
	}
	return fmt.Sprintf("%s: you said %q.", name, last), nil
}
