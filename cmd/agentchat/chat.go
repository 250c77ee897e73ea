package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/ashureev/agentchat/internal/api"
	"github.com/ashureev/agentchat/internal/chat"
	"github.com/ashureev/agentchat/internal/domain"
	"github.com/ashureev/agentchat/internal/transport"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var (
	colorUser   = lipgloss.Color("#3B82F6")
	colorAgent  = lipgloss.Color("#10B981")
	colorWarn   = lipgloss.Color("#F59E0B")
	colorError  = lipgloss.Color("#EF4444")
	colorMuted  = lipgloss.Color("#6B7280")
	userStyle   = lipgloss.NewStyle().Foreground(colorUser).Bold(true)
	agentStyle  = lipgloss.NewStyle().Foreground(colorAgent).Bold(true)
	systemStyle = lipgloss.NewStyle().Foreground(colorError)
	noticeStyle = lipgloss.NewStyle().Foreground(colorWarn)
	dimStyle    = lipgloss.NewStyle().Foreground(colorMuted).Italic(true)
	titleStyle  = lipgloss.NewStyle().
			Bold(true).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorAgent).
			Padding(0, 1)
)

const chatHelp = "Commands: /new starts a new chat, /chats lists chats, /open ID opens one, /quit exits."

// chatView prints controller snapshots as an append-only transcript.
type chatView struct {
	out       io.Writer
	agentName string

	mu     sync.Mutex
	chatID int64
	seen   map[string]bool
	status string
	notice string
	errMsg string
	state  transport.State
}

func newChatView(out io.Writer, agentName string) *chatView {
	return &chatView{out: out, agentName: agentName, seen: make(map[string]bool)}
}

func messageKey(m domain.Message) string {
	if m.ID != "" {
		return string(m.ID)
	}
	return fmt.Sprintf("%s|%d|%s", m.Sender, m.Time().UnixNano(), m.Content)
}

func (v *chatView) formatMessage(m domain.Message) string {
	ts := ""
	if t := m.Time(); !t.IsZero() {
		ts = dimStyle.Render(t.Local().Format("15:04")) + " "
	}
	switch m.Sender {
	case domain.SenderUser:
		return ts + userStyle.Render("You:") + " " + m.Content
	case domain.SenderAI:
		line := ts + agentStyle.Render(v.agentName+":") + " " + m.Content
		if m.ImageURL != "" {
			line += "\n" + dimStyle.Render("  [image] "+m.ImageURL)
		}
		return line
	default:
		return ts + systemStyle.Render(m.Content)
	}
}

// render prints whatever changed since the previous snapshot.
func (v *chatView) render(s chat.Snapshot) {
	v.mu.Lock()
	defer v.mu.Unlock()

	var chatID int64
	if s.Chat != nil {
		chatID = s.Chat.ID
	}
	if chatID != v.chatID {
		v.chatID = chatID
		v.seen = make(map[string]bool)
		if chatID != 0 {
			fmt.Fprintln(v.out, titleStyle.Render(fmt.Sprintf("Chat %d with %s", chatID, v.agentName)))
		}
	}

	for _, m := range s.Messages {
		key := messageKey(m)
		if v.seen[key] {
			continue
		}
		v.seen[key] = true
		fmt.Fprintln(v.out, v.formatMessage(m))
	}

	if s.State != v.state {
		if s.State == transport.StateOpen && v.state == transport.StateConnecting && v.notice != "" {
			fmt.Fprintln(v.out, noticeStyle.Render("Reconnected."))
		}
		v.state = s.State
	}
	if s.Notice != v.notice {
		v.notice = s.Notice
		if s.Notice != "" {
			fmt.Fprintln(v.out, noticeStyle.Render(s.Notice))
		}
	}
	if s.Status != v.status {
		v.status = s.Status
		if s.Status != "" {
			fmt.Fprintln(v.out, dimStyle.Render(s.Status))
		}
	}
	if s.Error != v.errMsg {
		v.errMsg = s.Error
		if s.Error != "" {
			fmt.Fprintln(v.out, systemStyle.Render(s.Error))
		}
	}
}

// errorText prefers the backend's detail message over the request summary.
func errorText(err error) string {
	var se *api.StatusError
	if errors.As(err, &se) && se.Detail != "" {
		return se.Detail
	}
	return err.Error()
}

// chatSession runs one interactive chat against a controller.
type chatSession struct {
	app   *app
	ctrl  *chat.Controller
	view  *chatView
	agent *domain.Agent
	out   io.Writer
}

// command handles a slash command. It reports false when the session should end.
func (s *chatSession) command(ctx context.Context, line string) (bool, error) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return false, nil
	case "/help":
		fmt.Fprintln(s.out, dimStyle.Render(chatHelp))
	case "/new":
		s.ctrl.NewChat(s.agent.ID)
		fmt.Fprintln(s.out, dimStyle.Render("New chat. Your next message starts it."))
	case "/chats":
		chats, err := s.ctrl.Chats(ctx)
		if err != nil {
			return true, nil
		}
		if len(chats) == 0 {
			fmt.Fprintln(s.out, dimStyle.Render("No chats yet."))
		}
		for _, c := range chats {
			fmt.Fprintln(s.out, dimStyle.Render(fmt.Sprintf("  %d  %s", c.ID, c.CreatedAt.Local().Format("2006-01-02 15:04"))))
		}
	case "/open":
		if len(fields) != 2 {
			fmt.Fprintln(s.out, systemStyle.Render("Usage: /open CHAT_ID"))
			return true, nil
		}
		id, err := parseID(fields[1], "chat")
		if err != nil {
			fmt.Fprintln(s.out, systemStyle.Render(err.Error()))
			return true, nil
		}
		c, err := s.app.client.GetChat(ctx, id)
		if errors.Is(err, api.ErrUnauthorized) {
			return false, err
		}
		if err != nil {
			fmt.Fprintln(s.out, systemStyle.Render(errorText(err)))
			return true, nil
		}
		if c.AgentID != s.agent.ID {
			fmt.Fprintln(s.out, systemStyle.Render("That chat belongs to another agent."))
			return true, nil
		}
		if err := s.ctrl.SelectChat(ctx, *c); err != nil {
			s.app.logger.Debug("Open chat failed", "chat_id", id, "error", err)
		}
	default:
		fmt.Fprintln(s.out, systemStyle.Render("Unknown command. "+chatHelp))
	}
	return true, nil
}

func (s *chatSession) send(ctx context.Context, line string) {
	err := s.ctrl.Send(ctx, line)
	switch {
	case err == nil, errors.Is(err, chat.ErrEmptyMessage):
	case errors.Is(err, chat.ErrBusy):
		fmt.Fprintln(s.out, noticeStyle.Render("Still starting the chat, please wait."))
	default:
		if draft := s.ctrl.TakeDraft(); draft != "" {
			fmt.Fprintln(s.out, dimStyle.Render("Not sent: "+draft))
		}
	}
}

func (s *chatSession) run(ctx context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)

	rendered := make(chan struct{})
	go func() {
		defer close(rendered)
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.ctrl.Updates():
				snap := s.ctrl.Snapshot()
				s.view.render(snap)
				if snap.LoggedOut {
					cancel()
					return
				}
			}
		}
	}()
	defer func() {
		cancel()
		<-rendered
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			if s.ctrl.Snapshot().LoggedOut {
				return errors.New("session ended: please log in again")
			}
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if strings.HasPrefix(line, "/") {
				more, err := s.command(ctx, line)
				if err != nil || !more {
					return err
				}
				continue
			}
			s.send(ctx, line)
		}
	}
}

func newChatCommand(a *app) *cobra.Command {
	var (
		agentID  int64
		chatID   int64
		username string
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with an agent in real time",
		Long: "Opens an interactive chat. With --chat an existing conversation is resumed; " +
			"otherwise the first message starts a new one.\n\n" + chatHelp,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if username != "" {
				if err := a.login(cmd, username, ""); err != nil {
					return err
				}
			}

			var existing *domain.Chat
			if chatID > 0 {
				c, err := a.client.GetChat(ctx, chatID)
				if err != nil {
					return err
				}
				existing = c
				agentID = c.AgentID
			}
			if agentID <= 0 {
				return errors.New("--agent or --chat is required")
			}
			agent, err := a.client.GetAgent(ctx, agentID)
			if err != nil {
				return err
			}

			tr := transport.New(transport.Options{
				URL: a.client.WebSocketURL,
				Backoff: transport.Backoff{
					Base:        a.cfg.Reconnect.Base,
					Max:         a.cfg.Reconnect.Max,
					MaxAttempts: a.cfg.Reconnect.MaxAttempts,
				},
				Logger: a.logger,
			})
			ctrl := chat.NewController(a.client, tr, a.creds, a.logger)
			ctrl.Start(ctx)
			defer ctrl.Dispose()

			out := cmd.OutOrStdout()
			s := &chatSession{app: a, ctrl: ctrl, view: newChatView(out, agent.Name), agent: agent, out: out}
			fmt.Fprintln(out, dimStyle.Render(chatHelp))
			if existing != nil {
				if err := ctrl.SelectChat(ctx, *existing); err != nil {
					return err
				}
			} else {
				ctrl.NewChat(agent.ID)
				fmt.Fprintln(out, dimStyle.Render(fmt.Sprintf("Say hello to %s.", agent.Name)))
			}
			return s.run(ctx, cmd.InOrStdin())
		},
	}
	cmd.Flags().Int64Var(&agentID, "agent", 0, "Agent to start a new chat with")
	cmd.Flags().Int64Var(&chatID, "chat", 0, "Existing chat to resume")
	cmd.Flags().StringVar(&username, "username", "", "Log in as this user before chatting")
	return cmd
}
