// Command agentchat manages agents and chats with them from the terminal.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ashureev/agentchat/internal/api"
	"github.com/ashureev/agentchat/internal/config"
	"github.com/ashureev/agentchat/internal/store"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// app holds the dependencies shared by every subcommand.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	creds  store.CredentialStore
	client *api.Client

	logLevel  string
	baseURL   string
	ephemeral bool
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	dotenvErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if a.baseURL != "" {
		cfg.BaseURL = a.baseURL
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = config.ParseLevel(a.logLevel)
	}
	a.cfg = cfg

	// Logs go to stderr so command output stays clean.
	a.logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(a.logger)
	if dotenvErr != nil {
		slog.Debug("No .env file found, using environment variables")
	}

	if a.ephemeral {
		a.creds = store.NewMemory()
	} else {
		creds, err := store.NewSQLite(cfg.TokenDBPath)
		if err != nil {
			return fmt.Errorf("open credential store: %w", err)
		}
		a.creds = creds
	}

	a.client, err = api.New(cfg.BaseURL, a.creds,
		api.WithHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout}),
		api.WithLogger(a.logger),
		api.WithUnauthorizedHook(func() {
			fmt.Fprintln(os.Stderr, "Session expired. Please log in again.")
		}),
	)
	return err
}

// close releases what setup opened. Call it once Execute returns, whether or
// not the command failed.
func (a *app) close() {
	if a.creds == nil {
		return
	}
	defer func() { a.creds = nil }()
	if err := a.creds.Close(); err != nil {
		slog.Warn("Failed to close credential store", "error", err)
	}
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:               "agentchat",
		Short:             "Create agent personas and chat with them in real time",
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}

	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "info",
		"Log level (debug,info,warn,error)")
	root.PersistentFlags().StringVar(&a.baseURL, "base-url", "",
		"Backend API base URL (default $AGENTCHAT_BASE_URL or http://localhost:8000/api/v1)")
	root.PersistentFlags().BoolVar(&a.ephemeral, "ephemeral", false,
		"Keep the session token in memory only")

	root.AddCommand(
		newSignupCommand(a),
		newLoginCommand(a),
		newLogoutCommand(a),
		newAgentsCommand(a),
		newTagsCommand(a),
		newImageCommand(a),
		newGalleryCommand(a),
		newChatsCommand(a),
		newChatCommand(a),
	)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	a := &app{}
	err := newRootCommand(a).ExecuteContext(ctx)
	a.close()
	stop()
	if err != nil {
		// The unauthorized hook has already told the user.
		if !errors.Is(err, api.ErrUnauthorized) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}
