// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	BaseURL      string
	TokenDBPath  string
	HTTPTimeout  time.Duration // 0 = rely on the transport's own timeouts
	PollInterval time.Duration
	Reconnect    ReconnectConfig
	LogLevel     slog.Level
	DevServer    DevServerConfig
}

// ReconnectConfig controls chat transport recovery.
type ReconnectConfig struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int
}

// DevServerConfig configures the local development backend.
type DevServerConfig struct {
	Port        string
	FrontendURL string
	JobStep     time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		BaseURL:      strings.TrimRight(getEnv("AGENTCHAT_BASE_URL", "http://localhost:8000/api/v1"), "/"),
		TokenDBPath:  getEnv("AGENTCHAT_TOKEN_DB", defaultTokenDBPath()),
		HTTPTimeout:  getEnvDuration("AGENTCHAT_HTTP_TIMEOUT", 0),
		PollInterval: getEnvDuration("AGENTCHAT_POLL_INTERVAL", 2*time.Second),
		Reconnect: ReconnectConfig{
			Base:        getEnvDuration("AGENTCHAT_RECONNECT_BASE", time.Second),
			Max:         getEnvDuration("AGENTCHAT_RECONNECT_MAX", 10*time.Second),
			MaxAttempts: getEnvInt("AGENTCHAT_RECONNECT_ATTEMPTS", 5),
		},
		LogLevel: ParseLevel(getEnv("LOG_LEVEL", "info")),
		DevServer: DevServerConfig{
			Port:        getEnv("PORT", "8000"),
			FrontendURL: getEnv("FRONTEND_URL", ""),
			JobStep:     getEnvDuration("DEVSERVER_JOB_STEP", 500*time.Millisecond),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("AGENTCHAT_BASE_URL must be an absolute http(s) URL, got %q", c.BaseURL)
	}
	if c.TokenDBPath == "" {
		return fmt.Errorf("AGENTCHAT_TOKEN_DB cannot be empty")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("AGENTCHAT_POLL_INTERVAL must be > 0")
	}
	if c.Reconnect.Base <= 0 || c.Reconnect.Max < c.Reconnect.Base {
		return fmt.Errorf("AGENTCHAT_RECONNECT_BASE must be > 0 and <= AGENTCHAT_RECONNECT_MAX")
	}
	if c.Reconnect.MaxAttempts < 1 {
		return fmt.Errorf("AGENTCHAT_RECONNECT_ATTEMPTS must be >= 1")
	}
	if c.DevServer.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DevServer.JobStep <= 0 {
		return fmt.Errorf("DEVSERVER_JOB_STEP must be > 0")
	}
	return nil
}

// IsDevelopment returns true if the dev backend runs without a fixed frontend origin.
func (c *Config) IsDevelopment() bool {
	return c.DevServer.FrontendURL == "" ||
		strings.Contains(c.DevServer.FrontendURL, "localhost") ||
		strings.Contains(c.DevServer.FrontendURL, "127.0.0.1")
}

// ParseLevel maps a level name to a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func defaultTokenDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "./data/credentials.db"
	}
	return filepath.Join(home, ".agentchat", "credentials.db")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

// getEnvDuration accepts Go durations ("2s") or bare milliseconds ("2000").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}
