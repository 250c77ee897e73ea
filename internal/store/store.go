// Package store provides persistence for the client's session credential.
package store

import (
	"context"
	"strings"
	"sync"
)

// CredentialStore holds the current auth token. It is the only client-side
// state that survives a restart.
type CredentialStore interface {
	// Token returns the stored token. ok is false when no one is logged in.
	Token(ctx context.Context) (token string, ok bool, err error)

	// SetToken replaces the stored token.
	SetToken(ctx context.Context, token string) error

	// Clear removes the stored token.
	Clear(ctx context.Context) error

	// Close releases resources held by the store.
	Close() error
}

// MemoryStore is a process-local CredentialStore.
type MemoryStore struct {
	mu    sync.RWMutex
	token string
}

// NewMemory creates an empty in-memory credential store.
func NewMemory() *MemoryStore {
	return &MemoryStore{}
}

// Token returns the stored token.
func (m *MemoryStore) Token(_ context.Context) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token, m.token != "", nil
}

// SetToken replaces the stored token.
func (m *MemoryStore) SetToken(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
	return nil
}

// Clear removes the stored token.
func (m *MemoryStore) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = ""
	return nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }

// isConflict reports SQLite concurrency errors (SQLITE_BUSY or
// "database is locked") that warrant a retry.
func isConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}
