package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "creds.db")

	s, err := NewSQLite(path)
	require.NoError(t, err)

	_, ok, err := s.Token(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetToken(ctx, "first"))
	require.NoError(t, s.SetToken(ctx, "second"))
	require.NoError(t, s.Close())

	reopened, err := NewSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	token, ok, err := reopened.Token(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "second", token)

	require.NoError(t, reopened.Clear(ctx))
	_, ok, err = reopened.Token(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStore_TokenLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	require.NoError(t, s.SetToken(ctx, "abc"))
	token, ok, err := s.Token(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "abc", token)

	require.NoError(t, s.Clear(ctx))
	_, ok, _ = s.Token(ctx)
	assert.False(t, ok)
}

func TestIsConflict(t *testing.T) {
	assert.False(t, isConflict(nil))
	assert.True(t, isConflict(errors.New("SQLITE_BUSY: try again")))
	assert.True(t, isConflict(errors.New("database is locked")))
	assert.False(t, isConflict(errors.New("no such table")))
}
