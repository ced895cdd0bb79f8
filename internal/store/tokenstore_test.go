package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenStore_MissingFileIsLoggedOut(t *testing.T) {
	s := NewTokenStore(filepath.Join(t.TempDir(), "token"))
	token, err := s.Load()
	require.NoError(t, err)
	assert.Empty(t, token)
}

func TestTokenStore_SaveCreatesParentsAndRestrictsMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "token")
	s := NewTokenStore(path)
	require.NoError(t, s.Save("tok-123"))

	token, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, "tok-123", token)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestTokenStore_SaveOverwrites(t *testing.T) {
	s := NewTokenStore(filepath.Join(t.TempDir(), "token"))
	require.NoError(t, s.Save("old"))
	require.NoError(t, s.Save("new"))

	token, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, "new", token)
}

func TestTokenStore_ClearIsIdempotent(t *testing.T) {
	s := NewTokenStore(filepath.Join(t.TempDir(), "token"))
	require.NoError(t, s.Clear(), "clearing an absent token is fine")

	require.NoError(t, s.Save("tok"))
	require.NoError(t, s.Clear())
	require.NoError(t, s.Clear())

	token, err := s.Load()
	require.NoError(t, err)
	assert.Empty(t, token)
}
