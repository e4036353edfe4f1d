package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "storage.db")
	s, err := Open(path)
	require.NoError(t, err)

	_, ok, err := s.Get("a")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set("b", "2"))
	require.NoError(t, s.Set("a", "1"))
	require.NoError(t, s.Set("", "empty"))
	require.NoError(t, s.Set("a", "one"))

	v, ok, err := s.Get("a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "one", v)
	v, ok, err = s.Get("")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "empty", v)

	n, err := s.Len()
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	var keys []string
	for i := 0; ; i++ {
		k, ok, err := s.Key(i)
		require.NoError(t, err)
		if !ok {
			break
		}
		keys = append(keys, k)
	}
	assert.Equal(t, []string{"", "a", "b"}, keys)
	_, ok, err = s.Key(-1)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Delete("a"))
	require.NoError(t, s.Delete("missing"))
	_, ok, err = s.Get("a")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Clear())
	n, err = s.Len()
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	_, _, err = s.Get("b")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Set("x", "y"), ErrClosed)
	assert.ErrorIs(t, s.Clear(), ErrClosed)
}

func TestStorePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storage.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Set("visits", "3"))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	v, ok, err := s.Get("visits")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "3", v)
}
