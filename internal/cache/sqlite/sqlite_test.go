package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/die-net/cacheproxy/internal/cache"
)

func TestStore(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	defer s.Close()

	const key = "GET /x HTTP/1.1"

	_, err = s.Get(ctx, key)
	require.ErrorIs(t, err, cache.ErrNotFound)

	ok, err := s.Contains(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Put(ctx, key, []byte("first")))
	want := []byte("HTTP/1.1 200 OK\r\nDate: D\r\n\r\n\x00\xff")
	require.NoError(t, s.Put(ctx, key, want))

	got, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	ok, err = s.Contains(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.Remove(ctx, key))
	_, err = s.Get(ctx, key)
	require.ErrorIs(t, err, cache.ErrNotFound)
}
