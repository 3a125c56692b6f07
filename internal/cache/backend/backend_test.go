package backend

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/die-net/cacheproxy/internal/cache"
	"github.com/die-net/cacheproxy/internal/cache/leveldb"
	"github.com/die-net/cacheproxy/internal/cache/sqlite"
)

func TestOpen(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name     string
		url      string
		wantType any
		wantErr  bool
	}{
		{name: "memory", url: "memory://", wantType: &cache.Memory{}},
		{name: "memory case-insensitive", url: "MEMORY://", wantType: &cache.Memory{}},
		{name: "leveldb", url: "leveldb://" + filepath.Join(dir, "ldb"), wantType: &leveldb.Store{}},
		{name: "sqlite", url: "sqlite://" + filepath.Join(dir, "c.db"), wantType: &sqlite.Store{}},
		{name: "missing scheme", url: "/tmp/cache", wantErr: true},
		{name: "unsupported scheme", url: "redis://localhost", wantErr: true},
		{name: "leveldb without path", url: "leveldb://", wantErr: true},
		{name: "sqlite without path", url: "sqlite:///", wantErr: true},
		{name: "dynamodb without table", url: "dynamodb://?region=us-east-1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Open(context.Background(), tt.url)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			defer s.Close()
			assert.Equal(t, reflect.TypeOf(tt.wantType), reflect.TypeOf(s))
		})
	}
}

func TestOpenRelativePath(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	s, err := Open(context.Background(), "sqlite://./rel.db")
	require.NoError(t, err)
	require.NoError(t, s.Close())
	assert.FileExists(t, filepath.Join(dir, "rel.db"))
}
