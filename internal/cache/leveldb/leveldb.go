// Package leveldb stores cached responses in an on-disk LevelDB database.
package leveldb

import (
	"context"
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"

	"github.com/die-net/cacheproxy/internal/cache"
)

// entryPrefix namespaces response entries inside the database.
const entryPrefix = "e:"

// Store is a cache.Store backed by LevelDB.
type Store struct {
	db *leveldb.DB
}

var _ cache.Store = (*Store)(nil)

// Open opens or creates the database directory at path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("leveldb: missing path")
	}
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("leveldb: open %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

func dbKey(key string) []byte {
	return []byte(entryPrefix + key)
}

func (s *Store) Put(_ context.Context, key string, value []byte) error {
	if err := s.db.Put(dbKey(key), value, nil); err != nil {
		return fmt.Errorf("leveldb: put: %w", err)
	}
	return nil
}

// Get returns the stored bytes. LevelDB hands back a freshly allocated slice,
// so the result is already private to the caller.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	v, err := s.db.Get(dbKey(key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, cache.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("leveldb: get: %w", err)
	}
	return v, nil
}

func (s *Store) Contains(_ context.Context, key string) (bool, error) {
	ok, err := s.db.Has(dbKey(key), nil)
	if err != nil {
		return false, fmt.Errorf("leveldb: has: %w", err)
	}
	return ok, nil
}

func (s *Store) Remove(_ context.Context, key string) error {
	if err := s.db.Delete(dbKey(key), nil); err != nil {
		return fmt.Errorf("leveldb: delete: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
