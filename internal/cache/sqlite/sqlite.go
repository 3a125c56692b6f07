// Package sqlite stores cached responses in a SQLite database file using the
// pure-Go glebarez driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/glebarez/go-sqlite" // registers the "sqlite" driver

	"github.com/die-net/cacheproxy/internal/cache"
)

const (
	queryCreateTable = `CREATE TABLE IF NOT EXISTS responses (key TEXT PRIMARY KEY, bytes BLOB NOT NULL)`
	queryPut         = `INSERT OR REPLACE INTO responses (key, bytes) VALUES (?, ?)`
	queryGet         = `SELECT bytes FROM responses WHERE key = ?`
	queryContains    = `SELECT 1 FROM responses WHERE key = ?`
	queryRemove      = `DELETE FROM responses WHERE key = ?`
)

// Store is a cache.Store backed by SQLite.
type Store struct {
	db *sql.DB
}

var _ cache.Store = (*Store)(nil)

// Open opens or creates the database file at path and ensures the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("sqlite: missing path")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, queryCreateTable); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: create table: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	if _, err := s.db.ExecContext(ctx, queryPut, key, value); err != nil {
		return fmt.Errorf("sqlite: put: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var v []byte
	err := s.db.QueryRowContext(ctx, queryGet, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, cache.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get: %w", err)
	}
	return v, nil
}

func (s *Store) Contains(ctx context.Context, key string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, queryContains, key).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("sqlite: contains: %w", err)
	}
	return true, nil
}

func (s *Store) Remove(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, queryRemove, key); err != nil {
		return fmt.Errorf("sqlite: remove: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
