// Package postgres stores cached responses in a PostgreSQL table.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/die-net/cacheproxy/internal/cache"
)

// ErrPingFailed is returned if the initial ping to the database fails.
var ErrPingFailed = errors.New("postgres: ping returned error")

var (
	//go:embed create_table.sql
	queryCreateTable string
	//go:embed fetch_by_key.sql
	queryFetchByKey string
	//go:embed upsert_item.sql
	queryUpsertItem string
	//go:embed exists.sql
	queryExists string
	//go:embed delete_item.sql
	queryDeleteItem string
)

// Store is a cache.Store backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ cache.Store = (*Store)(nil)

// Open connects to the database named by dsn and prepares the table.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	s, err := New(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New verifies the connection and creates the table if it does not exist.
func New(ctx context.Context, db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("postgres: nil db")
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, errors.Join(ErrPingFailed, err)
	}
	if _, err := db.ExecContext(ctx, queryCreateTable); err != nil {
		return nil, fmt.Errorf("postgres: create table: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	if _, err := s.db.ExecContext(ctx, queryUpsertItem, key, value); err != nil {
		return fmt.Errorf("postgres: put: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var v []byte
	err := s.db.QueryRowContext(ctx, queryFetchByKey, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, cache.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get: %w", err)
	}
	return v, nil
}

func (s *Store) Contains(ctx context.Context, key string) (bool, error) {
	var ok bool
	if err := s.db.QueryRowContext(ctx, queryExists, key).Scan(&ok); err != nil {
		return false, fmt.Errorf("postgres: contains: %w", err)
	}
	return ok, nil
}

func (s *Store) Remove(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, queryDeleteItem, key); err != nil {
		return fmt.Errorf("postgres: remove: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
