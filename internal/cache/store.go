// Package cache holds raw upstream responses keyed by request line and decides
// whether a response may be stored, whether a stored one is still fresh, and
// how to ask the origin to revalidate it.
//
// Entries are never expired or evicted by the cache itself; a key only changes
// when a newer response is stored over it or it is removed explicitly. A
// long-running process therefore grows without bound.
package cache

import (
	"bytes"
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned by Store.Get when the key has no entry.
var ErrNotFound = errors.New("cache: key not found")

// Store maps a request line to the raw response bytes received for it.
//
// Implementations must be safe for concurrent use, must store and return
// values byte-for-byte, and must never hand out memory that a later Put can
// modify.
type Store interface {
	// Put inserts or replaces the entry for key. The last writer wins.
	Put(ctx context.Context, key string, value []byte) error
	// Get returns a private copy of the entry for key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Contains reports whether key has an entry.
	Contains(ctx context.Context, key string) (bool, error)
	// Remove deletes the entry for key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error
	// Close releases the resources held by the store.
	Close() error
}

// Memory is a process-local Store guarded by a single mutex.
type Memory struct {
	mu      sync.Mutex
	entries map[string][]byte
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{entries: make(map[string][]byte)}
}

func (m *Memory) Put(_ context.Context, key string, value []byte) error {
	v := bytes.Clone(value)
	if v == nil {
		v = []byte{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = v
	return nil
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	return bytes.Clone(v), nil
}

func (m *Memory) Contains(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.entries[key]
	return ok, nil
}

func (m *Memory) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, key)
	return nil
}

// Len returns the number of entries.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *Memory) Close() error { return nil }
