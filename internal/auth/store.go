package auth

import (
	"context"
	"sync"
)

// Store persists credential records. Implementations only ever see password
// hashes.
type Store interface {
	// CreateUser stores a new record; it returns ErrDuplicateUsername when the
	// username exists.
	CreateUser(ctx context.Context, username string, passwordHash []byte) error
	// PasswordHash returns the stored hash; it returns ErrUnknownUser when no
	// record exists.
	PasswordHash(ctx context.Context, username string) ([]byte, error)
	Close() error
}

// MemoryStore is a Store kept in process memory, for tests and development
// runs without a database file.
type MemoryStore struct {
	mu    sync.RWMutex
	users map[string][]byte
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[string][]byte)}
}

func (m *MemoryStore) CreateUser(_ context.Context, username string, passwordHash []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[username]; ok {
		return ErrDuplicateUsername
	}
	m.users[username] = append([]byte(nil), passwordHash...)
	return nil
}

func (m *MemoryStore) PasswordHash(_ context.Context, username string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	hash, ok := m.users[username]
	if !ok {
		return nil, ErrUnknownUser
	}
	return append([]byte(nil), hash...), nil
}

func (m *MemoryStore) Close() error { return nil }
