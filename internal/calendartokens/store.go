package calendartokens

import (
	"context"
	"sync"
)

// Store persists token records keyed by (userID, provider).
// Put is a full overwrite, not a merge. Implementations must give
// read-after-write consistency for a single user within one process.
type Store interface {
	Get(ctx context.Context, userID, provider string) (*TokenRecord, error)
	Put(ctx context.Context, rec *TokenRecord) error
	Delete(ctx context.Context, userID, provider string) error
}

// MemoryStore is an in-memory Store used in unit tests and when the service
// boots without MongoDB.
type MemoryStore struct {
	mu    sync.RWMutex
	store map[string]*TokenRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{store: make(map[string]*TokenRecord)}
}

func memKey(userID, provider string) string { return userID + "\x00" + provider }

func (m *MemoryStore) Get(ctx context.Context, userID, provider string) (*TokenRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if r, ok := m.store[memKey(userID, provider)]; ok {
		cp := *r
		return &cp, nil
	}
	return nil, nil
}

func (m *MemoryStore) Put(ctx context.Context, rec *TokenRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.store[memKey(rec.UserID, rec.Provider)] = &cp
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, userID, provider string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.store, memKey(userID, provider))
	return nil
}

// Len reports the number of stored records (test helper).
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.store)
}
