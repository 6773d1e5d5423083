package checkpoint

import (
	"sync"
)

// MemoryStore is an in-memory checkpoint store for testing.
// Data is lost when the process exits.
type MemoryStore struct {
	mu     sync.RWMutex
	data   map[string]Record // runKey -> record (copied)
	saves  int
	closed bool
}

// NewMemoryStore creates a new in-memory checkpoint store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]Record),
	}
}

// Load implements Store.
func (m *MemoryStore) Load(runKey string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	rec, ok := m.data[runKey]
	if !ok {
		return nil, ErrNotFound
	}

	// Return a copy to prevent modification
	out := rec
	return &out, nil
}

// Save implements Store.
func (m *MemoryStore) Save(runKey string, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	m.data[runKey] = *rec
	m.saves++
	return nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(runKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	delete(m.data, runKey)
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.data = nil
	return nil
}

// Saves returns the number of commits made. Useful for testing.
func (m *MemoryStore) Saves() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saves
}
