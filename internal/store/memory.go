package store

import (
	"errors"
	"sync"
)

var errWriteFailed = errors.New("store: write failed")

// MemoryStore is an in-memory Store used by tests and by the
// "memory" storage backend.
type MemoryStore struct {
	mu       sync.RWMutex
	records  map[string][]byte
	archived map[string][]ArchivedEntry

	// FailWrites makes Set and Delete fail when set; tests use it to
	// exercise the deferred-write path.
	FailWrites bool
	failErr    error
}

// NewMemory creates an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		records:  make(map[string][]byte),
		archived: make(map[string][]ArchivedEntry),
	}
}

// Get returns the value stored under key.
func (s *MemoryStore) Get(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.records[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

// Set replaces the value stored under key.
func (s *MemoryStore) Set(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailWrites {
		return s.writeError()
	}
	stored := make([]byte, len(value))
	copy(stored, value)
	s.records[key] = stored
	return nil
}

// Delete removes the value stored under key.
func (s *MemoryStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailWrites {
		return s.writeError()
	}
	delete(s.records, key)
	return nil
}

// Archive quarantines a record and removes the live value.
func (s *MemoryStore) Archive(key string, value []byte, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := make([]byte, len(value))
	copy(stored, value)
	s.archived[key] = append(s.archived[key], ArchivedEntry{
		Key:    key,
		Value:  stored,
		Reason: reason,
	})
	delete(s.records, key)
	return nil
}

// Archived returns quarantined entries for a key.
func (s *MemoryStore) Archived(key string) []ArchivedEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]ArchivedEntry(nil), s.archived[key]...)
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) writeError() error {
	if s.failErr != nil {
		return s.failErr
	}
	return errWriteFailed
}
