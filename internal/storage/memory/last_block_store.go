package memory

import (
	"context"
	"sync"

	"counterstake-watchdog/internal/storage"
)

// LastBlockStore is an in-memory implementation of storage.LastBlockStore.
type LastBlockStore struct {
	mu   sync.RWMutex
	data map[string]uint64
}

// NewLastBlockStore creates a new in-memory last-block store.
func NewLastBlockStore() *LastBlockStore {
	return &LastBlockStore{data: make(map[string]uint64)}
}

// Compile-time interface check.
var _ storage.LastBlockStore = (*LastBlockStore)(nil)

// Get returns the last fully processed block for a network.
func (s *LastBlockStore) Get(_ context.Context, network string) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	block, exists := s.data[network]
	if !exists {
		return 0, storage.ErrNotFound
	}
	return block, nil
}

// Set records the last fully processed block for a network.
func (s *LastBlockStore) Set(_ context.Context, network string, block uint64) error {
	if network == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[network] = block
	return nil
}
