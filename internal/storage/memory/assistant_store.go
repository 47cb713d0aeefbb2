package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"counterstake-watchdog/internal/domain"
	"counterstake-watchdog/internal/storage"
)

// AssistantStore is an in-memory implementation of storage.AssistantStore.
type AssistantStore struct {
	mu     sync.RWMutex
	nextID int64
	data   map[string]*domain.PooledAssistant // keyed by (network, addr)
}

// NewAssistantStore creates a new in-memory assistant store.
func NewAssistantStore() *AssistantStore {
	return &AssistantStore{nextID: 1, data: make(map[string]*domain.PooledAssistant)}
}

// Compile-time interface check.
var _ storage.AssistantStore = (*AssistantStore)(nil)

func assistantKey(network, addr string) string {
	return fmt.Sprintf("%s|%s", network, addr)
}

// Insert adds a new assistant mirror. Returns ErrDuplicateKey if exists.
func (s *AssistantStore) Insert(_ context.Context, a *domain.PooledAssistant) error {
	if a == nil || a.Network == "" || a.Addr == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := assistantKey(a.Network, a.Addr)
	if _, exists := s.data[key]; exists {
		return storage.ErrDuplicateKey
	}

	a.ID = s.nextID
	s.nextID++
	s.data[key] = cloneAssistant(a)
	return nil
}

// Update rewrites an assistant's accounting state.
func (s *AssistantStore) Update(_ context.Context, a *domain.PooledAssistant) error {
	if a == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := assistantKey(a.Network, a.Addr)
	if _, exists := s.data[key]; !exists {
		return storage.ErrNotFound
	}
	s.data[key] = cloneAssistant(a)
	return nil
}

// GetByAddr retrieves an assistant by its contract address.
func (s *AssistantStore) GetByAddr(_ context.Context, network, addr string) (*domain.PooledAssistant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, exists := s.data[assistantKey(network, addr)]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return cloneAssistant(a), nil
}

// GetByBridgeSide retrieves the assistant serving a bridge side, if any.
func (s *AssistantStore) GetByBridgeSide(_ context.Context, bridgeID int64, side domain.Side) (*domain.PooledAssistant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.data {
		if a.BridgeID == bridgeID && a.Side == side {
			return cloneAssistant(a), nil
		}
	}
	return nil, storage.ErrNotFound
}

// List retrieves all assistants ordered by ID.
func (s *AssistantStore) List(_ context.Context) ([]*domain.PooledAssistant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.PooledAssistant, 0, len(s.data))
	for _, a := range s.data {
		out = append(out, cloneAssistant(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
