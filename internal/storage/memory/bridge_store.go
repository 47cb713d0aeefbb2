package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"counterstake-watchdog/internal/domain"
	"counterstake-watchdog/internal/storage"
)

// BridgeStore is an in-memory implementation of storage.BridgeStore.
type BridgeStore struct {
	mu     sync.RWMutex
	nextID int64
	data   map[int64]*domain.Bridge
}

// NewBridgeStore creates a new in-memory bridge store.
func NewBridgeStore() *BridgeStore {
	return &BridgeStore{nextID: 1, data: make(map[int64]*domain.Bridge)}
}

// Compile-time interface check.
var _ storage.BridgeStore = (*BridgeStore)(nil)

func routeKey(homeNetwork, homeAsset, foreignNetwork, foreignAsset string) string {
	return fmt.Sprintf("%s|%s|%s|%s", homeNetwork, homeAsset, foreignNetwork, foreignAsset)
}

// Insert adds a new bridge. Returns ErrDuplicateKey if the route exists.
func (s *BridgeStore) Insert(_ context.Context, b *domain.Bridge) error {
	if b == nil || b.HomeNetwork == "" || b.ForeignNetwork == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := routeKey(b.HomeNetwork, b.HomeAsset, b.ForeignNetwork, b.ForeignAsset)
	for _, existing := range s.data {
		if routeKey(existing.HomeNetwork, existing.HomeAsset, existing.ForeignNetwork, existing.ForeignAsset) == key {
			return storage.ErrDuplicateKey
		}
	}

	b.ID = s.nextID
	s.nextID++
	s.data[b.ID] = cloneBridge(b)
	return nil
}

// Update rewrites a bridge's mutable fields.
func (s *BridgeStore) Update(_ context.Context, b *domain.Bridge) error {
	if b == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[b.ID]; !exists {
		return storage.ErrNotFound
	}
	s.data[b.ID] = cloneBridge(b)
	return nil
}

// GetByID retrieves a bridge by ID.
func (s *BridgeStore) GetByID(_ context.Context, id int64) (*domain.Bridge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, exists := s.data[id]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return cloneBridge(b), nil
}

// GetBySideAddr retrieves the bridge owning a contract address on a network.
func (s *BridgeStore) GetBySideAddr(_ context.Context, network, addr string) (*domain.Bridge, domain.Side, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, b := range s.data {
		if b.HomeNetwork == network && b.ExportAddr == addr && addr != "" {
			return cloneBridge(b), domain.SideExport, nil
		}
		if b.ForeignNetwork == network && b.ImportAddr == addr && addr != "" {
			return cloneBridge(b), domain.SideImport, nil
		}
	}
	return nil, "", storage.ErrNotFound
}

// GetByRoute retrieves a bridge by its asset route.
func (s *BridgeStore) GetByRoute(_ context.Context, homeNetwork, homeAsset, foreignNetwork, foreignAsset string) (*domain.Bridge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key := routeKey(homeNetwork, homeAsset, foreignNetwork, foreignAsset)
	for _, b := range s.data {
		if routeKey(b.HomeNetwork, b.HomeAsset, b.ForeignNetwork, b.ForeignAsset) == key {
			return cloneBridge(b), nil
		}
	}
	return nil, storage.ErrNotFound
}

// List retrieves all bridges ordered by ID.
func (s *BridgeStore) List(_ context.Context) ([]*domain.Bridge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Bridge, 0, len(s.data))
	for _, b := range s.data {
		out = append(out, cloneBridge(b))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
