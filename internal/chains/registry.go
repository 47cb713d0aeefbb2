package chains

import (
	"fmt"
	"sort"
	"sync"
)

// ConnState is the lifecycle state of a network's adapter slot.
type ConnState int

const (
	Disconnected ConnState = iota
	Connecting
	Ready
)

// String implements fmt.Stringer.
func (s ConnState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Ready:
		return "ready"
	default:
		return fmt.Sprintf("ConnState(%d)", int(s))
	}
}

type slot struct {
	state   ConnState
	adapter Adapter
}

// Registry holds one adapter slot per network. Adapters are constructed once
// and replaced wholesale on reconnect; a slot not in the Ready state yields
// ErrNotConnected rather than a half-initialized handle.
type Registry struct {
	mu    sync.RWMutex
	slots map[string]*slot
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{slots: make(map[string]*slot)}
}

// SetConnecting marks a network as connecting, dropping any previous handle.
func (r *Registry) SetConnecting(network string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.slots[network] = &slot{state: Connecting}
}

// SetReady installs a live adapter for its network.
func (r *Registry) SetReady(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.slots[a.Network()] = &slot{state: Ready, adapter: a}
}

// SetDisconnected drops the network's handle.
func (r *Registry) SetDisconnected(network string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.slots[network] = &slot{state: Disconnected}
}

// Get returns the Ready adapter for a network, or ErrNotConnected.
func (r *Registry) Get(network string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.slots[network]
	if !ok || s.state != Ready {
		return nil, fmt.Errorf("network %s: %w", network, ErrNotConnected)
	}
	return s.adapter, nil
}

// State returns a network's connection state. Unknown networks are
// Disconnected.
func (r *Registry) State(network string) ConnState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.slots[network]
	if !ok {
		return Disconnected
	}
	return s.state
}

// Networks lists all known networks in stable order.
func (r *Registry) Networks() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.slots))
	for name := range r.slots {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
