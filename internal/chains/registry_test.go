package chains

import (
	"errors"
	"testing"
)

// stubAdapter satisfies Adapter via the embedded interface; only Network is
// ever called by the registry.
type stubAdapter struct {
	Adapter
	network string
}

func (s *stubAdapter) Network() string { return s.network }

func TestRegistry_Lifecycle(t *testing.T) {
	r := NewRegistry()

	if _, err := r.Get("Ethereum"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if got := r.State("Ethereum"); got != Disconnected {
		t.Errorf("unknown network state = %v, want Disconnected", got)
	}

	r.SetConnecting("Ethereum")
	if got := r.State("Ethereum"); got != Connecting {
		t.Errorf("state = %v, want Connecting", got)
	}
	if _, err := r.Get("Ethereum"); !errors.Is(err, ErrNotConnected) {
		t.Error("connecting slot must not hand out an adapter")
	}

	a := &stubAdapter{network: "Ethereum"}
	r.SetReady(a)
	got, err := r.Get("Ethereum")
	if err != nil {
		t.Fatalf("Get after SetReady: %v", err)
	}
	if got.Network() != "Ethereum" {
		t.Errorf("got adapter for %s", got.Network())
	}

	r.SetDisconnected("Ethereum")
	if _, err := r.Get("Ethereum"); !errors.Is(err, ErrNotConnected) {
		t.Error("disconnected slot must not hand out an adapter")
	}
}

func TestRegistry_Networks(t *testing.T) {
	r := NewRegistry()
	r.SetReady(&stubAdapter{network: "Obyte"})
	r.SetConnecting("Ethereum")
	r.SetReady(&stubAdapter{network: "BSC"})

	got := r.Networks()
	want := []string{"BSC", "Ethereum", "Obyte"}
	if len(got) != len(want) {
		t.Fatalf("Networks() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Networks()[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestConnState_String(t *testing.T) {
	if Ready.String() != "ready" || Disconnected.String() != "disconnected" {
		t.Error("unexpected state names")
	}
}
