package domain

import (
	"math/big"
	"testing"
)

func TestConvertScale(t *testing.T) {
	tests := []struct {
		name     string
		amount   int64
		from, to int
		want     int64
		ok       bool
	}{
		{"same scale", 123, 9, 9, 123, true},
		{"scale up", 4, 0, 9, 4_000_000_000, true},
		{"scale down exact", 4_000_000_000, 9, 0, 4, true},
		{"scale down lossy", 4_000_000_001, 9, 0, 0, false},
		{"scale down to mid", 1_230_000, 6, 2, 123, true},
		{"negative reward exact", -5_000, 3, 0, -5, true},
		{"negative reward lossy", -5_001, 3, 0, 0, false},
	}
	for _, tt := range tests {
		got, ok := ConvertScale(big.NewInt(tt.amount), tt.from, tt.to)
		if ok != tt.ok {
			t.Errorf("%s: ok = %v, want %v", tt.name, ok, tt.ok)
			continue
		}
		if ok && got.Cmp(big.NewInt(tt.want)) != 0 {
			t.Errorf("%s: got %s, want %d", tt.name, got, tt.want)
		}
	}
}

func TestSameAfterScaling(t *testing.T) {
	if !SameAfterScaling(big.NewInt(4), 0, big.NewInt(4_000_000_000), 9) {
		t.Error("4 GBYTE should match its 9-decimals representation")
	}
	if SameAfterScaling(big.NewInt(4_000_000_001), 9, big.NewInt(4), 0) {
		t.Error("sub-unit precision loss must not match")
	}
	if SameAfterScaling(big.NewInt(4), 0, big.NewInt(4_000_000_001), 9) {
		t.Error("different values must not match")
	}
}

func TestTransferTypeClaimSide(t *testing.T) {
	if TransferExpatriation.ClaimSide() != SideImport {
		t.Error("expatriations are claimed on the import side")
	}
	if TransferRepatriation.ClaimSide() != SideExport {
		t.Error("repatriations are claimed on the export side")
	}
}
