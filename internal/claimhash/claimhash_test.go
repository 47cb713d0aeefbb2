package claimhash

import (
	"crypto/sha256"
	"encoding/base64"
	"math/big"
	"testing"
)

func TestCompute_Deterministic(t *testing.T) {
	in := Input{
		SenderAddress: "0x1111111111111111111111111111111111111111",
		DestAddress:   "DEST7ADDRESS7WITH7CHECKSUM",
		Txid:          "0xabcdef",
		Txts:          1700000000,
		Amount:        big.NewInt(4000000000),
		Reward:        big.NewInt(40),
		Data:          `{"b":2,"a":1}`,
	}

	h1, err := Compute(in)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	h2, err := Compute(in)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	if h1 != h2 {
		t.Errorf("hash not reproducible: %s vs %s", h1, h2)
	}

	// Key order in data must not matter.
	in.Data = `{"a": 1, "b": 2}`
	h3, err := Compute(in)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	if h3 != h1 {
		t.Errorf("key order changed the hash: %s vs %s", h3, h1)
	}
}

func TestCompute_Preimage(t *testing.T) {
	in := Input{
		SenderAddress: "SENDER",
		DestAddress:   "DEST",
		Txid:          "TXID",
		Txts:          42,
		Amount:        big.NewInt(100),
		Reward:        big.NewInt(-1),
	}
	got, err := Compute(in)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}

	sum := sha256.Sum256([]byte("SENDER_DEST_TXID_42_100_-1_null"))
	want := base64.StdEncoding.EncodeToString(sum[:])
	if got != want {
		t.Errorf("hash mismatch: got %s want %s", got, want)
	}
}

func TestCompute_FieldSensitivity(t *testing.T) {
	base := Input{
		SenderAddress: "S",
		DestAddress:   "D",
		Txid:          "T",
		Txts:          1,
		Amount:        big.NewInt(10),
		Reward:        big.NewInt(1),
		Data:          `{"x":1}`,
	}
	baseHash, err := Compute(base)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}

	variants := map[string]Input{
		"sender": func(i Input) Input { i.SenderAddress = "S2"; return i }(base),
		"dest":   func(i Input) Input { i.DestAddress = "D2"; return i }(base),
		"txid":   func(i Input) Input { i.Txid = "T2"; return i }(base),
		"txts":   func(i Input) Input { i.Txts = 2; return i }(base),
		"amount": func(i Input) Input { i.Amount = big.NewInt(11); return i }(base),
		"reward": func(i Input) Input { i.Reward = big.NewInt(2); return i }(base),
		"data":   func(i Input) Input { i.Data = `{"x":2}`; return i }(base),
	}
	for name, in := range variants {
		h, err := Compute(in)
		if err != nil {
			t.Fatalf("Compute(%s) failed: %v", name, err)
		}
		if h == baseHash {
			t.Errorf("changing %s did not change the hash", name)
		}
	}
}

func TestCanonicalJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", "null"},
		{"null", "null", "null"},
		{"sorted keys", `{"b":2,"a":1}`, `{"a":1,"b":2}`},
		{"whitespace", `{ "a" : [ 1 , 2 ] }`, `{"a":[1,2]}`},
		{"nested", `{"z":{"y":true,"x":"s"}}`, `{"z":{"x":"s","y":true}}`},
		{"number literal", `{"n":1.50}`, `{"n":1.50}`},
	}
	for _, tt := range tests {
		got, err := CanonicalJSON(tt.in)
		if err != nil {
			t.Fatalf("%s: CanonicalJSON failed: %v", tt.name, err)
		}
		if got != tt.want {
			t.Errorf("%s: got %s want %s", tt.name, got, tt.want)
		}
	}

	if _, err := CanonicalJSON("{broken"); err == nil {
		t.Error("expected error for malformed data")
	}
}
