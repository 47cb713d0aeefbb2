// Package claimhash derives the deterministic duplicate-detection hash of a
// claim. The derivation is part of the wire protocol and must be bit-exact:
// base64(SHA-256(UTF8(sender + "_" + dest + "_" + txid + "_" + txts + "_" +
// amount + "_" + reward + "_" + canonicalJSON(data)))).
package claimhash

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"math/big"
)

// Input is the claim tuple the hash is derived from. Amount and Reward are
// formatted as decimal strings; a nil Reward hashes as "0".
type Input struct {
	SenderAddress string
	DestAddress   string
	Txid          string
	Txts          int64
	Amount        *big.Int
	Reward        *big.Int
	Data          string // raw JSON text, "" for no data
}

// Compute returns the base64-encoded SHA-256 claim hash.
func Compute(in Input) (string, error) {
	data, err := CanonicalJSON(in.Data)
	if err != nil {
		return "", fmt.Errorf("canonicalize claim data: %w", err)
	}
	preimage := fmt.Sprintf("%s_%s_%s_%d_%s_%s_%s",
		in.SenderAddress,
		in.DestAddress,
		in.Txid,
		in.Txts,
		bigString(in.Amount),
		bigString(in.Reward),
		data,
	)
	sum := sha256.Sum256([]byte(preimage))
	return base64.StdEncoding.EncodeToString(sum[:]), nil
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
