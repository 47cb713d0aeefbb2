package domain

import "math/big"

// Transfer is one cross-chain intent observed on a source chain.
// Corresponds to the transfers table. Uniqueness: (bridge_id, type, txid,
// txts, amount, reward, sender_address, dest_address, data).
type Transfer struct {
	ID            int64
	BridgeID      int64
	Type          TransferType
	Amount        *big.Int
	Reward        *big.Int // negative means "do not claim this on my behalf"
	SenderAddress string
	DestAddress   string
	Data          string // opaque payload forwarded to the recipient, "" if none
	Txid          string
	Txts          int64 // source-chain timestamp
	IsConfirmed   bool
	CreatedAt     int64
}

// OptsOutOfClaiming reports whether the sender explicitly refused
// third-party claiming by posting a negative reward.
func (t *Transfer) OptsOutOfClaiming() bool {
	return t.Reward != nil && t.Reward.Sign() < 0
}
