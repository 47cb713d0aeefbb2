package domain

import "math/big"

// Event is the closed union of normalized protocol events emitted by chain
// adapters. Decoded once at the adapter boundary and matched exhaustively
// downstream.
type Event interface {
	// EventNetwork returns the network the event was observed on.
	EventNetwork() string
	// EventBlock returns the block number the event was observed in.
	EventBlock() uint64

	isEvent()
}

// EventMeta carries the fields common to every protocol event.
type EventMeta struct {
	Network     string
	BridgeAddr  string // contract that emitted the event
	BlockNumber uint64
	EventTxid   string // transaction that emitted the event
	Timestamp   int64  // block timestamp
}

// EventNetwork implements Event.
func (m EventMeta) EventNetwork() string { return m.Network }

// EventBlock implements Event.
func (m EventMeta) EventBlock() uint64 { return m.BlockNumber }

func (EventMeta) isEvent() {}

// TransferSeen is a NewExpatriation/NewRepatriation event: a user initiated
// a cross-chain transfer on the source side of a bridge.
type TransferSeen struct {
	EventMeta
	Type   TransferType
	Sender string
	Dest   string
	Amount *big.Int
	Reward *big.Int
	Data   string
	Txts   int64 // source-chain timestamp of the transfer transaction
}

// TransferRetracted reports that a previously seen transfer transaction was
// removed by a reorg on a rewritable ledger.
type TransferRetracted struct {
	EventMeta
	Type TransferType
	Txid string
}

// ClaimOpened is a NewClaim event on the destination side of a bridge.
type ClaimOpened struct {
	EventMeta
	Type      TransferType
	ClaimNum  int64
	Author    string // claimant
	Sender    string
	Recipient string
	Txid      string // source-chain transfer txid being claimed
	Txts      int64
	Amount    *big.Int
	Reward    *big.Int
	Stake     *big.Int
	Data      string
	ExpiryTs  int64
}

// ClaimChallenged is a NewChallenge event: a counterstake was placed on an
// open claim. Carries the post-challenge tallies as reported by the chain.
type ClaimChallenged struct {
	EventMeta
	Type              TransferType
	ClaimNum          int64
	Author            string
	Stake             *big.Int
	StakeOn           Outcome // side the challenge was placed on
	CurrentOutcome    Outcome // outcome after applying the challenge
	YesStake          *big.Int
	NoStake           *big.Int
	ExpiryTs          int64
	ChallengingTarget *big.Int
}

// ClaimFinished is a FinishedClaim event: somebody triggered withdrawal and
// the claim resolved to the given outcome.
type ClaimFinished struct {
	EventMeta
	Type     TransferType
	ClaimNum int64
	Outcome  Outcome
}

// BridgeSideDiscovered is a factory event announcing a newly deployed export
// or import contract. The reconciliation engine pairs the two sides into one
// Bridge record.
type BridgeSideDiscovered struct {
	EventMeta
	Side           Side
	HomeNetwork    string
	HomeAsset      string
	ForeignNetwork string
	ForeignAsset   string
	Decimals       int
	Params         *BridgeParams
}
