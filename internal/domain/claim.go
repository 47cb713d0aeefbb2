package domain

import "math/big"

// Claim is one attempt to mint or release funds on the destination side of a
// bridge. Corresponds to the claims table. Keyed by (bridge_id, type,
// claim_num); claim_num is a per-bridge-per-side monotonic counter assigned
// by the contract.
type Claim struct {
	ID                int64
	BridgeID          int64
	Type              TransferType
	ClaimNum          int64
	Amount            *big.Int
	Reward            *big.Int
	SenderAddress     string
	DestAddress       string
	ClaimantAddress   string
	Data              string
	Txid              string // txid of the source-chain transfer being claimed
	Txts              int64
	ClaimHash         string // deterministic duplicate-detection hash, see claimhash
	YesStake          *big.Int
	NoStake           *big.Int
	CurrentOutcome    Outcome
	PeriodNumber      int
	IsLarge           bool
	Ts                int64 // creation or last-challenge time
	ExpiryTs          int64
	ChallengingTarget *big.Int
	Withdrawn         bool
	Finished          bool
	CreatedAt         int64
}

// Stake returns the stake currently accumulated on the given outcome.
func (c *Claim) Stake(on Outcome) *big.Int {
	if on == OutcomeYes {
		return c.YesStake
	}
	return c.NoStake
}

// SetStake replaces the stake tally of the given outcome.
func (c *Claim) SetStake(on Outcome, v *big.Int) {
	if on == OutcomeYes {
		c.YesStake = v
		return
	}
	c.NoStake = v
}

// Challenge is one counterstake event against an open claim. Corresponds to
// the challenges table. Append-only; never mutated.
type Challenge struct {
	ID       int64
	BridgeID int64
	Type     TransferType
	ClaimNum int64
	Address  string
	StakeOn  Outcome
	Stake    *big.Int
	Txid     string
	Ts       int64
}
