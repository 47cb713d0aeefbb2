package domain

// Outcome is the side a stake is placed on: whether the claim is valid.
type Outcome string

// Claim outcomes.
const (
	OutcomeYes Outcome = "yes"
	OutcomeNo  Outcome = "no"
)

// Opposite returns the opposing outcome.
func (o Outcome) Opposite() Outcome {
	if o == OutcomeYes {
		return OutcomeNo
	}
	return OutcomeYes
}

// Valid reports whether o is one of the two defined outcomes.
func (o Outcome) Valid() bool {
	return o == OutcomeYes || o == OutcomeNo
}

// TransferType distinguishes the direction of a cross-chain transfer.
type TransferType string

// Transfer directions. An expatriation locks funds on the home chain and is
// claimed on the foreign chain (import side); a repatriation burns the image
// asset on the foreign chain and is claimed on the home chain (export side).
const (
	TransferExpatriation TransferType = "expatriation"
	TransferRepatriation TransferType = "repatriation"
)

// Valid reports whether t is one of the two defined transfer types.
func (t TransferType) Valid() bool {
	return t == TransferExpatriation || t == TransferRepatriation
}

// Side identifies which bridge contract a claim or assistant lives on.
type Side string

// Bridge sides.
const (
	SideExport Side = "export"
	SideImport Side = "import"
)

// ClaimSide returns the bridge side on which a transfer of type t is claimed.
func (t TransferType) ClaimSide() Side {
	if t == TransferExpatriation {
		return SideImport
	}
	return SideExport
}
