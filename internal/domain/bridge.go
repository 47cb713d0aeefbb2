package domain

import "math/big"

// BridgeParams holds the counterstake parameters of one bridge side, read
// from the contract at discovery time. Ratios are scaled by 100 so that all
// stake math stays in integers.
type BridgeParams struct {
	CounterstakeCoef100     int64 // challenging target multiplier, e.g. 150 for 1.5x
	Ratio100                int64 // required stake as a percentage of amount
	MinStake                *big.Int
	LargeThreshold          *big.Int // amounts at or above this use the large periods
	ChallengingPeriods      []int64  // seconds per period number
	LargeChallengingPeriods []int64
	MinTxAge                int64 // seconds a transfer must age before claiming
}

// Period returns the challenging period for the given period number, clamped
// to the last entry of the table.
func (p *BridgeParams) Period(periodNumber int, isLarge bool) int64 {
	table := p.ChallengingPeriods
	if isLarge {
		table = p.LargeChallengingPeriods
	}
	if len(table) == 0 {
		return 0
	}
	if periodNumber >= len(table) {
		periodNumber = len(table) - 1
	}
	return table[periodNumber]
}

// Bridge identifies one asset route between a home and a foreign chain.
// Corresponds to the bridges table.
type Bridge struct {
	ID              int64
	HomeNetwork     string
	HomeAsset       string
	ForeignNetwork  string
	ForeignAsset    string
	ExportAddr      string // export contract on the home chain, "" until discovered
	ImportAddr      string // import contract on the foreign chain, "" until discovered
	HomeDecimals    int
	ForeignDecimals int
	ExportParams    *BridgeParams
	ImportParams    *BridgeParams
	CreatedAt       int64
}

// Complete reports whether both sides of the bridge are known. A
// half-complete bridge cannot validate claims against transfers.
func (b *Bridge) Complete() bool {
	return b.ExportAddr != "" && b.ImportAddr != ""
}

// SideAddr returns the contract address of the given side.
func (b *Bridge) SideAddr(side Side) string {
	if side == SideExport {
		return b.ExportAddr
	}
	return b.ImportAddr
}

// SideNetwork returns the network the given side's contract lives on.
func (b *Bridge) SideNetwork(side Side) string {
	if side == SideExport {
		return b.HomeNetwork
	}
	return b.ForeignNetwork
}

// SideParams returns the counterstake parameters of the given side.
func (b *Bridge) SideParams(side Side) *BridgeParams {
	if side == SideExport {
		return b.ExportParams
	}
	return b.ImportParams
}

// SideDecimals returns the decimal scale of the asset on the given side.
func (b *Bridge) SideDecimals(side Side) int {
	if side == SideExport {
		return b.HomeDecimals
	}
	return b.ForeignDecimals
}

// SourceNetwork returns the network a transfer of type t originates on.
func (b *Bridge) SourceNetwork(t TransferType) string {
	if t == TransferExpatriation {
		return b.HomeNetwork
	}
	return b.ForeignNetwork
}

// DestNetwork returns the network a transfer of type t is claimed on.
func (b *Bridge) DestNetwork(t TransferType) string {
	if t == TransferExpatriation {
		return b.ForeignNetwork
	}
	return b.HomeNetwork
}

// SourceDecimals returns the decimal scale on the source side of type t.
func (b *Bridge) SourceDecimals(t TransferType) int {
	if t == TransferExpatriation {
		return b.HomeDecimals
	}
	return b.ForeignDecimals
}

// DestDecimals returns the decimal scale on the destination side of type t.
func (b *Bridge) DestDecimals(t TransferType) int {
	if t == TransferExpatriation {
		return b.ForeignDecimals
	}
	return b.HomeDecimals
}
