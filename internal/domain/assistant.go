package domain

import "math/big"

// AssetAmounts holds an amount per vault asset. Export (single-asset) vaults
// use only the Stake component; import vaults account the stake and the
// image asset separately.
type AssetAmounts struct {
	Stake *big.Int
	Image *big.Int
}

// NewAssetAmounts returns a zeroed pair.
func NewAssetAmounts() AssetAmounts {
	return AssetAmounts{Stake: new(big.Int), Image: new(big.Int)}
}

// Clone returns a deep copy.
func (a AssetAmounts) Clone() AssetAmounts {
	return AssetAmounts{Stake: cloneInt(a.Stake), Image: cloneInt(a.Image)}
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

// PooledAssistant is the off-chain mirror of a pooled-capital assistant
// vault. Corresponds to the pooled_assistants table. The on-chain contract
// is authoritative; this record only supports off-chain decision-making.
type PooledAssistant struct {
	ID                 int64
	BridgeID           int64
	Network            string
	Addr               string // assistant contract address
	Side               Side
	ManagerAddress     string
	ManagementFee10000 int64 // annual management fee, scaled by 1e4
	SuccessFee10000    int64 // share of realized profit, scaled by 1e4
	SharesSupply       *big.Int
	MF                 AssetAmounts // accrued, unpaid management fee
	Profit             AssetAmounts // realized profit, may be negative
	BalanceInWork      AssetAmounts // capital locked in open claims/challenges
	Ts                 int64        // last fee-accrual timestamp
	CreatedAt          int64
}
