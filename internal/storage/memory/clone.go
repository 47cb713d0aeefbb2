package memory

import (
	"math/big"

	"counterstake-watchdog/internal/domain"
)

// The memory stores hand out deep copies so callers can never alias the
// stored big.Int values.

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

func cloneParams(p *domain.BridgeParams) *domain.BridgeParams {
	if p == nil {
		return nil
	}
	out := *p
	out.MinStake = cloneInt(p.MinStake)
	out.LargeThreshold = cloneInt(p.LargeThreshold)
	out.ChallengingPeriods = append([]int64(nil), p.ChallengingPeriods...)
	out.LargeChallengingPeriods = append([]int64(nil), p.LargeChallengingPeriods...)
	return &out
}

func cloneBridge(b *domain.Bridge) *domain.Bridge {
	out := *b
	out.ExportParams = cloneParams(b.ExportParams)
	out.ImportParams = cloneParams(b.ImportParams)
	return &out
}

func cloneTransfer(t *domain.Transfer) *domain.Transfer {
	out := *t
	out.Amount = cloneInt(t.Amount)
	out.Reward = cloneInt(t.Reward)
	return &out
}

func cloneClaim(c *domain.Claim) *domain.Claim {
	out := *c
	out.Amount = cloneInt(c.Amount)
	out.Reward = cloneInt(c.Reward)
	out.YesStake = cloneInt(c.YesStake)
	out.NoStake = cloneInt(c.NoStake)
	out.ChallengingTarget = cloneInt(c.ChallengingTarget)
	return &out
}

func cloneChallenge(ch *domain.Challenge) *domain.Challenge {
	out := *ch
	out.Stake = cloneInt(ch.Stake)
	return &out
}

func cloneAssistant(a *domain.PooledAssistant) *domain.PooledAssistant {
	out := *a
	out.SharesSupply = cloneInt(a.SharesSupply)
	out.MF = a.MF.Clone()
	out.Profit = a.Profit.Clone()
	out.BalanceInWork = a.BalanceInWork.Clone()
	return &out
}
