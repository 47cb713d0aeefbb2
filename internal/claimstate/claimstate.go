// Package claimstate implements the claim lifecycle shared by every
// counterstake contract: challenge-target math, outcome resolution and
// pro-rata withdrawal payouts. The same logic runs on-chain; the watchdog
// consults this in-memory mirror to predict and verify contract behavior.
//
// All stake math is integer and division always truncates, so the mirror
// never pays out more than the contract would.
package claimstate

import (
	"errors"
	"math/big"

	"counterstake-watchdog/internal/domain"
)

// Protocol rejections. These are expected, named outcomes of the state
// machine and are treated as normal control flow, not faults.
var (
	ErrPeriodExpired     = errors.New("the challenging period has expired")
	ErrPeriodOngoing     = errors.New("the challenging period is still ongoing")
	ErrSameOutcome       = errors.New("this outcome is already current")
	ErrAlreadyWithdrawn  = errors.New("already withdrawn")
	ErrNothingToWithdraw = errors.New("no winning stake to withdraw")
)

var hundred = big.NewInt(100)

// RequiredStake returns the stake a claimant must post for a claim of the
// given amount: amount scaled by the stake ratio, but no less than the
// minimum stake.
func RequiredStake(amount *big.Int, params *domain.BridgeParams) *big.Int {
	stake := new(big.Int).Mul(amount, big.NewInt(params.Ratio100))
	stake.Quo(stake, hundred)
	if params.MinStake != nil && stake.Cmp(params.MinStake) < 0 {
		stake = new(big.Int).Set(params.MinStake)
	}
	return stake
}

// Open initializes the mutable state of a freshly created claim: outcome
// yes, period 0, the first challenging period from the table selected by
// amount size, and challenging target = stake * counterstake coefficient.
func Open(c *domain.Claim, params *domain.BridgeParams, stake *big.Int, now int64) {
	c.YesStake = new(big.Int).Set(stake)
	c.NoStake = new(big.Int)
	c.CurrentOutcome = domain.OutcomeYes
	c.PeriodNumber = 0
	c.IsLarge = params.LargeThreshold != nil && params.LargeThreshold.Sign() > 0 &&
		c.Amount.Cmp(params.LargeThreshold) >= 0
	c.Ts = now
	c.ExpiryTs = now + params.Period(0, c.IsLarge)
	c.ChallengingTarget = applyCoef(stake, params.CounterstakeCoef100)
	c.Withdrawn = false
	c.Finished = false
}

func applyCoef(v *big.Int, coef100 int64) *big.Int {
	out := new(big.Int).Mul(v, big.NewInt(coef100))
	return out.Quo(out, hundred)
}

// ChallengeResult describes the effect of one accepted challenge.
type ChallengeResult struct {
	Accepted *big.Int // portion of the offered stake actually taken
	Excess   *big.Int // portion refused and returned to the challenger
	Flipped  bool     // whether the outcome was overturned
}

// ApplyChallenge applies a counterstake of stake on stakeOn to an open
// claim, mutating it in place. Only the portion needed to reach the
// challenging target is accepted; the remainder is returned, never
// collected. Reaching the target flips the outcome, advances the period,
// extends the expiry and grows the target by the counterstake coefficient.
func ApplyChallenge(c *domain.Claim, params *domain.BridgeParams, stakeOn domain.Outcome, stake *big.Int, now int64) (*ChallengeResult, error) {
	if now > c.ExpiryTs {
		return nil, ErrPeriodExpired
	}
	if stakeOn == c.CurrentOutcome {
		return nil, ErrSameOutcome
	}

	missing := new(big.Int).Sub(c.ChallengingTarget, c.Stake(stakeOn))
	if missing.Sign() < 0 {
		missing.SetInt64(0)
	}
	accepted := new(big.Int).Set(stake)
	if accepted.Cmp(missing) > 0 {
		accepted.Set(missing)
	}
	excess := new(big.Int).Sub(stake, accepted)

	c.SetStake(stakeOn, new(big.Int).Add(c.Stake(stakeOn), accepted))

	res := &ChallengeResult{Accepted: accepted, Excess: excess}
	if c.Stake(stakeOn).Cmp(c.ChallengingTarget) >= 0 {
		c.CurrentOutcome = stakeOn
		c.PeriodNumber++
		c.Ts = now
		c.ExpiryTs = now + params.Period(c.PeriodNumber, c.IsLarge)
		c.ChallengingTarget = applyCoef(c.ChallengingTarget, params.CounterstakeCoef100)
		res.Flipped = true
	}
	return res, nil
}

// WithdrawalAmount returns the payout owed to a party holding partyStake on
// the winning outcome of an expired claim: its pro-rata share of the
// combined yes+no pool, rounded down.
func WithdrawalAmount(c *domain.Claim, partyStake *big.Int, now int64) (*big.Int, error) {
	if now <= c.ExpiryTs {
		return nil, ErrPeriodOngoing
	}
	if partyStake == nil || partyStake.Sign() <= 0 {
		return nil, ErrNothingToWithdraw
	}
	winning := c.Stake(c.CurrentOutcome)
	if winning.Sign() == 0 {
		return nil, ErrNothingToWithdraw
	}
	total := new(big.Int).Add(c.YesStake, c.NoStake)
	out := new(big.Int).Mul(partyStake, total)
	return out.Quo(out, winning), nil
}

// Finalize marks an expired claim finished. The recipient additionally
// receives the claimed amount itself only when the final outcome is yes;
// the returned flag reports that. Re-finalizing is rejected.
func Finalize(c *domain.Claim, now int64) (payPrincipal bool, err error) {
	if now <= c.ExpiryTs {
		return false, ErrPeriodOngoing
	}
	if c.Finished {
		return false, ErrAlreadyWithdrawn
	}
	c.Finished = true
	c.Withdrawn = true
	return c.CurrentOutcome == domain.OutcomeYes, nil
}
