package assistant

import (
	"errors"
	"fmt"
	"math/big"

	"counterstake-watchdog/internal/domain"
)

// Fee rates are scaled by 1e4; a fee of 100 is 1% per year.
const feeScale = 10000

// yearSeconds is the accrual year. 365 days, leap days ignored.
const yearSeconds = 365 * 24 * 3600

var (
	ErrNoShares          = errors.New("no shares outstanding")
	ErrZeroDeposit       = errors.New("deposit must be positive")
	ErrInsufficientFunds = errors.New("insufficient vault balance")
)

// Engine applies accounting transitions to a pooled assistant mirror. The
// on-chain contract is authoritative; the engine reproduces its arithmetic so
// the watchdog can predict share prices and available capital without a
// round trip.
//
// All callers pass current gross balances (on-chain holdings of the vault)
// explicitly; the engine never reads the chain itself.
type Engine struct {
	now func() int64
}

// NewEngine creates an engine using the given clock. A nil clock is invalid;
// pass time.Now().Unix wrapped by the caller.
func NewEngine(now func() int64) *Engine {
	return &Engine{now: now}
}

// AccrueMF accrues the management fee for the time elapsed since the vault's
// last accrual and advances the accrual timestamp. The accrual base is the
// gross balance plus the balance locked in open claims, per asset. Must run
// before every state-changing operation.
//
// Accrued fee between two timestamps with no intervening operation is exactly
// base * fee * elapsed / year, floored, so interleaving no-op accruals only
// loses sub-unit remainders.
func (e *Engine) AccrueMF(a *domain.PooledAssistant, gross domain.AssetAmounts) {
	now := e.now()
	elapsed := now - a.Ts
	if elapsed <= 0 {
		a.Ts = now
		return
	}

	a.MF.Stake = accrue(a.MF.Stake, gross.Stake, a.BalanceInWork.Stake, a.ManagementFee10000, elapsed)
	if a.Side == domain.SideImport {
		a.MF.Image = accrue(a.MF.Image, gross.Image, a.BalanceInWork.Image, a.ManagementFee10000, elapsed)
	}
	a.Ts = now
}

func accrue(mf, gross, inWork *big.Int, fee10000, elapsed int64) *big.Int {
	base := new(big.Int).Add(orZero(gross), orZero(inWork))
	delta := base.Mul(base, big.NewInt(fee10000))
	delta.Mul(delta, big.NewInt(elapsed))
	delta.Quo(delta, big.NewInt(feeScale*int64(yearSeconds)))
	return new(big.Int).Add(orZero(mf), delta)
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

// NAV returns the per-asset net asset value used for share pricing: gross
// minus accrued management fee minus the success-fee share of positive
// realized profit. Never negative.
func (e *Engine) NAV(a *domain.PooledAssistant, gross domain.AssetAmounts) domain.AssetAmounts {
	return domain.AssetAmounts{
		Stake: nav(gross.Stake, a.MF.Stake, a.Profit.Stake, a.SuccessFee10000),
		Image: nav(gross.Image, a.MF.Image, a.Profit.Image, a.SuccessFee10000),
	}
}

func nav(gross, mf, profit *big.Int, successFee10000 int64) *big.Int {
	v := new(big.Int).Sub(orZero(gross), orZero(mf))
	if p := orZero(profit); p.Sign() > 0 {
		cut := new(big.Int).Mul(p, big.NewInt(successFee10000))
		cut.Quo(cut, big.NewInt(feeScale))
		v.Sub(v, cut)
	}
	if v.Sign() < 0 {
		v.SetInt64(0)
	}
	return v
}

// SharesForDeposit computes how many shares a deposit buys, accruing fees
// first. Gross balances must not yet include the deposit.
//
// The first deposit into a dual-asset vault seeds the supply with
// floor(sqrt(stake*image)), the constant-product convention; a single-asset
// vault seeds 1:1. Later deposits into a single-asset vault price shares at
// supply*deposit/NAV; dual-asset deposits grow the supply with the geometric
// mean of the two net balances, so lopsided deposits are penalized the same
// way the swap pool would penalize them.
func (e *Engine) SharesForDeposit(a *domain.PooledAssistant, gross, deposit domain.AssetAmounts) (*big.Int, error) {
	dual := a.Side == domain.SideImport

	if orZero(deposit.Stake).Sign() < 0 || orZero(deposit.Image).Sign() < 0 {
		return nil, ErrZeroDeposit
	}

	e.AccrueMF(a, gross)

	if orZero(a.SharesSupply).Sign() == 0 {
		if dual {
			product := new(big.Int).Mul(orZero(deposit.Stake), orZero(deposit.Image))
			shares := product.Sqrt(product)
			if shares.Sign() == 0 {
				return nil, ErrZeroDeposit
			}
			return shares, nil
		}
		if orZero(deposit.Stake).Sign() == 0 {
			return nil, ErrZeroDeposit
		}
		return new(big.Int).Set(deposit.Stake), nil
	}

	navBefore := e.NAV(a, gross)

	if !dual {
		if orZero(deposit.Stake).Sign() == 0 {
			return nil, ErrZeroDeposit
		}
		if navBefore.Stake.Sign() == 0 {
			return nil, fmt.Errorf("vault nav is zero, shares cannot be priced")
		}
		shares := new(big.Int).Mul(a.SharesSupply, deposit.Stake)
		shares.Quo(shares, navBefore.Stake)
		return shares, nil
	}

	oldProduct := new(big.Int).Mul(navBefore.Stake, navBefore.Image)
	newStake := new(big.Int).Add(navBefore.Stake, orZero(deposit.Stake))
	newImage := new(big.Int).Add(navBefore.Image, orZero(deposit.Image))
	newProduct := new(big.Int).Mul(newStake, newImage)

	oldRoot := oldProduct.Sqrt(oldProduct)
	newRoot := newProduct.Sqrt(newProduct)
	if oldRoot.Sign() == 0 {
		return nil, fmt.Errorf("vault nav is zero, shares cannot be priced")
	}

	// supply * (sqrt(new)/sqrt(old) - 1)
	shares := new(big.Int).Mul(a.SharesSupply, newRoot)
	shares.Quo(shares, oldRoot)
	shares.Sub(shares, a.SharesSupply)
	if shares.Sign() <= 0 {
		return nil, ErrZeroDeposit
	}
	return shares, nil
}

// RedeemShares computes the per-asset payout for redeeming shares, accruing
// fees first. The payout is NAV*shares/supply floored per asset. The caller
// applies the balance movement; the engine only shrinks the supply.
func (e *Engine) RedeemShares(a *domain.PooledAssistant, gross domain.AssetAmounts, shares *big.Int) (domain.AssetAmounts, error) {
	if orZero(a.SharesSupply).Sign() == 0 {
		return domain.AssetAmounts{}, ErrNoShares
	}
	if orZero(shares).Sign() <= 0 || shares.Cmp(a.SharesSupply) > 0 {
		return domain.AssetAmounts{}, fmt.Errorf("redeeming %s of %s shares", orZero(shares), a.SharesSupply)
	}

	e.AccrueMF(a, gross)
	navNow := e.NAV(a, gross)

	payout := domain.AssetAmounts{
		Stake: prorate(navNow.Stake, shares, a.SharesSupply),
		Image: prorate(navNow.Image, shares, a.SharesSupply),
	}

	a.SharesSupply = new(big.Int).Sub(a.SharesSupply, shares)
	return payout, nil
}

func prorate(total, part, whole *big.Int) *big.Int {
	v := new(big.Int).Mul(orZero(total), part)
	return v.Quo(v, whole)
}

// LockInWork moves capital into the balance-in-work ledger when the vault
// stakes on a claim or challenge.
func (e *Engine) LockInWork(a *domain.PooledAssistant, gross, locked domain.AssetAmounts) {
	e.AccrueMF(a, gross)
	a.BalanceInWork.Stake = new(big.Int).Add(orZero(a.BalanceInWork.Stake), orZero(locked.Stake))
	a.BalanceInWork.Image = new(big.Int).Add(orZero(a.BalanceInWork.Image), orZero(locked.Image))
}

// RecordWin settles a won claim: the locked capital returns and the reward
// becomes realized profit.
func (e *Engine) RecordWin(a *domain.PooledAssistant, gross, released, reward domain.AssetAmounts) {
	e.AccrueMF(a, gross)
	a.BalanceInWork.Stake = releaseFloor(a.BalanceInWork.Stake, released.Stake)
	a.BalanceInWork.Image = releaseFloor(a.BalanceInWork.Image, released.Image)
	a.Profit.Stake = new(big.Int).Add(orZero(a.Profit.Stake), orZero(reward.Stake))
	a.Profit.Image = new(big.Int).Add(orZero(a.Profit.Image), orZero(reward.Image))
}

// RecordLoss settles a lost claim: the locked capital is gone and realized
// profit drops by the full amount at risk.
func (e *Engine) RecordLoss(a *domain.PooledAssistant, gross, lost domain.AssetAmounts) {
	e.AccrueMF(a, gross)
	a.BalanceInWork.Stake = releaseFloor(a.BalanceInWork.Stake, lost.Stake)
	a.BalanceInWork.Image = releaseFloor(a.BalanceInWork.Image, lost.Image)
	a.Profit.Stake = new(big.Int).Sub(orZero(a.Profit.Stake), orZero(lost.Stake))
	a.Profit.Image = new(big.Int).Sub(orZero(a.Profit.Image), orZero(lost.Image))
}

// releaseFloor removes released from the in-work tally, clamping at zero so a
// double settlement cannot drive it negative.
func releaseFloor(inWork, released *big.Int) *big.Int {
	v := new(big.Int).Sub(orZero(inWork), orZero(released))
	if v.Sign() < 0 {
		v.SetInt64(0)
	}
	return v
}

// WithdrawManagementFee pays the accrued management fee out to the manager
// and resets the accrual. Returns the paid amounts.
func (e *Engine) WithdrawManagementFee(a *domain.PooledAssistant, gross domain.AssetAmounts) domain.AssetAmounts {
	e.AccrueMF(a, gross)
	paid := a.MF.Clone()
	a.MF = domain.NewAssetAmounts()
	return paid
}

// WithdrawSuccessFee pays the success-fee share of positive realized profit
// and resets the profit baseline for assets that paid out.
func (e *Engine) WithdrawSuccessFee(a *domain.PooledAssistant, gross domain.AssetAmounts) domain.AssetAmounts {
	e.AccrueMF(a, gross)

	paid := domain.NewAssetAmounts()
	if orZero(a.Profit.Stake).Sign() > 0 {
		paid.Stake.Mul(a.Profit.Stake, big.NewInt(a.SuccessFee10000))
		paid.Stake.Quo(paid.Stake, big.NewInt(feeScale))
		a.Profit.Stake = new(big.Int)
	}
	if orZero(a.Profit.Image).Sign() > 0 {
		paid.Image.Mul(a.Profit.Image, big.NewInt(a.SuccessFee10000))
		paid.Image.Quo(paid.Image, big.NewInt(feeScale))
		a.Profit.Image = new(big.Int)
	}
	return paid
}

// SwapDirection selects which asset enters the pool in a dual-asset swap.
type SwapDirection int

const (
	StakeToImage SwapDirection = iota
	ImageToStake
)

// SwapQuote prices a stake<->image swap against the vault's net balances as
// constant-product reserves: out = outReserve*in/(inReserve+in), minus the
// fixed swap fee. Fees accrue first so reserves are net of unpaid fees.
func (e *Engine) SwapQuote(a *domain.PooledAssistant, gross domain.AssetAmounts, in *big.Int, dir SwapDirection, swapFee10000 int64) (*big.Int, error) {
	if a.Side != domain.SideImport {
		return nil, fmt.Errorf("swap requires a dual-asset vault")
	}
	if orZero(in).Sign() <= 0 {
		return nil, fmt.Errorf("swap input must be positive")
	}

	e.AccrueMF(a, gross)
	reserves := e.NAV(a, gross)

	inReserve, outReserve := reserves.Stake, reserves.Image
	if dir == ImageToStake {
		inReserve, outReserve = reserves.Image, reserves.Stake
	}
	if inReserve.Sign() == 0 || outReserve.Sign() == 0 {
		return nil, ErrInsufficientFunds
	}

	out := new(big.Int).Mul(outReserve, in)
	out.Quo(out, new(big.Int).Add(inReserve, in))

	fee := new(big.Int).Mul(out, big.NewInt(swapFee10000))
	fee.Quo(fee, big.NewInt(feeScale))
	out.Sub(out, fee)

	if out.Sign() <= 0 {
		return nil, ErrInsufficientFunds
	}
	return out, nil
}

// Available returns how much capital the vault can still commit to a claim
// or challenge: NAV minus what is already in work, floored at zero.
func (e *Engine) Available(a *domain.PooledAssistant, gross domain.AssetAmounts) domain.AssetAmounts {
	navNow := e.NAV(a, gross)
	avail := domain.AssetAmounts{
		Stake: new(big.Int).Sub(navNow.Stake, orZero(a.BalanceInWork.Stake)),
		Image: new(big.Int).Sub(navNow.Image, orZero(a.BalanceInWork.Image)),
	}
	if avail.Stake.Sign() < 0 {
		avail.Stake.SetInt64(0)
	}
	if avail.Image.Sign() < 0 {
		avail.Image.SetInt64(0)
	}
	return avail
}
