package assistant

import (
	"math/big"
	"testing"

	"counterstake-watchdog/internal/domain"
)

func newVault(side domain.Side, mf, sf int64) *domain.PooledAssistant {
	return &domain.PooledAssistant{
		Network:            "Obyte",
		Addr:               "VAULT",
		Side:               side,
		ManagementFee10000: mf,
		SuccessFee10000:    sf,
		SharesSupply:       new(big.Int),
		MF:                 domain.NewAssetAmounts(),
		Profit:             domain.NewAssetAmounts(),
		BalanceInWork:      domain.NewAssetAmounts(),
		Ts:                 1_000_000,
	}
}

func amounts(stake, image int64) domain.AssetAmounts {
	return domain.AssetAmounts{Stake: big.NewInt(stake), Image: big.NewInt(image)}
}

func clockAt(ts int64) (*Engine, *int64) {
	now := ts
	return NewEngine(func() int64 { return now }), &now
}

func TestAccrueMF_ExactFormula(t *testing.T) {
	e, now := clockAt(1_000_000)
	v := newVault(domain.SideExport, 100, 0) // 1% per year
	gross := amounts(1_000_000_000, 0)

	*now = 1_000_000 + yearSeconds/2
	e.AccrueMF(v, gross)

	// balance * fee * elapsed / (feeScale * year) = 1e9*100*(year/2)/(1e4*year)
	want := big.NewInt(5_000_000)
	if v.MF.Stake.Cmp(want) != 0 {
		t.Errorf("mf = %s, want %s", v.MF.Stake, want)
	}
	if v.Ts != *now {
		t.Errorf("Ts not advanced: %d", v.Ts)
	}
}

func TestAccrueMF_NoOpCallsDoNotAccrue(t *testing.T) {
	e, now := clockAt(1_000_000)
	v := newVault(domain.SideExport, 100, 0)
	gross := amounts(1_000_000_000, 0)

	*now = 1_000_000 + yearSeconds/2
	e.AccrueMF(v, gross)
	after := new(big.Int).Set(v.MF.Stake)

	// Same timestamp, any number of calls: nothing more accrues.
	for i := 0; i < 5; i++ {
		e.AccrueMF(v, gross)
	}
	if v.MF.Stake.Cmp(after) != 0 {
		t.Errorf("mf drifted across no-op accruals: %s != %s", v.MF.Stake, after)
	}
}

func TestAccrueMF_IncludesBalanceInWork(t *testing.T) {
	e, now := clockAt(1_000_000)
	v := newVault(domain.SideExport, 100, 0)
	v.BalanceInWork = amounts(1_000_000_000, 0)

	*now = 1_000_000 + yearSeconds
	e.AccrueMF(v, amounts(1_000_000_000, 0))

	// Base is gross + in-work = 2e9; 1% over a full year = 2e7.
	want := big.NewInt(20_000_000)
	if v.MF.Stake.Cmp(want) != 0 {
		t.Errorf("mf = %s, want %s", v.MF.Stake, want)
	}
}

func TestNAV_SubtractsFeesAndSuccessCut(t *testing.T) {
	e, _ := clockAt(1_000_000)
	v := newVault(domain.SideExport, 0, 2000) // 20% success fee
	v.MF.Stake = big.NewInt(1_000)
	v.Profit.Stake = big.NewInt(10_000)

	nav := e.NAV(v, amounts(1_000_000, 0))
	// 1_000_000 - 1_000 - 20% of 10_000
	want := big.NewInt(997_000)
	if nav.Stake.Cmp(want) != 0 {
		t.Errorf("nav = %s, want %s", nav.Stake, want)
	}
}

func TestNAV_NegativeProfitTakesNoCut(t *testing.T) {
	e, _ := clockAt(1_000_000)
	v := newVault(domain.SideExport, 0, 2000)
	v.Profit.Stake = big.NewInt(-10_000)

	nav := e.NAV(v, amounts(1_000_000, 0))
	if nav.Stake.Cmp(big.NewInt(1_000_000)) != 0 {
		t.Errorf("nav = %s, success fee must not apply to losses", nav.Stake)
	}
}

func TestSharesForDeposit_FirstDualDeposit(t *testing.T) {
	e, _ := clockAt(1_000_000)
	v := newVault(domain.SideImport, 0, 0)

	shares, err := e.SharesForDeposit(v, amounts(0, 0), amounts(9_000_000, 4_000_000))
	if err != nil {
		t.Fatalf("SharesForDeposit: %v", err)
	}
	// floor(sqrt(9e6 * 4e6)) = 6e6
	if shares.Cmp(big.NewInt(6_000_000)) != 0 {
		t.Errorf("seed shares = %s, want 6000000", shares)
	}
}

func TestSharesForDeposit_FirstSingleDeposit(t *testing.T) {
	e, _ := clockAt(1_000_000)
	v := newVault(domain.SideExport, 0, 0)

	shares, err := e.SharesForDeposit(v, amounts(0, 0), amounts(5_000_000, 0))
	if err != nil {
		t.Fatalf("SharesForDeposit: %v", err)
	}
	if shares.Cmp(big.NewInt(5_000_000)) != 0 {
		t.Errorf("seed shares = %s, want 1:1", shares)
	}
}

func TestSharesForDeposit_ProRataSingle(t *testing.T) {
	e, _ := clockAt(1_000_000)
	v := newVault(domain.SideExport, 0, 0)
	v.SharesSupply = big.NewInt(1_000_000)

	shares, err := e.SharesForDeposit(v, amounts(2_000_000, 0), amounts(1_000_000, 0))
	if err != nil {
		t.Fatalf("SharesForDeposit: %v", err)
	}
	// supply * deposit / nav = 1e6 * 1e6 / 2e6
	if shares.Cmp(big.NewInt(500_000)) != 0 {
		t.Errorf("shares = %s, want 500000", shares)
	}
}

func TestSharesForDeposit_ZeroDepositRejected(t *testing.T) {
	e, _ := clockAt(1_000_000)
	v := newVault(domain.SideExport, 0, 0)

	if _, err := e.SharesForDeposit(v, amounts(0, 0), amounts(0, 0)); err == nil {
		t.Fatal("zero deposit accepted")
	}
}

func TestRedeemShares_ProRata(t *testing.T) {
	e, _ := clockAt(1_000_000)
	v := newVault(domain.SideImport, 0, 0)
	v.SharesSupply = big.NewInt(1_000_000)

	payout, err := e.RedeemShares(v, amounts(10_000_000, 4_000_000), big.NewInt(250_000))
	if err != nil {
		t.Fatalf("RedeemShares: %v", err)
	}
	if payout.Stake.Cmp(big.NewInt(2_500_000)) != 0 {
		t.Errorf("stake payout = %s, want 2500000", payout.Stake)
	}
	if payout.Image.Cmp(big.NewInt(1_000_000)) != 0 {
		t.Errorf("image payout = %s, want 1000000", payout.Image)
	}
	if v.SharesSupply.Cmp(big.NewInt(750_000)) != 0 {
		t.Errorf("supply = %s, want 750000", v.SharesSupply)
	}
}

func TestRedeemShares_MoreThanSupplyRejected(t *testing.T) {
	e, _ := clockAt(1_000_000)
	v := newVault(domain.SideExport, 0, 0)
	v.SharesSupply = big.NewInt(100)

	if _, err := e.RedeemShares(v, amounts(1000, 0), big.NewInt(101)); err == nil {
		t.Fatal("over-redemption accepted")
	}
}

func TestLossZeroesInWorkAndCutsProfit(t *testing.T) {
	e, _ := clockAt(1_000_000)
	v := newVault(domain.SideImport, 0, 0)
	v.Profit = amounts(500, 0)

	e.LockInWork(v, amounts(10_000_000, 4_000_000), amounts(6_000_000, 4_000_000))
	if v.BalanceInWork.Stake.Cmp(big.NewInt(6_000_000)) != 0 {
		t.Fatalf("in-work = %s", v.BalanceInWork.Stake)
	}

	e.RecordLoss(v, amounts(4_000_000, 0), amounts(6_000_000, 4_000_000))

	if v.BalanceInWork.Stake.Sign() != 0 || v.BalanceInWork.Image.Sign() != 0 {
		t.Errorf("in-work not released: %s/%s", v.BalanceInWork.Stake, v.BalanceInWork.Image)
	}
	// profit dropped by the full amount at risk
	if v.Profit.Stake.Cmp(big.NewInt(500-6_000_000)) != 0 {
		t.Errorf("stake profit = %s", v.Profit.Stake)
	}
	if v.Profit.Image.Cmp(big.NewInt(-4_000_000)) != 0 {
		t.Errorf("image profit = %s", v.Profit.Image)
	}
}

func TestWinReleasesAndBooksReward(t *testing.T) {
	e, _ := clockAt(1_000_000)
	v := newVault(domain.SideImport, 0, 0)

	e.LockInWork(v, amounts(10_000_000, 0), amounts(6_000_000, 0))
	e.RecordWin(v, amounts(10_000_000, 0), amounts(6_000_000, 0), amounts(0, 40))

	if v.BalanceInWork.Stake.Sign() != 0 {
		t.Errorf("in-work not released: %s", v.BalanceInWork.Stake)
	}
	if v.Profit.Image.Cmp(big.NewInt(40)) != 0 {
		t.Errorf("image profit = %s, want the reward", v.Profit.Image)
	}
}

func TestSwapQuote_ConstantProduct(t *testing.T) {
	e, _ := clockAt(1_000_000)
	v := newVault(domain.SideImport, 0, 0)

	// Reserves 9e6 stake / 4e6 image, swap in 1e6 stake, no fee:
	// out = 4e6 * 1e6 / (9e6 + 1e6) = 400000
	out, err := e.SwapQuote(v, amounts(9_000_000, 4_000_000), big.NewInt(1_000_000), StakeToImage, 0)
	if err != nil {
		t.Fatalf("SwapQuote: %v", err)
	}
	if out.Cmp(big.NewInt(400_000)) != 0 {
		t.Errorf("out = %s, want 400000", out)
	}
}

func TestSwapQuote_FeeDeducted(t *testing.T) {
	e, _ := clockAt(1_000_000)
	v := newVault(domain.SideImport, 0, 0)

	out, err := e.SwapQuote(v, amounts(9_000_000, 4_000_000), big.NewInt(1_000_000), StakeToImage, 100)
	if err != nil {
		t.Fatalf("SwapQuote: %v", err)
	}
	// 1% fee off the 400000 quote
	if out.Cmp(big.NewInt(396_000)) != 0 {
		t.Errorf("out = %s, want 396000", out)
	}
}

func TestSwapQuote_SingleAssetVaultRejected(t *testing.T) {
	e, _ := clockAt(1_000_000)
	v := newVault(domain.SideExport, 0, 0)

	if _, err := e.SwapQuote(v, amounts(1_000_000, 0), big.NewInt(100), StakeToImage, 0); err == nil {
		t.Fatal("swap on single-asset vault accepted")
	}
}

func TestWithdrawFees(t *testing.T) {
	e, _ := clockAt(1_000_000)
	v := newVault(domain.SideExport, 0, 2500)
	v.MF.Stake = big.NewInt(1_234)
	v.Profit.Stake = big.NewInt(10_000)

	mfPaid := e.WithdrawManagementFee(v, amounts(1_000_000, 0))
	if mfPaid.Stake.Cmp(big.NewInt(1_234)) != 0 {
		t.Errorf("mf paid = %s", mfPaid.Stake)
	}
	if v.MF.Stake.Sign() != 0 {
		t.Error("mf not reset after withdrawal")
	}

	sfPaid := e.WithdrawSuccessFee(v, amounts(1_000_000, 0))
	if sfPaid.Stake.Cmp(big.NewInt(2_500)) != 0 {
		t.Errorf("sf paid = %s, want 25%% of profit", sfPaid.Stake)
	}
	if v.Profit.Stake.Sign() != 0 {
		t.Error("profit baseline not reset after success fee withdrawal")
	}
}

func TestAvailable_ClampsAtZero(t *testing.T) {
	e, _ := clockAt(1_000_000)
	v := newVault(domain.SideExport, 0, 0)
	v.BalanceInWork.Stake = big.NewInt(2_000_000)

	avail := e.Available(v, amounts(1_000_000, 0))
	if avail.Stake.Sign() != 0 {
		t.Errorf("available = %s, want 0", avail.Stake)
	}
}
