package claimstate

import (
	"errors"
	"math/big"
	"testing"

	"counterstake-watchdog/internal/domain"
)

const hour = int64(3600)

func testParams() *domain.BridgeParams {
	return &domain.BridgeParams{
		CounterstakeCoef100:     150,
		Ratio100:                100,
		MinStake:                big.NewInt(0),
		LargeThreshold:          big.NewInt(10_000_000_000),
		ChallengingPeriods:      []int64{14 * hour, 72 * hour, 240 * hour, 820 * hour},
		LargeChallengingPeriods: []int64{1 * 7 * 24 * hour, 30 * 7 * 24 * hour, 60 * 7 * 24 * hour, 90 * 7 * 24 * hour},
	}
}

func openClaim(t *testing.T, amount int64, now int64) *domain.Claim {
	t.Helper()
	c := &domain.Claim{
		ClaimNum: 1,
		Amount:   big.NewInt(amount),
		Reward:   big.NewInt(40),
	}
	stake := RequiredStake(c.Amount, testParams())
	Open(c, testParams(), stake, now)
	return c
}

func TestOpen_InitialState(t *testing.T) {
	now := int64(1700000000)
	// 4 GBYTE in 9-decimals units.
	c := openClaim(t, 4_000_000_000, now)

	if c.CurrentOutcome != domain.OutcomeYes {
		t.Errorf("initial outcome = %s, want yes", c.CurrentOutcome)
	}
	if c.PeriodNumber != 0 {
		t.Errorf("initial period = %d, want 0", c.PeriodNumber)
	}
	if c.ExpiryTs != now+14*hour {
		t.Errorf("expiry = %d, want now+14h", c.ExpiryTs)
	}
	if c.IsLarge {
		t.Error("claim below large threshold marked large")
	}
	// target = stake * 1.5 = amount * 1.5 with ratio 100%
	want := big.NewInt(6_000_000_000)
	if c.ChallengingTarget.Cmp(want) != 0 {
		t.Errorf("challenging target = %s, want %s", c.ChallengingTarget, want)
	}
}

func TestOpen_LargeClaim(t *testing.T) {
	now := int64(1700000000)
	c := openClaim(t, 10_000_000_000, now)
	if !c.IsLarge {
		t.Error("claim at large threshold not marked large")
	}
	if c.ExpiryTs != now+7*24*hour {
		t.Errorf("large claim expiry = %d, want now+1 week", c.ExpiryTs)
	}
}

func TestApplyChallenge_Flip(t *testing.T) {
	now := int64(1700000000)
	c := openClaim(t, 4_000_000_000, now)

	// A counterstake of amount*1.5 on "no" flips the outcome.
	res, err := ApplyChallenge(c, testParams(), domain.OutcomeNo, big.NewInt(6_000_000_000), now+hour)
	if err != nil {
		t.Fatalf("ApplyChallenge failed: %v", err)
	}
	if !res.Flipped {
		t.Fatal("decisive challenge did not flip the outcome")
	}
	if c.CurrentOutcome != domain.OutcomeNo {
		t.Errorf("outcome = %s, want no", c.CurrentOutcome)
	}
	if c.PeriodNumber != 1 {
		t.Errorf("period = %d, want 1", c.PeriodNumber)
	}
	if c.ExpiryTs != now+hour+72*hour {
		t.Errorf("expiry = %d, want challenge time + 72h", c.ExpiryTs)
	}
	// New target = amount*1.5*1.5.
	want := big.NewInt(9_000_000_000)
	if c.ChallengingTarget.Cmp(want) != 0 {
		t.Errorf("challenging target = %s, want %s", c.ChallengingTarget, want)
	}
}

func TestApplyChallenge_SmallStakeNoFlip(t *testing.T) {
	now := int64(1700000000)
	c := openClaim(t, 4_000_000_000, now)
	expiryBefore := c.ExpiryTs
	targetBefore := new(big.Int).Set(c.ChallengingTarget)

	// A challenge of 0.1*amount on the losing side does not flip.
	res, err := ApplyChallenge(c, testParams(), domain.OutcomeNo, big.NewInt(400_000_000), now+hour)
	if err != nil {
		t.Fatalf("ApplyChallenge failed: %v", err)
	}
	if res.Flipped {
		t.Error("small challenge flipped the outcome")
	}
	if c.CurrentOutcome != domain.OutcomeYes {
		t.Errorf("outcome = %s, want yes", c.CurrentOutcome)
	}
	if c.ExpiryTs != expiryBefore {
		t.Error("small challenge moved expiry")
	}
	if c.ChallengingTarget.Cmp(targetBefore) != 0 {
		t.Error("small challenge changed challenging target")
	}
	if c.NoStake.Cmp(big.NewInt(400_000_000)) != 0 {
		t.Errorf("no stake = %s, want 400000000", c.NoStake)
	}
}

func TestApplyChallenge_CappedAtTarget(t *testing.T) {
	now := int64(1700000000)
	c := openClaim(t, 4_000_000_000, now)

	// Offer far more than needed; only target - current is accepted.
	res, err := ApplyChallenge(c, testParams(), domain.OutcomeNo, big.NewInt(100_000_000_000), now+hour)
	if err != nil {
		t.Fatalf("ApplyChallenge failed: %v", err)
	}
	if res.Accepted.Cmp(big.NewInt(6_000_000_000)) != 0 {
		t.Errorf("accepted = %s, want exactly the target", res.Accepted)
	}
	if res.Excess.Cmp(big.NewInt(94_000_000_000)) != 0 {
		t.Errorf("excess = %s, want the remainder", res.Excess)
	}
	if !res.Flipped {
		t.Error("challenge reaching the target should flip the outcome")
	}
	if c.NoStake.Cmp(big.NewInt(6_000_000_000)) != 0 {
		t.Errorf("no stake = %s, want exactly the pre-flip target", c.NoStake)
	}
}

func TestApplyChallenge_Rejections(t *testing.T) {
	now := int64(1700000000)
	c := openClaim(t, 4_000_000_000, now)

	if _, err := ApplyChallenge(c, testParams(), domain.OutcomeYes, big.NewInt(1), now+hour); !errors.Is(err, ErrSameOutcome) {
		t.Errorf("challenge on current outcome: err = %v, want ErrSameOutcome", err)
	}
	if _, err := ApplyChallenge(c, testParams(), domain.OutcomeNo, big.NewInt(1), c.ExpiryTs+1); !errors.Is(err, ErrPeriodExpired) {
		t.Errorf("challenge after expiry: err = %v, want ErrPeriodExpired", err)
	}
}

func TestApplyChallenge_SameAddressAccumulates(t *testing.T) {
	now := int64(1700000000)
	c := openClaim(t, 4_000_000_000, now)

	for i := 0; i < 3; i++ {
		if _, err := ApplyChallenge(c, testParams(), domain.OutcomeNo, big.NewInt(1_000_000_000), now+hour); err != nil {
			t.Fatalf("challenge %d failed: %v", i, err)
		}
	}
	if c.NoStake.Cmp(big.NewInt(3_000_000_000)) != 0 {
		t.Errorf("accumulated no stake = %s, want 3000000000", c.NoStake)
	}
	if c.CurrentOutcome != domain.OutcomeYes {
		t.Error("outcome flipped before target reached")
	}
}

func TestWithdrawalAmount_ProRata(t *testing.T) {
	now := int64(1700000000)
	c := openClaim(t, 4_000_000_000, now)
	// Two challengers on "no" flip the claim together.
	if _, err := ApplyChallenge(c, testParams(), domain.OutcomeNo, big.NewInt(2_000_000_000), now+hour); err != nil {
		t.Fatal(err)
	}
	res, err := ApplyChallenge(c, testParams(), domain.OutcomeNo, big.NewInt(4_000_000_000), now+hour)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Flipped {
		t.Fatal("expected flip")
	}

	after := c.ExpiryTs + 1
	total := new(big.Int).Add(c.YesStake, c.NoStake)

	p1, err := WithdrawalAmount(c, big.NewInt(2_000_000_000), after)
	if err != nil {
		t.Fatalf("WithdrawalAmount failed: %v", err)
	}
	p2, err := WithdrawalAmount(c, big.NewInt(4_000_000_000), after)
	if err != nil {
		t.Fatalf("WithdrawalAmount failed: %v", err)
	}

	// No value is created: winners receive at most the combined pool.
	paid := new(big.Int).Add(p1, p2)
	if paid.Cmp(total) > 0 {
		t.Errorf("paid %s exceeds pool %s", paid, total)
	}
	// The losing side is fully absorbed up to rounding.
	diff := new(big.Int).Sub(total, paid)
	if diff.Cmp(big.NewInt(2)) > 0 {
		t.Errorf("undistributed remainder %s too large", diff)
	}
}

func TestWithdrawalAmount_Rejections(t *testing.T) {
	now := int64(1700000000)
	c := openClaim(t, 4_000_000_000, now)

	if _, err := WithdrawalAmount(c, big.NewInt(1), c.ExpiryTs); !errors.Is(err, ErrPeriodOngoing) {
		t.Errorf("withdraw before expiry: err = %v, want ErrPeriodOngoing", err)
	}
	if _, err := WithdrawalAmount(c, nil, c.ExpiryTs+1); !errors.Is(err, ErrNothingToWithdraw) {
		t.Errorf("withdraw with no stake: err = %v, want ErrNothingToWithdraw", err)
	}
}

func TestFinalize(t *testing.T) {
	now := int64(1700000000)
	c := openClaim(t, 4_000_000_000, now)

	if _, err := Finalize(c, c.ExpiryTs); !errors.Is(err, ErrPeriodOngoing) {
		t.Errorf("finalize before expiry: err = %v, want ErrPeriodOngoing", err)
	}

	payPrincipal, err := Finalize(c, c.ExpiryTs+1)
	if err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	if !payPrincipal {
		t.Error("yes outcome should pay principal to recipient")
	}
	if !c.Finished || !c.Withdrawn {
		t.Error("claim not marked finished")
	}

	if _, err := Finalize(c, c.ExpiryTs+2); !errors.Is(err, ErrAlreadyWithdrawn) {
		t.Errorf("re-finalize: err = %v, want ErrAlreadyWithdrawn", err)
	}
}

func TestRequiredStake_MinStake(t *testing.T) {
	params := testParams()
	params.Ratio100 = 50
	params.MinStake = big.NewInt(1000)

	got := RequiredStake(big.NewInt(10_000), params)
	if got.Cmp(big.NewInt(5000)) != 0 {
		t.Errorf("stake = %s, want 5000", got)
	}
	got = RequiredStake(big.NewInt(100), params)
	if got.Cmp(big.NewInt(1000)) != 0 {
		t.Errorf("stake below minimum = %s, want 1000", got)
	}
}
