package postgres

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"counterstake-watchdog/internal/domain"
	"counterstake-watchdog/internal/storage"
)

func testClaim(bridgeID int64) *domain.Claim {
	return &domain.Claim{
		BridgeID:          bridgeID,
		Type:              domain.TransferExpatriation,
		ClaimNum:          1,
		Amount:            big.NewInt(5_000_000_000),
		Reward:            big.NewInt(50_000_000),
		SenderAddress:     "SENDER",
		DestAddress:       "0xDEST",
		ClaimantAddress:   "0xCLAIMANT",
		Txid:              "txid-1",
		Txts:              1700000100,
		ClaimHash:         "hash-1",
		YesStake:          big.NewInt(5_500_000_000),
		NoStake:           new(big.Int),
		CurrentOutcome:    domain.OutcomeYes,
		Ts:                1700000200,
		ExpiryTs:          1700050600,
		ChallengingTarget: big.NewInt(8_250_000_000),
		CreatedAt:         1700000200,
	}
}

func TestClaimStore_InsertAndGetByKey(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	b := insertTestBridge(t, pool)
	store := NewClaimStore(pool)
	ctx := context.Background()

	c := testClaim(b.ID)
	require.NoError(t, store.Insert(ctx, c))
	require.NotZero(t, c.ID)

	got, err := store.GetByKey(ctx, b.ID, domain.TransferExpatriation, 1)
	require.NoError(t, err)
	assert.Equal(t, c.ClaimNum, got.ClaimNum)
	assert.Equal(t, c.ClaimantAddress, got.ClaimantAddress)
	assert.Equal(t, 0, got.YesStake.Cmp(c.YesStake))
	assert.Equal(t, 0, got.NoStake.Sign())
	assert.Equal(t, domain.OutcomeYes, got.CurrentOutcome)
	assert.Equal(t, 0, got.ChallengingTarget.Cmp(c.ChallengingTarget))
	assert.False(t, got.Finished)

	_, err = store.GetByKey(ctx, b.ID, domain.TransferRepatriation, 1)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestClaimStore_InsertDuplicate(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	b := insertTestBridge(t, pool)
	store := NewClaimStore(pool)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, testClaim(b.ID)))
	err := store.Insert(ctx, testClaim(b.ID))
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestClaimStore_GetByClaimHash(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	b := insertTestBridge(t, pool)
	store := NewClaimStore(pool)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, testClaim(b.ID)))

	got, err := store.GetByClaimHash(ctx, b.ID, domain.TransferExpatriation, "hash-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.ClaimNum)

	_, err = store.GetByClaimHash(ctx, b.ID, domain.TransferExpatriation, "hash-other")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestClaimStore_UpdateChallengeState(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	b := insertTestBridge(t, pool)
	store := NewClaimStore(pool)
	ctx := context.Background()

	c := testClaim(b.ID)
	require.NoError(t, store.Insert(ctx, c))

	c.CurrentOutcome = domain.OutcomeNo
	c.NoStake = big.NewInt(8_250_000_000)
	c.PeriodNumber = 1
	c.Ts = 1700000300
	c.ExpiryTs = 1700259500
	c.ChallengingTarget = big.NewInt(12_375_000_000)
	require.NoError(t, store.Update(ctx, c))

	got, err := store.GetByKey(ctx, b.ID, domain.TransferExpatriation, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeNo, got.CurrentOutcome)
	assert.Equal(t, 1, got.PeriodNumber)
	assert.Equal(t, 0, got.NoStake.Cmp(big.NewInt(8_250_000_000)))
	assert.Equal(t, int64(1700259500), got.ExpiryTs)
}

func TestClaimStore_ListUnfinished(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	b := insertTestBridge(t, pool)
	store := NewClaimStore(pool)
	ctx := context.Background()

	open := testClaim(b.ID)
	require.NoError(t, store.Insert(ctx, open))

	done := testClaim(b.ID)
	done.ClaimNum = 2
	done.ClaimHash = "hash-2"
	done.Finished = true
	require.NoError(t, store.Insert(ctx, done))

	claims, err := store.ListUnfinished(ctx)
	require.NoError(t, err)
	require.Len(t, claims, 1)
	assert.Equal(t, int64(1), claims[0].ClaimNum)
}

func TestChallengeStore_InsertAndList(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	b := insertTestBridge(t, pool)
	store := NewChallengeStore(pool)
	ctx := context.Background()

	first := &domain.Challenge{
		BridgeID: b.ID,
		Type:     domain.TransferExpatriation,
		ClaimNum: 1,
		Address:  "0xCHALLENGER",
		StakeOn:  domain.OutcomeNo,
		Stake:    big.NewInt(8_250_000_000),
		Txid:     "chal-1",
		Ts:       1700000300,
	}
	require.NoError(t, store.Insert(ctx, first))

	second := &domain.Challenge{
		BridgeID: b.ID,
		Type:     domain.TransferExpatriation,
		ClaimNum: 1,
		Address:  "0xDEFENDER",
		StakeOn:  domain.OutcomeYes,
		Stake:    big.NewInt(6_875_000_000),
		Txid:     "chal-2",
		Ts:       1700000400,
	}
	require.NoError(t, store.Insert(ctx, second))

	// The same challenge transaction seen again during catch-up overlap.
	err := store.Insert(ctx, first)
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	challenges, err := store.ListByClaim(ctx, b.ID, domain.TransferExpatriation, 1)
	require.NoError(t, err)
	require.Len(t, challenges, 2)
	assert.Equal(t, "0xCHALLENGER", challenges[0].Address)
	assert.Equal(t, domain.OutcomeNo, challenges[0].StakeOn)
	assert.Equal(t, "0xDEFENDER", challenges[1].Address)
	assert.Equal(t, 0, challenges[1].Stake.Cmp(big.NewInt(6_875_000_000)))
}
