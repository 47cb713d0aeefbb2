package postgres

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"counterstake-watchdog/internal/domain"
)

func insertTestBridge(t *testing.T, pool *Pool) *domain.Bridge {
	t.Helper()
	b := testBridge()
	require.NoError(t, NewBridgeStore(pool).Insert(context.Background(), b))
	return b
}

func testTransfer(bridgeID int64) *domain.Transfer {
	return &domain.Transfer{
		BridgeID:      bridgeID,
		Type:          domain.TransferExpatriation,
		Amount:        big.NewInt(5_000_000_000),
		Reward:        big.NewInt(50_000_000),
		SenderAddress: "SENDER",
		DestAddress:   "0xDEST",
		Txid:          "txid-1",
		Txts:          1700000100,
		IsConfirmed:   true,
	}
}

func TestTransferStore_UpsertCreatesOnce(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	b := insertTestBridge(t, pool)
	store := NewTransferStore(pool)
	ctx := context.Background()

	tr, created, err := store.Upsert(ctx, testTransfer(b.ID))
	require.NoError(t, err)
	assert.True(t, created)
	require.NotZero(t, tr.ID)

	// Same uniqueness tuple again: reused, not duplicated.
	tr2, created, err := store.Upsert(ctx, testTransfer(b.ID))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, tr.ID, tr2.ID)
}

func TestTransferStore_UpsertReconfirms(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	b := insertTestBridge(t, pool)
	store := NewTransferStore(pool)
	ctx := context.Background()

	tr, _, err := store.Upsert(ctx, testTransfer(b.ID))
	require.NoError(t, err)
	require.NoError(t, store.SetConfirmed(ctx, tr.ID, false))

	got, err := store.GetByID(ctx, tr.ID)
	require.NoError(t, err)
	assert.False(t, got.IsConfirmed)

	// Seeing the transfer again after a reorg re-confirms the same row.
	tr2, created, err := store.Upsert(ctx, testTransfer(b.ID))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, tr.ID, tr2.ID)
	assert.True(t, tr2.IsConfirmed)
}

func TestTransferStore_FindCandidates(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	b := insertTestBridge(t, pool)
	store := NewTransferStore(pool)
	ctx := context.Background()

	_, _, err := store.Upsert(ctx, testTransfer(b.ID))
	require.NoError(t, err)

	other := testTransfer(b.ID)
	other.Txid = "txid-2"
	_, _, err = store.Upsert(ctx, other)
	require.NoError(t, err)

	found, err := store.FindCandidates(ctx, b.ID, domain.TransferExpatriation, "txid-1", 1700000100)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "txid-1", found[0].Txid)
	assert.Equal(t, 0, found[0].Amount.Cmp(big.NewInt(5_000_000_000)))
	assert.Equal(t, 0, found[0].Reward.Cmp(big.NewInt(50_000_000)))

	// Wrong timestamp never matches.
	found, err = store.FindCandidates(ctx, b.ID, domain.TransferExpatriation, "txid-1", 1700000101)
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestTransferStore_FindByTxid(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	b := insertTestBridge(t, pool)
	store := NewTransferStore(pool)
	ctx := context.Background()

	first := testTransfer(b.ID)
	_, _, err := store.Upsert(ctx, first)
	require.NoError(t, err)

	// A second payment inside the same transaction.
	second := testTransfer(b.ID)
	second.Amount = big.NewInt(7_000_000_000)
	_, _, err = store.Upsert(ctx, second)
	require.NoError(t, err)

	found, err := store.FindByTxid(ctx, b.ID, domain.TransferExpatriation, "txid-1")
	require.NoError(t, err)
	assert.Len(t, found, 2)

	found, err = store.FindByTxid(ctx, b.ID, domain.TransferRepatriation, "txid-1")
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestTransferStore_NegativeReward(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	b := insertTestBridge(t, pool)
	store := NewTransferStore(pool)
	ctx := context.Background()

	tr := testTransfer(b.ID)
	tr.Reward = big.NewInt(-1)
	stored, _, err := store.Upsert(ctx, tr)
	require.NoError(t, err)

	got, err := store.GetByID(ctx, stored.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Reward.Cmp(big.NewInt(-1)))
	assert.True(t, got.OptsOutOfClaiming())
}
