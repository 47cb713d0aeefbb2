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

func testAssistant(bridgeID int64) *domain.PooledAssistant {
	return &domain.PooledAssistant{
		BridgeID:           bridgeID,
		Network:            "Ethereum",
		Addr:               "0xPOOL",
		Side:               domain.SideImport,
		ManagerAddress:     "0xMANAGER",
		ManagementFee10000: 100,
		SuccessFee10000:    2500,
		SharesSupply:       big.NewInt(1_000_000),
		MF:                 domain.NewAssetAmounts(),
		Profit:             domain.NewAssetAmounts(),
		BalanceInWork:      domain.NewAssetAmounts(),
		Ts:                 1700000000,
		CreatedAt:          1700000000,
	}
}

func TestAssistantStore_InsertAndGetByAddr(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	b := insertTestBridge(t, pool)
	store := NewAssistantStore(pool)
	ctx := context.Background()

	a := testAssistant(b.ID)
	require.NoError(t, store.Insert(ctx, a))
	require.NotZero(t, a.ID)

	got, err := store.GetByAddr(ctx, "Ethereum", "0xPOOL")
	require.NoError(t, err)
	assert.Equal(t, a.BridgeID, got.BridgeID)
	assert.Equal(t, domain.SideImport, got.Side)
	assert.Equal(t, int64(100), got.ManagementFee10000)
	assert.Equal(t, int64(2500), got.SuccessFee10000)
	assert.Equal(t, 0, got.SharesSupply.Cmp(big.NewInt(1_000_000)))
	assert.Equal(t, 0, got.MF.Stake.Sign())
	assert.Equal(t, 0, got.Profit.Stake.Sign())

	_, err = store.GetByAddr(ctx, "Ethereum", "0xNOBODY")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	err = store.Insert(ctx, testAssistant(b.ID))
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestAssistantStore_GetByBridgeSide(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	b := insertTestBridge(t, pool)
	store := NewAssistantStore(pool)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, testAssistant(b.ID)))

	got, err := store.GetByBridgeSide(ctx, b.ID, domain.SideImport)
	require.NoError(t, err)
	assert.Equal(t, "0xPOOL", got.Addr)

	_, err = store.GetByBridgeSide(ctx, b.ID, domain.SideExport)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestAssistantStore_UpdateAccounting(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	b := insertTestBridge(t, pool)
	store := NewAssistantStore(pool)
	ctx := context.Background()

	a := testAssistant(b.ID)
	require.NoError(t, store.Insert(ctx, a))

	a.MF.Stake = big.NewInt(12345)
	a.Profit.Stake = big.NewInt(-500)
	a.Profit.Image = big.NewInt(900)
	a.BalanceInWork.Stake = big.NewInt(7_000_000)
	a.Ts = 1700100000
	require.NoError(t, store.Update(ctx, a))

	got, err := store.GetByAddr(ctx, "Ethereum", "0xPOOL")
	require.NoError(t, err)
	assert.Equal(t, 0, got.MF.Stake.Cmp(big.NewInt(12345)))
	assert.Equal(t, 0, got.Profit.Stake.Cmp(big.NewInt(-500)))
	assert.Equal(t, 0, got.Profit.Image.Cmp(big.NewInt(900)))
	assert.Equal(t, 0, got.BalanceInWork.Stake.Cmp(big.NewInt(7_000_000)))
	assert.Equal(t, int64(1700100000), got.Ts)
}

func TestLastBlockStore_GetSet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewLastBlockStore(pool)
	ctx := context.Background()

	_, err := store.Get(ctx, "Ethereum")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, store.Set(ctx, "Ethereum", 19_000_000))
	got, err := store.Get(ctx, "Ethereum")
	require.NoError(t, err)
	assert.Equal(t, uint64(19_000_000), got)

	require.NoError(t, store.Set(ctx, "Ethereum", 19_000_100))
	got, err = store.Get(ctx, "Ethereum")
	require.NoError(t, err)
	assert.Equal(t, uint64(19_000_100), got)
}
