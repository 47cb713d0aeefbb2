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

func testBridgeParams() *domain.BridgeParams {
	return &domain.BridgeParams{
		CounterstakeCoef100:     150,
		Ratio100:                110,
		MinStake:                big.NewInt(1000),
		LargeThreshold:          big.NewInt(1_000_000_000_000),
		ChallengingPeriods:      []int64{50400, 259200, 864000, 2952000},
		LargeChallengingPeriods: []int64{604800, 2592000},
		MinTxAge:                600,
	}
}

func testBridge() *domain.Bridge {
	return &domain.Bridge{
		HomeNetwork:     "Obyte",
		HomeAsset:       "base",
		ForeignNetwork:  "Ethereum",
		ForeignAsset:    "0xGBYTE",
		ExportAddr:      "EXPORTAA",
		ImportAddr:      "0xIMPORT",
		HomeDecimals:    9,
		ForeignDecimals: 18,
		ExportParams:    testBridgeParams(),
		ImportParams:    testBridgeParams(),
		CreatedAt:       1700000000,
	}
}

func TestBridgeStore_InsertAndGetByID(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewBridgeStore(pool)
	ctx := context.Background()

	b := testBridge()
	require.NoError(t, store.Insert(ctx, b))
	require.NotZero(t, b.ID)

	got, err := store.GetByID(ctx, b.ID)
	require.NoError(t, err)

	assert.Equal(t, b.HomeNetwork, got.HomeNetwork)
	assert.Equal(t, b.HomeAsset, got.HomeAsset)
	assert.Equal(t, b.ForeignNetwork, got.ForeignNetwork)
	assert.Equal(t, b.ForeignAsset, got.ForeignAsset)
	assert.Equal(t, b.ExportAddr, got.ExportAddr)
	assert.Equal(t, b.ImportAddr, got.ImportAddr)
	assert.Equal(t, b.HomeDecimals, got.HomeDecimals)
	assert.Equal(t, b.ForeignDecimals, got.ForeignDecimals)
	require.NotNil(t, got.ExportParams)
	assert.Equal(t, int64(150), got.ExportParams.CounterstakeCoef100)
	assert.Equal(t, 0, got.ExportParams.MinStake.Cmp(big.NewInt(1000)))
	assert.Equal(t, []int64{50400, 259200, 864000, 2952000}, got.ExportParams.ChallengingPeriods)
}

func TestBridgeStore_InsertDuplicateRoute(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewBridgeStore(pool)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, testBridge()))
	err := store.Insert(ctx, testBridge())
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestBridgeStore_GetBySideAddr(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewBridgeStore(pool)
	ctx := context.Background()

	b := testBridge()
	require.NoError(t, store.Insert(ctx, b))

	got, side, err := store.GetBySideAddr(ctx, "Obyte", "EXPORTAA")
	require.NoError(t, err)
	assert.Equal(t, b.ID, got.ID)
	assert.Equal(t, domain.SideExport, side)

	got, side, err = store.GetBySideAddr(ctx, "Ethereum", "0xIMPORT")
	require.NoError(t, err)
	assert.Equal(t, b.ID, got.ID)
	assert.Equal(t, domain.SideImport, side)

	_, _, err = store.GetBySideAddr(ctx, "Ethereum", "0xNOBODY")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestBridgeStore_UpdateCompletesHalfBridge(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewBridgeStore(pool)
	ctx := context.Background()

	b := testBridge()
	b.ImportAddr = ""
	b.ImportParams = nil
	require.NoError(t, store.Insert(ctx, b))

	got, err := store.GetByRoute(ctx, "Obyte", "base", "Ethereum", "0xGBYTE")
	require.NoError(t, err)
	assert.False(t, got.Complete())

	got.ImportAddr = "0xIMPORT"
	got.ImportParams = testBridgeParams()
	require.NoError(t, store.Update(ctx, got))

	got, err = store.GetByID(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, got.Complete())
	require.NotNil(t, got.ImportParams)
	assert.Equal(t, int64(110), got.ImportParams.Ratio100)
}

func TestBridgeStore_List(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewBridgeStore(pool)
	ctx := context.Background()

	b1 := testBridge()
	require.NoError(t, store.Insert(ctx, b1))
	b2 := testBridge()
	b2.ForeignAsset = "0xOTHER"
	b2.ImportAddr = "0xIMPORT2"
	require.NoError(t, store.Insert(ctx, b2))

	all, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
