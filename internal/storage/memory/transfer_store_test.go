package memory

import (
	"context"
	"math/big"
	"testing"

	"counterstake-watchdog/internal/domain"
)

func testTransfer() *domain.Transfer {
	return &domain.Transfer{
		BridgeID:      1,
		Type:          domain.TransferExpatriation,
		Amount:        big.NewInt(4_000_000_000),
		Reward:        big.NewInt(40),
		SenderAddress: "SENDER",
		DestAddress:   "0x2222222222222222222222222222222222222222",
		Txid:          "txid-1",
		Txts:          1700000000,
		IsConfirmed:   true,
	}
}

func TestTransferStore_UpsertIdempotent(t *testing.T) {
	store := NewTransferStore()
	ctx := context.Background()

	first, created, err := store.Upsert(ctx, testTransfer())
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if !created {
		t.Fatal("first upsert should create a row")
	}

	// Re-confirming with identical fields reuses the same record.
	second, created, err := store.Upsert(ctx, testTransfer())
	if err != nil {
		t.Fatalf("second Upsert failed: %v", err)
	}
	if created {
		t.Error("identical transfer created a duplicate row")
	}
	if second.ID != first.ID {
		t.Errorf("row reused: got ID %d, want %d", second.ID, first.ID)
	}
	if !second.IsConfirmed {
		t.Error("re-upsert should leave the transfer confirmed")
	}
}

func TestTransferStore_DistinctTupleCreatesRow(t *testing.T) {
	store := NewTransferStore()
	ctx := context.Background()

	if _, _, err := store.Upsert(ctx, testTransfer()); err != nil {
		t.Fatal(err)
	}
	other := testTransfer()
	other.Amount = big.NewInt(5_000_000_000)
	_, created, err := store.Upsert(ctx, other)
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if !created {
		t.Error("transfer with a different amount should create a new row")
	}
}

func TestTransferStore_RetractAndReconfirm(t *testing.T) {
	store := NewTransferStore()
	ctx := context.Background()

	row, _, err := store.Upsert(ctx, testTransfer())
	if err != nil {
		t.Fatal(err)
	}

	// Reorg: the flag is cleared, the row is kept for audit.
	if err := store.SetConfirmed(ctx, row.ID, false); err != nil {
		t.Fatalf("SetConfirmed failed: %v", err)
	}
	got, err := store.GetByID(ctx, row.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.IsConfirmed {
		t.Error("retracted transfer still confirmed")
	}

	// Chain reorganized back: the same row is re-confirmed.
	reconfirmed, created, err := store.Upsert(ctx, testTransfer())
	if err != nil {
		t.Fatal(err)
	}
	if created {
		t.Error("re-confirmation created a duplicate row")
	}
	if !reconfirmed.IsConfirmed || reconfirmed.ID != row.ID {
		t.Error("re-confirmation did not reuse the original row")
	}
}

func TestTransferStore_FindCandidates(t *testing.T) {
	store := NewTransferStore()
	ctx := context.Background()

	if _, _, err := store.Upsert(ctx, testTransfer()); err != nil {
		t.Fatal(err)
	}
	other := testTransfer()
	other.Txid = "txid-2"
	if _, _, err := store.Upsert(ctx, other); err != nil {
		t.Fatal(err)
	}

	got, err := store.FindCandidates(ctx, 1, domain.TransferExpatriation, "txid-1", 1700000000)
	if err != nil {
		t.Fatalf("FindCandidates failed: %v", err)
	}
	if len(got) != 1 || got[0].Txid != "txid-1" {
		t.Errorf("FindCandidates returned %d rows, want the single txid-1 row", len(got))
	}
}
