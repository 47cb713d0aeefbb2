package obyte

import (
	"log"
	"math/big"
	"testing"

	"github.com/mr-tron/base58"

	"counterstake-watchdog/internal/domain"
)

func testAdapter() *Adapter {
	return &Adapter{
		opts:    Options{Network: "Obyte"},
		logger:  log.Default(),
		myAddr:  base58.Encode(make([]byte, 21)),
		watched: make(map[string]domain.Side),
	}
}

func TestIsValidAddress(t *testing.T) {
	a := testAdapter()

	if !a.IsValidAddress(base58.Encode(make([]byte, 20))) {
		t.Error("20-byte payload rejected")
	}
	if !a.IsValidAddress(base58.Encode(make([]byte, 25))) {
		t.Error("25-byte payload rejected")
	}
	if a.IsValidAddress(base58.Encode(make([]byte, 10))) {
		t.Error("short payload accepted")
	}
	if a.IsValidAddress("") {
		t.Error("empty address accepted")
	}
	if a.IsValidAddress("0OIl") {
		t.Error("non-base58 characters accepted")
	}
}

func TestIsValidTxid(t *testing.T) {
	a := testAdapter()

	// 32 bytes of zeros in base64 is 44 chars ending in "=".
	unit := "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA="
	if !a.IsValidTxid(unit) {
		t.Errorf("valid unit id %q rejected", unit)
	}
	if a.IsValidTxid("tooshort=") {
		t.Error("short unit id accepted")
	}
	if a.IsValidTxid("AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA") {
		t.Error("unit id without padding accepted")
	}
}

func TestDecodeRecord_Transfer(t *testing.T) {
	a := testAdapter()
	a.watched["BRIDGE"] = domain.SideExport

	rec := &eventRecord{
		Kind:   kindTransfer,
		MCI:    900,
		Ts:     1700000000,
		Bridge: "BRIDGE",
		Unit:   "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA=",
		Sender: "SENDER",
		Dest:   "0x0000000000000000000000000000000000000a02",
		Amount: "4000000000",
		Reward: "-1",
		Data:   `{"k":"v"}`,
	}

	ev, err := a.decodeRecord(rec)
	if err != nil {
		t.Fatalf("decodeRecord: %v", err)
	}
	tr, ok := ev.(*domain.TransferSeen)
	if !ok {
		t.Fatalf("decoded %T, want *domain.TransferSeen", ev)
	}

	if tr.Type != domain.TransferExpatriation {
		t.Errorf("transfer initiated on export side must be an expatriation, got %s", tr.Type)
	}
	if tr.Amount.Cmp(big.NewInt(4_000_000_000)) != 0 {
		t.Errorf("Amount = %s", tr.Amount)
	}
	if tr.Reward.Sign() >= 0 {
		t.Errorf("negative reward lost: %s", tr.Reward)
	}
	if tr.EventBlock() != 900 {
		t.Errorf("EventBlock = %d", tr.EventBlock())
	}
}

func TestDecodeRecord_Challenge(t *testing.T) {
	a := testAdapter()
	a.watched["BRIDGE"] = domain.SideImport

	rec := &eventRecord{
		Kind:              kindChallenge,
		MCI:               901,
		Ts:                1700000100,
		Bridge:            "BRIDGE",
		ClaimNum:          3,
		Author:            "CHALLENGER",
		Stake:             "6000000000",
		StakeOn:           "no",
		CurrentOutcome:    "no",
		YesStake:          "6000000000",
		NoStake:           "6000000000",
		ExpiryTs:          1700309600,
		ChallengingTarget: "9000000000",
	}

	ev, err := a.decodeRecord(rec)
	if err != nil {
		t.Fatalf("decodeRecord: %v", err)
	}
	ch, ok := ev.(*domain.ClaimChallenged)
	if !ok {
		t.Fatalf("decoded %T, want *domain.ClaimChallenged", ev)
	}

	if ch.Type != domain.TransferExpatriation {
		t.Errorf("Type = %s", ch.Type)
	}
	if ch.CurrentOutcome != domain.OutcomeNo {
		t.Errorf("CurrentOutcome = %s", ch.CurrentOutcome)
	}
	if ch.ChallengingTarget.Cmp(big.NewInt(9_000_000_000)) != 0 {
		t.Errorf("ChallengingTarget = %s", ch.ChallengingTarget)
	}
}

func TestDecodeRecord_Retract(t *testing.T) {
	a := testAdapter()
	a.watched["BRIDGE"] = domain.SideImport

	rec := &eventRecord{
		Kind:   kindRetract,
		MCI:    902,
		Bridge: "BRIDGE",
		Txid:   "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA=",
	}

	ev, err := a.decodeRecord(rec)
	if err != nil {
		t.Fatalf("decodeRecord: %v", err)
	}
	ret, ok := ev.(*domain.TransferRetracted)
	if !ok {
		t.Fatalf("decoded %T, want *domain.TransferRetracted", ev)
	}
	if ret.Type != domain.TransferRepatriation {
		t.Errorf("retract on import side must concern repatriations, got %s", ret.Type)
	}
}

func TestDecodeRecord_UnknownKind(t *testing.T) {
	a := testAdapter()

	ev, err := a.decodeRecord(&eventRecord{Kind: "gossip"})
	if err != nil || ev != nil {
		t.Errorf("unknown kind must decode to nil, got %v, %v", ev, err)
	}
}

func TestDecodeRecord_MalformedAmount(t *testing.T) {
	a := testAdapter()
	a.watched["BRIDGE"] = domain.SideExport

	rec := &eventRecord{Kind: kindTransfer, Bridge: "BRIDGE", Amount: "4e9"}
	if _, err := a.decodeRecord(rec); err == nil {
		t.Fatal("scientific-notation amount must be rejected")
	}
}
