package domain

import "math/big"

// Archived event kinds.
const (
	ArchiveTransferSeen      = "transfer_seen"
	ArchiveTransferRetracted = "transfer_retracted"
	ArchiveClaimOpened       = "claim_opened"
	ArchiveClaimChallenged   = "claim_challenged"
	ArchiveClaimFinished     = "claim_finished"
	ArchiveBridgeSide        = "bridge_side_discovered"
)

// ArchivedEvent is the flat, append-only form of a protocol event, suitable
// for a columnar archive. Amounts travel as decimal strings to survive
// 256-bit values.
type ArchivedEvent struct {
	Network     string
	BlockNumber uint64
	Ts          int64
	Kind        string
	BridgeAddr  string
	EventTxid   string

	TransferType string
	ClaimNum     int64
	Address      string // sender, claimant or challenger depending on kind
	Dest         string
	Txid         string // source-chain transfer txid, where applicable
	Amount       string
	Reward       string
	Stake        string
	Outcome      string
	Data         string
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// FlattenEvent converts a live protocol event into its archive form.
func FlattenEvent(ev Event) *ArchivedEvent {
	var rec *ArchivedEvent

	switch e := ev.(type) {
	case *TransferSeen:
		rec = flatten(e.EventMeta, ArchiveTransferSeen)
		rec.TransferType = string(e.Type)
		rec.Address = e.Sender
		rec.Dest = e.Dest
		rec.Amount = bigString(e.Amount)
		rec.Reward = bigString(e.Reward)
		rec.Data = e.Data
	case *TransferRetracted:
		rec = flatten(e.EventMeta, ArchiveTransferRetracted)
		rec.TransferType = string(e.Type)
		rec.Txid = e.Txid
	case *ClaimOpened:
		rec = flatten(e.EventMeta, ArchiveClaimOpened)
		rec.TransferType = string(e.Type)
		rec.ClaimNum = e.ClaimNum
		rec.Address = e.Author
		rec.Dest = e.Recipient
		rec.Txid = e.Txid
		rec.Amount = bigString(e.Amount)
		rec.Reward = bigString(e.Reward)
		rec.Stake = bigString(e.Stake)
		rec.Data = e.Data
	case *ClaimChallenged:
		rec = flatten(e.EventMeta, ArchiveClaimChallenged)
		rec.TransferType = string(e.Type)
		rec.ClaimNum = e.ClaimNum
		rec.Address = e.Author
		rec.Stake = bigString(e.Stake)
		rec.Outcome = string(e.StakeOn)
	case *ClaimFinished:
		rec = flatten(e.EventMeta, ArchiveClaimFinished)
		rec.TransferType = string(e.Type)
		rec.ClaimNum = e.ClaimNum
		rec.Outcome = string(e.Outcome)
	case *BridgeSideDiscovered:
		rec = flatten(e.EventMeta, ArchiveBridgeSide)
		rec.Data = e.HomeNetwork + "/" + e.HomeAsset + " -> " + e.ForeignNetwork + "/" + e.ForeignAsset
	default:
		return nil
	}

	return rec
}

func flatten(m EventMeta, kind string) *ArchivedEvent {
	return &ArchivedEvent{
		Network:     m.Network,
		BlockNumber: m.BlockNumber,
		Ts:          m.Timestamp,
		Kind:        kind,
		BridgeAddr:  m.BridgeAddr,
		EventTxid:   m.EventTxid,
	}
}
