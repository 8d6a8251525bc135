package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

type LedgerKind string

const (
	LedgerStake  LedgerKind = "stake"
	LedgerRefund LedgerKind = "refund"
	LedgerPayout LedgerKind = "payout"
)

// LedgerEntry is one balance movement. (MatchID, UserID, Kind, Ref) is unique.
type LedgerEntry struct {
	UserID   string
	Username string
	MatchID  string
	Kind     LedgerKind
	Amount   decimal.Decimal
	// Ref tells apart join attempts on the same match. Empty for everything else.
	Ref string
}

// Delta is the signed balance change: stakes debit, refunds and payouts credit.
func (that LedgerEntry) Delta() decimal.Decimal {
	if that.Kind == LedgerStake {
		return that.Amount.Neg()
	}

	return that.Amount
}

// SettlementRecord is the durable artifact that makes settlement idempotent.
type SettlementRecord struct {
	MatchID     string                     `json:"match_id"`
	Outcome     Status                     `json:"outcome"`
	WinnerID    string                     `json:"winner_id,omitempty"`
	Payouts     map[string]decimal.Decimal `json:"payouts"`
	PlatformFee decimal.Decimal            `json:"platform_fee"`
	Pot         decimal.Decimal            `json:"pot"`
	VsBot       bool                       `json:"vs_bot"`
	Players     []string                   `json:"players"`
	Applied     bool                       `json:"applied"`
	CreatedAt   time.Time                  `json:"created_at"`
}

// TotalPaid sums every payout in the record.
func (that *SettlementRecord) TotalPaid() decimal.Decimal {
	total := decimal.Zero
	for _, amount := range that.Payouts {
		total = total.Add(amount)
	}

	return total
}
