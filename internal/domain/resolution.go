package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PayoutLine is one winner's payout within a resolution.
type PayoutLine struct {
	UserID string          `json:"user_id"`
	Shares decimal.Decimal `json:"shares"`
	Cost   decimal.Decimal `json:"cost"`
	Amount decimal.Decimal `json:"amount"`
}

// Resolution records the settlement of a market: the winning outcome, the
// payout policy it was settled under, the aggregates the formula consumed,
// and the resulting per-winner payout lines. Keeping the policy on the
// record lets historical settlements replay exactly even after the default
// policy changes.
type Resolution struct {
	ID                 uuid.UUID
	MarketID           uuid.UUID
	WinningOutcome     string
	Policy             string
	TotalPool          decimal.Decimal
	TotalWinningShares decimal.Decimal
	TotalWinningCost   decimal.Decimal
	Payouts            []PayoutLine
	ResolvedAt         time.Time
}
