package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Position tracks a user's accumulated shares in one outcome of a market,
// together with the total tokens spent acquiring them. Cost is what the
// hybrid payout refunds at resolution.
type Position struct {
	ID        uuid.UUID
	MarketID  uuid.UUID
	UserID    string
	Outcome   string
	Shares    decimal.Decimal
	Cost      decimal.Decimal
	CreatedAt time.Time
	UpdatedAt time.Time
}
