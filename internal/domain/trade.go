package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TradeSide is the direction of a trade.
type TradeSide string

const (
	TradeSideBuy  TradeSide = "buy"
	TradeSideSell TradeSide = "sell"
)

// Trade is one executed trade against a market's pool. PoolsAfter snapshots
// the pool state the trade produced; replaying the trade log through the
// engine must reproduce these snapshots digit for digit.
type Trade struct {
	ID         uuid.UUID
	MarketID   uuid.UUID
	UserID     string
	Outcome    string
	Side       TradeSide
	Tokens     decimal.Decimal
	Shares     decimal.Decimal
	PoolsAfter map[string]decimal.Decimal
	CreatedAt  time.Time
}
