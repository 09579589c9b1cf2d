package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MarketType distinguishes two-outcome from N-outcome markets.
type MarketType string

const (
	MarketTypeBinary MarketType = "binary"
	MarketTypeMulti  MarketType = "multi"
)

// MarketStatus represents the lifecycle state of a market.
type MarketStatus string

const (
	MarketStatusOpen     MarketStatus = "open"
	MarketStatusClosed   MarketStatus = "closed"
	MarketStatusResolved MarketStatus = "resolved"
)

// Binary outcome identifiers. Binary markets use the same pool map as
// multi-outcome markets, keyed by these two constants.
const (
	OutcomeYes = "yes"
	OutcomeNo  = "no"
)

// Market is a prediction market backed by a constant-product liquidity pool.
// Pool values are decimals end to end and cross every storage or wire
// boundary as decimal strings, never as floats.
type Market struct {
	ID             uuid.UUID
	Question       string
	Slug           string
	Type           MarketType
	Outcomes       []string
	Pools          map[string]decimal.Decimal
	Liquidity      decimal.Decimal
	Status         MarketStatus
	WinningOutcome *string
	ClosesAt       *time.Time
	ResolvedAt     *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Tradeable reports whether the market currently accepts trades.
func (m Market) Tradeable() bool {
	if m.Status != MarketStatusOpen {
		return false
	}
	if m.ClosesAt != nil && time.Now().After(*m.ClosesAt) {
		return false
	}
	return true
}

// HasOutcome reports whether the given outcome identifier belongs to the
// market.
func (m Market) HasOutcome(outcome string) bool {
	_, ok := m.Pools[outcome]
	return ok
}
