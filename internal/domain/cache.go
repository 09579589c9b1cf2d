package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ProbabilityCache provides fast access to the latest implied probabilities
// of a market. Values are stored as decimal strings to survive the boundary
// without precision loss.
type ProbabilityCache interface {
	SetProbabilities(ctx context.Context, marketID uuid.UUID, probs map[string]decimal.Decimal, ts time.Time) error
	GetProbabilities(ctx context.Context, marketID uuid.UUID) (map[string]decimal.Decimal, time.Time, error)
	Invalidate(ctx context.Context, marketID uuid.UUID) error
}

// LockManager provides distributed locking. Trade workflows hold a per-market
// lock across the read-compute-commit cycle so two concurrent trades are
// never computed against the same stale pool snapshot; the engine itself
// offers no such guarantee.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus provides pub/sub messaging for price and settlement events.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
