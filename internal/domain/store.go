package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// MarketStore persists markets and their pool states. The engine never
// touches storage; trade workflows read a consistent pool snapshot, run the
// pure math, and commit the returned state back through this interface.
type MarketStore interface {
	Create(ctx context.Context, market Market) error
	GetByID(ctx context.Context, id uuid.UUID) (Market, error)
	GetBySlug(ctx context.Context, slug string) (Market, error)
	ListOpen(ctx context.Context, opts ListOpts) ([]Market, error)
	Count(ctx context.Context) (int64, error)

	// UpdatePools replaces the market's pool state. The update is guarded by
	// the updatedAt the caller read the snapshot at, so a concurrent commit
	// against the same snapshot fails with ErrAlreadyExists instead of
	// silently clobbering it.
	UpdatePools(ctx context.Context, id uuid.UUID, pools map[string]decimal.Decimal, readAt time.Time) error

	// MarkResolved transitions the market to resolved with the winning
	// outcome. Resolving an already-resolved market fails with
	// ErrMarketResolved.
	MarkResolved(ctx context.Context, id uuid.UUID, winningOutcome string, resolvedAt time.Time) error
}

// PositionStore persists per-user outcome positions.
type PositionStore interface {
	// AddToPosition upserts the (market, user, outcome) position, adding
	// shares and cost deltas to any existing row. Sells pass negative
	// deltas.
	AddToPosition(ctx context.Context, marketID uuid.UUID, userID, outcome string, shares, cost decimal.Decimal) error
	Get(ctx context.Context, marketID uuid.UUID, userID, outcome string) (Position, error)
	ListByMarketOutcome(ctx context.Context, marketID uuid.UUID, outcome string) ([]Position, error)
	ListByUser(ctx context.Context, userID string, opts ListOpts) ([]Position, error)
}

// TradeStore persists the executed trade log.
type TradeStore interface {
	Insert(ctx context.Context, trade Trade) error
	ListByMarket(ctx context.Context, marketID uuid.UUID, opts ListOpts) ([]Trade, error)
	ListByUser(ctx context.Context, userID string, opts ListOpts) ([]Trade, error)
}

// ResolutionStore persists market settlements.
type ResolutionStore interface {
	Create(ctx context.Context, res Resolution) error
	GetByMarket(ctx context.Context, marketID uuid.UUID) (Resolution, error)
	ListUnarchived(ctx context.Context, limit int) ([]Resolution, error)
	MarkArchived(ctx context.Context, id uuid.UUID, path string) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
