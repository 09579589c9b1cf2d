package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openpredict/marketd/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL. The trade log is
// append-only; PoolsAfter snapshots are stored as JSONB of decimal strings so
// replaying the log reproduces pool states digit for digit.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

// Insert appends one executed trade to the log.
func (s *TradeStore) Insert(ctx context.Context, t domain.Trade) error {
	poolsJSON, err := encodePools(t.PoolsAfter)
	if err != nil {
		return fmt.Errorf("postgres: encode pools for trade %s: %w", t.ID, err)
	}

	const query = `
		INSERT INTO trades (id, market_id, user_id, outcome, side, tokens, shares, pools_after, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err = s.pool.Exec(ctx, query,
		t.ID, t.MarketID, t.UserID, t.Outcome, string(t.Side),
		t.Tokens.String(), t.Shares.String(), poolsJSON, t.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: insert trade %s: %w", t.ID, err)
	}
	return nil
}

const tradeColumns = `id, market_id, user_id, outcome, side, tokens::text, shares::text, pools_after, created_at`

// ListByMarket returns a market's trades in execution order, oldest first, so
// the log replays in the order it was written.
func (s *TradeStore) ListByMarket(ctx context.Context, marketID uuid.UUID, opts domain.ListOpts) ([]domain.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeColumns+`
		 FROM trades
		 WHERE market_id = $1
		 ORDER BY created_at ASC, id ASC
		 LIMIT $2 OFFSET $3`,
		marketID, opts.Limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades for market %s: %w", marketID, err)
	}
	defer rows.Close()
	return collectTrades(rows)
}

// ListByUser returns a user's trades, newest first.
func (s *TradeStore) ListByUser(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeColumns+`
		 FROM trades
		 WHERE user_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2 OFFSET $3`,
		userID, opts.Limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades for user %s: %w", userID, err)
	}
	defer rows.Close()
	return collectTrades(rows)
}

func collectTrades(rows pgx.Rows) ([]domain.Trade, error) {
	var trades []domain.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func scanTrade(row pgx.Row) (domain.Trade, error) {
	var (
		t         domain.Trade
		side      string
		tokens    string
		shares    string
		poolsJSON []byte
	)
	err := row.Scan(&t.ID, &t.MarketID, &t.UserID, &t.Outcome, &side, &tokens, &shares, &poolsJSON, &t.CreatedAt)
	if err != nil {
		return domain.Trade{}, err
	}

	t.Side = domain.TradeSide(side)
	if t.Tokens, err = parseDecimal("tokens", tokens); err != nil {
		return domain.Trade{}, err
	}
	if t.Shares, err = parseDecimal("shares", shares); err != nil {
		return domain.Trade{}, err
	}
	if t.PoolsAfter, err = decodePools(poolsJSON); err != nil {
		return domain.Trade{}, err
	}
	return t, nil
}
