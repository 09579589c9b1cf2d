package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/openpredict/marketd/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection
// pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

// AddToPosition upserts the (market, user, outcome) position row and adds the
// share and cost deltas to it. Sells pass negative deltas.
func (s *PositionStore) AddToPosition(ctx context.Context, marketID uuid.UUID, userID, outcome string, shares, cost decimal.Decimal) error {
	const query = `
		INSERT INTO positions (id, market_id, user_id, outcome, shares, cost, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		ON CONFLICT (market_id, user_id, outcome) DO UPDATE
		SET shares = positions.shares + EXCLUDED.shares,
		    cost = positions.cost + EXCLUDED.cost,
		    updated_at = NOW()`

	_, err := s.pool.Exec(ctx, query,
		uuid.New(), marketID, userID, outcome, shares.String(), cost.String())
	if err != nil {
		return fmt.Errorf("postgres: add to position market=%s user=%s outcome=%s: %w",
			marketID, userID, outcome, err)
	}
	return nil
}

const positionColumns = `id, market_id, user_id, outcome, shares::text, cost::text, created_at, updated_at`

// Get returns a single position.
func (s *PositionStore) Get(ctx context.Context, marketID uuid.UUID, userID, outcome string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionColumns+`
		 FROM positions
		 WHERE market_id = $1 AND user_id = $2 AND outcome = $3`,
		marketID, userID, outcome)
	p, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position: %w", err)
	}
	return p, nil
}

// ListByMarketOutcome returns every position held in one outcome of a market.
// Resolution reads winning positions through this.
func (s *PositionStore) ListByMarketOutcome(ctx context.Context, marketID uuid.UUID, outcome string) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionColumns+`
		 FROM positions
		 WHERE market_id = $1 AND outcome = $2
		 ORDER BY user_id`,
		marketID, outcome)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions for market %s outcome %s: %w", marketID, outcome, err)
	}
	defer rows.Close()
	return collectPositions(rows)
}

// ListByUser returns a user's positions across markets, newest first.
func (s *PositionStore) ListByUser(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionColumns+`
		 FROM positions
		 WHERE user_id = $1
		 ORDER BY updated_at DESC
		 LIMIT $2 OFFSET $3`,
		userID, opts.Limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions for user %s: %w", userID, err)
	}
	defer rows.Close()
	return collectPositions(rows)
}

func collectPositions(rows pgx.Rows) ([]domain.Position, error) {
	var positions []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func scanPosition(row pgx.Row) (domain.Position, error) {
	var (
		p      domain.Position
		shares string
		cost   string
	)
	err := row.Scan(&p.ID, &p.MarketID, &p.UserID, &p.Outcome, &shares, &cost, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return domain.Position{}, err
	}
	if p.Shares, err = parseDecimal("shares", shares); err != nil {
		return domain.Position{}, err
	}
	if p.Cost, err = parseDecimal("cost", cost); err != nil {
		return domain.Position{}, err
	}
	return p, nil
}
