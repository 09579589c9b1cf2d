package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/openpredict/marketd/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL. Pools are
// stored as a JSONB object of outcome -> decimal string so no precision is
// lost crossing the storage boundary.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a new MarketStore backed by the given connection
// pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

// Create inserts a new market.
func (s *MarketStore) Create(ctx context.Context, m domain.Market) error {
	poolsJSON, err := encodePools(m.Pools)
	if err != nil {
		return fmt.Errorf("postgres: encode pools for market %s: %w", m.ID, err)
	}

	const query = `
		INSERT INTO markets (
			id, question, slug, market_type, outcomes, pools,
			liquidity, status, winning_outcome, closes_at, resolved_at,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, $12
		)`

	_, err = s.pool.Exec(ctx, query,
		m.ID, m.Question, m.Slug, string(m.Type), m.Outcomes, poolsJSON,
		m.Liquidity.String(), string(m.Status), m.WinningOutcome, m.ClosesAt, m.ResolvedAt,
		m.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: create market %s: %w", m.ID, err)
	}
	return nil
}

const marketColumns = `
	id, question, slug, market_type, outcomes, pools,
	liquidity::text, status, winning_outcome, closes_at, resolved_at,
	created_at, updated_at`

// GetByID returns a single market by its ID.
func (s *MarketStore) GetByID(ctx context.Context, id uuid.UUID) (domain.Market, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketColumns+` FROM markets WHERE id = $1`, id)
	m, err := scanMarket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", id, err)
	}
	return m, nil
}

// GetBySlug returns a single market by its URL slug.
func (s *MarketStore) GetBySlug(ctx context.Context, slug string) (domain.Market, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketColumns+` FROM markets WHERE slug = $1`, slug)
	m, err := scanMarket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market by slug %q: %w", slug, err)
	}
	return m, nil
}

// ListOpen returns open markets ordered by creation time, newest first.
func (s *MarketStore) ListOpen(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+marketColumns+`
		 FROM markets
		 WHERE status = 'open'
		 ORDER BY created_at DESC
		 LIMIT $1 OFFSET $2`,
		opts.Limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open markets: %w", err)
	}
	defer rows.Close()

	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		markets = append(markets, m)
	}
	return markets, rows.Err()
}

// Count returns the total number of markets.
func (s *MarketStore) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM markets`).Scan(&count); err != nil {
		return 0, fmt.Errorf("postgres: count markets: %w", err)
	}
	return count, nil
}

// UpdatePools commits a new pool state. The WHERE clause pins the update to
// the updated_at the caller read its snapshot at; a concurrent commit bumps
// updated_at and makes this one fail with ErrAlreadyExists so the trade
// workflow retries against fresh state instead of clobbering it.
func (s *MarketStore) UpdatePools(ctx context.Context, id uuid.UUID, pools map[string]decimal.Decimal, readAt time.Time) error {
	poolsJSON, err := encodePools(pools)
	if err != nil {
		return fmt.Errorf("postgres: encode pools for market %s: %w", id, err)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE markets SET pools = $2, updated_at = NOW()
		 WHERE id = $1 AND updated_at = $3`,
		id, poolsJSON, readAt)
	if err != nil {
		return fmt.Errorf("postgres: update pools for market %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a stale snapshot from a missing market.
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM markets WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("postgres: check market %s: %w", id, err)
		}
		if !exists {
			return domain.ErrNotFound
		}
		return domain.ErrAlreadyExists
	}
	return nil
}

// MarkResolved transitions the market to resolved.
func (s *MarketStore) MarkResolved(ctx context.Context, id uuid.UUID, winningOutcome string, resolvedAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE markets
		 SET status = 'resolved', winning_outcome = $2, resolved_at = $3, updated_at = NOW()
		 WHERE id = $1 AND status <> 'resolved'`,
		id, winningOutcome, resolvedAt)
	if err != nil {
		return fmt.Errorf("postgres: resolve market %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM markets WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("postgres: check market %s: %w", id, err)
		}
		if !exists {
			return domain.ErrNotFound
		}
		return domain.ErrMarketResolved
	}
	return nil
}

// scanMarket scans a single market row into a domain.Market.
func scanMarket(row pgx.Row) (domain.Market, error) {
	var (
		m          domain.Market
		marketType string
		status     string
		poolsJSON  []byte
		liquidity  string
	)
	err := row.Scan(
		&m.ID, &m.Question, &m.Slug, &marketType, &m.Outcomes, &poolsJSON,
		&liquidity, &status, &m.WinningOutcome, &m.ClosesAt, &m.ResolvedAt,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return domain.Market{}, err
	}

	m.Type = domain.MarketType(marketType)
	m.Status = domain.MarketStatus(status)
	if m.Liquidity, err = decimal.NewFromString(liquidity); err != nil {
		return domain.Market{}, fmt.Errorf("parse liquidity %q: %w", liquidity, err)
	}
	if m.Pools, err = decodePools(poolsJSON); err != nil {
		return domain.Market{}, err
	}
	return m, nil
}

// encodePools serializes a pool map as JSON of outcome -> decimal string.
func encodePools(pools map[string]decimal.Decimal) ([]byte, error) {
	strs := make(map[string]string, len(pools))
	for outcome, pool := range pools {
		strs[outcome] = pool.String()
	}
	return json.Marshal(strs)
}

// decodePools parses a JSON pool object back into decimals.
func decodePools(data []byte) (map[string]decimal.Decimal, error) {
	var strs map[string]string
	if err := json.Unmarshal(data, &strs); err != nil {
		return nil, fmt.Errorf("decode pools: %w", err)
	}
	pools := make(map[string]decimal.Decimal, len(strs))
	for outcome, s := range strs {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return nil, fmt.Errorf("parse pool %q=%q: %w", outcome, s, err)
		}
		pools[outcome] = d
	}
	return pools, nil
}
