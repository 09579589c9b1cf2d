package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openpredict/marketd/internal/domain"
)

// ResolutionStore implements domain.ResolutionStore using PostgreSQL. Payout
// lines are stored as a JSONB array; archive_path is NULL until the archiver
// ships the settlement report to object storage.
type ResolutionStore struct {
	pool *pgxpool.Pool
}

// NewResolutionStore creates a new ResolutionStore backed by the given
// connection pool.
func NewResolutionStore(pool *pgxpool.Pool) *ResolutionStore {
	return &ResolutionStore{pool: pool}
}

// Create inserts a settlement record. A market settles at most once; a second
// insert for the same market fails with ErrAlreadyExists.
func (s *ResolutionStore) Create(ctx context.Context, res domain.Resolution) error {
	payoutsJSON, err := json.Marshal(res.Payouts)
	if err != nil {
		return fmt.Errorf("postgres: encode payouts for resolution %s: %w", res.ID, err)
	}

	const query = `
		INSERT INTO resolutions (
			id, market_id, winning_outcome, policy,
			total_pool, total_winning_shares, total_winning_cost,
			payouts, resolved_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err = s.pool.Exec(ctx, query,
		res.ID, res.MarketID, res.WinningOutcome, res.Policy,
		res.TotalPool.String(), res.TotalWinningShares.String(), res.TotalWinningCost.String(),
		payoutsJSON, res.ResolvedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: create resolution %s: %w", res.ID, err)
	}
	return nil
}

const resolutionColumns = `
	id, market_id, winning_outcome, policy,
	total_pool::text, total_winning_shares::text, total_winning_cost::text,
	payouts, resolved_at`

// GetByMarket returns the settlement record for a market.
func (s *ResolutionStore) GetByMarket(ctx context.Context, marketID uuid.UUID) (domain.Resolution, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+resolutionColumns+` FROM resolutions WHERE market_id = $1`, marketID)
	res, err := scanResolution(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Resolution{}, domain.ErrNotFound
		}
		return domain.Resolution{}, fmt.Errorf("postgres: get resolution for market %s: %w", marketID, err)
	}
	return res, nil
}

// ListUnarchived returns settlements not yet shipped to object storage,
// oldest first.
func (s *ResolutionStore) ListUnarchived(ctx context.Context, limit int) ([]domain.Resolution, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+resolutionColumns+`
		 FROM resolutions
		 WHERE archive_path IS NULL
		 ORDER BY resolved_at ASC
		 LIMIT $1`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list unarchived resolutions: %w", err)
	}
	defer rows.Close()

	var resolutions []domain.Resolution
	for rows.Next() {
		res, err := scanResolution(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan resolution: %w", err)
		}
		resolutions = append(resolutions, res)
	}
	return resolutions, rows.Err()
}

// MarkArchived records where the settlement report was archived.
func (s *ResolutionStore) MarkArchived(ctx context.Context, id uuid.UUID, path string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE resolutions SET archive_path = $2 WHERE id = $1`, id, path)
	if err != nil {
		return fmt.Errorf("postgres: mark resolution %s archived: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func scanResolution(row pgx.Row) (domain.Resolution, error) {
	var (
		res                domain.Resolution
		totalPool          string
		totalWinningShares string
		totalWinningCost   string
		payoutsJSON        []byte
	)
	err := row.Scan(
		&res.ID, &res.MarketID, &res.WinningOutcome, &res.Policy,
		&totalPool, &totalWinningShares, &totalWinningCost,
		&payoutsJSON, &res.ResolvedAt,
	)
	if err != nil {
		return domain.Resolution{}, err
	}

	if res.TotalPool, err = parseDecimal("total_pool", totalPool); err != nil {
		return domain.Resolution{}, err
	}
	if res.TotalWinningShares, err = parseDecimal("total_winning_shares", totalWinningShares); err != nil {
		return domain.Resolution{}, err
	}
	if res.TotalWinningCost, err = parseDecimal("total_winning_cost", totalWinningCost); err != nil {
		return domain.Resolution{}, err
	}
	if err = json.Unmarshal(payoutsJSON, &res.Payouts); err != nil {
		return domain.Resolution{}, fmt.Errorf("decode payouts: %w", err)
	}
	return res, nil
}
