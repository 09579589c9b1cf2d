// Package service implements the market, trade, and resolution workflows on
// top of the domain interfaces. Services orchestrate storage, caching, and
// messaging; all pool math lives in the cpmm package.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/openpredict/marketd/internal/cpmm"
	"github.com/openpredict/marketd/internal/domain"
)

// CreateMarketParams describes a new market. Liquidity is optional; when
// empty the service seeds the pools with its configured default.
type CreateMarketParams struct {
	Question  string
	Slug      string
	Type      domain.MarketType
	Outcomes  []string
	Liquidity string
	ClosesAt  *time.Time
}

// MarketService handles market creation and querying.
type MarketService struct {
	markets          domain.MarketStore
	probs            domain.ProbabilityCache
	audit            domain.AuditStore
	logger           *slog.Logger
	defaultLiquidity decimal.Decimal
}

// NewMarketService creates a MarketService with all required dependencies.
func NewMarketService(
	markets domain.MarketStore,
	probs domain.ProbabilityCache,
	audit domain.AuditStore,
	logger *slog.Logger,
	defaultLiquidity decimal.Decimal,
) *MarketService {
	return &MarketService{
		markets:          markets,
		probs:            probs,
		audit:            audit,
		logger:           logger,
		defaultLiquidity: defaultLiquidity,
	}
}

// CreateMarket seeds the liquidity pools for a new market and persists it.
// Binary markets get the yes/no pool split; multi markets split liquidity
// evenly across their declared outcomes.
func (s *MarketService) CreateMarket(ctx context.Context, p CreateMarketParams) (domain.Market, error) {
	liquidity := s.defaultLiquidity
	if p.Liquidity != "" {
		var err error
		if liquidity, err = decimal.NewFromString(p.Liquidity); err != nil {
			return domain.Market{}, fmt.Errorf("market_service: parse liquidity %q: %w", p.Liquidity, err)
		}
	}

	var (
		pools    map[string]decimal.Decimal
		outcomes []string
	)
	switch p.Type {
	case domain.MarketTypeBinary:
		pool, err := cpmm.CreateMarketPool(liquidity)
		if err != nil {
			return domain.Market{}, fmt.Errorf("market_service: create binary pool: %w", err)
		}
		outcomes = []string{domain.OutcomeYes, domain.OutcomeNo}
		pools = map[string]decimal.Decimal{
			domain.OutcomeYes: pool.Yes,
			domain.OutcomeNo:  pool.No,
		}
	case domain.MarketTypeMulti:
		multi, err := cpmm.CreateMultiPool(liquidity, p.Outcomes)
		if err != nil {
			return domain.Market{}, fmt.Errorf("market_service: create multi pool: %w", err)
		}
		outcomes = append([]string(nil), p.Outcomes...)
		pools = multi
	default:
		return domain.Market{}, fmt.Errorf("market_service: unknown market type %q", p.Type)
	}

	now := time.Now().UTC()
	market := domain.Market{
		ID:        uuid.New(),
		Question:  p.Question,
		Slug:      p.Slug,
		Type:      p.Type,
		Outcomes:  outcomes,
		Pools:     pools,
		Liquidity: liquidity,
		Status:    domain.MarketStatusOpen,
		ClosesAt:  p.ClosesAt,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.markets.Create(ctx, market); err != nil {
		return domain.Market{}, fmt.Errorf("market_service: create market %q: %w", p.Slug, err)
	}

	if auditErr := s.audit.Log(ctx, "market_created", map[string]any{
		"market_id": market.ID.String(),
		"slug":      market.Slug,
		"type":      string(market.Type),
		"liquidity": liquidity.String(),
	}); auditErr != nil {
		s.logger.WarnContext(ctx, "market_service: audit log failed",
			slog.String("error", auditErr.Error()),
		)
	}

	s.logger.InfoContext(ctx, "market_service: market created",
		slog.String("market_id", market.ID.String()),
		slog.String("slug", market.Slug),
		slog.String("type", string(market.Type)),
	)

	return market, nil
}

// GetMarket returns a market by ID.
func (s *MarketService) GetMarket(ctx context.Context, id uuid.UUID) (domain.Market, error) {
	m, err := s.markets.GetByID(ctx, id)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: get market %s: %w", id, err)
	}
	return m, nil
}

// GetMarketBySlug returns a market by its URL slug.
func (s *MarketService) GetMarketBySlug(ctx context.Context, slug string) (domain.Market, error) {
	m, err := s.markets.GetBySlug(ctx, slug)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: get market by slug %q: %w", slug, err)
	}
	return m, nil
}

// ListOpen returns open markets with pagination.
func (s *MarketService) ListOpen(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	markets, err := s.markets.ListOpen(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: list open markets: %w", err)
	}
	return markets, nil
}

// Probabilities returns the implied probabilities for a market, reading
// through the cache. On a miss it computes them from the stored pools and
// repopulates the cache.
func (s *MarketService) Probabilities(ctx context.Context, id uuid.UUID) (map[string]decimal.Decimal, error) {
	if cached, _, err := s.probs.GetProbabilities(ctx, id); err == nil {
		return cached, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		s.logger.WarnContext(ctx, "market_service: probability cache read failed",
			slog.String("market_id", id.String()),
			slog.String("error", err.Error()),
		)
	}

	m, err := s.markets.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("market_service: get market %s: %w", id, err)
	}

	probs, err := cpmm.AllProbabilities(cpmm.MultiPool(m.Pools))
	if err != nil {
		return nil, fmt.Errorf("market_service: probabilities for market %s: %w", id, err)
	}

	if cacheErr := s.probs.SetProbabilities(ctx, id, probs, time.Now().UTC()); cacheErr != nil {
		s.logger.WarnContext(ctx, "market_service: probability cache write failed",
			slog.String("market_id", id.String()),
			slog.String("error", cacheErr.Error()),
		)
	}

	return probs, nil
}
