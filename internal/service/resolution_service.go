package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/openpredict/marketd/internal/cpmm"
	"github.com/openpredict/marketd/internal/domain"
)

// ResolutionService settles markets: it aggregates winning positions, runs
// the configured payout formula, records the settlement, and ships archived
// reports to blob storage.
type ResolutionService struct {
	markets     domain.MarketStore
	positions   domain.PositionStore
	resolutions domain.ResolutionStore
	locks       domain.LockManager
	bus         domain.SignalBus
	probs       domain.ProbabilityCache
	audit       domain.AuditStore
	archiver    domain.Archiver
	logger      *slog.Logger
	policy      cpmm.PayoutPolicy
	lockTTL     time.Duration
}

// NewResolutionService creates a ResolutionService. archiver may be nil when
// object storage is disabled; ArchivePending then reports nothing to do.
func NewResolutionService(
	markets domain.MarketStore,
	positions domain.PositionStore,
	resolutions domain.ResolutionStore,
	locks domain.LockManager,
	bus domain.SignalBus,
	probs domain.ProbabilityCache,
	audit domain.AuditStore,
	archiver domain.Archiver,
	logger *slog.Logger,
	policy cpmm.PayoutPolicy,
	lockTTL time.Duration,
) *ResolutionService {
	return &ResolutionService{
		markets:     markets,
		positions:   positions,
		resolutions: resolutions,
		locks:       locks,
		bus:         bus,
		probs:       probs,
		audit:       audit,
		archiver:    archiver,
		logger:      logger,
		policy:      policy,
		lockTTL:     lockTTL,
	}
}

// Resolve settles a market on the winning outcome. Every holder of winning
// shares gets a payout line computed under the configured policy; the
// settlement records the policy and the aggregates it consumed so it can be
// replayed exactly later. Resolving twice fails with ErrMarketResolved.
func (s *ResolutionService) Resolve(ctx context.Context, marketID uuid.UUID, winningOutcome string) (domain.Resolution, error) {
	unlock, err := s.locks.Acquire(ctx, marketID.String(), s.lockTTL)
	if err != nil {
		return domain.Resolution{}, fmt.Errorf("resolution_service: lock market %s: %w", marketID, err)
	}
	defer unlock()

	m, err := s.markets.GetByID(ctx, marketID)
	if err != nil {
		return domain.Resolution{}, fmt.Errorf("resolution_service: get market %s: %w", marketID, err)
	}
	if m.Status == domain.MarketStatusResolved {
		return domain.Resolution{}, domain.ErrMarketResolved
	}
	if !m.HasOutcome(winningOutcome) {
		return domain.Resolution{}, fmt.Errorf("resolution_service: market %s: %w", marketID, cpmm.ErrUnknownOutcome)
	}

	winners, err := s.positions.ListByMarketOutcome(ctx, marketID, winningOutcome)
	if err != nil {
		return domain.Resolution{}, fmt.Errorf("resolution_service: list winning positions: %w", err)
	}

	totalPool := cpmm.TotalPool(cpmm.MultiPool(m.Pools))
	var totalShares, totalCost decimal.Decimal
	for _, w := range winners {
		totalShares = totalShares.Add(w.Shares)
		totalCost = totalCost.Add(w.Cost)
	}

	payouts := make([]domain.PayoutLine, 0, len(winners))
	for _, w := range winners {
		amount, err := cpmm.Payout(s.policy, totalPool, totalShares, totalCost, w.Shares, w.Cost)
		if err != nil {
			return domain.Resolution{}, fmt.Errorf("resolution_service: payout for user %s: %w", w.UserID, err)
		}
		payouts = append(payouts, domain.PayoutLine{
			UserID: w.UserID,
			Shares: w.Shares,
			Cost:   w.Cost,
			Amount: amount,
		})
	}

	now := time.Now().UTC()
	res := domain.Resolution{
		ID:                 uuid.New(),
		MarketID:           marketID,
		WinningOutcome:     winningOutcome,
		Policy:             string(s.policy),
		TotalPool:          totalPool,
		TotalWinningShares: totalShares,
		TotalWinningCost:   totalCost,
		Payouts:            payouts,
		ResolvedAt:         now,
	}

	if err := s.resolutions.Create(ctx, res); err != nil {
		return domain.Resolution{}, fmt.Errorf("resolution_service: record settlement for market %s: %w", marketID, err)
	}
	if err := s.markets.MarkResolved(ctx, marketID, winningOutcome, now); err != nil {
		return domain.Resolution{}, fmt.Errorf("resolution_service: mark market %s resolved: %w", marketID, err)
	}

	s.afterResolve(ctx, res)

	return res, nil
}

// GetByMarket returns the settlement record for a market.
func (s *ResolutionService) GetByMarket(ctx context.Context, marketID uuid.UUID) (domain.Resolution, error) {
	res, err := s.resolutions.GetByMarket(ctx, marketID)
	if err != nil {
		return domain.Resolution{}, fmt.Errorf("resolution_service: get settlement for market %s: %w", marketID, err)
	}
	return res, nil
}

// ArchivePending ships unarchived settlement reports to blob storage and
// records the object path on each. It returns the number archived.
func (s *ResolutionService) ArchivePending(ctx context.Context, limit int) (int, error) {
	if s.archiver == nil {
		return 0, nil
	}

	pending, err := s.resolutions.ListUnarchived(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("resolution_service: list unarchived: %w", err)
	}

	archived := 0
	for _, res := range pending {
		path, err := s.archiver.ArchiveResolution(ctx, res)
		if err != nil {
			return archived, fmt.Errorf("resolution_service: archive settlement %s: %w", res.ID, err)
		}
		if err := s.resolutions.MarkArchived(ctx, res.ID, path); err != nil {
			return archived, fmt.Errorf("resolution_service: mark settlement %s archived: %w", res.ID, err)
		}
		archived++

		s.logger.InfoContext(ctx, "resolution_service: settlement archived",
			slog.String("resolution_id", res.ID.String()),
			slog.String("path", path),
		)
	}
	return archived, nil
}

// afterResolve invalidates the probability cache, publishes the settlement
// event, and writes the audit entry. Failures are logged, not returned; the
// settlement is already committed.
func (s *ResolutionService) afterResolve(ctx context.Context, res domain.Resolution) {
	if err := s.probs.Invalidate(ctx, res.MarketID); err != nil {
		s.logger.WarnContext(ctx, "resolution_service: probability cache invalidate failed",
			slog.String("market_id", res.MarketID.String()),
			slog.String("error", err.Error()),
		)
	}

	evt, _ := json.Marshal(SettlementEvent{
		Event:          "market_resolved",
		MarketID:       res.MarketID.String(),
		WinningOutcome: res.WinningOutcome,
		Policy:         res.Policy,
		TotalPool:      res.TotalPool.String(),
		Winners:        len(res.Payouts),
	})
	if err := s.bus.Publish(ctx, SettlementsChannel, evt); err != nil {
		s.logger.WarnContext(ctx, "resolution_service: publish event failed",
			slog.String("market_id", res.MarketID.String()),
			slog.String("error", err.Error()),
		)
	}

	if err := s.audit.Log(ctx, "market_resolved", map[string]any{
		"market_id":       res.MarketID.String(),
		"winning_outcome": res.WinningOutcome,
		"policy":          res.Policy,
		"total_pool":      res.TotalPool.String(),
		"winners":         len(res.Payouts),
	}); err != nil {
		s.logger.WarnContext(ctx, "resolution_service: audit log failed",
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "resolution_service: market resolved",
		slog.String("market_id", res.MarketID.String()),
		slog.String("winning_outcome", res.WinningOutcome),
		slog.Int("winners", len(res.Payouts)),
	)
}
