package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/openpredict/marketd/internal/cpmm"
	"github.com/openpredict/marketd/internal/domain"
)

// TradeParams describes one trade request. For buys Amount is the tokens to
// spend; for sells it is the shares to sell back.
type TradeParams struct {
	MarketID uuid.UUID
	UserID   string
	Outcome  string
	Side     domain.TradeSide
	Amount   decimal.Decimal
}

// TradeReceipt is the result of an executed or previewed trade.
type TradeReceipt struct {
	TradeID       uuid.UUID
	MarketID      uuid.UUID
	Outcome       string
	Side          domain.TradeSide
	Tokens        decimal.Decimal
	Shares        decimal.Decimal
	Pools         map[string]decimal.Decimal
	Probabilities map[string]decimal.Decimal
}

// TradeService executes trades against market pools. Each trade holds a
// per-market distributed lock across the read-compute-commit cycle so
// concurrent trades are serialized per market; the pool math itself is pure
// and stateless.
type TradeService struct {
	markets   domain.MarketStore
	positions domain.PositionStore
	trades    domain.TradeStore
	locks     domain.LockManager
	bus       domain.SignalBus
	probs     domain.ProbabilityCache
	audit     domain.AuditStore
	logger    *slog.Logger
	lockTTL   time.Duration
}

// NewTradeService creates a TradeService with all required dependencies.
func NewTradeService(
	markets domain.MarketStore,
	positions domain.PositionStore,
	trades domain.TradeStore,
	locks domain.LockManager,
	bus domain.SignalBus,
	probs domain.ProbabilityCache,
	audit domain.AuditStore,
	logger *slog.Logger,
	lockTTL time.Duration,
) *TradeService {
	return &TradeService{
		markets:   markets,
		positions: positions,
		trades:    trades,
		locks:     locks,
		bus:       bus,
		probs:     probs,
		audit:     audit,
		logger:    logger,
		lockTTL:   lockTTL,
	}
}

// ExecuteTrade runs the full trade workflow: lock the market, read a pool
// snapshot, run the pool math, commit the new pools, update the user's
// position, append to the trade log, and publish the price move.
func (s *TradeService) ExecuteTrade(ctx context.Context, p TradeParams) (TradeReceipt, error) {
	unlock, err := s.locks.Acquire(ctx, p.MarketID.String(), s.lockTTL)
	if err != nil {
		return TradeReceipt{}, fmt.Errorf("trade_service: lock market %s: %w", p.MarketID, err)
	}
	defer unlock()

	m, err := s.markets.GetByID(ctx, p.MarketID)
	if err != nil {
		return TradeReceipt{}, fmt.Errorf("trade_service: get market %s: %w", p.MarketID, err)
	}
	if !m.Tradeable() {
		return TradeReceipt{}, domain.ErrMarketClosed
	}

	if p.Side == domain.TradeSideSell {
		if err := s.checkPosition(ctx, p); err != nil {
			return TradeReceipt{}, err
		}
	}

	receipt, err := applyTrade(m, p)
	if err != nil {
		return TradeReceipt{}, fmt.Errorf("trade_service: apply trade on market %s: %w", p.MarketID, err)
	}

	// Commit against the snapshot we read. The lock makes a conflict here
	// unexpected; surfacing it beats retrying silently.
	if err := s.markets.UpdatePools(ctx, m.ID, receipt.Pools, m.UpdatedAt); err != nil {
		return TradeReceipt{}, fmt.Errorf("trade_service: commit pools for market %s: %w", m.ID, err)
	}

	sharesDelta, costDelta, err := s.positionDeltas(ctx, p, receipt)
	if err != nil {
		return TradeReceipt{}, err
	}
	if err := s.positions.AddToPosition(ctx, m.ID, p.UserID, p.Outcome, sharesDelta, costDelta); err != nil {
		return TradeReceipt{}, fmt.Errorf("trade_service: update position: %w", err)
	}

	trade := domain.Trade{
		ID:         uuid.New(),
		MarketID:   m.ID,
		UserID:     p.UserID,
		Outcome:    p.Outcome,
		Side:       p.Side,
		Tokens:     receipt.Tokens,
		Shares:     receipt.Shares,
		PoolsAfter: receipt.Pools,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.trades.Insert(ctx, trade); err != nil {
		return TradeReceipt{}, fmt.Errorf("trade_service: insert trade: %w", err)
	}
	receipt.TradeID = trade.ID

	s.afterTrade(ctx, trade, receipt)

	return receipt, nil
}

// PreviewTrade quotes a trade without locking or persisting anything. The
// quote runs the same pool math an execution would, so a preview followed by
// an immediate execution on an untouched market returns identical numbers.
func (s *TradeService) PreviewTrade(ctx context.Context, p TradeParams) (TradeReceipt, error) {
	m, err := s.markets.GetByID(ctx, p.MarketID)
	if err != nil {
		return TradeReceipt{}, fmt.Errorf("trade_service: get market %s: %w", p.MarketID, err)
	}
	if !m.Tradeable() {
		return TradeReceipt{}, domain.ErrMarketClosed
	}

	receipt, err := applyTrade(m, p)
	if err != nil {
		return TradeReceipt{}, fmt.Errorf("trade_service: preview trade on market %s: %w", p.MarketID, err)
	}
	return receipt, nil
}

// ListByMarket returns a market's trade log with pagination, oldest first.
func (s *TradeService) ListByMarket(ctx context.Context, marketID uuid.UUID, opts domain.ListOpts) ([]domain.Trade, error) {
	trades, err := s.trades.ListByMarket(ctx, marketID, opts)
	if err != nil {
		return nil, fmt.Errorf("trade_service: list trades for market %s: %w", marketID, err)
	}
	return trades, nil
}

// ListPositionsByUser returns a user's positions across markets with
// pagination.
func (s *TradeService) ListPositionsByUser(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.Position, error) {
	positions, err := s.positions.ListByUser(ctx, userID, opts)
	if err != nil {
		return nil, fmt.Errorf("trade_service: list positions for user %s: %w", userID, err)
	}
	return positions, nil
}

// ListByUser returns a user's trades with pagination, newest first.
func (s *TradeService) ListByUser(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.Trade, error) {
	trades, err := s.trades.ListByUser(ctx, userID, opts)
	if err != nil {
		return nil, fmt.Errorf("trade_service: list trades for user %s: %w", userID, err)
	}
	return trades, nil
}

// checkPosition verifies the seller actually holds the shares they are
// selling back.
func (s *TradeService) checkPosition(ctx context.Context, p TradeParams) error {
	pos, err := s.positions.Get(ctx, p.MarketID, p.UserID, p.Outcome)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrInsufficientShares
		}
		return fmt.Errorf("trade_service: get position: %w", err)
	}
	if pos.Shares.LessThan(p.Amount) {
		return domain.ErrInsufficientShares
	}
	return nil
}

// positionDeltas maps a trade onto share and cost deltas for the position
// upsert. Buys add the shares bought at the tokens spent; sells remove the
// shares sold and release cost basis proportionally.
func (s *TradeService) positionDeltas(ctx context.Context, p TradeParams, r TradeReceipt) (shares, cost decimal.Decimal, err error) {
	if p.Side == domain.TradeSideBuy {
		return r.Shares, r.Tokens, nil
	}

	pos, err := s.positions.Get(ctx, p.MarketID, p.UserID, p.Outcome)
	if err != nil {
		return decimal.Decimal{}, decimal.Decimal{}, fmt.Errorf("trade_service: get position: %w", err)
	}
	costReleased := pos.Cost
	if !pos.Shares.Equal(r.Shares) {
		costReleased = pos.Cost.Mul(r.Shares).DivRound(pos.Shares, 28)
	}
	return r.Shares.Neg(), costReleased.Neg(), nil
}

// afterTrade refreshes the probability cache, publishes the price move, and
// writes the audit entry. Failures here are logged, not returned; the trade
// is already committed.
func (s *TradeService) afterTrade(ctx context.Context, trade domain.Trade, r TradeReceipt) {
	if err := s.probs.SetProbabilities(ctx, trade.MarketID, r.Probabilities, trade.CreatedAt); err != nil {
		s.logger.WarnContext(ctx, "trade_service: probability cache write failed",
			slog.String("market_id", trade.MarketID.String()),
			slog.String("error", err.Error()),
		)
	}

	probStrs := make(map[string]string, len(r.Probabilities))
	for outcome, prob := range r.Probabilities {
		probStrs[outcome] = prob.String()
	}
	evt, _ := json.Marshal(TradeEvent{
		Event:         "trade_executed",
		MarketID:      trade.MarketID.String(),
		Outcome:       trade.Outcome,
		Side:          string(trade.Side),
		Tokens:        trade.Tokens.String(),
		Shares:        trade.Shares.String(),
		Probabilities: probStrs,
	})
	if err := s.bus.Publish(ctx, MarketChannel(trade.MarketID), evt); err != nil {
		s.logger.WarnContext(ctx, "trade_service: publish event failed",
			slog.String("market_id", trade.MarketID.String()),
			slog.String("error", err.Error()),
		)
	}

	if err := s.audit.Log(ctx, "trade_executed", map[string]any{
		"trade_id":  trade.ID.String(),
		"market_id": trade.MarketID.String(),
		"user_id":   trade.UserID,
		"outcome":   trade.Outcome,
		"side":      string(trade.Side),
		"tokens":    trade.Tokens.String(),
		"shares":    trade.Shares.String(),
	}); err != nil {
		s.logger.WarnContext(ctx, "trade_service: audit log failed",
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "trade_service: trade executed",
		slog.String("trade_id", trade.ID.String()),
		slog.String("market_id", trade.MarketID.String()),
		slog.String("side", string(trade.Side)),
		slog.String("outcome", trade.Outcome),
	)
}

// applyTrade runs the pool math for a trade against the market's current
// pools. Binary markets use the closed-form yes/no operations; multi markets
// use the N-outcome operations. Neither touches storage.
func applyTrade(m domain.Market, p TradeParams) (TradeReceipt, error) {
	receipt := TradeReceipt{
		MarketID: m.ID,
		Outcome:  p.Outcome,
		Side:     p.Side,
	}

	switch m.Type {
	case domain.MarketTypeBinary:
		pool := cpmm.PoolState{Yes: m.Pools[domain.OutcomeYes], No: m.Pools[domain.OutcomeNo]}
		outcome := cpmm.Outcome(p.Outcome)
		if outcome != cpmm.OutcomeYes && outcome != cpmm.OutcomeNo {
			return TradeReceipt{}, cpmm.ErrUnknownOutcome
		}

		if p.Side == domain.TradeSideBuy {
			r, err := cpmm.PreviewTrade(pool, outcome, p.Amount)
			if err != nil {
				return TradeReceipt{}, err
			}
			receipt.Tokens = p.Amount
			receipt.Shares = r.SharesReceived
			receipt.Pools = binaryPools(r.Pool)
			receipt.Probabilities = binaryProbs(r.YesProbability, r.NoProbability)
			return receipt, nil
		}

		var (
			r   cpmm.SellResult
			err error
		)
		if outcome == cpmm.OutcomeYes {
			r, err = cpmm.SellYesShares(pool, p.Amount)
		} else {
			r, err = cpmm.SellNoShares(pool, p.Amount)
		}
		if err != nil {
			return TradeReceipt{}, err
		}
		receipt.Tokens = r.TokensReceived
		receipt.Shares = p.Amount
		receipt.Pools = binaryPools(r.Pool)
		receipt.Probabilities = binaryProbs(r.YesProbability, r.NoProbability)
		return receipt, nil

	case domain.MarketTypeMulti:
		pools := cpmm.MultiPool(m.Pools)
		if p.Side == domain.TradeSideBuy {
			r, err := cpmm.BuyShares(pools, p.Outcome, p.Amount)
			if err != nil {
				return TradeReceipt{}, err
			}
			receipt.Tokens = p.Amount
			receipt.Shares = r.SharesReceived
			receipt.Pools = r.Pools
			receipt.Probabilities = r.Probabilities
			return receipt, nil
		}

		r, err := cpmm.SellShares(pools, p.Outcome, p.Amount)
		if err != nil {
			return TradeReceipt{}, err
		}
		receipt.Tokens = r.TokensReceived
		receipt.Shares = p.Amount
		receipt.Pools = r.Pools
		receipt.Probabilities = r.Probabilities
		return receipt, nil

	default:
		return TradeReceipt{}, fmt.Errorf("unknown market type %q", m.Type)
	}
}

func binaryPools(pool cpmm.PoolState) map[string]decimal.Decimal {
	return map[string]decimal.Decimal{
		domain.OutcomeYes: pool.Yes,
		domain.OutcomeNo:  pool.No,
	}
}

func binaryProbs(yes, no decimal.Decimal) map[string]decimal.Decimal {
	return map[string]decimal.Decimal{
		domain.OutcomeYes: yes,
		domain.OutcomeNo:  no,
	}
}
