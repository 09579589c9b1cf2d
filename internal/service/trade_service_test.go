package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/openpredict/marketd/internal/cpmm"
	"github.com/openpredict/marketd/internal/domain"
)

// testEnv wires the full service layer over in-memory fakes.
type testEnv struct {
	markets     *memMarketStore
	positions   *memPositionStore
	trades      *memTradeStore
	resolutions *memResolutionStore
	audit       *memAuditStore
	probs       *memProbabilityCache
	locks       *memLockManager
	bus         *memSignalBus
	archiver    *memArchiver

	marketSvc     *MarketService
	tradeSvc      *TradeService
	resolutionSvc *ResolutionService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		markets:     newMemMarketStore(),
		positions:   newMemPositionStore(),
		trades:      newMemTradeStore(),
		resolutions: newMemResolutionStore(),
		audit:       newMemAuditStore(),
		probs:       newMemProbabilityCache(),
		locks:       newMemLockManager(),
		bus:         newMemSignalBus(),
		archiver:    newMemArchiver(),
	}
	logger := testLogger()
	env.marketSvc = NewMarketService(env.markets, env.probs, env.audit, logger, decimal.RequireFromString("1000"))
	env.tradeSvc = NewTradeService(
		env.markets, env.positions, env.trades,
		env.locks, env.bus, env.probs, env.audit,
		logger, 10*time.Second,
	)
	env.resolutionSvc = NewResolutionService(
		env.markets, env.positions, env.resolutions,
		env.locks, env.bus, env.probs, env.audit, env.archiver,
		logger, cpmm.PayoutHybrid, 10*time.Second,
	)
	return env
}

func (env *testEnv) createBinaryMarket(t *testing.T) domain.Market {
	t.Helper()
	m, err := env.marketSvc.CreateMarket(context.Background(), CreateMarketParams{
		Question: "Will it rain tomorrow?",
		Slug:     "rain-tomorrow",
		Type:     domain.MarketTypeBinary,
	})
	require.NoError(t, err)
	return m
}

func (env *testEnv) createMultiMarket(t *testing.T, outcomes []string) domain.Market {
	t.Helper()
	m, err := env.marketSvc.CreateMarket(context.Background(), CreateMarketParams{
		Question: "Who wins the election?",
		Slug:     "election-winner",
		Type:     domain.MarketTypeMulti,
		Outcomes: outcomes,
	})
	require.NoError(t, err)
	return m
}

func TestExecuteTradeBuyBinary(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	m := env.createBinaryMarket(t)

	receipt, err := env.tradeSvc.ExecuteTrade(ctx, TradeParams{
		MarketID: m.ID,
		UserID:   "alice",
		Outcome:  domain.OutcomeYes,
		Side:     domain.TradeSideBuy,
		Amount:   decimal.RequireFromString("100"),
	})
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, receipt.TradeID)
	require.True(t, receipt.Tokens.Equal(decimal.RequireFromString("100")))
	require.True(t, receipt.Shares.IsPositive())

	// Committed pools match the receipt.
	stored, err := env.markets.GetByID(ctx, m.ID)
	require.NoError(t, err)
	for outcome, amount := range receipt.Pools {
		require.True(t, stored.Pools[outcome].Equal(amount), "pool %s", outcome)
	}

	// Buying yes drains the yes pool and fills the no pool.
	require.True(t, stored.Pools[domain.OutcomeYes].LessThan(m.Pools[domain.OutcomeYes]))
	require.True(t, stored.Pools[domain.OutcomeNo].GreaterThan(m.Pools[domain.OutcomeNo]))

	// Position records the shares bought at the tokens spent.
	pos, err := env.positions.Get(ctx, m.ID, "alice", domain.OutcomeYes)
	require.NoError(t, err)
	require.True(t, pos.Shares.Equal(receipt.Shares))
	require.True(t, pos.Cost.Equal(decimal.RequireFromString("100")))

	// The trade landed in the log.
	trades, err := env.trades.ListByMarket(ctx, m.ID, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, trades, 1)
	require.Equal(t, domain.TradeSideBuy, trades[0].Side)

	// Price move published on the market's channel.
	events := env.bus.events()
	require.Len(t, events, 1)
	require.Equal(t, MarketChannel(m.ID), events[0].channel)

	// Probability cache refreshed with the post-trade probabilities.
	probs, _, err := env.probs.GetProbabilities(ctx, m.ID)
	require.NoError(t, err)
	require.True(t, probs[domain.OutcomeYes].GreaterThan(decimal.RequireFromString("0.5")))
}

func TestExecuteTradeSellRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	m := env.createBinaryMarket(t)

	buy, err := env.tradeSvc.ExecuteTrade(ctx, TradeParams{
		MarketID: m.ID,
		UserID:   "alice",
		Outcome:  domain.OutcomeYes,
		Side:     domain.TradeSideBuy,
		Amount:   decimal.RequireFromString("100"),
	})
	require.NoError(t, err)

	sell, err := env.tradeSvc.ExecuteTrade(ctx, TradeParams{
		MarketID: m.ID,
		UserID:   "alice",
		Outcome:  domain.OutcomeYes,
		Side:     domain.TradeSideSell,
		Amount:   buy.Shares,
	})
	require.NoError(t, err)

	// Selling everything back on an untouched market refunds roughly the
	// tokens spent, minus rounding at the division precision.
	diff := sell.Tokens.Sub(buy.Tokens).Abs()
	require.True(t, diff.LessThan(decimal.RequireFromString("0.0001")),
		"bought for %s, sold for %s", buy.Tokens, sell.Tokens)

	// Position is emptied, shares and cost basis both.
	pos, err := env.positions.Get(ctx, m.ID, "alice", domain.OutcomeYes)
	require.NoError(t, err)
	require.True(t, pos.Shares.IsZero(), "shares left: %s", pos.Shares)
	require.True(t, pos.Cost.IsZero(), "cost left: %s", pos.Cost)
}

func TestExecuteTradeSellPartialReleasesCostProportionally(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	m := env.createBinaryMarket(t)

	buy, err := env.tradeSvc.ExecuteTrade(ctx, TradeParams{
		MarketID: m.ID,
		UserID:   "alice",
		Outcome:  domain.OutcomeYes,
		Side:     domain.TradeSideBuy,
		Amount:   decimal.RequireFromString("100"),
	})
	require.NoError(t, err)

	half := buy.Shares.Div(decimal.RequireFromString("2"))
	_, err = env.tradeSvc.ExecuteTrade(ctx, TradeParams{
		MarketID: m.ID,
		UserID:   "alice",
		Outcome:  domain.OutcomeYes,
		Side:     domain.TradeSideSell,
		Amount:   half,
	})
	require.NoError(t, err)

	pos, err := env.positions.Get(ctx, m.ID, "alice", domain.OutcomeYes)
	require.NoError(t, err)
	require.True(t, pos.Shares.Equal(buy.Shares.Sub(half)))

	// Half the shares gone, half the cost basis released.
	expectedCost := decimal.RequireFromString("50")
	diff := pos.Cost.Sub(expectedCost).Abs()
	require.True(t, diff.LessThan(decimal.RequireFromString("0.0001")),
		"expected cost ~%s, got %s", expectedCost, pos.Cost)
}

func TestExecuteTradeSellWithoutPosition(t *testing.T) {
	env := newTestEnv(t)
	m := env.createBinaryMarket(t)

	_, err := env.tradeSvc.ExecuteTrade(context.Background(), TradeParams{
		MarketID: m.ID,
		UserID:   "bob",
		Outcome:  domain.OutcomeYes,
		Side:     domain.TradeSideSell,
		Amount:   decimal.RequireFromString("10"),
	})
	require.ErrorIs(t, err, domain.ErrInsufficientShares)
}

func TestExecuteTradeSellMoreThanHeld(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	m := env.createBinaryMarket(t)

	buy, err := env.tradeSvc.ExecuteTrade(ctx, TradeParams{
		MarketID: m.ID,
		UserID:   "alice",
		Outcome:  domain.OutcomeYes,
		Side:     domain.TradeSideBuy,
		Amount:   decimal.RequireFromString("50"),
	})
	require.NoError(t, err)

	_, err = env.tradeSvc.ExecuteTrade(ctx, TradeParams{
		MarketID: m.ID,
		UserID:   "alice",
		Outcome:  domain.OutcomeYes,
		Side:     domain.TradeSideSell,
		Amount:   buy.Shares.Add(decimal.RequireFromString("1")),
	})
	require.ErrorIs(t, err, domain.ErrInsufficientShares)
}

func TestExecuteTradeMarketClosed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	m := env.createBinaryMarket(t)

	past := time.Now().Add(-time.Hour)
	env.markets.mu.Lock()
	closed := env.markets.markets[m.ID]
	closed.ClosesAt = &past
	env.markets.markets[m.ID] = closed
	env.markets.mu.Unlock()

	_, err := env.tradeSvc.ExecuteTrade(ctx, TradeParams{
		MarketID: m.ID,
		UserID:   "alice",
		Outcome:  domain.OutcomeYes,
		Side:     domain.TradeSideBuy,
		Amount:   decimal.RequireFromString("10"),
	})
	require.ErrorIs(t, err, domain.ErrMarketClosed)
}

func TestExecuteTradeUnknownOutcome(t *testing.T) {
	env := newTestEnv(t)
	m := env.createBinaryMarket(t)

	_, err := env.tradeSvc.ExecuteTrade(context.Background(), TradeParams{
		MarketID: m.ID,
		UserID:   "alice",
		Outcome:  "maybe",
		Side:     domain.TradeSideBuy,
		Amount:   decimal.RequireFromString("10"),
	})
	require.ErrorIs(t, err, cpmm.ErrUnknownOutcome)
}

func TestExecuteTradeLockHeld(t *testing.T) {
	env := newTestEnv(t)
	m := env.createBinaryMarket(t)

	unlock, err := env.locks.Acquire(context.Background(), m.ID.String(), time.Minute)
	require.NoError(t, err)
	defer unlock()

	_, err = env.tradeSvc.ExecuteTrade(context.Background(), TradeParams{
		MarketID: m.ID,
		UserID:   "alice",
		Outcome:  domain.OutcomeYes,
		Side:     domain.TradeSideBuy,
		Amount:   decimal.RequireFromString("10"),
	})
	require.ErrorIs(t, err, domain.ErrLockHeld)
}

func TestExecuteTradeReleasesLock(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	m := env.createBinaryMarket(t)

	for i := 0; i < 3; i++ {
		_, err := env.tradeSvc.ExecuteTrade(ctx, TradeParams{
			MarketID: m.ID,
			UserID:   "alice",
			Outcome:  domain.OutcomeYes,
			Side:     domain.TradeSideBuy,
			Amount:   decimal.RequireFromString("10"),
		})
		require.NoError(t, err)
	}
	require.Equal(t, 3, env.locks.acquires)
}

func TestPreviewTradeMatchesExecution(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	m := env.createBinaryMarket(t)

	params := TradeParams{
		MarketID: m.ID,
		UserID:   "alice",
		Outcome:  domain.OutcomeNo,
		Side:     domain.TradeSideBuy,
		Amount:   decimal.RequireFromString("42.5"),
	}

	preview, err := env.tradeSvc.PreviewTrade(ctx, params)
	require.NoError(t, err)

	executed, err := env.tradeSvc.ExecuteTrade(ctx, params)
	require.NoError(t, err)

	require.True(t, preview.Shares.Equal(executed.Shares))
	require.True(t, preview.Tokens.Equal(executed.Tokens))
	for outcome, amount := range preview.Pools {
		require.True(t, executed.Pools[outcome].Equal(amount), "pool %s", outcome)
	}

	// Preview must not persist anything.
	trades, err := env.trades.ListByMarket(ctx, m.ID, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, trades, 1)
}

func TestExecuteTradeMultiOutcome(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	m := env.createMultiMarket(t, []string{"red", "green", "blue"})

	receipt, err := env.tradeSvc.ExecuteTrade(ctx, TradeParams{
		MarketID: m.ID,
		UserID:   "carol",
		Outcome:  "green",
		Side:     domain.TradeSideBuy,
		Amount:   decimal.RequireFromString("60"),
	})
	require.NoError(t, err)
	require.True(t, receipt.Shares.IsPositive())
	require.Len(t, receipt.Pools, 3)

	// The bought outcome becomes the most probable one.
	green := receipt.Probabilities["green"]
	require.True(t, green.GreaterThan(receipt.Probabilities["red"]))
	require.True(t, green.GreaterThan(receipt.Probabilities["blue"]))

	// Probabilities sum to 1 within rounding.
	var sum decimal.Decimal
	for _, p := range receipt.Probabilities {
		sum = sum.Add(p)
	}
	require.True(t, sum.Sub(decimal.RequireFromString("1")).Abs().LessThan(decimal.RequireFromString("0.0000001")),
		"probabilities sum to %s", sum)
}

func TestExecuteTradeMarketNotFound(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.tradeSvc.ExecuteTrade(context.Background(), TradeParams{
		MarketID: uuid.New(),
		UserID:   "alice",
		Outcome:  domain.OutcomeYes,
		Side:     domain.TradeSideBuy,
		Amount:   decimal.RequireFromString("10"),
	})
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTradeAuditTrail(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	m := env.createBinaryMarket(t)

	_, err := env.tradeSvc.ExecuteTrade(ctx, TradeParams{
		MarketID: m.ID,
		UserID:   "alice",
		Outcome:  domain.OutcomeYes,
		Side:     domain.TradeSideBuy,
		Amount:   decimal.RequireFromString("25"),
	})
	require.NoError(t, err)

	require.Equal(t, []string{"market_created", "trade_executed"}, env.audit.events())
}
