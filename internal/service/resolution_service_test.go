package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/openpredict/marketd/internal/cpmm"
	"github.com/openpredict/marketd/internal/domain"
)

func TestResolveHybridPayouts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	m := env.createBinaryMarket(t)

	// Two buyers on yes, one on no. The no buyer holds no winning shares and
	// gets no payout line.
	for _, trade := range []struct {
		user    string
		outcome string
		amount  string
	}{
		{"alice", domain.OutcomeYes, "100"},
		{"bob", domain.OutcomeYes, "50"},
		{"carol", domain.OutcomeNo, "75"},
	} {
		_, err := env.tradeSvc.ExecuteTrade(ctx, TradeParams{
			MarketID: m.ID,
			UserID:   trade.user,
			Outcome:  trade.outcome,
			Side:     domain.TradeSideBuy,
			Amount:   decimal.RequireFromString(trade.amount),
		})
		require.NoError(t, err)
	}

	res, err := env.resolutionSvc.Resolve(ctx, m.ID, domain.OutcomeYes)
	require.NoError(t, err)

	require.Equal(t, domain.OutcomeYes, res.WinningOutcome)
	require.Equal(t, string(cpmm.PayoutHybrid), res.Policy)
	require.Len(t, res.Payouts, 2)

	// Hybrid distributes exactly the pool: every winner's stake back plus a
	// pro-rata slice of the surplus.
	var total decimal.Decimal
	for _, line := range res.Payouts {
		require.True(t, line.Amount.GreaterThanOrEqual(line.Cost),
			"user %s paid %s but received %s", line.UserID, line.Cost, line.Amount)
		total = total.Add(line.Amount)
	}
	diff := total.Sub(res.TotalPool).Abs()
	require.True(t, diff.LessThan(decimal.RequireFromString("0.0000001")),
		"payouts %s vs pool %s", total, res.TotalPool)

	// Alice staked twice bob's amount and earns the larger payout.
	byUser := make(map[string]domain.PayoutLine)
	for _, line := range res.Payouts {
		byUser[line.UserID] = line
	}
	require.True(t, byUser["alice"].Amount.GreaterThan(byUser["bob"].Amount))

	// The market itself is resolved.
	stored, err := env.markets.GetByID(ctx, m.ID)
	require.NoError(t, err)
	require.Equal(t, domain.MarketStatusResolved, stored.Status)
	require.NotNil(t, stored.WinningOutcome)
	require.Equal(t, domain.OutcomeYes, *stored.WinningOutcome)
}

func TestResolveTwiceFails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	m := env.createBinaryMarket(t)

	_, err := env.resolutionSvc.Resolve(ctx, m.ID, domain.OutcomeNo)
	require.NoError(t, err)

	_, err = env.resolutionSvc.Resolve(ctx, m.ID, domain.OutcomeYes)
	require.ErrorIs(t, err, domain.ErrMarketResolved)
}

func TestResolveUnknownOutcome(t *testing.T) {
	env := newTestEnv(t)
	m := env.createBinaryMarket(t)

	_, err := env.resolutionSvc.Resolve(context.Background(), m.ID, "maybe")
	require.ErrorIs(t, err, cpmm.ErrUnknownOutcome)
}

func TestResolveMissingMarket(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.resolutionSvc.Resolve(context.Background(), uuid.New(), domain.OutcomeYes)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestResolveNoWinners(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	m := env.createBinaryMarket(t)

	res, err := env.resolutionSvc.Resolve(ctx, m.ID, domain.OutcomeYes)
	require.NoError(t, err)
	require.Empty(t, res.Payouts)
	require.True(t, res.TotalWinningShares.IsZero())
}

func TestResolvePublishesSettlementEvent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	m := env.createBinaryMarket(t)

	_, err := env.tradeSvc.ExecuteTrade(ctx, TradeParams{
		MarketID: m.ID,
		UserID:   "alice",
		Outcome:  domain.OutcomeYes,
		Side:     domain.TradeSideBuy,
		Amount:   decimal.RequireFromString("100"),
	})
	require.NoError(t, err)

	_, err = env.resolutionSvc.Resolve(ctx, m.ID, domain.OutcomeYes)
	require.NoError(t, err)

	events := env.bus.events()
	require.Len(t, events, 2)
	require.Equal(t, SettlementsChannel, events[1].channel)

	var evt SettlementEvent
	require.NoError(t, json.Unmarshal(events[1].payload, &evt))
	require.Equal(t, "market_resolved", evt.Event)
	require.Equal(t, m.ID.String(), evt.MarketID)
	require.Equal(t, 1, evt.Winners)

	// Stale probabilities are dropped from the cache.
	_, _, err = env.probs.GetProbabilities(ctx, m.ID)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestResolveNaivePerSharePolicy(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.resolutionSvc = NewResolutionService(
		env.markets, env.positions, env.resolutions,
		env.locks, env.bus, env.probs, env.audit, env.archiver,
		testLogger(), cpmm.PayoutNaivePerShare, 10*time.Second,
	)
	m := env.createBinaryMarket(t)

	_, err := env.tradeSvc.ExecuteTrade(ctx, TradeParams{
		MarketID: m.ID,
		UserID:   "alice",
		Outcome:  domain.OutcomeYes,
		Side:     domain.TradeSideBuy,
		Amount:   decimal.RequireFromString("100"),
	})
	require.NoError(t, err)

	res, err := env.resolutionSvc.Resolve(ctx, m.ID, domain.OutcomeYes)
	require.NoError(t, err)
	require.Equal(t, string(cpmm.PayoutNaivePerShare), res.Policy)
	require.Len(t, res.Payouts, 1)

	// The sole winner takes the whole pool.
	diff := res.Payouts[0].Amount.Sub(res.TotalPool).Abs()
	require.True(t, diff.LessThan(decimal.RequireFromString("0.0000001")),
		"payout %s vs pool %s", res.Payouts[0].Amount, res.TotalPool)
}

func TestGetByMarket(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	m := env.createBinaryMarket(t)

	_, err := env.resolutionSvc.GetByMarket(ctx, m.ID)
	require.ErrorIs(t, err, domain.ErrNotFound)

	created, err := env.resolutionSvc.Resolve(ctx, m.ID, domain.OutcomeYes)
	require.NoError(t, err)

	got, err := env.resolutionSvc.GetByMarket(ctx, m.ID)
	require.NoError(t, err)
	require.Equal(t, created.ID, got.ID)
}

func TestArchivePending(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	slugs := []string{"market-one", "market-two"}
	for _, slug := range slugs {
		m, err := env.marketSvc.CreateMarket(ctx, CreateMarketParams{
			Question: "archived?",
			Slug:     slug,
			Type:     domain.MarketTypeBinary,
		})
		require.NoError(t, err)
		_, err = env.resolutionSvc.Resolve(ctx, m.ID, domain.OutcomeYes)
		require.NoError(t, err)
	}

	n, err := env.resolutionSvc.ArchivePending(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Len(t, env.archiver.archived, 2)

	// A second sweep finds nothing left.
	n, err = env.resolutionSvc.ArchivePending(ctx, 10)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestArchivePendingWithoutArchiver(t *testing.T) {
	env := newTestEnv(t)
	svc := NewResolutionService(
		env.markets, env.positions, env.resolutions,
		env.locks, env.bus, env.probs, env.audit, nil,
		testLogger(), cpmm.PayoutHybrid, 10*time.Second,
	)

	n, err := svc.ArchivePending(context.Background(), 10)
	require.NoError(t, err)
	require.Zero(t, n)
}
