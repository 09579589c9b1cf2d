package cpmm

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// PayoutPolicy names a resolution-time payout formula. Historical
// resolutions recorded under the naive formula can be replayed exactly by
// tagging them with their policy instead of resurrecting it as a default.
type PayoutPolicy string

const (
	// PayoutNaivePerShare divides the whole pool by winning shares. It can
	// pay a winner less than their cost and exists only for replay.
	PayoutNaivePerShare PayoutPolicy = "naive_per_share"

	// PayoutHybrid refunds every winner's stake and distributes the pool
	// surplus pro-rata by shares, floored at break-even.
	PayoutHybrid PayoutPolicy = "hybrid"
)

// PerSharePayout computes the naive payout: the user's share of
// totalPool / totalWinningShares. Returns zero when there are no winning
// shares.
//
// Deprecated: the naive formula can yield payouts below cost. Use
// HybridPayout for new resolutions; this remains only so resolutions
// recorded under PayoutNaivePerShare replay to the same amounts.
func PerSharePayout(totalPool, totalWinningShares, userShares decimal.Decimal) decimal.Decimal {
	if !totalWinningShares.IsPositive() {
		return zero
	}
	return div(totalPool, totalWinningShares).Mul(userShares)
}

// HybridPayout refunds userCost and adds the user's pro-rata slice of the
// pool surplus (totalPool - totalWinningCost), distributed by shares. When
// the surplus is negative -- a state valid trades should never produce --
// winners receive exactly their cost back and the house absorbs the
// shortfall. No winner ever profits less than zero, and early buyers keep
// their share-count advantage on the surplus.
func HybridPayout(totalPool, totalWinningShares, totalWinningCost, userShares, userCost decimal.Decimal) decimal.Decimal {
	if !totalWinningShares.IsPositive() {
		return zero
	}

	surplus := totalPool.Sub(totalWinningCost)
	if surplus.IsNegative() {
		return userCost
	}
	return userCost.Add(div(userShares, totalWinningShares).Mul(surplus))
}

// Payout dispatches to the formula named by policy.
func Payout(policy PayoutPolicy, totalPool, totalWinningShares, totalWinningCost, userShares, userCost decimal.Decimal) (decimal.Decimal, error) {
	switch policy {
	case PayoutNaivePerShare:
		return PerSharePayout(totalPool, totalWinningShares, userShares), nil
	case PayoutHybrid:
		return HybridPayout(totalPool, totalWinningShares, totalWinningCost, userShares, userCost), nil
	default:
		return zero, fmt.Errorf("cpmm: unknown payout policy %q", policy)
	}
}
