// Package cpmm implements the constant-product market maker at the heart of
// the platform: pricing, trade execution, and settlement math for binary
// (YES/NO) and N-outcome markets.
//
// Every function is a pure map from explicit inputs to explicit outputs. Pool
// states are consumed and returned by value; nothing is mutated in place and
// no state is retained between calls, so the package is safe to call
// concurrently on independent pools without synchronization. All arithmetic
// uses shopspring decimals; native floats never touch pool values, share
// counts, or token amounts.
package cpmm

import "github.com/shopspring/decimal"

// Outcome selects a side of a binary market.
type Outcome string

const (
	OutcomeYes Outcome = "yes"
	OutcomeNo  Outcome = "no"
)

// PoolState is the liquidity state of a binary market. Both sides are
// strictly positive at every valid state; their product is conserved across
// buys and sells.
type PoolState struct {
	Yes decimal.Decimal
	No  decimal.Decimal
}

// TradeResult is the outcome of buying shares on a binary market.
type TradeResult struct {
	SharesReceived decimal.Decimal
	Pool           PoolState
	YesProbability decimal.Decimal
	NoProbability  decimal.Decimal
}

// SellResult is the outcome of selling shares back to a binary market.
type SellResult struct {
	TokensReceived decimal.Decimal
	Pool           PoolState
	YesProbability decimal.Decimal
	NoProbability  decimal.Decimal
}

// CreateMarketPool seeds a binary market with the given liquidity split
// evenly between the two sides, implying a 50/50 starting price.
func CreateMarketPool(liquidity decimal.Decimal) (PoolState, error) {
	if !liquidity.IsPositive() {
		return PoolState{}, ErrInvalidLiquidity
	}
	side := div(liquidity, two)
	return PoolState{Yes: side, No: side}, nil
}

// YesProbability returns the implied probability of the YES outcome,
// noPool / (yesPool + noPool). A lower YES pool implies a higher YES price.
// The degenerate all-zero pool maps to exactly 0.5; it cannot arise from
// valid trades but must not divide by zero.
func YesProbability(pool PoolState) decimal.Decimal {
	if pool.Yes.IsZero() && pool.No.IsZero() {
		return half
	}
	return div(pool.No, pool.Yes.Add(pool.No))
}

// NoProbability returns the implied probability of the NO outcome,
// yesPool / (yesPool + noPool).
func NoProbability(pool PoolState) decimal.Decimal {
	if pool.Yes.IsZero() && pool.No.IsZero() {
		return half
	}
	return div(pool.Yes, pool.Yes.Add(pool.No))
}

// BuyYesShares spends amount tokens on YES shares. The tokens enter the NO
// pool, the YES pool shrinks to hold yesPool*noPool constant, and the trader
// receives the difference as shares.
func BuyYesShares(pool PoolState, amount decimal.Decimal) (TradeResult, error) {
	if err := validateBinary(pool, amount); err != nil {
		return TradeResult{}, err
	}

	k := pool.Yes.Mul(pool.No)
	newNo := pool.No.Add(amount)
	newYes := div(k, newNo)

	next := PoolState{Yes: newYes, No: newNo}
	return TradeResult{
		SharesReceived: pool.Yes.Sub(newYes),
		Pool:           next,
		YesProbability: YesProbability(next),
		NoProbability:  NoProbability(next),
	}, nil
}

// BuyNoShares spends amount tokens on NO shares, mirroring BuyYesShares.
func BuyNoShares(pool PoolState, amount decimal.Decimal) (TradeResult, error) {
	if err := validateBinary(pool, amount); err != nil {
		return TradeResult{}, err
	}

	k := pool.Yes.Mul(pool.No)
	newYes := pool.Yes.Add(amount)
	newNo := div(k, newYes)

	next := PoolState{Yes: newYes, No: newNo}
	return TradeResult{
		SharesReceived: pool.No.Sub(newNo),
		Pool:           next,
		YesProbability: YesProbability(next),
		NoProbability:  NoProbability(next),
	}, nil
}

// SellYesShares returns shares to the YES pool and pays out tokens from the
// NO pool, preserving the product invariant. Selling exactly the shares
// received from a buy restores the pre-trade pool up to rounding.
func SellYesShares(pool PoolState, shares decimal.Decimal) (SellResult, error) {
	if err := validateBinary(pool, shares); err != nil {
		return SellResult{}, err
	}

	k := pool.Yes.Mul(pool.No)
	newYes := pool.Yes.Add(shares)
	newNo := div(k, newYes)

	next := PoolState{Yes: newYes, No: newNo}
	return SellResult{
		TokensReceived: pool.No.Sub(newNo),
		Pool:           next,
		YesProbability: YesProbability(next),
		NoProbability:  NoProbability(next),
	}, nil
}

// SellNoShares returns shares to the NO pool and pays out from the YES pool.
func SellNoShares(pool PoolState, shares decimal.Decimal) (SellResult, error) {
	if err := validateBinary(pool, shares); err != nil {
		return SellResult{}, err
	}

	k := pool.Yes.Mul(pool.No)
	newNo := pool.No.Add(shares)
	newYes := div(k, newNo)

	next := PoolState{Yes: newYes, No: newNo}
	return SellResult{
		TokensReceived: pool.Yes.Sub(newYes),
		Pool:           next,
		YesProbability: YesProbability(next),
		NoProbability:  NoProbability(next),
	}, nil
}

// PreviewTrade quotes a buy without any side effect. The engine is pure, so
// the quote is computed by the exact code path that executes the trade and
// is guaranteed to match it digit for digit; whether the returned pool state
// is persisted is entirely the caller's decision.
func PreviewTrade(pool PoolState, outcome Outcome, amount decimal.Decimal) (TradeResult, error) {
	switch outcome {
	case OutcomeYes:
		return BuyYesShares(pool, amount)
	case OutcomeNo:
		return BuyNoShares(pool, amount)
	default:
		return TradeResult{}, ErrUnknownOutcome
	}
}

// validateBinary rejects non-positive trade quantities and degenerate pools
// before any arithmetic runs, so no partial result is ever produced.
func validateBinary(pool PoolState, quantity decimal.Decimal) error {
	if !quantity.IsPositive() {
		return ErrInvalidAmount
	}
	if !pool.Yes.IsPositive() || !pool.No.IsPositive() {
		return ErrInvalidPoolState
	}
	return nil
}
