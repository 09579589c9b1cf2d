package cpmm

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Array-indexed variant of the multi-outcome mechanism. Some callers (the
// trade log replayer, the indexed wire format) address outcomes by position
// rather than identifier; the math is identical to the map-keyed variant and
// the two must produce the same numbers for equivalent inputs.

// IndexedTradeResult is the outcome of BuySharesAt.
type IndexedTradeResult struct {
	SharesReceived decimal.Decimal
	Pools          []decimal.Decimal
	Probabilities  []decimal.Decimal
}

// IndexedSellResult is the outcome of SellSharesAt.
type IndexedSellResult struct {
	TokensReceived decimal.Decimal
	Pools          []decimal.Decimal
	Probabilities  []decimal.Decimal
}

// Probabilities returns the implied probability of every outcome by
// position: P(i) = (1/pool_i) / sum_j(1/pool_j).
func Probabilities(pools []decimal.Decimal) ([]decimal.Decimal, error) {
	if err := validateIndexedPool(pools); err != nil {
		return nil, err
	}

	inverses := make([]decimal.Decimal, len(pools))
	sum := zero
	for i, pool := range pools {
		inverses[i] = div(one, pool)
		sum = sum.Add(inverses[i])
	}

	probs := make([]decimal.Decimal, len(pools))
	for i, inv := range inverses {
		probs[i] = div(inv, sum)
	}
	return probs, nil
}

// BuySharesAt buys shares of the outcome at index target, spreading amount
// evenly across the other pools and rebalancing the target pool to conserve
// the product invariant.
func BuySharesAt(pools []decimal.Decimal, target int, amount decimal.Decimal) (IndexedTradeResult, error) {
	if err := validateIndexedTrade(pools, target, amount); err != nil {
		return IndexedTradeResult{}, err
	}

	k := one
	for _, pool := range pools {
		k = k.Mul(pool)
	}
	perPool := div(amount, decimal.NewFromInt(int64(len(pools)-1)))

	next := make([]decimal.Decimal, len(pools))
	othersProduct := one
	for i, pool := range pools {
		if i == target {
			continue
		}
		next[i] = pool.Add(perPool)
		othersProduct = othersProduct.Mul(next[i])
	}
	next[target] = div(k, othersProduct)

	probs, err := Probabilities(next)
	if err != nil {
		return IndexedTradeResult{}, err
	}
	return IndexedTradeResult{
		SharesReceived: pools[target].Sub(next[target]),
		Pools:          next,
		Probabilities:  probs,
	}, nil
}

// SellSharesAt sells shares of the outcome at index target using the same
// uniform-scaling semantics as SellShares.
func SellSharesAt(pools []decimal.Decimal, target int, shares decimal.Decimal) (IndexedSellResult, error) {
	if err := validateIndexedTrade(pools, target, shares); err != nil {
		return IndexedSellResult{}, err
	}

	k := one
	for _, pool := range pools {
		k = k.Mul(pool)
	}
	newTarget := pools[target].Add(shares)

	othersProduct := one
	for i, pool := range pools {
		if i != target {
			othersProduct = othersProduct.Mul(pool)
		}
	}

	ratio := div(div(k, newTarget), othersProduct)
	r := nthRoot(ratio, len(pools)-1)

	next := make([]decimal.Decimal, len(pools))
	next[target] = newTarget
	tokens := zero
	for i, pool := range pools {
		if i == target {
			continue
		}
		next[i] = pool.Mul(r)
		tokens = tokens.Add(pool.Sub(next[i]))
	}

	probs, err := Probabilities(next)
	if err != nil {
		return IndexedSellResult{}, err
	}
	return IndexedSellResult{
		TokensReceived: tokens,
		Pools:          next,
		Probabilities:  probs,
	}, nil
}

func validateIndexedPool(pools []decimal.Decimal) error {
	if len(pools) < MinOutcomes {
		return ErrTooFewOutcomes
	}
	if len(pools) > MaxOutcomes {
		return ErrTooManyOutcomes
	}
	for i, pool := range pools {
		if !pool.IsPositive() {
			return fmt.Errorf("cpmm: outcome %d pool %s: %w", i, pool, ErrInvalidPoolState)
		}
	}
	return nil
}

func validateIndexedTrade(pools []decimal.Decimal, target int, quantity decimal.Decimal) error {
	if !quantity.IsPositive() {
		return ErrInvalidAmount
	}
	if err := validateIndexedPool(pools); err != nil {
		return err
	}
	if target < 0 || target >= len(pools) {
		return ErrUnknownOutcome
	}
	return nil
}
