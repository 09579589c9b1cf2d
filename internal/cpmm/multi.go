package cpmm

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Bounds on the number of outcomes in a multi-choice market.
const (
	MinOutcomes = 2
	MaxOutcomes = 10
)

// MultiPool maps outcome identifiers to their liquidity pools. All values
// are strictly positive at every valid state and their product is conserved
// across buys and sells.
type MultiPool map[string]decimal.Decimal

// MultiTradeResult is the outcome of buying shares on an N-outcome market.
type MultiTradeResult struct {
	SharesReceived decimal.Decimal
	Pools          MultiPool
	Probabilities  map[string]decimal.Decimal
}

// MultiSellResult is the outcome of selling shares on an N-outcome market.
type MultiSellResult struct {
	TokensReceived decimal.Decimal
	Pools          MultiPool
	Probabilities  map[string]decimal.Decimal
}

// CreateMultiPool seeds an N-outcome market with liquidity split evenly
// across the given outcomes, implying equal starting probabilities.
func CreateMultiPool(liquidity decimal.Decimal, outcomeIDs []string) (MultiPool, error) {
	if !liquidity.IsPositive() {
		return nil, ErrInvalidLiquidity
	}
	if len(outcomeIDs) < MinOutcomes {
		return nil, ErrTooFewOutcomes
	}
	if len(outcomeIDs) > MaxOutcomes {
		return nil, ErrTooManyOutcomes
	}

	share := div(liquidity, decimal.NewFromInt(int64(len(outcomeIDs))))
	pools := make(MultiPool, len(outcomeIDs))
	for _, id := range outcomeIDs {
		if _, dup := pools[id]; dup {
			return nil, fmt.Errorf("cpmm: duplicate outcome %q: %w", id, ErrInvalidPoolState)
		}
		pools[id] = share
	}
	return pools, nil
}

// AllProbabilities returns the implied probability of every outcome:
// P(i) = (1/pool_i) / sum_j(1/pool_j). The smaller a pool, the likelier its
// outcome; the probabilities sum to 1 up to rounding.
func AllProbabilities(pools MultiPool) (map[string]decimal.Decimal, error) {
	if err := validateMultiPool(pools); err != nil {
		return nil, err
	}

	inverses := make(map[string]decimal.Decimal, len(pools))
	sum := zero
	for id, pool := range pools {
		inv := div(one, pool)
		inverses[id] = inv
		sum = sum.Add(inv)
	}

	probs := make(map[string]decimal.Decimal, len(pools))
	for id, inv := range inverses {
		probs[id] = div(inv, sum)
	}
	return probs, nil
}

// OutcomeProbability returns the implied probability of a single outcome.
func OutcomeProbability(pools MultiPool, outcomeID string) (decimal.Decimal, error) {
	if err := validateMultiPool(pools); err != nil {
		return zero, err
	}
	if _, ok := pools[outcomeID]; !ok {
		return zero, ErrUnknownOutcome
	}
	probs, err := AllProbabilities(pools)
	if err != nil {
		return zero, err
	}
	return probs[outcomeID], nil
}

// TotalPool returns the sum of all outcome pools.
func TotalPool(pools MultiPool) decimal.Decimal {
	total := zero
	for _, pool := range pools {
		total = total.Add(pool)
	}
	return total
}

// BuyShares spends amount tokens on the target outcome. The tokens are
// spread evenly across every non-target pool, the target pool shrinks to
// hold the product of all pools constant, and the trader receives the
// difference as shares.
func BuyShares(pools MultiPool, targetID string, amount decimal.Decimal) (MultiTradeResult, error) {
	if err := validateMultiTrade(pools, targetID, amount); err != nil {
		return MultiTradeResult{}, err
	}

	k := poolProduct(pools)
	perPool := div(amount, decimal.NewFromInt(int64(len(pools)-1)))

	next := make(MultiPool, len(pools))
	othersProduct := one
	for id, pool := range pools {
		if id == targetID {
			continue
		}
		grown := pool.Add(perPool)
		next[id] = grown
		othersProduct = othersProduct.Mul(grown)
	}

	newTarget := div(k, othersProduct)
	next[targetID] = newTarget

	probs, err := AllProbabilities(next)
	if err != nil {
		return MultiTradeResult{}, err
	}
	return MultiTradeResult{
		SharesReceived: pools[targetID].Sub(newTarget),
		Pools:          next,
		Probabilities:  probs,
	}, nil
}

// SellShares returns shares to the target pool and scales every non-target
// pool down by the uniform factor that restores the product invariant; the
// tokens drained from the non-target pools are paid to the trader. The scale
// factor is the (N-1)-th root of the required shrinkage, so the withdrawal
// is proportional to each pool's size.
func SellShares(pools MultiPool, targetID string, shares decimal.Decimal) (MultiSellResult, error) {
	if err := validateMultiTrade(pools, targetID, shares); err != nil {
		return MultiSellResult{}, err
	}

	k := poolProduct(pools)
	newTarget := pools[targetID].Add(shares)

	othersProduct := one
	for id, pool := range pools {
		if id != targetID {
			othersProduct = othersProduct.Mul(pool)
		}
	}

	// Scale every other pool by r where r^(N-1) restores the invariant.
	ratio := div(div(k, newTarget), othersProduct)
	r := nthRoot(ratio, len(pools)-1)

	next := make(MultiPool, len(pools))
	next[targetID] = newTarget
	tokens := zero
	for id, pool := range pools {
		if id == targetID {
			continue
		}
		scaled := pool.Mul(r)
		next[id] = scaled
		tokens = tokens.Add(pool.Sub(scaled))
	}

	probs, err := AllProbabilities(next)
	if err != nil {
		return MultiSellResult{}, err
	}
	return MultiSellResult{
		TokensReceived: tokens,
		Pools:          next,
		Probabilities:  probs,
	}, nil
}

// PreviewBuy quotes a buy without side effects; identical inputs produce
// digit-identical results to BuyShares.
func PreviewBuy(pools MultiPool, targetID string, amount decimal.Decimal) (MultiTradeResult, error) {
	return BuyShares(pools, targetID, amount)
}

// PreviewSell quotes a sell without side effects; identical inputs produce
// digit-identical results to SellShares.
func PreviewSell(pools MultiPool, targetID string, shares decimal.Decimal) (MultiSellResult, error) {
	return SellShares(pools, targetID, shares)
}

func poolProduct(pools MultiPool) decimal.Decimal {
	product := one
	for _, pool := range pools {
		product = product.Mul(pool)
	}
	return product
}

func validateMultiPool(pools MultiPool) error {
	if len(pools) < MinOutcomes {
		return ErrTooFewOutcomes
	}
	if len(pools) > MaxOutcomes {
		return ErrTooManyOutcomes
	}
	for id, pool := range pools {
		if !pool.IsPositive() {
			return fmt.Errorf("cpmm: outcome %q pool %s: %w", id, pool, ErrInvalidPoolState)
		}
	}
	return nil
}

func validateMultiTrade(pools MultiPool, targetID string, quantity decimal.Decimal) error {
	if !quantity.IsPositive() {
		return ErrInvalidAmount
	}
	if err := validateMultiPool(pools); err != nil {
		return err
	}
	if _, ok := pools[targetID]; !ok {
		return ErrUnknownOutcome
	}
	return nil
}
