package cpmm

import "github.com/shopspring/decimal"

const maxNewtonIterations = 100

// newtonEpsilon is the convergence criterion on |f(t)|. It matches the
// tolerance the historical trade log was produced under; loosening it would
// make replayed sells diverge from persisted amounts.
var newtonEpsilon = decimal.New(1, -15)

// SellSharesEqualWithdrawal is the alternate multi-outcome sell formulation:
// the target pool grows by shares and every other pool shrinks by the same
// absolute token amount t, rather than by a proportional factor. t is the
// root of
//
//	f(t) = prod_j(otherPool_j - t) - k/newTarget
//
// found by Newton's method with backtracking (t halves whenever a step would
// drive any pool non-positive), capped at 100 iterations. The trader
// receives t from each of the N-1 other pools.
//
// This is NOT numerically equivalent to SellShares and is kept under its own
// name so historical trades recorded against it replay exactly; new sells
// should use SellShares. Inputs that cannot converge within the iteration
// cap return ErrSellDidNotConverge instead of an unvalidated approximation.
func SellSharesEqualWithdrawal(pools MultiPool, targetID string, shares decimal.Decimal) (MultiSellResult, error) {
	if err := validateMultiTrade(pools, targetID, shares); err != nil {
		return MultiSellResult{}, err
	}

	k := poolProduct(pools)
	newTarget := pools[targetID].Add(shares)
	want := div(k, newTarget) // required product of the other pools

	others := make([]decimal.Decimal, 0, len(pools)-1)
	otherIDs := make([]string, 0, len(pools)-1)
	for id, pool := range pools {
		if id != targetID {
			others = append(others, pool)
			otherIDs = append(otherIDs, id)
		}
	}

	t := zero
	converged := false
	for i := 0; i < maxNewtonIterations; i++ {
		product := one
		for _, pool := range others {
			product = product.Mul(pool.Sub(t))
		}
		f := product.Sub(want)
		if f.Abs().LessThan(newtonEpsilon) {
			converged = true
			break
		}

		// f'(t) = -sum_j prod/(otherPool_j - t)
		derivative := zero
		for _, pool := range others {
			derivative = derivative.Sub(div(product, pool.Sub(t)))
		}
		if derivative.IsZero() {
			break
		}

		next := t.Sub(div(f, derivative))
		if next.IsNegative() {
			next = zero
		}
		// Backtrack while the step would drain any pool.
		for j := 0; j < 64 && underflowsAny(others, next); j++ {
			next = next.Mul(half)
		}
		t = next
	}
	if !converged {
		return MultiSellResult{}, ErrSellDidNotConverge
	}

	next := make(MultiPool, len(pools))
	next[targetID] = newTarget
	tokens := zero
	for i, id := range otherIDs {
		drained := others[i].Sub(t)
		if !drained.IsPositive() {
			return MultiSellResult{}, ErrSellDidNotConverge
		}
		next[id] = drained
		tokens = tokens.Add(t)
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

func underflowsAny(pools []decimal.Decimal, t decimal.Decimal) bool {
	if t.IsZero() {
		return false
	}
	for _, pool := range pools {
		if !pool.Sub(t).IsPositive() {
			return true
		}
	}
	return false
}
