package cpmm

import (
	"math"

	"github.com/shopspring/decimal"
)

// divPrecision is the number of fractional digits carried by every division
// in the engine. 28 digits keeps the constant-product invariant stable well
// past the 8-decimal tolerance required of trade sequences.
const divPrecision = 28

var (
	zero = decimal.Zero
	one  = decimal.NewFromInt(1)
	two  = decimal.NewFromInt(2)
	half = decimal.New(5, -1)

	// rootEpsilon terminates the n-th root iteration.
	rootEpsilon = decimal.New(1, -(divPrecision - 2))
)

// div divides a by b at the engine's working precision. shopspring's
// DivRound rounds half away from zero, which for the strictly positive
// quantities handled here is half-up.
func div(a, b decimal.Decimal) decimal.Decimal {
	return a.DivRound(b, divPrecision)
}

// nthRoot computes the positive n-th root of x (x > 0, n >= 1) by Newton
// iteration, seeded from a float64 approximation. The iteration is bounded;
// in practice it converges in a handful of steps from the float seed.
func nthRoot(x decimal.Decimal, n int) decimal.Decimal {
	if n == 1 {
		return x
	}

	nd := decimal.NewFromInt(int64(n))
	nm1 := decimal.NewFromInt(int64(n - 1))

	seed := one
	if f, _ := x.Float64(); f > 0 && !math.IsInf(f, 0) {
		if approx := math.Pow(f, 1/float64(n)); approx > 0 && !math.IsInf(approx, 0) {
			seed = decimal.NewFromFloat(approx)
		}
	}

	r := seed
	for i := 0; i < 64; i++ {
		// r' = ((n-1)*r + x/r^(n-1)) / n
		pow := one
		for j := 0; j < n-1; j++ {
			pow = pow.Mul(r)
		}
		next := div(nm1.Mul(r).Add(div(x, pow)), nd)
		if next.Sub(r).Abs().LessThanOrEqual(rootEpsilon) {
			return next
		}
		r = next
	}
	return r
}
