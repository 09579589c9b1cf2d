package cpmm

import (
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"pgregory.net/rapid"
)

func TestIndexedValidation(t *testing.T) {
	pools := []decimal.Decimal{dec("300"), dec("300"), dec("300")}

	if _, err := BuySharesAt(pools, -1, dec("10")); !errors.Is(err, ErrUnknownOutcome) {
		t.Errorf("expected ErrUnknownOutcome for negative index, got %v", err)
	}
	if _, err := BuySharesAt(pools, 3, dec("10")); !errors.Is(err, ErrUnknownOutcome) {
		t.Errorf("expected ErrUnknownOutcome for out-of-range index, got %v", err)
	}
	if _, err := SellSharesAt(pools, 0, dec("0")); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := Probabilities([]decimal.Decimal{dec("1")}); !errors.Is(err, ErrTooFewOutcomes) {
		t.Errorf("expected ErrTooFewOutcomes, got %v", err)
	}
	if _, err := Probabilities([]decimal.Decimal{dec("1"), dec("0")}); !errors.Is(err, ErrInvalidPoolState) {
		t.Errorf("expected ErrInvalidPoolState, got %v", err)
	}
}

// The index-keyed and map-keyed variants are two addressings of the same
// mechanism and must produce identical numbers for equivalent inputs.
func TestProperty_IndexedMatchesMapKeyed(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(MinOutcomes, MaxOutcomes).Draw(t, "n")
		target := rapid.IntRange(0, n-1).Draw(t, "target")
		amount := decimal.NewFromFloat(rapid.Float64Range(0.01, 1e4).Draw(t, "amount"))

		slice := make([]decimal.Decimal, n)
		keyed := make(MultiPool, n)
		ids := make([]string, n)
		for i := 0; i < n; i++ {
			pool := decimal.NewFromFloat(rapid.Float64Range(1, 1e5).Draw(t, fmt.Sprintf("pool%d", i)))
			slice[i] = pool
			ids[i] = fmt.Sprintf("o%d", i)
			keyed[ids[i]] = pool
		}

		indexedBuy, err := BuySharesAt(slice, target, amount)
		if err != nil {
			t.Fatalf("indexed buy: %v", err)
		}
		keyedBuy, err := BuyShares(keyed, ids[target], amount)
		if err != nil {
			t.Fatalf("keyed buy: %v", err)
		}
		if !indexedBuy.SharesReceived.Equal(keyedBuy.SharesReceived) {
			t.Fatalf("buy shares differ: %s vs %s",
				indexedBuy.SharesReceived, keyedBuy.SharesReceived)
		}
		for i, id := range ids {
			if !indexedBuy.Pools[i].Equal(keyedBuy.Pools[id]) {
				t.Fatalf("pool %d differs: %s vs %s", i, indexedBuy.Pools[i], keyedBuy.Pools[id])
			}
			if !indexedBuy.Probabilities[i].Equal(keyedBuy.Probabilities[id]) {
				t.Fatalf("probability %d differs", i)
			}
		}

		indexedSell, err := SellSharesAt(slice, target, amount)
		if err != nil {
			t.Fatalf("indexed sell: %v", err)
		}
		keyedSell, err := SellShares(keyed, ids[target], amount)
		if err != nil {
			t.Fatalf("keyed sell: %v", err)
		}
		if !indexedSell.TokensReceived.Equal(keyedSell.TokensReceived) {
			t.Fatalf("sell tokens differ: %s vs %s",
				indexedSell.TokensReceived, keyedSell.TokensReceived)
		}
		for i, id := range ids {
			if !indexedSell.Pools[i].Equal(keyedSell.Pools[id]) {
				t.Fatalf("pool %d differs after sell", i)
			}
		}
	})
}

func TestIndexedProbabilities(t *testing.T) {
	pools := []decimal.Decimal{dec("100"), dec("300"), dec("600")}
	probs, err := Probabilities(pools)
	if err != nil {
		t.Fatalf("probabilities: %v", err)
	}

	// Smaller pools imply likelier outcomes.
	if !probs[0].GreaterThan(probs[1]) || !probs[1].GreaterThan(probs[2]) {
		t.Errorf("probabilities not ordered by pool size: %v", probs)
	}

	sum := zero
	for _, p := range probs {
		sum = sum.Add(p)
	}
	if !approxEqual(sum, one, 20) {
		t.Errorf("probabilities sum to %s", sum)
	}
}
