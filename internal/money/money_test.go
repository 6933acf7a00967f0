package money

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestSharePrice_ExactDivision(t *testing.T) {
	if got := SharePrice(100000, 1000, 0); got != 100 {
		t.Errorf("expected 100, got %d", got)
	}
}

func TestSharePrice_RepeatingFraction(t *testing.T) {
	// 100000 / 3 = 33333.33... → 33333 cents.
	if got := SharePrice(100000, 3, 0); got != 33333 {
		t.Errorf("expected 33333, got %d", got)
	}
	if got := SharePrice(1000, 3, 0); got != 333 {
		t.Errorf("expected 333, got %d", got)
	}
}

func TestSharePrice_RoundsHalfUp(t *testing.T) {
	// 7/2 = 3.5 → 4, while 5/4 = 1.25 → 1.
	if got := SharePrice(7, 2, 0); got != 4 {
		t.Errorf("3.5 should round up to 4, got %d", got)
	}
	if got := SharePrice(5, 4, 0); got != 1 {
		t.Errorf("1.25 should round down to 1, got %d", got)
	}
}

func TestSharePrice_Deterministic(t *testing.T) {
	first := SharePrice(1000, 3, 0)
	for i := 0; i < 1000; i++ {
		if got := SharePrice(1000, 3, 0); got != first {
			t.Fatalf("iteration %d: got %d, want %d", i, got, first)
		}
	}
}

func TestSharePrice_ZeroShares(t *testing.T) {
	// No shares issued yet is a legitimate state, not an error.
	if got := SharePrice(500000, 0, 250); got != 250 {
		t.Errorf("expected fallback 250, got %d", got)
	}
}

func TestTransferAmount_TenPercent(t *testing.T) {
	rate := decimal.NewFromFloat(0.10)

	if got := TransferAmount(100000, rate); got != 10000 {
		t.Errorf("expected 10000, got %d", got)
	}
	// 10% of 1005 = 100.5 → 101, a single half-up rounding.
	if got := TransferAmount(1005, rate); got != 101 {
		t.Errorf("expected 101, got %d", got)
	}
	// 10% of 1004 = 100.4 → 100.
	if got := TransferAmount(1004, rate); got != 100 {
		t.Errorf("expected 100, got %d", got)
	}
}

func TestAvgCost_ZeroQuantity(t *testing.T) {
	if !AvgCost(5000, 0).IsZero() {
		t.Error("avg cost with zero quantity should be zero")
	}
}

func TestCostOfShares_SingleRounding(t *testing.T) {
	// Invested 1000 over 3 shares: raw avg 333.33..., selling 3 releases
	// the full 1000 (not 3 × 333 = 999, which a pre-rounded avg would give).
	avg := AvgCost(1000, 3)
	if got := CostOfShares(avg, 3); got != 1000 {
		t.Errorf("expected 1000, got %d", got)
	}
}
