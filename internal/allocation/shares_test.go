package allocation_test

import (
	"errors"
	"testing"

	"github.com/AquaToken/aqua-voting-tracker/internal/allocation"
	"github.com/shopspring/decimal"
)

func decimals(values ...int64) []decimal.Decimal {
	out := make([]decimal.Decimal, len(values))
	for i, v := range values {
		out[i] = decimal.NewFromInt(v)
	}
	return out
}

func assertShares(t *testing.T, got []decimal.Decimal, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("len: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		w := decimal.RequireFromString(want[i])
		if !got[i].RoundBank(4).Equal(w) {
			t.Errorf("share %d: got %s, want %s", i, got[i].RoundBank(4), w)
		}
	}
}

func TestCappedSharesProportionalUnderCap(t *testing.T) {
	got, err := allocation.CappedShares(decimals(90, 80, 70, 60, 50, 50, 40, 30, 20, 10), decimal.RequireFromString("0.18"))
	if err != nil {
		t.Fatalf("CappedShares: %v", err)
	}
	assertShares(t, got, []string{"0.18", "0.16", "0.14", "0.12", "0.1", "0.1", "0.08", "0.06", "0.04", "0.02"})
}

func TestCappedSharesRedistributesCut(t *testing.T) {
	got, err := allocation.CappedShares(decimals(50, 50, 30, 20, 10, 10, 10, 10, 5, 5), decimal.RequireFromString("0.2"))
	if err != nil {
		t.Fatalf("CappedShares: %v", err)
	}
	assertShares(t, got, []string{"0.2", "0.2", "0.18", "0.12", "0.06", "0.06", "0.06", "0.06", "0.03", "0.03"})

	if d := allocation.Sum(got).Sub(decimal.NewFromInt(1)).Abs(); d.GreaterThan(decimal.RequireFromString("0.0001")) {
		t.Errorf("sum: got %s, want 1", allocation.Sum(got))
	}
}

func TestCappedSharesCascadingCap(t *testing.T) {
	got, err := allocation.CappedShares(decimals(50, 50, 35, 20, 10, 10, 10, 10, 5), decimal.RequireFromString("0.2"))
	if err != nil {
		t.Fatalf("CappedShares: %v", err)
	}
	assertShares(t, got, []string{"0.2", "0.2", "0.2", "0.1231", "0.0615", "0.0615", "0.0615", "0.0615", "0.0308"})
}

func TestCappedSharesKeepsInputOrder(t *testing.T) {
	got, err := allocation.CappedShares(decimals(10, 30, 60), decimal.NewFromInt(1))
	if err != nil {
		t.Fatalf("CappedShares: %v", err)
	}
	assertShares(t, got, []string{"0.1", "0.3", "0.6"})
}

func TestCappedSharesRejectsEmptyAndZero(t *testing.T) {
	if _, err := allocation.CappedShares(nil, decimal.NewFromInt(1)); !errors.Is(err, allocation.ErrNoValues) {
		t.Errorf("empty: got %v, want ErrNoValues", err)
	}
	if _, err := allocation.CappedShares(decimals(0, 0), decimal.NewFromInt(1)); !errors.Is(err, allocation.ErrNonPositiveSum) {
		t.Errorf("zero: got %v, want ErrNonPositiveSum", err)
	}
}
