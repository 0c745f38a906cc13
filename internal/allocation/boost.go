// Package allocation holds the two capped allocation primitives: the boost
// adjustment applied to snapshot vote values and the capped proportional share
// split used for rewards.
package allocation

import (
	"errors"
	"sort"

	"github.com/shopspring/decimal"
)

// ErrInconsistentBoostCap is returned when boosted markets carry different caps.
var ErrInconsistentBoostCap = errors.New("allocation: inconsistent voting boost cap")

var one = decimal.NewFromInt(1)

// Entry is one market's input to ApplyBoost.
type Entry struct {
	Votes    decimal.Decimal
	Boost    decimal.Decimal
	BoostCap decimal.Decimal
}

// Boosted returns Votes * (1 + Boost).
func (e Entry) Boosted() decimal.Decimal {
	return e.Votes.Mul(one.Add(e.Boost))
}

// ApplyBoost computes the adjusted vote value of every entry. The result is
// aligned with entries.
//
// Markets without a boost keep their raw value. A boosted market takes its
// boosted value as long as its share of the running total stays under the cap;
// the rest are resolved together so that each ends at its raw value, its
// boosted value, or exactly the cap share of the final total. A zero cap
// means the boost is applied without limit.
func ApplyBoost(entries []Entry) ([]decimal.Decimal, error) {
	boostCap, err := commonBoostCap(entries)
	if err != nil {
		return nil, err
	}

	order := make([]int, len(entries))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return entries[order[a]].Votes.LessThan(entries[order[b]].Votes)
	})

	adjusted := make([]decimal.Decimal, len(entries))
	fixedTotal := decimal.Zero
	runningTotal := decimal.Zero
	for _, e := range entries {
		runningTotal = runningTotal.Add(e.Votes)
	}

	var contested []int
	for _, i := range order {
		e := entries[i]
		if e.Boost.IsZero() {
			adjusted[i] = e.Votes
			fixedTotal = fixedTotal.Add(e.Votes)
			continue
		}

		boosted := e.Boosted()
		boostedTotal := runningTotal.Sub(e.Votes).Add(boosted)
		if e.BoostCap.IsZero() || boostedTotal.IsZero() || boosted.Div(boostedTotal).LessThan(e.BoostCap) {
			adjusted[i] = boosted
			fixedTotal = fixedTotal.Add(boosted)
			runningTotal = boostedTotal
			continue
		}

		contested = append(contested, i)
	}

	for len(contested) > 0 {
		n := decimal.NewFromInt(int64(len(contested)))

		// The cap cannot be reached by every remaining market at once.
		if n.Mul(boostCap).GreaterThanOrEqual(one) {
			first := contested[0]
			contested = contested[1:]
			adjusted[first] = entries[first].Boosted()
			fixedTotal = fixedTotal.Add(adjusted[first])
			continue
		}

		capped := fixedTotal.Mul(boostCap).Div(one.Sub(boostCap.Mul(n)))

		last := contested[len(contested)-1]
		if capped.LessThan(entries[last].Votes) {
			contested = contested[:len(contested)-1]
			adjusted[last] = entries[last].Votes
			fixedTotal = fixedTotal.Add(adjusted[last])
			continue
		}

		first := contested[0]
		if capped.GreaterThan(entries[first].Boosted()) {
			contested = contested[1:]
			adjusted[first] = entries[first].Boosted()
			fixedTotal = fixedTotal.Add(adjusted[first])
			continue
		}

		for _, i := range contested {
			adjusted[i] = capped
		}
		break
	}

	return adjusted, nil
}

// commonBoostCap returns the cap shared by all entries with a nonzero cap.
func commonBoostCap(entries []Entry) (decimal.Decimal, error) {
	boostCap := decimal.Zero
	for _, e := range entries {
		if e.BoostCap.IsZero() {
			continue
		}
		if boostCap.IsZero() {
			boostCap = e.BoostCap
			continue
		}
		if !e.BoostCap.Equal(boostCap) {
			return decimal.Zero, ErrInconsistentBoostCap
		}
	}
	return boostCap, nil
}
