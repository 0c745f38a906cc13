package allocation

import (
	"errors"
	"sort"

	"github.com/shopspring/decimal"
)

var (
	ErrNoValues       = errors.New("allocation: no values")
	ErrNonPositiveSum = errors.New("allocation: values sum is not positive")
)

// CappedShares splits 1 across values proportionally, capping every share at
// maxShare and handing the excess to the smaller values in proportion to their
// own share. The result is aligned with values.
//
// When every value would exceed the cap (len(values)*maxShare < 1) the shares
// sum to less than 1; callers normalise by the share total.
func CappedShares(values []decimal.Decimal, maxShare decimal.Decimal) ([]decimal.Decimal, error) {
	if len(values) == 0 {
		return nil, ErrNoValues
	}

	total := Sum(values)
	if total.Sign() <= 0 {
		return nil, ErrNonPositiveSum
	}

	order := make([]int, len(values))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return values[order[a]].GreaterThan(values[order[b]])
	})

	shares := make([]decimal.Decimal, len(values))
	cut := decimal.Zero
	remain := one
	for _, i := range order {
		share := values[i].Div(total)
		add := decimal.Zero
		if !remain.IsZero() {
			add = cut.Mul(share).Div(remain)
		}
		remain = remain.Sub(share)
		cut = cut.Sub(add)
		share = share.Add(add)

		if share.GreaterThan(maxShare) {
			cut = cut.Add(share.Sub(maxShare))
			share = maxShare
		}
		shares[i] = share
	}

	return shares, nil
}

// Sum adds up values.
func Sum(values []decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}
