// Package depth estimates how a market's liquidity splits between the order
// book and the liquidity pool by integrating depth curves against a price
// kernel.
package depth

import (
	"errors"
	"math"
)

const (
	// ErrorCap is the relative error above which a partition is split.
	ErrorCap = 1e-6
	// SplitLimit is the partition count at which integration gives up.
	SplitLimit = 1000
)

var (
	ErrIntegrationDiverged = errors.New("depth: integration did not converge within the split limit")
	ErrInvalidBounds       = errors.New("depth: integration bounds must satisfy 0 < a <= b")
)

// Func is an integrand.
type Func func(x float64) float64

// 15-point Kronrod nodes on [-1, 1] (non-negative half) with their weights,
// and the weights of the embedded 7-point Gauss rule on the odd nodes.
var (
	kronrodNodes = [8]float64{
		0.991455371120812639206854697526329,
		0.949107912342758524526189684047851,
		0.864864423359769072789712788640926,
		0.741531185599394439863864773280788,
		0.586087235467691130294144845693013,
		0.405845151377397166906606412076961,
		0.207784955007898467600689403773245,
		0,
	}
	kronrodWeights = [8]float64{
		0.022935322010529224963732008058970,
		0.063092092629978553290700663189204,
		0.104790010322250183839876322541518,
		0.140653259715525918745189590510238,
		0.169004726639267902826583426598550,
		0.190350578064785409913256402421014,
		0.204432940075298892414161999234649,
		0.209482141084727828012999174891714,
	}
	gaussWeights = [4]float64{
		0.129484966168869693270611432679082,
		0.279705391489276667901467771423780,
		0.381830050505118944950369775488975,
		0.417959183673469387755102040816327,
	}
)

type partition struct {
	a, b          float64
	result, errEst float64
}

func newPartition(f Func, a, b float64) partition {
	p := partition{a: a, b: b}
	if math.IsInf(b, 1) {
		p.result, p.errEst = kronrodInfinite(f, a)
	} else {
		p.result, p.errEst = kronrod(f, a, b)
	}
	return p
}

// split halves a finite partition; an infinite one splits at 2a.
func (p partition) split(f Func) (partition, partition, bool) {
	var mid float64
	if math.IsInf(p.b, 1) {
		mid = 2 * p.a
	} else {
		mid = p.a + (p.b-p.a)/2
	}
	if !(mid > p.a && mid < p.b) {
		return partition{}, partition{}, false
	}
	return newPartition(f, p.a, mid), newPartition(f, mid, p.b), true
}

// Integrate returns the integral of f over [a, b] and its error estimate. b may
// be +Inf. Partitions are refined until each partition's error is within
// ErrorCap of the total.
func Integrate(f Func, a, b float64) (float64, float64, error) {
	if !(a > 0 && a <= b) {
		return 0, 0, ErrInvalidBounds
	}
	if a == b {
		return 0, 0, nil
	}

	parts := []partition{newPartition(f, a, b)}
	for {
		sum, errSum := 0.0, 0.0
		for _, p := range parts {
			sum += p.result
			errSum += p.errEst
		}
		if math.IsNaN(sum) || math.IsInf(sum, 0) || math.IsNaN(errSum) {
			return 0, 0, ErrIntegrationDiverged
		}

		next := make([]partition, 0, len(parts)*2)
		for _, p := range parts {
			if p.errEst <= ErrorCap*math.Abs(sum) {
				next = append(next, p)
				continue
			}
			left, right, ok := p.split(f)
			if !ok {
				return 0, 0, ErrIntegrationDiverged
			}
			next = append(next, left, right)
		}

		if len(next) == len(parts) {
			return sum, errSum, nil
		}
		if len(next) > SplitLimit {
			return 0, 0, ErrIntegrationDiverged
		}
		parts = next
	}
}

// Segment is a constant Depth over [A, B].
type Segment struct {
	Depth float64
	A, B  float64
}

// IntegratePiecewise sums Depth * integral(f, A, B) over segments.
func IntegratePiecewise(f Func, segments []Segment) (float64, float64, error) {
	result, errSum := 0.0, 0.0
	for _, s := range segments {
		r, e, err := Integrate(f, s.A, s.B)
		if err != nil {
			return 0, 0, err
		}
		result += s.Depth * r
		errSum += e
	}
	return result, errSum, nil
}

func kronrod(f Func, a, b float64) (float64, float64) {
	center := (a + b) / 2
	half := (b - a) / 2

	fc := f(center)
	resK := fc * kronrodWeights[7]
	resG := fc * gaussWeights[3]
	for i := 0; i < 7; i++ {
		dx := half * kronrodNodes[i]
		pair := f(center-dx) + f(center+dx)
		resK += kronrodWeights[i] * pair
		if i%2 == 1 {
			resG += gaussWeights[i/2] * pair
		}
	}
	resK *= half
	resG *= half
	return resK, math.Abs(resK - resG)
}

// kronrodInfinite integrates f over [a, +Inf) through x = a + t/(1-t).
func kronrodInfinite(f Func, a float64) (float64, float64) {
	g := func(t float64) float64 {
		u := 1 - t
		return f(a+t/u) / (u * u)
	}
	return kronrod(g, 0, 1)
}
