package depth

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/AquaToken/aqua-voting-tracker/internal/horizon"
)

// ErrIncompleteMarket is returned by Weights when a component is missing.
var ErrIncompleteMarket = errors.New("depth: market data not fully loaded")

// kernelPower shapes how quickly liquidity far from the best price loses weight.
const kernelPower = 8

// Kernel is (minPrice/price)^8.
func Kernel(price, minPrice float64) float64 {
	return math.Pow(minPrice/price, kernelPower)
}

// AMM is a constant product pool seen from the asset1 side.
type AMM struct {
	Reserve1 float64
	Reserve2 float64
	Fee      float64
}

// NewAMM reads the reserves of asset1 and asset2 from pool.
func NewAMM(pool horizon.LiquidityPool, asset1, asset2 string) (*AMM, error) {
	var r1, r2 string
	for _, r := range pool.Reserves {
		switch r.Asset {
		case asset1:
			r1 = r.Amount
		case asset2:
			r2 = r.Amount
		}
	}
	if r1 == "" || r2 == "" {
		return nil, fmt.Errorf("pool %s does not hold %s and %s", pool.ID, asset1, asset2)
	}
	reserve1, err := strconv.ParseFloat(r1, 64)
	if err != nil {
		return nil, fmt.Errorf("pool %s reserve %s: %w", pool.ID, asset1, err)
	}
	reserve2, err := strconv.ParseFloat(r2, 64)
	if err != nil {
		return nil, fmt.Errorf("pool %s reserve %s: %w", pool.ID, asset2, err)
	}
	return &AMM{Reserve1: reserve1, Reserve2: reserve2, Fee: float64(pool.FeeBP) / 10000}, nil
}

// Reverse returns the same pool seen from the asset2 side.
func (a AMM) Reverse() AMM {
	return AMM{Reserve1: a.Reserve2, Reserve2: a.Reserve1, Fee: a.Fee}
}

// Depth is the amount of asset2 obtainable up to price.
func (a AMM) Depth(price float64) float64 {
	return a.Reserve2 - a.Reserve1/(price*(1-a.Fee))
}

// MinPrice is the price at which depth starts.
func (a AMM) MinPrice() float64 {
	return a.Reserve1 / (a.Reserve2 * (1 - a.Fee))
}

// SDEX is an aggregated order book side: ascending prices with cumulative depth.
type SDEX struct {
	Prices []float64
	Depth  []float64
}

// NewSDEX aggregates offers by rational price. It returns nil when there are
// no offers.
func NewSDEX(offers []horizon.Offer) (*SDEX, error) {
	amounts := make(map[horizon.Price]float64)
	for _, o := range offers {
		amount, err := strconv.ParseFloat(o.Amount, 64)
		if err != nil {
			return nil, fmt.Errorf("offer %s amount: %w", o.ID, err)
		}
		amounts[o.PriceR] += amount
	}
	if len(amounts) == 0 {
		return nil, nil
	}

	type level struct{ price, amount float64 }
	levels := make([]level, 0, len(amounts))
	for p, amount := range amounts {
		levels = append(levels, level{p.Float(), amount})
	}
	sort.Slice(levels, func(i, j int) bool {
		if levels[i].price != levels[j].price {
			return levels[i].price < levels[j].price
		}
		return levels[i].amount < levels[j].amount
	})

	s := &SDEX{Prices: make([]float64, len(levels)), Depth: make([]float64, len(levels))}
	total := 0.0
	for i, l := range levels {
		total += l.amount
		s.Prices[i] = l.price
		s.Depth[i] = total
	}
	return s, nil
}

// MinPrice is the best price in the book.
func (s SDEX) MinPrice() float64 {
	return s.Prices[0]
}

// Segments returns the constant-depth price intervals of the book; the last
// one is open ended.
func (s SDEX) Segments() []Segment {
	segments := make([]Segment, 0, len(s.Prices))
	for i := 0; i+1 < len(s.Prices); i++ {
		segments = append(segments, Segment{Depth: s.Depth[i], A: s.Prices[i], B: s.Prices[i+1]})
	}
	last := len(s.Prices) - 1
	return append(segments, Segment{Depth: s.Depth[last], A: s.Prices[last], B: math.Inf(1)})
}

// MarketData is the liquidity of one asset pair. Buying is the book buying
// asset1 for asset2; selling is the reverse.
type MarketData struct {
	Asset1      string
	Asset2      string
	AMM         *AMM
	BuyingSDEX  *SDEX
	SellingSDEX *SDEX
}

// Loaded reports whether every component is present.
func (m *MarketData) Loaded() bool {
	return m.AMM != nil && m.BuyingSDEX != nil && m.SellingSDEX != nil
}

func (m *MarketData) buyingMinPrice() float64 {
	return math.Min(m.BuyingSDEX.MinPrice(), m.AMM.MinPrice())
}

func (m *MarketData) sellingMinPrice() float64 {
	return math.Min(m.SellingSDEX.MinPrice(), m.AMM.Reverse().MinPrice())
}

// Weights returns the order book and pool weights of a market. Each side is
// normalised and the two sides are averaged, so sdex + amm == 1.
func Weights(m *MarketData) (sdex, amm float64, err error) {
	if !m.Loaded() {
		return 0, 0, ErrIncompleteMarket
	}

	buyMin := m.buyingMinPrice()
	sdexBuy, err := sdexWeight(*m.BuyingSDEX, buyMin)
	if err != nil {
		return 0, 0, fmt.Errorf("sdex buying: %w", err)
	}
	ammBuy, err := ammWeight(*m.AMM, buyMin)
	if err != nil {
		return 0, 0, fmt.Errorf("amm buying: %w", err)
	}

	sellMin := m.sellingMinPrice()
	sdexSell, err := sdexWeight(*m.SellingSDEX, sellMin)
	if err != nil {
		return 0, 0, fmt.Errorf("sdex selling: %w", err)
	}
	ammSell, err := ammWeight(m.AMM.Reverse(), sellMin)
	if err != nil {
		return 0, 0, fmt.Errorf("amm selling: %w", err)
	}

	buySum := sdexBuy + ammBuy
	sellSum := sdexSell + ammSell
	if buySum <= 0 || sellSum <= 0 {
		return 0, 0, ErrIntegrationDiverged
	}

	sdex = (sdexBuy/buySum + sdexSell/sellSum) / 2
	amm = (ammBuy/buySum + ammSell/sellSum) / 2
	return sdex, amm, nil
}

func sdexWeight(s SDEX, minPrice float64) (float64, error) {
	f := func(p float64) float64 { return Kernel(p, minPrice) }
	result, _, err := IntegratePiecewise(f, s.Segments())
	return result, err
}

func ammWeight(a AMM, minPrice float64) (float64, error) {
	f := func(p float64) float64 { return Kernel(p, minPrice) * a.Depth(p) }
	result, _, err := Integrate(f, a.MinPrice(), math.Inf(1))
	return result, err
}
