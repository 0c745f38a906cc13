package depth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/AquaToken/aqua-voting-tracker/internal/horizon"
)

// maxOfferPages bounds how much of a book is read for one side.
const maxOfferPages = 50

// LiquiditySource reads order books and pools.
type LiquiditySource interface {
	Offers(ctx context.Context, selling, buying, cursor string, limit int) ([]horizon.Offer, error)
	LiquidityPoolForReserves(ctx context.Context, asset1, asset2 string) (*horizon.LiquidityPool, error)
}

// Pair is an asset pair to load.
type Pair struct {
	Asset1 string
	Asset2 string
}

// Loader fetches MarketData from Horizon.
type Loader struct {
	source      LiquiditySource
	pageLimit   int
	concurrency int
}

func NewLoader(source LiquiditySource, pageLimit, concurrency int) *Loader {
	if pageLimit <= 0 {
		pageLimit = horizon.DefaultPageLimit
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Loader{source: source, pageLimit: pageLimit, concurrency: concurrency}
}

// Load fetches the pool and both book sides of a pair concurrently. Missing
// components are left nil; use MarketData.Loaded to check.
func (l *Loader) Load(ctx context.Context, asset1, asset2 string) (*MarketData, error) {
	md := &MarketData{Asset1: asset1, Asset2: asset2}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	fail := func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}

	wg.Add(3)
	go func() {
		defer wg.Done()
		pool, err := l.source.LiquidityPoolForReserves(ctx, asset1, asset2)
		if err != nil {
			fail(fmt.Errorf("load pool: %w", err))
			return
		}
		if pool == nil {
			return
		}
		amm, err := NewAMM(*pool, asset1, asset2)
		if err != nil {
			fail(err)
			return
		}
		md.AMM = amm
	}()
	go func() {
		defer wg.Done()
		sdex, err := l.loadBook(ctx, asset1, asset2)
		if err != nil {
			fail(fmt.Errorf("load buying book: %w", err))
			return
		}
		md.BuyingSDEX = sdex
	}()
	go func() {
		defer wg.Done()
		sdex, err := l.loadBook(ctx, asset2, asset1)
		if err != nil {
			fail(fmt.Errorf("load selling book: %w", err))
			return
		}
		md.SellingSDEX = sdex
	}()
	wg.Wait()

	if len(errs) > 0 {
		return md, errors.Join(errs...)
	}
	return md, nil
}

// LoadAll loads every pair with at most the loader's concurrency in flight.
// The result is aligned with pairs; a failed pair has a nil entry and its error
// is joined into the returned error.
func (l *Loader) LoadAll(ctx context.Context, pairs []Pair) ([]*MarketData, error) {
	out := make([]*MarketData, len(pairs))
	errs := make([]error, len(pairs))

	sem := make(chan struct{}, l.concurrency)
	var wg sync.WaitGroup
	for i, p := range pairs {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, p Pair) {
			defer func() {
				<-sem
				wg.Done()
			}()
			md, err := l.Load(ctx, p.Asset1, p.Asset2)
			if err != nil {
				errs[i] = fmt.Errorf("%s/%s: %w", p.Asset1, p.Asset2, err)
				return
			}
			out[i] = md
		}(i, p)
	}
	wg.Wait()

	return out, errors.Join(errs...)
}

// loadBook reads offers buying `buying` and selling `selling`.
func (l *Loader) loadBook(ctx context.Context, buying, selling string) (*SDEX, error) {
	var (
		offers []horizon.Offer
		cursor string
	)
	for page := 0; page < maxOfferPages; page++ {
		batch, err := l.source.Offers(ctx, selling, buying, cursor, l.pageLimit)
		if err != nil {
			return nil, err
		}
		offers = append(offers, batch...)
		if len(batch) < l.pageLimit {
			break
		}
		cursor = batch[len(batch)-1].PagingToken
	}
	return NewSDEX(offers)
}
