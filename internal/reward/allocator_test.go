package reward_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/AquaToken/aqua-voting-tracker/internal/config"
	"github.com/AquaToken/aqua-voting-tracker/internal/depth"
	"github.com/AquaToken/aqua-voting-tracker/internal/marketkeys"
	"github.com/AquaToken/aqua-voting-tracker/internal/observability"
	"github.com/AquaToken/aqua-voting-tracker/internal/persistence"
	"github.com/AquaToken/aqua-voting-tracker/internal/reward"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var total = decimal.NewFromInt(1000000)

type fakeSnapshots struct {
	rows       []persistence.SnapshotRow
	gotLimit   int
	statsError error
}

func (f *fakeSnapshots) LatestStats(context.Context) (*persistence.SnapshotStats, error) {
	if f.statsError != nil {
		return nil, f.statsError
	}
	sum := decimal.Zero
	for _, r := range f.rows {
		sum = sum.Add(r.AdjustedVotesValue)
	}
	return &persistence.SnapshotStats{AdjustedVotesValueSum: sum, MarketKeyCount: len(f.rows)}, nil
}

func (f *fakeSnapshots) RewardCandidates(_ context.Context, limit int) ([]persistence.SnapshotRow, error) {
	f.gotLimit = limit
	return f.rows[:min(limit, len(f.rows))], nil
}

type fakeLoader struct {
	data map[depth.Pair]*depth.MarketData
}

func (f *fakeLoader) LoadAll(_ context.Context, pairs []depth.Pair) ([]*depth.MarketData, error) {
	out := make([]*depth.MarketData, len(pairs))
	for i, p := range pairs {
		md, ok := f.data[p]
		if !ok {
			md = &depth.MarketData{Asset1: p.Asset1, Asset2: p.Asset2}
		}
		out[i] = md
	}
	return out, nil
}

// candidates returns snapshot rows market1..marketN and a directory for them.
func candidates(values ...int64) (*fakeSnapshots, *marketkeys.Static) {
	snaps := &fakeSnapshots{}
	var markets []marketkeys.Market
	for i, v := range values {
		key := fmt.Sprintf("market%d", i+1)
		snaps.rows = append(snaps.rows, persistence.SnapshotRow{
			MarketKey:          key,
			Rank:               i + 1,
			AdjustedVotesValue: decimal.NewFromInt(v),
		})
		markets = append(markets, marketkeys.Market{
			AccountID:       key,
			UpvoteAccountID: key,
			Asset1:          fmt.Sprintf("A%d:ISSUER", i/2+1),
			Asset2:          fmt.Sprintf("A%d:ISSUER", i/2+2),
		})
	}
	return snaps, marketkeys.NewStatic(markets)
}

func staticParams(maxShare string) reward.Params {
	return reward.Params{
		MinShare:  decimal.RequireFromString("0.01"),
		MaxShare:  decimal.RequireFromString(maxShare),
		Total:     total,
		SDEXShare: decimal.NewFromInt(1),
		AMMShare:  decimal.NewFromInt(1),
		SplitMode: config.SplitStatic,
	}
}

func assertRewards(t *testing.T, rewards []reward.MarketReward, maxShare string) {
	t.Helper()
	sum := decimal.Zero
	for _, r := range rewards {
		sum = sum.Add(r.RewardValue)
		if !r.RewardValue.Equal(r.AMMRewardValue.Add(r.SDEXRewardValue)) {
			t.Errorf("%s: reward %s != amm %s + sdex %s", r.MarketKey, r.RewardValue, r.AMMRewardValue, r.SDEXRewardValue)
		}
		if r.Share.GreaterThan(decimal.RequireFromString(maxShare)) {
			t.Errorf("%s: share %s over max %s", r.MarketKey, r.Share, maxShare)
		}
	}
	if sum.Sub(total).Abs().GreaterThan(decimal.NewFromInt(int64(len(rewards)))) {
		t.Errorf("reward sum: got %s, want within %d of %s", sum, len(rewards), total)
	}
}

func assertShares(t *testing.T, rewards []reward.MarketReward, want []string) {
	t.Helper()
	if len(rewards) != len(want) {
		t.Fatalf("rewards: got %d, want %d", len(rewards), len(want))
	}
	for i, w := range want {
		if !rewards[i].Share.Equal(decimal.RequireFromString(w)) {
			t.Errorf("share[%d]: got %s, want %s", i, rewards[i].Share, w)
		}
	}
}

func TestAllocatorProportionalShares(t *testing.T) {
	snaps, markets := candidates(90, 80, 70, 60, 50, 50, 40, 30, 20, 10)
	a := reward.NewAllocator(snaps, markets, nil, nil, staticParams("0.18"), zerolog.Nop(), nil)

	rewards, err := a.Compute(context.Background())
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	assertRewards(t, rewards, "0.18")
	assertShares(t, rewards, []string{"0.18", "0.16", "0.14", "0.12", "0.1", "0.1", "0.08", "0.06", "0.04", "0.02"})

	if snaps.gotLimit != 100 {
		t.Errorf("candidate limit: got %d, want 100", snaps.gotLimit)
	}
	first := rewards[0]
	if !first.RewardValue.Equal(decimal.NewFromInt(180000)) {
		t.Errorf("reward: got %s, want 180000", first.RewardValue)
	}
	if !first.AMMShare.Equal(decimal.RequireFromString("0.5")) || !first.AMMRewardValue.Equal(decimal.NewFromInt(90000)) {
		t.Errorf("static split: got share %s reward %s", first.AMMShare, first.AMMRewardValue)
	}
	if first.Asset1 != "A1:ISSUER" || first.Asset2 != "A2:ISSUER" {
		t.Errorf("assets: got %s/%s", first.Asset1, first.Asset2)
	}
}

func TestAllocatorCapsShares(t *testing.T) {
	snaps, markets := candidates(50, 50, 30, 20, 10, 10, 10, 10, 5, 5)
	a := reward.NewAllocator(snaps, markets, nil, nil, staticParams("0.2"), zerolog.Nop(), nil)

	rewards, err := a.Compute(context.Background())
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	assertRewards(t, rewards, "0.2")
	assertShares(t, rewards, []string{"0.2", "0.2", "0.18", "0.12", "0.06", "0.06", "0.06", "0.06", "0.03", "0.03"})
}

func TestAllocatorCascadingCap(t *testing.T) {
	snaps, markets := candidates(50, 50, 35, 20, 10, 10, 10, 10, 5)
	a := reward.NewAllocator(snaps, markets, nil, nil, staticParams("0.2"), zerolog.Nop(), nil)

	rewards, err := a.Compute(context.Background())
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	assertRewards(t, rewards, "0.2")
	assertShares(t, rewards, []string{"0.2", "0.2", "0.2", "0.1231", "0.0615", "0.0615", "0.0615", "0.0615", "0.0308"})
}

func TestAllocatorStopsZoneBelowMinShare(t *testing.T) {
	snaps, markets := candidates(90, 5, 1)
	params := staticParams("1")
	params.MinShare = decimal.RequireFromString("0.05")
	a := reward.NewAllocator(snaps, markets, nil, nil, params, zerolog.Nop(), nil)

	rewards, err := a.Compute(context.Background())
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if len(rewards) != 2 {
		t.Fatalf("zone: got %d markets, want 2", len(rewards))
	}
	if snaps.gotLimit != 20 {
		t.Errorf("candidate limit: got %d, want 20", snaps.gotLimit)
	}
	assertRewards(t, rewards, "1")
}

func TestAllocatorUnknownMarket(t *testing.T) {
	snaps, _ := candidates(10, 5)
	a := reward.NewAllocator(snaps, marketkeys.NewStatic(nil), nil, nil, staticParams("0.5"), zerolog.Nop(), nil)

	if _, err := a.Compute(context.Background()); !errors.Is(err, reward.ErrUnknownMarket) {
		t.Fatalf("error: got %v, want ErrUnknownMarket", err)
	}
}

func TestAllocatorPropagatesMissingSnapshot(t *testing.T) {
	snaps, markets := candidates()
	snaps.statsError = persistence.ErrNoSnapshot
	a := reward.NewAllocator(snaps, markets, nil, nil, staticParams("0.5"), zerolog.Nop(), nil)

	if _, err := a.Run(context.Background()); !persistence.IsNoSnapshot(err) {
		t.Fatalf("error: got %v, want ErrNoSnapshot", err)
	}
}

func TestAllocatorDynamicSplitFallsBack(t *testing.T) {
	snaps, markets := candidates(60, 40, 30)
	side := &depth.SDEX{Prices: []float64{1.01, 1.02}, Depth: []float64{100, 200}}
	loader := &fakeLoader{data: map[depth.Pair]*depth.MarketData{
		{Asset1: "A1:ISSUER", Asset2: "A2:ISSUER"}: {
			Asset1:      "A1:ISSUER",
			Asset2:      "A2:ISSUER",
			AMM:         &depth.AMM{Reserve1: 1000, Reserve2: 1000, Fee: 0.003},
			BuyingSDEX:  side,
			SellingSDEX: side,
		},
	}}

	params := staticParams("1")
	params.SplitMode = config.SplitDynamic
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	a := reward.NewAllocator(snaps, markets, loader, nil, params, zerolog.Nop(), metrics)

	rewards, err := a.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	assertRewards(t, rewards, "1")

	// market1 and market2 trade A1/A2 and use the integrated split.
	for _, r := range rewards[:2] {
		if !r.AMMShare.Equal(decimal.RequireFromString("0.4")) {
			t.Errorf("%s amm share: got %s, want 0.4", r.MarketKey, r.AMMShare)
		}
		if !r.SDEXShare.Equal(decimal.RequireFromString("0.6")) {
			t.Errorf("%s sdex share: got %s, want 0.6", r.MarketKey, r.SDEXShare)
		}
	}
	if !rewards[2].AMMShare.Equal(decimal.RequireFromString("0.5")) {
		t.Errorf("fallback amm share: got %s, want 0.5", rewards[2].AMMShare)
	}

	if got := testutil.ToFloat64(metrics.RewardSplitFallback.WithLabelValues("not_loaded")); got != 1 {
		t.Errorf("fallback counter: got %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.RewardMarkets); got != 3 {
		t.Errorf("markets gauge: got %v, want 3", got)
	}
}
