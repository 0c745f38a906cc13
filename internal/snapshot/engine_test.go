package snapshot_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/AquaToken/aqua-voting-tracker/internal/allocation"
	"github.com/AquaToken/aqua-voting-tracker/internal/marketkeys"
	"github.com/AquaToken/aqua-voting-tracker/internal/observability"
	"github.com/AquaToken/aqua-voting-tracker/internal/persistence"
	"github.com/AquaToken/aqua-voting-tracker/internal/snapshot"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const testAsset = "VOTE:GAT3XHMN2WXG62BDC3JGNANIA2Y53BCUAHO6B5UFZM2EITZRRYKEBGQ6"

type fakeAggregator struct {
	aggs    []persistence.AssetAggregate
	gotAt   time.Time
	gotTerm time.Duration
}

func (f *fakeAggregator) ActiveEligibleAggregates(_ context.Context, at time.Time, minTerm time.Duration) ([]persistence.AssetAggregate, error) {
	f.gotAt, f.gotTerm = at, minTerm
	return f.aggs, nil
}

type fakeWriter struct {
	rows  []persistence.SnapshotRow
	calls int
}

func (f *fakeWriter) InsertSnapshot(_ context.Context, rows []persistence.SnapshotRow) (int64, error) {
	f.calls++
	f.rows = append(f.rows, rows...)
	return int64(len(rows)), nil
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func lenient(s string) marketkeys.LenientDecimal {
	return marketkeys.LenientDecimal{Decimal: dec(s)}
}

func TestTimestampIsPreviousBoundary(t *testing.T) {
	now := time.Date(2024, 12, 6, 13, 7, 42, 0, time.UTC)
	want := time.Date(2024, 12, 6, 13, 0, 0, 0, time.UTC)
	if got := snapshot.Timestamp(now); !got.Equal(want) {
		t.Errorf("Timestamp: got %v, want %v", got, want)
	}
}

func TestRankOrdersByAdjustedThenVotes(t *testing.T) {
	records := []snapshot.Record{
		{MarketKey: "m1", AdjustedVotesValue: dec("50"), VotesValue: dec("40")},
		{MarketKey: "m2", AdjustedVotesValue: dec("50"), VotesValue: dec("50")},
		{MarketKey: "m3", AdjustedVotesValue: dec("20"), VotesValue: dec("15")},
		{MarketKey: "m4", AdjustedVotesValue: dec("150"), VotesValue: dec("130")},
	}

	snapshot.Rank(records)

	wantOrder := []string{"m4", "m2", "m1", "m3"}
	for i, r := range records {
		if r.MarketKey != wantOrder[i] {
			t.Errorf("position %d: got %s, want %s", i, r.MarketKey, wantOrder[i])
		}
		if r.Rank != i+1 {
			t.Errorf("rank of %s: got %d, want %d", r.MarketKey, r.Rank, i+1)
		}
	}
}

func TestRankBreaksFullTiesByMarketKey(t *testing.T) {
	records := []snapshot.Record{
		{MarketKey: "b", AdjustedVotesValue: dec("1"), VotesValue: dec("1")},
		{MarketKey: "a", AdjustedVotesValue: dec("1"), VotesValue: dec("1")},
	}
	snapshot.Rank(records)
	if records[0].MarketKey != "a" || records[1].MarketKey != "b" {
		t.Errorf("order: got %s, %s", records[0].MarketKey, records[1].MarketKey)
	}
}

func TestJoinCombinesUpvoteAndDownvote(t *testing.T) {
	markets := []marketkeys.Market{
		{AccountID: "U1", UpvoteAccountID: "U1", DownvoteAccountID: "D1"},
		{AccountID: "U2", UpvoteAccountID: "U2", DownvoteAccountID: "D2"},
		{AccountID: "U3", UpvoteAccountID: "U3", DownvoteAccountID: "D3"},
	}
	byAccount := map[string][]persistence.AssetAggregate{
		"U1": {
			{Account: "U1", Asset: "VOTE1:I", VotesSum: dec("5"), VotesCount: 2},
			{Account: "U1", Asset: "VOTE2:I", VotesSum: dec("3"), VotesCount: 1},
		},
		"D1": {{Account: "D1", Asset: "VOTE3:I", VotesSum: dec("7"), VotesCount: 1}},
		"D2": {{Account: "D2", Asset: testAsset, VotesSum: dec("3"), VotesCount: 1}},
	}

	records := snapshot.Join(markets, byAccount)
	if len(records) != 2 {
		t.Fatalf("records: got %d, want 2", len(records))
	}

	r := records[0]
	if !r.VotesValue.Equal(dec("1")) || !r.UpvoteValue.Equal(dec("8")) || !r.DownvoteValue.Equal(dec("7")) {
		t.Errorf("values: got votes=%s up=%s down=%s", r.VotesValue, r.UpvoteValue, r.DownvoteValue)
	}
	// Per-asset voter counts add up across assets and both sides.
	if r.VotingAmount != 4 {
		t.Errorf("voting amount: got %d, want 4", r.VotingAmount)
	}
	if len(r.UpvoteAssets) != 2 || r.UpvoteAssets[1].Asset != "VOTE2:I" || len(r.DownvoteAssets) != 1 {
		t.Errorf("asset breakdown: got up=%+v down=%+v", r.UpvoteAssets, r.DownvoteAssets)
	}

	if !records[1].VotesValue.Equal(dec("-3")) || records[1].VotingAmount != 1 {
		t.Errorf("downvote only: got votes=%s amount=%d", records[1].VotesValue, records[1].VotingAmount)
	}
}

func TestEngineRunPersistsRankedSnapshot(t *testing.T) {
	agg := &fakeAggregator{aggs: []persistence.AssetAggregate{
		{Account: "U1", Asset: testAsset, VotesSum: dec("50"), VotesCount: 3},
		{Account: "U2", Asset: testAsset, VotesSum: dec("40"), VotesCount: 2},
		{Account: "U3", Asset: testAsset, VotesSum: dec("10"), VotesCount: 1},
		{Account: "UNKNOWN", Asset: testAsset, VotesSum: dec("1000"), VotesCount: 1},
	}}
	markets := marketkeys.NewStatic([]marketkeys.Market{
		{AccountID: "U1", UpvoteAccountID: "U1", DownvoteAccountID: "D1", VotingBoost: lenient("0.3")},
		{AccountID: "U2", UpvoteAccountID: "U2", DownvoteAccountID: "D2", VotingBoost: lenient("0.1")},
		{AccountID: "U3", UpvoteAccountID: "U3", DownvoteAccountID: "D3"},
	})
	writer := &fakeWriter{}
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	engine := snapshot.NewEngine(agg, markets, writer, 24*time.Hour, zerolog.Nop(), metrics)

	at := time.Date(2024, 12, 6, 13, 0, 0, 0, time.UTC)
	res, err := engine.Run(context.Background(), at)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !agg.gotAt.Equal(at) || agg.gotTerm != 24*time.Hour {
		t.Errorf("aggregate args: got (%v, %v)", agg.gotAt, agg.gotTerm)
	}
	if writer.calls != 1 || len(writer.rows) != 3 || res.Inserted != 3 {
		t.Fatalf("writes: calls=%d rows=%d inserted=%d", writer.calls, len(writer.rows), res.Inserted)
	}

	want := map[string]struct {
		rank     int
		adjusted string
	}{
		"U1": {1, "65"},
		"U2": {2, "44"},
		"U3": {3, "10"},
	}
	for _, row := range writer.rows {
		w := want[row.MarketKey]
		if row.Rank != w.rank || !row.AdjustedVotesValue.Equal(dec(w.adjusted)) {
			t.Errorf("%s: got rank=%d adjusted=%s, want rank=%d adjusted=%s",
				row.MarketKey, row.Rank, row.AdjustedVotesValue, w.rank, w.adjusted)
		}
		if row.RunID != res.RunID || !row.Timestamp.Equal(at) {
			t.Errorf("%s: run id or timestamp not propagated", row.MarketKey)
		}
	}
}

func TestEngineRunTickUsesPreviousBoundary(t *testing.T) {
	agg := &fakeAggregator{aggs: []persistence.AssetAggregate{
		{Account: "U1", Asset: testAsset, VotesSum: dec("50"), VotesCount: 1},
	}}
	markets := marketkeys.NewStatic([]marketkeys.Market{{AccountID: "U1", UpvoteAccountID: "U1", DownvoteAccountID: "D1"}})
	writer := &fakeWriter{}
	engine := snapshot.NewEngine(agg, markets, writer, time.Hour, zerolog.Nop(), nil)

	tick := time.Date(2024, 12, 6, 13, 5, 0, 3_000_000, time.UTC)
	want := time.Date(2024, 12, 6, 13, 0, 0, 0, time.UTC)

	res, err := engine.RunTick(context.Background(), tick)
	if err != nil {
		t.Fatalf("RunTick: %v", err)
	}
	if !res.Timestamp.Equal(want) {
		t.Errorf("result timestamp: got %v, want %v", res.Timestamp, want)
	}
	if !agg.gotAt.Equal(want) {
		t.Errorf("aggregated at: got %v, want %v", agg.gotAt, want)
	}
	if len(writer.rows) != 1 || !writer.rows[0].Timestamp.Equal(want) {
		t.Fatalf("rows: got %+v", writer.rows)
	}
	if writer.rows[0].Timestamp.Nanosecond() != 0 {
		t.Errorf("row timestamp carries sub-second part: %v", writer.rows[0].Timestamp)
	}
}

func TestEngineRunAbortsOnInconsistentCap(t *testing.T) {
	agg := &fakeAggregator{aggs: []persistence.AssetAggregate{
		{Account: "U1", Asset: testAsset, VotesSum: dec("50"), VotesCount: 1},
		{Account: "U2", Asset: testAsset, VotesSum: dec("40"), VotesCount: 1},
	}}
	markets := marketkeys.NewStatic([]marketkeys.Market{
		{AccountID: "U1", UpvoteAccountID: "U1", VotingBoost: lenient("0.5"), VotingBoostCap: lenient("0.05")},
		{AccountID: "U2", UpvoteAccountID: "U2", VotingBoost: lenient("0.5"), VotingBoostCap: lenient("0.1")},
	})
	writer := &fakeWriter{}
	engine := snapshot.NewEngine(agg, markets, writer, time.Hour, zerolog.Nop(), nil)

	_, err := engine.Run(context.Background(), time.Now())
	if !errors.Is(err, allocation.ErrInconsistentBoostCap) {
		t.Fatalf("error: got %v, want ErrInconsistentBoostCap", err)
	}
	if writer.calls != 0 {
		t.Errorf("writer called %d times, want 0", writer.calls)
	}
}
