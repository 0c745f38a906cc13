// Package snapshot builds the periodic ranked voting snapshot.
package snapshot

import (
	"sort"
	"time"

	"github.com/AquaToken/aqua-voting-tracker/internal/allocation"
	"github.com/AquaToken/aqua-voting-tracker/internal/persistence"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Interval is the snapshot cadence.
const Interval = 5 * time.Minute

// Record is one market's aggregate during a snapshot run.
type Record struct {
	MarketKey         string
	UpvoteAccountID   string
	DownvoteAccountID string

	VotingBoost    decimal.Decimal
	VotingBoostCap decimal.Decimal

	UpvoteValue   decimal.Decimal
	DownvoteValue decimal.Decimal
	VotesValue    decimal.Decimal
	VotingAmount  int

	UpvoteAssets   []persistence.AssetStats
	DownvoteAssets []persistence.AssetStats

	AdjustedVotesValue decimal.Decimal
	Rank               int
}

// BoostedValue is VotesValue * (1 + VotingBoost).
func (r Record) BoostedValue() decimal.Decimal {
	return r.VotesValue.Mul(decimal.NewFromInt(1).Add(r.VotingBoost))
}

// Timestamp returns the snapshot time for a run started at now: the previous
// complete five minute boundary.
func Timestamp(now time.Time) time.Time {
	return now.UTC().Truncate(Interval).Add(-Interval)
}

// ApplyBoost sets AdjustedVotesValue on every record.
func ApplyBoost(records []Record) error {
	entries := make([]allocation.Entry, len(records))
	for i, r := range records {
		entries[i] = allocation.Entry{Votes: r.VotesValue, Boost: r.VotingBoost, BoostCap: r.VotingBoostCap}
	}
	adjusted, err := allocation.ApplyBoost(entries)
	if err != nil {
		return err
	}
	for i := range records {
		records[i].AdjustedVotesValue = adjusted[i]
	}
	return nil
}

// Rank orders records by adjusted value, then raw value, both descending, and
// assigns ranks from 1. Equal values fall back to the market key.
func Rank(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if c := a.AdjustedVotesValue.Cmp(b.AdjustedVotesValue); c != 0 {
			return c > 0
		}
		if c := a.VotesValue.Cmp(b.VotesValue); c != 0 {
			return c > 0
		}
		return a.MarketKey < b.MarketKey
	})
	for i := range records {
		records[i].Rank = i + 1
	}
}

// row converts a ranked record for storage.
func (r Record) row(at time.Time, runID uuid.UUID) persistence.SnapshotRow {
	return persistence.SnapshotRow{
		RunID:              runID,
		MarketKey:          r.MarketKey,
		Rank:               r.Rank,
		VotesValue:         r.VotesValue,
		VotingAmount:       r.VotingAmount,
		UpvoteValue:        r.UpvoteValue,
		DownvoteValue:      r.DownvoteValue,
		AdjustedVotesValue: r.AdjustedVotesValue,
		Extra: persistence.SnapshotExtra{
			UpvoteAssets:   r.UpvoteAssets,
			DownvoteAssets: r.DownvoteAssets,
		},
		Timestamp: at,
	}
}
