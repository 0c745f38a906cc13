package ingestion_test

import (
	"context"
	"testing"

	"github.com/AquaToken/aqua-voting-tracker/internal/horizon"
	"github.com/AquaToken/aqua-voting-tracker/internal/ingestion"
	"github.com/AquaToken/aqua-voting-tracker/internal/kvstore"
	"github.com/rs/zerolog"
)

type pagedBalances struct {
	records []horizon.ClaimableBalance
	cursors []string
}

func (p *pagedBalances) ClaimableBalances(_ context.Context, _ string, cursor string, limit int) ([]horizon.ClaimableBalance, error) {
	p.cursors = append(p.cursors, cursor)
	start := 0
	for i, r := range p.records {
		if r.PagingToken == cursor {
			start = i + 1
		}
	}
	end := min(start+limit, len(p.records))
	return p.records[start:end], nil
}

func balance(n int, asset string) horizon.ClaimableBalance {
	id := balanceID(n)
	return horizon.ClaimableBalance{
		ID:               id,
		Asset:            asset,
		Amount:           "3.0000000",
		Sponsor:          voter,
		LastModifiedTime: lockedAt,
		PagingToken:      id,
		Claimants: []horizon.Claimant{
			{Destination: market, Predicate: horizon.Predicate{Not: &horizon.Predicate{Unconditional: true}}},
			{Destination: voter, Predicate: horizon.Predicate{Not: &horizon.Predicate{AbsBefore: lockedUntil}}},
		},
	}
}

func TestBalanceLoaderPagesAndSavesCursor(t *testing.T) {
	ctx := context.Background()
	src := &pagedBalances{records: []horizon.ClaimableBalance{
		balance(1, votingAsset),
		balance(2, "OTHER:"+issuer),
		balance(3, votingAsset),
	}}
	votes := newMemoryVotes()
	store := kvstore.NewMemory()
	l := ingestion.NewBalanceLoader(src, votes, store, newParser(), []string{votingAsset}, 2, zerolog.Nop(), nil)

	n, err := l.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n != 2 {
		t.Errorf("inserted: got %d, want 2", n)
	}
	got, _, _ := store.Get(ctx, ingestion.BalancesCursorKey(votingAsset))
	if got != balanceID(3) {
		t.Errorf("cursor: got %s, want %s", got, balanceID(3))
	}

	// A second run resumes from the saved cursor and inserts nothing.
	n, err = l.Run(ctx)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if n != 0 {
		t.Errorf("second run inserted: got %d, want 0", n)
	}
	if last := src.cursors[len(src.cursors)-1]; last != balanceID(3) {
		t.Errorf("resume cursor: got %s, want %s", last, balanceID(3))
	}
}
