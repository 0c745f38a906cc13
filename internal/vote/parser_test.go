package vote_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/AquaToken/aqua-voting-tracker/internal/horizon"
	"github.com/AquaToken/aqua-voting-tracker/internal/vote"
	"github.com/shopspring/decimal"
)

const (
	testIssuer      = "GBY6X4AJJEXS536TRURTET5AXETIQFICOM6LTTIIUF7G77F6FSVGZAIO"
	testVoter       = "GBB6R36ZT74EJO6OZ2NYDXTQ5VRU777QPNOSO76IWDQBV2CBUBTOLKOF"
	testMarket      = "GBCH3CNHAZA7EPPWNKJJXWUDEGSDWRP4UYRYK6HEHBK6A7OHCUWO6B74"
	testLockedAt    = "2021-12-06T18:15:25Z"
	testLockedUntil = "2022-06-06T18:15:25Z"
)

var (
	testAsset     = "TEST:" + testIssuer
	testAsset2    = "TEST2:" + testIssuer
	testBalanceID = "00000000" + strings.Repeat("x", 64)
)

func newParser() *vote.Parser {
	return vote.NewParser([]string{testAsset, testAsset2}, testIssuer)
}

func lockedPredicate() horizon.Predicate {
	return horizon.Predicate{Not: &horizon.Predicate{Unconditional: true}}
}

func absPredicate(ts string) horizon.Predicate {
	return horizon.Predicate{Not: &horizon.Predicate{AbsBefore: ts}}
}

func claimableBalance() horizon.ClaimableBalance {
	return horizon.ClaimableBalance{
		ID:               testBalanceID,
		Asset:            testAsset,
		Amount:           "5.0000000",
		Sponsor:          testVoter,
		LastModifiedTime: testLockedAt,
		Claimants: []horizon.Claimant{
			{Destination: testMarket, Predicate: lockedPredicate()},
			{Destination: testVoter, Predicate: absPredicate(testLockedUntil)},
		},
	}
}

func effectBundle() []horizon.Effect {
	locked := lockedPredicate()
	abs := absPredicate(testLockedUntil)
	return []horizon.Effect{
		{ID: "1-1", Type: horizon.EffectClaimableBalanceCreated, Account: testVoter, CreatedAt: testLockedAt,
			BalanceID: testBalanceID, Asset: testAsset, Amount: "5.0000000"},
		{ID: "1-2", Type: horizon.EffectClaimableBalanceClaimantCreated, Account: testMarket, CreatedAt: testLockedAt,
			BalanceID: testBalanceID, Asset: testAsset, Amount: "5.0000000", Predicate: &locked},
		{ID: "1-3", Type: horizon.EffectClaimableBalanceClaimantCreated, Account: testVoter, CreatedAt: testLockedAt,
			BalanceID: testBalanceID, Asset: testAsset, Amount: "5.0000000", Predicate: &abs},
		{ID: "1-4", Type: horizon.EffectAccountDebited, Account: testVoter, CreatedAt: testLockedAt,
			AssetType: "credit_alphanum4", AssetCode: "TEST", AssetIssuer: testIssuer, Amount: "5.0000000"},
		{ID: "1-5", Type: "claimable_balance_sponsorship_created", Account: testVoter, CreatedAt: testLockedAt,
			BalanceID: testBalanceID},
	}
}

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("parse time %s: %v", s, err)
	}
	return ts
}

func assertVote(t *testing.T, v *vote.Vote, asset string) {
	t.Helper()
	if v.BalanceID != testBalanceID {
		t.Errorf("balance id: got %s", v.BalanceID)
	}
	if v.MarketKey != testMarket {
		t.Errorf("market key: got %s, want %s", v.MarketKey, testMarket)
	}
	if v.VotingAccount != testVoter {
		t.Errorf("voting account: got %s, want %s", v.VotingAccount, testVoter)
	}
	if !v.Amount.Equal(decimal.NewFromInt(5)) {
		t.Errorf("amount: got %s, want 5", v.Amount)
	}
	if v.Asset != asset {
		t.Errorf("asset: got %s, want %s", v.Asset, asset)
	}
	if !v.LockedAt.Equal(mustTime(t, testLockedAt)) {
		t.Errorf("locked at: got %v", v.LockedAt)
	}
	if !v.LockedUntil.Equal(mustTime(t, testLockedUntil)) {
		t.Errorf("locked until: got %v", v.LockedUntil)
	}
}

func assertReason(t *testing.T, err error, want vote.Reason) {
	t.Helper()
	var perr *vote.ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("error: got %v, want *vote.ParseError(%s)", err, want)
	}
	if perr.Reason != want {
		t.Errorf("reason: got %q, want %q", perr.Reason, want)
	}
}

func TestParseClaimableBalance(t *testing.T) {
	v, err := newParser().ParseClaimableBalance(claimableBalance())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	assertVote(t, v, testAsset)
}

func TestParseClaimableBalanceClaimantOrderIrrelevant(t *testing.T) {
	cb := claimableBalance()
	cb.Claimants[0], cb.Claimants[1] = cb.Claimants[1], cb.Claimants[0]

	v, err := newParser().ParseClaimableBalance(cb)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	assertVote(t, v, testAsset)
}

func TestParseClaimableBalanceRelativePredicate(t *testing.T) {
	cb := claimableBalance()
	cb.Claimants[1].Predicate = horizon.Predicate{Not: &horizon.Predicate{RelBefore: "3600"}}

	v, err := newParser().ParseClaimableBalance(cb)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := mustTime(t, testLockedAt).Add(time.Hour)
	if !v.LockedUntil.Equal(want) {
		t.Errorf("locked until: got %v, want %v", v.LockedUntil, want)
	}
}

func TestParseClaimableBalanceDistributorSponsor(t *testing.T) {
	cb := claimableBalance()
	cb.Sponsor = testIssuer
	cb.Asset = testAsset2

	v, err := newParser().ParseClaimableBalance(cb)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	assertVote(t, v, testAsset2)
}

func TestParseClaimableBalanceErrors(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(cb *horizon.ClaimableBalance)
		want   vote.Reason
	}{
		{"invalid asset", func(cb *horizon.ClaimableBalance) { cb.Asset = "OTHER:" + testIssuer }, vote.ReasonInvalidAsset},
		{"one claimant", func(cb *horizon.ClaimableBalance) { cb.Claimants = cb.Claimants[:1] }, vote.ReasonInvalidClaimants},
		{"market not locked", func(cb *horizon.ClaimableBalance) {
			cb.Claimants[0].Predicate = absPredicate(testLockedUntil)
		}, vote.ReasonMarketPredicateNotLocked},
		{"foreign destination", func(cb *horizon.ClaimableBalance) { cb.Sponsor = testMarket }, vote.ReasonInvalidClaimantDestination},
		{"both locked", func(cb *horizon.ClaimableBalance) {
			cb.Sponsor = testIssuer
			cb.Claimants[1].Predicate = lockedPredicate()
		}, vote.ReasonInvalidPredicate},
		{"bad abs date", func(cb *horizon.ClaimableBalance) {
			cb.Claimants[1].Predicate = absPredicate("not-a-date")
		}, vote.ReasonInvalidDateFormat},
		{"bad created date", func(cb *horizon.ClaimableBalance) { cb.LastModifiedTime = "yesterday" }, vote.ReasonInvalidDateFormat},
		{"bad amount", func(cb *horizon.ClaimableBalance) { cb.Amount = "five" }, vote.ReasonInvalidAmount},
		{"expiry before lock", func(cb *horizon.ClaimableBalance) {
			cb.Claimants[1].Predicate = absPredicate("2020-01-01T00:00:00Z")
		}, vote.ReasonInvalidLockPeriod},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cb := claimableBalance()
			tc.mutate(&cb)
			_, err := newParser().ParseClaimableBalance(cb)
			assertReason(t, err, tc.want)
		})
	}
}

func TestParseEffectBundle(t *testing.T) {
	v, err := newParser().ParseEffectBundle(effectBundle())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	assertVote(t, v, testAsset)
}

func TestParseEffectBundleDistributorSponsor(t *testing.T) {
	effects := effectBundle()
	effects[0].Account = testIssuer
	effects[0].Asset = testAsset2

	v, err := newParser().ParseEffectBundle(effects)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	assertVote(t, v, testAsset2)
}

func TestParseEffectBundleErrors(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(effects []horizon.Effect) []horizon.Effect
		want   vote.Reason
	}{
		{"no created effect", func(e []horizon.Effect) []horizon.Effect { return e[1:] }, vote.ReasonMissingEffect},
		{"invalid asset", func(e []horizon.Effect) []horizon.Effect {
			e[0].Asset = "OTHER:" + testIssuer
			return e
		}, vote.ReasonInvalidAsset},
		{"one claimant", func(e []horizon.Effect) []horizon.Effect {
			return append(e[:1:1], e[2:]...)
		}, vote.ReasonInvalidClaimants},
		{"market not locked", func(e []horizon.Effect) []horizon.Effect {
			p := absPredicate(testLockedUntil)
			e[1].Predicate = &p
			return e
		}, vote.ReasonInvalidPredicate},
		{"claim back without predicate", func(e []horizon.Effect) []horizon.Effect {
			e[2].Predicate = nil
			return e
		}, vote.ReasonInvalidPredicate},
		{"foreign sponsor", func(e []horizon.Effect) []horizon.Effect {
			e[0].Account = testMarket
			return e
		}, vote.ReasonInvalidSponsor},
		{"bad date", func(e []horizon.Effect) []horizon.Effect {
			e[0].CreatedAt = "2021-13-45"
			return e
		}, vote.ReasonInvalidDateFormat},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := newParser().ParseEffectBundle(tc.mutate(effectBundle()))
			assertReason(t, err, tc.want)
		})
	}
}

func TestBothEntryPointsAgree(t *testing.T) {
	p := newParser()
	fromBalance, err := p.ParseClaimableBalance(claimableBalance())
	if err != nil {
		t.Fatalf("parse balance: %v", err)
	}
	fromEffects, err := p.ParseEffectBundle(effectBundle())
	if err != nil {
		t.Fatalf("parse effects: %v", err)
	}

	if fromBalance.BalanceID != fromEffects.BalanceID ||
		fromBalance.VotingAccount != fromEffects.VotingAccount ||
		fromBalance.MarketKey != fromEffects.MarketKey ||
		!fromBalance.Amount.Equal(fromEffects.Amount) ||
		fromBalance.Asset != fromEffects.Asset ||
		!fromBalance.LockedAt.Equal(fromEffects.LockedAt) ||
		!fromBalance.LockedUntil.Equal(fromEffects.LockedUntil) {
		t.Errorf("votes differ:\n balance: %+v\n effects: %+v", fromBalance, fromEffects)
	}
}

func TestVoteActiveAndEligible(t *testing.T) {
	lockedAt := mustTime(t, testLockedAt)
	claimed := lockedAt.Add(48 * time.Hour)
	v := vote.Vote{LockedAt: lockedAt, LockedUntil: lockedAt.Add(72 * time.Hour), ClaimedBackAt: &claimed}

	if v.ActiveAt(lockedAt.Add(-time.Second)) {
		t.Error("active before lock")
	}
	if !v.ActiveAt(lockedAt) {
		t.Error("inactive at lock time")
	}
	if v.ActiveAt(claimed) {
		t.Error("active at claim-back time")
	}
	if !v.EligibleAt(lockedAt.Add(time.Hour), 72*time.Hour) {
		t.Error("not eligible with exact min term")
	}
	if v.EligibleAt(lockedAt.Add(time.Hour), 73*time.Hour) {
		t.Error("eligible below min term")
	}
}
