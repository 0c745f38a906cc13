package vote

import (
	"strconv"
	"time"

	"github.com/AquaToken/aqua-voting-tracker/internal/horizon"
	"github.com/shopspring/decimal"
)

// Parser turns ledger records into validated votes. A vote is a claimable
// balance with exactly two claimants: the market account behind a predicate
// that can never be satisfied, and the voter who may reclaim the balance once
// the lock expires. Parser methods are pure.
type Parser struct {
	assets      map[string]struct{}
	distributor string
}

// NewParser creates a parser accepting the given voting assets. Balances
// sponsored by distributor may name any account as the voter.
func NewParser(votingAssets []string, distributor string) *Parser {
	assets := make(map[string]struct{}, len(votingAssets))
	for _, a := range votingAssets {
		assets[a] = struct{}{}
	}
	return &Parser{assets: assets, distributor: distributor}
}

// IsVotingAsset reports whether asset is one of the configured voting assets.
func (p *Parser) IsVotingAsset(asset string) bool {
	_, ok := p.assets[asset]
	return ok
}

func (p *Parser) isDistributor(account string) bool {
	return p.distributor != "" && account == p.distributor
}

// ParseClaimableBalance validates a /claimable_balances record.
func (p *Parser) ParseClaimableBalance(cb horizon.ClaimableBalance) (*Vote, error) {
	if !p.IsVotingAsset(cb.Asset) {
		return nil, parseErr(ReasonInvalidAsset, cb.ID)
	}
	if len(cb.Claimants) != 2 {
		return nil, parseErr(ReasonInvalidClaimants, cb.ID)
	}

	claimBack, market := cb.Claimants[0], cb.Claimants[1]
	if claimBack.Predicate.IsLocked() && !market.Predicate.IsLocked() {
		claimBack, market = market, claimBack
	}
	if !market.Predicate.IsLocked() {
		return nil, parseErr(ReasonMarketPredicateNotLocked, cb.ID)
	}
	if claimBack.Destination != cb.Sponsor && !p.isDistributor(cb.Sponsor) {
		return nil, parseErr(ReasonInvalidClaimantDestination, cb.ID)
	}

	lock, err := parseClaimAfter(&claimBack.Predicate, cb.ID)
	if err != nil {
		return nil, err
	}

	lockedAt, err := parseTime(cb.LastModifiedTime, cb.ID)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount(cb.Amount, cb.ID)
	if err != nil {
		return nil, err
	}

	return newVote(cb.ID, claimBack.Destination, market.Destination, amount, cb.Asset, lockedAt, lock.resolve(lockedAt))
}

// ParseEffectBundle validates the effects of one create-claimable-balance operation.
func (p *Parser) ParseEffectBundle(effects []horizon.Effect) (*Vote, error) {
	var created *horizon.Effect
	var claimants []horizon.Effect
	for i := range effects {
		switch effects[i].Type {
		case horizon.EffectClaimableBalanceCreated:
			if created == nil {
				created = &effects[i]
			}
		case horizon.EffectClaimableBalanceClaimantCreated:
			claimants = append(claimants, effects[i])
		}
	}
	if created == nil {
		return nil, parseErr(ReasonMissingEffect, "")
	}

	balanceID := created.BalanceID
	if !p.IsVotingAsset(created.Asset) {
		return nil, parseErr(ReasonInvalidAsset, balanceID)
	}
	amount, err := parseAmount(created.Amount, balanceID)
	if err != nil {
		return nil, err
	}
	lockedAt, err := parseTime(created.CreatedAt, balanceID)
	if err != nil {
		return nil, err
	}

	if len(claimants) != 2 {
		return nil, parseErr(ReasonInvalidClaimants, balanceID)
	}
	claimBack, market := claimants[0], claimants[1]
	if claimBack.Predicate.IsLocked() && !market.Predicate.IsLocked() {
		claimBack, market = market, claimBack
	}

	lock, err := parseClaimAfter(claimBack.Predicate, balanceID)
	if err != nil {
		return nil, err
	}
	lockBase := lockedAt
	if lock.relative {
		if lockBase, err = parseTime(claimBack.CreatedAt, balanceID); err != nil {
			return nil, err
		}
	}

	if !market.Predicate.IsLocked() {
		return nil, parseErr(ReasonInvalidPredicate, balanceID)
	}

	sponsor := created.Account
	if sponsor != claimBack.Account && !p.isDistributor(sponsor) {
		return nil, parseErr(ReasonInvalidSponsor, balanceID)
	}

	return newVote(balanceID, claimBack.Account, market.Account, amount, created.Asset, lockedAt, lock.resolve(lockBase))
}

func newVote(balanceID, voter, market string, amount decimal.Decimal, asset string, lockedAt, lockedUntil time.Time) (*Vote, error) {
	if !lockedUntil.After(lockedAt) {
		return nil, parseErr(ReasonInvalidLockPeriod, balanceID)
	}
	return &Vote{
		BalanceID:     balanceID,
		VotingAccount: voter,
		MarketKey:     market,
		Amount:        amount,
		Asset:         asset,
		LockedAt:      lockedAt.UTC(),
		LockedUntil:   lockedUntil.UTC(),
	}, nil
}

// claimAfter is the earliest moment the voter may reclaim the balance, either
// absolute or relative to the balance creation.
type claimAfter struct {
	absolute time.Time
	offset   time.Duration
	relative bool
}

func (c claimAfter) resolve(base time.Time) time.Time {
	if c.relative {
		return base.Add(c.offset)
	}
	return c.absolute
}

// parseClaimAfter reads {"not": {"abs_before": ...}} or {"not": {"rel_before": ...}}.
func parseClaimAfter(p *horizon.Predicate, balanceID string) (claimAfter, error) {
	if p == nil || p.Not == nil {
		return claimAfter{}, parseErr(ReasonInvalidPredicate, balanceID)
	}
	if p.Not.AbsBefore != "" {
		t, err := parseTime(p.Not.AbsBefore, balanceID)
		if err != nil {
			return claimAfter{}, err
		}
		return claimAfter{absolute: t}, nil
	}
	if p.Not.RelBefore != "" {
		secs, err := strconv.ParseInt(p.Not.RelBefore, 10, 64)
		if err != nil || secs <= 0 {
			return claimAfter{}, parseErr(ReasonInvalidPredicate, balanceID)
		}
		return claimAfter{offset: time.Duration(secs) * time.Second, relative: true}, nil
	}
	return claimAfter{}, parseErr(ReasonInvalidPredicate, balanceID)
}

func parseTime(s, balanceID string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, parseErr(ReasonInvalidDateFormat, balanceID)
	}
	return t, nil
}

func parseAmount(s, balanceID string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil || !d.IsPositive() {
		return decimal.Zero, parseErr(ReasonInvalidAmount, balanceID)
	}
	return d, nil
}
