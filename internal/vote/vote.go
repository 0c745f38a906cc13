// Package vote holds the Vote entity and the parser that validates ledger
// records against the voting protocol.
package vote

import (
	"time"

	"github.com/shopspring/decimal"
)

// Vote is one locked claimable balance supporting a market.
type Vote struct {
	ID            int64
	BalanceID     string
	VotingAccount string
	MarketKey     string
	Amount        decimal.Decimal
	Asset         string
	LockedAt      time.Time
	LockedUntil   time.Time
	ClaimedBackAt *time.Time
	CreatedAt     time.Time
}

// Term is the lock duration.
func (v Vote) Term() time.Duration {
	return v.LockedUntil.Sub(v.LockedAt)
}

// ActiveAt reports whether the vote was locked and not yet claimed back at t.
func (v Vote) ActiveAt(t time.Time) bool {
	if v.LockedAt.After(t) {
		return false
	}
	return v.ClaimedBackAt == nil || v.ClaimedBackAt.After(t)
}

// EligibleAt reports whether the vote counts toward a snapshot at t.
func (v Vote) EligibleAt(t time.Time, minTerm time.Duration) bool {
	return v.ActiveAt(t) && v.Term() >= minTerm
}
