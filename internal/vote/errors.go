package vote

import "fmt"

// Reason classifies why a ledger record is not a valid vote.
type Reason string

const (
	ReasonInvalidAsset               Reason = "invalid asset"
	ReasonInvalidClaimants           Reason = "invalid claimants"
	ReasonMarketPredicateNotLocked   Reason = "market predicate not locked"
	ReasonInvalidClaimantDestination Reason = "invalid claimant destination"
	ReasonInvalidPredicate           Reason = "invalid predicate"
	ReasonInvalidDateFormat          Reason = "invalid date format"
	ReasonInvalidSponsor             Reason = "invalid sponsor"
	ReasonInvalidAmount              Reason = "invalid amount"
	ReasonInvalidLockPeriod          Reason = "invalid lock period"
	ReasonMissingEffect              Reason = "missing effect"
)

// ParseError is returned for ledger records that do not describe a valid vote.
// These records are dropped, never retried.
type ParseError struct {
	Reason    Reason
	BalanceID string
}

func (e *ParseError) Error() string {
	if e.BalanceID == "" {
		return fmt.Sprintf("parse vote: %s", e.Reason)
	}
	return fmt.Sprintf("parse vote %s: %s", e.BalanceID, e.Reason)
}

func parseErr(reason Reason, balanceID string) error {
	return &ParseError{Reason: reason, BalanceID: balanceID}
}
