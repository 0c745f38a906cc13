// Package marketkeys resolves voting accounts to markets through the
// market-key directory.
package marketkeys

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Market is one directory entry. AccountID is the market key and equals the
// upvote account.
type Market struct {
	AccountID         string         `json:"account_id"`
	UpvoteAccountID   string         `json:"upvote_account_id"`
	DownvoteAccountID string         `json:"downvote_account_id"`
	Asset1            string         `json:"asset1"`
	Asset2            string         `json:"asset2"`
	VotingBoost       LenientDecimal `json:"voting_boost"`
	VotingBoostCap    LenientDecimal `json:"voting_boost_cap"`
}

// Provider looks markets up in the directory.
type Provider interface {
	// Iterate calls fn for every market in the directory until fn returns an error.
	Iterate(ctx context.Context, fn func(Market) error) error
	// GetMultiple returns the markets whose upvote or downvote account is in
	// accountIDs, each market once. Unknown accounts are ignored.
	GetMultiple(ctx context.Context, accountIDs []string) ([]Market, error)
}

// LenientDecimal decodes a JSON number or numeric string. Anything else,
// including null, decodes as zero.
type LenientDecimal struct {
	decimal.Decimal
}

func (d *LenientDecimal) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			d.Decimal = decimal.Zero
			return nil
		}
		data = []byte(s)
	}
	v, err := decimal.NewFromString(string(data))
	if err != nil {
		v = decimal.Zero
	}
	d.Decimal = v
	return nil
}

func (d LenientDecimal) MarshalJSON() ([]byte, error) {
	return d.Decimal.MarshalJSON()
}

// dedupe keeps the first market per AccountID.
func dedupe(markets []Market) []Market {
	seen := make(map[string]struct{}, len(markets))
	out := markets[:0]
	for _, m := range markets {
		if _, ok := seen[m.AccountID]; ok {
			continue
		}
		seen[m.AccountID] = struct{}{}
		out = append(out, m)
	}
	return out
}
