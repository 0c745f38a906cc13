// Package horizon is a thin REST client for the Horizon ledger API. It covers the
// collections the voting tracker reads: effects, operations, claimable balances,
// offers and liquidity pools.
package horizon

import (
	"strings"
)

// Effect types the tracker reacts to.
const (
	EffectClaimableBalanceCreated         = "claimable_balance_created"
	EffectClaimableBalanceClaimantCreated = "claimable_balance_claimant_created"
	EffectClaimableBalanceClaimed         = "claimable_balance_claimed"
	EffectClaimableBalanceClawedBack      = "claimable_balance_clawed_back"
	EffectAccountCredited                 = "account_credited"
	EffectAccountDebited                  = "account_debited"
)

// Operation types that close a claimable balance.
const (
	OperationClaimClaimableBalance    = "claim_claimable_balance"
	OperationClawbackClaimableBalance = "clawback_claimable_balance"
)

// NativeAsset is the canonical string for lumens.
const NativeAsset = "native"

// Predicate is a claimant predicate as rendered by Horizon.
type Predicate struct {
	Unconditional bool        `json:"unconditional,omitempty"`
	And           []Predicate `json:"and,omitempty"`
	Or            []Predicate `json:"or,omitempty"`
	Not           *Predicate  `json:"not,omitempty"`
	AbsBefore     string      `json:"abs_before,omitempty"`
	RelBefore     string      `json:"rel_before,omitempty"`
}

// IsLocked reports whether p is exactly {"not": {"unconditional": true}}, a
// predicate that can never be satisfied.
func (p *Predicate) IsLocked() bool {
	if p == nil || p.Not == nil || !p.isBareNot() {
		return false
	}
	n := p.Not
	return n.Unconditional && n.Not == nil && len(n.And) == 0 && len(n.Or) == 0 &&
		n.AbsBefore == "" && n.RelBefore == ""
}

// isBareNot reports whether the predicate carries nothing but a "not" branch.
func (p *Predicate) isBareNot() bool {
	return !p.Unconditional && len(p.And) == 0 && len(p.Or) == 0 && p.AbsBefore == "" && p.RelBefore == ""
}

// Claimant is a claimable balance claimant.
type Claimant struct {
	Destination string    `json:"destination"`
	Predicate   Predicate `json:"predicate"`
}

// ClaimableBalance is a /claimable_balances record.
type ClaimableBalance struct {
	ID               string     `json:"id"`
	Asset            string     `json:"asset"`
	Amount           string     `json:"amount"`
	Sponsor          string     `json:"sponsor"`
	LastModifiedTime string     `json:"last_modified_time"`
	Claimants        []Claimant `json:"claimants"`
	PagingToken      string     `json:"paging_token"`
}

// Effect is an /effects record. Only fields used by vote tracking are decoded.
type Effect struct {
	ID          string     `json:"id"`
	PagingToken string     `json:"paging_token"`
	Type        string     `json:"type"`
	Account     string     `json:"account"`
	CreatedAt   string     `json:"created_at"`
	BalanceID   string     `json:"balance_id,omitempty"`
	Asset       string     `json:"asset,omitempty"`
	Amount      string     `json:"amount,omitempty"`
	AssetType   string     `json:"asset_type,omitempty"`
	AssetCode   string     `json:"asset_code,omitempty"`
	AssetIssuer string     `json:"asset_issuer,omitempty"`
	Predicate   *Predicate `json:"predicate,omitempty"`
}

// OperationID returns the id of the operation that produced the effect.
// Effect ids are "<operation id>-<index>".
func (e Effect) OperationID() string {
	id, _, _ := strings.Cut(e.ID, "-")
	return id
}

// AssetString renders asset_type/asset_code/asset_issuer as "native" or "CODE:ISSUER".
func (e Effect) AssetString() string {
	return AssetString(e.AssetType, e.AssetCode, e.AssetIssuer)
}

// Operation is an /operations record.
type Operation struct {
	ID          string `json:"id"`
	PagingToken string `json:"paging_token"`
	Type        string `json:"type"`
	BalanceID   string `json:"balance_id,omitempty"`
	CreatedAt   string `json:"created_at"`
}

// ClosesClaimableBalance reports whether the operation claimed or clawed back a balance.
func (o Operation) ClosesClaimableBalance() bool {
	return o.Type == OperationClaimClaimableBalance || o.Type == OperationClawbackClaimableBalance
}

// Price is a rational price as returned in price_r.
type Price struct {
	N int64 `json:"n"`
	D int64 `json:"d"`
}

// Float returns n/d.
func (p Price) Float() float64 {
	if p.D == 0 {
		return 0
	}
	return float64(p.N) / float64(p.D)
}

// Offer is an /offers record.
type Offer struct {
	ID          string `json:"id"`
	PagingToken string `json:"paging_token"`
	Amount      string `json:"amount"`
	PriceR      Price  `json:"price_r"`
}

// Reserve is one side of a liquidity pool.
type Reserve struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

// LiquidityPool is a /liquidity_pools record.
type LiquidityPool struct {
	ID       string    `json:"id"`
	FeeBP    int       `json:"fee_bp"`
	Reserves []Reserve `json:"reserves"`
}

// AssetString renders an asset in the canonical "native" / "CODE:ISSUER" form.
func AssetString(assetType, code, issuer string) string {
	if assetType == NativeAsset {
		return NativeAsset
	}
	return code + ":" + issuer
}

// page is the HAL envelope shared by all collection endpoints.
type page[T any] struct {
	Embedded struct {
		Records []T `json:"records"`
	} `json:"_embedded"`
}
