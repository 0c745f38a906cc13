package horizon

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// DefaultPageLimit is the largest page Horizon serves.
const DefaultPageLimit = 200

// Error is a non-2xx response from Horizon.
type Error struct {
	StatusCode int
	Path       string
	Body       string
}

func (e *Error) Error() string {
	return fmt.Sprintf("horizon %s: status %d: %s", e.Path, e.StatusCode, e.Body)
}

// Client reads ledger collections from a Horizon server.
type Client struct {
	http    *resty.Client
	baseURL string
}

// Option customizes a Client.
type Option func(*Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.SetTimeout(d) }
}

// WithRetries sets how many times transport errors and 5xx responses are retried.
func WithRetries(n int) Option {
	return func(c *Client) { c.http.SetRetryCount(n) }
}

// NewClient creates a client for the Horizon server at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	httpClient := resty.New()
	httpClient.SetTimeout(30 * time.Second)
	httpClient.SetRetryCount(2)
	httpClient.SetRetryWaitTime(500 * time.Millisecond)
	httpClient.AddRetryCondition(func(r *resty.Response, err error) bool {
		return err != nil || r.StatusCode() >= 500 || r.StatusCode() == 429
	})
	httpClient.SetHeader("Accept", "application/json")

	c := &Client{
		http:    httpClient,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Effects returns effects in ascending order after cursor.
func (c *Client) Effects(ctx context.Context, cursor string, limit int) ([]Effect, error) {
	params := pageParams(cursor, limit, "asc")
	return fetchPage[Effect](ctx, c, "/effects", params)
}

// ClaimableBalances returns claimable balances holding asset, ascending after cursor.
func (c *Client) ClaimableBalances(ctx context.Context, asset, cursor string, limit int) ([]ClaimableBalance, error) {
	params := pageParams(cursor, limit, "asc")
	params.Set("asset", asset)
	return fetchPage[ClaimableBalance](ctx, c, "/claimable_balances", params)
}

// LatestOperationForClaimableBalance returns the most recent operation touching the
// balance, or nil when Horizon has none.
func (c *Client) LatestOperationForClaimableBalance(ctx context.Context, balanceID string) (*Operation, error) {
	params := pageParams("", 1, "desc")
	ops, err := fetchPage[Operation](ctx, c, "/claimable_balances/"+url.PathEscape(balanceID)+"/operations", params)
	if err != nil {
		return nil, err
	}
	if len(ops) == 0 {
		return nil, nil
	}
	return &ops[0], nil
}

// Offers returns offers selling one asset for another, in descending paging order.
func (c *Client) Offers(ctx context.Context, selling, buying, cursor string, limit int) ([]Offer, error) {
	params := pageParams(cursor, limit, "desc")
	params.Set("selling", selling)
	params.Set("buying", buying)
	return fetchPage[Offer](ctx, c, "/offers", params)
}

// LiquidityPoolForReserves returns the first pool holding both assets, or nil.
func (c *Client) LiquidityPoolForReserves(ctx context.Context, asset1, asset2 string) (*LiquidityPool, error) {
	params := url.Values{}
	params.Set("reserves", asset1+","+asset2)
	pools, err := fetchPage[LiquidityPool](ctx, c, "/liquidity_pools", params)
	if err != nil {
		return nil, err
	}
	if len(pools) == 0 {
		return nil, nil
	}
	return &pools[0], nil
}

func pageParams(cursor string, limit int, order string) url.Values {
	if limit <= 0 || limit > DefaultPageLimit {
		limit = DefaultPageLimit
	}
	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	params.Set("order", order)
	if cursor != "" {
		params.Set("cursor", cursor)
	}
	return params
}

func fetchPage[T any](ctx context.Context, c *Client, path string, params url.Values) ([]T, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParamsFromValues(params).
		Get(c.baseURL + path)
	if err != nil {
		return nil, fmt.Errorf("horizon %s: %w", path, err)
	}
	if resp.IsError() {
		return nil, &Error{StatusCode: resp.StatusCode(), Path: path, Body: truncate(resp.String(), 512)}
	}

	var p page[T]
	if err := json.Unmarshal(resp.Body(), &p); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return p.Embedded.Records, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
