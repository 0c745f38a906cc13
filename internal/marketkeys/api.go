package marketkeys

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	apiEndpoint = "/api/market-keys/"
	pageLimit   = 200
	chunkSize   = 100
)

type apiPage struct {
	Results []Market `json:"results"`
	Next    *string  `json:"next"`
}

// APIProvider reads the directory over HTTP.
type APIProvider struct {
	http     *resty.Client
	endpoint string
}

// NewAPIProvider creates a provider for the tracker at baseURL.
func NewAPIProvider(baseURL string, timeout time.Duration) *APIProvider {
	httpClient := resty.New()
	httpClient.SetTimeout(timeout)
	httpClient.SetRetryCount(2)
	httpClient.SetRetryWaitTime(500 * time.Millisecond)
	httpClient.AddRetryCondition(func(r *resty.Response, err error) bool {
		return err != nil || r.StatusCode() >= 500
	})
	httpClient.SetHeader("Accept", "application/json")

	return &APIProvider{
		http:     httpClient,
		endpoint: strings.TrimRight(baseURL, "/") + apiEndpoint,
	}
}

func (p *APIProvider) Iterate(ctx context.Context, fn func(Market) error) error {
	params := url.Values{}
	params.Set("limit", fmt.Sprint(pageLimit))
	return p.walk(ctx, p.endpoint+"?"+params.Encode(), fn)
}

func (p *APIProvider) GetMultiple(ctx context.Context, accountIDs []string) ([]Market, error) {
	var out []Market
	collect := func(m Market) error {
		out = append(out, m)
		return nil
	}

	for start := 0; start < len(accountIDs); start += chunkSize {
		chunk := accountIDs[start:min(start+chunkSize, len(accountIDs))]
		for _, field := range []string{"account_id", "downvote_account_id"} {
			params := url.Values{}
			params.Set("limit", fmt.Sprint(pageLimit))
			for _, id := range chunk {
				params.Add(field, id)
			}
			if err := p.walk(ctx, p.endpoint+"?"+params.Encode(), collect); err != nil {
				return nil, err
			}
		}
	}
	return dedupe(out), nil
}

// walk follows the next links starting at pageURL.
func (p *APIProvider) walk(ctx context.Context, pageURL string, fn func(Market) error) error {
	for pageURL != "" {
		resp, err := p.http.R().SetContext(ctx).Get(pageURL)
		if err != nil {
			return fmt.Errorf("market keys: %w", err)
		}
		if resp.IsError() {
			return fmt.Errorf("market keys: status %d", resp.StatusCode())
		}

		var page apiPage
		if err := json.Unmarshal(resp.Body(), &page); err != nil {
			return fmt.Errorf("decode market keys: %w", err)
		}
		for _, m := range page.Results {
			if err := fn(m); err != nil {
				return err
			}
		}

		pageURL = ""
		if page.Next != nil {
			pageURL = *page.Next
		}
	}
	return nil
}
