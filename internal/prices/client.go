// Package prices retrieves USD conversion rates from the CoinGecko
// simple price API.
package prices

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"mezo-analytics/internal/retry"
	"mezo-analytics/internal/subgraph"
	"mezo-analytics/internal/tokens"
)

// Defaults.
const (
	DefaultBaseURL = "https://api.coingecko.com/api/v3"
	DefaultTimeout = 10 * time.Second
)

// Client fetches USD rates for the configured token set.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	policy  retry.Policy
	log     *zap.Logger
}

// ClientOption configures Client.
type ClientOption func(*Client)

// WithBaseURL overrides the API base URL. Tests point it at httptest.
func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = u }
}

// WithAPIKey sets the demo API key header.
func WithAPIKey(key string) ClientOption {
	return func(c *Client) { c.apiKey = key }
}

// WithRetryPolicy sets the per-request retry policy.
func WithRetryPolicy(p retry.Policy) ClientOption {
	return func(c *Client) { c.policy = p }
}

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.client = client }
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) ClientOption {
	return func(c *Client) { c.log = log }
}

// NewClient creates a price client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		client:  &http.Client{Timeout: DefaultTimeout},
		policy:  retry.DefaultPolicy(),
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TokenPrices returns symbol → USD rate for every symbol with a known
// CoinGecko id. Mezo-native stables are pinned to 1.0.
func (c *Client) TokenPrices(ctx context.Context) (map[string]float64, error) {
	ids := make([]string, 0, len(tokens.CoinGeckoIDs))
	for _, id := range tokens.CoinGeckoIDs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	byID, err := c.simplePrice(ctx, ids)
	if err != nil {
		return nil, err
	}

	rates := make(map[string]float64, len(tokens.CoinGeckoIDs))
	for symbol, id := range tokens.CoinGeckoIDs {
		if usd, ok := byID[id]; ok {
			rates[symbol] = usd
		}
	}
	for symbol := range tokens.Stables {
		rates[symbol] = 1.0
	}
	return rates, nil
}

// simplePrice calls /simple/price and returns id → USD rate.
func (c *Client) simplePrice(ctx context.Context, ids []string) (map[string]float64, error) {
	q := url.Values{}
	q.Set("ids", strings.Join(ids, ","))
	q.Set("vs_currencies", "usd")
	target := fmt.Sprintf("%s/simple/price?%s", c.baseURL, q.Encode())

	var out map[string]float64
	err := c.policy.Do(ctx, func(ctx context.Context) error {
		decoded, err := c.get(ctx, target)
		if err != nil {
			return err
		}
		out = decoded
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetch token prices: %w", err)
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, target string) (map[string]float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("x-cg-demo-api-key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, retry.Transient(fmt.Errorf("http request: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, retry.Transient(fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &subgraph.StatusError{Code: resp.StatusCode, Body: string(body[:min(len(body), 200)])}
	}

	// {"bitcoin": {"usd": 97000.0}, ...}
	var decoded map[string]map[string]float64
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	out := make(map[string]float64, len(decoded))
	for id, cur := range decoded {
		out[id] = cur["usd"]
	}
	return out, nil
}
