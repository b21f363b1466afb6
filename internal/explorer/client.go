// Package explorer fetches contract data from a Blockscout-style
// block-explorer REST API with cursor pagination.
package explorer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"mezo-analytics/internal/domain"
	"mezo-analytics/internal/retry"
	"mezo-analytics/internal/subgraph"
)

// MezoExplorerURL is the Mezo block explorer API root.
const MezoExplorerURL = "https://api.explorer.mezo.org/api/v2"

// DefaultTimeout bounds a single explorer request.
const DefaultTimeout = 10 * time.Second

// AddressTransactionsPath returns the endpoint listing a contract's
// transactions.
func AddressTransactionsPath(address string) string {
	return "addresses/" + address + "/transactions"
}

// Client issues paginated GET requests under a fixed base URL.
type Client struct {
	baseURL string
	client  *http.Client
	policy  retry.Policy
	log     *zap.Logger
}

// ClientOption configures Client.
type ClientOption func(*Client)

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.client.Timeout = d
	}
}

// WithRetryPolicy sets the per-request retry policy.
func WithRetryPolicy(p retry.Policy) ClientOption {
	return func(c *Client) {
		c.policy = p
	}
}

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.client = client
	}
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) ClientOption {
	return func(c *Client) {
		c.log = log
	}
}

// NewClient creates an explorer client for one base URL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: DefaultTimeout},
		policy:  retry.DefaultPolicy(),
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// page is the explorer response envelope: an items list plus an opaque
// cursor for the next page, absent on the last one.
type page struct {
	Items          []map[string]any `json:"items"`
	NextPageParams map[string]any   `json:"next_page_params"`
}

// FetchAll retrieves every page under the path, one request at a time,
// following next_page_params until it is absent or a page is empty.
func (c *Client) FetchAll(ctx context.Context, path string) (domain.Batch, error) {
	var all domain.Batch
	var cursor map[string]any

	for {
		p, err := c.fetchPage(ctx, path, cursor)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", path, err)
		}
		if len(p.Items) == 0 {
			return all, nil
		}

		for _, item := range p.Items {
			all = append(all, subgraph.RowFromJSON(item))
		}
		c.log.Debug("fetched page", zap.String("path", path), zap.Int("rows", len(p.Items)))

		if len(p.NextPageParams) == 0 {
			return all, nil
		}
		cursor = p.NextPageParams
	}
}

func (c *Client) fetchPage(ctx context.Context, path string, cursor map[string]any) (*page, error) {
	target, err := c.buildURL(path, cursor)
	if err != nil {
		return nil, err
	}

	var p page
	err = c.policy.Do(ctx, func(ctx context.Context) error {
		decoded, err := c.get(ctx, target)
		if err != nil {
			return err
		}
		p = *decoded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) buildURL(path string, cursor map[string]any) (string, error) {
	u, err := url.Parse(c.baseURL + "/" + path)
	if err != nil {
		return "", fmt.Errorf("build url: %w", err)
	}
	if len(cursor) > 0 {
		q := u.Query()
		for k, v := range cursor {
			q.Set(k, fmt.Sprintf("%v", v))
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (c *Client) get(ctx context.Context, target string) (*page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
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

	var p page
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return &p, nil
}
