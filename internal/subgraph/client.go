// Package subgraph fetches entity pages from Goldsky subgraph GraphQL
// endpoints with skip-offset pagination and retry on transient failures.
package subgraph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"go.uber.org/zap"

	"mezo-analytics/internal/domain"
	"mezo-analytics/internal/retry"
)

// Default configuration values.
const (
	DefaultTimeout  = 30 * time.Second
	DefaultPageSize = 1000
)

// Query is a GraphQL document plus the name of the list field holding
// its results. The document must accept a $skip variable.
type Query struct {
	Document string
	Entity   string
}

// Client issues paginated GraphQL requests against one subgraph URL.
type Client struct {
	url      string
	client   *http.Client
	policy   retry.Policy
	pageSize int
	log      *zap.Logger
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

// WithPageSize overrides the page size. Tests use small pages.
func WithPageSize(n int) ClientOption {
	return func(c *Client) {
		c.pageSize = n
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

// NewClient creates a subgraph client for one endpoint.
func NewClient(url string, opts ...ClientOption) *Client {
	c := &Client{
		url:      url,
		client:   &http.Client{Timeout: DefaultTimeout},
		policy:   retry.DefaultPolicy(),
		pageSize: DefaultPageSize,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// gqlRequest is the request envelope.
type gqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

// gqlResponse is the response envelope.
type gqlResponse struct {
	Data   map[string]json.RawMessage `json:"data"`
	Errors []gqlError                 `json:"errors,omitempty"`
}

// gqlError is a GraphQL-level error. Never retried.
type gqlError struct {
	Message string `json:"message"`
}

func (e *gqlError) Error() string {
	return fmt.Sprintf("graphql error: %s", e.Message)
}

// StatusError is a non-200 HTTP response from the subgraph.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("subgraph status %d: %s", e.Code, e.Body)
}

// Transient reports whether the status is worth retrying: rate limits
// and server-side failures are, other client errors are not.
func (e *StatusError) Transient() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// FetchAll retrieves every page of the query's entity. Pages are
// requested one at a time with skip offsets; a short or empty page
// stops the loop. Row order follows response order across pages.
func (c *Client) FetchAll(ctx context.Context, q Query) (domain.Batch, error) {
	var all domain.Batch

	for skip := 0; ; skip += c.pageSize {
		page, err := c.fetchPage(ctx, q, skip)
		if err != nil {
			return nil, fmt.Errorf("fetch %s page at skip %d: %w", q.Entity, skip, err)
		}

		all = append(all, page...)
		c.log.Debug("fetched page",
			zap.String("entity", q.Entity),
			zap.Int("skip", skip),
			zap.Int("rows", len(page)))

		if len(page) < c.pageSize {
			return all, nil
		}
	}
}

// fetchPage issues a single request under the retry policy.
func (c *Client) fetchPage(ctx context.Context, q Query, skip int) (domain.Batch, error) {
	body, err := json.Marshal(gqlRequest{
		Query:     q.Document,
		Variables: map[string]any{"skip": skip},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	var page domain.Batch
	err = c.policy.Do(ctx, func(ctx context.Context) error {
		rows, err := c.post(ctx, body, q.Entity)
		if err != nil {
			return err
		}
		page = rows
		return nil
	})
	return page, err
}

func (c *Client) post(ctx context.Context, body []byte, entity string) (domain.Batch, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, retry.Transient(fmt.Errorf("http request: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, retry.Transient(fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Code: resp.StatusCode, Body: truncate(string(respBody), 200)}
	}

	var decoded gqlResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if len(decoded.Errors) > 0 {
		return nil, &decoded.Errors[0]
	}

	raw, ok := decoded.Data[entity]
	if !ok || len(raw) == 0 {
		return nil, nil
	}

	var items []map[string]any
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("unmarshal %s list: %w", entity, err)
	}

	batch := make(domain.Batch, 0, len(items))
	for _, item := range items {
		batch = append(batch, RowFromJSON(item))
	}
	return batch, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// RowFromJSON converts a decoded JSON object into a row. Nested objects
// flatten with underscore-joined names; arrays are re-encoded as JSON
// strings. Subgraph BigInt/BigDecimal fields arrive as strings and stay
// strings here; normalization converts them downstream.
func RowFromJSON(obj map[string]any) domain.Row {
	row := domain.Row{}
	flattenInto(row, "", obj)
	return row
}

func flattenInto(row domain.Row, prefix string, obj map[string]any) {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		name := k
		if prefix != "" {
			name = prefix + "_" + k
		}
		switch v := obj[k].(type) {
		case nil:
			row[name] = domain.Null()
		case string:
			row[name] = domain.String(v)
		case float64:
			row[name] = domain.Number(v)
		case bool:
			if v {
				row[name] = domain.String("true")
			} else {
				row[name] = domain.String("false")
			}
		case map[string]any:
			flattenInto(row, name, v)
		default:
			encoded, err := json.Marshal(v)
			if err != nil {
				row[name] = domain.Null()
				continue
			}
			row[name] = domain.String(string(encoded))
		}
	}
}
