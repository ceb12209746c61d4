// Package bankapi is a thin authenticated client for the provider's
// business API. It never retries: failures are reported to the caller,
// which decides whether the surrounding job fails.
package bankapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"bankbridge/internal/domain/credential"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

// RequestTimeout bounds every outbound call. Calls are never retried.
const RequestTimeout = 30 * time.Second

const (
	accountsPath     = "/accounts"
	transactionsPath = "/transactions"
	transactionPath  = "/transaction/"
	maxBodySize      = 16 << 20
)

// MaxTransactions is the page size of GetTransactions. A response of exactly
// this many records may not cover the whole window.
const MaxTransactions = 1000

// TokenProvider supplies bearer tokens and drops them when the API rejects
// them.
type TokenProvider interface {
	GetValidToken(ctx context.Context, tenantID string) (string, error)
	Invalidate(tenantID string)
}

// ClientInterface is what the sync services need from the provider.
type ClientInterface interface {
	GetAccounts(ctx context.Context, tenantID string) ([]Account, error)
	GetTransactions(ctx context.Context, tenantID string, from, to time.Time) ([]Transaction, error)
	GetTransaction(ctx context.Context, tenantID, transactionID string) (*Transaction, error)
}

var _ ClientInterface = (*Client)(nil)

type Client struct {
	httpClient *http.Client
	baseURL    string
	tokens     TokenProvider

	limit    rate.Limit
	burst    int
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewClient creates a client for baseURL. rps caps requests per second per
// tenant; rps <= 0 disables limiting.
func NewClient(baseURL string, tokens TokenProvider, rps float64) *Client {
	limit := rate.Inf
	burst := 1
	if rps > 0 {
		limit = rate.Limit(rps)
		burst = int(rps)
		if burst < 1 {
			burst = 1
		}
	}

	return &Client{
		httpClient: &http.Client{
			Timeout:   RequestTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		baseURL:  baseURL,
		tokens:   tokens,
		limit:    limit,
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

// GetAccounts lists every account of the tenant.
func (c *Client) GetAccounts(ctx context.Context, tenantID string) ([]Account, error) {
	var accounts []Account
	if err := c.get(ctx, tenantID, "get accounts", accountsPath, nil, &accounts); err != nil {
		return nil, err
	}
	return accounts, nil
}

// GetTransactions lists transactions created in [from, to].
func (c *Client) GetTransactions(ctx context.Context, tenantID string, from, to time.Time) ([]Transaction, error) {
	query := url.Values{
		"from":  {from.UTC().Format(time.RFC3339)},
		"to":    {to.UTC().Format(time.RFC3339)},
		"count": {strconv.Itoa(MaxTransactions)},
	}

	var txs []Transaction
	if err := c.get(ctx, tenantID, "get transactions", transactionsPath, query, &txs); err != nil {
		return nil, err
	}
	return txs, nil
}

// GetTransaction fetches a single transaction by provider id.
func (c *Client) GetTransaction(ctx context.Context, tenantID, transactionID string) (*Transaction, error) {
	var tx Transaction
	path := transactionPath + url.PathEscape(transactionID)
	if err := c.get(ctx, tenantID, "get transaction", path, nil, &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

func (c *Client) get(ctx context.Context, tenantID, op, path string, query url.Values, out any) error {
	if err := c.limiter(tenantID).Wait(ctx); err != nil {
		return &RateLimitError{TenantID: tenantID, Op: op, Err: err}
	}

	token, err := c.tokens.GetValidToken(ctx, tenantID)
	if err != nil {
		return err
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &NetworkError{TenantID: tenantID, Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return &NetworkError{TenantID: tenantID, Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		c.tokens.Invalidate(tenantID)
		return &credential.AuthError{
			TenantID:   tenantID,
			Grant:      "bearer",
			StatusCode: resp.StatusCode,
			Body:       errorMessage(body),
		}
	case resp.StatusCode == http.StatusTooManyRequests:
		return &RateLimitError{TenantID: tenantID, Op: op, RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return &NetworkError{TenantID: tenantID, Op: op, StatusCode: resp.StatusCode, Body: errorMessage(body)}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to unmarshal %s response: %w", op, err)
	}
	return nil
}

func (c *Client) limiter(tenantID string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, ok := c.limiters[tenantID]
	if !ok {
		l = rate.NewLimiter(c.limit, c.burst)
		c.limiters[tenantID] = l
	}
	return l
}

func errorMessage(body []byte) string {
	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Message != "" {
		return errResp.Message
	}
	if len(body) > 512 {
		return string(body[:512]) + "..."
	}
	return string(body)
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
