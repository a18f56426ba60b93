package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"nft-market-etl/internal/domain"
	"nft-market-etl/internal/observability"
)

// Default configuration values.
const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 1 * time.Second
	DefaultMaxDelay    = 10 * time.Second
	DefaultBackoffMult = 2.0
)

// errRetryable marks a failed attempt that may succeed if repeated.
var errRetryable = errors.New("retryable")

// Client performs JSON calls against one provider. Every attempt waits on
// the provider limiter first.
type Client struct {
	provider    domain.Provider
	baseURL     string
	keyHeader   string
	apiKey      string
	client      *http.Client
	limiter     *rate.Limiter
	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
}

// ClientOption configures Client.
type ClientOption func(*Client)

// WithAPIKey sets the authentication header sent on every call.
func WithAPIKey(header, key string) ClientOption {
	return func(c *Client) {
		c.keyHeader = header
		c.apiKey = key
	}
}

// WithLimiter sets the provider rate limiter.
func WithLimiter(l *rate.Limiter) ClientOption {
	return func(c *Client) {
		c.limiter = l
	}
}

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.client.Timeout = d
	}
}

// WithMaxRetries sets maximum retry attempts.
func WithMaxRetries(n int) ClientOption {
	return func(c *Client) {
		c.maxRetries = n
	}
}

// WithRetryDelay sets initial retry delay.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *Client) {
		c.retryDelay = d
	}
}

// WithMaxDelay sets maximum retry delay.
func WithMaxDelay(d time.Duration) ClientOption {
	return func(c *Client) {
		c.maxDelay = d
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.client = client
	}
}

// NewClient creates a client for provider rooted at baseURL.
func NewClient(provider domain.Provider, baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		provider:    provider,
		baseURL:     strings.TrimRight(baseURL, "/"),
		client:      &http.Client{Timeout: DefaultTimeout},
		limiter:     rate.NewLimiter(rate.Inf, 1),
		maxRetries:  DefaultMaxRetries,
		retryDelay:  DefaultRetryDelay,
		maxDelay:    DefaultMaxDelay,
		backoffMult: DefaultBackoffMult,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Provider returns the provider this client talks to.
func (c *Client) Provider() domain.Provider {
	return c.provider
}

// Get issues a GET to path with query and decodes the body into out.
func (c *Client) Get(ctx context.Context, resource, path string, query url.Values, out any) error {
	return c.do(ctx, resource, http.MethodGet, path, query, nil, out)
}

// Post issues a POST with a JSON body and decodes the response into out.
func (c *Client) Post(ctx context.Context, resource, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return &UpstreamFetchError{Provider: c.provider, Resource: resource, Err: fmt.Errorf("marshal request: %w", err)}
	}
	return c.do(ctx, resource, http.MethodPost, path, nil, payload, out)
}

// do performs a call with retries and exponential backoff.
func (c *Client) do(ctx context.Context, resource, method, path string, query url.Values, body []byte, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	delay := c.retryDelay
	var lastErr error
	lastStatus := 0

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return c.fail(resource, lastStatus, ctx.Err())
			case <-time.After(delay):
			}
			// Exponential backoff
			delay = time.Duration(float64(delay) * c.backoffMult)
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return c.fail(resource, lastStatus, fmt.Errorf("rate limiter: %w", err))
		}

		start := time.Now()
		status, respBody, err := c.attempt(ctx, method, endpoint, body)
		observability.RecordFetch(string(c.provider), resource, status, time.Since(start).Seconds(), err)
		lastStatus = status

		if err != nil {
			lastErr = err
			if errors.Is(err, errRetryable) {
				continue
			}
			return c.fail(resource, status, err)
		}

		if out != nil {
			if err := json.Unmarshal(respBody, out); err != nil {
				return c.fail(resource, status, fmt.Errorf("unmarshal response: %w", err))
			}
		}
		return nil
	}

	return c.fail(resource, lastStatus, fmt.Errorf("max retries exceeded: %w", lastErr))
}

func (c *Client) attempt(ctx context.Context, method, endpoint string, body []byte) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.keyHeader != "" {
		req.Header.Set(c.keyHeader, c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, nil, ctx.Err()
		}
		return 0, nil, fmt.Errorf("http request: %v: %w", err, errRetryable)
	}

	respBody, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %v: %w", err, errRetryable)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return resp.StatusCode, nil, fmt.Errorf("rate limited (429): %w", errRetryable)
	case resp.StatusCode >= 500:
		return resp.StatusCode, nil, fmt.Errorf("server error %d: %s: %w", resp.StatusCode, truncate(respBody), errRetryable)
	case resp.StatusCode != http.StatusOK:
		return resp.StatusCode, nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(respBody))
	}
	return resp.StatusCode, respBody, nil
}

func (c *Client) fail(resource string, status int, err error) error {
	return &UpstreamFetchError{Provider: c.provider, Resource: resource, StatusCode: status, Err: err}
}

func truncate(b []byte) string {
	const max = 256
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
