// Package http provides the outbound HTTP client shared by every ytdigest
// integration, with per-host rate limiting, retry and error classification.
package http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"ytdigest/internal/retry"
)

// Client wraps an HTTP client with retry logic and rate limit handling.
type Client struct {
	base        *http.Client
	config      *Config
	rateLimiter *RateLimiter
}

// Config holds HTTP client configuration including retry and rate limit settings.
type Config struct {
	// Timeout for individual HTTP requests
	Timeout time.Duration

	// Retry configuration
	Retry retry.Config

	// User agent for HTTP requests
	UserAgent string

	// Rate limiter configuration
	RateLimiter RateLimiterConfig

	// Connection pool configuration
	Transport TransportConfig
}

// TransportConfig configures the HTTP transport (connection pooling).
type TransportConfig struct {
	// MaxIdleConns is the maximum number of idle connections across all hosts.
	// Default: 20
	MaxIdleConns int

	// MaxIdleConnsPerHost is the maximum idle connections per host.
	// Default: 10
	MaxIdleConnsPerHost int

	// MaxConnsPerHost is the maximum concurrent connections per host.
	// Default: 20
	MaxConnsPerHost int

	// IdleConnTimeout is the maximum amount of time an idle connection can remain open.
	// Default: 90 seconds
	IdleConnTimeout time.Duration

	// ForceAttemptHTTP2 forces HTTP/2 for connections to servers that don't explicitly support it.
	// Default: true
	ForceAttemptHTTP2 bool
}

// DefaultUserAgent is a desktop browser string. The watch page serves the
// player response only to browser-like clients.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

// DefaultConfig returns sensible defaults for HTTP client configuration.
func DefaultConfig() *Config {
	r := retry.DefaultConfig()
	r.MaxRetries = 3
	return &Config{
		Timeout:     60 * time.Second,
		Retry:       r,
		UserAgent:   DefaultUserAgent,
		RateLimiter: DefaultRateLimiterConfig(),
		Transport:   DefaultTransportConfig(),
	}
}

// DefaultTransportConfig returns sensible defaults for HTTP transport configuration.
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     20,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
	}
}

// New creates a new HTTP client with the given configuration.
func New(cfg *Config) *Client {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.Transport.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.Transport.MaxIdleConnsPerHost,
		MaxConnsPerHost:     cfg.Transport.MaxConnsPerHost,
		IdleConnTimeout:     cfg.Transport.IdleConnTimeout,
		ForceAttemptHTTP2:   cfg.Transport.ForceAttemptHTTP2,
	}

	return &Client{
		base: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		config:      cfg,
		rateLimiter: NewRateLimiter(cfg.RateLimiter),
	}
}

// Response represents an HTTP response with status code and body.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Get performs a GET request with retry logic.
func (c *Client) Get(ctx context.Context, url string) (*Response, error) {
	return c.Do(ctx, http.MethodGet, url, nil, nil)
}

// Do performs an HTTP request with retry logic and rate limit handling.
// The body is replayed on every attempt.
func (c *Client) Do(ctx context.Context, method, urlStr string, body []byte, headers map[string]string) (*Response, error) {
	if err := c.rateLimiter.WaitForBackoff(ctx, urlStr); err != nil {
		return nil, err
	}

	var out *Response
	err := retry.Do(ctx, c.config.Retry, isRetryableHTTPError, func(ctx context.Context) error {
		if err := c.rateLimiter.Wait(ctx, urlStr); err != nil {
			return err
		}

		var rd io.Reader
		if body != nil {
			rd = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, urlStr, rd)
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set("User-Agent", c.config.UserAgent)
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := c.base.Do(req)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrRequestFailed, err)
		}
		defer resp.Body.Close()

		if err := c.checkRateLimit(urlStr, resp); err != nil {
			return err
		}

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response body: %w", err)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return &HTTPError{StatusCode: resp.StatusCode, Body: respBody}
		}

		out = &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: respBody}
		return nil
	})
	if err != nil {
		var re *retry.RetryableError
		if errors.As(err, &re) {
			// Surface the final cause; callers classify on its type.
			return nil, re.Err
		}
		return nil, err
	}
	if out == nil {
		return nil, ErrNoResponse
	}

	c.rateLimiter.RecordSuccess(urlStr)
	return out, nil
}

// checkRateLimit converts 429, 503 and 403 answers into a *RateLimitError and
// records the backoff for the host.
func (c *Client) checkRateLimit(urlStr string, resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable, http.StatusForbidden:
	default:
		return nil
	}

	retryAfter := parseRetryAfter(resp.Header)
	if backoff := c.rateLimiter.RecordRateLimitError(urlStr, retryAfter); backoff > retryAfter {
		retryAfter = backoff
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &RateLimitError{
		StatusCode:     resp.StatusCode,
		RetryAfter:     retryAfter,
		IsBotDetection: resp.StatusCode == http.StatusForbidden,
		Body:           body,
	}
}

// isRetryableHTTPError retries transport failures, rate limits other than
// 403, and 5xx answers.
func isRetryableHTTPError(err error) bool {
	if !retry.IsRetryable(err) {
		return false
	}

	var rl *RateLimitError
	if errors.As(err, &rl) {
		// A 403 is usually an auth or quota answer that will not change.
		return !rl.IsBotDetection
	}

	var he *HTTPError
	if errors.As(err, &he) {
		return ShouldRetry(he.StatusCode)
	}

	return true
}

// parseRetryAfter extracts the Retry-After header value.
// Returns the number of seconds to wait, or 0 if not present.
func parseRetryAfter(header http.Header) time.Duration {
	retryAfter := header.Get("Retry-After")
	if retryAfter == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(retryAfter); err == nil {
		return time.Duration(seconds) * time.Second
	}

	if t, err := http.ParseTime(retryAfter); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}

	return 0
}

// StdClient returns a *http.Client that shares this client's connection pool
// and per-host rate limits, for SDKs that take a plain *http.Client. It does
// not retry; the SDKs own their retry policy.
func (c *Client) StdClient() *http.Client {
	return &http.Client{
		Timeout:   c.config.Timeout,
		Transport: &limitedTransport{base: c.base.Transport, limiter: c.rateLimiter, userAgent: c.config.UserAgent},
	}
}

// Close closes the HTTP client connections and releases all resources.
func (c *Client) Close() error {
	if c.base != nil {
		c.base.CloseIdleConnections()
	}
	return nil
}

// GetTransportConfig returns the transport configuration being used.
func (c *Client) GetTransportConfig() TransportConfig {
	return c.config.Transport
}

// limitedTransport waits on the rate limiter before each round trip and
// feeds 429/503 answers back into the host's backoff state.
type limitedTransport struct {
	base      http.RoundTripper
	limiter   *RateLimiter
	userAgent string
}

func (t *limitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	u := req.URL.String()
	if err := t.limiter.WaitForBackoff(req.Context(), u); err != nil {
		return nil, err
	}
	if err := t.limiter.Wait(req.Context(), u); err != nil {
		return nil, err
	}
	if req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.userAgent)
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	switch resp.StatusCode {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		t.limiter.RecordRateLimitError(u, parseRetryAfter(resp.Header))
	default:
		if resp.StatusCode < 400 {
			t.limiter.RecordSuccess(u)
		}
	}
	return resp, nil
}
