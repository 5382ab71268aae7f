// Package oracleclient fetches event announcements and attestations from a
// public oracle over HTTP, and performs the TOFU DNS key-pinning used when
// a user adds a new oracle.
package oracleclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// Config holds the oracle client's network tunables, in the same shape the
// wallet's own chain client uses for its HTTP backend.
type Config struct {
	// Scheme is prepended to every oracle_id to form a request URL.
	// Default: https
	Scheme string

	// RateLimit is the number of oracle requests per second allowed.
	// Default: 5
	RateLimit int

	// Timeout is the HTTP request timeout.
	// Default: 30 seconds
	Timeout time.Duration

	// RetryAttempts is the number of retry attempts for transient failures.
	// Default: 3
	RetryAttempts int

	// RetryDelay is the base delay between retry attempts.
	// Default: 1 second
	RetryDelay time.Duration

	// Transport, if set, replaces http.DefaultTransport -- cmd/gun uses
	// this to route every oracle request through a Tor SOCKS proxy
	// when -torsocks is given.
	Transport http.RoundTripper
}

// DefaultConfig returns the client's default configuration.
func DefaultConfig() *Config {
	return &Config{
		Scheme:        "https",
		RateLimit:     5,
		Timeout:       30 * time.Second,
		RetryAttempts: 3,
		RetryDelay:    time.Second,
	}
}

// Client fetches events and attestations from an oracle over HTTP.
type Client struct {
	cfg *Config

	httpClient  *http.Client
	rateLimiter *rate.Limiter
}

// NewClient constructs a Client from cfg, or DefaultConfig if cfg is nil.
func NewClient(cfg *Config) *Client {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	return &Client{
		cfg:         cfg,
		httpClient:  &http.Client{Timeout: cfg.Timeout, Transport: cfg.Transport},
		rateLimiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimit),
	}
}

// Kind classifies an oracle client failure so the engine can decide whether
// to retry, discard, or surface the error.
type Kind int

const (
	// KindTransient means the same request may succeed later.
	KindTransient Kind = iota
	// KindPermanent means retrying will not help (404, malformed body).
	KindPermanent
	// KindOracleMisbehaved means the oracle attested an outcome outside
	// the event's outcome set, or an attestation failed the verification
	// equation -- the engine transitions the bet to oracle_misbehaved
	// rather than retrying.
	KindOracleMisbehaved
)

// Error wraps an oracle client failure with its taxonomy kind.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string { return e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

func transientErr(format string, args ...interface{}) error {
	return &Error{Kind: KindTransient, Err: fmt.Errorf(format, args...)}
}

func permanentErr(format string, args ...interface{}) error {
	return &Error{Kind: KindPermanent, Err: fmt.Errorf(format, args...)}
}

// doRequest performs a rate-limited HTTP GET with retry/backoff on
// transient failures, mirroring the wallet's own chain-backend client.
func (c *Client) doRequest(ctx context.Context, url string) ([]byte, bool, error) {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.RetryAttempts; attempt++ {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return nil, false, transientErr("rate limiter: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, false, permanentErr("build request: %w", err)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = transientErr("oracle unreachable: %w", err)
			c.backoff(ctx, attempt)
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = transientErr("read oracle response: %w", err)
			c.backoff(ctx, attempt)
			continue
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			return body, true, nil
		case resp.StatusCode == http.StatusNotFound:
			return nil, false, nil
		case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
			lastErr = transientErr("oracle returned status %d", resp.StatusCode)
			c.backoff(ctx, attempt)
			continue
		default:
			return nil, false, permanentErr("unexpected oracle status %d: %s", resp.StatusCode, body)
		}
	}
	return nil, false, lastErr
}

func (c *Client) backoff(ctx context.Context, attempt int) {
	if attempt >= c.cfg.RetryAttempts {
		return
	}
	select {
	case <-time.After(c.cfg.RetryDelay * time.Duration(attempt+1)):
	case <-ctx.Done():
	}
}

// eventURL builds the GET URL for an event announcement:
// `{scheme}://{oracle_id}{event_path}`.
func (c *Client) eventURL(oracleID, eventPath string) string {
	return fmt.Sprintf("%s://%s%s", c.cfg.Scheme, oracleID, eventPath)
}

// attestationURL builds the GET URL for an event's attestation.
func (c *Client) attestationURL(oracleID, eventPath string) string {
	return c.eventURL(oracleID, eventPath) + "/attestation"
}
