// Package httpds downloads source files over HTTP with retry and backoff.
// Transport errors, 429 and 5xx responses are retried; any other non-2xx
// status fails at once.
package httpds

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Config configures a Client. Zero durations take the Default* values and a
// negative MaxRetries means no retries.
type Config struct {
	// Timeout bounds one whole download including the body.
	Timeout time.Duration

	// MaxRetries is the number of attempts after the first one.
	MaxRetries int

	// InitialBackoff doubles per retry up to MaxBackoff.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// InsecureSkipVerify disables TLS certificate checks.
	InsecureSkipVerify bool

	// Headers are sent with every request.
	Headers http.Header

	// Transport replaces the default transport, mostly for tests.
	Transport http.RoundTripper
}

// StatusError is a final non-2xx response.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("httpds: GET %s: status %d", e.URL, e.Code)
}

// Default limits applied by NewClient.
const (
	DefaultTimeout        = 30 * time.Minute
	DefaultInitialBackoff = 200 * time.Millisecond
	DefaultMaxBackoff     = 5 * time.Second
)

func (cfg Config) withDefaults() Config {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	cfg.MaxRetries = max(cfg.MaxRetries, 0)
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultInitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultMaxBackoff
	}
	cfg.Headers = cfg.Headers.Clone()
	return cfg
}

// backoff is InitialBackoff doubled retry times, capped at MaxBackoff.
func (cfg Config) backoff(retry int) time.Duration {
	if retry > 30 {
		return cfg.MaxBackoff
	}
	if d := cfg.InitialBackoff << retry; d > 0 && d < cfg.MaxBackoff {
		return d
	}
	return cfg.MaxBackoff
}

// Client performs GET requests with retries.
type Client struct {
	cfg  Config
	http *http.Client

	// sleep waits between attempts; tests replace it.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient builds a Client from cfg.
func NewClient(cfg Config) *Client {
	cfg = cfg.withDefaults()
	rt := cfg.Transport
	if rt == nil {
		rt = &http.Transport{
			Proxy:           http.ProxyFromEnvironment,
			TLSClientConfig: &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}, //nolint:gosec // opt-in per step
		}
	}
	return &Client{
		cfg:   cfg,
		http:  &http.Client{Timeout: cfg.Timeout, Transport: rt},
		sleep: sleepContext,
	}
}

// Get fetches url and returns the response of the first attempt that is not
// retryable. The caller closes the body.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	if url == "" {
		return nil, errors.New("httpds: url must not be empty")
	}
	var lastErr error
	for attempt := range c.cfg.MaxRetries + 1 {
		if attempt > 0 {
			if err := c.sleep(ctx, c.cfg.backoff(attempt-1)); err != nil {
				return nil, err
			}
		}
		resp, err := c.do(ctx, url)
		switch {
		case err != nil && ctx.Err() != nil:
			return nil, ctx.Err()
		case err != nil:
			lastErr = err
		case retryable(resp.StatusCode):
			resp.Body.Close()
			lastErr = &StatusError{URL: url, Code: resp.StatusCode}
		default:
			return resp, nil
		}
	}
	return nil, lastErr
}

func (c *Client) do(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("httpds: build request: %w", err)
	}
	if len(c.cfg.Headers) > 0 {
		req.Header = c.cfg.Headers.Clone()
	}
	return c.http.Do(req)
}

// Source returns a datasource bound to url.
func (c *Client) Source(url string) *Source { return &Source{client: c, url: url} }

// Source streams one URL.
type Source struct {
	client *Client
	url    string
}

// Open starts the download. Non-2xx responses are a *StatusError.
func (s *Source) Open(ctx context.Context) (io.ReadCloser, error) {
	resp, err := s.client.Get(ctx, s.url)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, &StatusError{URL: s.url, Code: resp.StatusCode}
	}
	return resp.Body, nil
}

// retryable reports throttling and server-side failures.
func retryable(code int) bool {
	return code == http.StatusTooManyRequests || code/100 == 5
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
