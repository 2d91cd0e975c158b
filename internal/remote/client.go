// Package remote fetches project listings and page content from the
// note service. Every request is rate limited, retried with backoff on
// transient failures, and validated by the schema package before a
// domain value is handed to the caller. A hard-down remote trips a
// circuit breaker so the retry budget is not spent per page.
package remote

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/notevault/notevault/internal/schema"
	"github.com/notevault/notevault/internal/snapshot"
)

// maxBodySize caps how much of a response body is read. Listings and
// pages are small; anything larger is a misbehaving server.
const maxBodySize = 32 << 20

// Config holds the remote client settings.
type Config struct {
	// BaseURL is the service root, e.g. "https://notes.example.com".
	BaseURL string

	// SessionCookie is the opaque connect.sid value attached to every
	// request when non-empty.
	SessionCookie string

	// UserAgent is sent with every request when non-empty.
	UserAgent string

	// RequestInterval is the minimum spacing between requests, shared
	// across all concurrent callers. Defaults to 3 seconds.
	RequestInterval time.Duration

	// MaxAttempts bounds retries per request, counting the first
	// attempt. Defaults to 4.
	MaxAttempts int

	// MaxInFlight bounds concurrent FetchPage calls. Defaults to 4.
	MaxInFlight int

	// Timeout bounds each individual HTTP attempt. Defaults to 30s.
	Timeout time.Duration
}

// DefaultConfig returns the client defaults: one request per 3
// seconds, 4 attempts, 4 concurrent fetches, 30 second timeout.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:         baseURL,
		RequestInterval: 3 * time.Second,
		MaxAttempts:     4,
		MaxInFlight:     4,
		Timeout:         30 * time.Second,
	}
}

// Client performs validated fetches against one note service. All
// methods are safe for concurrent use; the rate limiter is the single
// coordination point across them.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	sem     chan struct{}
	logger  *log.Logger
}

// New creates a Client. If httpClient is nil, a client with the
// configured timeout is used. If logger is nil, a default logger
// writing to stderr is used.
func New(cfg Config, httpClient *http.Client, logger *log.Logger) *Client {
	if cfg.RequestInterval <= 0 {
		cfg.RequestInterval = 3 * time.Second
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.MaxInFlight < 1 {
		cfg.MaxInFlight = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[remote] ", log.LstdFlags)
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: "remote",
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		Timeout: 30 * time.Second,
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Printf("Circuit breaker %s -> %s", from, to)
		},
	})

	return &Client{
		cfg:     cfg,
		http:    httpClient,
		limiter: rate.NewLimiter(rate.Every(cfg.RequestInterval), 1),
		breaker: breaker,
		sem:     make(chan struct{}, cfg.MaxInFlight),
		logger:  logger,
	}
}

// ListPages fetches the project listing: one (id, updated_at,
// checksum) tuple per page. A failure here means the project cannot be
// synced at all this run.
func (c *Client) ListPages(ctx context.Context, project string) (snapshot.Listing, error) {
	resource := fmt.Sprintf("%s/list", project)
	body, err := c.get(ctx, c.listingURL(project), resource)
	if err != nil {
		return nil, err
	}

	listing, err := schema.ValidateListing(body)
	if err != nil {
		return nil, &FetchError{Resource: resource, Kind: snapshot.FailurePermanent, Attempts: 1, Err: err}
	}

	c.logger.Printf("Listed %s: %d pages", project, len(listing))
	return listing, nil
}

// FetchPage fetches one page's full content. The result always passed
// schema validation; a payload that decodes only partially is an
// error, never a page with missing fields.
func (c *Client) FetchPage(ctx context.Context, project, id string) (*snapshot.Page, error) {
	select {
	case c.sem <- struct{}{}:
		defer func() { <-c.sem }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	resource := fmt.Sprintf("%s/%s", project, id)
	body, err := c.get(ctx, c.pageURL(project, id), resource)
	if err != nil {
		return nil, err
	}

	page, err := schema.ValidatePage(body)
	if err != nil {
		return nil, &FetchError{Resource: resource, Kind: snapshot.FailurePermanent, Attempts: 1, Err: err}
	}
	return page, nil
}

// Fetcher adapts the client to the builder's fetch signature for one
// project.
func (c *Client) Fetcher(project string) snapshot.FetchFunc {
	return func(ctx context.Context, id string) (*snapshot.Page, error) {
		return c.FetchPage(ctx, project, id)
	}
}

// get performs one rate-limited, retried GET and returns the response
// body. Transient failures are retried with exponential backoff up to
// the configured attempt count, then reported as permanent; the
// server's Retry-After request is honored when longer than the
// computed backoff.
func (c *Client) get(ctx context.Context, url, resource string) ([]byte, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 500 * time.Millisecond
	policy.MaxInterval = 30 * time.Second
	policy.Reset()

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		body, err := c.attempt(ctx, url)
		if err == nil {
			return body, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !isTransient(err) {
			return nil, &FetchError{Resource: resource, Kind: snapshot.FailurePermanent, Attempts: attempt, Err: err}
		}
		if attempt == c.cfg.MaxAttempts {
			break
		}

		delay := policy.NextBackOff()
		if hint := retryAfterHint(err); hint > delay {
			delay = hint
		}
		c.logger.Printf("Attempt %d/%d for %s failed (%v), retrying in %v",
			attempt, c.cfg.MaxAttempts, resource, err, delay.Round(time.Millisecond))

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	// Retries exhausted. Each attempt failed transiently, but with the
	// attempt budget spent the failure is permanent for this run.
	return nil, &FetchError{Resource: resource, Kind: snapshot.FailurePermanent, Attempts: c.cfg.MaxAttempts, Err: lastErr}
}

// attempt performs a single HTTP request through the circuit breaker.
func (c *Client) attempt(ctx context.Context, url string) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	body, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		if c.cfg.SessionCookie != "" {
			req.AddCookie(&http.Cookie{Name: "connect.sid", Value: c.cfg.SessionCookie})
		}
		if c.cfg.UserAgent != "" {
			req.Header.Set("User-Agent", c.cfg.UserAgent)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			// Drain so the connection can be reused.
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			return nil, newStatusError(resp)
		}

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
		if err != nil {
			return nil, fmt.Errorf("failed to read response body: %w", err)
		}
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return body.([]byte), nil
}

func (c *Client) listingURL(project string) string {
	return fmt.Sprintf("%s/api/pages/%s/list",
		strings.TrimRight(c.cfg.BaseURL, "/"), url.PathEscape(project))
}

func (c *Client) pageURL(project, id string) string {
	return fmt.Sprintf("%s/api/pages/%s/%s",
		strings.TrimRight(c.cfg.BaseURL, "/"), url.PathEscape(project), url.PathEscape(id))
}
