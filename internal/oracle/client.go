// Package oracle fetches token prices from the external price feed. It
// owns the short-lived per-token cache, the bounded retry policy, and the
// feed-down circuit breaker.
package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/moonflip/flip-engine/internal/metrics"
	"github.com/moonflip/flip-engine/internal/model"
)

var (
	// ErrFeedDown is returned while the circuit breaker is open. Callers
	// must treat it as "bets paused", not as a transient fetch failure.
	ErrFeedDown = errors.New("oracle: price feed down")

	// ErrTokenNotFound is returned when the feed has no price for the
	// token. Never retried.
	ErrTokenNotFound = errors.New("oracle: token not found")
)

const (
	maxAttempts    = 3
	rateLimitDelay = time.Second
	serverErrDelay = 500 * time.Millisecond
)

// Options configure a Client. Zero-value fields get sensible defaults.
type Options struct {
	BaseURL       string
	Timeout       time.Duration // per-request timeout
	CacheTTL      time.Duration // how long a sample stays fresh
	FeedDownAfter time.Duration // continuous failure before the breaker opens
}

// Client fetches prices over HTTP with caching and a circuit breaker.
// Safe for concurrent use.
type Client struct {
	baseURL       string
	http          *http.Client
	cacheTTL      time.Duration
	feedDownAfter time.Duration

	mu           sync.Mutex
	cache        map[string]model.PriceSample
	failingSince time.Time // zero when healthy
	down         bool
}

// New creates a price oracle client.
func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 2 * time.Second
	}
	if opts.FeedDownAfter <= 0 {
		opts.FeedDownAfter = 30 * time.Second
	}
	return &Client{
		baseURL:       opts.BaseURL,
		http:          &http.Client{Timeout: opts.Timeout},
		cacheTTL:      opts.CacheTTL,
		feedDownAfter: opts.FeedDownAfter,
		cache:         make(map[string]model.PriceSample),
	}
}

// priceResponse mirrors the feed's JSON shape:
// {"data":{"<mint>":{"price":0.0000234,"confidence":0.95}}}
type priceResponse struct {
	Data map[string]struct {
		Price      decimal.Decimal `json:"price"`
		Confidence decimal.Decimal `json:"confidence"`
	} `json:"data"`
}

// GetPrice returns the current price for token. When forceRefresh is false
// a cached sample within the TTL is returned without network I/O; settlement
// passes forceRefresh=true to guarantee a live read.
func (c *Client) GetPrice(ctx context.Context, tokenAddress string, forceRefresh bool) (model.PriceSample, error) {
	if !forceRefresh {
		if sample, ok := c.cached(tokenAddress); ok {
			metrics.OracleRequestsTotal.WithLabelValues("hit").Inc()
			return sample, nil
		}
	}

	if c.Down() {
		metrics.OracleRequestsTotal.WithLabelValues("feed_down").Inc()
		return model.PriceSample{}, ErrFeedDown
	}

	sample, err := c.fetch(ctx, tokenAddress)
	if err != nil {
		c.recordFailure(err)
		metrics.OracleRequestsTotal.WithLabelValues("error").Inc()
		return model.PriceSample{}, err
	}

	c.recordSuccess(tokenAddress, sample)
	metrics.OracleRequestsTotal.WithLabelValues("fetched").Inc()
	return sample, nil
}

// fetch performs the HTTP request with the bounded retry policy:
// exponential backoff on 429, fixed short delay on 5xx, no retry on
// not-found or malformed responses.
func (c *Client) fetch(ctx context.Context, tokenAddress string) (model.PriceSample, error) {
	var lastErr error
	backoff := rateLimitDelay

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		sample, retryable, delay, err := c.fetchOnce(ctx, tokenAddress, backoff)
		if err == nil {
			return sample, nil
		}
		lastErr = err
		if !retryable {
			return model.PriceSample{}, err
		}
		if delay == backoff {
			backoff *= 2 // exponential only for the rate-limit path
		}
		if attempt < maxAttempts {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return model.PriceSample{}, ctx.Err()
			}
		}
	}
	return model.PriceSample{}, fmt.Errorf("oracle: %d attempts failed: %w", maxAttempts, lastErr)
}

// fetchOnce returns (sample, retryable, retryDelay, err).
func (c *Client) fetchOnce(ctx context.Context, tokenAddress string, rateLimitBackoff time.Duration) (model.PriceSample, bool, time.Duration, error) {
	u := fmt.Sprintf("%s/price?ids=%s", c.baseURL, url.QueryEscape(tokenAddress))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return model.PriceSample{}, false, 0, fmt.Errorf("oracle: building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "flip-engine/1.0")

	resp, err := c.http.Do(req)
	if err != nil {
		// Network errors (refused, DNS, timeout): retry after a short delay.
		return model.PriceSample{}, true, serverErrDelay, fmt.Errorf("oracle: request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return model.PriceSample{}, true, rateLimitBackoff, errors.New("oracle: rate limited")
	case resp.StatusCode >= 500:
		return model.PriceSample{}, true, serverErrDelay, fmt.Errorf("oracle: upstream error %d", resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return model.PriceSample{}, false, 0, ErrTokenNotFound
	case resp.StatusCode != http.StatusOK:
		return model.PriceSample{}, false, 0, fmt.Errorf("oracle: unexpected status %d", resp.StatusCode)
	}

	var body priceResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return model.PriceSample{}, false, 0, fmt.Errorf("oracle: malformed response: %w", err)
	}

	data, ok := body.Data[tokenAddress]
	if !ok {
		return model.PriceSample{}, false, 0, fmt.Errorf("%w: %s", ErrTokenNotFound, tokenAddress)
	}
	if data.Price.LessThanOrEqual(decimal.Zero) {
		return model.PriceSample{}, false, 0, fmt.Errorf("oracle: non-positive price for %s", tokenAddress)
	}

	confidence := data.Confidence
	if confidence.IsZero() {
		confidence = decimal.NewFromFloat(0.95)
	}

	return model.PriceSample{
		Price:      data.Price,
		Timestamp:  time.Now().UTC(),
		Confidence: confidence,
	}, false, 0, nil
}

func (c *Client) cached(tokenAddress string) (model.PriceSample, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sample, ok := c.cache[tokenAddress]
	if !ok || time.Since(sample.Timestamp) >= c.cacheTTL {
		return model.PriceSample{}, false
	}
	return sample, true
}

func (c *Client) recordSuccess(tokenAddress string, sample model.PriceSample) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[tokenAddress] = sample
	if c.down {
		slog.Info("price feed recovered")
	}
	c.down = false
	c.failingSince = time.Time{}
	metrics.OracleFeedDown.Set(0)
}

func (c *Client) recordFailure(err error) {
	// Not-found is a bad input, not feed health.
	if errors.Is(err, ErrTokenNotFound) {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	if c.failingSince.IsZero() {
		c.failingSince = now
		return
	}
	if !c.down && now.Sub(c.failingSince) >= c.feedDownAfter {
		c.down = true
		metrics.OracleFeedDown.Set(1)
		slog.Error("price feed marked down", "failing_for", now.Sub(c.failingSince).String())
	}
}

// Down reports whether the circuit breaker is open.
func (c *Client) Down() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.down
}

// Downtime returns how long the feed has been failing; zero when healthy.
func (c *Client) Downtime() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failingSince.IsZero() {
		return 0
	}
	return time.Since(c.failingSince)
}

// Reset clears feed-down state, for operator intervention.
func (c *Client) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.down = false
	c.failingSince = time.Time{}
	metrics.OracleFeedDown.Set(0)
	slog.Info("price feed state reset")
}

// Probe attempts one live fetch; a success clears feed-down state. Used by
// operators to test recovery without waiting for a bet.
func (c *Client) Probe(ctx context.Context, tokenAddress string) error {
	sample, err := c.fetch(ctx, tokenAddress)
	if err != nil {
		return err
	}
	c.recordSuccess(tokenAddress, sample)
	return nil
}
