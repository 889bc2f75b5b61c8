// Package proxy implements the FetchClient that retrieves competitor pages
// through a third-party scraping proxy.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/JakeFAU/competitor-price-intel/internal/metrics"
	"github.com/JakeFAU/competitor-price-intel/internal/pricing"
)

// TokenAcquirer is the part of the rate limiter the client depends on.
type TokenAcquirer interface {
	Acquire(ctx context.Context, n int) error
}

// Config controls how the proxy is called.
type Config struct {
	Endpoint       string
	APIKey         string
	Render         bool
	CountryCode    string
	UserAgent      string
	Timeout        time.Duration
	MaxAttempts    int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	// FailureCacheSize bounds the permanent-failure cache; zero disables it.
	FailureCacheSize int
	FailureCacheTTL  time.Duration
}

// Option customizes a Client.
type Option func(*Client)

// WithTransport swaps the HTTP transport used for proxy calls.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		c.transport = rt
	}
}

// Client fetches pages through the scraping proxy. It holds no mutable state
// besides the shared limiter and the internally synchronized failure cache, so
// concurrent Fetch calls are safe.
type Client struct {
	cfg           Config
	endpoint      *url.URL
	limiter       TokenAcquirer
	retry         *RetryPolicy
	transport     http.RoundTripper
	baseCollector *colly.Collector
	failures      *expirable.LRU[string, error]
	logger        *zap.Logger
}

// New builds a Client. Missing endpoint or credential is a configuration error.
func New(cfg Config, limiter TokenAcquirer, logger *zap.Logger, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("proxy.endpoint must be set: %w", pricing.ErrConfiguration)
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("proxy.api_key must be set: %w", pricing.ErrConfiguration)
	}
	if limiter == nil {
		return nil, fmt.Errorf("proxy rate limiter is required: %w", pricing.ErrConfiguration)
	}
	endpoint, err := url.Parse(cfg.Endpoint)
	if err != nil || endpoint.Host == "" {
		return nil, fmt.Errorf("proxy.endpoint %q is not a valid url: %w", cfg.Endpoint, pricing.ErrConfiguration)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Client{
		cfg:       cfg,
		endpoint:  endpoint,
		limiter:   limiter,
		retry:     NewRetryPolicy(cfg.MaxAttempts, cfg.BackoffInitial, cfg.BackoffMax),
		transport: newHTTPTransport(),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	if cfg.FailureCacheSize > 0 {
		ttl := cfg.FailureCacheTTL
		if ttl <= 0 {
			ttl = time.Hour
		}
		c.failures = expirable.NewLRU[string, error](cfg.FailureCacheSize, nil, ttl)
	}

	// The backend is shared by every clone, so everything that touches it is
	// configured once here.
	collector := colly.NewCollector(colly.Async(false))
	if cfg.UserAgent != "" {
		collector.UserAgent = cfg.UserAgent
	}
	collector.AllowURLRevisit = true
	collector.IgnoreRobotsTxt = true
	collector.SetRequestTimeout(cfg.Timeout)
	collector.WithTransport(c.transport)
	c.baseCollector = collector

	return c, nil
}

// Fetch returns the page content for target. Transient failures are retried
// with jittered exponential backoff, each attempt consuming a fresh token.
func (c *Client) Fetch(ctx context.Context, target string) ([]byte, error) {
	if err := validateTarget(target); err != nil {
		metrics.ObserveFetchAttempt("permanent", 0)
		return nil, err
	}
	if c.failures != nil {
		if cached, ok := c.failures.Get(target); ok {
			c.logger.Debug("skipping url with cached permanent failure", zap.String("url", target))
			return nil, fmt.Errorf("fetch %s (cached): %w", target, cached)
		}
	}

	proxyURL := c.proxyURL(target)
	var lastErr error
	attempts := 0
	for {
		attempts++
		body, err := c.attempt(ctx, proxyURL)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if ctx.Err() != nil || !c.retry.ShouldRetry(err, attempts) {
			break
		}
		delay := c.retry.Backoff(attempts - 1)
		c.logger.Debug("retrying proxy fetch",
			zap.String("url", target),
			zap.Int("attempt", attempts),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		if !pause(ctx, delay) {
			break
		}
	}

	var permanent *pricing.PermanentFetchError
	if c.failures != nil && errors.As(lastErr, &permanent) {
		c.failures.Add(target, lastErr)
	}
	if pricing.IsTransient(lastErr) {
		return nil, fmt.Errorf("fetch %s after %d attempts: %w", target, attempts, lastErr)
	}
	return nil, fmt.Errorf("fetch %s: %w", target, lastErr)
}

// attempt performs one rate limited proxy call bounded by the client timeout.
func (c *Client) attempt(ctx context.Context, proxyURL string) ([]byte, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	if err := c.limiter.Acquire(attemptCtx, 1); err != nil {
		metrics.ObserveFetchAttempt(pricing.ErrorLabel(err), 0)
		return nil, fmt.Errorf("acquire proxy token: %w", err)
	}

	var (
		body       []byte
		statusCode int
	)
	collector := c.baseCollector.Clone()
	collector.Context = attemptCtx
	collector.OnResponse(func(r *colly.Response) {
		statusCode = r.StatusCode
		body = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(r *colly.Response, _ error) {
		if r != nil {
			statusCode = r.StatusCode
		}
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(proxyURL)
	}()

	select {
	case <-attemptCtx.Done():
		err := classify(attemptCtx.Err(), 0)
		metrics.ObserveFetchAttempt(pricing.ErrorLabel(err), 0)
		return nil, err
	case visitErr := <-done:
		if err := classify(visitErr, statusCode); err != nil {
			metrics.ObserveFetchAttempt(pricing.ErrorLabel(err), 0)
			return nil, err
		}
		metrics.ObserveFetchAttempt("success", len(body))
		return body, nil
	}
}

func (c *Client) proxyURL(target string) string {
	u := *c.endpoint
	q := u.Query()
	q.Set("api_key", c.cfg.APIKey)
	q.Set("url", target)
	if c.cfg.Render {
		q.Set("render", "true")
	}
	if c.cfg.CountryCode != "" {
		q.Set("country_code", strings.ToLower(c.cfg.CountryCode))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func pause(ctx context.Context, delay time.Duration) bool {
	if delay <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
