package proxy

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/competitor-price-intel/internal/pricing"
)

const testEndpoint = "https://proxy.test/"

type countingLimiter struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (l *countingLimiter) Acquire(_ context.Context, _ int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	return l.err
}

func (l *countingLimiter) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

func newTestClient(t *testing.T, cfg Config, limiter TokenAcquirer) (*Client, *httpmock.MockTransport) {
	t.Helper()
	transport := httpmock.NewMockTransport()
	if cfg.Endpoint == "" {
		cfg.Endpoint = testEndpoint
	}
	if cfg.APIKey == "" {
		cfg.APIKey = "secret"
	}
	if cfg.BackoffInitial == 0 {
		cfg.BackoffInitial = time.Millisecond
		cfg.BackoffMax = 2 * time.Millisecond
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = time.Second
	}
	client, err := New(cfg, limiter, zap.NewNop(), WithTransport(transport))
	require.NoError(t, err)
	return client, transport
}

// sequenceResponder replies with the given status codes in order, repeating the last.
func sequenceResponder(codes ...int) httpmock.Responder {
	var (
		mu   sync.Mutex
		next int
	)
	return func(_ *http.Request) (*http.Response, error) {
		mu.Lock()
		defer mu.Unlock()
		code := codes[next]
		if next < len(codes)-1 {
			next++
		}
		return httpmock.NewStringResponse(code, "<html><span class=\"price\">£10.00</span></html>"), nil
	}
}

func TestFetchPassesProxyParameters(t *testing.T) {
	t.Parallel()

	limiter := &countingLimiter{}
	client, transport := newTestClient(t, Config{Render: true, CountryCode: "GB"}, limiter)

	var seen *http.Request
	transport.RegisterResponder(http.MethodGet, testEndpoint, func(req *http.Request) (*http.Response, error) {
		seen = req
		return httpmock.NewStringResponse(http.StatusOK, "<html>ok</html>"), nil
	})

	body, err := client.Fetch(context.Background(), "https://shop.example/p/1?variant=2")
	require.NoError(t, err)
	require.Equal(t, "<html>ok</html>", string(body))
	require.Equal(t, 1, limiter.count())

	require.NotNil(t, seen)
	q := seen.URL.Query()
	require.Equal(t, "secret", q.Get("api_key"))
	require.Equal(t, "https://shop.example/p/1?variant=2", q.Get("url"))
	require.Equal(t, "true", q.Get("render"))
	require.Equal(t, "gb", q.Get("country_code"))
}

func TestFetchRetriesTransientStatus(t *testing.T) {
	t.Parallel()

	limiter := &countingLimiter{}
	client, transport := newTestClient(t, Config{MaxAttempts: 3}, limiter)
	transport.RegisterResponder(http.MethodGet, testEndpoint,
		sequenceResponder(http.StatusBadGateway, http.StatusTooManyRequests, http.StatusOK))

	body, err := client.Fetch(context.Background(), "https://shop.example/p/1")
	require.NoError(t, err)
	require.Contains(t, string(body), "£10.00")
	require.Equal(t, 3, transport.GetTotalCallCount())
	require.Equal(t, 3, limiter.count(), "every retry re-acquires a token")
}

func TestFetchTransientExhausted(t *testing.T) {
	t.Parallel()

	limiter := &countingLimiter{}
	client, transport := newTestClient(t, Config{MaxAttempts: 2}, limiter)
	transport.RegisterResponder(http.MethodGet, testEndpoint, sequenceResponder(http.StatusServiceUnavailable))

	_, err := client.Fetch(context.Background(), "https://shop.example/p/1")
	require.Error(t, err)

	var transient *pricing.TransientFetchError
	require.True(t, errors.As(err, &transient))
	require.Equal(t, http.StatusServiceUnavailable, transient.StatusCode)
	require.Equal(t, 2, transport.GetTotalCallCount())
}

func TestFetchPermanentStatusNotRetried(t *testing.T) {
	t.Parallel()

	limiter := &countingLimiter{}
	client, transport := newTestClient(t, Config{MaxAttempts: 5}, limiter)
	transport.RegisterResponder(http.MethodGet, testEndpoint, sequenceResponder(http.StatusNotFound))

	_, err := client.Fetch(context.Background(), "https://shop.example/missing")
	var permanent *pricing.PermanentFetchError
	require.True(t, errors.As(err, &permanent))
	require.Equal(t, http.StatusNotFound, permanent.StatusCode)
	require.Equal(t, 1, transport.GetTotalCallCount())
}

func TestFetchMalformedURL(t *testing.T) {
	t.Parallel()

	limiter := &countingLimiter{}
	client, transport := newTestClient(t, Config{}, limiter)

	for _, raw := range []string{"not a url", "ftp://shop.example/file", "https:///nohost", "://"} {
		_, err := client.Fetch(context.Background(), raw)
		var permanent *pricing.PermanentFetchError
		require.True(t, errors.As(err, &permanent), "url %q", raw)
	}
	require.Zero(t, transport.GetTotalCallCount())
	require.Zero(t, limiter.count())
}

func TestFetchRateLimitTimeout(t *testing.T) {
	t.Parallel()

	limiter := &countingLimiter{err: pricing.ErrRateLimitTimeout}
	client, transport := newTestClient(t, Config{MaxAttempts: 3}, limiter)
	transport.RegisterResponder(http.MethodGet, testEndpoint, sequenceResponder(http.StatusOK))

	_, err := client.Fetch(context.Background(), "https://shop.example/p/1")
	require.ErrorIs(t, err, pricing.ErrRateLimitTimeout)
	require.Zero(t, transport.GetTotalCallCount())
	require.Equal(t, 1, limiter.count())
}

func TestFetchCachesPermanentFailures(t *testing.T) {
	t.Parallel()

	limiter := &countingLimiter{}
	client, transport := newTestClient(t, Config{FailureCacheSize: 8, FailureCacheTTL: time.Minute}, limiter)
	transport.RegisterResponder(http.MethodGet, testEndpoint, sequenceResponder(http.StatusGone))

	_, err := client.Fetch(context.Background(), "https://shop.example/gone")
	require.Error(t, err)
	_, err = client.Fetch(context.Background(), "https://shop.example/gone")
	var permanent *pricing.PermanentFetchError
	require.True(t, errors.As(err, &permanent))

	require.Equal(t, 1, transport.GetTotalCallCount())
	require.Equal(t, 1, limiter.count())
}

func TestFetchCanceledContext(t *testing.T) {
	t.Parallel()

	limiter := &countingLimiter{}
	client, transport := newTestClient(t, Config{MaxAttempts: 3}, limiter)
	transport.RegisterResponder(http.MethodGet, testEndpoint, sequenceResponder(http.StatusInternalServerError))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.Fetch(ctx, "https://shop.example/p/1")
	require.Error(t, err)
	require.LessOrEqual(t, transport.GetTotalCallCount(), 1)
}

func TestNewRequiresCredentials(t *testing.T) {
	t.Parallel()

	limiter := &countingLimiter{}
	tests := []struct {
		name string
		cfg  Config
		lim  TokenAcquirer
	}{
		{name: "missing endpoint", cfg: Config{APIKey: "k"}, lim: limiter},
		{name: "missing api key", cfg: Config{Endpoint: testEndpoint}, lim: limiter},
		{name: "invalid endpoint", cfg: Config{Endpoint: "proxy", APIKey: "k"}, lim: limiter},
		{name: "missing limiter", cfg: Config{Endpoint: testEndpoint, APIKey: "k"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := New(tt.cfg, tt.lim, nil)
			require.ErrorIs(t, err, pricing.ErrConfiguration)
		})
	}
}
