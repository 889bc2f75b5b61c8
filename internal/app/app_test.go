package app_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/competitor-price-intel/internal/app"
	"github.com/JakeFAU/competitor-price-intel/internal/config"
	"github.com/JakeFAU/competitor-price-intel/internal/fetcher/proxy"
	"github.com/JakeFAU/competitor-price-intel/internal/pricing"
	"github.com/JakeFAU/competitor-price-intel/internal/storage/memory"
	"github.com/JakeFAU/competitor-price-intel/internal/storage/redis"
)

const proxyEndpoint = "https://proxy.test/"

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Proxy.Endpoint = proxyEndpoint
	cfg.Proxy.APIKey = "secret"
	cfg.Proxy.BackoffInitialMs = 1
	cfg.Proxy.BackoffMaxMs = 2
	cfg.RateLimit.RequestsPerSecond = 1000
	cfg.Scrape.ProductSpacingMs = 0
	return cfg
}

type closingStore struct {
	*memory.SummaryStore
	err error
}

func (s closingStore) Close() error { return s.err }

func TestNewAppMemoryStore(t *testing.T) {
	a, err := app.NewApp(context.Background(), testConfig(t), zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	assert.IsType(t, &memory.SummaryStore{}, a.Store())
	assert.NotNil(t, a.Logger())
	require.NoError(t, a.Ready(context.Background()))
}

func TestNewAppRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.Storage.Provider = config.StorageRedis
	cfg.Storage.Redis.Address = mr.Addr()

	a, err := app.NewApp(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &redis.SummaryStore{}, a.Store())
	require.NoError(t, a.Ready(context.Background()))

	mr.Close()
	require.Error(t, a.Ready(context.Background()))
	_ = a.Close()
}

func TestNewAppConfigErrors(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{
			name:   "postgres missing dsn",
			mutate: func(c *config.Config) { c.Storage.Provider = config.StoragePostgres },
		},
		{
			name:   "redis missing address",
			mutate: func(c *config.Config) { c.Storage.Provider = config.StorageRedis },
		},
		{
			name:   "unknown provider",
			mutate: func(c *config.Config) { c.Storage.Provider = "gcs" },
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig(t)
			tc.mutate(&cfg)
			_, err := app.NewApp(context.Background(), cfg, zap.NewNop())
			require.ErrorIs(t, err, pricing.ErrConfiguration)
		})
	}
}

func TestOrchestratorRequiresProxyCredentials(t *testing.T) {
	cfg := testConfig(t)
	cfg.Proxy.APIKey = ""

	a, err := app.NewApp(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	_, err = a.Orchestrator()
	require.ErrorIs(t, err, pricing.ErrConfiguration)
}

func TestOrchestratorScrapesThroughProxy(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, proxyEndpoint, func(req *http.Request) (*http.Response, error) {
		switch req.URL.Query().Get("url") {
		case "https://shop-a.example/p":
			return httpmock.NewStringResponse(http.StatusOK, `<html><body><span class="price">£8.50</span></body></html>`), nil
		case "https://shop-b.example/p":
			return httpmock.NewStringResponse(http.StatusOK, `<html><body><p>Now only £10.00</p></body></html>`), nil
		default:
			return httpmock.NewStringResponse(http.StatusNotFound, "not found"), nil
		}
	})

	a, err := app.NewApp(context.Background(), testConfig(t), zap.NewNop(), app.WithProxyOptions(proxy.WithTransport(transport)))
	require.NoError(t, err)
	defer a.Close()

	orch, err := a.Orchestrator()
	require.NoError(t, err)
	again, err := a.Orchestrator()
	require.NoError(t, err)
	require.Same(t, orch, again)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	summary, err := orch.ScrapeProduct(ctx, pricing.ScrapeRequest{
		ShopID:  "shop-1",
		SKUCode: "SKU-1",
		CompetitorURLs: []string{
			"https://shop-a.example/p",
			"https://shop-b.example/p",
			"https://shop-c.example/p",
		},
	})
	require.NoError(t, err)
	require.Equal(t, 2, summary.CompetitorCount)
	require.Equal(t, "8.5", summary.MinPrice.String())
	require.Equal(t, "10", summary.MaxPrice.String())
	require.Equal(t, pricing.OutcomeFetchFailed, summary.PriceDetails[2].Outcome)

	require.NoError(t, a.Store().Upsert(ctx, summary))
	stored, err := a.Store().Get(ctx, "shop-1", "SKU-1", 0)
	require.NoError(t, err)
	require.Len(t, stored, 1)
}

func TestCloseReturnsStoreError(t *testing.T) {
	store := closingStore{SummaryStore: memory.NewSummaryStore(), err: errors.New("boom")}
	a, err := app.NewApp(context.Background(), testConfig(t), zap.NewNop(), app.WithStore(store))
	require.NoError(t, err)
	require.ErrorContains(t, a.Close(), "boom")
}
