// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/competitor-price-intel/internal/config"
	"github.com/JakeFAU/competitor-price-intel/internal/extract"
	"github.com/JakeFAU/competitor-price-intel/internal/fetcher/proxy"
	"github.com/JakeFAU/competitor-price-intel/internal/orchestrator"
	"github.com/JakeFAU/competitor-price-intel/internal/policy/ratelimit"
	"github.com/JakeFAU/competitor-price-intel/internal/pricing"
	"github.com/JakeFAU/competitor-price-intel/internal/storage/memory"
	"github.com/JakeFAU/competitor-price-intel/internal/storage/postgres"
	"github.com/JakeFAU/competitor-price-intel/internal/storage/redis"
)

type pinger interface {
	Ping(ctx context.Context) error
}

// Option customizes App construction.
type Option func(*App)

// WithStore replaces the configured ResultStore.
func WithStore(store pricing.ResultStore) Option {
	return func(a *App) {
		a.store = store
	}
}

// WithProxyOptions forwards options to the proxy client, e.g. a test transport.
func WithProxyOptions(opts ...proxy.Option) Option {
	return func(a *App) {
		a.proxyOpts = append(a.proxyOpts, opts...)
	}
}

// App holds the shared, long-lived services for one process. The store is
// built eagerly; the fetch path is built on first use so read-only commands
// need no proxy credentials.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	store     pricing.ResultStore
	proxyOpts []proxy.Option

	once         sync.Once
	orchestrator *orchestrator.Orchestrator
	orchErr      error
}

// NewApp creates the App for cfg. It fails fast when the store cannot be reached.
func NewApp(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}
	for _, opt := range opts {
		opt(a)
	}
	if a.store == nil {
		store, err := newStore(ctx, cfg.Storage, logger)
		if err != nil {
			return nil, fmt.Errorf("initialize storage: %w", err)
		}
		a.store = store
	}
	return a, nil
}

func newStore(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (pricing.ResultStore, error) {
	switch cfg.Provider {
	case config.StorageMemory, "":
		logger.Info("using in-memory result store; summaries are lost on exit")
		return memory.NewSummaryStore(), nil
	case config.StoragePostgres:
		logger.Info("using postgres result store", zap.String("table", cfg.Postgres.Table))
		store, err := postgres.NewSummaryStore(ctx, postgres.SummaryStoreConfig{
			DSN:             cfg.Postgres.DSN,
			Table:           cfg.Postgres.Table,
			MaxConns:        cfg.Postgres.MaxConns,
			MinConns:        cfg.Postgres.MinConns,
			MaxConnLifetime: time.Duration(cfg.Postgres.MaxConnLifetimeSeconds) * time.Second,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.StorageRedis:
		logger.Info("using redis result store", zap.String("address", cfg.Redis.Address))
		store, err := redis.NewSummaryStore(redis.Config{
			Address:   cfg.Redis.Address,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
			TTL:       time.Duration(cfg.Redis.TTLSeconds) * time.Second,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage provider %q: %w", cfg.Provider, pricing.ErrConfiguration)
	}
}

// Config returns the configuration the App was built from.
func (a *App) Config() config.Config {
	return a.cfg
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Store returns the configured ResultStore.
func (a *App) Store() pricing.ResultStore {
	return a.store
}

// Orchestrator builds the rate limited proxy client and the orchestrator on
// first call and returns the same instance afterwards.
func (a *App) Orchestrator() (*orchestrator.Orchestrator, error) {
	a.once.Do(func() {
		a.orchestrator, a.orchErr = a.buildOrchestrator()
	})
	return a.orchestrator, a.orchErr
}

func (a *App) buildOrchestrator() (*orchestrator.Orchestrator, error) {
	limiter := ratelimit.New(ratelimit.Config{
		RatePerSecond: a.cfg.RateLimit.RequestsPerSecond,
		Burst:         a.cfg.RateLimit.Burst,
	})
	p := a.cfg.Proxy
	client, err := proxy.New(proxy.Config{
		Endpoint:         p.Endpoint,
		APIKey:           p.APIKey,
		Render:           p.Render,
		CountryCode:      p.CountryCode,
		UserAgent:        p.UserAgent,
		Timeout:          a.cfg.ProxyTimeout(),
		MaxAttempts:      p.MaxAttempts,
		BackoffInitial:   time.Duration(p.BackoffInitialMs) * time.Millisecond,
		BackoffMax:       time.Duration(p.BackoffMaxMs) * time.Millisecond,
		FailureCacheSize: p.FailureCacheSize,
		FailureCacheTTL:  time.Duration(p.FailureCacheTTLSeconds) * time.Second,
	}, limiter, a.logger.Named("proxy"), a.proxyOpts...)
	if err != nil {
		return nil, fmt.Errorf("build proxy client: %w", err)
	}

	normalizer, err := a.cfg.Normalizer()
	if err != nil {
		return nil, err
	}
	policy, err := extract.PolicyByName(a.cfg.Scrape.SelectionPolicy)
	if err != nil {
		return nil, fmt.Errorf("scrape.selection_policy: %w", err)
	}

	orch, err := orchestrator.New(client, extract.NewDefault(), orchestrator.Config{
		Concurrency:    a.cfg.Scrape.Concurrency,
		ProductTimeout: a.cfg.ProductTimeout(),
		ProductSpacing: a.cfg.ProductSpacing(),
	},
		orchestrator.WithNormalizer(normalizer),
		orchestrator.WithSelectionPolicy(policy),
		orchestrator.WithLogger(a.logger.Named("orchestrator")),
	)
	if err != nil {
		return nil, fmt.Errorf("build orchestrator: %w", err)
	}
	return orch, nil
}

// Ready reports whether the store can serve traffic.
func (a *App) Ready(ctx context.Context) error {
	if p, ok := a.store.(pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Close gracefully shuts down the services held by the App.
func (a *App) Close() error {
	a.logger.Info("shutting down application services")
	var errs []error
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Error("failed to close result store", zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
