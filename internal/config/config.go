// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/JakeFAU/competitor-price-intel/internal/extract"
	"github.com/JakeFAU/competitor-price-intel/internal/pricing"
)

// Storage providers accepted by storage.provider.
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
	StorageRedis    = "redis"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Proxy     ProxyConfig             `mapstructure:"proxy"`
	RateLimit RateLimitConfig         `mapstructure:"ratelimit"`
	Scrape    ScrapeConfig            `mapstructure:"scrape"`
	Storage   StorageConfig           `mapstructure:"storage"`
	Logging   LoggingConfig           `mapstructure:"logging"`
	Metrics   MetricsConfig           `mapstructure:"metrics"`
	Products  []pricing.ScrapeRequest `mapstructure:"products"`
}

// ProxyConfig describes the scraping proxy and how calls to it are retried.
type ProxyConfig struct {
	Endpoint               string `mapstructure:"endpoint"`
	APIKey                 string `mapstructure:"api_key"`
	Render                 bool   `mapstructure:"render"`
	CountryCode            string `mapstructure:"country_code"`
	UserAgent              string `mapstructure:"user_agent"`
	TimeoutSeconds         int    `mapstructure:"timeout_seconds"`
	MaxAttempts            int    `mapstructure:"max_attempts"`
	BackoffInitialMs       int    `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs           int    `mapstructure:"backoff_max_ms"`
	FailureCacheSize       int    `mapstructure:"failure_cache_size"`
	FailureCacheTTLSeconds int    `mapstructure:"failure_cache_ttl_seconds"`
}

// RateLimitConfig sizes the token bucket shared by every proxy call.
type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// ScrapeConfig governs per-product concurrency, deadlines and price selection.
type ScrapeConfig struct {
	Concurrency           int    `mapstructure:"concurrency"`
	ProductTimeoutSeconds int    `mapstructure:"product_timeout_seconds"`
	ProductSpacingMs      int    `mapstructure:"product_spacing_ms"`
	SelectionPolicy       string `mapstructure:"selection_policy"`
	MinPrice              string `mapstructure:"min_price"`
	MaxPrice              string `mapstructure:"max_price"`
}

// StorageConfig selects and configures the ResultStore.
type StorageConfig struct {
	Provider string         `mapstructure:"provider"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig controls the Postgres pool.
type PostgresConfig struct {
	DSN                    string `mapstructure:"dsn"`
	Table                  string `mapstructure:"table"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeSeconds int    `mapstructure:"max_conn_lifetime_seconds"`
}

// RedisConfig controls the Redis client.
type RedisConfig struct {
	Address    string `mapstructure:"address"`
	Password   string `mapstructure:"password"`
	DB         int    `mapstructure:"db"`
	KeyPrefix  string `mapstructure:"key_prefix"`
	TTLSeconds int    `mapstructure:"ttl_seconds"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// MetricsConfig sets the Prometheus listener address; empty disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PRICEINTEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("proxy.endpoint", "")
	v.SetDefault("proxy.api_key", "")
	v.SetDefault("proxy.render", false)
	v.SetDefault("proxy.country_code", "")
	v.SetDefault("proxy.user_agent", "competitor-price-intel/0.1")
	v.SetDefault("proxy.timeout_seconds", 60)
	v.SetDefault("proxy.max_attempts", 3)
	v.SetDefault("proxy.backoff_initial_ms", 250)
	v.SetDefault("proxy.backoff_max_ms", 5000)
	v.SetDefault("proxy.failure_cache_size", 1024)
	v.SetDefault("proxy.failure_cache_ttl_seconds", 3600)
	v.SetDefault("ratelimit.requests_per_second", 1.0)
	v.SetDefault("ratelimit.burst", 5)
	v.SetDefault("scrape.concurrency", 5)
	v.SetDefault("scrape.product_timeout_seconds", 120)
	v.SetDefault("scrape.product_spacing_ms", 2000)
	v.SetDefault("scrape.selection_policy", "lowest")
	v.SetDefault("scrape.min_price", extract.DefaultMinPrice.StringFixed(2))
	v.SetDefault("scrape.max_price", extract.DefaultMaxPrice.StringFixed(2))
	v.SetDefault("storage.provider", StorageMemory)
	v.SetDefault("storage.postgres.dsn", "")
	v.SetDefault("storage.postgres.table", "price_summaries")
	v.SetDefault("storage.postgres.max_conns", 4)
	v.SetDefault("storage.postgres.min_conns", 0)
	v.SetDefault("storage.postgres.max_conn_lifetime_seconds", 1800)
	v.SetDefault("storage.redis.address", "")
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.key_prefix", "priceintel")
	v.SetDefault("storage.redis.ttl_seconds", 0)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("metrics.addr", "")
}

// Validate enforces required values and reasonable limits. Proxy
// credentials are checked when the fetch client is built, so read-only
// commands run without them.
func (c Config) Validate() error {
	if c.Proxy.TimeoutSeconds <= 0 {
		return invalid("proxy.timeout_seconds must be > 0")
	}
	if c.Proxy.MaxAttempts <= 0 {
		return invalid("proxy.max_attempts must be > 0")
	}
	if c.Proxy.BackoffInitialMs < 0 || c.Proxy.BackoffMaxMs < c.Proxy.BackoffInitialMs {
		return invalid("proxy.backoff_max_ms must be >= proxy.backoff_initial_ms >= 0")
	}
	if c.Proxy.FailureCacheSize < 0 {
		return invalid("proxy.failure_cache_size must be >= 0")
	}
	if c.RateLimit.RequestsPerSecond <= 0 {
		return invalid("ratelimit.requests_per_second must be > 0")
	}
	if c.RateLimit.Burst <= 0 {
		return invalid("ratelimit.burst must be > 0")
	}
	if c.Scrape.Concurrency <= 0 {
		return invalid("scrape.concurrency must be > 0")
	}
	if c.Scrape.ProductTimeoutSeconds < 0 {
		return invalid("scrape.product_timeout_seconds must be >= 0")
	}
	if c.Scrape.ProductSpacingMs < 0 {
		return invalid("scrape.product_spacing_ms must be >= 0")
	}
	if _, err := extract.PolicyByName(c.Scrape.SelectionPolicy); err != nil {
		return fmt.Errorf("scrape.selection_policy: %w", err)
	}
	if _, err := c.Normalizer(); err != nil {
		return err
	}
	switch c.Storage.Provider {
	case StorageMemory:
	case StoragePostgres:
		if c.Storage.Postgres.DSN == "" {
			return invalid("storage.postgres.dsn must be set when storage.provider is postgres")
		}
	case StorageRedis:
		if c.Storage.Redis.Address == "" {
			return invalid("storage.redis.address must be set when storage.provider is redis")
		}
	default:
		return invalid(fmt.Sprintf("storage.provider %q must be one of memory, postgres, redis", c.Storage.Provider))
	}
	for i, p := range c.Products {
		if strings.TrimSpace(p.ShopID) == "" || strings.TrimSpace(p.SKUCode) == "" {
			return invalid(fmt.Sprintf("products[%d] needs shop_id and sku_code", i))
		}
	}
	return nil
}

func invalid(msg string) error {
	return fmt.Errorf("%s: %w", msg, pricing.ErrConfiguration)
}

// Normalizer builds the price validator from scrape.min_price and scrape.max_price.
func (c Config) Normalizer() (extract.Normalizer, error) {
	minPrice, err := decimal.NewFromString(c.Scrape.MinPrice)
	if err != nil {
		return extract.Normalizer{}, invalid(fmt.Sprintf("scrape.min_price %q is not a decimal", c.Scrape.MinPrice))
	}
	maxPrice, err := decimal.NewFromString(c.Scrape.MaxPrice)
	if err != nil {
		return extract.Normalizer{}, invalid(fmt.Sprintf("scrape.max_price %q is not a decimal", c.Scrape.MaxPrice))
	}
	if !minPrice.IsPositive() || maxPrice.LessThanOrEqual(minPrice) {
		return extract.Normalizer{}, invalid("scrape.min_price must be > 0 and below scrape.max_price")
	}
	return extract.Normalizer{Min: minPrice, Max: maxPrice}, nil
}

// ProxyTimeout is the per-attempt proxy call budget.
func (c Config) ProxyTimeout() time.Duration {
	return time.Duration(c.Proxy.TimeoutSeconds) * time.Second
}

// ProductTimeout bounds a whole product scrape; zero disables it.
func (c Config) ProductTimeout() time.Duration {
	return time.Duration(c.Scrape.ProductTimeoutSeconds) * time.Second
}

// ProductSpacing is the pause between products in a batch.
func (c Config) ProductSpacing() time.Duration {
	return time.Duration(c.Scrape.ProductSpacingMs) * time.Millisecond
}
