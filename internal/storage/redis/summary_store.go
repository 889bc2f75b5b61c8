// Package redis provides a Redis-backed ResultStore for deployments that
// share recent summaries between processes.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/competitor-price-intel/internal/pricing"
)

// DefaultKeyPrefix namespaces every key the store writes.
const DefaultKeyPrefix = "priceintel"

const connectionTimeout = 5 * time.Second

// Config holds the Redis connection and retention settings.
type Config struct {
	Address   string
	Password  string
	DB        int
	KeyPrefix string
	// TTL expires stored summaries; zero keeps them until overwritten.
	TTL time.Duration
}

// SummaryStore keeps each summary as a JSON string under
// <prefix>:summary:<shop>:<sku> and indexes a shop's SKUs in a set.
type SummaryStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// NewSummaryStore dials Redis and verifies the connection.
func NewSummaryStore(cfg Config) (*SummaryStore, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("storage.redis.address is required: %w", pricing.ErrConfiguration)
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return NewSummaryStoreWithClient(client, cfg.KeyPrefix, cfg.TTL), nil
}

// NewSummaryStoreWithClient wraps an existing client.
func NewSummaryStoreWithClient(client redis.UniversalClient, prefix string, ttl time.Duration) *SummaryStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	if ttl < 0 {
		ttl = 0
	}
	return &SummaryStore{client: client, prefix: prefix, ttl: ttl, now: time.Now}
}

// Key parts are query-escaped so a ':' inside a shop id or SKU cannot collide
// with the separator.
func (s *SummaryStore) summaryKey(shopID, skuCode string) string {
	return fmt.Sprintf("%s:summary:%s:%s", s.prefix, url.QueryEscape(shopID), url.QueryEscape(skuCode))
}

func (s *SummaryStore) indexKey(shopID string) string {
	return fmt.Sprintf("%s:skus:%s", s.prefix, url.QueryEscape(shopID))
}

// Upsert overwrites the summary for its shop and SKU.
func (s *SummaryStore) Upsert(ctx context.Context, summary pricing.PriceSummary) error {
	if summary.ShopID == "" || summary.SKUCode == "" {
		return errors.New("summary shop id and sku code are required")
	}
	payload, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal price summary: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.summaryKey(summary.ShopID, summary.SKUCode), payload, s.ttl)
	pipe.SAdd(ctx, s.indexKey(summary.ShopID), summary.SKUCode)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store price summary: %w", err)
	}
	return nil
}

// Get returns summaries for shopID ordered by SKU code. SKUs whose summary
// has expired are dropped from the index as they are found.
func (s *SummaryStore) Get(ctx context.Context, shopID, skuCode string, maxAge time.Duration) ([]pricing.PriceSummary, error) {
	skus := []string{skuCode}
	if skuCode == "" {
		members, err := s.client.SMembers(ctx, s.indexKey(shopID)).Result()
		if err != nil {
			return nil, fmt.Errorf("list skus for shop %s: %w", shopID, err)
		}
		if len(members) == 0 {
			return nil, nil
		}
		sort.Strings(members)
		skus = members
	}

	keys := make([]string, len(skus))
	for i, sku := range skus {
		keys[i] = s.summaryKey(shopID, sku)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load price summaries: %w", err)
	}

	var (
		out   []pricing.PriceSummary
		stale []any
	)
	cutoff := s.now().Add(-maxAge)
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			stale = append(stale, skus[i])
			continue
		}
		var summary pricing.PriceSummary
		if err := json.Unmarshal([]byte(raw), &summary); err != nil {
			return nil, fmt.Errorf("decode price summary %s: %w", keys[i], err)
		}
		if maxAge > 0 && summary.ScrapedAt.Before(cutoff) {
			continue
		}
		out = append(out, summary)
	}
	if skuCode == "" && len(stale) > 0 {
		if err := s.client.SRem(ctx, s.indexKey(shopID), stale...).Err(); err != nil {
			return nil, fmt.Errorf("prune sku index for shop %s: %w", shopID, err)
		}
	}
	return out, nil
}

// Ping verifies the server is reachable.
func (s *SummaryStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

// Close closes the client.
func (s *SummaryStore) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close redis client: %w", err)
	}
	return nil
}
