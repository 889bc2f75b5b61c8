// Package postgres provides the Postgres-backed ResultStore.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/JakeFAU/competitor-price-intel/internal/pricing"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// DefaultTable is used when no table is configured. Expected schema:
//
//	CREATE TABLE price_summaries (
//		shop_id          text        NOT NULL,
//		sku_code         text        NOT NULL,
//		min_price        numeric(12,2),
//		max_price        numeric(12,2),
//		competitor_count integer     NOT NULL,
//		price_details    jsonb       NOT NULL,
//		scraped_at       timestamptz NOT NULL,
//		scrape_id        text,
//		PRIMARY KEY (shop_id, sku_code)
//	);
const DefaultTable = "price_summaries"

// SummaryStoreConfig controls the Postgres connection pool.
type SummaryStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Ping(context.Context) error
	Close()
}

// SummaryStore persists price summaries in Postgres, one row per shop and SKU.
type SummaryStore struct {
	pool  pool
	table string
	now   func() time.Time
}

// NewSummaryStore connects a pool using cfg.
func NewSummaryStore(ctx context.Context, cfg SummaryStoreConfig) (*SummaryStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("storage.postgres.dsn is required: %w", pricing.ErrConfiguration)
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &SummaryStore{pool: p, table: table, now: time.Now}, nil
}

// NewSummaryStoreWithPool builds a store over an existing pool (primarily for testing).
func NewSummaryStoreWithPool(p pool, table string) (*SummaryStore, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	table, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &SummaryStore{pool: p, table: table, now: time.Now}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q: %w", table, pricing.ErrConfiguration)
	}
	return table, nil
}

// Ping verifies the database is reachable.
func (s *SummaryStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *SummaryStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// Upsert writes summary, overwriting the previous row for its shop and SKU.
func (s *SummaryStore) Upsert(ctx context.Context, summary pricing.PriceSummary) error {
	if summary.ShopID == "" || summary.SKUCode == "" {
		return errors.New("summary shop id and sku code are required")
	}
	details := summary.PriceDetails
	if details == nil {
		details = []pricing.PageResult{}
	}
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("marshal price details: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	shop_id,
	sku_code,
	min_price,
	max_price,
	competitor_count,
	price_details,
	scraped_at,
	scrape_id
) VALUES (
	$1,$2,$3::numeric,$4::numeric,$5,$6,$7,$8
)
ON CONFLICT (shop_id, sku_code) DO UPDATE SET
	min_price = EXCLUDED.min_price,
	max_price = EXCLUDED.max_price,
	competitor_count = EXCLUDED.competitor_count,
	price_details = EXCLUDED.price_details,
	scraped_at = EXCLUDED.scraped_at,
	scrape_id = EXCLUDED.scrape_id`, s.table)

	args := []any{
		summary.ShopID,
		summary.SKUCode,
		priceArg(summary.MinPrice),
		priceArg(summary.MaxPrice),
		summary.CompetitorCount,
		detailsJSON,
		summary.ScrapedAt,
		nullable(summary.ScrapeID),
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert price summary: %w", err)
	}
	return nil
}

// Get returns summaries for shopID ordered by SKU code. An empty skuCode
// selects every SKU; maxAge <= 0 disables the freshness filter.
func (s *SummaryStore) Get(ctx context.Context, shopID, skuCode string, maxAge time.Duration) ([]pricing.PriceSummary, error) {
	var b strings.Builder
	fmt.Fprintf(&b, `
SELECT shop_id, sku_code, min_price::text, max_price::text, competitor_count, price_details, scraped_at, scrape_id
FROM %s
WHERE shop_id = $1`, s.table)
	args := []any{shopID}
	if skuCode != "" {
		args = append(args, skuCode)
		fmt.Fprintf(&b, " AND sku_code = $%d", len(args))
	}
	if maxAge > 0 {
		args = append(args, s.now().Add(-maxAge).UTC())
		fmt.Fprintf(&b, " AND scraped_at >= $%d", len(args))
	}
	b.WriteString(" ORDER BY sku_code")

	rows, err := s.pool.Query(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query price summaries: %w", err)
	}
	defer rows.Close()

	var out []pricing.PriceSummary
	for rows.Next() {
		var (
			summary            pricing.PriceSummary
			minPrice, maxPrice *string
			details            []byte
			scrapeID           *string
		)
		if err := rows.Scan(
			&summary.ShopID,
			&summary.SKUCode,
			&minPrice,
			&maxPrice,
			&summary.CompetitorCount,
			&details,
			&summary.ScrapedAt,
			&scrapeID,
		); err != nil {
			return nil, fmt.Errorf("scan price summary: %w", err)
		}
		if summary.MinPrice, err = parsePrice(minPrice); err != nil {
			return nil, err
		}
		if summary.MaxPrice, err = parsePrice(maxPrice); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(details, &summary.PriceDetails); err != nil {
			return nil, fmt.Errorf("decode price details for %s/%s: %w", summary.ShopID, summary.SKUCode, err)
		}
		if scrapeID != nil {
			summary.ScrapeID = *scrapeID
		}
		out = append(out, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate price summaries: %w", err)
	}
	return out, nil
}

func priceArg(p *decimal.Decimal) *string {
	if p == nil {
		return nil
	}
	s := p.StringFixed(2)
	return &s
}

func parsePrice(s *string) (*decimal.Decimal, error) {
	if s == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return nil, fmt.Errorf("parse stored price %q: %w", *s, err)
	}
	return &d, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
