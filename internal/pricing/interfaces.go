package pricing

import (
	"context"
	"time"
)

// Fetcher retrieves raw page content for a competitor URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// ResultStore persists summaries keyed by (shop, SKU) with overwrite semantics.
type ResultStore interface {
	Upsert(ctx context.Context, summary PriceSummary) error
	// Get returns summaries for a shop. An empty skuCode matches every SKU and
	// maxAge <= 0 disables the freshness filter.
	Get(ctx context.Context, shopID, skuCode string, maxAge time.Duration) ([]PriceSummary, error)
	Close() error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces scrape IDs.
type IDGenerator interface {
	NewID() (string, error)
}
