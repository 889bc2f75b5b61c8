// Package pricing defines the core types shared across the price intelligence pipeline.
package pricing

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultCurrency is used when a request does not carry a currency hint.
const DefaultCurrency = "GBP"

// ScrapeRequest asks for the competitor prices of one product.
type ScrapeRequest struct {
	ShopID         string   `json:"shop_id" mapstructure:"shop_id"`
	SKUCode        string   `json:"sku_code" mapstructure:"sku_code"`
	CompetitorURLs []string `json:"competitor_urls" mapstructure:"competitor_urls"`
	Currency       string   `json:"currency" mapstructure:"currency"`
}

// CurrencyCode returns the upper-cased currency hint, falling back to DefaultCurrency.
func (r ScrapeRequest) CurrencyCode() string {
	c := strings.ToUpper(strings.TrimSpace(r.Currency))
	if c == "" {
		return DefaultCurrency
	}
	return c
}

// PriceCandidate is a value pulled out of page content by one extraction strategy.
// Value is only meaningful once the candidate has been normalized.
type PriceCandidate struct {
	Raw      string
	Value    decimal.Decimal
	Currency string
	Strategy string
}

// Outcome classifies how a single competitor page scrape ended.
type Outcome string

// Page outcomes recorded on every PageResult.
const (
	OutcomePriced      Outcome = "priced"
	OutcomeNoPrice     Outcome = "no_price"
	OutcomeFetchFailed Outcome = "fetch_failed"
	OutcomeTimeout     Outcome = "timeout"
)

// PageResult is the per-URL record of a product scrape.
type PageResult struct {
	URL      string           `json:"url"`
	Price    *decimal.Decimal `json:"price"`
	Strategy string           `json:"strategy,omitempty"`
	Error    string           `json:"error,omitempty"`
	Outcome  Outcome          `json:"outcome"`
}

// HasPrice reports whether the page resolved to a validated price.
func (p PageResult) HasPrice() bool {
	return p.Price != nil
}

// PriceSummary aggregates all competitor pages for one (shop, SKU) pair.
type PriceSummary struct {
	ShopID          string           `json:"shop_id"`
	SKUCode         string           `json:"sku_code"`
	MinPrice        *decimal.Decimal `json:"min_price"`
	MaxPrice        *decimal.Decimal `json:"max_price"`
	CompetitorCount int              `json:"competitor_count"`
	PriceDetails    []PageResult     `json:"price_details"`
	ScrapedAt       time.Time        `json:"scraped_at"`
	ScrapeID        string           `json:"scrape_id,omitempty"`
}

// Summarize folds page results into a PriceSummary. Details keep their order.
func Summarize(shopID, skuCode string, details []PageResult, scrapedAt time.Time) PriceSummary {
	summary := PriceSummary{
		ShopID:       shopID,
		SKUCode:      skuCode,
		PriceDetails: details,
		ScrapedAt:    scrapedAt,
	}
	for _, d := range details {
		if !d.HasPrice() {
			continue
		}
		summary.CompetitorCount++
		if summary.MinPrice == nil || d.Price.LessThan(*summary.MinPrice) {
			p := *d.Price
			summary.MinPrice = &p
		}
		if summary.MaxPrice == nil || d.Price.GreaterThan(*summary.MaxPrice) {
			p := *d.Price
			summary.MaxPrice = &p
		}
	}
	return summary
}
