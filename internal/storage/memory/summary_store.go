// Package memory provides an in-process ResultStore.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/competitor-price-intel/internal/pricing"
)

type summaryKey struct {
	shopID  string
	skuCode string
}

// SummaryStore keeps price summaries in memory for development and tests.
type SummaryStore struct {
	mu        sync.RWMutex
	summaries map[summaryKey]pricing.PriceSummary
	now       func() time.Time
}

// NewSummaryStore constructs a SummaryStore.
func NewSummaryStore() *SummaryStore {
	return &SummaryStore{
		summaries: make(map[summaryKey]pricing.PriceSummary),
		now:       time.Now,
	}
}

// Upsert stores summary, replacing any earlier one for the same shop and SKU.
func (s *SummaryStore) Upsert(_ context.Context, summary pricing.PriceSummary) error {
	if summary.ShopID == "" || summary.SKUCode == "" {
		return errors.New("summary shop id and sku code are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaries[summaryKey{shopID: summary.ShopID, skuCode: summary.SKUCode}] = cloneSummary(summary)
	return nil
}

// Get returns the stored summaries for shopID ordered by SKU code.
func (s *SummaryStore) Get(_ context.Context, shopID, skuCode string, maxAge time.Duration) ([]pricing.PriceSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var cutoff time.Time
	if maxAge > 0 {
		cutoff = s.now().Add(-maxAge)
	}
	var out []pricing.PriceSummary
	for key, summary := range s.summaries {
		if key.shopID != shopID || (skuCode != "" && key.skuCode != skuCode) {
			continue
		}
		if maxAge > 0 && summary.ScrapedAt.Before(cutoff) {
			continue
		}
		out = append(out, cloneSummary(summary))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SKUCode < out[j].SKUCode })
	return out, nil
}

// Close is a no-op.
func (s *SummaryStore) Close() error {
	return nil
}

func cloneSummary(in pricing.PriceSummary) pricing.PriceSummary {
	out := in
	out.PriceDetails = append([]pricing.PageResult(nil), in.PriceDetails...)
	return out
}
