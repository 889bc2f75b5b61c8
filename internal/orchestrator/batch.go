package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/competitor-price-intel/internal/pricing"
)

// BatchResult holds the outcome of a batch, keyed by SKU code.
type BatchResult struct {
	Summaries map[string]pricing.PriceSummary
	Failures  map[string]error
}

// ScrapeBatch scrapes products one after another, pausing ProductSpacing
// between them. Invalid requests are recorded in Failures and skipped. When
// ctx ends the batch stops: the product in progress keeps its partial
// summary and products never started are recorded in Failures.
func (o *Orchestrator) ScrapeBatch(ctx context.Context, reqs []pricing.ScrapeRequest) BatchResult {
	result := BatchResult{
		Summaries: make(map[string]pricing.PriceSummary, len(reqs)),
		Failures:  make(map[string]error),
	}
	start := time.Now()

	for i, req := range reqs {
		if i > 0 && !o.space(ctx) {
			result.notStarted(reqs[i:], ctx.Err())
			break
		}
		summary, err := o.ScrapeProduct(ctx, req)
		if len(summary.PriceDetails) > 0 {
			result.Summaries[req.SKUCode] = summary
		}
		if err != nil {
			result.Failures[req.SKUCode] = err
		}
		if ctx.Err() != nil {
			result.notStarted(reqs[i+1:], ctx.Err())
			break
		}
	}

	o.logger.Info("batch finished",
		zap.Int("requested", len(reqs)),
		zap.Int("summaries", len(result.Summaries)),
		zap.Int("failures", len(result.Failures)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return result
}

func (r BatchResult) notStarted(reqs []pricing.ScrapeRequest, cause error) {
	for _, req := range reqs {
		r.Failures[req.SKUCode] = fmt.Errorf("scrape %s/%s: not started: %w", req.ShopID, req.SKUCode, cause)
	}
}

// space waits ProductSpacing, reporting false if ctx ends first.
func (o *Orchestrator) space(ctx context.Context) bool {
	if o.cfg.ProductSpacing <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(o.cfg.ProductSpacing)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
