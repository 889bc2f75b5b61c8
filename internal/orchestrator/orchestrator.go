// Package orchestrator drives a product scrape: it fans competitor URLs out
// to the fetcher under a concurrency bound, extracts and validates a price per
// page, and folds the pages into a summary.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/competitor-price-intel/internal/clock/system"
	"github.com/JakeFAU/competitor-price-intel/internal/extract"
	"github.com/JakeFAU/competitor-price-intel/internal/id/uuid"
	"github.com/JakeFAU/competitor-price-intel/internal/logging"
	"github.com/JakeFAU/competitor-price-intel/internal/metrics"
	"github.com/JakeFAU/competitor-price-intel/internal/pricing"
)

// DefaultConcurrency is the number of competitor pages fetched at once.
const DefaultConcurrency = 5

// Product states, logged as a product moves through a scrape.
const (
	StatePending     = "pending"
	StateFetching    = "fetching"
	StateAggregating = "aggregating"
	StateDone        = "done"
	StateRejected    = "rejected"
)

// Extractor finds price candidates in page content.
type Extractor interface {
	Extract(content []byte, currency string) []pricing.PriceCandidate
}

// Config bounds a scrape.
type Config struct {
	// Concurrency caps in-flight page tasks per product.
	Concurrency int
	// ProductTimeout bounds a whole product scrape; zero disables it.
	ProductTimeout time.Duration
	// ProductSpacing is the pause between products in a batch.
	ProductSpacing time.Duration
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithNormalizer overrides the price bounds.
func WithNormalizer(n extract.Normalizer) Option {
	return func(o *Orchestrator) { o.normalizer = n }
}

// WithSelectionPolicy overrides how a page price is picked among candidates.
func WithSelectionPolicy(p extract.SelectionPolicy) Option {
	return func(o *Orchestrator) {
		if p != nil {
			o.policy = p
		}
	}
}

// WithClock overrides the clock used for ScrapedAt.
func WithClock(c pricing.Clock) Option {
	return func(o *Orchestrator) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithIDGenerator overrides the scrape ID source.
func WithIDGenerator(g pricing.IDGenerator) Option {
	return func(o *Orchestrator) {
		if g != nil {
			o.ids = g
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// Orchestrator runs product scrapes. It is safe for concurrent use; the only
// shared state lives behind the fetcher.
type Orchestrator struct {
	fetcher    pricing.Fetcher
	extractor  Extractor
	normalizer extract.Normalizer
	policy     extract.SelectionPolicy
	clock      pricing.Clock
	ids        pricing.IDGenerator
	cfg        Config
	logger     *zap.Logger
}

// New builds an Orchestrator.
func New(fetcher pricing.Fetcher, extractor Extractor, cfg Config, opts ...Option) (*Orchestrator, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("orchestrator fetcher is required: %w", pricing.ErrConfiguration)
	}
	if extractor == nil {
		return nil, fmt.Errorf("orchestrator extractor is required: %w", pricing.ErrConfiguration)
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.ProductTimeout < 0 {
		cfg.ProductTimeout = 0
	}
	if cfg.ProductSpacing < 0 {
		cfg.ProductSpacing = 0
	}
	o := &Orchestrator{
		fetcher:    fetcher,
		extractor:  extractor,
		normalizer: extract.DefaultNormalizer(),
		policy:     extract.Lowest,
		clock:      system.New(),
		ids:        uuid.NewGenerator(),
		cfg:        cfg,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// ScrapeProduct scrapes every competitor URL of req and returns the summary.
// Per-page failures are recorded in the summary, not returned. Pages still
// running at a deadline become timeouts. An error is returned only for an
// invalid request or when ctx is canceled; in the latter case the partial
// summary is returned alongside.
func (o *Orchestrator) ScrapeProduct(ctx context.Context, req pricing.ScrapeRequest) (pricing.PriceSummary, error) {
	logger := o.logger.With(logging.Product(req.ShopID, req.SKUCode)...)
	logger.Debug("product state", zap.String("state", StatePending), zap.Int("urls", len(req.CompetitorURLs)))

	if len(req.CompetitorURLs) == 0 {
		logger.Warn("product state", zap.String("state", StateRejected), zap.String("reason", "no competitor urls"))
		metrics.ObserveProduct(StateRejected, 0)
		return pricing.PriceSummary{}, fmt.Errorf("scrape %s/%s: no competitor urls: %w", req.ShopID, req.SKUCode, pricing.ErrInvalidRequest)
	}

	start := time.Now()
	urls := append([]string(nil), req.CompetitorURLs...)
	currency := req.CurrencyCode()

	var (
		scrapeCtx context.Context
		cancel    context.CancelFunc
	)
	if o.cfg.ProductTimeout > 0 {
		scrapeCtx, cancel = context.WithTimeout(ctx, o.cfg.ProductTimeout)
	} else {
		scrapeCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	logger.Debug("product state", zap.String("state", StateFetching), zap.String("currency", currency))
	details := o.scrapePages(scrapeCtx, urls, currency, logger)

	logger.Debug("product state", zap.String("state", StateAggregating))
	summary := pricing.Summarize(req.ShopID, req.SKUCode, details, o.clock.Now())
	id, err := o.ids.NewID()
	if err != nil {
		logger.Warn("scrape id unavailable", zap.Error(err))
	}
	summary.ScrapeID = id

	// A deadline, ours or the caller's, only turns pages into timeouts.
	// Cancellation means the caller gave up, so it is reported.
	if errors.Is(ctx.Err(), context.Canceled) {
		metrics.ObserveProduct("interrupted", time.Since(start))
		return summary, fmt.Errorf("scrape %s/%s: %w", req.ShopID, req.SKUCode, ctx.Err())
	}

	elapsed := time.Since(start)
	metrics.ObserveProduct(StateDone, elapsed)
	logger.Info("product state",
		zap.String("state", StateDone),
		zap.String("scrape_id", summary.ScrapeID),
		zap.Int("competitor_count", summary.CompetitorCount),
		zap.Int("pages", len(summary.PriceDetails)),
		zap.Duration("elapsed", elapsed),
	)
	return summary, nil
}

type pageSlot struct {
	index  int
	result pricing.PageResult
}

// scrapePages runs one task per URL with at most cfg.Concurrency in flight.
// Each task writes only its own slot of a buffered channel, so tasks that
// outlive ctx never block or touch the returned slice. Slots still empty when
// ctx ends are reported as timeouts.
func (o *Orchestrator) scrapePages(ctx context.Context, urls []string, currency string, logger *zap.Logger) []pricing.PageResult {
	results := make(chan pageSlot, len(urls))
	sem := semaphore.NewWeighted(int64(o.cfg.Concurrency))

	launched := 0
	for i, u := range urls {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		launched++
		go func(index int, pageURL string) {
			defer sem.Release(1)
			results <- pageSlot{index: index, result: o.scrapePage(ctx, pageURL, currency, logger)}
		}(i, u)
	}

	details := make([]pricing.PageResult, len(urls))
	filled := make([]bool, len(urls))
	collect := func(s pageSlot) {
		details[s.index] = s.result
		filled[s.index] = true
	}

	for received := 0; received < launched; received++ {
		select {
		case s := <-results:
			collect(s)
			continue
		case <-ctx.Done():
		}
		// Keep results that finished in the same instant as the deadline.
		for drained := false; !drained; {
			select {
			case s := <-results:
				collect(s)
			default:
				drained = true
			}
		}
		break
	}

	for i := range details {
		if filled[i] {
			continue
		}
		details[i] = pricing.PageResult{URL: urls[i], Outcome: pricing.OutcomeTimeout, Error: interruptReason(ctx)}
		metrics.ObservePage(urls[i], string(pricing.OutcomeTimeout))
		logger.Warn("page not scraped before product deadline", zap.String("url", urls[i]))
	}
	return details
}

// scrapePage fetches, extracts and validates a single competitor page.
func (o *Orchestrator) scrapePage(ctx context.Context, pageURL, currency string, logger *zap.Logger) pricing.PageResult {
	metrics.IncActiveFetches()
	defer metrics.DecActiveFetches()

	logger = logger.With(zap.String("url", pageURL))
	result := pricing.PageResult{URL: pageURL}

	body, err := o.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		result.Error = err.Error()
		result.Outcome = pricing.OutcomeFetchFailed
		if ctx.Err() != nil || errors.Is(err, pricing.ErrRateLimitTimeout) {
			result.Outcome = pricing.OutcomeTimeout
		}
		logger.Warn("competitor page fetch failed",
			zap.String("outcome", string(result.Outcome)),
			zap.String("error_kind", pricing.ErrorLabel(err)),
			zap.Error(err),
		)
		metrics.ObservePage(pageURL, string(result.Outcome))
		return result
	}

	candidates := o.extractor.Extract(body, currency)
	valid, rejected := o.normalizer.Validate(candidates)
	for _, r := range rejected {
		metrics.ObserveRejectedCandidate()
		logger.Debug("price candidate rejected",
			zap.String("raw", r.Candidate.Raw),
			zap.String("strategy", r.Candidate.Strategy),
			zap.Error(r.Err),
		)
	}

	chosen, ok := o.policy(valid)
	if !ok {
		result.Outcome = pricing.OutcomeNoPrice
		result.Error = pricing.ErrNoPriceFound.Error()
		logger.Info("no price found on competitor page",
			zap.Int("candidates", len(candidates)),
			zap.Int("rejected", len(rejected)),
		)
		metrics.ObservePage(pageURL, string(result.Outcome))
		return result
	}

	price := chosen.Value
	result.Price = &price
	result.Strategy = chosen.Strategy
	result.Outcome = pricing.OutcomePriced
	metrics.ObserveStrategyHit(chosen.Strategy)
	metrics.ObservePage(pageURL, string(result.Outcome))
	logger.Debug("competitor price extracted",
		zap.String("strategy", chosen.Strategy),
		zap.String("price", price.StringFixed(2)),
	)
	return result
}

func interruptReason(ctx context.Context) string {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "product deadline exceeded"
	}
	if err := ctx.Err(); err != nil {
		return err.Error()
	}
	return "not scraped"
}
