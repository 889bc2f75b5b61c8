package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/competitor-price-intel/internal/api"
	"github.com/JakeFAU/competitor-price-intel/internal/logging"
	"github.com/JakeFAU/competitor-price-intel/internal/pricing"
)

type scrapeOptions struct {
	shopID   string
	skuCode  string
	urls     []string
	currency string
}

// newScrapeCmd creates the 'scrape' subcommand.
func newScrapeCmd() *cobra.Command {
	opts := &scrapeOptions{}
	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Scrapes competitor prices and stores the summaries",
		Long: `Scrapes one product given by flags, or every product listed under
"products" in the configuration file, and upserts a price summary for each
into the configured result store. Summaries are printed as JSON.`,
		RunE: withApp(func(cmd *cobra.Command, appInstance App) error {
			return runScrape(cmd, appInstance, opts)
		}),
	}
	cmd.Flags().StringVar(&opts.shopID, "shop", "", "shop id for a single product scrape")
	cmd.Flags().StringVar(&opts.skuCode, "sku", "", "sku code for a single product scrape")
	cmd.Flags().StringSliceVar(&opts.urls, "url", nil, "competitor page url (repeatable)")
	cmd.Flags().StringVar(&opts.currency, "currency", "", "expected ISO 4217 currency (default GBP)")
	return cmd
}

func (o *scrapeOptions) requests(products []pricing.ScrapeRequest) ([]pricing.ScrapeRequest, error) {
	if o.shopID == "" && o.skuCode == "" && len(o.urls) == 0 {
		if len(products) == 0 {
			return nil, errors.New("no products configured; pass --shop, --sku and --url or list products in the config file")
		}
		return products, nil
	}
	if o.shopID == "" || o.skuCode == "" {
		return nil, errors.New("--shop and --sku are both required for a single product scrape")
	}
	return []pricing.ScrapeRequest{{
		ShopID:         o.shopID,
		SKUCode:        o.skuCode,
		CompetitorURLs: o.urls,
		Currency:       o.currency,
	}}, nil
}

func runScrape(cmd *cobra.Command, appInstance App, opts *scrapeOptions) error {
	logger := appInstance.Logger()
	cfg := appInstance.Config()

	reqs, err := opts.requests(cfg.Products)
	if err != nil {
		return err
	}
	scraper, err := appInstance.Scraper()
	if err != nil {
		return err
	}

	if cfg.Metrics.Addr != "" {
		server := api.NewServer(appInstance.Ready, logger.Named("ops"))
		if _, err := server.Start(cfg.Metrics.Addr); err != nil {
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(ctx); err != nil {
				logger.Warn("ops listener shutdown", zap.Error(err))
			}
		}()
	}

	result := scraper.ScrapeBatch(cmd.Context(), reqs)

	summaries := make([]pricing.PriceSummary, 0, len(result.Summaries))
	for _, s := range result.Summaries {
		summaries = append(summaries, s)
	}
	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].ShopID != summaries[j].ShopID {
			return summaries[i].ShopID < summaries[j].ShopID
		}
		return summaries[i].SKUCode < summaries[j].SKUCode
	})

	// A cancelled run still persists what it collected.
	storeCtx := context.WithoutCancel(cmd.Context())
	var storeErrs []error
	for _, s := range summaries {
		if err := appInstance.Store().Upsert(storeCtx, s); err != nil {
			logger.Error("failed to store summary", append(logging.Product(s.ShopID, s.SKUCode), zap.Error(err))...)
			storeErrs = append(storeErrs, fmt.Errorf("store %s/%s: %w", s.ShopID, s.SKUCode, err))
		}
	}
	for sku, ferr := range result.Failures {
		logger.Warn("product scrape failed", zap.String("sku_code", sku), zap.Error(ferr))
	}

	if err := writeJSON(cmd.OutOrStdout(), summaries); err != nil {
		return err
	}
	if err := errors.Join(storeErrs...); err != nil {
		return err
	}
	if len(result.Failures) > 0 {
		return fmt.Errorf("%d of %d products failed", len(result.Failures), len(reqs))
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
