// Package cmd defines and implements the CLI commands for the price intelligence executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/competitor-price-intel/internal/app"
	"github.com/JakeFAU/competitor-price-intel/internal/config"
	"github.com/JakeFAU/competitor-price-intel/internal/logging"
	"github.com/JakeFAU/competitor-price-intel/internal/orchestrator"
	"github.com/JakeFAU/competitor-price-intel/internal/pricing"
)

var cfgFile string

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// Scraper is the part of the orchestrator the commands drive.
type Scraper interface {
	ScrapeBatch(ctx context.Context, reqs []pricing.ScrapeRequest) orchestrator.BatchResult
}

// App defines the application interface that commands will use.
// This allows us to inject a fake app during tests.
type App interface {
	Close() error
	Config() config.Config
	Logger() *zap.Logger
	Store() pricing.ResultStore
	Scraper() (Scraper, error)
	Ready(ctx context.Context) error
}

type appAdapter struct {
	*app.App
}

func (a appAdapter) Scraper() (Scraper, error) {
	orch, err := a.Orchestrator()
	if err != nil {
		return nil, err
	}
	return orch, nil
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	a, err := app.NewApp(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return appAdapter{a}, nil
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "priceintel",
		Short: "Competitor price intelligence for product catalogs.",
		Long: `priceintel fetches competitor product pages through a scraping proxy,
extracts and validates the advertised prices, and stores a per-product summary
with the lowest and highest competitor price.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(logging.Config{
				Development: cfg.Logging.Development,
				Level:       cfg.Logging.Level,
			})
			if err != nil {
				return err
			}
			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				_ = logger.Sync()
				return fmt.Errorf("failed to initialize application services: %w", err)
			}

			ctx := context.WithValue(cmd.Context(), appKey, appInstance)
			cmd.SetContext(ctx)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml); PRICEINTEL_* env vars override it")

	cmd.AddCommand(newScrapeCmd())
	cmd.AddCommand(newShowCmd())

	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// withApp runs fn with the App built in PersistentPreRunE and shuts the App
// down afterwards, including when fn fails.
func withApp(fn func(cmd *cobra.Command, appInstance App) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		appInstance, err := resolveApp(cmd.Context())
		if err != nil {
			return err
		}
		defer func() {
			if err := appInstance.Close(); err != nil {
				appInstance.Logger().Warn("close application services", zap.Error(err))
			}
			_ = appInstance.Logger().Sync()
		}()
		return fn(cmd, appInstance)
	}
}

// Execute is the main entry point. SIGINT and SIGTERM cancel the running command.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
