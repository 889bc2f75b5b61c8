package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

type showOptions struct {
	shopID  string
	skuCode string
	maxAge  time.Duration
}

// newShowCmd creates the 'show' subcommand, which reads stored summaries.
func newShowCmd() *cobra.Command {
	opts := &showOptions{}
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Prints stored price summaries for a shop",
		RunE: withApp(func(cmd *cobra.Command, appInstance App) error {
			if opts.shopID == "" {
				return errors.New("--shop is required")
			}
			summaries, err := appInstance.Store().Get(cmd.Context(), opts.shopID, opts.skuCode, opts.maxAge)
			if err != nil {
				return fmt.Errorf("read summaries: %w", err)
			}
			return writeJSON(cmd.OutOrStdout(), summaries)
		}),
	}
	cmd.Flags().StringVar(&opts.shopID, "shop", "", "shop id to read")
	cmd.Flags().StringVar(&opts.skuCode, "sku", "", "limit output to one sku")
	cmd.Flags().DurationVar(&opts.maxAge, "max-age", 0, "skip summaries older than this (0 disables)")
	return cmd
}
