// Package cmd defines the CLI commands for the crag-crawler executable.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/crag-crawler/internal/app"
	"github.com/JakeFAU/crag-crawler/internal/config"
	"github.com/JakeFAU/crag-crawler/internal/harvest"
	"github.com/JakeFAU/crag-crawler/internal/logging"
)

// Runner executes one harvest. *orchestrator.Orchestrator satisfies it.
type Runner interface {
	Run(ctx context.Context) (harvest.RunSummary, error)
}

// loadConfig and newRunner are variables so tests can swap in fakes.
var (
	loadConfig = config.Load
	newRunner  = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (Runner, func(), error) {
		a, err := app.New(ctx, cfg, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize application services: %w", err)
		}
		return a.Orchestrator(), a.Close, nil
	}
	newLogger = logging.New
)

type rootOptions struct {
	cfgFile     string
	development bool
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "crag-crawler",
		Short: "Harvest climbing crags from public sources into NDJSON and GeoJSON.",
		Long: `crag-crawler lists regions and crags from every configured source,
merges records that describe the same place, annotates them with the
configured filters and writes the result as NDJSON (and optionally GeoJSON).`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "path to a YAML config file (CRAGS_* env vars override it)")
	cmd.PersistentFlags().BoolVar(&opts.development, "dev", false, "human-readable development logging")

	cmd.AddCommand(newRunCmd(opts))
	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newSourcesCmd())

	return cmd
}

// buildLogger builds the process logger; --dev forces development output.
func (o *rootOptions) buildLogger(cfg config.Config) (*zap.Logger, error) {
	logger, err := newLogger(o.development || cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return logger, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
