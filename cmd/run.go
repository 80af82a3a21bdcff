package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/crag-crawler/internal/harvest"
)

type runOptions struct {
	output   string
	geojson  string
	regions  string
	failFast bool
	asJSON   bool
}

// newRunCmd creates the 'run' subcommand, which performs one harvest.
func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one harvest and write the outputs",
		Long: `Lists regions and crags from every enabled source, reconciles duplicates,
annotates records with the configured filters and writes the outputs. Sources
that fail are reported in the summary; the run still writes what it has.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHarvest(cmd, root, opts)
		},
	}
	cmd.Flags().StringVar(&opts.output, "output", "", "NDJSON output path (overrides output.ndjson_path)")
	cmd.Flags().StringVar(&opts.geojson, "geojson", "", "GeoJSON output path (overrides output.geojson_path)")
	cmd.Flags().StringVar(&opts.regions, "regions", "", "regions NDJSON output path (overrides output.regions_path)")
	cmd.Flags().BoolVar(&opts.failFast, "fail-fast", false, "abort the run on the first source failure")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "print the run summary as JSON")
	return cmd
}

func runHarvest(cmd *cobra.Command, root *rootOptions, opts *runOptions) error {
	cfg, err := loadConfig(root.cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if opts.output != "" {
		cfg.Output.NDJSONPath = opts.output
	}
	if opts.geojson != "" {
		cfg.Output.GeoJSONPath = opts.geojson
	}
	if opts.regions != "" {
		cfg.Output.RegionsPath = opts.regions
	}
	if opts.failFast {
		cfg.Run.FailFast = true
	}

	logger, err := root.buildLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner, closeFn, err := newRunner(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeFn()

	summary, runErr := runner.Run(ctx)
	if summary.RunID != "" {
		if err := printSummary(cmd.OutOrStdout(), summary, opts.asJSON); err != nil {
			logger.Warn("print summary failed", zap.Error(err))
		}
	}
	if runErr != nil {
		return fmt.Errorf("run %s: %w", summary.RunID, runErr)
	}
	return nil
}

func printSummary(w io.Writer, s harvest.RunSummary, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(s); err != nil {
			return fmt.Errorf("encode summary: %w", err)
		}
		return nil
	}
	lines := []string{
		fmt.Sprintf("Run %s: %s", s.RunID, s.Status()),
		fmt.Sprintf("Harvested %d raw crags into %d unique crags and %d regions", s.RawCrags, s.UniqueCrags, s.Regions),
		fmt.Sprintf("%d crags passed filters and %d were retained as rejected", s.PassedFilters, s.UniqueCrags-s.PassedFilters),
	}
	for _, src := range s.Sources {
		line := fmt.Sprintf("  %-10s %-9s regions=%d crags=%d parse_errors=%d", src.Name, src.Status, src.Regions, src.Crags, src.ParseErrors)
		if src.Error != "" {
			line += " error=" + src.Error
		}
		lines = append(lines, line)
	}
	for _, out := range s.Outputs {
		line := fmt.Sprintf("Wrote %d records to %s (%s, sha256 %s)", out.Records, out.Path, out.Kind, out.SHA256)
		if out.URI != "" {
			line += " mirrored to " + out.URI
		}
		lines = append(lines, line)
	}
	for _, l := range lines {
		if _, err := fmt.Fprintln(w, l); err != nil {
			return fmt.Errorf("write summary: %w", err)
		}
	}
	return nil
}
