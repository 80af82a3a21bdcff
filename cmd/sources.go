package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/crag-crawler/internal/sources"
)

// newSourcesCmd creates the 'sources' subcommand, which lists registered scrapers.
func newSourcesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "List the source names usable in the sources config block",
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, name := range sources.Default().Names() {
				if _, err := fmt.Fprintln(cmd.OutOrStdout(), name); err != nil {
					return fmt.Errorf("write source name: %w", err)
				}
			}
			return nil
		},
	}
}
