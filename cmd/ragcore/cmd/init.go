package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"
)

// newInitCmd creates the data directory and store on first run, applying
// the current schema version via the migration gate (spec §4.8).
func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize the store in the data directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := os.MkdirAll(rootFlags.dataDir, 0o755); err != nil {
				return err
			}
			return withApp(cmd, func(_ context.Context, a *app) error {
				a.out.Successf("Initialized store at %s", rootFlags.dataDir)
				return nil
			})
		},
	}
}
