package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"
)

// newVacuumCmd prunes version history older than --retention from every
// table (spec §4.3).
func newVacuumCmd() *cobra.Command {
	var retentionSeconds int

	cmd := &cobra.Command{
		Use:   "vacuum",
		Short: "Prune old version history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			retention := time.Duration(retentionSeconds) * time.Second
			return withApp(cmd, func(ctx context.Context, a *app) error {
				if err := a.engine.Vacuum(ctx, retention); err != nil {
					return err
				}
				a.out.Success("Vacuum complete")
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&retentionSeconds, "retention", 0, "Seconds of version history to keep (0 keeps only the current version)")
	return cmd
}
