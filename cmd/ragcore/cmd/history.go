package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

var historyTables = []string{"documents", "chunks", "settings", "mm_assets"}

// newHistoryCmd prints the version history of one table, or all four when
// no table is named (spec §4.3, §6).
func newHistoryCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history [table]",
		Short: "Show version history for a table (documents, chunks, settings, mm_assets)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tables := historyTables
			if len(args) == 1 {
				tables = []string{args[0]}
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				for _, table := range tables {
					versions, err := a.engine.History(ctx, table)
					if err != nil {
						return err
					}
					if len(versions) > limit && limit > 0 {
						versions = versions[len(versions)-limit:]
					}
					a.out.Statusf("", "%s:", table)
					for _, v := range versions {
						a.out.Statusf("", "  v%d  %s", v.Version, v.RecordedAt.Format("2006-01-02T15:04:05Z07:00"))
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Show only the most recent N versions (0 shows all)")
	return cmd
}
