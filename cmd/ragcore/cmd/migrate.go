package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ragcore/ragcore/internal/migrate"
	"github.com/ragcore/ragcore/internal/output"
	"github.com/ragcore/ragcore/internal/store"
)

// newMigrateCmd runs pending schema upgrade steps (spec §4.8). Unlike every
// other command, migrate opens the store without going through the
// migration gate's Open check — that check is exactly what this command
// exists to satisfy — and calls Gate.Migrate directly.
func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			w := output.New(cmd.OutOrStdout())

			if rootFlags.readOnly {
				return store.ErrReadOnly{Op: "migrate"}
			}

			engine, err := store.Open(ctx, storePath(rootFlags.dataDir), false)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer func() { _ = engine.Close() }()

			gate, err := migrate.New(store.CurrentSchemaVersion, engine, false)
			if err != nil {
				return fmt.Errorf("build migration gate: %w", err)
			}

			if err := gate.Migrate(ctx); err != nil {
				return err
			}
			w.Success("Migration complete")
			return nil
		},
	}
}
