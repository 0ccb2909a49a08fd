package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

// newListCmd lists every live document in the store.
func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				docs, err := a.engine.Documents.ListAll(ctx)
				if err != nil {
					return err
				}
				if len(docs) == 0 {
					a.out.Status("", "No documents")
					return nil
				}
				for _, d := range docs {
					a.out.Statusf("", "%s  %s  %s", d.ID, d.Title, d.URI)
				}
				return nil
			})
		},
	}
}
