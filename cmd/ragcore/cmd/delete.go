package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

// newDeleteCmd cascades delete of a document and its chunks (spec §4.6).
func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a document and its chunks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withApp(cmd, func(ctx context.Context, a *app) error {
				if err := a.client.Documents.DeleteDocument(ctx, id); err != nil {
					return err
				}
				a.out.Successf("Deleted document %s", id)
				return nil
			})
		},
	}
}
