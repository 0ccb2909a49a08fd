package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/ragcore/ragcore/internal/store"
)

// newGetCmd prints one document's metadata and chunk count.
func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withApp(cmd, func(ctx context.Context, a *app) error {
				doc, ok, err := a.engine.Documents.Get(ctx, id)
				if err != nil {
					return err
				}
				if !ok {
					return store.ErrNotFound{Kind: "document", ID: id}
				}

				chunks, err := a.engine.ChunksByDocument(ctx, id)
				if err != nil {
					return err
				}

				a.out.Statusf("", "ID:       %s", doc.ID)
				a.out.Statusf("", "Title:    %s", doc.Title)
				a.out.Statusf("", "URI:      %s", doc.URI)
				a.out.Statusf("", "Chunks:   %d", len(chunks))
				a.out.Statusf("", "Updated:  %s", doc.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"))
				a.out.Newline()
				a.out.Code(doc.Content)
				return nil
			})
		},
	}
}
