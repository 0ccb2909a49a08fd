package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ragcore/ragcore/internal/repository"
)

// addOptions holds the flags for the add command.
type addOptions struct {
	title string
	uri   string
}

// newAddCmd ingests a file as a document, upserting by URI so re-running
// add on the same source rechunks only when the content actually changed
// (spec §4.6 UpsertByURI).
func newAddCmd() *cobra.Command {
	var opts addOptions

	cmd := &cobra.Command{
		Use:   "add <source>",
		Short: "Ingest a file as a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdd(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.title, "title", "", "Document title (defaults to the file name)")
	cmd.Flags().StringVar(&opts.uri, "uri", "", "Document URI (defaults to file://<absolute path>)")

	return cmd
}

func runAdd(cmd *cobra.Command, source string, opts addOptions) error {
	content, err := os.ReadFile(source)
	if err != nil {
		return fmt.Errorf("read source: %w", err)
	}

	abs, err := filepath.Abs(source)
	if err != nil {
		abs = source
	}

	uri := opts.uri
	if uri == "" {
		uri = "file://" + abs
	}
	title := opts.title
	if title == "" {
		title = filepath.Base(source)
	}

	return withApp(cmd, func(ctx context.Context, a *app) error {
		doc, err := a.client.Upsert(ctx, repository.DocumentInput{
			Content: string(content),
			URI:     uri,
			Title:   title,
		})
		if err != nil {
			return err
		}
		a.out.Successf("Ingested %s as document %s", source, doc.ID)
		return nil
	})
}
