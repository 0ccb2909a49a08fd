package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ragcore/ragcore/internal/repository"
)

// newRebuildCmd re-derives chunks, embeddings, or both across every
// document (spec §4.6 Rebuild).
func newRebuildCmd() *cobra.Command {
	var mode string

	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild chunks and/or embeddings for all documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rebuildMode, err := parseRebuildMode(mode)
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				count := 0
				err := a.client.Rebuild(ctx, rebuildMode, func(documentID string) {
					count++
					a.out.Statusf("", "rebuilt %s (%d)", documentID, count)
				})
				if err != nil {
					return err
				}
				a.out.Successf("Rebuilt %d documents (mode=%s)", count, rebuildMode)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&mode, "mode", "full", "Rebuild mode: full, rechunk, embed_only")
	return cmd
}

func parseRebuildMode(s string) (repository.RebuildMode, error) {
	switch repository.RebuildMode(s) {
	case repository.RebuildFull, repository.RebuildRechunk, repository.RebuildEmbedOnly:
		return repository.RebuildMode(s), nil
	default:
		return "", fmt.Errorf("rebuild: unknown mode %q (want full, rechunk, or embed_only)", s)
	}
}
