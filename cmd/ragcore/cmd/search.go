package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ragcore/ragcore/internal/expand"
	"github.com/ragcore/ragcore/internal/repository"
	"github.com/ragcore/ragcore/internal/search"
)

// searchOptions holds the CLI flags for search.
type searchOptions struct {
	limit  int
	mode   string
	filter string
	radius int
}

// newSearchCmd runs the search → expand → cite pipeline (spec §2) and
// prints ranked, cited results.
func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search indexed documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 10, "Maximum number of results")
	cmd.Flags().StringVarP(&opts.mode, "mode", "m", "hybrid", "Search mode: hybrid, fts, vector")
	cmd.Flags().StringVar(&opts.filter, "filter", "", "Filter query restricting matches to documents (e.g. title = 'Guide')")
	cmd.Flags().IntVar(&opts.radius, "radius", 1, "Context expansion radius; 0 disables expansion")

	return cmd
}

func runSearch(cmd *cobra.Command, query string, opts searchOptions) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		results, err := a.client.Search(ctx, repository.SearchInput{
			Query:  query,
			Mode:   search.Mode(opts.mode),
			Limit:  opts.limit,
			Filter: opts.filter,
		}, expand.Options{Radius: opts.radius})
		if err != nil {
			return err
		}

		if len(results) == 0 {
			a.out.Status("", fmt.Sprintf("No results found for %q", query))
			return nil
		}

		a.out.Statusf("", "Found %d results for %q:", len(results), query)
		a.out.Newline()
		for _, r := range results {
			a.out.Statusf("", "[%d] %s (score %.3f) — %s", r.Citation, r.DocumentTitle, r.Score, r.DocumentURI)
			a.out.Code(truncate(r.Content, 400))
		}
		return nil
	})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
