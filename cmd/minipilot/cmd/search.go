package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/b3nkang/minipilot-go/internal/query"
)

type searchOptions struct {
	limit  int
	scopes []string
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the indexed codebase",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 10, "maximum number of results")
	cmd.Flags().StringSliceVarP(&opts.scopes, "file", "f", nil, "restrict results to these file paths (repeatable)")

	return cmd
}

func runSearch(cmd *cobra.Command, q string, opts searchOptions) error {
	ctx := cmd.Context()

	eng, err := newEngine(ctx, rootPath)
	if err != nil {
		return err
	}
	defer eng.Close()

	engine := query.New(eng.cfg, eng.meta, eng.vector, eng.embedder)
	resp, err := engine.Search(ctx, q, opts.scopes, opts.limit)
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}

	out := cmd.OutOrStdout()
	for _, r := range resp.Results {
		fmt.Fprintf(out, "%.3f  %s:%d-%d\n", r.Similarity, r.FilePath, r.StartLine, r.EndLine)
	}
	fmt.Fprintf(out, "\n%s\n(%.1fms)\n", resp.ContextSummary, resp.SearchTimeMS)

	return nil
}
