package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/b3nkang/minipilot-go/internal/query"
)

func newExplainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "explain <path> <start-line> <end-line>",
		Short: "Explain a code region and surface related chunks",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			start, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid start line %q: %w", args[1], err)
			}
			end, err := strconv.Atoi(args[2])
			if err != nil {
				return fmt.Errorf("invalid end line %q: %w", args[2], err)
			}

			ctx := cmd.Context()

			eng, err := newEngine(ctx, rootPath)
			if err != nil {
				return err
			}
			defer eng.Close()

			engine := query.New(eng.cfg, eng.meta, eng.vector, eng.embedder)
			explanation, err := engine.ExplainCode(ctx, args[0], start, end)
			if err != nil {
				return fmt.Errorf("explain: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s\n\n%s\n\nrelated:\n", explanation.ContextSummary, explanation.TargetCode)
			for _, r := range explanation.RelatedChunks {
				fmt.Fprintf(out, "  %.3f  %s:%d-%d\n", r.Similarity, r.FilePath, r.StartLine, r.EndLine)
			}

			return nil
		},
	}
}
