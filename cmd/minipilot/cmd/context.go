package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/b3nkang/minipilot-go/internal/query"
)

func newContextCmd() *cobra.Command {
	var maxLen int

	cmd := &cobra.Command{
		Use:   "context <query>",
		Short: "Assemble a context block for completion from indexed code",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			eng, err := newEngine(ctx, rootPath)
			if err != nil {
				return err
			}
			defer eng.Close()

			engine := query.New(eng.cfg, eng.meta, eng.vector, eng.embedder)
			result, err := engine.ContextForCompletion(ctx, strings.Join(args, " "), maxLen, nil)
			if err != nil {
				return fmt.Errorf("context: %w", err)
			}

			fmt.Fprint(cmd.OutOrStdout(), result.Context)
			fmt.Fprintf(cmd.ErrOrStderr(), "\n--- %d chunks, %d chars, %.1fms ---\n",
				result.ChunksUsed, result.ContextLength, result.SearchTimeMS)

			return nil
		},
	}

	cmd.Flags().IntVar(&maxLen, "max-length", 0, "maximum context length in characters (default: configured search.max_context_length)")

	return cmd
}
