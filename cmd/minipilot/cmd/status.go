package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show index statistics for the current root",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			eng, err := newEngine(ctx, rootPath)
			if err != nil {
				return err
			}
			defer eng.Close()

			st, err := eng.meta.Stats(ctx)
			if err != nil {
				return fmt.Errorf("read stats: %w", err)
			}
			indexedRoot, err := eng.meta.IndexedRoot(ctx)
			if err != nil {
				return fmt.Errorf("read indexed root: %w", err)
			}
			merkle, err := eng.meta.GetMerkle(ctx)
			if err != nil {
				return fmt.Errorf("read merkle state: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "root: %s\n", indexedRoot)
			fmt.Fprintf(out, "files: %d  chunks: %d  embeddings: %d\n", st.Files, st.Chunks, st.Embeddings)
			fmt.Fprintf(out, "vectors: %d\n", eng.vector.Count())
			fmt.Fprintf(out, "merkle root: %s\n", merkle.Root)
			fmt.Fprintf(out, "embedder: %s (%d dims)\n", eng.embedder.ModelID(), eng.embedder.Dimension())

			return nil
		},
	}
}
