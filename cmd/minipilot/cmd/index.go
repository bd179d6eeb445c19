package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/b3nkang/minipilot-go/internal/index"
)

func newIndexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "index",
		Short: "Build or update the index (incremental if one already exists)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, false)
		},
	}
}

func newReindexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the index from scratch",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, true)
		},
	}
}

func runSync(cmd *cobra.Command, full bool) error {
	ctx := cmd.Context()

	eng, err := newEngine(ctx, rootPath)
	if err != nil {
		return err
	}
	defer eng.Close()

	ix := index.New(eng.root, eng.cfg, eng.meta, eng.vector, eng.chunker, eng.embedder)

	var stats *index.SyncStats
	if full {
		stats, err = ix.FullIndex(ctx)
	} else {
		stats, err = ix.IncrementalSync(ctx)
	}
	if err != nil {
		return fmt.Errorf("sync: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "processed=%d skipped=%d errors=%d added=%d modified=%d deleted=%d\n",
		stats.Processed, stats.Skipped, stats.Errors, stats.Added, stats.Modified, stats.Deleted)
	fmt.Fprintf(out, "files=%d chunks=%d embeddings=%d (%.1fs)\n",
		stats.Store.Files, stats.Store.Chunks, stats.Store.Embeddings, stats.Duration.Seconds())

	return nil
}
