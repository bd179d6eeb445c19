// Package cmd provides the CLI commands for minipilot.
package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/b3nkang/minipilot-go/internal/logging"
	"github.com/b3nkang/minipilot-go/pkg/version"
)

var (
	rootPath  string
	debugMode bool
)

// NewRootCmd creates the root command for the minipilot CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "minipilot",
		Short:   "Local-first incremental semantic indexing and retrieval engine",
		Version: version.Version,
		Long: `minipilot indexes a codebase into a local metadata store and vector
store, then answers semantic search, context-assembly, and code-
explanation queries against it (entirely offline by default).`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg := logging.DefaultConfig()
			cfg.WriteToStderr = false
			if debugMode {
				cfg = logging.DebugConfig()
			}
			logger, _, err := logging.Setup(cfg)
			if err != nil {
				return err
			}
			slog.SetDefault(logger)
			return nil
		},
	}

	cmd.SetVersionTemplate("minipilot version {{.Version}}\n")
	cmd.PersistentFlags().StringVar(&rootPath, "root", "", "project root to index or query (default: current directory)")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "enable debug logging to ~/.minipilot/logs/")

	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newReindexCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newContextCmd())
	cmd.AddCommand(newExplainCmd())
	cmd.AddCommand(newStatusCmd())

	return cmd
}
