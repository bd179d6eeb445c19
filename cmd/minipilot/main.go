// Command minipilot indexes a codebase and serves semantic search over it.
package main

import (
	"fmt"
	"os"

	"github.com/b3nkang/minipilot-go/cmd/minipilot/cmd"
)

func main() {
	if err := cmd.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
