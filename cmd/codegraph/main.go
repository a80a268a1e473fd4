// Command codegraph is the CLI surface of the incremental program-reasoning
// core: effect diffing, impact propagation, taint tracing, and speculative
// patch simulation over an extracted code graph.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"codegraph/internal/config"
	"codegraph/internal/logging"
)

var (
	workspaceFlag string
	cfg           *config.Config
)

func main() {
	root := &cobra.Command{
		Use:   "codegraph",
		Short: "Incremental program reasoning over an extracted code graph",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(workspaceFlag)
			if err != nil {
				return err
			}
			if err := logging.Initialize(workspaceFlag); err != nil {
				fmt.Fprintf(os.Stderr, "warning: logging init failed: %v\n", err)
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logging.CloseAll()
		},
	}
	root.PersistentFlags().StringVarP(&workspaceFlag, "workspace", "w", ".", "workspace root (holds .codegraph/)")

	root.AddCommand(newAnalyzeCmd())
	root.AddCommand(newImpactCmd())
	root.AddCommand(newTaintCmd())
	root.AddCommand(newSimulateCmd())
	root.AddCommand(newCacheCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
