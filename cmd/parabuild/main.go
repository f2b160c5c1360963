package main

import (
	"fmt"
	"os"

	"github.com/panjd123/parabuild/cmd/parabuild/commands"
	"github.com/spf13/cobra"
)

var version = "dev"

// rootCmd is the run action itself, so parabuild takes PROJECT_PATH and its
// flags directly; list-snapshots and clean are its subcommands.
var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	cmd := commands.NewRunCmd()
	cmd.Short = "Accelerate parameter sweeps over a template-heavy build"
	cmd.Version = version
	cmd.Long = `parabuild renders one source file per data point from a template and
compiles/runs each variant in parallel across isolated filesystem
workspaces, so a single-project build can be swept across a parameter grid
without hand-rolling a build matrix.`
	return cmd
}

func init() {
	rootCmd.AddCommand(commands.NewListSnapshotsCmd())
	rootCmd.AddCommand(commands.NewCleanCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
