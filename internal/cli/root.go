// Package cli implements the volley command line.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// newRootCmd builds the command tree.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "volley",
		Short: "Asynchronous HTTP exchange engine",
		Long: `volley sends HTTP exchanges on a bounded worker pool and reports one
classified outcome per exchange.

Get started:
  volley fire URL            Send a single exchange
  volley run -c volley.yaml  Run a configured batch`,
		Version:       fmt.Sprintf("%s (built %s, commit %s)", version, buildTime, gitCommit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true

	root.AddCommand(newFireCmd(), newRunCmd())
	return root
}

// Execute runs the root command.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// SetVersion sets the version info.
func SetVersion(v, bt, commit string) {
	version = v
	buildTime = bt
	gitCommit = commit
}
