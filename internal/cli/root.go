// Package cli implements the jeeves command-line interface.
package cli

import (
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

var (
	dataDir  string
	verbose  bool
	jsonLogs bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "jeeves",
	Short: "Supervised coding-agent workflow runner",
	Long: `jeeves drives a coding agent through a declarative workflow, one fresh
subprocess per iteration, with all state carried in files.

Each iteration launches the agent with a phase prompt, supervises it for
output and timeouts, then re-reads the issue state and follows the
workflow's guarded transitions. A local HTTP server streams logs, agent
activity and state changes to observers.

Quick start:
  jeeves run octo/widgets#42    Provision the issue and start iterating
  jeeves serve                  Start the observation server
  jeeves issue list             Show known issues
  jeeves workflow list          Show available workflows`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initLogging)

	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory (default ~/.jeeves, or JEEVES_DATA_DIR)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "emit logs as JSON regardless of terminal")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newStopCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newIssueCmd())
	rootCmd.AddCommand(newWorkflowCmd())
	rootCmd.AddCommand(newVersionCmd())
}

// initLogging picks the slog handler: human-readable text on a terminal,
// JSON otherwise.
func initLogging() {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	var handler slog.Handler
	if !jsonLogs && isatty.IsTerminal(os.Stderr.Fd()) {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(handler))
}
