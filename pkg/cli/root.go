// Package cli implements the wscheck command-line interface.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Persistent flags available to all subcommands
	logLevel  string
	logFormat string

	// Version is injected during build
	Version = "dev"
	// Commit is injected during build
	Commit = "none"
	// BuildDate is injected during build
	BuildDate = "unknown"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "wscheck",
	Short: "wscheck is a scenario-driven WebSocket endpoint checker",
	Long: `wscheck connects to WebSocket endpoints and drives scripted scenarios
against them: send messages, assert on replies, and verify close behavior.
Suites are plain YAML or JSON files; the exit code reflects the run outcome,
so wscheck slots directly into CI pipelines.`,
	SilenceUsage:  true,
	SilenceErrors: true, // Errors are handled in Execute()
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		if err == errRunFailed {
			// The failure report was already printed.
			return 1
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format (text, json)")
}
