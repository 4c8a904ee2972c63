package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/getwscheck/wscheck/pkg/config"
	"github.com/getwscheck/wscheck/pkg/engine"
	"github.com/getwscheck/wscheck/pkg/logging"
)

// errRunFailed signals a completed run with failing steps. The report has
// already been printed; only the exit code remains.
var errRunFailed = errors.New("run failed")

var (
	runOutput      string
	runConcurrency int
	runLogFile     string
)

var runCmd = &cobra.Command{
	Use:   "run <suite-file>",
	Short: "Run a suite of scenarios and report the results",
	Long: `Run loads a suite file, connects to its targets, executes every scenario,
and prints the aggregated report. The exit code is 0 only when every step
passed.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		suite, err := config.LoadFromFile(args[0])
		if err != nil {
			return err
		}

		level := logging.ParseLevel(logLevel)
		logger := logging.New(logging.Config{
			Level:  level,
			Format: logging.ParseFormat(logFormat),
		})
		if runLogFile != "" {
			f, err := os.Create(runLogFile)
			if err != nil {
				return fmt.Errorf("opening log file: %w", err)
			}
			defer func() { _ = f.Close() }()
			fileHandler := slog.NewJSONHandler(f, &slog.HandlerOptions{Level: level})
			logger = slog.New(logging.NewMultiHandler(logger.Handler(), fileHandler))
		}

		runner := engine.New(suite, engine.Options{
			Concurrency: runConcurrency,
			Logger:      logger,
		})
		rep, err := runner.Run(cmd.Context())
		if err != nil {
			return err
		}

		switch runOutput {
		case "json":
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(rep); err != nil {
				return err
			}
		case "text", "":
			rep.WriteText(cmd.OutOrStdout())
		default:
			return fmt.Errorf("unknown output format %q (want text or json)", runOutput)
		}

		if rep.ExitCode() != 0 {
			return errRunFailed
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringVarP(&runOutput, "output", "o", "text", "Report format (text, json)")
	runCmd.Flags().IntVar(&runConcurrency, "concurrency", 0, "Max scenarios in flight (default 4)")
	runCmd.Flags().StringVar(&runLogFile, "log-file", "", "Also write logs as JSON to this file")
	rootCmd.AddCommand(runCmd)
}
