package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/getwscheck/wscheck/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate <suite-file>",
	Short: "Validate a suite file without connecting anywhere",
	Long: `Validate loads a suite file, checks its targets, and compiles every
scenario. Nothing is dialed; this is a purely local check suitable for
pre-commit hooks.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		suite, err := config.LoadFromFile(args[0])
		if err != nil {
			return err
		}

		steps := 0
		for _, sc := range suite.Scenarios {
			steps += len(sc.Steps)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: OK (%d targets, %d scenarios, %d steps)\n",
			args[0], len(suite.Targets), len(suite.Scenarios), steps)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
