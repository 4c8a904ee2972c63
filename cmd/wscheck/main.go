// wscheck CLI - scenario-driven WebSocket endpoint checker
package main

import (
	"os"

	"github.com/getwscheck/wscheck/pkg/cli"
)

// Build-time variables set via ldflags
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	cli.Version = Version
	cli.Commit = Commit
	cli.BuildDate = BuildDate
	os.Exit(cli.Execute())
}
