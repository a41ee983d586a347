// Package main is the entry point of the momentum portfolio manager.
//
// Commands:
//   - run [--live]: run the pipeline once and print the report
//   - serve [--live]: scheduled runs, nightly maintenance and the status API
//   - state show | state reset --force: inspect or clear the risk state
package main

import (
	"os"

	"github.com/aristath/portfolio-manager/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
