// runledger is the operator CLI: it runs the ingestion worker pool and the
// lifecycle sweeper, and provides enqueue/seed tooling for smoke tests.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/runledger/runledger/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "runledger",
	Short: "Multi-tenant turn ledger pipeline",
	Long: `runledger ingests agent-execution turns from a durable queue into
partitioned blob and table storage, maintains run aggregates, and ages data
through storage tiers.

Examples:
  runledger worker                 # run the ingestion pipeline
  runledger sweep --loop           # run the lifecycle sweeper continuously
  runledger seed                   # provision a demo tenant and run
  runledger enqueue --run run-abc --role user --content '{"text":"hi"}'`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
