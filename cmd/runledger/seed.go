package main

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/runledger/runledger/internal/boot"
	"github.com/runledger/runledger/internal/config"
	"github.com/runledger/runledger/internal/registry"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Provision a demo tenant with an active agent and a first run",
	Run:   runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

func runSeed(cmd *cobra.Command, args []string) {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx := context.Background()
	clients := boot.InitAWS(ctx)
	stores := boot.InitStores(clients.Config, cfg)

	run, err := registry.New(stores.Tables, stores.Blobs).SeedDemo(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Seeding failed")
	}
	log.Info().
		Str("tenantId", run.TenantID).
		Str("agentId", run.AgentID).
		Str("runId", run.ID).
		Msg("Demo environment ready, enqueue turns against this run")
}
