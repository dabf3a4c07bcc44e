package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/runledger/runledger/internal/boot"
	"github.com/runledger/runledger/internal/config"
	"github.com/runledger/runledger/internal/lifecycle"
)

var sweepLoopFlag bool

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run the lifecycle sweep once (or continuously with --loop)",
	Run:   runSweep,
}

func init() {
	sweepCmd.Flags().BoolVar(&sweepLoopFlag, "loop", false, "Keep sweeping on the configured interval")
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) {
	initStart := time.Now()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clients := boot.InitAWS(ctx)
	cfg.LoadPlanPolicies(ctx, clients.SSM)
	stores := boot.InitStores(clients.Config, cfg)
	publisher := boot.InitPublisher(clients.Config, cfg)

	boot.StartupLog("sweep", cfg, initStart).
		Config("interval", cfg.SweepInterval.String()).
		Log()

	sweeper := lifecycle.NewSweeper(stores.Tables, stores.Blobs, publisher, cfg.Policies, cfg.SweepInterval)

	if sweepLoopFlag {
		sweeper.Run(ctx)
		return
	}

	report, err := sweeper.SweepOnce(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Lifecycle sweep failed")
	}
	log.Info().
		Int("tenants", report.TenantsSwept).
		Int("runs", report.RunsExamined).
		Int("cooled", report.Cooled).
		Int("archived", report.Archived).
		Int("deleted", report.Deleted).
		Int("repaired", report.Repaired).
		Msg("Lifecycle sweep complete")
}
