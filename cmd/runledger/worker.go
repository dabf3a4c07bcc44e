package main

import (
	"context"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/runledger/runledger/internal/boot"
	"github.com/runledger/runledger/internal/config"
	"github.com/runledger/runledger/internal/ingest"
	"github.com/runledger/runledger/internal/runstate"
)

var workerCountFlag int

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the turn ingestion pipeline",
	Run:   runWorker,
}

func init() {
	workerCmd.Flags().IntVar(&workerCountFlag, "workers", 0, "Concurrent consumers (0 = config default)")
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) {
	initStart := time.Now()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	if workerCountFlag > 0 {
		cfg.Workers = workerCountFlag
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clients := boot.InitAWS(ctx)
	cfg.LoadPlanPolicies(ctx, clients.SSM)
	stores := boot.InitStores(clients.Config, cfg)
	publisher := boot.InitPublisher(clients.Config, cfg)

	boot.StartupLog("worker", cfg, initStart).
		Config("workers", strconv.Itoa(cfg.Workers)).
		Log()

	pipeline := ingest.New(
		stores.Queue,
		stores.DLQ,
		stores.Blobs,
		stores.Tables,
		runstate.NewUpdater(stores.Tables, 0),
		publisher,
		ingest.Options{
			Workers: cfg.Workers,
			Retry:   ingest.RetryPolicy{MaxAttempts: cfg.RetryMaxAttempts, BaseDelay: ingest.DefaultBaseDelay, MaxDelay: ingest.DefaultMaxDelay},
		},
	)
	pipeline.Run(ctx)
}
