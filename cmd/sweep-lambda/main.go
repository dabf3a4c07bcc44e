// sweep-lambda runs one lifecycle sweep per scheduled invocation. It is the
// production deployment of the retention manager; the `runledger sweep` CLI
// covers local and one-off use.
package main

import (
	"context"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog/log"

	"github.com/runledger/runledger/internal/boot"
	"github.com/runledger/runledger/internal/config"
	"github.com/runledger/runledger/internal/lifecycle"
	"github.com/runledger/runledger/internal/logging"
)

var sweeper *lifecycle.Sweeper

func handler(ctx context.Context) error {
	report, err := sweeper.SweepOnce(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Lifecycle sweep failed")
		return err
	}

	log.Info().
		Int("tenants", report.TenantsSwept).
		Int("runs", report.RunsExamined).
		Int("cooled", report.Cooled).
		Int("archived", report.Archived).
		Int("deleted", report.Deleted).
		Int("repaired", report.Repaired).
		Msg("Lifecycle sweep complete")
	return nil
}

func main() {
	initStart := time.Now()
	logging.Init()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx := context.Background()
	clients := boot.InitAWS(ctx)
	cfg.LoadPlanPolicies(ctx, clients.SSM)
	stores := boot.InitStores(clients.Config, cfg)
	publisher := boot.InitPublisher(clients.Config, cfg)

	sweeper = lifecycle.NewSweeper(stores.Tables, stores.Blobs, publisher, cfg.Policies, cfg.SweepInterval)

	boot.StartupLog("sweep-lambda", cfg, initStart).Log()

	lambda.Start(handler)
}
