package main

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/runledger/runledger/internal/boot"
	"github.com/runledger/runledger/internal/config"
	"github.com/runledger/runledger/internal/ingest"
	"github.com/runledger/runledger/internal/model"
)

var (
	enqueueTenantFlag  string
	enqueueRunFlag     string
	enqueueTurnFlag    string
	enqueueRoleFlag    string
	enqueueTypeFlag    string
	enqueueContentFlag string
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Send one turn message onto the ingestion queue",
	Long: `enqueue exercises the producer contract end to end: it validates the
message, assigns a turn ID if none is given, and sends it on the configured
queue for the worker to ingest.`,
	Run: runEnqueue,
}

func init() {
	enqueueCmd.Flags().StringVar(&enqueueTenantFlag, "tenant", "", "Tenant ID (required)")
	enqueueCmd.Flags().StringVar(&enqueueRunFlag, "run", "", "Run ID (required)")
	enqueueCmd.Flags().StringVar(&enqueueTurnFlag, "turn", "", "Turn ID (default: generated)")
	enqueueCmd.Flags().StringVar(&enqueueRoleFlag, "role", "user", "Turn role")
	enqueueCmd.Flags().StringVar(&enqueueTypeFlag, "type", "", "Turn type")
	enqueueCmd.Flags().StringVar(&enqueueContentFlag, "content", "", "Inline JSON content (required)")
	enqueueCmd.MarkFlagRequired("tenant")
	enqueueCmd.MarkFlagRequired("run")
	enqueueCmd.MarkFlagRequired("content")
	rootCmd.AddCommand(enqueueCmd)
}

func runEnqueue(cmd *cobra.Command, args []string) {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx := context.Background()
	clients := boot.InitAWS(ctx)
	stores := boot.InitStores(clients.Config, cfg)

	turnID := enqueueTurnFlag
	if turnID == "" {
		turnID = model.NewID("turn-")
	}

	msg := &model.TurnMessage{
		TenantID:      enqueueTenantFlag,
		RunID:         enqueueRunFlag,
		TurnID:        turnID,
		Role:          enqueueRoleFlag,
		Type:          enqueueTypeFlag,
		InlineContent: json.RawMessage(enqueueContentFlag),
	}
	if err := ingest.Enqueue(ctx, stores.Queue, msg); err != nil {
		log.Fatal().Err(err).Msg("Enqueue failed")
	}
	log.Info().Str("runId", msg.RunID).Str("turnId", msg.TurnID).Msg("Turn enqueued")
}
