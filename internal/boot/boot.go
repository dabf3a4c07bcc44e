// Package boot provides shared startup wiring. The worker daemon and the
// sweep Lambda need the same subset of: AWS config, the three store adapters,
// the event publisher, and startup logging. This package extracts the common
// init patterns so each entrypoint is a short composition of helpers.
package boot

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"

	"github.com/runledger/runledger/internal/blob"
	"github.com/runledger/runledger/internal/config"
	"github.com/runledger/runledger/internal/events"
	"github.com/runledger/runledger/internal/logging"
	"github.com/runledger/runledger/internal/queue"
	"github.com/runledger/runledger/internal/table"
)

// AWSClients holds the core AWS SDK clients used across entrypoints.
type AWSClients struct {
	Config aws.Config
	SSM    *ssm.Client
}

// Stores bundles the three adapters plus the dead-letter queue.
type Stores struct {
	Blobs  blob.Store
	Tables table.Store
	Queue  queue.Queue
	DLQ    queue.Queue
}

// InitAWS loads the default AWS config and returns it along with common clients.
func InitAWS(ctx context.Context) AWSClients {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load AWS config")
	}
	log.Debug().Str("region", cfg.Region).Msg("AWS config loaded")
	return AWSClients{
		Config: cfg,
		SSM:    ssm.NewFromConfig(cfg),
	}
}

// InitStores constructs the production adapters from the config snapshot.
// Fatals on wiring errors; there is no degraded mode without the stores.
func InitStores(awsCfg aws.Config, cfg *config.Config) Stores {
	blobs, err := blob.NewS3Store(s3.NewFromConfig(awsCfg), cfg.Bucket)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize blob store")
	}

	sqsClient := sqs.NewFromConfig(awsCfg)
	return Stores{
		Blobs:  blobs,
		Tables: table.NewDynamoStore(dynamodb.NewFromConfig(awsCfg), cfg.TableName),
		Queue:  queue.NewSQSQueue(sqsClient, cfg.QueueURL),
		DLQ:    queue.NewSQSQueue(sqsClient, cfg.DeadLetterQueueURL),
	}
}

// InitPublisher builds the event fan-out: the EventBridge subscriber when a
// bus is configured, always the log subscriber.
func InitPublisher(awsCfg aws.Config, cfg *config.Config) *events.Publisher {
	subscribers := []events.Subscriber{events.LogSubscriber{}}
	if cfg.EventBusName != "" {
		subscribers = append(subscribers, events.NewEventBridgeSubscriber(eventbridge.NewFromConfig(awsCfg), cfg.EventBusName))
	} else {
		log.Warn().Msg("RUNLEDGER_EVENT_BUS not set, events go to logs only")
	}
	return events.NewPublisher(subscribers...)
}

// StartupLog collects the standard startup summary for an entrypoint.
func StartupLog(name string, cfg *config.Config, initStart time.Time) *logging.StartupLogger {
	return logging.NewStartupLogger(name).
		DynamoTable("ledger", cfg.TableName).
		S3Bucket("blobs", cfg.Bucket).
		Queue("turns", cfg.QueueURL).
		Queue("deadLetter", cfg.DeadLetterQueueURL).
		EventBus("events", cfg.EventBusName).
		SSMParam("planPolicies", cfg.PlanPolicyParam).
		InitDuration(time.Since(initStart))
}
