// Package config builds the read-only configuration snapshot the process
// loads once at startup. Values come from environment variables, with the
// tenant-plan retention policies optionally refreshed from SSM Parameter
// Store. Nothing here is mutable after Load returns; clients are constructed
// in main and injected.
package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"
)

// Config is the startup snapshot for the worker and sweeper processes.
type Config struct {
	// TableName is the DynamoDB ledger table.
	TableName string

	// Bucket is the S3 bucket for turn content, agent definitions, and
	// artifacts.
	Bucket string

	// QueueURL is the turn ingestion queue; DeadLetterQueueURL receives
	// quarantined messages.
	QueueURL           string
	DeadLetterQueueURL string

	// EventBusName is the EventBridge bus for fan-out. Empty disables the
	// EventBridge subscriber.
	EventBusName string

	// Workers is the pipeline concurrency.
	Workers int

	// RetryMaxAttempts caps deliveries before dead-lettering.
	RetryMaxAttempts int

	// SweepInterval is the pause between lifecycle sweeps in loop mode.
	SweepInterval time.Duration

	// PlanPolicyParam is the SSM parameter holding the plan-policy JSON.
	// Empty means built-in defaults only.
	PlanPolicyParam string

	// Policies maps tenant plan names to retention policies.
	Policies PlanPolicies
}

// Load reads the snapshot from the environment. TableName, Bucket, QueueURL,
// and DeadLetterQueueURL are required; everything else has defaults.
func Load() (*Config, error) {
	cfg := &Config{
		TableName:          os.Getenv("RUNLEDGER_TABLE"),
		Bucket:             os.Getenv("RUNLEDGER_BUCKET"),
		QueueURL:           os.Getenv("RUNLEDGER_QUEUE_URL"),
		DeadLetterQueueURL: os.Getenv("RUNLEDGER_DLQ_URL"),
		EventBusName:       os.Getenv("RUNLEDGER_EVENT_BUS"),
		Workers:            envInt("RUNLEDGER_WORKERS", 4),
		RetryMaxAttempts:   envInt("RUNLEDGER_RETRY_MAX_ATTEMPTS", 5),
		SweepInterval:      envDuration("RUNLEDGER_SWEEP_INTERVAL", time.Hour),
		PlanPolicyParam:    os.Getenv("RUNLEDGER_PLAN_POLICY_PARAM"),
		Policies:           DefaultPlanPolicies(),
	}

	if cfg.TableName == "" {
		return nil, fmt.Errorf("RUNLEDGER_TABLE is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("RUNLEDGER_BUCKET is required")
	}
	if cfg.QueueURL == "" {
		return nil, fmt.Errorf("RUNLEDGER_QUEUE_URL is required")
	}
	if cfg.DeadLetterQueueURL == "" {
		return nil, fmt.Errorf("RUNLEDGER_DLQ_URL is required")
	}
	return cfg, nil
}

// LoadPlanPolicies refreshes Policies from the SSM parameter named by
// PlanPolicyParam. Non-fatal: on any failure the built-in defaults stay in
// effect with a warning, so a bad parameter never blocks ingestion.
func (c *Config) LoadPlanPolicies(ctx context.Context, ssmClient *ssm.Client) {
	if c.PlanPolicyParam == "" {
		return
	}

	start := time.Now()
	result, err := ssmClient.GetParameter(ctx, &ssm.GetParameterInput{
		Name: &c.PlanPolicyParam,
	})
	if err != nil {
		log.Warn().Err(err).Str("param", c.PlanPolicyParam).Msg("Plan policies not found in SSM, using defaults")
		return
	}

	policies, err := ParsePlanPolicies([]byte(*result.Parameter.Value))
	if err != nil {
		log.Warn().Err(err).Str("param", c.PlanPolicyParam).Msg("Plan policy JSON invalid, using defaults")
		return
	}

	c.Policies = policies
	log.Debug().Str("param", c.PlanPolicyParam).Int("plans", len(policies)).Dur("elapsed", time.Since(start)).Msg("Plan policies loaded from SSM")
}

func envInt(name string, def int) int {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		log.Warn().Str("envVar", name).Str("value", v).Msg("Invalid integer, using default")
		return def
	}
	return n
}

func envDuration(name string, def time.Duration) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		log.Warn().Str("envVar", name).Str("value", v).Msg("Invalid duration, using default")
		return def
	}
	return d
}
