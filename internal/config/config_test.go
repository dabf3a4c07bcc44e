package config

import (
	"testing"
	"time"
)

func TestLoad_RequiresCoreResources(t *testing.T) {
	t.Setenv("RUNLEDGER_TABLE", "")
	t.Setenv("RUNLEDGER_BUCKET", "b")
	t.Setenv("RUNLEDGER_QUEUE_URL", "q")
	t.Setenv("RUNLEDGER_DLQ_URL", "d")

	if _, err := Load(); err == nil {
		t.Errorf("expected error for missing table name")
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("RUNLEDGER_TABLE", "ledger")
	t.Setenv("RUNLEDGER_BUCKET", "blobs")
	t.Setenv("RUNLEDGER_QUEUE_URL", "https://sqs/turns")
	t.Setenv("RUNLEDGER_DLQ_URL", "https://sqs/turns-dlq")
	t.Setenv("RUNLEDGER_WORKERS", "")
	t.Setenv("RUNLEDGER_SWEEP_INTERVAL", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Workers != 4 {
		t.Errorf("Workers = %d, want 4", cfg.Workers)
	}
	if cfg.RetryMaxAttempts != 5 {
		t.Errorf("RetryMaxAttempts = %d, want 5", cfg.RetryMaxAttempts)
	}
	if cfg.SweepInterval != time.Hour {
		t.Errorf("SweepInterval = %v, want 1h", cfg.SweepInterval)
	}
	if cfg.Policies.For("free").CoolAfterDays == 0 {
		t.Errorf("default policies not loaded")
	}
}

func TestLoad_InvalidNumbersFallBack(t *testing.T) {
	t.Setenv("RUNLEDGER_TABLE", "ledger")
	t.Setenv("RUNLEDGER_BUCKET", "blobs")
	t.Setenv("RUNLEDGER_QUEUE_URL", "q")
	t.Setenv("RUNLEDGER_DLQ_URL", "d")
	t.Setenv("RUNLEDGER_WORKERS", "many")
	t.Setenv("RUNLEDGER_SWEEP_INTERVAL", "-5m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Workers != 4 {
		t.Errorf("Workers = %d, want default 4", cfg.Workers)
	}
	if cfg.SweepInterval != time.Hour {
		t.Errorf("SweepInterval = %v, want default 1h", cfg.SweepInterval)
	}
}

func TestParsePlanPolicies(t *testing.T) {
	doc := []byte(`{
		"default": {"coolAfterDays": 10, "archiveAfterDays": 20, "deleteAfterDays": 30},
		"pro":     {"coolAfterDays": 60, "archiveAfterDays": 120, "deleteAfterDays": 0}
	}`)

	policies, err := ParsePlanPolicies(doc)
	if err != nil {
		t.Fatalf("ParsePlanPolicies: %v", err)
	}
	if got := policies.For("pro").CoolAfterDays; got != 60 {
		t.Errorf("pro coolAfterDays = %d, want 60", got)
	}
	// Unknown plans fall back to default.
	if got := policies.For("starter").DeleteAfterDays; got != 30 {
		t.Errorf("fallback deleteAfterDays = %d, want 30", got)
	}
	if policies.For("pro").DeleteAfter() != 0 {
		t.Errorf("zero deleteAfterDays must disable deletion")
	}
}

func TestParsePlanPolicies_RequiresDefault(t *testing.T) {
	if _, err := ParsePlanPolicies([]byte(`{"pro": {"coolAfterDays": 1}}`)); err == nil {
		t.Errorf("expected error for missing default entry")
	}
}
