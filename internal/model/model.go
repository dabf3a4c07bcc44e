// Package model defines the persistent entities of the turn ledger: tenants,
// users, agents, runs, and turns, plus the wire-level ingestion message and
// dead-letter record. Entities carry both json tags (API surface) and
// dynamodbav tags (table storage). ID fields derived from partition/row keys
// use dynamodbav:"-" and are re-populated on read.
package model

import "encoding/json"

// TenantStatus enumerates tenant lifecycle states. Tenants are never hard
// deleted; StatusDeleted marks the retention countdown.
type TenantStatus string

const (
	TenantActive    TenantStatus = "active"
	TenantSuspended TenantStatus = "suspended"
	TenantDeleted   TenantStatus = "deleted"
)

// AgentStatus enumerates agent definition states. A definition blob is
// immutable once the agent reaches AgentActive; redefinition produces a new
// blob reference, never an in-place edit.
type AgentStatus string

const (
	AgentDraft      AgentStatus = "draft"
	AgentActive     AgentStatus = "active"
	AgentDeprecated AgentStatus = "deprecated"
)

// RunStatus enumerates run lifecycle states. Created through Failed are set
// by the ingestion path; Archived and Deleted are set only by the lifecycle
// sweeper.
type RunStatus string

const (
	RunCreated   RunStatus = "created"
	RunRunning   RunStatus = "running"
	RunPaused    RunStatus = "paused"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunArchived  RunStatus = "archived"
	RunDeleted   RunStatus = "deleted"
)

// StorageTier names the blob storage classes used by lifecycle tiering.
type StorageTier string

const (
	TierHot     StorageTier = "hot"
	TierCool    StorageTier = "cool"
	TierArchive StorageTier = "archive"
)

// Tenant is the billing and isolation boundary. Partition key "TENANT",
// row key = tenant ID.
type Tenant struct {
	ID        string       `json:"tenantId" dynamodbav:"-"`
	Plan      string       `json:"plan" dynamodbav:"plan"`
	Limits    TenantLimits `json:"limits" dynamodbav:"limits"`
	Status    TenantStatus `json:"status" dynamodbav:"status"`
	CreatedAt int64        `json:"createdAt" dynamodbav:"createdAt"`
	DeletedAt int64        `json:"deletedAt,omitempty" dynamodbav:"deletedAt,omitempty"`
}

// TenantLimits bounds per-tenant resource consumption. Zero means the plan
// default applies.
type TenantLimits struct {
	MaxRuns          int64 `json:"maxRuns,omitempty" dynamodbav:"maxRuns,omitempty"`
	MaxTurnSizeBytes int64 `json:"maxTurnSizeBytes,omitempty" dynamodbav:"maxTurnSizeBytes,omitempty"`
}

// User belongs to exactly one tenant and is created on first authenticated
// access.
type User struct {
	TenantID    string `json:"tenantId" dynamodbav:"-"`
	ID          string `json:"userId" dynamodbav:"-"`
	Role        string `json:"role" dynamodbav:"role"`
	DisplayName string `json:"displayName,omitempty" dynamodbav:"displayName,omitempty"`
	CreatedAt   int64  `json:"createdAt" dynamodbav:"createdAt"`
}

// Agent references an immutable definition blob in the object store.
type Agent struct {
	TenantID          string      `json:"tenantId" dynamodbav:"-"`
	ID                string      `json:"agentId" dynamodbav:"-"`
	OwnerUserID       string      `json:"ownerUserId" dynamodbav:"ownerUserId"`
	Name              string      `json:"name" dynamodbav:"name"`
	DefinitionBlobRef string      `json:"definitionBlobRef" dynamodbav:"definitionBlobRef"`
	Status            AgentStatus `json:"status" dynamodbav:"status"`
	CreatedAt         int64       `json:"createdAt" dynamodbav:"createdAt"`
	UpdatedAt         int64       `json:"updatedAt,omitempty" dynamodbav:"updatedAt,omitempty"`
}

// Run is the aggregate a sequence of turns belongs to. TurnCount and
// LastActivityAt are denormalized by the run updater; Version is the
// optimistic-concurrency tag checked on every guarded write. Tier records the
// current storage tier so a crashed sweep can resume without re-transitioning.
type Run struct {
	TenantID       string      `json:"tenantId" dynamodbav:"tenantId"`
	ID             string      `json:"runId" dynamodbav:"-"`
	AgentID        string      `json:"agentId" dynamodbav:"agentId"`
	UserID         string      `json:"userId" dynamodbav:"userId"`
	Status         RunStatus   `json:"status" dynamodbav:"status"`
	TurnCount      int64       `json:"turnCount" dynamodbav:"turnCount"`
	LastActivityAt int64       `json:"lastActivityAt" dynamodbav:"lastActivityAt"`
	CreatedAt      int64       `json:"createdAt" dynamodbav:"createdAt"`
	Tier           StorageTier `json:"tier,omitempty" dynamodbav:"tier,omitempty"`
	Version        int64       `json:"-" dynamodbav:"version"`
}

// Turn is one immutable entry in a run's ordered sequence. Turns are only
// ever appended; a retry of the same (runId, turnId) pair must be a no-op.
type Turn struct {
	RunID     string `json:"runId" dynamodbav:"-"`
	ID        string `json:"turnId" dynamodbav:"-"`
	TenantID  string `json:"tenantId" dynamodbav:"tenantId"`
	Role      string `json:"role" dynamodbav:"role"`
	Type      string `json:"type,omitempty" dynamodbav:"type,omitempty"`
	BlobRef   string `json:"blobRef" dynamodbav:"blobRef"`
	CreatedAt int64  `json:"createdAt" dynamodbav:"createdAt"`
}

// TurnMessage is the enqueue contract consumed from the boundary API. The
// producer generates TurnID client-side so retries are idempotent. Exactly one
// of ContentRef or InlineContent should be set.
type TurnMessage struct {
	TenantID      string          `json:"tenantId"`
	RunID         string          `json:"runId"`
	TurnID        string          `json:"turnId"`
	Role          string          `json:"role"`
	Type          string          `json:"type,omitempty"`
	ContentRef    string          `json:"contentRef,omitempty"`
	InlineContent json.RawMessage `json:"inlineContent,omitempty"`
	CreatedAt     int64           `json:"createdAt,omitempty"`
}

// DeadLetterRecord wraps a message that exhausted its retry budget or failed
// permanently. Payload is the original message body, untouched.
type DeadLetterRecord struct {
	Payload       json.RawMessage `json:"payload"`
	Reason        string          `json:"reason"`
	Attempts      int             `json:"attempts"`
	FirstFailedAt int64           `json:"firstFailedAt"`
	LastFailedAt  int64           `json:"lastFailedAt"`
}
