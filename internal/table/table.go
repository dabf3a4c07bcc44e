// Package table provides the wide-column table store for the turn ledger: a
// partitioned, sorted-by-row-key entity store backed by a single DynamoDB
// table in production and an in-memory double in tests.
//
// Layout (partition key | sort key):
//
//	TENANT           | {tenantId}          → tenant catalogue
//	TENANT#{t}       | USER#{userId}       → users
//	TENANT#{t}       | AGENT#{agentId}     → agents
//	TENANT#{t}       | RUN#{ts}|{runId}    → run index rows (per-tenant scans)
//	RUN#{runId}      | META                → run aggregate (version-guarded)
//	RUN#{runId}      | TURN#{ts}|{turnId}  → turns, chronologically sorted
//
// The run aggregate lives in the run's own partition so the aggregate updater
// targets a single well-known key with a version precondition; the index row
// in the tenant partition exists only for lifecycle scans.
package table

import (
	"context"
	"errors"

	"github.com/runledger/runledger/internal/model"
)

// ErrVersionConflict is returned by UpdateRunGuarded when the stored version
// tag no longer matches the expected one: another writer got there first.
var ErrVersionConflict = errors.New("run version conflict")

// RunRef is a run index row in a tenant partition, enough to locate the
// aggregate and its blobs.
type RunRef struct {
	RunID     string `dynamodbav:"runId"`
	CreatedAt int64  `dynamodbav:"createdAt"`
}

// Store is the table-store contract. Each method is safe for concurrent use;
// writes to different partitions never contend, writes to the same run
// partition tolerate races via upsert and version preconditions, never via
// locking.
//
// All Get methods return (nil, nil) when the requested row does not exist.
type Store interface {
	// --- Turns ---

	// PutTurn upserts a turn row. The sort key is derived from the turn's
	// CreatedAt and ID, so a retried message lands on the same row. Returns
	// created=false when the row already existed (idempotent redelivery).
	PutTurn(ctx context.Context, turn *model.Turn) (created bool, err error)

	// ListTurns returns all turns of a run in row-key (chronological) order.
	ListTurns(ctx context.Context, runID string) ([]model.Turn, error)

	// CountTurns returns the number of turn rows for a run.
	CountTurns(ctx context.Context, runID string) (int64, error)

	// DeleteTurns removes every turn row of a run. Returns the count deleted.
	DeleteTurns(ctx context.Context, runID string) (int, error)

	// --- Runs ---

	// CreateRun writes the run aggregate and its tenant-partition index row.
	CreateRun(ctx context.Context, run *model.Run) error

	// GetRun retrieves the run aggregate. Returns nil, nil if not found.
	GetRun(ctx context.Context, runID string) (*model.Run, error)

	// UpdateRunGuarded replaces the run aggregate only if the stored version
	// equals expectedVersion, and bumps the version on success. Returns
	// ErrVersionConflict when the precondition fails.
	UpdateRunGuarded(ctx context.Context, run *model.Run, expectedVersion int64) error

	// ListRunRefs returns the run index rows of a tenant in row-key order.
	ListRunRefs(ctx context.Context, tenantID string) ([]RunRef, error)

	// DeleteRun removes the run aggregate and its index row.
	DeleteRun(ctx context.Context, tenantID, runID string, createdAt int64) error

	// --- Tenants, users, agents ---

	// PutTenant creates or replaces a tenant catalogue row.
	PutTenant(ctx context.Context, tenant *model.Tenant) error

	// GetTenant retrieves a tenant. Returns nil, nil if not found.
	GetTenant(ctx context.Context, tenantID string) (*model.Tenant, error)

	// ListTenants returns every tenant in the catalogue.
	ListTenants(ctx context.Context) ([]model.Tenant, error)

	// PutUser creates or replaces a user row.
	PutUser(ctx context.Context, user *model.User) error

	// GetUser retrieves a user. Returns nil, nil if not found.
	GetUser(ctx context.Context, tenantID, userID string) (*model.User, error)

	// PutAgent creates or replaces an agent row.
	PutAgent(ctx context.Context, agent *model.Agent) error

	// GetAgent retrieves an agent. Returns nil, nil if not found.
	GetAgent(ctx context.Context, tenantID, agentID string) (*model.Agent, error)

	// ListAgents returns all agents of a tenant.
	ListAgents(ctx context.Context, tenantID string) ([]model.Agent, error)
}
