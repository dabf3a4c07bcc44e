// Package registry manages the tenant, user, agent, and run catalog: the
// control-plane entities the ingestion pipeline assumes exist. Tenants are
// provisioned and soft-deleted here, users materialize on first access, and
// agent definitions live as immutable blobs once activated.
package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/runledger/runledger/internal/blob"
	"github.com/runledger/runledger/internal/model"
	"github.com/runledger/runledger/internal/partition"
	"github.com/runledger/runledger/internal/table"
)

var (
	// ErrTenantNotFound is returned when the tenant does not exist.
	ErrTenantNotFound = errors.New("tenant not found")

	// ErrTenantInactive is returned when the tenant is suspended or deleted.
	ErrTenantInactive = errors.New("tenant not active")

	// ErrAgentNotFound is returned when the agent does not exist.
	ErrAgentNotFound = errors.New("agent not found")

	// ErrAgentImmutable is returned for definition writes against an agent
	// past draft. Activated definitions never change; deprecate the agent and
	// create a new one instead.
	ErrAgentImmutable = errors.New("agent definition immutable once active")

	// ErrAgentNotActive is returned when starting a run against an agent that
	// is not active.
	ErrAgentNotActive = errors.New("agent not active")

	// ErrRunLimitExceeded is returned when the tenant's run quota is used up.
	ErrRunLimitExceeded = errors.New("tenant run limit exceeded")
)

// Registry coordinates catalog rows in the table store with definition blobs
// in the object store.
type Registry struct {
	tables table.Store
	blobs  blob.Store
}

// New creates a Registry over the given stores.
func New(tables table.Store, blobs blob.Store) *Registry {
	return &Registry{tables: tables, blobs: blobs}
}

// --- Tenants ---

// ProvisionTenant creates an active tenant on the given plan.
func (r *Registry) ProvisionTenant(ctx context.Context, plan string, limits model.TenantLimits) (*model.Tenant, error) {
	tenant := &model.Tenant{
		ID:        model.NewTenantID(),
		Plan:      plan,
		Limits:    limits,
		Status:    model.TenantActive,
		CreatedAt: time.Now().UnixMilli(),
	}
	if err := r.tables.PutTenant(ctx, tenant); err != nil {
		return nil, fmt.Errorf("provision tenant: %w", err)
	}
	log.Info().Str("tenantId", tenant.ID).Str("plan", plan).Msg("Tenant provisioned")
	return tenant, nil
}

// SuspendTenant stops a tenant's ingestion without touching its data.
func (r *Registry) SuspendTenant(ctx context.Context, tenantID string) error {
	return r.setTenantStatus(ctx, tenantID, model.TenantSuspended, 0)
}

// DeleteTenant soft-deletes a tenant, starting the retention countdown the
// lifecycle sweeper enforces. The tenant row itself is kept forever.
func (r *Registry) DeleteTenant(ctx context.Context, tenantID string) error {
	return r.setTenantStatus(ctx, tenantID, model.TenantDeleted, time.Now().UnixMilli())
}

func (r *Registry) setTenantStatus(ctx context.Context, tenantID string, status model.TenantStatus, deletedAt int64) error {
	tenant, err := r.tables.GetTenant(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("read tenant %s: %w", tenantID, err)
	}
	if tenant == nil {
		return fmt.Errorf("tenant %s: %w", tenantID, ErrTenantNotFound)
	}

	tenant.Status = status
	if deletedAt != 0 {
		tenant.DeletedAt = deletedAt
	}
	if err := r.tables.PutTenant(ctx, tenant); err != nil {
		return fmt.Errorf("update tenant %s: %w", tenantID, err)
	}
	log.Info().Str("tenantId", tenantID).Str("status", string(status)).Msg("Tenant status changed")
	return nil
}

// activeTenant loads a tenant and verifies it accepts writes.
func (r *Registry) activeTenant(ctx context.Context, tenantID string) (*model.Tenant, error) {
	tenant, err := r.tables.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("read tenant %s: %w", tenantID, err)
	}
	if tenant == nil {
		return nil, fmt.Errorf("tenant %s: %w", tenantID, ErrTenantNotFound)
	}
	if tenant.Status != model.TenantActive {
		return nil, fmt.Errorf("tenant %s (status %s): %w", tenantID, tenant.Status, ErrTenantInactive)
	}
	return tenant, nil
}

// --- Users ---

// EnsureUser returns the user, creating it on first access. Role and display
// name only apply to the creating call; an existing user is returned as is.
func (r *Registry) EnsureUser(ctx context.Context, tenantID, userID, role, displayName string) (*model.User, error) {
	if _, err := r.activeTenant(ctx, tenantID); err != nil {
		return nil, err
	}

	user, err := r.tables.GetUser(ctx, tenantID, userID)
	if err != nil {
		return nil, fmt.Errorf("read user %s: %w", userID, err)
	}
	if user != nil {
		return user, nil
	}

	if role == "" {
		role = "member"
	}
	user = &model.User{
		TenantID:    tenantID,
		ID:          userID,
		Role:        role,
		DisplayName: displayName,
		CreatedAt:   time.Now().UnixMilli(),
	}
	if err := r.tables.PutUser(ctx, user); err != nil {
		return nil, fmt.Errorf("create user %s: %w", userID, err)
	}
	log.Debug().Str("tenantId", tenantID).Str("userId", userID).Msg("User created on first access")
	return user, nil
}

// --- Agents ---

// CreateAgent creates a draft agent and writes its definition blob.
func (r *Registry) CreateAgent(ctx context.Context, tenantID, ownerUserID, name string, definition []byte) (*model.Agent, error) {
	if _, err := r.activeTenant(ctx, tenantID); err != nil {
		return nil, err
	}

	agent := &model.Agent{
		TenantID:    tenantID,
		ID:          model.NewID("agent-"),
		OwnerUserID: ownerUserID,
		Name:        name,
		Status:      model.AgentDraft,
		CreatedAt:   time.Now().UnixMilli(),
	}
	agent.DefinitionBlobRef = partition.AgentDefPath(tenantID, agent.ID)

	if err := r.blobs.Put(ctx, agent.DefinitionBlobRef, definition, "application/json"); err != nil {
		return nil, fmt.Errorf("write agent definition: %w", err)
	}
	if err := r.tables.PutAgent(ctx, agent); err != nil {
		return nil, fmt.Errorf("create agent: %w", err)
	}
	log.Info().Str("tenantId", tenantID).Str("agentId", agent.ID).Str("name", name).Msg("Agent created")
	return agent, nil
}

// UpdateAgentDefinition overwrites a draft agent's definition blob. Past
// draft the definition is immutable.
func (r *Registry) UpdateAgentDefinition(ctx context.Context, tenantID, agentID string, definition []byte) error {
	agent, err := r.getAgent(ctx, tenantID, agentID)
	if err != nil {
		return err
	}
	if agent.Status != model.AgentDraft {
		return fmt.Errorf("agent %s (status %s): %w", agentID, agent.Status, ErrAgentImmutable)
	}

	if err := r.blobs.Put(ctx, agent.DefinitionBlobRef, definition, "application/json"); err != nil {
		return fmt.Errorf("write agent definition: %w", err)
	}
	agent.UpdatedAt = time.Now().UnixMilli()
	if err := r.tables.PutAgent(ctx, agent); err != nil {
		return fmt.Errorf("update agent: %w", err)
	}
	return nil
}

// ActivateAgent transitions draft → active, freezing the definition.
func (r *Registry) ActivateAgent(ctx context.Context, tenantID, agentID string) error {
	return r.transitionAgent(ctx, tenantID, agentID, model.AgentDraft, model.AgentActive)
}

// DeprecateAgent transitions active → deprecated. Existing runs keep their
// definition blob reference; new runs are refused.
func (r *Registry) DeprecateAgent(ctx context.Context, tenantID, agentID string) error {
	return r.transitionAgent(ctx, tenantID, agentID, model.AgentActive, model.AgentDeprecated)
}

func (r *Registry) transitionAgent(ctx context.Context, tenantID, agentID string, from, to model.AgentStatus) error {
	agent, err := r.getAgent(ctx, tenantID, agentID)
	if err != nil {
		return err
	}
	if agent.Status != from {
		return fmt.Errorf("agent %s: cannot transition %s to %s", agentID, agent.Status, to)
	}

	agent.Status = to
	agent.UpdatedAt = time.Now().UnixMilli()
	if err := r.tables.PutAgent(ctx, agent); err != nil {
		return fmt.Errorf("update agent %s: %w", agentID, err)
	}
	log.Info().Str("tenantId", tenantID).Str("agentId", agentID).Str("status", string(to)).Msg("Agent status changed")
	return nil
}

// GetAgentDefinition returns the agent's definition blob.
func (r *Registry) GetAgentDefinition(ctx context.Context, tenantID, agentID string) ([]byte, error) {
	agent, err := r.getAgent(ctx, tenantID, agentID)
	if err != nil {
		return nil, err
	}
	data, err := r.blobs.Get(ctx, agent.DefinitionBlobRef)
	if err != nil {
		return nil, fmt.Errorf("read agent definition %s: %w", agent.DefinitionBlobRef, err)
	}
	return data, nil
}

// ListAgents returns the tenant's agents.
func (r *Registry) ListAgents(ctx context.Context, tenantID string) ([]model.Agent, error) {
	return r.tables.ListAgents(ctx, tenantID)
}

func (r *Registry) getAgent(ctx context.Context, tenantID, agentID string) (*model.Agent, error) {
	agent, err := r.tables.GetAgent(ctx, tenantID, agentID)
	if err != nil {
		return nil, fmt.Errorf("read agent %s: %w", agentID, err)
	}
	if agent == nil {
		return nil, fmt.Errorf("agent %s: %w", agentID, ErrAgentNotFound)
	}
	return agent, nil
}

// --- Runs ---

// StartRun creates the run aggregate a turn sequence will attach to. The
// tenant must be active, the agent active, and the tenant's run quota not
// exhausted.
func (r *Registry) StartRun(ctx context.Context, tenantID, agentID, userID string) (*model.Run, error) {
	tenant, err := r.activeTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	agent, err := r.getAgent(ctx, tenantID, agentID)
	if err != nil {
		return nil, err
	}
	if agent.Status != model.AgentActive {
		return nil, fmt.Errorf("agent %s (status %s): %w", agentID, agent.Status, ErrAgentNotActive)
	}

	if tenant.Limits.MaxRuns > 0 {
		refs, err := r.tables.ListRunRefs(ctx, tenantID)
		if err != nil {
			return nil, fmt.Errorf("count runs: %w", err)
		}
		if int64(len(refs)) >= tenant.Limits.MaxRuns {
			return nil, fmt.Errorf("tenant %s has %d runs: %w", tenantID, len(refs), ErrRunLimitExceeded)
		}
	}

	run := &model.Run{
		TenantID:  tenantID,
		ID:        model.NewID("run-"),
		AgentID:   agentID,
		UserID:    userID,
		Status:    model.RunCreated,
		CreatedAt: time.Now().UnixMilli(),
	}
	if err := r.tables.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	log.Info().Str("tenantId", tenantID).Str("runId", run.ID).Str("agentId", agentID).Msg("Run started")
	return run, nil
}
