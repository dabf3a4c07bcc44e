package registry

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/runledger/runledger/internal/model"
)

// demoAgentDefinition is the definition blob seeded for demo environments.
var demoAgentDefinition = []byte(`{
  "name": "demo-assistant",
  "systemPrompt": "You are a helpful assistant used to exercise the turn ledger end to end.",
  "tools": []
}`)

// SeedDemo provisions a demo tenant with one user and one active agent, and
// starts a first run. Intended for fresh environments and local smoke tests;
// calling it repeatedly creates independent demo tenants.
func (r *Registry) SeedDemo(ctx context.Context) (*model.Run, error) {
	tenant, err := r.ProvisionTenant(ctx, "free", model.TenantLimits{MaxRuns: 100})
	if err != nil {
		return nil, err
	}

	user, err := r.EnsureUser(ctx, tenant.ID, "demo-user", "admin", "Demo User")
	if err != nil {
		return nil, err
	}

	agent, err := r.CreateAgent(ctx, tenant.ID, user.ID, "demo-assistant", demoAgentDefinition)
	if err != nil {
		return nil, err
	}
	if err := r.ActivateAgent(ctx, tenant.ID, agent.ID); err != nil {
		return nil, err
	}

	run, err := r.StartRun(ctx, tenant.ID, agent.ID, user.ID)
	if err != nil {
		return nil, fmt.Errorf("start demo run: %w", err)
	}

	log.Info().
		Str("tenantId", tenant.ID).
		Str("agentId", agent.ID).
		Str("runId", run.ID).
		Msg("Demo tenant seeded")
	return run, nil
}
