package table

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog/log"

	"github.com/runledger/runledger/internal/model"
)

func (s *DynamoStore) PutTenant(ctx context.Context, tenant *model.Tenant) error {
	if _, err := s.putItem(ctx, pkTenantCatalog, tenant.ID, tenant); err != nil {
		return fmt.Errorf("put tenant %s: %w", tenant.ID, err)
	}

	log.Debug().Str("tenantId", tenant.ID).Str("plan", tenant.Plan).Str("status", string(tenant.Status)).Msg("Tenant persisted")
	return nil
}

func (s *DynamoStore) GetTenant(ctx context.Context, tenantID string) (*model.Tenant, error) {
	var tenant model.Tenant
	found, err := s.getItem(ctx, pkTenantCatalog, tenantID, &tenant)
	if err != nil {
		return nil, fmt.Errorf("get tenant %s: %w", tenantID, err)
	}
	if !found {
		return nil, nil
	}

	tenant.ID = tenantID
	return &tenant, nil
}

func (s *DynamoStore) ListTenants(ctx context.Context) ([]model.Tenant, error) {
	items, err := s.queryByPK(ctx, pkTenantCatalog)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}

	tenants := make([]model.Tenant, 0, len(items))
	for _, item := range items {
		var tenant model.Tenant
		if err := attributevalue.UnmarshalMap(item, &tenant); err != nil {
			log.Warn().Err(err).Msg("Failed to unmarshal tenant row, skipping")
			continue
		}
		if skAttr, ok := item["SK"].(*types.AttributeValueMemberS); ok {
			tenant.ID = skAttr.Value
		}
		tenants = append(tenants, tenant)
	}
	return tenants, nil
}

func (s *DynamoStore) PutUser(ctx context.Context, user *model.User) error {
	if _, err := s.putItem(ctx, tenantPK(user.TenantID), skUserPrefix+user.ID, user); err != nil {
		return fmt.Errorf("put user %s/%s: %w", user.TenantID, user.ID, err)
	}

	log.Debug().Str("tenantId", user.TenantID).Str("userId", user.ID).Msg("User persisted")
	return nil
}

func (s *DynamoStore) GetUser(ctx context.Context, tenantID, userID string) (*model.User, error) {
	var user model.User
	found, err := s.getItem(ctx, tenantPK(tenantID), skUserPrefix+userID, &user)
	if err != nil {
		return nil, fmt.Errorf("get user %s/%s: %w", tenantID, userID, err)
	}
	if !found {
		return nil, nil
	}

	user.TenantID = tenantID
	user.ID = userID
	return &user, nil
}

func (s *DynamoStore) PutAgent(ctx context.Context, agent *model.Agent) error {
	if _, err := s.putItem(ctx, tenantPK(agent.TenantID), skAgentPrefix+agent.ID, agent); err != nil {
		return fmt.Errorf("put agent %s/%s: %w", agent.TenantID, agent.ID, err)
	}

	log.Debug().
		Str("tenantId", agent.TenantID).
		Str("agentId", agent.ID).
		Str("status", string(agent.Status)).
		Msg("Agent persisted")
	return nil
}

func (s *DynamoStore) GetAgent(ctx context.Context, tenantID, agentID string) (*model.Agent, error) {
	var agent model.Agent
	found, err := s.getItem(ctx, tenantPK(tenantID), skAgentPrefix+agentID, &agent)
	if err != nil {
		return nil, fmt.Errorf("get agent %s/%s: %w", tenantID, agentID, err)
	}
	if !found {
		return nil, nil
	}

	agent.TenantID = tenantID
	agent.ID = agentID
	return &agent, nil
}

func (s *DynamoStore) ListAgents(ctx context.Context, tenantID string) ([]model.Agent, error) {
	items, err := s.queryBySKPrefix(ctx, tenantPK(tenantID), skAgentPrefix)
	if err != nil {
		return nil, fmt.Errorf("list agents for %s: %w", tenantID, err)
	}

	agents := make([]model.Agent, 0, len(items))
	for _, item := range items {
		var agent model.Agent
		if err := attributevalue.UnmarshalMap(item, &agent); err != nil {
			log.Warn().Err(err).Str("tenantId", tenantID).Msg("Failed to unmarshal agent row, skipping")
			continue
		}
		agent.TenantID = tenantID
		if skAttr, ok := item["SK"].(*types.AttributeValueMemberS); ok {
			agent.ID = strings.TrimPrefix(skAttr.Value, skAgentPrefix)
		}
		agents = append(agents, agent)
	}
	return agents, nil
}
