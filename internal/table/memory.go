package table

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/runledger/runledger/internal/model"
	"github.com/runledger/runledger/internal/partition"
)

// Memory is an in-process Store for tests. Partitions are independent maps,
// sort keys are the same strings the DynamoDB implementation uses, and
// UpdateRunGuarded honors version tags, so concurrency tests exercise the
// same semantics the production store provides.
type Memory struct {
	mu      sync.Mutex
	turns   map[string]map[string]model.Turn // runID → SK → turn
	runs    map[string]model.Run             // runID → aggregate
	runRefs map[string]map[string]RunRef     // tenantID → SK → index row
	tenants map[string]model.Tenant
	users   map[string]model.User            // tenantID/userID
	agents  map[string]map[string]model.Agent

	// FailPutTurn and FailUpdateRun, when non-nil, are consulted before the
	// corresponding write and abort it without mutating state. Used to
	// exercise the retry and dead-letter paths.
	FailPutTurn   func(turn *model.Turn) error
	FailUpdateRun func(runID string) error
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory table store.
func NewMemory() *Memory {
	return &Memory{
		turns:   make(map[string]map[string]model.Turn),
		runs:    make(map[string]model.Run),
		runRefs: make(map[string]map[string]RunRef),
		tenants: make(map[string]model.Tenant),
		users:   make(map[string]model.User),
		agents:  make(map[string]map[string]model.Agent),
	}
}

// --- Turns ---

func (m *Memory) PutTurn(ctx context.Context, turn *model.Turn) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailPutTurn != nil {
		if err := m.FailPutTurn(turn); err != nil {
			return false, err
		}
	}

	part := m.turns[turn.RunID]
	if part == nil {
		part = make(map[string]model.Turn)
		m.turns[turn.RunID] = part
	}

	sk := turnSK(turn)
	_, existed := part[sk]
	part[sk] = *turn
	return !existed, nil
}

func (m *Memory) ListTurns(ctx context.Context, runID string) ([]model.Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	part := m.turns[runID]
	sks := make([]string, 0, len(part))
	for sk := range part {
		sks = append(sks, sk)
	}
	sort.Strings(sks)

	turns := make([]model.Turn, 0, len(sks))
	for _, sk := range sks {
		turns = append(turns, part[sk])
	}
	return turns, nil
}

func (m *Memory) CountTurns(ctx context.Context, runID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.turns[runID])), nil
}

func (m *Memory) DeleteTurns(ctx context.Context, runID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.turns[runID])
	delete(m.turns, runID)
	return n, nil
}

// --- Runs ---

func (m *Memory) CreateRun(ctx context.Context, run *model.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if run.CreatedAt == 0 {
		run.CreatedAt = time.Now().UnixMilli()
	}
	if run.Version == 0 {
		run.Version = 1
	}
	m.runs[run.ID] = *run

	refs := m.runRefs[run.TenantID]
	if refs == nil {
		refs = make(map[string]RunRef)
		m.runRefs[run.TenantID] = refs
	}
	sk := skRunPrefix + partition.RowKey(time.UnixMilli(run.CreatedAt), run.ID)
	refs[sk] = RunRef{RunID: run.ID, CreatedAt: run.CreatedAt}
	return nil
}

func (m *Memory) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.runs[runID]
	if !ok {
		return nil, nil
	}
	return &run, nil
}

func (m *Memory) UpdateRunGuarded(ctx context.Context, run *model.Run, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailUpdateRun != nil {
		if err := m.FailUpdateRun(run.ID); err != nil {
			return err
		}
	}

	stored, ok := m.runs[run.ID]
	if !ok || stored.Version != expectedVersion {
		return fmt.Errorf("update run %s at version %d: %w", run.ID, expectedVersion, ErrVersionConflict)
	}

	next := *run
	next.Version = expectedVersion + 1
	m.runs[run.ID] = next
	run.Version = next.Version
	return nil
}

func (m *Memory) ListRunRefs(ctx context.Context, tenantID string) ([]RunRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	refs := m.runRefs[tenantID]
	sks := make([]string, 0, len(refs))
	for sk := range refs {
		sks = append(sks, sk)
	}
	sort.Strings(sks)

	out := make([]RunRef, 0, len(sks))
	for _, sk := range sks {
		out = append(out, refs[sk])
	}
	return out, nil
}

func (m *Memory) DeleteRun(ctx context.Context, tenantID, runID string, createdAt int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.runs, runID)
	sk := skRunPrefix + partition.RowKey(time.UnixMilli(createdAt), runID)
	delete(m.runRefs[tenantID], sk)
	return nil
}

// --- Tenants, users, agents ---

func (m *Memory) PutTenant(ctx context.Context, tenant *model.Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tenants[tenant.ID] = *tenant
	return nil
}

func (m *Memory) GetTenant(ctx context.Context, tenantID string) (*model.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tenant, ok := m.tenants[tenantID]
	if !ok {
		return nil, nil
	}
	return &tenant, nil
}

func (m *Memory) ListTenants(ctx context.Context) ([]model.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.tenants))
	for id := range m.tenants {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]model.Tenant, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.tenants[id])
	}
	return out, nil
}

func (m *Memory) PutUser(ctx context.Context, user *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[user.TenantID+"/"+user.ID] = *user
	return nil
}

func (m *Memory) GetUser(ctx context.Context, tenantID, userID string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[tenantID+"/"+userID]
	if !ok {
		return nil, nil
	}
	return &user, nil
}

func (m *Memory) PutAgent(ctx context.Context, agent *model.Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	part := m.agents[agent.TenantID]
	if part == nil {
		part = make(map[string]model.Agent)
		m.agents[agent.TenantID] = part
	}
	part[agent.ID] = *agent
	return nil
}

func (m *Memory) GetAgent(ctx context.Context, tenantID, agentID string) (*model.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	agent, ok := m.agents[tenantID][agentID]
	if !ok {
		return nil, nil
	}
	return &agent, nil
}

func (m *Memory) ListAgents(ctx context.Context, tenantID string) ([]model.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	part := m.agents[tenantID]
	ids := make([]string, 0, len(part))
	for id := range part {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]model.Agent, 0, len(ids))
	for _, id := range ids {
		out = append(out, part[id])
	}
	return out, nil
}

// TurnRowKeys returns the sorted turn sort keys of a run. Test helper for
// asserting row-key ordering.
func (m *Memory) TurnRowKeys(runID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	part := m.turns[runID]
	sks := make([]string, 0, len(part))
	for sk := range part {
		sks = append(sks, strings.TrimPrefix(sk, skTurnPrefix))
	}
	sort.Strings(sks)
	return sks
}
