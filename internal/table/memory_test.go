package table

import (
	"context"
	"errors"
	"testing"

	"github.com/runledger/runledger/internal/model"
)

func testTurn(runID, turnID string, at int64) *model.Turn {
	return &model.Turn{
		RunID:     runID,
		ID:        turnID,
		TenantID:  "t1",
		Role:      "user",
		BlobRef:   "runs/t1/" + runID + "/turns/" + turnID + ".json",
		CreatedAt: at,
	}
}

func TestPutTurn_UpsertIsIdempotent(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	created, err := m.PutTurn(ctx, testTurn("r1", "tn1", 1000))
	if err != nil {
		t.Fatalf("PutTurn: %v", err)
	}
	if !created {
		t.Errorf("first put should report created=true")
	}

	// Redelivered message: identical (runId, turnId, createdAt).
	created, err = m.PutTurn(ctx, testTurn("r1", "tn1", 1000))
	if err != nil {
		t.Fatalf("PutTurn redelivery: %v", err)
	}
	if created {
		t.Errorf("redelivered put should report created=false")
	}

	count, _ := m.CountTurns(ctx, "r1")
	if count != 1 {
		t.Errorf("expected exactly 1 turn row, got %d", count)
	}
}

func TestListTurns_ChronologicalOrder(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	// Insert out of order; listing must come back time-sorted.
	m.PutTurn(ctx, testTurn("r1", "tn3", 3000))
	m.PutTurn(ctx, testTurn("r1", "tn1", 1000))
	m.PutTurn(ctx, testTurn("r1", "tn2", 2000))

	turns, err := m.ListTurns(ctx, "r1")
	if err != nil {
		t.Fatalf("ListTurns: %v", err)
	}
	if len(turns) != 3 {
		t.Fatalf("expected 3 turns, got %d", len(turns))
	}
	for i, want := range []string{"tn1", "tn2", "tn3"} {
		if turns[i].ID != want {
			t.Errorf("position %d: expected %s, got %s", i, want, turns[i].ID)
		}
	}
}

func TestTurnPartitions_Independent(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	m.PutTurn(ctx, testTurn("r1", "tn1", 1000))
	m.PutTurn(ctx, testTurn("r2", "tn1", 1000))

	c1, _ := m.CountTurns(ctx, "r1")
	c2, _ := m.CountTurns(ctx, "r2")
	if c1 != 1 || c2 != 1 {
		t.Errorf("expected one turn per run partition, got %d and %d", c1, c2)
	}
}

func TestUpdateRunGuarded_VersionConflict(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	run := &model.Run{TenantID: "t1", ID: "r1", Status: model.RunRunning, CreatedAt: 1000}
	if err := m.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	// First writer reads version 1 and wins.
	first, _ := m.GetRun(ctx, "r1")
	first.TurnCount = 1
	if err := m.UpdateRunGuarded(ctx, first, first.Version); err != nil {
		t.Fatalf("first guarded update: %v", err)
	}

	// Second writer still holds version 1 and must lose.
	stale := &model.Run{TenantID: "t1", ID: "r1", Status: model.RunRunning, TurnCount: 1, CreatedAt: 1000}
	err := m.UpdateRunGuarded(ctx, stale, 1)
	if !errors.Is(err, ErrVersionConflict) {
		t.Errorf("expected ErrVersionConflict, got %v", err)
	}

	// The winner's write is intact.
	got, _ := m.GetRun(ctx, "r1")
	if got.TurnCount != 1 || got.Version != 2 {
		t.Errorf("expected turnCount=1 version=2, got turnCount=%d version=%d", got.TurnCount, got.Version)
	}
}

func TestGetRun_Missing(t *testing.T) {
	m := NewMemory()
	run, err := m.GetRun(context.Background(), "absent")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run != nil {
		t.Errorf("expected nil run for missing ID")
	}
}

func TestDeleteRun_RemovesAggregateAndIndex(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	run := &model.Run{TenantID: "t1", ID: "r1", Status: model.RunCompleted, CreatedAt: 1000}
	m.CreateRun(ctx, run)

	refs, _ := m.ListRunRefs(ctx, "t1")
	if len(refs) != 1 {
		t.Fatalf("expected 1 run ref, got %d", len(refs))
	}

	if err := m.DeleteRun(ctx, "t1", "r1", 1000); err != nil {
		t.Fatalf("DeleteRun: %v", err)
	}

	if got, _ := m.GetRun(ctx, "r1"); got != nil {
		t.Errorf("aggregate still present after delete")
	}
	refs, _ = m.ListRunRefs(ctx, "t1")
	if len(refs) != 0 {
		t.Errorf("index row still present after delete")
	}
}

func TestRegistry_RoundTrips(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	tenant := &model.Tenant{ID: "t1", Plan: "pro", Status: model.TenantActive, CreatedAt: 1}
	if err := m.PutTenant(ctx, tenant); err != nil {
		t.Fatalf("PutTenant: %v", err)
	}
	got, _ := m.GetTenant(ctx, "t1")
	if got == nil || got.Plan != "pro" {
		t.Errorf("tenant round trip failed: %+v", got)
	}

	user := &model.User{TenantID: "t1", ID: "u1", Role: "member"}
	m.PutUser(ctx, user)
	if u, _ := m.GetUser(ctx, "t1", "u1"); u == nil || u.Role != "member" {
		t.Errorf("user round trip failed")
	}

	agent := &model.Agent{TenantID: "t1", ID: "a1", Name: "planner", Status: model.AgentDraft}
	m.PutAgent(ctx, agent)
	agents, _ := m.ListAgents(ctx, "t1")
	if len(agents) != 1 || agents[0].ID != "a1" {
		t.Errorf("agent listing failed: %+v", agents)
	}
}
