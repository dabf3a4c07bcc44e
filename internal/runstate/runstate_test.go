package runstate

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/runledger/runledger/internal/model"
	"github.com/runledger/runledger/internal/table"
)

func newRun(t *testing.T, store *table.Memory, runID string) *model.Run {
	t.Helper()
	run := &model.Run{
		TenantID: "tenant-1",
		ID:       runID,
		AgentID:  "agent-1",
		UserID:   "user-1",
		Status:   model.RunCreated,
	}
	if err := store.CreateRun(context.Background(), run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	return run
}

func TestApplyTurn_IncrementsAndActivates(t *testing.T) {
	store := table.NewMemory()
	newRun(t, store, "run-1")
	u := NewUpdater(store, 0)

	run, err := u.ApplyTurn(context.Background(), "tenant-1", "run-1", TurnDelta{TurnCountDelta: 1, ActivityAt: 5000})
	if err != nil {
		t.Fatalf("ApplyTurn: %v", err)
	}
	if run.TurnCount != 1 {
		t.Errorf("turnCount = %d, want 1", run.TurnCount)
	}
	if run.LastActivityAt != 5000 {
		t.Errorf("lastActivityAt = %d, want 5000", run.LastActivityAt)
	}
	if run.Status != model.RunRunning {
		t.Errorf("status = %s, want running", run.Status)
	}
}

func TestApplyTurn_ZeroDeltaKeepsCount(t *testing.T) {
	store := table.NewMemory()
	newRun(t, store, "run-1")
	u := NewUpdater(store, 0)

	ctx := context.Background()
	if _, err := u.ApplyTurn(ctx, "tenant-1", "run-1", TurnDelta{TurnCountDelta: 1, ActivityAt: 5000}); err != nil {
		t.Fatalf("ApplyTurn: %v", err)
	}

	// Redelivery of an already-stored turn folds a zero delta: activity may
	// refresh, the count must not.
	run, err := u.ApplyTurn(ctx, "tenant-1", "run-1", TurnDelta{TurnCountDelta: 0, ActivityAt: 5000})
	if err != nil {
		t.Fatalf("ApplyTurn redelivery: %v", err)
	}
	if run.TurnCount != 1 {
		t.Errorf("turnCount = %d after redelivery, want 1", run.TurnCount)
	}
}

func TestApplyTurn_ActivityNeverMovesBackwards(t *testing.T) {
	store := table.NewMemory()
	newRun(t, store, "run-1")
	u := NewUpdater(store, 0)

	ctx := context.Background()
	u.ApplyTurn(ctx, "tenant-1", "run-1", TurnDelta{TurnCountDelta: 1, ActivityAt: 9000})

	// A delayed retry carries an older timestamp.
	run, err := u.ApplyTurn(ctx, "tenant-1", "run-1", TurnDelta{TurnCountDelta: 1, ActivityAt: 3000})
	if err != nil {
		t.Fatalf("ApplyTurn: %v", err)
	}
	if run.LastActivityAt != 9000 {
		t.Errorf("lastActivityAt = %d, want 9000", run.LastActivityAt)
	}
}

func TestApplyTurn_ConcurrentNoLostUpdate(t *testing.T) {
	store := table.NewMemory()
	newRun(t, store, "run-1")
	u := NewUpdater(store, 10)

	const writers = 8
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = u.ApplyTurn(context.Background(), "tenant-1", "run-1", TurnDelta{TurnCountDelta: 1, ActivityAt: int64(i)})
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("writer %d: %v", i, err)
		}
	}

	run, err := store.GetRun(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.TurnCount != writers {
		t.Errorf("turnCount = %d, want %d (lost update)", run.TurnCount, writers)
	}
}

func TestApplyTurn_RunNotFound(t *testing.T) {
	u := NewUpdater(table.NewMemory(), 0)

	_, err := u.ApplyTurn(context.Background(), "tenant-1", "ghost", TurnDelta{TurnCountDelta: 1})
	if !errors.Is(err, ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got %v", err)
	}
}

func TestApplyTurn_RejectsArchivedRun(t *testing.T) {
	store := table.NewMemory()
	run := newRun(t, store, "run-1")
	run.Status = model.RunArchived
	if err := store.UpdateRunGuarded(context.Background(), run, 1); err != nil {
		t.Fatalf("UpdateRunGuarded: %v", err)
	}

	u := NewUpdater(store, 0)
	_, err := u.ApplyTurn(context.Background(), "tenant-1", "run-1", TurnDelta{TurnCountDelta: 1})
	if !errors.Is(err, ErrRunDeleted) {
		t.Errorf("expected ErrRunDeleted, got %v", err)
	}
}

func TestMutate_ExhaustsAttemptsOnPersistentConflict(t *testing.T) {
	store := table.NewMemory()
	newRun(t, store, "run-1")
	store.FailUpdateRun = func(runID string) error {
		return table.ErrVersionConflict
	}

	u := NewUpdater(store, 3)
	_, err := u.ApplyTurn(context.Background(), "tenant-1", "run-1", TurnDelta{TurnCountDelta: 1})
	if !errors.Is(err, table.ErrVersionConflict) {
		t.Errorf("expected wrapped ErrVersionConflict after exhaustion, got %v", err)
	}
}

func TestMutate_NonConflictErrorNotRetried(t *testing.T) {
	store := table.NewMemory()
	newRun(t, store, "run-1")

	boom := errors.New("table throttled")
	calls := 0
	store.FailUpdateRun = func(runID string) error {
		calls++
		return boom
	}

	u := NewUpdater(store, 5)
	_, err := u.ApplyTurn(context.Background(), "tenant-1", "run-1", TurnDelta{TurnCountDelta: 1})
	if !errors.Is(err, boom) {
		t.Fatalf("expected underlying error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("non-conflict error retried %d times, want 1 attempt", calls)
	}
}

func TestCompleteAndFailRun(t *testing.T) {
	store := table.NewMemory()
	newRun(t, store, "run-1")
	newRun(t, store, "run-2")
	u := NewUpdater(store, 0)
	ctx := context.Background()

	run, err := u.CompleteRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("CompleteRun: %v", err)
	}
	if run.Status != model.RunCompleted {
		t.Errorf("status = %s, want completed", run.Status)
	}

	run, err = u.FailRun(ctx, "run-2")
	if err != nil {
		t.Fatalf("FailRun: %v", err)
	}
	if run.Status != model.RunFailed {
		t.Errorf("status = %s, want failed", run.Status)
	}
}
