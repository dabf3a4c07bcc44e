package lifecycle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/runledger/runledger/internal/blob"
	"github.com/runledger/runledger/internal/config"
	"github.com/runledger/runledger/internal/events"
	"github.com/runledger/runledger/internal/model"
	"github.com/runledger/runledger/internal/partition"
	"github.com/runledger/runledger/internal/table"
)

const day = 24 * time.Hour

type eventSink struct {
	mu     sync.Mutex
	events []model.Event
}

func (s *eventSink) Name() string { return "sink" }

func (s *eventSink) Handle(ctx context.Context, event model.Event) error {
	s.mu.Lock()
	s.events = append(s.events, event)
	s.mu.Unlock()
	return nil
}

func (s *eventSink) ofType(eventType string) []model.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Event
	for _, e := range s.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	sweeper *Sweeper
	tables  *table.Memory
	blobs   *blob.Memory
	sink    *eventSink
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		tables: table.NewMemory(),
		blobs:  blob.NewMemory(),
		sink:   &eventSink{},
		now:    time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
	}
	policies := config.PlanPolicies{
		"default": {CoolAfterDays: 10, ArchiveAfterDays: 20, DeleteAfterDays: 30},
		"keeper":  {CoolAfterDays: 10, ArchiveAfterDays: 20, DeleteAfterDays: 0},
	}
	f.sweeper = NewSweeper(f.tables, f.blobs, events.NewPublisher(f.sink), policies, time.Hour)
	f.sweeper.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) createTenant(t *testing.T, id, plan string, status model.TenantStatus, deletedAt int64) {
	t.Helper()
	err := f.tables.PutTenant(context.Background(), &model.Tenant{
		ID: id, Plan: plan, Status: status, DeletedAt: deletedAt,
	})
	if err != nil {
		t.Fatalf("PutTenant: %v", err)
	}
}

// createRun creates a run whose last activity was age ago, with two turn rows
// and matching blobs.
func (f *fixture) createRun(t *testing.T, tenantID, runID string, age time.Duration) {
	t.Helper()
	ctx := context.Background()
	activity := f.now.Add(-age)

	run := &model.Run{
		TenantID:       tenantID,
		ID:             runID,
		Status:         model.RunCompleted,
		TurnCount:      2,
		LastActivityAt: activity.UnixMilli(),
		CreatedAt:      activity.Add(-time.Hour).UnixMilli(),
	}
	if err := f.tables.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	for i, turnID := range []string{"turn-1", "turn-2"} {
		at := activity.Add(time.Duration(i) * time.Second)
		key := partition.TurnBlobPath(tenantID, runID, at, turnID)
		if err := f.blobs.Put(ctx, key, []byte(`{"text":"x"}`), "application/json"); err != nil {
			t.Fatalf("Put blob: %v", err)
		}
		if _, err := f.tables.PutTurn(ctx, &model.Turn{
			RunID: runID, ID: turnID, TenantID: tenantID, Role: "user",
			BlobRef: key, CreatedAt: at.UnixMilli(),
		}); err != nil {
			t.Fatalf("PutTurn: %v", err)
		}
	}
}

func (f *fixture) sweep(t *testing.T) Report {
	t.Helper()
	report, err := f.sweeper.SweepOnce(context.Background())
	if err != nil {
		t.Fatalf("SweepOnce: %v", err)
	}
	return report
}

func (f *fixture) runTier(t *testing.T, runID string) model.StorageTier {
	t.Helper()
	run, err := f.tables.GetRun(context.Background(), runID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run == nil {
		t.Fatalf("run %s missing", runID)
	}
	return tierOf(run)
}

func TestSweep_FreshRunStaysHot(t *testing.T) {
	f := newFixture(t)
	f.createTenant(t, "tenant-1", "default", model.TenantActive, 0)
	f.createRun(t, "tenant-1", "run-1", 2*day)

	report := f.sweep(t)

	if report.Cooled+report.Archived+report.Deleted != 0 {
		t.Errorf("fresh run transitioned: %+v", report)
	}
	if got := f.runTier(t, "run-1"); got != model.TierHot {
		t.Errorf("tier = %s, want hot", got)
	}
}

func TestSweep_CoolsAgedRun(t *testing.T) {
	f := newFixture(t)
	f.createTenant(t, "tenant-1", "default", model.TenantActive, 0)
	f.createRun(t, "tenant-1", "run-1", 15*day)

	report := f.sweep(t)

	if report.Cooled != 1 {
		t.Fatalf("Cooled = %d, want 1", report.Cooled)
	}
	if got := f.runTier(t, "run-1"); got != model.TierCool {
		t.Errorf("run tier = %s, want cool", got)
	}

	keys, _ := f.blobs.ListPrefix(context.Background(), partition.TurnBlobPrefix("tenant-1", "run-1"))
	for _, key := range keys {
		tier, err := f.blobs.Tier(context.Background(), key)
		if err != nil || tier != model.TierCool {
			t.Errorf("blob %s tier = %s (%v), want cool", key, tier, err)
		}
	}
}

func TestSweep_ArchivesAndMarksRun(t *testing.T) {
	f := newFixture(t)
	f.createTenant(t, "tenant-1", "default", model.TenantActive, 0)
	f.createRun(t, "tenant-1", "run-1", 25*day)

	report := f.sweep(t)

	if report.Archived != 1 {
		t.Fatalf("Archived = %d, want 1", report.Archived)
	}
	run, _ := f.tables.GetRun(context.Background(), "run-1")
	if run.Status != model.RunArchived {
		t.Errorf("status = %s, want archived", run.Status)
	}
	if run.Tier != model.TierArchive {
		t.Errorf("tier = %s, want archive", run.Tier)
	}
	if got := f.sink.ofType(model.EventRunArchived); len(got) != 1 {
		t.Errorf("expected 1 run.archived event, got %d", len(got))
	}
}

func TestSweep_ResweepIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.createTenant(t, "tenant-1", "default", model.TenantActive, 0)
	f.createRun(t, "tenant-1", "run-1", 15*day)

	f.sweep(t)
	second := f.sweep(t)

	if second.Cooled != 0 {
		t.Errorf("second sweep re-transitioned: Cooled = %d", second.Cooled)
	}
	if got := f.sink.ofType(model.EventRunArchived); len(got) != 0 {
		t.Errorf("unexpected archive events: %d", len(got))
	}
}

func TestSweep_DeletesPastRetentionHorizon(t *testing.T) {
	f := newFixture(t)
	f.createTenant(t, "tenant-1", "default", model.TenantActive, 0)
	f.createRun(t, "tenant-1", "run-1", 40*day)

	report := f.sweep(t)

	if report.Deleted != 1 {
		t.Fatalf("Deleted = %d, want 1", report.Deleted)
	}
	run, _ := f.tables.GetRun(context.Background(), "run-1")
	if run != nil {
		t.Errorf("run aggregate survived deletion")
	}
	turns, _ := f.tables.ListTurns(context.Background(), "run-1")
	if len(turns) != 0 {
		t.Errorf("%d turn rows survived deletion", len(turns))
	}
	if f.blobs.Len() != 0 {
		t.Errorf("%d blobs survived deletion", f.blobs.Len())
	}
	refs, _ := f.tables.ListRunRefs(context.Background(), "tenant-1")
	if len(refs) != 0 {
		t.Errorf("run index row survived deletion")
	}
	if got := f.sink.ofType(model.EventRunDeleted); len(got) != 1 {
		t.Errorf("expected 1 run.deleted event, got %d", len(got))
	}
}

func TestSweep_ZeroDeleteThresholdNeverDeletes(t *testing.T) {
	f := newFixture(t)
	f.createTenant(t, "tenant-1", "keeper", model.TenantActive, 0)
	f.createRun(t, "tenant-1", "run-1", 400*day)

	report := f.sweep(t)

	if report.Deleted != 0 {
		t.Errorf("keeper plan run deleted")
	}
	// Still ages onto the archive tier.
	if got := f.runTier(t, "run-1"); got != model.TierArchive {
		t.Errorf("tier = %s, want archive", got)
	}
}

func TestSweep_DeletedTenantPurgedAfterCountdown(t *testing.T) {
	f := newFixture(t)
	deletedAt := f.now.Add(-31 * day).UnixMilli()
	f.createTenant(t, "tenant-1", "default", model.TenantDeleted, deletedAt)
	// Young run: would survive on age alone.
	f.createRun(t, "tenant-1", "run-1", 1*day)

	report := f.sweep(t)

	if report.Deleted != 1 {
		t.Errorf("Deleted = %d, want 1 (tenant retention countdown elapsed)", report.Deleted)
	}
	// The tenant row itself is never hard deleted.
	tenant, _ := f.tables.GetTenant(context.Background(), "tenant-1")
	if tenant == nil {
		t.Errorf("tenant row hard deleted")
	}
}

func TestSweep_DeletedTenantKeptDuringCountdown(t *testing.T) {
	f := newFixture(t)
	deletedAt := f.now.Add(-5 * day).UnixMilli()
	f.createTenant(t, "tenant-1", "default", model.TenantDeleted, deletedAt)
	f.createRun(t, "tenant-1", "run-1", 1*day)

	report := f.sweep(t)

	if report.Deleted != 0 {
		t.Errorf("runs purged before retention countdown elapsed")
	}
}

func TestSweep_RepairsTurnCountDrift(t *testing.T) {
	f := newFixture(t)
	f.createTenant(t, "tenant-1", "default", model.TenantActive, 0)
	f.createRun(t, "tenant-1", "run-1", 2*day)

	// Corrupt the denormalized count.
	run, _ := f.tables.GetRun(context.Background(), "run-1")
	run.TurnCount = 99
	if err := f.tables.UpdateRunGuarded(context.Background(), run, run.Version); err != nil {
		t.Fatalf("UpdateRunGuarded: %v", err)
	}

	report := f.sweep(t)

	if report.Repaired != 1 {
		t.Fatalf("Repaired = %d, want 1", report.Repaired)
	}
	run, _ = f.tables.GetRun(context.Background(), "run-1")
	if run.TurnCount != 2 {
		t.Errorf("turnCount = %d after repair, want 2", run.TurnCount)
	}

	// Drift repaired: the next sweep finds nothing to do.
	if second := f.sweep(t); second.Repaired != 0 {
		t.Errorf("repair not idempotent: Repaired = %d", second.Repaired)
	}
}
