// Package lifecycle ages run data through storage tiers and enforces
// retention. A periodic sweep walks every tenant's runs, compares age since
// last activity against the tenant plan's thresholds, and transitions blobs
// hot → cool → archive, finally deleting rows and blobs past the retention
// horizon. Every transition is idempotent: the sweep checks the recorded tier
// before acting, so a crashed sweep resumes from wherever it stopped.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/runledger/runledger/internal/blob"
	"github.com/runledger/runledger/internal/config"
	"github.com/runledger/runledger/internal/events"
	"github.com/runledger/runledger/internal/metrics"
	"github.com/runledger/runledger/internal/model"
	"github.com/runledger/runledger/internal/partition"
	"github.com/runledger/runledger/internal/table"
)

// metricsNamespace is the CloudWatch namespace for sweep metrics.
const metricsNamespace = "Runledger"

// Report summarises one sweep pass.
type Report struct {
	TenantsSwept int
	RunsExamined int
	Cooled       int
	Archived     int
	Deleted      int
	Repaired     int
}

// Sweeper applies retention policies across all tenants.
type Sweeper struct {
	tables    table.Store
	blobs     blob.Store
	publisher *events.Publisher
	policies  config.PlanPolicies
	interval  time.Duration

	// now is the clock; replaced in tests.
	now func() time.Time
}

// NewSweeper creates a Sweeper. interval only matters for Run loop mode.
func NewSweeper(tables table.Store, blobs blob.Store, publisher *events.Publisher, policies config.PlanPolicies, interval time.Duration) *Sweeper {
	return &Sweeper{
		tables:    tables,
		blobs:     blobs,
		publisher: publisher,
		policies:  policies,
		interval:  interval,
		now:       time.Now,
	}
}

// Run sweeps immediately and then on every interval tick until the context is
// cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if report, err := s.SweepOnce(ctx); err != nil {
			log.Error().Err(err).Msg("Lifecycle sweep failed")
		} else {
			log.Info().
				Int("tenants", report.TenantsSwept).
				Int("runs", report.RunsExamined).
				Int("cooled", report.Cooled).
				Int("archived", report.Archived).
				Int("deleted", report.Deleted).
				Int("repaired", report.Repaired).
				Msg("Lifecycle sweep complete")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// SweepOnce walks every tenant once. Per-run failures are logged and skipped
// so one bad run never blocks the rest of the sweep; the error return is
// reserved for failures enumerating tenants.
func (s *Sweeper) SweepOnce(ctx context.Context) (Report, error) {
	var report Report

	tenants, err := s.tables.ListTenants(ctx)
	if err != nil {
		return report, fmt.Errorf("list tenants: %w", err)
	}

	for _, tenant := range tenants {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.TenantsSwept++
		s.sweepTenant(ctx, &tenant, &report)
	}

	metrics.New(metricsNamespace).
		Metric("RunsSwept", float64(report.RunsExamined), metrics.UnitCount).
		Metric("RunsArchived", float64(report.Archived), metrics.UnitCount).
		Metric("RunsDeleted", float64(report.Deleted), metrics.UnitCount).
		Metric("TurnCountRepaired", float64(report.Repaired), metrics.UnitCount).
		Flush()

	return report, nil
}

func (s *Sweeper) sweepTenant(ctx context.Context, tenant *model.Tenant, report *Report) {
	policy := s.policies.For(tenant.Plan)

	// A soft-deleted tenant keeps its row forever; its runs are purged once
	// the retention countdown from the deletion timestamp elapses.
	purgeAll := tenant.Status == model.TenantDeleted &&
		policy.DeleteAfter() > 0 &&
		s.now().Sub(time.UnixMilli(tenant.DeletedAt)) >= policy.DeleteAfter()

	refs, err := s.tables.ListRunRefs(ctx, tenant.ID)
	if err != nil {
		log.Warn().Err(err).Str("tenantId", tenant.ID).Msg("Listing runs failed, skipping tenant")
		return
	}

	for _, ref := range refs {
		report.RunsExamined++
		if err := s.sweepRun(ctx, tenant, policy, ref, purgeAll, report); err != nil {
			log.Warn().Err(err).Str("tenantId", tenant.ID).Str("runId", ref.RunID).Msg("Sweeping run failed, skipping")
		}
	}
}

func (s *Sweeper) sweepRun(ctx context.Context, tenant *model.Tenant, policy config.PlanPolicy, ref table.RunRef, purgeAll bool, report *Report) error {
	run, err := s.tables.GetRun(ctx, ref.RunID)
	if err != nil {
		return fmt.Errorf("read run: %w", err)
	}
	if run == nil {
		// Index row without an aggregate: a previous delete died between the
		// two writes. Finish it.
		return s.tables.DeleteRun(ctx, tenant.ID, ref.RunID, ref.CreatedAt)
	}

	activity := run.LastActivityAt
	if activity == 0 {
		activity = run.CreatedAt
	}
	age := s.now().Sub(time.UnixMilli(activity))

	if purgeAll || (policy.DeleteAfter() > 0 && age >= policy.DeleteAfter()) {
		if err := s.deleteRun(ctx, tenant.ID, run); err != nil {
			return err
		}
		report.Deleted++
		return nil
	}

	repaired, err := s.auditTurnCount(ctx, run)
	if err != nil {
		return err
	}
	if repaired {
		report.Repaired++
	}

	target := targetTier(policy, age)
	if tierOf(run) == target {
		return nil
	}

	if err := s.retier(ctx, tenant.ID, run, target); err != nil {
		return err
	}
	switch target {
	case model.TierCool:
		report.Cooled++
	case model.TierArchive:
		report.Archived++
	}
	return nil
}

// targetTier maps a run's age onto the plan's tier ladder.
func targetTier(policy config.PlanPolicy, age time.Duration) model.StorageTier {
	if policy.ArchiveAfter() > 0 && age >= policy.ArchiveAfter() {
		return model.TierArchive
	}
	if policy.CoolAfter() > 0 && age >= policy.CoolAfter() {
		return model.TierCool
	}
	return model.TierHot
}

func tierOf(run *model.Run) model.StorageTier {
	if run.Tier == "" {
		return model.TierHot
	}
	return run.Tier
}

// retier moves every turn blob of the run to the target tier, then records
// the tier on the run aggregate. Blob transitions are idempotent, so a crash
// between the two steps re-runs cleanly.
func (s *Sweeper) retier(ctx context.Context, tenantID string, run *model.Run, target model.StorageTier) error {
	keys, err := s.blobs.ListPrefix(ctx, partition.TurnBlobPrefix(tenantID, run.ID))
	if err != nil {
		return fmt.Errorf("list turn blobs: %w", err)
	}
	for _, key := range keys {
		if err := s.blobs.SetTier(ctx, key, target); err != nil {
			return fmt.Errorf("set tier %s on %s: %w", target, key, err)
		}
	}

	run.Tier = target
	if target == model.TierArchive && run.Status != model.RunArchived {
		run.Status = model.RunArchived
	}
	if err := s.tables.UpdateRunGuarded(ctx, run, run.Version); err != nil {
		if errors.Is(err, table.ErrVersionConflict) {
			// A writer beat us; the next sweep re-evaluates with fresh state.
			log.Debug().Str("runId", run.ID).Msg("Tier update lost version race, deferring to next sweep")
			return nil
		}
		return fmt.Errorf("record tier: %w", err)
	}

	if target == model.TierArchive {
		s.publisher.Publish(ctx, model.Event{
			Type:      model.EventRunArchived,
			TenantID:  tenantID,
			RunID:     run.ID,
			Timestamp: s.now().UnixMilli(),
		})
	}

	log.Debug().Str("tenantId", tenantID).Str("runId", run.ID).Str("tier", string(target)).Int("blobs", len(keys)).Msg("Run re-tiered")
	return nil
}

// deleteRun removes the run's turn rows, blobs, index row, and aggregate, in
// that order, so a partial delete leaves the run discoverable for the next
// sweep to finish.
func (s *Sweeper) deleteRun(ctx context.Context, tenantID string, run *model.Run) error {
	if _, err := s.tables.DeleteTurns(ctx, run.ID); err != nil {
		return fmt.Errorf("delete turn rows: %w", err)
	}

	keys, err := s.blobs.ListPrefix(ctx, partition.TurnBlobPrefix(tenantID, run.ID))
	if err != nil {
		return fmt.Errorf("list turn blobs: %w", err)
	}
	for _, key := range keys {
		if err := s.blobs.Delete(ctx, key); err != nil {
			return fmt.Errorf("delete blob %s: %w", key, err)
		}
	}

	if err := s.tables.DeleteRun(ctx, tenantID, run.ID, run.CreatedAt); err != nil {
		return fmt.Errorf("delete run row: %w", err)
	}

	s.publisher.Publish(ctx, model.Event{
		Type:      model.EventRunDeleted,
		TenantID:  tenantID,
		RunID:     run.ID,
		Timestamp: s.now().UnixMilli(),
	})

	log.Info().Str("tenantId", tenantID).Str("runId", run.ID).Int("blobs", len(keys)).Msg("Run deleted past retention horizon")
	return nil
}

// auditTurnCount reconciles the denormalized turn count against the actual
// row count and repairs drift. Drift indicates a bug in the ingestion path,
// so repairs are logged loudly.
func (s *Sweeper) auditTurnCount(ctx context.Context, run *model.Run) (bool, error) {
	actual, err := s.tables.CountTurns(ctx, run.ID)
	if err != nil {
		return false, fmt.Errorf("count turns: %w", err)
	}
	if actual == run.TurnCount {
		return false, nil
	}

	log.Warn().
		Str("runId", run.ID).
		Int64("recorded", run.TurnCount).
		Int64("actual", actual).
		Msg("Turn count drift detected, repairing")

	run.TurnCount = actual
	if err := s.tables.UpdateRunGuarded(ctx, run, run.Version); err != nil {
		if errors.Is(err, table.ErrVersionConflict) {
			return false, nil
		}
		return false, fmt.Errorf("repair turn count: %w", err)
	}
	return true, nil
}
