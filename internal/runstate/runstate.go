// Package runstate maintains the denormalized run aggregate: turn count,
// last activity, and status. It is the only place concurrent writers to the
// same run can collide (two redelivered messages for one run may race), so
// every mutation goes through an optimistic read-modify-write loop guarded by
// the run's version tag, never through a lock.
package runstate

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/runledger/runledger/internal/model"
	"github.com/runledger/runledger/internal/table"
)

// ErrRunNotFound is returned when the target run does not exist. Turns must
// reference an existing run; the boundary layer creates runs before any turn
// is enqueued.
var ErrRunNotFound = errors.New("run not found")

// ErrRunDeleted is returned when the target run is soft-deleted or archived;
// archived runs accept no further turns.
var ErrRunDeleted = errors.New("run deleted")

// DefaultMaxAttempts bounds the local conflict-retry loop before the error
// escalates to the pipeline's retry policy.
const DefaultMaxAttempts = 4

// conflictBackoff is the base delay between conflict retries; each attempt
// doubles it and adds jitter.
const conflictBackoff = 10 * time.Millisecond

// TurnDelta describes the aggregate change from one ingested turn.
type TurnDelta struct {
	// TurnCountDelta is 1 for a newly created turn row, 0 for an idempotent
	// redelivery that found the row already present.
	TurnCountDelta int64

	// ActivityAt is the turn's creation time (Unix ms). The aggregate keeps
	// the max of the existing and new values, so out-of-order retries never
	// move activity backwards.
	ActivityAt int64
}

// Updater applies aggregate mutations with bounded conflict retries.
type Updater struct {
	store       table.Store
	maxAttempts int
}

// NewUpdater creates an Updater over the given table store. maxAttempts <= 0
// selects DefaultMaxAttempts.
func NewUpdater(store table.Store, maxAttempts int) *Updater {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Updater{store: store, maxAttempts: maxAttempts}
}

// ApplyTurn folds one turn into the run aggregate and returns the updated
// snapshot. Safe under concurrent invocation for the same run: losers of the
// version race re-read and retry, so no increment is lost.
func (u *Updater) ApplyTurn(ctx context.Context, tenantID, runID string, delta TurnDelta) (*model.Run, error) {
	return u.mutate(ctx, runID, func(run *model.Run) error {
		run.TurnCount += delta.TurnCountDelta
		if delta.ActivityAt > run.LastActivityAt {
			run.LastActivityAt = delta.ActivityAt
		}
		if run.Status == model.RunCreated {
			run.Status = model.RunRunning
		}
		return nil
	})
}

// CompleteRun transitions the run to completed.
func (u *Updater) CompleteRun(ctx context.Context, runID string) (*model.Run, error) {
	return u.setStatus(ctx, runID, model.RunCompleted)
}

// FailRun transitions the run to failed.
func (u *Updater) FailRun(ctx context.Context, runID string) (*model.Run, error) {
	return u.setStatus(ctx, runID, model.RunFailed)
}

func (u *Updater) setStatus(ctx context.Context, runID string, status model.RunStatus) (*model.Run, error) {
	return u.mutate(ctx, runID, func(run *model.Run) error {
		run.Status = status
		return nil
	})
}

// mutate runs the read-modify-write loop: read the current aggregate, apply
// fn, write with the read's version as precondition. A version conflict means
// a concurrent writer won; re-read and retry up to maxAttempts.
func (u *Updater) mutate(ctx context.Context, runID string, fn func(*model.Run) error) (*model.Run, error) {
	var lastErr error
	for attempt := 0; attempt < u.maxAttempts; attempt++ {
		if attempt > 0 {
			if err := sleepWithJitter(ctx, attempt); err != nil {
				return nil, err
			}
		}

		run, err := u.store.GetRun(ctx, runID)
		if err != nil {
			return nil, fmt.Errorf("read run %s: %w", runID, err)
		}
		if run == nil {
			return nil, fmt.Errorf("apply to run %s: %w", runID, ErrRunNotFound)
		}
		if run.Status == model.RunDeleted || run.Status == model.RunArchived {
			return nil, fmt.Errorf("apply to run %s (status %s): %w", runID, run.Status, ErrRunDeleted)
		}

		expected := run.Version
		if err := fn(run); err != nil {
			return nil, err
		}

		err = u.store.UpdateRunGuarded(ctx, run, expected)
		if err == nil {
			return run, nil
		}
		if !errors.Is(err, table.ErrVersionConflict) {
			return nil, err
		}

		lastErr = err
		log.Debug().Str("runId", runID).Int("attempt", attempt+1).Msg("Run update lost version race, retrying")
	}

	return nil, fmt.Errorf("run %s update: %d attempts exhausted: %w", runID, u.maxAttempts, lastErr)
}

// sleepWithJitter waits one doubled-plus-jitter backoff step or until the
// context is done.
func sleepWithJitter(ctx context.Context, attempt int) error {
	base := conflictBackoff << (attempt - 1)
	delay := base + time.Duration(rand.Int63n(int64(base)))

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
