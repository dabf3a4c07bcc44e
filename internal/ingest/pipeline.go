// Package ingest is the turn ingestion pipeline: a worker pool that drains
// the turn queue and, per message, validates, writes the content blob, upserts
// the turn row, folds the run aggregate, publishes turn.created, and only then
// acknowledges the delivery. Every step before the ack is idempotent, so the
// at-least-once queue yields exactly-once visible effects.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/runledger/runledger/internal/blob"
	"github.com/runledger/runledger/internal/events"
	"github.com/runledger/runledger/internal/metrics"
	"github.com/runledger/runledger/internal/model"
	"github.com/runledger/runledger/internal/partition"
	"github.com/runledger/runledger/internal/queue"
	"github.com/runledger/runledger/internal/runstate"
	"github.com/runledger/runledger/internal/table"
)

// metricsNamespace is the CloudWatch namespace for pipeline metrics.
const metricsNamespace = "Runledger"

// Options tunes the pipeline. Zero values select production defaults.
type Options struct {
	// Workers is the number of concurrent consumers (default 4).
	Workers int

	// BatchSize is the max messages fetched per receive (default 10).
	BatchSize int

	// ReceiveWait is the long-poll duration per receive (default 20s).
	ReceiveWait time.Duration

	// Retry shapes redelivery backoff and the attempt budget.
	Retry RetryPolicy
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 10
	}
	if o.ReceiveWait <= 0 {
		o.ReceiveWait = 20 * time.Second
	}
	if o.Retry.MaxAttempts <= 0 {
		o.Retry = DefaultRetryPolicy()
	}
	return o
}

// Pipeline consumes turn messages and commits them to the blob and table
// stores. Construct with New; all collaborators are injected.
type Pipeline struct {
	queue      queue.Queue
	deadletter *DeadLetterer
	blobs      blob.Store
	tables     table.Store
	runs       *runstate.Updater
	publisher  *events.Publisher
	opts       Options
}

// New creates a Pipeline over the given stores and queues.
func New(q queue.Queue, dlq queue.Queue, blobs blob.Store, tables table.Store, runs *runstate.Updater, publisher *events.Publisher, opts Options) *Pipeline {
	opts = opts.withDefaults()
	return &Pipeline{
		queue:      q,
		deadletter: NewDeadLetterer(dlq, publisher, opts.Retry),
		blobs:      blobs,
		tables:     tables,
		runs:       runs,
		publisher:  publisher,
		opts:       opts,
	}
}

// Run drains the queue with opts.Workers concurrent consumers until the
// context is cancelled. In-flight messages finish; un-acked ones redeliver
// after their visibility timeout.
func (p *Pipeline) Run(ctx context.Context) {
	log.Info().Int("workers", p.opts.Workers).Msg("Ingestion pipeline starting")

	var wg sync.WaitGroup
	for i := 0; i < p.opts.Workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			p.consume(ctx, worker)
		}(i)
	}
	wg.Wait()

	log.Info().Msg("Ingestion pipeline stopped")
}

func (p *Pipeline) consume(ctx context.Context, worker int) {
	for {
		if ctx.Err() != nil {
			return
		}

		msgs, err := p.queue.Receive(ctx, p.opts.BatchSize, p.opts.ReceiveWait)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Int("worker", worker).Msg("Queue receive failed")
			time.Sleep(time.Second)
			continue
		}

		for _, msg := range msgs {
			p.ProcessMessage(ctx, msg)
		}
	}
}

// ProcessMessage runs one delivery through the full state machine and decides
// its fate: ack on success, backoff for transient failures, dead-letter for
// permanent failures or an exhausted retry budget.
func (p *Pipeline) ProcessMessage(ctx context.Context, msg queue.Message) {
	start := time.Now()

	turn, created, err := p.ingest(ctx, msg)
	if err != nil {
		p.handleFailure(ctx, msg, err)
		return
	}

	// The turn is durable; everything after this point is best effort.
	p.publisher.Publish(ctx, model.Event{
		Type:      model.EventTurnCreated,
		TenantID:  turn.TenantID,
		RunID:     turn.RunID,
		TurnID:    turn.ID,
		Timestamp: turn.CreatedAt,
	})
	switch turn.Type {
	case model.TurnTypeRunCompleted:
		p.publisher.Publish(ctx, model.Event{Type: model.EventRunCompleted, TenantID: turn.TenantID, RunID: turn.RunID, Timestamp: turn.CreatedAt})
	case model.TurnTypeRunFailed:
		p.publisher.Publish(ctx, model.Event{Type: model.EventRunFailed, TenantID: turn.TenantID, RunID: turn.RunID, Timestamp: turn.CreatedAt})
	}

	if err := p.queue.Delete(ctx, msg.Receipt); err != nil {
		// The commit stands; redelivery will be absorbed idempotently.
		log.Warn().Err(err).Str("turnId", turn.ID).Msg("Ack failed, expecting idempotent redelivery")
	}

	rec := metrics.New(metricsNamespace).
		Metric("IngestLatencyMs", float64(time.Since(start).Milliseconds()), metrics.UnitMilliseconds).
		Property("runId", turn.RunID).
		Property("attempts", msg.Attempts)
	if created {
		rec.Count("TurnsIngested")
	} else {
		rec.Count("TurnsRedelivered")
	}
	rec.Flush()

	log.Debug().
		Str("tenantId", turn.TenantID).
		Str("runId", turn.RunID).
		Str("turnId", turn.ID).
		Bool("created", created).
		Msg("Turn ingested")
}

// ingest executes parse, validate, run check, blob write, table upsert, run
// aggregate. Returns the committed turn and whether its row was newly created.
func (p *Pipeline) ingest(ctx context.Context, msg queue.Message) (*model.Turn, bool, error) {
	var tm model.TurnMessage
	if err := json.Unmarshal(msg.Body, &tm); err != nil {
		return nil, false, &PoisonMessage{Err: err}
	}
	if err := validate(&tm); err != nil {
		return nil, false, err
	}

	// The run must exist and accept turns before anything is written. A turn
	// refused after its writes would strand rows and blobs in a partition the
	// sweeper never visits.
	run, err := p.tables.GetRun(ctx, tm.RunID)
	if err != nil {
		return nil, false, &TransientStoreError{Op: "read run", Err: err}
	}
	if run == nil {
		return nil, false, fmt.Errorf("turn %s: %w", tm.TurnID, runstate.ErrRunNotFound)
	}
	if run.Status == model.RunDeleted || run.Status == model.RunArchived {
		return nil, false, fmt.Errorf("turn %s (run status %s): %w", tm.TurnID, run.Status, runstate.ErrRunDeleted)
	}

	// Content either arrives inline and is written to the deterministic turn
	// path, or was staged by the producer and arrives as a reference.
	blobRef := tm.ContentRef
	if blobRef == "" {
		blobRef = partition.TurnBlobPath(tm.TenantID, tm.RunID, time.UnixMilli(tm.CreatedAt), tm.TurnID)
		if err := p.blobs.Put(ctx, blobRef, tm.InlineContent, "application/json"); err != nil {
			return nil, false, &TransientStoreError{Op: "put turn blob", Err: err}
		}
	}

	turn := &model.Turn{
		RunID:     tm.RunID,
		ID:        tm.TurnID,
		TenantID:  tm.TenantID,
		Role:      tm.Role,
		Type:      tm.Type,
		BlobRef:   blobRef,
		CreatedAt: tm.CreatedAt,
	}

	created, err := p.tables.PutTurn(ctx, turn)
	if err != nil {
		return nil, false, &TransientStoreError{Op: "put turn row", Err: err}
	}

	// A redelivered turn found its row already present: refresh activity but
	// never double count.
	delta := runstate.TurnDelta{ActivityAt: tm.CreatedAt}
	if created {
		delta.TurnCountDelta = 1
	}
	if _, err := p.runs.ApplyTurn(ctx, tm.TenantID, tm.RunID, delta); err != nil {
		if permanent(err) {
			return nil, false, err
		}
		return nil, false, &TransientStoreError{Op: "apply run aggregate", Err: err}
	}

	// A terminal turn closes its run. Idempotent: redelivery re-applies the
	// same status.
	var transition func(context.Context, string) (*model.Run, error)
	switch turn.Type {
	case model.TurnTypeRunCompleted:
		transition = p.runs.CompleteRun
	case model.TurnTypeRunFailed:
		transition = p.runs.FailRun
	}
	if transition != nil {
		if _, err := transition(ctx, tm.RunID); err != nil {
			if permanent(err) {
				return nil, false, err
			}
			return nil, false, &TransientStoreError{Op: "close run", Err: err}
		}
	}

	return turn, created, nil
}

// validate enforces the enqueue contract.
func validate(tm *model.TurnMessage) error {
	switch {
	case tm.TenantID == "":
		return &ValidationError{Field: "tenantId", Reason: "required"}
	case tm.RunID == "":
		return &ValidationError{Field: "runId", Reason: "required"}
	case tm.TurnID == "":
		return &ValidationError{Field: "turnId", Reason: "required"}
	case tm.Role == "":
		return &ValidationError{Field: "role", Reason: "required"}
	case tm.CreatedAt == 0:
		// The row key and blob path derive from createdAt. A delivery-time
		// stamp would give each redelivery its own row, so a missing value is
		// the producer's error, never patched over here.
		return &ValidationError{Field: "createdAt", Reason: "required"}
	}
	if tm.ContentRef == "" && len(tm.InlineContent) == 0 {
		return &ValidationError{Field: "inlineContent", Reason: "either contentRef or inlineContent is required"}
	}
	if tm.ContentRef != "" && len(tm.InlineContent) > 0 {
		return &ValidationError{Field: "contentRef", Reason: "contentRef and inlineContent are mutually exclusive"}
	}
	return nil
}

// handleFailure routes a failed delivery: permanent errors and exhausted
// budgets dead-letter, transient errors back off via the visibility timeout.
func (p *Pipeline) handleFailure(ctx context.Context, msg queue.Message, cause error) {
	if permanent(cause) || p.opts.Retry.Exhausted(msg.Attempts) {
		reason := cause.Error()
		if err := p.deadletter.Quarantine(ctx, msg, reason); err != nil {
			// Quarantine failed: leave the message for redelivery rather
			// than lose it.
			log.Error().Err(err).Str("messageId", msg.ID).Msg("Dead-letter write failed, leaving message on queue")
			return
		}
		if err := p.queue.Delete(ctx, msg.Receipt); err != nil {
			log.Warn().Err(err).Str("messageId", msg.ID).Msg("Ack of dead-lettered message failed")
		}
		metrics.New(metricsNamespace).
			Count("DeadLettered").
			Property("reason", reason).
			Flush()
		return
	}

	delay := p.opts.Retry.Delay(msg.Attempts)
	log.Warn().
		Err(cause).
		Str("messageId", msg.ID).
		Int("attempts", msg.Attempts).
		Dur("backoff", delay).
		Msg("Turn ingestion failed, scheduling redelivery")

	if err := p.queue.ChangeVisibility(ctx, msg.Receipt, delay); err != nil {
		log.Warn().Err(err).Str("messageId", msg.ID).Msg("Visibility change failed, default timeout applies")
	}
}

// Enqueue validates and sends a turn message on the given queue. Producers use
// it so malformed messages are rejected at the boundary instead of burning a
// dead-letter cycle.
func Enqueue(ctx context.Context, q queue.Queue, tm *model.TurnMessage) error {
	if tm.CreatedAt == 0 {
		tm.CreatedAt = time.Now().UnixMilli()
	}
	if err := validate(tm); err != nil {
		return err
	}
	body, err := json.Marshal(tm)
	if err != nil {
		return fmt.Errorf("marshal turn message: %w", err)
	}
	if err := q.Send(ctx, body); err != nil {
		return fmt.Errorf("enqueue turn: %w", err)
	}
	return nil
}
