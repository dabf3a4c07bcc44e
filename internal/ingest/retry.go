package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/runledger/runledger/internal/events"
	"github.com/runledger/runledger/internal/model"
	"github.com/runledger/runledger/internal/queue"
)

// Retry defaults: five deliveries with exponential backoff, roughly two
// minutes of wall clock before a message is declared dead.
const (
	DefaultMaxAttempts = 5
	DefaultBaseDelay   = 2 * time.Second
	DefaultMaxDelay    = 2 * time.Minute
)

// RetryPolicy shapes redelivery of transiently failed messages. Backoff is
// applied through the queue's visibility timeout, so a worker crash and a
// handled failure follow the same schedule.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy returns the production retry schedule.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
	}
}

// Delay returns the backoff before the delivery after the given attempt:
// BaseDelay doubled per attempt, capped at MaxDelay.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Exhausted reports whether a delivery count has used up the retry budget.
func (p RetryPolicy) Exhausted(attempts int) bool {
	return attempts >= p.MaxAttempts
}

// DeadLetterer quarantines failed messages on a second queue, wrapped in a
// DeadLetterRecord preserving the original payload for manual replay. Each
// quarantine also publishes a turn.deadlettered event as the alert signal.
type DeadLetterer struct {
	dlq       queue.Queue
	publisher *events.Publisher
	policy    RetryPolicy
}

// NewDeadLetterer creates a DeadLetterer writing to dlq.
func NewDeadLetterer(dlq queue.Queue, publisher *events.Publisher, policy RetryPolicy) *DeadLetterer {
	return &DeadLetterer{dlq: dlq, publisher: publisher, policy: policy}
}

// Quarantine writes the dead-letter record. The original body is preserved
// byte for byte; reason and attempt metadata wrap it. Returns an error when
// the record could not be made durable, in which case the caller must leave
// the message on the source queue.
func (d *DeadLetterer) Quarantine(ctx context.Context, msg queue.Message, reason string) error {
	now := time.Now().UnixMilli()

	// First-failure time is not carried on the message; reconstruct it from
	// the retry schedule the earlier deliveries followed.
	first := now
	for i := 1; i < msg.Attempts; i++ {
		first -= d.policy.Delay(i).Milliseconds()
	}

	record := model.DeadLetterRecord{
		Payload:       json.RawMessage(msg.Body),
		Reason:        reason,
		Attempts:      msg.Attempts,
		FirstFailedAt: first,
		LastFailedAt:  now,
	}

	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal dead-letter record: %w", err)
	}
	if err := d.dlq.Send(ctx, body); err != nil {
		return fmt.Errorf("send dead-letter record: %w", err)
	}

	var turn model.TurnMessage
	_ = json.Unmarshal(msg.Body, &turn) // poison bodies leave IDs empty

	log.Error().
		Str("messageId", msg.ID).
		Str("tenantId", turn.TenantID).
		Str("runId", turn.RunID).
		Str("turnId", turn.TurnID).
		Str("reason", reason).
		Int("attempts", msg.Attempts).
		Msg("Message dead-lettered")

	d.publisher.Publish(ctx, model.Event{
		Type:      model.EventTurnDeadlettered,
		TenantID:  turn.TenantID,
		RunID:     turn.RunID,
		TurnID:    turn.TurnID,
		Timestamp: now,
	})
	return nil
}
