// Package events fans out completion notifications to downstream consumers:
// cache invalidation, notification, analytics ingestion. Delivery is best
// effort and fully decoupled from the ingestion pipeline: a subscriber
// failure is logged, never propagated, and one failing subscriber cannot
// affect the others. The only ordering guarantee is that a turn.created event
// is published after its turn row is durably committed.
package events

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/runledger/runledger/internal/model"
)

// Subscriber consumes published events. Implementations must tolerate
// duplicate events (the pipeline republishes on redelivery).
type Subscriber interface {
	// Name identifies the subscriber in logs.
	Name() string

	// Handle processes one event. Errors are logged by the publisher and
	// otherwise ignored.
	Handle(ctx context.Context, event model.Event) error
}

// Publisher delivers each event to every registered subscriber in
// registration order. Safe for concurrent use; the subscriber set is fixed
// at construction.
type Publisher struct {
	subscribers []Subscriber
}

// NewPublisher creates a Publisher over the given subscribers.
func NewPublisher(subscribers ...Subscriber) *Publisher {
	return &Publisher{subscribers: subscribers}
}

// Publish fans the event out to all subscribers. It never fails: transport
// errors and subscriber panics are contained per subscriber and logged.
func (p *Publisher) Publish(ctx context.Context, event model.Event) {
	for _, sub := range p.subscribers {
		p.deliver(ctx, sub, event)
	}
}

func (p *Publisher) deliver(ctx context.Context, sub Subscriber, event model.Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("subscriber", sub.Name()).
				Str("eventType", event.Type).
				Interface("panic", r).
				Msg("Event subscriber panicked")
		}
	}()

	if err := sub.Handle(ctx, event); err != nil {
		log.Warn().
			Err(err).
			Str("subscriber", sub.Name()).
			Str("eventType", event.Type).
			Str("runId", event.RunID).
			Msg("Event delivery failed")
	}
}

// LogSubscriber writes every event to the structured log. Useful as a
// baseline consumer and in environments without an event bus.
type LogSubscriber struct{}

func (LogSubscriber) Name() string { return "log" }

func (LogSubscriber) Handle(ctx context.Context, event model.Event) error {
	log.Info().
		Str("eventType", event.Type).
		Str("tenantId", event.TenantID).
		Str("runId", event.RunID).
		Str("turnId", event.TurnID).
		Int64("timestamp", event.Timestamp).
		Msg("Event published")
	return nil
}
