// Package queue provides the durable queue capability the ingestion pipeline
// consumes from: at-least-once delivery with a visibility timeout, backed by
// SQS in production and an in-memory double in tests.
//
// A message not deleted within its visibility timeout becomes eligible for
// redelivery; that redelivery is the system's only cancellation and retry
// transport, so consumers must be idempotent.
package queue

import (
	"context"
	"time"
)

// Message is one delivered queue entry. Receipt identifies this delivery (not
// the message) for Delete and ChangeVisibility. Attempts is the approximate
// delivery count, 1 on first delivery.
type Message struct {
	ID       string
	Body     []byte
	Receipt  string
	Attempts int
}

// Queue is the narrow durable-queue contract. Implementations must be safe
// for concurrent use by many workers.
type Queue interface {
	// Send enqueues a message body.
	Send(ctx context.Context, body []byte) error

	// Receive returns up to max messages, long-polling up to wait. The
	// returned messages stay invisible to other consumers until their
	// visibility timeout lapses or they are deleted.
	Receive(ctx context.Context, max int, wait time.Duration) ([]Message, error)

	// Delete acknowledges a delivery, removing the message permanently.
	Delete(ctx context.Context, receipt string) error

	// ChangeVisibility adjusts the remaining invisibility of a delivery.
	// A zero timeout makes the message immediately redeliverable.
	ChangeVisibility(ctx context.Context, receipt string, timeout time.Duration) error
}
