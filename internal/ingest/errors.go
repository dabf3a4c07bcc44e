package ingest

import (
	"errors"
	"fmt"

	"github.com/runledger/runledger/internal/runstate"
)

// ValidationError marks a message that violates the enqueue contract. It is
// permanent: no retry can repair a malformed message, so it goes straight to
// the dead-letter queue.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid turn message: field %s: %s", e.Field, e.Reason)
}

// PoisonMessage marks a body that cannot be parsed at all. Permanent.
type PoisonMessage struct {
	Err error
}

func (e *PoisonMessage) Error() string {
	return fmt.Sprintf("poison message: %v", e.Err)
}

func (e *PoisonMessage) Unwrap() error { return e.Err }

// TransientStoreError wraps a store failure that a later redelivery may
// succeed past: throttling, timeouts, partial outages.
type TransientStoreError struct {
	Op  string
	Err error
}

func (e *TransientStoreError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientStoreError) Unwrap() error { return e.Err }

// permanent reports whether the error can never be repaired by redelivery.
// Everything else, including store failures and exhausted version-conflict
// retries, is retried until the attempt budget runs out.
func permanent(err error) bool {
	var ve *ValidationError
	var pm *PoisonMessage
	if errors.As(err, &ve) || errors.As(err, &pm) {
		return true
	}
	// A turn referencing a missing or archived run violates the enqueue
	// contract; redelivery cannot create the run.
	return errors.Is(err, runstate.ErrRunNotFound) || errors.Is(err, runstate.ErrRunDeleted)
}
