// Package blob provides the object-store capability interface used for turn
// content, agent definitions, and run artifacts, backed by S3 in production
// and an in-memory store in tests.
//
// Writes are overwrite-safe: putting the same key twice is a no-op from the
// reader's point of view, which makes blob writes safe to retry after a
// partial pipeline failure.
package blob

import (
	"context"
	"errors"

	"github.com/runledger/runledger/internal/model"
)

// ErrNotFound is returned by Get and Tier when the key does not exist.
var ErrNotFound = errors.New("blob not found")

// Store is the narrow object-store contract the core depends on.
// Implementations must be safe for concurrent use.
type Store interface {
	// Put writes data under key, overwriting any existing object.
	Put(ctx context.Context, key string, data []byte, contentType string) error

	// Get returns the object's content. Returns ErrNotFound if absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes the object. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// ListPrefix returns all keys under the given prefix, sorted.
	ListPrefix(ctx context.Context, prefix string) ([]string, error)

	// SetTier moves the object to the given storage tier. Setting the tier
	// an object already has is a no-op, so sweeps are resumable.
	SetTier(ctx context.Context, key string, tier model.StorageTier) error

	// Tier reports the object's current storage tier.
	Tier(ctx context.Context, key string) (model.StorageTier, error)
}
