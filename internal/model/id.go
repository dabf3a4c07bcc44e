package model

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// NewID creates a cryptographically random ID with the given prefix.
// The prefix should include a trailing dash, e.g. "run-", "turn-".
func NewID(prefix string) string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		log.Fatal().Err(err).Msgf("Failed to generate random %s ID", prefix)
	}
	return prefix + hex.EncodeToString(b)
}

// NewTenantID returns a UUID tenant identifier. Tenant IDs appear in blob
// paths and external billing systems, so they use the standard UUID form
// rather than the prefixed form used for runs and turns.
func NewTenantID() string {
	return uuid.NewString()
}
