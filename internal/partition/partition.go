// Package partition maps entity identities to physical partition keys, ordered
// row keys, and object-store paths. Everything here is a pure calculation: no
// I/O, no clocks, no configuration.
//
// Each run is its own table partition, so writes for different runs never
// contend. Each tenant is its own partition for the run/agent/user lookup
// tables, bounding tenant blast radius and enabling per-tenant scans. Row keys
// are timestamp-prefixed so lexicographic order within a partition equals
// chronological order.
package partition

import (
	"fmt"
	"strings"
	"time"
)

// rowKeyLayout is a fixed-width UTC timestamp. Unlike RFC3339Nano it never
// trims trailing zeros, so lexicographic comparison is chronological.
const rowKeyLayout = "2006-01-02T15:04:05.000Z"

// RouteTurn returns the table partition key for a run's turns.
func RouteTurn(tenantID, runID string) string {
	return runID
}

// RouteRun returns the table partition key for a tenant's runs, agents, and
// users.
func RouteRun(tenantID string) string {
	return tenantID
}

// RowKey builds the within-partition sort key {timestamp}|{entityId}.
func RowKey(at time.Time, entityID string) string {
	return at.UTC().Format(rowKeyLayout) + "|" + entityID
}

// SplitRowKey recovers the timestamp and entity ID from a row key produced by
// RowKey.
func SplitRowKey(key string) (time.Time, string, error) {
	ts, id, ok := strings.Cut(key, "|")
	if !ok {
		return time.Time{}, "", fmt.Errorf("row key %q: missing separator", key)
	}
	at, err := time.Parse(rowKeyLayout, ts)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("row key %q: %w", key, err)
	}
	return at, id, nil
}

// AgentDefPath returns the object-store key for an agent definition blob.
func AgentDefPath(tenantID, agentID string) string {
	return fmt.Sprintf("agent-defs/%s/%s.json", tenantID, agentID)
}

// TurnBlobPath returns the object-store key for a turn's content blob. The
// path is deterministic in (tenantId, runId, turnId, createdAt) so a retried
// write lands on the same key and overwrites safely.
func TurnBlobPath(tenantID, runID string, at time.Time, turnID string) string {
	return fmt.Sprintf("runs/%s/%s/turns/%s_%s.json", tenantID, runID, at.UTC().Format(rowKeyLayout), turnID)
}

// TurnBlobPrefix returns the object-store key prefix covering every turn blob
// of a run. Used by the lifecycle sweeper for tiering and deletion.
func TurnBlobPrefix(tenantID, runID string) string {
	return fmt.Sprintf("runs/%s/%s/turns/", tenantID, runID)
}

// ArtifactPath returns the object-store key for a run artifact.
func ArtifactPath(tenantID, runID, artifactID string) string {
	return fmt.Sprintf("artifacts/%s/%s/%s", tenantID, runID, artifactID)
}
