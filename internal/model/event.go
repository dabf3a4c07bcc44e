package model

// Event types published by the ingestion pipeline and lifecycle sweeper.
const (
	EventTurnCreated      = "turn.created"
	EventTurnDeadlettered = "turn.deadlettered"
	EventRunCompleted     = "run.completed"
	EventRunFailed        = "run.failed"
	EventRunArchived      = "run.archived"
	EventRunDeleted       = "run.deleted"
)

// Terminal turn types. A turn carrying one of these closes its run after the
// turn itself is committed.
const (
	TurnTypeRunCompleted = "run.completed"
	TurnTypeRunFailed    = "run.failed"
)

// Event is the completion notification fanned out to downstream subscribers.
// TurnID is empty for run-level events. Delivery is best effort: an
// unpublished event is an observability gap, never a data-loss incident.
type Event struct {
	Type      string `json:"type"`
	TenantID  string `json:"tenantId"`
	RunID     string `json:"runId"`
	TurnID    string `json:"turnId,omitempty"`
	Timestamp int64  `json:"timestamp"`
}
