// Package outbox defines the durable event log (C3) that makes cross-store
// side effects eventually consistent with the primary store (spec.md
// sections 3 and 4.2). An Event is written in the same local transaction as
// the business change it describes; outboxproc.Processor drains it later.
package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType is the closed enumeration of outbox event types (spec.md
// section 6). Adding a new type requires adding both the enum value here
// and a handler in outboxproc.
type EventType string

const (
	EventCheckpointCreate        EventType = "CHECKPOINT_CREATE"
	EventCheckpointVerify        EventType = "CHECKPOINT_VERIFY"
	EventNodeBoundarySync        EventType = "NODE_BOUNDARY_SYNC"
	EventFileCommitLink          EventType = "FILE_COMMIT_LINK"
	EventFileCommitVerify        EventType = "FILE_COMMIT_VERIFY"
	EventFileBlobVerify          EventType = "FILE_BLOB_VERIFY"
	EventCheckpointFileLinkVerify EventType = "CHECKPOINT_FILE_LINK_VERIFY"
	EventRollbackFileRestore     EventType = "ROLLBACK_FILE_RESTORE"
	EventRollbackVerify          EventType = "ROLLBACK_VERIFY"

	// Audit-only types: appended to the audit trail, no cross-store effect.
	EventExecutionPaused     EventType = "EXECUTION_PAUSED"
	EventExecutionResumed    EventType = "EXECUTION_RESUMED"
	EventExecutionStopped    EventType = "EXECUTION_STOPPED"
	EventStateModified       EventType = "STATE_MODIFIED"
	EventWorkflowCreated     EventType = "WORKFLOW_CREATED"
	EventBatchTestCreated    EventType = "BATCH_TEST_CREATED"
	EventBatchTestCancelled  EventType = "BATCH_TEST_CANCELLED"
	EventExecutionForked     EventType = "EXECUTION_FORKED"
	EventRollbackPerformed   EventType = "ROLLBACK_PERFORMED"
	EventCheckpointSaved     EventType = "CHECKPOINT_SAVED"
	EventFileTracked         EventType = "FILE_TRACKED"
	EventRayEvent            EventType = "RAY_EVENT"
)

// auditTypes never carry cross-store effects; the processor's default
// handler for them only appends to the audit trail (see outboxproc).
var auditTypes = map[EventType]bool{
	EventExecutionPaused:    true,
	EventExecutionResumed:   true,
	EventExecutionStopped:   true,
	EventStateModified:      true,
	EventWorkflowCreated:    true,
	EventBatchTestCreated:   true,
	EventBatchTestCancelled: true,
	EventExecutionForked:    true,
	EventRollbackPerformed:  true,
	EventCheckpointSaved:    true,
	EventFileTracked:        true,
	EventRayEvent:           true,
}

// IsAuditType reports whether t is a pure audit-trail event type.
func IsAuditType(t EventType) bool { return auditTypes[t] }

// Status is the outbox event lifecycle (spec.md section 3).
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusProcessed  Status = "PROCESSED"
	StatusFailed     Status = "FAILED"
)

// Event is a single durable cross-store intent.
type Event struct {
	PK              int64
	ID              uuid.UUID
	Type            EventType
	AggregateType   string
	AggregateID     string
	Payload         json.RawMessage
	IdempotencyKey  *string
	Status          Status
	RetryCount      int
	MaxRetries      int
	CreatedAt       time.Time
	ProcessedAt     *time.Time
	LastError       *string
}

// CanRetry reports whether the event is eligible for another attempt
// (invariant I2: PENDING/FAILED with retry_count < max_retries).
func (e Event) CanRetry() bool {
	if e.Status != StatusPending && e.Status != StatusFailed {
		return false
	}
	return e.RetryCount < e.MaxRetries
}

// New builds a PENDING event with a fresh UUID and the given max retries.
// Callers that want idempotent dedup must set IdempotencyKey explicitly:
// the server never auto-generates one (spec.md section 4.2 -- auto
// generation would defeat deduplication).
func New(eventType EventType, aggregateType, aggregateID string, payload any, maxRetries int) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		ID:            uuid.New(),
		Type:          eventType,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Payload:       raw,
		Status:        StatusPending,
		MaxRetries:    maxRetries,
		CreatedAt:     time.Now(),
	}, nil
}
