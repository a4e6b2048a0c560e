// Package domain holds the entities shared by every store-facing package:
// workflows, executions, checkpoint-file links, file commits, blobs, node
// boundaries, and integrity issues. None of these types know how they are
// persisted; that is the job of uow, memstore, and sqlstore.
package domain

import (
	"encoding/json"
	"time"
)

// ExecutionStatus is the closed set of states an Execution can be in.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "PENDING"
	ExecutionRunning   ExecutionStatus = "RUNNING"
	ExecutionPaused    ExecutionStatus = "PAUSED"
	ExecutionCompleted ExecutionStatus = "COMPLETED"
	ExecutionFailed    ExecutionStatus = "FAILED"
	ExecutionCancelled ExecutionStatus = "CANCELLED"
)

// CheckpointTrigger records why a checkpoint was saved.
type CheckpointTrigger string

const (
	TriggerAuto        CheckpointTrigger = "AUTO"
	TriggerNodeEntry   CheckpointTrigger = "NODE_ENTRY"
	TriggerNodeExit    CheckpointTrigger = "NODE_EXIT"
	TriggerUserRequest CheckpointTrigger = "USER_REQUEST"
	TriggerToolCall    CheckpointTrigger = "TOOL_CALL"
)

// NodeBoundaryStatus tracks the lifecycle of a single node's execution span.
type NodeBoundaryStatus string

const (
	NodeBoundaryStarted   NodeBoundaryStatus = "started"
	NodeBoundaryCompleted NodeBoundaryStatus = "completed"
	NodeBoundaryFailed    NodeBoundaryStatus = "failed"
)

// Workflow is immutable after creation except through explicit versioning.
type Workflow struct {
	ID      string
	Name    string
	Version string
	// GraphFactory is opaque to this module: the workflow graph compiler
	// lives outside this system's scope (spec.md section 1).
	GraphFactory any
}

// NodeVariant is one candidate implementation of a single node in a
// workflow. At most one variant per (WorkflowID, NodeID) is active.
type NodeVariant struct {
	ID         string
	WorkflowID string
	NodeID     string
	IsActive   bool
	Content    any
}

// ExecutionState is the mutable payload carried by an Execution: the
// current node, accumulated variables, the path taken so far, and node
// results. All three maps/slices are JSON-serializable so they can be
// round-tripped through the checkpoint store unchanged.
type ExecutionState struct {
	CurrentNodeID     *string                    `json:"current_node_id"`
	WorkflowVariables map[string]json.RawMessage `json:"workflow_variables"`
	ExecutionPath     []string                   `json:"execution_path"`
	NodeResults       map[string]json.RawMessage `json:"node_results"`
}

// Clone returns a deep-enough copy of s so that callers (e.g. Fork) can
// mutate the copy's maps without touching the original.
func (s ExecutionState) Clone() ExecutionState {
	out := ExecutionState{
		WorkflowVariables: make(map[string]json.RawMessage, len(s.WorkflowVariables)),
		NodeResults:       make(map[string]json.RawMessage, len(s.NodeResults)),
		ExecutionPath:     append([]string(nil), s.ExecutionPath...),
	}
	if s.CurrentNodeID != nil {
		id := *s.CurrentNodeID
		out.CurrentNodeID = &id
	}
	for k, v := range s.WorkflowVariables {
		out.WorkflowVariables[k] = v
	}
	for k, v := range s.NodeResults {
		out.NodeResults[k] = v
	}
	return out
}

// MergeShallow applies other on top of s, key-by-key, with other winning.
// Used by Fork's new_state merge semantics (spec.md section 4.6).
func (s ExecutionState) MergeShallow(other ExecutionState) ExecutionState {
	out := s.Clone()
	if other.CurrentNodeID != nil {
		out.CurrentNodeID = other.CurrentNodeID
	}
	for k, v := range other.WorkflowVariables {
		out.WorkflowVariables[k] = v
	}
	for k, v := range other.NodeResults {
		out.NodeResults[k] = v
	}
	if len(other.ExecutionPath) > 0 {
		out.ExecutionPath = append([]string(nil), other.ExecutionPath...)
	}
	return out
}

// Execution is one run of a Workflow.
type Execution struct {
	ID         string
	WorkflowID string
	Status     ExecutionStatus
	// SessionID is assigned by the state adapter (C5) once the execution
	// starts running; zero means "not yet initialized" (invariant I5).
	SessionID int64
	State      ExecutionState
	Version    int64 // optimistic-concurrency token, bumped on every update
}

// NodeBoundary is a (session, node) span with entry/exit checkpoints.
type NodeBoundary struct {
	ID                int64
	ExecutionID        string
	SessionID          int64
	NodeID             string
	EntryCheckpointID  string
	ExitCheckpointID   *string
	Status             NodeBoundaryStatus
	ToolCount          int
	CheckpointCount    int
	StartedAt          time.Time
	CompletedAt        *time.Time
	ErrorMessage       *string
}

// CheckpointFileLink associates exactly one FileCommit with a Checkpoint.
type CheckpointFileLink struct {
	CheckpointID  string
	FileCommitID  string
	FileCount     int
	TotalSize     int64
}

// FileEntry is one (path, hash, size) tuple inside a FileCommit.
type FileEntry struct {
	Path string
	Hash string
	Size int64
}

// FileCommit is a content-addressed snapshot of a set of paths.
type FileCommit struct {
	ID        string
	Files     []FileEntry
	CreatedAt time.Time
	Message   string
}

// Blob is content-addressed raw bytes, keyed by their own hash.
type Blob struct {
	Hash  string
	Bytes []byte
}

// IssueType is the closed set of integrity findings (C11).
type IssueType string

const (
	IssueDanglingReference IssueType = "DANGLING_REFERENCE"
	IssueOrphanCheckpoint  IssueType = "ORPHAN_CHECKPOINT"
	IssueOrphanFileCommit  IssueType = "ORPHAN_FILE_COMMIT"
	IssueOutboxStuck       IssueType = "OUTBOX_STUCK"
	IssueMissingBlob       IssueType = "MISSING_BLOB"
	IssueStateMismatch     IssueType = "STATE_MISMATCH"
)

// IssueSeverity ranks how urgently an IntegrityIssue needs attention.
type IssueSeverity string

const (
	SeverityCritical IssueSeverity = "critical"
	SeverityWarning  IssueSeverity = "warning"
	SeverityInfo     IssueSeverity = "info"
)

// IntegrityIssue is one finding from an integrity.Checker scan.
type IntegrityIssue struct {
	Type             IssueType
	Severity         IssueSeverity
	SourceTable      string
	SourceID         string
	TargetTable      string
	TargetID         string
	Message          string
	SuggestedRepair  string
	AutoRepairable   bool
}
