package outbox

// Payload structs for every cross-store event type in the closed handler
// table (spec.md section 4.5). outboxproc's handlers unmarshal the
// matching struct out of Event.Payload; the coordinator builds
// RollbackFileRestorePayload for its Phase 1 restore event. AuditPayload is
// available for audit-only types (IsAuditType); the audit events execctl
// and the coordinator enqueue carry payload types of their own.

// CheckpointPayload backs CHECKPOINT_CREATE: verify a checkpoint exists.
type CheckpointPayload struct {
	CheckpointID string `json:"checkpoint_id"`
	SessionID    int64  `json:"session_id"`
}

// CheckpointVerifyPayload backs CHECKPOINT_VERIFY: the richer form of
// CheckpointPayload carrying node-boundary context.
type CheckpointVerifyPayload struct {
	CheckpointID string `json:"checkpoint_id"`
	SessionID    int64  `json:"session_id"`
	NodeID       string `json:"node_id"`
	IsEntry      bool   `json:"is_entry"`
	IsExit       bool   `json:"is_exit"`
}

// NodeBoundarySyncPayload backs NODE_BOUNDARY_SYNC.
type NodeBoundarySyncPayload struct {
	BoundaryID int64 `json:"boundary_id"`
}

// FileCommitVerifyPayload backs FILE_COMMIT_LINK and FILE_COMMIT_VERIFY
// (the former is a pure alias of the latter, spec.md section 4.5).
type FileCommitVerifyPayload struct {
	FileCommitID      string `json:"file_commit_id"`
	ExpectedFileCount int    `json:"expected_file_count"`
}

// FileBlobVerifyPayload backs FILE_BLOB_VERIFY.
type FileBlobVerifyPayload struct {
	Hash string `json:"hash"`
}

// CheckpointFileLinkVerifyPayload backs CHECKPOINT_FILE_LINK_VERIFY: the
// joint three-store check.
type CheckpointFileLinkVerifyPayload struct {
	CheckpointID string `json:"checkpoint_id"`
}

// RollbackFileRestorePayload backs ROLLBACK_FILE_RESTORE: the Phase 2
// side effect that makes a coordinator rollback/fork eventually consistent
// with the file store.
type RollbackFileRestorePayload struct {
	ExecutionID    string `json:"execution_id"`
	CheckpointID   string `json:"checkpoint_id"`
	SourceCommitID string `json:"source_commit_id"`
}

// RollbackVerifyPayload backs ROLLBACK_VERIFY.
type RollbackVerifyPayload struct {
	CheckpointID string `json:"checkpoint_id"`
}

// AuditPayload backs every audit-only event type (IsAuditType): there is
// no cross-store effect to verify, only a record of what happened.
type AuditPayload struct {
	ExecutionID string `json:"execution_id,omitempty"`
	Detail      string `json:"detail,omitempty"`
}
