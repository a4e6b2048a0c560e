// Package stateadapter is the anti-corruption layer (C5) between this
// system's execution/checkpoint semantics and the external checkpoint
// store (spec.md section 1's black-box collaborator). Its shape is
// grounded in the teacher's store.Store[S] interface
// (graph/store/store.go): a small, typed, context-first port that this
// module's Adapter translates session/node-boundary/branch operations
// onto.
package stateadapter

import (
	"context"
	"time"

	"github.com/KataDavidXD/WTB-AgenticWorkflowTestBench/domain"
)

// ExternalCheckpoint is one entry in the external store's append-only log
// for a session, the external analogue of the teacher's CheckpointV2[S].
type ExternalCheckpoint struct {
	SessionID int64
	Ordinal   int64 // tool-track ordinal, monotonic within a session
	NodeID    string
	Trigger   domain.CheckpointTrigger
	State     domain.ExecutionState
	Label     string
	Metadata  map[string]string
	Timestamp time.Time
}

// ExternalCheckpointStore is the port this system's Adapter depends on.
// Grounded in store.Store[S]'s SaveCheckpointV2/LoadCheckpointV2/
// CheckIdempotency method shapes, specialized from a generic S to this
// system's domain.ExecutionState.
type ExternalCheckpointStore interface {
	// OpenSession creates a new append-only checkpoint log and returns its
	// id. initial is recorded as ordinal 0.
	OpenSession(ctx context.Context, executionID string, initial domain.ExecutionState) (sessionID int64, err error)

	// AppendCheckpoint appends cp to its session's log and returns a
	// system-wide unique checkpoint id.
	AppendCheckpoint(ctx context.Context, cp ExternalCheckpoint) (checkpointID string, err error)

	// GetCheckpoint returns the checkpoint recorded under id.
	// wtberrors.ErrNotFound if absent.
	GetCheckpoint(ctx context.Context, id string) (ExternalCheckpoint, error)

	// ListCheckpoints returns every checkpoint for sessionID, optionally
	// filtered to nodeID, ordered by Ordinal ascending then checkpoint id
	// descending (the tie-break rule in spec.md section 4.3).
	ListCheckpoints(ctx context.Context, sessionID int64, nodeID string) ([]ExternalCheckpoint, error)

	// Fork duplicates sourceSessionID's log up to and including upToOrdinal
	// into a brand-new session, returning its id. Non-destructive: the
	// source session is untouched.
	Fork(ctx context.Context, sourceSessionID int64, upToOrdinal int64) (newSessionID int64, err error)
}
