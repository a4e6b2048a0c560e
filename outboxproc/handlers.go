package outboxproc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/KataDavidXD/WTB-AgenticWorkflowTestBench/filetrack"
	"github.com/KataDavidXD/WTB-AgenticWorkflowTestBench/outbox"
	"github.com/KataDavidXD/WTB-AgenticWorkflowTestBench/stateadapter"
	"github.com/KataDavidXD/WTB-AgenticWorkflowTestBench/uow"
	"github.com/KataDavidXD/WTB-AgenticWorkflowTestBench/wtberrors"
)

// Deps bundles the collaborators the closed handler table needs. Handlers
// built with this are the only place outboxproc reaches into stateadapter
// and filetrack.
type Deps struct {
	UoWFac   uow.Factory
	External stateadapter.ExternalCheckpointStore
	Files    *filetrack.Service
	Blobs    filetrack.BlobStore
	Logger   *slog.Logger
}

func unmarshal[T any](payload json.RawMessage) (T, error) {
	var out T
	if err := json.Unmarshal(payload, &out); err != nil {
		return out, fmt.Errorf("%w: %v", wtberrors.ErrValidation, err)
	}
	return out, nil
}

// Handlers builds the closed dispatch table named in spec.md section 4.5.
// Every outbox.EventType except the pure audit types (IsAuditType) gets a
// real handler here; audit types share auditHandler. Adding a new
// EventType requires adding both the enum value in outbox and an entry
// here (spec.md section 9).
func Handlers(d Deps) map[outbox.EventType]Handler {
	h := map[outbox.EventType]Handler{
		outbox.EventCheckpointCreate:          d.checkpointCreate,
		outbox.EventCheckpointVerify:          d.checkpointVerify,
		outbox.EventNodeBoundarySync:          d.nodeBoundarySync,
		outbox.EventFileCommitLink:            d.fileCommitVerify,
		outbox.EventFileCommitVerify:          d.fileCommitVerify,
		outbox.EventFileBlobVerify:            d.fileBlobVerify,
		outbox.EventCheckpointFileLinkVerify:  d.checkpointFileLinkVerify,
		outbox.EventRollbackFileRestore:       d.rollbackFileRestore,
		outbox.EventRollbackVerify:            d.rollbackVerify,
	}
	for t := range auditEventTypes {
		h[t] = d.auditHandler
	}
	return h
}

// auditEventTypes lists every event type IsAuditType recognizes, so
// Handlers can wire them without outboxproc importing outbox's private
// set. Kept in lockstep with outbox.IsAuditType by
// TestHandlers_CoverAuditTypes.
var auditEventTypes = map[outbox.EventType]bool{
	outbox.EventExecutionPaused:    true,
	outbox.EventExecutionResumed:   true,
	outbox.EventExecutionStopped:   true,
	outbox.EventStateModified:      true,
	outbox.EventWorkflowCreated:    true,
	outbox.EventBatchTestCreated:   true,
	outbox.EventBatchTestCancelled: true,
	outbox.EventExecutionForked:    true,
	outbox.EventRollbackPerformed:  true,
	outbox.EventCheckpointSaved:    true,
	outbox.EventFileTracked:        true,
	outbox.EventRayEvent:           true,
}

func (d Deps) checkpointCreate(ctx context.Context, event outbox.Event) error {
	payload, err := unmarshal[outbox.CheckpointPayload](event.Payload)
	if err != nil {
		return err
	}
	if _, err := d.External.GetCheckpoint(ctx, payload.CheckpointID); err != nil {
		return fmt.Errorf("checkpoint %s: %w", payload.CheckpointID, err)
	}
	return nil
}

func (d Deps) checkpointVerify(ctx context.Context, event outbox.Event) error {
	payload, err := unmarshal[outbox.CheckpointVerifyPayload](event.Payload)
	if err != nil {
		return err
	}
	cp, err := d.External.GetCheckpoint(ctx, payload.CheckpointID)
	if err != nil {
		return fmt.Errorf("checkpoint %s: %w", payload.CheckpointID, err)
	}
	if payload.NodeID != "" && cp.NodeID != payload.NodeID {
		return fmt.Errorf("%w: checkpoint %s belongs to node %q, expected %q",
			wtberrors.ErrCorruptState, payload.CheckpointID, cp.NodeID, payload.NodeID)
	}
	return nil
}

func (d Deps) nodeBoundarySync(ctx context.Context, event outbox.Event) error {
	payload, err := unmarshal[outbox.NodeBoundarySyncPayload](event.Payload)
	if err != nil {
		return err
	}
	tx, err := d.UoWFac().Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()
	_, err = tx.NodeBoundaries().GetByID(ctx, payload.BoundaryID)
	if err != nil {
		return fmt.Errorf("node boundary %d: %w", payload.BoundaryID, err)
	}
	return nil
}

func (d Deps) fileCommitVerify(ctx context.Context, event outbox.Event) error {
	payload, err := unmarshal[outbox.FileCommitVerifyPayload](event.Payload)
	if err != nil {
		return err
	}
	tx, err := d.UoWFac().Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()
	commit, err := tx.FileCommits().GetByID(ctx, payload.FileCommitID)
	if err != nil {
		return fmt.Errorf("file commit %s: %w", payload.FileCommitID, err)
	}
	if payload.ExpectedFileCount > 0 && len(commit.Files) != payload.ExpectedFileCount {
		return fmt.Errorf("%w: commit %s has %d files, expected %d",
			wtberrors.ErrCorruptState, payload.FileCommitID, len(commit.Files), payload.ExpectedFileCount)
	}
	return nil
}

func (d Deps) fileBlobVerify(ctx context.Context, event outbox.Event) error {
	payload, err := unmarshal[outbox.FileBlobVerifyPayload](event.Payload)
	if err != nil {
		return err
	}
	ok, err := d.Blobs.Exists(ctx, payload.Hash)
	if err != nil {
		return fmt.Errorf("blob %s: %w", payload.Hash, err)
	}
	if !ok {
		return fmt.Errorf("%w: blob %s missing", wtberrors.ErrCorruptState, payload.Hash)
	}
	return nil
}

// checkpointFileLinkVerify is the one handler that reaches into all three
// stores: the external checkpoint store, the primary store's link/commit
// tables, and the blob store behind the commit (spec.md section 4.5).
func (d Deps) checkpointFileLinkVerify(ctx context.Context, event outbox.Event) error {
	payload, err := unmarshal[outbox.CheckpointFileLinkVerifyPayload](event.Payload)
	if err != nil {
		return err
	}
	if _, err := d.External.GetCheckpoint(ctx, payload.CheckpointID); err != nil {
		return fmt.Errorf("checkpoint %s: %w", payload.CheckpointID, err)
	}

	tx, err := d.UoWFac().Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	link, err := tx.CheckpointFiles().GetByCheckpoint(ctx, payload.CheckpointID)
	if err != nil {
		return fmt.Errorf("checkpoint file link %s: %w", payload.CheckpointID, err)
	}
	commit, err := tx.FileCommits().GetByID(ctx, link.FileCommitID)
	if err != nil {
		return fmt.Errorf("file commit %s: %w", link.FileCommitID, err)
	}
	for _, f := range commit.Files {
		ok, err := tx.Blobs().Exists(ctx, f.Hash)
		if err != nil {
			return fmt.Errorf("blob %s: %w", f.Hash, err)
		}
		if !ok {
			return fmt.Errorf("%w: blob %s (path %s) missing for commit %s",
				wtberrors.ErrCorruptState, f.Hash, f.Path, commit.ID)
		}
	}
	return nil
}

func (d Deps) rollbackFileRestore(ctx context.Context, event outbox.Event) error {
	payload, err := unmarshal[outbox.RollbackFileRestorePayload](event.Payload)
	if err != nil {
		return err
	}
	if err := d.Files.RestoreCommit(ctx, payload.SourceCommitID); err != nil {
		return fmt.Errorf("%w: restore commit %s: %v", wtberrors.ErrTransientExternal, payload.SourceCommitID, err)
	}
	return nil
}

func (d Deps) rollbackVerify(ctx context.Context, event outbox.Event) error {
	payload, err := unmarshal[outbox.RollbackVerifyPayload](event.Payload)
	if err != nil {
		return err
	}
	tx, err := d.UoWFac().Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()
	link, err := tx.CheckpointFiles().GetByCheckpoint(ctx, payload.CheckpointID)
	if err != nil {
		return fmt.Errorf("checkpoint file link %s: %w", payload.CheckpointID, err)
	}
	commit, err := tx.FileCommits().GetByID(ctx, link.FileCommitID)
	if err != nil {
		return fmt.Errorf("file commit %s: %w", link.FileCommitID, err)
	}
	if len(commit.Files) != link.FileCount {
		return fmt.Errorf("%w: commit %s has %d files, link for checkpoint %s records %d",
			wtberrors.ErrCorruptState, commit.ID, len(commit.Files), payload.CheckpointID, link.FileCount)
	}
	return nil
}

func (d Deps) auditHandler(ctx context.Context, event outbox.Event) error {
	if d.Logger != nil {
		d.Logger.Info("outboxproc: audit", "type", event.Type, "aggregate_id", event.AggregateID, "event", event.ID)
	}
	return nil
}
