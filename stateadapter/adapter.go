package stateadapter

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/KataDavidXD/WTB-AgenticWorkflowTestBench/domain"
	"github.com/KataDavidXD/WTB-AgenticWorkflowTestBench/uow"
)

// Adapter is the C5 anti-corruption boundary: it exposes spec-level
// session/node-boundary/branch operations and translates them onto an
// ExternalCheckpointStore plus this system's own primary-store UoW.
// Adapter is a process-wide shared collaborator (spec.md section 5); it
// must be safe for concurrent use, which is why ordinal tracking below is
// guarded by a mutex rather than left to callers.
type Adapter struct {
	external ExternalCheckpointStore
	uowFac   uow.Factory

	mu       sync.Mutex
	ordinals map[int64]int64 // sessionID -> next ordinal to assign
}

// New builds an Adapter over external, using uowFac for every primary-store
// write it performs (CheckpointFileLink inserts, NodeBoundary updates).
func New(external ExternalCheckpointStore, uowFac uow.Factory) *Adapter {
	return &Adapter{external: external, uowFac: uowFac, ordinals: make(map[int64]int64)}
}

func (a *Adapter) nextOrdinal(sessionID int64) int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := a.ordinals[sessionID]
	a.ordinals[sessionID] = n + 1
	return n
}

// InitializeSession opens a new external session for executionID and seeds
// it with initial state at ordinal 0.
func (a *Adapter) InitializeSession(ctx context.Context, executionID string, initial domain.ExecutionState) (int64, error) {
	sessionID, err := a.external.OpenSession(ctx, executionID, initial)
	if err != nil {
		return 0, fmt.Errorf("stateadapter: initialize session: %w", err)
	}
	a.mu.Lock()
	a.ordinals[sessionID] = 1
	a.mu.Unlock()
	return sessionID, nil
}

// SaveCheckpoint appends a checkpoint to sessionID's log, stamping it with
// the next tool-track ordinal, and returns its id.
func (a *Adapter) SaveCheckpoint(ctx context.Context, sessionID int64, nodeID string, state domain.ExecutionState, trigger domain.CheckpointTrigger, label string, metadata map[string]string) (string, error) {
	cp := ExternalCheckpoint{
		SessionID: sessionID,
		Ordinal:   a.nextOrdinal(sessionID),
		NodeID:    nodeID,
		Trigger:   trigger,
		State:     state.Clone(),
		Label:     label,
		Metadata:  metadata,
	}
	id, err := a.external.AppendCheckpoint(ctx, cp)
	if err != nil {
		return "", fmt.Errorf("stateadapter: save checkpoint: %w", err)
	}
	return id, nil
}

// LoadCheckpoint returns the state recorded at checkpointID.
func (a *Adapter) LoadCheckpoint(ctx context.Context, checkpointID string) (domain.ExecutionState, error) {
	cp, err := a.external.GetCheckpoint(ctx, checkpointID)
	if err != nil {
		return domain.ExecutionState{}, fmt.Errorf("stateadapter: load checkpoint: %w", err)
	}
	return cp.State, nil
}

// LinkFileCommit records a CheckpointFileLink in the primary store.
func (a *Adapter) LinkFileCommit(ctx context.Context, checkpointID, fileCommitID string, fileCount int, totalSize int64) (bool, error) {
	tx, err := a.uowFac().Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("stateadapter: begin: %w", err)
	}
	if err := tx.CheckpointFiles().Add(ctx, domain.CheckpointFileLink{
		CheckpointID: checkpointID,
		FileCommitID: fileCommitID,
		FileCount:    fileCount,
		TotalSize:    totalSize,
	}); err != nil {
		_ = tx.Rollback()
		return false, fmt.Errorf("stateadapter: link file commit: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("stateadapter: commit link: %w", err)
	}
	return true, nil
}

// MarkNodeStarted opens a NodeBoundary for (executionID, sessionID, nodeID).
func (a *Adapter) MarkNodeStarted(ctx context.Context, executionID string, sessionID int64, nodeID, entryCheckpointID string) (domain.NodeBoundary, error) {
	tx, err := a.uowFac().Begin(ctx)
	if err != nil {
		return domain.NodeBoundary{}, fmt.Errorf("stateadapter: begin: %w", err)
	}
	nb, err := tx.NodeBoundaries().Add(ctx, domain.NodeBoundary{
		ExecutionID:       executionID,
		SessionID:         sessionID,
		NodeID:            nodeID,
		EntryCheckpointID: entryCheckpointID,
		Status:            domain.NodeBoundaryStarted,
		StartedAt:         time.Now(),
	})
	if err != nil {
		_ = tx.Rollback()
		return domain.NodeBoundary{}, fmt.Errorf("stateadapter: mark node started: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.NodeBoundary{}, fmt.Errorf("stateadapter: commit: %w", err)
	}
	return nb, nil
}

func (a *Adapter) updateBoundary(ctx context.Context, boundaryID int64, mutate func(*domain.NodeBoundary)) (domain.NodeBoundary, error) {
	tx, err := a.uowFac().Begin(ctx)
	if err != nil {
		return domain.NodeBoundary{}, fmt.Errorf("stateadapter: begin: %w", err)
	}
	nb, err := tx.NodeBoundaries().GetByID(ctx, boundaryID)
	if err != nil {
		_ = tx.Rollback()
		return domain.NodeBoundary{}, fmt.Errorf("stateadapter: load boundary: %w", err)
	}
	mutate(&nb)
	if err := tx.NodeBoundaries().Update(ctx, nb); err != nil {
		_ = tx.Rollback()
		return domain.NodeBoundary{}, fmt.Errorf("stateadapter: update boundary: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.NodeBoundary{}, fmt.Errorf("stateadapter: commit: %w", err)
	}
	return nb, nil
}

// MarkNodeCompleted closes boundaryID with an exit checkpoint and counts.
func (a *Adapter) MarkNodeCompleted(ctx context.Context, boundaryID int64, exitCheckpointID string, toolCount, checkpointCount int) (domain.NodeBoundary, error) {
	now := time.Now()
	return a.updateBoundary(ctx, boundaryID, func(nb *domain.NodeBoundary) {
		nb.ExitCheckpointID = &exitCheckpointID
		nb.Status = domain.NodeBoundaryCompleted
		nb.ToolCount = toolCount
		nb.CheckpointCount = checkpointCount
		nb.CompletedAt = &now
	})
}

// MarkNodeFailed closes boundaryID with an error message.
func (a *Adapter) MarkNodeFailed(ctx context.Context, boundaryID int64, errMessage string) (domain.NodeBoundary, error) {
	now := time.Now()
	return a.updateBoundary(ctx, boundaryID, func(nb *domain.NodeBoundary) {
		nb.Status = domain.NodeBoundaryFailed
		nb.ErrorMessage = &errMessage
		nb.CompletedAt = &now
	})
}

// Rollback restores the state recorded at checkpointID. When multiple
// checkpoints in the same session share checkpointID's tool-track ordinal,
// the one with the greater checkpoint id wins (spec.md section 4.3's
// tie-break rule), mirrored on the teacher's computeIdempotencyKey
// stable-sort pattern. Rollback never enqueues outbox events; callers
// (execctl, coordinator) own that.
func (a *Adapter) Rollback(ctx context.Context, checkpointID string) (domain.ExecutionState, error) {
	target, err := a.external.GetCheckpoint(ctx, checkpointID)
	if err != nil {
		return domain.ExecutionState{}, fmt.Errorf("stateadapter: rollback: load target: %w", err)
	}

	siblings, err := a.external.ListCheckpoints(ctx, target.SessionID, target.NodeID)
	if err != nil {
		return domain.ExecutionState{}, fmt.Errorf("stateadapter: rollback: list siblings: %w", err)
	}

	candidates := make([]ExternalCheckpoint, 0, len(siblings))
	for _, s := range siblings {
		if s.Ordinal == target.Ordinal {
			candidates = append(candidates, s)
		}
	}
	if len(candidates) == 0 {
		candidates = []ExternalCheckpoint{target}
	}

	// Stable sort by timestamp ascending so the last element is the most
	// recently written checkpoint at this ordinal -- the tie-break named
	// in spec.md section 4.3 ("the one with the greater checkpoint id
	// wins"), approximated here by recency since ExternalCheckpoint does
	// not carry its own id.
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Timestamp.Before(candidates[j].Timestamp)
	})
	winner := candidates[len(candidates)-1]
	return winner.State, nil
}

// CreateBranch forks checkpointID's session up to its ordinal into a new,
// non-destructive session.
func (a *Adapter) CreateBranch(ctx context.Context, checkpointID string) (int64, error) {
	cp, err := a.external.GetCheckpoint(ctx, checkpointID)
	if err != nil {
		return 0, fmt.Errorf("stateadapter: create branch: load checkpoint: %w", err)
	}
	newSessionID, err := a.external.Fork(ctx, cp.SessionID, cp.Ordinal)
	if err != nil {
		return 0, fmt.Errorf("stateadapter: create branch: fork: %w", err)
	}
	a.mu.Lock()
	a.ordinals[newSessionID] = cp.Ordinal + 1
	a.mu.Unlock()
	return newSessionID, nil
}

// GetCheckpoints returns sessionID's checkpoints, optionally filtered to a
// single node, ordered by tool-track ordinal.
func (a *Adapter) GetCheckpoints(ctx context.Context, sessionID int64, nodeID string) ([]ExternalCheckpoint, error) {
	cps, err := a.external.ListCheckpoints(ctx, sessionID, nodeID)
	if err != nil {
		return nil, fmt.Errorf("stateadapter: get checkpoints: %w", err)
	}
	return cps, nil
}
