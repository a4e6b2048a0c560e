package stateadapter

import (
	"context"
	"testing"

	"github.com/KataDavidXD/WTB-AgenticWorkflowTestBench/domain"
	"github.com/KataDavidXD/WTB-AgenticWorkflowTestBench/memstore"
)

func newTestAdapter() (*Adapter, *memstore.DB) {
	db := memstore.NewDB()
	return New(NewMemExternalStore(), memstore.Factory(db)), db
}

func TestInitializeAndSaveCheckpoint(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestAdapter()

	sessionID, err := a.InitializeSession(ctx, "exec-1", domain.ExecutionState{})
	if err != nil {
		t.Fatalf("initialize session: %v", err)
	}

	cpID, err := a.SaveCheckpoint(ctx, sessionID, "node-a", domain.ExecutionState{}, domain.TriggerNodeEntry, "", nil)
	if err != nil {
		t.Fatalf("save checkpoint: %v", err)
	}

	state, err := a.LoadCheckpoint(ctx, cpID)
	if err != nil {
		t.Fatalf("load checkpoint: %v", err)
	}
	if state.CurrentNodeID != nil {
		t.Fatalf("expected nil current node on fresh state, got %v", *state.CurrentNodeID)
	}
}

func TestCreateBranchIsNonDestructive(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestAdapter()

	sessionID, _ := a.InitializeSession(ctx, "exec-1", domain.ExecutionState{})
	cpID, err := a.SaveCheckpoint(ctx, sessionID, "node-a", domain.ExecutionState{}, domain.TriggerNodeEntry, "", nil)
	if err != nil {
		t.Fatalf("save checkpoint: %v", err)
	}

	branchSessionID, err := a.CreateBranch(ctx, cpID)
	if err != nil {
		t.Fatalf("create branch: %v", err)
	}
	if branchSessionID == sessionID {
		t.Fatalf("expected a new session id, got the same one")
	}

	original, err := a.GetCheckpoints(ctx, sessionID, "")
	if err != nil {
		t.Fatalf("get checkpoints: %v", err)
	}
	if len(original) == 0 {
		t.Fatalf("expected the original session's checkpoints to remain intact")
	}
}

func TestMarkNodeLifecycle(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestAdapter()

	sessionID, _ := a.InitializeSession(ctx, "exec-1", domain.ExecutionState{})
	nb, err := a.MarkNodeStarted(ctx, "exec-1", sessionID, "node-a", "cp-entry")
	if err != nil {
		t.Fatalf("mark started: %v", err)
	}
	if nb.Status != domain.NodeBoundaryStarted {
		t.Fatalf("expected started status, got %s", nb.Status)
	}

	completed, err := a.MarkNodeCompleted(ctx, nb.ID, "cp-exit", 2, 1)
	if err != nil {
		t.Fatalf("mark completed: %v", err)
	}
	if completed.Status != domain.NodeBoundaryCompleted {
		t.Fatalf("expected completed status, got %s", completed.Status)
	}
	if completed.ExecutionID != "exec-1" {
		t.Fatalf("expected ExecutionID to survive the partial update, got %q", completed.ExecutionID)
	}
}

func TestLinkFileCommit(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestAdapter()

	ok, err := a.LinkFileCommit(ctx, "cp-1", "commit-1", 3, 1024)
	if err != nil {
		t.Fatalf("link file commit: %v", err)
	}
	if !ok {
		t.Fatalf("expected link to succeed")
	}
}
