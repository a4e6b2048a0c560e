package integrity

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/KataDavidXD/WTB-AgenticWorkflowTestBench/domain"
	"github.com/KataDavidXD/WTB-AgenticWorkflowTestBench/memstore"
	"github.com/KataDavidXD/WTB-AgenticWorkflowTestBench/outbox"
	"github.com/KataDavidXD/WTB-AgenticWorkflowTestBench/stateadapter"
	"github.com/KataDavidXD/WTB-AgenticWorkflowTestBench/uow"
)

var _ CheckpointEnumerator = (*stateadapter.MemExternalStore)(nil)

func newTestFac() uow.Factory {
	return memstore.Factory(memstore.NewDB())
}

// TestChecker_FindsAndRepairs is scenario S6: a dangling checkpoint_files
// row (its file_commit was never recorded) and an outbox event stuck in
// PROCESSING both surface as critical, auto-repairable findings, and a
// Repair pass clears both so the next Check comes back clean.
func TestChecker_FindsAndRepairs(t *testing.T) {
	ctx := context.Background()
	fac := newTestFac()
	external := stateadapter.NewMemExternalStore()

	sessionID, err := external.OpenSession(ctx, "exec-1", domain.ExecutionState{})
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	cpID, err := external.AppendCheckpoint(ctx, stateadapter.ExternalCheckpoint{
		SessionID: sessionID,
		NodeID:    "node-a",
		State:     domain.ExecutionState{},
	})
	if err != nil {
		t.Fatalf("append checkpoint: %v", err)
	}

	tx, err := fac().Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := tx.CheckpointFiles().Add(ctx, domain.CheckpointFileLink{
		CheckpointID: cpID,
		FileCommitID: "fc-does-not-exist",
	}); err != nil {
		t.Fatalf("add checkpoint file link: %v", err)
	}

	stuckEvent, err := outbox.New(outbox.EventCheckpointVerify, "execution", "exec-1",
		outbox.CheckpointVerifyPayload{CheckpointID: cpID}, 5)
	if err != nil {
		t.Fatalf("build event: %v", err)
	}
	stuckEvent.Status = outbox.StatusProcessing
	stuckEvent.CreatedAt = time.Now().Add(-time.Hour)
	if stuckEvent.ID == uuid.Nil {
		t.Fatal("expected outbox.New to assign an id")
	}
	if _, err := tx.Outbox().Add(ctx, stuckEvent); err != nil {
		t.Fatalf("add stuck event: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit fixture: %v", err)
	}

	checker := New(fac, external, 5*time.Minute, 0, nil)

	report, err := checker.Check(ctx)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if report.SkippedStep2 {
		t.Fatal("expected step 2 to run since MemExternalStore implements CheckpointEnumerator")
	}
	if report.CriticalCount < 2 {
		t.Fatalf("expected at least 2 critical findings, got %d (%+v)", report.CriticalCount, report.Issues)
	}

	var sawDangling, sawStuck bool
	for _, issue := range report.Issues {
		switch issue.Type {
		case domain.IssueDanglingReference:
			sawDangling = true
			if !issue.AutoRepairable {
				t.Fatal("expected dangling reference to be auto-repairable")
			}
		case domain.IssueOutboxStuck:
			sawStuck = true
			if !issue.AutoRepairable {
				t.Fatal("expected stuck outbox event to be auto-repairable")
			}
		}
	}
	if !sawDangling {
		t.Fatal("expected a DANGLING_REFERENCE finding")
	}
	if !sawStuck {
		t.Fatal("expected an OUTBOX_STUCK finding")
	}

	if _, err := checker.Repair(ctx, report); err != nil {
		t.Fatalf("repair: %v", err)
	}

	followUp, err := checker.Check(ctx)
	if err != nil {
		t.Fatalf("check after repair: %v", err)
	}
	if followUp.CriticalCount != 0 {
		t.Fatalf("expected zero critical findings after repair, got %d (%+v)", followUp.CriticalCount, followUp.Issues)
	}
}

// TestChecker_SkipsStep2WithoutEnumerator is the converse of the above: a
// store that does not implement CheckpointEnumerator gets step 2 skipped,
// not failed.
type blackBoxExternal struct {
	stateadapter.ExternalCheckpointStore
}

func TestChecker_SkipsStep2WithoutEnumerator(t *testing.T) {
	ctx := context.Background()
	fac := newTestFac()
	external := blackBoxExternal{ExternalCheckpointStore: stateadapter.NewMemExternalStore()}

	checker := New(fac, external, 5*time.Minute, 0, nil)
	report, err := checker.Check(ctx)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !report.SkippedStep2 {
		t.Fatal("expected step 2 to be skipped for a store without CheckpointEnumerator")
	}
}
