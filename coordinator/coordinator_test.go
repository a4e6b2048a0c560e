package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/KataDavidXD/WTB-AgenticWorkflowTestBench/domain"
	"github.com/KataDavidXD/WTB-AgenticWorkflowTestBench/memstore"
	"github.com/KataDavidXD/WTB-AgenticWorkflowTestBench/outbox"
	"github.com/KataDavidXD/WTB-AgenticWorkflowTestBench/stateadapter"
	"github.com/KataDavidXD/WTB-AgenticWorkflowTestBench/uow"
	"github.com/KataDavidXD/WTB-AgenticWorkflowTestBench/wtberrors"
)

// fixture wires a Coordinator over memstore + a MemExternalStore, with one
// RUNNING execution whose session is initialized (so checkpoints exist to
// roll back to).
type fixture struct {
	coord   *Coordinator
	fac     uow.Factory
	execID  string
	cpEntry string // checkpoint taken right after run starts
	cpExit  string // checkpoint taken after a second step
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	db := memstore.NewDB()
	fac := memstore.Factory(db)
	external := stateadapter.NewMemExternalStore()
	adapter := stateadapter.New(external, fac)
	coord := New(fac, adapter, 50, 5, nil)

	tx, err := fac().Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	exec, err := tx.Executions().Add(ctx, domain.Execution{ID: "exec-1", WorkflowID: "wf-1", Status: domain.ExecutionPending})
	if err != nil {
		t.Fatalf("add execution: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	sessionID, err := adapter.InitializeSession(ctx, exec.ID, domain.ExecutionState{})
	if err != nil {
		t.Fatalf("initialize session: %v", err)
	}

	cpEntry, err := adapter.SaveCheckpoint(ctx, sessionID, "node-a", domain.ExecutionState{
		ExecutionPath: []string{"node-a"},
	}, domain.TriggerNodeEntry, "entry", nil)
	if err != nil {
		t.Fatalf("save checkpoint: %v", err)
	}
	cpExit, err := adapter.SaveCheckpoint(ctx, sessionID, "node-b", domain.ExecutionState{
		ExecutionPath: []string{"node-a", "node-b"},
	}, domain.TriggerNodeExit, "exit", nil)
	if err != nil {
		t.Fatalf("save checkpoint: %v", err)
	}

	tx2, err := fac().Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	exec.SessionID = sessionID
	exec.Status = domain.ExecutionRunning
	if _, err := tx2.Executions().Update(ctx, exec); err != nil {
		t.Fatalf("update execution: %v", err)
	}
	if err := tx2.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	return fixture{coord: coord, fac: fac, execID: exec.ID, cpEntry: cpEntry, cpExit: cpExit}
}

func pendingEvents(t *testing.T, fac uow.Factory) []outbox.Event {
	t.Helper()
	tx, err := fac().Begin(context.Background())
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	events, err := tx.Outbox().GetPending(context.Background(), 100)
	_ = tx.Rollback()
	if err != nil {
		t.Fatalf("get pending: %v", err)
	}
	return events
}

func TestCoordinator_Rollback(t *testing.T) {
	f := newFixture(t)

	exec, err := f.coord.Rollback(context.Background(), f.execID, f.cpEntry)
	if err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if exec.Status != domain.ExecutionPaused {
		t.Fatalf("expected PAUSED after rollback, got %s", exec.Status)
	}
	if len(exec.State.ExecutionPath) != 1 || exec.State.ExecutionPath[0] != "node-a" {
		t.Fatalf("expected state restored to entry checkpoint, got %+v", exec.State)
	}

	events := pendingEvents(t, f.fac)
	var sawAudit bool
	for _, e := range events {
		if e.Type == outbox.EventRollbackPerformed {
			sawAudit = true
		}
		if e.Type == outbox.EventRollbackFileRestore {
			t.Fatal("expected no ROLLBACK_FILE_RESTORE event when the checkpoint has no linked file commit")
		}
	}
	if !sawAudit {
		t.Fatal("expected a ROLLBACK_PERFORMED audit event")
	}
}

func TestCoordinator_Fork(t *testing.T) {
	f := newFixture(t)

	newState := &domain.ExecutionState{WorkflowVariables: map[string]json.RawMessage{}}
	forked, err := f.coord.Fork(context.Background(), f.execID, f.cpExit, newState)
	if err != nil {
		t.Fatalf("fork: %v", err)
	}
	if forked.ID == f.execID {
		t.Fatal("fork must produce a new execution id")
	}
	if forked.Status != domain.ExecutionPending {
		t.Fatalf("expected forked execution to be PENDING, got %s", forked.Status)
	}

	tx, err := f.fac().Begin(context.Background())
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	source, err := tx.Executions().GetByID(context.Background(), f.execID)
	_ = tx.Rollback()
	if err != nil {
		t.Fatalf("reload source: %v", err)
	}
	if source.Status != domain.ExecutionRunning {
		t.Fatalf("fork must not mutate the source execution, got status %s", source.Status)
	}

	var sawAudit bool
	for _, e := range pendingEvents(t, f.fac) {
		if e.Type == outbox.EventExecutionForked && e.AggregateID == forked.ID {
			sawAudit = true
		}
	}
	if !sawAudit {
		t.Fatal("expected an EXECUTION_FORKED audit event scoped to the forked execution")
	}
}

func TestCoordinator_RollbackAndRunRequiresGraph(t *testing.T) {
	f := newFixture(t)
	_, err := f.coord.RollbackAndRun(context.Background(), f.execID, f.cpEntry, nil)
	if !errors.Is(err, wtberrors.ErrValidation) {
		t.Fatalf("expected ErrValidation for nil graph, got %v", err)
	}
}

func TestCoordinator_ForkAndRunRequiresGraph(t *testing.T) {
	f := newFixture(t)
	_, err := f.coord.ForkAndRun(context.Background(), f.execID, f.cpExit, nil, nil)
	if !errors.Is(err, wtberrors.ErrValidation) {
		t.Fatalf("expected ErrValidation for nil graph, got %v", err)
	}
}

func TestCoordinator_BatchOperateStopOnError(t *testing.T) {
	f := newFixture(t)

	requests := []Request{
		{Op: OpRollback, ExecutionID: f.execID, CheckpointID: "does-not-exist"},
		{Op: OpRollback, ExecutionID: f.execID, CheckpointID: f.cpEntry},
	}
	results := f.coord.BatchOperate(context.Background(), requests, true)
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Err == nil {
		t.Fatal("expected first request to fail (unknown checkpoint)")
	}
	if results[1].Err == nil {
		t.Fatal("expected second request to be reported as skipped after stop_on_error")
	}
	if !errors.Is(results[1].Err, wtberrors.ErrValidation) {
		t.Fatalf("expected skipped result to wrap ErrValidation, got %v", results[1].Err)
	}
}

func TestCoordinator_BatchOperateContinuesWithoutStopOnError(t *testing.T) {
	f := newFixture(t)

	requests := []Request{
		{Op: OpRollback, ExecutionID: f.execID, CheckpointID: "does-not-exist"},
		{Op: OpRollback, ExecutionID: f.execID, CheckpointID: f.cpEntry},
	}
	results := f.coord.BatchOperate(context.Background(), requests, false)
	if results[0].Err == nil {
		t.Fatal("expected first request to fail")
	}
	if results[1].Err != nil {
		t.Fatalf("expected second request to succeed without stop_on_error, got %v", results[1].Err)
	}
	if results[1].Execution.Status != domain.ExecutionPaused {
		t.Fatalf("expected second rollback to succeed, got status %s", results[1].Execution.Status)
	}
}
