package execctl

import (
	"context"
	"errors"
	"testing"

	"github.com/KataDavidXD/WTB-AgenticWorkflowTestBench/domain"
	"github.com/KataDavidXD/WTB-AgenticWorkflowTestBench/memstore"
	"github.com/KataDavidXD/WTB-AgenticWorkflowTestBench/stateadapter"
	"github.com/KataDavidXD/WTB-AgenticWorkflowTestBench/uow"
	"github.com/KataDavidXD/WTB-AgenticWorkflowTestBench/wtberrors"
)

func newFixture(t *testing.T) (*Controller, uow.Factory, string) {
	t.Helper()
	db := memstore.NewDB()
	fac := memstore.Factory(db)
	adapter := stateadapter.New(stateadapter.NewMemExternalStore(), fac)
	ctrl := New(fac, adapter, 50, 5)

	tx, err := fac().Begin(context.Background())
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	exec, err := tx.Executions().Add(context.Background(), domain.Execution{
		ID:         "exec-1",
		WorkflowID: "wf-1",
		Status:     domain.ExecutionPending,
	})
	if err != nil {
		t.Fatalf("add execution: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	return ctrl, fac, exec.ID
}

// yieldOnceGraph yields on its first step, completes on its second.
type yieldOnceGraph struct{ calls int }

func (g *yieldOnceGraph) Step(ctx context.Context, state domain.ExecutionState) (domain.ExecutionState, StepOutcome, error) {
	g.calls++
	if g.calls == 1 {
		return state, StepYield, nil
	}
	return state, StepDone, nil
}

type failingGraph struct{}

func (failingGraph) Step(ctx context.Context, state domain.ExecutionState) (domain.ExecutionState, StepOutcome, error) {
	return state, StepYield, errors.New("node exploded")
}

func TestController_Run(t *testing.T) {
	t.Run("nil graph is a validation error", func(t *testing.T) {
		ctrl, _, execID := newFixture(t)
		_, err := ctrl.Run(context.Background(), execID, nil, nil)
		if !errors.Is(err, wtberrors.ErrValidation) {
			t.Fatalf("expected ErrValidation, got %v", err)
		}
	})

	t.Run("yields to PAUSED then completes on resume", func(t *testing.T) {
		ctrl, fac, execID := newFixture(t)
		g := &yieldOnceGraph{}

		exec, err := ctrl.Run(context.Background(), execID, g, nil)
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		if exec.Status != domain.ExecutionPaused {
			t.Fatalf("expected PAUSED after yield, got %s", exec.Status)
		}
		if exec.SessionID == 0 {
			t.Fatal("expected session to be initialized")
		}

		exec, err = ctrl.Run(context.Background(), execID, g, nil)
		if err != nil {
			t.Fatalf("run (resume): %v", err)
		}
		if exec.Status != domain.ExecutionCompleted {
			t.Fatalf("expected COMPLETED, got %s", exec.Status)
		}

		tx, err := fac().Begin(context.Background())
		if err != nil {
			t.Fatalf("begin: %v", err)
		}
		defer tx.Rollback()
		events, err := tx.Outbox().GetPending(context.Background(), 100)
		if err != nil {
			t.Fatalf("get pending: %v", err)
		}
		if len(events) == 0 {
			t.Fatal("expected Run's transitions to have enqueued outbox events")
		}
	})

	t.Run("graph error fails the execution", func(t *testing.T) {
		ctrl, _, execID := newFixture(t)
		_, err := ctrl.Run(context.Background(), execID, failingGraph{}, nil)
		if err == nil {
			t.Fatal("expected an error")
		}

		tx, _ := ctrl.uowFac().Begin(context.Background())
		defer tx.Rollback()
		exec, err := tx.Executions().GetByID(context.Background(), execID)
		if err != nil {
			t.Fatalf("reload: %v", err)
		}
		if exec.Status != domain.ExecutionFailed {
			t.Fatalf("expected FAILED, got %s", exec.Status)
		}
	})
}

func TestController_PauseResumeIdempotency(t *testing.T) {
	ctrl, _, execID := newFixture(t)

	tx, _ := ctrl.uowFac().Begin(context.Background())
	exec, _ := tx.Executions().GetByID(context.Background(), execID)
	exec.Status = domain.ExecutionRunning
	tx.Executions().Update(context.Background(), exec)
	tx.Commit()

	key := "req-abc"
	first, err := ctrl.Pause(context.Background(), execID, &key)
	if err != nil {
		t.Fatalf("pause: %v", err)
	}
	if first.Status != domain.ExecutionPaused {
		t.Fatalf("expected PAUSED, got %s", first.Status)
	}

	second, err := ctrl.Pause(context.Background(), execID, &key)
	if err != nil {
		t.Fatalf("pause (replay): %v", err)
	}
	if second.Status != domain.ExecutionPaused {
		t.Fatalf("expected PAUSED on replay, got %s", second.Status)
	}
}

func TestController_StopRejectsTerminal(t *testing.T) {
	ctrl, _, execID := newFixture(t)
	tx, _ := ctrl.uowFac().Begin(context.Background())
	exec, _ := tx.Executions().GetByID(context.Background(), execID)
	exec.Status = domain.ExecutionCompleted
	tx.Executions().Update(context.Background(), exec)
	tx.Commit()

	_, err := ctrl.Stop(context.Background(), execID, nil)
	if !errors.Is(err, wtberrors.ErrValidation) {
		t.Fatalf("expected ErrValidation stopping a terminal execution, got %v", err)
	}
}

func TestController_ForkDoesNotMutateSource(t *testing.T) {
	ctrl, fac, execID := newFixture(t)
	ctx := context.Background()

	tx, _ := fac().Begin(ctx)
	exec, _ := tx.Executions().GetByID(ctx, execID)
	exec.Status = domain.ExecutionRunning
	tx.Executions().Update(ctx, exec)
	tx.Commit()

	adapter := stateadapter.New(stateadapter.NewMemExternalStore(), fac)
	sessionID, err := adapter.InitializeSession(ctx, execID, domain.ExecutionState{})
	if err != nil {
		t.Fatalf("initialize session: %v", err)
	}
	cpID, err := adapter.SaveCheckpoint(ctx, sessionID, "node-a", domain.ExecutionState{}, domain.TriggerAuto, "", nil)
	if err != nil {
		t.Fatalf("save checkpoint: %v", err)
	}

	ctrl2 := New(fac, adapter, 50, 5)
	forked, err := ctrl2.Fork(ctx, execID, cpID, nil)
	if err != nil {
		t.Fatalf("fork: %v", err)
	}
	if forked.ID == execID {
		t.Fatal("forked execution must have a new id")
	}
	if forked.Status != domain.ExecutionPending {
		t.Fatalf("expected forked execution PENDING, got %s", forked.Status)
	}

	tx, _ = fac().Begin(ctx)
	source, err := tx.Executions().GetByID(ctx, execID)
	tx.Rollback()
	if err != nil {
		t.Fatalf("reload source: %v", err)
	}
	if source.Status != domain.ExecutionRunning {
		t.Fatalf("source execution must be untouched, got %s", source.Status)
	}
}
