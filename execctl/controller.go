// Package execctl owns the execution state machine (C9, spec.md section
// 4.6): PENDING -> RUNNING -> {PAUSED, COMPLETED, FAILED}, with PAUSED
// able to resume back to RUNNING or roll back in place. Grounded in the
// teacher's graph/engine.go run-loop shape (Engine.Run advances
// node-by-node, checkpointing and emitting as it goes); execctl.Controller
// adopts the same "advance, checkpoint, yield-or-continue" loop but drives
// this system's state machine rather than a DAG scheduler.
package execctl

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/KataDavidXD/WTB-AgenticWorkflowTestBench/domain"
	"github.com/KataDavidXD/WTB-AgenticWorkflowTestBench/outbox"
	"github.com/KataDavidXD/WTB-AgenticWorkflowTestBench/stateadapter"
	"github.com/KataDavidXD/WTB-AgenticWorkflowTestBench/uow"
	"github.com/KataDavidXD/WTB-AgenticWorkflowTestBench/wtberrors"
)

// StepOutcome is what a Graph reports after one Step call.
type StepOutcome string

const (
	StepYield StepOutcome = "yield"
	StepDone  StepOutcome = "done"
)

// Graph is the black-box compiled workflow graph named in spec.md section
// 1: the graph compiler and node bodies live outside this system's scope.
// Controller.Run drives it one step at a time and reacts to the outcome;
// it never inspects the graph's topology.
type Graph interface {
	Step(ctx context.Context, state domain.ExecutionState) (domain.ExecutionState, StepOutcome, error)
}

// Controller drives the state machine in spec.md section 4.6. It is
// created fresh per operation by its caller (coordinator or a direct
// caller), never cached, and never shares a uow.Tx across calls except
// where a *Tx variant is used explicitly for composition (spec.md section
// 9, "cyclic ownership").
type Controller struct {
	uowFac     uow.Factory
	adapter    *stateadapter.Adapter
	maxSteps   int
	maxRetries int
}

// New builds a Controller. maxSteps bounds Run's graph-stepping loop
// (mirrors the teacher's Options.MaxSteps guard against runaway loops);
// 0 means unbounded. maxRetries is stamped onto every outbox event this
// controller enqueues.
func New(uowFac uow.Factory, adapter *stateadapter.Adapter, maxSteps, maxRetries int) *Controller {
	return &Controller{uowFac: uowFac, adapter: adapter, maxSteps: maxSteps, maxRetries: maxRetries}
}

type statusPayload struct {
	ExecutionID string `json:"execution_id"`
	Status      string `json:"status"`
}

func isTerminal(s domain.ExecutionStatus) bool {
	switch s {
	case domain.ExecutionCompleted, domain.ExecutionFailed, domain.ExecutionCancelled:
		return true
	}
	return false
}

// transition loads executionID, checks guard, applies mutate, and
// persists the result together with an outbox event of eventType carrying
// idempotencyKey, all in one uow.Tx. If idempotencyKey is non-nil and has
// already been used, the call is a no-op that returns the execution
// unchanged (invariant I7, property P2, scenario S3).
func (c *Controller) transition(
	ctx context.Context,
	executionID string,
	idempotencyKey *string,
	guard func(domain.Execution) error,
	mutate func(*domain.Execution),
	eventType outbox.EventType,
	payload any,
) (domain.Execution, error) {
	tx, err := c.uowFac().Begin(ctx)
	if err != nil {
		return domain.Execution{}, fmt.Errorf("execctl: begin: %w", err)
	}

	if idempotencyKey != nil {
		if _, err := tx.Outbox().GetByIdempotencyKey(ctx, *idempotencyKey); err == nil {
			exec, getErr := tx.Executions().GetByID(ctx, executionID)
			_ = tx.Rollback()
			if getErr != nil {
				return domain.Execution{}, fmt.Errorf("execctl: reload after idempotent replay: %w", getErr)
			}
			return exec, nil
		} else if !errors.Is(err, wtberrors.ErrNotFound) {
			_ = tx.Rollback()
			return domain.Execution{}, fmt.Errorf("execctl: check idempotency key: %w", err)
		}
	}

	exec, err := tx.Executions().GetByID(ctx, executionID)
	if err != nil {
		_ = tx.Rollback()
		return domain.Execution{}, fmt.Errorf("execctl: load execution: %w", err)
	}
	if guard != nil {
		if err := guard(exec); err != nil {
			_ = tx.Rollback()
			return domain.Execution{}, err
		}
	}
	mutate(&exec)

	updated, err := tx.Executions().Update(ctx, exec)
	if err != nil {
		_ = tx.Rollback()
		return domain.Execution{}, fmt.Errorf("execctl: update execution: %w", err)
	}

	ev, err := outbox.New(eventType, "execution", executionID, payload, c.maxRetries)
	if err != nil {
		_ = tx.Rollback()
		return domain.Execution{}, fmt.Errorf("execctl: build event: %w", err)
	}
	ev.IdempotencyKey = idempotencyKey
	if _, err := tx.Outbox().Add(ctx, ev); err != nil {
		_ = tx.Rollback()
		return domain.Execution{}, fmt.Errorf("execctl: enqueue event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return domain.Execution{}, fmt.Errorf("execctl: commit: %w", err)
	}
	return updated, nil
}

// Pause moves a RUNNING execution to PAUSED.
func (c *Controller) Pause(ctx context.Context, executionID string, idempotencyKey *string) (domain.Execution, error) {
	return c.transition(ctx, executionID, idempotencyKey,
		func(e domain.Execution) error {
			if e.Status != domain.ExecutionRunning {
				return fmt.Errorf("%w: pause requires RUNNING, got %s", wtberrors.ErrValidation, e.Status)
			}
			return nil
		},
		func(e *domain.Execution) { e.Status = domain.ExecutionPaused },
		outbox.EventExecutionPaused,
		statusPayload{ExecutionID: executionID, Status: string(domain.ExecutionPaused)},
	)
}

// Resume moves a PAUSED execution back to RUNNING.
func (c *Controller) Resume(ctx context.Context, executionID string, idempotencyKey *string) (domain.Execution, error) {
	return c.transition(ctx, executionID, idempotencyKey,
		func(e domain.Execution) error {
			if e.Status != domain.ExecutionPaused {
				return fmt.Errorf("%w: resume requires PAUSED, got %s", wtberrors.ErrValidation, e.Status)
			}
			return nil
		},
		func(e *domain.Execution) { e.Status = domain.ExecutionRunning },
		outbox.EventExecutionResumed,
		statusPayload{ExecutionID: executionID, Status: string(domain.ExecutionRunning)},
	)
}

// Stop moves any non-terminal execution to CANCELLED.
func (c *Controller) Stop(ctx context.Context, executionID string, idempotencyKey *string) (domain.Execution, error) {
	return c.transition(ctx, executionID, idempotencyKey,
		func(e domain.Execution) error {
			if isTerminal(e.Status) {
				return fmt.Errorf("%w: cannot stop a terminal execution (status=%s)", wtberrors.ErrValidation, e.Status)
			}
			return nil
		},
		func(e *domain.Execution) { e.Status = domain.ExecutionCancelled },
		outbox.EventExecutionStopped,
		statusPayload{ExecutionID: executionID, Status: string(domain.ExecutionCancelled)},
	)
}

func (c *Controller) saveExecution(ctx context.Context, exec domain.Execution) (domain.Execution, error) {
	tx, err := c.uowFac().Begin(ctx)
	if err != nil {
		return domain.Execution{}, fmt.Errorf("execctl: begin: %w", err)
	}
	updated, err := tx.Executions().Update(ctx, exec)
	if err != nil {
		_ = tx.Rollback()
		return domain.Execution{}, fmt.Errorf("execctl: update execution: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Execution{}, fmt.Errorf("execctl: commit: %w", err)
	}
	return updated, nil
}

func (c *Controller) finishRun(ctx context.Context, executionID string, state domain.ExecutionState, status domain.ExecutionStatus) (domain.Execution, error) {
	tx, err := c.uowFac().Begin(ctx)
	if err != nil {
		return domain.Execution{}, fmt.Errorf("execctl: begin: %w", err)
	}
	exec, err := tx.Executions().GetByID(ctx, executionID)
	if err != nil {
		_ = tx.Rollback()
		return domain.Execution{}, fmt.Errorf("execctl: reload execution: %w", err)
	}
	exec.State = state
	exec.Status = status
	updated, err := tx.Executions().Update(ctx, exec)
	if err != nil {
		_ = tx.Rollback()
		return domain.Execution{}, fmt.Errorf("execctl: update execution: %w", err)
	}
	ev, err := outbox.New(outbox.EventStateModified, "execution", executionID,
		statusPayload{ExecutionID: executionID, Status: string(status)}, c.maxRetries)
	if err != nil {
		_ = tx.Rollback()
		return domain.Execution{}, fmt.Errorf("execctl: build event: %w", err)
	}
	if _, err := tx.Outbox().Add(ctx, ev); err != nil {
		_ = tx.Rollback()
		return domain.Execution{}, fmt.Errorf("execctl: enqueue event: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Execution{}, fmt.Errorf("execctl: commit: %w", err)
	}
	return updated, nil
}

func (c *Controller) fail(ctx context.Context, executionID string, state domain.ExecutionState, cause error) (domain.Execution, error) {
	if _, ferr := c.finishRun(ctx, executionID, state, domain.ExecutionFailed); ferr != nil {
		return domain.Execution{}, fmt.Errorf("execctl: run failed (%v) and the failure could not be persisted: %w", cause, ferr)
	}
	return domain.Execution{}, fmt.Errorf("execctl: run failed: %w", cause)
}

// Run drives executionID from PENDING or PAUSED through RUNNING, stepping
// graph until it yields (-> PAUSED), completes (-> COMPLETED), or errors
// (-> FAILED). Every step is bounded by c.maxSteps (0 = unbounded); ctx
// cancellation fails the run like any other graph error.
func (c *Controller) Run(ctx context.Context, executionID string, graph Graph, idempotencyKey *string) (domain.Execution, error) {
	if graph == nil {
		return domain.Execution{}, fmt.Errorf("%w: run requires a compiled graph", wtberrors.ErrValidation)
	}

	exec, err := c.transition(ctx, executionID, idempotencyKey,
		func(e domain.Execution) error {
			if e.Status != domain.ExecutionPending && e.Status != domain.ExecutionPaused {
				return fmt.Errorf("%w: run requires PENDING or PAUSED, got %s", wtberrors.ErrValidation, e.Status)
			}
			return nil
		},
		func(e *domain.Execution) { e.Status = domain.ExecutionRunning },
		outbox.EventStateModified,
		statusPayload{ExecutionID: executionID, Status: string(domain.ExecutionRunning)},
	)
	if err != nil {
		return domain.Execution{}, err
	}

	if exec.SessionID == 0 {
		sessionID, err := c.adapter.InitializeSession(ctx, executionID, exec.State)
		if err != nil {
			return domain.Execution{}, fmt.Errorf("execctl: initialize session: %w", err)
		}
		exec.SessionID = sessionID
		exec, err = c.saveExecution(ctx, exec)
		if err != nil {
			return domain.Execution{}, err
		}
	}

	state := exec.State
	for step := 0; c.maxSteps == 0 || step < c.maxSteps; step++ {
		select {
		case <-ctx.Done():
			return c.fail(ctx, executionID, state, ctx.Err())
		default:
		}

		next, outcome, err := graph.Step(ctx, state)
		if err != nil {
			return c.fail(ctx, executionID, state, err)
		}
		state = next

		switch outcome {
		case StepYield:
			return c.finishRun(ctx, executionID, state, domain.ExecutionPaused)
		case StepDone:
			return c.finishRun(ctx, executionID, state, domain.ExecutionCompleted)
		}
	}
	return c.fail(ctx, executionID, state, fmt.Errorf("exceeded max steps (%d)", c.maxSteps))
}

// RollbackTx restores executionID's state from checkpointID inside an
// already-begun tx, leaving the execution PAUSED regardless of its prior
// status (spec.md section 4.6's "rollback returns PAUSED regardless of
// current status"). Callers composing this inside a larger transaction
// (coordinator's Phase 1) use this directly; Rollback below is the
// standalone convenience that opens and commits its own Tx.
func (c *Controller) RollbackTx(ctx context.Context, tx uow.Tx, executionID, checkpointID string) (domain.Execution, error) {
	restored, err := c.adapter.Rollback(ctx, checkpointID)
	if err != nil {
		return domain.Execution{}, fmt.Errorf("execctl: rollback: %w", err)
	}
	exec, err := tx.Executions().GetByID(ctx, executionID)
	if err != nil {
		return domain.Execution{}, fmt.Errorf("execctl: load execution: %w", err)
	}
	exec.State = restored
	exec.Status = domain.ExecutionPaused
	updated, err := tx.Executions().Update(ctx, exec)
	if err != nil {
		return domain.Execution{}, fmt.Errorf("execctl: update execution: %w", err)
	}
	return updated, nil
}

// Rollback is RollbackTx wrapped in its own uow.Tx, for callers that do
// not need to compose it with other writes.
func (c *Controller) Rollback(ctx context.Context, executionID, checkpointID string) (domain.Execution, error) {
	tx, err := c.uowFac().Begin(ctx)
	if err != nil {
		return domain.Execution{}, fmt.Errorf("execctl: begin: %w", err)
	}
	updated, err := c.RollbackTx(ctx, tx, executionID, checkpointID)
	if err != nil {
		_ = tx.Rollback()
		return domain.Execution{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Execution{}, fmt.Errorf("execctl: commit: %w", err)
	}
	return updated, nil
}

// ForkTx loads checkpointID's state, merges newState on top (other wins
// key-by-key, spec.md section 4.6), opens a new branch session, and
// creates a fresh PENDING execution -- all inside an already-begun tx.
// The source execution is never mutated.
func (c *Controller) ForkTx(ctx context.Context, tx uow.Tx, sourceExecutionID, checkpointID string, newState *domain.ExecutionState) (domain.Execution, error) {
	base, err := c.adapter.LoadCheckpoint(ctx, checkpointID)
	if err != nil {
		return domain.Execution{}, fmt.Errorf("execctl: fork: load checkpoint: %w", err)
	}
	merged := base
	if newState != nil {
		merged = base.MergeShallow(*newState)
	}

	newSessionID, err := c.adapter.CreateBranch(ctx, checkpointID)
	if err != nil {
		return domain.Execution{}, fmt.Errorf("execctl: fork: create branch: %w", err)
	}

	source, err := tx.Executions().GetByID(ctx, sourceExecutionID)
	if err != nil {
		return domain.Execution{}, fmt.Errorf("execctl: fork: load source execution: %w", err)
	}

	forked := domain.Execution{
		ID:         uuid.NewString(),
		WorkflowID: source.WorkflowID,
		Status:     domain.ExecutionPending,
		SessionID:  newSessionID,
		State:      merged,
	}
	created, err := tx.Executions().Add(ctx, forked)
	if err != nil {
		return domain.Execution{}, fmt.Errorf("execctl: fork: create execution: %w", err)
	}
	return created, nil
}

// Fork is ForkTx wrapped in its own uow.Tx.
func (c *Controller) Fork(ctx context.Context, sourceExecutionID, checkpointID string, newState *domain.ExecutionState) (domain.Execution, error) {
	tx, err := c.uowFac().Begin(ctx)
	if err != nil {
		return domain.Execution{}, fmt.Errorf("execctl: begin: %w", err)
	}
	created, err := c.ForkTx(ctx, tx, sourceExecutionID, checkpointID, newState)
	if err != nil {
		_ = tx.Rollback()
		return domain.Execution{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Execution{}, fmt.Errorf("execctl: commit: %w", err)
	}
	return created, nil
}
