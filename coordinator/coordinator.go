// Package coordinator implements the batch execution coordinator (C10,
// spec.md section 4.7): the component that composes execctl, stateadapter,
// and filetrack under a per-operation UoW so that rollback and fork are
// atomic with respect to the primary store and eventually consistent with
// the checkpoint and file stores. Grounded on
// wtb/application/services/batch_execution_coordinator.py
// (original_source): its phase split, its decision to reuse one
// StateAdapter instance across every operation, and its
// BatchOperationRequest/BatchOperationResult batch sugar are carried over
// verbatim in semantics, re-expressed as Go structs instead of Python
// dataclasses.
package coordinator

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/KataDavidXD/WTB-AgenticWorkflowTestBench/domain"
	"github.com/KataDavidXD/WTB-AgenticWorkflowTestBench/execctl"
	"github.com/KataDavidXD/WTB-AgenticWorkflowTestBench/outbox"
	"github.com/KataDavidXD/WTB-AgenticWorkflowTestBench/stateadapter"
	"github.com/KataDavidXD/WTB-AgenticWorkflowTestBench/uow"
	"github.com/KataDavidXD/WTB-AgenticWorkflowTestBench/wtberrors"
)

var tracer = otel.Tracer("github.com/KataDavidXD/WTB-AgenticWorkflowTestBench/coordinator")

// Coordinator orchestrates C9 (execctl), C5 (stateadapter), and C6
// (filetrack, via outboxproc's ROLLBACK_FILE_RESTORE handler) across the
// two-phase discipline in spec.md section 4.7. It owns a uow.Factory and a
// single shared *stateadapter.Adapter (spec.md section 9's "cyclic
// ownership" resolution); an execctl.Controller is built fresh for every
// call and never cached.
type Coordinator struct {
	uowFac     uow.Factory
	adapter    *stateadapter.Adapter
	maxSteps   int
	maxRetries int
	metrics    *Metrics
}

// New builds a Coordinator. maxSteps and maxRetries are forwarded to every
// execctl.Controller this Coordinator creates.
func New(uowFac uow.Factory, adapter *stateadapter.Adapter, maxSteps, maxRetries int, metrics *Metrics) *Coordinator {
	return &Coordinator{uowFac: uowFac, adapter: adapter, maxSteps: maxSteps, maxRetries: maxRetries, metrics: metrics}
}

func (c *Coordinator) controller() *execctl.Controller {
	return execctl.New(c.uowFac, c.adapter, c.maxSteps, c.maxRetries)
}

// phase1 runs fn (a RollbackTx/ForkTx-shaped state change) in its own
// uow.Tx, then enqueues an auditType event carrying auditPayloadFor(exec) and, if
// sourceCommitID is non-empty, a ROLLBACK_FILE_RESTORE event -- all in the
// same transaction (spec.md section 4.7's Phase 1, steps 1-5). Any error
// rolls the whole UoW back with no side effects (spec.md section 7's
// propagation policy).
func (c *Coordinator) phase1(
	ctx context.Context,
	fn func(tx uow.Tx) (domain.Execution, string, error),
	auditType outbox.EventType,
	auditPayloadFor func(exec domain.Execution) any,
	restoreFor func(exec domain.Execution, sourceCommitID string) outbox.RollbackFileRestorePayload,
) (domain.Execution, error) {
	tx, err := c.uowFac().Begin(ctx)
	if err != nil {
		return domain.Execution{}, fmt.Errorf("coordinator: begin: %w", err)
	}

	exec, sourceCommitID, err := fn(tx)
	if err != nil {
		_ = tx.Rollback()
		return domain.Execution{}, err
	}

	auditEvent, err := outbox.New(auditType, "execution", exec.ID, auditPayloadFor(exec), c.maxRetries)
	if err != nil {
		_ = tx.Rollback()
		return domain.Execution{}, fmt.Errorf("coordinator: build audit event: %w", err)
	}
	if _, err := tx.Outbox().Add(ctx, auditEvent); err != nil {
		_ = tx.Rollback()
		return domain.Execution{}, fmt.Errorf("coordinator: enqueue audit event: %w", err)
	}

	if sourceCommitID != "" {
		restorePayload := restoreFor(exec, sourceCommitID)
		restoreEvent, err := outbox.New(outbox.EventRollbackFileRestore, "execution", exec.ID, restorePayload, c.maxRetries)
		if err != nil {
			_ = tx.Rollback()
			return domain.Execution{}, fmt.Errorf("coordinator: build restore event: %w", err)
		}
		if _, err := tx.Outbox().Add(ctx, restoreEvent); err != nil {
			_ = tx.Rollback()
			return domain.Execution{}, fmt.Errorf("coordinator: enqueue restore event: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.Execution{}, fmt.Errorf("coordinator: commit: %w", err)
	}
	if c.metrics != nil {
		c.metrics.OperationsTotal.WithLabelValues(string(auditType)).Inc()
	}
	return exec, nil
}

// fileCommitFor looks up checkpointID's linked FileCommit, returning ""
// (not an error) when the checkpoint has no linked files -- a checkpoint
// taken outside a node boundary commonly has none (spec.md section 4.7
// step 2, "if present").
func fileCommitFor(ctx context.Context, tx uow.Tx, checkpointID string) (string, error) {
	link, err := tx.CheckpointFiles().GetByCheckpoint(ctx, checkpointID)
	if err != nil {
		if errors.Is(err, wtberrors.ErrNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("coordinator: load checkpoint file link: %w", err)
	}
	return link.FileCommitID, nil
}

// rollbackAuditPayload backs ROLLBACK_PERFORMED.
type rollbackAuditPayload struct {
	ExecutionID  string `json:"execution_id"`
	CheckpointID string `json:"checkpoint_id"`
}

// forkAuditPayload backs EXECUTION_FORKED.
type forkAuditPayload struct {
	SourceExecutionID string `json:"source_execution_id"`
	ForkedExecutionID string `json:"forked_execution_id"`
	CheckpointID      string `json:"checkpoint_id"`
}

// Rollback restores executionID's state to checkpointID, atomically with
// an audit event and a conditional file-restore event (spec.md section
// 4.7). The returned Execution reflects Phase 1 only; file-level state
// catches up asynchronously via outboxproc.
func (c *Coordinator) Rollback(ctx context.Context, executionID, checkpointID string) (domain.Execution, error) {
	ctx, span := tracer.Start(ctx, "coordinator.Rollback", trace.WithAttributes())
	defer span.End()

	controller := c.controller()
	return c.phase1(ctx,
		func(tx uow.Tx) (domain.Execution, string, error) {
			exec, err := controller.RollbackTx(ctx, tx, executionID, checkpointID)
			if err != nil {
				return domain.Execution{}, "", fmt.Errorf("coordinator: rollback: %w", err)
			}
			commitID, err := fileCommitFor(ctx, tx, checkpointID)
			if err != nil {
				return domain.Execution{}, "", err
			}
			return exec, commitID, nil
		},
		outbox.EventRollbackPerformed,
		func(exec domain.Execution) any {
			return rollbackAuditPayload{ExecutionID: executionID, CheckpointID: checkpointID}
		},
		func(exec domain.Execution, sourceCommitID string) outbox.RollbackFileRestorePayload {
			return outbox.RollbackFileRestorePayload{
				ExecutionID:    exec.ID,
				CheckpointID:   checkpointID,
				SourceCommitID: sourceCommitID,
			}
		},
	)
}

// Fork loads checkpointID's state, merges newState on top, and creates a
// new PENDING execution, atomically with an audit event and a conditional
// file-restore event scoped to the new execution. The source execution is
// never mutated (spec.md section 4.6, section 4.7).
func (c *Coordinator) Fork(ctx context.Context, sourceExecutionID, checkpointID string, newState *domain.ExecutionState) (domain.Execution, error) {
	ctx, span := tracer.Start(ctx, "coordinator.Fork")
	defer span.End()

	controller := c.controller()
	return c.phase1(ctx,
		func(tx uow.Tx) (domain.Execution, string, error) {
			forked, err := controller.ForkTx(ctx, tx, sourceExecutionID, checkpointID, newState)
			if err != nil {
				return domain.Execution{}, "", fmt.Errorf("coordinator: fork: %w", err)
			}
			commitID, err := fileCommitFor(ctx, tx, checkpointID)
			if err != nil {
				return domain.Execution{}, "", err
			}
			return forked, commitID, nil
		},
		outbox.EventExecutionForked,
		func(exec domain.Execution) any {
			return forkAuditPayload{
				SourceExecutionID: sourceExecutionID,
				ForkedExecutionID: exec.ID,
				CheckpointID:      checkpointID,
			}
		},
		func(exec domain.Execution, sourceCommitID string) outbox.RollbackFileRestorePayload {
			return outbox.RollbackFileRestorePayload{
				ExecutionID:    exec.ID,
				CheckpointID:   checkpointID,
				SourceCommitID: sourceCommitID,
			}
		},
	)
}

// RollbackAndRun rolls executionID back to checkpointID, then immediately
// drives graph. Per spec.md section 9 Open Question 3, the run phase is
// not folded into Phase 1's UoW: Rollback commits first (its own atomic
// Phase 1), then Run executes in its own UoW(s). If the graph yields, the
// PAUSED state Run produces is this call's terminal result; resuming past
// it is a separate Controller.Resume call by the caller.
func (c *Coordinator) RollbackAndRun(ctx context.Context, executionID, checkpointID string, graph execctl.Graph) (domain.Execution, error) {
	if graph == nil {
		return domain.Execution{}, fmt.Errorf("%w: rollback_and_run requires a compiled graph", wtberrors.ErrValidation)
	}
	if _, err := c.Rollback(ctx, executionID, checkpointID); err != nil {
		return domain.Execution{}, err
	}
	return c.controller().Run(ctx, executionID, graph, nil)
}

// ForkAndRun forks sourceExecutionID at checkpointID, then immediately
// drives the new execution with graph. Same non-suspending-Phase-1
// discipline as RollbackAndRun.
func (c *Coordinator) ForkAndRun(ctx context.Context, sourceExecutionID, checkpointID string, graph execctl.Graph, newState *domain.ExecutionState) (domain.Execution, error) {
	if graph == nil {
		return domain.Execution{}, fmt.Errorf("%w: fork_and_run requires a compiled graph", wtberrors.ErrValidation)
	}
	forked, err := c.Fork(ctx, sourceExecutionID, checkpointID, newState)
	if err != nil {
		return domain.Execution{}, err
	}
	return c.controller().Run(ctx, forked.ID, graph, nil)
}
