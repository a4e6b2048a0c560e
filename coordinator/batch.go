package coordinator

import (
	"context"
	"fmt"

	"github.com/KataDavidXD/WTB-AgenticWorkflowTestBench/domain"
	"github.com/KataDavidXD/WTB-AgenticWorkflowTestBench/execctl"
	"github.com/KataDavidXD/WTB-AgenticWorkflowTestBench/wtberrors"
)

// OperationType is the closed set of operations BatchOperate accepts,
// mirroring batch_execution_coordinator.py's BatchOperationRequest.op
// field (original_source).
type OperationType string

const (
	OpRollback       OperationType = "rollback"
	OpFork           OperationType = "fork"
	OpRollbackAndRun OperationType = "rollback_and_run"
	OpForkAndRun     OperationType = "fork_and_run"
)

// Request is one entry in a BatchOperate call.
type Request struct {
	Op           OperationType
	ExecutionID  string // rollback / rollback_and_run target, or fork source
	CheckpointID string
	NewState     *domain.ExecutionState // fork / fork_and_run only
	Graph        execctl.Graph          // rollback_and_run / fork_and_run only
}

// Result is one entry in BatchOperate's ordered result sequence.
type Result struct {
	Request   Request
	Execution domain.Execution
	Err       error
}

// BatchOperate runs each request in requests through its own UoW, in
// order, collecting one Result per request (spec.md section 4.7). When
// stopOnError is false (the default), a failing request does not affect
// the ones after it; when true, every request after the first failure is
// reported as skipped without being attempted.
func (c *Coordinator) BatchOperate(ctx context.Context, requests []Request, stopOnError bool) []Result {
	results := make([]Result, len(requests))
	stopped := false
	for i, req := range requests {
		if stopped {
			results[i] = Result{Request: req, Err: fmt.Errorf("%w: skipped after a prior batch failure", wtberrors.ErrValidation)}
			continue
		}

		exec, err := c.dispatch(ctx, req)
		results[i] = Result{Request: req, Execution: exec, Err: err}
		if err != nil && stopOnError {
			stopped = true
		}
	}
	return results
}

func (c *Coordinator) dispatch(ctx context.Context, req Request) (domain.Execution, error) {
	switch req.Op {
	case OpRollback:
		return c.Rollback(ctx, req.ExecutionID, req.CheckpointID)
	case OpFork:
		return c.Fork(ctx, req.ExecutionID, req.CheckpointID, req.NewState)
	case OpRollbackAndRun:
		return c.RollbackAndRun(ctx, req.ExecutionID, req.CheckpointID, req.Graph)
	case OpForkAndRun:
		return c.ForkAndRun(ctx, req.ExecutionID, req.CheckpointID, req.Graph, req.NewState)
	default:
		return domain.Execution{}, fmt.Errorf("%w: unknown batch operation %q", wtberrors.ErrValidation, req.Op)
	}
}

// BatchRollback is sugar over BatchOperate for a homogeneous batch of
// rollback requests.
func (c *Coordinator) BatchRollback(ctx context.Context, items []struct{ ExecutionID, CheckpointID string }, stopOnError bool) []Result {
	requests := make([]Request, len(items))
	for i, item := range items {
		requests[i] = Request{Op: OpRollback, ExecutionID: item.ExecutionID, CheckpointID: item.CheckpointID}
	}
	return c.BatchOperate(ctx, requests, stopOnError)
}

// BatchFork is sugar over BatchOperate for a homogeneous batch of fork
// requests.
func (c *Coordinator) BatchFork(ctx context.Context, items []struct {
	SourceExecutionID, CheckpointID string
	NewState                        *domain.ExecutionState
}, stopOnError bool) []Result {
	requests := make([]Request, len(items))
	for i, item := range items {
		requests[i] = Request{Op: OpFork, ExecutionID: item.SourceExecutionID, CheckpointID: item.CheckpointID, NewState: item.NewState}
	}
	return c.BatchOperate(ctx, requests, stopOnError)
}
