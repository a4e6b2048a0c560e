// Package uow defines the Unit of Work contract (C1, C2) that every other
// package in this module depends on: a scoped transactional boundary that
// exposes a coherent set of repositories and commits or rolls back exactly
// once (spec.md section 4.1). memstore and sqlstore provide the two
// required implementations.
package uow

import (
	"context"

	"github.com/KataDavidXD/WTB-AgenticWorkflowTestBench/domain"
	"github.com/KataDavidXD/WTB-AgenticWorkflowTestBench/outbox"
)

// ExecutionRepository is the typed CRUD contract for domain.Execution.
type ExecutionRepository interface {
	Add(ctx context.Context, e domain.Execution) (domain.Execution, error)
	GetByID(ctx context.Context, id string) (domain.Execution, error)
	// Update performs an optimistic-concurrency write: it fails with
	// wtberrors.ErrStaleState if e.Version does not match the stored
	// version, and bumps the stored version on success.
	Update(ctx context.Context, e domain.Execution) (domain.Execution, error)
	ListByWorkflow(ctx context.Context, workflowID string) ([]domain.Execution, error)

	// ListByStatus returns every execution in the given status, for
	// integrity.Checker's step 6 (STATE_MISMATCH) scan across the whole
	// store rather than one workflow at a time.
	ListByStatus(ctx context.Context, status domain.ExecutionStatus) ([]domain.Execution, error)
}

// WorkflowRepository is the typed CRUD contract for domain.Workflow.
type WorkflowRepository interface {
	Add(ctx context.Context, w domain.Workflow) (domain.Workflow, error)
	GetByID(ctx context.Context, id string) (domain.Workflow, error)
	GetByNameVersion(ctx context.Context, name, version string) (domain.Workflow, error)
}

// NodeVariantRepository is the typed CRUD contract for domain.NodeVariant.
type NodeVariantRepository interface {
	Add(ctx context.Context, v domain.NodeVariant) (domain.NodeVariant, error)
	GetActive(ctx context.Context, workflowID, nodeID string) (domain.NodeVariant, error)
	SetActive(ctx context.Context, variantID string) error
	ListByNode(ctx context.Context, workflowID, nodeID string) ([]domain.NodeVariant, error)
}

// CheckpointFileLinkRepository is the typed CRUD contract for
// domain.CheckpointFileLink. Exactly one link per checkpoint (spec.md
// section 3).
type CheckpointFileLinkRepository interface {
	Add(ctx context.Context, link domain.CheckpointFileLink) error
	GetByCheckpoint(ctx context.Context, checkpointID string) (domain.CheckpointFileLink, error)
	Delete(ctx context.Context, checkpointID string) error
	ListAll(ctx context.Context) ([]domain.CheckpointFileLink, error)
}

// FileCommitRepository is the typed CRUD contract for domain.FileCommit.
type FileCommitRepository interface {
	Add(ctx context.Context, commit domain.FileCommit) (domain.FileCommit, error)
	GetByID(ctx context.Context, id string) (domain.FileCommit, error)
	ListAll(ctx context.Context) ([]domain.FileCommit, error)
}

// BlobRepository is the typed CRUD contract for domain.Blob, keyed by
// content hash ("insert if absent", spec.md section 5).
type BlobRepository interface {
	PutIfAbsent(ctx context.Context, blob domain.Blob) error
	GetByHash(ctx context.Context, hash string) (domain.Blob, error)
	Exists(ctx context.Context, hash string) (bool, error)
}

// NodeBoundaryRepository is the typed CRUD contract for domain.NodeBoundary.
type NodeBoundaryRepository interface {
	Add(ctx context.Context, nb domain.NodeBoundary) (domain.NodeBoundary, error)
	GetByID(ctx context.Context, id int64) (domain.NodeBoundary, error)
	Update(ctx context.Context, nb domain.NodeBoundary) error
	GetOpen(ctx context.Context, sessionID int64, nodeID string) (domain.NodeBoundary, error)
	ListBySession(ctx context.Context, sessionID int64) ([]domain.NodeBoundary, error)
}

// Tx is a begun transaction exposing a coherent set of repositories.
// Exactly one of Commit or Rollback must be called; calling either twice,
// or calling neither before the Tx is discarded, is a caller bug that
// leaves locks held (memstore keeps its DB-wide mutex until the Tx ends).
type Tx interface {
	Executions() ExecutionRepository
	Workflows() WorkflowRepository
	Variants() NodeVariantRepository
	Outbox() outbox.Repository
	CheckpointFiles() CheckpointFileLinkRepository
	FileCommits() FileCommitRepository
	Blobs() BlobRepository
	NodeBoundaries() NodeBoundaryRepository

	// Commit makes all writes durable atomically. After Commit, the Tx
	// must not be used again.
	Commit() error

	// Rollback discards all writes. After Rollback, the Tx must not be
	// used again. Safe to call after a failed Commit.
	Rollback() error
}

// UnitOfWork opens scoped transactions. Begin must not be called twice on
// a UnitOfWork obtained from the same Begin call (wtberrors.ErrAlreadyBegun)
// -- each logical operation should call Factory() for a brand new
// UnitOfWork, per spec.md section 5 ("UoWs are not shared across threads").
type UnitOfWork interface {
	Begin(ctx context.Context) (Tx, error)
}

// Factory constructs a new, unbegun UnitOfWork. Coordinators and
// controllers hold a Factory, never a shared UnitOfWork/Tx, so that every
// operation gets its own isolated transaction (spec.md section 4.7's
// "single UoW" per operation).
type Factory func() UnitOfWork
