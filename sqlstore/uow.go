package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/KataDavidXD/WTB-AgenticWorkflowTestBench/outbox"
	"github.com/KataDavidXD/WTB-AgenticWorkflowTestBench/uow"
	"github.com/KataDavidXD/WTB-AgenticWorkflowTestBench/wtberrors"
)

// DB wraps a *sql.DB with the dialect needed to render portable SQL, and
// runs the one-time migration on open -- the same "auto-migration on first
// use" behavior as graph/store/sqlite.go's NewSQLiteStore.
type DB struct {
	sql     *sql.DB
	dialect Dialect
}

// Open wires db (already configured: driver, DSN, pool limits are the
// caller's job -- see OpenSQLite/OpenMySQL/OpenPostgres below) against
// dialect and migrates it.
func Open(ctx context.Context, db *sql.DB, dialect Dialect) (*DB, error) {
	if err := migrate(ctx, db, dialect); err != nil {
		return nil, err
	}
	return &DB{sql: db, dialect: dialect}, nil
}

// Close releases the underlying connection pool.
func (d *DB) Close() error { return d.sql.Close() }

// UnitOfWork opens sqlstore transactions against a DB.
type UnitOfWork struct {
	db    *DB
	begun bool
}

// NewUnitOfWork wraps db as a uow.UnitOfWork.
func NewUnitOfWork(db *DB) *UnitOfWork { return &UnitOfWork{db: db} }

// Factory returns a uow.Factory bound to db, one fresh UnitOfWork per
// logical operation (spec.md section 5).
func Factory(db *DB) uow.Factory {
	return func() uow.UnitOfWork { return NewUnitOfWork(db) }
}

type tx struct {
	sqlTx   *sql.Tx
	dialect Dialect
	done    bool

	executions uow.ExecutionRepository
	workflows  uow.WorkflowRepository
	variants   uow.NodeVariantRepository
	outboxRepo *outboxRepo
	links      uow.CheckpointFileLinkRepository
	commits    uow.FileCommitRepository
	blobs      uow.BlobRepository
	boundaries uow.NodeBoundaryRepository
}

// Begin opens one *sql.Tx per call, grounded on graph/store/sqlite.go's
// "begin transaction for atomic insert" pattern generalized to the whole
// multi-repository Tx this module needs. Calling Begin twice on the same
// *UnitOfWork returns wtberrors.ErrAlreadyBegun instead of opening a second,
// independent *sql.Tx (spec.md section 4.1).
func (u *UnitOfWork) Begin(ctx context.Context) (uow.Tx, error) {
	if u.begun {
		return nil, wtberrors.ErrAlreadyBegun
	}
	u.begun = true
	sqlTx, err := u.db.sql.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: begin: %w", err)
	}
	t := &tx{sqlTx: sqlTx, dialect: u.db.dialect}
	t.executions = &executionRepo{tx: t}
	t.workflows = &workflowRepo{tx: t}
	t.variants = &variantRepo{tx: t}
	t.outboxRepo = &outboxRepo{tx: t}
	t.links = &linkRepo{tx: t}
	t.commits = &commitRepo{tx: t}
	t.blobs = &blobRepo{tx: t}
	t.boundaries = &boundaryRepo{tx: t}
	return t, nil
}

func (t *tx) Executions() uow.ExecutionRepository               { return t.executions }
func (t *tx) Workflows() uow.WorkflowRepository                  { return t.workflows }
func (t *tx) Variants() uow.NodeVariantRepository                { return t.variants }
func (t *tx) Outbox() outbox.Repository                          { return t.outboxRepo }
func (t *tx) CheckpointFiles() uow.CheckpointFileLinkRepository  { return t.links }
func (t *tx) FileCommits() uow.FileCommitRepository              { return t.commits }
func (t *tx) Blobs() uow.BlobRepository                          { return t.blobs }
func (t *tx) NodeBoundaries() uow.NodeBoundaryRepository         { return t.boundaries }

func (t *tx) Commit() error {
	if t.done {
		return fmt.Errorf("sqlstore: tx already finished")
	}
	t.done = true
	if err := t.sqlTx.Commit(); err != nil {
		return fmt.Errorf("sqlstore: commit: %w", err)
	}
	return nil
}

func (t *tx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	if err := t.sqlTx.Rollback(); err != nil && err != sql.ErrTxDone {
		return fmt.Errorf("sqlstore: rollback: %w", err)
	}
	return nil
}

func (t *tx) ph(n int) string { return t.dialect.Placeholder(n) }
