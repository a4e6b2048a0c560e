package sqlstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/KataDavidXD/WTB-AgenticWorkflowTestBench/domain"
	"github.com/KataDavidXD/WTB-AgenticWorkflowTestBench/outbox"
	"github.com/KataDavidXD/WTB-AgenticWorkflowTestBench/uow"
	"github.com/KataDavidXD/WTB-AgenticWorkflowTestBench/wtberrors"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenSQLite(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSQLiteExecutionLifecycle(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	fac := Factory(db)

	tx1, err := fac().Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	added, err := tx1.Executions().Add(ctx, domain.Execution{ID: "e1", WorkflowID: "w1", Status: domain.ExecutionPending})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := tx1.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	tx2, _ := fac().Begin(ctx)
	defer tx2.Rollback()
	got, err := tx2.Executions().GetByID(ctx, "e1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Version != 1 || added.Version != 1 {
		t.Fatalf("expected version 1, got stored=%d returned=%d", got.Version, added.Version)
	}

	got.Status = domain.ExecutionRunning
	updated, err := tx2.Executions().Update(ctx, got)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Version != 2 {
		t.Fatalf("expected version bumped to 2, got %d", updated.Version)
	}

	// Stale write with the old version must fail.
	if _, err := tx2.Executions().Update(ctx, got); !errors.Is(err, wtberrors.ErrStaleState) {
		t.Fatalf("expected ErrStaleState, got %v", err)
	}
}

func TestSQLiteOutboxClaimAndRetry(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	fac := Factory(db)

	ev, err := outbox.New(outbox.EventFileCommitLink, "checkpoint", "cp-1", map[string]int{"n": 1}, 2)
	if err != nil {
		t.Fatalf("new event: %v", err)
	}

	tx1, _ := fac().Begin(ctx)
	added, err := tx1.Outbox().Add(ctx, ev)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := tx1.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	tx2, _ := fac().Begin(ctx)
	claimed, err := tx2.Outbox().ClaimPending(ctx, added.ID.String())
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.Status != outbox.StatusProcessing {
		t.Fatalf("expected PROCESSING, got %s", claimed.Status)
	}

	claimed.Status = outbox.StatusFailed
	claimed.RetryCount = 1
	errMsg := "downstream unavailable"
	claimed.LastError = &errMsg
	if err := tx2.Outbox().Update(ctx, claimed); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := tx2.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	tx3, _ := fac().Begin(ctx)
	defer tx3.Rollback()
	retryable, err := tx3.Outbox().GetFailedForRetry(ctx, 10)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if len(retryable) != 1 || retryable[0].ID != added.ID {
		t.Fatalf("expected the failed event to be retryable, got %+v", retryable)
	}
}

func TestSQLiteReclaimStuckProcessing(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	fac := Factory(db)

	ev, _ := outbox.New(outbox.EventNodeBoundarySync, "boundary", "b-1", nil, 1)

	tx1, _ := fac().Begin(ctx)
	added, err := tx1.Outbox().Add(ctx, ev)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := tx1.Outbox().ClaimPending(ctx, added.ID.String()); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := tx1.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	tx2, _ := fac().Begin(ctx)
	n, err := tx2.Outbox().ReclaimStuckProcessing(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 reclaimed event, got %d", n)
	}
	reclaimed, err := tx2.Outbox().GetByID(ctx, added.ID.String())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if reclaimed.Status != outbox.StatusPending {
		t.Fatalf("expected PENDING after reclaim, got %s", reclaimed.Status)
	}
	if err := tx2.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func TestSQLiteBlobPutIfAbsent(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	fac := Factory(db)

	tx1, _ := fac().Begin(ctx)
	if err := tx1.Blobs().PutIfAbsent(ctx, domain.Blob{Hash: "h1", Bytes: []byte("first")}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := tx1.Blobs().PutIfAbsent(ctx, domain.Blob{Hash: "h1", Bytes: []byte("second")}); err != nil {
		t.Fatalf("put again: %v", err)
	}
	if err := tx1.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	tx2, _ := fac().Begin(ctx)
	defer tx2.Rollback()
	got, err := tx2.Blobs().GetByHash(ctx, "h1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got.Bytes) != "first" {
		t.Fatalf("expected first write to win, got %q", got.Bytes)
	}
}

var _ uow.UnitOfWork = (*UnitOfWork)(nil)
