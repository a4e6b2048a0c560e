package memstore

import (
	"context"
	"errors"
	"testing"

	"github.com/KataDavidXD/WTB-AgenticWorkflowTestBench/domain"
	"github.com/KataDavidXD/WTB-AgenticWorkflowTestBench/outbox"
	"github.com/KataDavidXD/WTB-AgenticWorkflowTestBench/wtberrors"
)

func TestCommitIsAtomicallyVisible(t *testing.T) {
	ctx := context.Background()
	db := NewDB()
	fac := Factory(db)

	u1 := fac()
	tx1, err := u1.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := tx1.Executions().Add(ctx, domain.Execution{ID: "e1", WorkflowID: "w1", Status: domain.ExecutionPending}); err != nil {
		t.Fatalf("add: %v", err)
	}

	if err := tx1.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	tx3, err := fac().Begin(ctx)
	if err != nil {
		t.Fatalf("begin after commit: %v", err)
	}
	defer tx3.Rollback()

	got, err := tx3.Executions().GetByID(ctx, "e1")
	if err != nil {
		t.Fatalf("expected committed execution visible, got: %v", err)
	}
	if got.Version != 1 {
		t.Fatalf("expected version 1, got %d", got.Version)
	}
}

func TestRollbackDiscardsWrites(t *testing.T) {
	ctx := context.Background()
	db := NewDB()
	fac := Factory(db)

	tx1, _ := fac().Begin(ctx)
	if _, err := tx1.Workflows().Add(ctx, domain.Workflow{ID: "wf1", Name: "demo", Version: "v1"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := tx1.Rollback(); err != nil {
		t.Fatalf("rollback: %v", err)
	}

	tx2, _ := fac().Begin(ctx)
	defer tx2.Rollback()
	if _, err := tx2.Workflows().GetByID(ctx, "wf1"); !errors.Is(err, wtberrors.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after rollback, got %v", err)
	}
}

func TestExecutionOptimisticConcurrency(t *testing.T) {
	ctx := context.Background()
	db := NewDB()
	fac := Factory(db)

	tx1, _ := fac().Begin(ctx)
	added, err := tx1.Executions().Add(ctx, domain.Execution{ID: "e1", WorkflowID: "w1", Status: domain.ExecutionPending})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := tx1.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	stale := added
	stale.Status = domain.ExecutionRunning

	fresh := added
	fresh.Status = domain.ExecutionRunning

	tx2, _ := fac().Begin(ctx)
	if _, err := tx2.Executions().Update(ctx, fresh); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := tx2.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	tx3, _ := fac().Begin(ctx)
	defer tx3.Rollback()
	if _, err := tx3.Executions().Update(ctx, stale); !errors.Is(err, wtberrors.ErrStaleState) {
		t.Fatalf("expected ErrStaleState on stale version, got %v", err)
	}
}

func TestOutboxClaimPendingIsExclusive(t *testing.T) {
	ctx := context.Background()
	db := NewDB()
	fac := Factory(db)

	ev, err := outbox.New(outbox.EventCheckpointCreate, "execution", "e1", map[string]string{"k": "v"}, 3)
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
		t.Fatalf("expected PROCESSING after claim, got %s", claimed.Status)
	}
	if err := tx2.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	tx3, _ := fac().Begin(ctx)
	defer tx3.Rollback()
	if _, err := tx3.Outbox().ClaimPending(ctx, added.ID.String()); !errors.Is(err, wtberrors.ErrConflict) {
		t.Fatalf("expected ErrConflict on re-claim, got %v", err)
	}
}

func TestOutboxIdempotencyKeyCollision(t *testing.T) {
	ctx := context.Background()
	db := NewDB()
	fac := Factory(db)

	key := "rollback:e1:cp-1"
	ev1, _ := outbox.New(outbox.EventRollbackPerformed, "execution", "e1", nil, 1)
	ev1.IdempotencyKey = &key

	tx1, _ := fac().Begin(ctx)
	if _, err := tx1.Outbox().Add(ctx, ev1); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := tx1.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	ev2, _ := outbox.New(outbox.EventRollbackPerformed, "execution", "e1", nil, 1)
	ev2.IdempotencyKey = &key

	tx2, _ := fac().Begin(ctx)
	defer tx2.Rollback()
	if _, err := tx2.Outbox().Add(ctx, ev2); !errors.Is(err, wtberrors.ErrConflict) {
		t.Fatalf("expected ErrConflict on duplicate idempotency key, got %v", err)
	}
}

func TestBlobPutIfAbsentIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db := NewDB()
	fac := Factory(db)

	tx1, _ := fac().Begin(ctx)
	if err := tx1.Blobs().PutIfAbsent(ctx, domain.Blob{Hash: "h1", Bytes: []byte("hello")}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := tx1.Blobs().PutIfAbsent(ctx, domain.Blob{Hash: "h1", Bytes: []byte("different-but-same-hash-slot")}); err != nil {
		t.Fatalf("second put: %v", err)
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
	if string(got.Bytes) != "hello" {
		t.Fatalf("expected first write to win, got %q", got.Bytes)
	}
}
