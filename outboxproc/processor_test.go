package outboxproc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/KataDavidXD/WTB-AgenticWorkflowTestBench/memstore"
	"github.com/KataDavidXD/WTB-AgenticWorkflowTestBench/outbox"
	"github.com/KataDavidXD/WTB-AgenticWorkflowTestBench/uow"
)

func newTestFac() uow.Factory {
	return memstore.Factory(memstore.NewDB())
}

func addEvent(t *testing.T, fac uow.Factory, ev outbox.Event) outbox.Event {
	t.Helper()
	tx, err := fac().Begin(context.Background())
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	added, err := tx.Outbox().Add(context.Background(), ev)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	return added
}

func getByID(t *testing.T, fac uow.Factory, id string) outbox.Event {
	t.Helper()
	tx, err := fac().Begin(context.Background())
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	ev, err := tx.Outbox().GetByID(context.Background(), id)
	_ = tx.Rollback()
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	return ev
}

// TestProcessor_HappyPath is scenario S1: a CHECKPOINT_VERIFY event drains
// to PROCESSED with retry_count=0, and a subsequent GetPending is empty.
func TestProcessor_HappyPath(t *testing.T) {
	fac := newTestFac()
	ev, err := outbox.New(outbox.EventCheckpointVerify, "execution", "exec-1",
		outbox.CheckpointVerifyPayload{CheckpointID: "cp-42"}, 5)
	if err != nil {
		t.Fatalf("build event: %v", err)
	}
	added := addEvent(t, fac, ev)

	handlers := map[outbox.EventType]Handler{
		outbox.EventCheckpointVerify: func(ctx context.Context, e outbox.Event) error { return nil },
	}
	p := New(fac, handlers, time.Millisecond, 10, 5)

	n, err := p.ProcessOnce(context.Background())
	if err != nil {
		t.Fatalf("process once: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 event attempted, got %d", n)
	}

	got := getByID(t, fac, added.ID.String())
	if got.Status != outbox.StatusProcessed {
		t.Fatalf("expected PROCESSED, got %s", got.Status)
	}
	if got.RetryCount != 0 {
		t.Fatalf("expected retry_count 0, got %d", got.RetryCount)
	}
	if got.ProcessedAt == nil {
		t.Fatal("expected processed_at to be set")
	}

	tx, err := fac().Begin(context.Background())
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	pending, err := tx.Outbox().GetPending(context.Background(), 100)
	_ = tx.Rollback()
	if err != nil {
		t.Fatalf("get pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected no pending events left, got %d", len(pending))
	}
}

// TestProcessor_RetryThenSucceed is scenario S2: a FILE_COMMIT_VERIFY
// handler fails twice then succeeds; after two drains the event is FAILED
// with retry_count in {1,2}; RetryFailedEvents resets it to PENDING; the
// next drain leaves it PROCESSED with retry_count=2.
func TestProcessor_RetryThenSucceed(t *testing.T) {
	fac := newTestFac()
	ev, err := outbox.New(outbox.EventFileCommitVerify, "file_commit", "fc-1",
		outbox.FileCommitVerifyPayload{FileCommitID: "fc-1"}, 5)
	if err != nil {
		t.Fatalf("build event: %v", err)
	}
	added := addEvent(t, fac, ev)

	attempts := 0
	handlers := map[outbox.EventType]Handler{
		outbox.EventFileCommitVerify: func(ctx context.Context, e outbox.Event) error {
			attempts++
			if attempts <= 2 {
				return errors.New("transient failure")
			}
			return nil
		},
	}
	p := New(fac, handlers, time.Millisecond, 10, 5)

	if _, err := p.ProcessOnce(context.Background()); err != nil {
		t.Fatalf("drain 1: %v", err)
	}
	got := getByID(t, fac, added.ID.String())
	if got.Status != outbox.StatusFailed {
		t.Fatalf("expected FAILED after drain 1, got %s", got.Status)
	}
	if got.RetryCount != 1 {
		t.Fatalf("expected retry_count 1 after drain 1, got %d", got.RetryCount)
	}
	if got.LastError == nil || *got.LastError == "" {
		t.Fatal("expected non-empty last_error after drain 1")
	}

	if n, err := p.RetryFailedEvents(context.Background()); err != nil || n != 1 {
		t.Fatalf("retry failed events: n=%d err=%v", n, err)
	}
	if _, err := p.ProcessOnce(context.Background()); err != nil {
		t.Fatalf("drain 2: %v", err)
	}
	got = getByID(t, fac, added.ID.String())
	if got.Status != outbox.StatusFailed {
		t.Fatalf("expected FAILED after drain 2, got %s", got.Status)
	}
	if got.RetryCount != 2 {
		t.Fatalf("expected retry_count 2 after drain 2, got %d", got.RetryCount)
	}

	if n, err := p.RetryFailedEvents(context.Background()); err != nil || n != 1 {
		t.Fatalf("retry failed events: n=%d err=%v", n, err)
	}
	if _, err := p.ProcessOnce(context.Background()); err != nil {
		t.Fatalf("drain 3: %v", err)
	}
	got = getByID(t, fac, added.ID.String())
	if got.Status != outbox.StatusProcessed {
		t.Fatalf("expected PROCESSED after drain 3, got %s", got.Status)
	}
	if got.RetryCount != 2 {
		t.Fatalf("expected retry_count to stay 2 on success, got %d", got.RetryCount)
	}
}

// TestProcessor_NoHandlerFailsOnce exercises the NoHandler error path
// (spec.md section 7): an event whose type has no registered handler is
// FAILED once with ErrNoHandler's message.
func TestProcessor_NoHandlerFailsOnce(t *testing.T) {
	fac := newTestFac()
	ev, err := outbox.New(outbox.EventNodeBoundarySync, "node_boundary", "nb-1",
		outbox.NodeBoundarySyncPayload{BoundaryID: 1}, 5)
	if err != nil {
		t.Fatalf("build event: %v", err)
	}
	added := addEvent(t, fac, ev)

	p := New(fac, map[outbox.EventType]Handler{}, time.Millisecond, 10, 5)
	if _, err := p.ProcessOnce(context.Background()); err != nil {
		t.Fatalf("process once: %v", err)
	}

	got := getByID(t, fac, added.ID.String())
	if got.Status != outbox.StatusFailed {
		t.Fatalf("expected FAILED, got %s", got.Status)
	}
	if got.LastError == nil {
		t.Fatal("expected last_error to be set")
	}
}

// TestProcessor_StartStopRecoversStuckEvents demotes a PROCESSING event
// with ReclaimStuckProcessing, the call a new Start's recovery pass makes
// (there with a stuckGrace cutoff), checks the event is PENDING again, and
// then runs one Start/Stop cycle.
func TestProcessor_StartStopRecoversStuckEvents(t *testing.T) {
	fac := newTestFac()
	ev, err := outbox.New(outbox.EventCheckpointVerify, "execution", "exec-1",
		outbox.CheckpointVerifyPayload{CheckpointID: "cp-1"}, 5)
	if err != nil {
		t.Fatalf("build event: %v", err)
	}
	ev.Status = outbox.StatusProcessing
	added := addEvent(t, fac, ev)

	p := New(fac, map[outbox.EventType]Handler{
		outbox.EventCheckpointVerify: func(ctx context.Context, e outbox.Event) error { return nil },
	}, time.Millisecond, 10, 5)

	tx, err := fac().Begin(context.Background())
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := tx.Outbox().ReclaimStuckProcessing(context.Background(), time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	got := getByID(t, fac, added.ID.String())
	if got.Status != outbox.StatusPending {
		t.Fatalf("expected stuck event reclaimed to PENDING, got %s", got.Status)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	cancel()
	p.Stop(time.Second)
}
