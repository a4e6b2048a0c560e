package sqlstore

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/KataDavidXD/WTB-AgenticWorkflowTestBench/outbox"
	"github.com/KataDavidXD/WTB-AgenticWorkflowTestBench/wtberrors"
)

// TestClaimPendingLostRace uses go-sqlmock to assert ClaimPending surfaces
// ErrConflict when the conditional UPDATE affects zero rows -- the case a
// real SQLite/MySQL/Postgres backend hits when two workers race to claim
// the same event (spec.md section 4.5).
func TestClaimPendingLostRace(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer mockDB.Close()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE outbox_events SET status").
		WithArgs(string(outbox.StatusProcessing), "ev-1", string(outbox.StatusPending)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	sqlTx, err := mockDB.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	repo := &outboxRepo{tx: &tx{sqlTx: sqlTx, dialect: SQLite}}

	_, err = repo.ClaimPending(context.Background(), "ev-1")
	if !errors.Is(err, wtberrors.ErrConflict) {
		t.Fatalf("expected ErrConflict when zero rows affected, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
