package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/KataDavidXD/WTB-AgenticWorkflowTestBench/outbox"
	"github.com/KataDavidXD/WTB-AgenticWorkflowTestBench/wtberrors"
)

type outboxRepo struct{ tx *tx }

func (r *outboxRepo) Add(ctx context.Context, event outbox.Event) (outbox.Event, error) {
	q := fmt.Sprintf(`INSERT INTO outbox_events
		(event_id, event_type, aggregate_type, aggregate_id, payload, idempotency_key, status, retry_count, max_retries, created_at)
		VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s)`,
		r.tx.ph(1), r.tx.ph(2), r.tx.ph(3), r.tx.ph(4), r.tx.ph(5), r.tx.ph(6), r.tx.ph(7), r.tx.ph(8), r.tx.ph(9), r.tx.ph(10))
	res, err := r.tx.sqlTx.ExecContext(ctx, q, event.ID.String(), string(event.Type), event.AggregateType, event.AggregateID,
		string(event.Payload), event.IdempotencyKey, string(event.Status), event.RetryCount, event.MaxRetries, event.CreatedAt)
	if err != nil {
		if event.IdempotencyKey != nil {
			if existing, getErr := r.GetByIdempotencyKey(ctx, *event.IdempotencyKey); getErr == nil {
				return existing, wtberrors.ErrConflict
			}
		}
		return outbox.Event{}, fmt.Errorf("%w: %v", wtberrors.ErrConflict, err)
	}
	pk, err := res.LastInsertId()
	if err != nil {
		return outbox.Event{}, fmt.Errorf("sqlstore: last insert id: %w", err)
	}
	event.PK = pk
	return event, nil
}

func scanEvent(scan func(dest ...any) error) (outbox.Event, error) {
	var e outbox.Event
	var id, eventType, status string
	var idempotencyKey sql.NullString
	err := scan(&e.PK, &id, &eventType, &e.AggregateType, &e.AggregateID, &e.Payload, &idempotencyKey,
		&status, &e.RetryCount, &e.MaxRetries, &e.CreatedAt, &e.ProcessedAt, &e.LastError)
	if errors.Is(err, sql.ErrNoRows) {
		return outbox.Event{}, wtberrors.ErrNotFound
	}
	if err != nil {
		return outbox.Event{}, fmt.Errorf("sqlstore: scan event: %w", err)
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return outbox.Event{}, fmt.Errorf("sqlstore: parse event id: %w", err)
	}
	e.ID = parsed
	e.Type = outbox.EventType(eventType)
	e.Status = outbox.Status(status)
	if idempotencyKey.Valid {
		key := idempotencyKey.String
		e.IdempotencyKey = &key
	}
	return e, nil
}

const eventColumns = `pk, event_id, event_type, aggregate_type, aggregate_id, payload, idempotency_key, status, retry_count, max_retries, created_at, processed_at, last_error`

func (r *outboxRepo) GetByID(ctx context.Context, id string) (outbox.Event, error) {
	q := fmt.Sprintf(`SELECT %s FROM outbox_events WHERE event_id = %s`, eventColumns, r.tx.ph(1))
	row := r.tx.sqlTx.QueryRowContext(ctx, q, id)
	return scanEvent(row.Scan)
}

func (r *outboxRepo) GetByIdempotencyKey(ctx context.Context, key string) (outbox.Event, error) {
	q := fmt.Sprintf(`SELECT %s FROM outbox_events WHERE idempotency_key = %s`, eventColumns, r.tx.ph(1))
	row := r.tx.sqlTx.QueryRowContext(ctx, q, key)
	return scanEvent(row.Scan)
}

func (r *outboxRepo) queryList(ctx context.Context, q string, args ...any) ([]outbox.Event, error) {
	rows, err := r.tx.sqlTx.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: query events: %w", err)
	}
	defer rows.Close()
	var out []outbox.Event
	for rows.Next() {
		e, err := scanEvent(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *outboxRepo) GetPending(ctx context.Context, limit int) ([]outbox.Event, error) {
	q := fmt.Sprintf(`SELECT %s FROM outbox_events WHERE status = %s ORDER BY created_at ASC, pk ASC LIMIT %s`,
		eventColumns, r.tx.ph(1), r.tx.ph(2))
	return r.queryList(ctx, q, string(outbox.StatusPending), limit)
}

func (r *outboxRepo) GetFailedForRetry(ctx context.Context, limit int) ([]outbox.Event, error) {
	q := fmt.Sprintf(`SELECT %s FROM outbox_events WHERE status = %s AND retry_count < max_retries
		ORDER BY created_at ASC, pk ASC LIMIT %s`, eventColumns, r.tx.ph(1), r.tx.ph(2))
	return r.queryList(ctx, q, string(outbox.StatusFailed), limit)
}

func (r *outboxRepo) Update(ctx context.Context, event outbox.Event) error {
	q := fmt.Sprintf(`UPDATE outbox_events SET status = %s, retry_count = %s, processed_at = %s, last_error = %s
		WHERE pk = %s`, r.tx.ph(1), r.tx.ph(2), r.tx.ph(3), r.tx.ph(4), r.tx.ph(5))
	res, err := r.tx.sqlTx.ExecContext(ctx, q, string(event.Status), event.RetryCount, event.ProcessedAt, event.LastError, event.PK)
	if err != nil {
		return fmt.Errorf("sqlstore: update event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return wtberrors.ErrNotFound
	}
	return nil
}

// ClaimPending performs the conditional UPDATE ... WHERE status='PENDING'
// that makes claiming race-safe across concurrent workers: the row only
// flips if this call is the one that observed it PENDING (spec.md section
// 4.5, "claim semantics").
func (r *outboxRepo) ClaimPending(ctx context.Context, id string) (outbox.Event, error) {
	q := fmt.Sprintf(`UPDATE outbox_events SET status = %s WHERE event_id = %s AND status = %s`,
		r.tx.ph(1), r.tx.ph(2), r.tx.ph(3))
	res, err := r.tx.sqlTx.ExecContext(ctx, q, string(outbox.StatusProcessing), id, string(outbox.StatusPending))
	if err != nil {
		return outbox.Event{}, fmt.Errorf("sqlstore: claim event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return outbox.Event{}, err
	}
	if n == 0 {
		return outbox.Event{}, wtberrors.ErrConflict
	}
	return r.GetByID(ctx, id)
}

func (r *outboxRepo) ReclaimStuckProcessing(ctx context.Context, olderThan time.Time) (int, error) {
	q := fmt.Sprintf(`UPDATE outbox_events SET status = %s WHERE status = %s AND created_at < %s`,
		r.tx.ph(1), r.tx.ph(2), r.tx.ph(3))
	res, err := r.tx.sqlTx.ExecContext(ctx, q, string(outbox.StatusPending), string(outbox.StatusProcessing), olderThan)
	if err != nil {
		return 0, fmt.Errorf("sqlstore: reclaim stuck events: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (r *outboxRepo) ListStuckProcessing(ctx context.Context, olderThan time.Time) ([]outbox.Event, error) {
	q := fmt.Sprintf(`SELECT %s FROM outbox_events WHERE status = %s AND created_at < %s ORDER BY created_at ASC, pk ASC`,
		eventColumns, r.tx.ph(1), r.tx.ph(2))
	return r.queryList(ctx, q, string(outbox.StatusProcessing), olderThan)
}

func (r *outboxRepo) DeleteProcessed(ctx context.Context, before time.Time, limit int) (int, error) {
	// Most SQL dialects don't support LIMIT on DELETE uniformly (Postgres
	// doesn't at all), so select the candidate PKs first and delete by PK,
	// matching the teacher's "query then act" style elsewhere in the pack.
	q := fmt.Sprintf(`SELECT pk FROM outbox_events WHERE status = %s AND processed_at < %s
		ORDER BY processed_at ASC LIMIT %s`, r.tx.ph(1), r.tx.ph(2), r.tx.ph(3))
	rows, err := r.tx.sqlTx.QueryContext(ctx, q, string(outbox.StatusProcessed), before, limit)
	if err != nil {
		return 0, fmt.Errorf("sqlstore: select processed events: %w", err)
	}
	var pks []int64
	for rows.Next() {
		var pk int64
		if err := rows.Scan(&pk); err != nil {
			rows.Close()
			return 0, fmt.Errorf("sqlstore: scan pk: %w", err)
		}
		pks = append(pks, pk)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	count := 0
	for _, pk := range pks {
		del := fmt.Sprintf(`DELETE FROM outbox_events WHERE pk = %s`, r.tx.ph(1))
		if _, err := r.tx.sqlTx.ExecContext(ctx, del, pk); err != nil {
			return count, fmt.Errorf("sqlstore: delete event pk=%d: %w", pk, err)
		}
		count++
	}
	return count, nil
}
