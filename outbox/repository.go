package outbox

import (
	"context"
	"time"
)

// Repository is the outbox's persistence contract (C4, spec.md section
// 4.2). Implementations live in memstore and sqlstore; both must honor
// invariant I1 (events are invisible to other transactions until the
// owning unit of work commits) and I2 (status transitions are monotonic).
type Repository interface {
	// Add assigns a PK and inserts event, enforcing uniqueness on ID and,
	// when non-nil, on IdempotencyKey. Returns wtberrors.ErrConflict when
	// either collides; on an IdempotencyKey collision the already-stored
	// (winning) event is returned alongside it.
	Add(ctx context.Context, event Event) (Event, error)

	// GetByID returns a single event or wtberrors.ErrNotFound.
	GetByID(ctx context.Context, id string) (Event, error)

	// GetByIdempotencyKey returns the event previously stored under key,
	// if any, or wtberrors.ErrNotFound.
	GetByIdempotencyKey(ctx context.Context, key string) (Event, error)

	// GetPending returns up to limit PENDING events ordered by CreatedAt
	// ascending, broken by PK.
	GetPending(ctx context.Context, limit int) ([]Event, error)

	// GetFailedForRetry returns up to limit FAILED events with
	// RetryCount < MaxRetries, ordered by CreatedAt ascending.
	GetFailedForRetry(ctx context.Context, limit int) ([]Event, error)

	// Update replaces the mutable fields (Status, RetryCount, ProcessedAt,
	// LastError) of an existing event, keyed by PK.
	Update(ctx context.Context, event Event) error

	// ClaimPending atomically transitions a PENDING event to PROCESSING,
	// guarding on (id, status=PENDING) so concurrent workers cannot both
	// win the same event (spec.md section 4.5, "claim semantics"). Returns
	// wtberrors.ErrConflict if another worker already claimed it.
	ClaimPending(ctx context.Context, id string) (Event, error)

	// ReclaimStuckProcessing demotes PROCESSING events older than
	// olderThan back to PENDING. Used by the processor's startup recovery
	// pass (spec.md section 4.5, "Stop").
	ReclaimStuckProcessing(ctx context.Context, olderThan time.Time) (int, error)

	// ListStuckProcessing is ReclaimStuckProcessing's read-only twin: it
	// reports PROCESSING events older than olderThan without mutating
	// them, for integrity.Checker's detection pass (spec.md section 4.8
	// step 4), which must not itself repair anything.
	ListStuckProcessing(ctx context.Context, olderThan time.Time) ([]Event, error)

	// DeleteProcessed deletes up to limit PROCESSED events with
	// ProcessedAt < before.
	DeleteProcessed(ctx context.Context, before time.Time, limit int) (int, error)
}
