// Package wtberrors defines the error taxonomy shared by every package in
// this module (spec.md section 7). Errors are values, never control flow:
// callers match against these sentinels with errors.Is, and wrap them with
// fmt.Errorf("...: %w", err) to add context.
package wtberrors

import "errors"

var (
	// ErrNotFound means an identified entity is missing. Never retried.
	ErrNotFound = errors.New("not found")

	// ErrConflict means a unique key or idempotency key collided. The
	// caller should treat this like a 409: the winning row already exists.
	ErrConflict = errors.New("conflict")

	// ErrStaleState means an optimistic-concurrency check failed because
	// the entity's version did not match on update.
	ErrStaleState = errors.New("stale state")

	// ErrValidation means the caller supplied malformed input. Never
	// retried.
	ErrValidation = errors.New("validation failure")

	// ErrTransientExternal means an I/O, network, or timeout failure
	// against the checkpoint or file store. The outbox processor retries
	// these up to an event's max_retries.
	ErrTransientExternal = errors.New("transient external failure")

	// ErrCorruptState means a hash mismatch, missing blob, or invariant
	// violation was detected. Logged as critical, surfaced to the
	// integrity report, never auto-retried.
	ErrCorruptState = errors.New("corrupt state")

	// ErrNoHandler means an outbox event type has no registered handler.
	// The event is failed once with this error and flagged for manual
	// repair.
	ErrNoHandler = errors.New("no handler registered for event type")

	// ErrAlreadyBegun means Begin was called twice on the same
	// unit-of-work transaction.
	ErrAlreadyBegun = errors.New("unit of work already begun")

	// ErrNotBegun means Commit or Rollback was called before Begin.
	ErrNotBegun = errors.New("unit of work not begun")
)
