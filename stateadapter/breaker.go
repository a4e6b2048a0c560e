package stateadapter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/KataDavidXD/WTB-AgenticWorkflowTestBench/domain"
	"github.com/KataDavidXD/WTB-AgenticWorkflowTestBench/wtberrors"
)

// BreakerStore wraps an ExternalCheckpointStore with a circuit breaker, so
// that repeated failures of the external checkpoint store (an unreliable
// downstream dependency, per spec.md section 1) fail fast instead of
// piling up blocked callers. Not present in the teacher; adopted from the
// pack's gobreaker usage around external dependency calls, since the
// external checkpoint store is exactly this system's analogue of that
// kind of call.
type BreakerStore struct {
	inner ExternalCheckpointStore
	cb    *gobreaker.CircuitBreaker
}

// NewBreakerStore wraps inner with a breaker that opens after 5
// consecutive failures and probes again after 30s.
func NewBreakerStore(inner ExternalCheckpointStore) *BreakerStore {
	settings := gobreaker.Settings{
		Name:        "external-checkpoint-store",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	return &BreakerStore{inner: inner, cb: gobreaker.NewCircuitBreaker(settings)}
}

func wrapBreakerErr(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", wtberrors.ErrTransientExternal, err)
	}
	return err
}

func (b *BreakerStore) OpenSession(ctx context.Context, executionID string, initial domain.ExecutionState) (int64, error) {
	res, err := b.cb.Execute(func() (interface{}, error) {
		return b.inner.OpenSession(ctx, executionID, initial)
	})
	if err != nil {
		return 0, wrapBreakerErr(err)
	}
	return res.(int64), nil
}

func (b *BreakerStore) AppendCheckpoint(ctx context.Context, cp ExternalCheckpoint) (string, error) {
	res, err := b.cb.Execute(func() (interface{}, error) {
		return b.inner.AppendCheckpoint(ctx, cp)
	})
	if err != nil {
		return "", wrapBreakerErr(err)
	}
	return res.(string), nil
}

func (b *BreakerStore) GetCheckpoint(ctx context.Context, id string) (ExternalCheckpoint, error) {
	res, err := b.cb.Execute(func() (interface{}, error) {
		return b.inner.GetCheckpoint(ctx, id)
	})
	if err != nil {
		return ExternalCheckpoint{}, wrapBreakerErr(err)
	}
	return res.(ExternalCheckpoint), nil
}

func (b *BreakerStore) ListCheckpoints(ctx context.Context, sessionID int64, nodeID string) ([]ExternalCheckpoint, error) {
	res, err := b.cb.Execute(func() (interface{}, error) {
		return b.inner.ListCheckpoints(ctx, sessionID, nodeID)
	})
	if err != nil {
		return nil, wrapBreakerErr(err)
	}
	return res.([]ExternalCheckpoint), nil
}

func (b *BreakerStore) Fork(ctx context.Context, sourceSessionID int64, upToOrdinal int64) (int64, error) {
	res, err := b.cb.Execute(func() (interface{}, error) {
		return b.inner.Fork(ctx, sourceSessionID, upToOrdinal)
	})
	if err != nil {
		return 0, wrapBreakerErr(err)
	}
	return res.(int64), nil
}

var _ ExternalCheckpointStore = (*BreakerStore)(nil)
