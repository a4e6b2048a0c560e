// Package outboxproc implements the outbox processor (C8, spec.md section
// 4.5): the background worker that drains PENDING events, dispatches them
// to typed handlers, retries FAILED ones up to a cap, and garbage-collects
// old PROCESSED rows. Grounded on
// wtb/infrastructure/outbox/processor.py (original_source)'s
// threading.Thread worker loop, translated into a goroutine driven by
// context.Context cancellation -- the idiom every pack repo with a
// background worker uses instead of the source's raw thread.
package outboxproc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/KataDavidXD/WTB-AgenticWorkflowTestBench/outbox"
	"github.com/KataDavidXD/WTB-AgenticWorkflowTestBench/uow"
	"github.com/KataDavidXD/WTB-AgenticWorkflowTestBench/wtberrors"
)

// Handler processes one claimed event. It runs outside the claim
// transaction (spec.md section 4.5): handlers open whatever uow.Tx or
// external-store calls they need on their own.
type Handler func(ctx context.Context, event outbox.Event) error

// stuckGrace is how long an event may sit PROCESSING before the startup
// recovery pass demotes it back to PENDING (spec.md section 4.5, "Stop").
const stuckGrace = 5 * time.Minute

// Processor is the C8 background worker. Construct with New, register
// handlers (or use the closed default table from Handlers), then Start.
type Processor struct {
	uowFac       uow.Factory
	handlers     map[outbox.EventType]Handler
	claimLock    ClaimLock
	metrics      *Metrics
	logger       *slog.Logger
	pollInterval time.Duration
	batchSize    int
	maxRetries   int
	strict       bool

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// Option configures a Processor at construction time.
type Option func(*Processor)

// WithClaimLock layers a distributed lock (e.g. RedisClaimLock) in front
// of the conditional-UPDATE claim, for deployments running more than one
// processor instance (spec.md section 9, Open Question 2).
func WithClaimLock(l ClaimLock) Option { return func(p *Processor) { p.claimLock = l } }

// WithMetrics attaches a Metrics collector.
func WithMetrics(m *Metrics) Option { return func(p *Processor) { p.metrics = m } }

// WithLogger overrides the default slog.Default() logger.
func WithLogger(l *slog.Logger) Option { return func(p *Processor) { p.logger = l } }

// WithStrict records strict mode on the Processor. No handler built by
// Handlers reads it, so handler behaviour is the same with or without it.
func WithStrict(strict bool) Option { return func(p *Processor) { p.strict = strict } }

// New builds a Processor. pollInterval and batchSize come from
// config.Config.OutboxPollInterval / OutboxBatchSize. maxRetries is stored
// but not read by the Processor: each event's retry cap is the MaxRetries
// it was created with.
func New(uowFac uow.Factory, handlers map[outbox.EventType]Handler, pollInterval time.Duration, batchSize, maxRetries int, opts ...Option) *Processor {
	p := &Processor{
		uowFac:       uowFac,
		handlers:     handlers,
		claimLock:    noopClaimLock{},
		logger:       slog.Default(),
		pollInterval: pollInterval,
		batchSize:    batchSize,
		maxRetries:   maxRetries,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start spawns the single background worker goroutine. Calling Start
// twice without an intervening Stop is a no-op.
func (p *Processor) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	workerCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.recoverStuck(workerCtx)
		p.loop(workerCtx)
	}()
}

// Stop signals the worker to exit and blocks up to timeout for it to
// finish. Events left PROCESSING are picked up by the next Start's
// recovery pass; no event is lost (spec.md section 4.5).
func (p *Processor) Stop(timeout time.Duration) {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.cancel()
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		p.logger.Warn("outboxproc: stop timed out waiting for worker to exit")
	}

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()
}

func (p *Processor) recoverStuck(ctx context.Context) {
	tx, err := p.uowFac().Begin(ctx)
	if err != nil {
		p.logger.Error("outboxproc: recovery begin failed", "error", err)
		return
	}
	n, err := tx.Outbox().ReclaimStuckProcessing(ctx, time.Now().Add(-stuckGrace))
	if err != nil {
		_ = tx.Rollback()
		p.logger.Error("outboxproc: recovery reclaim failed", "error", err)
		return
	}
	if err := tx.Commit(); err != nil {
		p.logger.Error("outboxproc: recovery commit failed", "error", err)
		return
	}
	if n > 0 {
		p.logger.Info("outboxproc: reclaimed stuck events", "count", n)
	}
}

func (p *Processor) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, err := p.ProcessOnce(ctx)
		if err != nil {
			p.logger.Error("outboxproc: batch failed", "error", err)
			if !sleepCtx(ctx, 2*p.pollInterval) {
				return
			}
			continue
		}
		if n == 0 {
			if !sleepCtx(ctx, p.pollInterval) {
				return
			}
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// ProcessOnce drains up to one batch of PENDING events and returns how
// many it passed on to claim and dispatch (an event whose claim is lost to
// another worker is counted too), regardless of whether each ultimately
// succeeded or failed.
func (p *Processor) ProcessOnce(ctx context.Context) (int, error) {
	tx, err := p.uowFac().Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("outboxproc: begin: %w", err)
	}
	pending, err := tx.Outbox().GetPending(ctx, p.batchSize)
	_ = tx.Rollback()
	if err != nil {
		return 0, fmt.Errorf("outboxproc: get pending: %w", err)
	}

	attempted := 0
	for _, event := range pending {
		release, ok, err := p.claimLock.Acquire(ctx, event.ID.String())
		if err != nil {
			p.logger.Error("outboxproc: claim lock error", "event", event.ID, "error", err)
			continue
		}
		if !ok {
			continue // another worker already holds this event's lock
		}
		p.processOne(ctx, event)
		release()
		attempted++
		if p.metrics != nil {
			p.metrics.ProcessedTotal.Inc()
		}
	}
	return attempted, nil
}

func (p *Processor) processOne(ctx context.Context, event outbox.Event) {
	claimed, err := p.claim(ctx, event.ID.String())
	if err != nil {
		if errors.Is(err, wtberrors.ErrConflict) {
			return // lost the race to another worker; not a failure
		}
		p.logger.Error("outboxproc: claim failed", "event", event.ID, "error", err)
		return
	}

	handler, found := p.handlers[claimed.Type]
	var handleErr error
	if !found {
		handleErr = fmt.Errorf("%w: %s", wtberrors.ErrNoHandler, claimed.Type)
	} else {
		handleErr = handler(ctx, claimed)
	}

	if err := p.finish(ctx, claimed, handleErr); err != nil {
		p.logger.Error("outboxproc: finish failed", "event", claimed.ID, "error", err)
	}
	if handleErr != nil {
		p.logger.Warn("outboxproc: handler failed", "event", claimed.ID, "type", claimed.Type, "error", handleErr)
		if p.metrics != nil {
			p.metrics.FailedTotal.Inc()
		}
	}
}

// claim performs the PENDING -> PROCESSING transition in its own uow.Tx
// (spec.md section 4.5's claim semantics).
func (p *Processor) claim(ctx context.Context, id string) (outbox.Event, error) {
	tx, err := p.uowFac().Begin(ctx)
	if err != nil {
		return outbox.Event{}, fmt.Errorf("outboxproc: begin claim: %w", err)
	}
	event, err := tx.Outbox().ClaimPending(ctx, id)
	if err != nil {
		_ = tx.Rollback()
		return outbox.Event{}, err
	}
	if err := tx.Commit(); err != nil {
		return outbox.Event{}, fmt.Errorf("outboxproc: commit claim: %w", err)
	}
	return event, nil
}

// finish transitions a claimed event to PROCESSED or FAILED in its own
// uow.Tx, bumping RetryCount on failure (spec.md section 4.5).
func (p *Processor) finish(ctx context.Context, event outbox.Event, handleErr error) error {
	tx, err := p.uowFac().Begin(ctx)
	if err != nil {
		return fmt.Errorf("outboxproc: begin finish: %w", err)
	}

	now := time.Now()
	if handleErr == nil {
		event.Status = outbox.StatusProcessed
		event.ProcessedAt = &now
		event.LastError = nil
	} else {
		event.Status = outbox.StatusFailed
		event.RetryCount++
		msg := handleErr.Error()
		event.LastError = &msg
		if errors.Is(handleErr, wtberrors.ErrNoHandler) && event.RetryCount < event.MaxRetries {
			// No handler: the event is left terminal for manual repair, so
			// GetFailedForRetry never returns it.
			event.RetryCount = event.MaxRetries
		}
	}

	if err := tx.Outbox().Update(ctx, event); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("outboxproc: update event: %w", err)
	}
	return tx.Commit()
}

// RetryFailedEvents resets the retry-eligible FAILED events' status back
// to PENDING so the next loop pass through GetPending picks them up, and
// returns how many were reset. Terminal events (RetryCount >= MaxRetries)
// are left untouched (invariant I2).
func (p *Processor) RetryFailedEvents(ctx context.Context) (int, error) {
	tx, err := p.uowFac().Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("outboxproc: begin: %w", err)
	}
	failed, err := tx.Outbox().GetFailedForRetry(ctx, p.batchSize)
	if err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("outboxproc: get failed: %w", err)
	}
	count := 0
	for _, event := range failed {
		event.Status = outbox.StatusPending
		if err := tx.Outbox().Update(ctx, event); err != nil {
			_ = tx.Rollback()
			return count, fmt.Errorf("outboxproc: reset event %s: %w", event.ID, err)
		}
		count++
	}
	if err := tx.Commit(); err != nil {
		return count, fmt.Errorf("outboxproc: commit: %w", err)
	}
	if p.metrics != nil {
		p.metrics.RetriesTotal.Add(float64(count))
	}
	return count, nil
}

// CleanupOldEvents deletes up to limit PROCESSED events older than
// daysOld days (spec.md section 4.5's GC).
func (p *Processor) CleanupOldEvents(ctx context.Context, daysOld int, limit int) (int, error) {
	tx, err := p.uowFac().Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("outboxproc: begin: %w", err)
	}
	before := time.Now().Add(-time.Duration(daysOld) * 24 * time.Hour)
	n, err := tx.Outbox().DeleteProcessed(ctx, before, limit)
	if err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("outboxproc: delete processed: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("outboxproc: commit: %w", err)
	}
	return n, nil
}
