package services

import (
	"context"
	"errors"
	"time"

	"github.com/fernmarket/api/internal/repositories"
)

const (
	defaultSchedulerPollInterval = 30 * time.Second
	defaultSchedulerBatchSize    = 50
)

// TransitionSchedulerDeps bundles collaborators for the scheduler worker.
type TransitionSchedulerDeps struct {
	Transitions repositories.ScheduledTransitionRepository
	Orders      OrderService
	Clock       func() time.Time
	Logger      func(ctx context.Context, event string, fields map[string]any)

	PollInterval time.Duration
	BatchSize    int
}

// TransitionScheduler drains due scheduled transitions. Jobs are
// durable records, so an interrupted process picks up where it left
// off on the next poll.
type TransitionScheduler struct {
	transitions repositories.ScheduledTransitionRepository
	orders      OrderService
	clock       func() time.Time
	logger      func(context.Context, string, map[string]any)

	pollInterval time.Duration
	batchSize    int
}

// NewTransitionScheduler constructs the scheduler worker.
func NewTransitionScheduler(deps TransitionSchedulerDeps) (*TransitionScheduler, error) {
	if deps.Transitions == nil {
		return nil, errors.New("transition scheduler: transition repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("transition scheduler: order service is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	pollInterval := deps.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultSchedulerPollInterval
	}
	batchSize := deps.BatchSize
	if batchSize <= 0 {
		batchSize = defaultSchedulerBatchSize
	}

	return &TransitionScheduler{
		transitions: deps.Transitions,
		orders:      deps.Orders,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger:       logger,
		pollInterval: pollInterval,
		batchSize:    batchSize,
	}, nil
}

// Run polls until the context ends. A failed batch is logged and
// retried on the next tick.
func (w *TransitionScheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		if _, err := w.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.logger(ctx, "scheduler.batch.failed", map[string]any{
				"error": err.Error(),
			})
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce drains one batch of due transitions and reports how many fired.
func (w *TransitionScheduler) RunOnce(ctx context.Context) (int, error) {
	due, err := w.transitions.DueBefore(ctx, w.clock(), w.batchSize)
	if err != nil {
		return 0, err
	}

	fired := 0
	for _, transition := range due {
		if ctx.Err() != nil {
			return fired, ctx.Err()
		}
		if err := w.orders.ApplyScheduledTransition(ctx, transition); err != nil {
			// Leave the record in place; the next poll retries it.
			w.logger(ctx, "scheduler.transition.failed", map[string]any{
				"transitionId": transition.ID,
				"orderId":      transition.OrderID,
				"toStatus":     string(transition.ToStatus),
				"error":        err.Error(),
			})
			continue
		}
		fired++
	}
	return fired, nil
}
