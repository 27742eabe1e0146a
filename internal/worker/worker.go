package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/cwygoda/haul/internal/domain"
	"github.com/cwygoda/haul/internal/retry"
)

// JobExecutor runs a claimed job to a terminal state.
type JobExecutor interface {
	Execute(ctx context.Context, id string) error
}

// Worker pops job IDs and executes them one at a time.
type Worker struct {
	queue      domain.Queue
	exec       JobExecutor
	popTimeout time.Duration
	backoff    retry.Policy
	log        *zap.Logger
}

// New creates a new worker.
func New(queue domain.Queue, exec JobExecutor, popTimeout time.Duration, log *zap.Logger) *Worker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Worker{
		queue:      queue,
		exec:       exec,
		popTimeout: popTimeout,
		backoff:    retry.Policy{Initial: 500 * time.Millisecond, Max: 30 * time.Second},
		log:        log,
	}
}

// Run starts the worker loop until context is cancelled. A job that was
// popped runs to completion even if ctx is cancelled meanwhile.
func (w *Worker) Run(ctx context.Context) {
	w.log.Info("worker started", zap.Duration("pop_timeout", w.popTimeout))
	failures := 0

	for {
		if ctx.Err() != nil {
			w.log.Info("worker shutting down")
			return
		}

		id, err := w.queue.Pop(ctx, w.popTimeout)
		switch {
		case errors.Is(err, domain.ErrQueueEmpty):
			failures = 0
			continue
		case err != nil && ctx.Err() != nil:
			continue
		case err != nil:
			delay := w.backoff.Delay(failures)
			failures++
			w.log.Error("pop failed", zap.Error(err), zap.Duration("backoff", delay))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
			}
			continue
		}
		failures = 0

		if err := w.exec.Execute(context.WithoutCancel(ctx), id); err != nil {
			w.log.Error("job execution aborted", zap.String("job_id", id), zap.Error(err))
		}
	}
}
