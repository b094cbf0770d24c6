package queue

import (
	"context"
	"errors"
	"log/slog"
)

// Worker drains a Consumer and dispatches jobs to registered handlers.
type Worker struct {
	consumer Consumer
	handlers map[string]Handler
	logger   *slog.Logger
}

// NewWorker creates a worker over the given consumer.
func NewWorker(consumer Consumer, logger *slog.Logger) *Worker {
	return &Worker{
		consumer: consumer,
		handlers: make(map[string]Handler),
		logger:   logger.With("module", "queue_worker"),
	}
}

// Register binds a handler to a job type. Jobs of unregistered types are
// dropped with a warning.
func (w *Worker) Register(jobType string, handler Handler) {
	w.handlers[jobType] = handler
}

// Run consumes jobs until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.InfoContext(ctx, "Starting queue worker")

	for {
		job, err := w.consumer.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				w.logger.InfoContext(ctx, "Queue worker stopping")
				return nil
			}

			w.logger.ErrorContext(ctx, "Failed to dequeue job", "error", err)

			continue
		}

		if job == nil {
			continue
		}

		handler, ok := w.handlers[job.Type]
		if !ok {
			w.logger.WarnContext(ctx, "No handler registered for job type", "job_type", job.Type, "job_id", job.ID)

			continue
		}

		if err := handler(ctx, job); err != nil {
			// Terminal failure: recorded, never re-queued here. Handlers own
			// their retry policy.
			w.logger.ErrorContext(ctx, "Job handler failed",
				"job_type", job.Type,
				"job_id", job.ID,
				"error", err)
		}
	}
}
