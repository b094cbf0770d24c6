// Package queue provides the asynchronous job queue the engine hands
// fire-and-forget work to: webhook dispatch and deferred execution
// resumption. The queue owns its own retry policy; the executor never
// blocks on it.
package queue

import (
	"context"
	"time"
)

// Job types the engine enqueues.
const (
	JobTypeWebhookDispatch = "webhook_dispatch"
	JobTypeResumeExecution = "resume_execution"
)

// Job is one unit of deferred work.
type Job struct {
	ID      string         `json:"id"`
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
	RunAt   *time.Time     `json:"run_at,omitempty"` // Deferred until this time when set
}

// JobQueue is the producer side.
type JobQueue interface {
	// Enqueue schedules the job and returns its id. Jobs with a future
	// RunAt stay invisible until due.
	Enqueue(ctx context.Context, job *Job) (string, error)

	Close(ctx context.Context) error
}

// Consumer is the worker side.
type Consumer interface {
	// Dequeue blocks until a job is ready or the context is done.
	Dequeue(ctx context.Context) (*Job, error)
}

// Handler processes one job. Returning an error means the job failed
// terminally; handlers do their own retrying.
type Handler func(ctx context.Context, job *Job) error
