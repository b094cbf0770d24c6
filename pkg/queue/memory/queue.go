// Package memory provides an in-process job queue for tests and local
// development.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/journeycrm/automation/pkg/queue"
)

// Queue is a channel-backed job queue. Deferred jobs are released by timers.
type Queue struct {
	mu     sync.Mutex
	ready  chan *queue.Job
	timers []*time.Timer
	closed bool
}

// NewQueue creates an in-memory queue.
func NewQueue() *Queue {
	return &Queue{
		ready: make(chan *queue.Job, 1024),
	}
}

func (q *Queue) Enqueue(_ context.Context, job *queue.Job) (string, error) {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}

	if job.RunAt != nil {
		delay := time.Until(*job.RunAt)
		if delay > 0 {
			q.mu.Lock()
			defer q.mu.Unlock()

			if q.closed {
				return job.ID, nil
			}

			q.timers = append(q.timers, time.AfterFunc(delay, func() {
				q.push(job)
			}))

			return job.ID, nil
		}
	}

	q.push(job)

	return job.ID, nil
}

func (q *Queue) push(job *queue.Job) {
	defer func() {
		// Sending on a closed channel after Close is a no-op, not a crash.
		_ = recover()
	}()

	q.ready <- job
}

func (q *Queue) Dequeue(ctx context.Context) (*queue.Job, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case job, ok := <-q.ready:
		if !ok {
			return nil, context.Canceled
		}

		return job, nil
	}
}

func (q *Queue) Close(_ context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}

	q.closed = true

	for _, timer := range q.timers {
		timer.Stop()
	}

	close(q.ready)

	return nil
}

// Len reports how many jobs are waiting, for test assertions.
func (q *Queue) Len() int {
	return len(q.ready)
}
