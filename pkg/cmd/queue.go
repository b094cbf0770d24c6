package cmd

import (
	"context"
	"log/slog"

	"github.com/journeycrm/automation/pkg/queue"
	queuememory "github.com/journeycrm/automation/pkg/queue/memory"
	queueredis "github.com/journeycrm/automation/pkg/queue/redis"
)

// JobQueue is the producer plus consumer pair a worker process needs.
type JobQueue interface {
	queue.JobQueue
	queue.Consumer
}

// NewJobQueue selects a job queue provider from the queue URL scheme.
// Redis is the production provider; the in-process queue serves development
// and tests.
func NewJobQueue(ctx context.Context, logger *slog.Logger, queueURL string) (JobQueue, error) {
	switch parseProvider(queueURL) {
	case "redis", "rediss":
		return queueredis.NewQueue(ctx, queueURL, logger)
	default:
		logger.Warn("No queue URL configured, using in-memory job queue")
		return queuememory.NewQueue(), nil
	}
}
