// Package redis provides a Redis-backed job queue: a list for ready jobs
// and a sorted set, scored by due time, for deferred ones.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	rd "github.com/redis/go-redis/v9"

	"github.com/journeycrm/automation/pkg/queue"
)

const (
	readyKey   = "automation:jobs:ready"
	delayedKey = "automation:jobs:delayed"

	dequeueTimeout = time.Second
)

// Queue is the Redis job queue.
type Queue struct {
	client rd.UniversalClient
	logger *slog.Logger
}

// NewQueue connects to Redis using a redis:// URL.
func NewQueue(ctx context.Context, redisURL string, logger *slog.Logger) (*Queue, error) {
	opts, err := rd.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := rd.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return &Queue{
		client: client,
		logger: logger.With("module", "redis_queue"),
	}, nil
}

func (q *Queue) Enqueue(ctx context.Context, job *queue.Job) (string, error) {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job %s: %w", job.ID, err)
	}

	if job.RunAt != nil && job.RunAt.After(time.Now()) {
		member := rd.Z{
			Score:  float64(job.RunAt.UnixMilli()),
			Member: payload,
		}

		if err := q.client.ZAdd(ctx, delayedKey, member).Err(); err != nil {
			return "", fmt.Errorf("failed to push delayed job %s: %w", job.ID, err)
		}

		return job.ID, nil
	}

	if err := q.client.LPush(ctx, readyKey, payload).Err(); err != nil {
		return "", fmt.Errorf("failed to push job %s: %w", job.ID, err)
	}

	return job.ID, nil
}

// Dequeue promotes due deferred jobs, then blocks briefly on the ready list.
// It returns (nil, nil) on an empty poll so the worker loop can re-check its
// context.
func (q *Queue) Dequeue(ctx context.Context) (*queue.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := q.promoteDue(ctx); err != nil {
		q.logger.WarnContext(ctx, "Failed to promote delayed jobs", "error", err)
	}

	result, err := q.client.BRPop(ctx, dequeueTimeout, readyKey).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to pop job: %w", err)
	}

	// BRPop returns [key, value].
	if len(result) != 2 {
		return nil, nil
	}

	var job queue.Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}

	return &job, nil
}

// promoteDue moves deferred jobs whose due time has passed onto the ready
// list. Range and remove run in one pipeline so two workers promoting
// concurrently cannot both hold the same member after the pipeline runs.
func (q *Queue) promoteDue(ctx context.Context) error {
	max := strconv.FormatInt(time.Now().UnixMilli(), 10)

	pipe := q.client.TxPipeline()
	rangeCmd := pipe.ZRangeByScore(ctx, delayedKey, &rd.ZRangeBy{Min: "0", Max: max})
	pipe.ZRemRangeByScore(ctx, delayedKey, "0", max)

	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}

	due, err := rangeCmd.Result()
	if err != nil {
		return err
	}

	for _, payload := range due {
		if err := q.client.LPush(ctx, readyKey, payload).Err(); err != nil {
			return err
		}
	}

	return nil
}

func (q *Queue) Close(_ context.Context) error {
	return q.client.Close()
}
