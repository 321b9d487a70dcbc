package syncqueue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/devinsight/devinsight/internal/model"
)

const (
	// StreamKey is the Redis stream for sync jobs.
	StreamKey = "stream:sync_jobs"

	// DeadLetterStreamKey holds jobs that could not be parsed or kept failing.
	DeadLetterStreamKey = "stream:sync_jobs:dlq"

	// MaxStreamLen is the approximate max length of the stream.
	MaxStreamLen = 10000

	// PublishTimeout bounds a single XADD.
	PublishTimeout = time.Second
)

// Publisher enqueues sync jobs.
type Publisher struct {
	redis  *redis.Client
	logger *slog.Logger
}

// NewPublisher creates a new sync job publisher.
func NewPublisher(client *redis.Client, logger *slog.Logger) *Publisher {
	return &Publisher{
		redis:  client,
		logger: logger.With("component", "syncqueue.publisher"),
	}
}

// Enqueue appends job to the stream.
func (p *Publisher) Enqueue(ctx context.Context, job *model.SyncJob) error {
	data, err := encodeJob(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, PublishTimeout)
	defer cancel()

	streamID, err := p.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamKey,
		MaxLen: MaxStreamLen,
		Approx: true,
		ID:     "*",
		Values: map[string]interface{}{
			"payload": string(data),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("xadd: %w", err)
	}

	p.logger.Debug("sync job published",
		"job_id", job.ID,
		"repository_id", job.RepositoryID,
		"stream_id", streamID,
	)
	return nil
}
