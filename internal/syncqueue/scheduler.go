package syncqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/devinsight/devinsight/internal/model"
)

// DefaultScheduleBatch caps the repositories enqueued per tick.
const DefaultScheduleBatch = 100

// DueLister finds repositories whose data is stale.
type DueLister interface {
	ListRepositoriesDueForSync(ctx context.Context, staleBefore time.Time, limit int) ([]*model.Repository, error)
}

// Enqueuer schedules a sync job for a repository.
type Enqueuer interface {
	Enqueue(ctx context.Context, userID, repositoryID string, opts model.SyncOptions, trigger string) (*model.SyncJob, error)
}

// Scheduler periodically enqueues incremental syncs for tracked repositories.
type Scheduler struct {
	due        DueLister
	enqueuer   Enqueuer
	logger     *slog.Logger
	interval   time.Duration
	staleAfter time.Duration
	batchSize  int
	now        func() time.Time
	started    bool
}

// NewScheduler creates a scheduler that ticks every interval and enqueues
// repositories not synced within staleAfter.
func NewScheduler(due DueLister, enqueuer Enqueuer, logger *slog.Logger, interval, staleAfter time.Duration) *Scheduler {
	return &Scheduler{
		due:        due,
		enqueuer:   enqueuer,
		logger:     logger.With("component", "syncqueue.scheduler"),
		interval:   interval,
		staleAfter: staleAfter,
		batchSize:  DefaultScheduleBatch,
		now:        time.Now,
	}
}

// Run starts the scheduling loop. Blocks until context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.started {
		return errors.New("scheduler already started")
	}
	if s.interval <= 0 {
		return errors.New("schedule interval must be positive")
	}
	s.started = true

	s.logger.Info("sync scheduler started", "interval", s.interval.String(), "stale_after", s.staleAfter.String())

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sync scheduler stopping")
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.Tick(ctx); err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				s.logger.Error("schedule error", "error", err)
			}
		}
	}
}

// Tick enqueues one batch of due repositories and returns how many were
// enqueued. Individual enqueue failures are logged and skipped.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	repos, err := s.due.ListRepositoriesDueForSync(ctx, s.now().Add(-s.staleAfter), s.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list due repositories: %w", err)
	}

	enqueued := 0
	for _, repo := range repos {
		if _, err := s.enqueuer.Enqueue(ctx, repo.UserID, repo.ID, model.DefaultSyncOptions(), model.SyncTriggerScheduled); err != nil {
			if ctx.Err() != nil {
				return enqueued, ctx.Err()
			}
			s.logger.Warn("failed to enqueue scheduled sync",
				"repository_id", repo.ID,
				"error", err,
			)
			continue
		}
		enqueued++
	}

	if enqueued > 0 {
		s.logger.Info("scheduled syncs enqueued", "count", enqueued)
	}
	return enqueued, nil
}
