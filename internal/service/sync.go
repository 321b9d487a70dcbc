package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/devinsight/devinsight/internal/auth"
	"github.com/devinsight/devinsight/internal/cache"
	"github.com/devinsight/devinsight/internal/gitprovider"
	"github.com/devinsight/devinsight/internal/metrics"
	"github.com/devinsight/devinsight/internal/model"
	"github.com/devinsight/devinsight/internal/repository"
)

// Sync errors.
var (
	ErrSyncInProgress   = errors.New("sync already in progress")
	ErrQueueUnavailable = errors.New("sync queue is not available")
)

const (
	// incrementalOverlap is subtracted from last_sync_at so late-arriving
	// commits near the previous boundary are picked up again.
	incrementalOverlap = time.Hour
	syncLockTTL        = 30 * time.Minute
	maxSyncPages       = 500
)

// SyncStore is the persistence a sync needs. *repository.Repository
// implements it.
type SyncStore interface {
	GetRepository(ctx context.Context, userID, id string) (*model.Repository, error)
	GetRepositoryByID(ctx context.Context, id string) (*model.Repository, error)
	MarkSyncStarted(ctx context.Context, id string) error
	MarkSyncFinished(ctx context.Context, id string, status model.SyncStatus, finishedAt time.Time, syncErr string) error
	UpsertCommits(ctx context.Context, commits []*model.Commit) (repository.UpsertStats, error)
	UpsertMergeRequests(ctx context.Context, mrs []*model.MergeRequest) (repository.UpsertStats, error)
}

// Locker hands out exclusive per-repository locks. ok is false when another
// holder owns the lock.
type Locker interface {
	TryLock(ctx context.Context, repositoryID string, ttl time.Duration) (release func(context.Context) error, ok bool, err error)
}

// AnalyticsInvalidator drops a user's cached analytics.
type AnalyticsInvalidator interface {
	InvalidateUserAnalytics(ctx context.Context, userID string) (int64, error)
}

// JobQueue accepts asynchronous sync jobs.
type JobQueue interface {
	Enqueue(ctx context.Context, job *model.SyncJob) error
}

// CacheLocker adapts the Redis sync lock to Locker.
func CacheLocker(c *cache.Cache) Locker {
	return cacheLocker{c: c}
}

type cacheLocker struct{ c *cache.Cache }

func (l cacheLocker) TryLock(ctx context.Context, repositoryID string, ttl time.Duration) (func(context.Context) error, bool, error) {
	lock, err := l.c.AcquireSyncLock(ctx, repositoryID, ttl)
	if err != nil || lock == nil {
		return nil, false, err
	}
	return lock.Release, true, nil
}

// SyncService pulls commits and merge requests from providers.
type SyncService struct {
	store     SyncStore
	locks     Locker
	analytics AnalyticsInvalidator
	secrets   *auth.SecretBox
	providers ProviderFactory
	queue     JobQueue
	lookback  time.Duration
	logger    *slog.Logger
	metrics   metrics.Recorder
	now       func() time.Time
}

// SyncServiceConfig wires a SyncService. Queue may be nil, in which case
// asynchronous syncs are refused.
type SyncServiceConfig struct {
	Store     SyncStore
	Locks     Locker
	Analytics AnalyticsInvalidator
	Secrets   *auth.SecretBox
	Providers ProviderFactory
	Queue     JobQueue
	Lookback  time.Duration
	Logger    *slog.Logger
	Metrics   metrics.Recorder
}

// NewSyncService creates a SyncService.
func NewSyncService(cfg SyncServiceConfig) *SyncService {
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNoop()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = 30 * 24 * time.Hour
	}
	return &SyncService{
		store:     cfg.Store,
		locks:     cfg.Locks,
		analytics: cfg.Analytics,
		secrets:   cfg.Secrets,
		providers: cfg.Providers,
		queue:     cfg.Queue,
		lookback:  cfg.Lookback,
		logger:    cfg.Logger.With("component", "service.sync"),
		metrics:   cfg.Metrics,
		now:       time.Now,
	}
}

// SetQueue attaches the job queue after construction.
func (s *SyncService) SetQueue(q JobQueue) {
	s.queue = q
}

// Sync runs a synchronous sync of one of the user's repositories.
func (s *SyncService) Sync(ctx context.Context, userID, repositoryID string, opts model.SyncOptions) (*model.SyncResult, error) {
	repo, err := s.store.GetRepository(ctx, userID, repositoryID)
	if err != nil {
		return nil, mapRepositoryErr(err)
	}
	return s.run(ctx, repo, opts)
}

// Enqueue queues an asynchronous sync and returns the job.
func (s *SyncService) Enqueue(ctx context.Context, userID, repositoryID string, opts model.SyncOptions, trigger string) (*model.SyncJob, error) {
	if s.queue == nil {
		return nil, ErrQueueUnavailable
	}
	repo, err := s.store.GetRepository(ctx, userID, repositoryID)
	if err != nil {
		return nil, mapRepositoryErr(err)
	}
	if !repo.IsActive {
		return nil, ErrRepositoryInactive
	}

	job := &model.SyncJob{
		ID:           generateULID(),
		RepositoryID: repo.ID,
		UserID:       repo.UserID,
		Options:      opts,
		Trigger:      trigger,
		EnqueuedAt:   s.now().UTC(),
	}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		s.metrics.IncSyncJobEnqueued("dropped")
		return nil, fmt.Errorf("enqueue sync job: %w", err)
	}
	s.metrics.IncSyncJobEnqueued("success")
	s.logger.Info("sync_job_enqueued",
		"job_id", job.ID,
		"repository_id", job.RepositoryID,
		"trigger", trigger,
	)
	return job, nil
}

// RunJob executes a queued job. A job whose repository is gone, inactive or
// already syncing is skipped without error.
func (s *SyncService) RunJob(ctx context.Context, job *model.SyncJob) (*model.SyncResult, error) {
	repo, err := s.store.GetRepositoryByID(ctx, job.RepositoryID)
	if err != nil {
		if errors.Is(err, repository.ErrRepositoryNotFound) {
			s.logger.Info("sync_job_skipped", "job_id", job.ID, "reason", "repository_deleted")
			return nil, nil
		}
		return nil, err
	}

	result, err := s.run(ctx, repo, job.Options)
	switch {
	case errors.Is(err, ErrSyncInProgress), errors.Is(err, ErrRepositoryInactive):
		s.logger.Info("sync_job_skipped", "job_id", job.ID, "repository_id", repo.ID, "reason", err.Error())
		return nil, nil
	case err != nil:
		return nil, err
	}
	return result, nil
}

func (s *SyncService) run(ctx context.Context, repo *model.Repository, opts model.SyncOptions) (*model.SyncResult, error) {
	if !repo.IsActive {
		return nil, ErrRepositoryInactive
	}

	release, ok, err := s.locks.TryLock(ctx, repo.ID, syncLockTTL)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrSyncInProgress
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("sync_lock_release_failed", "repository_id", repo.ID, "error", err)
		}
	}()

	start := s.now()
	if err := s.store.MarkSyncStarted(ctx, repo.ID); err != nil {
		return nil, err
	}

	result := &model.SyncResult{RepositoryID: repo.ID, Errors: []string{}}
	result.Since = s.syncWindowStart(repo, opts, start)

	provider, err := s.providerFor(repo)
	if err != nil {
		s.finish(ctx, repo, result, start, err.Error())
		return nil, err
	}

	if opts.SyncCommits {
		if err := s.syncCommits(ctx, provider, repo, result, start); err != nil {
			result.Errors = append(result.Errors, "commits: "+ProviderMessage(err))
			s.logger.Warn("commit_sync_failed", "repository_id", repo.ID, "error", err)
		}
	}
	if opts.SyncMergeRequests {
		if err := s.syncMergeRequests(ctx, provider, repo, result); err != nil {
			result.Errors = append(result.Errors, "merge_requests: "+ProviderMessage(err))
			s.logger.Warn("merge_request_sync_failed", "repository_id", repo.ID, "error", err)
		}
	}

	s.finish(ctx, repo, result, start, strings.Join(result.Errors, "; "))
	return result, nil
}

func (s *SyncService) syncWindowStart(repo *model.Repository, opts model.SyncOptions, now time.Time) time.Time {
	if !opts.Force && repo.LastSyncAt != nil {
		return repo.LastSyncAt.Add(-incrementalOverlap).UTC()
	}
	return now.Add(-s.lookback).UTC()
}

func (s *SyncService) providerFor(repo *model.Repository) (gitprovider.Provider, error) {
	apiKey, err := s.secrets.Decrypt(repo.APIKeyEncrypted)
	if err != nil {
		return nil, ErrInvalidAPIKey
	}
	return s.providers.New(repo.Platform, gitprovider.Credentials{
		APIKey:         apiKey,
		OrganizationID: repo.OrganizationID,
		BaseURL:        repo.APIBaseURL,
	})
}

func (s *SyncService) syncCommits(ctx context.Context, p gitprovider.Provider, repo *model.Repository, result *model.SyncResult, until time.Time) error {
	for page := 1; page <= maxSyncPages; page++ {
		remote, err := p.ListCommits(ctx, repo.ProjectID, gitprovider.CommitQuery{
			Since:   result.Since,
			Until:   until,
			Page:    page,
			PerPage: gitprovider.MaxPerPage,
		})
		if err != nil {
			return err
		}

		commits := make([]*model.Commit, 0, len(remote))
		for _, rc := range remote {
			commits = append(commits, commitFromRemote(repo.ID, rc))
		}
		stats, err := s.store.UpsertCommits(ctx, commits)
		if err != nil {
			return err
		}
		result.CommitsSynced += len(commits)
		result.CommitsAdded += stats.Inserted

		if len(remote) < gitprovider.MaxPerPage {
			return nil
		}
	}
	return nil
}

func (s *SyncService) syncMergeRequests(ctx context.Context, p gitprovider.Provider, repo *model.Repository, result *model.SyncResult) error {
	for page := 1; page <= maxSyncPages; page++ {
		remote, err := p.ListMergeRequests(ctx, repo.ProjectID, gitprovider.MergeRequestQuery{
			Since:   result.Since,
			Page:    page,
			PerPage: gitprovider.MaxPerPage,
		})
		if err != nil {
			return err
		}

		mrs := make([]*model.MergeRequest, 0, len(remote))
		for _, rm := range remote {
			mrs = append(mrs, mergeRequestFromRemote(repo.ID, rm))
		}
		stats, err := s.store.UpsertMergeRequests(ctx, mrs)
		if err != nil {
			return err
		}
		result.MergeRequestsSynced += len(mrs)
		result.MergeRequestsAdded += stats.Inserted

		if len(remote) < gitprovider.MaxPerPage {
			return nil
		}
	}
	return nil
}

func (s *SyncService) finish(ctx context.Context, repo *model.Repository, result *model.SyncResult, start time.Time, syncErr string) {
	status := model.SyncStatusCompleted
	if syncErr != "" {
		status = model.SyncStatusFailed
	}
	finished := s.now()
	result.Duration = finished.Sub(start)

	// Record the outcome even if the caller went away mid-sync.
	ctx = context.WithoutCancel(ctx)
	if err := s.store.MarkSyncFinished(ctx, repo.ID, status, start.UTC(), syncErr); err != nil {
		s.logger.Error("sync_status_update_failed", "repository_id", repo.ID, "error", err)
	}
	if s.analytics != nil && (result.CommitsSynced > 0 || result.MergeRequestsSynced > 0) {
		if _, err := s.analytics.InvalidateUserAnalytics(ctx, repo.UserID); err != nil {
			s.logger.Warn("analytics_invalidation_failed", "user_id", repo.UserID, "error", err)
		}
	}

	s.metrics.AddSyncedItems(result.CommitsSynced, result.MergeRequestsSynced)
	s.metrics.ObserveSyncDuration(result.Duration)
	s.logger.Info("repository_synced",
		"repository_id", repo.ID,
		"status", status,
		"commits_synced", result.CommitsSynced,
		"commits_added", result.CommitsAdded,
		"merge_requests_synced", result.MergeRequestsSynced,
		"merge_requests_added", result.MergeRequestsAdded,
		"duration_ms", result.Duration.Milliseconds(),
	)
}

func commitFromRemote(repositoryID string, rc gitprovider.RemoteCommit) *model.Commit {
	return &model.Commit{
		ID:           generateULID(),
		RepositoryID: repositoryID,
		CommitHash:   rc.Hash,
		AuthorName:   rc.AuthorName,
		AuthorEmail:  normalizeEmail(rc.AuthorEmail),
		Message:      rc.Message,
		Additions:    rc.Additions,
		Deletions:    rc.Deletions,
		FilesChanged: rc.FilesChanged,
		CommitDate:   rc.CommittedAt.UTC(),
	}
}

func mergeRequestFromRemote(repositoryID string, rm gitprovider.RemoteMergeRequest) *model.MergeRequest {
	return &model.MergeRequest{
		ID:              generateULID(),
		RepositoryID:    repositoryID,
		MRID:            rm.IID,
		Title:           rm.Title,
		Description:     rm.Description,
		AuthorName:      rm.AuthorName,
		AuthorEmail:     normalizeEmail(rm.AuthorEmail),
		SourceBranch:    rm.SourceBranch,
		TargetBranch:    rm.TargetBranch,
		State:           rm.State,
		Additions:       rm.Additions,
		Deletions:       rm.Deletions,
		FilesChanged:    rm.FilesChanged,
		CommitsCount:    rm.CommitsCount,
		CreatedAtRemote: rm.CreatedAt.UTC(),
		UpdatedAtRemote: rm.UpdatedAt,
		MergedAt:        rm.MergedAt,
	}
}

func mapRepositoryErr(err error) error {
	if errors.Is(err, repository.ErrRepositoryNotFound) {
		return ErrRepositoryNotFound
	}
	return err
}
