package model

import "time"

// SyncOptions control what a repository sync pulls.
type SyncOptions struct {
	Force             bool `json:"force"`
	SyncCommits       bool `json:"sync_commits"`
	SyncMergeRequests bool `json:"sync_merge_requests"`
}

// DefaultSyncOptions syncs both commits and merge requests incrementally.
func DefaultSyncOptions() SyncOptions {
	return SyncOptions{SyncCommits: true, SyncMergeRequests: true}
}

// SyncResult summarises one sync run.
type SyncResult struct {
	RepositoryID        string        `json:"repository_id"`
	CommitsSynced       int           `json:"commits_synced"`
	CommitsAdded        int           `json:"commits_added"`
	MergeRequestsSynced int           `json:"merge_requests_synced"`
	MergeRequestsAdded  int           `json:"merge_requests_added"`
	Errors              []string      `json:"errors"`
	Since               time.Time     `json:"since"`
	Duration            time.Duration `json:"-"`
}

// SyncJob is a queued asynchronous sync request.
type SyncJob struct {
	ID           string      `json:"id"`
	RepositoryID string      `json:"repository_id"`
	UserID       string      `json:"user_id"`
	Options      SyncOptions `json:"options"`
	Trigger      string      `json:"trigger"`
	EnqueuedAt   time.Time   `json:"enqueued_at"`
}

// Sync job triggers.
const (
	SyncTriggerManual    = "manual"
	SyncTriggerScheduled = "scheduled"
)

// SyncStatusInfo reports a repository's sync state.
type SyncStatusInfo struct {
	RepositoryID  string     `json:"repository_id"`
	Name          string     `json:"name"`
	Status        SyncStatus `json:"sync_status"`
	LastSyncAt    *time.Time `json:"last_sync_at,omitempty"`
	LastSyncError string     `json:"last_sync_error,omitempty"`
	IsTracked     bool       `json:"is_tracked"`
	IsActive      bool       `json:"is_active"`
}
