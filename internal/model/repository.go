package model

import "time"

// Platform identifies a Git-hosting provider.
type Platform string

const (
	PlatformYunxiao Platform = "yunxiao"
	PlatformGitHub  Platform = "github"
	PlatformGitLab  Platform = "gitlab"
)

// Platforms lists supported providers in display order.
var Platforms = []Platform{PlatformYunxiao, PlatformGitHub, PlatformGitLab}

// IsValid reports whether p is a supported platform.
func (p Platform) IsValid() bool {
	switch p {
	case PlatformYunxiao, PlatformGitHub, PlatformGitLab:
		return true
	}
	return false
}

// SyncStatus is the state of the most recent repository sync.
type SyncStatus string

const (
	SyncStatusPending   SyncStatus = "pending"
	SyncStatusSyncing   SyncStatus = "syncing"
	SyncStatusCompleted SyncStatus = "completed"
	SyncStatusFailed    SyncStatus = "failed"
)

// Repository is a remote Git repository tracked by a user.
type Repository struct {
	ID              string     `json:"id"`
	UserID          string     `json:"user_id"`
	Name            string     `json:"name"`
	URL             string     `json:"url"`
	Platform        Platform   `json:"platform"`
	ProjectID       string     `json:"project_id,omitempty"`
	OrganizationID  string     `json:"organization_id,omitempty"`
	APIBaseURL      string     `json:"api_base_url,omitempty"`
	APIKeyEncrypted string     `json:"-"`
	IsActive        bool       `json:"is_active"`
	IsTracked       bool       `json:"is_tracked"`
	SyncStatus      SyncStatus `json:"sync_status"`
	LastSyncAt      *time.Time `json:"last_sync_at,omitempty"`
	LastSyncError   string     `json:"last_sync_error,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// RepositoryStats are per-repository counters shown in listings.
type RepositoryStats struct {
	CommitsCount       int64 `json:"commits_count"`
	MergeRequestsCount int64 `json:"merge_requests_count"`
}

// RepositoryWithStats pairs a repository with its counters.
type RepositoryWithStats struct {
	Repository
	Stats RepositoryStats `json:"stats"`
}
