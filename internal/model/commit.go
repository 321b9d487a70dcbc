package model

import "time"

// Commit is a synchronised commit of a tracked repository.
type Commit struct {
	ID           string    `json:"id"`
	RepositoryID string    `json:"repository_id"`
	CommitHash   string    `json:"commit_hash"`
	AuthorName   string    `json:"author_name"`
	AuthorEmail  string    `json:"author_email"`
	Message      string    `json:"message"`
	Additions    int       `json:"additions"`
	Deletions    int       `json:"deletions"`
	FilesChanged int       `json:"files_changed"`
	CommitDate   time.Time `json:"commit_date"`
	CreatedAt    time.Time `json:"created_at"`
}

// Score weighs the size of a commit.
func (c *Commit) Score() float64 {
	return float64(c.Additions)*1.0 + float64(c.Deletions)*0.5 + float64(c.FilesChanged)*0.1
}

// MergeRequestState is the lifecycle state of a merge request.
type MergeRequestState string

const (
	MergeRequestOpened MergeRequestState = "opened"
	MergeRequestMerged MergeRequestState = "merged"
	MergeRequestClosed MergeRequestState = "closed"
)

// IsValid reports whether s is a known state.
func (s MergeRequestState) IsValid() bool {
	switch s {
	case MergeRequestOpened, MergeRequestMerged, MergeRequestClosed:
		return true
	}
	return false
}

// MergeRequest is a synchronised merge (or pull) request.
type MergeRequest struct {
	ID              string            `json:"id"`
	RepositoryID    string            `json:"repository_id"`
	MRID            int64             `json:"mr_id"`
	Title           string            `json:"title"`
	Description     string            `json:"description,omitempty"`
	AuthorName      string            `json:"author_name"`
	AuthorEmail     string            `json:"author_email"`
	SourceBranch    string            `json:"source_branch"`
	TargetBranch    string            `json:"target_branch"`
	State           MergeRequestState `json:"state"`
	Additions       int               `json:"additions"`
	Deletions       int               `json:"deletions"`
	FilesChanged    int               `json:"files_changed"`
	CommitsCount    int               `json:"commits_count"`
	CreatedAtRemote time.Time         `json:"created_at_remote"`
	UpdatedAtRemote *time.Time        `json:"updated_at_remote,omitempty"`
	MergedAt        *time.Time        `json:"merged_at,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
}

// Score weighs the size of a merge request.
func (m *MergeRequest) Score() float64 {
	return float64(m.Additions)*1.0 +
		float64(m.Deletions)*0.5 +
		float64(m.FilesChanged)*0.1 +
		float64(m.CommitsCount)*0.2
}
