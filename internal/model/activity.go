package model

import "time"

// ActivityKind tags an ActivityRecord's source.
type ActivityKind string

const (
	ActivityCommit       ActivityKind = "commit"
	ActivityMergeRequest ActivityKind = "merge_request"
)

// ActivityRecord is one entry of the merged commit / merge request feed.
type ActivityRecord struct {
	ID             string       `json:"id"`
	Kind           ActivityKind `json:"kind"`
	RepositoryID   string       `json:"repository_id"`
	RepositoryName string       `json:"repository_name"`
	Reference      string       `json:"reference"`
	Title          string       `json:"title"`
	AuthorName     string       `json:"author_name"`
	AuthorEmail    string       `json:"author_email"`
	Additions      int          `json:"additions"`
	Deletions      int          `json:"deletions"`
	OccurredAt     time.Time    `json:"occurred_at"`
}
