// Package syncqueue carries asynchronous repository sync jobs over a Redis
// stream consumed by a consumer group.
package syncqueue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/devinsight/devinsight/internal/model"
)

// jobPayload is the compact stream encoding of a model.SyncJob.
type jobPayload struct {
	ID           string `json:"id"`
	RepositoryID string `json:"rid"`
	UserID       string `json:"uid"`
	Force        bool   `json:"f,omitempty"`
	Commits      bool   `json:"c,omitempty"`
	MergeReqs    bool   `json:"m,omitempty"`
	Trigger      string `json:"tr,omitempty"`
	EnqueuedAt   int64  `json:"t"` // Unix milliseconds
}

func encodeJob(job *model.SyncJob) ([]byte, error) {
	return json.Marshal(jobPayload{
		ID:           job.ID,
		RepositoryID: job.RepositoryID,
		UserID:       job.UserID,
		Force:        job.Options.Force,
		Commits:      job.Options.SyncCommits,
		MergeReqs:    job.Options.SyncMergeRequests,
		Trigger:      job.Trigger,
		EnqueuedAt:   job.EnqueuedAt.UnixMilli(),
	})
}

func decodeJob(data string) (*model.SyncJob, error) {
	var p jobPayload
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, fmt.Errorf("unmarshal job: %w", err)
	}
	if err := validatePayload(p); err != nil {
		return nil, err
	}
	return &model.SyncJob{
		ID:           p.ID,
		RepositoryID: p.RepositoryID,
		UserID:       p.UserID,
		Options: model.SyncOptions{
			Force:             p.Force,
			SyncCommits:       p.Commits,
			SyncMergeRequests: p.MergeReqs,
		},
		Trigger:    p.Trigger,
		EnqueuedAt: time.UnixMilli(p.EnqueuedAt).UTC(),
	}, nil
}

func validatePayload(p jobPayload) error {
	switch {
	case p.ID == "":
		return fmt.Errorf("id is required")
	case p.RepositoryID == "":
		return fmt.Errorf("repository_id is required")
	case p.EnqueuedAt <= 0:
		return fmt.Errorf("enqueued_at must be set")
	case !p.Commits && !p.MergeReqs:
		return fmt.Errorf("job syncs nothing")
	}
	return nil
}
