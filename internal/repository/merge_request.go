package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/devinsight/devinsight/internal/model"
)

// UpsertMergeRequests inserts merge requests or refreshes rows matched by
// (repository_id, mr_id).
func (r *Repository) UpsertMergeRequests(ctx context.Context, mrs []*model.MergeRequest) (UpsertStats, error) {
	var stats UpsertStats
	if len(mrs) == 0 {
		return stats, nil
	}

	query := `
		INSERT INTO merge_requests (
			id, repository_id, mr_id, title, description, author_name, author_email,
			source_branch, target_branch, state, additions, deletions, files_changed,
			commits_count, created_at_remote, updated_at_remote, merged_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, NOW())
		ON CONFLICT (repository_id, mr_id) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			author_name = EXCLUDED.author_name,
			author_email = EXCLUDED.author_email,
			source_branch = EXCLUDED.source_branch,
			target_branch = EXCLUDED.target_branch,
			state = EXCLUDED.state,
			additions = EXCLUDED.additions,
			deletions = EXCLUDED.deletions,
			files_changed = EXCLUDED.files_changed,
			commits_count = EXCLUDED.commits_count,
			updated_at_remote = EXCLUDED.updated_at_remote,
			merged_at = EXCLUDED.merged_at
		RETURNING (xmax = 0)
	`

	batch := &pgx.Batch{}
	for _, mr := range mrs {
		batch.Queue(query,
			mr.ID,
			mr.RepositoryID,
			mr.MRID,
			mr.Title,
			mr.Description,
			mr.AuthorName,
			mr.AuthorEmail,
			mr.SourceBranch,
			mr.TargetBranch,
			string(mr.State),
			mr.Additions,
			mr.Deletions,
			mr.FilesChanged,
			mr.CommitsCount,
			mr.CreatedAtRemote,
			mr.UpdatedAtRemote,
			mr.MergedAt,
		)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()

	for i := range mrs {
		var inserted bool
		if err := results.QueryRow().Scan(&inserted); err != nil {
			return stats, fmt.Errorf("batch upsert merge request %d: %w", i, err)
		}
		if inserted {
			stats.Inserted++
		} else {
			stats.Updated++
		}
	}

	return stats, nil
}
