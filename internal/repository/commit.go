package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/devinsight/devinsight/internal/model"
)

// UpsertStats counts rows written by a batch upsert.
type UpsertStats struct {
	Inserted int
	Updated  int
}

// Total returns inserted plus updated rows.
func (s UpsertStats) Total() int {
	return s.Inserted + s.Updated
}

// UpsertCommits inserts commits or refreshes existing rows matched by
// (repository_id, commit_hash). The whole batch runs in one round trip.
func (r *Repository) UpsertCommits(ctx context.Context, commits []*model.Commit) (UpsertStats, error) {
	var stats UpsertStats
	if len(commits) == 0 {
		return stats, nil
	}

	query := `
		INSERT INTO commits (
			id, repository_id, commit_hash, author_name, author_email, message,
			additions, deletions, files_changed, commit_date, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		ON CONFLICT (repository_id, commit_hash) DO UPDATE SET
			author_name = EXCLUDED.author_name,
			author_email = EXCLUDED.author_email,
			message = EXCLUDED.message,
			additions = EXCLUDED.additions,
			deletions = EXCLUDED.deletions,
			files_changed = EXCLUDED.files_changed,
			commit_date = EXCLUDED.commit_date
		RETURNING (xmax = 0)
	`

	batch := &pgx.Batch{}
	for _, c := range commits {
		batch.Queue(query,
			c.ID,
			c.RepositoryID,
			c.CommitHash,
			c.AuthorName,
			c.AuthorEmail,
			c.Message,
			c.Additions,
			c.Deletions,
			c.FilesChanged,
			c.CommitDate,
		)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()

	for i := range commits {
		var inserted bool
		if err := results.QueryRow().Scan(&inserted); err != nil {
			return stats, fmt.Errorf("batch upsert commit %d: %w", i, err)
		}
		if inserted {
			stats.Inserted++
		} else {
			stats.Updated++
		}
	}

	return stats, nil
}

// ListCommits returns a repository's most recent commits.
func (r *Repository) ListCommits(ctx context.Context, repositoryID string, limit int) ([]*model.Commit, error) {
	query := `
		SELECT id, repository_id, commit_hash, author_name, author_email, message,
			additions, deletions, files_changed, commit_date, created_at
		FROM commits
		WHERE repository_id = $1
		ORDER BY commit_date DESC, id DESC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, repositoryID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list commits: %w", err)
	}
	defer rows.Close()

	var commits []*model.Commit
	for rows.Next() {
		var c model.Commit
		if err := rows.Scan(
			&c.ID, &c.RepositoryID, &c.CommitHash, &c.AuthorName, &c.AuthorEmail, &c.Message,
			&c.Additions, &c.Deletions, &c.FilesChanged, &c.CommitDate, &c.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan commit: %w", err)
		}
		commits = append(commits, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating commits: %w", err)
	}
	return commits, nil
}
