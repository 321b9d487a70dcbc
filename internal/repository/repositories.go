package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/lib/pq"

	"github.com/devinsight/devinsight/internal/model"
)

// Common errors for tracked repository operations.
var (
	ErrRepositoryNotFound = errors.New("repository not found")
	ErrRepositoryExists   = errors.New("repository already exists")
)

// RepositoryFilter defines filters for listing tracked repositories.
type RepositoryFilter struct {
	UserID    string
	Platform  model.Platform
	IsActive  *bool
	IsTracked *bool
	Search    string
}

const repositoryColumns = `id, user_id, name, url, platform, project_id, organization_id, api_base_url,
	api_key_encrypted, is_active, is_tracked, sync_status, last_sync_at, last_sync_error, created_at, updated_at`

// CreateRepository inserts a tracked repository.
func (r *Repository) CreateRepository(ctx context.Context, repo *model.Repository) error {
	query := `
		INSERT INTO repositories (id, user_id, name, url, platform, project_id, organization_id, api_base_url,
			api_key_encrypted, is_active, is_tracked, sync_status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err := r.pool.Exec(ctx, query,
		repo.ID,
		repo.UserID,
		repo.Name,
		repo.URL,
		repo.Platform,
		repo.ProjectID,
		repo.OrganizationID,
		repo.APIBaseURL,
		repo.APIKeyEncrypted,
		repo.IsActive,
		repo.IsTracked,
		repo.SyncStatus,
		repo.CreatedAt,
		repo.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "repositories_user_url_key") {
			return ErrRepositoryExists
		}
		return fmt.Errorf("failed to create repository: %w", err)
	}
	return nil
}

// GetRepository retrieves a repository owned by userID.
func (r *Repository) GetRepository(ctx context.Context, userID, id string) (*model.Repository, error) {
	query := `SELECT ` + repositoryColumns + ` FROM repositories WHERE id = $1 AND user_id = $2`

	repo, err := scanRepository(r.pool.QueryRow(ctx, query, id, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRepositoryNotFound
		}
		return nil, fmt.Errorf("failed to get repository: %w", err)
	}
	return repo, nil
}

// GetRepositoryByID retrieves a repository regardless of owner.
// Used by background sync, which carries its own ownership check.
func (r *Repository) GetRepositoryByID(ctx context.Context, id string) (*model.Repository, error) {
	query := `SELECT ` + repositoryColumns + ` FROM repositories WHERE id = $1`

	repo, err := scanRepository(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRepositoryNotFound
		}
		return nil, fmt.Errorf("failed to get repository: %w", err)
	}
	return repo, nil
}

// ListRepositories returns one page of a user's repositories with stats, newest first.
func (r *Repository) ListRepositories(ctx context.Context, filter RepositoryFilter, page, perPage int) ([]*model.RepositoryWithStats, int64, error) {
	where := ` WHERE r.user_id = $1`
	args := []any{filter.UserID}
	argIndex := 2

	if filter.Platform != "" {
		where += fmt.Sprintf(" AND r.platform = $%d", argIndex)
		args = append(args, filter.Platform)
		argIndex++
	}
	if filter.IsActive != nil {
		where += fmt.Sprintf(" AND r.is_active = $%d", argIndex)
		args = append(args, *filter.IsActive)
		argIndex++
	}
	if filter.IsTracked != nil {
		where += fmt.Sprintf(" AND r.is_tracked = $%d", argIndex)
		args = append(args, *filter.IsTracked)
		argIndex++
	}
	if filter.Search != "" {
		where += fmt.Sprintf(" AND (r.name ILIKE $%d OR r.url ILIKE $%d)", argIndex, argIndex)
		args = append(args, "%"+escapeLike(filter.Search)+"%")
		argIndex++
	}

	var total int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM repositories r`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count repositories: %w", err)
	}

	query := `
		SELECT r.id, r.user_id, r.name, r.url, r.platform, r.project_id, r.organization_id, r.api_base_url,
			r.api_key_encrypted, r.is_active, r.is_tracked, r.sync_status, r.last_sync_at, r.last_sync_error,
			r.created_at, r.updated_at,
			(SELECT COUNT(*) FROM commits c WHERE c.repository_id = r.id),
			(SELECT COUNT(*) FROM merge_requests m WHERE m.repository_id = r.id)
		FROM repositories r` + where +
		fmt.Sprintf(" ORDER BY r.created_at DESC, r.id DESC LIMIT $%d OFFSET $%d", argIndex, argIndex+1)
	args = append(args, perPage, (page-1)*perPage)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list repositories: %w", err)
	}
	defer rows.Close()

	var items []*model.RepositoryWithStats
	for rows.Next() {
		var item model.RepositoryWithStats
		repo := &item.Repository
		if err := rows.Scan(
			&repo.ID, &repo.UserID, &repo.Name, &repo.URL, &repo.Platform, &repo.ProjectID,
			&repo.OrganizationID, &repo.APIBaseURL, &repo.APIKeyEncrypted, &repo.IsActive,
			&repo.IsTracked, &repo.SyncStatus, &repo.LastSyncAt, &repo.LastSyncError,
			&repo.CreatedAt, &repo.UpdatedAt,
			&item.Stats.CommitsCount, &item.Stats.MergeRequestsCount,
		); err != nil {
			return nil, 0, fmt.Errorf("failed to scan repository: %w", err)
		}
		items = append(items, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating repositories: %w", err)
	}

	return items, total, nil
}

// ListActiveRepositories returns the user's active repositories, optionally
// restricted to ids. An empty ids slice means all.
func (r *Repository) ListActiveRepositories(ctx context.Context, userID string, ids []string) ([]*model.Repository, error) {
	query := `SELECT ` + repositoryColumns + ` FROM repositories WHERE user_id = $1 AND is_active`
	args := []any{userID}
	if len(ids) > 0 {
		query += ` AND id = ANY($2)`
		args = append(args, pq.Array(ids))
	}
	query += ` ORDER BY created_at DESC, id DESC`

	return r.queryRepositories(ctx, query, args...)
}

// ListRepositoriesDueForSync returns tracked, active repositories whose last
// sync finished before staleBefore (or never ran), oldest first.
func (r *Repository) ListRepositoriesDueForSync(ctx context.Context, staleBefore time.Time, limit int) ([]*model.Repository, error) {
	query := `SELECT ` + repositoryColumns + `
		FROM repositories
		WHERE is_tracked AND is_active
		  AND sync_status <> 'syncing'
		  AND (last_sync_at IS NULL OR last_sync_at < $1)
		ORDER BY last_sync_at ASC NULLS FIRST
		LIMIT $2`

	return r.queryRepositories(ctx, query, staleBefore, limit)
}

// ListRepositoriesByProjectIDs returns the user's repositories for a platform
// whose project_id is in projectIDs.
func (r *Repository) ListRepositoriesByProjectIDs(ctx context.Context, userID string, platform model.Platform, projectIDs []string) ([]*model.Repository, error) {
	if len(projectIDs) == 0 {
		return nil, nil
	}
	query := `SELECT ` + repositoryColumns + `
		FROM repositories
		WHERE user_id = $1 AND platform = $2 AND project_id = ANY($3)`
	return r.queryRepositories(ctx, query, userID, platform, pq.Array(projectIDs))
}

// UpdateRepository saves mutable fields.
func (r *Repository) UpdateRepository(ctx context.Context, repo *model.Repository) error {
	query := `
		UPDATE repositories
		SET name = $3, api_key_encrypted = $4, is_active = $5, is_tracked = $6, updated_at = $7
		WHERE id = $1 AND user_id = $2
	`
	tag, err := r.pool.Exec(ctx, query,
		repo.ID, repo.UserID, repo.Name, repo.APIKeyEncrypted, repo.IsActive, repo.IsTracked, repo.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update repository: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRepositoryNotFound
	}
	return nil
}

// DeleteRepository removes a repository; commits and merge requests cascade.
func (r *Repository) DeleteRepository(ctx context.Context, userID, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM repositories WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete repository: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRepositoryNotFound
	}
	return nil
}

// MarkSyncStarted flips a repository to syncing.
func (r *Repository) MarkSyncStarted(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE repositories SET sync_status = 'syncing', updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to mark sync started: %w", err)
	}
	return nil
}

// MarkSyncFinished records the outcome of a sync. lastSyncAt is only
// advanced on success.
func (r *Repository) MarkSyncFinished(ctx context.Context, id string, status model.SyncStatus, finishedAt time.Time, syncErr string) error {
	query := `
		UPDATE repositories
		SET sync_status = $2,
			last_sync_at = CASE WHEN $2 = 'completed' THEN $3 ELSE last_sync_at END,
			last_sync_error = $4,
			updated_at = NOW()
		WHERE id = $1
	`
	_, err := r.pool.Exec(ctx, query, id, string(status), finishedAt, syncErr)
	if err != nil {
		return fmt.Errorf("failed to mark sync finished: %w", err)
	}
	return nil
}

func (r *Repository) queryRepositories(ctx context.Context, query string, args ...any) ([]*model.Repository, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query repositories: %w", err)
	}
	defer rows.Close()

	var repos []*model.Repository
	for rows.Next() {
		repo, err := scanRepository(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan repository: %w", err)
		}
		repos = append(repos, repo)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating repositories: %w", err)
	}
	return repos, nil
}

func scanRepository(row pgx.Row) (*model.Repository, error) {
	var repo model.Repository
	err := row.Scan(
		&repo.ID,
		&repo.UserID,
		&repo.Name,
		&repo.URL,
		&repo.Platform,
		&repo.ProjectID,
		&repo.OrganizationID,
		&repo.APIBaseURL,
		&repo.APIKeyEncrypted,
		&repo.IsActive,
		&repo.IsTracked,
		&repo.SyncStatus,
		&repo.LastSyncAt,
		&repo.LastSyncError,
		&repo.CreatedAt,
		&repo.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &repo, nil
}

// escapeLike escapes LIKE wildcards in user input.
func escapeLike(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '%', '_', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}
