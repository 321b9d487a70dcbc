package repository

import (
	"context"
	"fmt"

	"github.com/lib/pq"

	"github.com/devinsight/devinsight/internal/model"
)

// ListActivity returns commits and merge requests of the given repositories
// as one feed ordered by occurred_at desc. The returned cursor is empty on the
// last page.
func (r *Repository) ListActivity(ctx context.Context, repositoryIDs []string, cursor string, limit int) ([]*model.ActivityRecord, string, error) {
	if len(repositoryIDs) == 0 {
		return nil, "", nil
	}

	var cursorData *PaginationCursor
	if cursor != "" {
		var err error
		cursorData, err = decodeCursor(cursor)
		if err != nil {
			return nil, "", ErrInvalidCursor
		}
	}

	query := `
		SELECT id, kind, repository_id, repository_name, reference, title,
			author_name, author_email, additions, deletions, occurred_at
		FROM (
			SELECT c.id, 'commit' AS kind, c.repository_id, r.name AS repository_name,
				LEFT(c.commit_hash, 8) AS reference, SPLIT_PART(c.message, E'\n', 1) AS title,
				c.author_name, c.author_email, c.additions, c.deletions, c.commit_date AS occurred_at
			FROM commits c JOIN repositories r ON r.id = c.repository_id
			WHERE c.repository_id = ANY($1)
			UNION ALL
			SELECT m.id, 'merge_request', m.repository_id, r.name,
				'!' || m.mr_id::text, m.title,
				m.author_name, m.author_email, m.additions, m.deletions, m.created_at_remote
			FROM merge_requests m JOIN repositories r ON r.id = m.repository_id
			WHERE m.repository_id = ANY($1)
		) feed
	`
	args := []any{pq.Array(repositoryIDs)}
	argIndex := 2

	if cursorData != nil {
		query += fmt.Sprintf(" WHERE (occurred_at, id) < ($%d, $%d)", argIndex, argIndex+1)
		args = append(args, cursorData.At, cursorData.ID)
		argIndex += 2
	}

	query += fmt.Sprintf(" ORDER BY occurred_at DESC, id DESC LIMIT $%d", argIndex)
	args = append(args, limit+1) // Fetch one extra to determine hasMore

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, "", fmt.Errorf("failed to list activity: %w", err)
	}
	defer rows.Close()

	var records []*model.ActivityRecord
	for rows.Next() {
		var rec model.ActivityRecord
		var kind string
		if err := rows.Scan(
			&rec.ID, &kind, &rec.RepositoryID, &rec.RepositoryName, &rec.Reference, &rec.Title,
			&rec.AuthorName, &rec.AuthorEmail, &rec.Additions, &rec.Deletions, &rec.OccurredAt,
		); err != nil {
			return nil, "", fmt.Errorf("failed to scan activity: %w", err)
		}
		rec.Kind = model.ActivityKind(kind)
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("error iterating activity: %w", err)
	}

	var nextCursor string
	if len(records) > limit {
		records = records[:limit]
		last := records[len(records)-1]
		nextCursor = encodeCursor(&PaginationCursor{ID: last.ID, At: last.OccurredAt})
	}

	return records, nextCursor, nil
}
