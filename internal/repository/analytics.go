package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/devinsight/devinsight/internal/model"
)

// ErrInvalidGrouping is returned for an unsupported time unit or dimension.
var ErrInvalidGrouping = errors.New("invalid grouping")

// AnalyticsScope narrows aggregate queries to repositories and a date range.
type AnalyticsScope struct {
	RepositoryIDs []string
	Start         time.Time
	End           time.Time
	AuthorEmail   string
	State         model.MergeRequestState
}

// CommitTotals aggregates commits in a scope.
type CommitTotals struct {
	Count        int64
	Additions    int64
	Deletions    int64
	FilesChanged int64
	Contributors int64
}

// MergeRequestTotals aggregates merge requests in a scope.
type MergeRequestTotals struct {
	Count     int64
	Opened    int64
	Merged    int64
	Closed    int64
	Additions int64
	Deletions int64
}

// TimeBucket is one row of a date_trunc timeline.
type TimeBucket struct {
	Start     time.Time
	Count     int64
	Additions int64
	Deletions int64
	Merged    int64
}

// Aggregate is a grouped row keyed by author or repository.
type Aggregate struct {
	Key          string
	Name         string
	Count        int64
	Merged       int64
	Additions    int64
	Deletions    int64
	FilesChanged int64
	LastAt       *time.Time
}

// truncUnits whitelists date_trunc units.
var truncUnits = map[string]bool{"hour": true, "day": true, "week": true, "month": true}

// extractFields maps distribution dimensions to EXTRACT fields.
var extractFields = map[string]string{"hour": "HOUR", "weekday": "DOW", "month": "MONTH"}

// where builds the shared predicate. dateCol is the timestamp column the
// range applies to; state filtering only makes sense for merge requests.
func (s AnalyticsScope) where(dateCol string, withState bool) (string, []any) {
	clause := fmt.Sprintf(" WHERE repository_id = ANY($1) AND %s >= $2 AND %s <= $3", dateCol, dateCol)
	args := []any{pq.Array(s.RepositoryIDs), s.Start, s.End}
	argIndex := 4

	if s.AuthorEmail != "" {
		clause += fmt.Sprintf(" AND LOWER(author_email) = LOWER($%d)", argIndex)
		args = append(args, s.AuthorEmail)
		argIndex++
	}
	if withState && s.State != "" {
		clause += fmt.Sprintf(" AND state = $%d", argIndex)
		args = append(args, string(s.State))
	}
	return clause, args
}

// CommitTotals sums commits in scope.
func (r *Repository) CommitTotals(ctx context.Context, scope AnalyticsScope) (CommitTotals, error) {
	var t CommitTotals
	if len(scope.RepositoryIDs) == 0 {
		return t, nil
	}

	where, args := scope.where("commit_date", false)
	query := `
		SELECT COUNT(*), COALESCE(SUM(additions), 0), COALESCE(SUM(deletions), 0),
			COALESCE(SUM(files_changed), 0), COUNT(DISTINCT LOWER(author_email))
		FROM commits` + where

	if err := r.pool.QueryRow(ctx, query, args...).Scan(
		&t.Count, &t.Additions, &t.Deletions, &t.FilesChanged, &t.Contributors,
	); err != nil {
		return t, fmt.Errorf("failed to sum commits: %w", err)
	}
	return t, nil
}

// MergeRequestTotals sums merge requests in scope.
func (r *Repository) MergeRequestTotals(ctx context.Context, scope AnalyticsScope) (MergeRequestTotals, error) {
	var t MergeRequestTotals
	if len(scope.RepositoryIDs) == 0 {
		return t, nil
	}

	where, args := scope.where("created_at_remote", true)
	query := `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE state = 'opened'),
			COUNT(*) FILTER (WHERE state = 'merged'),
			COUNT(*) FILTER (WHERE state = 'closed'),
			COALESCE(SUM(additions), 0), COALESCE(SUM(deletions), 0)
		FROM merge_requests` + where

	if err := r.pool.QueryRow(ctx, query, args...).Scan(
		&t.Count, &t.Opened, &t.Merged, &t.Closed, &t.Additions, &t.Deletions,
	); err != nil {
		return t, fmt.Errorf("failed to sum merge requests: %w", err)
	}
	return t, nil
}

// CommitTimeline buckets commits by unit (hour, day, week, month), in UTC.
func (r *Repository) CommitTimeline(ctx context.Context, scope AnalyticsScope, unit string) ([]TimeBucket, error) {
	if !truncUnits[unit] {
		return nil, ErrInvalidGrouping
	}
	if len(scope.RepositoryIDs) == 0 {
		return nil, nil
	}

	where, args := scope.where("commit_date", false)
	query := fmt.Sprintf(`
		SELECT date_trunc('%s', commit_date AT TIME ZONE 'UTC') AS bucket,
			COUNT(*), COALESCE(SUM(additions), 0), COALESCE(SUM(deletions), 0), 0
		FROM commits`, unit) + where + ` GROUP BY bucket ORDER BY bucket`

	return r.queryTimeline(ctx, query, args)
}

// MergeRequestTimeline buckets merge requests by creation time.
func (r *Repository) MergeRequestTimeline(ctx context.Context, scope AnalyticsScope, unit string) ([]TimeBucket, error) {
	if !truncUnits[unit] {
		return nil, ErrInvalidGrouping
	}
	if len(scope.RepositoryIDs) == 0 {
		return nil, nil
	}

	where, args := scope.where("created_at_remote", true)
	query := fmt.Sprintf(`
		SELECT date_trunc('%s', created_at_remote AT TIME ZONE 'UTC') AS bucket,
			COUNT(*), COALESCE(SUM(additions), 0), COALESCE(SUM(deletions), 0),
			COUNT(*) FILTER (WHERE state = 'merged')
		FROM merge_requests`, unit) + where + ` GROUP BY bucket ORDER BY bucket`

	return r.queryTimeline(ctx, query, args)
}

func (r *Repository) queryTimeline(ctx context.Context, query string, args []any) ([]TimeBucket, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query timeline: %w", err)
	}
	defer rows.Close()

	var buckets []TimeBucket
	for rows.Next() {
		var b TimeBucket
		if err := rows.Scan(&b.Start, &b.Count, &b.Additions, &b.Deletions, &b.Merged); err != nil {
			return nil, fmt.Errorf("failed to scan timeline: %w", err)
		}
		b.Start = time.Date(b.Start.Year(), b.Start.Month(), b.Start.Day(), b.Start.Hour(), 0, 0, 0, time.UTC)
		buckets = append(buckets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating timeline: %w", err)
	}
	return buckets, nil
}

// CommitsByAuthor groups commits by lower-cased author email, most active first.
func (r *Repository) CommitsByAuthor(ctx context.Context, scope AnalyticsScope) ([]Aggregate, error) {
	if len(scope.RepositoryIDs) == 0 {
		return nil, nil
	}

	where, args := scope.where("commit_date", false)
	query := `
		SELECT LOWER(author_email), MAX(author_name), COUNT(*), 0,
			COALESCE(SUM(additions), 0), COALESCE(SUM(deletions), 0), COALESCE(SUM(files_changed), 0),
			MAX(commit_date)
		FROM commits` + where + `
		GROUP BY LOWER(author_email)
		ORDER BY COUNT(*) DESC, LOWER(author_email)`

	return r.queryAggregates(ctx, query, args)
}

// MergeRequestsByAuthor groups merge requests by lower-cased author email.
func (r *Repository) MergeRequestsByAuthor(ctx context.Context, scope AnalyticsScope) ([]Aggregate, error) {
	if len(scope.RepositoryIDs) == 0 {
		return nil, nil
	}

	where, args := scope.where("created_at_remote", true)
	query := `
		SELECT LOWER(author_email), MAX(author_name), COUNT(*),
			COUNT(*) FILTER (WHERE state = 'merged'),
			COALESCE(SUM(additions), 0), COALESCE(SUM(deletions), 0), COALESCE(SUM(files_changed), 0),
			MAX(created_at_remote)
		FROM merge_requests` + where + `
		GROUP BY LOWER(author_email)
		ORDER BY COUNT(*) DESC, LOWER(author_email)`

	return r.queryAggregates(ctx, query, args)
}

// CommitsByRepository groups commits by repository id.
func (r *Repository) CommitsByRepository(ctx context.Context, scope AnalyticsScope) ([]Aggregate, error) {
	if len(scope.RepositoryIDs) == 0 {
		return nil, nil
	}

	where, args := scope.where("commit_date", false)
	query := `
		SELECT repository_id, '', COUNT(*), 0,
			COALESCE(SUM(additions), 0), COALESCE(SUM(deletions), 0), COALESCE(SUM(files_changed), 0),
			MAX(commit_date)
		FROM commits` + where + `
		GROUP BY repository_id`

	return r.queryAggregates(ctx, query, args)
}

// MergeRequestsByRepository groups merge requests by repository id.
func (r *Repository) MergeRequestsByRepository(ctx context.Context, scope AnalyticsScope) ([]Aggregate, error) {
	if len(scope.RepositoryIDs) == 0 {
		return nil, nil
	}

	where, args := scope.where("created_at_remote", true)
	query := `
		SELECT repository_id, '', COUNT(*),
			COUNT(*) FILTER (WHERE state = 'merged'),
			COALESCE(SUM(additions), 0), COALESCE(SUM(deletions), 0), COALESCE(SUM(files_changed), 0),
			MAX(created_at_remote)
		FROM merge_requests` + where + `
		GROUP BY repository_id`

	return r.queryAggregates(ctx, query, args)
}

func (r *Repository) queryAggregates(ctx context.Context, query string, args []any) ([]Aggregate, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query aggregates: %w", err)
	}
	defer rows.Close()

	var out []Aggregate
	for rows.Next() {
		var a Aggregate
		if err := rows.Scan(&a.Key, &a.Name, &a.Count, &a.Merged,
			&a.Additions, &a.Deletions, &a.FilesChanged, &a.LastAt); err != nil {
			return nil, fmt.Errorf("failed to scan aggregate: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating aggregates: %w", err)
	}
	return out, nil
}

// MergeRequestsByState counts merge requests per state.
func (r *Repository) MergeRequestsByState(ctx context.Context, scope AnalyticsScope) ([]model.StateCount, error) {
	if len(scope.RepositoryIDs) == 0 {
		return nil, nil
	}

	where, args := scope.where("created_at_remote", true)
	query := `SELECT state, COUNT(*) FROM merge_requests` + where + ` GROUP BY state ORDER BY state`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count states: %w", err)
	}
	defer rows.Close()

	var out []model.StateCount
	for rows.Next() {
		var sc model.StateCount
		var state string
		if err := rows.Scan(&state, &sc.Count); err != nil {
			return nil, fmt.Errorf("failed to scan state count: %w", err)
		}
		sc.State = model.MergeRequestState(state)
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating state counts: %w", err)
	}
	return out, nil
}

// CountByTimeUnit counts commits or merge requests per hour of day (0-23),
// weekday (0 = Sunday) or month (1-12), in UTC.
func (r *Repository) CountByTimeUnit(ctx context.Context, scope AnalyticsScope, kind model.ActivityKind, dimension string) (map[int]int64, error) {
	field, ok := extractFields[dimension]
	if !ok {
		return nil, ErrInvalidGrouping
	}

	var table, dateCol string
	switch kind {
	case model.ActivityCommit:
		table, dateCol = "commits", "commit_date"
	case model.ActivityMergeRequest:
		table, dateCol = "merge_requests", "created_at_remote"
	default:
		return nil, ErrInvalidGrouping
	}

	counts := make(map[int]int64)
	if len(scope.RepositoryIDs) == 0 {
		return counts, nil
	}

	where, args := scope.where(dateCol, kind == model.ActivityMergeRequest)
	query := fmt.Sprintf(`
		SELECT EXTRACT(%s FROM %s AT TIME ZONE 'UTC')::int AS unit, COUNT(*)
		FROM %s`, field, dateCol, table) + where + ` GROUP BY unit`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count by %s: %w", dimension, err)
	}
	defer rows.Close()

	for rows.Next() {
		var unit int
		var n int64
		if err := rows.Scan(&unit, &n); err != nil {
			return nil, fmt.Errorf("failed to scan distribution: %w", err)
		}
		counts[unit] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating distribution: %w", err)
	}
	return counts, nil
}
