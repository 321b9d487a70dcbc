package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/devinsight/devinsight/internal/cache"
	"github.com/devinsight/devinsight/internal/metrics"
	"github.com/devinsight/devinsight/internal/model"
	"github.com/devinsight/devinsight/internal/repository"
)

// Analytics limits.
const (
	DefaultContributorsLimit = 10
	MaxContributorsLimit     = 100
	DefaultActivityLimit     = 20
	MaxActivityLimit         = 100
	dashboardRepositories    = 5
	dashboardActivity        = 10
	dashboardRecentDays      = 7
)

// AnalyticsQuery is the common scope of analytics requests.
type AnalyticsQuery struct {
	UserID        string
	Range         DateRange
	RepositoryIDs []string
}

func (q AnalyticsQuery) params() url.Values {
	v := url.Values{}
	v.Set("range", q.Range.CacheKey())
	if len(q.RepositoryIDs) > 0 {
		ids := append([]string(nil), q.RepositoryIDs...)
		sort.Strings(ids)
		v.Set("repository_ids", strings.Join(ids, ","))
	}
	return v
}

// AnalyticsService computes dashboards over synced data. Results are cached
// in Redis per user and concurrent misses for the same key share one query.
type AnalyticsService struct {
	repo    *repository.Repository
	cache   *cache.Cache
	ttl     time.Duration
	group   singleflight.Group
	logger  *slog.Logger
	metrics metrics.Recorder
	now     func() time.Time
}

// NewAnalyticsService creates a new AnalyticsService. A nil cache disables
// response caching.
func NewAnalyticsService(repo *repository.Repository, c *cache.Cache, ttl time.Duration, logger *slog.Logger, recorder metrics.Recorder) *AnalyticsService {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AnalyticsService{
		repo:    repo,
		cache:   c,
		ttl:     ttl,
		logger:  logger.With("component", "service.analytics"),
		metrics: recorder,
		now:     time.Now,
	}
}

// cachedQuery serves endpoint from the cache or computes, stores and shares it.
func cachedQuery[T any](ctx context.Context, s *AnalyticsService, userID, endpoint string, params url.Values, compute func(context.Context) (T, error)) (T, error) {
	var out T
	key := cache.AnalyticsKey(userID, endpoint, params)

	if s.cache != nil {
		data, err := s.cache.GetAnalytics(ctx, key)
		switch {
		case err == nil:
			if jsonErr := json.Unmarshal(data, &out); jsonErr == nil {
				s.metrics.IncAnalyticsCacheHit()
				return out, nil
			}
		case !errors.Is(err, cache.ErrCacheMiss):
			s.logger.Warn("analytics_cache_read_failed", "endpoint", endpoint, "error", err)
		}
		s.metrics.IncAnalyticsCacheMiss()
	}

	data, err, shared := s.group.Do(key, func() (any, error) {
		start := time.Now()
		v, err := compute(ctx)
		s.metrics.ObserveAnalyticsQuery(time.Since(start))
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		if s.cache != nil {
			if err := s.cache.SetAnalytics(context.WithoutCancel(ctx), key, data, s.ttl); err != nil {
				s.logger.Warn("analytics_cache_write_failed", "endpoint", endpoint, "error", err)
			}
		}
		return data, nil
	})
	if err != nil {
		return out, err
	}
	if shared {
		s.logger.Debug("analytics_query_shared", "endpoint", endpoint)
	}
	if err := json.Unmarshal(data.([]byte), &out); err != nil {
		return out, err
	}
	return out, nil
}

// scope resolves the user's active repositories within the requested ids.
func (s *AnalyticsService) scope(ctx context.Context, q AnalyticsQuery) ([]*model.Repository, repository.AnalyticsScope, error) {
	repos, err := s.repo.ListActiveRepositories(ctx, q.UserID, q.RepositoryIDs)
	if err != nil {
		return nil, repository.AnalyticsScope{}, err
	}
	ids := make([]string, 0, len(repos))
	for _, r := range repos {
		ids = append(ids, r.ID)
	}
	return repos, repository.AnalyticsScope{RepositoryIDs: ids, Start: q.Range.Start, End: q.Range.End}, nil
}

// Overview returns headline totals.
func (s *AnalyticsService) Overview(ctx context.Context, q AnalyticsQuery) (model.Overview, error) {
	return cachedQuery(ctx, s, q.UserID, "overview", q.params(), func(ctx context.Context) (model.Overview, error) {
		return s.overview(ctx, q)
	})
}

func (s *AnalyticsService) overview(ctx context.Context, q AnalyticsQuery) (model.Overview, error) {
	out := model.Overview{Period: periodOf(q.Range)}
	repos, scope, err := s.scope(ctx, q)
	if err != nil {
		return out, err
	}
	ct, err := s.repo.CommitTotals(ctx, scope)
	if err != nil {
		return out, err
	}
	mt, err := s.repo.MergeRequestTotals(ctx, scope)
	if err != nil {
		return out, err
	}

	out.RepositoriesCount = int64(len(repos))
	out.CommitsCount = ct.Count
	out.MergeRequestsCount = mt.Count
	out.ActiveContributors = ct.Contributors
	out.CodeChanges = model.CodeChanges{
		Additions:  ct.Additions,
		Deletions:  ct.Deletions,
		NetChanges: ct.Additions - ct.Deletions,
	}
	return out, nil
}

// CommitQuery narrows commit analytics.
type CommitQuery struct {
	AnalyticsQuery
	GroupBy     string
	AuthorEmail string
}

var commitGroupings = map[string]bool{"hour": true, "day": true, "week": true, "month": true, "author": true}

// Commits returns a commit timeline or per-author breakdown.
func (s *AnalyticsService) Commits(ctx context.Context, q CommitQuery) (model.CommitAnalytics, error) {
	if q.GroupBy == "" {
		q.GroupBy = "day"
	}
	if !commitGroupings[q.GroupBy] {
		return model.CommitAnalytics{}, fieldError("group_by", "must be one of hour, day, week, month, author")
	}
	q.AuthorEmail = normalizeEmail(q.AuthorEmail)

	params := q.params()
	params.Set("group_by", q.GroupBy)
	params.Set("author_email", q.AuthorEmail)

	return cachedQuery(ctx, s, q.UserID, "commits", params, func(ctx context.Context) (model.CommitAnalytics, error) {
		out := model.CommitAnalytics{GroupBy: q.GroupBy, Period: periodOf(q.Range)}
		_, scope, err := s.scope(ctx, q.AnalyticsQuery)
		if err != nil {
			return out, err
		}
		scope.AuthorEmail = q.AuthorEmail

		if q.GroupBy == "author" {
			aggs, err := s.repo.CommitsByAuthor(ctx, scope)
			if err != nil {
				return out, err
			}
			out.Authors = AuthorStatsOf(aggs, false)
		} else {
			buckets, err := s.repo.CommitTimeline(ctx, scope, q.GroupBy)
			if err != nil {
				return out, err
			}
			out.Timeline = Timeline(buckets, q.GroupBy)
		}

		ct, err := s.repo.CommitTotals(ctx, scope)
		if err != nil {
			return out, err
		}
		out.Summary = model.CommitSummary{
			TotalCommits:   ct.Count,
			TotalAdditions: ct.Additions,
			TotalDeletions: ct.Deletions,
			Contributors:   ct.Contributors,
		}
		return out, nil
	})
}

// MergeRequestQuery narrows merge request analytics.
type MergeRequestQuery struct {
	AnalyticsQuery
	GroupBy     string
	State       model.MergeRequestState
	AuthorEmail string
}

var mergeRequestGroupings = map[string]bool{"day": true, "week": true, "month": true, "author": true, "state": true}

// MergeRequests returns a merge request timeline, per-author or per-state
// breakdown.
func (s *AnalyticsService) MergeRequests(ctx context.Context, q MergeRequestQuery) (model.MergeRequestAnalytics, error) {
	if q.GroupBy == "" {
		q.GroupBy = "day"
	}
	errs := validationErrors{}
	if !mergeRequestGroupings[q.GroupBy] {
		errs.add("group_by", fieldError("group_by", "must be one of day, week, month, author, state"))
	}
	if q.State != "" && !q.State.IsValid() {
		errs.add("state", fieldError("state", "must be one of opened, merged, closed"))
	}
	if err := errs.err(); err != nil {
		return model.MergeRequestAnalytics{}, err
	}
	q.AuthorEmail = normalizeEmail(q.AuthorEmail)

	params := q.params()
	params.Set("group_by", q.GroupBy)
	params.Set("state", string(q.State))
	params.Set("author_email", q.AuthorEmail)

	return cachedQuery(ctx, s, q.UserID, "merge-requests", params, func(ctx context.Context) (model.MergeRequestAnalytics, error) {
		out := model.MergeRequestAnalytics{GroupBy: q.GroupBy, Period: periodOf(q.Range)}
		_, scope, err := s.scope(ctx, q.AnalyticsQuery)
		if err != nil {
			return out, err
		}
		scope.AuthorEmail = q.AuthorEmail
		scope.State = q.State

		switch q.GroupBy {
		case "author":
			aggs, err := s.repo.MergeRequestsByAuthor(ctx, scope)
			if err != nil {
				return out, err
			}
			out.Authors = AuthorStatsOf(aggs, true)
		case "state":
			if out.States, err = s.repo.MergeRequestsByState(ctx, scope); err != nil {
				return out, err
			}
		default:
			buckets, err := s.repo.MergeRequestTimeline(ctx, scope, q.GroupBy)
			if err != nil {
				return out, err
			}
			out.Timeline = Timeline(buckets, q.GroupBy)
		}

		mt, err := s.repo.MergeRequestTotals(ctx, scope)
		if err != nil {
			return out, err
		}
		out.Summary = model.MergeRequestSummary{
			Total:     mt.Count,
			Opened:    mt.Opened,
			Merged:    mt.Merged,
			Closed:    mt.Closed,
			MergeRate: MergeRate(mt.Merged, mt.Count),
		}
		return out, nil
	})
}

// EfficiencyQuery ranks authors or repositories.
type EfficiencyQuery struct {
	AnalyticsQuery
	GroupBy string
	Config  model.ScoreConfig
}

// EfficiencyScore ranks authors or repositories by weighted score.
func (s *AnalyticsService) EfficiencyScore(ctx context.Context, q EfficiencyQuery) (model.EfficiencyReport, error) {
	if q.GroupBy == "" {
		q.GroupBy = "author"
	}
	if q.GroupBy != "author" && q.GroupBy != "repository" {
		return model.EfficiencyReport{}, fieldError("group_by", "must be one of author, repository")
	}

	params := q.params()
	params.Set("group_by", q.GroupBy)
	cfgJSON, _ := json.Marshal(q.Config)
	params.Set("score_config", string(cfgJSON))

	return cachedQuery(ctx, s, q.UserID, "efficiency-score", params, func(ctx context.Context) (model.EfficiencyReport, error) {
		out := model.EfficiencyReport{GroupBy: q.GroupBy, Config: q.Config, Period: periodOf(q.Range), Items: []model.EfficiencyScore{}}
		repos, scope, err := s.scope(ctx, q.AnalyticsQuery)
		if err != nil {
			return out, err
		}

		if q.GroupBy == "author" {
			out.Items, err = s.authorScores(ctx, scope, q.Config)
			return out, err
		}

		commits, err := s.repo.CommitsByRepository(ctx, scope)
		if err != nil {
			return out, err
		}
		mrs, err := s.repo.MergeRequestsByRepository(ctx, scope)
		if err != nil {
			return out, err
		}
		names := make(map[string]string, len(repos))
		for _, r := range repos {
			names[r.ID] = r.Name
		}
		out.Items = RepositoryScores(commits, mrs, names, q.Config)
		return out, nil
	})
}

func (s *AnalyticsService) authorScores(ctx context.Context, scope repository.AnalyticsScope, cfg model.ScoreConfig) ([]model.EfficiencyScore, error) {
	commits, err := s.repo.CommitsByAuthor(ctx, scope)
	if err != nil {
		return nil, err
	}
	mrs, err := s.repo.MergeRequestsByAuthor(ctx, scope)
	if err != nil {
		return nil, err
	}
	return AuthorScores(commits, mrs, cfg), nil
}

// DistributionQuery selects a time distribution.
type DistributionQuery struct {
	AnalyticsQuery
	Type      string
	Dimension string
}

// TimeDistribution buckets activity by hour of day, weekday or month.
func (s *AnalyticsService) TimeDistribution(ctx context.Context, q DistributionQuery) (model.TimeDistribution, error) {
	if q.Type == "" {
		q.Type = "commits"
	}
	if q.Dimension == "" {
		q.Dimension = DimensionHour
	}
	errs := validationErrors{}
	kind := model.ActivityCommit
	switch q.Type {
	case "commits":
	case "merge_requests":
		kind = model.ActivityMergeRequest
	default:
		errs.add("type", fieldError("type", "must be one of commits, merge_requests"))
	}
	if _, _, _, err := Distribution(nil, q.Dimension); err != nil {
		errs.add("dimension", err)
	}
	if err := errs.err(); err != nil {
		return model.TimeDistribution{}, err
	}

	params := q.params()
	params.Set("type", q.Type)
	params.Set("dimension", q.Dimension)

	return cachedQuery(ctx, s, q.UserID, "time-distribution", params, func(ctx context.Context) (model.TimeDistribution, error) {
		out := model.TimeDistribution{Type: q.Type, Dimension: q.Dimension, Period: periodOf(q.Range)}
		_, scope, err := s.scope(ctx, q.AnalyticsQuery)
		if err != nil {
			return out, err
		}
		counts, err := s.repo.CountByTimeUnit(ctx, scope, kind, q.Dimension)
		if err != nil {
			return out, err
		}
		out.Distribution, out.Total, out.PeakTime, err = Distribution(counts, q.Dimension)
		return out, err
	})
}

// Contributors ranks authors by commits. limit must be within 1..100.
func (s *AnalyticsService) Contributors(ctx context.Context, q AnalyticsQuery, limit int) ([]model.Contributor, error) {
	if limit == 0 {
		limit = DefaultContributorsLimit
	}
	if limit < 1 || limit > MaxContributorsLimit {
		return nil, fieldError("limit", "must be between 1 and 100")
	}

	params := q.params()
	params.Set("limit", strconv.Itoa(limit))

	return cachedQuery(ctx, s, q.UserID, "contributors", params, func(ctx context.Context) ([]model.Contributor, error) {
		_, scope, err := s.scope(ctx, q)
		if err != nil {
			return nil, err
		}
		return s.contributors(ctx, scope, limit)
	})
}

func (s *AnalyticsService) contributors(ctx context.Context, scope repository.AnalyticsScope, limit int) ([]model.Contributor, error) {
	commits, err := s.repo.CommitsByAuthor(ctx, scope)
	if err != nil {
		return nil, err
	}
	mrs, err := s.repo.MergeRequestsByAuthor(ctx, scope)
	if err != nil {
		return nil, err
	}
	return Contributors(commits, mrs, limit), nil
}

// ActivityPage is one page of the activity feed.
type ActivityPage struct {
	Items      []*model.ActivityRecord `json:"items"`
	NextCursor string                  `json:"next_cursor,omitempty"`
	HasMore    bool                    `json:"has_more"`
}

// Activity pages through recent commits and merge requests. It is not
// cached so new syncs show up immediately.
func (s *AnalyticsService) Activity(ctx context.Context, userID string, repositoryIDs []string, cursor string, limit int) (*ActivityPage, error) {
	switch {
	case limit == 0:
		limit = DefaultActivityLimit
	case limit < 1 || limit > MaxActivityLimit:
		return nil, fieldError("limit", "must be between 1 and 100")
	}

	repos, err := s.repo.ListActiveRepositories(ctx, userID, repositoryIDs)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(repos))
	for _, r := range repos {
		ids = append(ids, r.ID)
	}

	items, next, err := s.repo.ListActivity(ctx, ids, cursor, limit)
	if err != nil {
		if errors.Is(err, repository.ErrInvalidCursor) {
			return nil, fieldError("cursor", "is invalid")
		}
		return nil, err
	}
	if items == nil {
		items = []*model.ActivityRecord{}
	}
	return &ActivityPage{Items: items, NextCursor: next, HasMore: next != ""}, nil
}

// Repository returns the detail view of one repository over the last days.
func (s *AnalyticsService) Repository(ctx context.Context, userID, repositoryID string, days int) (model.RepositoryAnalytics, error) {
	if days <= 0 {
		days = DefaultAnalyticsDays
	}
	repo, err := s.repo.GetRepository(ctx, userID, repositoryID)
	if err != nil {
		return model.RepositoryAnalytics{}, mapRepositoryErr(err)
	}

	end := s.now().UTC()
	r := DateRange{Start: end.AddDate(0, 0, -days), End: end}
	params := url.Values{}
	params.Set("days", strconv.Itoa(days))
	params.Set("repository_id", repo.ID)
	params.Set("date", end.Format(time.DateOnly))

	return cachedQuery(ctx, s, userID, "repository", params, func(ctx context.Context) (model.RepositoryAnalytics, error) {
		out := model.RepositoryAnalytics{
			Repository: model.RepositoryRef{ID: repo.ID, Name: repo.Name, URL: repo.URL},
			Days:       days,
			Period:     periodOf(r),
		}
		scope := repository.AnalyticsScope{RepositoryIDs: []string{repo.ID}, Start: r.Start, End: r.End}

		ct, err := s.repo.CommitTotals(ctx, scope)
		if err != nil {
			return out, err
		}
		mt, err := s.repo.MergeRequestTotals(ctx, scope)
		if err != nil {
			return out, err
		}
		daily, err := s.repo.CommitTimeline(ctx, scope, "day")
		if err != nil {
			return out, err
		}
		if out.TopContributors, err = s.contributors(ctx, scope, DefaultContributorsLimit); err != nil {
			return out, err
		}
		if out.States, err = s.repo.MergeRequestsByState(ctx, scope); err != nil {
			return out, err
		}

		out.CommitsCount = ct.Count
		out.MergeRequests = mt.Count
		out.Contributors = ct.Contributors
		out.CodeChanges = model.CodeChanges{Additions: ct.Additions, Deletions: ct.Deletions, NetChanges: ct.Additions - ct.Deletions}
		out.DailyCommits = DailySeries(daily, r.Start, r.End)
		return out, nil
	})
}

// TeamProductivity summarises per-member output over the last days.
func (s *AnalyticsService) TeamProductivity(ctx context.Context, userID string, repositoryIDs []string, days int) (model.TeamProductivity, error) {
	if days <= 0 {
		days = DefaultAnalyticsDays
	}
	end := s.now().UTC()
	q := AnalyticsQuery{
		UserID:        userID,
		Range:         DateRange{Start: end.AddDate(0, 0, -days), End: end},
		RepositoryIDs: repositoryIDs,
	}
	// Keyed by date rather than instant so the entry is reused within a day.
	params := q.params()
	params.Set("range", strconv.Itoa(days)+"d..today:"+end.Format(time.DateOnly))

	return cachedQuery(ctx, s, userID, "team-productivity", params, func(ctx context.Context) (model.TeamProductivity, error) {
		return s.teamProductivity(ctx, q, days)
	})
}

func (s *AnalyticsService) teamProductivity(ctx context.Context, q AnalyticsQuery, days int) (model.TeamProductivity, error) {
	out := model.TeamProductivity{Days: days, Period: periodOf(q.Range), AnalyzedRepositories: []string{}, Members: []model.EfficiencyScore{}}
	_, scope, err := s.scope(ctx, q)
	if err != nil {
		return out, err
	}
	out.AnalyzedRepositories = append(out.AnalyzedRepositories, scope.RepositoryIDs...)

	members, err := s.authorScores(ctx, scope, model.DefaultScoreConfig())
	if err != nil {
		return out, err
	}
	mt, err := s.repo.MergeRequestTotals(ctx, scope)
	if err != nil {
		return out, err
	}

	var commits int64
	for _, m := range members {
		commits += m.Stats.Commits
	}
	if members != nil {
		out.Members = members
	}
	out.TotalCommits = commits
	out.TotalMergeRequests = mt.Count
	out.AvgCommitsPerMember = perUnit(commits, len(members))
	out.AvgCommitsPerDay = perUnit(commits, days)
	return out, nil
}

// Dashboard bundles overview, team productivity, recent repositories and
// recent activity.
func (s *AnalyticsService) Dashboard(ctx context.Context, userID string, days int) (model.Dashboard, error) {
	if days <= 0 {
		days = DefaultAnalyticsDays
	}
	end := s.now().UTC()
	params := url.Values{}
	params.Set("days", strconv.Itoa(days))
	params.Set("date", end.Format(time.DateOnly))

	return cachedQuery(ctx, s, userID, "dashboard", params, func(ctx context.Context) (model.Dashboard, error) {
		q := AnalyticsQuery{UserID: userID, Range: DateRange{Start: end.AddDate(0, 0, -days), End: end}}
		out := model.Dashboard{Days: days, RecentRepositories: []model.RepositoryActivity{}, RecentActivity: []model.ActivityRecord{}}

		var err error
		if out.Overview, err = s.overview(ctx, q); err != nil {
			return out, err
		}
		if out.Team, err = s.teamProductivity(ctx, q, days); err != nil {
			return out, err
		}

		repos, _, err := s.scope(ctx, q)
		if err != nil {
			return out, err
		}
		out.TotalRepositories = len(repos)
		if out.RecentRepositories, err = s.recentRepositories(ctx, firstRepos(repos, dashboardRepositories), end); err != nil {
			return out, err
		}

		ids := make([]string, 0, len(repos))
		for _, r := range repos {
			ids = append(ids, r.ID)
		}
		feed, _, err := s.repo.ListActivity(ctx, ids, "", dashboardActivity)
		if err != nil {
			return out, err
		}
		for _, rec := range feed {
			out.RecentActivity = append(out.RecentActivity, *rec)
		}
		return out, nil
	})
}

func (s *AnalyticsService) recentRepositories(ctx context.Context, repos []*model.Repository, end time.Time) ([]model.RepositoryActivity, error) {
	out := make([]model.RepositoryActivity, 0, len(repos))
	if len(repos) == 0 {
		return out, nil
	}
	ids := make([]string, 0, len(repos))
	for _, r := range repos {
		ids = append(ids, r.ID)
	}
	scope := repository.AnalyticsScope{RepositoryIDs: ids, Start: end.AddDate(0, 0, -dashboardRecentDays), End: end}

	commits, err := s.repo.CommitsByRepository(ctx, scope)
	if err != nil {
		return nil, err
	}
	mrs, err := s.repo.MergeRequestsByRepository(ctx, scope)
	if err != nil {
		return nil, err
	}
	commitCounts := make(map[string]int64, len(commits))
	for _, a := range commits {
		commitCounts[a.Key] = a.Count
	}
	mrCounts := make(map[string]int64, len(mrs))
	for _, a := range mrs {
		mrCounts[a.Key] = a.Count
	}

	for _, r := range repos {
		out = append(out, model.RepositoryActivity{
			Repository:         model.RepositoryRef{ID: r.ID, Name: r.Name, URL: r.URL},
			CommitsCount:       commitCounts[r.ID],
			MergeRequestsCount: mrCounts[r.ID],
			LastSyncAt:         r.LastSyncAt,
		})
	}
	return out, nil
}

func firstRepos(repos []*model.Repository, n int) []*model.Repository {
	if len(repos) > n {
		return repos[:n]
	}
	return repos
}
