package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/oauth2"

	"github.com/devinsight/devinsight/internal/client/state"
	"github.com/devinsight/devinsight/internal/handler/dto"
	"github.com/devinsight/devinsight/internal/model"
)

// AnalyticsParams are the query parameters shared by the analytics
// endpoints. Zero values are omitted.
type AnalyticsParams struct {
	StartDate     string
	EndDate       string
	RepositoryIDs []string
	GroupBy       string
	AuthorEmail   string
	State         string
	ScoreConfig   *model.ScoreConfig
	Type          string
	Dimension     string
	Limit         int
	Days          int
	Cursor        string
}

// Values encodes the parameters. url.Values.Encode sorts keys, so the
// encoded form doubles as a canonical cache key.
func (p AnalyticsParams) Values() url.Values {
	v := url.Values{}
	set := func(k, val string) {
		if val != "" {
			v.Set(k, val)
		}
	}
	set("start_date", p.StartDate)
	set("end_date", p.EndDate)
	set("repository_ids", strings.Join(p.RepositoryIDs, ","))
	set("group_by", p.GroupBy)
	set("author_email", p.AuthorEmail)
	set("state", p.State)
	set("type", p.Type)
	set("dimension", p.Dimension)
	set("cursor", p.Cursor)
	if p.Limit > 0 {
		v.Set("limit", strconv.Itoa(p.Limit))
	}
	if p.Days > 0 {
		v.Set("days", strconv.Itoa(p.Days))
	}
	if p.ScoreConfig != nil {
		raw, _ := json.Marshal(p.ScoreConfig)
		v.Set("score_config", string(raw))
	}
	return v
}

// ListParams filters the repository listing.
type ListParams struct {
	Page      int
	PerPage   int
	Platform  string
	Search    string
	IsActive  *bool
	IsTracked *bool
}

func (p ListParams) values() url.Values {
	v := url.Values{}
	if p.Page > 0 {
		v.Set("page", strconv.Itoa(p.Page))
	}
	if p.PerPage > 0 {
		v.Set("per_page", strconv.Itoa(p.PerPage))
	}
	if p.Platform != "" {
		v.Set("platform", p.Platform)
	}
	if p.Search != "" {
		v.Set("search", p.Search)
	}
	if p.IsActive != nil {
		v.Set("is_active", strconv.FormatBool(*p.IsActive))
	}
	if p.IsTracked != nil {
		v.Set("is_tracked", strconv.FormatBool(*p.IsTracked))
	}
	return v
}

// ActivityPage is one page of the activity feed.
type ActivityPage struct {
	Items      []*model.ActivityRecord `json:"items"`
	NextCursor string                  `json:"next_cursor"`
	HasMore    bool                    `json:"has_more"`
}

// ============================================================================
// Auth
// ============================================================================

// Register creates an account and stores the returned session.
func (c *Client) Register(ctx context.Context, in dto.RegisterRequest) (*model.User, error) {
	var out dto.AuthResponse
	if err := c.call(ctx, http.MethodPost, pathRegister, nil, in, &out); err != nil {
		return nil, err
	}
	return c.startSession(ctx, out)
}

// Login authenticates and stores the returned session.
func (c *Client) Login(ctx context.Context, in dto.LoginRequest) (*model.User, error) {
	var out dto.AuthResponse
	if err := c.call(ctx, http.MethodPost, pathLogin, nil, in, &out); err != nil {
		return nil, err
	}
	return c.startSession(ctx, out)
}

func (c *Client) startSession(ctx context.Context, out dto.AuthResponse) (*model.User, error) {
	tok := &oauth2.Token{
		AccessToken:  out.AccessToken,
		RefreshToken: out.RefreshToken,
		TokenType:    out.TokenType,
		Expiry:       c.expiry(out.ExpiresIn),
	}
	if err := c.storeToken(ctx, tok); err != nil {
		return nil, err
	}
	if c.cache != nil {
		c.cache.Clear()
		if out.User != nil {
			if raw, err := json.Marshal(out.User); err == nil {
				c.cache.Set(state.KeyProfile, raw, c.cacheTTL)
			}
		}
	}
	return out.User, nil
}

// Logout revokes the session server-side and always clears local state.
func (c *Client) Logout(ctx context.Context) error {
	var body dto.LogoutRequest
	if tok, err := c.tokens.Load(ctx); err == nil {
		body.RefreshToken = tok.RefreshToken
	}
	err := c.call(ctx, http.MethodPost, "/api/v1/auth/logout", nil, body, nil)
	c.dropSession(ctx)
	return err
}

// Profile returns the signed-in user.
func (c *Client) Profile(ctx context.Context) (*model.User, error) {
	var out model.User
	if err := c.cachedGet(ctx, state.KeyProfile, "/api/v1/auth/profile", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ============================================================================
// Repositories
// ============================================================================

// ListRepositories returns one page of the user's repositories.
func (c *Client) ListRepositories(ctx context.Context, p ListParams) (*dto.Page[*model.RepositoryWithStats], error) {
	q := p.values()
	var out dto.Page[*model.RepositoryWithStats]
	if err := c.cachedGet(ctx, state.PrefixRepos+"list?"+q.Encode(), "/api/v1/repositories", q, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateRepository adds a repository.
func (c *Client) CreateRepository(ctx context.Context, in dto.CreateRepositoryRequest) (*model.Repository, error) {
	var out model.Repository
	if err := c.call(ctx, http.MethodPost, "/api/v1/repositories", nil, in, &out); err != nil {
		return nil, err
	}
	c.invalidateRepositoryState()
	return &out, nil
}

// UpdateRepository changes name, API key or flags of a repository.
func (c *Client) UpdateRepository(ctx context.Context, id string, in dto.UpdateRepositoryRequest) (*model.Repository, error) {
	var out model.Repository
	if err := c.call(ctx, http.MethodPut, "/api/v1/repositories/"+url.PathEscape(id), nil, in, &out); err != nil {
		return nil, err
	}
	c.invalidateRepositoryState()
	return &out, nil
}

// SetTracked tracks or untracks a repository. The server answers 409 when
// it is already in that state.
func (c *Client) SetTracked(ctx context.Context, id string, tracked bool) (*model.Repository, error) {
	action := "/untrack"
	if tracked {
		action = "/track"
	}
	var out model.Repository
	if err := c.call(ctx, http.MethodPost, "/api/v1/repositories/"+url.PathEscape(id)+action, nil, nil, &out); err != nil {
		return nil, err
	}
	c.invalidateRepositoryState()
	return &out, nil
}

// DeleteRepository removes a repository and its synced data.
func (c *Client) DeleteRepository(ctx context.Context, id string) error {
	if err := c.call(ctx, http.MethodDelete, "/api/v1/repositories/"+url.PathEscape(id), nil, nil, nil); err != nil {
		return err
	}
	c.invalidateRepositoryState()
	return nil
}

// SyncResponse is the outcome of a sync request: Result for a synchronous
// run, Job when the sync was queued.
type SyncResponse struct {
	Result *model.SyncResult
	Job    *dto.SyncJobResponse
}

// SyncRepository runs or queues a sync.
func (c *Client) SyncRepository(ctx context.Context, id string, in dto.SyncRequest) (*SyncResponse, error) {
	var raw json.RawMessage
	if err := c.call(ctx, http.MethodPost, "/api/v1/repositories/"+url.PathEscape(id)+"/sync", nil, in, &raw); err != nil {
		return nil, err
	}
	c.invalidateRepositoryState()

	out := &SyncResponse{}
	if len(raw) == 0 {
		return out, nil
	}
	if in.Async {
		out.Job = &dto.SyncJobResponse{}
		return out, json.Unmarshal(raw, out.Job)
	}
	out.Result = &model.SyncResult{}
	return out, json.Unmarshal(raw, out.Result)
}

// SyncStatuses returns the sync state of every repository.
func (c *Client) SyncStatuses(ctx context.Context) ([]*model.SyncStatusInfo, error) {
	var out []*model.SyncStatusInfo
	err := c.call(ctx, http.MethodGet, "/api/v1/repositories/sync-status", nil, nil, &out)
	return out, err
}

func (c *Client) invalidateRepositoryState() {
	if c.cache == nil {
		return
	}
	c.cache.Invalidate(state.PrefixRepos)
	c.cache.Invalidate(state.PrefixAnalytics)
}

// ============================================================================
// Analytics
// ============================================================================

func analyticsGet[T any](ctx context.Context, c *Client, endpoint string, p AnalyticsParams) (*T, error) {
	q := p.Values()
	var out T
	key := state.PrefixAnalytics + endpoint + "?" + q.Encode()
	if err := c.cachedGet(ctx, key, "/api/v1/analytics/"+endpoint, q, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AnalyticsOverview returns headline totals.
func (c *Client) AnalyticsOverview(ctx context.Context, p AnalyticsParams) (*model.Overview, error) {
	return analyticsGet[model.Overview](ctx, c, "overview", p)
}

// CommitAnalytics returns the commit timeline and breakdowns.
func (c *Client) CommitAnalytics(ctx context.Context, p AnalyticsParams) (*model.CommitAnalytics, error) {
	return analyticsGet[model.CommitAnalytics](ctx, c, "commits", p)
}

// MergeRequestAnalytics returns merge request statistics.
func (c *Client) MergeRequestAnalytics(ctx context.Context, p AnalyticsParams) (*model.MergeRequestAnalytics, error) {
	return analyticsGet[model.MergeRequestAnalytics](ctx, c, "merge-requests", p)
}

// EfficiencyScore returns weighted productivity scores.
func (c *Client) EfficiencyScore(ctx context.Context, p AnalyticsParams) (*model.EfficiencyReport, error) {
	return analyticsGet[model.EfficiencyReport](ctx, c, "efficiency-score", p)
}

// TimeDistribution returns activity bucketed by hour, weekday or month.
func (c *Client) TimeDistribution(ctx context.Context, p AnalyticsParams) (*model.TimeDistribution, error) {
	return analyticsGet[model.TimeDistribution](ctx, c, "time-distribution", p)
}

// Contributors returns the top contributors.
func (c *Client) Contributors(ctx context.Context, p AnalyticsParams) ([]model.Contributor, error) {
	out, err := analyticsGet[[]model.Contributor](ctx, c, "contributors", p)
	if err != nil {
		return nil, err
	}
	return *out, nil
}

// Activity returns one page of the activity feed. The feed is not cached.
func (c *Client) Activity(ctx context.Context, p AnalyticsParams) (*ActivityPage, error) {
	var out ActivityPage
	if err := c.call(ctx, http.MethodGet, "/api/v1/analytics/activity", p.Values(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Dashboard returns the combined dashboard payload.
func (c *Client) Dashboard(ctx context.Context, days int) (*model.Dashboard, error) {
	return analyticsGet[model.Dashboard](ctx, c, "dashboard", AnalyticsParams{Days: days})
}

// ============================================================================
// Plumbing
// ============================================================================

// cachedGet serves GET path from the cache under key when possible.
func (c *Client) cachedGet(ctx context.Context, key, path string, query url.Values, out any) error {
	if c.cache != nil {
		if raw, ok := c.cache.Get(key); ok {
			return json.Unmarshal(raw, out)
		}
	}
	var raw json.RawMessage
	if err := c.call(ctx, http.MethodGet, path, query, nil, &raw); err != nil {
		return err
	}
	if len(raw) == 0 {
		return nil
	}
	if c.cache != nil {
		c.cache.Set(key, raw, c.cacheTTL)
	}
	return json.Unmarshal(raw, out)
}

// call sends a JSON request through Do and decodes the envelope data into
// out. Non-2xx responses become *APIError.
func (c *Client) call(ctx context.Context, method, path string, query url.Values, in, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var body *bytes.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	var req *http.Request
	var err error
	if body != nil {
		req, err = http.NewRequestWithContext(ctx, method, target, body)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, target, nil)
	}
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	return decodeEnvelope(resp, out)
}
