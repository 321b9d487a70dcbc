package gitprovider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/devinsight/devinsight/internal/model"
)

const (
	yunxiaoTokenHeader = "x-yunxiao-token"
	yunxiaoTotalHeader = "x-total"
	yunxiaoPlatform    = "yunxiao"
)

// yunxiao is the Codeup OpenAPI client.
type yunxiao struct {
	baseURL string
	domain  string
	token   string
	org     string
	http    *http.Client
	retrier *Retrier
	logger  *slog.Logger
}

func newYunxiao(f *Factory, creds Credentials) (Provider, error) {
	if creds.OrganizationID == "" {
		return nil, ErrMissingOrganization
	}
	base := "https://" + f.yunxiaoDomain
	domain := f.yunxiaoDomain
	if creds.BaseURL != "" {
		base = strings.TrimRight(creds.BaseURL, "/")
		domain = ExtractHost(base)
	}
	return &yunxiao{
		baseURL: base,
		domain:  domain,
		token:   creds.APIKey,
		org:     creds.OrganizationID,
		http:    f.httpClient,
		retrier: f.retrier,
		logger:  f.logger.With("platform", yunxiaoPlatform),
	}, nil
}

func (y *yunxiao) Platform() model.Platform {
	return model.PlatformYunxiao
}

type yunxiaoRepository struct {
	ID                json.Number `json:"id"`
	Name              string      `json:"name"`
	PathWithNamespace string      `json:"pathWithNamespace"`
	Description       string      `json:"description"`
	WebURL            string      `json:"webUrl"`
	Visibility        string      `json:"visibility"`
	Archived          bool        `json:"archived"`
	CreatedAt         string      `json:"createdAt"`
	LastActivityAt    string      `json:"lastActivityAt"`
}

type yunxiaoCommit struct {
	ID            string `json:"id"`
	Message       string `json:"message"`
	AuthorName    string `json:"authorName"`
	AuthorEmail   string `json:"authorEmail"`
	AuthoredDate  string `json:"authoredDate"`
	CommittedDate string `json:"committedDate"`
}

type yunxiaoDiff struct {
	Diff    string `json:"diff"`
	NewPath string `json:"newPath"`
}

type yunxiaoUser struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Username string `json:"username"`
}

type yunxiaoChangeRequest struct {
	LocalID      json.Number `json:"localId"`
	Title        string      `json:"title"`
	Description  string      `json:"description"`
	State        string      `json:"state"`
	Author       yunxiaoUser `json:"author"`
	SourceBranch string      `json:"sourceBranch"`
	TargetBranch string      `json:"targetBranch"`
	CreatedAt    string      `json:"createdAt"`
	UpdatedAt    string      `json:"updatedAt"`
	MergedAt     string      `json:"mergedAt"`
}

func (y *yunxiao) repoPath(rest string) string {
	return fmt.Sprintf("/oapi/v1/codeup/organizations/%s/repositories%s", url.PathEscape(y.org), rest)
}

// get performs a GET with retries and decodes the JSON body into out.
func (y *yunxiao) get(ctx context.Context, op, path string, query url.Values, out any) (http.Header, error) {
	var header http.Header
	err := y.retrier.Do(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, y.baseURL+path, nil)
		if err != nil {
			return &Error{Platform: yunxiaoPlatform, Op: op, Err: err}
		}
		req.URL.RawQuery = query.Encode()
		req.Header.Set(yunxiaoTokenHeader, y.token)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", userAgent)

		resp, err := y.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &Error{Platform: yunxiaoPlatform, Op: op, Err: fmt.Errorf("%w: %v", ErrNetwork, err)}
		}
		defer resp.Body.Close()

		y.logger.Debug("provider_request", "op", op, "status", resp.StatusCode)

		if err := statusError(yunxiaoPlatform, op, resp.StatusCode); err != nil {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
			return err
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &Error{Platform: yunxiaoPlatform, Op: op, Err: fmt.Errorf("decode response: %w", err)}
		}
		header = resp.Header
		return nil
	})
	return header, err
}

func (y *yunxiao) TestConnection(ctx context.Context) error {
	var repos []yunxiaoRepository
	_, err := y.get(ctx, "test_connection", y.repoPath(""), url.Values{"page": {"1"}, "perPage": {"1"}}, &repos)
	return err
}

func (y *yunxiao) ListRepositories(ctx context.Context, q RepositoryQuery) (*RepositoryPage, error) {
	page, perPage := normalizePage(q.Page, q.PerPage)
	params := url.Values{
		"page":     {strconv.Itoa(page)},
		"perPage":  {strconv.Itoa(perPage)},
		"orderBy":  {"created_at"},
		"sort":     {"desc"},
		"archived": {"false"},
	}
	if q.Search != "" {
		params.Set("search", q.Search)
	}

	var raw []yunxiaoRepository
	header, err := y.get(ctx, "list_repositories", y.repoPath(""), params, &raw)
	if err != nil {
		return nil, err
	}

	out := &RepositoryPage{Items: make([]RemoteRepository, 0, len(raw))}
	for _, r := range raw {
		out.Items = append(out.Items, RemoteRepository{
			ID:          r.ID.String(),
			Name:        r.Name,
			FullName:    r.PathWithNamespace,
			Description: r.Description,
			WebURL:      r.WebURL,
			CloneURL:    fmt.Sprintf("https://%s/%s.git", yunxiaoCloneHost(y.domain), r.PathWithNamespace),
			Visibility:  r.Visibility,
			Archived:    r.Archived,
			CreatedAt:   parseTimePtr(r.CreatedAt),
			UpdatedAt:   parseTimePtr(r.LastActivityAt),
		})
	}

	if total, err := strconv.Atoi(header.Get(yunxiaoTotalHeader)); err == nil && total >= 0 {
		out.Total = total
	} else {
		out.Total, out.TotalEstimated = estimateTotal(page, perPage, len(raw)), true
	}
	return out, nil
}

func (y *yunxiao) ListCommits(ctx context.Context, projectID string, q CommitQuery) ([]RemoteCommit, error) {
	if projectID == "" {
		return nil, ErrMissingProject
	}
	page, perPage := normalizePage(q.Page, q.PerPage)
	params := url.Values{
		"page":    {strconv.Itoa(page)},
		"perPage": {strconv.Itoa(perPage)},
	}
	if q.Branch != "" {
		params.Set("refName", q.Branch)
	}
	if !q.Since.IsZero() {
		params.Set("since", q.Since.UTC().Format(time.RFC3339))
	}
	if !q.Until.IsZero() {
		params.Set("until", q.Until.UTC().Format(time.RFC3339))
	}

	var raw []yunxiaoCommit
	repo := "/" + url.PathEscape(projectID)
	if _, err := y.get(ctx, "list_commits", y.repoPath(repo+"/commits"), params, &raw); err != nil {
		return nil, err
	}

	commits := make([]RemoteCommit, 0, len(raw))
	for _, c := range raw {
		rc := RemoteCommit{
			Hash:        c.ID,
			AuthorName:  c.AuthorName,
			AuthorEmail: c.AuthorEmail,
			Message:     c.Message,
			CommittedAt: firstTime(c.CommittedDate, c.AuthoredDate),
		}

		// Stats are best effort; a failed diff leaves zero counts.
		var diffs []yunxiaoDiff
		if _, err := y.get(ctx, "commit_diff", y.repoPath(repo+"/commits/"+url.PathEscape(c.ID)+"/diff"), nil, &diffs); err != nil {
			y.logger.Warn("commit_diff_failed", "commit", c.ID, "error", err)
		} else {
			rc.Additions, rc.Deletions, rc.FilesChanged = diffStats(diffs)
		}
		commits = append(commits, rc)
	}
	return commits, nil
}

func (y *yunxiao) ListMergeRequests(ctx context.Context, projectID string, q MergeRequestQuery) ([]RemoteMergeRequest, error) {
	if projectID == "" {
		return nil, ErrMissingProject
	}
	page, perPage := normalizePage(q.Page, q.PerPage)
	params := url.Values{
		"page":    {strconv.Itoa(page)},
		"perPage": {strconv.Itoa(perPage)},
		"orderBy": {"created_at"},
		"sort":    {"desc"},
	}
	if !q.Since.IsZero() {
		params.Set("createdAfter", q.Since.UTC().Format(time.RFC3339))
	}

	var raw []yunxiaoChangeRequest
	if _, err := y.get(ctx, "list_change_requests", y.repoPath("/"+url.PathEscape(projectID)+"/changeRequests"), params, &raw); err != nil {
		return nil, err
	}

	mrs := make([]RemoteMergeRequest, 0, len(raw))
	for _, cr := range raw {
		iid, err := cr.LocalID.Int64()
		if err != nil {
			continue
		}
		created := parseTime(cr.CreatedAt)
		if !q.Since.IsZero() && !created.IsZero() && created.Before(q.Since) {
			continue
		}
		mrs = append(mrs, RemoteMergeRequest{
			IID:          iid,
			Title:        cr.Title,
			Description:  cr.Description,
			AuthorName:   cr.Author.Name,
			AuthorEmail:  cr.Author.Email,
			SourceBranch: cr.SourceBranch,
			TargetBranch: cr.TargetBranch,
			State:        normalizeState(cr.State),
			CreatedAt:    created,
			UpdatedAt:    parseTimePtr(cr.UpdatedAt),
			MergedAt:     parseTimePtr(cr.MergedAt),
		})
	}
	return mrs, nil
}

// diffStats counts added and removed lines the way Codeup diffs are shaped:
// every "\n+" starts an added line and every "\n-" a removed one.
func diffStats(diffs []yunxiaoDiff) (additions, deletions, files int) {
	for _, d := range diffs {
		additions += strings.Count(d.Diff, "\n+")
		deletions += strings.Count(d.Diff, "\n-")
	}
	return additions, deletions, len(diffs)
}

// yunxiaoCloneHost maps the OpenAPI host to the Git host.
func yunxiaoCloneHost(domain string) string {
	if strings.HasPrefix(domain, "openapi-rdc.") {
		return "codeup.aliyun.com"
	}
	return domain
}
