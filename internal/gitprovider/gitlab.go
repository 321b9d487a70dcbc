package gitprovider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	gl "gitlab.com/gitlab-org/api/client-go"

	"github.com/devinsight/devinsight/internal/model"
)

const gitlabPlatform = "gitlab"

type gitLab struct {
	client  *gl.Client
	retrier *Retrier
	logger  *slog.Logger
}

func newGitLab(f *Factory, creds Credentials) (Provider, error) {
	opts := []gl.ClientOptionFunc{
		gl.WithHTTPClient(f.httpClient),
		// Retries go through Retrier.
		gl.WithCustomRetryMax(0),
	}
	if creds.BaseURL != "" {
		opts = append(opts, gl.WithBaseURL(strings.TrimRight(creds.BaseURL, "/")))
	}
	client, err := gl.NewClient(creds.APIKey, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gitlab client: %w", err)
	}
	client.UserAgent = userAgent
	return &gitLab{
		client:  client,
		retrier: f.retrier,
		logger:  f.logger.With("platform", gitlabPlatform),
	}, nil
}

func (g *gitLab) Platform() model.Platform {
	return model.PlatformGitLab
}

func (g *gitLab) call(ctx context.Context, op string, fn func() (*gl.Response, error)) error {
	return g.retrier.Do(ctx, func() error {
		resp, err := fn()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return gitlabError(op, resp, err)
	})
}

func gitlabError(op string, resp *gl.Response, err error) error {
	if resp != nil && resp.Response != nil {
		if mapped := statusError(gitlabPlatform, op, resp.StatusCode); mapped != nil {
			return mapped
		}
	}
	var apiErr *gl.ErrorResponse
	if errors.As(err, &apiErr) && apiErr.Response != nil {
		if mapped := statusError(gitlabPlatform, op, apiErr.Response.StatusCode); mapped != nil {
			return mapped
		}
	}
	return &Error{Platform: gitlabPlatform, Op: op, Err: fmt.Errorf("%w: %v", ErrNetwork, err)}
}

// setInt assigns v to a client-go integer field whatever its width.
func setInt[T ~int | ~int64](dst *T, v int) {
	*dst = T(v)
}

func (g *gitLab) TestConnection(ctx context.Context) error {
	return g.call(ctx, "test_connection", func() (*gl.Response, error) {
		_, resp, err := g.client.Users.CurrentUser(gl.WithContext(ctx))
		return resp, err
	})
}

func (g *gitLab) ListRepositories(ctx context.Context, q RepositoryQuery) (*RepositoryPage, error) {
	page, perPage := normalizePage(q.Page, q.PerPage)
	opts := &gl.ListProjectsOptions{
		Membership: gl.Ptr(true),
		Archived:   gl.Ptr(false),
		OrderBy:    gl.Ptr("created_at"),
		Sort:       gl.Ptr("desc"),
	}
	setInt(&opts.Page, page)
	setInt(&opts.PerPage, perPage)
	if q.Search != "" {
		opts.Search = gl.Ptr(q.Search)
	}

	var projects []*gl.Project
	total := -1
	err := g.call(ctx, "list_repositories", func() (*gl.Response, error) {
		var resp *gl.Response
		var err error
		projects, resp, err = g.client.Projects.ListProjects(opts, gl.WithContext(ctx))
		if resp != nil && resp.TotalItems > 0 {
			total = int(resp.TotalItems)
		}
		return resp, err
	})
	if err != nil {
		return nil, err
	}

	out := &RepositoryPage{Items: make([]RemoteRepository, 0, len(projects))}
	for _, p := range projects {
		out.Items = append(out.Items, RemoteRepository{
			ID:          strconv.FormatInt(int64(p.ID), 10),
			Name:        p.Name,
			FullName:    p.PathWithNamespace,
			Description: p.Description,
			WebURL:      p.WebURL,
			CloneURL:    p.HTTPURLToRepo,
			Visibility:  string(p.Visibility),
			Archived:    p.Archived,
			CreatedAt:   p.CreatedAt,
			UpdatedAt:   p.LastActivityAt,
		})
	}

	// GitLab omits X-Total above 10k rows.
	if total >= 0 {
		out.Total = total
	} else {
		out.Total, out.TotalEstimated = estimateTotal(page, perPage, len(projects)), true
	}
	return out, nil
}

func (g *gitLab) ListCommits(ctx context.Context, projectID string, q CommitQuery) ([]RemoteCommit, error) {
	if projectID == "" {
		return nil, ErrMissingProject
	}
	page, perPage := normalizePage(q.Page, q.PerPage)
	opts := &gl.ListCommitsOptions{WithStats: gl.Ptr(true)}
	setInt(&opts.Page, page)
	setInt(&opts.PerPage, perPage)
	if q.Branch != "" {
		opts.RefName = gl.Ptr(q.Branch)
	}
	if !q.Since.IsZero() {
		opts.Since = gl.Ptr(q.Since.UTC())
	}
	if !q.Until.IsZero() {
		opts.Until = gl.Ptr(q.Until.UTC())
	}

	var raw []*gl.Commit
	err := g.call(ctx, "list_commits", func() (*gl.Response, error) {
		var resp *gl.Response
		var err error
		raw, resp, err = g.client.Commits.ListCommits(projectID, opts, gl.WithContext(ctx))
		return resp, err
	})
	if err != nil {
		return nil, err
	}

	commits := make([]RemoteCommit, 0, len(raw))
	for _, c := range raw {
		rc := RemoteCommit{
			Hash:        c.ID,
			AuthorName:  c.AuthorName,
			AuthorEmail: c.AuthorEmail,
			Message:     c.Message,
		}
		switch {
		case c.CommittedDate != nil:
			rc.CommittedAt = c.CommittedDate.UTC()
		case c.AuthoredDate != nil:
			rc.CommittedAt = c.AuthoredDate.UTC()
		}
		if c.Stats != nil {
			rc.Additions = int(c.Stats.Additions)
			rc.Deletions = int(c.Stats.Deletions)
		}

		var diffs []*gl.Diff
		err := g.call(ctx, "commit_diff", func() (*gl.Response, error) {
			var resp *gl.Response
			var err error
			diffs, resp, err = g.client.Commits.GetCommitDiff(projectID, c.ID, nil, gl.WithContext(ctx))
			return resp, err
		})
		if err != nil {
			g.logger.Warn("commit_diff_failed", "commit", c.ID, "error", err)
		} else {
			rc.FilesChanged = len(diffs)
		}
		commits = append(commits, rc)
	}
	return commits, nil
}

func (g *gitLab) ListMergeRequests(ctx context.Context, projectID string, q MergeRequestQuery) ([]RemoteMergeRequest, error) {
	if projectID == "" {
		return nil, ErrMissingProject
	}
	page, perPage := normalizePage(q.Page, q.PerPage)
	opts := &gl.ListProjectMergeRequestsOptions{
		State:   gl.Ptr("all"),
		OrderBy: gl.Ptr("created_at"),
		Sort:    gl.Ptr("desc"),
	}
	setInt(&opts.Page, page)
	setInt(&opts.PerPage, perPage)
	if !q.Since.IsZero() {
		opts.CreatedAfter = gl.Ptr(q.Since.UTC())
	}

	var raw []*gl.BasicMergeRequest
	err := g.call(ctx, "list_merge_requests", func() (*gl.Response, error) {
		var resp *gl.Response
		var err error
		raw, resp, err = g.client.MergeRequests.ListProjectMergeRequests(projectID, opts, gl.WithContext(ctx))
		return resp, err
	})
	if err != nil {
		return nil, err
	}

	mrs := make([]RemoteMergeRequest, 0, len(raw))
	for _, mr := range raw {
		var name, email string
		if mr.Author != nil {
			name = mr.Author.Name
			if mr.Author.Username != "" {
				email = mr.Author.Username + "@users.noreply.gitlab.com"
			}
		}
		rm := RemoteMergeRequest{
			IID:          int64(mr.IID),
			Title:        mr.Title,
			Description:  mr.Description,
			AuthorName:   name,
			AuthorEmail:  email,
			SourceBranch: mr.SourceBranch,
			TargetBranch: mr.TargetBranch,
			State:        normalizeState(mr.State),
			UpdatedAt:    mr.UpdatedAt,
			MergedAt:     mr.MergedAt,
		}
		if mr.CreatedAt != nil {
			rm.CreatedAt = mr.CreatedAt.UTC()
		}
		mrs = append(mrs, rm)
	}
	return mrs, nil
}
