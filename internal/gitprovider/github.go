package gitprovider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/google/go-github/v82/github"

	"github.com/devinsight/devinsight/internal/model"
)

const githubPlatform = "github"

type gitHub struct {
	client  *github.Client
	retrier *Retrier
	logger  *slog.Logger
}

func newGitHub(f *Factory, creds Credentials) (Provider, error) {
	client := github.NewClient(f.httpClient).WithAuthToken(creds.APIKey)
	if creds.BaseURL != "" {
		var err error
		base := strings.TrimRight(creds.BaseURL, "/") + "/"
		if client, err = client.WithEnterpriseURLs(base, base); err != nil {
			return nil, fmt.Errorf("github enterprise url: %w", err)
		}
	}
	client.UserAgent = userAgent
	return &gitHub{
		client:  client,
		retrier: f.retrier,
		logger:  f.logger.With("platform", githubPlatform),
	}, nil
}

func (g *gitHub) Platform() model.Platform {
	return model.PlatformGitHub
}

// call runs one API request with retries and maps go-github errors onto the
// provider sentinels.
func (g *gitHub) call(ctx context.Context, op string, fn func() (*github.Response, error)) error {
	return g.retrier.Do(ctx, func() error {
		resp, err := fn()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return githubError(op, resp, err)
	})
}

func githubError(op string, resp *github.Response, err error) error {
	var rateErr *github.RateLimitError
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &rateErr) || errors.As(err, &abuseErr) {
		return &Error{Platform: githubPlatform, Status: 429, Op: op, Err: ErrRateLimited}
	}
	if resp != nil && resp.Response != nil {
		if mapped := statusError(githubPlatform, op, resp.StatusCode); mapped != nil {
			return mapped
		}
	}
	return &Error{Platform: githubPlatform, Op: op, Err: fmt.Errorf("%w: %v", ErrNetwork, err)}
}

func (g *gitHub) TestConnection(ctx context.Context) error {
	return g.call(ctx, "test_connection", func() (*github.Response, error) {
		_, resp, err := g.client.Users.Get(ctx, "")
		return resp, err
	})
}

func (g *gitHub) ListRepositories(ctx context.Context, q RepositoryQuery) (*RepositoryPage, error) {
	page, perPage := normalizePage(q.Page, q.PerPage)
	opts := &github.RepositoryListByAuthenticatedUserOptions{
		Sort:        "created",
		Direction:   "desc",
		ListOptions: github.ListOptions{Page: page, PerPage: perPage},
	}

	var repos []*github.Repository
	var last int
	err := g.call(ctx, "list_repositories", func() (*github.Response, error) {
		var resp *github.Response
		var err error
		repos, resp, err = g.client.Repositories.ListByAuthenticatedUser(ctx, opts)
		if resp != nil {
			last = resp.LastPage
		}
		return resp, err
	})
	if err != nil {
		return nil, err
	}

	out := &RepositoryPage{Items: make([]RemoteRepository, 0, len(repos)), TotalEstimated: true}
	search := strings.ToLower(q.Search)
	for _, r := range repos {
		if r.GetArchived() {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(r.GetFullName()), search) {
			continue
		}
		out.Items = append(out.Items, RemoteRepository{
			ID:          strconv.FormatInt(r.GetID(), 10),
			Name:        r.GetName(),
			FullName:    r.GetFullName(),
			Description: r.GetDescription(),
			WebURL:      r.GetHTMLURL(),
			CloneURL:    r.GetCloneURL(),
			Visibility:  r.GetVisibility(),
			Archived:    r.GetArchived(),
			CreatedAt:   timePtr(r.GetCreatedAt().Time),
			UpdatedAt:   timePtr(r.GetUpdatedAt().Time),
		})
	}

	if last > 0 {
		out.Total = last * perPage
	} else {
		out.Total = (page-1)*perPage + len(out.Items)
	}
	return out, nil
}

func (g *gitHub) ListCommits(ctx context.Context, projectID string, q CommitQuery) ([]RemoteCommit, error) {
	owner, name, err := splitGitHubProject(projectID)
	if err != nil {
		return nil, err
	}
	page, perPage := normalizePage(q.Page, q.PerPage)
	opts := &github.CommitsListOptions{
		SHA:         q.Branch,
		Since:       q.Since,
		Until:       q.Until,
		ListOptions: github.ListOptions{Page: page, PerPage: perPage},
	}

	var raw []*github.RepositoryCommit
	err = g.call(ctx, "list_commits", func() (*github.Response, error) {
		var resp *github.Response
		var err error
		raw, resp, err = g.client.Repositories.ListCommits(ctx, owner, name, opts)
		return resp, err
	})
	if err != nil {
		return nil, err
	}

	commits := make([]RemoteCommit, 0, len(raw))
	for _, c := range raw {
		author := c.GetCommit().GetAuthor()
		rc := RemoteCommit{
			Hash:        c.GetSHA(),
			AuthorName:  author.GetName(),
			AuthorEmail: author.GetEmail(),
			Message:     c.GetCommit().GetMessage(),
			CommittedAt: author.GetDate().Time.UTC(),
		}
		if rc.CommittedAt.IsZero() {
			rc.CommittedAt = c.GetCommit().GetCommitter().GetDate().Time.UTC()
		}

		// The list endpoint omits stats; fetch them per commit, best effort.
		var full *github.RepositoryCommit
		err := g.call(ctx, "get_commit", func() (*github.Response, error) {
			var resp *github.Response
			var err error
			full, resp, err = g.client.Repositories.GetCommit(ctx, owner, name, rc.Hash, nil)
			return resp, err
		})
		if err != nil {
			g.logger.Warn("commit_stats_failed", "commit", rc.Hash, "error", err)
		} else {
			rc.Additions = full.GetStats().GetAdditions()
			rc.Deletions = full.GetStats().GetDeletions()
			rc.FilesChanged = len(full.Files)
		}
		commits = append(commits, rc)
	}
	return commits, nil
}

func (g *gitHub) ListMergeRequests(ctx context.Context, projectID string, q MergeRequestQuery) ([]RemoteMergeRequest, error) {
	owner, name, err := splitGitHubProject(projectID)
	if err != nil {
		return nil, err
	}
	page, perPage := normalizePage(q.Page, q.PerPage)
	opts := &github.PullRequestListOptions{
		State:       "all",
		Sort:        "created",
		Direction:   "desc",
		ListOptions: github.ListOptions{Page: page, PerPage: perPage},
	}

	var raw []*github.PullRequest
	err = g.call(ctx, "list_pull_requests", func() (*github.Response, error) {
		var resp *github.Response
		var err error
		raw, resp, err = g.client.PullRequests.List(ctx, owner, name, opts)
		return resp, err
	})
	if err != nil {
		return nil, err
	}

	mrs := make([]RemoteMergeRequest, 0, len(raw))
	for _, pr := range raw {
		created := pr.GetCreatedAt().Time.UTC()
		if !q.Since.IsZero() && created.Before(q.Since) {
			continue
		}
		login := pr.GetUser().GetLogin()
		email := pr.GetUser().GetEmail()
		if email == "" && login != "" {
			email = login + "@users.noreply.github.com"
		}

		state := model.MergeRequestOpened
		switch {
		case !pr.GetMergedAt().Time.IsZero():
			state = model.MergeRequestMerged
		case pr.GetState() == "closed":
			state = model.MergeRequestClosed
		}

		mrs = append(mrs, RemoteMergeRequest{
			IID:          int64(pr.GetNumber()),
			Title:        pr.GetTitle(),
			Description:  pr.GetBody(),
			AuthorName:   login,
			AuthorEmail:  email,
			SourceBranch: pr.GetHead().GetRef(),
			TargetBranch: pr.GetBase().GetRef(),
			State:        state,
			Additions:    pr.GetAdditions(),
			Deletions:    pr.GetDeletions(),
			FilesChanged: pr.GetChangedFiles(),
			CommitsCount: pr.GetCommits(),
			CreatedAt:    created,
			UpdatedAt:    timePtr(pr.GetUpdatedAt().Time),
			MergedAt:     timePtr(pr.GetMergedAt().Time),
		})
	}
	return mrs, nil
}

func splitGitHubProject(projectID string) (owner, name string, err error) {
	owner, name, ok := strings.Cut(projectID, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return "", "", fmt.Errorf("%w: expected owner/repo, got %q", ErrMissingProject, projectID)
	}
	return owner, name, nil
}
