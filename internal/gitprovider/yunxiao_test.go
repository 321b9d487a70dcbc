package gitprovider

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devinsight/devinsight/internal/model"
)

const yunxiaoRepos = "/oapi/v1/codeup/organizations/org1/repositories"

func TestYunxiao_ListRepositories(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, yunxiaoRepos, r.URL.Path)
		assert.Equal(t, "tok", r.Header.Get("x-yunxiao-token"))
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		assert.Equal(t, "10", r.URL.Query().Get("perPage"))
		assert.Equal(t, "api", r.URL.Query().Get("search"))
		assert.Equal(t, "false", r.URL.Query().Get("archived"))

		w.Header().Set("x-total", "42")
		fmt.Fprint(w, `[{"id":1001,"name":"api","pathWithNamespace":"team/api","webUrl":"https://codeup/team/api",
			"visibility":"private","createdAt":"2024-01-02T03:04:05Z","lastActivityAt":"2024-02-01T00:00:00.000+0800"}]`)
	}))
	defer srv.Close()

	p := newTestProvider(t, srv, model.PlatformYunxiao, Credentials{OrganizationID: "org1"})
	page, err := p.ListRepositories(context.Background(), RepositoryQuery{Page: 2, PerPage: 10, Search: "api"})
	require.NoError(t, err)

	require.Len(t, page.Items, 1)
	repo := page.Items[0]
	assert.Equal(t, "1001", repo.ID)
	assert.Equal(t, "team/api", repo.FullName)
	assert.Equal(t, fmt.Sprintf("https://%s/team/api.git", ExtractHost(srv.URL)), repo.CloneURL)
	require.NotNil(t, repo.CreatedAt)
	assert.Equal(t, 2024, repo.CreatedAt.Year())
	require.NotNil(t, repo.UpdatedAt)
	assert.Equal(t, 42, page.Total)
	assert.False(t, page.TotalEstimated)
}

func TestYunxiao_ListRepositoriesEstimatesTotal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"id":1,"name":"a"},{"id":2,"name":"b"}]`)
	}))
	defer srv.Close()

	p := newTestProvider(t, srv, model.PlatformYunxiao, Credentials{OrganizationID: "org1"})
	page, err := p.ListRepositories(context.Background(), RepositoryQuery{Page: 1, PerPage: 2})
	require.NoError(t, err)
	assert.True(t, page.TotalEstimated)
	assert.Equal(t, 3, page.Total)
}

func TestYunxiao_ListCommitsCountsDiffLines(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(yunxiaoRepos+"/55/commits", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "main", r.URL.Query().Get("refName"))
		assert.Equal(t, "2024-03-01T00:00:00Z", r.URL.Query().Get("since"))
		fmt.Fprint(w, `[{"id":"abc","message":"fix","authorName":"Ann","authorEmail":"ann@example.com",
			"committedDate":"2024-03-02T10:00:00Z"},{"id":"def","authorEmail":"bob@example.com","authoredDate":"2024-03-03T10:00:00Z"}]`)
	})
	mux.HandleFunc(yunxiaoRepos+"/55/commits/abc/diff", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"diff":"@@ -1 +1,2 @@\n-old\n+new\n+more","newPath":"a.go"},{"diff":"@@ -0,0 +1 @@\n+x","newPath":"b.go"}]`)
	})
	mux.HandleFunc(yunxiaoRepos+"/55/commits/def/diff", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := newTestProvider(t, srv, model.PlatformYunxiao, Credentials{OrganizationID: "org1"})
	commits, err := p.ListCommits(context.Background(), "55", CommitQuery{
		Since:  time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		Branch: "main",
	})
	require.NoError(t, err)
	require.Len(t, commits, 2)

	assert.Equal(t, "abc", commits[0].Hash)
	assert.Equal(t, 3, commits[0].Additions)
	assert.Equal(t, 1, commits[0].Deletions)
	assert.Equal(t, 2, commits[0].FilesChanged)
	assert.Equal(t, 10, commits[0].CommittedAt.Hour())

	// A failed diff keeps the commit with zero stats.
	assert.Equal(t, "def", commits[1].Hash)
	assert.Zero(t, commits[1].Additions)
	assert.Equal(t, 3, commits[1].CommittedAt.Day())
}

func TestYunxiao_ListMergeRequests(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, yunxiaoRepos+"/55/changeRequests", r.URL.Path)
		fmt.Fprint(w, `[
			{"localId":3,"title":"new","state":"merged","author":{"name":"Ann","email":"ann@example.com"},
			 "createdAt":"2024-03-05T00:00:00Z","mergedAt":"2024-03-06T00:00:00Z"},
			{"localId":2,"title":"mid","state":"opened","createdAt":"2024-03-02T00:00:00Z"},
			{"localId":1,"title":"old","state":"closed","createdAt":"2024-01-01T00:00:00Z"}
		]`)
	}))
	defer srv.Close()

	p := newTestProvider(t, srv, model.PlatformYunxiao, Credentials{OrganizationID: "org1"})
	mrs, err := p.ListMergeRequests(context.Background(), "55", MergeRequestQuery{Since: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)})
	require.NoError(t, err)
	require.Len(t, mrs, 2)

	assert.Equal(t, int64(3), mrs[0].IID)
	assert.Equal(t, model.MergeRequestMerged, mrs[0].State)
	require.NotNil(t, mrs[0].MergedAt)
	assert.Equal(t, model.MergeRequestOpened, mrs[1].State)
}

func TestYunxiao_StatusErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		want      error
		wantCalls int32
	}{
		{"unauthorized is final", http.StatusUnauthorized, ErrUnauthorized, 1},
		{"not found is final", http.StatusNotFound, ErrNotFound, 1},
		{"server error is retried", http.StatusBadGateway, ErrUnavailable, DefaultMaxAttempts},
		{"rate limit is retried", http.StatusTooManyRequests, ErrRateLimited, DefaultMaxAttempts},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			p := newTestProvider(t, srv, model.PlatformYunxiao, Credentials{OrganizationID: "org1"})
			err := p.TestConnection(context.Background())
			require.ErrorIs(t, err, tt.want)

			var perr *Error
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, tt.status, perr.Status)
			assert.Equal(t, tt.wantCalls, calls.Load())
		})
	}
}

func TestYunxiao_RequiresOrganizationAndProject(t *testing.T) {
	f := NewFactory("codeup.example.com", nil, nil)
	_, err := f.New(model.PlatformYunxiao, Credentials{APIKey: "tok"})
	assert.ErrorIs(t, err, ErrMissingOrganization)

	p, err := f.New(model.PlatformYunxiao, Credentials{APIKey: "tok", OrganizationID: "org"})
	require.NoError(t, err)
	_, err = p.ListCommits(context.Background(), "", CommitQuery{})
	assert.ErrorIs(t, err, ErrMissingProject)
}

func TestDiffStats(t *testing.T) {
	add, del, files := diffStats([]yunxiaoDiff{{Diff: "\n+a\n+b\n-c"}, {Diff: ""}})
	assert.Equal(t, 2, add)
	assert.Equal(t, 1, del)
	assert.Equal(t, 2, files)
}
