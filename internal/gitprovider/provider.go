// Package gitprovider talks to Git-hosting APIs (Yunxiao Codeup, GitHub,
// GitLab) and normalises their repositories, commits and merge requests.
package gitprovider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/devinsight/devinsight/internal/metrics"
	"github.com/devinsight/devinsight/internal/model"
)

// MaxPerPage is the page size used for sync.
const MaxPerPage = 100

var (
	// ErrUnsupportedPlatform is returned for an unknown platform.
	ErrUnsupportedPlatform = errors.New("unsupported platform")
	// ErrMissingOrganization is returned when Yunxiao credentials lack an organization.
	ErrMissingOrganization = errors.New("organization id is required")
	// ErrMissingProject is returned when a repository has no provider project id.
	ErrMissingProject = errors.New("project id is required")
)

// Credentials identify an account on a provider.
type Credentials struct {
	APIKey         string
	OrganizationID string
	// BaseURL overrides the provider API root for self-hosted instances.
	BaseURL string
}

// RemoteRepository is a repository as listed by a provider.
type RemoteRepository struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	FullName    string     `json:"full_name"`
	Description string     `json:"description,omitempty"`
	WebURL      string     `json:"web_url"`
	CloneURL    string     `json:"clone_url"`
	Visibility  string     `json:"visibility,omitempty"`
	Archived    bool       `json:"archived"`
	CreatedAt   *time.Time `json:"created_at,omitempty"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
}

// RemoteCommit is a commit with its diff statistics.
type RemoteCommit struct {
	Hash         string
	AuthorName   string
	AuthorEmail  string
	Message      string
	Additions    int
	Deletions    int
	FilesChanged int
	CommittedAt  time.Time
}

// RemoteMergeRequest is a merge or pull request.
type RemoteMergeRequest struct {
	IID          int64
	Title        string
	Description  string
	AuthorName   string
	AuthorEmail  string
	SourceBranch string
	TargetBranch string
	State        model.MergeRequestState
	Additions    int
	Deletions    int
	FilesChanged int
	CommitsCount int
	CreatedAt    time.Time
	UpdatedAt    *time.Time
	MergedAt     *time.Time
}

// RepositoryQuery pages through an account's repositories.
type RepositoryQuery struct {
	Page    int
	PerPage int
	Search  string
}

// CommitQuery pages through commits in a time window.
type CommitQuery struct {
	Since   time.Time
	Until   time.Time
	Branch  string
	Page    int
	PerPage int
}

// MergeRequestQuery pages through merge requests created after Since.
type MergeRequestQuery struct {
	Since   time.Time
	Page    int
	PerPage int
}

// RepositoryPage is one page of remote repositories. Total is exact when the
// provider reports it and estimated otherwise.
type RepositoryPage struct {
	Items          []RemoteRepository
	Total          int
	TotalEstimated bool
}

// Provider is a Git-hosting API.
type Provider interface {
	Platform() model.Platform
	// TestConnection checks that the credentials can read repositories.
	TestConnection(ctx context.Context) error
	ListRepositories(ctx context.Context, q RepositoryQuery) (*RepositoryPage, error)
	ListCommits(ctx context.Context, projectID string, q CommitQuery) ([]RemoteCommit, error)
	ListMergeRequests(ctx context.Context, projectID string, q MergeRequestQuery) ([]RemoteMergeRequest, error)
}

// Factory builds providers that share one HTTP client.
type Factory struct {
	httpClient    *http.Client
	yunxiaoDomain string
	allowPrivate  bool
	retrier       *Retrier
	logger        *slog.Logger
}

// FactoryOption configures a Factory.
type FactoryOption func(*Factory)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) FactoryOption {
	return func(f *Factory) { f.httpClient = c }
}

// WithAllowPrivateHosts permits base URLs on private networks.
func WithAllowPrivateHosts(allow bool) FactoryOption {
	return func(f *Factory) { f.allowPrivate = allow }
}

// WithRetrier replaces the default retry policy.
func WithRetrier(r *Retrier) FactoryOption {
	return func(f *Factory) { f.retrier = r }
}

// NewFactory creates a Factory. yunxiaoDomain is the Codeup OpenAPI host.
func NewFactory(yunxiaoDomain string, logger *slog.Logger, recorder metrics.Recorder, opts ...FactoryOption) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	f := &Factory{
		httpClient:    NewHTTPClient(),
		yunxiaoDomain: yunxiaoDomain,
		logger:        logger.With("component", "gitprovider"),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.retrier == nil {
		f.retrier = NewRetrier(recorder)
	}
	return f
}

// New returns a provider for platform authenticated with creds.
func (f *Factory) New(platform model.Platform, creds Credentials) (Provider, error) {
	if creds.APIKey == "" {
		return nil, fmt.Errorf("%w: api key is empty", ErrUnauthorized)
	}
	if creds.BaseURL != "" {
		if err := ValidateBaseURL(creds.BaseURL, f.allowPrivate); err != nil {
			return nil, err
		}
	}

	switch platform {
	case model.PlatformYunxiao:
		return newYunxiao(f, creds)
	case model.PlatformGitHub:
		return newGitHub(f, creds)
	case model.PlatformGitLab:
		return newGitLab(f, creds)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedPlatform, platform)
	}
}

// PlatformInfo describes a supported platform for clients.
type PlatformInfo struct {
	Key            model.Platform `json:"key"`
	Name           string         `json:"name"`
	Description    string         `json:"description"`
	APIDocURL      string         `json:"api_doc_url"`
	RequiredFields []string       `json:"required_fields"`
	OptionalFields []string       `json:"optional_fields"`
}

// SupportedPlatforms lists the platforms repositories can be added from.
func SupportedPlatforms() []PlatformInfo {
	return []PlatformInfo{
		{
			Key:            model.PlatformYunxiao,
			Name:           "Alibaba Cloud Yunxiao",
			Description:    "Yunxiao Codeup code hosting",
			APIDocURL:      "https://help.aliyun.com/zh/yunxiao/developer-reference/",
			RequiredFields: []string{"api_key", "organization_id"},
			OptionalFields: []string{"api_base_url"},
		},
		{
			Key:            model.PlatformGitHub,
			Name:           "GitHub",
			Description:    "GitHub.com or GitHub Enterprise",
			APIDocURL:      "https://docs.github.com/rest",
			RequiredFields: []string{"api_key"},
			OptionalFields: []string{"project_id", "api_base_url"},
		},
		{
			Key:            model.PlatformGitLab,
			Name:           "GitLab",
			Description:    "GitLab.com or self-managed GitLab",
			APIDocURL:      "https://docs.gitlab.com/api/rest/",
			RequiredFields: []string{"api_key"},
			OptionalFields: []string{"project_id", "organization_id", "api_base_url"},
		},
	}
}
