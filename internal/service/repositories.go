package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/devinsight/devinsight/internal/auth"
	"github.com/devinsight/devinsight/internal/cache"
	"github.com/devinsight/devinsight/internal/gitprovider"
	"github.com/devinsight/devinsight/internal/metrics"
	"github.com/devinsight/devinsight/internal/model"
	"github.com/devinsight/devinsight/internal/repository"
)

// Repository service errors.
var (
	ErrRepositoryNotFound = errors.New("repository not found")
	ErrRepositoryExists   = errors.New("repository already added")
	ErrRepositoryInactive = errors.New("repository is inactive")
	ErrAlreadyTracked     = errors.New("repository is already tracked")
	ErrNotTracked         = errors.New("repository is not tracked")
	ErrInvalidAPIKey      = errors.New("stored api key cannot be decrypted")
)

const (
	DefaultPerPage = 20
	MaxPerPage     = 100
)

// ProviderFactory builds authenticated Git provider clients.
type ProviderFactory interface {
	New(platform model.Platform, creds gitprovider.Credentials) (gitprovider.Provider, error)
}

// RepositoryService manages tracked repositories.
type RepositoryService struct {
	repo         *repository.Repository
	cache        *cache.Cache
	secrets      *auth.SecretBox
	providers    ProviderFactory
	allowPrivate bool
	logger       *slog.Logger
	metrics      metrics.Recorder
}

// RepositoryServiceConfig wires a RepositoryService.
type RepositoryServiceConfig struct {
	Repository   *repository.Repository
	Cache        *cache.Cache
	Secrets      *auth.SecretBox
	Providers    ProviderFactory
	AllowPrivate bool
	Logger       *slog.Logger
	Metrics      metrics.Recorder
}

// NewRepositoryService creates a new RepositoryService.
func NewRepositoryService(cfg RepositoryServiceConfig) *RepositoryService {
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNoop()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &RepositoryService{
		repo:         cfg.Repository,
		cache:        cfg.Cache,
		secrets:      cfg.Secrets,
		providers:    cfg.Providers,
		allowPrivate: cfg.AllowPrivate,
		logger:       cfg.Logger.With("component", "service.repositories"),
		metrics:      cfg.Metrics,
	}
}

// ListRepositoriesInput filters a listing.
type ListRepositoriesInput struct {
	UserID    string
	Platform  model.Platform
	IsActive  *bool
	IsTracked *bool
	Search    string
	Page      int
	PerPage   int
}

// RepositoryList is one page of repositories.
type RepositoryList struct {
	Items   []*model.RepositoryWithStats
	Total   int64
	Page    int
	PerPage int
}

// List returns the user's repositories with counters.
func (s *RepositoryService) List(ctx context.Context, in ListRepositoriesInput) (*RepositoryList, error) {
	if in.Platform != "" && !in.Platform.IsValid() {
		return nil, fieldError("platform", "unsupported platform")
	}
	page, perPage := NormalizePagination(in.Page, in.PerPage)
	items, total, err := s.repo.ListRepositories(ctx, repository.RepositoryFilter{
		UserID:    in.UserID,
		Platform:  in.Platform,
		IsActive:  in.IsActive,
		IsTracked: in.IsTracked,
		Search:    strings.TrimSpace(in.Search),
	}, page, perPage)
	if err != nil {
		return nil, err
	}
	return &RepositoryList{Items: items, Total: total, Page: page, PerPage: perPage}, nil
}

// CreateRepositoryInput defines input for adding a repository.
type CreateRepositoryInput struct {
	UserID         string
	Name           string
	URL            string
	APIKey         string
	Platform       model.Platform
	ProjectID      string
	OrganizationID string
	APIBaseURL     string
	IsTracked      *bool
}

// Create validates and stores a repository with its encrypted API key.
func (s *RepositoryService) Create(ctx context.Context, in CreateRepositoryInput) (*model.Repository, error) {
	errs := validationErrors{}
	errs.add("name", ValidateRepositoryName(in.Name))
	gitURL, err := ValidateGitURL(in.URL)
	errs.add("url", err)
	if strings.TrimSpace(in.APIKey) == "" {
		errs.add("api_key", fieldError("api_key", "is required"))
	}

	platform := in.Platform
	if platform == "" && gitURL != nil {
		platform = InferPlatform(gitURL.Host)
	}
	if !platform.IsValid() {
		errs.add("platform", fieldError("platform", "unsupported platform"))
	}

	projectID := strings.TrimSpace(in.ProjectID)
	if projectID == "" && gitURL != nil {
		projectID = gitprovider.ProjectIDFromURL(platform, in.URL)
	}
	if projectID == "" && platform.IsValid() {
		errs.add("project_id", fieldError("project_id", "is required for this platform"))
	}
	if platform == model.PlatformYunxiao && strings.TrimSpace(in.OrganizationID) == "" {
		errs.add("organization_id", fieldError("organization_id", "is required for yunxiao"))
	}
	if in.APIBaseURL != "" {
		if err := gitprovider.ValidateBaseURL(in.APIBaseURL, s.allowPrivate); err != nil {
			errs.add("api_base_url", fieldError("api_base_url", err.Error()))
		}
	}
	if err := errs.err(); err != nil {
		return nil, err
	}

	tracked := true
	if in.IsTracked != nil {
		tracked = *in.IsTracked
	}
	return s.insert(ctx, &model.Repository{
		UserID:         in.UserID,
		Name:           strings.TrimSpace(in.Name),
		URL:            strings.TrimSpace(in.URL),
		Platform:       platform,
		ProjectID:      projectID,
		OrganizationID: strings.TrimSpace(in.OrganizationID),
		APIBaseURL:     strings.TrimRight(in.APIBaseURL, "/"),
		IsTracked:      tracked,
	}, in.APIKey)
}

func (s *RepositoryService) insert(ctx context.Context, repo *model.Repository, apiKey string) (*model.Repository, error) {
	encrypted, err := s.secrets.Encrypt(strings.TrimSpace(apiKey))
	if err != nil {
		return nil, fmt.Errorf("encrypt api key: %w", err)
	}

	now := time.Now().UTC()
	repo.ID = generateULID()
	repo.APIKeyEncrypted = encrypted
	repo.IsActive = true
	repo.SyncStatus = model.SyncStatusPending
	repo.CreatedAt = now
	repo.UpdatedAt = now

	if err := s.repo.CreateRepository(ctx, repo); err != nil {
		if errors.Is(err, repository.ErrRepositoryExists) {
			return nil, ErrRepositoryExists
		}
		return nil, fmt.Errorf("create repository: %w", err)
	}

	s.invalidateAnalytics(ctx, repo.UserID)
	s.metrics.IncRepositoryCreated()
	s.logger.Info("repository_created",
		"repository_id", repo.ID,
		"user_id", repo.UserID,
		"platform", repo.Platform,
	)
	return repo, nil
}

// Get returns one of the user's repositories.
func (s *RepositoryService) Get(ctx context.Context, userID, id string) (*model.Repository, error) {
	repo, err := s.repo.GetRepository(ctx, userID, id)
	if err != nil {
		if errors.Is(err, repository.ErrRepositoryNotFound) {
			return nil, ErrRepositoryNotFound
		}
		return nil, err
	}
	return repo, nil
}

// UpdateRepositoryInput holds optional field changes.
type UpdateRepositoryInput struct {
	Name      *string
	APIKey    *string
	IsActive  *bool
	IsTracked *bool
}

// Update applies the non-nil fields.
func (s *RepositoryService) Update(ctx context.Context, userID, id string, in UpdateRepositoryInput) (*model.Repository, error) {
	repo, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	errs := validationErrors{}
	if in.Name != nil {
		errs.add("name", ValidateRepositoryName(*in.Name))
		repo.Name = strings.TrimSpace(*in.Name)
	}
	if in.APIKey != nil {
		if strings.TrimSpace(*in.APIKey) == "" {
			errs.add("api_key", fieldError("api_key", "cannot be empty"))
		} else if repo.APIKeyEncrypted, err = s.secrets.Encrypt(strings.TrimSpace(*in.APIKey)); err != nil {
			return nil, fmt.Errorf("encrypt api key: %w", err)
		}
	}
	if err := errs.err(); err != nil {
		return nil, err
	}
	if in.IsActive != nil {
		repo.IsActive = *in.IsActive
	}
	if in.IsTracked != nil {
		repo.IsTracked = *in.IsTracked
	}
	repo.UpdatedAt = time.Now().UTC()

	if err := s.save(ctx, repo); err != nil {
		return nil, err
	}
	s.logger.Info("repository_updated", "repository_id", repo.ID, "user_id", userID)
	return repo, nil
}

// Delete removes a repository and its synced data.
func (s *RepositoryService) Delete(ctx context.Context, userID, id string) error {
	if err := s.repo.DeleteRepository(ctx, userID, id); err != nil {
		if errors.Is(err, repository.ErrRepositoryNotFound) {
			return ErrRepositoryNotFound
		}
		return err
	}
	s.invalidateAnalytics(ctx, userID)
	s.metrics.IncRepositoryDeleted()
	s.logger.Info("repository_deleted", "repository_id", id, "user_id", userID)
	return nil
}

// SetTracked toggles scheduled syncing. Setting the current state fails with
// ErrAlreadyTracked or ErrNotTracked.
func (s *RepositoryService) SetTracked(ctx context.Context, userID, id string, tracked bool) (*model.Repository, error) {
	repo, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if repo.IsTracked == tracked {
		if tracked {
			return nil, ErrAlreadyTracked
		}
		return nil, ErrNotTracked
	}
	repo.IsTracked = tracked
	repo.UpdatedAt = time.Now().UTC()
	if err := s.save(ctx, repo); err != nil {
		return nil, err
	}
	return repo, nil
}

func (s *RepositoryService) save(ctx context.Context, repo *model.Repository) error {
	if err := s.repo.UpdateRepository(ctx, repo); err != nil {
		if errors.Is(err, repository.ErrRepositoryNotFound) {
			return ErrRepositoryNotFound
		}
		return err
	}
	s.invalidateAnalytics(ctx, repo.UserID)
	return nil
}

// SyncStatus returns one repository's sync state.
func (s *RepositoryService) SyncStatus(ctx context.Context, userID, id string) (*model.SyncStatusInfo, error) {
	repo, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	return syncStatusOf(repo), nil
}

// SyncStatuses returns the sync state of all the user's repositories.
func (s *RepositoryService) SyncStatuses(ctx context.Context, userID string) ([]*model.SyncStatusInfo, error) {
	items, _, err := s.repo.ListRepositories(ctx, repository.RepositoryFilter{UserID: userID}, 1, 1000)
	if err != nil {
		return nil, err
	}
	out := make([]*model.SyncStatusInfo, 0, len(items))
	for _, item := range items {
		out = append(out, syncStatusOf(&item.Repository))
	}
	return out, nil
}

func syncStatusOf(repo *model.Repository) *model.SyncStatusInfo {
	return &model.SyncStatusInfo{
		RepositoryID:  repo.ID,
		Name:          repo.Name,
		Status:        repo.SyncStatus,
		LastSyncAt:    repo.LastSyncAt,
		LastSyncError: repo.LastSyncError,
		IsTracked:     repo.IsTracked,
		IsActive:      repo.IsActive,
	}
}

// Platforms lists supported providers.
func (s *RepositoryService) Platforms() []gitprovider.PlatformInfo {
	return gitprovider.SupportedPlatforms()
}

// ValidateCredentialsInput is a credentials check request.
type ValidateCredentialsInput struct {
	URL            string
	APIKey         string
	Platform       model.Platform
	OrganizationID string
	APIBaseURL     string
}

// CredentialCheck is the outcome of ValidateCredentials.
type CredentialCheck struct {
	Valid    bool           `json:"valid"`
	Platform model.Platform `json:"platform"`
	Message  string         `json:"message"`
}

// ValidateCredentials checks the URL shape and, if it parses, that the
// provider accepts the API key. Provider rejections are reported in the
// result rather than as errors.
func (s *RepositoryService) ValidateCredentials(ctx context.Context, in ValidateCredentialsInput) (*CredentialCheck, error) {
	errs := validationErrors{}
	gitURL, err := ValidateGitURL(in.URL)
	errs.add("url", err)
	if strings.TrimSpace(in.APIKey) == "" {
		errs.add("api_key", fieldError("api_key", "is required"))
	}
	if err := errs.err(); err != nil {
		return nil, err
	}

	platform := in.Platform
	if platform == "" {
		platform = InferPlatform(gitURL.Host)
	}
	provider, err := s.providers.New(platform, gitprovider.Credentials{
		APIKey:         strings.TrimSpace(in.APIKey),
		OrganizationID: in.OrganizationID,
		BaseURL:        in.APIBaseURL,
	})
	if err != nil {
		return &CredentialCheck{Platform: platform, Message: err.Error()}, nil
	}
	if err := provider.TestConnection(ctx); err != nil {
		return &CredentialCheck{Platform: platform, Message: ProviderMessage(err)}, nil
	}
	return &CredentialCheck{Valid: true, Platform: platform, Message: "credentials are valid"}, nil
}

// RemoteSearchInput queries an organization's Yunxiao repositories.
type RemoteSearchInput struct {
	UserID         string
	OrganizationID string
	APIKey         string
	Search         string
	Page           int
	PerPage        int
}

// RemoteRepositoryStatus annotates a remote repository with local state.
type RemoteRepositoryStatus struct {
	gitprovider.RemoteRepository
	IsAdded      bool   `json:"is_added"`
	IsTracked    bool   `json:"is_tracked"`
	RepositoryID string `json:"local_repository_id,omitempty"`
}

// RemoteSearchResult is one page of remote repositories.
type RemoteSearchResult struct {
	Items          []RemoteRepositoryStatus
	Total          int
	TotalEstimated bool
	Page           int
	PerPage        int
}

// SearchYunxiao lists an organization's repositories and marks those the
// user already added.
func (s *RepositoryService) SearchYunxiao(ctx context.Context, in RemoteSearchInput) (*RemoteSearchResult, error) {
	errs := validationErrors{}
	if strings.TrimSpace(in.OrganizationID) == "" {
		errs.add("organization_id", fieldError("organization_id", "is required"))
	}
	if strings.TrimSpace(in.APIKey) == "" {
		errs.add("api_key", fieldError("api_key", "is required"))
	}
	if err := errs.err(); err != nil {
		return nil, err
	}

	provider, err := s.providers.New(model.PlatformYunxiao, gitprovider.Credentials{
		APIKey:         strings.TrimSpace(in.APIKey),
		OrganizationID: strings.TrimSpace(in.OrganizationID),
	})
	if err != nil {
		return nil, err
	}

	page, perPage := NormalizePagination(in.Page, in.PerPage)
	remote, err := provider.ListRepositories(ctx, gitprovider.RepositoryQuery{
		Page:    page,
		PerPage: perPage,
		Search:  strings.TrimSpace(in.Search),
	})
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(remote.Items))
	for _, r := range remote.Items {
		ids = append(ids, r.ID)
	}
	existing, err := s.repo.ListRepositoriesByProjectIDs(ctx, in.UserID, model.PlatformYunxiao, ids)
	if err != nil {
		return nil, err
	}
	byProject := make(map[string]*model.Repository, len(existing))
	for _, r := range existing {
		byProject[r.ProjectID] = r
	}

	out := &RemoteSearchResult{
		Items:          make([]RemoteRepositoryStatus, 0, len(remote.Items)),
		Total:          remote.Total,
		TotalEstimated: remote.TotalEstimated,
		Page:           page,
		PerPage:        perPage,
	}
	for _, r := range remote.Items {
		item := RemoteRepositoryStatus{RemoteRepository: r}
		if local, ok := byProject[r.ID]; ok {
			item.IsAdded = true
			item.IsTracked = local.IsTracked
			item.RepositoryID = local.ID
		}
		out.Items = append(out.Items, item)
	}
	return out, nil
}

// AddYunxiaoInput adds a repository picked from SearchYunxiao.
type AddYunxiaoInput struct {
	UserID         string
	RepositoryID   string
	Name           string
	CloneURL       string
	WebURL         string
	APIKey         string
	OrganizationID string
	IsTracked      bool
}

// AddYunxiao stores a Yunxiao repository. It is untracked unless asked.
func (s *RepositoryService) AddYunxiao(ctx context.Context, in AddYunxiaoInput) (*model.Repository, error) {
	errs := validationErrors{}
	if strings.TrimSpace(in.RepositoryID) == "" {
		errs.add("repository_id", fieldError("repository_id", "is required"))
	}
	errs.add("name", ValidateRepositoryName(in.Name))
	url := strings.TrimSpace(in.CloneURL)
	if url == "" {
		url = strings.TrimSpace(in.WebURL)
	}
	_, err := ValidateGitURL(url)
	errs.add("clone_url", err)
	if strings.TrimSpace(in.APIKey) == "" {
		errs.add("api_key", fieldError("api_key", "is required"))
	}
	if strings.TrimSpace(in.OrganizationID) == "" {
		errs.add("organization_id", fieldError("organization_id", "is required"))
	}
	if err := errs.err(); err != nil {
		return nil, err
	}

	return s.insert(ctx, &model.Repository{
		UserID:         in.UserID,
		Name:           strings.TrimSpace(in.Name),
		URL:            url,
		Platform:       model.PlatformYunxiao,
		ProjectID:      strings.TrimSpace(in.RepositoryID),
		OrganizationID: strings.TrimSpace(in.OrganizationID),
		IsTracked:      in.IsTracked,
	}, in.APIKey)
}

func (s *RepositoryService) invalidateAnalytics(ctx context.Context, userID string) {
	if s.cache == nil {
		return
	}
	if _, err := s.cache.InvalidateUserAnalytics(ctx, userID); err != nil {
		s.logger.Warn("analytics_invalidation_failed", "user_id", userID, "error", err)
	}
}

// InferPlatform guesses the provider from a repository host.
func InferPlatform(host string) model.Platform {
	host = strings.ToLower(host)
	switch {
	case host == "github.com" || strings.HasSuffix(host, ".github.com"):
		return model.PlatformGitHub
	case strings.Contains(host, "gitlab"):
		return model.PlatformGitLab
	default:
		return model.PlatformYunxiao
	}
}

// NormalizePagination clamps page to >= 1 and perPage to 1..MaxPerPage.
func NormalizePagination(page, perPage int) (int, int) {
	if page < 1 {
		page = 1
	}
	switch {
	case perPage < 1:
		perPage = DefaultPerPage
	case perPage > MaxPerPage:
		perPage = MaxPerPage
	}
	return page, perPage
}

// ProviderMessage renders a provider error for API clients.
func ProviderMessage(err error) string {
	switch {
	case errors.Is(err, gitprovider.ErrUnauthorized):
		return "invalid or expired access token"
	case errors.Is(err, gitprovider.ErrForbidden):
		return "insufficient permission for this repository"
	case errors.Is(err, gitprovider.ErrNotFound):
		return "repository not found on the provider"
	case errors.Is(err, gitprovider.ErrRateLimited):
		return "provider rate limit exceeded, retry later"
	case errors.Is(err, gitprovider.ErrUnavailable):
		return "provider is temporarily unavailable"
	case errors.Is(err, gitprovider.ErrNetwork):
		return "provider is unreachable"
	case errors.Is(err, gitprovider.ErrMissingOrganization):
		return "organization id is required"
	default:
		return "provider request failed"
	}
}
