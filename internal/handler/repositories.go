package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/devinsight/devinsight/internal/auth"
	"github.com/devinsight/devinsight/internal/gitprovider"
	"github.com/devinsight/devinsight/internal/handler/dto"
	"github.com/devinsight/devinsight/internal/model"
	"github.com/devinsight/devinsight/internal/service"
)

// RepositoryService is the repository management API used by
// RepositoryHandler.
type RepositoryService interface {
	List(ctx context.Context, in service.ListRepositoriesInput) (*service.RepositoryList, error)
	Create(ctx context.Context, in service.CreateRepositoryInput) (*model.Repository, error)
	Get(ctx context.Context, userID, id string) (*model.Repository, error)
	Update(ctx context.Context, userID, id string, in service.UpdateRepositoryInput) (*model.Repository, error)
	Delete(ctx context.Context, userID, id string) error
	SetTracked(ctx context.Context, userID, id string, tracked bool) (*model.Repository, error)
	SyncStatus(ctx context.Context, userID, id string) (*model.SyncStatusInfo, error)
	SyncStatuses(ctx context.Context, userID string) ([]*model.SyncStatusInfo, error)
	Platforms() []gitprovider.PlatformInfo
	ValidateCredentials(ctx context.Context, in service.ValidateCredentialsInput) (*service.CredentialCheck, error)
	SearchYunxiao(ctx context.Context, in service.RemoteSearchInput) (*service.RemoteSearchResult, error)
	AddYunxiao(ctx context.Context, in service.AddYunxiaoInput) (*model.Repository, error)
}

// SyncService runs or queues repository syncs.
type SyncService interface {
	Sync(ctx context.Context, userID, repositoryID string, opts model.SyncOptions) (*model.SyncResult, error)
	Enqueue(ctx context.Context, userID, repositoryID string, opts model.SyncOptions, trigger string) (*model.SyncJob, error)
}

// RepositoryHandler handles /api/v1/repositories.
type RepositoryHandler struct {
	repos  RepositoryService
	syncs  SyncService
	logger *slog.Logger
}

// NewRepositoryHandler creates a new RepositoryHandler.
func NewRepositoryHandler(repos RepositoryService, syncs SyncService, logger *slog.Logger) *RepositoryHandler {
	return &RepositoryHandler{
		repos:  repos,
		syncs:  syncs,
		logger: logger.With("component", "handler.repositories"),
	}
}

// List handles GET /api/v1/repositories.
func (h *RepositoryHandler) List(w http.ResponseWriter, r *http.Request) {
	in := service.ListRepositoriesInput{
		UserID:   auth.UserIDFromContext(r.Context()),
		Platform: model.Platform(r.URL.Query().Get("platform")),
		Search:   r.URL.Query().Get("search"),
	}
	var err error
	if in.Page, err = queryInt(r, "page", 1); err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	if in.PerPage, err = queryInt(r, "per_page", service.DefaultPerPage); err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	if in.IsActive, err = queryBool(r, "is_active"); err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	if in.IsTracked, err = queryBool(r, "is_tracked"); err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}

	list, err := h.repos.List(r.Context(), in)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}

	items := list.Items
	if items == nil {
		items = []*model.RepositoryWithStats{}
	}
	writeSuccess(w, http.StatusOK, "OK", dto.Page[*model.RepositoryWithStats]{
		Items:      items,
		Pagination: dto.NewPagination(list.Page, list.PerPage, list.Total),
	})
}

// Create handles POST /api/v1/repositories.
func (h *RepositoryHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateRepositoryRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}

	repo, err := h.repos.Create(r.Context(), service.CreateRepositoryInput{
		UserID:         auth.UserIDFromContext(r.Context()),
		Name:           req.Name,
		URL:            req.URL,
		APIKey:         req.APIKey,
		Platform:       model.Platform(req.Platform),
		ProjectID:      req.ProjectID,
		OrganizationID: req.OrganizationID,
		APIBaseURL:     req.APIBaseURL,
		IsTracked:      req.IsTracked,
	})
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	writeSuccess(w, http.StatusCreated, "Repository created", repo)
}

// Get handles GET /api/v1/repositories/{id}.
func (h *RepositoryHandler) Get(w http.ResponseWriter, r *http.Request) {
	repo, err := h.repos.Get(r.Context(), auth.UserIDFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	writeSuccess(w, http.StatusOK, "OK", repo)
}

// Update handles PUT /api/v1/repositories/{id}.
func (h *RepositoryHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req dto.UpdateRepositoryRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}

	repo, err := h.repos.Update(r.Context(), auth.UserIDFromContext(r.Context()), chi.URLParam(r, "id"), service.UpdateRepositoryInput{
		Name:      req.Name,
		APIKey:    req.APIKey,
		IsActive:  req.IsActive,
		IsTracked: req.IsTracked,
	})
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Repository updated", repo)
}

// Delete handles DELETE /api/v1/repositories/{id}.
func (h *RepositoryHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.repos.Delete(r.Context(), auth.UserIDFromContext(r.Context()), chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Repository deleted", nil)
}

// Sync handles POST /api/v1/repositories/{id}/sync.
func (h *RepositoryHandler) Sync(w http.ResponseWriter, r *http.Request) {
	var req dto.SyncRequest
	if !decodeJSON(w, r, &req, true) {
		return
	}
	opts := req.Options()
	if !opts.SyncCommits && !opts.SyncMergeRequests {
		writeValidationError(w, map[string]string{"sync_commits": "nothing to sync"})
		return
	}
	userID := auth.UserIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	if req.Async {
		job, err := h.syncs.Enqueue(r.Context(), userID, id, opts, model.SyncTriggerManual)
		if err != nil {
			handleServiceError(w, r, h.logger, err)
			return
		}
		writeSuccess(w, http.StatusAccepted, "Sync queued", dto.SyncJobResponse{
			JobID:        job.ID,
			RepositoryID: job.RepositoryID,
			EnqueuedAt:   job.EnqueuedAt,
		})
		return
	}

	result, err := h.syncs.Sync(r.Context(), userID, id, opts)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	message := "Sync completed"
	if len(result.Errors) > 0 {
		message = "Sync finished with errors"
	}
	writeSuccess(w, http.StatusOK, message, result)
}

// SyncStatus handles GET /api/v1/repositories/{id}/sync-status.
func (h *RepositoryHandler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.repos.SyncStatus(r.Context(), auth.UserIDFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	writeSuccess(w, http.StatusOK, "OK", status)
}

// SyncStatuses handles GET /api/v1/repositories/sync-status.
func (h *RepositoryHandler) SyncStatuses(w http.ResponseWriter, r *http.Request) {
	statuses, err := h.repos.SyncStatuses(r.Context(), auth.UserIDFromContext(r.Context()))
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	if statuses == nil {
		statuses = []*model.SyncStatusInfo{}
	}
	writeSuccess(w, http.StatusOK, "OK", statuses)
}

// Track handles POST /api/v1/repositories/{id}/track.
func (h *RepositoryHandler) Track(w http.ResponseWriter, r *http.Request) {
	h.setTracked(w, r, true)
}

// Untrack handles POST /api/v1/repositories/{id}/untrack.
func (h *RepositoryHandler) Untrack(w http.ResponseWriter, r *http.Request) {
	h.setTracked(w, r, false)
}

func (h *RepositoryHandler) setTracked(w http.ResponseWriter, r *http.Request, tracked bool) {
	repo, err := h.repos.SetTracked(r.Context(), auth.UserIDFromContext(r.Context()), chi.URLParam(r, "id"), tracked)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	message := "Repository untracked"
	if tracked {
		message = "Repository tracked"
	}
	writeSuccess(w, http.StatusOK, message, repo)
}

// Platforms handles GET /api/v1/repositories/platforms.
func (h *RepositoryHandler) Platforms(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, http.StatusOK, "OK", h.repos.Platforms())
}

// Validate handles POST /api/v1/repositories/validate.
func (h *RepositoryHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req dto.ValidateRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}

	check, err := h.repos.ValidateCredentials(r.Context(), service.ValidateCredentialsInput{
		URL:            req.URL,
		APIKey:         req.APIKey,
		Platform:       model.Platform(req.Platform),
		OrganizationID: req.OrganizationID,
		APIBaseURL:     req.APIBaseURL,
	})
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	writeSuccess(w, http.StatusOK, check.Message, check)
}

// SearchYunxiao handles GET /api/v1/repositories/yunxiao/search.
func (h *RepositoryHandler) SearchYunxiao(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	in := service.RemoteSearchInput{
		UserID:         auth.UserIDFromContext(r.Context()),
		OrganizationID: q.Get("organization_id"),
		APIKey:         q.Get("api_key"),
		Search:         q.Get("search"),
	}
	var err error
	if in.Page, err = queryInt(r, "page", 1); err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	if in.PerPage, err = queryInt(r, "per_page", service.DefaultPerPage); err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}

	result, err := h.repos.SearchYunxiao(r.Context(), in)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	items := result.Items
	if items == nil {
		items = []service.RemoteRepositoryStatus{}
	}
	writeSuccess(w, http.StatusOK, "OK", dto.RemoteSearchResponse{
		Items:          items,
		Pagination:     dto.NewPagination(result.Page, result.PerPage, int64(result.Total)),
		TotalEstimated: result.TotalEstimated,
	})
}

// AddYunxiao handles POST /api/v1/repositories/yunxiao/add.
func (h *RepositoryHandler) AddYunxiao(w http.ResponseWriter, r *http.Request) {
	var req dto.AddYunxiaoRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}

	repo, err := h.repos.AddYunxiao(r.Context(), service.AddYunxiaoInput{
		UserID:         auth.UserIDFromContext(r.Context()),
		RepositoryID:   req.RepositoryID,
		Name:           req.Name,
		CloneURL:       req.CloneURL,
		WebURL:         req.WebURL,
		APIKey:         req.APIKey,
		OrganizationID: req.OrganizationID,
		IsTracked:      req.IsTracked,
	})
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	writeSuccess(w, http.StatusCreated, "Repository added", repo)
}
