package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/devinsight/devinsight/internal/auth"
	"github.com/devinsight/devinsight/internal/model"
	"github.com/devinsight/devinsight/internal/service"
)

// AnalyticsService is the analytics API used by AnalyticsHandler.
type AnalyticsService interface {
	Overview(ctx context.Context, q service.AnalyticsQuery) (model.Overview, error)
	Commits(ctx context.Context, q service.CommitQuery) (model.CommitAnalytics, error)
	MergeRequests(ctx context.Context, q service.MergeRequestQuery) (model.MergeRequestAnalytics, error)
	EfficiencyScore(ctx context.Context, q service.EfficiencyQuery) (model.EfficiencyReport, error)
	TimeDistribution(ctx context.Context, q service.DistributionQuery) (model.TimeDistribution, error)
	Contributors(ctx context.Context, q service.AnalyticsQuery, limit int) ([]model.Contributor, error)
	Activity(ctx context.Context, userID string, repositoryIDs []string, cursor string, limit int) (*service.ActivityPage, error)
	Repository(ctx context.Context, userID, repositoryID string, days int) (model.RepositoryAnalytics, error)
	TeamProductivity(ctx context.Context, userID string, repositoryIDs []string, days int) (model.TeamProductivity, error)
	Dashboard(ctx context.Context, userID string, days int) (model.Dashboard, error)
}

// AnalyticsHandler handles /api/v1/analytics.
type AnalyticsHandler struct {
	svc    AnalyticsService
	logger *slog.Logger
	now    func() time.Time
}

// NewAnalyticsHandler creates a new AnalyticsHandler.
func NewAnalyticsHandler(svc AnalyticsService, logger *slog.Logger) *AnalyticsHandler {
	return &AnalyticsHandler{
		svc:    svc,
		logger: logger.With("component", "handler.analytics"),
		now:    time.Now,
	}
}

// query parses the parameters shared by the range-based endpoints. Field
// errors from the date range and repository list are reported together.
func (h *AnalyticsHandler) query(r *http.Request) (service.AnalyticsQuery, error) {
	q := r.URL.Query()
	fields := map[string]string{}

	dr, err := service.ParseDateRange(q.Get("start_date"), q.Get("end_date"), h.now())
	mergeFields(fields, err)
	ids, err := service.ParseRepositoryIDs(q.Get("repository_ids"))
	mergeFields(fields, err)

	if len(fields) > 0 {
		return service.AnalyticsQuery{}, &service.ValidationError{Fields: fields}
	}
	return service.AnalyticsQuery{
		UserID:        auth.UserIDFromContext(r.Context()),
		Range:         dr,
		RepositoryIDs: ids,
	}, nil
}

func mergeFields(dst map[string]string, err error) {
	var ve *service.ValidationError
	if errors.As(err, &ve) {
		for k, v := range ve.Fields {
			dst[k] = v
		}
	}
}

// Overview handles GET /api/v1/analytics/overview.
func (h *AnalyticsHandler) Overview(w http.ResponseWriter, r *http.Request) {
	q, err := h.query(r)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	out, err := h.svc.Overview(r.Context(), q)
	h.respond(w, r, out, err)
}

// Commits handles GET /api/v1/analytics/commits.
func (h *AnalyticsHandler) Commits(w http.ResponseWriter, r *http.Request) {
	q, err := h.query(r)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	out, err := h.svc.Commits(r.Context(), service.CommitQuery{
		AnalyticsQuery: q,
		GroupBy:        r.URL.Query().Get("group_by"),
		AuthorEmail:    r.URL.Query().Get("author_email"),
	})
	h.respond(w, r, out, err)
}

// MergeRequests handles GET /api/v1/analytics/merge-requests.
func (h *AnalyticsHandler) MergeRequests(w http.ResponseWriter, r *http.Request) {
	q, err := h.query(r)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	out, err := h.svc.MergeRequests(r.Context(), service.MergeRequestQuery{
		AnalyticsQuery: q,
		GroupBy:        r.URL.Query().Get("group_by"),
		State:          model.MergeRequestState(r.URL.Query().Get("state")),
		AuthorEmail:    r.URL.Query().Get("author_email"),
	})
	h.respond(w, r, out, err)
}

// EfficiencyScore handles GET /api/v1/analytics/efficiency-score.
func (h *AnalyticsHandler) EfficiencyScore(w http.ResponseWriter, r *http.Request) {
	q, err := h.query(r)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	cfg, err := service.ParseScoreConfig(r.URL.Query().Get("score_config"))
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	out, err := h.svc.EfficiencyScore(r.Context(), service.EfficiencyQuery{
		AnalyticsQuery: q,
		GroupBy:        r.URL.Query().Get("group_by"),
		Config:         cfg,
	})
	h.respond(w, r, out, err)
}

// TimeDistribution handles GET /api/v1/analytics/time-distribution.
func (h *AnalyticsHandler) TimeDistribution(w http.ResponseWriter, r *http.Request) {
	q, err := h.query(r)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	out, err := h.svc.TimeDistribution(r.Context(), service.DistributionQuery{
		AnalyticsQuery: q,
		Type:           r.URL.Query().Get("type"),
		Dimension:      r.URL.Query().Get("dimension"),
	})
	h.respond(w, r, out, err)
}

// Contributors handles GET /api/v1/analytics/contributors.
func (h *AnalyticsHandler) Contributors(w http.ResponseWriter, r *http.Request) {
	q, err := h.query(r)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	out, err := h.svc.Contributors(r.Context(), q, limit)
	if out == nil && err == nil {
		out = []model.Contributor{}
	}
	h.respond(w, r, out, err)
}

// Activity handles GET /api/v1/analytics/activity.
func (h *AnalyticsHandler) Activity(w http.ResponseWriter, r *http.Request) {
	ids, err := service.ParseRepositoryIDs(r.URL.Query().Get("repository_ids"))
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	page, err := h.svc.Activity(r.Context(), auth.UserIDFromContext(r.Context()), ids, r.URL.Query().Get("cursor"), limit)
	if err == nil && page.Items == nil {
		page.Items = []*model.ActivityRecord{}
	}
	h.respond(w, r, page, err)
}

// Repository handles GET /api/v1/analytics/repository/{id}.
func (h *AnalyticsHandler) Repository(w http.ResponseWriter, r *http.Request) {
	days, err := queryDays(r)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	out, err := h.svc.Repository(r.Context(), auth.UserIDFromContext(r.Context()), chi.URLParam(r, "id"), days)
	h.respond(w, r, out, err)
}

// TeamProductivity handles GET /api/v1/analytics/team/productivity.
func (h *AnalyticsHandler) TeamProductivity(w http.ResponseWriter, r *http.Request) {
	days, err := queryDays(r)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	ids, err := service.ParseRepositoryIDs(r.URL.Query().Get("repository_ids"))
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	out, err := h.svc.TeamProductivity(r.Context(), auth.UserIDFromContext(r.Context()), ids, days)
	h.respond(w, r, out, err)
}

// Dashboard handles GET /api/v1/analytics/dashboard.
func (h *AnalyticsHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	days, err := queryDays(r)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	out, err := h.svc.Dashboard(r.Context(), auth.UserIDFromContext(r.Context()), days)
	h.respond(w, r, out, err)
}

func (h *AnalyticsHandler) respond(w http.ResponseWriter, r *http.Request, data any, err error) {
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	writeSuccess(w, http.StatusOK, "OK", data)
}
