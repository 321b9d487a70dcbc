package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/devinsight/devinsight/internal/model"
	"github.com/devinsight/devinsight/internal/service"
)

type fakeAnalyticsService struct {
	AnalyticsService

	query      service.AnalyticsQuery
	commitQ    service.CommitQuery
	mrQ        service.MergeRequestQuery
	effQ       service.EfficiencyQuery
	limit      int
	days       int
	repoID     string
	cursor     string
	activity   *service.ActivityPage
	overviewFn func() error
}

func (f *fakeAnalyticsService) Overview(ctx context.Context, q service.AnalyticsQuery) (model.Overview, error) {
	f.query = q
	if f.overviewFn != nil {
		return model.Overview{}, f.overviewFn()
	}
	return model.Overview{}, nil
}

func (f *fakeAnalyticsService) Commits(ctx context.Context, q service.CommitQuery) (model.CommitAnalytics, error) {
	f.commitQ = q
	return model.CommitAnalytics{}, nil
}

func (f *fakeAnalyticsService) MergeRequests(ctx context.Context, q service.MergeRequestQuery) (model.MergeRequestAnalytics, error) {
	f.mrQ = q
	return model.MergeRequestAnalytics{}, nil
}

func (f *fakeAnalyticsService) EfficiencyScore(ctx context.Context, q service.EfficiencyQuery) (model.EfficiencyReport, error) {
	f.effQ = q
	return model.EfficiencyReport{}, nil
}

func (f *fakeAnalyticsService) Contributors(ctx context.Context, q service.AnalyticsQuery, limit int) ([]model.Contributor, error) {
	f.query = q
	f.limit = limit
	return nil, nil
}

func (f *fakeAnalyticsService) Activity(ctx context.Context, userID string, ids []string, cursor string, limit int) (*service.ActivityPage, error) {
	f.cursor = cursor
	f.limit = limit
	return f.activity, nil
}

func (f *fakeAnalyticsService) Repository(ctx context.Context, userID, repositoryID string, days int) (model.RepositoryAnalytics, error) {
	f.repoID = repositoryID
	f.days = days
	return model.RepositoryAnalytics{}, nil
}

func (f *fakeAnalyticsService) Dashboard(ctx context.Context, userID string, days int) (model.Dashboard, error) {
	f.days = days
	return model.Dashboard{}, nil
}

const (
	repoA = "01HX0000000000000000000000"
	repoB = "01HX0000000000000000000001"
)

func newAnalyticsHandler(svc AnalyticsService) *AnalyticsHandler {
	h := NewAnalyticsHandler(svc, discardLogger())
	h.now = func() time.Time { return time.Date(2024, 6, 30, 12, 0, 0, 0, time.UTC) }
	return h
}

func TestAnalyticsHandler_OverviewQuery(t *testing.T) {
	svc := &fakeAnalyticsService{}
	h := newAnalyticsHandler(svc)

	target := "/api/v1/analytics/overview?start_date=2024-06-01&end_date=2024-06-10&repository_ids=" + repoA + "," + repoB + "," + repoA
	rec := httptest.NewRecorder()
	h.Overview(rec, withUser(httptest.NewRequest(http.MethodGet, target, nil), "u1"))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	q := svc.query
	if q.UserID != "u1" {
		t.Errorf("user = %q", q.UserID)
	}
	if len(q.RepositoryIDs) != 2 {
		t.Errorf("expected deduplicated ids, got %v", q.RepositoryIDs)
	}
	if !q.Range.Start.Equal(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("start = %v", q.Range.Start)
	}
	if q.Range.End.Before(time.Date(2024, 6, 10, 23, 0, 0, 0, time.UTC)) {
		t.Errorf("date-only end should cover the whole day, got %v", q.Range.End)
	}
}

func TestAnalyticsHandler_DefaultRange(t *testing.T) {
	svc := &fakeAnalyticsService{}
	h := newAnalyticsHandler(svc)

	rec := httptest.NewRecorder()
	h.Overview(rec, withUser(httptest.NewRequest(http.MethodGet, "/api/v1/analytics/overview", nil), "u1"))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if got := svc.query.Range.Days(); got != service.DefaultAnalyticsDays {
		t.Errorf("default window = %d days, want %d", got, service.DefaultAnalyticsDays)
	}
}

func TestAnalyticsHandler_InvalidParams(t *testing.T) {
	tests := []struct {
		name       string
		target     string
		handler    func(h *AnalyticsHandler) http.HandlerFunc
		wantFields []string
	}{
		{
			name:       "bad dates and ids together",
			target:     "/?start_date=yesterday&repository_ids=nope",
			handler:    func(h *AnalyticsHandler) http.HandlerFunc { return h.Overview },
			wantFields: []string{"start_date", "repository_ids"},
		},
		{
			name:       "bad score config",
			target:     "/?score_config=" + url.QueryEscape("{"),
			handler:    func(h *AnalyticsHandler) http.HandlerFunc { return h.EfficiencyScore },
			wantFields: []string{"score_config"},
		},
		{
			name:       "days out of range",
			target:     "/?days=400",
			handler:    func(h *AnalyticsHandler) http.HandlerFunc { return h.Dashboard },
			wantFields: []string{"days"},
		},
		{
			name:       "limit not a number",
			target:     "/?limit=ten",
			handler:    func(h *AnalyticsHandler) http.HandlerFunc { return h.Contributors },
			wantFields: []string{"limit"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newAnalyticsHandler(&fakeAnalyticsService{})
			rec := httptest.NewRecorder()
			tt.handler(h)(rec, withUser(httptest.NewRequest(http.MethodGet, tt.target, nil), "u1"))

			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected status 400, got %d", rec.Code)
			}
			env := decodeEnvelope(t, rec)
			for _, f := range tt.wantFields {
				if env.Errors[f] == "" {
					t.Errorf("missing field error %q in %v", f, env.Errors)
				}
			}
		})
	}
}

func TestAnalyticsHandler_Filters(t *testing.T) {
	svc := &fakeAnalyticsService{}
	h := newAnalyticsHandler(svc)
	user := func(target string) *http.Request {
		return withUser(httptest.NewRequest(http.MethodGet, target, nil), "u1")
	}

	h.Commits(httptest.NewRecorder(), user("/?group_by=week&author_email=a@example.com"))
	if svc.commitQ.GroupBy != "week" || svc.commitQ.AuthorEmail != "a@example.com" {
		t.Errorf("unexpected commit query: %+v", svc.commitQ)
	}

	h.MergeRequests(httptest.NewRecorder(), user("/?state=merged"))
	if svc.mrQ.State != model.MergeRequestMerged {
		t.Errorf("unexpected merge request state: %q", svc.mrQ.State)
	}

	h.EfficiencyScore(httptest.NewRecorder(), user("/?score_config="+url.QueryEscape(`{"commit_weight":2}`)))
	want := model.DefaultScoreConfig()
	want.CommitWeight = 2
	if svc.effQ.Config != want {
		t.Errorf("score config = %+v, want %+v", svc.effQ.Config, want)
	}
}

func TestAnalyticsHandler_ContributorsEmpty(t *testing.T) {
	svc := &fakeAnalyticsService{}
	h := newAnalyticsHandler(svc)

	rec := httptest.NewRecorder()
	h.Contributors(rec, withUser(httptest.NewRequest(http.MethodGet, "/?limit=5", nil), "u1"))

	if svc.limit != 5 {
		t.Errorf("limit = %d, want 5", svc.limit)
	}
	env := decodeEnvelope(t, rec)
	if string(env.Data) != "[]" {
		t.Errorf("expected empty array, got %s", env.Data)
	}
}

func TestAnalyticsHandler_Activity(t *testing.T) {
	svc := &fakeAnalyticsService{activity: &service.ActivityPage{NextCursor: "c2", HasMore: true}}
	h := newAnalyticsHandler(svc)

	rec := httptest.NewRecorder()
	h.Activity(rec, withUser(httptest.NewRequest(http.MethodGet, "/?cursor=c1&limit=10", nil), "u1"))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if svc.cursor != "c1" || svc.limit != 10 {
		t.Errorf("cursor/limit not forwarded: %q %d", svc.cursor, svc.limit)
	}
	env := decodeEnvelope(t, rec)
	var page struct {
		Items      []json.RawMessage `json:"items"`
		NextCursor string            `json:"next_cursor"`
		HasMore    bool              `json:"has_more"`
	}
	if err := json.Unmarshal(env.Data, &page); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if page.Items == nil || page.NextCursor != "c2" || !page.HasMore {
		t.Errorf("unexpected page: %+v", page)
	}
}

func TestAnalyticsHandler_RepositoryDays(t *testing.T) {
	svc := &fakeAnalyticsService{}
	h := newAnalyticsHandler(svc)

	rec := httptest.NewRecorder()
	h.Repository(rec, withURLParam(withUser(httptest.NewRequest(http.MethodGet, "/?days=7", nil), "u1"), "id", repoA))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if svc.repoID != repoA || svc.days != 7 {
		t.Errorf("unexpected args: %q %d", svc.repoID, svc.days)
	}

	h.Dashboard(httptest.NewRecorder(), withUser(httptest.NewRequest(http.MethodGet, "/", nil), "u1"))
	if svc.days != service.DefaultAnalyticsDays {
		t.Errorf("default days = %d", svc.days)
	}
}

func TestAnalyticsHandler_ServiceError(t *testing.T) {
	svc := &fakeAnalyticsService{overviewFn: func() error { return service.ErrRepositoryNotFound }}
	h := newAnalyticsHandler(svc)

	rec := httptest.NewRecorder()
	h.Overview(rec, withUser(httptest.NewRequest(http.MethodGet, "/", nil), "u1"))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", rec.Code)
	}
}
