package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/devinsight/devinsight/internal/gitprovider"
	"github.com/devinsight/devinsight/internal/handler/dto"
	"github.com/devinsight/devinsight/internal/model"
	"github.com/devinsight/devinsight/internal/service"
)

type fakeRepositoryService struct {
	RepositoryService

	listIn  service.ListRepositoriesInput
	list    *service.RepositoryList
	getErr  error
	tracked *bool
}

func (f *fakeRepositoryService) List(ctx context.Context, in service.ListRepositoriesInput) (*service.RepositoryList, error) {
	f.listIn = in
	return f.list, nil
}

func (f *fakeRepositoryService) Get(ctx context.Context, userID, id string) (*model.Repository, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return &model.Repository{ID: id, UserID: userID, Name: "api"}, nil
}

func (f *fakeRepositoryService) SetTracked(ctx context.Context, userID, id string, tracked bool) (*model.Repository, error) {
	f.tracked = &tracked
	return &model.Repository{ID: id, UserID: userID, IsTracked: tracked}, nil
}

func (f *fakeRepositoryService) Platforms() []gitprovider.PlatformInfo {
	return nil
}

type fakeSyncService struct {
	syncOpts   model.SyncOptions
	syncResult *model.SyncResult
	syncErr    error
	enqueued   *model.SyncJob
	enqueueErr error
}

func (f *fakeSyncService) Sync(ctx context.Context, userID, repositoryID string, opts model.SyncOptions) (*model.SyncResult, error) {
	f.syncOpts = opts
	if f.syncErr != nil {
		return nil, f.syncErr
	}
	return f.syncResult, nil
}

func (f *fakeSyncService) Enqueue(ctx context.Context, userID, repositoryID string, opts model.SyncOptions, trigger string) (*model.SyncJob, error) {
	if f.enqueueErr != nil {
		return nil, f.enqueueErr
	}
	f.enqueued = &model.SyncJob{
		ID:           "01HXJOB",
		RepositoryID: repositoryID,
		UserID:       userID,
		Options:      opts,
		Trigger:      trigger,
		EnqueuedAt:   time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
	}
	return f.enqueued, nil
}

func TestRepositoryHandler_List(t *testing.T) {
	repos := &fakeRepositoryService{list: &service.RepositoryList{Total: 45, Page: 2, PerPage: 20}}
	h := NewRepositoryHandler(repos, &fakeSyncService{}, discardLogger())

	req := withUser(httptest.NewRequest(http.MethodGet, "/api/v1/repositories?page=2&is_tracked=true&search=api", nil), "u1")
	rec := httptest.NewRecorder()
	h.List(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if repos.listIn.UserID != "u1" || repos.listIn.Page != 2 || repos.listIn.Search != "api" {
		t.Errorf("unexpected list input: %+v", repos.listIn)
	}
	if repos.listIn.IsTracked == nil || !*repos.listIn.IsTracked || repos.listIn.IsActive != nil {
		t.Errorf("unexpected filters: %+v", repos.listIn)
	}

	env := decodeEnvelope(t, rec)
	var page struct {
		Items      []json.RawMessage `json:"items"`
		Pagination dto.Pagination    `json:"pagination"`
	}
	if err := json.Unmarshal(env.Data, &page); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if page.Items == nil {
		t.Error("items should be an empty array, not null")
	}
	p := page.Pagination
	if p.TotalPages != 3 || !p.HasNext || !p.HasPrev {
		t.Errorf("unexpected pagination: %+v", p)
	}
}

func TestRepositoryHandler_ListInvalidQuery(t *testing.T) {
	h := NewRepositoryHandler(&fakeRepositoryService{}, &fakeSyncService{}, discardLogger())

	for _, q := range []string{"page=two", "is_active=maybe"} {
		rec := httptest.NewRecorder()
		h.List(rec, withUser(httptest.NewRequest(http.MethodGet, "/api/v1/repositories?"+q, nil), "u1"))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected status 400, got %d", q, rec.Code)
		}
	}
}

func TestRepositoryHandler_GetNotFound(t *testing.T) {
	h := NewRepositoryHandler(&fakeRepositoryService{getErr: fmt.Errorf("load: %w", service.ErrRepositoryNotFound)}, &fakeSyncService{}, discardLogger())

	req := withURLParam(withUser(httptest.NewRequest(http.MethodGet, "/api/v1/repositories/x", nil), "u1"), "id", "01HXREPO")
	rec := httptest.NewRecorder()
	h.Get(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}
	if env := decodeEnvelope(t, rec); env.ErrorCode != "REPOSITORY_NOT_FOUND" {
		t.Errorf("unexpected error code %q", env.ErrorCode)
	}
}

func TestRepositoryHandler_Track(t *testing.T) {
	repos := &fakeRepositoryService{}
	h := NewRepositoryHandler(repos, &fakeSyncService{}, discardLogger())

	rec := httptest.NewRecorder()
	h.Untrack(rec, withURLParam(withUser(httptest.NewRequest(http.MethodPost, "/", nil), "u1"), "id", "r1"))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if repos.tracked == nil || *repos.tracked {
		t.Errorf("expected untrack, got %v", repos.tracked)
	}
	if env := decodeEnvelope(t, rec); env.Message != "Repository untracked" {
		t.Errorf("unexpected message %q", env.Message)
	}
}

func TestRepositoryHandler_Sync(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		syncs       *fakeSyncService
		wantCode    int
		wantMessage string
		wantErr     string
	}{
		{
			name:        "synchronous",
			body:        `{"sync_merge_requests":false}`,
			syncs:       &fakeSyncService{syncResult: &model.SyncResult{RepositoryID: "r1", CommitsSynced: 3}},
			wantCode:    http.StatusOK,
			wantMessage: "Sync completed",
		},
		{
			name:        "empty body uses defaults",
			syncs:       &fakeSyncService{syncResult: &model.SyncResult{RepositoryID: "r1"}},
			wantCode:    http.StatusOK,
			wantMessage: "Sync completed",
		},
		{
			name:        "partial failure",
			syncs:       &fakeSyncService{syncResult: &model.SyncResult{RepositoryID: "r1", Errors: []string{"merge requests: rate limited"}}},
			wantCode:    http.StatusOK,
			wantMessage: "Sync finished with errors",
		},
		{
			name:        "async",
			body:        `{"async":true}`,
			syncs:       &fakeSyncService{},
			wantCode:    http.StatusAccepted,
			wantMessage: "Sync queued",
		},
		{
			name:     "already running",
			syncs:    &fakeSyncService{syncErr: service.ErrSyncInProgress},
			wantCode: http.StatusConflict,
			wantErr:  "SYNC_IN_PROGRESS",
		},
		{
			name:     "queue unavailable",
			body:     `{"async":true}`,
			syncs:    &fakeSyncService{enqueueErr: service.ErrQueueUnavailable},
			wantCode: http.StatusServiceUnavailable,
			wantErr:  "QUEUE_UNAVAILABLE",
		},
		{
			name:     "nothing selected",
			body:     `{"sync_commits":false,"sync_merge_requests":false}`,
			syncs:    &fakeSyncService{},
			wantCode: http.StatusBadRequest,
			wantErr:  "VALIDATION_ERROR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewRepositoryHandler(&fakeRepositoryService{}, tt.syncs, discardLogger())
			req := httptest.NewRequest(http.MethodPost, "/api/v1/repositories/r1/sync", strings.NewReader(tt.body))
			req = withURLParam(withUser(req, "u1"), "id", "r1")
			rec := httptest.NewRecorder()
			h.Sync(rec, req)

			if rec.Code != tt.wantCode {
				t.Fatalf("expected status %d, got %d: %s", tt.wantCode, rec.Code, rec.Body.String())
			}
			env := decodeEnvelope(t, rec)
			if tt.wantMessage != "" && env.Message != tt.wantMessage {
				t.Errorf("message = %q, want %q", env.Message, tt.wantMessage)
			}
			if env.ErrorCode != tt.wantErr {
				t.Errorf("error code = %q, want %q", env.ErrorCode, tt.wantErr)
			}
		})
	}
}

func TestRepositoryHandler_SyncAsyncJob(t *testing.T) {
	syncs := &fakeSyncService{}
	h := NewRepositoryHandler(&fakeRepositoryService{}, syncs, discardLogger())

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"async":true,"force":true}`))
	rec := httptest.NewRecorder()
	h.Sync(rec, withURLParam(withUser(req, "u1"), "id", "r1"))

	if syncs.enqueued == nil {
		t.Fatal("expected job to be enqueued")
	}
	if syncs.enqueued.Trigger != model.SyncTriggerManual || !syncs.enqueued.Options.Force {
		t.Errorf("unexpected job: %+v", syncs.enqueued)
	}

	env := decodeEnvelope(t, rec)
	var ack dto.SyncJobResponse
	if err := json.Unmarshal(env.Data, &ack); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if ack.JobID != "01HXJOB" || ack.RepositoryID != "r1" {
		t.Errorf("unexpected ack: %+v", ack)
	}
}

func TestRepositoryHandler_Platforms(t *testing.T) {
	h := NewRepositoryHandler(&fakeRepositoryService{}, &fakeSyncService{}, discardLogger())

	rec := httptest.NewRecorder()
	h.Platforms(rec, httptest.NewRequest(http.MethodGet, "/api/v1/repositories/platforms", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}
}
