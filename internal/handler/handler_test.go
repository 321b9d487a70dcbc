package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/devinsight/devinsight/internal/auth"
	"github.com/devinsight/devinsight/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// envelope mirrors dto.Response with raw data for per-test decoding.
type envelope struct {
	Success   bool              `json:"success"`
	Code      int               `json:"code"`
	Message   string            `json:"message"`
	Data      json.RawMessage   `json:"data"`
	Timestamp string            `json:"timestamp"`
	ErrorCode string            `json:"error_code"`
	Errors    map[string]string `json:"errors"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if env.Code != rec.Code {
		t.Errorf("envelope code %d does not match status %d", env.Code, rec.Code)
	}
	if env.Timestamp == "" {
		t.Error("envelope timestamp missing")
	}
	return env
}

func withUser(r *http.Request, userID string) *http.Request {
	ac := &model.AuthContext{UserID: userID, Username: "dev", TokenID: "jti-1", Scopes: []string{model.ScopeRead, model.ScopeWrite}}
	return r.WithContext(auth.ContextWithAuth(r.Context(), ac))
}

func withURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func TestHandler_Banner(t *testing.T) {
	h := New()

	rec := httptest.NewRecorder()
	h.Banner(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected Content-Type application/json, got %s", ct)
	}

	env := decodeEnvelope(t, rec)
	if !env.Success {
		t.Error("expected success")
	}
	var data map[string]string
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if data["version"] != Version || data["name"] != "devinsight" {
		t.Errorf("unexpected banner: %v", data)
	}
}

func TestHandler_Errors(t *testing.T) {
	h := New()
	tests := []struct {
		name     string
		handler  http.HandlerFunc
		wantCode int
		wantErr  string
	}{
		{"not found", h.NotFound, http.StatusNotFound, "NOT_FOUND"},
		{"method not allowed", h.MethodNotAllowed, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.handler(rec, httptest.NewRequest(http.MethodPost, "/nowhere", nil))

			if rec.Code != tt.wantCode {
				t.Errorf("expected status %d, got %d", tt.wantCode, rec.Code)
			}
			env := decodeEnvelope(t, rec)
			if env.Success || env.ErrorCode != tt.wantErr {
				t.Errorf("unexpected envelope: %+v", env)
			}
			if string(env.Data) != "null" {
				t.Errorf("expected null data, got %s", env.Data)
			}
		})
	}
}
