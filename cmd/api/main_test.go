package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/devinsight/devinsight/internal/auth"
	"github.com/devinsight/devinsight/internal/cache"
	"github.com/devinsight/devinsight/internal/config"
	"github.com/devinsight/devinsight/internal/handler"
	"github.com/devinsight/devinsight/internal/metrics"
	"github.com/devinsight/devinsight/internal/model"
)

func TestRedactURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"postgres://app:s3cret@db:5432/devinsight", "postgres://app@db:5432/devinsight"},
		{"redis://:s3cret@cache:6379/0", "redis://redacted@cache:6379/0"},
		{"redis://cache:6379", "redis://cache:6379"},
	}
	for _, tt := range tests {
		if got := redactURL(tt.in); got != tt.want {
			t.Errorf("redactURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSanitizeError(t *testing.T) {
	dsn := "postgres://app:s3cret@db:5432/devinsight"
	err := errors.New("connect " + dsn + " failed: host=db password=s3cret user=app")

	got := sanitizeError(err, dsn)
	if strings.Contains(got, "s3cret") {
		t.Errorf("secret leaked: %s", got)
	}
	if !strings.Contains(got, "password=redacted") {
		t.Errorf("expected keyword redaction: %s", got)
	}
	if sanitizeError(nil) != "" {
		t.Error("nil error should sanitize to empty string")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"unknown": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLogLevel(in); got != want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

type stubAuthenticator struct{}

func (stubAuthenticator) Authenticate(ctx context.Context, token string) (*model.AuthContext, error) {
	if token == "good" {
		return &model.AuthContext{UserID: "u1", Scopes: []string{model.ScopeRead}}, nil
	}
	return nil, auth.ErrInvalidToken
}

type allowAll struct{}

func (allowAll) CheckUserRateLimit(ctx context.Context, userID string, perMinute int) (*cache.RateLimitResult, error) {
	return &cache.RateLimitResult{Allowed: true, Remaining: int64(perMinute)}, nil
}

func (allowAll) CheckIPRateLimit(ctx context.Context, ip string, perMinute int) (*cache.RateLimitResult, error) {
	return &cache.RateLimitResult{Allowed: true, Remaining: int64(perMinute)}, nil
}

func newTestRouter() http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return setupRouter(routerDeps{
		cfg: &config.Config{
			AppEnv:                 "test",
			RateLimitEnabled:       true,
			RateLimitAuthPerMinute: 20,
			RateLimitAPIPerMinute:  300,
			MaxRequestBodySize:     1 << 20,
		},
		logger:       logger,
		cache:        allowAll{},
		authService:  stubAuthenticator{},
		base:         handler.New(),
		health:       handler.NewHealthHandler(nil, nil, logger),
		metrics:      handler.NewMetricsHandler(metrics.NewInMemory()),
		auth:         handler.NewAuthHandler(nil, logger),
		repositories: handler.NewRepositoryHandler(nil, nil, logger),
		analytics:    handler.NewAnalyticsHandler(nil, logger),
	})
}

func TestRouter(t *testing.T) {
	router := newTestRouter()

	tests := []struct {
		name     string
		method   string
		path     string
		token    string
		wantCode int
		wantErr  string
	}{
		{"banner", http.MethodGet, "/", "", http.StatusOK, ""},
		{"liveness", http.MethodGet, "/healthz", "", http.StatusOK, ""},
		{"metrics", http.MethodGet, "/metrics", "", http.StatusOK, ""},
		{"unknown route", http.MethodGet, "/nope", "", http.StatusNotFound, "NOT_FOUND"},
		{"wrong method", http.MethodDelete, "/healthz", "", http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED"},
		{"missing token", http.MethodGet, "/api/v1/repositories", "", http.StatusUnauthorized, ""},
		{"bad token", http.MethodGet, "/api/v1/analytics/overview", "bad", http.StatusUnauthorized, "INVALID_TOKEN"},
		{"read scope cannot write", http.MethodPost, "/api/v1/repositories", "good", http.StatusForbidden, ""},
		{"invalid id", http.MethodGet, "/api/v1/repositories/not-a-ulid", "good", http.StatusBadRequest, "INVALID_ID"},
		{"invalid analytics id", http.MethodGet, "/api/v1/analytics/repository/xyz", "good", http.StatusBadRequest, "INVALID_ID"},
		{"profile needs auth", http.MethodGet, "/api/v1/auth/profile", "", http.StatusUnauthorized, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != tt.wantCode {
				t.Fatalf("expected status %d, got %d: %s", tt.wantCode, rec.Code, rec.Body.String())
			}
			if rec.Header().Get("X-Request-ID") == "" {
				t.Error("missing request id header")
			}
			if tt.wantErr == "" {
				return
			}
			var env struct {
				ErrorCode string `json:"error_code"`
			}
			if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if env.ErrorCode != tt.wantErr {
				t.Errorf("error code = %q, want %q", env.ErrorCode, tt.wantErr)
			}
		})
	}
}
