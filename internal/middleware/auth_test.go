package middleware

import (
	"bytes"
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
	"github.com/devinsight/devinsight/internal/model"
	"github.com/devinsight/devinsight/internal/service"
)

type fakeAuthenticator struct {
	ctx *model.AuthContext
	err error
	got string
}

func (f *fakeAuthenticator) Authenticate(_ context.Context, token string) (*model.AuthContext, error) {
	f.got = token
	return f.ctx, f.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func decodeEnvelope(t *testing.T, body *bytes.Buffer) errorEnvelope {
	t.Helper()
	var env errorEnvelope
	if err := json.Unmarshal(body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v (%s)", err, body.String())
	}
	return env
}

func TestAuth_Success(t *testing.T) {
	authn := &fakeAuthenticator{ctx: &model.AuthContext{UserID: "u1", Scopes: []string{model.ScopeRead}}}

	var seen *model.AuthContext
	handler := Auth(AuthConfig{Logger: discardLogger(), Authenticator: authn})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = auth.AuthFromContext(r.Context())
			w.WriteHeader(http.StatusOK)
		}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/repositories", nil)
	req.Header.Set("Authorization", "bearer  tok-123 ")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if authn.got != "tok-123" {
		t.Errorf("token passed = %q, want tok-123", authn.got)
	}
	if seen == nil || seen.UserID != "u1" {
		t.Errorf("auth context not injected: %+v", seen)
	}
}

func TestAuth_Failures(t *testing.T) {
	tests := []struct {
		name       string
		header     string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"missing header", "", nil, http.StatusUnauthorized, "UNAUTHORIZED"},
		{"wrong scheme", "Basic dXNlcjpwdw==", nil, http.StatusUnauthorized, "UNAUTHORIZED"},
		{"expired", "Bearer t", auth.ErrTokenExpired, http.StatusUnauthorized, "TOKEN_EXPIRED"},
		{"invalid", "Bearer t", auth.ErrInvalidToken, http.StatusUnauthorized, "INVALID_TOKEN"},
		{"refresh token used", "Bearer t", auth.ErrWrongTokenType, http.StatusUnauthorized, "INVALID_TOKEN"},
		{"revoked", "Bearer t", service.ErrTokenRevoked, http.StatusUnauthorized, "TOKEN_REVOKED"},
		{"disabled", "Bearer t", service.ErrAccountDisabled, http.StatusForbidden, "ACCOUNT_DISABLED"},
		{"backend down", "Bearer t", errors.New("db down"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			authn := &fakeAuthenticator{err: tt.err}
			called := false
			handler := Auth(AuthConfig{Logger: discardLogger(), Authenticator: authn})(
				http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

			req := httptest.NewRequest(http.MethodGet, "/api/v1/analytics/overview", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if called {
				t.Fatal("next handler should not run")
			}
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			env := decodeEnvelope(t, rec.Body)
			if env.Success || env.ErrorCode != tt.wantCode || env.Code != tt.wantStatus {
				t.Errorf("unexpected envelope: %+v", env)
			}
			if strings.Contains(rec.Body.String(), "db down") {
				t.Error("internal error detail leaked to client")
			}
		})
	}
}

func TestLogger_RecordsAuthenticatedUser(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	authn := &fakeAuthenticator{ctx: &model.AuthContext{UserID: "user-42"}}

	handler := RequestID(Logger(logger)(Auth(AuthConfig{Logger: discardLogger(), Authenticator: authn})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}))))

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/repositories/x", nil)
	req.Header.Set("Authorization", "Bearer secret-access-token")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	if !strings.Contains(out, `"user_id":"user-42"`) {
		t.Errorf("log line missing user_id: %s", out)
	}
	if !strings.Contains(out, `"status_code":204`) {
		t.Errorf("log line missing status: %s", out)
	}
	if strings.Contains(out, "secret-access-token") {
		t.Error("access token leaked into logs")
	}
}
