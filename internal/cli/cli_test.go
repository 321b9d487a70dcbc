package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/devinsight/devinsight/internal/client"
	"github.com/devinsight/devinsight/internal/client/state"
)

type fakeServer struct {
	refreshOK  bool
	refreshes  int32
	lastLogin  map[string]any
	profileHit int32
}

func writeEnvelope(w http.ResponseWriter, status int, data any, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": status < 300, "code": status, "message": http.StatusText(status),
		"data": data, "error_code": code,
	})
}

func (f *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user := map[string]any{"id": "01HXUSER", "username": "dev", "email": "dev@example.com", "is_active": true}
	switch r.URL.Path {
	case "/api/v1/auth/login":
		_ = json.NewDecoder(r.Body).Decode(&f.lastLogin)
		if f.lastLogin["password"] != "s3cret-pass" {
			writeEnvelope(w, http.StatusUnauthorized, nil, "INVALID_CREDENTIALS")
			return
		}
		writeEnvelope(w, http.StatusOK, map[string]any{
			"user": user, "access_token": "good", "refresh_token": "refresh", "token_type": "Bearer", "expires_in": 1800,
		}, "")
		return
	case "/api/v1/auth/refresh":
		atomic.AddInt32(&f.refreshes, 1)
		if !f.refreshOK {
			writeEnvelope(w, http.StatusUnauthorized, nil, "TOKEN_EXPIRED")
			return
		}
		writeEnvelope(w, http.StatusOK, map[string]any{"access_token": "good", "token_type": "Bearer", "expires_in": 1800}, "")
		return
	}

	if r.Header.Get("Authorization") != "Bearer good" {
		writeEnvelope(w, http.StatusUnauthorized, nil, "TOKEN_EXPIRED")
		return
	}
	switch r.URL.Path {
	case "/api/v1/auth/profile":
		atomic.AddInt32(&f.profileHit, 1)
		writeEnvelope(w, http.StatusOK, user, "")
	case "/api/v1/auth/logout":
		writeEnvelope(w, http.StatusOK, nil, "")
	case "/api/v1/repositories":
		writeEnvelope(w, http.StatusOK, map[string]any{
			"items": []map[string]any{{
				"id": "01HXREPO", "name": "api", "platform": "github", "is_tracked": true,
				"sync_status": "completed", "stats": map[string]any{"commits_count": 42, "merge_requests_count": 7},
			}},
			"pagination": map[string]any{"page": 1, "per_page": 20, "total": 1, "total_pages": 1},
		}, "")
	case "/api/v1/analytics/overview":
		writeEnvelope(w, http.StatusOK, map[string]any{
			"repositories_count": 1, "commits_count": 42, "merge_requests_count": 7, "active_contributors": 3,
			"period": map[string]any{"start_date": r.URL.Query().Get("start_date"), "end_date": "2024-06-30"},
		}, "")
	case "/api/v1/analytics/contributors":
		if r.URL.Query().Get("limit") == "500" {
			writeEnvelope(w, http.StatusBadRequest, nil, "VALIDATION_ERROR")
			return
		}
		writeEnvelope(w, http.StatusOK, []any{}, "")
	default:
		writeEnvelope(w, http.StatusNotFound, nil, "NOT_FOUND")
	}
}

type harness struct {
	t      *testing.T
	srv    *httptest.Server
	api    *fakeServer
	dir    string
	config string
	state  string
}

func newHarness(t *testing.T) *harness {
	t.Setenv(envServer, "")
	api := &fakeServer{}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	dir := t.TempDir()
	return &harness{
		t: t, srv: srv, api: api, dir: dir,
		config: filepath.Join(dir, "config.yaml"),
		state:  filepath.Join(dir, "state.db"),
	}
}

func (h *harness) run(stdin string, args ...string) (string, string, error) {
	h.t.Helper()
	var out, errOut bytes.Buffer
	err := Run(context.Background(),
		Streams{In: strings.NewReader(stdin), Out: &out, Err: &errOut},
		append([]string{"--config", h.config, "--state", h.state, "--server", h.srv.URL}, args...))
	return out.String(), errOut.String(), err
}

func (h *harness) seedToken(access string) {
	h.t.Helper()
	store, err := state.OpenBolt(h.state)
	require.NoError(h.t, err)
	defer store.Close()
	require.NoError(h.t, store.Save(context.Background(), &oauth2.Token{
		AccessToken: access, RefreshToken: "refresh", TokenType: "Bearer",
	}))
}

func TestLoginThenProfile(t *testing.T) {
	h := newHarness(t)

	out, _, err := h.run("s3cret-pass\n", "login", "-u", "dev")
	require.NoError(t, err)
	assert.Contains(t, out, "Signed in as dev")
	assert.Equal(t, "dev", h.api.lastLogin["username"])

	out, _, err = h.run("", "profile")
	require.NoError(t, err)
	assert.Contains(t, out, "dev@example.com")
	assert.Equal(t, int32(1), atomic.LoadInt32(&h.api.profileHit))
}

func TestLogin_EmailAndBadPassword(t *testing.T) {
	h := newHarness(t)

	_, _, err := h.run("dev@example.com\nwrong\n", "login")
	require.Error(t, err)
	assert.Equal(t, "dev@example.com", h.api.lastLogin["email"])
	assert.Equal(t, "Unauthorized", describe(err))
	assert.Zero(t, atomic.LoadInt32(&h.api.refreshes))
}

func TestReposList(t *testing.T) {
	h := newHarness(t)
	h.seedToken("good")

	out, _, err := h.run("", "repos", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "01HXREPO")
	assert.Contains(t, out, "completed")
	assert.Contains(t, out, "page 1 of 1 (1 total)")

	out, _, err = h.run("", "repos", "list", "-o", "json")
	require.NoError(t, err)
	var page struct {
		Items []struct {
			ID string `json:"id"`
		} `json:"items"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &page))
	require.Len(t, page.Items, 1)
	assert.Equal(t, "01HXREPO", page.Items[0].ID)
}

func TestReposList_TrackedFlagsConflict(t *testing.T) {
	h := newHarness(t)
	h.seedToken("good")

	_, _, err := h.run("", "repos", "list", "--tracked", "--untracked")
	assert.ErrorContains(t, err, "mutually exclusive")
}

func TestAnalyticsOverview_RefreshesStaleToken(t *testing.T) {
	h := newHarness(t)
	h.api.refreshOK = true
	h.seedToken("stale")

	out, _, err := h.run("", "analytics", "overview", "--start", "2024-06-01")
	require.NoError(t, err)
	assert.Contains(t, out, "2024-06-01 .. 2024-06-30")
	assert.Contains(t, out, "42")
	assert.Equal(t, int32(1), atomic.LoadInt32(&h.api.refreshes))

	store, err := state.OpenBolt(h.state)
	require.NoError(t, err)
	defer store.Close()
	tok, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "good", tok.AccessToken)
}

func TestSessionExpired(t *testing.T) {
	h := newHarness(t)
	h.seedToken("stale")

	_, errOut, err := h.run("", "repos", "list")
	require.Error(t, err)
	assert.Contains(t, errOut, "session expired")
	assert.Contains(t, describe(err), "devinsight login")

	store, err := state.OpenBolt(h.state)
	require.NoError(t, err)
	defer store.Close()
	_, err = store.Load(context.Background())
	assert.ErrorIs(t, err, state.ErrNoToken)
}

func TestContributors_EmptyAndInvalid(t *testing.T) {
	h := newHarness(t)
	h.seedToken("good")

	out, _, err := h.run("", "analytics", "contributors", "-o", "json")
	require.NoError(t, err)
	assert.JSONEq(t, "[]", out)

	_, _, err = h.run("", "analytics", "contributors", "--limit", "500")
	assert.Error(t, err)
}

func TestLogout_ClearsStoredSession(t *testing.T) {
	h := newHarness(t)
	h.seedToken("good")

	out, _, err := h.run("", "logout")
	require.NoError(t, err)
	assert.Contains(t, out, "Signed out")

	_, _, err = h.run("", "profile")
	assert.Error(t, err)
}

func TestConfigSetAndLoad(t *testing.T) {
	h := newHarness(t)

	_, _, err := h.run("", "config", "set", "output", "json")
	require.NoError(t, err)
	_, err = os.Stat(h.state)
	assert.True(t, os.IsNotExist(err), "config commands never open the session store")

	cfg, err := LoadConfig(h.config)
	require.NoError(t, err)
	assert.Equal(t, outputJSON, cfg.Output)

	_, _, err = h.run("", "config", "set", "output", "xml")
	assert.ErrorContains(t, err, "invalid output format")

	_, _, err = h.run("", "config", "set", "timeout", "soon")
	assert.ErrorContains(t, err, "invalid timeout")
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server_url: https://insight.example.com\ntimeout: 5s\noutput: json\n"), 0o600))

	t.Run("file", func(t *testing.T) {
		t.Setenv(envServer, "")
		cfg, err := LoadConfig(path)
		require.NoError(t, err)
		assert.Equal(t, "https://insight.example.com", cfg.Server)
		assert.Equal(t, outputJSON, cfg.Output)
		assert.Equal(t, 5*time.Second, cfg.RequestTimeout())
	})

	t.Run("env overrides file", func(t *testing.T) {
		t.Setenv(envServer, "http://localhost:9999")
		cfg, err := LoadConfig(path)
		require.NoError(t, err)
		assert.Equal(t, "http://localhost:9999", cfg.Server)
	})

	t.Run("missing file uses defaults", func(t *testing.T) {
		t.Setenv(envServer, "")
		cfg, err := LoadConfig(filepath.Join(dir, "absent.yaml"))
		require.NoError(t, err)
		assert.Equal(t, defaultServer, cfg.Server)
		assert.Equal(t, outputTable, cfg.Output)
		assert.Equal(t, client.DefaultTimeout, cfg.RequestTimeout())
	})

	t.Run("bad server scheme", func(t *testing.T) {
		t.Setenv(envServer, "ftp://example.com")
		_, err := LoadConfig(path)
		assert.Error(t, err)
	})
}

func TestRepoNameFromURL(t *testing.T) {
	tests := map[string]string{
		"https://github.com/acme/api.git":        "api",
		"https://gitlab.com/group/sub/service/":  "service",
		"git@codeup.aliyun.com:org/billing.git":  "billing",
		"https://codeup.aliyun.com/org/frontend": "frontend",
	}
	for in, want := range tests {
		assert.Equal(t, want, repoNameFromURL(in), in)
	}
}
