package testutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"

	"github.com/devinsight/devinsight/internal/model"
)

// RequireEnv returns an environment variable or skips the test if missing.
func RequireEnv(t testing.TB, key string) string {
	t.Helper()
	value := os.Getenv(key)
	if value == "" {
		t.Skipf("%s not set", key)
	}
	return value
}

const advisoryLockID int64 = 731931

// AcquireDBLock grabs a global advisory lock to serialize DB tests.
func AcquireDBLock(ctx context.Context, pool *pgxpool.Pool) (func() error, error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}

	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", advisoryLockID); err != nil {
		conn.Release()
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}

	unlock := func() error {
		defer conn.Release()
		if _, err := conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", advisoryLockID); err != nil {
			return fmt.Errorf("release advisory lock: %w", err)
		}
		return nil
	}

	return unlock, nil
}

// ResetSchema drops every table by running the down migrations newest first,
// then recreates them with the up migrations in order.
func ResetSchema(ctx context.Context, pool *pgxpool.Pool) error {
	root, err := ProjectRoot()
	if err != nil {
		return err
	}

	downs, err := migrationFiles(root, ".down.sql")
	if err != nil {
		return err
	}
	sort.Sort(sort.Reverse(sort.StringSlice(downs)))
	for _, path := range downs {
		if err := execFile(ctx, pool, path); err != nil {
			return err
		}
	}

	ups, err := migrationFiles(root, ".up.sql")
	if err != nil {
		return err
	}
	sort.Strings(ups)
	for _, path := range ups {
		if err := execFile(ctx, pool, path); err != nil {
			return err
		}
	}

	return nil
}

func migrationFiles(root, suffix string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(root, "migrations", "*"+suffix))
	if err != nil {
		return nil, fmt.Errorf("glob migrations: %w", err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("no %s migrations found", strings.TrimPrefix(suffix, "."))
	}
	return matches, nil
}

func execFile(ctx context.Context, pool *pgxpool.Pool, path string) error {
	sql, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read migration %s: %w", filepath.Base(path), err)
	}
	if _, err := pool.Exec(ctx, string(sql)); err != nil {
		return fmt.Errorf("apply migration %s: %w", filepath.Base(path), err)
	}
	return nil
}

// FlushRedis clears the current Redis database.
func FlushRedis(ctx context.Context, client *redis.Client) error {
	return client.FlushDB(ctx).Err()
}

// ProjectRoot returns the project root directory.
func ProjectRoot() (string, error) {
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		return "", fmt.Errorf("failed to resolve testutil path")
	}
	root := filepath.Clean(filepath.Join(filepath.Dir(filename), "..", ".."))
	return root, nil
}

// ============================================================================
// Test Data Factories
// ============================================================================

// UniqueID generates a unique ULID for tests.
func UniqueID() string {
	return ulid.Make().String()
}

// NewTestUser creates an active user with a unique username and email.
func NewTestUser(t testing.TB) *model.User {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Microsecond)
	suffix := strings.ToLower(ulid.Make().String()[16:])
	return &model.User{
		ID:           UniqueID(),
		Username:     "user_" + suffix,
		Email:        "user_" + suffix + "@example.com",
		PasswordHash: "$argon2id$v=19$m=65536,t=3,p=4$c2FsdA$aGFzaA",
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// NewTestRepository creates a tracked Yunxiao repository owned by userID.
func NewTestRepository(t testing.TB, userID string) *model.Repository {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Microsecond)
	id := UniqueID()
	return &model.Repository{
		ID:              id,
		UserID:          userID,
		Name:            "repo-" + strings.ToLower(id[20:]),
		URL:             "https://codeup.aliyun.com/org/" + strings.ToLower(id) + ".git",
		Platform:        model.PlatformYunxiao,
		ProjectID:       id,
		APIKeyEncrypted: "encrypted",
		IsActive:        true,
		IsTracked:       true,
		SyncStatus:      model.SyncStatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// NewTestCommit creates a commit in repositoryID at the given time.
func NewTestCommit(t testing.TB, repositoryID, authorEmail string, at time.Time) *model.Commit {
	t.Helper()
	id := UniqueID()
	return &model.Commit{
		ID:           id,
		RepositoryID: repositoryID,
		CommitHash:   strings.ToLower(id) + "abcdef",
		AuthorName:   strings.Split(authorEmail, "@")[0],
		AuthorEmail:  authorEmail,
		Message:      "change " + id,
		Additions:    10,
		Deletions:    4,
		FilesChanged: 2,
		CommitDate:   at.UTC(),
	}
}

// NewTestMergeRequest creates a merge request in repositoryID.
func NewTestMergeRequest(t testing.TB, repositoryID string, iid int64, state model.MergeRequestState, at time.Time) *model.MergeRequest {
	t.Helper()
	return &model.MergeRequest{
		ID:              UniqueID(),
		RepositoryID:    repositoryID,
		MRID:            iid,
		Title:           fmt.Sprintf("MR %d", iid),
		AuthorName:      "dev",
		AuthorEmail:     "dev@example.com",
		SourceBranch:    "feature",
		TargetBranch:    "main",
		State:           state,
		Additions:       20,
		Deletions:       5,
		FilesChanged:    3,
		CommitsCount:    2,
		CreatedAtRemote: at.UTC(),
	}
}
