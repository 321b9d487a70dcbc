//go:build integration

package repository

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/devinsight/devinsight/internal/testutil"
)

// ============================================================================
// Migration Integration Tests
// ============================================================================

func TestIntegrationMigration_ApplyAllTables(t *testing.T) {
	ctx, pool := newMigrationTestEnv(t)

	for _, table := range []string{"users", "repositories", "commits", "merge_requests"} {
		t.Run(table, func(t *testing.T) {
			exists, err := tableExists(ctx, pool, table)
			if err != nil {
				t.Fatalf("tableExists failed: %v", err)
			}
			if !exists {
				t.Errorf("Table %q should exist after migrations", table)
			}
		})
	}
}

func TestIntegrationMigration_TableColumns(t *testing.T) {
	ctx, pool := newMigrationTestEnv(t)

	columns := map[string][]string{
		"users":          {"id", "username", "email", "password_hash", "is_active", "last_login_at"},
		"repositories":   {"id", "user_id", "platform", "project_id", "api_key_encrypted", "is_tracked", "sync_status", "last_sync_at"},
		"commits":        {"id", "repository_id", "commit_hash", "author_email", "additions", "deletions", "files_changed", "commit_date"},
		"merge_requests": {"id", "repository_id", "mr_id", "state", "commits_count", "created_at_remote", "merged_at"},
	}

	for table, cols := range columns {
		for _, col := range cols {
			exists, err := columnExists(ctx, pool, table, col)
			if err != nil {
				t.Fatalf("columnExists failed: %v", err)
			}
			if !exists {
				t.Errorf("Column %s.%s should exist", table, col)
			}
		}
	}
}

func TestIntegrationMigration_Constraints(t *testing.T) {
	ctx, pool := newMigrationTestEnv(t)

	user := testutil.NewTestUser(t)
	if _, err := pool.Exec(ctx,
		`INSERT INTO users (id, username, email, password_hash) VALUES ($1, $2, $3, $4)`,
		user.ID, user.Username, user.Email, user.PasswordHash,
	); err != nil {
		t.Fatalf("insert user: %v", err)
	}

	_, err := pool.Exec(ctx, `
		INSERT INTO repositories (id, user_id, name, url, platform, api_key_encrypted)
		VALUES ($1, $2, 'r', 'https://example.com/r.git', 'bitbucket', 'x')
	`, testutil.UniqueID(), user.ID)
	if err == nil {
		t.Error("expected platform check constraint to reject unknown platform")
	}

	_, err = pool.Exec(ctx,
		`INSERT INTO users (id, username, email, password_hash) VALUES ($1, $2, $3, $4)`,
		testutil.UniqueID(), "OTHER", user.Email, user.PasswordHash,
	)
	if !isUniqueViolation(err, "") {
		t.Errorf("expected unique violation on email, got %v", err)
	}
}

func TestIntegrationMigration_RollbackAndReapply(t *testing.T) {
	ctx, pool := newMigrationTestEnv(t)

	root, err := testutil.ProjectRoot()
	if err != nil {
		t.Fatalf("project root: %v", err)
	}
	downs, err := filepath.Glob(filepath.Join(root, "migrations", "*.down.sql"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(downs)))
	for _, path := range downs {
		sql, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("read %s: %v", path, err)
		}
		if _, err := pool.Exec(ctx, string(sql)); err != nil {
			t.Fatalf("apply %s: %v", filepath.Base(path), err)
		}
	}

	exists, err := tableExists(ctx, pool, "commits")
	if err != nil {
		t.Fatalf("tableExists failed: %v", err)
	}
	if exists {
		t.Error("commits table should be gone after rollback")
	}

	// Reapplying twice exercises IF NOT EXISTS.
	for i := 0; i < 2; i++ {
		if err := testutil.ResetSchema(ctx, pool); err != nil {
			t.Fatalf("reset schema (pass %d): %v", i, err)
		}
	}
}

// ============================================================================
// Helper Functions
// ============================================================================

func tableExists(ctx context.Context, pool *pgxpool.Pool, tableName string) (bool, error) {
	var exists bool
	err := pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT FROM information_schema.tables
			WHERE table_schema = 'public'
			AND table_name = $1
		)
	`, tableName).Scan(&exists)
	return exists, err
}

func columnExists(ctx context.Context, pool *pgxpool.Pool, tableName, columnName string) (bool, error) {
	var exists bool
	err := pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT FROM information_schema.columns
			WHERE table_schema = 'public'
			AND table_name = $1
			AND column_name = $2
		)
	`, tableName, columnName).Scan(&exists)
	return exists, err
}

// ============================================================================
// Test Environment Setup
// ============================================================================

func newMigrationTestEnv(t *testing.T) (context.Context, *pgxpool.Pool) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration tests in short mode")
	}

	ctx := context.Background()
	dbURL := testutil.RequireEnv(t, "DATABASE_URL")

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(pool.Close)

	unlock, err := testutil.AcquireDBLock(ctx, pool)
	if err != nil {
		t.Fatalf("acquire db lock: %v", err)
	}
	t.Cleanup(func() {
		_ = unlock()
	})

	if err := testutil.ResetSchema(ctx, pool); err != nil {
		t.Fatalf("reset schema: %v", err)
	}

	return ctx, pool
}
