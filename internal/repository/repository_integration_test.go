//go:build integration

package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/devinsight/devinsight/internal/model"
	"github.com/devinsight/devinsight/internal/testutil"
)

func newTestEnv(t *testing.T) (context.Context, *Repository) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration tests in short mode")
	}

	ctx := context.Background()
	dbURL := testutil.RequireEnv(t, "DATABASE_URL")

	repo, err := New(ctx, dbURL)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(repo.Close)

	unlock, err := testutil.AcquireDBLock(ctx, repo.Pool())
	if err != nil {
		t.Fatalf("acquire db lock: %v", err)
	}
	t.Cleanup(func() {
		_ = unlock()
	})

	if err := testutil.ResetSchema(ctx, repo.Pool()); err != nil {
		t.Fatalf("reset schema: %v", err)
	}

	return ctx, repo
}

func seedUserAndRepo(t *testing.T, ctx context.Context, repo *Repository) (*model.User, *model.Repository) {
	t.Helper()
	user := testutil.NewTestUser(t)
	if err := repo.CreateUser(ctx, user); err != nil {
		t.Fatalf("create user: %v", err)
	}
	r := testutil.NewTestRepository(t, user.ID)
	if err := repo.CreateRepository(ctx, r); err != nil {
		t.Fatalf("create repository: %v", err)
	}
	return user, r
}

func TestIntegrationUser_CreateAndLookup(t *testing.T) {
	ctx, repo := newTestEnv(t)

	user := testutil.NewTestUser(t)
	if err := repo.CreateUser(ctx, user); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	byName, err := repo.GetUserByUsername(ctx, user.Username)
	if err != nil {
		t.Fatalf("GetUserByUsername failed: %v", err)
	}
	if byName.ID != user.ID {
		t.Errorf("ID mismatch: got %q, want %q", byName.ID, user.ID)
	}

	byEmail, err := repo.GetUserByEmail(ctx, "  "+user.Email)
	if !errors.Is(err, ErrUserNotFound) {
		t.Errorf("expected padded email to miss, got %v (%v)", err, byEmail)
	}

	dupName := testutil.NewTestUser(t)
	dupName.Username = user.Username
	if err := repo.CreateUser(ctx, dupName); !errors.Is(err, ErrUsernameExists) {
		t.Errorf("expected ErrUsernameExists, got %v", err)
	}

	dupEmail := testutil.NewTestUser(t)
	dupEmail.Email = user.Email
	if err := repo.CreateUser(ctx, dupEmail); !errors.Is(err, ErrEmailExists) {
		t.Errorf("expected ErrEmailExists, got %v", err)
	}
}

func TestIntegrationRepository_CreateListDelete(t *testing.T) {
	ctx, repo := newTestEnv(t)
	user, r := seedUserAndRepo(t, ctx, repo)

	dup := testutil.NewTestRepository(t, user.ID)
	dup.URL = r.URL
	if err := repo.CreateRepository(ctx, dup); !errors.Is(err, ErrRepositoryExists) {
		t.Fatalf("expected ErrRepositoryExists, got %v", err)
	}

	commit := testutil.NewTestCommit(t, r.ID, "a@example.com", time.Now())
	if _, err := repo.UpsertCommits(ctx, []*model.Commit{commit}); err != nil {
		t.Fatalf("UpsertCommits failed: %v", err)
	}

	items, total, err := repo.ListRepositories(ctx, RepositoryFilter{UserID: user.ID, Search: r.Name[:6]}, 1, 20)
	if err != nil {
		t.Fatalf("ListRepositories failed: %v", err)
	}
	if total != 1 || len(items) != 1 {
		t.Fatalf("expected 1 repository, got total=%d len=%d", total, len(items))
	}
	if items[0].Stats.CommitsCount != 1 {
		t.Errorf("expected 1 commit in stats, got %d", items[0].Stats.CommitsCount)
	}

	other := testutil.NewTestUser(t)
	if err := repo.CreateUser(ctx, other); err != nil {
		t.Fatalf("create other user: %v", err)
	}
	if _, err := repo.GetRepository(ctx, other.ID, r.ID); !errors.Is(err, ErrRepositoryNotFound) {
		t.Errorf("expected ownership check to hide repository, got %v", err)
	}

	if err := repo.DeleteRepository(ctx, user.ID, r.ID); err != nil {
		t.Fatalf("DeleteRepository failed: %v", err)
	}
	commits, err := repo.ListCommits(ctx, r.ID, 10)
	if err != nil {
		t.Fatalf("ListCommits failed: %v", err)
	}
	if len(commits) != 0 {
		t.Errorf("expected commits to cascade, got %d", len(commits))
	}
}

func TestIntegrationCommits_UpsertCountsInsertsAndUpdates(t *testing.T) {
	ctx, repo := newTestEnv(t)
	_, r := seedUserAndRepo(t, ctx, repo)

	c1 := testutil.NewTestCommit(t, r.ID, "a@example.com", time.Now().Add(-time.Hour))
	c2 := testutil.NewTestCommit(t, r.ID, "b@example.com", time.Now())

	stats, err := repo.UpsertCommits(ctx, []*model.Commit{c1, c2})
	if err != nil {
		t.Fatalf("UpsertCommits failed: %v", err)
	}
	if stats.Inserted != 2 || stats.Updated != 0 {
		t.Errorf("first upsert: got %+v", stats)
	}

	c1.Additions = 99
	c1.ID = testutil.UniqueID()
	stats, err = repo.UpsertCommits(ctx, []*model.Commit{c1})
	if err != nil {
		t.Fatalf("UpsertCommits (second) failed: %v", err)
	}
	if stats.Inserted != 0 || stats.Updated != 1 {
		t.Errorf("second upsert: got %+v", stats)
	}
}

func TestIntegrationAnalytics_TotalsAndDistribution(t *testing.T) {
	ctx, repo := newTestEnv(t)
	_, r := seedUserAndRepo(t, ctx, repo)

	base := time.Date(2024, 3, 4, 9, 30, 0, 0, time.UTC) // Monday
	commits := []*model.Commit{
		testutil.NewTestCommit(t, r.ID, "a@example.com", base),
		testutil.NewTestCommit(t, r.ID, "A@example.com", base.Add(time.Hour)),
		testutil.NewTestCommit(t, r.ID, "b@example.com", base.Add(24*time.Hour)),
	}
	if _, err := repo.UpsertCommits(ctx, commits); err != nil {
		t.Fatalf("UpsertCommits failed: %v", err)
	}
	mrs := []*model.MergeRequest{
		testutil.NewTestMergeRequest(t, r.ID, 1, model.MergeRequestMerged, base),
		testutil.NewTestMergeRequest(t, r.ID, 2, model.MergeRequestOpened, base.Add(2*time.Hour)),
	}
	if _, err := repo.UpsertMergeRequests(ctx, mrs); err != nil {
		t.Fatalf("UpsertMergeRequests failed: %v", err)
	}

	scope := AnalyticsScope{
		RepositoryIDs: []string{r.ID},
		Start:         base.Add(-time.Hour),
		End:           base.Add(48 * time.Hour),
	}

	ct, err := repo.CommitTotals(ctx, scope)
	if err != nil {
		t.Fatalf("CommitTotals failed: %v", err)
	}
	if ct.Count != 3 || ct.Contributors != 2 || ct.Additions != 30 {
		t.Errorf("unexpected commit totals: %+v", ct)
	}

	mt, err := repo.MergeRequestTotals(ctx, scope)
	if err != nil {
		t.Fatalf("MergeRequestTotals failed: %v", err)
	}
	if mt.Count != 2 || mt.Merged != 1 || mt.Opened != 1 {
		t.Errorf("unexpected merge request totals: %+v", mt)
	}

	byHour, err := repo.CountByTimeUnit(ctx, scope, model.ActivityCommit, "hour")
	if err != nil {
		t.Fatalf("CountByTimeUnit failed: %v", err)
	}
	if byHour[9] != 2 || byHour[10] != 1 {
		t.Errorf("unexpected hour distribution: %v", byHour)
	}

	authors, err := repo.CommitsByAuthor(ctx, scope)
	if err != nil {
		t.Fatalf("CommitsByAuthor failed: %v", err)
	}
	if len(authors) != 2 || authors[0].Key != "a@example.com" || authors[0].Count != 2 {
		t.Errorf("unexpected authors: %+v", authors)
	}

	timeline, err := repo.CommitTimeline(ctx, scope, "day")
	if err != nil {
		t.Fatalf("CommitTimeline failed: %v", err)
	}
	if len(timeline) != 2 || timeline[0].Count != 2 {
		t.Errorf("unexpected timeline: %+v", timeline)
	}

	if _, err := repo.CommitTimeline(ctx, scope, "decade"); !errors.Is(err, ErrInvalidGrouping) {
		t.Errorf("expected ErrInvalidGrouping, got %v", err)
	}
}

func TestIntegrationActivity_CursorPagination(t *testing.T) {
	ctx, repo := newTestEnv(t)
	_, r := seedUserAndRepo(t, ctx, repo)

	base := time.Now().UTC().Add(-time.Hour)
	var commits []*model.Commit
	for i := 0; i < 3; i++ {
		commits = append(commits, testutil.NewTestCommit(t, r.ID, "a@example.com", base.Add(time.Duration(i)*time.Minute)))
	}
	if _, err := repo.UpsertCommits(ctx, commits); err != nil {
		t.Fatalf("UpsertCommits failed: %v", err)
	}
	mr := testutil.NewTestMergeRequest(t, r.ID, 7, model.MergeRequestOpened, base.Add(10*time.Minute))
	if _, err := repo.UpsertMergeRequests(ctx, []*model.MergeRequest{mr}); err != nil {
		t.Fatalf("UpsertMergeRequests failed: %v", err)
	}

	page1, cursor, err := repo.ListActivity(ctx, []string{r.ID}, "", 2)
	if err != nil {
		t.Fatalf("ListActivity failed: %v", err)
	}
	if len(page1) != 2 || cursor == "" {
		t.Fatalf("expected 2 records and a cursor, got %d %q", len(page1), cursor)
	}
	if page1[0].Kind != model.ActivityMergeRequest || page1[0].Reference != "!7" {
		t.Errorf("expected merge request first, got %+v", page1[0])
	}

	page2, cursor, err := repo.ListActivity(ctx, []string{r.ID}, cursor, 2)
	if err != nil {
		t.Fatalf("ListActivity (page 2) failed: %v", err)
	}
	if len(page2) != 2 || cursor != "" {
		t.Fatalf("expected final page of 2, got %d %q", len(page2), cursor)
	}

	if _, _, err := repo.ListActivity(ctx, []string{r.ID}, "not-a-cursor", 2); !errors.Is(err, ErrInvalidCursor) {
		t.Errorf("expected ErrInvalidCursor, got %v", err)
	}
}
