package repository

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/devinsight/devinsight/internal/model"
)

func TestCursor_RoundTrip(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	encoded := encodeCursor(&PaginationCursor{ID: "01HX", At: at})

	decoded, err := decodeCursor(encoded)
	if err != nil {
		t.Fatalf("decodeCursor failed: %v", err)
	}
	if decoded.ID != "01HX" || !decoded.At.Equal(at) {
		t.Errorf("unexpected cursor: %+v", decoded)
	}
}

func TestDecodeCursor_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"not base64", "%%%"},
		{"not json", "bm90IGpzb24"},
		{"missing fields", encodeCursor(&PaginationCursor{})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := decodeCursor(tt.input); err == nil {
				t.Errorf("decodeCursor(%q) should fail", tt.input)
			}
		})
	}
}

func TestEscapeLike(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{"50%", `50\%`},
		{"a_b", `a\_b`},
		{`back\slash`, `back\\slash`},
	}
	for _, tt := range tests {
		if got := escapeLike(tt.in); got != tt.want {
			t.Errorf("escapeLike(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestAnalyticsScope_Where(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	t.Run("base", func(t *testing.T) {
		scope := AnalyticsScope{RepositoryIDs: []string{"r1"}, Start: start, End: end}
		clause, args := scope.where("commit_date", false)
		if !strings.Contains(clause, "commit_date >= $2") || !strings.Contains(clause, "commit_date <= $3") {
			t.Errorf("unexpected clause: %s", clause)
		}
		if len(args) != 3 {
			t.Errorf("expected 3 args, got %d", len(args))
		}
	})

	t.Run("author and state", func(t *testing.T) {
		scope := AnalyticsScope{
			RepositoryIDs: []string{"r1"},
			Start:         start,
			End:           end,
			AuthorEmail:   "Dev@Example.com",
			State:         model.MergeRequestMerged,
		}
		clause, args := scope.where("created_at_remote", true)
		if !strings.Contains(clause, "LOWER(author_email) = LOWER($4)") {
			t.Errorf("missing author predicate: %s", clause)
		}
		if !strings.Contains(clause, "state = $5") {
			t.Errorf("missing state predicate: %s", clause)
		}
		if len(args) != 5 || args[4] != "merged" {
			t.Errorf("unexpected args: %v", args)
		}
	})

	t.Run("state ignored for commits", func(t *testing.T) {
		scope := AnalyticsScope{RepositoryIDs: []string{"r1"}, Start: start, End: end, State: model.MergeRequestOpened}
		clause, args := scope.where("commit_date", false)
		if strings.Contains(clause, "state") {
			t.Errorf("state predicate leaked into commit query: %s", clause)
		}
		if len(args) != 3 {
			t.Errorf("expected 3 args, got %d", len(args))
		}
	})
}

func TestIsUniqueViolation(t *testing.T) {
	err := &pgconn.PgError{Code: "23505", ConstraintName: "repositories_user_url_key"}

	if !isUniqueViolation(err, "") {
		t.Error("expected any-constraint match")
	}
	if !isUniqueViolation(err, "repositories_user_url_key") {
		t.Error("expected named constraint match")
	}
	if isUniqueViolation(err, "commits_repository_hash_key") {
		t.Error("unexpected match on other constraint")
	}
	if isUniqueViolation(errors.New("boom"), "") {
		t.Error("plain error should not match")
	}
}

func TestUpsertStats_Total(t *testing.T) {
	if got := (UpsertStats{Inserted: 2, Updated: 3}).Total(); got != 5 {
		t.Errorf("Total() = %d, want 5", got)
	}
}
