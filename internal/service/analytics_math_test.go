package service

import (
	"errors"
	"testing"
	"time"

	"github.com/devinsight/devinsight/internal/model"
	"github.com/devinsight/devinsight/internal/repository"
)

func TestScore(t *testing.T) {
	t.Parallel()

	stats := model.ScoreStats{Commits: 10, MergeRequests: 3, Additions: 200, Deletions: 40, FilesChanged: 15}
	// 10*1 + 3*2 + 200*0.1 + 40*0.05 + 15*0.2
	if got := Score(stats, model.DefaultScoreConfig()); got != 41 {
		t.Errorf("Score() = %v, want 41", got)
	}

	cfg := model.ScoreConfig{CommitWeight: 1.0 / 3}
	if got := Score(model.ScoreStats{Commits: 1}, cfg); got != 0.33 {
		t.Errorf("Score() = %v, want 0.33", got)
	}
}

func TestParseScoreConfig(t *testing.T) {
	t.Parallel()

	cfg, err := ParseScoreConfig("")
	if err != nil || cfg != model.DefaultScoreConfig() {
		t.Fatalf("empty config should yield defaults, got %+v %v", cfg, err)
	}

	cfg, err = ParseScoreConfig(`{"commit_weight": 3, "unknown": 1}`)
	if err != nil {
		t.Fatalf("ParseScoreConfig failed: %v", err)
	}
	if cfg.CommitWeight != 3 || cfg.MergeRequestWeight != 2 {
		t.Errorf("partial override not applied: %+v", cfg)
	}

	for _, raw := range []string{`{"deletion_weight": -1}`, `not json`, `[1,2]`} {
		if _, err := ParseScoreConfig(raw); !errors.Is(err, ErrValidation) {
			t.Errorf("ParseScoreConfig(%q) expected validation error, got %v", raw, err)
		}
	}
}

func TestAuthorScores(t *testing.T) {
	t.Parallel()

	commits := []repository.Aggregate{
		{Key: "a@example.com", Name: "Ann", Count: 2, Additions: 10, FilesChanged: 5},
		{Key: "b@example.com", Name: "Bob", Count: 5},
	}
	mrs := []repository.Aggregate{
		{Key: "a@example.com", Count: 4, Additions: 10},
		{Key: "c@example.com", Name: "Cid", Count: 1},
	}

	got := AuthorScores(commits, mrs, model.DefaultScoreConfig())
	if len(got) != 3 {
		t.Fatalf("expected 3 authors, got %d", len(got))
	}
	// Ann: 2 + 4*2 + 20*0.1 + 5*0.2 = 13
	if got[0].AuthorEmail != "a@example.com" || got[0].Score != 13 {
		t.Errorf("unexpected leader: %+v", got[0])
	}
	if got[0].Stats.MergeRequests != 4 || got[0].Stats.Additions != 20 {
		t.Errorf("stats not merged: %+v", got[0].Stats)
	}
	if got[1].AuthorEmail != "b@example.com" || got[2].AuthorName != "Cid" {
		t.Errorf("unexpected order: %+v", got)
	}
}

func TestRepositoryScores(t *testing.T) {
	t.Parallel()

	commits := []repository.Aggregate{{Key: "r1", Count: 1}, {Key: "r2", Count: 4}}
	mrs := []repository.Aggregate{{Key: "r1", Count: 1}}
	names := map[string]string{"r1": "api", "r2": "web"}

	got := RepositoryScores(commits, mrs, names, model.DefaultScoreConfig())
	if len(got) != 2 || got[0].RepositoryName != "web" || got[0].Score != 4 || got[1].Score != 3 {
		t.Errorf("unexpected scores: %+v", got)
	}
}

func TestDistribution(t *testing.T) {
	t.Parallel()

	t.Run("hour", func(t *testing.T) {
		buckets, total, peak, err := Distribution(map[int]int64{9: 4, 14: 4, 23: 1}, DimensionHour)
		if err != nil {
			t.Fatal(err)
		}
		if len(buckets) != 24 || buckets[0].Label != "00:00" || buckets[23].Label != "23:00" {
			t.Errorf("unexpected labels: %v", buckets)
		}
		if total != 9 || peak != "09:00" {
			t.Errorf("total=%d peak=%q", total, peak)
		}
	})

	t.Run("weekday", func(t *testing.T) {
		buckets, _, peak, err := Distribution(map[int]int64{0: 1, 6: 3}, DimensionWeekday)
		if err != nil {
			t.Fatal(err)
		}
		if len(buckets) != 7 || buckets[0].Label != "Sunday" || peak != "Saturday" {
			t.Errorf("unexpected weekday distribution: %v peak=%q", buckets, peak)
		}
	})

	t.Run("month", func(t *testing.T) {
		buckets, _, peak, err := Distribution(map[int]int64{1: 2, 12: 1}, DimensionMonth)
		if err != nil {
			t.Fatal(err)
		}
		if len(buckets) != 12 || buckets[0].Value != 2 || buckets[11].Label != "December" || peak != "January" {
			t.Errorf("unexpected month distribution: %v peak=%q", buckets, peak)
		}
	})

	t.Run("empty", func(t *testing.T) {
		_, total, peak, err := Distribution(nil, DimensionHour)
		if err != nil || total != 0 || peak != "" {
			t.Errorf("empty distribution: total=%d peak=%q err=%v", total, peak, err)
		}
	})

	t.Run("invalid", func(t *testing.T) {
		if _, _, _, err := Distribution(nil, "minute"); !errors.Is(err, ErrValidation) {
			t.Errorf("expected validation error, got %v", err)
		}
	})
}

func TestPeriodKey(t *testing.T) {
	t.Parallel()

	ts := time.Date(2024, 12, 30, 14, 45, 0, 0, time.UTC)
	tests := map[string]string{
		"hour":  "2024-12-30 14:00",
		"day":   "2024-12-30",
		"week":  "2025-W01",
		"month": "2024-12",
	}
	for unit, want := range tests {
		if got := PeriodKey(ts, unit); got != want {
			t.Errorf("PeriodKey(%s) = %q, want %q", unit, got, want)
		}
	}
}

func TestDailySeries(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	end := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	buckets := []repository.TimeBucket{
		{Start: time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC), Count: 5},
	}

	got := DailySeries(buckets, start, end)
	if len(got) != 4 {
		t.Fatalf("expected 4 days, got %d: %v", len(got), got)
	}
	if got[0].Period != "2024-03-01" || got[0].Count != 0 || got[1].Count != 5 || got[3].Period != "2024-03-04" {
		t.Errorf("unexpected series: %v", got)
	}
}

func TestContributors(t *testing.T) {
	t.Parallel()

	early := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	late := early.Add(48 * time.Hour)
	commits := []repository.Aggregate{
		{Key: "a@example.com", Name: "Ann", Count: 1, LastAt: &early},
		{Key: "b@example.com", Name: "Bob", Count: 3, Additions: 7},
	}
	mrs := []repository.Aggregate{
		{Key: "a@example.com", Count: 2, LastAt: &late},
	}

	got := Contributors(commits, mrs, 1)
	if len(got) != 1 || got[0].AuthorEmail != "b@example.com" || got[0].Additions != 7 {
		t.Fatalf("unexpected top contributor: %+v", got)
	}

	all := Contributors(commits, mrs, 10)
	ann := all[1]
	if ann.MergeRequestsCount != 2 || ann.LastActiveAt == nil || !ann.LastActiveAt.Equal(late) {
		t.Errorf("unexpected merge: %+v", ann)
	}
}

func TestMergeRate(t *testing.T) {
	t.Parallel()

	if got := MergeRate(0, 0); got != 0 {
		t.Errorf("MergeRate(0, 0) = %v", got)
	}
	if got := MergeRate(2, 3); got != 66.67 {
		t.Errorf("MergeRate(2, 3) = %v, want 66.67", got)
	}
}
