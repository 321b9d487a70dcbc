package service

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/devinsight/devinsight/internal/model"
	"github.com/devinsight/devinsight/internal/repository"
)

// Distribution dimensions.
const (
	DimensionHour    = "hour"
	DimensionWeekday = "weekday"
	DimensionMonth   = "month"
)

var weekdayLabels = []string{"Sunday", "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday"}

// ParseScoreConfig overlays a JSON object of weights on the defaults.
// Unknown keys are ignored; negative weights are rejected.
func ParseScoreConfig(raw string) (model.ScoreConfig, error) {
	cfg := model.DefaultScoreConfig()
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return cfg, nil
	}
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return cfg, fieldError("score_config", "must be a JSON object of weights")
	}
	for name, w := range map[string]float64{
		"commit_weight":        cfg.CommitWeight,
		"merge_request_weight": cfg.MergeRequestWeight,
		"addition_weight":      cfg.AdditionWeight,
		"deletion_weight":      cfg.DeletionWeight,
		"file_change_weight":   cfg.FileChangeWeight,
	} {
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return cfg, fieldError("score_config", name+" must be a non-negative number")
		}
	}
	return cfg, nil
}

// Score computes the weighted efficiency score, rounded to two decimals.
func Score(s model.ScoreStats, cfg model.ScoreConfig) float64 {
	return round2(float64(s.Commits)*cfg.CommitWeight +
		float64(s.MergeRequests)*cfg.MergeRequestWeight +
		float64(s.Additions)*cfg.AdditionWeight +
		float64(s.Deletions)*cfg.DeletionWeight +
		float64(s.FilesChanged)*cfg.FileChangeWeight)
}

// AuthorScores merges per-author commit and merge request aggregates and
// ranks them by score.
func AuthorScores(commits, mrs []repository.Aggregate, cfg model.ScoreConfig) []model.EfficiencyScore {
	byKey := make(map[string]*model.EfficiencyScore)
	var order []string
	get := func(a repository.Aggregate) *model.EfficiencyScore {
		e, ok := byKey[a.Key]
		if !ok {
			e = &model.EfficiencyScore{AuthorName: a.Name, AuthorEmail: a.Key}
			byKey[a.Key] = e
			order = append(order, a.Key)
		}
		if e.AuthorName == "" {
			e.AuthorName = a.Name
		}
		return e
	}

	for _, a := range commits {
		e := get(a)
		e.Stats.Commits += a.Count
		e.Stats.Additions += a.Additions
		e.Stats.Deletions += a.Deletions
		e.Stats.FilesChanged += a.FilesChanged
	}
	for _, a := range mrs {
		e := get(a)
		e.Stats.MergeRequests += a.Count
		e.Stats.Additions += a.Additions
		e.Stats.Deletions += a.Deletions
	}

	return rankScores(byKey, order, cfg)
}

// RepositoryScores is AuthorScores keyed by repository. names maps
// repository ids to display names.
func RepositoryScores(commits, mrs []repository.Aggregate, names map[string]string, cfg model.ScoreConfig) []model.EfficiencyScore {
	byKey := make(map[string]*model.EfficiencyScore)
	var order []string
	get := func(id string) *model.EfficiencyScore {
		e, ok := byKey[id]
		if !ok {
			e = &model.EfficiencyScore{RepositoryID: id, RepositoryName: names[id]}
			byKey[id] = e
			order = append(order, id)
		}
		return e
	}

	for _, a := range commits {
		e := get(a.Key)
		e.Stats.Commits += a.Count
		e.Stats.Additions += a.Additions
		e.Stats.Deletions += a.Deletions
		e.Stats.FilesChanged += a.FilesChanged
	}
	for _, a := range mrs {
		e := get(a.Key)
		e.Stats.MergeRequests += a.Count
		e.Stats.Additions += a.Additions
		e.Stats.Deletions += a.Deletions
	}

	return rankScores(byKey, order, cfg)
}

func rankScores(byKey map[string]*model.EfficiencyScore, order []string, cfg model.ScoreConfig) []model.EfficiencyScore {
	out := make([]model.EfficiencyScore, 0, len(order))
	for _, k := range order {
		e := byKey[k]
		e.Score = Score(e.Stats, cfg)
		out = append(out, *e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out
}

// Distribution turns per-unit counts into a dense labelled series.
// Hours are 0-23, weekdays 0-6 starting Sunday and months 1-12. peak is the
// first label holding the maximum, or empty when there is no activity.
func Distribution(counts map[int]int64, dimension string) (buckets []model.DistributionBucket, total int64, peak string, err error) {
	var labels []string
	offset := 0
	switch dimension {
	case DimensionHour:
		for h := 0; h < 24; h++ {
			labels = append(labels, fmt.Sprintf("%02d:00", h))
		}
	case DimensionWeekday:
		labels = weekdayLabels
	case DimensionMonth:
		for m := time.January; m <= time.December; m++ {
			labels = append(labels, m.String())
		}
		offset = 1
	default:
		return nil, 0, "", fieldError("dimension", "must be one of hour, weekday, month")
	}

	buckets = make([]model.DistributionBucket, len(labels))
	var peakValue int64
	for i, label := range labels {
		v := counts[i+offset]
		buckets[i] = model.DistributionBucket{Label: label, Value: v}
		total += v
		if v > peakValue {
			peakValue = v
			peak = label
		}
	}
	return buckets, total, peak, nil
}

// PeriodKey formats the start of a bucket for a grouping unit: hours as
// "2006-01-02 15:00", days as "2006-01-02", weeks as ISO "2006-W01" and
// months as "2006-01".
func PeriodKey(t time.Time, unit string) string {
	t = t.UTC()
	switch unit {
	case "hour":
		return t.Format("2006-01-02 15:00")
	case "week":
		year, week := t.ISOWeek()
		return fmt.Sprintf("%04d-W%02d", year, week)
	case "month":
		return t.Format("2006-01")
	default:
		return t.Format(time.DateOnly)
	}
}

// Timeline labels time buckets with PeriodKey.
func Timeline(buckets []repository.TimeBucket, unit string) []model.PeriodCount {
	out := make([]model.PeriodCount, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, model.PeriodCount{
			Period:    PeriodKey(b.Start, unit),
			Count:     b.Count,
			Additions: b.Additions,
			Deletions: b.Deletions,
			Merged:    b.Merged,
		})
	}
	return out
}

// DailySeries returns one entry per UTC day in [start, end], with zeros for
// days that have no bucket.
func DailySeries(buckets []repository.TimeBucket, start, end time.Time) []model.PeriodCount {
	byDay := make(map[string]repository.TimeBucket, len(buckets))
	for _, b := range buckets {
		byDay[PeriodKey(b.Start, "day")] = b
	}

	day := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	last := end.UTC()
	var out []model.PeriodCount
	for !day.After(last) {
		key := PeriodKey(day, "day")
		b := byDay[key]
		out = append(out, model.PeriodCount{
			Period:    key,
			Count:     b.Count,
			Additions: b.Additions,
			Deletions: b.Deletions,
		})
		day = day.AddDate(0, 0, 1)
	}
	return out
}

// Contributors merges author aggregates, ranks them by commits and keeps at
// most limit entries.
func Contributors(commits, mrs []repository.Aggregate, limit int) []model.Contributor {
	byKey := make(map[string]*model.Contributor)
	var order []string
	get := func(a repository.Aggregate) *model.Contributor {
		c, ok := byKey[a.Key]
		if !ok {
			c = &model.Contributor{AuthorName: a.Name, AuthorEmail: a.Key}
			byKey[a.Key] = c
			order = append(order, a.Key)
		}
		if a.LastAt != nil && (c.LastActiveAt == nil || a.LastAt.After(*c.LastActiveAt)) {
			at := a.LastAt.UTC()
			c.LastActiveAt = &at
		}
		return c
	}
	for _, a := range commits {
		c := get(a)
		c.CommitsCount += a.Count
		c.Additions += a.Additions
		c.Deletions += a.Deletions
	}
	for _, a := range mrs {
		get(a).MergeRequestsCount += a.Count
	}

	out := make([]model.Contributor, 0, len(order))
	for _, k := range order {
		out = append(out, *byKey[k])
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CommitsCount != out[j].CommitsCount {
			return out[i].CommitsCount > out[j].CommitsCount
		}
		return out[i].MergeRequestsCount > out[j].MergeRequestsCount
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// AuthorStatsOf converts author aggregates for list responses.
func AuthorStatsOf(aggs []repository.Aggregate, mergeRequests bool) []model.AuthorStats {
	out := make([]model.AuthorStats, 0, len(aggs))
	for _, a := range aggs {
		s := model.AuthorStats{
			AuthorName:   a.Name,
			AuthorEmail:  a.Key,
			Additions:    a.Additions,
			Deletions:    a.Deletions,
			FilesChanged: a.FilesChanged,
		}
		if mergeRequests {
			s.MergeRequests = a.Count
			s.Merged = a.Merged
		} else {
			s.Commits = a.Count
		}
		out = append(out, s)
	}
	return out
}

// MergeRate is the merged share of total as a percentage.
func MergeRate(merged, total int64) float64 {
	if total == 0 {
		return 0
	}
	return round2(float64(merged) / float64(total) * 100)
}

func perUnit(n int64, units int) float64 {
	if units <= 0 {
		return 0
	}
	return round2(float64(n) / float64(units))
}

func periodOf(r DateRange) model.Period {
	return model.Period{
		StartDate: r.Start.UTC().Format(time.RFC3339),
		EndDate:   r.End.UTC().Format(time.RFC3339),
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
