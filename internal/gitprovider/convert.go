package gitprovider

import (
	"strings"
	"time"

	"github.com/devinsight/devinsight/internal/model"
)

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000-0700",
	"2006-01-02T15:04:05-0700",
	"2006-01-02 15:04:05",
}

// parseTime accepts the timestamp shapes providers return. Zero on failure.
func parseTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func parseTimePtr(s string) *time.Time {
	t := parseTime(s)
	if t.IsZero() {
		return nil
	}
	return &t
}

func firstTime(values ...string) time.Time {
	for _, v := range values {
		if t := parseTime(v); !t.IsZero() {
			return t
		}
	}
	return time.Time{}
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	t = t.UTC()
	return &t
}

// normalizeState folds provider states into opened / merged / closed.
func normalizeState(s string) model.MergeRequestState {
	switch strings.ToLower(s) {
	case "merged", "accepted":
		return model.MergeRequestMerged
	case "closed", "rejected", "abandoned", "locked":
		return model.MergeRequestClosed
	default:
		return model.MergeRequestOpened
	}
}

func normalizePage(page, perPage int) (int, int) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > MaxPerPage {
		perPage = MaxPerPage
	}
	return page, perPage
}

// estimateTotal guesses a total when the provider does not report one: a
// full page implies at least one more item.
func estimateTotal(page, perPage, got int) int {
	total := (page-1)*perPage + got
	if got == perPage {
		total++
	}
	return total
}
