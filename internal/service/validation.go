package service

import (
	"fmt"
	"net/mail"
	"regexp"
	"slices"
	"strings"
	"time"
	"unicode"

	"github.com/oklog/ulid/v2"

	"github.com/devinsight/devinsight/internal/gitprovider"
)

const (
	minUsernameLength = 3
	maxUsernameLength = 50
	minPasswordLength = 6
	maxPasswordLength = 128
	minEmailLength    = 5
	maxEmailLength    = 254
	maxGitURLLength   = 2048
	maxRepoNameLength = 100

	// DefaultAnalyticsDays is the range used when no dates are given.
	DefaultAnalyticsDays = 30
)

var (
	usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	emailPattern    = regexp.MustCompile(`^[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}$`)
	digitsPattern   = regexp.MustCompile(`^[0-9]+$`)
)

var reservedUsernames = []string{
	"admin", "root", "system", "api", "www", "mail", "ftp",
	"test", "guest", "anonymous", "null", "undefined",
}

var weakPasswordPatterns = []string{"123456", "password", "admin", "qwerty", "abc123", "111111", "000000"}

// ValidateUsername checks length, charset and reserved names.
func ValidateUsername(username string) error {
	username = strings.TrimSpace(username)
	switch {
	case username == "":
		return fieldError("username", "is required")
	case len(username) < minUsernameLength:
		return fieldError("username", fmt.Sprintf("must be at least %d characters", minUsernameLength))
	case len(username) > maxUsernameLength:
		return fieldError("username", fmt.Sprintf("must be at most %d characters", maxUsernameLength))
	case !usernamePattern.MatchString(username):
		return fieldError("username", "may only contain letters, digits, underscores and hyphens")
	case digitsPattern.MatchString(username):
		return fieldError("username", "cannot be all digits")
	case unicode.IsDigit(rune(username[0])):
		return fieldError("username", "cannot start with a digit")
	case slices.Contains(reservedUsernames, strings.ToLower(username)):
		return fieldError("username", "is reserved")
	}
	return nil
}

// ValidateEmail checks the address shape.
func ValidateEmail(email string) error {
	email = strings.TrimSpace(email)
	switch {
	case email == "":
		return fieldError("email", "is required")
	case len(email) < minEmailLength || len(email) > maxEmailLength:
		return fieldError("email", fmt.Sprintf("must be between %d and %d characters", minEmailLength, maxEmailLength))
	case strings.Count(email, "@") != 1 || strings.Contains(email, ".."):
		return fieldError("email", "is not a valid address")
	case !emailPattern.MatchString(email):
		return fieldError("email", "is not a valid address")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return fieldError("email", "is not a valid address")
	}
	return nil
}

// Password strength levels.
const (
	StrengthWeak   = "weak"
	StrengthMedium = "medium"
	StrengthStrong = "strong"
)

// PasswordStrength is feedback on an accepted password.
type PasswordStrength struct {
	Strength    string   `json:"strength"`
	Score       int      `json:"score"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// ValidatePassword enforces the length bounds and grades the password.
// Weak passwords are rejected with the suggestions in the message.
func ValidatePassword(password string) (PasswordStrength, error) {
	if password == "" {
		return PasswordStrength{}, fieldError("password", "is required")
	}
	if len(password) < minPasswordLength {
		return PasswordStrength{Strength: StrengthWeak}, fieldError("password", fmt.Sprintf("must be at least %d characters", minPasswordLength))
	}
	if len(password) > maxPasswordLength {
		return PasswordStrength{}, fieldError("password", fmt.Sprintf("must be at most %d characters", maxPasswordLength))
	}

	s := GradePassword(password)
	if s.Strength == StrengthWeak {
		return s, fieldError("password", "is too weak: "+strings.Join(firstN(s.Suggestions, 3), "; "))
	}
	return s, nil
}

// GradePassword scores character classes and penalises common patterns.
func GradePassword(password string) PasswordStrength {
	var lower, upper, digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			special = true
		}
	}

	score := 0
	var suggestions []string
	check := func(ok bool, suggestion string) {
		if ok {
			score++
		} else {
			suggestions = append(suggestions, suggestion)
		}
	}
	check(len(password) >= 8, "use at least 8 characters")
	check(lower, "add a lowercase letter")
	check(upper, "add an uppercase letter")
	check(digit, "add a digit")
	check(special, "add a special character")

	lowered := strings.ToLower(password)
	for _, p := range weakPasswordPatterns {
		if strings.Contains(lowered, p) {
			score -= 2
			suggestions = append(suggestions, "avoid common password patterns")
			break
		}
	}

	strength := StrengthWeak
	switch {
	case score >= 4:
		strength = StrengthStrong
	case score >= 2:
		strength = StrengthMedium
	}
	return PasswordStrength{Strength: strength, Score: max(score, 0), Suggestions: suggestions}
}

// ValidateGitURL parses a clone URL.
func ValidateGitURL(raw string) (*gitprovider.GitURL, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, fieldError("url", "is required")
	}
	if len(raw) > maxGitURLLength {
		return nil, fieldError("url", fmt.Sprintf("must be at most %d characters", maxGitURLLength))
	}
	u, err := gitprovider.ParseGitURL(raw)
	if err != nil {
		return nil, fieldError("url", "must be an https or ssh git repository URL")
	}
	return u, nil
}

// ValidateRepositoryName checks a display name.
func ValidateRepositoryName(name string) error {
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		return fieldError("name", "is required")
	case len([]rune(name)) > maxRepoNameLength:
		return fieldError("name", fmt.Sprintf("must be at most %d characters", maxRepoNameLength))
	}
	return nil
}

// ParseRepositoryIDs splits a comma-separated list of repository ids.
// Blank entries are skipped and duplicates collapsed.
func ParseRepositoryIDs(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var ids []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := ulid.ParseStrict(part)
		if err != nil {
			return nil, fieldError("repository_ids", fmt.Sprintf("invalid repository id %q", part))
		}
		if s := id.String(); !slices.Contains(ids, s) {
			ids = append(ids, s)
		}
	}
	return ids, nil
}

// DateRange is a resolved analytics window, End inclusive.
type DateRange struct {
	Start time.Time
	End   time.Time

	// key identifies the window for caching when a bound was defaulted
	// from the clock.
	key string
}

// Days returns the whole number of days covered, at least 1.
func (r DateRange) Days() int {
	return max(int(r.End.Sub(r.Start).Hours()/24+0.5), 1)
}

// CacheKey is stable for a request across the day its defaulted bounds were
// resolved in.
func (r DateRange) CacheKey() string {
	if r.key != "" {
		return r.key
	}
	return r.Start.UTC().Format(time.RFC3339Nano) + ".." + r.End.UTC().Format(time.RFC3339Nano)
}

// ParseDateRange resolves start_date / end_date. Dates may be YYYY-MM-DD or
// RFC3339. A missing start defaults to DefaultAnalyticsDays before the end, a
// missing end defaults to now, and a reversed range is swapped.
func ParseDateRange(startRaw, endRaw string, now time.Time) (DateRange, error) {
	return ParseDateRangeDays(startRaw, endRaw, DefaultAnalyticsDays, now)
}

// ParseDateRangeDays is ParseDateRange with a custom default length.
func ParseDateRangeDays(startRaw, endRaw string, days int, now time.Time) (DateRange, error) {
	if days <= 0 {
		days = DefaultAnalyticsDays
	}
	errs := validationErrors{}

	var start, end time.Time
	var startDateOnly, endDateOnly bool
	if endRaw != "" {
		t, dateOnly, err := parseDate(endRaw)
		if err != nil {
			errs.add("end_date", err)
		}
		end, endDateOnly = t, dateOnly
	}
	if startRaw != "" {
		t, dateOnly, err := parseDate(startRaw)
		if err != nil {
			errs.add("start_date", err)
		}
		start, startDateOnly = t, dateOnly
	}
	if err := errs.err(); err != nil {
		return DateRange{}, err
	}

	// Swap before widening so a reversed date-only range covers the same
	// days as the forward one.
	if startRaw != "" && endRaw != "" && start.After(end) {
		start, end = end, start
		startDateOnly, endDateOnly = endDateOnly, startDateOnly
	}

	var key string
	if endRaw == "" {
		end = now.UTC()
		key = "today:" + end.Format(time.DateOnly)
	} else if endDateOnly {
		end = end.Add(24*time.Hour - time.Nanosecond)
	}
	if startRaw == "" {
		start = end.AddDate(0, 0, -days)
		if key == "" {
			key = end.Format(time.RFC3339Nano)
		}
		key = fmt.Sprintf("%dd..%s", days, key)
	} else if key != "" {
		key = start.Format(time.RFC3339Nano) + ".." + key
	}

	if start.After(end) {
		start, end = end, start
	}
	return DateRange{Start: start, End: end, key: key}, nil
}

func parseDate(raw string) (time.Time, bool, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return t.UTC(), true, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), false, nil
	}
	return time.Time{}, false, fmt.Errorf("must be YYYY-MM-DD or RFC3339")
}

func firstN(s []string, n int) []string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
