package model

import "time"

// AnalyticsFilter scopes an analytics query.
type AnalyticsFilter struct {
	UserID        string
	RepositoryIDs []string
	Start         time.Time
	End           time.Time
	AuthorEmail   string
	State         MergeRequestState
}

// Period is the resolved date range of an analytics response.
type Period struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

// CodeChanges totals line changes.
type CodeChanges struct {
	Additions  int64 `json:"additions"`
	Deletions  int64 `json:"deletions"`
	NetChanges int64 `json:"net_changes"`
}

// Overview is the headline analytics summary.
type Overview struct {
	RepositoriesCount  int64       `json:"repositories_count"`
	CommitsCount       int64       `json:"commits_count"`
	MergeRequestsCount int64       `json:"merge_requests_count"`
	ActiveContributors int64       `json:"active_contributors"`
	CodeChanges        CodeChanges `json:"code_changes"`
	Period             Period      `json:"period"`
}

// PeriodCount is one bucket of a time series.
type PeriodCount struct {
	Period    string `json:"period"`
	Count     int64  `json:"count"`
	Additions int64  `json:"additions"`
	Deletions int64  `json:"deletions"`
	Merged    int64  `json:"merged,omitempty"`
}

// AuthorStats aggregates one author's work.
type AuthorStats struct {
	AuthorName    string `json:"author_name"`
	AuthorEmail   string `json:"author_email"`
	Commits       int64  `json:"commits_count"`
	MergeRequests int64  `json:"merge_requests_count"`
	Merged        int64  `json:"merged_count,omitempty"`
	Additions     int64  `json:"additions"`
	Deletions     int64  `json:"deletions"`
	FilesChanged  int64  `json:"files_changed"`
}

// StateCount counts merge requests in a state.
type StateCount struct {
	State MergeRequestState `json:"state"`
	Count int64             `json:"count"`
}

// CommitSummary totals a commit analytics response.
type CommitSummary struct {
	TotalCommits   int64 `json:"total_commits"`
	TotalAdditions int64 `json:"total_additions"`
	TotalDeletions int64 `json:"total_deletions"`
	Contributors   int64 `json:"contributors"`
}

// CommitAnalytics is the commits endpoint payload.
type CommitAnalytics struct {
	GroupBy  string        `json:"group_by"`
	Timeline []PeriodCount `json:"timeline,omitempty"`
	Authors  []AuthorStats `json:"authors,omitempty"`
	Summary  CommitSummary `json:"summary"`
	Period   Period        `json:"period"`
}

// MergeRequestSummary totals a merge request analytics response.
type MergeRequestSummary struct {
	Total     int64   `json:"total"`
	Opened    int64   `json:"opened"`
	Merged    int64   `json:"merged"`
	Closed    int64   `json:"closed"`
	MergeRate float64 `json:"merge_rate"`
}

// MergeRequestAnalytics is the merge-requests endpoint payload.
type MergeRequestAnalytics struct {
	GroupBy  string              `json:"group_by"`
	Timeline []PeriodCount       `json:"timeline,omitempty"`
	Authors  []AuthorStats       `json:"authors,omitempty"`
	States   []StateCount        `json:"states,omitempty"`
	Summary  MergeRequestSummary `json:"summary"`
	Period   Period              `json:"period"`
}

// ScoreConfig weighs the inputs of an efficiency score.
type ScoreConfig struct {
	CommitWeight       float64 `json:"commit_weight"`
	MergeRequestWeight float64 `json:"merge_request_weight"`
	AdditionWeight     float64 `json:"addition_weight"`
	DeletionWeight     float64 `json:"deletion_weight"`
	FileChangeWeight   float64 `json:"file_change_weight"`
}

// DefaultScoreConfig returns the standard weights.
func DefaultScoreConfig() ScoreConfig {
	return ScoreConfig{
		CommitWeight:       1.0,
		MergeRequestWeight: 2.0,
		AdditionWeight:     0.1,
		DeletionWeight:     0.05,
		FileChangeWeight:   0.2,
	}
}

// ScoreStats are the raw inputs of an efficiency score.
type ScoreStats struct {
	Commits       int64 `json:"commits_count"`
	MergeRequests int64 `json:"mrs_count"`
	Additions     int64 `json:"additions"`
	Deletions     int64 `json:"deletions"`
	FilesChanged  int64 `json:"files_changed"`
}

// EfficiencyScore is one ranked entry.
type EfficiencyScore struct {
	AuthorName     string     `json:"author_name,omitempty"`
	AuthorEmail    string     `json:"author_email,omitempty"`
	RepositoryID   string     `json:"repository_id,omitempty"`
	RepositoryName string     `json:"repository_name,omitempty"`
	Score          float64    `json:"score"`
	Stats          ScoreStats `json:"stats"`
}

// EfficiencyReport is the efficiency-score endpoint payload.
type EfficiencyReport struct {
	GroupBy string            `json:"group_by"`
	Items   []EfficiencyScore `json:"items"`
	Config  ScoreConfig       `json:"config"`
	Period  Period            `json:"period"`
}

// DistributionBucket is one label of a time distribution.
type DistributionBucket struct {
	Label string `json:"label"`
	Value int64  `json:"value"`
}

// TimeDistribution is the time-distribution endpoint payload.
type TimeDistribution struct {
	Type         string               `json:"type"`
	Dimension    string               `json:"dimension"`
	Distribution []DistributionBucket `json:"distribution"`
	Total        int64                `json:"total"`
	PeakTime     string               `json:"peak_time,omitempty"`
	Period       Period               `json:"period"`
}

// Contributor is an entry of the contributors ranking.
type Contributor struct {
	AuthorName         string     `json:"author_name"`
	AuthorEmail        string     `json:"author_email"`
	CommitsCount       int64      `json:"commits_count"`
	MergeRequestsCount int64      `json:"merge_requests_count"`
	Additions          int64      `json:"additions"`
	Deletions          int64      `json:"deletions"`
	LastActiveAt       *time.Time `json:"last_active_at,omitempty"`
}

// RepositoryAnalytics is the per-repository detail payload.
type RepositoryAnalytics struct {
	Repository      RepositoryRef `json:"repository"`
	Days            int           `json:"days"`
	CommitsCount    int64         `json:"commits_count"`
	MergeRequests   int64         `json:"merge_requests_count"`
	Contributors    int64         `json:"contributors"`
	CodeChanges     CodeChanges   `json:"code_changes"`
	DailyCommits    []PeriodCount `json:"daily_commits"`
	TopContributors []Contributor `json:"top_contributors"`
	States          []StateCount  `json:"merge_request_states"`
	Period          Period        `json:"period"`
}

// RepositoryRef identifies a repository in analytics payloads.
type RepositoryRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

// TeamProductivity is the team/productivity payload.
type TeamProductivity struct {
	Days                 int               `json:"days"`
	AnalyzedRepositories []string          `json:"analyzed_repositories"`
	Members              []EfficiencyScore `json:"members"`
	TotalCommits         int64             `json:"total_commits"`
	TotalMergeRequests   int64             `json:"total_merge_requests"`
	AvgCommitsPerMember  float64           `json:"avg_commits_per_member"`
	AvgCommitsPerDay     float64           `json:"avg_commits_per_day"`
	Period               Period            `json:"period"`
}

// RepositoryActivity summarises a repository for the dashboard.
type RepositoryActivity struct {
	Repository         RepositoryRef `json:"repository"`
	CommitsCount       int64         `json:"commits_count"`
	MergeRequestsCount int64         `json:"merge_requests_count"`
	LastSyncAt         *time.Time    `json:"last_sync_at,omitempty"`
}

// Dashboard bundles the dashboard view.
type Dashboard struct {
	Overview           Overview             `json:"overview"`
	Team               TeamProductivity     `json:"team_productivity"`
	RecentRepositories []RepositoryActivity `json:"recent_repositories"`
	RecentActivity     []ActivityRecord     `json:"recent_activity"`
	TotalRepositories  int                  `json:"total_repositories"`
	Days               int                  `json:"analysis_period_days"`
}
