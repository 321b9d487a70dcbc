package metrics

import (
	"sync/atomic"
	"time"
)

// Snapshot captures current in-memory counters.
type Snapshot struct {
	LoginsSucceeded  uint64
	LoginsFailed     uint64
	Registrations    uint64
	RefreshSucceeded uint64
	RefreshFailed    uint64

	RepositoriesCreated uint64
	RepositoriesDeleted uint64

	AnalyticsCacheHits    uint64
	AnalyticsCacheMisses  uint64
	AnalyticsQueryCount   uint64
	AnalyticsQueryTotalNs int64
	SyncJobsEnqueued      uint64
	SyncJobsDropped       uint64
	SyncJobsSucceeded     uint64
	SyncJobsFailed        uint64
	SyncJobsSkipped       uint64
	SyncJobsDeadLettered  uint64
	SyncDurationCount     uint64
	SyncDurationTotalNs   int64
	SyncedCommits         uint64
	SyncedMergeRequests   uint64
	SyncQueueDepth        int64
	ProviderRetries       uint64
}

// InMemoryRecorder stores metrics in memory. It backs the /metrics endpoint
// and is used directly by tests.
type InMemoryRecorder struct {
	loginsSucceeded  atomic.Uint64
	loginsFailed     atomic.Uint64
	registrations    atomic.Uint64
	refreshSucceeded atomic.Uint64
	refreshFailed    atomic.Uint64

	repositoriesCreated atomic.Uint64
	repositoriesDeleted atomic.Uint64

	analyticsCacheHits    atomic.Uint64
	analyticsCacheMisses  atomic.Uint64
	analyticsQueryCount   atomic.Uint64
	analyticsQueryTotalNs atomic.Int64

	syncJobsEnqueued     atomic.Uint64
	syncJobsDropped      atomic.Uint64
	syncJobsSucceeded    atomic.Uint64
	syncJobsFailed       atomic.Uint64
	syncJobsSkipped      atomic.Uint64
	syncJobsDeadLettered atomic.Uint64
	syncDurationCount    atomic.Uint64
	syncDurationTotalNs  atomic.Int64
	syncedCommits        atomic.Uint64
	syncedMergeRequests  atomic.Uint64
	syncQueueDepth       atomic.Int64
	providerRetries      atomic.Uint64
}

// NewInMemory returns a Recorder that stores counters in memory.
func NewInMemory() *InMemoryRecorder {
	return &InMemoryRecorder{}
}

// Snapshot returns a copy of the counters.
func (m *InMemoryRecorder) Snapshot() Snapshot {
	return Snapshot{
		LoginsSucceeded:       m.loginsSucceeded.Load(),
		LoginsFailed:          m.loginsFailed.Load(),
		Registrations:         m.registrations.Load(),
		RefreshSucceeded:      m.refreshSucceeded.Load(),
		RefreshFailed:         m.refreshFailed.Load(),
		RepositoriesCreated:   m.repositoriesCreated.Load(),
		RepositoriesDeleted:   m.repositoriesDeleted.Load(),
		AnalyticsCacheHits:    m.analyticsCacheHits.Load(),
		AnalyticsCacheMisses:  m.analyticsCacheMisses.Load(),
		AnalyticsQueryCount:   m.analyticsQueryCount.Load(),
		AnalyticsQueryTotalNs: m.analyticsQueryTotalNs.Load(),
		SyncJobsEnqueued:      m.syncJobsEnqueued.Load(),
		SyncJobsDropped:       m.syncJobsDropped.Load(),
		SyncJobsSucceeded:     m.syncJobsSucceeded.Load(),
		SyncJobsFailed:        m.syncJobsFailed.Load(),
		SyncJobsSkipped:       m.syncJobsSkipped.Load(),
		SyncJobsDeadLettered:  m.syncJobsDeadLettered.Load(),
		SyncDurationCount:     m.syncDurationCount.Load(),
		SyncDurationTotalNs:   m.syncDurationTotalNs.Load(),
		SyncedCommits:         m.syncedCommits.Load(),
		SyncedMergeRequests:   m.syncedMergeRequests.Load(),
		SyncQueueDepth:        m.syncQueueDepth.Load(),
		ProviderRetries:       m.providerRetries.Load(),
	}
}

// IncLogin counts login attempts by outcome.
func (m *InMemoryRecorder) IncLogin(status string) {
	if status == "success" {
		m.loginsSucceeded.Add(1)
		return
	}
	m.loginsFailed.Add(1)
}

// IncRegistration counts new accounts.
func (m *InMemoryRecorder) IncRegistration() {
	m.registrations.Add(1)
}

// IncTokenRefresh counts refresh attempts by outcome.
func (m *InMemoryRecorder) IncTokenRefresh(status string) {
	if status == "success" {
		m.refreshSucceeded.Add(1)
		return
	}
	m.refreshFailed.Add(1)
}

func (m *InMemoryRecorder) IncRepositoryCreated() {
	m.repositoriesCreated.Add(1)
}

func (m *InMemoryRecorder) IncRepositoryDeleted() {
	m.repositoriesDeleted.Add(1)
}

func (m *InMemoryRecorder) IncAnalyticsCacheHit() {
	m.analyticsCacheHits.Add(1)
}

func (m *InMemoryRecorder) IncAnalyticsCacheMiss() {
	m.analyticsCacheMisses.Add(1)
}

// ObserveAnalyticsQuery records time spent computing an uncached response.
func (m *InMemoryRecorder) ObserveAnalyticsQuery(duration time.Duration) {
	m.analyticsQueryCount.Add(1)
	m.analyticsQueryTotalNs.Add(duration.Nanoseconds())
}

// IncSyncJobEnqueued counts queue publishes.
func (m *InMemoryRecorder) IncSyncJobEnqueued(status string) {
	if status == "success" {
		m.syncJobsEnqueued.Add(1)
		return
	}
	m.syncJobsDropped.Add(1)
}

// IncSyncJobProcessed counts worker outcomes.
func (m *InMemoryRecorder) IncSyncJobProcessed(status string) {
	switch status {
	case "success":
		m.syncJobsSucceeded.Add(1)
	case "skipped":
		m.syncJobsSkipped.Add(1)
	case "dead_lettered":
		m.syncJobsDeadLettered.Add(1)
	default:
		m.syncJobsFailed.Add(1)
	}
}

func (m *InMemoryRecorder) ObserveSyncDuration(duration time.Duration) {
	m.syncDurationCount.Add(1)
	m.syncDurationTotalNs.Add(duration.Nanoseconds())
}

func (m *InMemoryRecorder) AddSyncedItems(commits, mergeRequests int) {
	if commits > 0 {
		m.syncedCommits.Add(uint64(commits))
	}
	if mergeRequests > 0 {
		m.syncedMergeRequests.Add(uint64(mergeRequests))
	}
}

func (m *InMemoryRecorder) SetSyncQueueDepth(depth int64) {
	m.syncQueueDepth.Store(depth)
}

func (m *InMemoryRecorder) IncProviderRetry() {
	m.providerRetries.Add(1)
}
