// Package metrics provides lightweight hooks for instrumentation.
package metrics

import "time"

// Recorder captures metric events for the application.
// Implementations can expose these to Prometheus, StatsD, etc.
type Recorder interface {
	// Auth metrics
	IncLogin(status string) // status: "success" or "failed"
	IncRegistration()
	IncTokenRefresh(status string)

	// Repository management metrics
	IncRepositoryCreated()
	IncRepositoryDeleted()

	// Analytics metrics
	IncAnalyticsCacheHit()
	IncAnalyticsCacheMiss()
	ObserveAnalyticsQuery(duration time.Duration)

	// Sync pipeline metrics
	IncSyncJobEnqueued(status string)  // status: "success" or "dropped"
	IncSyncJobProcessed(status string) // status: "success", "failed", "skipped", "dead_lettered"
	ObserveSyncDuration(duration time.Duration)
	AddSyncedItems(commits, mergeRequests int)
	SetSyncQueueDepth(depth int64)
	IncProviderRetry()
}

// Snapshotter exposes a snapshot of current metrics.
type Snapshotter interface {
	Snapshot() Snapshot
}
