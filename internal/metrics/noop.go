package metrics

import "time"

// NoopRecorder implements Recorder with no-op methods.
type NoopRecorder struct{}

// NewNoop returns a Recorder that discards all metrics.
func NewNoop() Recorder {
	return &NoopRecorder{}
}

func (n *NoopRecorder) IncLogin(status string)                       {}
func (n *NoopRecorder) IncRegistration()                             {}
func (n *NoopRecorder) IncTokenRefresh(status string)                {}
func (n *NoopRecorder) IncRepositoryCreated()                        {}
func (n *NoopRecorder) IncRepositoryDeleted()                        {}
func (n *NoopRecorder) IncAnalyticsCacheHit()                        {}
func (n *NoopRecorder) IncAnalyticsCacheMiss()                       {}
func (n *NoopRecorder) ObserveAnalyticsQuery(duration time.Duration) {}
func (n *NoopRecorder) IncSyncJobEnqueued(status string)             {}
func (n *NoopRecorder) IncSyncJobProcessed(status string)            {}
func (n *NoopRecorder) ObserveSyncDuration(duration time.Duration)   {}
func (n *NoopRecorder) AddSyncedItems(commits, mergeRequests int)    {}
func (n *NoopRecorder) SetSyncQueueDepth(depth int64)                {}
func (n *NoopRecorder) IncProviderRetry()                            {}
