package handler

import (
	"fmt"
	"net/http"

	"github.com/devinsight/devinsight/internal/metrics"
)

// MetricsHandler exposes in-memory metrics.
type MetricsHandler struct {
	snapshotter metrics.Snapshotter
}

// NewMetricsHandler creates a new MetricsHandler.
func NewMetricsHandler(snapshotter metrics.Snapshotter) *MetricsHandler {
	return &MetricsHandler{snapshotter: snapshotter}
}

// Metrics returns metrics in Prometheus exposition format.
func (h *MetricsHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	if h.snapshotter == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	snap := h.snapshotter.Snapshot()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	writeMetric(w, "devinsight_logins_total{status=\"success\"} %d\n", snap.LoginsSucceeded)
	writeMetric(w, "devinsight_logins_total{status=\"failed\"} %d\n", snap.LoginsFailed)
	writeMetric(w, "devinsight_registrations_total %d\n", snap.Registrations)
	writeMetric(w, "devinsight_token_refresh_total{status=\"success\"} %d\n", snap.RefreshSucceeded)
	writeMetric(w, "devinsight_token_refresh_total{status=\"failed\"} %d\n", snap.RefreshFailed)

	writeMetric(w, "devinsight_repositories_created_total %d\n", snap.RepositoriesCreated)
	writeMetric(w, "devinsight_repositories_deleted_total %d\n", snap.RepositoriesDeleted)

	writeMetric(w, "devinsight_analytics_cache_hits_total %d\n", snap.AnalyticsCacheHits)
	writeMetric(w, "devinsight_analytics_cache_misses_total %d\n", snap.AnalyticsCacheMisses)
	writeMetric(w, "devinsight_analytics_query_duration_seconds_count %d\n", snap.AnalyticsQueryCount)
	writeMetric(w, "devinsight_analytics_query_duration_seconds_sum %.6f\n", float64(snap.AnalyticsQueryTotalNs)/1e9)

	writeMetric(w, "devinsight_sync_jobs_enqueued_total{status=\"success\"} %d\n", snap.SyncJobsEnqueued)
	writeMetric(w, "devinsight_sync_jobs_enqueued_total{status=\"dropped\"} %d\n", snap.SyncJobsDropped)
	writeMetric(w, "devinsight_sync_jobs_processed_total{status=\"success\"} %d\n", snap.SyncJobsSucceeded)
	writeMetric(w, "devinsight_sync_jobs_processed_total{status=\"failed\"} %d\n", snap.SyncJobsFailed)
	writeMetric(w, "devinsight_sync_jobs_processed_total{status=\"skipped\"} %d\n", snap.SyncJobsSkipped)
	writeMetric(w, "devinsight_sync_jobs_processed_total{status=\"dead_lettered\"} %d\n", snap.SyncJobsDeadLettered)
	writeMetric(w, "devinsight_sync_queue_depth %d\n", snap.SyncQueueDepth)
	writeMetric(w, "devinsight_sync_duration_seconds_count %d\n", snap.SyncDurationCount)
	writeMetric(w, "devinsight_sync_duration_seconds_sum %.6f\n", float64(snap.SyncDurationTotalNs)/1e9)
	writeMetric(w, "devinsight_synced_commits_total %d\n", snap.SyncedCommits)
	writeMetric(w, "devinsight_synced_merge_requests_total %d\n", snap.SyncedMergeRequests)
	writeMetric(w, "devinsight_provider_retries_total %d\n", snap.ProviderRetries)
}

func writeMetric(w http.ResponseWriter, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
