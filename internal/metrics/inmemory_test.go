package metrics

import (
	"sync"
	"testing"
	"time"
)

func TestInMemoryRecorder_Counters(t *testing.T) {
	t.Parallel()

	m := NewInMemory()
	m.IncLogin("success")
	m.IncLogin("failed")
	m.IncLogin("failed")
	m.IncSyncJobProcessed("success")
	m.IncSyncJobProcessed("dead_lettered")
	m.IncSyncJobProcessed("boom")
	m.AddSyncedItems(5, -1)
	m.ObserveSyncDuration(2 * time.Second)
	m.SetSyncQueueDepth(7)

	snap := m.Snapshot()
	if snap.LoginsSucceeded != 1 || snap.LoginsFailed != 2 {
		t.Errorf("login counters: %+v", snap)
	}
	if snap.SyncJobsSucceeded != 1 || snap.SyncJobsDeadLettered != 1 || snap.SyncJobsFailed != 1 {
		t.Errorf("sync job counters: %+v", snap)
	}
	if snap.SyncedCommits != 5 || snap.SyncedMergeRequests != 0 {
		t.Errorf("synced items: %+v", snap)
	}
	if snap.SyncDurationTotalNs != int64(2*time.Second) || snap.SyncQueueDepth != 7 {
		t.Errorf("duration/depth: %+v", snap)
	}
}

func TestInMemoryRecorder_Concurrent(t *testing.T) {
	t.Parallel()

	m := NewInMemory()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.IncAnalyticsCacheHit()
		}()
	}
	wg.Wait()

	if got := m.Snapshot().AnalyticsCacheHits; got != 50 {
		t.Errorf("AnalyticsCacheHits = %d, want 50", got)
	}
}

func TestNoopRecorder_SatisfiesInterface(t *testing.T) {
	t.Parallel()

	var r Recorder = NewNoop()
	r.IncLogin("success")
	r.SetSyncQueueDepth(1)

	var _ Recorder = NewInMemory()
}
