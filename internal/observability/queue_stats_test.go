package observability

import (
	"sync"
	"testing"
	"time"
)

// TestRecordConcurrent tests concurrent counter updates for race conditions.
func TestRecordConcurrent(t *testing.T) {
	qs := NewQueueStats(time.Hour)
	var wg sync.WaitGroup
	numGoroutines := 10
	recordsPerGoroutine := 100

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < recordsPerGoroutine; j++ {
				qs.RecordEnqueued(1)
				qs.RecordExtraction(2, 1, 0)
				qs.RecordFailure("UPDATE_FAILED")
			}
		}()
	}
	wg.Wait()

	snap := qs.Snapshot()
	total := int64(numGoroutines * recordsPerGoroutine)
	if snap.Enqueued != total {
		t.Errorf("expected %d enqueued, got %d", total, snap.Enqueued)
	}
	if snap.Extractions != total {
		t.Errorf("expected %d extractions, got %d", total, snap.Extractions)
	}
	if snap.Extracted != 2*total {
		t.Errorf("expected %d extracted, got %d", 2*total, snap.Extracted)
	}
	if snap.Corrupted != total {
		t.Errorf("expected %d corrupted, got %d", total, snap.Corrupted)
	}
	if len(snap.Failures) != 1 || snap.Failures[0].Count != total {
		t.Errorf("expected one failure code with count %d, got %+v", total, snap.Failures)
	}
}

// TestTopFailuresOrdering tests that TopFailures sorts by count.
func TestTopFailuresOrdering(t *testing.T) {
	qs := NewQueueStats(time.Hour)
	for i := 0; i < 3; i++ {
		qs.RecordFailure("READ_FAILED")
	}
	for i := 0; i < 7; i++ {
		qs.RecordFailure("OUT_OF_SPACE")
	}
	qs.RecordFailure("DELETE_FAILED")

	top := qs.TopFailures(2)
	if len(top) != 2 {
		t.Fatalf("expected 2 results, got %d", len(top))
	}
	if top[0].Code != "OUT_OF_SPACE" || top[1].Code != "READ_FAILED" {
		t.Errorf("unexpected order: %+v", top)
	}

	if got := qs.TopFailures(0); len(got) != 0 {
		t.Errorf("expected empty result for n=0, got %d", len(got))
	}
}

// TestPrune tests that stale failure codes are dropped.
func TestPrune(t *testing.T) {
	qs := NewQueueStats(time.Minute)
	now := time.Unix(1_700_000_000, 0)
	qs.now = func() time.Time { return now }

	qs.RecordFailure("READ_FAILED")
	now = now.Add(2 * time.Minute)
	qs.RecordFailure("UPDATE_FAILED")

	qs.Prune()

	top := qs.TopFailures(10)
	if len(top) != 1 || top[0].Code != "UPDATE_FAILED" {
		t.Errorf("expected only UPDATE_FAILED to survive, got %+v", top)
	}
}

// TestNilStats tests that a nil tracker is inert.
func TestNilStats(t *testing.T) {
	var qs *QueueStats
	qs.RecordEnqueued(1)
	qs.RecordFailure("X")
	qs.RecordFlush(3)
	qs.Prune()
	if snap := qs.Snapshot(); snap.Enqueued != 0 {
		t.Errorf("expected zero snapshot, got %+v", snap)
	}
}
