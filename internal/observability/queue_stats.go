// Package observability provides logging setup and queue statistics.
package observability

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// QueueStats counts queue activity. All methods are safe for concurrent use
// and a nil *QueueStats ignores every call.
type QueueStats struct {
	enqueued       atomic.Int64
	outOfSpace     atomic.Int64
	reclaimed      atomic.Int64
	extractions    atomic.Int64
	extracted      atomic.Int64
	corrupted      atomic.Int64
	malformed      atomic.Int64
	trimmed        atomic.Int64
	flushedBatches atomic.Int64
	flushedRecords atomic.Int64

	mu       sync.RWMutex
	failures map[string]*FailureStats
	window   time.Duration
	now      func() time.Time
}

// FailureStats holds the frequency of one failure code.
type FailureStats struct {
	Code     string    `json:"code"`
	Count    int64     `json:"count"`
	LastSeen time.Time `json:"last_seen"`
}

// Snapshot is a copy of the counters at one instant.
type Snapshot struct {
	Enqueued       int64          `json:"enqueued"`
	OutOfSpace     int64          `json:"out_of_space"`
	Reclaimed      int64          `json:"reclaimed"`
	Extractions    int64          `json:"extractions"`
	Extracted      int64          `json:"extracted"`
	Corrupted      int64          `json:"corrupted"`
	Malformed      int64          `json:"malformed"`
	Trimmed        int64          `json:"trimmed"`
	FlushedBatches int64          `json:"flushed_batches"`
	FlushedRecords int64          `json:"flushed_records"`
	Failures       []FailureStats `json:"failures,omitempty"`
}

// NewQueueStats creates a tracker. Failure codes not seen within window are
// dropped by Prune.
func NewQueueStats(window time.Duration) *QueueStats {
	return &QueueStats{
		failures: make(map[string]*FailureStats),
		window:   window,
		now:      time.Now,
	}
}

// RecordEnqueued counts n stored events.
func (s *QueueStats) RecordEnqueued(n int) {
	if s != nil {
		s.enqueued.Add(int64(n))
	}
}

// RecordOutOfSpace counts one write rejected for lack of space.
func (s *QueueStats) RecordOutOfSpace() {
	if s != nil {
		s.outOfSpace.Add(1)
	}
}

// RecordReclaimed counts rows dropped by reclamation.
func (s *QueueStats) RecordReclaimed(n int64) {
	if s != nil {
		s.reclaimed.Add(n)
	}
}

// RecordExtraction records one extraction pass and its outcome per row.
func (s *QueueStats) RecordExtraction(valid, corrupted, malformed int) {
	if s == nil {
		return
	}
	s.extractions.Add(1)
	s.extracted.Add(int64(valid))
	s.corrupted.Add(int64(corrupted))
	s.malformed.Add(int64(malformed))
}

// RecordTrimmed counts rows removed by trim or clear.
func (s *QueueStats) RecordTrimmed(n int64) {
	if s != nil {
		s.trimmed.Add(n)
	}
}

// RecordFlush counts one archived batch of records.
func (s *QueueStats) RecordFlush(records int) {
	if s == nil {
		return
	}
	s.flushedBatches.Add(1)
	s.flushedRecords.Add(int64(records))
}

// RecordFailure counts a failure by error code.
func (s *QueueStats) RecordFailure(code string) {
	if s == nil || code == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.failures[code]
	if !ok {
		f = &FailureStats{Code: code}
		s.failures[code] = f
	}
	f.Count++
	f.LastSeen = s.now()
}

// TopFailures returns up to n failure codes sorted by count, descending.
func (s *QueueStats) TopFailures(n int) []FailureStats {
	if s == nil {
		return []FailureStats{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n <= 0 || len(s.failures) == 0 {
		return []FailureStats{}
	}

	out := make([]FailureStats, 0, len(s.failures))
	for _, f := range s.failures {
		out = append(out, *f)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Code < out[j].Code
	})
	if n > len(out) {
		n = len(out)
	}
	return out[:n]
}

// Prune removes failure codes last seen more than window ago.
func (s *QueueStats) Prune() {
	if s == nil || s.window <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	threshold := s.now().Add(-s.window)
	for code, f := range s.failures {
		if f.LastSeen.Before(threshold) {
			delete(s.failures, code)
		}
	}
}

// Snapshot returns the current counters.
func (s *QueueStats) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	snap := Snapshot{
		Enqueued:       s.enqueued.Load(),
		OutOfSpace:     s.outOfSpace.Load(),
		Reclaimed:      s.reclaimed.Load(),
		Extractions:    s.extractions.Load(),
		Extracted:      s.extracted.Load(),
		Corrupted:      s.corrupted.Load(),
		Malformed:      s.malformed.Load(),
		Trimmed:        s.trimmed.Load(),
		FlushedBatches: s.flushedBatches.Load(),
		FlushedRecords: s.flushedRecords.Load(),
	}
	if failures := s.TopFailures(s.failureCount()); len(failures) > 0 {
		snap.Failures = failures
	}
	return snap
}

func (s *QueueStats) failureCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.failures)
}
