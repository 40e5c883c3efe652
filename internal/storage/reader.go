package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

// BatchReader reads archived batches in parallel.
type BatchReader struct {
	archive     *Archive
	concurrency int
}

// ReadResult contains the outcome of reading a set of batches.
type ReadResult struct {
	Events map[string]int   // object name → event count
	Errors map[string]error // object name → failure
	Bytes  int64            // decoded JSON bytes
}

// Total returns the number of events across all readable batches.
func (r *ReadResult) Total() int {
	n := 0
	for _, c := range r.Events {
		n += c
	}
	return n
}

// NewBatchReader creates a reader that decodes up to concurrency batches at once.
func NewBatchReader(archive *Archive, concurrency int) *BatchReader {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &BatchReader{archive: archive, concurrency: concurrency}
}

// Read decodes every named batch and counts its events. visit, when non-nil,
// is called with each batch's events; calls are serialized but unordered.
func (b *BatchReader) Read(ctx context.Context, names []string, visit func(name string, events []json.RawMessage)) *ReadResult {
	result := &ReadResult{
		Events: make(map[string]int),
		Errors: make(map[string]error),
	}
	if len(names) == 0 {
		return result
	}

	sem := semaphore.NewWeighted(int64(b.concurrency))
	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, name := range names {
		if err := sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			result.Errors[name] = fmt.Errorf("semaphore acquire failed: %w", err)
			mu.Unlock()
			continue
		}

		wg.Add(1)
		go func(name string) {
			defer sem.Release(1)
			defer wg.Done()

			data, err := b.archive.Get(ctx, name)
			if err != nil {
				mu.Lock()
				result.Errors[name] = err
				mu.Unlock()
				return
			}

			var events []json.RawMessage
			if err := json.Unmarshal(data, &events); err != nil {
				mu.Lock()
				result.Errors[name] = fmt.Errorf("decode %s: %w", name, err)
				mu.Unlock()
				return
			}

			mu.Lock()
			defer mu.Unlock()
			result.Events[name] = len(events)
			result.Bytes += int64(len(data))
			if visit != nil {
				visit(name, events)
			}
		}(name)
	}

	wg.Wait()
	return result
}
