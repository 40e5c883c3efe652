// Package flusher drains the event queue into the batch archive. It stands in
// for the uploader: extract a window, hand it off, and trim only after the
// hand-off succeeded.
package flusher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bovink/sa-sdk-android/internal/notify"
	"github.com/bovink/sa-sdk-android/internal/observability"
	"github.com/bovink/sa-sdk-android/internal/queue"
	"github.com/bovink/sa-sdk-android/internal/storage"
)

// DefaultShutdownTimeout bounds the final drain when Run is cancelled.
const DefaultShutdownTimeout = 10 * time.Second

// Source is the queue side of a flush.
type Source interface {
	Extract(ctx context.Context, limit int) (*queue.Batch, error)
	Trim(ctx context.Context, boundaryID int64) (int, error)
}

// Sink receives non-empty batches.
type Sink interface {
	Put(ctx context.Context, data []byte, events int) (storage.Object, error)
}

// Options configures a Flusher.
type Options struct {
	Interval        time.Duration
	BatchSize       int
	ShutdownTimeout time.Duration
	// Wake, when set, lets Run flush as soon as a full window is queued
	// instead of waiting for the next tick.
	Wake   <-chan notify.Notification
	Stats  *observability.QueueStats
	Logger *slog.Logger
}

// Flusher moves batches from a Source to a Sink. Flushes are serialized so
// each trim uses the boundary of the flusher's own extraction.
type Flusher struct {
	source          Source
	sink            Sink
	interval        time.Duration
	batchSize       int
	shutdownTimeout time.Duration
	wake            <-chan notify.Notification
	stats           *observability.QueueStats
	logger          *slog.Logger

	mu       sync.Mutex
	boundary int64
}

// Result summarizes one or more flushed windows.
type Result struct {
	Batches    int      `json:"batches"`
	Events     int      `json:"events"`
	Dropped    int      `json:"dropped"`
	Objects    []string `json:"objects,omitempty"`
	BoundaryID int64    `json:"boundary_id"`
	Remaining  int      `json:"remaining"`
}

func (r *Result) add(o Result) {
	r.Batches += o.Batches
	r.Events += o.Events
	r.Dropped += o.Dropped
	r.Objects = append(r.Objects, o.Objects...)
	if o.BoundaryID > r.BoundaryID {
		r.BoundaryID = o.BoundaryID
	}
	r.Remaining = o.Remaining
}

// New creates a flusher.
func New(source Source, sink Sink, opts Options) *Flusher {
	if opts.Interval <= 0 {
		opts.Interval = 15 * time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = DefaultShutdownTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Flusher{
		source:          source,
		sink:            sink,
		interval:        opts.Interval,
		batchSize:       opts.BatchSize,
		shutdownTimeout: opts.ShutdownTimeout,
		wake:            opts.Wake,
		stats:           opts.Stats,
		logger:          logger.With("component", "flusher"),
	}
}

// Run flushes every interval until ctx is cancelled, then drains what is left.
func (f *Flusher) Run(ctx context.Context) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	f.logger.Info("flusher started", "interval", f.interval, "batch_size", f.batchSize, "eager", f.wake != nil)
	wake := f.wake
	for {
		select {
		case <-ctx.Done():
			// Graceful shutdown: flush all remaining events
			drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.shutdownTimeout)
			res, err := f.FlushAll(drainCtx)
			cancel()
			if err != nil {
				f.logger.Error("final flush failed", observability.ErrorAttrs(err)...)
			}
			f.logger.Info("flusher stopped", "batches", res.Batches, "events", res.Events)
			return
		case <-ticker.C:
			if _, err := f.FlushAll(ctx); err != nil {
				// Log error but continue; the window stays queued for the next tick
				f.logger.Warn("flush failed", observability.ErrorAttrs(err)...)
			}
		case n, ok := <-wake:
			if !ok {
				wake = nil
				continue
			}
			if n.Kind != notify.EventsEnqueued || n.Queued < f.batchSize {
				continue
			}
			f.logger.Debug("full window queued, flushing early", "queued", n.Queued)
			if _, err := f.FlushAll(ctx); err != nil {
				f.logger.Warn("flush failed", observability.ErrorAttrs(err)...)
			}
		}
	}
}

// FlushOnce extracts one window, archives it when it has events and trims
// its boundary. A window with only invalid rows is trimmed without a put.
// Nothing is trimmed when the put fails.
func (f *Flusher) FlushOnce(ctx context.Context) (Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.flushOnce(ctx)
}

func (f *Flusher) flushOnce(ctx context.Context) (Result, error) {
	var res Result

	batch, err := f.source.Extract(ctx, f.batchSize)
	if err != nil {
		return res, fmt.Errorf("flusher: extract: %w", err)
	}
	if batch == nil {
		return res, nil
	}

	res.Dropped = batch.Corrupted + batch.Malformed
	if !batch.Empty() {
		obj, err := f.sink.Put(ctx, []byte(batch.Data), batch.Count)
		if err != nil {
			return res, fmt.Errorf("flusher: archive batch ending at %d: %w", batch.BoundaryID, err)
		}
		res.Batches = 1
		res.Events = batch.Count
		res.Objects = []string{obj.Name}
		f.stats.RecordFlush(batch.Count)
	}

	remaining, err := f.source.Trim(ctx, batch.BoundaryID)
	if err != nil {
		// The batch is archived but still queued; it is archived again next time.
		return res, fmt.Errorf("flusher: trim %d: %w", batch.BoundaryID, err)
	}
	res.BoundaryID = batch.BoundaryID
	res.Remaining = remaining
	f.boundary = batch.BoundaryID

	f.logger.Debug("flushed window",
		"events", res.Events,
		"dropped", res.Dropped,
		"boundary_id", batch.BoundaryID,
		"remaining", remaining)
	return res, nil
}

// FlushAll flushes windows until the queue is empty or a flush fails.
func (f *Flusher) FlushAll(ctx context.Context) (Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var total Result
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		res, err := f.flushOnce(ctx)
		total.add(res)
		if err != nil {
			return total, err
		}
		if res.BoundaryID == 0 || res.Remaining == 0 {
			return total, nil
		}
	}
}

// Boundary returns the last boundary id trimmed by this flusher.
func (f *Flusher) Boundary() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.boundary
}
