// Package queue implements the persistent event queue: append-only storage of
// tagged event records, capacity-driven reclamation and batch extraction for
// the uploader.
//
// Mutating operations never panic or leak engine errors untyped. Each returns
// a row count or one of the negative sentinels DBUpdateError and DBOutOfSpace,
// paired with a *errors.StoreError describing the failure.
package queue

import (
	"context"
	"errors"
	"log/slog"
	"time"

	qerrors "github.com/bovink/sa-sdk-android/internal/errors"
	"github.com/bovink/sa-sdk-android/internal/gateway"
	"github.com/bovink/sa-sdk-android/internal/notify"
	"github.com/bovink/sa-sdk-android/internal/observability"
	"github.com/bovink/sa-sdk-android/internal/record"
)

// Sentinel results returned alongside a non-nil error.
const (
	DBUpdateError = -1
	DBOutOfSpace  = -2
)

// DefaultReclaimBatchSize is the number of oldest rows examined per
// reclamation pass.
const DefaultReclaimBatchSize = 100

// Evictor reports storage pressure.
type Evictor interface {
	ShouldEvict() bool
}

// Publisher receives queue change notifications.
type Publisher interface {
	Publish(n notify.Notification)
}

// Options configures a Store.
type Options struct {
	Guard            Evictor // nil disables reclamation
	ReclaimBatchSize int
	Now              func() time.Time
	Logger           *slog.Logger
	Stats            *observability.QueueStats
	Notifier         Publisher
}

// Store is the event queue. It is safe for concurrent use; the gateway
// serializes access to the events table.
type Store struct {
	gw           gateway.Gateway
	guard        Evictor
	reclaimBatch int
	now          func() time.Time
	logger       *slog.Logger
	stats        *observability.QueueStats
	notifier     Publisher
}

// New creates a queue over gw.
func New(gw gateway.Gateway, opts Options) *Store {
	if opts.ReclaimBatchSize <= 0 {
		opts.ReclaimBatchSize = DefaultReclaimBatchSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		gw:           gw,
		guard:        opts.Guard,
		reclaimBatch: opts.ReclaimBatchSize,
		now:          opts.Now,
		logger:       logger.With("component", "queue"),
		stats:        opts.Stats,
		notifier:     opts.Notifier,
	}
}

// Enqueue stores one event and returns the number of queued rows.
// The payload must be a JSON object.
func (s *Store) Enqueue(ctx context.Context, payload []byte) (int, error) {
	content, err := record.Normalize(payload)
	if err != nil {
		s.stats.RecordFailure(qerrors.GetCode(err))
		return DBUpdateError, err
	}

	if code, err := s.reclaimIfNeeded(ctx); err != nil {
		return code, err
	}

	row := gateway.Row{
		gateway.ColumnData:      record.Encode(content),
		gateway.ColumnCreatedAt: s.now().UnixMilli(),
	}
	if _, err := s.gw.Insert(ctx, gateway.TableEvents, row); err != nil {
		return DBUpdateError, s.storageFailure("enqueue", qerrors.CodeUpdateFailed, "failed to insert event", err)
	}
	s.stats.RecordEnqueued(1)

	n, err := s.depth(ctx, "enqueue")
	if err == nil {
		s.publish(notify.Notification{Kind: notify.EventsEnqueued, Added: 1, Queued: n})
	}
	return n, err
}

// EnqueueBatch stores all payloads in one transaction and returns the number
// of queued rows. An invalid payload rejects the whole batch.
func (s *Store) EnqueueBatch(ctx context.Context, payloads [][]byte) (int, error) {
	if len(payloads) == 0 {
		err := qerrors.NewValidationError(qerrors.CodeEmptyBatch, "batch contains no events")
		s.stats.RecordFailure(err.Code)
		return DBUpdateError, err
	}

	createdAt := s.now().UnixMilli()
	rows := make([]gateway.Row, len(payloads))
	for i, p := range payloads {
		content, err := record.Normalize(p)
		if err != nil {
			s.stats.RecordFailure(qerrors.GetCode(err))
			var se *qerrors.StoreError
			if errors.As(err, &se) {
				return DBUpdateError, se.WithDetails(map[string]interface{}{"index": i})
			}
			return DBUpdateError, err
		}
		rows[i] = gateway.Row{
			gateway.ColumnData:      record.Encode(content),
			gateway.ColumnCreatedAt: createdAt,
		}
	}

	if code, err := s.reclaimIfNeeded(ctx); err != nil {
		return code, err
	}

	if _, err := s.gw.BulkInsert(ctx, gateway.TableEvents, rows); err != nil {
		return DBUpdateError, s.storageFailure("enqueue batch", qerrors.CodeUpdateFailed, "failed to insert events", err)
	}
	s.stats.RecordEnqueued(len(rows))

	n, err := s.depth(ctx, "enqueue batch")
	if err == nil {
		s.publish(notify.Notification{Kind: notify.EventsEnqueued, Added: len(rows), Queued: n})
	}
	return n, err
}

// Trim deletes every row with id <= boundaryID and returns the remaining count.
// The boundary must come from an extraction made by the caller.
func (s *Store) Trim(ctx context.Context, boundaryID int64) (int, error) {
	n, err := s.gw.Delete(ctx, gateway.TableEvents, gateway.IDAtMost(boundaryID))
	if err != nil {
		return DBUpdateError, s.storageFailure("trim", qerrors.CodeDeleteFailed, "failed to trim events", err)
	}
	s.stats.RecordTrimmed(n)
	s.logger.Debug("trimmed events", "boundary_id", boundaryID, "deleted", n)

	remaining, err := s.depth(ctx, "trim")
	if err == nil {
		s.publish(notify.Notification{Kind: notify.EventsTrimmed, Queued: remaining, BoundaryID: boundaryID})
	}
	return remaining, err
}

// Clear deletes every queued row.
func (s *Store) Clear(ctx context.Context) error {
	n, err := s.gw.Delete(ctx, gateway.TableEvents, nil)
	if err != nil {
		return s.storageFailure("clear", qerrors.CodeDeleteFailed, "failed to clear events", err)
	}
	s.stats.RecordTrimmed(n)
	s.logger.Info("cleared event queue", "deleted", n)
	s.publish(notify.Notification{Kind: notify.QueueCleared})
	return nil
}

// Count returns the number of queued rows.
func (s *Store) Count(ctx context.Context) (int, error) {
	return s.depth(ctx, "count")
}

func (s *Store) publish(n notify.Notification) {
	if s.notifier == nil {
		return
	}
	n.Timestamp = s.now().UnixMilli()
	s.notifier.Publish(n)
}

func (s *Store) depth(ctx context.Context, op string) (int, error) {
	n, err := s.gw.Count(ctx, gateway.TableEvents)
	if err != nil {
		return DBUpdateError, s.storageFailure(op, qerrors.CodeReadFailed, "failed to count events", err)
	}
	return int(n), nil
}

// reclaimIfNeeded deletes the oldest window of rows when the guard reports
// pressure. It returns a sentinel and error when the write must not proceed.
func (s *Store) reclaimIfNeeded(ctx context.Context) (int, error) {
	if s.guard == nil || !s.guard.ShouldEvict() {
		return 0, nil
	}

	batch, err := s.Extract(ctx, s.reclaimBatch)
	if batch == nil {
		return DBOutOfSpace, s.outOfSpace("no rows available to reclaim", err)
	}

	deleted, err := s.gw.Delete(ctx, gateway.TableEvents, gateway.IDAtMost(batch.BoundaryID))
	if err != nil {
		return DBUpdateError, s.storageFailure("reclaim", qerrors.CodeDeleteFailed, "failed to reclaim events", err)
	}
	if deleted == 0 {
		return DBOutOfSpace, s.outOfSpace("reclamation deleted no rows", nil)
	}

	s.stats.RecordReclaimed(deleted)
	s.logger.Warn("reclaimed events under storage pressure", "boundary_id", batch.BoundaryID, "deleted", deleted)
	return 0, nil
}

func (s *Store) outOfSpace(msg string, cause error) error {
	err := qerrors.NewCapacityError(msg, cause)
	s.stats.RecordOutOfSpace()
	s.stats.RecordFailure(err.Code)
	s.logger.Error("event rejected", "reason", msg, "error", cause)
	return err
}

func (s *Store) storageFailure(op, code, msg string, cause error) error {
	err := qerrors.NewStorageError(code, msg, cause)
	s.stats.RecordFailure(code)
	s.logger.Error("queue operation failed", "op", op, "code", code, "error", cause)
	return err
}
