package queue

import (
	"context"

	qerrors "github.com/bovink/sa-sdk-android/internal/errors"
	"github.com/bovink/sa-sdk-android/internal/gateway"
	"github.com/bovink/sa-sdk-android/internal/record"
)

// Batch is one extraction window.
type Batch struct {
	// BoundaryID is the id of the last row scanned, valid or not. Trimming
	// up to it removes the whole window.
	BoundaryID int64
	// Data is a JSON array of the valid records, each with _flush_time added.
	Data string
	// Count is the number of records in Data.
	Count int
	// Corrupted rows failed the integrity check; Malformed rows were not JSON
	// objects. Both are excluded from Data.
	Corrupted int
	Malformed int
	// FlushTime is the extraction time in milliseconds since the epoch.
	FlushTime int64
}

// Empty reports whether the batch carries no records. An empty batch still
// has a boundary that should be trimmed.
func (b *Batch) Empty() bool {
	return b == nil || b.Count == 0
}

// Extract reads up to limit of the oldest rows and encodes the valid ones as
// a JSON array. It returns nil, nil when the queue is empty and nil with a
// READ_FAILED error when the table cannot be read; callers treat both as
// nothing to extract.
func (s *Store) Extract(ctx context.Context, limit int) (*Batch, error) {
	if limit <= 0 {
		return nil, qerrors.NewValidationError(qerrors.CodeInvalidLimit, "limit must be positive").
			WithDetails(map[string]interface{}{"limit": limit})
	}

	rows, err := s.gw.Query(ctx, gateway.TableEvents, gateway.Query{
		OrderBy: []gateway.Order{{Column: gateway.ColumnCreatedAt}, {Column: gateway.ColumnID}},
		Limit:   limit,
	})
	if err != nil {
		return nil, s.storageFailure("extract", qerrors.CodeReadFailed, "failed to read events", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	batch := &Batch{FlushTime: s.now().UnixMilli()}
	buf := make([]byte, 0, 256*len(rows))
	buf = append(buf, '[')

	for _, row := range rows {
		id, _ := row.Int64(gateway.ColumnID)
		batch.BoundaryID = id

		stored, _ := row.String(gateway.ColumnData)
		decoded, err := record.Decode(stored)
		if err != nil {
			s.skip(batch, id, err)
			continue
		}

		next := buf
		if batch.Count > 0 {
			next = append(next, ',')
		}
		next, err = record.AppendFlushTime(next, decoded.Content, batch.FlushTime)
		if err != nil {
			s.skip(batch, id, err)
			continue
		}
		buf = next
		batch.Count++
	}

	buf = append(buf, ']')
	batch.Data = string(buf)

	s.stats.RecordExtraction(batch.Count, batch.Corrupted, batch.Malformed)
	s.logger.Debug("extracted events",
		"rows", len(rows),
		"valid", batch.Count,
		"corrupted", batch.Corrupted,
		"malformed", batch.Malformed,
		"boundary_id", batch.BoundaryID)
	return batch, nil
}

func (s *Store) skip(b *Batch, id int64, err error) {
	if qerrors.GetCode(err) == qerrors.CodeChecksumMismatch {
		b.Corrupted++
	} else {
		b.Malformed++
	}
	s.logger.Debug("skipping invalid record", "id", id, "code", qerrors.GetCode(err))
}
