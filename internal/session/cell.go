package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	qerrors "github.com/bovink/sa-sdk-android/internal/errors"
	"github.com/bovink/sa-sdk-android/internal/gateway"
)

// source is what a Cell needs to reach durable storage.
type source struct {
	gw     gateway.Gateway
	now    func() time.Time
	logger *slog.Logger
}

// Cell caches one singleton table row.
//
// The cached value is returned until the cell is first read, invalidated, or
// (for expiring cells) older than its TTL, measured from the last
// read-through or write. The mutex guards the cached fields only and is never
// held across a gateway call, so two goroutines may both read through the
// same stale value.
type Cell[T comparable] struct {
	src   *source
	table string
	def   T

	// ttl is consulted on every Get when set. A nil ttl never expires.
	ttl func(ctx context.Context) time.Duration
	// skipUnchanged drops writes equal to a populated cached value.
	skipUnchanged bool

	decode func(gateway.Row) (T, bool)
	encode func(T) any

	mu        sync.Mutex
	value     T
	populated bool
	refreshed time.Time
}

func newCell[T comparable](src *source, table string, def T, decode func(gateway.Row) (T, bool), encode func(T) any) *Cell[T] {
	return &Cell[T]{
		src:    src,
		table:  table,
		def:    def,
		decode: decode,
		encode: encode,
		value:  def,
	}
}

// Get returns the cached value, reading through to storage when the cache is
// cold or expired. A failed read returns the last known value.
func (c *Cell[T]) Get(ctx context.Context) T {
	var ttl time.Duration
	expires := c.ttl != nil
	if expires {
		ttl = c.ttl(ctx)
	}
	now := c.src.now()

	c.mu.Lock()
	cached := c.value
	fresh := c.populated && (!expires || now.Sub(c.refreshed) < ttl)
	c.mu.Unlock()
	if fresh {
		return cached
	}

	v, found, err := c.load(ctx)
	if err != nil {
		c.src.logger.Warn("session read failed, using cached value", "key", c.table, "error", err)
		return cached
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if found {
		c.value = v
	}
	c.populated = true
	c.refreshed = now
	return c.value
}

// Set writes v durably and updates the cache. The cache is left untouched
// when the write fails.
func (c *Cell[T]) Set(ctx context.Context, v T) error {
	if c.skipUnchanged {
		c.mu.Lock()
		unchanged := c.populated && c.value == v
		c.mu.Unlock()
		if unchanged {
			return nil
		}
	}

	now := c.src.now()
	row := gateway.Row{
		gateway.ColumnValue:     c.encode(v),
		gateway.ColumnUpdatedAt: now.UnixMilli(),
	}
	if _, err := c.src.gw.Insert(ctx, c.table, row); err != nil {
		c.src.logger.Error("session write failed", "key", c.table, "error", err)
		return qerrors.NewStorageError(qerrors.CodeUpdateFailed, "failed to write "+c.table, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = v
	c.populated = true
	c.refreshed = now
	return nil
}

// Invalidate drops the cached value so the next Get reads through.
func (c *Cell[T]) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = c.def
	c.populated = false
	c.refreshed = time.Time{}
}

func (c *Cell[T]) load(ctx context.Context) (T, bool, error) {
	var zero T
	rows, err := c.src.gw.Query(ctx, c.table, gateway.Query{Limit: 1})
	if err != nil {
		return zero, false, qerrors.NewStorageError(qerrors.CodeReadFailed, "failed to read "+c.table, err)
	}
	if len(rows) == 0 {
		return zero, false, nil
	}
	v, ok := c.decode(rows[0])
	return v, ok, nil
}

func decodeBool(r gateway.Row) (bool, bool)     { return r.Bool(gateway.ColumnValue) }
func decodeInt64(r gateway.Row) (int64, bool)   { return r.Int64(gateway.ColumnValue) }
func decodeString(r gateway.Row) (string, bool) { return r.String(gateway.ColumnValue) }

func decodeMillis(r gateway.Row) (time.Duration, bool) {
	ms, ok := r.Int64(gateway.ColumnValue)
	return time.Duration(ms) * time.Millisecond, ok
}

func encodeBool(v bool) any {
	if v {
		return int64(1)
	}
	return int64(0)
}

func encodeInt64(v int64) any          { return v }
func encodeString(v string) any        { return v }
func encodeMillis(v time.Duration) any { return v.Milliseconds() }
