// Package capacity decides whether the event queue must reclaim space before
// accepting more writes.
package capacity

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
)

// DefaultMaxCacheSize is used when the configured bound is unavailable.
const DefaultMaxCacheSize int64 = 32 * 1024 * 1024

// MaxCacheSizeFunc supplies the configured queue budget in bytes.
type MaxCacheSizeFunc func() (int64, error)

// FreeSpaceFunc reports the bytes available to an unprivileged writer on the
// volume holding path.
type FreeSpaceFunc func(path string) (int64, error)

// Options configures a Guard.
type Options struct {
	MaxCacheSize MaxCacheSizeFunc
	FreeSpace    FreeSpaceFunc // defaults to the platform statfs probe
	Logger       *slog.Logger
}

// Guard compares the database footprint against max(free space, budget).
// Taking the larger bound keeps data unless both limits are exceeded.
type Guard struct {
	dbPath       string
	maxCacheSize MaxCacheSizeFunc
	freeSpace    FreeSpaceFunc
	logger       *slog.Logger
}

// Status is a point-in-time view of the guard's inputs.
type Status struct {
	Exists        bool
	DatabaseBytes int64
	WALBytes      int64
	Footprint     int64
	FreeBytes     int64
	MaxCacheSize  int64
	Threshold     int64
	ShouldEvict   bool
}

// New creates a guard for the database at dbPath.
func New(dbPath string, opts Options) *Guard {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	freeSpace := opts.FreeSpace
	if freeSpace == nil {
		freeSpace = FreeSpace
	}
	return &Guard{
		dbPath:       dbPath,
		maxCacheSize: opts.MaxCacheSize,
		freeSpace:    freeSpace,
		logger:       logger.With("component", "capacity"),
	}
}

// ShouldEvict reports whether the footprint exceeds max(free space, budget).
// A missing database file never needs eviction.
func (g *Guard) ShouldEvict() bool {
	return g.Status().ShouldEvict
}

// Status computes the current footprint and thresholds.
func (g *Guard) Status() Status {
	var s Status

	dbSize, ok := fileSize(g.dbPath)
	if !ok {
		return s
	}
	s.Exists = true
	s.DatabaseBytes = dbSize
	s.WALBytes, _ = fileSize(g.dbPath + "-wal")
	s.Footprint = s.DatabaseBytes + s.WALBytes

	s.MaxCacheSize = g.resolveMaxCacheSize()

	free, err := g.freeSpace(g.dbPath)
	if err != nil {
		g.logger.Warn("free space probe failed", "path", g.dbPath, "error", err)
		free = 0
	}
	s.FreeBytes = free

	s.Threshold = max(s.FreeBytes, s.MaxCacheSize)
	s.ShouldEvict = s.Footprint > s.Threshold
	return s
}

func (g *Guard) resolveMaxCacheSize() int64 {
	if g.maxCacheSize == nil {
		return DefaultMaxCacheSize
	}
	size, err := g.maxCacheSize()
	if err != nil {
		g.logger.Warn("max cache size unavailable, using default", "error", err, "default", DefaultMaxCacheSize)
		return DefaultMaxCacheSize
	}
	if size <= 0 {
		g.logger.Warn("max cache size not positive, using default", "value", size, "default", DefaultMaxCacheSize)
		return DefaultMaxCacheSize
	}
	return size
}

func fileSize(path string) (int64, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, false
	}
	if info.IsDir() {
		return 0, false
	}
	return info.Size(), true
}

// ErrUnsupported is returned by FreeSpace on platforms without a probe.
var ErrUnsupported = errors.New("capacity: free space probe not supported on this platform")

// probeDir returns the directory whose volume holds path.
func probeDir(path string) string {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return path
	}
	return filepath.Dir(path)
}
