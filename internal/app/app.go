// Package app wires the event queue, session store, capacity guard and batch
// archive into one lifecycle.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/bovink/sa-sdk-android/internal/capacity"
	"github.com/bovink/sa-sdk-android/internal/config"
	"github.com/bovink/sa-sdk-android/internal/flusher"
	"github.com/bovink/sa-sdk-android/internal/gateway"
	"github.com/bovink/sa-sdk-android/internal/notify"
	"github.com/bovink/sa-sdk-android/internal/observability"
	"github.com/bovink/sa-sdk-android/internal/queue"
	"github.com/bovink/sa-sdk-android/internal/session"
	"github.com/bovink/sa-sdk-android/internal/storage"
)

// App owns every component opened over one database.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	// Shared resources
	gateway      *gateway.SQLiteGateway
	guard        *capacity.Guard
	stats        *observability.QueueStats
	bus          *notify.Bus
	maxCacheSize atomic.Int64

	// Components
	queue   *queue.Store
	session *session.Store
	archive *storage.Archive
	flusher *flusher.Flusher

	// Lifecycle
	mu      sync.Mutex
	running bool
	closed  bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Status is a point-in-time view for operators.
type Status struct {
	Queued   int                    `json:"queued"`
	Database string                 `json:"database"`
	Capacity capacity.Status        `json:"capacity"`
	Stats    observability.Snapshot `json:"stats"`
	Boundary int64                  `json:"last_flushed_boundary"`
}

// New resolves and validates cfg, opens the database and builds every
// component. Nothing runs in the background until Start.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	a := &App{
		cfg:    cfg,
		logger: logger,
		stats:  observability.NewQueueStats(cfg.Queue.FailureWindow),
		bus:    notify.NewBus(64),
	}
	a.maxCacheSize.Store(cfg.Queue.MaxCacheSize)

	if err := a.initSharedResources(); err != nil {
		a.cleanup()
		return nil, fmt.Errorf("failed to initialize shared resources: %w", err)
	}
	if err := a.initComponents(); err != nil {
		a.cleanup()
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}
	return a, nil
}

// initSharedResources opens the database and the capacity guard.
func (a *App) initSharedResources() error {
	gw, err := gateway.Open(a.cfg.Database.Path, gateway.Options{
		BusyTimeout: a.cfg.Database.BusyTimeout,
		Logger:      a.logger,
	})
	if err != nil {
		return err
	}
	a.gateway = gw

	a.guard = capacity.New(a.cfg.Database.Path, capacity.Options{
		MaxCacheSize: func() (int64, error) { return a.maxCacheSize.Load(), nil },
		Logger:       a.logger,
	})
	a.logger.Info("database opened", "path", a.cfg.Database.Path)
	return nil
}

// initComponents builds the queue, session store, archive and flusher.
func (a *App) initComponents() error {
	a.queue = queue.New(a.gateway, queue.Options{
		Guard:            a.guard,
		ReclaimBatchSize: a.cfg.Queue.ReclaimBatchSize,
		Logger:           a.logger,
		Stats:            a.stats,
		Notifier:         a.bus,
	})
	a.session = session.New(a.gateway, session.Options{
		DefaultInterval: a.cfg.Session.DefaultInterval,
		Logger:          a.logger,
	})

	local, err := storage.NewLocalStorage(a.cfg.Flush.ArchiveDir)
	if err != nil {
		return fmt.Errorf("failed to initialize archive storage: %w", err)
	}
	a.archive = storage.NewArchive(local, storage.ArchiveOptions{
		Compress: a.cfg.Flush.Compress,
		Logger:   a.logger,
	})
	opts := flusher.Options{
		Interval:  a.cfg.Flush.Interval,
		BatchSize: a.cfg.Queue.FlushBatchSize,
		Stats:     a.stats,
		Logger:    a.logger,
	}
	if a.cfg.Flush.Eager {
		opts.Wake = a.bus.Subscribe(notify.EventsEnqueued).C
	}
	a.flusher = flusher.New(a.queue, a.archive, opts)
	return nil
}

// Start launches the flush loop when it is enabled.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return fmt.Errorf("app is closed")
	}
	if a.running {
		return fmt.Errorf("app is already running")
	}
	a.running = true

	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if a.cfg.Flush.Enabled {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.flusher.Run(ctx)
		}()
	}

	a.logger.Info("event buffer started",
		"data_dir", a.cfg.DataDir,
		"flush", a.cfg.Flush.Enabled,
		"max_cache_size", a.maxCacheSize.Load())
	return nil
}

// Stop cancels the flush loop, waits for its final drain and closes the
// database. Stop is also how a never-started App is closed.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	wasRunning := a.running
	a.running = false
	a.mu.Unlock()

	if wasRunning {
		a.logger.Info("initiating graceful shutdown")
		if a.cancel != nil {
			a.cancel()
		}

		// Wait for all goroutines to finish
		done := make(chan struct{})
		go func() {
			a.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-ctx.Done():
			a.logger.Warn("shutdown timeout, flusher may not have finished")
			a.cleanup()
			return ctx.Err()
		}
	}

	a.cleanup()
	a.logger.Info("event buffer stopped")
	return nil
}

// cleanup releases shared resources.
func (a *App) cleanup() {
	if a.gateway != nil {
		if err := a.gateway.Close(); err != nil {
			a.logger.Warn("failed to close database", "error", err)
		}
	}
}

// SetMaxCacheSize changes the queue budget read by the capacity guard.
func (a *App) SetMaxCacheSize(bytes int64) {
	a.maxCacheSize.Store(bytes)
}

// Status reports queue depth, capacity and counters. Failure codes older
// than the failure window are dropped first.
func (a *App) Status(ctx context.Context) (Status, error) {
	n, err := a.queue.Count(ctx)
	if err != nil {
		return Status{}, err
	}
	a.stats.Prune()
	return Status{
		Queued:   n,
		Database: a.cfg.Database.Path,
		Capacity: a.guard.Status(),
		Stats:    a.stats.Snapshot(),
		Boundary: a.flusher.Boundary(),
	}, nil
}

// Config returns the resolved configuration.
func (a *App) Config() *config.Config { return a.cfg }

// Queue returns the event queue.
func (a *App) Queue() *queue.Store { return a.queue }

// Session returns the session state store.
func (a *App) Session() *session.Store { return a.session }

// Archive returns the batch archive.
func (a *App) Archive() *storage.Archive { return a.archive }

// Flusher returns the flusher used by the background loop.
func (a *App) Flusher() *flusher.Flusher { return a.flusher }

// Notifications returns the queue change bus.
func (a *App) Notifications() *notify.Bus { return a.bus }

// Stats returns the queue counters.
func (a *App) Stats() *observability.QueueStats { return a.stats }
