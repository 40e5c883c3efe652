// Package session keeps the lifecycle bookkeeping values that must survive a
// process restart: app start and pause markers, the app-end record, the login
// identifier and the session timeout. Each value lives in its own singleton
// table and is fronted by a process-local cache.
package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/bovink/sa-sdk-android/internal/gateway"
)

// DefaultInterval is the session timeout used until one is stored.
const DefaultInterval = 30 * time.Second

// Options configures a Store.
type Options struct {
	DefaultInterval time.Duration
	Now             func() time.Time
	Logger          *slog.Logger
}

// Store is the session state store. It is safe for concurrent use.
type Store struct {
	appStarted      *Cell[bool]
	appStartTime    *Cell[int64]
	appPausedTime   *Cell[int64]
	appEndState     *Cell[bool]
	appEndData      *Cell[string]
	loginID         *Cell[string]
	sessionInterval *Cell[time.Duration]
}

// State is a read of every entry.
type State struct {
	AppStarted      bool          `json:"app_started"`
	AppStartTime    int64         `json:"app_start_time"`
	AppPausedTime   int64         `json:"app_paused_time"`
	AppEndState     bool          `json:"app_end_state"`
	AppEndData      string        `json:"app_end_data"`
	LoginID         string        `json:"login_id"`
	SessionInterval time.Duration `json:"session_interval"`
}

// New creates a session store over gw. Nothing is read until first use.
func New(gw gateway.Gateway, opts Options) *Store {
	if opts.DefaultInterval <= 0 {
		opts.DefaultInterval = DefaultInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	src := &source{gw: gw, now: opts.Now, logger: logger.With("component", "session")}

	s := &Store{
		appStarted:      newCell(src, gateway.TableAppStarted, false, decodeBool, encodeBool),
		appStartTime:    newCell(src, gateway.TableAppStartTime, int64(0), decodeInt64, encodeInt64),
		appPausedTime:   newCell(src, gateway.TableAppPausedTime, int64(0), decodeInt64, encodeInt64),
		appEndState:     newCell(src, gateway.TableAppEndState, true, decodeBool, encodeBool),
		appEndData:      newCell(src, gateway.TableAppEndData, "", decodeString, encodeString),
		loginID:         newCell(src, gateway.TableLoginID, "", decodeString, encodeString),
		sessionInterval: newCell(src, gateway.TableSessionInterval, opts.DefaultInterval, decodeMillis, encodeMillis),
	}
	s.appEndState.skipUnchanged = true
	s.sessionInterval.skipUnchanged = true
	// The paused timestamp is re-read once it is older than one session.
	s.appPausedTime.ttl = s.sessionInterval.Get
	return s
}

// AppStarted reports whether the app start event was recorded.
func (s *Store) AppStarted(ctx context.Context) bool { return s.appStarted.Get(ctx) }

// SetAppStarted stores the app started flag.
func (s *Store) SetAppStarted(ctx context.Context, v bool) error {
	return s.appStarted.Set(ctx, v)
}

// AppStartTime returns the last app start in milliseconds since the epoch.
func (s *Store) AppStartTime(ctx context.Context) int64 { return s.appStartTime.Get(ctx) }

// SetAppStartTime stores the app start time in milliseconds.
func (s *Store) SetAppStartTime(ctx context.Context, ms int64) error {
	return s.appStartTime.Set(ctx, ms)
}

// AppPausedTime returns the last pause in milliseconds since the epoch. The
// cached value is re-read once it is older than the session interval.
func (s *Store) AppPausedTime(ctx context.Context) int64 { return s.appPausedTime.Get(ctx) }

// SetAppPausedTime stores the pause time in milliseconds.
func (s *Store) SetAppPausedTime(ctx context.Context, ms int64) error {
	return s.appPausedTime.Set(ctx, ms)
}

// AppEndState reports whether the app-end event has been sent. Defaults to true.
func (s *Store) AppEndState(ctx context.Context) bool { return s.appEndState.Get(ctx) }

// SetAppEndState is a no-op when v equals the cached value.
func (s *Store) SetAppEndState(ctx context.Context, v bool) error {
	return s.appEndState.Set(ctx, v)
}

// AppEndData returns the pending app-end payload.
func (s *Store) AppEndData(ctx context.Context) string { return s.appEndData.Get(ctx) }

// SetAppEndData stores the pending app-end payload.
func (s *Store) SetAppEndData(ctx context.Context, data string) error {
	return s.appEndData.Set(ctx, data)
}

// LoginID returns the stored login id, or "" when none is set.
func (s *Store) LoginID(ctx context.Context) string { return s.loginID.Get(ctx) }

// SetLoginID stores the login id.
func (s *Store) SetLoginID(ctx context.Context, id string) error {
	return s.loginID.Set(ctx, id)
}

// SessionInterval returns the session timeout.
func (s *Store) SessionInterval(ctx context.Context) time.Duration {
	return s.sessionInterval.Get(ctx)
}

// SetSessionInterval stores the session timeout with millisecond precision.
// It is a no-op when d equals the cached value.
func (s *Store) SetSessionInterval(ctx context.Context, d time.Duration) error {
	return s.sessionInterval.Set(ctx, d.Truncate(time.Millisecond))
}

// Invalidate drops every cached value.
func (s *Store) Invalidate() {
	s.appStarted.Invalidate()
	s.appStartTime.Invalidate()
	s.appPausedTime.Invalidate()
	s.appEndState.Invalidate()
	s.appEndData.Invalidate()
	s.loginID.Invalidate()
	s.sessionInterval.Invalidate()
}

// Snapshot reads every entry through the cache.
func (s *Store) Snapshot(ctx context.Context) State {
	return State{
		AppStarted:      s.AppStarted(ctx),
		AppStartTime:    s.AppStartTime(ctx),
		AppPausedTime:   s.AppPausedTime(ctx),
		AppEndState:     s.AppEndState(ctx),
		AppEndData:      s.AppEndData(ctx),
		LoginID:         s.LoginID(ctx),
		SessionInterval: s.SessionInterval(ctx),
	}
}
