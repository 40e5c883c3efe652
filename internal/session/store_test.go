package session

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	qerrors "github.com/bovink/sa-sdk-android/internal/errors"
	"github.com/bovink/sa-sdk-android/internal/gateway"
	"github.com/bovink/sa-sdk-android/internal/testutil"
)

// countingGateway counts reads and writes per table and can fail them.
type countingGateway struct {
	gateway.Gateway

	mu        sync.Mutex
	reads     map[string]int
	writes    map[string]int
	failRead  bool
	failWrite bool
}

func (g *countingGateway) Query(ctx context.Context, table string, q gateway.Query) ([]gateway.Row, error) {
	g.mu.Lock()
	g.reads[table]++
	fail := g.failRead
	g.mu.Unlock()
	if fail {
		return nil, errors.New("database is locked")
	}
	return g.Gateway.Query(ctx, table, q)
}

func (g *countingGateway) Insert(ctx context.Context, table string, row gateway.Row) (int64, error) {
	g.mu.Lock()
	g.writes[table]++
	fail := g.failWrite
	g.mu.Unlock()
	if fail {
		return 0, errors.New("disk full")
	}
	return g.Gateway.Insert(ctx, table, row)
}

func (g *countingGateway) readCount(table string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.reads[table]
}

func (g *countingGateway) writeCount(table string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.writes[table]
}

type fixture struct {
	path  string
	gw    *countingGateway
	clock *testutil.ManualClock
	store *Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		path:  filepath.Join(t.TempDir(), "state.db"),
		clock: testutil.NewManualClock(time.UnixMilli(1_700_000_000_000)),
	}
	f.restart(t)
	return f
}

// restart simulates a new process: a fresh gateway handle and an empty cache.
func (f *fixture) restart(t *testing.T) {
	t.Helper()
	if f.gw != nil {
		require.NoError(t, f.gw.Close())
	}
	gw, err := gateway.Open(f.path, gateway.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { gw.Close() })

	f.gw = &countingGateway{Gateway: gw, reads: map[string]int{}, writes: map[string]int{}}
	f.store = New(f.gw, Options{Now: f.clock.Now})
}

func TestDefaults(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	state := f.store.Snapshot(ctx)
	assert.False(t, state.AppStarted)
	assert.Zero(t, state.AppStartTime)
	assert.Zero(t, state.AppPausedTime)
	assert.True(t, state.AppEndState)
	assert.Empty(t, state.AppEndData)
	assert.Empty(t, state.LoginID)
	assert.Equal(t, DefaultInterval, state.SessionInterval)
}

// A login id survives both a cache hit and a process restart.
func TestLoginID_SurvivesRestart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.store.SetLoginID(ctx, "user-1"))
	assert.Equal(t, "user-1", f.store.LoginID(ctx))
	assert.Zero(t, f.gw.readCount(gateway.TableLoginID), "read after write must hit the cache")

	f.restart(t)
	assert.Equal(t, "user-1", f.store.LoginID(ctx))
	assert.Equal(t, 1, f.gw.readCount(gateway.TableLoginID))

	assert.Equal(t, "user-1", f.store.LoginID(ctx))
	assert.Equal(t, 1, f.gw.readCount(gateway.TableLoginID))
}

func TestValuesSurviveRestart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.store.SetAppStarted(ctx, true))
	require.NoError(t, f.store.SetAppStartTime(ctx, 111))
	require.NoError(t, f.store.SetAppPausedTime(ctx, 222))
	require.NoError(t, f.store.SetAppEndState(ctx, false))
	require.NoError(t, f.store.SetAppEndData(ctx, `{"event":"$AppEnd"}`))
	require.NoError(t, f.store.SetSessionInterval(ctx, 45*time.Second))

	f.restart(t)
	state := f.store.Snapshot(ctx)
	assert.True(t, state.AppStarted)
	assert.Equal(t, int64(111), state.AppStartTime)
	assert.Equal(t, int64(222), state.AppPausedTime)
	assert.False(t, state.AppEndState)
	assert.Equal(t, `{"event":"$AppEnd"}`, state.AppEndData)
	assert.Equal(t, 45*time.Second, state.SessionInterval)
}

func TestAppPausedTime_RereadsAfterSessionInterval(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.SetSessionInterval(ctx, 10*time.Second))
	f.restart(t)

	// Cold read.
	assert.Zero(t, f.store.AppPausedTime(ctx))
	assert.Equal(t, 1, f.gw.readCount(gateway.TableAppPausedTime))

	// Within the interval: served from cache.
	f.clock.Advance(5 * time.Second)
	f.store.AppPausedTime(ctx)
	assert.Equal(t, 1, f.gw.readCount(gateway.TableAppPausedTime))

	// Interval elapsed since the last read-through.
	f.clock.Advance(5 * time.Second)
	f.store.AppPausedTime(ctx)
	assert.Equal(t, 2, f.gw.readCount(gateway.TableAppPausedTime))

	f.clock.Advance(9 * time.Second)
	f.store.AppPausedTime(ctx)
	assert.Equal(t, 2, f.gw.readCount(gateway.TableAppPausedTime))
}

func TestAppPausedTime_PicksUpExternalWrite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.store.SetAppPausedTime(ctx, 100))

	other := New(f.gw, Options{Now: f.clock.Now})
	require.NoError(t, other.SetAppPausedTime(ctx, 200))

	assert.Equal(t, int64(100), f.store.AppPausedTime(ctx))
	f.clock.Advance(DefaultInterval)
	assert.Equal(t, int64(200), f.store.AppPausedTime(ctx))
}

func TestNonExpiringEntriesReadOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		f.store.AppStartTime(ctx)
		f.clock.Advance(time.Hour)
	}
	assert.Equal(t, 1, f.gw.readCount(gateway.TableAppStartTime))
}

func TestSetAppEndState_SkipsUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.True(t, f.store.AppEndState(ctx))
	require.NoError(t, f.store.SetAppEndState(ctx, true))
	assert.Zero(t, f.gw.writeCount(gateway.TableAppEndState))

	require.NoError(t, f.store.SetAppEndState(ctx, false))
	require.NoError(t, f.store.SetAppEndState(ctx, false))
	assert.Equal(t, 1, f.gw.writeCount(gateway.TableAppEndState))
}

func TestSetSessionInterval_SkipsUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.store.SetSessionInterval(ctx, time.Minute))
	require.NoError(t, f.store.SetSessionInterval(ctx, time.Minute))
	assert.Equal(t, 1, f.gw.writeCount(gateway.TableSessionInterval))
}

func TestSetAlwaysWritesOtherEntries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.store.SetLoginID(ctx, "a"))
	require.NoError(t, f.store.SetLoginID(ctx, "a"))
	assert.Equal(t, 2, f.gw.writeCount(gateway.TableLoginID))
}

func TestReadFailureReturnsLastKnownValue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.gw.failRead = true
	assert.Empty(t, f.store.LoginID(ctx))
	assert.True(t, f.store.AppEndState(ctx))

	f.gw.failRead = false
	require.NoError(t, f.store.SetAppPausedTime(ctx, 500))
	f.clock.Advance(time.Hour)
	f.gw.failRead = true
	assert.Equal(t, int64(500), f.store.AppPausedTime(ctx))

	// A failed read leaves the cache cold so the next Get retries.
	f.gw.failRead = false
	assert.Equal(t, "", f.store.LoginID(ctx))
	assert.Equal(t, 2, f.gw.readCount(gateway.TableLoginID))
}

func TestWriteFailureKeepsCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.store.SetLoginID(ctx, "before"))
	f.gw.failWrite = true

	err := f.store.SetLoginID(ctx, "after")
	require.Error(t, err)
	assert.True(t, errors.Is(err, qerrors.ErrUpdateFailed))
	assert.Equal(t, "before", f.store.LoginID(ctx))
}

func TestInvalidate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.store.SetLoginID(ctx, "user-2"))
	f.store.Invalidate()

	assert.Equal(t, "user-2", f.store.LoginID(ctx))
	assert.Equal(t, 1, f.gw.readCount(gateway.TableLoginID))
}

func TestConcurrentAccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				_ = f.store.SetAppPausedTime(ctx, int64(i*100+j))
				f.store.AppPausedTime(ctx)
				f.store.Invalidate()
				f.store.LoginID(ctx)
			}
		}(i)
	}
	wg.Wait()

	f.restart(t)
	assert.GreaterOrEqual(t, f.store.AppPausedTime(ctx), int64(0))
}
