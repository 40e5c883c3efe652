package storage

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	qerrors "github.com/bovink/sa-sdk-android/internal/errors"
)

func newTestArchive(t *testing.T, compress bool) *Archive {
	t.Helper()
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	now := func() time.Time { return time.Date(2024, 3, 9, 23, 59, 0, 0, time.UTC) }
	return NewArchive(store, ArchiveOptions{Compress: compress, Now: now})
}

func TestArchive_PutGet(t *testing.T) {
	for _, compress := range []bool{false, true} {
		t.Run(map[bool]string{false: "plain", true: "snappy"}[compress], func(t *testing.T) {
			a := newTestArchive(t, compress)
			ctx := context.Background()
			data := []byte(`[{"a":1,"_flush_time":5},{"a":2,"_flush_time":5}]`)

			obj, err := a.Put(ctx, data, 2)
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(obj.Name, "batches/2024/03/09/"))
			assert.Equal(t, compress, strings.HasSuffix(obj.Name, ".json.sz"))
			assert.Equal(t, 2, obj.Events)
			assert.NotEmpty(t, obj.ETag)

			got, err := a.Get(ctx, obj.Name)
			require.NoError(t, err)
			assert.JSONEq(t, string(data), string(got))
		})
	}
}

func TestArchive_ListInCreationOrder(t *testing.T) {
	a := newTestArchive(t, true)
	ctx := context.Background()

	var names []string
	for i := 0; i < 5; i++ {
		obj, err := a.Put(ctx, []byte(`[]`), 0)
		require.NoError(t, err)
		names = append(names, obj.Name)
	}

	listed, err := a.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, names, listed)
}

func TestArchive_GetMissing(t *testing.T) {
	a := newTestArchive(t, false)

	_, err := a.Get(context.Background(), "batches/2024/01/01/none.json")
	require.Error(t, err)
	assert.Equal(t, qerrors.CodeObjectNotFound, qerrors.GetCode(err))
	assert.True(t, errors.Is(err, ErrObjectNotFound))
}

func TestArchive_GetCorruptSnappy(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	a := NewArchive(store, ArchiveOptions{})
	ctx := context.Background()

	_, err = store.Put(ctx, "batches/2024/01/01/bad.json.sz", []byte("not snappy at all"))
	require.NoError(t, err)

	_, err = a.Get(ctx, "batches/2024/01/01/bad.json.sz")
	require.Error(t, err)
	assert.Equal(t, qerrors.ErrCategoryCorruption, qerrors.GetCategory(err))
}

type failingStorage struct{ ObjectStorage }

func (failingStorage) Put(context.Context, string, []byte) (string, error) {
	return "", ErrPutFailed
}

func TestArchive_PutFailure(t *testing.T) {
	a := NewArchive(failingStorage{}, ArchiveOptions{})

	_, err := a.Put(context.Background(), []byte(`[]`), 0)
	require.Error(t, err)
	assert.Equal(t, qerrors.CodePutFailed, qerrors.GetCode(err))
	assert.True(t, qerrors.IsRetryable(err))
}

func TestBatchReader_Read(t *testing.T) {
	a := newTestArchive(t, true)
	ctx := context.Background()

	var names []string
	for i := 1; i <= 10; i++ {
		events := make([]map[string]int, i)
		for j := range events {
			events[j] = map[string]int{"n": j}
		}
		data, err := json.Marshal(events)
		require.NoError(t, err)
		obj, err := a.Put(ctx, data, i)
		require.NoError(t, err)
		names = append(names, obj.Name)
	}
	names = append(names, "batches/2024/03/09/missing.json")

	var mu sync.Mutex
	visited := 0
	result := NewBatchReader(a, 3).Read(ctx, names, func(name string, events []json.RawMessage) {
		mu.Lock()
		visited += len(events)
		mu.Unlock()
	})

	assert.Len(t, result.Events, 10)
	assert.Equal(t, 55, result.Total())
	assert.Equal(t, 55, visited)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors, "batches/2024/03/09/missing.json")
	assert.Greater(t, result.Bytes, int64(0))
}

func TestBatchReader_Empty(t *testing.T) {
	a := newTestArchive(t, false)
	result := NewBatchReader(a, 0).Read(context.Background(), nil, nil)
	assert.Empty(t, result.Events)
	assert.Empty(t, result.Errors)
	assert.Zero(t, result.Total())
}

func TestBatchReader_CancelledContext(t *testing.T) {
	a := newTestArchive(t, false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := NewBatchReader(a, 1).Read(ctx, []string{"a.json", "b.json"}, nil)
	assert.Len(t, result.Errors, 2)
}
