package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/golang/snappy"
	"github.com/google/uuid"

	qerrors "github.com/bovink/sa-sdk-android/internal/errors"
)

// Object name layout: batches/YYYY/MM/DD/<uuidv7>.json[.sz]
const (
	BatchPrefix      = "batches"
	jsonExt          = ".json"
	compressedSuffix = ".sz"
)

// ArchiveOptions configures an Archive.
type ArchiveOptions struct {
	Compress bool
	Now      func() time.Time
	Logger   *slog.Logger
}

// Archive writes flushed batches to object storage.
type Archive struct {
	store    ObjectStorage
	compress bool
	now      func() time.Time
	logger   *slog.Logger
}

// Object describes one archived batch.
type Object struct {
	Name   string `json:"name"`
	ETag   string `json:"etag"`
	Size   int    `json:"size"`
	Events int    `json:"events"`
}

// NewArchive creates an archive over store.
func NewArchive(store ObjectStorage, opts ArchiveOptions) *Archive {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Archive{
		store:    store,
		compress: opts.Compress,
		now:      opts.Now,
		logger:   logger.With("component", "archive"),
	}
}

// Put stores one batch. data is the JSON array produced by extraction.
func (a *Archive) Put(ctx context.Context, data []byte, events int) (Object, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Object{}, qerrors.NewArchiveError(qerrors.CodePutFailed, "failed to generate object name", err)
	}

	name := path.Join(BatchPrefix, a.now().UTC().Format("2006/01/02"), id.String()+jsonExt)
	body := data
	if a.compress {
		name += compressedSuffix
		body = snappy.Encode(nil, data)
	}

	etag, err := a.store.Put(ctx, name, body)
	if err != nil {
		return Object{}, qerrors.NewArchiveError(qerrors.CodePutFailed, "failed to store batch", err).
			WithDetails(map[string]interface{}{"object": name})
	}

	obj := Object{Name: name, ETag: etag, Size: len(body), Events: events}
	a.logger.Debug("archived batch", "object", name, "events", events, "bytes", len(body), "raw_bytes", len(data))
	return obj, nil
}

// Get returns the JSON array stored in an archived batch.
func (a *Archive) Get(ctx context.Context, name string) ([]byte, error) {
	body, err := a.store.Get(ctx, name)
	if err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			return nil, qerrors.NewArchiveError(qerrors.CodeObjectNotFound, "archived batch not found", err).
				WithDetails(map[string]interface{}{"object": name})
		}
		return nil, fmt.Errorf("get %s: %w", name, err)
	}

	if !strings.HasSuffix(name, compressedSuffix) {
		return body, nil
	}
	data, err := snappy.Decode(nil, body)
	if err != nil {
		return nil, qerrors.NewCorruptionError(qerrors.CodeMalformedRecord, "archived batch is not valid snappy: "+name)
	}
	return data, nil
}

// List returns the names of all archived batches in creation order.
func (a *Archive) List(ctx context.Context) ([]string, error) {
	names, err := a.store.ListObjects(ctx, BatchPrefix)
	if err != nil {
		return nil, fmt.Errorf("list archive: %w", err)
	}
	out := names[:0]
	for _, n := range names {
		if strings.HasSuffix(n, jsonExt) || strings.HasSuffix(n, jsonExt+compressedSuffix) {
			out = append(out, n)
		}
	}
	return out, nil
}

// Delete removes an archived batch.
func (a *Archive) Delete(ctx context.Context, name string) error {
	return a.store.Delete(ctx, name)
}
