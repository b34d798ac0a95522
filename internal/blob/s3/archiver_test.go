package s3blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"polymirror/internal/domain"
)

type fakeBlobStore struct {
	objects   map[string][]byte
	putErr    error
	existsErr error
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{objects: map[string][]byte{}}
}

func (f *fakeBlobStore) Put(_ context.Context, path string, data io.Reader, _ string) error {
	if f.putErr != nil {
		return f.putErr
	}
	buf, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.objects[path] = buf
	return nil
}

func (f *fakeBlobStore) Get(_ context.Context, path string) (io.ReadCloser, error) {
	data, ok := f.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeBlobStore) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	var infos []domain.BlobInfo
	for path, data := range f.objects {
		if strings.HasPrefix(path, prefix) {
			infos = append(infos, domain.BlobInfo{Path: path, Size: int64(len(data))})
		}
	}
	return infos, nil
}

func (f *fakeBlobStore) Exists(_ context.Context, path string) (bool, error) {
	if f.existsErr != nil {
		return false, f.existsErr
	}
	_, ok := f.objects[path]
	return ok, nil
}

type fakeTradeArchive struct {
	trades  []domain.CopyTrade
	deleted int64
}

func (f *fakeTradeArchive) ListBefore(_ context.Context, before time.Time) ([]domain.CopyTrade, error) {
	var out []domain.CopyTrade
	for _, t := range f.trades {
		if t.ExecutedAt.Before(before) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeTradeArchive) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	var kept []domain.CopyTrade
	for _, t := range f.trades {
		if t.ExecutedAt.Before(before) {
			f.deleted++
		} else {
			kept = append(kept, t)
		}
	}
	f.trades = kept
	return f.deleted, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestArchiveCopyTradesUploadsAndPrunes(t *testing.T) {
	blob := newFakeBlobStore()
	cutoff := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	store := &fakeTradeArchive{trades: []domain.CopyTrade{
		{ID: "old-1", ExecutedAt: cutoff.AddDate(0, -2, 0)},
		{ID: "old-2", ExecutedAt: cutoff.AddDate(0, -1, 0)},
		{ID: "fresh", ExecutedAt: cutoff.AddDate(0, 1, 0)},
	}}

	arch := NewArchiver(blob, blob, store, "copytrades", testLogger())

	count, err := arch.ArchiveCopyTrades(context.Background(), cutoff)
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)

	data, ok := blob.objects["copytrades/2026-07.jsonl"]
	require.True(t, ok, "expected archive object to be written")
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, 2)

	// Fresh rows survive the prune.
	require.Len(t, store.trades, 1)
	assert.Equal(t, "fresh", store.trades[0].ID)
}

func TestArchiveCopyTradesNoRowsIsNoop(t *testing.T) {
	blob := newFakeBlobStore()
	store := &fakeTradeArchive{}
	arch := NewArchiver(blob, blob, store, "", testLogger())

	count, err := arch.ArchiveCopyTrades(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Empty(t, blob.objects)
}

func TestArchiveCopyTradesKeepsRowsWhenUploadFails(t *testing.T) {
	blob := newFakeBlobStore()
	blob.putErr = errors.New("bucket unreachable")
	cutoff := time.Now().UTC()
	store := &fakeTradeArchive{trades: []domain.CopyTrade{
		{ID: "old", ExecutedAt: cutoff.Add(-time.Hour)},
	}}

	arch := NewArchiver(blob, blob, store, "copytrades", testLogger())

	_, err := arch.ArchiveCopyTrades(context.Background(), cutoff)
	require.Error(t, err)
	assert.Len(t, store.trades, 1, "rows must not be pruned when the upload fails")
}

func TestArchiveCopyTradesKeepsRowsWhenVerifyFails(t *testing.T) {
	blob := newFakeBlobStore()
	blob.existsErr = errors.New("head failed")
	cutoff := time.Now().UTC()
	store := &fakeTradeArchive{trades: []domain.CopyTrade{
		{ID: "old", ExecutedAt: cutoff.Add(-time.Hour)},
	}}

	arch := NewArchiver(blob, blob, store, "copytrades", testLogger())

	_, err := arch.ArchiveCopyTrades(context.Background(), cutoff)
	require.Error(t, err)
	assert.Len(t, store.trades, 1)
}
