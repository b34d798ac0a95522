package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"polymirror/internal/domain"
)

// CopyTradeArchiveStore is the narrow store surface the archiver needs:
// time-ranged reads plus pruning of rows that were archived successfully.
type CopyTradeArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.CopyTrade, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// Archiver moves aged copy-trade history out of the primary store into
// object storage as monthly JSONL files. Rows are only deleted after the
// uploaded object is confirmed to exist.
type Archiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	trades CopyTradeArchiveStore
	prefix string
	logger *slog.Logger
}

// NewArchiver creates an Archiver writing under the given key prefix
// (e.g. "copytrades").
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader, trades CopyTradeArchiveStore, prefix string, logger *slog.Logger) *Archiver {
	if prefix == "" {
		prefix = "copytrades"
	}
	return &Archiver{
		writer: writer,
		reader: reader,
		trades: trades,
		prefix: prefix,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveCopyTrades uploads all copy trades executed before the cutoff as one
// JSONL object, verifies the upload, then prunes the archived rows. It
// returns the number of records archived.
func (a *Archiver) ArchiveCopyTrades(ctx context.Context, before time.Time) (int64, error) {
	trades, err := a.trades.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive copy trades query: %w", err)
	}
	if len(trades) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(trades)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive copy trades marshal: %w", err)
	}

	path := a.archivePath(before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive copy trades upload: %w", err)
	}

	// Only prune rows once the object is confirmed present.
	ok, err := a.reader.Exists(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive copy trades verify: %w", err)
	}
	if !ok {
		return 0, fmt.Errorf("s3blob: archive copy trades verify: object %s missing after upload", path)
	}

	deleted, err := a.trades.DeleteBefore(ctx, before)
	if err != nil {
		return int64(len(trades)), fmt.Errorf("s3blob: archive copy trades prune: %w", err)
	}

	a.logger.Info("archived copy trades",
		slog.String("path", path),
		slog.Int("archived", len(trades)),
		slog.Int64("pruned", deleted),
	)
	return int64(len(trades)), nil
}

// Run archives on each interval tick until ctx is cancelled. The cutoff for
// every run is now minus the retention period.
func (a *Archiver) Run(ctx context.Context, interval time.Duration, retentionDays int) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		before := time.Now().UTC().AddDate(0, 0, -retentionDays)
		if _, err := a.ArchiveCopyTrades(ctx, before); err != nil {
			a.logger.Error("archive run failed", slog.Any("error", err))
		}
	}
}

// archivePath builds the object key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	copytrades/2026-07.jsonl
func (a *Archiver) archivePath(before time.Time) string {
	return fmt.Sprintf("%s/%s.jsonl", a.prefix, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
// Each element is marshalled as a single compact JSON line followed by '\n'.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
