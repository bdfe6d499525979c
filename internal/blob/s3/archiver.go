package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/oddsfair/arbot/internal/domain"
)

// DefaultRetention is how long trades stay in the primary store before
// being moved to object storage.
const DefaultRetention = 30 * 24 * time.Hour

// DefaultSweepInterval is how often the archiver checks for old trades.
const DefaultSweepInterval = 24 * time.Hour

// uploader is the narrow write surface the archiver needs.
type uploader interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// verifier confirms an uploaded object landed before rows are deleted.
type verifier interface {
	Exists(ctx context.Context, path string) (bool, error)
}

// ArchiverConfig tunes the trade archiver.
type ArchiverConfig struct {
	Retention     time.Duration // zero uses DefaultRetention
	SweepInterval time.Duration // zero uses DefaultSweepInterval
}

// Archiver moves old trades out of Postgres into monthly JSONL objects.
// Rows are deleted only after the upload is verified, so a failed sweep
// leaves the primary store intact and the next sweep retries.
type Archiver struct {
	cfg    ArchiverConfig
	writer uploader
	reader verifier
	trades domain.TradeStore
	logger *slog.Logger
	now    func() time.Time
}

// NewArchiver creates a trade archiver.
func NewArchiver(cfg ArchiverConfig, writer *Writer, reader *Reader, trades domain.TradeStore, logger *slog.Logger) *Archiver {
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	return &Archiver{
		cfg:    cfg,
		writer: writer,
		reader: reader,
		trades: trades,
		logger: logger.With(slog.String("component", "archiver")),
		now:    time.Now,
	}
}

// Run sweeps on the configured interval until ctx ends. One sweep runs
// immediately at startup.
func (a *Archiver) Run(ctx context.Context) error {
	a.logger.Info("archiver started",
		slog.Duration("retention", a.cfg.Retention),
		slog.Duration("interval", a.cfg.SweepInterval))
	defer a.logger.Info("archiver stopped")

	ticker := time.NewTicker(a.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		if n, err := a.ArchiveTrades(ctx, a.now().Add(-a.cfg.Retention)); err != nil {
			a.logger.Error("trade archive sweep failed", slog.Any("error", err))
		} else if n > 0 {
			a.logger.Info("trades archived", slog.Int64("count", n))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ArchiveTrades uploads all trades executed before the cutoff as JSONL at
// archive/trades/YYYY-MM.jsonl, verifies the object, then deletes the rows.
// It returns the number of trades moved.
func (a *Archiver) ArchiveTrades(ctx context.Context, before time.Time) (int64, error) {
	trades, err := a.trades.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades query: %w", err)
	}
	if len(trades) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(trades)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades marshal: %w", err)
	}

	path := archivePath("trades", before)
	if int64(len(buf)) > minPartSize {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades upload: %w", err)
	}

	ok, err := a.reader.Exists(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades verify: %w", err)
	}
	if !ok {
		return 0, fmt.Errorf("s3blob: archive trades verify: %s missing after upload", path)
	}

	deleted, err := a.trades.DeleteBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades prune: %w", err)
	}

	a.logger.Info("trade archive written",
		slog.String("path", path),
		slog.Int("archived", len(trades)),
		slog.Int64("pruned", deleted))
	return int64(len(trades)), nil
}

// archivePath builds the object key, partitioned by the year-month of the
// cutoff time, e.g. archive/trades/2026-07.jsonl.
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises records as newline-delimited JSON.
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
