package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/predictx/internal/domain"
)

// DefaultArchiveBatch bounds how many events one archive run moves.
const DefaultArchiveBatch = 50_000

// ArchivePrefix is the key prefix of every archive object.
const ArchivePrefix = "archive/events/"

// EventSource is the slice of domain.EventStore the archiver needs.
type EventSource interface {
	ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.EventRecord, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// ArchiverConfig tunes an EventArchiver.
type ArchiverConfig struct {
	// BatchSize caps the events read per run; zero selects DefaultArchiveBatch.
	BatchSize int
	// Prune deletes archived events from the source after upload.
	Prune bool
}

// EventArchiver implements domain.Archiver by reading old events from the
// event log, grouping them by UTC day, and uploading each day as a JSONL
// object at archive/events/YYYY-MM-DD/{firstID}-{lastID}.jsonl.
type EventArchiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	source EventSource
	cfg    ArchiverConfig
	logger *slog.Logger
}

// NewArchiver creates an EventArchiver.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader, source EventSource, cfg ArchiverConfig, logger *slog.Logger) *EventArchiver {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultArchiveBatch
	}
	return &EventArchiver{
		writer: writer,
		reader: reader,
		source: source,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveEvents uploads every event created before the cutoff (up to the
// batch size) and returns how many were archived. With pruning enabled the
// uploaded events are deleted from the source afterwards. When the batch is
// full only events strictly older than the last archived one are pruned, so
// nothing unarchived is lost.
func (a *EventArchiver) ArchiveEvents(ctx context.Context, before time.Time) (int64, error) {
	records, err := a.source.ListBefore(ctx, before, a.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive events query: %w", err)
	}
	if len(records) == 0 {
		return 0, nil
	}

	for _, day := range groupByDay(records) {
		path := archivePath(day)
		if info, err := a.reader.Stat(ctx, path); err == nil {
			a.logger.InfoContext(ctx, "archive object already present",
				slog.String("path", path),
				slog.Int64("size", info.Size),
			)
			continue
		} else if !errors.Is(err, domain.ErrNotFound) {
			return 0, fmt.Errorf("s3blob: archive events: %w", err)
		}

		buf, err := marshalJSONL(day)
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive events marshal: %w", err)
		}
		if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
			return 0, fmt.Errorf("s3blob: archive events upload: %w", err)
		}
		a.logger.InfoContext(ctx, "archived events",
			slog.String("path", path),
			slog.Int("count", len(day)),
		)
	}

	count := int64(len(records))
	if !a.cfg.Prune {
		return count, nil
	}

	cutoff := before
	if len(records) == a.cfg.BatchSize {
		cutoff = records[len(records)-1].CreatedAt
	}
	deleted, err := a.source.DeleteBefore(ctx, cutoff)
	if err != nil {
		return count, fmt.Errorf("s3blob: archive events prune: %w", err)
	}
	a.logger.InfoContext(ctx, "pruned archived events",
		slog.Int64("deleted", deleted),
		slog.Time("before", cutoff),
	)
	return count, nil
}

// List returns the archive objects, optionally narrowed to one day
// ("2006-01-02").
func (a *EventArchiver) List(ctx context.Context, day string) ([]domain.BlobInfo, error) {
	prefix := ArchivePrefix
	if day != "" {
		prefix += day + "/"
	}
	return a.reader.List(ctx, prefix)
}

// Load reads one archive object back into event records.
func (a *EventArchiver) Load(ctx context.Context, path string) ([]domain.EventRecord, error) {
	body, err := a.reader.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var out []domain.EventRecord
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec domain.EventRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("s3blob: decode %s line %d: %w", path, len(out)+1, err)
		}
		out = append(out, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("s3blob: read %s: %w", path, err)
	}
	return out, nil
}

// groupByDay splits records (already ordered oldest first) into runs that
// share a UTC creation day.
func groupByDay(records []domain.EventRecord) [][]domain.EventRecord {
	var (
		out  [][]domain.EventRecord
		cur  []domain.EventRecord
		last string
	)
	for _, r := range records {
		d := r.CreatedAt.UTC().Format("2006-01-02")
		if d != last && len(cur) > 0 {
			out = append(out, cur)
			cur = nil
		}
		last = d
		cur = append(cur, r)
	}
	if len(cur) > 0 {
		out = append(out, cur)
	}
	return out
}

// archivePath builds the object key for one day's run of events.
//
//	archive/events/2026-03-01/1041-1999.jsonl
func archivePath(day []domain.EventRecord) string {
	first, last := day[0], day[len(day)-1]
	return fmt.Sprintf("%s%s/%d-%d.jsonl",
		ArchivePrefix, first.CreatedAt.UTC().Format("2006-01-02"), first.ID, last.ID)
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

// Compile-time interface check.
var _ domain.Archiver = (*EventArchiver)(nil)
