package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/predictx/internal/domain"
)

// EventLister reads the persisted event log.
type EventLister interface {
	List(ctx context.Context, opts domain.ListOpts) ([]domain.EventRecord, error)
}

// ArchiveReader reads archived event files back from object storage.
type ArchiveReader interface {
	List(ctx context.Context, day string) ([]domain.BlobInfo, error)
	Load(ctx context.Context, path string) ([]domain.EventRecord, error)
}

// EventHandler serves the event log and its archive. Either source may be
// nil when the backing store is not configured.
type EventHandler struct {
	events   EventLister
	archives ArchiveReader
	logger   *slog.Logger
}

// NewEventHandler creates an EventHandler.
func NewEventHandler(events EventLister, archives ArchiveReader, logger *slog.Logger) *EventHandler {
	return &EventHandler{events: events, archives: archives, logger: logHandler(logger, "events")}
}

// ListEvents returns events newest first.
// GET /api/events?limit=50&offset=0&market_id=1&name=TradeExecuted
func (h *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		writeError(w, http.StatusServiceUnavailable, "event log not configured")
		return
	}
	opts, err := parseListOpts(r)
	if err != nil {
		writeServiceError(w, r, h.logger, "list events", err)
		return
	}
	records, err := h.events.List(r.Context(), opts)
	if err != nil {
		writeServiceError(w, r, h.logger, "list events", err)
		return
	}
	if records == nil {
		records = []domain.EventRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": records,
		"limit":  opts.Limit,
		"offset": opts.Offset,
	})
}

type archiveFile struct {
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// ListArchives lists archive files, optionally for one UTC day.
// GET /api/archives?day=2026-03-01
func (h *EventHandler) ListArchives(w http.ResponseWriter, r *http.Request) {
	if h.archives == nil {
		writeError(w, http.StatusServiceUnavailable, "archive not configured")
		return
	}
	day := r.URL.Query().Get("day")
	if day != "" {
		if _, err := time.Parse(time.DateOnly, day); err != nil {
			writeError(w, http.StatusBadRequest, "day must be YYYY-MM-DD")
			return
		}
	}
	infos, err := h.archives.List(r.Context(), day)
	if err != nil {
		writeServiceError(w, r, h.logger, "list archives", err)
		return
	}
	files := make([]archiveFile, 0, len(infos))
	for _, info := range infos {
		files = append(files, archiveFile{Path: info.Path, Size: info.Size, LastModified: info.LastModified})
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": files})
}

// LoadArchive returns the records of one archive file.
// GET /api/archives/file?path=archive/events/2026-03-01/1-9.jsonl
func (h *EventHandler) LoadArchive(w http.ResponseWriter, r *http.Request) {
	if h.archives == nil {
		writeError(w, http.StatusServiceUnavailable, "archive not configured")
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" || strings.Contains(path, "..") || !strings.HasSuffix(path, ".jsonl") {
		writeError(w, http.StatusBadRequest, "invalid archive path")
		return
	}
	records, err := h.archives.Load(r.Context(), path)
	if err != nil {
		writeServiceError(w, r, h.logger, "load archive", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"path": path, "events": records})
}
