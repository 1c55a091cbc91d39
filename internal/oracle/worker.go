package oracle

import (
	"context"
	"log/slog"
	"time"
)

const workerBatchSize = 32

// FetchObserver is told the outcome and latency of every fetch.
type FetchObserver interface {
	ObserveFetch(code string, d time.Duration)
}

// Worker answers pending requests: fetch, filter, fulfill.
type Worker struct {
	svc      *Service
	fetcher  *Fetcher
	interval time.Duration
	observer FetchObserver
	logger   *slog.Logger
}

// NewWorker creates a Worker polling every interval.
func NewWorker(svc *Service, fetcher *Fetcher, interval time.Duration, logger *slog.Logger) *Worker {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Worker{
		svc:      svc,
		fetcher:  fetcher,
		interval: interval,
		logger:   logger.With(slog.String("component", "oracle_worker")),
	}
}

// SetObserver registers a fetch observer. Call before Run.
func (w *Worker) SetObserver(o FetchObserver) { w.observer = o }

// Run polls until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.InfoContext(ctx, "oracle worker started", slog.Duration("interval", w.interval))
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("oracle worker stopped")
			return nil
		case <-ticker.C:
			if _, err := w.ProcessPending(ctx); err != nil && ctx.Err() == nil {
				w.logger.ErrorContext(ctx, "oracle poll failed", slog.String("error", err.Error()))
			}
		}
	}
}

// ProcessPending answers one batch of pending requests and returns how many
// were retired.
func (w *Worker) ProcessPending(ctx context.Context) (int, error) {
	reqs, err := w.svc.Pending(ctx, workerBatchSize)
	if err != nil {
		return 0, err
	}

	done := 0
	for _, req := range reqs {
		if ctx.Err() != nil {
			return done, ctx.Err()
		}
		start := time.Now()
		code, result := w.fetcher.Fetch(ctx, req.URL, req.Filter)
		if w.observer != nil {
			w.observer.ObserveFetch(code.String(), time.Since(start))
		}
		if _, err := w.svc.Fulfill(ctx, req.ID, code, result); err != nil {
			w.logger.WarnContext(ctx, "oracle fulfill",
				slog.Uint64("request_id", req.ID),
				slog.String("url", req.URL),
				slog.String("code", code.String()),
				slog.String("error", err.Error()),
			)
		}
		done++
	}
	return done, nil
}
