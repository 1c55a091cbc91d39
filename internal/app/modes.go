package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/predictx/internal/oracle"
	"github.com/alanyoungcy/predictx/internal/server"
	"github.com/alanyoungcy/predictx/internal/server/handler"
	"github.com/alanyoungcy/predictx/internal/server/ws"
)

// ServeMode starts the HTTP API, the websocket hub, the oracle worker and the
// periodic archive.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startNotifier(ctx, g, deps)

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	}
	if a.cfg.Oracle.Enabled {
		a.startOracleWorker(ctx, g, deps)
	}
	if a.cfg.Archive.Enabled && deps.Archiver != nil {
		a.startArchiveLoop(ctx, g, deps)
	}

	return g.Wait()
}

// OracleMode runs the oracle worker only, against the shared Redis store.
func (a *App) OracleMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting oracle mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startNotifier(ctx, g, deps)
	a.startOracleWorker(ctx, g, deps)
	return g.Wait()
}

// ArchiveMode moves events older than the retention window to object storage
// once and returns.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")

	if deps.Archiver == nil {
		return fmt.Errorf("archive mode: archiver not configured (needs postgres and s3)")
	}
	_, err := a.archiveOnce(ctx, deps)
	return err
}

// startHTTPServer registers the API handlers and runs the server and the
// websocket hub until ctx is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	// With Redis the hub relays the event channel so events committed by other
	// processes reach it too; otherwise it listens to the local executor.
	hubCfg := ws.Config{Mode: a.cfg.Mode, StartedAt: time.Now().UTC(), Origins: a.cfg.Server.CORSOrigins}
	if deps.Publisher != nil {
		hubCfg.Channel = deps.Publisher.Channel()
		hubCfg.Stream = deps.Publisher.Stream()
	}
	hub := ws.NewHub(deps.SignalBus, a.logger, hubCfg)
	if deps.Publisher == nil {
		deps.Executor.AddSink(hub)
	}
	g.Go(func() error {
		return hub.Run(ctx)
	})

	checks := make(map[string]handler.Pinger)
	if deps.Redis != nil {
		checks["redis"] = deps.Redis
	}
	if deps.Postgres != nil {
		checks["postgres"] = deps.Postgres
	}
	if deps.S3 != nil {
		checks["s3"] = deps.S3
	}

	var events handler.EventLister
	if deps.EventStore != nil {
		events = deps.EventStore
	}
	var archives handler.ArchiveReader
	if deps.Archiver != nil {
		archives = deps.Archiver
	}

	handlers := server.Handlers{
		Health:  handler.NewHealthHandler(checks, a.logger),
		Markets: handler.NewMarketHandler(deps.Settlement, a.logger),
		Tokens:  handler.NewTokenHandler(deps.Settlement, a.cfg.Token.Symbol, a.cfg.Token.Decimals, a.logger),
		Invoke:  handler.NewInvokeHandler(deps.Settlement, a.logger),
		Events:  handler.NewEventHandler(events, archives, a.logger),
	}
	if deps.Metrics != nil {
		handlers.Metrics = deps.Metrics.Handler()
	}

	srv := server.NewServer(server.Config{
		Port:               a.cfg.Server.Port,
		CORSOrigins:        a.cfg.Server.CORSOrigins,
		APIKey:             a.cfg.Server.APIKey,
		RateLimitPerMinute: a.cfg.Server.RateLimitPerMinute,
		TrustProxy:         a.cfg.Server.TrustProxy,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", a.cfg.Server.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", a.cfg.Server.Port)))
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// startOracleWorker polls pending oracle requests, fetches them and delivers
// the responses.
func (a *App) startOracleWorker(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	fetcher := oracle.NewFetcher(oracle.FetcherConfig{
		Timeout:           a.cfg.Oracle.HTTPTimeout.Duration,
		MaxResponseBytes:  a.cfg.Oracle.MaxResponseBytes,
		RequestsPerSecond: a.cfg.Oracle.RequestsPerSecond,
		Burst:             a.cfg.Oracle.Burst,
	}, a.logger)
	worker := oracle.NewWorker(deps.Oracle, fetcher, a.cfg.Oracle.PollInterval.Duration, a.logger)
	if deps.Metrics != nil {
		worker.SetObserver(deps.Metrics)
	}

	g.Go(func() error {
		a.logger.InfoContext(ctx, "oracle worker started",
			slog.Duration("poll_interval", a.cfg.Oracle.PollInterval.Duration),
		)
		return worker.Run(ctx)
	})
}

// startNotifier drains queued operator alerts when notifications are enabled.
func (a *App) startNotifier(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Notifier == nil {
		return
	}
	g.Go(func() error {
		return deps.Notifier.Run(ctx)
	})
}

// startArchiveLoop archives old events once at startup and then on every
// interval tick.
func (a *App) startArchiveLoop(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	interval := a.cfg.Archive.Interval.Duration
	if interval <= 0 {
		interval = 24 * time.Hour
	}

	g.Go(func() error {
		runOnce := func() {
			if _, err := a.archiveOnce(ctx, deps); err != nil && ctx.Err() == nil {
				a.logger.ErrorContext(ctx, "archive: run failed", slog.String("error", err.Error()))
			}
		}

		runOnce()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				runOnce()
			}
		}
	})
}

func (a *App) archiveOnce(ctx context.Context, deps *Dependencies) (int64, error) {
	before := time.Now().UTC().AddDate(0, 0, -a.cfg.Archive.RetentionDays)
	n, err := deps.Archiver.ArchiveEvents(ctx, before)
	if err != nil {
		return n, fmt.Errorf("archive: %w", err)
	}
	a.logger.InfoContext(ctx, "archive: events archived",
		slog.Int64("count", n),
		slog.Time("before", before),
	)
	return n, nil
}
