package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	s3blob "github.com/alanyoungcy/predictx/internal/blob/s3"
	"github.com/alanyoungcy/predictx/internal/cache/redis"
	"github.com/alanyoungcy/predictx/internal/config"
	"github.com/alanyoungcy/predictx/internal/domain"
	"github.com/alanyoungcy/predictx/internal/engine"
	"github.com/alanyoungcy/predictx/internal/metrics"
	"github.com/alanyoungcy/predictx/internal/notify"
	"github.com/alanyoungcy/predictx/internal/oracle"
	"github.com/alanyoungcy/predictx/internal/runtime"
	"github.com/alanyoungcy/predictx/internal/service"
	"github.com/alanyoungcy/predictx/internal/store/memory"
	"github.com/alanyoungcy/predictx/internal/store/postgres"
	"github.com/alanyoungcy/predictx/internal/token"
)

// Dependencies bundles every dependency that the application modes need to
// operate. It is constructed by Wire and torn down by the returned cleanup
// function. Optional backends are nil when disabled.
type Dependencies struct {
	// Backends
	Redis    *redis.Client
	Postgres *postgres.Client
	S3       *s3blob.Client

	// Caches and coordination
	Store       domain.KVStore
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus
	Publisher   *redis.EventPublisher

	// Event log and archive
	EventStore *postgres.EventStore
	Archiver   *s3blob.EventArchiver

	Metrics  *metrics.EngineMetrics
	Notifier *notify.Notifier

	// Contracts (nil in archive mode)
	Executor   *runtime.Executor
	Token      *token.Ledger
	Oracle     *oracle.Service
	Engine     *engine.Engine
	Settlement *service.SettlementService
}

// needsEngine returns true for modes that execute invocations.
func needsEngine(mode string) bool {
	return mode != "archive"
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{}

	// --- PostgreSQL event log ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}
		deps.Postgres = pgClient
		deps.EventStore = postgres.NewEventStore(pgClient.Pool())
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Redis = redisClient
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient, logger)
		deps.SignalBus = redis.NewSignalBus(redisClient, cfg.Redis.StreamMaxLen)
		deps.Publisher = redis.NewEventPublisher(redisClient, deps.SignalBus)
	}

	// --- S3 archive (needs the Postgres event log as its source) ---
	if cfg.S3.Enabled && deps.EventStore != nil {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.S3 = s3Client
		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			s3blob.NewReader(s3Client),
			deps.EventStore,
			s3blob.ArchiverConfig{Prune: cfg.Archive.Prune},
			logger,
		)
	}

	if cfg.Server.Metrics {
		deps.Metrics = metrics.New()
	}

	if !needsEngine(cfg.Mode) {
		return deps, cleanup, nil
	}

	// --- Contracts ---
	switch cfg.Engine.Store {
	case "memory":
		deps.Store = memory.NewKVStore()
	default:
		if deps.Redis == nil {
			return fail(fmt.Errorf("wire: engine store %q requires redis", cfg.Engine.Store))
		}
		deps.Store = redis.NewKVStore(deps.Redis)
	}

	var opts []runtime.Option
	var sinks []domain.EventSink
	if deps.EventStore != nil {
		sinks = append(sinks, deps.EventStore)
	}
	if deps.Publisher != nil {
		sinks = append(sinks, deps.Publisher)
	}
	if deps.Metrics != nil {
		sinks = append(sinks, deps.Metrics)
		opts = append(opts, runtime.WithObserver(deps.Metrics))
	}
	if cfg.Notify.Enabled {
		deps.Notifier = newNotifier(cfg, logger)
		sinks = append(sinks, deps.Notifier)
	}
	opts = append(opts, runtime.WithSinks(sinks...))
	if cfg.Engine.DistributedLock && deps.LockManager != nil {
		opts = append(opts, runtime.WithLocker(deps.LockManager, cfg.Engine.LockTTL.Duration))
	}
	deps.Executor = runtime.NewExecutor(deps.Store, logger, opts...)

	deps.Token = token.New(common.HexToAddress(cfg.Token.Address), common.HexToAddress(cfg.Token.Admin))
	deps.Oracle = oracle.NewService(common.HexToAddress(cfg.Oracle.Address), deps.Executor, logger)

	engCfg := engine.Config{RequestTimeout: cfg.Engine.RequestTimeout.Duration}
	if cfg.Engine.Address != "" {
		engCfg.Address = common.HexToAddress(cfg.Engine.Address)
	}
	deps.Engine = engine.New(engCfg, deps.Token, deps.Oracle, logger)
	deps.Token.RegisterReceiver(deps.Engine.Address(), deps.Engine)
	deps.Oracle.RegisterCallback(deps.Engine.Address(), engine.CallbackMethod, deps.Engine.OnOracleCallback)

	deps.Settlement = service.NewSettlementService(deps.Executor, deps.Engine, deps.Token, logger)

	logger.InfoContext(ctx, "wire: contracts deployed",
		slog.String("engine", deps.Engine.Address().Hex()),
		slog.String("token", deps.Token.Address().Hex()),
		slog.String("oracle", deps.Oracle.Address().Hex()),
		slog.String("store", cfg.Engine.Store),
	)

	return deps, cleanup, nil
}

// newNotifier builds the alert sink from the configured senders.
func newNotifier(cfg *config.Config, logger *slog.Logger) *notify.Notifier {
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhook != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhook))
	}
	return notify.NewNotifier(senders, notify.Config{
		Events:    cfg.Notify.Events,
		QueueSize: cfg.Notify.QueueSize,
		Symbol:    cfg.Token.Symbol,
		Decimals:  cfg.Token.Decimals,
	}, logger)
}
