// Package config defines the top-level configuration for the settlement
// engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by PREDICTX_* environment variables.
type Config struct {
	Engine   EngineConfig   `toml:"engine"`
	Token    TokenConfig    `toml:"token"`
	Oracle   OracleConfig   `toml:"oracle"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Archive  ArchiveConfig  `toml:"archive"`
	Notify   NotifyConfig   `toml:"notify"`
	Server   ServerConfig   `toml:"server"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// EngineConfig holds the settlement contract deployment.
type EngineConfig struct {
	// Address is the engine identity; empty derives the default.
	Address        string   `toml:"address"`
	RequestTimeout duration `toml:"request_timeout"`
	// Store selects the KV backend: "redis" or "memory".
	Store           string   `toml:"store"`
	DistributedLock bool     `toml:"distributed_lock"`
	LockTTL         duration `toml:"lock_ttl"`
}

// GenesisAllocation mints Amount (in whole tokens, decimal text) to Address
// when the ledger is empty.
type GenesisAllocation struct {
	Address string `toml:"address"`
	Amount  string `toml:"amount"`
}

// TokenConfig holds the native token deployment.
type TokenConfig struct {
	Address  string              `toml:"address"`
	Admin    string              `toml:"admin"`
	Symbol   string              `toml:"symbol"`
	Decimals int32               `toml:"decimals"`
	Genesis  []GenesisAllocation `toml:"genesis"`
}

// OracleConfig holds the oracle contract identity and the fetch worker.
type OracleConfig struct {
	Enabled           bool     `toml:"enabled"`
	Address           string   `toml:"address"`
	PollInterval      duration `toml:"poll_interval"`
	HTTPTimeout       duration `toml:"http_timeout"`
	MaxResponseBytes  int64    `toml:"max_response_bytes"`
	RequestsPerSecond float64  `toml:"requests_per_second"`
	Burst             int      `toml:"burst"`
}

// PostgresConfig holds the event log database connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled      bool   `toml:"enabled"`
	Addr         string `toml:"addr"`
	Password     string `toml:"password"`
	DB           int    `toml:"db"`
	PoolSize     int    `toml:"pool_size"`
	MaxRetries   int    `toml:"max_retries"`
	TLSEnabled   bool   `toml:"tls_enabled"`
	KeyPrefix    string `toml:"key_prefix"`
	StreamMaxLen int64  `toml:"stream_max_len"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig controls moving old events from Postgres to S3.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	Interval      duration `toml:"interval"`
	RetentionDays int      `toml:"retention_days"`
	Prune         bool     `toml:"prune"`
}

// NotifyConfig controls operator alerts for market lifecycle events.
type NotifyConfig struct {
	Enabled        bool   `toml:"enabled"`
	TelegramToken  string `toml:"telegram_token"`
	TelegramChatID string `toml:"telegram_chat_id"`
	DiscordWebhook string `toml:"discord_webhook"`
	// Events filters alerts by event name; empty sends all alertable events.
	Events    []string `toml:"events"`
	QueueSize int      `toml:"queue_size"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled            bool     `toml:"enabled"`
	Port               int      `toml:"port"`
	CORSOrigins        []string `toml:"cors_origins"`
	APIKey             string   `toml:"api_key"`
	RateLimitPerMinute int      `toml:"rate_limit_per_minute"`
	TrustProxy         bool     `toml:"trust_proxy"`
	Metrics            bool     `toml:"metrics"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Engine: EngineConfig{
			RequestTimeout:  duration{10 * time.Minute},
			Store:           "redis",
			DistributedLock: true,
			LockTTL:         duration{10 * time.Second},
		},
		Token: TokenConfig{
			Address:  "0xd2a4cff31913016155e38e474a2c06d08be276cf",
			Symbol:   "GAS",
			Decimals: 8,
		},
		Oracle: OracleConfig{
			Enabled:           true,
			Address:           "0xfe924b7cfe89ddd271abaf7210a80a7e11178758",
			PollInterval:      duration{2 * time.Second},
			HTTPTimeout:       duration{10 * time.Second},
			MaxResponseBytes:  0xffff,
			RequestsPerSecond: 5,
			Burst:             2,
		},
		Postgres: PostgresConfig{
			Enabled:       true,
			Host:          "localhost",
			Port:          5432,
			Database:      "predictx",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:      true,
			Addr:         "localhost:6379",
			DB:           0,
			PoolSize:     20,
			MaxRetries:   3,
			KeyPrefix:    "predictx:",
			StreamMaxLen: 10_000,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "predictx-events",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			Interval:      duration{24 * time.Hour},
			RetentionDays: 90,
		},
		Notify: NotifyConfig{
			Events:    []string{"MarketCreated", "MarketResolved", "PayoutDistributed"},
			QueueSize: 256,
		},
		Server: ServerConfig{
			Enabled:            true,
			Port:               8000,
			CORSOrigins:        []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimitPerMinute: 600,
			Metrics:            true,
		},
		Mode:     "serve",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"serve":   true,
	"oracle":  true,
	"archive": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, oracle, archive)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Engine
	if c.Engine.Address != "" && !common.IsHexAddress(c.Engine.Address) {
		errs = append(errs, fmt.Sprintf("engine: address %q is not a hex address", c.Engine.Address))
	}
	switch c.Engine.Store {
	case "memory":
		if c.Mode != "serve" {
			errs = append(errs, "engine: store \"memory\" is only usable in serve mode")
		}
	case "redis":
		if !c.Redis.Enabled {
			errs = append(errs, "engine: store \"redis\" requires redis.enabled")
		}
	default:
		errs = append(errs, fmt.Sprintf("engine: unknown store %q (valid: redis, memory)", c.Engine.Store))
	}
	if c.Engine.RequestTimeout.Duration <= 0 {
		errs = append(errs, "engine: request_timeout must be > 0")
	}
	if c.Engine.DistributedLock && !c.Redis.Enabled {
		errs = append(errs, "engine: distributed_lock requires redis.enabled")
	}

	// Token
	if !common.IsHexAddress(c.Token.Address) {
		errs = append(errs, fmt.Sprintf("token: address %q is not a hex address", c.Token.Address))
	}
	if c.Token.Decimals < 0 || c.Token.Decimals > 18 {
		errs = append(errs, fmt.Sprintf("token: decimals must be 0-18, got %d", c.Token.Decimals))
	}
	if len(c.Token.Genesis) > 0 && !common.IsHexAddress(c.Token.Admin) {
		errs = append(errs, "token: admin must be set when genesis allocations are configured")
	}
	for i, g := range c.Token.Genesis {
		if !common.IsHexAddress(g.Address) {
			errs = append(errs, fmt.Sprintf("token: genesis[%d]: address %q is not a hex address", i, g.Address))
		}
		if d, err := decimal.NewFromString(g.Amount); err != nil || !d.IsPositive() {
			errs = append(errs, fmt.Sprintf("token: genesis[%d]: amount %q must be a positive decimal", i, g.Amount))
		}
	}

	// Oracle
	if !common.IsHexAddress(c.Oracle.Address) {
		errs = append(errs, fmt.Sprintf("oracle: address %q is not a hex address", c.Oracle.Address))
	}
	if c.Oracle.Enabled || c.Mode == "oracle" {
		if c.Oracle.PollInterval.Duration <= 0 {
			errs = append(errs, "oracle: poll_interval must be > 0")
		}
		if c.Oracle.RequestsPerSecond <= 0 {
			errs = append(errs, "oracle: requests_per_second must be > 0")
		}
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3 / archive
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}
	if c.Archive.Enabled || c.Mode == "archive" {
		if !c.S3.Enabled || !c.Postgres.Enabled {
			errs = append(errs, "archive: requires s3.enabled and postgres.enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
	}

	// Notify
	if c.Notify.Enabled {
		hasTelegram := c.Notify.TelegramToken != "" && c.Notify.TelegramChatID != ""
		if !hasTelegram && c.Notify.DiscordWebhook == "" {
			errs = append(errs, "notify: enabled without telegram_token/telegram_chat_id or discord_webhook")
		}
		if c.Notify.QueueSize < 1 {
			errs = append(errs, "notify: queue_size must be >= 1")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimitPerMinute > 0 && !c.Redis.Enabled {
			errs = append(errs, "server: rate_limit_per_minute requires redis.enabled (set 0 to disable)")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
