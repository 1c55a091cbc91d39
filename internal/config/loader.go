package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies PREDICTX_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known PREDICTX_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Engine ──
	setStr(&cfg.Engine.Address, "PREDICTX_ENGINE_ADDRESS")
	setDuration(&cfg.Engine.RequestTimeout, "PREDICTX_ENGINE_REQUEST_TIMEOUT")
	setStr(&cfg.Engine.Store, "PREDICTX_ENGINE_STORE")
	setBool(&cfg.Engine.DistributedLock, "PREDICTX_ENGINE_DISTRIBUTED_LOCK")
	setDuration(&cfg.Engine.LockTTL, "PREDICTX_ENGINE_LOCK_TTL")

	// ── Token ──
	setStr(&cfg.Token.Address, "PREDICTX_TOKEN_ADDRESS")
	setStr(&cfg.Token.Admin, "PREDICTX_TOKEN_ADMIN")
	setStr(&cfg.Token.Symbol, "PREDICTX_TOKEN_SYMBOL")
	setInt32(&cfg.Token.Decimals, "PREDICTX_TOKEN_DECIMALS")

	// ── Oracle ──
	setBool(&cfg.Oracle.Enabled, "PREDICTX_ORACLE_ENABLED")
	setStr(&cfg.Oracle.Address, "PREDICTX_ORACLE_ADDRESS")
	setDuration(&cfg.Oracle.PollInterval, "PREDICTX_ORACLE_POLL_INTERVAL")
	setDuration(&cfg.Oracle.HTTPTimeout, "PREDICTX_ORACLE_HTTP_TIMEOUT")
	setInt64(&cfg.Oracle.MaxResponseBytes, "PREDICTX_ORACLE_MAX_RESPONSE_BYTES")
	setFloat64(&cfg.Oracle.RequestsPerSecond, "PREDICTX_ORACLE_REQUESTS_PER_SECOND")
	setInt(&cfg.Oracle.Burst, "PREDICTX_ORACLE_BURST")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "PREDICTX_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "PREDICTX_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "PREDICTX_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "PREDICTX_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "PREDICTX_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "PREDICTX_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "PREDICTX_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "PREDICTX_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "PREDICTX_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "PREDICTX_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "PREDICTX_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "PREDICTX_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "PREDICTX_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PREDICTX_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PREDICTX_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "PREDICTX_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "PREDICTX_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "PREDICTX_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "PREDICTX_REDIS_KEY_PREFIX")
	setInt64(&cfg.Redis.StreamMaxLen, "PREDICTX_REDIS_STREAM_MAX_LEN")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "PREDICTX_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "PREDICTX_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "PREDICTX_S3_REGION")
	setStr(&cfg.S3.Bucket, "PREDICTX_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "PREDICTX_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "PREDICTX_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "PREDICTX_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "PREDICTX_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "PREDICTX_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "PREDICTX_ARCHIVE_INTERVAL")
	setInt(&cfg.Archive.RetentionDays, "PREDICTX_ARCHIVE_RETENTION_DAYS")
	setBool(&cfg.Archive.Prune, "PREDICTX_ARCHIVE_PRUNE")

	// ── Notify ──
	setBool(&cfg.Notify.Enabled, "PREDICTX_NOTIFY_ENABLED")
	setStr(&cfg.Notify.TelegramToken, "PREDICTX_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "PREDICTX_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhook, "PREDICTX_NOTIFY_DISCORD_WEBHOOK")
	setStringSlice(&cfg.Notify.Events, "PREDICTX_NOTIFY_EVENTS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "PREDICTX_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "PREDICTX_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "PREDICTX_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "PREDICTX_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimitPerMinute, "PREDICTX_SERVER_RATE_LIMIT_PER_MINUTE")
	setBool(&cfg.Server.TrustProxy, "PREDICTX_SERVER_TRUST_PROXY")
	setBool(&cfg.Server.Metrics, "PREDICTX_SERVER_METRICS")

	// ── Top-level ──
	setStr(&cfg.Mode, "PREDICTX_MODE")
	setStr(&cfg.LogLevel, "PREDICTX_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
