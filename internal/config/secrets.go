package config

import (
	"net/url"
	"slices"
)

// Redacted replaces secret values in RedactedConfig output.
const Redacted = "***"

// RedactedConfig returns a copy of cfg that is safe to log. Credentials are
// masked, a Postgres DSN keeps everything but its password, and slices are
// copied so the result cannot alias cfg.
func RedactedConfig(cfg *Config) Config {
	out := *cfg
	for _, s := range []*string{
		&out.Postgres.Password,
		&out.Redis.Password,
		&out.S3.AccessKey,
		&out.S3.SecretKey,
		&out.Notify.TelegramToken,
		&out.Notify.DiscordWebhook,
		&out.Server.APIKey,
	} {
		if *s != "" {
			*s = Redacted
		}
	}
	out.Postgres.DSN = redactDSN(cfg.Postgres.DSN)

	out.Server.CORSOrigins = slices.Clone(cfg.Server.CORSOrigins)
	out.Notify.Events = slices.Clone(cfg.Notify.Events)
	out.Token.Genesis = slices.Clone(cfg.Token.Genesis)
	return out
}

func redactDSN(dsn string) string {
	if dsn == "" {
		return ""
	}
	u, err := url.Parse(dsn)
	if err != nil || u.Scheme == "" {
		return Redacted
	}
	return u.Redacted()
}
