package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/predictx/internal/domain"
)

// RateLimitConfig tunes RateLimit.
type RateLimitConfig struct {
	Limit  int
	Window time.Duration
	// TrustProxy keys clients by forwarding headers instead of the peer.
	TrustProxy bool
}

// RateLimit allows each client cfg.Limit requests per cfg.Window through the
// shared limiter, so every API process draws from the same budget. When the
// limiter itself fails the request is let through and the failure logged.
func RateLimit(limiter domain.RateLimiter, cfg RateLimitConfig, logger *slog.Logger) func(http.Handler) http.Handler {
	limit := strconv.Itoa(cfg.Limit)
	retryAfter := strconv.Itoa(int((cfg.Window + time.Second - 1) / time.Second))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIP(r, cfg.TrustProxy)
			allowed, err := limiter.Allow(r.Context(), "api:"+ip, cfg.Limit, cfg.Window)
			if err != nil {
				logger.WarnContext(r.Context(), "rate limiter unavailable",
					slog.String("client_ip", ip),
					slog.String("error", err.Error()),
				)
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", limit)
			if !allowed {
				w.Header().Set("Retry-After", retryAfter)
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
