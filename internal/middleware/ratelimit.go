package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/devinsight/devinsight/internal/auth"
	"github.com/devinsight/devinsight/internal/cache"
)

// RateLimiter checks token buckets.
type RateLimiter interface {
	CheckUserRateLimit(ctx context.Context, userID string, perMinute int) (*cache.RateLimitResult, error)
	CheckIPRateLimit(ctx context.Context, ip string, perMinute int) (*cache.RateLimitResult, error)
}

// RateLimitConfig holds configuration for rate limiting middleware.
type RateLimitConfig struct {
	Logger  *slog.Logger
	Limiter RateLimiter
	Enabled bool
	// PerMinute is the request budget; zero disables the limit.
	PerMinute int
}

// RateLimitUser limits API requests per authenticated user. Must run after
// Auth.
func RateLimitUser(cfg RateLimitConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx := auth.AuthFromContext(r.Context())
			if !cfg.Enabled || cfg.PerMinute <= 0 || authCtx == nil {
				next.ServeHTTP(w, r)
				return
			}

			result, err := cfg.Limiter.CheckUserRateLimit(r.Context(), authCtx.UserID, cfg.PerMinute)
			if err != nil {
				cfg.Logger.Error("rate limit check failed",
					slog.String("error", err.Error()),
					slog.String("user_id", authCtx.UserID),
				)
				// Fail open.
				next.ServeHTTP(w, r)
				return
			}
			if enforce(cfg, w, r, result, "user") {
				next.ServeHTTP(w, r)
			}
		})
	}
}

// RateLimitIP limits requests per client IP. Used on the public auth
// endpoints to slow down credential stuffing.
func RateLimitIP(cfg RateLimitConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.Enabled || cfg.PerMinute <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			ip := clientIP(r)
			result, err := cfg.Limiter.CheckIPRateLimit(r.Context(), ip, cfg.PerMinute)
			if err != nil {
				cfg.Logger.Error("IP rate limit check failed",
					slog.String("error", err.Error()),
				)
				next.ServeHTTP(w, r)
				return
			}
			if enforce(cfg, w, r, result, "ip") {
				next.ServeHTTP(w, r)
			}
		})
	}
}

// enforce sets the rate limit headers and writes a 429 when the request is
// over budget. It reports whether the request may proceed.
func enforce(cfg RateLimitConfig, w http.ResponseWriter, r *http.Request, result *cache.RateLimitResult, kind string) bool {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.PerMinute))
	w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(result.Remaining, 10))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

	if result.Allowed {
		return true
	}

	retryAfter := int(result.RetryAfter / time.Second)
	if retryAfter < 1 {
		retryAfter = 1
	}
	cfg.Logger.Warn("rate limit exceeded",
		slog.String("type", kind),
		slog.String("endpoint", r.Method+" "+r.URL.Path),
		slog.Int("retry_after_seconds", retryAfter),
		slog.String("request_id", GetRequestID(r.Context())),
	)
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	writeError(w, http.StatusTooManyRequests, "RATE_LIMITED",
		fmt.Sprintf("Rate limit exceeded. Retry after %d seconds.", retryAfter))
	return false
}

// clientIP returns the first X-Forwarded-For hop, X-Real-IP, or the host
// part of RemoteAddr.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
