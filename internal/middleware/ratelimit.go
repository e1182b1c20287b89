package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/quillhq/quill/internal/auth"
	"github.com/quillhq/quill/internal/cache"
	"github.com/quillhq/quill/internal/metrics"
	"github.com/quillhq/quill/internal/model"
	"github.com/quillhq/quill/internal/ratelimit"
)

// PublicLimiter decides whether a public (unauthenticated) request from
// a client may proceed. Implementations: the in-process sliding window
// log, or the Redis token bucket for multi-instance deployments.
type PublicLimiter interface {
	AllowPublic(r *http.Request, clientIP, endpoint string) ratelimit.Result
}

// RateLimitConfig holds configuration for rate limiting middleware.
type RateLimitConfig struct {
	Logger  *slog.Logger
	Cache   *cache.Cache
	Metrics metrics.Recorder

	// API rate limiting (per API key, tier-based)
	APIEnabled bool

	// Public rate limiting (per IP)
	PublicEnabled bool
	PublicLimiter PublicLimiter
	PublicLimit   int
}

// RateLimitAPI returns middleware that rate limits API requests per
// API key, using the shared Redis token bucket so limits hold across
// instances. Must be applied after Auth middleware.
func RateLimitAPI(cfg RateLimitConfig) func(http.Handler) http.Handler {
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.NewNoop()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.APIEnabled {
				next.ServeHTTP(w, r)
				return
			}

			authCtx := auth.AuthFromContext(r.Context())
			if authCtx == nil {
				// No auth context - should not happen if Auth middleware ran first
				next.ServeHTTP(w, r)
				return
			}

			tierConfig := model.TierConfigs[authCtx.RateLimitTier]
			if tierConfig.RequestsPerMinute == 0 {
				// Unlimited tier
				next.ServeHTTP(w, r)
				return
			}

			result, err := cfg.Cache.CheckAPIRateLimit(
				r.Context(),
				authCtx.KeyID,
				tierConfig.RequestsPerMinute,
				tierConfig.Burst,
			)
			if err != nil {
				cfg.Logger.Error("rate limit check failed",
					slog.String("error", err.Error()),
					slog.String("key_id", authCtx.KeyID),
				)
				// Fail open - allow request
				next.ServeHTTP(w, r)
				return
			}

			setRateLimitHeaders(w, tierConfig.RequestsPerMinute, result.Remaining, result.ResetAt)

			if !result.Allowed {
				cfg.Logger.Warn("rate limit exceeded",
					slog.String("key_id", authCtx.KeyID),
					slog.String("type", "api"),
					slog.String("endpoint", r.Method+" "+r.URL.Path),
					slog.Int64("retry_after_seconds", int64(result.RetryAfter.Seconds())),
					slog.String("request_id", GetRequestID(r.Context())),
				)
				recorder.IncRateLimitDenied("api")

				writeRateLimitError(w, result.RetryAfter)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RateLimitPublic returns middleware that rate limits unauthenticated
// endpoints per client IP. endpoint names the limited surface, so each
// public endpoint gets an independent budget per client.
func RateLimitPublic(cfg RateLimitConfig, endpoint string) func(http.Handler) http.Handler {
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.NewNoop()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.PublicEnabled || cfg.PublicLimiter == nil {
				next.ServeHTTP(w, r)
				return
			}

			result := cfg.PublicLimiter.AllowPublic(r, getClientIP(r), endpoint)

			setRateLimitHeaders(w, cfg.PublicLimit, int64(result.Remaining), result.ResetAt)

			if !result.Allowed {
				cfg.Logger.Warn("rate limit exceeded",
					slog.String("type", "public"),
					slog.String("endpoint", r.Method+" "+r.URL.Path),
					slog.Int64("retry_after_seconds", int64(result.RetryAfter.Seconds())),
					slog.String("request_id", GetRequestID(r.Context())),
				)
				recorder.IncRateLimitDenied("public")

				writeRateLimitError(w, result.RetryAfter)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// MemoryPublicLimiter adapts the in-process sliding window limiter.
type MemoryPublicLimiter struct {
	Limiter *ratelimit.Limiter
	Rule    ratelimit.Rule
}

// AllowPublic checks the request against the per-IP sliding window.
func (m *MemoryPublicLimiter) AllowPublic(r *http.Request, clientIP, endpoint string) ratelimit.Result {
	return m.Limiter.Allow(ratelimit.Key(clientIP, endpoint), m.Rule)
}

// RedisPublicLimiter adapts the shared Redis token bucket for
// multi-instance deployments. Fails open on Redis errors.
type RedisPublicLimiter struct {
	Cache  *cache.Cache
	Logger *slog.Logger
	// RatePerMinute and Burst configure the bucket.
	RatePerMinute int
	Burst         int
}

// AllowPublic checks the request against the shared token bucket.
func (l *RedisPublicLimiter) AllowPublic(r *http.Request, clientIP, endpoint string) ratelimit.Result {
	res, err := l.Cache.CheckIPRateLimit(r.Context(), clientIP+":"+endpoint, l.RatePerMinute, l.Burst)
	if err != nil {
		l.Logger.Error("public rate limit check failed", slog.String("error", err.Error()))
		return ratelimit.Result{Allowed: true}
	}

	return ratelimit.Result{
		Allowed:    res.Allowed,
		Remaining:  int(res.Remaining),
		RetryAfter: res.RetryAfter,
		ResetAt:    res.ResetAt,
	}
}

// setRateLimitHeaders sets standard rate limit response headers.
func setRateLimitHeaders(w http.ResponseWriter, limit int, remaining int64, resetAt time.Time) {
	if limit > 0 {
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
	}
}

// writeRateLimitError writes a 429 Too Many Requests response.
func writeRateLimitError(w http.ResponseWriter, retryAfter time.Duration) {
	seconds := int(retryAfter.Seconds())
	if seconds < 1 {
		seconds = 1
	}

	w.Header().Set("Retry-After", strconv.Itoa(seconds))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	msg := fmt.Sprintf(`{"error":{"code":"RATE_LIMITED","message":"Rate limit exceeded. Retry after %d seconds."}}`, seconds)
	_, _ = w.Write([]byte(msg))
}

// getClientIP extracts the client IP from the request.
// Checks X-Forwarded-For and X-Real-IP headers for proxied requests.
func getClientIP(r *http.Request) string {
	// X-Forwarded-For may contain multiple IPs; take the first.
	xff := r.Header.Get("X-Forwarded-For")
	if xff != "" {
		for i := range xff {
			if xff[i] == ',' {
				return xff[:i]
			}
		}
		return xff
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	return r.RemoteAddr
}
