package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/quillhq/quill/internal/auth"
	"github.com/quillhq/quill/internal/cache"
	"github.com/quillhq/quill/internal/model"
	"github.com/quillhq/quill/internal/repository"
)

const (
	// minAuthDuration is the minimum time to spend on auth to prevent timing attacks.
	minAuthDuration = 200 * time.Millisecond
)

// AuthConfig holds configuration for the auth middleware.
type AuthConfig struct {
	Logger     *slog.Logger
	Repository *repository.Repository
	Cache      *cache.Cache
}

// Auth returns a middleware that authenticates requests. Two credential
// forms are accepted on the Authorization header: API keys ("qk_" prefix,
// also via X-API-Key) and magic-link session tokens. Either way an auth
// context is injected into the request.
func Auth(cfg AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			startTime := time.Now()

			// Ensure consistent timing regardless of outcome
			defer func() {
				elapsed := time.Since(startTime)
				if elapsed < minAuthDuration {
					time.Sleep(minAuthDuration - elapsed)
				}
			}()

			credential := extractCredential(r)
			if credential == "" {
				logAuthFailure(cfg.Logger, r, "missing_credential")
				writeAuthError(w)
				return
			}

			var authCtx *model.AuthContext
			if auth.ValidateKeyFormat(credential) {
				authCtx = authenticateAPIKey(cfg, r, credential)
			} else {
				authCtx = authenticateSession(cfg, r, credential)
			}

			if authCtx == nil {
				logAuthFailure(cfg.Logger, r, "invalid_credential")
				writeAuthError(w)
				return
			}

			cfg.Logger.Info("authentication successful",
				slog.String("key_id", authCtx.KeyID),
				slog.String("user_id", authCtx.UserID),
				slog.Bool("session", authCtx.Session),
				slog.String("endpoint", r.Method+" "+r.URL.Path),
				slog.String("request_id", GetRequestID(r.Context())),
			)

			ctx := auth.ContextWithAuth(r.Context(), authCtx)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// authenticateAPIKey verifies an API key credential.
// Returns nil on any failure.
func authenticateAPIKey(cfg AuthConfig, r *http.Request, key string) *model.AuthContext {
	parsed, err := auth.ParseAPIKey(key)
	if err != nil {
		return nil
	}

	// Check cache first. The cache key is a digest of the plaintext, so
	// only a caller holding the real key can hit its entry.
	cacheKey := auth.QuickHash(key)
	if cached, _ := cfg.Cache.GetAuthContext(r.Context(), cacheKey); cached != nil {
		return cached
	}

	// Cache miss - lookup candidates by prefix
	keys, err := cfg.Repository.GetAPIKeysByPrefix(r.Context(), parsed.Prefix)
	if err != nil {
		cfg.Logger.Error("database error during auth",
			slog.String("error", err.Error()),
			slog.String("request_id", GetRequestID(r.Context())),
		)
		return nil
	}

	// Verify against each candidate (handles prefix collisions)
	var matched *model.APIKey
	for _, k := range keys {
		ok, err := auth.VerifySecret(key, k.KeyHash)
		if err != nil {
			continue
		}
		if ok {
			matched = k
			break
		}
	}

	if matched == nil {
		return nil
	}

	authCtx := &model.AuthContext{
		KeyID:         matched.ID,
		KeyPrefix:     matched.KeyPrefix,
		UserID:        matched.UserID,
		Scopes:        matched.Scopes,
		RateLimitTier: matched.RateLimitTier,
	}

	_ = cfg.Cache.SetAuthContext(r.Context(), cacheKey, authCtx)

	// Update last_used_at asynchronously
	go func() {
		_ = cfg.Repository.UpdateAPIKeyLastUsed(r.Context(), matched.ID)
	}()

	return authCtx
}

// authenticateSession verifies a magic-link session token.
// Returns nil on any failure.
func authenticateSession(cfg AuthConfig, r *http.Request, token string) *model.AuthContext {
	data, err := cfg.Cache.GetSession(r.Context(), auth.TokenDigest(token))
	if err != nil {
		if !errors.Is(err, cache.ErrTokenNotFound) {
			cfg.Logger.Error("session lookup failed",
				slog.String("error", err.Error()),
				slog.String("request_id", GetRequestID(r.Context())),
			)
		}
		return nil
	}

	return &model.AuthContext{
		UserID:        data.UserID,
		Scopes:        data.Scopes,
		RateLimitTier: model.TierUnlimited,
		Session:       true,
	}
}

// extractCredential extracts the credential from the request.
// Supports "Authorization: Bearer <credential>" and "X-API-Key: <key>".
func extractCredential(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		if strings.HasPrefix(authHeader, "Bearer ") {
			return strings.TrimPrefix(authHeader, "Bearer ")
		}
	}

	return r.Header.Get("X-API-Key")
}

func logAuthFailure(logger *slog.Logger, r *http.Request, reason string) {
	logger.Warn("authentication failed",
		slog.String("reason", reason),
		slog.String("ip", r.RemoteAddr),
		slog.String("endpoint", r.Method+" "+r.URL.Path),
		slog.String("request_id", GetRequestID(r.Context())),
	)
}

// writeAuthError writes a 401 Unauthorized response.
// Uses the same message for all auth failures to prevent enumeration.
func writeAuthError(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":{"code":"UNAUTHORIZED","message":"Invalid or missing credentials"}}`))
}
