package middleware

import (
	"net/http"
	"strconv"
	"strings"
)

// CORSConfig holds CORS configuration options.
type CORSConfig struct {
	// AllowedOrigins is a list of origins allowed to make cross-origin
	// requests. Entries may use a wildcard subdomain form like
	// "*.example.com". Never use "*" with credentials.
	AllowedOrigins []string

	// AllowedMethods specifies the allowed HTTP methods.
	AllowedMethods []string

	// AllowedHeaders specifies the allowed request headers.
	AllowedHeaders []string

	// ExposedHeaders specifies which headers the browser can access.
	ExposedHeaders []string

	// AllowCredentials indicates whether credentials are allowed.
	AllowCredentials bool

	// MaxAge is the value for Access-Control-Max-Age header (in seconds).
	MaxAge int
}

// DefaultCORSConfig returns production-safe CORS defaults.
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowedOrigins: []string{},
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{
			"Content-Type",
			"Authorization",
			"X-API-Key",
			"X-Request-ID",
			"Accept",
			"Accept-Language",
		},
		ExposedHeaders: []string{
			"X-Request-ID",
			"X-RateLimit-Remaining",
			"X-RateLimit-Reset",
		},
		AllowCredentials: false,
		MaxAge:           86400, // 24 hours
	}
}

// CORS returns a middleware that handles Cross-Origin Resource Sharing.
// It handles preflight OPTIONS requests and rejects preflights from
// origins outside the allowlist.
func CORS(cfg CORSConfig) func(http.Handler) http.Handler {
	methodsStr := strings.Join(cfg.AllowedMethods, ", ")
	headersStr := strings.Join(cfg.AllowedHeaders, ", ")
	exposedStr := strings.Join(cfg.ExposedHeaders, ", ")
	maxAgeStr := ""
	if cfg.MaxAge > 0 {
		maxAgeStr = strconv.Itoa(cfg.MaxAge)
	}

	matcher := newOriginMatcher(cfg.AllowedOrigins)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			// No Origin header = same-origin request, skip CORS
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}

			if !matcher.Allowed(origin) {
				// For preflight, respond with 403. For actual requests,
				// proceed without CORS headers; the browser blocks the
				// response.
				if r.Method == http.MethodOptions {
					w.WriteHeader(http.StatusForbidden)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")

			if cfg.AllowCredentials {
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}

			if exposedStr != "" {
				w.Header().Set("Access-Control-Expose-Headers", exposedStr)
			}

			if r.Method == http.MethodOptions {
				w.Header().Set("Access-Control-Allow-Methods", methodsStr)
				w.Header().Set("Access-Control-Allow-Headers", headersStr)

				if maxAgeStr != "" {
					w.Header().Set("Access-Control-Max-Age", maxAgeStr)
				}

				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// originMatcher checks origins against an allowlist with wildcard
// subdomain support. Shared by the CORS and CSRF middleware.
type originMatcher struct {
	exact     map[string]bool
	wildcards []string // Lowercased suffixes like ".example.com"
}

func newOriginMatcher(allowed []string) *originMatcher {
	m := &originMatcher{exact: make(map[string]bool, len(allowed))}
	for _, origin := range allowed {
		origin = strings.ToLower(origin)
		if strings.HasPrefix(origin, "*.") {
			m.wildcards = append(m.wildcards, strings.TrimPrefix(origin, "*"))
			continue
		}
		m.exact[origin] = true
	}
	return m
}

// Allowed reports whether origin is on the allowlist.
func (m *originMatcher) Allowed(origin string) bool {
	if len(m.exact) == 0 && len(m.wildcards) == 0 {
		return false
	}

	normalized := strings.ToLower(origin)
	if m.exact[normalized] {
		return true
	}

	for _, suffix := range m.wildcards {
		if !strings.HasSuffix(normalized, suffix) {
			continue
		}
		// Match a true subdomain, not a partial domain or the bare
		// domain: "*.example.com" matches "https://sub.example.com"
		// but not "https://notexample.com" or "https://.example.com".
		prefix := strings.TrimSuffix(normalized, suffix)
		if strings.Contains(prefix, "://") && !strings.HasSuffix(prefix, "://") {
			return true
		}
	}

	return false
}
