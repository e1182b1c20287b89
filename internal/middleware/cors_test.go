package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func corsHandler(origins []string) http.Handler {
	cfg := DefaultCORSConfig()
	cfg.AllowedOrigins = origins
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return CORS(cfg)(ok)
}

func TestCORS_AllowedOrigin(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest(http.MethodGet, "/v1/posts", nil)
	r.Header.Set("Origin", "https://app.quill.pub")

	w := httptest.NewRecorder()
	corsHandler([]string{"https://app.quill.pub"}).ServeHTTP(w, r)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://app.quill.pub" {
		t.Errorf("Allow-Origin = %q", got)
	}
	if w.Header().Get("Vary") != "Origin" {
		t.Error("missing Vary: Origin")
	}
}

func TestCORS_DisallowedOrigin(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest(http.MethodGet, "/v1/posts", nil)
	r.Header.Set("Origin", "https://evil.example")

	w := httptest.NewRecorder()
	corsHandler([]string{"https://app.quill.pub"}).ServeHTTP(w, r)

	// Request proceeds but without CORS headers; the browser blocks it.
	if w.Code != http.StatusOK {
		t.Errorf("status = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Allow-Origin = %q, want empty", got)
	}
}

func TestCORS_PreflightAllowed(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest(http.MethodOptions, "/v1/posts", nil)
	r.Header.Set("Origin", "https://app.quill.pub")

	w := httptest.NewRecorder()
	corsHandler([]string{"https://app.quill.pub"}).ServeHTTP(w, r)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Methods") == "" {
		t.Error("missing Allow-Methods on preflight")
	}
}

func TestCORS_PreflightRejected(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest(http.MethodOptions, "/v1/posts", nil)
	r.Header.Set("Origin", "https://evil.example")

	w := httptest.NewRecorder()
	corsHandler([]string{"https://app.quill.pub"}).ServeHTTP(w, r)

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", w.Code)
	}
}

func TestCORS_SameOriginSkipped(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest(http.MethodGet, "/v1/posts", nil)

	w := httptest.NewRecorder()
	corsHandler([]string{"https://app.quill.pub"}).ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Allow-Origin = %q, want empty for same-origin", got)
	}
}

func TestOriginMatcher_Wildcard(t *testing.T) {
	t.Parallel()

	m := newOriginMatcher([]string{"*.example.com"})

	tests := []struct {
		origin string
		want   bool
	}{
		{"https://sub.example.com", true},
		{"https://a.b.example.com", true},
		{"https://example.com", false},
		{"https://notexample.com", false},
		{"https://.example.com", false},
		{"https://sub.example.com.evil.net", false},
	}

	for _, tt := range tests {
		if got := m.Allowed(tt.origin); got != tt.want {
			t.Errorf("Allowed(%q) = %v, want %v", tt.origin, got, tt.want)
		}
	}
}

func TestOriginMatcher_EmptyDeniesAll(t *testing.T) {
	t.Parallel()

	m := newOriginMatcher(nil)
	if m.Allowed("https://anything.example") {
		t.Error("empty allowlist should deny all origins")
	}
}
