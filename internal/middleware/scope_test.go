package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/quillhq/quill/internal/auth"
	"github.com/quillhq/quill/internal/model"
)

func scopedRequest(scopes []string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/v1/posts", nil)
	if scopes == nil {
		return r
	}
	ctx := auth.ContextWithAuth(r.Context(), &model.AuthContext{
		KeyID:  "key-1",
		UserID: "user-1",
		Scopes: scopes,
	})
	return r.WithContext(ctx)
}

func TestRequireScope(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		scopes     []string
		required   []string
		wantStatus int
	}{
		{"has required scope", []string{model.ScopeWrite}, []string{model.ScopeWrite}, http.StatusOK},
		{"missing scope", []string{model.ScopeRead}, []string{model.ScopeWrite}, http.StatusForbidden},
		{"admin implies all", []string{model.ScopeAdmin}, []string{model.ScopePublish}, http.StatusOK},
		{"any of several", []string{model.ScopePublish}, []string{model.ScopeWrite, model.ScopePublish}, http.StatusOK},
		{"no auth context", nil, []string{model.ScopeRead}, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			})
			h := RequireScope(tt.required...)(ok)

			w := httptest.NewRecorder()
			h.ServeHTTP(w, scopedRequest(tt.scopes))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}
