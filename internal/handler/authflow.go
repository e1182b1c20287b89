package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/quillhq/quill/internal/auth"
	"github.com/quillhq/quill/internal/handler/dto"
	"github.com/quillhq/quill/internal/service"
)

// AuthHandler handles magic-link sign-in and API key management.
type AuthHandler struct {
	svc    *service.AuthService
	logger *slog.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(svc *service.AuthService, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		svc:    svc,
		logger: logger,
	}
}

// RequestMagicLink handles POST /v1/auth/magic-link.
// The response is uniform whether or not the address is on the author
// allowlist.
func (h *AuthHandler) RequestMagicLink(w http.ResponseWriter, r *http.Request) {
	var req dto.MagicLinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}

	if err := h.svc.RequestMagicLink(r.Context(), req.Email); err != nil {
		if errors.Is(err, service.ErrInvalidEmail) {
			writeError(w, http.StatusBadRequest, "INVALID_EMAIL", "Invalid email address")
			return
		}
		h.logger.Error("magic_link_request_failed", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An internal error occurred")
		return
	}

	writeJSON(w, http.StatusAccepted, dto.MessageResponse{
		Message: "If that address can sign in, a link is on its way.",
	})
}

// VerifyMagicLink handles GET /v1/auth/magic-link/verify?token=...
// A valid token is exchanged for a session token exactly once.
func (h *AuthHandler) VerifyMagicLink(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")

	sessionToken, err := h.svc.VerifyMagicLink(r.Context(), token)
	if err != nil {
		if errors.Is(err, service.ErrInvalidMagicToken) {
			writeError(w, http.StatusUnauthorized, "INVALID_TOKEN", "Invalid or expired sign-in link")
			return
		}
		h.logger.Error("magic_link_verify_failed", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An internal error occurred")
		return
	}

	writeJSON(w, http.StatusOK, dto.SessionResponse{
		Token:     sessionToken,
		TokenType: "Bearer",
	})
}

// Logout handles POST /v1/auth/logout.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid or missing credentials")
		return
	}

	if err := h.svc.Logout(r.Context(), token); err != nil {
		h.logger.Error("logout_failed", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An internal error occurred")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// CreateAPIKey handles POST /v1/api-keys.
// The plaintext key appears in this response only.
func (h *AuthHandler) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateAPIKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}

	input := service.CreateAPIKeyInput{
		UserID: auth.UserIDFromContext(r.Context()),
		Name:   req.Name,
		Scopes: req.Scopes,
		Tier:   req.Tier,
	}

	out, err := h.svc.CreateAPIKey(r.Context(), input)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	h.logger.Info("api_key_created", "key_id", out.Key.ID, "prefix", out.Key.KeyPrefix)

	writeJSON(w, http.StatusCreated, dto.ToAPIKeyResponse(out.Key, out.Plaintext))
}

// ListAPIKeys handles GET /v1/api-keys.
func (h *AuthHandler) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.svc.ListAPIKeys(r.Context(), auth.UserIDFromContext(r.Context()))
	if err != nil {
		h.logger.Error("list_api_keys_failed", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An internal error occurred")
		return
	}

	writeJSON(w, http.StatusOK, dto.ToAPIKeyListResponse(keys))
}

// RevokeAPIKey handles DELETE /v1/api-keys/{id}.
func (h *AuthHandler) RevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "MISSING_ID", "API key ID is required")
		return
	}

	if err := h.svc.RevokeAPIKey(r.Context(), auth.UserIDFromContext(r.Context()), id); err != nil {
		h.handleServiceError(w, err)
		return
	}

	h.logger.Info("api_key_revoked", "key_id", id)

	w.WriteHeader(http.StatusNoContent)
}

// RotateAPIKey handles POST /v1/api-keys/{id}/rotate.
// Returns the replacement key's plaintext, once.
func (h *AuthHandler) RotateAPIKey(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "MISSING_ID", "API key ID is required")
		return
	}

	out, err := h.svc.RotateAPIKey(r.Context(), auth.UserIDFromContext(r.Context()), id)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	h.logger.Info("api_key_rotated", "key_id", id, "new_key_id", out.Key.ID)

	writeJSON(w, http.StatusCreated, dto.ToAPIKeyResponse(out.Key, out.Plaintext))
}

// handleServiceError maps service errors to HTTP responses.
func (h *AuthHandler) handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrKeyNotFound):
		writeError(w, http.StatusNotFound, "KEY_NOT_FOUND", "API key not found")
	case errors.Is(err, service.ErrForbiddenKey):
		writeError(w, http.StatusForbidden, "FORBIDDEN", "API key belongs to another user")
	case errors.Is(err, service.ErrInvalidScope):
		writeError(w, http.StatusBadRequest, "INVALID_SCOPE", "One or more scopes are invalid")
	case errors.Is(err, service.ErrInvalidTier):
		writeError(w, http.StatusBadRequest, "INVALID_TIER", "Unknown rate limit tier")
	default:
		h.logger.Error("internal_error", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An internal error occurred")
	}
}

// bearerToken extracts the token from an Authorization: Bearer header.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}
