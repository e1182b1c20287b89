package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/quillhq/quill/internal/handler/dto"
	"github.com/quillhq/quill/internal/service"
)

// NewsletterHandler handles the public subscription endpoints and the
// admin subscriber listing.
type NewsletterHandler struct {
	svc    *service.SubscriberService
	logger *slog.Logger
}

// NewNewsletterHandler creates a new NewsletterHandler.
func NewNewsletterHandler(svc *service.SubscriberService, logger *slog.Logger) *NewsletterHandler {
	return &NewsletterHandler{
		svc:    svc,
		logger: logger,
	}
}

// Subscribe handles POST /v1/newsletter/subscribe.
// The response is the same whether the address is new, pending, or
// already subscribed, so the endpoint cannot enumerate subscribers.
func (h *NewsletterHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req dto.SubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}

	if err := h.svc.Subscribe(r.Context(), req.Email); err != nil {
		if errors.Is(err, service.ErrInvalidEmail) {
			writeError(w, http.StatusBadRequest, "INVALID_EMAIL", "Invalid email address")
			return
		}
		h.logger.Error("subscribe_failed", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An internal error occurred")
		return
	}

	writeJSON(w, http.StatusAccepted, dto.MessageResponse{
		Message: "Check your inbox to confirm your subscription.",
	})
}

// Confirm handles GET /v1/newsletter/confirm?token=...
func (h *NewsletterHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")

	if err := h.svc.Confirm(r.Context(), token); err != nil {
		if errors.Is(err, service.ErrInvalidConfirmToken) {
			writeError(w, http.StatusBadRequest, "INVALID_TOKEN", "Invalid or expired confirmation link")
			return
		}
		h.logger.Error("confirm_failed", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An internal error occurred")
		return
	}

	writeJSON(w, http.StatusOK, dto.MessageResponse{
		Message: "Subscription confirmed. Welcome aboard.",
	})
}

// Unsubscribe handles GET /v1/newsletter/unsubscribe?token=...
// The token is HMAC-signed in every issue footer; no login required.
func (h *NewsletterHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")

	if err := h.svc.Unsubscribe(r.Context(), token); err != nil {
		if errors.Is(err, service.ErrInvalidUnsubToken) {
			writeError(w, http.StatusBadRequest, "INVALID_TOKEN", "Invalid unsubscribe link")
			return
		}
		h.logger.Error("unsubscribe_failed", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An internal error occurred")
		return
	}

	writeJSON(w, http.StatusOK, dto.MessageResponse{
		Message: "You have been unsubscribed.",
	})
}

// ListSubscribers handles GET /v1/subscribers (admin surface).
func (h *NewsletterHandler) ListSubscribers(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	limit := 20
	if l := query.Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}

	result, err := h.svc.ListSubscribers(r.Context(), query.Get("cursor"), limit)
	if err != nil {
		h.logger.Error("list_subscribers_failed", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An internal error occurred")
		return
	}

	total, err := h.svc.CountSubscribers(r.Context())
	if err != nil {
		h.logger.Error("count_subscribers_failed", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An internal error occurred")
		return
	}

	writeJSON(w, http.StatusOK, dto.ToSubscriberListResponse(result.Subscribers, total, result.NextCursor, result.HasMore))
}
