package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/quillhq/quill/internal/auth"
	"github.com/quillhq/quill/internal/handler/dto"
	"github.com/quillhq/quill/internal/service"
)

// PostHandler handles HTTP requests for post operations.
type PostHandler struct {
	svc    *service.PostService
	logger *slog.Logger
}

// NewPostHandler creates a new PostHandler.
func NewPostHandler(svc *service.PostService, logger *slog.Logger) *PostHandler {
	return &PostHandler{
		svc:    svc,
		logger: logger,
	}
}

// Create handles POST /v1/posts.
func (h *PostHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req dto.CreatePostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}

	input := service.CreatePostInput{
		Title:    req.Title,
		Slug:     req.Slug,
		Summary:  req.Summary,
		Body:     req.Body,
		AuthorID: auth.UserIDFromContext(r.Context()),
	}

	post, err := h.svc.CreatePost(r.Context(), input)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	h.logger.Info("post_created",
		"post_id", post.ID,
		"slug", post.Slug,
		"has_custom_slug", req.Slug != "",
	)

	writeJSON(w, http.StatusCreated, dto.ToPostResponse(post, h.svc.BaseURL()))
}

// Get handles GET /v1/posts/{id}.
func (h *PostHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "MISSING_ID", "Post ID is required")
		return
	}

	post, err := h.svc.GetPost(r.Context(), id)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.ToPostResponse(post, h.svc.BaseURL()))
}

// List handles GET /v1/posts.
func (h *PostHandler) List(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	limit := 20
	if l := query.Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}

	input := service.ListPostsInput{
		Cursor: query.Get("cursor"),
		Limit:  limit,
		Status: query.Get("status"),
	}

	if after := query.Get("created_after"); after != "" {
		if t, err := time.Parse(time.RFC3339, after); err == nil {
			input.CreatedAfter = &t
		}
	}
	if before := query.Get("created_before"); before != "" {
		if t, err := time.Parse(time.RFC3339, before); err == nil {
			input.CreatedBefore = &t
		}
	}

	result, err := h.svc.ListPosts(r.Context(), input)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.ToPostListResponse(result.Posts, h.svc.BaseURL(), result.NextCursor, result.HasMore))
}

// Update handles PATCH /v1/posts/{id}.
func (h *PostHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "MISSING_ID", "Post ID is required")
		return
	}

	var req dto.UpdatePostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}

	input := service.UpdatePostInput{
		ID:      id,
		Title:   req.Title,
		Slug:    req.Slug,
		Summary: req.Summary,
		Body:    req.Body,
	}

	post, err := h.svc.UpdatePost(r.Context(), input)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	h.logger.Info("post_updated", "post_id", post.ID, "slug", post.Slug)

	writeJSON(w, http.StatusOK, dto.ToPostResponse(post, h.svc.BaseURL()))
}

// Delete handles DELETE /v1/posts/{id}.
func (h *PostHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "MISSING_ID", "Post ID is required")
		return
	}

	if err := h.svc.DeletePost(r.Context(), id); err != nil {
		h.handleServiceError(w, err)
		return
	}

	h.logger.Info("post_deleted", "post_id", id)

	w.WriteHeader(http.StatusNoContent)
}

// Publish handles POST /v1/posts/{id}/publish.
func (h *PostHandler) Publish(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "MISSING_ID", "Post ID is required")
		return
	}

	post, err := h.svc.PublishPost(r.Context(), id)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	h.logger.Info("post_published", "post_id", post.ID, "slug", post.Slug)

	writeJSON(w, http.StatusOK, dto.ToPostResponse(post, h.svc.BaseURL()))
}

// Unpublish handles POST /v1/posts/{id}/unpublish.
func (h *PostHandler) Unpublish(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "MISSING_ID", "Post ID is required")
		return
	}

	post, err := h.svc.UnpublishPost(r.Context(), id)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	h.logger.Info("post_unpublished", "post_id", post.ID, "slug", post.Slug)

	writeJSON(w, http.StatusOK, dto.ToPostResponse(post, h.svc.BaseURL()))
}

// ListDeliveries handles GET /v1/posts/{id}/deliveries.
func (h *PostHandler) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "MISSING_ID", "Post ID is required")
		return
	}

	deliveries, err := h.svc.ListSocialDeliveries(r.Context(), id)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.ToSocialDeliveryListResponse(deliveries))
}

// handleServiceError maps service errors to HTTP responses.
func (h *PostHandler) handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrPostNotFound):
		writeError(w, http.StatusNotFound, "POST_NOT_FOUND", "Post not found")
	case errors.Is(err, service.ErrSlugExists):
		writeError(w, http.StatusConflict, "SLUG_TAKEN", "Slug already exists")
	case errors.Is(err, service.ErrSlugReserved):
		writeError(w, http.StatusUnprocessableEntity, "SLUG_RESERVED", "Slug is reserved")
	case errors.Is(err, service.ErrInvalidSlug):
		writeError(w, http.StatusBadRequest, "INVALID_SLUG", "Invalid slug format")
	case errors.Is(err, service.ErrInvalidTitle):
		writeError(w, http.StatusBadRequest, "INVALID_TITLE", "Title is required")
	case errors.Is(err, service.ErrTitleTooLong):
		writeError(w, http.StatusBadRequest, "TITLE_TOO_LONG", "Title exceeds maximum length")
	case errors.Is(err, service.ErrBodyTooLong):
		writeError(w, http.StatusRequestEntityTooLarge, "BODY_TOO_LONG", "Post body exceeds maximum length")
	case errors.Is(err, service.ErrAlreadyPublished):
		writeError(w, http.StatusConflict, "ALREADY_PUBLISHED", "Post is already published")
	case errors.Is(err, service.ErrNotPublished):
		writeError(w, http.StatusConflict, "NOT_PUBLISHED", "Post is not published")
	default:
		h.logger.Error("internal_error", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An internal error occurred")
	}
}
