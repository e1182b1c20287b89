package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/quillhq/quill/internal/auth"
	"github.com/quillhq/quill/internal/handler/dto"
	"github.com/quillhq/quill/internal/service"
)

// IssueHandler handles HTTP requests for newsletter issue operations.
type IssueHandler struct {
	svc    *service.IssueService
	logger *slog.Logger
}

// NewIssueHandler creates a new IssueHandler.
func NewIssueHandler(svc *service.IssueService, logger *slog.Logger) *IssueHandler {
	return &IssueHandler{
		svc:    svc,
		logger: logger,
	}
}

// Create handles POST /v1/issues.
func (h *IssueHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateIssueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}

	input := service.CreateIssueInput{
		Subject:  req.Subject,
		Body:     req.Body,
		AuthorID: auth.UserIDFromContext(r.Context()),
	}

	issue, err := h.svc.CreateIssue(r.Context(), input)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	h.logger.Info("issue_created", "issue_id", issue.ID)

	writeJSON(w, http.StatusCreated, dto.ToIssueResponse(issue))
}

// Get handles GET /v1/issues/{id}.
func (h *IssueHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "MISSING_ID", "Issue ID is required")
		return
	}

	issue, err := h.svc.GetIssue(r.Context(), id)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.ToIssueResponse(issue))
}

// List handles GET /v1/issues.
func (h *IssueHandler) List(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	limit := 20
	if l := query.Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}

	result, err := h.svc.ListIssues(r.Context(), query.Get("cursor"), limit)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.ToIssueListResponse(result.Issues, result.NextCursor, result.HasMore))
}

// Update handles PATCH /v1/issues/{id}.
func (h *IssueHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "MISSING_ID", "Issue ID is required")
		return
	}

	var req dto.UpdateIssueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}

	input := service.UpdateIssueInput{
		ID:      id,
		Subject: req.Subject,
		Body:    req.Body,
	}

	issue, err := h.svc.UpdateIssue(r.Context(), input)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	h.logger.Info("issue_updated", "issue_id", issue.ID)

	writeJSON(w, http.StatusOK, dto.ToIssueResponse(issue))
}

// Delete handles DELETE /v1/issues/{id}.
func (h *IssueHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "MISSING_ID", "Issue ID is required")
		return
	}

	if err := h.svc.DeleteIssue(r.Context(), id); err != nil {
		h.handleServiceError(w, err)
		return
	}

	h.logger.Info("issue_deleted", "issue_id", id)

	w.WriteHeader(http.StatusNoContent)
}

// Send handles POST /v1/issues/{id}/send.
func (h *IssueHandler) Send(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "MISSING_ID", "Issue ID is required")
		return
	}

	// An empty body means send now.
	var req dto.SendIssueRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
			return
		}
	}

	issue, err := h.svc.SendIssue(r.Context(), id, req.ScheduledAt)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	h.logger.Info("issue_send_queued",
		"issue_id", issue.ID,
		"scheduled", req.ScheduledAt != nil,
	)

	writeJSON(w, http.StatusAccepted, dto.ToIssueResponse(issue))
}

// handleServiceError maps service errors to HTTP responses.
func (h *IssueHandler) handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrIssueNotFound):
		writeError(w, http.StatusNotFound, "ISSUE_NOT_FOUND", "Issue not found")
	case errors.Is(err, service.ErrIssueNotEditable):
		writeError(w, http.StatusConflict, "ISSUE_NOT_EDITABLE", "Issue has already been queued or sent")
	case errors.Is(err, service.ErrInvalidSubject):
		writeError(w, http.StatusBadRequest, "INVALID_SUBJECT", "Subject is required")
	case errors.Is(err, service.ErrSubjectTooLong):
		writeError(w, http.StatusBadRequest, "SUBJECT_TOO_LONG", "Subject exceeds maximum length")
	case errors.Is(err, service.ErrBodyTooLong):
		writeError(w, http.StatusRequestEntityTooLarge, "BODY_TOO_LONG", "Issue body exceeds maximum length")
	case errors.Is(err, service.ErrScheduleInPast):
		writeError(w, http.StatusUnprocessableEntity, "SCHEDULE_IN_PAST", "Scheduled time must be in the future")
	default:
		h.logger.Error("internal_error", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An internal error occurred")
	}
}
