package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/quillhq/quill/internal/feed"
)

// FeedSource produces the rendered feed document.
type FeedSource interface {
	Feed(ctx context.Context) ([]byte, error)
}

// FeedHandler serves the public RSS feed.
type FeedHandler struct {
	src    FeedSource
	maxAge int
	logger *slog.Logger
}

// NewFeedHandler creates a new FeedHandler. maxAge is the Cache-Control
// max-age in seconds handed to feed readers and CDNs.
func NewFeedHandler(src FeedSource, maxAge int, logger *slog.Logger) *FeedHandler {
	return &FeedHandler{
		src:    src,
		maxAge: maxAge,
		logger: logger,
	}
}

// Feed handles GET /feed.xml.
func (h *FeedHandler) Feed(w http.ResponseWriter, r *http.Request) {
	doc, err := h.src.Feed(r.Context())
	if err != nil {
		h.logger.Error("feed_render_failed", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An internal error occurred")
		return
	}

	w.Header().Set("Content-Type", feed.ContentType)
	// Override the API-wide no-store default: the feed is the one
	// response downstream caches should hold on to.
	w.Header().Set("Cache-Control", "public, max-age="+strconv.Itoa(h.maxAge))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc)
}
