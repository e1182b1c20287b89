package handler

import (
	"fmt"
	"net/http"

	"github.com/quillhq/quill/internal/metrics"
)

// MetricsHandler exposes in-memory metrics.
type MetricsHandler struct {
	snapshotter metrics.Snapshotter
}

// NewMetricsHandler creates a new MetricsHandler.
func NewMetricsHandler(snapshotter metrics.Snapshotter) *MetricsHandler {
	return &MetricsHandler{snapshotter: snapshotter}
}

// Metrics returns metrics in Prometheus exposition format.
//
// GET /metricz
func (h *MetricsHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	if h.snapshotter == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	snap := h.snapshotter.Snapshot()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	writeMetric(w, "quill_posts_created_total %d\n", snap.PostsCreated)
	writeMetric(w, "quill_posts_published_total %d\n", snap.PostsPublished)

	writeMetric(w, "quill_feed_cache_hits_total %d\n", snap.FeedCacheHits)
	writeMetric(w, "quill_feed_cache_misses_total %d\n", snap.FeedCacheMisses)

	for scope, count := range snap.RateLimitDenied {
		writeMetric(w, "quill_rate_limit_denied_total{scope=%q} %d\n", scope, count)
	}

	writeMetric(w, "quill_subscribers_confirmed_total %d\n", snap.SubscribersConfirmed)

	for status, count := range snap.IssuesSent {
		writeMetric(w, "quill_issues_sent_total{status=%q} %d\n", status, count)
	}

	writeMetric(w, "quill_send_batches_total %d\n", snap.SendBatchCount)
	writeMetric(w, "quill_send_batch_recipients_total %d\n", snap.SendBatchTotalSize)
	writeMetric(w, "quill_send_batch_duration_seconds_sum %.6f\n", float64(snap.SendBatchTotalDuration)/1e9)

	for key, count := range snap.SocialDeliveries {
		writeMetric(w, "quill_social_deliveries_total{outcome=%q} %d\n", key, count)
	}
	writeMetric(w, "quill_social_queue_depth %d\n", snap.SocialQueueDepth)
}

func writeMetric(w http.ResponseWriter, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
