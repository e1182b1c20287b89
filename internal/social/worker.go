package social

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/quillhq/quill/internal/metrics"
	"github.com/quillhq/quill/internal/model"
)

const (
	// DefaultBatchSize is the number of deliveries to process per poll.
	DefaultBatchSize = 20
	// DefaultPollInterval is the time between polling for due deliveries.
	DefaultPollInterval = 15 * time.Second
	// DefaultMetricsInterval is how often to update queue depth metrics.
	DefaultMetricsInterval = 30 * time.Second
)

// Store is the subset of repository operations the worker needs.
type Store interface {
	GetPendingSocialDeliveries(ctx context.Context, limit int) ([]*model.SocialDelivery, error)
	UpdateSocialDeliverySuccess(ctx context.Context, id, remoteID string) error
	UpdateSocialDeliveryFailure(ctx context.Context, id, lastError string, nextRetryAt time.Time, exhausted bool) error
	GetSocialQueueDepth(ctx context.Context) (int64, error)
}

// Worker drains the cross-post queue.
type Worker struct {
	store           Store
	posters         map[string]Poster
	logger          *slog.Logger
	metrics         metrics.Recorder
	batchSize       int
	pollInterval    time.Duration
	metricsInterval time.Duration
	lastMetrics     time.Time
	started         bool
}

// NewWorker creates a social delivery worker. posters maps network names
// (as stored on deliveries) to their clients.
func NewWorker(store Store, posters map[string]Poster, logger *slog.Logger, recorder metrics.Recorder) *Worker {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &Worker{
		store:           store,
		posters:         posters,
		logger:          logger.With("component", "social.worker"),
		metrics:         recorder,
		batchSize:       DefaultBatchSize,
		pollInterval:    DefaultPollInterval,
		metricsInterval: DefaultMetricsInterval,
	}
}

// Run starts the worker loop. Blocks until context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if w.started {
		return errors.New("worker already started")
	}
	w.started = true

	w.logger.Info("social worker started", "networks", len(w.posters))

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("social worker stopping")
			return ctx.Err()
		case <-ticker.C:
			if err := w.processOnce(ctx); err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				w.logger.Error("process error", "error", err)
			}
		}
	}
}

// processOnce fetches and attempts a batch of due deliveries.
func (w *Worker) processOnce(ctx context.Context) error {
	w.maybeUpdateQueueDepth(ctx)

	deliveries, err := w.store.GetPendingSocialDeliveries(ctx, w.batchSize)
	if err != nil {
		return fmt.Errorf("get pending deliveries: %w", err)
	}

	for _, delivery := range deliveries {
		if err := w.deliver(ctx, delivery); err != nil {
			w.logger.Warn("delivery failed",
				"delivery_id", delivery.ID,
				"network", delivery.Network,
				"error", err,
			)
		}
	}

	return nil
}

// deliver attempts to post a single delivery to its network.
func (w *Worker) deliver(ctx context.Context, delivery *model.SocialDelivery) error {
	poster, ok := w.posters[delivery.Network]
	if !ok {
		// Network removed from configuration: stop retrying.
		return w.handleFailure(ctx, delivery, ErrUnknownNetwork.Error(), true)
	}

	start := time.Now()
	remoteID, err := poster.Post(ctx, delivery.Message)
	duration := time.Since(start)

	if err != nil {
		var perr *PostError
		permanent := errors.As(err, &perr) && perr.Permanent()
		return w.handleFailure(ctx, delivery, err.Error(), permanent)
	}

	w.logger.Info("cross-post delivered",
		"delivery_id", delivery.ID,
		"network", delivery.Network,
		"remote_id", remoteID,
		"duration_ms", duration.Milliseconds(),
	)
	w.metrics.IncSocialDelivery("success", delivery.Network)

	return w.store.UpdateSocialDeliverySuccess(ctx, delivery.ID, remoteID)
}

// handleFailure records a failed attempt. Permanent errors and exhausted
// attempt budgets end retrying.
func (w *Worker) handleFailure(ctx context.Context, delivery *model.SocialDelivery, errMsg string, permanent bool) error {
	nextAttempt := delivery.AttemptCount + 1
	exhausted := permanent || IsExhausted(nextAttempt, delivery.MaxAttempts)

	status := "failed"
	if exhausted {
		status = "exhausted"
	}

	w.logger.Warn("cross-post failed",
		"delivery_id", delivery.ID,
		"network", delivery.Network,
		"attempt", nextAttempt,
		"exhausted", exhausted,
		"error", errMsg,
	)
	w.metrics.IncSocialDelivery(status, delivery.Network)

	return w.store.UpdateSocialDeliveryFailure(ctx, delivery.ID, errMsg, NextRetryAt(nextAttempt), exhausted)
}

// maybeUpdateQueueDepth periodically updates queue depth metric.
func (w *Worker) maybeUpdateQueueDepth(ctx context.Context) {
	if time.Since(w.lastMetrics) < w.metricsInterval {
		return
	}
	w.lastMetrics = time.Now()

	depth, err := w.store.GetSocialQueueDepth(ctx)
	if err != nil {
		w.logger.Warn("failed to get queue depth", "error", err)
		return
	}
	w.metrics.SetSocialQueueDepth(depth)
}

// SetBatchSize overrides the default batch size.
func (w *Worker) SetBatchSize(size int) {
	if size > 0 {
		w.batchSize = size
	}
}

// SetPollInterval overrides the default poll interval.
func (w *Worker) SetPollInterval(interval time.Duration) {
	if interval > 0 {
		w.pollInterval = interval
	}
}
