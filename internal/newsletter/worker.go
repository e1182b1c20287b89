package newsletter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/quillhq/quill/internal/mailer"
	"github.com/quillhq/quill/internal/metrics"
	"github.com/quillhq/quill/internal/model"
	"github.com/quillhq/quill/internal/repository"
)

const (
	// DefaultBatchSize is the number of subscribers mailed per provider call.
	DefaultBatchSize = 100
	// DefaultPollInterval is the time between polls for due issues.
	DefaultPollInterval = 10 * time.Second
	// DefaultStaleAfter is how long a sending issue may go without progress
	// before another worker reclaims it.
	DefaultStaleAfter = 5 * time.Minute
)

// Store is the subset of repository operations the worker needs.
type Store interface {
	ClaimDueIssue(ctx context.Context, staleAfter time.Duration) (*model.Issue, error)
	ListActiveSubscribers(ctx context.Context, cursor string, limit int) ([]*model.Subscriber, string, error)
	RecordIssueProgress(ctx context.Context, id, sendCursor string, sentDelta, failDelta int64) error
	CompleteIssue(ctx context.Context, id string, status model.IssueStatus) error
	MarkSubscriberBounced(ctx context.Context, email string) error
}

// Sender delivers message batches to the mail provider.
type Sender interface {
	SendBatch(ctx context.Context, msgs []mailer.Message) (*mailer.BatchResult, error)
}

// Worker drains queued issues: it claims one due issue at a time, pages
// through active subscribers, and mails them in provider batches. Progress
// is persisted per batch so a crashed send resumes at its cursor instead
// of re-mailing from the start.
type Worker struct {
	store        Store
	sender       Sender
	renderer     *Renderer
	logger       *slog.Logger
	metrics      metrics.Recorder
	batchSize    int
	pollInterval time.Duration
	staleAfter   time.Duration
	started      bool
}

// NewWorker creates a newsletter delivery worker.
func NewWorker(store Store, sender Sender, renderer *Renderer, logger *slog.Logger, recorder metrics.Recorder) *Worker {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &Worker{
		store:        store,
		sender:       sender,
		renderer:     renderer,
		logger:       logger.With("component", "newsletter.worker"),
		metrics:      recorder,
		batchSize:    DefaultBatchSize,
		pollInterval: DefaultPollInterval,
		staleAfter:   DefaultStaleAfter,
	}
}

// Run starts the worker loop. Blocks until context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if w.started {
		return errors.New("worker already started")
	}
	w.started = true

	w.logger.Info("newsletter worker started")

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("newsletter worker stopping")
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

// processOnce claims and fully sends one due issue, if any.
func (w *Worker) processOnce(ctx context.Context) error {
	issue, err := w.store.ClaimDueIssue(ctx, w.staleAfter)
	if err != nil {
		if errors.Is(err, repository.ErrIssueNotFound) {
			return nil
		}
		return fmt.Errorf("claim issue: %w", err)
	}

	w.logger.Info("issue claimed",
		"issue_id", issue.ID,
		"subject", issue.Subject,
		"resume_cursor", issue.SendCursor != "",
	)

	return w.sendIssue(ctx, issue)
}

// sendIssue pages through active subscribers from the issue's persisted
// cursor and mails each page as one provider batch.
func (w *Worker) sendIssue(ctx context.Context, issue *model.Issue) error {
	cursor := issue.SendCursor

	for {
		if ctx.Err() != nil {
			// Shutdown mid-send: the cursor is persisted, another
			// worker resumes after staleAfter.
			return ctx.Err()
		}

		subs, nextCursor, err := w.store.ListActiveSubscribers(ctx, cursor, w.batchSize)
		if err != nil {
			return fmt.Errorf("list subscribers: %w", err)
		}
		if len(subs) == 0 {
			break
		}

		sent, failed, err := w.sendBatch(ctx, issue, subs)
		if err != nil {
			var perr *mailer.ProviderError
			if errors.As(err, &perr) && !perr.Retryable() {
				// Permanent provider rejection: give up on the issue.
				w.logger.Error("issue send rejected by provider",
					"issue_id", issue.ID,
					"http_status", perr.StatusCode,
				)
				w.metrics.IncIssueSent("failed")
				return w.store.CompleteIssue(ctx, issue.ID, model.IssueStatusFailed)
			}
			// Transient failure: leave the issue in sending with its
			// cursor intact so the stale reclaim retries this batch.
			return fmt.Errorf("send batch: %w", err)
		}

		if err := w.store.RecordIssueProgress(ctx, issue.ID, nextCursor, sent, failed); err != nil {
			return fmt.Errorf("record progress: %w", err)
		}

		if nextCursor == "" {
			break
		}
		cursor = nextCursor
	}

	w.logger.Info("issue sent", "issue_id", issue.ID)
	w.metrics.IncIssueSent("sent")

	return w.store.CompleteIssue(ctx, issue.ID, model.IssueStatusSent)
}

// sendBatch renders and mails one page of subscribers.
// Per-recipient failures are counted, and hard bounces flip the
// subscriber to bounced so later issues skip the address.
func (w *Worker) sendBatch(ctx context.Context, issue *model.Issue, subs []*model.Subscriber) (sent, failed int64, err error) {
	msgs := make([]mailer.Message, 0, len(subs))
	for _, sub := range subs {
		msg, rerr := w.renderer.Render(issue, sub)
		if rerr != nil {
			return 0, 0, rerr
		}
		msgs = append(msgs, msg)
	}

	start := time.Now()
	result, err := w.sender.SendBatch(ctx, msgs)
	if err != nil {
		return 0, 0, err
	}

	w.metrics.ObserveSendBatchSize(len(msgs))
	w.metrics.ObserveSendBatchDuration(time.Since(start))

	for _, f := range result.Failed {
		if f.Permanent {
			if berr := w.store.MarkSubscriberBounced(ctx, f.Email); berr != nil {
				w.logger.Warn("failed to mark bounce", "error", berr)
			}
		}
	}

	w.logger.Info("batch delivered",
		"issue_id", issue.ID,
		"batch_size", len(msgs),
		"sent", result.Sent,
		"failed", len(result.Failed),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return int64(result.Sent), int64(len(result.Failed)), nil
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
