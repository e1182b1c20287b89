package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/quillhq/quill/internal/model"
)

// ErrSocialDeliveryNotFound is returned when no delivery matches.
var ErrSocialDeliveryNotFound = errors.New("social delivery not found")

// CreateSocialDelivery enqueues a cross-post delivery.
func (r *Repository) CreateSocialDelivery(ctx context.Context, d *model.SocialDelivery) error {
	query := `
		INSERT INTO social_deliveries (id, post_id, network, message, status, attempt_count, max_attempts, next_retry_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.pool.Exec(ctx, query,
		d.ID,
		d.PostID,
		d.Network,
		d.Message,
		d.Status,
		d.AttemptCount,
		d.MaxAttempts,
		d.NextRetryAt,
		d.CreatedAt,
		d.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create social delivery: %w", err)
	}

	return nil
}

// GetPendingSocialDeliveries returns deliveries due for an attempt.
func (r *Repository) GetPendingSocialDeliveries(ctx context.Context, limit int) ([]*model.SocialDelivery, error) {
	query := `
		SELECT id, post_id, network, message, status, attempt_count, max_attempts, next_retry_at, last_attempt_at, last_error, remote_id, created_at, updated_at
		FROM social_deliveries
		WHERE status IN ($1, $2) AND next_retry_at <= NOW()
		ORDER BY next_retry_at ASC
		LIMIT $3
	`

	rows, err := r.pool.Query(ctx, query, model.SocialStatusPending, model.SocialStatusFailed, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending social deliveries: %w", err)
	}
	defer rows.Close()

	var deliveries []*model.SocialDelivery
	for rows.Next() {
		d, err := scanSocialDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan social delivery: %w", err)
		}
		deliveries = append(deliveries, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating social deliveries: %w", err)
	}

	return deliveries, nil
}

// UpdateSocialDeliverySuccess marks a delivery as posted.
func (r *Repository) UpdateSocialDeliverySuccess(ctx context.Context, id, remoteID string) error {
	query := `
		UPDATE social_deliveries
		SET status = $2, remote_id = $3, attempt_count = attempt_count + 1, last_attempt_at = NOW(), last_error = '', updated_at = NOW()
		WHERE id = $1
	`

	result, err := r.pool.Exec(ctx, query, id, model.SocialStatusSuccess, remoteID)
	if err != nil {
		return fmt.Errorf("failed to update social delivery: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrSocialDeliveryNotFound
	}

	return nil
}

// UpdateSocialDeliveryFailure records a failed attempt.
// When exhausted is true the delivery stops retrying.
func (r *Repository) UpdateSocialDeliveryFailure(ctx context.Context, id, lastError string, nextRetryAt time.Time, exhausted bool) error {
	status := model.SocialStatusFailed
	if exhausted {
		status = model.SocialStatusExhausted
	}

	query := `
		UPDATE social_deliveries
		SET status = $2, attempt_count = attempt_count + 1, last_attempt_at = NOW(), last_error = $3, next_retry_at = $4, updated_at = NOW()
		WHERE id = $1
	`

	result, err := r.pool.Exec(ctx, query, id, status, lastError, nextRetryAt)
	if err != nil {
		return fmt.Errorf("failed to update social delivery: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrSocialDeliveryNotFound
	}

	return nil
}

// GetSocialQueueDepth counts deliveries awaiting an attempt.
func (r *Repository) GetSocialQueueDepth(ctx context.Context) (int64, error) {
	var depth int64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM social_deliveries WHERE status IN ($1, $2)`,
		model.SocialStatusPending, model.SocialStatusFailed,
	).Scan(&depth)
	if err != nil {
		return 0, fmt.Errorf("failed to get social queue depth: %w", err)
	}
	return depth, nil
}

// ListSocialDeliveriesByPost returns deliveries for a post, for the API.
func (r *Repository) ListSocialDeliveriesByPost(ctx context.Context, postID string) ([]*model.SocialDelivery, error) {
	query := `
		SELECT id, post_id, network, message, status, attempt_count, max_attempts, next_retry_at, last_attempt_at, last_error, remote_id, created_at, updated_at
		FROM social_deliveries
		WHERE post_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.pool.Query(ctx, query, postID)
	if err != nil {
		return nil, fmt.Errorf("failed to list social deliveries: %w", err)
	}
	defer rows.Close()

	var deliveries []*model.SocialDelivery
	for rows.Next() {
		d, err := scanSocialDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan social delivery: %w", err)
		}
		deliveries = append(deliveries, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating social deliveries: %w", err)
	}

	return deliveries, nil
}

// scanSocialDelivery scans a row into a SocialDelivery model.
func scanSocialDelivery(row pgx.Row) (*model.SocialDelivery, error) {
	var d model.SocialDelivery
	err := row.Scan(
		&d.ID,
		&d.PostID,
		&d.Network,
		&d.Message,
		&d.Status,
		&d.AttemptCount,
		&d.MaxAttempts,
		&d.NextRetryAt,
		&d.LastAttemptAt,
		&d.LastError,
		&d.RemoteID,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
