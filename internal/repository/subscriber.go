package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/quillhq/quill/internal/model"
)

// Common errors for subscriber repository operations.
var (
	ErrSubscriberNotFound = errors.New("subscriber not found")
	ErrEmailExists        = errors.New("email already subscribed")
)

// CreateSubscriber inserts a new subscriber.
func (r *Repository) CreateSubscriber(ctx context.Context, sub *model.Subscriber) error {
	query := `
		INSERT INTO subscribers (id, email, status, confirm_token_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.pool.Exec(ctx, query,
		sub.ID,
		sub.Email,
		sub.Status,
		sub.ConfirmTokenHash,
		sub.CreatedAt,
		sub.UpdatedAt,
	)

	if err != nil {
		if isUniqueViolation(err) {
			return ErrEmailExists
		}
		return fmt.Errorf("failed to create subscriber: %w", err)
	}

	return nil
}

// GetSubscriberByEmail retrieves a subscriber by normalized email.
func (r *Repository) GetSubscriberByEmail(ctx context.Context, email string) (*model.Subscriber, error) {
	query := `
		SELECT id, email, status, confirm_token_hash, confirmed_at, unsubscribed_at, created_at, updated_at
		FROM subscribers
		WHERE email = $1
	`

	sub, err := scanSubscriber(r.pool.QueryRow(ctx, query, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSubscriberNotFound
		}
		return nil, fmt.Errorf("failed to get subscriber by email: %w", err)
	}

	return sub, nil
}

// GetSubscriberByID retrieves a subscriber by ID.
func (r *Repository) GetSubscriberByID(ctx context.Context, id string) (*model.Subscriber, error) {
	query := `
		SELECT id, email, status, confirm_token_hash, confirmed_at, unsubscribed_at, created_at, updated_at
		FROM subscribers
		WHERE id = $1
	`

	sub, err := scanSubscriber(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSubscriberNotFound
		}
		return nil, fmt.Errorf("failed to get subscriber by ID: %w", err)
	}

	return sub, nil
}

// GetSubscriberByConfirmTokenHash finds the pending subscriber holding a
// confirm token digest.
func (r *Repository) GetSubscriberByConfirmTokenHash(ctx context.Context, tokenHash string) (*model.Subscriber, error) {
	query := `
		SELECT id, email, status, confirm_token_hash, confirmed_at, unsubscribed_at, created_at, updated_at
		FROM subscribers
		WHERE confirm_token_hash = $1 AND status = $2
	`

	sub, err := scanSubscriber(r.pool.QueryRow(ctx, query, tokenHash, model.SubscriberStatusPending))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSubscriberNotFound
		}
		return nil, fmt.Errorf("failed to get subscriber by token: %w", err)
	}

	return sub, nil
}

// ConfirmSubscriber activates a pending subscriber and clears the token.
func (r *Repository) ConfirmSubscriber(ctx context.Context, id string) error {
	query := `
		UPDATE subscribers
		SET status = $2, confirm_token_hash = '', confirmed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = $3
	`

	result, err := r.pool.Exec(ctx, query, id, model.SubscriberStatusActive, model.SubscriberStatusPending)
	if err != nil {
		return fmt.Errorf("failed to confirm subscriber: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrSubscriberNotFound
	}

	return nil
}

// UpdateConfirmToken replaces the confirm token digest on a pending
// subscriber (re-subscribe flow).
func (r *Repository) UpdateConfirmToken(ctx context.Context, id, tokenHash string) error {
	query := `
		UPDATE subscribers
		SET confirm_token_hash = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3
	`

	result, err := r.pool.Exec(ctx, query, id, tokenHash, model.SubscriberStatusPending)
	if err != nil {
		return fmt.Errorf("failed to update confirm token: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrSubscriberNotFound
	}

	return nil
}

// ReopenSubscriber returns an unsubscribed address to pending with a
// fresh confirm token (re-subscribe flow). Bounced addresses stay closed.
func (r *Repository) ReopenSubscriber(ctx context.Context, id, tokenHash string) error {
	query := `
		UPDATE subscribers
		SET status = $2, confirm_token_hash = $3, confirmed_at = NULL, unsubscribed_at = NULL, updated_at = NOW()
		WHERE id = $1 AND status = $4
	`

	result, err := r.pool.Exec(ctx, query, id, model.SubscriberStatusPending, tokenHash, model.SubscriberStatusUnsubscribed)
	if err != nil {
		return fmt.Errorf("failed to reopen subscriber: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrSubscriberNotFound
	}

	return nil
}

// UnsubscribeSubscriber marks a subscriber as unsubscribed.
// Idempotent: unsubscribing twice is not an error.
func (r *Repository) UnsubscribeSubscriber(ctx context.Context, id string) error {
	query := `
		UPDATE subscribers
		SET status = $2, unsubscribed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status <> $2
	`

	_, err := r.pool.Exec(ctx, query, id, model.SubscriberStatusUnsubscribed)
	if err != nil {
		return fmt.Errorf("failed to unsubscribe: %w", err)
	}

	return nil
}

// MarkSubscriberBounced records a hard bounce reported by the provider.
func (r *Repository) MarkSubscriberBounced(ctx context.Context, email string) error {
	query := `
		UPDATE subscribers
		SET status = $2, updated_at = NOW()
		WHERE email = $1
	`

	_, err := r.pool.Exec(ctx, query, email, model.SubscriberStatusBounced)
	if err != nil {
		return fmt.Errorf("failed to mark bounced: %w", err)
	}

	return nil
}

// ListActiveSubscribers returns a keyset page of active subscribers.
// Ordered ascending so a resumed send never re-mails earlier pages.
func (r *Repository) ListActiveSubscribers(ctx context.Context, cursor string, limit int) ([]*model.Subscriber, string, error) {
	var cursorData *PaginationCursor
	if cursor != "" {
		var err error
		cursorData, err = DecodeCursor(cursor)
		if err != nil {
			return nil, "", ErrInvalidCursor
		}
	}

	query := `
		SELECT id, email, status, confirm_token_hash, confirmed_at, unsubscribed_at, created_at, updated_at
		FROM subscribers
		WHERE status = $1
	`
	args := []any{model.SubscriberStatusActive}
	argIndex := 2

	if cursorData != nil {
		query += fmt.Sprintf(" AND (created_at, id) > ($%d, $%d)", argIndex, argIndex+1)
		args = append(args, cursorData.CreatedAt, cursorData.ID)
		argIndex += 2
	}

	query += fmt.Sprintf(" ORDER BY created_at ASC, id ASC LIMIT $%d", argIndex)
	args = append(args, limit+1)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, "", fmt.Errorf("failed to list subscribers: %w", err)
	}
	defer rows.Close()

	var subs []*model.Subscriber
	for rows.Next() {
		sub, err := scanSubscriber(rows)
		if err != nil {
			return nil, "", fmt.Errorf("failed to scan subscriber: %w", err)
		}
		subs = append(subs, sub)
	}

	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("error iterating subscribers: %w", err)
	}

	var nextCursor string
	if len(subs) > limit {
		subs = subs[:limit]
		last := subs[len(subs)-1]
		nextCursor = EncodeCursor(&PaginationCursor{
			ID:        last.ID,
			CreatedAt: last.CreatedAt,
		})
	}

	return subs, nextCursor, nil
}

// CountActiveSubscribers returns the number of sendable subscribers.
func (r *Repository) CountActiveSubscribers(ctx context.Context) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM subscribers WHERE status = $1`,
		model.SubscriberStatusActive,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count subscribers: %w", err)
	}
	return count, nil
}

// scanSubscriber scans a row into a Subscriber model.
func scanSubscriber(row pgx.Row) (*model.Subscriber, error) {
	var sub model.Subscriber
	err := row.Scan(
		&sub.ID,
		&sub.Email,
		&sub.Status,
		&sub.ConfirmTokenHash,
		&sub.ConfirmedAt,
		&sub.UnsubscribedAt,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}
