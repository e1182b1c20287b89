package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/quillhq/quill/internal/model"
)

// Common errors for issue repository operations.
var (
	ErrIssueNotFound = errors.New("issue not found")
	// ErrIssueNotEditable is returned when mutating a non-draft issue.
	ErrIssueNotEditable = errors.New("issue is not editable")
)

// CreateIssue inserts a new newsletter issue.
func (r *Repository) CreateIssue(ctx context.Context, issue *model.Issue) error {
	query := `
		INSERT INTO issues (id, subject, body, status, author_id, scheduled_at, send_cursor, sent_count, fail_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := r.pool.Exec(ctx, query,
		issue.ID,
		issue.Subject,
		issue.Body,
		issue.Status,
		issue.AuthorID,
		issue.ScheduledAt,
		issue.SendCursor,
		issue.SentCount,
		issue.FailCount,
		issue.CreatedAt,
		issue.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create issue: %w", err)
	}

	return nil
}

// GetIssueByID retrieves an issue by its ID.
func (r *Repository) GetIssueByID(ctx context.Context, id string) (*model.Issue, error) {
	query := `
		SELECT id, subject, body, status, author_id, scheduled_at, started_at, completed_at, send_cursor, sent_count, fail_count, created_at, updated_at
		FROM issues
		WHERE id = $1
	`

	issue, err := scanIssue(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrIssueNotFound
		}
		return nil, fmt.Errorf("failed to get issue by ID: %w", err)
	}

	return issue, nil
}

// ListIssues retrieves a keyset-paginated list of issues, newest first.
func (r *Repository) ListIssues(ctx context.Context, cursor string, limit int) ([]*model.Issue, string, error) {
	var cursorData *PaginationCursor
	if cursor != "" {
		var err error
		cursorData, err = DecodeCursor(cursor)
		if err != nil {
			return nil, "", ErrInvalidCursor
		}
	}

	query := `
		SELECT id, subject, body, status, author_id, scheduled_at, started_at, completed_at, send_cursor, sent_count, fail_count, created_at, updated_at
		FROM issues
		WHERE 1=1
	`
	args := []any{}
	argIndex := 1

	if cursorData != nil {
		query += fmt.Sprintf(" AND (created_at, id) < ($%d, $%d)", argIndex, argIndex+1)
		args = append(args, cursorData.CreatedAt, cursorData.ID)
		argIndex += 2
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", argIndex)
	args = append(args, limit+1)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, "", fmt.Errorf("failed to list issues: %w", err)
	}
	defer rows.Close()

	var issues []*model.Issue
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			return nil, "", fmt.Errorf("failed to scan issue: %w", err)
		}
		issues = append(issues, issue)
	}

	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("error iterating issues: %w", err)
	}

	var nextCursor string
	if len(issues) > limit {
		issues = issues[:limit]
		last := issues[len(issues)-1]
		nextCursor = EncodeCursor(&PaginationCursor{
			ID:        last.ID,
			CreatedAt: last.CreatedAt,
		})
	}

	return issues, nextCursor, nil
}

// UpdateIssueContent updates subject/body/schedule on a draft issue.
func (r *Repository) UpdateIssueContent(ctx context.Context, issue *model.Issue) error {
	query := `
		UPDATE issues
		SET subject = $2, body = $3, scheduled_at = $4, updated_at = NOW()
		WHERE id = $1 AND status = $5
	`

	result, err := r.pool.Exec(ctx, query,
		issue.ID,
		issue.Subject,
		issue.Body,
		issue.ScheduledAt,
		model.IssueStatusDraft,
	)

	if err != nil {
		return fmt.Errorf("failed to update issue: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrIssueNotEditable
	}

	return nil
}

// DeleteIssue removes a draft issue. Non-draft issues are immutable history.
func (r *Repository) DeleteIssue(ctx context.Context, id string) error {
	query := `DELETE FROM issues WHERE id = $1 AND status = $2`

	result, err := r.pool.Exec(ctx, query, id, model.IssueStatusDraft)
	if err != nil {
		return fmt.Errorf("failed to delete issue: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrIssueNotEditable
	}

	return nil
}

// QueueIssue transitions a draft issue to queued.
func (r *Repository) QueueIssue(ctx context.Context, id string, scheduledAt *time.Time) error {
	query := `
		UPDATE issues
		SET status = $2, scheduled_at = $3, updated_at = NOW()
		WHERE id = $1 AND status = $4
	`

	result, err := r.pool.Exec(ctx, query, id, model.IssueStatusQueued, scheduledAt, model.IssueStatusDraft)
	if err != nil {
		return fmt.Errorf("failed to queue issue: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrIssueNotEditable
	}

	return nil
}

// ClaimDueIssue atomically claims the oldest due queued issue by moving it
// to sending. Also reclaims issues stuck in sending (crashed worker) whose
// last progress update is older than staleAfter. Returns ErrIssueNotFound
// when nothing is due.
func (r *Repository) ClaimDueIssue(ctx context.Context, staleAfter time.Duration) (*model.Issue, error) {
	query := `
		UPDATE issues
		SET status = $1, started_at = COALESCE(started_at, NOW()), updated_at = NOW()
		WHERE id = (
			SELECT id FROM issues
			WHERE (status = $2 AND (scheduled_at IS NULL OR scheduled_at <= NOW()))
			   OR (status = $1 AND updated_at < NOW() - $3::interval)
			ORDER BY created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, subject, body, status, author_id, scheduled_at, started_at, completed_at, send_cursor, sent_count, fail_count, created_at, updated_at
	`

	interval := fmt.Sprintf("%d seconds", int(staleAfter.Seconds()))

	issue, err := scanIssue(r.pool.QueryRow(ctx, query,
		model.IssueStatusSending,
		model.IssueStatusQueued,
		interval,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrIssueNotFound
		}
		return nil, fmt.Errorf("failed to claim issue: %w", err)
	}

	return issue, nil
}

// RecordIssueProgress persists the send cursor and counters after a batch.
// The cursor makes a crashed send resumable without re-mailing.
func (r *Repository) RecordIssueProgress(ctx context.Context, id, sendCursor string, sentDelta, failDelta int64) error {
	query := `
		UPDATE issues
		SET send_cursor = $2, sent_count = sent_count + $3, fail_count = fail_count + $4, updated_at = NOW()
		WHERE id = $1
	`

	_, err := r.pool.Exec(ctx, query, id, sendCursor, sentDelta, failDelta)
	if err != nil {
		return fmt.Errorf("failed to record issue progress: %w", err)
	}

	return nil
}

// CompleteIssue moves a sending issue to its terminal state.
func (r *Repository) CompleteIssue(ctx context.Context, id string, status model.IssueStatus) error {
	query := `
		UPDATE issues
		SET status = $2, completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = $3
	`

	result, err := r.pool.Exec(ctx, query, id, status, model.IssueStatusSending)
	if err != nil {
		return fmt.Errorf("failed to complete issue: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrIssueNotFound
	}

	return nil
}

// scanIssue scans a row into an Issue model.
func scanIssue(row pgx.Row) (*model.Issue, error) {
	var issue model.Issue
	err := row.Scan(
		&issue.ID,
		&issue.Subject,
		&issue.Body,
		&issue.Status,
		&issue.AuthorID,
		&issue.ScheduledAt,
		&issue.StartedAt,
		&issue.CompletedAt,
		&issue.SendCursor,
		&issue.SentCount,
		&issue.FailCount,
		&issue.CreatedAt,
		&issue.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &issue, nil
}
