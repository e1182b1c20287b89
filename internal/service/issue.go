package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/quillhq/quill/internal/metrics"
	"github.com/quillhq/quill/internal/model"
	"github.com/quillhq/quill/internal/repository"
)

// Issue service errors.
var (
	ErrInvalidSubject   = errors.New("subject is required")
	ErrSubjectTooLong   = errors.New("subject too long")
	ErrIssueNotFound    = errors.New("issue not found")
	ErrIssueNotEditable = errors.New("issue is not editable")
	ErrScheduleInPast   = errors.New("scheduled_at must be in the future")
)

const maxSubjectLength = 200

// IssueService handles newsletter issue business logic. Actual delivery
// belongs to the newsletter worker; the service only moves issues
// between editable and queued.
type IssueService struct {
	repo    *repository.Repository
	logger  *slog.Logger
	metrics metrics.Recorder
}

// NewIssueService creates an IssueService.
func NewIssueService(repo *repository.Repository, logger *slog.Logger, recorder metrics.Recorder) *IssueService {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &IssueService{
		repo:    repo,
		logger:  logger.With("component", "service.issue"),
		metrics: recorder,
	}
}

// CreateIssueInput defines input for creating an issue.
type CreateIssueInput struct {
	Subject  string
	Body     string
	AuthorID string
}

// CreateIssue creates a new draft issue.
func (s *IssueService) CreateIssue(ctx context.Context, input CreateIssueInput) (*model.Issue, error) {
	subject := strings.TrimSpace(input.Subject)
	if subject == "" {
		return nil, ErrInvalidSubject
	}
	if len(subject) > maxSubjectLength {
		return nil, ErrSubjectTooLong
	}
	if len(input.Body) > maxBodyLength {
		return nil, ErrBodyTooLong
	}

	now := time.Now().UTC()
	issue := &model.Issue{
		ID:        ulid.Make().String(),
		Subject:   subject,
		Body:      input.Body,
		Status:    model.IssueStatusDraft,
		AuthorID:  input.AuthorID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.repo.CreateIssue(ctx, issue); err != nil {
		return nil, err
	}

	return issue, nil
}

// GetIssue retrieves an issue by ID.
func (s *IssueService) GetIssue(ctx context.Context, id string) (*model.Issue, error) {
	issue, err := s.repo.GetIssueByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrIssueNotFound) {
			return nil, ErrIssueNotFound
		}
		return nil, err
	}
	return issue, nil
}

// ListIssuesOutput defines output for listing issues.
type ListIssuesOutput struct {
	Issues     []*model.Issue
	NextCursor string
	HasMore    bool
}

// ListIssues retrieves a paginated list of issues, newest first.
func (s *IssueService) ListIssues(ctx context.Context, cursor string, limit int) (*ListIssuesOutput, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	issues, nextCursor, err := s.repo.ListIssues(ctx, cursor, limit)
	if err != nil {
		return nil, err
	}

	return &ListIssuesOutput{
		Issues:     issues,
		NextCursor: nextCursor,
		HasMore:    nextCursor != "",
	}, nil
}

// UpdateIssueInput defines input for updating a draft issue.
type UpdateIssueInput struct {
	ID      string
	Subject *string
	Body    *string
}

// UpdateIssue updates a draft issue's content.
func (s *IssueService) UpdateIssue(ctx context.Context, input UpdateIssueInput) (*model.Issue, error) {
	issue, err := s.GetIssue(ctx, input.ID)
	if err != nil {
		return nil, err
	}

	if !issue.IsEditable() {
		return nil, ErrIssueNotEditable
	}

	if input.Subject != nil {
		subject := strings.TrimSpace(*input.Subject)
		if subject == "" {
			return nil, ErrInvalidSubject
		}
		if len(subject) > maxSubjectLength {
			return nil, ErrSubjectTooLong
		}
		issue.Subject = subject
	}

	if input.Body != nil {
		if len(*input.Body) > maxBodyLength {
			return nil, ErrBodyTooLong
		}
		issue.Body = *input.Body
	}

	if err := s.repo.UpdateIssueContent(ctx, issue); err != nil {
		if errors.Is(err, repository.ErrIssueNotEditable) {
			return nil, ErrIssueNotEditable
		}
		return nil, err
	}

	return issue, nil
}

// DeleteIssue removes a draft issue.
func (s *IssueService) DeleteIssue(ctx context.Context, id string) error {
	if err := s.repo.DeleteIssue(ctx, id); err != nil {
		if errors.Is(err, repository.ErrIssueNotEditable) {
			return ErrIssueNotEditable
		}
		return err
	}
	return nil
}

// SendIssue queues a draft issue for delivery, optionally at a future
// time. The newsletter worker picks it up once due.
func (s *IssueService) SendIssue(ctx context.Context, id string, scheduledAt *time.Time) (*model.Issue, error) {
	if scheduledAt != nil && scheduledAt.Before(time.Now()) {
		return nil, ErrScheduleInPast
	}

	if err := s.repo.QueueIssue(ctx, id, scheduledAt); err != nil {
		if errors.Is(err, repository.ErrIssueNotEditable) {
			// Either missing or already past draft.
			if _, gerr := s.repo.GetIssueByID(ctx, id); errors.Is(gerr, repository.ErrIssueNotFound) {
				return nil, ErrIssueNotFound
			}
			return nil, ErrIssueNotEditable
		}
		return nil, err
	}

	s.logger.Info("issue queued", "issue_id", id, "scheduled", scheduledAt != nil)

	return s.GetIssue(ctx, id)
}
