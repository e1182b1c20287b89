package dto

import (
	"time"

	"github.com/quillhq/quill/internal/model"
)

// CreateIssueRequest represents the request body for creating an issue.
type CreateIssueRequest struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// UpdateIssueRequest represents the request body for updating a draft issue.
type UpdateIssueRequest struct {
	Subject *string `json:"subject,omitempty"`
	Body    *string `json:"body,omitempty"`
}

// SendIssueRequest represents the request body for queueing an issue.
type SendIssueRequest struct {
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
}

// IssueResponse represents a newsletter issue in API responses.
type IssueResponse struct {
	ID          string     `json:"id"`
	Subject     string     `json:"subject"`
	Body        string     `json:"body"`
	Status      string     `json:"status"`
	AuthorID    string     `json:"author_id"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	SentCount   int64      `json:"sent_count"`
	FailCount   int64      `json:"fail_count"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// IssueListResponse represents a paginated list of issues.
type IssueListResponse struct {
	Data       []IssueResponse `json:"data"`
	Pagination *Pagination     `json:"pagination"`
}

// ToIssueResponse converts an Issue model to IssueResponse DTO.
func ToIssueResponse(issue *model.Issue) *IssueResponse {
	return &IssueResponse{
		ID:          issue.ID,
		Subject:     issue.Subject,
		Body:        issue.Body,
		Status:      string(issue.Status),
		AuthorID:    issue.AuthorID,
		ScheduledAt: issue.ScheduledAt,
		StartedAt:   issue.StartedAt,
		CompletedAt: issue.CompletedAt,
		SentCount:   issue.SentCount,
		FailCount:   issue.FailCount,
		CreatedAt:   issue.CreatedAt,
		UpdatedAt:   issue.UpdatedAt,
	}
}

// ToIssueListResponse converts a slice of Issue models to IssueListResponse.
func ToIssueListResponse(issues []*model.Issue, nextCursor string, hasMore bool) *IssueListResponse {
	responses := make([]IssueResponse, len(issues))
	for i, issue := range issues {
		responses[i] = *ToIssueResponse(issue)
	}
	return &IssueListResponse{
		Data: responses,
		Pagination: &Pagination{
			NextCursor: nextCursor,
			HasMore:    hasMore,
		},
	}
}
