// Package model defines domain entities for the application.
package model

import "time"

// IssueStatus represents the delivery state of a newsletter issue.
type IssueStatus string

const (
	IssueStatusDraft   IssueStatus = "draft"
	IssueStatusQueued  IssueStatus = "queued"
	IssueStatusSending IssueStatus = "sending"
	IssueStatusSent    IssueStatus = "sent"
	IssueStatusFailed  IssueStatus = "failed"
)

// Issue represents a single newsletter campaign.
type Issue struct {
	ID          string      `json:"id"`
	Subject     string      `json:"subject"`
	Body        string      `json:"body"`
	Status      IssueStatus `json:"status"`
	AuthorID    string      `json:"author_id"`
	ScheduledAt *time.Time  `json:"scheduled_at,omitempty"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
	// SendCursor is the subscriber pagination cursor for resumable sends.
	SendCursor string `json:"-"`
	SentCount  int64  `json:"sent_count"`
	FailCount  int64  `json:"fail_count"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// IsEditable returns true while the issue content may still change.
func (i *Issue) IsEditable() bool {
	return i.Status == IssueStatusDraft
}

// IsTerminal returns true once the issue delivery has finished.
func (i *Issue) IsTerminal() bool {
	return i.Status == IssueStatusSent || i.Status == IssueStatusFailed
}

// DueAt returns the time the issue becomes eligible for sending.
// An unscheduled queued issue is due immediately.
func (i *Issue) DueAt() time.Time {
	if i.ScheduledAt != nil {
		return *i.ScheduledAt
	}
	return i.CreatedAt
}
