// Package model defines domain entities for the application.
package model

import "time"

// SocialDeliveryStatus represents cross-post delivery state.
type SocialDeliveryStatus string

const (
	SocialStatusPending   SocialDeliveryStatus = "pending"
	SocialStatusSuccess   SocialDeliveryStatus = "success"
	SocialStatusFailed    SocialDeliveryStatus = "failed"
	SocialStatusExhausted SocialDeliveryStatus = "exhausted"
)

// SocialDelivery represents one attempt queue entry to announce a
// published post on a social network.
type SocialDelivery struct {
	ID            string               `json:"id"`
	PostID        string               `json:"post_id"`
	Network       string               `json:"network"`
	Message       string               `json:"message"`
	Status        SocialDeliveryStatus `json:"status"`
	AttemptCount  int                  `json:"attempt_count"`
	MaxAttempts   int                  `json:"max_attempts"`
	NextRetryAt   time.Time            `json:"next_retry_at"`
	LastAttemptAt *time.Time           `json:"last_attempt_at,omitempty"`
	LastError     string               `json:"last_error,omitempty"`
	RemoteID      string               `json:"remote_id,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
	UpdatedAt     time.Time            `json:"updated_at"`
}

// IsTerminal returns true if the delivery is in a final state.
func (d *SocialDelivery) IsTerminal() bool {
	return d.Status == SocialStatusSuccess || d.Status == SocialStatusExhausted
}
