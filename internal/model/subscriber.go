// Package model defines domain entities for the application.
package model

import "time"

// SubscriberStatus represents the lifecycle state of a subscriber.
type SubscriberStatus string

const (
	// SubscriberStatusPending means the address has not confirmed yet.
	SubscriberStatusPending SubscriberStatus = "pending"
	// SubscriberStatusActive means the address completed double opt-in.
	SubscriberStatusActive SubscriberStatus = "active"
	// SubscriberStatusUnsubscribed means the address opted out.
	SubscriberStatusUnsubscribed SubscriberStatus = "unsubscribed"
	// SubscriberStatusBounced means the provider reported a hard bounce.
	SubscriberStatusBounced SubscriberStatus = "bounced"
)

// Subscriber represents a newsletter recipient.
type Subscriber struct {
	ID               string           `json:"id"`
	Email            string           `json:"email"`
	Status           SubscriberStatus `json:"status"`
	ConfirmTokenHash string           `json:"-"` // Never serialize
	ConfirmedAt      *time.Time       `json:"confirmed_at,omitempty"`
	UnsubscribedAt   *time.Time       `json:"unsubscribed_at,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// IsSendable returns true if the subscriber should receive issues.
func (s *Subscriber) IsSendable() bool {
	return s.Status == SubscriberStatusActive
}

// CanResendConfirmation returns true if a new confirm token may be issued.
// Unsubscribed and bounced addresses must not be re-mailed.
func (s *Subscriber) CanResendConfirmation() bool {
	return s.Status == SubscriberStatusPending
}
