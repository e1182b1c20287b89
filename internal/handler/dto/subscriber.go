package dto

import (
	"time"

	"github.com/quillhq/quill/internal/model"
)

// SubscribeRequest represents the request body for a newsletter signup.
type SubscribeRequest struct {
	Email string `json:"email"`
}

// SubscriberResponse represents a subscriber in admin API responses.
type SubscriberResponse struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	Status      string     `json:"status"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// SubscriberListResponse represents a paginated list of subscribers.
type SubscriberListResponse struct {
	Data       []SubscriberResponse `json:"data"`
	Total      int64                `json:"total"`
	Pagination *Pagination          `json:"pagination"`
}

// ToSubscriberResponse converts a Subscriber model to its DTO.
func ToSubscriberResponse(sub *model.Subscriber) *SubscriberResponse {
	return &SubscriberResponse{
		ID:          sub.ID,
		Email:       sub.Email,
		Status:      string(sub.Status),
		ConfirmedAt: sub.ConfirmedAt,
		CreatedAt:   sub.CreatedAt,
	}
}

// ToSubscriberListResponse converts subscribers to the list DTO.
func ToSubscriberListResponse(subs []*model.Subscriber, total int64, nextCursor string, hasMore bool) *SubscriberListResponse {
	responses := make([]SubscriberResponse, len(subs))
	for i, sub := range subs {
		responses[i] = *ToSubscriberResponse(sub)
	}
	return &SubscriberListResponse{
		Data:  responses,
		Total: total,
		Pagination: &Pagination{
			NextCursor: nextCursor,
			HasMore:    hasMore,
		},
	}
}
