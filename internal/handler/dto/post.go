package dto

import (
	"time"

	"github.com/quillhq/quill/internal/model"
)

// CreatePostRequest represents the request body for creating a post.
type CreatePostRequest struct {
	Title   string `json:"title"`
	Slug    string `json:"slug,omitempty"`
	Summary string `json:"summary,omitempty"`
	Body    string `json:"body"`
}

// UpdatePostRequest represents the request body for updating a post.
type UpdatePostRequest struct {
	Title   *string `json:"title,omitempty"`
	Slug    *string `json:"slug,omitempty"`
	Summary *string `json:"summary,omitempty"`
	Body    *string `json:"body,omitempty"`
}

// PostResponse represents a post in API responses.
type PostResponse struct {
	ID          string     `json:"id"`
	Slug        string     `json:"slug"`
	URL         string     `json:"url"`
	Title       string     `json:"title"`
	Summary     string     `json:"summary,omitempty"`
	Body        string     `json:"body"`
	Status      string     `json:"status"`
	AuthorID    string     `json:"author_id"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// PostListResponse represents a paginated list of posts.
type PostListResponse struct {
	Data       []PostResponse `json:"data"`
	Pagination *Pagination    `json:"pagination"`
}

// SocialDeliveryResponse represents a cross-post delivery in API responses.
type SocialDeliveryResponse struct {
	ID            string     `json:"id"`
	Network       string     `json:"network"`
	Status        string     `json:"status"`
	AttemptCount  int        `json:"attempt_count"`
	MaxAttempts   int        `json:"max_attempts"`
	NextRetryAt   *time.Time `json:"next_retry_at,omitempty"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
	RemoteID      string     `json:"remote_id,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// SocialDeliveryListResponse wraps the cross-post status for a post.
type SocialDeliveryListResponse struct {
	Data []SocialDeliveryResponse `json:"data"`
}

// ToPostResponse converts a Post model to PostResponse DTO.
func ToPostResponse(post *model.Post, baseURL string) *PostResponse {
	return &PostResponse{
		ID:          post.ID,
		Slug:        post.Slug,
		URL:         post.CanonicalURL(baseURL),
		Title:       post.Title,
		Summary:     post.Summary,
		Body:        post.Body,
		Status:      string(post.Status),
		AuthorID:    post.AuthorID,
		PublishedAt: post.PublishedAt,
		CreatedAt:   post.CreatedAt,
		UpdatedAt:   post.UpdatedAt,
	}
}

// ToPostListResponse converts a slice of Post models to PostListResponse.
func ToPostListResponse(posts []*model.Post, baseURL, nextCursor string, hasMore bool) *PostListResponse {
	responses := make([]PostResponse, len(posts))
	for i, post := range posts {
		responses[i] = *ToPostResponse(post, baseURL)
	}
	return &PostListResponse{
		Data: responses,
		Pagination: &Pagination{
			NextCursor: nextCursor,
			HasMore:    hasMore,
		},
	}
}

// ToSocialDeliveryResponse converts a SocialDelivery model to its DTO.
func ToSocialDeliveryResponse(d *model.SocialDelivery) *SocialDeliveryResponse {
	resp := &SocialDeliveryResponse{
		ID:            d.ID,
		Network:       d.Network,
		Status:        string(d.Status),
		AttemptCount:  d.AttemptCount,
		MaxAttempts:   d.MaxAttempts,
		LastAttemptAt: d.LastAttemptAt,
		LastError:     d.LastError,
		RemoteID:      d.RemoteID,
		CreatedAt:     d.CreatedAt,
	}
	// Only deliveries still awaiting an attempt have a retry time.
	if !d.IsTerminal() && !d.NextRetryAt.IsZero() {
		next := d.NextRetryAt
		resp.NextRetryAt = &next
	}
	return resp
}

// ToSocialDeliveryListResponse converts deliveries to the list DTO.
func ToSocialDeliveryListResponse(deliveries []*model.SocialDelivery) *SocialDeliveryListResponse {
	responses := make([]SocialDeliveryResponse, len(deliveries))
	for i, d := range deliveries {
		responses[i] = *ToSocialDeliveryResponse(d)
	}
	return &SocialDeliveryListResponse{Data: responses}
}
