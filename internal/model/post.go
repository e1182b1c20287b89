// Package model defines domain entities for the application.
package model

import "time"

// PostStatus represents the publication state of a post.
type PostStatus string

const (
	PostStatusDraft     PostStatus = "draft"
	PostStatusPublished PostStatus = "published"
)

// Post represents a piece of published content.
type Post struct {
	ID          string     `json:"id"`
	Slug        string     `json:"slug"`
	Title       string     `json:"title"`
	Summary     string     `json:"summary,omitempty"`
	Body        string     `json:"body"`
	Status      PostStatus `json:"status"`
	AuthorID    string     `json:"author_id"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	DeletedAt   *time.Time `json:"-"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// IsPublished returns true if the post is visible to readers.
func (p *Post) IsPublished() bool {
	return p.Status == PostStatusPublished && p.DeletedAt == nil
}

// CanonicalURL returns the public URL for the post under baseURL.
func (p *Post) CanonicalURL(baseURL string) string {
	return baseURL + "/posts/" + p.Slug
}
