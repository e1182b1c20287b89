// Package service provides business logic for the application.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/quillhq/quill/internal/cache"
	"github.com/quillhq/quill/internal/metrics"
	"github.com/quillhq/quill/internal/model"
	"github.com/quillhq/quill/internal/repository"
	"github.com/quillhq/quill/internal/social"
)

// Service errors.
var (
	ErrInvalidTitle     = errors.New("title is required")
	ErrInvalidSlug      = errors.New("invalid slug format")
	ErrSlugExists       = errors.New("slug already exists")
	ErrSlugReserved     = errors.New("slug is reserved")
	ErrPostNotFound     = errors.New("post not found")
	ErrAlreadyPublished = errors.New("post is already published")
	ErrNotPublished     = errors.New("post is not published")
	ErrBodyTooLong      = errors.New("post body too long")
	ErrTitleTooLong     = errors.New("title too long")
)

// Slug validation regex: 3-100 chars, lowercase alphanumeric + hyphen,
// no leading/trailing/doubled hyphens.
var slugRegex = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

const (
	maxTitleLength = 200
	maxBodyLength  = 1 << 20 // 1 MB of markup is plenty
	minSlugLength  = 3
	maxSlugLength  = 100
	maxSlugRetries = 3
)

// reservedSlugs collide with routes served off the site root.
var reservedSlugs = map[string]bool{
	"feed":       true,
	"rss":        true,
	"posts":      true,
	"admin":      true,
	"api":        true,
	"newsletter": true,
	"healthz":    true,
	"readyz":     true,
	"metricz":    true,
}

// PostService handles post business logic.
type PostService struct {
	repo     *repository.Repository
	cache    *cache.Cache
	baseURL  string
	networks []string
	logger   *slog.Logger
	metrics  metrics.Recorder
}

// NewPostService creates a new PostService. networks lists the social
// networks fanned out to on publish.
func NewPostService(repo *repository.Repository, c *cache.Cache, baseURL string, networks []string, logger *slog.Logger, recorder metrics.Recorder) *PostService {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &PostService{
		repo:     repo,
		cache:    c,
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		networks: networks,
		logger:   logger.With("component", "service.post"),
		metrics:  recorder,
	}
}

// BaseURL returns the configured public base URL.
func (s *PostService) BaseURL() string {
	return s.baseURL
}

// CreatePostInput defines input for creating a post.
type CreatePostInput struct {
	Title    string
	Slug     string
	Summary  string
	Body     string
	AuthorID string
}

// CreatePost creates a new draft post.
func (s *PostService) CreatePost(ctx context.Context, input CreatePostInput) (*model.Post, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, ErrInvalidTitle
	}
	if len(title) > maxTitleLength {
		return nil, ErrTitleTooLong
	}
	if len(input.Body) > maxBodyLength {
		return nil, ErrBodyTooLong
	}

	slug := input.Slug
	if slug != "" {
		if err := ValidateSlug(slug); err != nil {
			return nil, err
		}
	} else {
		var err error
		slug, err = s.generateUniqueSlug(ctx, title)
		if err != nil {
			return nil, fmt.Errorf("failed to generate slug: %w", err)
		}
	}

	now := time.Now().UTC()
	post := &model.Post{
		ID:        ulid.Make().String(),
		Slug:      slug,
		Title:     title,
		Summary:   strings.TrimSpace(input.Summary),
		Body:      input.Body,
		Status:    model.PostStatusDraft,
		AuthorID:  input.AuthorID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.repo.CreatePost(ctx, post); err != nil {
		if errors.Is(err, repository.ErrSlugExists) {
			return nil, ErrSlugExists
		}
		return nil, fmt.Errorf("failed to create post: %w", err)
	}

	s.metrics.IncPostCreated()

	return post, nil
}

// GetPost retrieves a post by ID.
func (s *PostService) GetPost(ctx context.Context, id string) (*model.Post, error) {
	post, err := s.repo.GetPostByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrPostNotFound) {
			return nil, ErrPostNotFound
		}
		return nil, err
	}
	return post, nil
}

// GetPostBySlug retrieves a post by its public slug.
func (s *PostService) GetPostBySlug(ctx context.Context, slug string) (*model.Post, error) {
	post, err := s.repo.GetPostBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, repository.ErrPostNotFound) {
			return nil, ErrPostNotFound
		}
		return nil, err
	}
	return post, nil
}

// ListPostsInput defines input for listing posts.
type ListPostsInput struct {
	AuthorID      string
	Status        string
	Cursor        string
	Limit         int
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
}

// ListPostsOutput defines output for listing posts.
type ListPostsOutput struct {
	Posts      []*model.Post
	NextCursor string
	HasMore    bool
}

// ListPosts retrieves a paginated list of posts.
func (s *PostService) ListPosts(ctx context.Context, input ListPostsInput) (*ListPostsOutput, error) {
	if input.Limit <= 0 || input.Limit > 100 {
		input.Limit = 20
	}

	filter := repository.PostFilter{
		AuthorID:      input.AuthorID,
		Status:        model.PostStatus(input.Status),
		CreatedAfter:  input.CreatedAfter,
		CreatedBefore: input.CreatedBefore,
	}

	posts, nextCursor, err := s.repo.ListPosts(ctx, filter, input.Cursor, input.Limit)
	if err != nil {
		return nil, err
	}

	return &ListPostsOutput{
		Posts:      posts,
		NextCursor: nextCursor,
		HasMore:    nextCursor != "",
	}, nil
}

// UpdatePostInput defines input for updating a post.
type UpdatePostInput struct {
	ID      string
	Title   *string
	Summary *string
	Body    *string
	Slug    *string
}

// UpdatePost updates a post's mutable fields. The slug of a published
// post cannot change: it is the feed GUID and the social announcement URL.
func (s *PostService) UpdatePost(ctx context.Context, input UpdatePostInput) (*model.Post, error) {
	post, err := s.repo.GetPostByID(ctx, input.ID)
	if err != nil {
		if errors.Is(err, repository.ErrPostNotFound) {
			return nil, ErrPostNotFound
		}
		return nil, err
	}

	if input.Title != nil {
		title := strings.TrimSpace(*input.Title)
		if title == "" {
			return nil, ErrInvalidTitle
		}
		if len(title) > maxTitleLength {
			return nil, ErrTitleTooLong
		}
		post.Title = title
	}

	if input.Summary != nil {
		post.Summary = strings.TrimSpace(*input.Summary)
	}

	if input.Body != nil {
		if len(*input.Body) > maxBodyLength {
			return nil, ErrBodyTooLong
		}
		post.Body = *input.Body
	}

	if input.Slug != nil && *input.Slug != post.Slug {
		if post.IsPublished() {
			return nil, ErrAlreadyPublished
		}
		if err := ValidateSlug(*input.Slug); err != nil {
			return nil, err
		}
		post.Slug = *input.Slug
	}

	if err := s.repo.UpdatePost(ctx, post); err != nil {
		if errors.Is(err, repository.ErrSlugExists) {
			return nil, ErrSlugExists
		}
		return nil, err
	}

	if post.IsPublished() {
		s.invalidateFeed(ctx)
	}

	return post, nil
}

// DeletePost soft-deletes a post.
func (s *PostService) DeletePost(ctx context.Context, id string) error {
	post, err := s.repo.GetPostByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrPostNotFound) {
			return ErrPostNotFound
		}
		return err
	}

	if err := s.repo.DeletePost(ctx, id); err != nil {
		return err
	}

	if post.IsPublished() {
		s.invalidateFeed(ctx)
	}

	return nil
}

// PublishPost transitions a draft to published, invalidates the feed,
// and queues one cross-post delivery per configured network. Publishing
// is idempotent only in the negative sense: a second call fails.
func (s *PostService) PublishPost(ctx context.Context, id string) (*model.Post, error) {
	post, err := s.repo.GetPostByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrPostNotFound) {
			return nil, ErrPostNotFound
		}
		return nil, err
	}

	if post.IsPublished() {
		return nil, ErrAlreadyPublished
	}

	now := time.Now().UTC()
	post.Status = model.PostStatusPublished
	post.PublishedAt = &now
	post.UpdatedAt = now

	if err := s.repo.UpdatePost(ctx, post); err != nil {
		return nil, err
	}

	s.metrics.IncPostPublished()
	s.invalidateFeed(ctx)

	// Queue announcements. The worker owns delivery and retries; a
	// queue insert failure must not unpublish the post.
	message := fmt.Sprintf("%s %s", post.Title, post.CanonicalURL(s.baseURL))
	for _, network := range s.networks {
		d := &model.SocialDelivery{
			ID:          ulid.Make().String(),
			PostID:      post.ID,
			Network:     network,
			Message:     message,
			Status:      model.SocialStatusPending,
			MaxAttempts: social.DefaultMaxAttempts,
			NextRetryAt: now,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.repo.CreateSocialDelivery(ctx, d); err != nil {
			s.logger.Error("failed to queue cross-post",
				"post_id", post.ID,
				"network", network,
				"error", err,
			)
		}
	}

	return post, nil
}

// UnpublishPost returns a published post to draft and drops it from the
// feed. Queued cross-posts are left alone: an announcement already on the
// wire cannot be recalled, and pending ones point at a now-404 URL the
// worker will report as a permanent failure.
func (s *PostService) UnpublishPost(ctx context.Context, id string) (*model.Post, error) {
	post, err := s.repo.GetPostByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrPostNotFound) {
			return nil, ErrPostNotFound
		}
		return nil, err
	}

	if !post.IsPublished() {
		return nil, ErrNotPublished
	}

	post.Status = model.PostStatusDraft
	post.PublishedAt = nil
	post.UpdatedAt = time.Now().UTC()

	if err := s.repo.UpdatePost(ctx, post); err != nil {
		return nil, err
	}

	s.invalidateFeed(ctx)

	return post, nil
}

// ListSocialDeliveries returns the cross-post status for a post.
func (s *PostService) ListSocialDeliveries(ctx context.Context, postID string) ([]*model.SocialDelivery, error) {
	if _, err := s.GetPost(ctx, postID); err != nil {
		return nil, err
	}
	return s.repo.ListSocialDeliveriesByPost(ctx, postID)
}

// invalidateFeed drops the cached feed document. Best effort: the
// cache entry expires on its own TTL anyway.
func (s *PostService) invalidateFeed(ctx context.Context) {
	if err := s.cache.InvalidateFeed(ctx); err != nil {
		s.logger.Warn("failed to invalidate feed cache", "error", err)
	}
}

// ValidateSlug checks slug format and the reserved list.
func ValidateSlug(slug string) error {
	if len(slug) < minSlugLength || len(slug) > maxSlugLength {
		return ErrInvalidSlug
	}
	if !slugRegex.MatchString(slug) {
		return ErrInvalidSlug
	}
	if reservedSlugs[slug] {
		return ErrSlugReserved
	}
	return nil
}

// Slugify derives a URL slug from a title.
func Slugify(title string) string {
	var b strings.Builder
	lastHyphen := true // Suppress leading hyphen
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		case !lastHyphen:
			b.WriteByte('-')
			lastHyphen = true
		}
	}
	slug := strings.TrimSuffix(b.String(), "-")
	if len(slug) > maxSlugLength {
		slug = strings.TrimSuffix(slug[:maxSlugLength], "-")
	}
	return slug
}

// generateUniqueSlug slugifies the title and suffixes on collision.
func (s *PostService) generateUniqueSlug(ctx context.Context, title string) (string, error) {
	base := Slugify(title)
	if len(base) < minSlugLength || reservedSlugs[base] {
		base = base + "-" + strings.ToLower(ulid.Make().String()[20:])
	}

	candidate := base
	for i := 0; i <= maxSlugRetries; i++ {
		exists, err := s.repo.SlugExists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d", base, i+2)
	}

	// Collision storm: fall back to a random suffix.
	return base + "-" + strings.ToLower(ulid.Make().String()[20:]), nil
}
