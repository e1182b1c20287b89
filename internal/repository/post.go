package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/quillhq/quill/internal/model"
)

// Common errors for post repository operations.
var (
	ErrPostNotFound = errors.New("post not found")
	ErrSlugExists   = errors.New("slug already exists")
)

// PostFilter defines filters for listing posts.
type PostFilter struct {
	AuthorID      string
	Status        model.PostStatus
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
}

// CreatePost inserts a new post into the database.
func (r *Repository) CreatePost(ctx context.Context, post *model.Post) error {
	query := `
		INSERT INTO posts (id, slug, title, summary, body, status, author_id, published_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.pool.Exec(ctx, query,
		post.ID,
		post.Slug,
		post.Title,
		post.Summary,
		post.Body,
		post.Status,
		post.AuthorID,
		post.PublishedAt,
		post.CreatedAt,
		post.UpdatedAt,
	)

	if err != nil {
		if isUniqueViolation(err) {
			return ErrSlugExists
		}
		return fmt.Errorf("failed to create post: %w", err)
	}

	return nil
}

// GetPostByID retrieves a post by its ID.
func (r *Repository) GetPostByID(ctx context.Context, id string) (*model.Post, error) {
	query := `
		SELECT id, slug, title, summary, body, status, author_id, published_at, deleted_at, created_at, updated_at
		FROM posts
		WHERE id = $1 AND deleted_at IS NULL
	`

	post, err := scanPost(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPostNotFound
		}
		return nil, fmt.Errorf("failed to get post by ID: %w", err)
	}

	return post, nil
}

// GetPostBySlug retrieves a post by its slug.
func (r *Repository) GetPostBySlug(ctx context.Context, slug string) (*model.Post, error) {
	query := `
		SELECT id, slug, title, summary, body, status, author_id, published_at, deleted_at, created_at, updated_at
		FROM posts
		WHERE slug = $1 AND deleted_at IS NULL
	`

	post, err := scanPost(r.pool.QueryRow(ctx, query, slug))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPostNotFound
		}
		return nil, fmt.Errorf("failed to get post by slug: %w", err)
	}

	return post, nil
}

// ListPosts retrieves a keyset-paginated list of posts.
func (r *Repository) ListPosts(ctx context.Context, filter PostFilter, cursor string, limit int) ([]*model.Post, string, error) {
	var cursorData *PaginationCursor
	if cursor != "" {
		var err error
		cursorData, err = DecodeCursor(cursor)
		if err != nil {
			return nil, "", ErrInvalidCursor
		}
	}

	query := `
		SELECT id, slug, title, summary, body, status, author_id, published_at, deleted_at, created_at, updated_at
		FROM posts
		WHERE deleted_at IS NULL
	`
	args := []any{}
	argIndex := 1

	if filter.AuthorID != "" {
		query += fmt.Sprintf(" AND author_id = $%d", argIndex)
		args = append(args, filter.AuthorID)
		argIndex++
	}

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIndex)
		args = append(args, filter.Status)
		argIndex++
	}

	if cursorData != nil {
		query += fmt.Sprintf(" AND (created_at, id) < ($%d, $%d)", argIndex, argIndex+1)
		args = append(args, cursorData.CreatedAt, cursorData.ID)
		argIndex += 2
	}

	if filter.CreatedAfter != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIndex)
		args = append(args, *filter.CreatedAfter)
		argIndex++
	}

	if filter.CreatedBefore != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIndex)
		args = append(args, *filter.CreatedBefore)
		argIndex++
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", argIndex)
	args = append(args, limit+1) // Fetch one extra to determine hasMore

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, "", fmt.Errorf("failed to list posts: %w", err)
	}
	defer rows.Close()

	var posts []*model.Post
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, "", fmt.Errorf("failed to scan post: %w", err)
		}
		posts = append(posts, post)
	}

	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("error iterating posts: %w", err)
	}

	var nextCursor string
	if len(posts) > limit {
		posts = posts[:limit]
		last := posts[len(posts)-1]
		nextCursor = EncodeCursor(&PaginationCursor{
			ID:        last.ID,
			CreatedAt: last.CreatedAt,
		})
	}

	return posts, nextCursor, nil
}

// ListPublishedPosts returns the newest published posts for the feed.
func (r *Repository) ListPublishedPosts(ctx context.Context, limit int) ([]*model.Post, error) {
	query := `
		SELECT id, slug, title, summary, body, status, author_id, published_at, deleted_at, created_at, updated_at
		FROM posts
		WHERE deleted_at IS NULL AND status = $1
		ORDER BY published_at DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, model.PostStatusPublished, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list published posts: %w", err)
	}
	defer rows.Close()

	var posts []*model.Post
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan post: %w", err)
		}
		posts = append(posts, post)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating posts: %w", err)
	}

	return posts, nil
}

// UpdatePost updates a post's mutable fields.
func (r *Repository) UpdatePost(ctx context.Context, post *model.Post) error {
	query := `
		UPDATE posts
		SET slug = $2, title = $3, summary = $4, body = $5, status = $6, published_at = $7, updated_at = $8
		WHERE id = $1 AND deleted_at IS NULL
	`

	result, err := r.pool.Exec(ctx, query,
		post.ID,
		post.Slug,
		post.Title,
		post.Summary,
		post.Body,
		post.Status,
		post.PublishedAt,
		post.UpdatedAt,
	)

	if err != nil {
		if isUniqueViolation(err) {
			return ErrSlugExists
		}
		return fmt.Errorf("failed to update post: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrPostNotFound
	}

	return nil
}

// DeletePost performs a soft delete on a post.
func (r *Repository) DeletePost(ctx context.Context, id string) error {
	query := `
		UPDATE posts
		SET deleted_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
	`

	result, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete post: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrPostNotFound
	}

	return nil
}

// SlugExists checks if a slug is already taken.
func (r *Repository) SlugExists(ctx context.Context, slug string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM posts WHERE slug = $1 AND deleted_at IS NULL)`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, slug).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check slug existence: %w", err)
	}

	return exists, nil
}

// scanPost scans a row into a Post model.
func scanPost(row pgx.Row) (*model.Post, error) {
	var post model.Post
	err := row.Scan(
		&post.ID,
		&post.Slug,
		&post.Title,
		&post.Summary,
		&post.Body,
		&post.Status,
		&post.AuthorID,
		&post.PublishedAt,
		&post.DeletedAt,
		&post.CreatedAt,
		&post.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &post, nil
}
