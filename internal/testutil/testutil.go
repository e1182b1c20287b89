// Package testutil provides helpers for integration tests.
package testutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"

	"github.com/quillhq/quill/internal/model"
)

// RequireEnv returns an environment variable or skips the test if missing.
func RequireEnv(t testing.TB, key string) string {
	t.Helper()
	value := os.Getenv(key)
	if value == "" {
		t.Skipf("%s not set", key)
	}
	return value
}

const advisoryLockID int64 = 771177

// AcquireDBLock grabs a global advisory lock to serialize DB tests.
func AcquireDBLock(ctx context.Context, pool *pgxpool.Pool) (func() error, error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}

	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", advisoryLockID); err != nil {
		conn.Release()
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}

	unlock := func() error {
		defer conn.Release()
		if _, err := conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", advisoryLockID); err != nil {
			return fmt.Errorf("release advisory lock: %w", err)
		}
		return nil
	}

	return unlock, nil
}

// ResetSchema drops and recreates one table's schema from its migration
// pair, e.g. ResetSchema(ctx, pool, "000001_posts").
func ResetSchema(ctx context.Context, pool *pgxpool.Pool, migration string) error {
	root, err := ProjectRoot()
	if err != nil {
		return err
	}

	downSQL, err := os.ReadFile(filepath.Join(root, "migrations", migration+".down.sql"))
	if err != nil {
		return fmt.Errorf("read down migration: %w", err)
	}
	if _, err := pool.Exec(ctx, string(downSQL)); err != nil {
		return fmt.Errorf("apply down migration: %w", err)
	}

	upSQL, err := os.ReadFile(filepath.Join(root, "migrations", migration+".up.sql"))
	if err != nil {
		return fmt.Errorf("read up migration: %w", err)
	}
	if _, err := pool.Exec(ctx, string(upSQL)); err != nil {
		return fmt.Errorf("apply up migration: %w", err)
	}

	return nil
}

// FlushRedis clears the current Redis database.
func FlushRedis(ctx context.Context, client *redis.Client) error {
	return client.FlushDB(ctx).Err()
}

// ProjectRoot returns the project root directory.
func ProjectRoot() (string, error) {
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		return "", fmt.Errorf("failed to resolve testutil path")
	}
	root := filepath.Clean(filepath.Join(filepath.Dir(filename), "..", ".."))
	return root, nil
}

// ============================================================================
// Test Data Factories
// ============================================================================

// NewTestPost creates a draft post with sensible defaults.
func NewTestPost(t testing.TB, slug string) *model.Post {
	t.Helper()
	now := time.Now().UTC()
	return &model.Post{
		ID:        ulid.Make().String(),
		Slug:      slug,
		Title:     "Test post " + slug,
		Body:      "<p>Body of " + slug + "</p>",
		Status:    model.PostStatusDraft,
		AuthorID:  "test-author",
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NewTestPublishedPost creates a published post.
func NewTestPublishedPost(t testing.TB, slug string, publishedAt time.Time) *model.Post {
	t.Helper()
	post := NewTestPost(t, slug)
	post.Status = model.PostStatusPublished
	post.PublishedAt = &publishedAt
	return post
}

// NewTestSubscriber creates a pending subscriber.
func NewTestSubscriber(t testing.TB, email string) *model.Subscriber {
	t.Helper()
	now := time.Now().UTC()
	return &model.Subscriber{
		ID:               ulid.Make().String(),
		Email:            email,
		Status:           model.SubscriberStatusPending,
		ConfirmTokenHash: "digest-" + email,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// NewTestIssue creates a draft issue.
func NewTestIssue(t testing.TB, subject string) *model.Issue {
	t.Helper()
	now := time.Now().UTC()
	return &model.Issue{
		ID:        ulid.Make().String(),
		Subject:   subject,
		Body:      "<p>" + subject + "</p>",
		Status:    model.IssueStatusDraft,
		AuthorID:  "test-author",
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NewTestAPIKey creates a test API key with sensible defaults.
func NewTestAPIKey(t testing.TB, userID string) *model.APIKey {
	t.Helper()
	now := time.Now().UTC()
	return &model.APIKey{
		ID:            ulid.Make().String(),
		UserID:        userID,
		KeyHash:       fmt.Sprintf("hash-%d", now.UnixNano()),
		KeyPrefix:     "qk_test_",
		Scopes:        []string{model.ScopeRead, model.ScopeWrite},
		RateLimitTier: model.TierFree,
		Name:          "Test Key",
		CreatedAt:     now,
	}
}

// UniqueEmail generates a unique email address for tests.
func UniqueEmail(prefix string) string {
	return fmt.Sprintf("%s-%d@example.com", prefix, time.Now().UnixNano())
}

// UniqueID generates a unique ID for tests.
func UniqueID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}
