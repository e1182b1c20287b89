//go:build integration

package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/quillhq/quill/internal/model"
	"github.com/quillhq/quill/internal/testutil"
)

func TestIntegrationPostRepository_CreatePost(t *testing.T) {
	ctx, repo := newPostTestEnv(t)

	post := testutil.NewTestPost(t, testutil.UniqueID("create"))

	if err := repo.CreatePost(ctx, post); err != nil {
		t.Fatalf("CreatePost failed: %v", err)
	}

	retrieved, err := repo.GetPostByID(ctx, post.ID)
	if err != nil {
		t.Fatalf("GetPostByID failed: %v", err)
	}

	if retrieved.Slug != post.Slug {
		t.Errorf("Slug mismatch: got %q, want %q", retrieved.Slug, post.Slug)
	}
	if retrieved.Status != model.PostStatusDraft {
		t.Errorf("Status = %q, want draft", retrieved.Status)
	}
}

func TestIntegrationPostRepository_CreatePost_DuplicateSlug(t *testing.T) {
	ctx, repo := newPostTestEnv(t)

	slug := testutil.UniqueID("dup")
	first := testutil.NewTestPost(t, slug)
	second := testutil.NewTestPost(t, slug)

	if err := repo.CreatePost(ctx, first); err != nil {
		t.Fatalf("CreatePost (first) failed: %v", err)
	}

	if err := repo.CreatePost(ctx, second); !errors.Is(err, ErrSlugExists) {
		t.Errorf("Expected ErrSlugExists, got: %v", err)
	}
}

func TestIntegrationPostRepository_DeletedPostFreesSlug(t *testing.T) {
	ctx, repo := newPostTestEnv(t)

	slug := testutil.UniqueID("freed")
	first := testutil.NewTestPost(t, slug)

	if err := repo.CreatePost(ctx, first); err != nil {
		t.Fatalf("CreatePost failed: %v", err)
	}
	if err := repo.DeletePost(ctx, first.ID); err != nil {
		t.Fatalf("DeletePost failed: %v", err)
	}

	second := testutil.NewTestPost(t, slug)
	if err := repo.CreatePost(ctx, second); err != nil {
		t.Errorf("CreatePost after delete failed: %v", err)
	}
}

func TestIntegrationPostRepository_GetByID_NotFound(t *testing.T) {
	ctx, repo := newPostTestEnv(t)

	if _, err := repo.GetPostByID(ctx, "nonexistent-id"); !errors.Is(err, ErrPostNotFound) {
		t.Errorf("Expected ErrPostNotFound, got: %v", err)
	}
}

func TestIntegrationPostRepository_ListPublishedPosts(t *testing.T) {
	ctx, repo := newPostTestEnv(t)

	now := time.Now().UTC()
	older := testutil.NewTestPublishedPost(t, testutil.UniqueID("older"), now.Add(-time.Hour))
	newer := testutil.NewTestPublishedPost(t, testutil.UniqueID("newer"), now)
	draft := testutil.NewTestPost(t, testutil.UniqueID("draft"))

	for _, p := range []*model.Post{older, newer, draft} {
		if err := repo.CreatePost(ctx, p); err != nil {
			t.Fatalf("CreatePost failed: %v", err)
		}
	}

	posts, err := repo.ListPublishedPosts(ctx, 10)
	if err != nil {
		t.Fatalf("ListPublishedPosts failed: %v", err)
	}

	if len(posts) != 2 {
		t.Fatalf("got %d posts, want 2", len(posts))
	}
	if posts[0].ID != newer.ID {
		t.Errorf("expected newest post first, got %s", posts[0].ID)
	}
}

func TestIntegrationPostRepository_ListPosts_CursorPagination(t *testing.T) {
	ctx, repo := newPostTestEnv(t)

	for i := 0; i < 5; i++ {
		post := testutil.NewTestPost(t, testutil.UniqueID("page"))
		if err := repo.CreatePost(ctx, post); err != nil {
			t.Fatalf("CreatePost failed: %v", err)
		}
		// Distinct created_at so cursor ordering is deterministic.
		time.Sleep(2 * time.Millisecond)
	}

	firstPage, cursor, err := repo.ListPosts(ctx, PostFilter{}, "", 3)
	if err != nil {
		t.Fatalf("ListPosts (first page) failed: %v", err)
	}
	if len(firstPage) != 3 {
		t.Fatalf("first page: got %d posts, want 3", len(firstPage))
	}
	if cursor == "" {
		t.Fatal("expected non-empty cursor with more pages")
	}

	secondPage, cursor, err := repo.ListPosts(ctx, PostFilter{}, cursor, 3)
	if err != nil {
		t.Fatalf("ListPosts (second page) failed: %v", err)
	}
	if len(secondPage) != 2 {
		t.Errorf("second page: got %d posts, want 2", len(secondPage))
	}
	if cursor != "" {
		t.Errorf("expected empty cursor at end, got %q", cursor)
	}

	seen := make(map[string]bool)
	for _, p := range append(firstPage, secondPage...) {
		if seen[p.ID] {
			t.Errorf("post %s returned twice across pages", p.ID)
		}
		seen[p.ID] = true
	}
}

func TestIntegrationPostRepository_UpdatePost(t *testing.T) {
	ctx, repo := newPostTestEnv(t)

	post := testutil.NewTestPost(t, testutil.UniqueID("update"))
	if err := repo.CreatePost(ctx, post); err != nil {
		t.Fatalf("CreatePost failed: %v", err)
	}

	post.Title = "Updated title"
	post.Status = model.PostStatusPublished
	now := time.Now().UTC()
	post.PublishedAt = &now

	if err := repo.UpdatePost(ctx, post); err != nil {
		t.Fatalf("UpdatePost failed: %v", err)
	}

	retrieved, err := repo.GetPostByID(ctx, post.ID)
	if err != nil {
		t.Fatalf("GetPostByID failed: %v", err)
	}
	if retrieved.Title != "Updated title" {
		t.Errorf("Title = %q", retrieved.Title)
	}
	if !retrieved.IsPublished() {
		t.Error("post should be published")
	}
}

func newPostTestEnv(t *testing.T) (context.Context, *Repository) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration tests in short mode")
	}

	ctx := context.Background()
	dbURL := testutil.RequireEnv(t, "DATABASE_URL")

	repo, err := New(ctx, dbURL)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(repo.Close)

	unlock, err := testutil.AcquireDBLock(ctx, repo.Pool())
	if err != nil {
		t.Fatalf("acquire db lock: %v", err)
	}
	t.Cleanup(func() {
		_ = unlock()
	})

	if err := testutil.ResetSchema(ctx, repo.Pool(), "000001_posts"); err != nil {
		t.Fatalf("reset posts schema: %v", err)
	}

	return ctx, repo
}
