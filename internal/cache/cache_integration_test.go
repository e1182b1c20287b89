//go:build integration

package cache

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/quillhq/quill/internal/model"
	"github.com/quillhq/quill/internal/testutil"
)

func TestIntegrationCache_AuthContextRoundTrip(t *testing.T) {
	ctx, c := newCacheTestEnv(t)

	authCtx := &model.AuthContext{
		KeyID:         "key-1",
		KeyPrefix:     "qk_test_abc123",
		UserID:        "user-1",
		Scopes:        []string{model.ScopeRead, model.ScopeWrite},
		RateLimitTier: model.TierFree,
	}

	if err := c.SetAuthContext(ctx, "digest-1", authCtx); err != nil {
		t.Fatalf("SetAuthContext failed: %v", err)
	}

	cached, err := c.GetAuthContext(ctx, "digest-1")
	if err != nil {
		t.Fatalf("GetAuthContext failed: %v", err)
	}
	if cached == nil {
		t.Fatal("expected cached auth context")
	}
	if cached.KeyID != authCtx.KeyID || cached.UserID != authCtx.UserID {
		t.Errorf("cached context mismatch: %+v", cached)
	}
	if !slices.Equal(cached.Scopes, authCtx.Scopes) {
		t.Errorf("Scopes = %v, want %v", cached.Scopes, authCtx.Scopes)
	}

	if err := c.DeleteAuthContext(ctx, "digest-1"); err != nil {
		t.Fatalf("DeleteAuthContext failed: %v", err)
	}

	cached, err = c.GetAuthContext(ctx, "digest-1")
	if err != nil {
		t.Fatalf("GetAuthContext after delete failed: %v", err)
	}
	if cached != nil {
		t.Error("deleted auth context still cached")
	}
}

func TestIntegrationCache_AuthContextMissIsNotError(t *testing.T) {
	ctx, c := newCacheTestEnv(t)

	cached, err := c.GetAuthContext(ctx, "never-stored")
	if err != nil {
		t.Fatalf("GetAuthContext failed: %v", err)
	}
	if cached != nil {
		t.Error("expected nil for unknown cache key")
	}
}

func TestIntegrationCache_MagicLinkSingleUse(t *testing.T) {
	ctx, c := newCacheTestEnv(t)

	if err := c.StoreMagicLink(ctx, "digest-ml", "writer@example.com", time.Minute); err != nil {
		t.Fatalf("StoreMagicLink failed: %v", err)
	}

	email, err := c.ConsumeMagicLink(ctx, "digest-ml")
	if err != nil {
		t.Fatalf("ConsumeMagicLink failed: %v", err)
	}
	if email != "writer@example.com" {
		t.Errorf("email = %q", email)
	}

	// Second consumption must fail: the token is single use.
	if _, err := c.ConsumeMagicLink(ctx, "digest-ml"); !errors.Is(err, ErrTokenNotFound) {
		t.Errorf("Expected ErrTokenNotFound on reuse, got: %v", err)
	}
}

func TestIntegrationCache_SessionLifecycle(t *testing.T) {
	ctx, c := newCacheTestEnv(t)

	data := SessionData{
		UserID: "user-1",
		Email:  "writer@example.com",
		Scopes: []string{model.ScopeAdmin},
	}

	if err := c.StoreSession(ctx, "digest-sess", data, time.Minute); err != nil {
		t.Fatalf("StoreSession failed: %v", err)
	}

	got, err := c.GetSession(ctx, "digest-sess")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got.UserID != data.UserID || got.Email != data.Email {
		t.Errorf("session mismatch: %+v", got)
	}

	if err := c.DeleteSession(ctx, "digest-sess"); err != nil {
		t.Fatalf("DeleteSession failed: %v", err)
	}

	if _, err := c.GetSession(ctx, "digest-sess"); !errors.Is(err, ErrTokenNotFound) {
		t.Errorf("Expected ErrTokenNotFound after logout, got: %v", err)
	}
}

func TestIntegrationCache_FeedRoundTrip(t *testing.T) {
	ctx, c := newCacheTestEnv(t)

	if _, err := c.GetFeed(ctx); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("Expected ErrCacheMiss on empty cache, got: %v", err)
	}

	doc := []byte("<rss><channel><title>Quill</title></channel></rss>")
	if err := c.SetFeed(ctx, doc, time.Minute); err != nil {
		t.Fatalf("SetFeed failed: %v", err)
	}

	got, err := c.GetFeed(ctx)
	if err != nil {
		t.Fatalf("GetFeed failed: %v", err)
	}
	if string(got) != string(doc) {
		t.Errorf("cached feed differs")
	}

	if err := c.InvalidateFeed(ctx); err != nil {
		t.Fatalf("InvalidateFeed failed: %v", err)
	}
	if _, err := c.GetFeed(ctx); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Expected ErrCacheMiss after invalidation, got: %v", err)
	}
}

func TestIntegrationCache_APIRateLimitBurst(t *testing.T) {
	ctx, c := newCacheTestEnv(t)

	keyID := testutil.UniqueID("key")

	// Burst of 3 at 60 rpm: the fourth immediate request is denied.
	var denied bool
	for i := 0; i < 4; i++ {
		result, err := c.CheckAPIRateLimit(ctx, keyID, 60, 3)
		if err != nil {
			t.Fatalf("CheckAPIRateLimit failed: %v", err)
		}
		if !result.Allowed {
			denied = true
			if result.RetryAfter <= 0 {
				t.Error("denied result missing RetryAfter")
			}
			break
		}
	}
	if !denied {
		t.Error("expected denial after burst exhausted")
	}
}

func TestIntegrationCache_UnlimitedTierNeverDenied(t *testing.T) {
	ctx, c := newCacheTestEnv(t)

	for i := 0; i < 10; i++ {
		result, err := c.CheckAPIRateLimit(ctx, "unlimited-key", 0, 0)
		if err != nil {
			t.Fatalf("CheckAPIRateLimit failed: %v", err)
		}
		if !result.Allowed {
			t.Fatal("unlimited tier must never be denied")
		}
	}
}

func newCacheTestEnv(t *testing.T) (context.Context, *Cache) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration tests in short mode")
	}

	ctx := context.Background()
	redisURL := testutil.RequireEnv(t, "REDIS_URL")

	c, err := New(ctx, redisURL)
	if err != nil {
		t.Fatalf("connect redis: %v", err)
	}
	t.Cleanup(func() {
		_ = c.Close()
	})

	if err := testutil.FlushRedis(ctx, c.Client()); err != nil {
		t.Fatalf("flush redis: %v", err)
	}

	return ctx, c
}
