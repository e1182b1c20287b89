package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quillhq/quill/internal/model"
)

const (
	// authCachePrefix is the Redis key prefix for auth context cache.
	authCachePrefix = "auth:ctx:"
	// authCacheTTL is the time-to-live for cached auth contexts.
	authCacheTTL = 5 * time.Minute

	// magicLinkPrefix is the Redis key prefix for magic-link token digests.
	magicLinkPrefix = "auth:magic:"
	// sessionPrefix is the Redis key prefix for session token digests.
	sessionPrefix = "auth:session:"
)

// ErrTokenNotFound is returned when a one-time token is unknown, expired,
// or already consumed.
var ErrTokenNotFound = errors.New("token not found")

// CachedAuthContext represents auth context stored in Redis.
type CachedAuthContext struct {
	KeyID         string   `json:"key_id"`
	KeyPrefix     string   `json:"key_prefix"`
	UserID        string   `json:"user_id"`
	Scopes        []string `json:"scopes"`
	RateLimitTier string   `json:"rate_limit_tier"`
}

// GetAuthContext retrieves a cached auth context by cache key.
// Returns nil if not found (cache miss).
func (c *Cache) GetAuthContext(ctx context.Context, cacheKey string) (*model.AuthContext, error) {
	key := authCachePrefix + cacheKey

	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		// Cache miss is not an error
		return nil, nil //nolint:nilerr
	}

	var cached CachedAuthContext
	if err := json.Unmarshal(data, &cached); err != nil {
		// Corrupted cache entry - treat as miss
		return nil, nil //nolint:nilerr
	}

	return &model.AuthContext{
		KeyID:         cached.KeyID,
		KeyPrefix:     cached.KeyPrefix,
		UserID:        cached.UserID,
		Scopes:        cached.Scopes,
		RateLimitTier: cached.RateLimitTier,
	}, nil
}

// SetAuthContext caches an auth context.
func (c *Cache) SetAuthContext(ctx context.Context, cacheKey string, auth *model.AuthContext) error {
	key := authCachePrefix + cacheKey

	cached := CachedAuthContext{
		KeyID:         auth.KeyID,
		KeyPrefix:     auth.KeyPrefix,
		UserID:        auth.UserID,
		Scopes:        auth.Scopes,
		RateLimitTier: auth.RateLimitTier,
	}

	data, err := json.Marshal(cached)
	if err != nil {
		return fmt.Errorf("marshal auth context: %w", err)
	}

	return c.client.Set(ctx, key, data, authCacheTTL).Err()
}

// DeleteAuthContext removes a cached auth context.
// Used when a key is revoked.
func (c *Cache) DeleteAuthContext(ctx context.Context, cacheKey string) error {
	key := authCachePrefix + cacheKey
	return c.client.Del(ctx, key).Err()
}

// StoreMagicLink stores a magic-link token digest mapped to the user's
// email. The plaintext token is never stored.
func (c *Cache) StoreMagicLink(ctx context.Context, tokenDigest, email string, ttl time.Duration) error {
	key := magicLinkPrefix + tokenDigest
	return c.client.Set(ctx, key, email, ttl).Err()
}

// ConsumeMagicLink atomically fetches and deletes a magic-link token,
// enforcing single use. Returns the email the token was issued for.
func (c *Cache) ConsumeMagicLink(ctx context.Context, tokenDigest string) (string, error) {
	key := magicLinkPrefix + tokenDigest

	email, err := c.client.GetDel(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrTokenNotFound
		}
		return "", fmt.Errorf("consume magic link: %w", err)
	}

	return email, nil
}

// SessionData is the payload stored per session token.
type SessionData struct {
	UserID string   `json:"user_id"`
	Email  string   `json:"email"`
	Scopes []string `json:"scopes"`
}

// StoreSession stores a session token digest with its payload.
func (c *Cache) StoreSession(ctx context.Context, tokenDigest string, data SessionData, ttl time.Duration) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	key := sessionPrefix + tokenDigest
	return c.client.Set(ctx, key, payload, ttl).Err()
}

// GetSession looks up a session token digest.
// Returns ErrTokenNotFound if the session is unknown or expired.
func (c *Cache) GetSession(ctx context.Context, tokenDigest string) (*SessionData, error) {
	key := sessionPrefix + tokenDigest

	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}

	var data SessionData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}

	return &data, nil
}

// DeleteSession removes a session token (logout).
func (c *Cache) DeleteSession(ctx context.Context, tokenDigest string) error {
	return c.client.Del(ctx, sessionPrefix+tokenDigest).Err()
}
