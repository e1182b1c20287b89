package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// feedCacheKey stores the rendered RSS document.
	feedCacheKey = "feed:rss"
)

// ErrCacheMiss is returned when a cached value is absent.
var ErrCacheMiss = errors.New("cache miss")

// GetFeed returns the cached rendered RSS document.
// Returns ErrCacheMiss if absent or expired.
func (c *Cache) GetFeed(ctx context.Context) ([]byte, error) {
	data, err := c.client.Get(ctx, feedCacheKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("get feed cache: %w", err)
	}
	return data, nil
}

// SetFeed caches the rendered RSS document for ttl.
func (c *Cache) SetFeed(ctx context.Context, document []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, feedCacheKey, document, ttl).Err(); err != nil {
		return fmt.Errorf("set feed cache: %w", err)
	}
	return nil
}

// InvalidateFeed drops the cached feed. Called when a post is published
// or unpublished so readers never see a stale item list for long.
func (c *Cache) InvalidateFeed(ctx context.Context) error {
	return c.client.Del(ctx, feedCacheKey).Err()
}
