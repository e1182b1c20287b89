package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/quillhq/quill/internal/cache"
	"github.com/quillhq/quill/internal/feed"
	"github.com/quillhq/quill/internal/metrics"
	"github.com/quillhq/quill/internal/repository"
)

// FeedService serves the cached RSS document.
type FeedService struct {
	repo     *repository.Repository
	cache    *cache.Cache
	builder  *feed.Builder
	maxItems int
	ttl      time.Duration
	logger   *slog.Logger
	metrics  metrics.Recorder
}

// NewFeedService creates a FeedService.
func NewFeedService(repo *repository.Repository, c *cache.Cache, builder *feed.Builder, maxItems int, ttl time.Duration, logger *slog.Logger, recorder metrics.Recorder) *FeedService {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &FeedService{
		repo:     repo,
		cache:    c,
		builder:  builder,
		maxItems: maxItems,
		ttl:      ttl,
		logger:   logger.With("component", "service.feed"),
		metrics:  recorder,
	}
}

// Feed returns the rendered RSS document, cache-first.
// This is the hot public path: feed readers poll aggressively, so the
// rendered document is cached whole and invalidated on publish.
func (s *FeedService) Feed(ctx context.Context) ([]byte, error) {
	doc, err := s.cache.GetFeed(ctx)
	if err == nil {
		s.metrics.IncFeedCacheHit()
		return doc, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		// Redis trouble: fall through to the database.
		s.logger.Warn("feed cache read failed", "error", err)
	}
	s.metrics.IncFeedCacheMiss()

	posts, err := s.repo.ListPublishedPosts(ctx, s.maxItems)
	if err != nil {
		return nil, err
	}

	doc, err = s.builder.Build(posts)
	if err != nil {
		return nil, err
	}

	if err := s.cache.SetFeed(ctx, doc, s.ttl); err != nil {
		s.logger.Warn("feed cache write failed", "error", err)
	}

	return doc, nil
}
