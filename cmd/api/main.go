// Package main is the entrypoint for the Quill API server.
package main

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/quillhq/quill/internal/cache"
	"github.com/quillhq/quill/internal/config"
	"github.com/quillhq/quill/internal/feed"
	"github.com/quillhq/quill/internal/handler"
	"github.com/quillhq/quill/internal/mailer"
	"github.com/quillhq/quill/internal/metrics"
	"github.com/quillhq/quill/internal/middleware"
	"github.com/quillhq/quill/internal/newsletter"
	"github.com/quillhq/quill/internal/ratelimit"
	"github.com/quillhq/quill/internal/repository"
	"github.com/quillhq/quill/internal/server"
	"github.com/quillhq/quill/internal/service"
	"github.com/quillhq/quill/internal/social"
)

func main() {
	ctx := context.Background()

	// Load .env in development; ignored when the file is absent.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := initLogger(cfg)

	repo, err := repository.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error(
			"failed to connect to database",
			slog.String("error", sanitizeError(err, cfg.DatabaseURL)),
			slog.String("database_url", redactURL(cfg.DatabaseURL)),
		)
		os.Exit(1)
	}
	defer repo.Close()
	logger.Info("connected to database")

	cacheClient, err := cache.New(ctx, cfg.RedisURL)
	if err != nil {
		logger.Error(
			"failed to connect to Redis",
			slog.String("error", sanitizeError(err, cfg.RedisURL)),
			slog.String("redis_url", redactURL(cfg.RedisURL)),
		)
		os.Exit(1)
	}
	defer cacheClient.Close()
	logger.Info("connected to Redis")

	mailClient := mailer.New(cfg.MailAPIBaseURL, cfg.MailAPIToken, cfg.MailFromName, cfg.MailFromAddress, logger)

	// Initialize services
	recorder := metrics.NewInMemory()
	networks := cfg.GetSocialNetworks()

	postService := service.NewPostService(repo, cacheClient, cfg.BaseURL, networks, logger, recorder)
	issueService := service.NewIssueService(repo, logger, recorder)
	subscriberService := service.NewSubscriberService(repo, mailClient, cfg.SiteTitle, cfg.BaseURL, cfg.UnsubscribeSecret, logger, recorder)
	authService := service.NewAuthService(repo, cacheClient, mailClient, cfg.SiteTitle, cfg.BaseURL, cfg.AppEnv, cfg.GetAdminEmails(), cfg.MagicLinkTTL, cfg.SessionTokenTTL, logger)

	feedBuilder := feed.NewBuilder(cfg.SiteTitle, cfg.SiteDescription, cfg.BaseURL, cfg.FeedMaxItems)
	feedService := service.NewFeedService(repo, cacheClient, feedBuilder, cfg.FeedMaxItems, cfg.FeedCacheTTL, logger, recorder)

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(repo, cacheClient)
	postHandler := handler.NewPostHandler(postService, logger)
	issueHandler := handler.NewIssueHandler(issueService, logger)
	newsletterHandler := handler.NewNewsletterHandler(subscriberService, logger)
	authHandler := handler.NewAuthHandler(authService, logger)
	feedHandler := handler.NewFeedHandler(feedService, int(cfg.FeedCacheTTL.Seconds()), logger)
	metricsHandler := handler.NewMetricsHandler(recorder)

	r := setupRouter(routerDeps{
		health:     healthHandler,
		post:       postHandler,
		issue:      issueHandler,
		newsletter: newsletterHandler,
		auth:       authHandler,
		feed:       feedHandler,
		metrics:    metricsHandler,
		repo:       repo,
		cache:      cacheClient,
		recorder:   recorder,
		cfg:        cfg,
		logger:     logger,
	})

	srv := server.New(
		r,
		cfg.AppPort,
		cfg.ReadTimeout,
		cfg.WriteTimeout,
		cfg.ShutdownTimeout,
		logger,
	)

	// Background workers share a context cancelled during shutdown.
	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()

	if cfg.NewsletterWorkerEnabled {
		renderer := newsletter.NewRenderer(cfg.SiteTitle, cfg.BaseURL, cfg.UnsubscribeSecret)
		worker := newsletter.NewWorker(repo, mailClient, renderer, logger, recorder)
		worker.SetBatchSize(cfg.MailBatchSize)
		worker.SetPollInterval(cfg.NewsletterPollInterval)

		go func() {
			if err := worker.Run(workerCtx); err != nil && err != context.Canceled {
				logger.Error("newsletter worker exited", "error", err)
			}
		}()

		srv.OnShutdown("newsletter-worker", func(ctx context.Context) error {
			stopWorkers()
			return nil
		})
	}

	if cfg.SocialWorkerEnabled && len(networks) > 0 {
		posters := make(map[string]social.Poster, len(networks))
		for _, network := range networks {
			switch network {
			case "mastodon":
				posters[network] = social.NewMastodonClient(cfg.SocialMastodonURL, cfg.SocialMastodonToken)
			case "webhook":
				posters[network] = social.NewWebhookClient(cfg.SocialWebhookURL)
			}
		}

		worker := social.NewWorker(repo, posters, logger, recorder)
		worker.SetPollInterval(cfg.SocialPollInterval)

		go func() {
			if err := worker.Run(workerCtx); err != nil && err != context.Canceled {
				logger.Error("social worker exited", "error", err)
			}
		}()

		srv.OnShutdown("social-worker", func(ctx context.Context) error {
			stopWorkers()
			return nil
		})
	}

	logger.Info("starting server",
		"port", cfg.AppPort,
		"base_url", cfg.BaseURL,
		"env", cfg.AppEnv,
		"networks", networks,
	)

	if err := srv.Run(); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

// initLogger initializes the slog logger based on configuration.
func initLogger(cfg *config.Config) *slog.Logger {
	var h slog.Handler

	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}

	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(h)
	slog.SetDefault(logger)

	return logger
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// routerDeps bundles everything setupRouter needs.
type routerDeps struct {
	health     *handler.HealthHandler
	post       *handler.PostHandler
	issue      *handler.IssueHandler
	newsletter *handler.NewsletterHandler
	auth       *handler.AuthHandler
	feed       *handler.FeedHandler
	metrics    *handler.MetricsHandler
	repo       *repository.Repository
	cache      *cache.Cache
	recorder   metrics.Recorder
	cfg        *config.Config
	logger     *slog.Logger
}

// setupRouter configures the chi router with all routes and middleware.
func setupRouter(d routerDeps) *chi.Mux {
	cfg := d.cfg
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(d.logger))
	r.Use(middleware.Recoverer(d.logger))
	r.Use(middleware.Security(middleware.SecurityConfig{
		IsDevelopment:      cfg.IsDevelopment(),
		MaxRequestBodySize: cfg.MaxRequestBodySize,
	}))
	r.Use(middleware.MaxBodySize(cfg.MaxRequestBodySize))

	corsCfg := middleware.DefaultCORSConfig()
	corsCfg.AllowedOrigins = cfg.GetCORSAllowedOrigins()
	r.Use(middleware.CORS(corsCfg))

	csrf := middleware.CSRF(middleware.CSRFConfig{
		SiteOrigin:     middleware.SiteOrigin(cfg.BaseURL),
		TrustedOrigins: cfg.GetCORSAllowedOrigins(),
	})

	authCfg := middleware.AuthConfig{
		Logger:     d.logger,
		Repository: d.repo,
		Cache:      d.cache,
	}

	rateLimitCfg := middleware.RateLimitConfig{
		Logger:        d.logger,
		Cache:         d.cache,
		Metrics:       d.recorder,
		APIEnabled:    cfg.RateLimitAPIEnabled,
		PublicEnabled: cfg.RateLimitPublicEnabled,
		PublicLimiter: newPublicLimiter(cfg, d.cache, d.logger),
		PublicLimit:   cfg.RateLimitPublicLimit,
	}

	// Health endpoints (no auth required)
	r.Get("/", handler.Hello)
	r.Get("/healthz", d.health.Healthz)
	r.Get("/readyz", d.health.Readyz)

	// Public feed. Served whole from cache; no rate limit needed.
	r.Get("/feed.xml", d.feed.Feed)

	// Public newsletter endpoints, rate limited per IP. Subscribe is the
	// only browser-form POST, so it also gets the cross-origin check.
	r.Route("/v1/newsletter", func(r chi.Router) {
		r.With(csrf, middleware.RateLimitPublic(rateLimitCfg, "subscribe")).
			Post("/subscribe", d.newsletter.Subscribe)
		r.With(middleware.RateLimitPublic(rateLimitCfg, "confirm")).
			Get("/confirm", d.newsletter.Confirm)
		r.With(middleware.RateLimitPublic(rateLimitCfg, "unsubscribe")).
			Get("/unsubscribe", d.newsletter.Unsubscribe)
	})

	// Magic-link sign-in
	r.Route("/v1/auth", func(r chi.Router) {
		r.With(csrf, middleware.RateLimitPublic(rateLimitCfg, "magic-link")).
			Post("/magic-link", d.auth.RequestMagicLink)
		r.With(middleware.RateLimitPublic(rateLimitCfg, "magic-link-verify")).
			Get("/magic-link/verify", d.auth.VerifyMagicLink)
		r.With(middleware.Auth(authCfg)).Post("/logout", d.auth.Logout)
	})

	// Authenticated API (API key or session token)
	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.Auth(authCfg))
		r.Use(middleware.RateLimitAPI(rateLimitCfg))

		r.Route("/posts", func(r chi.Router) {
			r.With(middleware.RequireRead()).Get("/", d.post.List)
			r.With(middleware.RequireRead()).Get("/{id}", d.post.Get)
			r.With(middleware.RequireRead()).Get("/{id}/deliveries", d.post.ListDeliveries)
			r.With(middleware.RequireWrite()).Post("/", d.post.Create)
			r.With(middleware.RequireWrite()).Patch("/{id}", d.post.Update)
			r.With(middleware.RequirePublish()).Post("/{id}/publish", d.post.Publish)
			r.With(middleware.RequirePublish()).Post("/{id}/unpublish", d.post.Unpublish)
			r.With(middleware.RequireAdmin()).Delete("/{id}", d.post.Delete)
		})

		r.Route("/issues", func(r chi.Router) {
			r.With(middleware.RequireRead()).Get("/", d.issue.List)
			r.With(middleware.RequireRead()).Get("/{id}", d.issue.Get)
			r.With(middleware.RequireWrite()).Post("/", d.issue.Create)
			r.With(middleware.RequireWrite()).Patch("/{id}", d.issue.Update)
			r.With(middleware.RequireWrite()).Delete("/{id}", d.issue.Delete)
			r.With(middleware.RequirePublish()).Post("/{id}/send", d.issue.Send)
		})

		r.With(middleware.RequireAdmin()).Get("/subscribers", d.newsletter.ListSubscribers)

		r.Route("/api-keys", func(r chi.Router) {
			r.With(middleware.RequireRead()).Get("/", d.auth.ListAPIKeys)
			r.With(middleware.RequireAdmin()).Post("/", d.auth.CreateAPIKey)
			r.With(middleware.RequireAdmin()).Post("/{id}/rotate", d.auth.RotateAPIKey)
			r.With(middleware.RequireAdmin()).Delete("/{id}", d.auth.RevokeAPIKey)
		})
	})

	// Operational metrics, admin only.
	r.With(middleware.Auth(authCfg), middleware.RequireAdmin()).
		Get("/metricz", d.metrics.Metrics)

	r.NotFound(handler.NotFound)
	r.MethodNotAllowed(handler.MethodNotAllowed)

	return r
}

// newPublicLimiter selects the public rate limiter backend.
func newPublicLimiter(cfg *config.Config, cacheClient *cache.Cache, logger *slog.Logger) middleware.PublicLimiter {
	if cfg.RateLimitBackend == config.RateLimitBackendRedis {
		return &middleware.RedisPublicLimiter{
			Cache:         cacheClient,
			Logger:        logger,
			RatePerMinute: cfg.RateLimitPublicLimit,
			Burst:         cfg.RateLimitPublicLimit,
		}
	}

	return &middleware.MemoryPublicLimiter{
		Limiter: ratelimit.New(),
		Rule: ratelimit.Rule{
			Window:        cfg.RateLimitPublicWindow,
			Limit:         cfg.RateLimitPublicLimit,
			BlockDuration: cfg.RateLimitPublicBlock,
		},
	}
}

var passwordPattern = regexp.MustCompile(`(?i)password=[^\s]+`)

func redactURL(raw string) string {
	if raw == "" {
		return ""
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "[redacted]"
	}

	if parsed.User != nil {
		username := parsed.User.Username()
		if username == "" {
			parsed.User = url.User("redacted")
		} else {
			parsed.User = url.User(username)
		}
	}

	return parsed.String()
}

func sanitizeError(err error, secrets ...string) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		redacted := redactURL(secret)
		if redacted == "" {
			redacted = "[redacted]"
		}
		msg = strings.ReplaceAll(msg, secret, redacted)
	}

	return passwordPattern.ReplaceAllString(msg, "password=redacted")
}
