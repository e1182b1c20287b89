// Package config provides application configuration management.
// Configuration is loaded from environment variables following 12-factor principles.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Rate limit backend names.
const (
	RateLimitBackendMemory = "memory"
	RateLimitBackendRedis  = "redis"
)

// Config holds all application configuration.
// All fields are populated from environment variables.
type Config struct {
	// Application settings
	AppEnv  string `env:"APP_ENV" envDefault:"development"`
	AppPort int    `env:"APP_PORT" envDefault:"8080"`

	// Database (PostgreSQL)
	DatabaseURL string `env:"DATABASE_URL,required"`

	// Cache (Redis)
	RedisURL string `env:"REDIS_URL,required"`

	// Public base URL (e.g. https://quill.pub)
	BaseURL string `env:"BASE_URL" envDefault:"http://localhost:8080"`

	// Site identity used in the RSS feed and outgoing mail.
	SiteTitle       string `env:"SITE_TITLE" envDefault:"Quill"`
	SiteDescription string `env:"SITE_DESCRIPTION" envDefault:"Quill publication"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Server timeouts
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// Rate limiting
	// Backend selects the limiter implementation: "memory" keeps a
	// per-instance sliding window log, "redis" shares a token bucket
	// across instances.
	RateLimitBackend       string        `env:"RATE_LIMIT_BACKEND" envDefault:"memory"`
	RateLimitAPIEnabled    bool          `env:"RATE_LIMIT_API_ENABLED" envDefault:"true"`
	RateLimitPublicEnabled bool          `env:"RATE_LIMIT_PUBLIC_ENABLED" envDefault:"true"`
	RateLimitPublicWindow  time.Duration `env:"RATE_LIMIT_PUBLIC_WINDOW" envDefault:"1m"`
	RateLimitPublicLimit   int           `env:"RATE_LIMIT_PUBLIC_LIMIT" envDefault:"30"`
	RateLimitPublicBlock   time.Duration `env:"RATE_LIMIT_PUBLIC_BLOCK" envDefault:"5m"`

	// Mail provider (transactional email HTTP API)
	MailAPIBaseURL  string `env:"MAIL_API_BASE_URL" envDefault:""`
	MailAPIToken    string `env:"MAIL_API_TOKEN" envDefault:""`
	MailFromAddress string `env:"MAIL_FROM_ADDRESS" envDefault:"newsletter@localhost"`
	MailFromName    string `env:"MAIL_FROM_NAME" envDefault:"Quill"`
	MailBatchSize   int    `env:"MAIL_BATCH_SIZE" envDefault:"100"`

	// Newsletter delivery worker
	NewsletterWorkerEnabled bool          `env:"NEWSLETTER_WORKER_ENABLED" envDefault:"true"`
	NewsletterPollInterval  time.Duration `env:"NEWSLETTER_POLL_INTERVAL" envDefault:"10s"`

	// Social cross-posting
	// Comma-separated list of enabled networks (e.g. "mastodon,webhook").
	SocialNetworks      string        `env:"SOCIAL_NETWORKS" envDefault:""`
	SocialWorkerEnabled bool          `env:"SOCIAL_WORKER_ENABLED" envDefault:"true"`
	SocialPollInterval  time.Duration `env:"SOCIAL_POLL_INTERVAL" envDefault:"15s"`

	// Network credentials. A network listed in SOCIAL_NETWORKS without
	// its credentials set is rejected at startup.
	SocialMastodonURL   string `env:"SOCIAL_MASTODON_URL" envDefault:""`
	SocialMastodonToken string `env:"SOCIAL_MASTODON_TOKEN" envDefault:""`
	SocialWebhookURL    string `env:"SOCIAL_WEBHOOK_URL" envDefault:""`

	// RSS feed
	FeedMaxItems int           `env:"FEED_MAX_ITEMS" envDefault:"25"`
	FeedCacheTTL time.Duration `env:"FEED_CACHE_TTL" envDefault:"5m"`

	// Magic link auth
	// Comma-separated list of author emails allowed to sign in.
	AdminEmails     string        `env:"ADMIN_EMAILS" envDefault:""`
	MagicLinkTTL    time.Duration `env:"MAGIC_LINK_TTL" envDefault:"15m"`
	SessionTokenTTL time.Duration `env:"SESSION_TOKEN_TTL" envDefault:"12h"`

	// Unsubscribe token signing secret. Required in production.
	UnsubscribeSecret string `env:"UNSUBSCRIBE_SECRET" envDefault:"dev-only-secret"`

	// CORS configuration
	// Comma-separated list of allowed origins (e.g., "https://example.com,https://app.example.com")
	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS" envDefault:""`

	// Request body size limit in bytes (default 1MB)
	MaxRequestBodySize int64 `env:"MAX_REQUEST_BODY_SIZE" envDefault:"1048576"`
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// GetCORSAllowedOrigins parses the comma-separated origins string into a slice.
func (c *Config) GetCORSAllowedOrigins() []string {
	return splitTrimmed(c.CORSAllowedOrigins)
}

// GetSocialNetworks parses the comma-separated network list into a slice.
func (c *Config) GetSocialNetworks() []string {
	return splitTrimmed(c.SocialNetworks)
}

// GetAdminEmails parses the comma-separated author allowlist into a slice.
func (c *Config) GetAdminEmails() []string {
	return splitTrimmed(c.AdminEmails)
}

// Validate checks cross-field constraints that env tags cannot express.
func (c *Config) Validate() error {
	switch c.RateLimitBackend {
	case RateLimitBackendMemory, RateLimitBackendRedis:
	default:
		return fmt.Errorf("invalid RATE_LIMIT_BACKEND %q", c.RateLimitBackend)
	}

	if c.IsProduction() && c.UnsubscribeSecret == "dev-only-secret" {
		return fmt.Errorf("UNSUBSCRIBE_SECRET must be set in production")
	}

	if c.MailBatchSize <= 0 {
		return fmt.Errorf("MAIL_BATCH_SIZE must be positive")
	}

	for _, network := range c.GetSocialNetworks() {
		switch network {
		case "mastodon":
			if c.SocialMastodonURL == "" || c.SocialMastodonToken == "" {
				return fmt.Errorf("mastodon enabled but SOCIAL_MASTODON_URL/SOCIAL_MASTODON_TOKEN not set")
			}
		case "webhook":
			if c.SocialWebhookURL == "" {
				return fmt.Errorf("webhook enabled but SOCIAL_WEBHOOK_URL not set")
			}
		default:
			return fmt.Errorf("unknown social network %q", network)
		}
	}

	return nil
}

// Load parses environment variables and returns a Config.
// Returns an error if required variables are missing.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// splitTrimmed splits a comma-separated string, dropping empty entries.
func splitTrimmed(s string) []string {
	if s == "" {
		return nil
	}

	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))

	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
