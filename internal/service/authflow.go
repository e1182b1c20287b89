package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/quillhq/quill/internal/auth"
	"github.com/quillhq/quill/internal/cache"
	"github.com/quillhq/quill/internal/mailer"
	"github.com/quillhq/quill/internal/model"
	"github.com/quillhq/quill/internal/repository"
)

// Auth flow errors.
var (
	ErrInvalidMagicToken = errors.New("invalid or expired magic link")
	ErrInvalidScope      = errors.New("invalid scope")
	ErrInvalidTier       = errors.New("invalid rate limit tier")
	ErrKeyNotFound       = errors.New("API key not found")
	ErrForbiddenKey      = errors.New("API key belongs to another user")
)

// AuthService handles magic-link sign-in, sessions, and API key management.
type AuthService struct {
	repo        *repository.Repository
	cache       *cache.Cache
	mailer      Mailer
	siteTitle   string
	baseURL     string
	appEnv      string
	adminEmails []string
	magicTTL    time.Duration
	sessionTTL  time.Duration
	logger      *slog.Logger
}

// NewAuthService creates an AuthService. adminEmails is the allowlist of
// author addresses that may sign in.
func NewAuthService(repo *repository.Repository, c *cache.Cache, m Mailer, siteTitle, baseURL, appEnv string, adminEmails []string, magicTTL, sessionTTL time.Duration, logger *slog.Logger) *AuthService {
	return &AuthService{
		repo:        repo,
		cache:       c,
		mailer:      m,
		siteTitle:   siteTitle,
		baseURL:     baseURL,
		appEnv:      appEnv,
		adminEmails: adminEmails,
		magicTTL:    magicTTL,
		sessionTTL:  sessionTTL,
		logger:      logger.With("component", "service.auth"),
	}
}

// RequestMagicLink mails a single-use sign-in link when the address is
// on the author allowlist. The response is uniform either way so the
// endpoint cannot enumerate author addresses.
func (s *AuthService) RequestMagicLink(ctx context.Context, email string) error {
	email, err := NormalizeEmail(email)
	if err != nil {
		return err
	}

	if !slices.Contains(s.adminEmails, email) {
		s.logger.Info("magic link requested for unknown address")
		return nil
	}

	token, err := auth.GenerateToken()
	if err != nil {
		return fmt.Errorf("failed to generate magic token: %w", err)
	}

	// Only the digest touches Redis; the plaintext token exists in the
	// email alone.
	if err := s.cache.StoreMagicLink(ctx, auth.TokenDigest(token), email, s.magicTTL); err != nil {
		return fmt.Errorf("failed to store magic link: %w", err)
	}

	linkURL := s.baseURL + "/v1/auth/magic-link/verify?token=" + token

	msg := mailer.Message{
		To:      email,
		Subject: fmt.Sprintf("Sign in to %s", s.siteTitle),
		TextBody: fmt.Sprintf(
			"Click to sign in to %s:\n\n%s\n\nThis link expires in %s and can be used once.\n",
			s.siteTitle, linkURL, s.magicTTL,
		),
		HTMLBody: fmt.Sprintf(
			`<p>Click to sign in to %s:</p><p><a href="%s">Sign in</a></p><p>This link expires in %s and can be used once.</p>`,
			s.siteTitle, linkURL, s.magicTTL,
		),
	}

	if err := s.mailer.Send(ctx, msg); err != nil {
		return fmt.Errorf("failed to send magic link: %w", err)
	}

	s.logger.Info("magic link sent")
	return nil
}

// VerifyMagicLink exchanges a valid magic token for a session token.
// Consumption is atomic (GETDEL): a link can never be used twice, even
// by racing requests.
func (s *AuthService) VerifyMagicLink(ctx context.Context, token string) (sessionToken string, err error) {
	if token == "" {
		return "", ErrInvalidMagicToken
	}

	email, err := s.cache.ConsumeMagicLink(ctx, auth.TokenDigest(token))
	if err != nil {
		if errors.Is(err, cache.ErrTokenNotFound) {
			return "", ErrInvalidMagicToken
		}
		return "", err
	}

	sessionToken, err = auth.GenerateToken()
	if err != nil {
		return "", fmt.Errorf("failed to generate session token: %w", err)
	}

	data := cache.SessionData{
		UserID: email,
		Email:  email,
		Scopes: []string{model.ScopeAdmin},
	}
	if err := s.cache.StoreSession(ctx, auth.TokenDigest(sessionToken), data, s.sessionTTL); err != nil {
		return "", fmt.Errorf("failed to store session: %w", err)
	}

	s.logger.Info("session created")
	return sessionToken, nil
}

// Logout invalidates a session token.
func (s *AuthService) Logout(ctx context.Context, sessionToken string) error {
	return s.cache.DeleteSession(ctx, auth.TokenDigest(sessionToken))
}

// CreateAPIKeyInput defines input for minting an API key.
type CreateAPIKeyInput struct {
	UserID string
	Name   string
	Scopes []string
	Tier   string
}

// CreateAPIKeyOutput carries the one-time plaintext key.
type CreateAPIKeyOutput struct {
	Key       *model.APIKey
	Plaintext string
}

// CreateAPIKey mints a new API key. The plaintext is returned exactly
// once; only the argon2id hash is stored.
func (s *AuthService) CreateAPIKey(ctx context.Context, input CreateAPIKeyInput) (*CreateAPIKeyOutput, error) {
	if len(input.Scopes) == 0 {
		return nil, ErrInvalidScope
	}
	for _, scope := range input.Scopes {
		if !slices.Contains(model.ValidScopes, scope) {
			return nil, ErrInvalidScope
		}
	}

	tier := input.Tier
	if tier == "" {
		tier = model.TierFree
	}
	if _, ok := model.TierConfigs[tier]; !ok {
		return nil, ErrInvalidTier
	}

	env := "live"
	if s.appEnv != "production" {
		env = "test"
	}

	generated, err := auth.GenerateAPIKey(env)
	if err != nil {
		return nil, fmt.Errorf("failed to generate API key: %w", err)
	}

	key := &model.APIKey{
		ID:            ulid.Make().String(),
		UserID:        input.UserID,
		KeyHash:       generated.Hash,
		KeyPrefix:     generated.Prefix,
		Scopes:        input.Scopes,
		RateLimitTier: tier,
		Name:          input.Name,
		CreatedAt:     time.Now().UTC(),
	}

	if err := s.repo.CreateAPIKey(ctx, key); err != nil {
		return nil, err
	}

	s.logger.Info("API key created", "key_id", key.ID, "prefix", key.KeyPrefix)

	return &CreateAPIKeyOutput{Key: key, Plaintext: generated.Plaintext}, nil
}

// ListAPIKeys returns the caller's keys. Hashes are never exposed.
func (s *AuthService) ListAPIKeys(ctx context.Context, userID string) ([]*model.APIKey, error) {
	return s.repo.ListAPIKeysByUserID(ctx, userID)
}

// RevokeAPIKey revokes a key owned by userID. The auth cache entry is
// keyed by a digest of the plaintext, so revocation takes effect at the
// cache TTL boundary (5 minutes) at the latest.
func (s *AuthService) RevokeAPIKey(ctx context.Context, userID, keyID string) error {
	key, err := s.repo.GetAPIKeyByID(ctx, keyID)
	if err != nil {
		if errors.Is(err, repository.ErrAPIKeyNotFound) {
			return ErrKeyNotFound
		}
		return err
	}

	if key.UserID != userID {
		return ErrForbiddenKey
	}

	if err := s.repo.RevokeAPIKey(ctx, keyID); err != nil {
		if errors.Is(err, repository.ErrAPIKeyNotFound) {
			return ErrKeyNotFound
		}
		return err
	}

	s.logger.Info("API key revoked", "key_id", keyID)
	return nil
}

// RotateAPIKey revokes a key and mints a replacement with the same name,
// scopes, and tier. The old key stays valid until its cached auth context
// expires, giving callers a short overlap to swap credentials.
func (s *AuthService) RotateAPIKey(ctx context.Context, userID, keyID string) (*CreateAPIKeyOutput, error) {
	key, err := s.repo.GetAPIKeyByID(ctx, keyID)
	if err != nil {
		if errors.Is(err, repository.ErrAPIKeyNotFound) {
			return nil, ErrKeyNotFound
		}
		return nil, err
	}

	if key.UserID != userID {
		return nil, ErrForbiddenKey
	}
	if key.IsRevoked() {
		return nil, ErrKeyNotFound
	}

	replacement, err := s.CreateAPIKey(ctx, CreateAPIKeyInput{
		UserID: key.UserID,
		Name:   key.Name,
		Scopes: key.Scopes,
		Tier:   key.RateLimitTier,
	})
	if err != nil {
		return nil, err
	}

	if err := s.repo.RevokeAPIKey(ctx, keyID); err != nil {
		s.logger.Error("failed to revoke rotated key", "key_id", keyID, "error", err)
		return nil, err
	}

	s.logger.Info("API key rotated", "key_id", keyID, "new_key_id", replacement.Key.ID)
	return replacement, nil
}
