package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/quillhq/quill/internal/auth"
	"github.com/quillhq/quill/internal/mailer"
	"github.com/quillhq/quill/internal/metrics"
	"github.com/quillhq/quill/internal/model"
	"github.com/quillhq/quill/internal/repository"
)

// Subscriber service errors.
var (
	ErrInvalidEmail        = errors.New("invalid email address")
	ErrInvalidConfirmToken = errors.New("invalid or expired confirm token")
	ErrInvalidUnsubToken   = errors.New("invalid unsubscribe token")
)

const maxEmailLength = 254

// Mailer is the subset of the mail client the service needs.
type Mailer interface {
	Send(ctx context.Context, msg mailer.Message) error
}

// SubscriberService handles the double opt-in subscription lifecycle.
type SubscriberService struct {
	repo              *repository.Repository
	mailer            Mailer
	siteTitle         string
	baseURL           string
	unsubscribeSecret string
	logger            *slog.Logger
	metrics           metrics.Recorder
}

// NewSubscriberService creates a SubscriberService.
func NewSubscriberService(repo *repository.Repository, m Mailer, siteTitle, baseURL, unsubscribeSecret string, logger *slog.Logger, recorder metrics.Recorder) *SubscriberService {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &SubscriberService{
		repo:              repo,
		mailer:            m,
		siteTitle:         siteTitle,
		baseURL:           strings.TrimSuffix(baseURL, "/"),
		unsubscribeSecret: unsubscribeSecret,
		logger:            logger.With("component", "service.subscriber"),
		metrics:           recorder,
	}
}

// Subscribe starts (or restarts) double opt-in for an address.
// The outcome is deliberately uniform: callers cannot distinguish a new
// signup from an existing one, so the endpoint cannot be used to probe
// which addresses are subscribed.
func (s *SubscriberService) Subscribe(ctx context.Context, email string) error {
	email, err := NormalizeEmail(email)
	if err != nil {
		return err
	}

	existing, err := s.repo.GetSubscriberByEmail(ctx, email)
	if err != nil && !errors.Is(err, repository.ErrSubscriberNotFound) {
		return err
	}

	if existing != nil {
		switch existing.Status {
		case model.SubscriberStatusActive:
			// Already in: nothing to do.
			return nil
		case model.SubscriberStatusBounced:
			// Provider said the address is dead; do not mail it again.
			return nil
		case model.SubscriberStatusPending:
			return s.resendConfirmation(ctx, existing)
		case model.SubscriberStatusUnsubscribed:
			return s.reopen(ctx, existing)
		}
	}

	token, err := auth.GenerateToken()
	if err != nil {
		return fmt.Errorf("failed to generate confirm token: %w", err)
	}

	now := time.Now().UTC()
	sub := &model.Subscriber{
		ID:               ulid.Make().String(),
		Email:            email,
		Status:           model.SubscriberStatusPending,
		ConfirmTokenHash: auth.TokenDigest(token),
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := s.repo.CreateSubscriber(ctx, sub); err != nil {
		if errors.Is(err, repository.ErrEmailExists) {
			// Raced a concurrent signup for the same address.
			return nil
		}
		return err
	}

	return s.sendConfirmation(ctx, email, token)
}

// resendConfirmation rotates the token for a pending subscriber.
func (s *SubscriberService) resendConfirmation(ctx context.Context, sub *model.Subscriber) error {
	token, err := auth.GenerateToken()
	if err != nil {
		return fmt.Errorf("failed to generate confirm token: %w", err)
	}

	if err := s.repo.UpdateConfirmToken(ctx, sub.ID, auth.TokenDigest(token)); err != nil {
		return err
	}

	return s.sendConfirmation(ctx, sub.Email, token)
}

// reopen restarts opt-in for a previously unsubscribed address.
func (s *SubscriberService) reopen(ctx context.Context, sub *model.Subscriber) error {
	token, err := auth.GenerateToken()
	if err != nil {
		return fmt.Errorf("failed to generate confirm token: %w", err)
	}

	if err := s.repo.ReopenSubscriber(ctx, sub.ID, auth.TokenDigest(token)); err != nil {
		return err
	}

	return s.sendConfirmation(ctx, sub.Email, token)
}

// sendConfirmation mails the opt-in link.
func (s *SubscriberService) sendConfirmation(ctx context.Context, email, token string) error {
	confirmURL := s.baseURL + "/v1/newsletter/confirm?token=" + token

	msg := mailer.Message{
		To:      email,
		Subject: fmt.Sprintf("Confirm your subscription to %s", s.siteTitle),
		TextBody: fmt.Sprintf(
			"Click to confirm your subscription to %s:\n\n%s\n\nIf you did not request this, ignore this email.\n",
			s.siteTitle, confirmURL,
		),
		HTMLBody: fmt.Sprintf(
			`<p>Click to confirm your subscription to %s:</p><p><a href="%s">Confirm subscription</a></p><p>If you did not request this, ignore this email.</p>`,
			s.siteTitle, confirmURL,
		),
	}

	if err := s.mailer.Send(ctx, msg); err != nil {
		return fmt.Errorf("failed to send confirmation: %w", err)
	}

	return nil
}

// Confirm completes double opt-in. The token from the email is hashed
// and matched against the stored digest; only pending subscribers match.
func (s *SubscriberService) Confirm(ctx context.Context, token string) error {
	if token == "" {
		return ErrInvalidConfirmToken
	}

	sub, err := s.repo.GetSubscriberByConfirmTokenHash(ctx, auth.TokenDigest(token))
	if err != nil {
		if errors.Is(err, repository.ErrSubscriberNotFound) {
			return ErrInvalidConfirmToken
		}
		return err
	}

	if err := s.repo.ConfirmSubscriber(ctx, sub.ID); err != nil {
		if errors.Is(err, repository.ErrSubscriberNotFound) {
			return ErrInvalidConfirmToken
		}
		return err
	}

	s.metrics.IncSubscriberConfirmed()
	s.logger.Info("subscriber confirmed", "subscriber_id", sub.ID)

	return nil
}

// Unsubscribe processes a signed one-click unsubscribe token.
// Idempotent: clicking the link twice is not an error.
func (s *SubscriberService) Unsubscribe(ctx context.Context, token string) error {
	id, err := auth.VerifyUnsubscribeToken(s.unsubscribeSecret, token)
	if err != nil {
		return ErrInvalidUnsubToken
	}

	if err := s.repo.UnsubscribeSubscriber(ctx, id); err != nil {
		return err
	}

	s.logger.Info("subscriber unsubscribed", "subscriber_id", id)
	return nil
}

// ListSubscribersOutput defines output for listing subscribers.
type ListSubscribersOutput struct {
	Subscribers []*model.Subscriber
	NextCursor  string
	HasMore     bool
}

// ListSubscribers returns a page of active subscribers (admin surface).
func (s *SubscriberService) ListSubscribers(ctx context.Context, cursor string, limit int) (*ListSubscribersOutput, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	subs, nextCursor, err := s.repo.ListActiveSubscribers(ctx, cursor, limit)
	if err != nil {
		return nil, err
	}

	return &ListSubscribersOutput{
		Subscribers: subs,
		NextCursor:  nextCursor,
		HasMore:     nextCursor != "",
	}, nil
}

// CountSubscribers returns the active subscriber count.
func (s *SubscriberService) CountSubscribers(ctx context.Context) (int64, error) {
	return s.repo.CountActiveSubscribers(ctx)
}

// NormalizeEmail validates and canonicalizes an email address.
func NormalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || len(email) > maxEmailLength {
		return "", ErrInvalidEmail
	}

	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", ErrInvalidEmail
	}

	return email, nil
}
