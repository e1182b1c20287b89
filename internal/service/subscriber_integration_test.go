//go:build integration

package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/quillhq/quill/internal/mailer"
	"github.com/quillhq/quill/internal/model"
	"github.com/quillhq/quill/internal/repository"
	"github.com/quillhq/quill/internal/testutil"
)

// captureMailer records outbound messages instead of sending them.
type captureMailer struct {
	mu   sync.Mutex
	sent []mailer.Message
}

func (m *captureMailer) Send(_ context.Context, msg mailer.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return nil
}

func (m *captureMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func TestIntegrationSubscribe_NewAddress(t *testing.T) {
	ctx, repo, mail, svc := newSubscriberServiceTestEnv(t)

	email := testutil.UniqueEmail("new")
	if err := svc.Subscribe(ctx, email); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	sub, err := repo.GetSubscriberByEmail(ctx, email)
	if err != nil {
		t.Fatalf("GetSubscriberByEmail failed: %v", err)
	}
	if sub.Status != model.SubscriberStatusPending {
		t.Errorf("Status = %q, want pending", sub.Status)
	}
	if sub.ConfirmTokenHash == "" {
		t.Error("expected a confirm token digest on new signup")
	}
	if mail.count() != 1 {
		t.Fatalf("sent %d mails, want 1", mail.count())
	}
	if mail.sent[0].To != email {
		t.Errorf("mail sent to %q, want %q", mail.sent[0].To, email)
	}
}

func TestIntegrationSubscribe_PendingReissuesToken(t *testing.T) {
	ctx, repo, mail, svc := newSubscriberServiceTestEnv(t)

	email := testutil.UniqueEmail("pending")
	if err := svc.Subscribe(ctx, email); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	first, err := repo.GetSubscriberByEmail(ctx, email)
	if err != nil {
		t.Fatalf("GetSubscriberByEmail failed: %v", err)
	}

	if err := svc.Subscribe(ctx, email); err != nil {
		t.Fatalf("Subscribe (resubscribe) failed: %v", err)
	}

	second, err := repo.GetSubscriberByEmail(ctx, email)
	if err != nil {
		t.Fatalf("GetSubscriberByEmail failed: %v", err)
	}
	if second.Status != model.SubscriberStatusPending {
		t.Errorf("Status = %q, want pending", second.Status)
	}
	if second.ConfirmTokenHash == first.ConfirmTokenHash {
		t.Error("resubscribing a pending address must rotate the confirm token")
	}
	if mail.count() != 2 {
		t.Errorf("sent %d mails, want 2", mail.count())
	}
}

func TestIntegrationSubscribe_ActiveIsNoop(t *testing.T) {
	ctx, repo, mail, svc := newSubscriberServiceTestEnv(t)

	email := testutil.UniqueEmail("active")
	if err := svc.Subscribe(ctx, email); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	sub, err := repo.GetSubscriberByEmail(ctx, email)
	if err != nil {
		t.Fatalf("GetSubscriberByEmail failed: %v", err)
	}
	if err := repo.ConfirmSubscriber(ctx, sub.ID); err != nil {
		t.Fatalf("ConfirmSubscriber failed: %v", err)
	}

	if err := svc.Subscribe(ctx, email); err != nil {
		t.Fatalf("Subscribe (already active) failed: %v", err)
	}

	after, err := repo.GetSubscriberByEmail(ctx, email)
	if err != nil {
		t.Fatalf("GetSubscriberByEmail failed: %v", err)
	}
	if after.Status != model.SubscriberStatusActive {
		t.Errorf("Status = %q, want active", after.Status)
	}
	if after.ConfirmTokenHash != "" {
		t.Errorf("active subscriber gained a confirm token: %q", after.ConfirmTokenHash)
	}
	if mail.count() != 1 {
		t.Errorf("sent %d mails, want 1 (no mail for an active address)", mail.count())
	}
}

func TestIntegrationSubscribe_BouncedNeverRemailed(t *testing.T) {
	ctx, repo, mail, svc := newSubscriberServiceTestEnv(t)

	email := testutil.UniqueEmail("bounced")
	if err := svc.Subscribe(ctx, email); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if err := repo.MarkSubscriberBounced(ctx, email); err != nil {
		t.Fatalf("MarkSubscriberBounced failed: %v", err)
	}

	if err := svc.Subscribe(ctx, email); err != nil {
		t.Fatalf("Subscribe (bounced) failed: %v", err)
	}

	after, err := repo.GetSubscriberByEmail(ctx, email)
	if err != nil {
		t.Fatalf("GetSubscriberByEmail failed: %v", err)
	}
	if after.Status != model.SubscriberStatusBounced {
		t.Errorf("Status = %q, want bounced", after.Status)
	}
	if mail.count() != 1 {
		t.Errorf("sent %d mails, want 1 (bounced addresses are never re-mailed)", mail.count())
	}
}

func TestIntegrationSubscribe_UnsubscribedReopens(t *testing.T) {
	ctx, repo, mail, svc := newSubscriberServiceTestEnv(t)

	email := testutil.UniqueEmail("reopen")
	if err := svc.Subscribe(ctx, email); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	sub, err := repo.GetSubscriberByEmail(ctx, email)
	if err != nil {
		t.Fatalf("GetSubscriberByEmail failed: %v", err)
	}
	if err := repo.ConfirmSubscriber(ctx, sub.ID); err != nil {
		t.Fatalf("ConfirmSubscriber failed: %v", err)
	}
	if err := repo.UnsubscribeSubscriber(ctx, sub.ID); err != nil {
		t.Fatalf("UnsubscribeSubscriber failed: %v", err)
	}

	if err := svc.Subscribe(ctx, email); err != nil {
		t.Fatalf("Subscribe (reopen) failed: %v", err)
	}

	after, err := repo.GetSubscriberByEmail(ctx, email)
	if err != nil {
		t.Fatalf("GetSubscriberByEmail failed: %v", err)
	}
	if after.Status != model.SubscriberStatusPending {
		t.Errorf("Status = %q, want pending (opt-in restarts)", after.Status)
	}
	if after.ConfirmTokenHash == "" {
		t.Error("reopened subscriber has no confirm token")
	}
	if mail.count() != 2 {
		t.Errorf("sent %d mails, want 2", mail.count())
	}
}

func newSubscriberServiceTestEnv(t *testing.T) (context.Context, *repository.Repository, *captureMailer, *SubscriberService) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration tests in short mode")
	}

	ctx := context.Background()
	dbURL := testutil.RequireEnv(t, "DATABASE_URL")

	repo, err := repository.New(ctx, dbURL)
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

	if err := testutil.ResetSchema(ctx, repo.Pool(), "000002_subscribers"); err != nil {
		t.Fatalf("reset subscribers schema: %v", err)
	}

	mail := &captureMailer{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewSubscriberService(repo, mail, "Quill", "http://localhost:8080", "test-unsubscribe-secret", logger, nil)

	return ctx, repo, mail, svc
}
