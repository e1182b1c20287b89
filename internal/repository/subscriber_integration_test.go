//go:build integration

package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/quillhq/quill/internal/model"
	"github.com/quillhq/quill/internal/testutil"
)

func TestIntegrationSubscriberRepository_Create(t *testing.T) {
	ctx, repo := newSubscriberTestEnv(t)

	sub := testutil.NewTestSubscriber(t, testutil.UniqueEmail("create"))

	if err := repo.CreateSubscriber(ctx, sub); err != nil {
		t.Fatalf("CreateSubscriber failed: %v", err)
	}

	retrieved, err := repo.GetSubscriberByEmail(ctx, sub.Email)
	if err != nil {
		t.Fatalf("GetSubscriberByEmail failed: %v", err)
	}
	if retrieved.Status != model.SubscriberStatusPending {
		t.Errorf("Status = %q, want pending", retrieved.Status)
	}
}

func TestIntegrationSubscriberRepository_Create_DuplicateEmail(t *testing.T) {
	ctx, repo := newSubscriberTestEnv(t)

	email := testutil.UniqueEmail("dup")
	first := testutil.NewTestSubscriber(t, email)
	second := testutil.NewTestSubscriber(t, email)

	if err := repo.CreateSubscriber(ctx, first); err != nil {
		t.Fatalf("CreateSubscriber (first) failed: %v", err)
	}

	if err := repo.CreateSubscriber(ctx, second); !errors.Is(err, ErrEmailExists) {
		t.Errorf("Expected ErrEmailExists, got: %v", err)
	}
}

func TestIntegrationSubscriberRepository_ConfirmLifecycle(t *testing.T) {
	ctx, repo := newSubscriberTestEnv(t)

	sub := testutil.NewTestSubscriber(t, testutil.UniqueEmail("confirm"))
	if err := repo.CreateSubscriber(ctx, sub); err != nil {
		t.Fatalf("CreateSubscriber failed: %v", err)
	}

	byToken, err := repo.GetSubscriberByConfirmTokenHash(ctx, sub.ConfirmTokenHash)
	if err != nil {
		t.Fatalf("GetSubscriberByConfirmTokenHash failed: %v", err)
	}
	if byToken.ID != sub.ID {
		t.Fatalf("token lookup returned %s, want %s", byToken.ID, sub.ID)
	}

	if err := repo.ConfirmSubscriber(ctx, sub.ID); err != nil {
		t.Fatalf("ConfirmSubscriber failed: %v", err)
	}

	confirmed, err := repo.GetSubscriberByID(ctx, sub.ID)
	if err != nil {
		t.Fatalf("GetSubscriberByID failed: %v", err)
	}
	if confirmed.Status != model.SubscriberStatusActive {
		t.Errorf("Status = %q, want active", confirmed.Status)
	}
	if confirmed.ConfirmedAt == nil {
		t.Error("ConfirmedAt should be set")
	}

	// Confirming twice should not find a pending subscriber.
	if err := repo.ConfirmSubscriber(ctx, sub.ID); !errors.Is(err, ErrSubscriberNotFound) {
		t.Errorf("Expected ErrSubscriberNotFound on second confirm, got: %v", err)
	}
}

func TestIntegrationSubscriberRepository_UnsubscribeAndReopen(t *testing.T) {
	ctx, repo := newSubscriberTestEnv(t)

	sub := testutil.NewTestSubscriber(t, testutil.UniqueEmail("reopen"))
	if err := repo.CreateSubscriber(ctx, sub); err != nil {
		t.Fatalf("CreateSubscriber failed: %v", err)
	}
	if err := repo.ConfirmSubscriber(ctx, sub.ID); err != nil {
		t.Fatalf("ConfirmSubscriber failed: %v", err)
	}
	if err := repo.UnsubscribeSubscriber(ctx, sub.ID); err != nil {
		t.Fatalf("UnsubscribeSubscriber failed: %v", err)
	}

	unsubbed, err := repo.GetSubscriberByID(ctx, sub.ID)
	if err != nil {
		t.Fatalf("GetSubscriberByID failed: %v", err)
	}
	if unsubbed.Status != model.SubscriberStatusUnsubscribed {
		t.Fatalf("Status = %q, want unsubscribed", unsubbed.Status)
	}

	if err := repo.ReopenSubscriber(ctx, sub.ID, "new-digest"); err != nil {
		t.Fatalf("ReopenSubscriber failed: %v", err)
	}

	reopened, err := repo.GetSubscriberByID(ctx, sub.ID)
	if err != nil {
		t.Fatalf("GetSubscriberByID failed: %v", err)
	}
	if reopened.Status != model.SubscriberStatusPending {
		t.Errorf("Status = %q, want pending after reopen", reopened.Status)
	}
	if reopened.ConfirmedAt != nil {
		t.Error("ConfirmedAt should be cleared after reopen")
	}
}

func TestIntegrationSubscriberRepository_MarkBounced(t *testing.T) {
	ctx, repo := newSubscriberTestEnv(t)

	sub := testutil.NewTestSubscriber(t, testutil.UniqueEmail("bounce"))
	if err := repo.CreateSubscriber(ctx, sub); err != nil {
		t.Fatalf("CreateSubscriber failed: %v", err)
	}
	if err := repo.ConfirmSubscriber(ctx, sub.ID); err != nil {
		t.Fatalf("ConfirmSubscriber failed: %v", err)
	}

	if err := repo.MarkSubscriberBounced(ctx, sub.Email); err != nil {
		t.Fatalf("MarkSubscriberBounced failed: %v", err)
	}

	bounced, err := repo.GetSubscriberByID(ctx, sub.ID)
	if err != nil {
		t.Fatalf("GetSubscriberByID failed: %v", err)
	}
	if bounced.Status != model.SubscriberStatusBounced {
		t.Errorf("Status = %q, want bounced", bounced.Status)
	}
}

func TestIntegrationSubscriberRepository_ListActive_KeysetPaging(t *testing.T) {
	ctx, repo := newSubscriberTestEnv(t)

	var created []*model.Subscriber
	for i := 0; i < 5; i++ {
		sub := testutil.NewTestSubscriber(t, testutil.UniqueEmail("page"))
		if err := repo.CreateSubscriber(ctx, sub); err != nil {
			t.Fatalf("CreateSubscriber failed: %v", err)
		}
		if err := repo.ConfirmSubscriber(ctx, sub.ID); err != nil {
			t.Fatalf("ConfirmSubscriber failed: %v", err)
		}
		created = append(created, sub)
	}

	var all []*model.Subscriber
	cursor := ""
	for {
		page, next, err := repo.ListActiveSubscribers(ctx, cursor, 2)
		if err != nil {
			t.Fatalf("ListActiveSubscribers failed: %v", err)
		}
		all = append(all, page...)
		if next == "" {
			break
		}
		cursor = next
	}

	if len(all) != len(created) {
		t.Fatalf("paged through %d subscribers, want %d", len(all), len(created))
	}

	// Keyset paging must return ascending IDs without duplicates.
	for i := 1; i < len(all); i++ {
		if all[i].ID <= all[i-1].ID {
			t.Errorf("IDs out of order: %s after %s", all[i].ID, all[i-1].ID)
		}
	}

	total, err := repo.CountActiveSubscribers(ctx)
	if err != nil {
		t.Fatalf("CountActiveSubscribers failed: %v", err)
	}
	if total != int64(len(created)) {
		t.Errorf("count = %d, want %d", total, len(created))
	}
}

func newSubscriberTestEnv(t *testing.T) (context.Context, *Repository) {
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

	if err := testutil.ResetSchema(ctx, repo.Pool(), "000002_subscribers"); err != nil {
		t.Fatalf("reset subscribers schema: %v", err)
	}

	return ctx, repo
}
