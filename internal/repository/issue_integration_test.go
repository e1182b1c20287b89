//go:build integration

package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/quillhq/quill/internal/model"
	"github.com/quillhq/quill/internal/testutil"
)

func TestIntegrationIssueRepository_CreateAndGet(t *testing.T) {
	ctx, repo := newIssueTestEnv(t)

	issue := testutil.NewTestIssue(t, "Welcome issue")

	if err := repo.CreateIssue(ctx, issue); err != nil {
		t.Fatalf("CreateIssue failed: %v", err)
	}

	retrieved, err := repo.GetIssueByID(ctx, issue.ID)
	if err != nil {
		t.Fatalf("GetIssueByID failed: %v", err)
	}
	if retrieved.Subject != issue.Subject {
		t.Errorf("Subject = %q, want %q", retrieved.Subject, issue.Subject)
	}
	if retrieved.Status != model.IssueStatusDraft {
		t.Errorf("Status = %q, want draft", retrieved.Status)
	}
}

func TestIntegrationIssueRepository_QueueAndClaim(t *testing.T) {
	ctx, repo := newIssueTestEnv(t)

	issue := testutil.NewTestIssue(t, "Due now")
	if err := repo.CreateIssue(ctx, issue); err != nil {
		t.Fatalf("CreateIssue failed: %v", err)
	}
	if err := repo.QueueIssue(ctx, issue.ID, nil); err != nil {
		t.Fatalf("QueueIssue failed: %v", err)
	}

	claimed, err := repo.ClaimDueIssue(ctx, time.Hour)
	if err != nil {
		t.Fatalf("ClaimDueIssue failed: %v", err)
	}
	if claimed.ID != issue.ID {
		t.Fatalf("claimed %s, want %s", claimed.ID, issue.ID)
	}
	if claimed.Status != model.IssueStatusSending {
		t.Errorf("Status = %q, want sending", claimed.Status)
	}
	if claimed.StartedAt == nil {
		t.Error("StartedAt should be set on claim")
	}

	// Nothing else is due; a fresh sending issue is not stale yet.
	if _, err := repo.ClaimDueIssue(ctx, time.Hour); !errors.Is(err, ErrIssueNotFound) {
		t.Errorf("Expected ErrIssueNotFound on second claim, got: %v", err)
	}
}

func TestIntegrationIssueRepository_ScheduledIssueNotDueEarly(t *testing.T) {
	ctx, repo := newIssueTestEnv(t)

	issue := testutil.NewTestIssue(t, "Scheduled")
	if err := repo.CreateIssue(ctx, issue); err != nil {
		t.Fatalf("CreateIssue failed: %v", err)
	}

	future := time.Now().UTC().Add(time.Hour)
	if err := repo.QueueIssue(ctx, issue.ID, &future); err != nil {
		t.Fatalf("QueueIssue failed: %v", err)
	}

	if _, err := repo.ClaimDueIssue(ctx, time.Hour); !errors.Is(err, ErrIssueNotFound) {
		t.Errorf("Expected ErrIssueNotFound for future issue, got: %v", err)
	}
}

func TestIntegrationIssueRepository_StaleSendingReclaimed(t *testing.T) {
	ctx, repo := newIssueTestEnv(t)

	issue := testutil.NewTestIssue(t, "Stale")
	if err := repo.CreateIssue(ctx, issue); err != nil {
		t.Fatalf("CreateIssue failed: %v", err)
	}
	if err := repo.QueueIssue(ctx, issue.ID, nil); err != nil {
		t.Fatalf("QueueIssue failed: %v", err)
	}
	if _, err := repo.ClaimDueIssue(ctx, time.Hour); err != nil {
		t.Fatalf("ClaimDueIssue failed: %v", err)
	}

	// Simulate a crashed worker: age the last progress update.
	_, err := repo.Pool().Exec(ctx,
		"UPDATE issues SET updated_at = NOW() - INTERVAL '10 minutes' WHERE id = $1",
		issue.ID,
	)
	if err != nil {
		t.Fatalf("age issue: %v", err)
	}

	reclaimed, err := repo.ClaimDueIssue(ctx, 5*time.Minute)
	if err != nil {
		t.Fatalf("ClaimDueIssue (reclaim) failed: %v", err)
	}
	if reclaimed.ID != issue.ID {
		t.Errorf("reclaimed %s, want %s", reclaimed.ID, issue.ID)
	}
}

func TestIntegrationIssueRepository_ProgressAndComplete(t *testing.T) {
	ctx, repo := newIssueTestEnv(t)

	issue := testutil.NewTestIssue(t, "Progress")
	if err := repo.CreateIssue(ctx, issue); err != nil {
		t.Fatalf("CreateIssue failed: %v", err)
	}
	if err := repo.QueueIssue(ctx, issue.ID, nil); err != nil {
		t.Fatalf("QueueIssue failed: %v", err)
	}
	if _, err := repo.ClaimDueIssue(ctx, time.Hour); err != nil {
		t.Fatalf("ClaimDueIssue failed: %v", err)
	}

	if err := repo.RecordIssueProgress(ctx, issue.ID, "cursor-1", 90, 10); err != nil {
		t.Fatalf("RecordIssueProgress failed: %v", err)
	}

	inFlight, err := repo.GetIssueByID(ctx, issue.ID)
	if err != nil {
		t.Fatalf("GetIssueByID failed: %v", err)
	}
	if inFlight.SendCursor != "cursor-1" {
		t.Errorf("SendCursor = %q, want cursor-1", inFlight.SendCursor)
	}
	if inFlight.SentCount != 90 || inFlight.FailCount != 10 {
		t.Errorf("counters = %d/%d, want 90/10", inFlight.SentCount, inFlight.FailCount)
	}

	if err := repo.CompleteIssue(ctx, issue.ID, model.IssueStatusSent); err != nil {
		t.Fatalf("CompleteIssue failed: %v", err)
	}

	done, err := repo.GetIssueByID(ctx, issue.ID)
	if err != nil {
		t.Fatalf("GetIssueByID failed: %v", err)
	}
	if done.Status != model.IssueStatusSent {
		t.Errorf("Status = %q, want sent", done.Status)
	}
	if done.CompletedAt == nil {
		t.Error("CompletedAt should be set")
	}

	// Completing a terminal issue is a no-op failure.
	if err := repo.CompleteIssue(ctx, issue.ID, model.IssueStatusFailed); !errors.Is(err, ErrIssueNotFound) {
		t.Errorf("Expected ErrIssueNotFound on double complete, got: %v", err)
	}
}

func TestIntegrationIssueRepository_DeleteOnlyDrafts(t *testing.T) {
	ctx, repo := newIssueTestEnv(t)

	issue := testutil.NewTestIssue(t, "Undeletable")
	if err := repo.CreateIssue(ctx, issue); err != nil {
		t.Fatalf("CreateIssue failed: %v", err)
	}
	if err := repo.QueueIssue(ctx, issue.ID, nil); err != nil {
		t.Fatalf("QueueIssue failed: %v", err)
	}

	if err := repo.DeleteIssue(ctx, issue.ID); !errors.Is(err, ErrIssueNotEditable) {
		t.Errorf("Expected ErrIssueNotEditable, got: %v", err)
	}
}

func newIssueTestEnv(t *testing.T) (context.Context, *Repository) {
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

	if err := testutil.ResetSchema(ctx, repo.Pool(), "000003_issues"); err != nil {
		t.Fatalf("reset issues schema: %v", err)
	}

	return ctx, repo
}
