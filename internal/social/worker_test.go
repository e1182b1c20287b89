package social

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/quillhq/quill/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeStore struct {
	pending []*model.SocialDelivery

	successes []string
	failures  []failureCall
}

type failureCall struct {
	id        string
	lastError string
	exhausted bool
}

func (s *fakeStore) GetPendingSocialDeliveries(ctx context.Context, limit int) ([]*model.SocialDelivery, error) {
	out := s.pending
	s.pending = nil
	return out, nil
}

func (s *fakeStore) UpdateSocialDeliverySuccess(ctx context.Context, id, remoteID string) error {
	s.successes = append(s.successes, id)
	return nil
}

func (s *fakeStore) UpdateSocialDeliveryFailure(ctx context.Context, id, lastError string, nextRetryAt time.Time, exhausted bool) error {
	s.failures = append(s.failures, failureCall{id, lastError, exhausted})
	return nil
}

func (s *fakeStore) GetSocialQueueDepth(ctx context.Context) (int64, error) {
	return int64(len(s.pending)), nil
}

type fakePoster struct {
	remoteID string
	err      error
	posted   []string
}

func (p *fakePoster) Post(ctx context.Context, message string) (string, error) {
	p.posted = append(p.posted, message)
	return p.remoteID, p.err
}

func delivery(id, network string, attempts int) *model.SocialDelivery {
	return &model.SocialDelivery{
		ID:           id,
		PostID:       "post-1",
		Network:      network,
		Message:      "New post",
		Status:       model.SocialStatusPending,
		AttemptCount: attempts,
		MaxAttempts:  DefaultMaxAttempts,
	}
}

func TestProcessOnce_DeliversSuccess(t *testing.T) {
	t.Parallel()

	store := &fakeStore{pending: []*model.SocialDelivery{delivery("d1", "mastodon", 0)}}
	poster := &fakePoster{remoteID: "42"}
	w := NewWorker(store, map[string]Poster{"mastodon": poster}, testLogger(), nil)

	if err := w.processOnce(context.Background()); err != nil {
		t.Fatalf("processOnce: %v", err)
	}

	if len(poster.posted) != 1 || poster.posted[0] != "New post" {
		t.Errorf("posted = %v", poster.posted)
	}
	if len(store.successes) != 1 || store.successes[0] != "d1" {
		t.Errorf("successes = %v", store.successes)
	}
}

func TestProcessOnce_TransientFailureSchedulesRetry(t *testing.T) {
	t.Parallel()

	store := &fakeStore{pending: []*model.SocialDelivery{delivery("d1", "mastodon", 0)}}
	poster := &fakePoster{err: &PostError{StatusCode: http.StatusServiceUnavailable}}
	w := NewWorker(store, map[string]Poster{"mastodon": poster}, testLogger(), nil)

	if err := w.processOnce(context.Background()); err != nil {
		t.Fatalf("processOnce: %v", err)
	}

	if len(store.failures) != 1 {
		t.Fatalf("failures = %d, want 1", len(store.failures))
	}
	if store.failures[0].exhausted {
		t.Error("first transient failure should not exhaust")
	}
}

func TestProcessOnce_PermanentFailureExhausts(t *testing.T) {
	t.Parallel()

	store := &fakeStore{pending: []*model.SocialDelivery{delivery("d1", "mastodon", 0)}}
	poster := &fakePoster{err: &PostError{StatusCode: http.StatusUnauthorized}}
	w := NewWorker(store, map[string]Poster{"mastodon": poster}, testLogger(), nil)

	if err := w.processOnce(context.Background()); err != nil {
		t.Fatalf("processOnce: %v", err)
	}

	if len(store.failures) != 1 || !store.failures[0].exhausted {
		t.Errorf("failures = %+v, want one exhausted", store.failures)
	}
}

func TestProcessOnce_AttemptBudgetExhausts(t *testing.T) {
	t.Parallel()

	// Final allowed attempt fails transiently.
	store := &fakeStore{pending: []*model.SocialDelivery{delivery("d1", "mastodon", DefaultMaxAttempts-1)}}
	poster := &fakePoster{err: errors.New("connection refused")}
	w := NewWorker(store, map[string]Poster{"mastodon": poster}, testLogger(), nil)

	if err := w.processOnce(context.Background()); err != nil {
		t.Fatalf("processOnce: %v", err)
	}

	if len(store.failures) != 1 || !store.failures[0].exhausted {
		t.Errorf("failures = %+v, want one exhausted", store.failures)
	}
}

func TestProcessOnce_UnknownNetworkExhausts(t *testing.T) {
	t.Parallel()

	store := &fakeStore{pending: []*model.SocialDelivery{delivery("d1", "friendface", 0)}}
	w := NewWorker(store, map[string]Poster{"mastodon": &fakePoster{}}, testLogger(), nil)

	if err := w.processOnce(context.Background()); err != nil {
		t.Fatalf("processOnce: %v", err)
	}

	if len(store.failures) != 1 || !store.failures[0].exhausted {
		t.Errorf("failures = %+v, want one exhausted", store.failures)
	}
	if store.failures[0].lastError != ErrUnknownNetwork.Error() {
		t.Errorf("lastError = %q", store.failures[0].lastError)
	}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	w := NewWorker(&fakeStore{}, nil, testLogger(), nil)
	w.SetPollInterval(time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}
