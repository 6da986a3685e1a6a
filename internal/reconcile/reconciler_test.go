package reconcile

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/voluntr/realtime/internal/testutil"
	"github.com/voluntr/realtime/internal/types"
)

// fakeNotificationAPI serves canned lists and records mark-read calls.
type fakeNotificationAPI struct {
	mu        sync.Mutex
	list      []types.Notification
	listErr   error
	listCalls int
	markErr   error
	marked    []int
}

func (f *fakeNotificationAPI) ListNotifications(ctx context.Context, limit, offset int) ([]types.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.list, nil
}

func (f *fakeNotificationAPI) MarkRead(ctx context.Context, id int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.markErr != nil {
		return f.markErr
	}
	f.marked = append(f.marked, id)
	return nil
}

func (f *fakeNotificationAPI) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls
}

func newTestReconciler(t *testing.T, api NotificationAPI) (*Reconciler, *fakePresenter) {
	t.Helper()

	p := newFakePresenter()
	r := NewReconciler(testutil.TestLogger(t), NewInbox(10), NewSurfaceManager(p), api)
	return r, p
}

func TestReconciler_Merge(t *testing.T) {
	t.Run("new unread notification is surfaced", func(t *testing.T) {
		r, p := newTestReconciler(t, &fakeNotificationAPI{})

		r.Merge(types.Notification{Id: 1, Type: types.EventHoursApproved})

		assert.Equal(t, 1, r.Inbox().Len(), "expected the notification cached")
		assert.Equal(t, 1, p.presentCount(), "expected a transient surface")
	})

	t.Run("duplicate is cached once and surfaced once", func(t *testing.T) {
		r, p := newTestReconciler(t, &fakeNotificationAPI{})

		n := types.Notification{Id: 1, Type: types.EventHoursApproved}
		r.Merge(n)
		r.Merge(n)

		assert.Equal(t, 1, r.Inbox().Len(), "expected a single cached entry")
		assert.Equal(t, 1, p.presentCount(), "expected a single surface for the duplicate")
	})

	t.Run("already-read notification is cached without a surface", func(t *testing.T) {
		r, p := newTestReconciler(t, &fakeNotificationAPI{})

		r.Merge(types.Notification{Id: 1, Type: types.EventNotification, Read: true})

		assert.Equal(t, 1, r.Inbox().Len(), "expected the notification cached")
		assert.Zero(t, p.presentCount(), "expected no surface for backfilled read entries")
	})
}

func TestReconciler_HandleEvent(t *testing.T) {
	t.Run("event with a domain id is merged", func(t *testing.T) {
		r, _ := newTestReconciler(t, &fakeNotificationAPI{})

		occurred := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
		r.HandleEvent(types.Event{
			Type:       types.EventHoursApproved,
			UserId:     1,
			OccurredAt: occurred,
			Payload:    json.RawMessage(`{"id":7,"event":"Beach Cleanup"}`),
		})

		items := r.Inbox().Notifications()
		assert.Len(t, items, 1, "expected the event cached as a notification")
		assert.Equal(t, 7, items[0].Id, "expected the domain id from the payload")
		assert.Equal(t, types.EventHoursApproved, items[0].Type, "expected the type filled from the event")
		assert.True(t, items[0].CreatedAt.Equal(occurred), "expected the timestamp filled from the event")
	})

	t.Run("event without a domain id is surfaced but not cached", func(t *testing.T) {
		r, p := newTestReconciler(t, &fakeNotificationAPI{})

		r.HandleEvent(types.Event{
			Type:    types.EventLiveCheckin,
			RoomId:  3,
			Payload: json.RawMessage(`{"volunteer":"Sam"}`),
		})

		assert.Zero(t, r.Inbox().Len(), "expected nothing cached without a domain id")
		assert.Equal(t, 1, p.presentCount(), "expected the event surfaced")
	})

	t.Run("same notification over socket and poll lands once", func(t *testing.T) {
		api := &fakeNotificationAPI{
			list: []types.Notification{
				{Id: 7, Type: types.EventHoursApproved},
			},
		}
		r, p := newTestReconciler(t, api)

		// socket first
		r.HandleEvent(types.Event{
			Type:    types.EventHoursApproved,
			UserId:  1,
			Payload: json.RawMessage(`{"id":7,"event":"Beach Cleanup"}`),
		})
		// then the poll backfills the same row
		r.pollOnce(context.Background())

		assert.Equal(t, 1, r.Inbox().Len(), "expected the row cached once across both paths")
		assert.Equal(t, 1, p.presentCount(), "expected a single surface across both paths")
	})

	t.Run("unparseable payload degrades to a surface", func(t *testing.T) {
		r, p := newTestReconciler(t, &fakeNotificationAPI{})

		r.HandleEvent(types.Event{
			Type:    types.EventAnnouncement,
			RoomId:  1,
			Payload: json.RawMessage(`"plain string"`),
		})

		assert.Zero(t, r.Inbox().Len(), "expected nothing cached")
		assert.Equal(t, 1, p.presentCount(), "expected the event still surfaced")
	})
}

func TestReconciler_MarkRead(t *testing.T) {
	t.Run("updates the api then the cache", func(t *testing.T) {
		api := &fakeNotificationAPI{}
		r, _ := newTestReconciler(t, api)
		r.Merge(types.Notification{Id: 1})

		assert.NoError(t, r.MarkRead(context.Background(), 1), "expected mark-read to succeed")
		assert.Equal(t, []int{1}, api.marked, "expected the api called")
		assert.Zero(t, r.Inbox().UnreadCount(), "expected the cache updated")
	})

	t.Run("api failure leaves the cache untouched", func(t *testing.T) {
		api := &fakeNotificationAPI{markErr: assert.AnError}
		r, _ := newTestReconciler(t, api)
		r.Merge(types.Notification{Id: 1})

		assert.Error(t, r.MarkRead(context.Background(), 1), "expected the api error propagated")
		assert.Equal(t, 1, r.Inbox().UnreadCount(), "expected the cache untouched on failure")
	})
}

func TestReconciler_Poll(t *testing.T) {
	t.Run("polls immediately and on every tick", func(t *testing.T) {
		api := &fakeNotificationAPI{
			list: []types.Notification{
				{Id: 2, Type: types.EventNotification},
				{Id: 1, Type: types.EventNotification},
			},
		}
		r, _ := newTestReconciler(t, api)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			r.Poll(ctx, 10*time.Millisecond)
		}()

		assert.Eventually(t, func() bool {
			return api.calls() >= 3
		}, 2*time.Second, 5*time.Millisecond, "expected repeated polls")

		cancel()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("expected Poll to return on context cancellation")
		}

		items := r.Inbox().Notifications()
		assert.Len(t, items, 2, "expected the backfilled rows cached once")
		assert.Equal(t, 2, items[0].Id, "expected the server's newest-first order preserved")
	})

	t.Run("list errors are retried on the next tick", func(t *testing.T) {
		api := &fakeNotificationAPI{listErr: assert.AnError}
		r, _ := newTestReconciler(t, api)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			r.Poll(ctx, 10*time.Millisecond)
		}()

		assert.Eventually(t, func() bool {
			return api.calls() >= 2
		}, 2*time.Second, 5*time.Millisecond, "expected the poll to keep retrying")

		cancel()
		<-done
		assert.Zero(t, r.Inbox().Len(), "expected nothing cached from failed polls")
	})
}
