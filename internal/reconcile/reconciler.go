// Package reconcile merges gateway-pushed events into locally cached
// state and keeps that state eventually consistent through a polling
// fallback, independent of socket health.
package reconcile

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/voluntr/realtime/internal/events"
	"github.com/voluntr/realtime/internal/types"
)

const DefaultPollInterval = 15 * time.Second

// NotificationAPI is the pull-based source of truth: the REST layer's
// notification list and mark-read endpoints.
type NotificationAPI interface {
	ListNotifications(ctx context.Context, limit, offset int) ([]types.Notification, error)
	MarkRead(ctx context.Context, id int) error
}

// Reconciler feeds both delivery paths, socket and poll, through one
// idempotent merge.
type Reconciler struct {
	log      *log.Logger
	inbox    *Inbox
	surfaces *SurfaceManager
	api      NotificationAPI
}

func NewReconciler(logger *log.Logger, inbox *Inbox, surfaces *SurfaceManager, api NotificationAPI) *Reconciler {
	return &Reconciler{
		log:      logger,
		inbox:    inbox,
		surfaces: surfaces,
		api:      api,
	}
}

func (r *Reconciler) Inbox() *Inbox { return r.inbox }

// Merge upserts a notification into the cache. Only a notification
// not seen before raises a transient surface, so the socket and poll
// paths cannot double-announce.
func (r *Reconciler) Merge(n types.Notification) {
	isNew := r.inbox.Merge(n)
	if !isNew || n.Read || r.surfaces == nil {
		return
	}

	r.surfaces.Show(events.Describe(n.Type, n.Payload))
}

// HandleEvent adapts a socket-delivered event for the merge. The
// domain id lives inside the payload; an event without one (a live
// check-in, say) is surfaced but never cached.
func (r *Reconciler) HandleEvent(event types.Event) {
	var n types.Notification
	if len(event.Payload) > 0 {
		if err := json.Unmarshal(event.Payload, &n); err != nil {
			r.log.Printf("reconcile: unparseable payload on %q event: %v", event.Type, err)
		}
	}

	if n.Id == 0 {
		if r.surfaces != nil {
			r.surfaces.Show(events.Describe(event.Type, event.Payload))
		}
		return
	}

	if n.Type == "" {
		n.Type = event.Type
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = event.OccurredAt
	}

	r.Merge(n)
}

// MarkRead updates the source of truth first, then the cache.
func (r *Reconciler) MarkRead(ctx context.Context, id int) error {
	if err := r.api.MarkRead(ctx, id); err != nil {
		return err
	}

	r.inbox.MarkRead(id)
	return nil
}

// Poll runs the fixed-interval pull against the REST collaborator
// until the context is cancelled. It runs regardless of socket state;
// this is what makes delivery best-effort safe.
func (r *Reconciler) Poll(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.pollOnce(ctx)
	for {
		select {
		case <-ticker.C:
			r.pollOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (r *Reconciler) pollOnce(ctx context.Context) {
	notifications, err := r.api.ListNotifications(ctx, r.inbox.capacity, 0)
	if err != nil {
		// transient, the next tick retries
		r.log.Printf("reconcile: poll: %v", err)
		return
	}

	// walk oldest first so the prepend order matches the server's
	for i := len(notifications) - 1; i >= 0; i-- {
		r.Merge(notifications[i])
	}
}
