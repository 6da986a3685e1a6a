package reconcile

import (
	"sync"

	"github.com/voluntr/realtime/internal/types"
)

const DefaultInboxCapacity = 100

// Inbox is the locally cached notification list, newest first. Merge
// is idempotent on the notification's domain id, so the same event
// arriving over the socket and the polling fallback lands once.
type Inbox struct {
	mu       sync.Mutex
	capacity int
	items    []types.Notification
}

func NewInbox(capacity int) *Inbox {
	if capacity <= 0 {
		capacity = DefaultInboxCapacity
	}

	return &Inbox{capacity: capacity}
}

// Merge upserts by id. A known id updates the existing entry in place;
// a new id is prepended and the list truncated to capacity. Returns
// true when the notification was new.
func (in *Inbox) Merge(n types.Notification) bool {
	in.mu.Lock()
	defer in.mu.Unlock()

	for i := range in.items {
		if in.items[i].Id == n.Id {
			in.items[i] = n
			return false
		}
	}

	in.items = append([]types.Notification{n}, in.items...)
	if len(in.items) > in.capacity {
		in.items = in.items[:in.capacity]
	}

	return true
}

// MarkRead flips the read flag on a cached entry, if present.
func (in *Inbox) MarkRead(id int) {
	in.mu.Lock()
	defer in.mu.Unlock()

	for i := range in.items {
		if in.items[i].Id == id {
			in.items[i].Read = true
			return
		}
	}
}

// Notifications returns a copy of the cached list, newest first.
func (in *Inbox) Notifications() []types.Notification {
	in.mu.Lock()
	defer in.mu.Unlock()

	items := make([]types.Notification, len(in.items))
	copy(items, in.items)

	return items
}

func (in *Inbox) UnreadCount() int {
	in.mu.Lock()
	defer in.mu.Unlock()

	var unread int
	for i := range in.items {
		if !in.items[i].Read {
			unread++
		}
	}

	return unread
}

func (in *Inbox) Len() int {
	in.mu.Lock()
	defer in.mu.Unlock()

	return len(in.items)
}
