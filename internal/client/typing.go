package client

import (
	"sort"
	"sync"
	"time"

	"github.com/voluntr/realtime/internal/server"
)

// typingTracker owns both directions of the typing sub-protocol: the
// local debounce that emits typing/stop-typing, and the remote set of
// typists per room. Remote entries expire locally because a lost
// stop-typing must never leave an indicator stuck.
type typingTracker struct {
	c *Conn

	mu       sync.Mutex
	local    map[string]*time.Timer
	remote   map[string]map[int]time.Time
	handlers []TypingHandler

	done     chan struct{}
	stopOnce sync.Once
}

func newTypingTracker(c *Conn) *typingTracker {
	t := &typingTracker{
		c:      c,
		local:  make(map[string]*time.Timer),
		remote: make(map[string]map[int]time.Time),
		done:   make(chan struct{}),
	}

	go t.sweep()

	return t
}

func (t *typingTracker) onChange(h TypingHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers = append(t.handlers, h)
}

// Started is called on every local keystroke. The first keystroke
// emits typing; each one pushes the stop-typing debounce timer out.
func (t *typingTracker) Started(room string) {
	t.mu.Lock()
	timer, active := t.local[room]
	if active {
		timer.Reset(t.c.cfg.StopTypingDelay)
		t.mu.Unlock()
		return
	}

	t.local[room] = time.AfterFunc(t.c.cfg.StopTypingDelay, func() {
		t.Stopped(room)
	})
	t.mu.Unlock()

	t.c.send(&server.ClientMessage{Typing: &server.Typing{Room: room, Active: true}})
}

// Stopped emits stop-typing and clears the debounce timer.
func (t *typingTracker) Stopped(room string) {
	t.mu.Lock()
	timer, active := t.local[room]
	if !active {
		t.mu.Unlock()
		return
	}
	timer.Stop()
	delete(t.local, room)
	t.mu.Unlock()

	t.c.send(&server.ClientMessage{Typing: &server.Typing{Room: room, Active: false}})
}

// cancelLocal drops the pending debounce timer without emitting, for
// view teardown.
func (t *typingTracker) cancelLocal(room string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if timer, ok := t.local[room]; ok {
		timer.Stop()
		delete(t.local, room)
	}
}

func (t *typingTracker) remoteNotice(room string, userId int, active bool) {
	t.mu.Lock()
	users, ok := t.remote[room]
	if !ok {
		users = make(map[int]time.Time)
		t.remote[room] = users
	}

	if active {
		users[userId] = time.Now()
	} else {
		delete(users, userId)
	}
	t.mu.Unlock()

	t.notify(room)
}

// Users returns the ids currently typing in the room, sorted.
func (t *typingTracker) Users(room string) []int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.usersLocked(room)
}

func (t *typingTracker) usersLocked(room string) []int {
	users := t.remote[room]
	ids := make([]int, 0, len(users))
	for id := range users {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	return ids
}

func (t *typingTracker) notify(room string) {
	t.mu.Lock()
	handlers := t.handlers
	ids := t.usersLocked(room)
	t.mu.Unlock()

	for _, h := range handlers {
		h(room, ids)
	}
}

// sweep expires remote entries that saw neither a refresh nor a
// stop-typing within the expiry window.
func (t *typingTracker) sweep() {
	interval := t.c.cfg.TypingExpiry / 5
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			var stale []string

			t.mu.Lock()
			cutoff := time.Now().Add(-t.c.cfg.TypingExpiry)
			for room, users := range t.remote {
				for id, seen := range users {
					if seen.Before(cutoff) {
						delete(users, id)
						stale = append(stale, room)
					}
				}
			}
			t.mu.Unlock()

			for _, room := range stale {
				t.notify(room)
			}
		case <-t.done:
			return
		}
	}
}

func (t *typingTracker) stop() {
	t.stopOnce.Do(func() {
		close(t.done)
	})

	t.mu.Lock()
	defer t.mu.Unlock()
	for room, timer := range t.local {
		timer.Stop()
		delete(t.local, room)
	}
}

// TypingStarted reports a local keystroke in a room.
func (c *Conn) TypingStarted(room string) { c.typing.Started(room) }

// TypingStopped explicitly ends a local typing run, e.g. on send.
func (c *Conn) TypingStopped(room string) { c.typing.Stopped(room) }

// TypingUsers lists the remote users currently typing in a room.
func (c *Conn) TypingUsers(room string) []int { return c.typing.Users(room) }
