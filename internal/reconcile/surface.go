package reconcile

import (
	"sync"

	"github.com/voluntr/realtime/internal/events"
)

// Presenter is the UI sink for transient surfaces. Presenting on a
// channel that already has a live surface replaces it.
type Presenter interface {
	Present(channel string, d events.Description)
	Dismiss(channel string)
}

// SurfaceManager enforces the one-live-surface-per-channel policy:
// every category routes to a fixed channel, so a burst of same-category
// events collapses to the most recent surface instead of stacking.
// The inbox still receives every event; only the transient surface is
// deduplicated.
type SurfaceManager struct {
	mu        sync.Mutex
	presenter Presenter
	live      map[string]events.Description
}

func NewSurfaceManager(p Presenter) *SurfaceManager {
	return &SurfaceManager{
		presenter: p,
		live:      make(map[string]events.Description),
	}
}

func (sm *SurfaceManager) Show(d events.Description) {
	channel := events.SurfaceChannel(d.Category)

	sm.mu.Lock()
	sm.live[channel] = d
	sm.mu.Unlock()

	sm.presenter.Present(channel, d)
}

func (sm *SurfaceManager) Dismiss(category events.Category) {
	channel := events.SurfaceChannel(category)

	sm.mu.Lock()
	delete(sm.live, channel)
	sm.mu.Unlock()

	sm.presenter.Dismiss(channel)
}

// Live returns the number of currently live surfaces.
func (sm *SurfaceManager) Live() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	return len(sm.live)
}
