package reconcile

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/voluntr/realtime/internal/events"
)

// fakePresenter records every present and dismiss call per channel.
type fakePresenter struct {
	mu        sync.Mutex
	presented map[string][]events.Description
	dismissed []string
}

func newFakePresenter() *fakePresenter {
	return &fakePresenter{presented: make(map[string][]events.Description)}
}

func (p *fakePresenter) Present(channel string, d events.Description) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.presented[channel] = append(p.presented[channel], d)
}

func (p *fakePresenter) Dismiss(channel string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dismissed = append(p.dismissed, channel)
}

func (p *fakePresenter) presentCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	var n int
	for _, ds := range p.presented {
		n += len(ds)
	}
	return n
}

func (p *fakePresenter) lastOn(channel string) (events.Description, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ds := p.presented[channel]
	if len(ds) == 0 {
		return events.Description{}, false
	}
	return ds[len(ds)-1], true
}

func TestSurfaceManager_collapsesSameCategory(t *testing.T) {
	p := newFakePresenter()
	sm := NewSurfaceManager(p)

	for i := 0; i < 5; i++ {
		sm.Show(events.Description{Title: "Hours approved", Category: events.CategorySuccess})
	}

	assert.Equal(t, 1, sm.Live(), "expected a single live surface for the burst")

	channel := events.SurfaceChannel(events.CategorySuccess)
	last, ok := p.lastOn(channel)
	assert.True(t, ok, "expected a surface on the success channel")
	assert.Equal(t, "Hours approved", last.Title, "expected the most recent description")
}

func TestSurfaceManager_channelsAreIndependent(t *testing.T) {
	p := newFakePresenter()
	sm := NewSurfaceManager(p)

	sm.Show(events.Description{Title: "Hours approved", Category: events.CategorySuccess})
	sm.Show(events.Description{Title: "Announcement", Category: events.CategoryWarning})

	assert.Equal(t, 2, sm.Live(), "expected one live surface per category channel")
}

func TestSurfaceManager_Dismiss(t *testing.T) {
	p := newFakePresenter()
	sm := NewSurfaceManager(p)

	sm.Show(events.Description{Title: "Hours approved", Category: events.CategorySuccess})
	sm.Dismiss(events.CategorySuccess)

	assert.Zero(t, sm.Live(), "expected no live surfaces after dismissal")
	assert.Equal(t, []string{events.SurfaceChannel(events.CategorySuccess)}, p.dismissed,
		"expected the presenter told to dismiss the channel")
}
