package events

import (
	"encoding/json"
	"fmt"

	"github.com/voluntr/realtime/internal/types"
)

// Category selects the UI treatment a handler applies to an event.
type Category string

const (
	CategorySuccess Category = "success"
	CategoryError   Category = "error"
	CategoryInfo    Category = "info"
	CategoryWarning Category = "warning"
)

// Description is the presentation of an event: a short title, an
// optional one-line summary and the category driving its UI treatment.
type Description struct {
	Title    string   `json:"title"`
	Summary  string   `json:"summary,omitempty"`
	Category Category `json:"category"`
}

// entry describes one known event type. summaryField names the payload
// key whose string value, when present, becomes the summary.
type entry struct {
	title        string
	category     Category
	summaryField string
}

// formatTable is the closed type-to-presentation mapping. Adding a new
// event type is a single row here.
var formatTable = map[types.EventType]entry{
	types.EventNotification:   {title: "New notification", category: CategoryInfo, summaryField: "message"},
	types.EventMessage:        {title: "New message", category: CategoryInfo, summaryField: "content"},
	types.EventNewApplication: {title: "New volunteer application", category: CategoryInfo, summaryField: "applicant"},
	types.EventAppStatus:      {title: "Application status updated", category: CategoryInfo, summaryField: "status"},
	types.EventHoursApproved:  {title: "Hours approved", category: CategorySuccess, summaryField: "event"},
	types.EventHoursRejected:  {title: "Hours rejected", category: CategoryWarning, summaryField: "reason"},
	types.EventAchievement:    {title: "Achievement earned", category: CategorySuccess, summaryField: "name"},
	types.EventLiveCheckin:    {title: "Volunteer checked in", category: CategoryInfo, summaryField: "volunteer"},
	types.EventAnnouncement:   {title: "Announcement", category: CategoryWarning, summaryField: "message"},
}

var fallback = entry{title: "Update", category: CategoryInfo}

// Describe maps an event type and payload to a human-readable
// description. It is total: unknown types and unparseable payloads
// degrade to a generic description rather than failing.
func Describe(eventType types.EventType, payload json.RawMessage) Description {
	e, ok := formatTable[eventType]
	if !ok {
		e = fallback
	}

	d := Description{
		Title:    e.title,
		Category: e.category,
	}

	if e.summaryField == "" || len(payload) == 0 {
		return d
	}

	var fields map[string]any
	if err := json.Unmarshal(payload, &fields); err != nil {
		return d
	}

	if v, ok := fields[e.summaryField]; ok {
		d.Summary = fmt.Sprint(v)
	}

	return d
}

// SurfaceChannel names the transient UI-surface channel for a category.
// Each channel admits at most one live surface at a time, so a burst of
// same-category events collapses to the most recent one.
func SurfaceChannel(c Category) string {
	return "surface:" + string(c)
}
