package events

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/voluntr/realtime/internal/types"
)

func TestDescribe(t *testing.T) {
	tcases := []struct {
		name      string
		eventType types.EventType
		payload   string
		expected  Description
	}{
		{
			name:      "hours approved with summary field",
			eventType: types.EventHoursApproved,
			payload:   `{"event":"Beach Cleanup","hours":4}`,
			expected: Description{
				Title:    "Hours approved",
				Summary:  "Beach Cleanup",
				Category: CategorySuccess,
			},
		},
		{
			name:      "announcement is a warning",
			eventType: types.EventAnnouncement,
			payload:   `{"message":"maintenance at noon"}`,
			expected: Description{
				Title:    "Announcement",
				Summary:  "maintenance at noon",
				Category: CategoryWarning,
			},
		},
		{
			name:      "missing summary field",
			eventType: types.EventMessage,
			payload:   `{"room_id":7}`,
			expected: Description{
				Title:    "New message",
				Category: CategoryInfo,
			},
		},
		{
			name:      "unknown type falls back",
			eventType: types.EventType("profile-viewed"),
			payload:   `{"viewer":"someone"}`,
			expected: Description{
				Title:    "Update",
				Category: CategoryInfo,
			},
		},
		{
			name:      "malformed payload degrades to title only",
			eventType: types.EventHoursRejected,
			payload:   `{"reason":`,
			expected: Description{
				Title:    "Hours rejected",
				Category: CategoryWarning,
			},
		},
		{
			name:      "empty payload",
			eventType: types.EventNotification,
			payload:   "",
			expected: Description{
				Title:    "New notification",
				Category: CategoryInfo,
			},
		},
		{
			name:      "non-string summary value is stringified",
			eventType: types.EventAppStatus,
			payload:   `{"status":42}`,
			expected: Description{
				Title:    "Application status updated",
				Summary:  "42",
				Category: CategoryInfo,
			},
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			d := Describe(tc.eventType, json.RawMessage(tc.payload))
			assert.Equal(t, tc.expected, d, "expected description to match")
		})
	}
}

func TestSurfaceChannel(t *testing.T) {
	assert.Equal(t, "surface:success", SurfaceChannel(CategorySuccess))
	assert.NotEqual(t, SurfaceChannel(CategoryError), SurfaceChannel(CategoryInfo),
		"expected distinct channels per category")
}
