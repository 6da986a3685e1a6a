package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType tags every event crossing the gateway. The set of known
// types is closed; unknown tags still flow through the gateway untouched
// and are given a generic description by the events package.
type EventType string

const (
	EventNotification   EventType = "notification"
	EventMessage        EventType = "message"
	EventTyping         EventType = "typing"
	EventStopTyping     EventType = "stop-typing"
	EventNewApplication EventType = "new-application"
	EventAppStatus      EventType = "application-status-change"
	EventHoursApproved  EventType = "hours-approved"
	EventHoursRejected  EventType = "hours-rejected"
	EventAchievement    EventType = "achievement-earned"
	EventLiveCheckin    EventType = "live-checkin"
	EventAnnouncement   EventType = "system-announcement"
)

// Event is the transient unit of delivery. The gateway never persists
// events; the payload references durable rows by id only.
type Event struct {
	Id         string          `json:"id,omitempty"`
	Type       EventType       `json:"type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	UserId     int             `json:"user_id,omitempty"`
	RoomId     int             `json:"room_id,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// Room returns the fan-out group this event targets. A user id takes
// precedence over a room id when both are set.
func (e Event) Room() string {
	if e.UserId != 0 {
		return UserRoom(e.UserId)
	}
	return ChatRoom(e.RoomId)
}

func UserRoom(userId int) string { return fmt.Sprintf("user:%d", userId) }
func ChatRoom(roomId int) string { return fmt.Sprintf("chat:%d", roomId) }
func OrgRoom(orgId int) string   { return fmt.Sprintf("org:%d", orgId) }

// User is the identity attached to an authenticated connection.
type User struct {
	Id       int    `json:"id"`
	Username string `json:"username,omitempty"`
}

// Notification mirrors the CRUD layer's REST shape. It is the body of
// the ingest call and the element type of the polling fallback.
type Notification struct {
	Id        int             `json:"id"`
	UserId    int             `json:"user_id"`
	Type      EventType       `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Read      bool            `json:"read"`
	CreatedAt time.Time       `json:"created_at"`
}
