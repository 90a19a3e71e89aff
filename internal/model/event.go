package model

import "encoding/json"

// Event types sent by the platform's push stream.
const (
	EventNotification = "notification"
	EventConnection   = "connection"
	EventHeartbeat    = "heartbeat"
)

// StreamEvent is the JSON envelope carried in every push frame.
type StreamEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// NotificationPage is one page of the paginated history endpoint.
type NotificationPage struct {
	Success       bool           `json:"success"`
	Notifications []Notification `json:"notifications"`
	HasMore       bool           `json:"has_more"`
}
