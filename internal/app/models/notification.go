package models

import "time"

// NotificationType enumerates the events a user can be notified about
type NotificationType string

const (
	NotificationTypeNewMessage NotificationType = "new_message"
	NotificationTypeNewPoll    NotificationType = "new_poll"
	NotificationTypeBroadcast  NotificationType = "broadcast"
	NotificationTypeGroupAdded NotificationType = "group_added"
	NotificationTypeSystem     NotificationType = "system"
)

// Valid reports whether t is a known notification type
func (t NotificationType) Valid() bool {
	switch t {
	case NotificationTypeNewMessage, NotificationTypeNewPoll, NotificationTypeBroadcast,
		NotificationTypeGroupAdded, NotificationTypeSystem:
		return true
	default:
		return false
	}
}

// NotificationData links a notification back to the object it is about
type NotificationData struct {
	ChatID    string `json:"chatId,omitempty"`
	MessageID string `json:"messageId,omitempty"`
	ClubID    string `json:"clubId,omitempty"`
}

// AsMap flattens the data for push payloads
func (d NotificationData) AsMap() map[string]string {
	out := make(map[string]string, 3)
	if d.ChatID != "" {
		out["chatId"] = d.ChatID
	}
	if d.MessageID != "" {
		out["messageId"] = d.MessageID
	}
	if d.ClubID != "" {
		out["clubId"] = d.ClubID
	}
	return out
}

// AppNotification is an in-app notification owned by its recipient
type AppNotification struct {
	ID          string           `json:"id" db:"id"`
	RecipientID string           `json:"recipientId" db:"recipient_id"`
	Type        NotificationType `json:"type" db:"type"`
	Title       string           `json:"title" db:"title"`
	Body        string           `json:"body" db:"body"`
	Data        NotificationData `json:"data" db:"data"`
	Read        bool             `json:"read" db:"read"`
	CreatedAt   time.Time        `json:"createdAt" db:"created_at"`
}

// PushToken is a device endpoint registered for push delivery
type PushToken struct {
	Token     string    `json:"token" db:"token"`
	Platform  string    `json:"platform" db:"platform"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// PushSettings is the per-user push registry entry
type PushSettings struct {
	UserID  string      `json:"userId" db:"user_id"`
	Enabled bool        `json:"enabled" db:"enabled"`
	Tokens  []PushToken `json:"tokens"`
}

// Deliverable reports whether a push should be attempted
func (s *PushSettings) Deliverable() bool {
	return s != nil && s.Enabled && len(s.Tokens) > 0
}
