package services

import (
	"context"
	"time"

	"github.com/yigit/clubchat/internal/app/models"
	"github.com/yigit/clubchat/internal/pkg/blobstore"
	"github.com/yigit/clubchat/internal/pkg/push"
)

// ChatStore persists chats and their membership.
// Missing chats are reported as apperrors.ErrResourceNotFound.
type ChatStore interface {
	// CreateChat inserts chat with its participants and allowed senders.
	// created is false when a chat with the same id already exists.
	CreateChat(ctx context.Context, chat *models.Chat) (created bool, err error)
	GetChat(ctx context.Context, chatID string) (*models.Chat, error)
	ListChatsForUser(ctx context.Context, userID string) ([]*models.Chat, error)
	AddParticipant(ctx context.Context, chatID, userID string) (added bool, err error)
	// RemoveParticipant drops userID from the participants and allowed
	// senders. When nobody is left the chat is deleted in the same
	// transaction and deleted is true.
	RemoveParticipant(ctx context.Context, chatID, userID string) (deleted bool, err error)
	DeleteChat(ctx context.Context, chatID string) error
	SetAllowedSender(ctx context.Context, chatID, userID string, allowed bool) error
}

// MessageRepository persists messages and keeps the chat preview in sync
type MessageRepository interface {
	// InsertMessage stores msg and updates the chat's last message fields
	// atomically. msg.CreatedAt is raised if needed so that it is strictly
	// greater than the chat's previous lastMessageAt, and msg.ExpiresAt is
	// derived from the final CreatedAt when EphemeralSeconds is set.
	InsertMessage(ctx context.Context, msg *models.Message) error
	GetMessage(ctx context.Context, chatID, messageID string) (*models.Message, error)
	ListMessages(ctx context.Context, chatID string, before *time.Time, limit int) ([]*models.Message, error)
	// TombstoneMessage marks the message deleted and clears its payload.
	// It returns the message as it was before the call.
	TombstoneMessage(ctx context.Context, chatID, messageID string) (*models.Message, error)
	// ExpireMedia clears the media and ephemeral fields and sets text.
	// It returns the message as it was before the call. Deleted messages
	// are returned unchanged.
	ExpireMedia(ctx context.Context, chatID, messageID, text string) (*models.Message, error)
	// UpdatePoll runs mutate on the locked message and writes the poll back
	// if mutate returns nil.
	UpdatePoll(ctx context.Context, chatID, messageID string, mutate func(*models.Message) error) (*models.Message, error)
	// ListPendingEphemeral returns non-deleted messages with an expiry.
	// A non-nil dueBy restricts the result to messages expiring at or before it.
	ListPendingEphemeral(ctx context.Context, dueBy *time.Time) ([]*models.Message, error)
	// CountUnread counts messages in chatID created after after and not
	// sent by userID. watermark is the chat's lastMessageAt read in the same
	// snapshot (zero when the chat has no messages).
	CountUnread(ctx context.Context, chatID, userID string, after time.Time) (n int64, watermark time.Time, err error)
}

// ReadCursorStore persists ChatMetadata
type ReadCursorStore interface {
	// GetLastSeen returns the zero time when there is no cursor
	GetLastSeen(ctx context.Context, userID, chatID string) (time.Time, error)
	// MarkSeen moves the cursor to at unless it already is later, and
	// returns the stored value.
	MarkSeen(ctx context.Context, userID, chatID string, at time.Time) (time.Time, error)
}

// NotificationStore persists in-app notifications
type NotificationStore interface {
	InsertNotification(ctx context.Context, n *models.AppNotification) error
	ListNotifications(ctx context.Context, recipientID string, unreadOnly bool, limit int) ([]*models.AppNotification, error)
	MarkRead(ctx context.Context, recipientID, notificationID string) error
	MarkAllRead(ctx context.Context, recipientID string) (int64, error)
	CountUnread(ctx context.Context, recipientID string) (int64, error)
}

// PushRegistry is the per-user token registry
type PushRegistry interface {
	GetPushSettings(ctx context.Context, userID string) (*models.PushSettings, error)
	SetPushEnabled(ctx context.Context, userID string, enabled bool) error
	AddToken(ctx context.Context, userID string, token models.PushToken) error
	RemoveToken(ctx context.Context, userID, token string) error
}

// BlobStore uploads and removes media payloads
type BlobStore interface {
	Upload(ctx context.Context, obj blobstore.Object) (blobstore.Stored, error)
	Remove(ctx context.Context, key string) error
}

// PushGateway forwards a notification to device endpoints
type PushGateway interface {
	Send(ctx context.Context, n push.Notification, endpoints []push.Endpoint) error
}

// UnreadCounter caches per-(user, chat) unread counts. Every entry carries
// the read cursor it was computed for and a watermark, the createdAt of the
// newest message it accounts for.
type UnreadCounter interface {
	Get(ctx context.Context, userID, chatID string) (n int64, ok bool, err error)
	// Store writes a recomputed entry unless the cached one was computed for
	// a later cursor or a later watermark.
	Store(ctx context.Context, userID, chatID string, n int64, lastSeen, watermark time.Time) error
	// IncrementExisting bumps the cached entries of userIDs whose watermark
	// is older than createdAt and advances it. Missing entries stay missing.
	IncrementExisting(ctx context.Context, chatID string, userIDs []string, createdAt time.Time) error
	Invalidate(ctx context.Context, chatID string, userIDs ...string) error
}

// EventPublisher delivers change events to live subscriptions
type EventPublisher interface {
	Publish(topic, eventType string, payload interface{})
	// Disconnect closes the subscriptions of userIDs on topic, or all of
	// them when no user is given.
	Disconnect(topic string, userIDs ...string) int
}
