package dto

import (
	"time"

	"github.com/yigit/clubchat/internal/app/models"
)

// --- Chat requests ---

// CreatePrivateChatRequest opens the private chat with another user
type CreatePrivateChatRequest struct {
	UserID string `json:"userId" binding:"required"`
}

// CreateGroupChatRequest creates a group chat owned by the caller
type CreateGroupChatRequest struct {
	Name    string   `json:"name" binding:"required"`
	Members []string `json:"members"`
}

// CreateBroadcastChatRequest creates a broadcast chat owned by the caller
type CreateBroadcastChatRequest struct {
	Name     string   `json:"name" binding:"required"`
	Scope    string   `json:"scope" binding:"required,oneof=club global"`
	Audience []string `json:"audience"`
}

// AddMemberRequest adds a user to a group chat
type AddMemberRequest struct {
	UserID string `json:"userId" binding:"required"`
}

// SetSenderRequest grants or revokes posting in a broadcast chat
type SetSenderRequest struct {
	Allowed *bool `json:"allowed" binding:"required"`
}

// --- Message requests ---

// SendTextRequest is the JSON form of a send
type SendTextRequest struct {
	Text string `json:"text" binding:"required"`
}

// SendMediaForm is the multipart form of a send. The payload itself is the
// "file" part.
type SendMediaForm struct {
	Type             string `form:"type" binding:"required,oneof=image voice video"`
	Text             string `form:"text"`
	DurationSeconds  int    `form:"durationSeconds" binding:"min=0"`
	EphemeralSeconds int    `form:"ephemeralSeconds" binding:"min=0"`
}

// ListMessagesQuery pages backward through a chat
type ListMessagesQuery struct {
	// Before is an RFC 3339 timestamp; only older messages are returned
	Before string `form:"before"`
	Limit  int    `form:"limit" binding:"omitempty,min=1,max=200"`
}

// ExpireMediaRequest ends an ephemeral media message early
type ExpireMediaRequest struct {
	ReplacementText *string `json:"replacementText"`
}

// --- Poll requests ---

// CreatePollRequest posts a poll message
type CreatePollRequest struct {
	Question           string     `json:"question" binding:"required"`
	Options            []string   `json:"options" binding:"required"`
	AllowMultipleVotes bool       `json:"allowMultipleVotes"`
	ExpiresAt          *time.Time `json:"expiresAt"`
}

// Draft converts the request into a poll draft
func (r *CreatePollRequest) Draft() models.PollDraft {
	return models.PollDraft{
		Question:           r.Question,
		Options:            r.Options,
		AllowMultipleVotes: r.AllowMultipleVotes,
		ExpiresAt:          r.ExpiresAt,
	}
}

// VoteRequest toggles the caller's vote on one option
type VoteRequest struct {
	OptionIndex *int `json:"optionIndex" binding:"required"`
}

// PollResponse is a poll message with its tally
type PollResponse struct {
	Message *models.Message   `json:"message"`
	Tally   *models.PollTally `json:"tally"`
}

// --- Unread / notification / push ---

// ChatWithUnread is a chat list entry
type ChatWithUnread struct {
	*models.Chat
	UnreadCount int64 `json:"unreadCount"`
}

// SeenResponse reports the stored read cursor
type SeenResponse struct {
	ChatID   string    `json:"chatId"`
	LastSeen time.Time `json:"lastSeen"`
}

// MarkAllReadResponse reports how many notifications changed
type MarkAllReadResponse struct {
	Updated int64 `json:"updated"`
}

// SetPushEnabledRequest toggles push delivery
type SetPushEnabledRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// RegisterTokenRequest registers a device endpoint
type RegisterTokenRequest struct {
	Token    string `json:"token" binding:"required"`
	Platform string `json:"platform" binding:"required,oneof=ios android web"`
}
