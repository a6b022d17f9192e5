package models

import (
	"fmt"
	"io"
	"time"
)

// MessageType represents the payload kind of a message
type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeImage MessageType = "image"
	MessageTypeVoice MessageType = "voice"
	MessageTypeVideo MessageType = "video"
	MessageTypePoll  MessageType = "poll"
)

// IsMedia reports whether the type carries a media payload
func (t MessageType) IsMedia() bool {
	switch t {
	case MessageTypeImage, MessageTypeVoice, MessageTypeVideo:
		return true
	case MessageTypeText, MessageTypePoll:
		return false
	default:
		return false
	}
}

// Valid reports whether t is a known type
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeVoice, MessageTypeVideo, MessageTypePoll:
		return true
	default:
		return false
	}
}

// Preview texts shown in the chat list for non-text messages
const (
	PreviewImage = "📷 Photo"
	PreviewVoice = "🎤 Voice message"
	PreviewVideo = "🎥 Video"
	PreviewPoll  = "📊 Poll"
)

// Message represents a single entry of a chat
type Message struct {
	ID               string      `json:"id" db:"id"`
	ChatID           string      `json:"chatId" db:"chat_id"`
	SenderID         string      `json:"senderId" db:"sender_id"`
	SenderName       string      `json:"senderName" db:"sender_name"`
	Type             MessageType `json:"type" db:"type"`
	Text             string      `json:"text,omitempty" db:"text"`
	MediaURL         string      `json:"mediaUrl,omitempty" db:"media_url"`
	MediaType        string      `json:"mediaType,omitempty" db:"media_type"`
	MediaKey         string      `json:"-" db:"media_key"`
	DurationSeconds  int         `json:"durationSeconds,omitempty" db:"duration_seconds"`
	EphemeralSeconds int         `json:"ephemeralSeconds,omitempty" db:"ephemeral_seconds"`
	ExpiresAt        *time.Time  `json:"expiresAt,omitempty" db:"expires_at"`
	Poll             *Poll       `json:"poll,omitempty" db:"poll"`
	Deleted          bool        `json:"deleted" db:"deleted"`
	CreatedAt        time.Time   `json:"createdAt" db:"created_at"`
}

// IsEphemeral reports whether the message still has a pending expiry
func (m *Message) IsEphemeral() bool {
	return m.ExpiresAt != nil
}

// Preview derives the chat-list preview for the message
func (m *Message) Preview() string {
	switch m.Type {
	case MessageTypeText:
		return m.Text
	case MessageTypeImage:
		return PreviewImage
	case MessageTypeVoice:
		return PreviewVoice
	case MessageTypeVideo:
		return PreviewVideo
	case MessageTypePoll:
		return PreviewPoll
	default:
		panic(fmt.Sprintf("models: unhandled message type %q", m.Type))
	}
}

// Sender identifies the author of an outgoing message
type Sender struct {
	ID   string
	Name string
}

// MediaBlob is an uploaded media payload awaiting storage
type MediaBlob struct {
	Type            MessageType
	ContentType     string
	FileName        string
	Size            int64
	DurationSeconds int
	Body            io.Reader
}

// PollDraft is the poll-create payload of an outgoing message
type PollDraft struct {
	Question           string
	Options            []string
	AllowMultipleVotes bool
	ExpiresAt          *time.Time
}

// OutgoingMessage is everything a caller may put into a send.
// Exactly one of text-only, media (with optional caption) or poll is valid.
type OutgoingMessage struct {
	Text             string
	Media            *MediaBlob
	Poll             *PollDraft
	EphemeralSeconds int
}

// Type resolves the message type implied by the payload
func (o *OutgoingMessage) Type() MessageType {
	switch {
	case o.Poll != nil:
		return MessageTypePoll
	case o.Media != nil:
		return o.Media.Type
	default:
		return MessageTypeText
	}
}
