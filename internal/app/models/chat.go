package models

import (
	"sort"
	"strings"
	"time"
)

// ChatKind distinguishes one-to-one chats from groups
type ChatKind string

const (
	ChatKindPrivate ChatKind = "private"
	ChatKindGroup   ChatKind = "group"
)

// Valid reports whether k is a known kind
func (k ChatKind) Valid() bool {
	switch k {
	case ChatKindPrivate, ChatKindGroup:
		return true
	default:
		return false
	}
}

// ChatMode controls who may post
type ChatMode string

const (
	ChatModeNormal    ChatMode = "normal"
	ChatModeBroadcast ChatMode = "broadcast"
)

// Valid reports whether m is a known mode
func (m ChatMode) Valid() bool {
	switch m {
	case ChatModeNormal, ChatModeBroadcast:
		return true
	default:
		return false
	}
}

// BroadcastScope is the audience a broadcast chat was created for
type BroadcastScope string

const (
	BroadcastScopeClub   BroadcastScope = "club"
	BroadcastScopeGlobal BroadcastScope = "global"
)

// Valid reports whether s is a known scope
func (s BroadcastScope) Valid() bool {
	switch s {
	case BroadcastScopeClub, BroadcastScopeGlobal:
		return true
	default:
		return false
	}
}

// privateChatSeparator joins the two participant ids of a private chat
const privateChatSeparator = "_"

// privateIDEscaper keeps the separator unambiguous when an id contains it
var privateIDEscaper = strings.NewReplacer("~", "~~", privateChatSeparator, "~"+privateChatSeparator)

// Chat represents a conversation between a set of participants
type Chat struct {
	ID                 string         `json:"id" db:"id"`
	Kind               ChatKind       `json:"kind" db:"kind"`
	Mode               ChatMode       `json:"mode" db:"mode"`
	Name               string         `json:"name,omitempty" db:"name"`
	CreatedBy          string         `json:"createdBy" db:"created_by"`
	BroadcastScope     BroadcastScope `json:"broadcastScope,omitempty" db:"broadcast_scope"`
	LastMessageAt      *time.Time     `json:"lastMessageAt,omitempty" db:"last_message_at"`
	LastMessagePreview string         `json:"lastMessagePreview,omitempty" db:"last_message_preview"`
	CreatedAt          time.Time      `json:"createdAt" db:"created_at"`

	// Membership, loaded from chat_participants / chat_allowed_senders
	Participants   []string `json:"participants"`
	AllowedSenders []string `json:"allowedSenders,omitempty"`
}

// PrivateChatID returns the deterministic id of the private chat between a and b.
// The order of the arguments does not matter. Ids containing "_" or "~" are
// escaped, so distinct pairs never share an id.
func PrivateChatID(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return privateIDEscaper.Replace(ids[0]) + privateChatSeparator + privateIDEscaper.Replace(ids[1])
}

// HasParticipant reports whether userID belongs to the chat
func (c *Chat) HasParticipant(userID string) bool {
	return containsID(c.Participants, userID)
}

// CanPost reports whether userID may author messages in the chat
func (c *Chat) CanPost(userID string) bool {
	if !c.HasParticipant(userID) {
		return false
	}
	switch c.Mode {
	case ChatModeBroadcast:
		return containsID(c.AllowedSenders, userID)
	case ChatModeNormal:
		return true
	default:
		return false
	}
}

// IsCreator reports whether userID created the chat
func (c *Chat) IsCreator(userID string) bool {
	return c.CreatedBy != "" && c.CreatedBy == userID
}

// OtherParticipants returns every participant except userID
func (c *Chat) OtherParticipants(userID string) []string {
	others := make([]string, 0, len(c.Participants))
	for _, id := range c.Participants {
		if id != userID {
			others = append(others, id)
		}
	}
	return others
}

// DedupIDs trims ids, drops empty ones and removes duplicates while
// keeping first-seen order.
func DedupIDs(ids ...string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func containsID(ids []string, id string) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}

// ChatMetadata is the per-(user, chat) read cursor
type ChatMetadata struct {
	UserID   string    `json:"userId" db:"user_id"`
	ChatID   string    `json:"chatId" db:"chat_id"`
	LastSeen time.Time `json:"lastSeen" db:"last_seen"`
}
