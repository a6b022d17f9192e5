package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/yigit/clubchat/internal/app/models"
	"github.com/yigit/clubchat/internal/pkg/apperrors"
	"github.com/yigit/clubchat/internal/pkg/websocket"
)

func imagePayload(ephemeral int) models.OutgoingMessage {
	return models.OutgoingMessage{
		Media: &models.MediaBlob{
			Type:        models.MessageTypeImage,
			ContentType: "image/jpeg",
			FileName:    "summit.JPG",
			Size:        9,
			Body:        strings.NewReader("jpeg-data"),
		},
		EphemeralSeconds: ephemeral,
	}
}

func TestSendMessageUpdatesPreview(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	chat := h.group(t, "alice", "bob")

	tests := []struct {
		name    string
		payload models.OutgoingMessage
		want    string
	}{
		{"text", models.OutgoingMessage{Text: "see you at 7"}, "see you at 7"},
		{"image", imagePayload(0), models.PreviewImage},
		{"voice", models.OutgoingMessage{Media: &models.MediaBlob{
			Type: models.MessageTypeVoice, ContentType: "audio/ogg", FileName: "memo.ogg",
			DurationSeconds: 12, Body: strings.NewReader("ogg"),
		}}, models.PreviewVoice},
		{"video", models.OutgoingMessage{Media: &models.MediaBlob{
			Type: models.MessageTypeVideo, ContentType: "video/mp4", FileName: "clip.mp4",
			Body: strings.NewReader("mp4"),
		}}, models.PreviewVideo},
		{"poll", models.OutgoingMessage{Poll: &models.PollDraft{
			Question: "Pizza?", Options: []string{"yes", "no"},
		}}, models.PreviewPoll},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := h.messages.SendMessage(ctx, chat.ID, models.Sender{ID: "alice", Name: "Alice"}, tt.payload)
			if err != nil {
				t.Fatalf("SendMessage: %v", err)
			}
			h.background.Wait()

			stored, err := h.store.GetChat(ctx, chat.ID)
			if err != nil {
				t.Fatalf("GetChat: %v", err)
			}
			if stored.LastMessagePreview != tt.want {
				t.Fatalf("preview = %q, want %q", stored.LastMessagePreview, tt.want)
			}
			if stored.LastMessageAt == nil || !stored.LastMessageAt.Equal(msg.CreatedAt) {
				t.Fatalf("lastMessageAt = %v, want %v", stored.LastMessageAt, msg.CreatedAt)
			}
			if msg.Type.IsMedia() && msg.MediaURL == "" {
				t.Fatal("media message stored without url")
			}
		})
	}
}

func TestSendMessageCreatedAtStrictlyIncreases(t *testing.T) {
	h := newHarness(t)
	chat := h.group(t, "alice", "bob")

	var previous time.Time
	for i := 0; i < 5; i++ {
		msg := h.sendText(t, chat.ID, "alice", "ping")
		if !msg.CreatedAt.After(previous) {
			t.Fatalf("message %d createdAt %v not after %v", i, msg.CreatedAt, previous)
		}
		previous = msg.CreatedAt
	}
}

func TestSendMessageRejectsInvalidPayloads(t *testing.T) {
	h := newHarness(t)
	chat := h.group(t, "alice", "bob")
	past := epoch.Add(-time.Hour)

	tests := []struct {
		name    string
		payload models.OutgoingMessage
		target  error
	}{
		{"empty", models.OutgoingMessage{}, apperrors.ErrInvalidPayload},
		{"whitespace", models.OutgoingMessage{Text: "  \n "}, apperrors.ErrInvalidPayload},
		{"ephemeral text", models.OutgoingMessage{Text: "hi", EphemeralSeconds: 5}, apperrors.ErrInvalidPayload},
		{"negative ephemeral", imagePayload(-1), apperrors.ErrInvalidPayload},
		{"media without body", models.OutgoingMessage{Media: &models.MediaBlob{Type: models.MessageTypeImage}}, apperrors.ErrInvalidPayload},
		{"media typed as text", models.OutgoingMessage{Media: &models.MediaBlob{Type: models.MessageTypeText, Body: strings.NewReader("x")}}, apperrors.ErrInvalidPayload},
		{"poll with text", models.OutgoingMessage{Text: "hi", Poll: &models.PollDraft{Question: "q", Options: []string{"a", "b"}}}, apperrors.ErrInvalidPayload},
		{"poll one option", models.OutgoingMessage{Poll: &models.PollDraft{Question: "q", Options: []string{"a", " a "}}}, apperrors.ErrInvalidPoll},
		{"poll expired", models.OutgoingMessage{Poll: &models.PollDraft{Question: "q", Options: []string{"a", "b"}, ExpiresAt: &past}}, apperrors.ErrInvalidPoll},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.messages.SendMessage(context.Background(), chat.ID, models.Sender{ID: "alice"}, tt.payload)
			assertErrorIs(t, err, tt.target)
		})
	}
	if got := h.store.messageCount(); got != 0 {
		t.Fatalf("%d messages persisted by invalid sends", got)
	}
	if got := h.blobs.count(); got != 0 {
		t.Fatalf("%d blobs uploaded by invalid sends", got)
	}
}

func TestSendMessageRequiresParticipant(t *testing.T) {
	h := newHarness(t)
	chat := h.group(t, "alice", "bob")

	_, err := h.messages.SendMessage(context.Background(), chat.ID, models.Sender{ID: "mallory"}, models.OutgoingMessage{Text: "hi"})
	assertErrorIs(t, err, apperrors.ErrPermissionDenied)

	_, err = h.messages.SendMessage(context.Background(), "missing", models.Sender{ID: "alice"}, models.OutgoingMessage{Text: "hi"})
	assertErrorIs(t, err, apperrors.ErrResourceNotFound)
}

func TestBroadcastGuard(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	chat, err := h.directory.CreateBroadcastChat(ctx, models.BroadcastScopeClub, "admin", "Club news", []string{"guest"})
	if err != nil {
		t.Fatalf("CreateBroadcastChat: %v", err)
	}
	h.background.Wait()

	_, err = h.messages.SendMessage(ctx, chat.ID, models.Sender{ID: "guest"}, imagePayload(0))
	assertErrorIs(t, err, apperrors.ErrPermissionDenied)
	if got := h.store.messageCount(); got != 0 {
		t.Fatalf("guest send persisted %d messages", got)
	}
	if got := h.blobs.count(); got != 0 {
		t.Fatalf("guest send uploaded %d blobs", got)
	}

	msg, err := h.messages.SendMessage(ctx, chat.ID, models.Sender{ID: "admin"}, models.OutgoingMessage{Text: "Doors open at 9"})
	if err != nil {
		t.Fatalf("admin send: %v", err)
	}
	h.background.Wait()

	notes := h.notifications.forRecipient("guest")
	last := notes[len(notes)-1]
	if last.Type != models.NotificationTypeBroadcast || last.Data.MessageID != msg.ID {
		t.Fatalf("guest notification = %+v, want broadcast for %s", last, msg.ID)
	}
}

func TestSendMessageUploadFailureAborts(t *testing.T) {
	h := newHarness(t)
	chat := h.group(t, "alice", "bob")
	h.blobs.uploadErr = errors.New("bucket unreachable")

	_, err := h.messages.SendMessage(context.Background(), chat.ID, models.Sender{ID: "alice"}, imagePayload(0))
	assertErrorIs(t, err, apperrors.ErrStorageFailure)
	assertErrorIs(t, err, h.blobs.uploadErr)
	if got := h.store.messageCount(); got != 0 {
		t.Fatalf("%d messages persisted after failed upload", got)
	}
}

func TestSendMessagePersistFailureRemovesBlob(t *testing.T) {
	h := newHarness(t)
	chat := h.group(t, "alice", "bob")
	h.store.insertErr = errStorage

	_, err := h.messages.SendMessage(context.Background(), chat.ID, models.Sender{ID: "alice"}, imagePayload(0))
	assertErrorIs(t, err, apperrors.ErrStorageFailure)
	assertErrorIs(t, err, errStorage)
	if got := h.blobs.count(); got != 0 {
		t.Fatalf("orphaned blobs = %d, want 0", got)
	}
}

func TestSendMessageSurvivesFanoutFailure(t *testing.T) {
	h := newHarness(t)
	chat := h.group(t, "alice", "bob", "carol")
	h.notifications.failFor["bob"] = errStorage

	msg := h.sendText(t, chat.ID, "alice", "hello")
	if msg.ID == "" {
		t.Fatal("message has no id")
	}
	for _, n := range h.notifications.forRecipient("carol") {
		if n.Type == models.NotificationTypeNewMessage && n.Data.MessageID == msg.ID {
			return
		}
	}
	t.Fatal("carol did not receive the new_message notification")
}

func TestSendMessageNotifiesEveryoneButSender(t *testing.T) {
	h := newHarness(t)
	chat := h.group(t, "alice", "bob", "carol")
	msg := h.sendText(t, chat.ID, "alice", "hello")

	for _, user := range []string{"bob", "carol"} {
		found := false
		for _, n := range h.notifications.forRecipient(user) {
			if n.Data.MessageID == msg.ID {
				found = true
				if n.Title != chat.Name || n.Body != "alice: hello" {
					t.Fatalf("%s notification title/body = %q/%q", user, n.Title, n.Body)
				}
			}
		}
		if !found {
			t.Fatalf("%s not notified", user)
		}
	}
	if got := len(h.notifications.forRecipient("alice")); got != 0 {
		t.Fatalf("sender received %d notifications", got)
	}
	if got := h.publisher.count(websocket.MessagesTopic(chat.ID), websocket.EventMessageCreated); got != 1 {
		t.Fatalf("message.created events = %d, want 1", got)
	}
}

func TestDeleteMessageIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	chat := h.group(t, "alice", "bob")

	msg, err := h.messages.SendMessage(ctx, chat.ID, models.Sender{ID: "bob"}, imagePayload(30))
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	h.background.Wait()
	if h.expirer.Pending() != 1 {
		t.Fatalf("pending timers = %d, want 1", h.expirer.Pending())
	}

	assertErrorIs(t, h.messages.DeleteMessage(ctx, "carol", chat.ID, msg.ID), apperrors.ErrPermissionDenied)

	for i := 0; i < 2; i++ {
		if err := h.messages.DeleteMessage(ctx, "bob", chat.ID, msg.ID); err != nil {
			t.Fatalf("delete #%d: %v", i+1, err)
		}
	}

	stored, err := h.store.GetMessage(ctx, chat.ID, msg.ID)
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if !stored.Deleted || stored.MediaURL != "" || stored.Text != "" || stored.ExpiresAt != nil {
		t.Fatalf("tombstone = %+v", stored)
	}
	if h.expirer.Pending() != 0 {
		t.Fatalf("expiry timer survived delete")
	}
	if len(h.blobs.removed) != 1 {
		t.Fatalf("removed blobs = %v, want one", h.blobs.removed)
	}
}

func TestChatCreatorCanDeleteOthersMessages(t *testing.T) {
	h := newHarness(t)
	chat := h.group(t, "alice", "bob", "carol")
	msg := h.sendText(t, chat.ID, "bob", "spam")

	assertErrorIs(t, h.messages.DeleteMessage(context.Background(), "carol", chat.ID, msg.ID), apperrors.ErrPermissionDenied)
	if err := h.messages.DeleteMessage(context.Background(), "alice", chat.ID, msg.ID); err != nil {
		t.Fatalf("creator delete: %v", err)
	}
}

func TestListMessagesPagesBackwards(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	chat := h.group(t, "alice", "bob")
	var sent []*models.Message
	for _, text := range []string{"one", "two", "three"} {
		sent = append(sent, h.sendText(t, chat.ID, "alice", text))
	}

	page, err := h.messages.ListMessages(ctx, "bob", chat.ID, nil, 2)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(page) != 2 || page[0].Text != "three" || page[1].Text != "two" {
		t.Fatalf("first page = %+v", page)
	}

	before := page[1].CreatedAt
	page, err = h.messages.ListMessages(ctx, "bob", chat.ID, &before, 2)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(page) != 1 || page[0].ID != sent[0].ID {
		t.Fatalf("second page = %+v", page)
	}

	_, err = h.messages.ListMessages(ctx, "mallory", chat.ID, nil, 0)
	assertErrorIs(t, err, apperrors.ErrPermissionDenied)
}
