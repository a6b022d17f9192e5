package services

import (
	"context"
	"testing"

	"github.com/yigit/clubchat/internal/app/models"
	"github.com/yigit/clubchat/internal/pkg/apperrors"
	"github.com/yigit/clubchat/internal/pkg/websocket"
)

func TestCreatePrivateChatIsSymmetricAndIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.directory.CreatePrivateChat(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("CreatePrivateChat(alice, bob): %v", err)
	}
	second, err := h.directory.CreatePrivateChat(ctx, "bob", "alice")
	if err != nil {
		t.Fatalf("CreatePrivateChat(bob, alice): %v", err)
	}

	if first.ID != second.ID {
		t.Fatalf("ids differ: %q vs %q", first.ID, second.ID)
	}
	if first.ID != "alice_bob" {
		t.Fatalf("id = %q, want alice_bob", first.ID)
	}
	if got := len(h.store.chats); got != 1 {
		t.Fatalf("stored chats = %d, want 1", got)
	}
	if first.Kind != models.ChatKindPrivate || first.Mode != models.ChatModeNormal {
		t.Fatalf("unexpected kind/mode %s/%s", first.Kind, first.Mode)
	}
}

func TestCreatePrivateChatRejectsInvalidPairs(t *testing.T) {
	h := newHarness(t)
	tests := []struct {
		name string
		a, b string
	}{
		{"self", "alice", "alice"},
		{"missing a", "", "bob"},
		{"blank b", "alice", "   "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.directory.CreatePrivateChat(context.Background(), tt.a, tt.b)
			assertErrorIs(t, err, apperrors.ErrInvalidPayload)
		})
	}
}

func TestCreatePrivateChatKeepsUnderscoreIDsApart(t *testing.T) {
	h := newHarness(t)
	first := h.privateChat(t, "x_y", "z")
	h.sendText(t, first.ID, "z", "secret for x_y")

	second := h.privateChat(t, "x", "y_z")
	if second.ID == first.ID {
		t.Fatalf("both pairs share chat id %q", first.ID)
	}
	if !second.HasParticipant("x") || !second.HasParticipant("y_z") {
		t.Fatalf("participants = %v, want x and y_z", second.Participants)
	}
	if second.LastMessagePreview != "" {
		t.Fatalf("new chat leaked preview %q", second.LastMessagePreview)
	}
}

func TestCreatePrivateChatRejectsForeignChatUnderSameID(t *testing.T) {
	h := newHarness(t)
	squatter := &models.Chat{
		ID:           models.PrivateChatID("alice", "bob"),
		Kind:         models.ChatKindGroup,
		Mode:         models.ChatModeNormal,
		Name:         "Not yours",
		CreatedBy:    "mallory",
		Participants: []string{"mallory"},
		CreatedAt:    h.clock.Now(),
	}
	if _, err := h.store.CreateChat(context.Background(), squatter); err != nil {
		t.Fatalf("CreateChat: %v", err)
	}

	_, err := h.directory.CreatePrivateChat(context.Background(), "alice", "bob")
	assertErrorIs(t, err, apperrors.ErrConflict)
}

func TestCreateGroupChatDedupsCreator(t *testing.T) {
	h := newHarness(t)
	chat := h.group(t, "alice", "bob", "alice", "carol", "bob")

	want := []string{"alice", "bob", "carol"}
	if len(chat.Participants) != len(want) {
		t.Fatalf("participants = %v, want %v", chat.Participants, want)
	}
	for i, id := range want {
		if chat.Participants[i] != id {
			t.Fatalf("participants = %v, want %v", chat.Participants, want)
		}
	}
	if chat.CreatedBy != "alice" {
		t.Fatalf("createdBy = %q", chat.CreatedBy)
	}

	for _, member := range []string{"bob", "carol"} {
		notes := h.notifications.forRecipient(member)
		if len(notes) != 1 || notes[0].Type != models.NotificationTypeGroupAdded {
			t.Fatalf("%s notifications = %+v, want one group_added", member, notes)
		}
	}
	if notes := h.notifications.forRecipient("alice"); len(notes) != 0 {
		t.Fatalf("creator got %d notifications", len(notes))
	}
}

func TestCreateGroupChatRequiresName(t *testing.T) {
	h := newHarness(t)
	_, err := h.directory.CreateGroupChat(context.Background(), "   ", "alice", []string{"bob"})
	assertErrorIs(t, err, apperrors.ErrInvalidPayload)
}

func TestCreateBroadcastChat(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	chat, err := h.directory.CreateBroadcastChat(ctx, models.BroadcastScopeClub, "admin", "Club news", []string{"guest1", "guest2"})
	if err != nil {
		t.Fatalf("CreateBroadcastChat: %v", err)
	}
	if chat.Mode != models.ChatModeBroadcast || chat.Kind != models.ChatKindGroup {
		t.Fatalf("kind/mode = %s/%s", chat.Kind, chat.Mode)
	}
	if len(chat.AllowedSenders) != 1 || chat.AllowedSenders[0] != "admin" {
		t.Fatalf("allowedSenders = %v, want [admin]", chat.AllowedSenders)
	}

	_, err = h.directory.CreateBroadcastChat(ctx, models.BroadcastScope("planet"), "admin", "x", nil)
	assertErrorIs(t, err, apperrors.ErrInvalidPayload)
}

func TestGroupDeletedWhenLastMemberLeaves(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	chat := h.group(t, "alice", "bob")

	if err := h.directory.LeaveGroup(ctx, chat.ID, "alice"); err != nil {
		t.Fatalf("first leave: %v", err)
	}
	remaining, err := h.store.GetChat(ctx, chat.ID)
	if err != nil {
		t.Fatalf("chat vanished after first leave: %v", err)
	}
	if len(remaining.Participants) != 1 || remaining.Participants[0] != "bob" {
		t.Fatalf("participants = %v, want [bob]", remaining.Participants)
	}

	if err := h.directory.LeaveGroup(ctx, chat.ID, "bob"); err != nil {
		t.Fatalf("second leave: %v", err)
	}
	_, err = h.store.GetChat(ctx, chat.ID)
	assertErrorIs(t, err, apperrors.ErrResourceNotFound)

	if got := h.publisher.count(websocket.ChatsTopic("bob"), websocket.EventChatRemoved); got != 1 {
		t.Fatalf("chat.removed events for bob = %d, want 1", got)
	}
}

func TestDeleteGroupCreatorOnly(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	chat := h.group(t, "alice", "bob")

	err := h.directory.DeleteGroup(ctx, "bob", chat.ID)
	assertErrorIs(t, err, apperrors.ErrPermissionDenied)
	if _, err := h.store.GetChat(ctx, chat.ID); err != nil {
		t.Fatalf("chat removed by non-creator: %v", err)
	}

	if err := h.directory.DeleteGroup(ctx, "alice", chat.ID); err != nil {
		t.Fatalf("DeleteGroup by creator: %v", err)
	}
	_, err = h.store.GetChat(ctx, chat.ID)
	assertErrorIs(t, err, apperrors.ErrResourceNotFound)
}

func TestPrivateChatMembershipIsFixed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	chat, err := h.directory.CreatePrivateChat(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("CreatePrivateChat: %v", err)
	}

	_, err = h.directory.AddMember(ctx, "alice", chat.ID, "carol")
	assertErrorIs(t, err, apperrors.ErrPermissionDenied)
	assertErrorIs(t, h.directory.LeaveGroup(ctx, chat.ID, "alice"), apperrors.ErrPermissionDenied)
	assertErrorIs(t, h.directory.RemoveMember(ctx, "alice", chat.ID, "bob"), apperrors.ErrPermissionDenied)
	assertErrorIs(t, h.directory.DeleteGroup(ctx, "alice", chat.ID), apperrors.ErrPermissionDenied)
}

func TestAddMember(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	chat := h.group(t, "alice", "bob")

	_, err := h.directory.AddMember(ctx, "mallory", chat.ID, "carol")
	assertErrorIs(t, err, apperrors.ErrPermissionDenied)

	updated, err := h.directory.AddMember(ctx, "bob", chat.ID, "carol")
	if err != nil {
		t.Fatalf("AddMember: %v", err)
	}
	if !updated.HasParticipant("carol") {
		t.Fatalf("carol missing from %v", updated.Participants)
	}
	h.background.Wait()

	again, err := h.directory.AddMember(ctx, "alice", chat.ID, "carol")
	if err != nil {
		t.Fatalf("repeated AddMember: %v", err)
	}
	if len(again.Participants) != 3 {
		t.Fatalf("participants = %v, want 3 entries", again.Participants)
	}
	h.background.Wait()

	if notes := h.notifications.forRecipient("carol"); len(notes) != 1 {
		t.Fatalf("carol notifications = %d, want 1", len(notes))
	}
}

func TestRemoveMemberCreatorOnly(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	chat := h.group(t, "alice", "bob", "carol")

	assertErrorIs(t, h.directory.RemoveMember(ctx, "bob", chat.ID, "carol"), apperrors.ErrPermissionDenied)

	if err := h.directory.RemoveMember(ctx, "alice", chat.ID, "carol"); err != nil {
		t.Fatalf("RemoveMember: %v", err)
	}
	current, _ := h.store.GetChat(ctx, chat.ID)
	if current.HasParticipant("carol") {
		t.Fatalf("carol still a participant")
	}
	if err := h.directory.RemoveMember(ctx, "alice", chat.ID, "carol"); err != nil {
		t.Fatalf("removing an absent member: %v", err)
	}
}

func TestSetBroadcastSender(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	chat, err := h.directory.CreateBroadcastChat(ctx, models.BroadcastScopeGlobal, "admin", "Announcements", []string{"guest", "staff"})
	if err != nil {
		t.Fatalf("CreateBroadcastChat: %v", err)
	}

	_, err = h.directory.SetBroadcastSender(ctx, "guest", chat.ID, "staff", true)
	assertErrorIs(t, err, apperrors.ErrPermissionDenied)

	_, err = h.directory.SetBroadcastSender(ctx, "admin", chat.ID, "admin", false)
	assertErrorIs(t, err, apperrors.ErrInvalidPayload)

	updated, err := h.directory.SetBroadcastSender(ctx, "admin", chat.ID, "staff", true)
	if err != nil {
		t.Fatalf("SetBroadcastSender: %v", err)
	}
	if !updated.CanPost("staff") || updated.CanPost("guest") {
		t.Fatalf("allowedSenders = %v", updated.AllowedSenders)
	}
}

func TestGetChatRequiresParticipant(t *testing.T) {
	h := newHarness(t)
	chat := h.group(t, "alice", "bob")

	_, err := h.directory.GetChat(context.Background(), "mallory", chat.ID)
	assertErrorIs(t, err, apperrors.ErrPermissionDenied)

	_, err = h.directory.GetChat(context.Background(), "alice", "missing")
	assertErrorIs(t, err, apperrors.ErrResourceNotFound)
}

func TestMembershipLossRevokesMessageStream(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	chat := h.group(t, "alice", "bob", "carol")
	topic := websocket.MessagesTopic(chat.ID)

	if err := h.directory.RemoveMember(ctx, "alice", chat.ID, "bob"); err != nil {
		t.Fatalf("RemoveMember: %v", err)
	}
	if err := h.directory.LeaveGroup(ctx, chat.ID, "carol"); err != nil {
		t.Fatalf("LeaveGroup: %v", err)
	}
	if got := h.publisher.disconnected(topic); len(got) != 2 || got[0] != "bob" || got[1] != "carol" {
		t.Fatalf("revoked = %v, want [bob carol]", got)
	}

	if err := h.directory.DeleteGroup(ctx, "alice", chat.ID); err != nil {
		t.Fatalf("DeleteGroup: %v", err)
	}
	if got := h.publisher.disconnected(topic); len(got) != 3 || got[2] != "*" {
		t.Fatalf("revoked = %v, want the whole topic closed on delete", got)
	}
}
