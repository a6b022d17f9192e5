package services

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/yigit/clubchat/internal/app/models"
	"github.com/yigit/clubchat/internal/pkg/apperrors"
	"github.com/yigit/clubchat/internal/pkg/websocket"
)

func (h *harness) sendEphemeral(t *testing.T, chatID, sender string, seconds int) *models.Message {
	t.Helper()
	msg, err := h.messages.SendMessage(context.Background(), chatID, models.Sender{ID: sender}, imagePayload(seconds))
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	h.background.Wait()
	return msg
}

func assertExpired(t *testing.T, msg *models.Message, placeholder string) {
	t.Helper()
	if msg.MediaURL != "" || msg.MediaType != "" || msg.ExpiresAt != nil || msg.EphemeralSeconds != 0 {
		t.Fatalf("media fields not cleared: %+v", msg)
	}
	if msg.Text != placeholder {
		t.Fatalf("text = %q, want %q", msg.Text, placeholder)
	}
}

func TestEphemeralMediaExpiresOnTimer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	chat := h.group(t, "alice", "bob")
	msg := h.sendEphemeral(t, chat.ID, "alice", 5)

	if msg.ExpiresAt == nil || !msg.ExpiresAt.Equal(msg.CreatedAt.Add(5*time.Second)) {
		t.Fatalf("expiresAt = %v, want createdAt+5s", msg.ExpiresAt)
	}

	h.clock.Advance(4 * time.Second)
	stored, _ := h.store.GetMessage(ctx, chat.ID, msg.ID)
	if stored.MediaURL == "" {
		t.Fatal("media expired early")
	}

	h.clock.Advance(time.Second)
	stored, _ = h.store.GetMessage(ctx, chat.ID, msg.ID)
	assertExpired(t, stored, DefaultEphemeralPlaceholder)
	if h.blobs.count() != 0 {
		t.Fatalf("blob survived expiry")
	}
	if h.expirer.Pending() != 0 {
		t.Fatalf("pending = %d after expiry", h.expirer.Pending())
	}

	again, err := h.expirer.ExpireMedia(ctx, chat.ID, msg.ID, nil)
	if err != nil {
		t.Fatalf("second ExpireMedia: %v", err)
	}
	assertExpired(t, again, DefaultEphemeralPlaceholder)
	afterSecond, _ := h.store.GetMessage(ctx, chat.ID, msg.ID)
	if *afterSecond != *stored {
		t.Fatalf("second expiry changed state:\n%+v\n%+v", afterSecond, stored)
	}
	if got := h.publisher.count(websocket.MessagesTopic(chat.ID), websocket.EventMessageUpdated); got < 1 {
		t.Fatal("no message.updated event")
	}
}

func TestExpireMediaReplacementText(t *testing.T) {
	h := newHarness(t)
	chat := h.group(t, "alice", "bob")
	msg := h.sendEphemeral(t, chat.ID, "alice", 60)

	replacement := "photo viewed"
	expired, err := h.expirer.ExpireMedia(context.Background(), chat.ID, msg.ID, &replacement)
	if err != nil {
		t.Fatalf("ExpireMedia: %v", err)
	}
	assertExpired(t, expired, replacement)
	if h.expirer.Pending() != 0 {
		t.Fatal("timer not cancelled by manual expiry")
	}
}

func TestExpireMediaRejectsNonMedia(t *testing.T) {
	h := newHarness(t)
	chat := h.group(t, "alice", "bob")
	msg := h.sendText(t, chat.ID, "alice", "plain")

	_, err := h.expirer.ExpireMedia(context.Background(), chat.ID, msg.ID, nil)
	assertErrorIs(t, err, apperrors.ErrInvalidPayload)
}

func TestExpireMediaLeavesDeletedMessages(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	chat := h.group(t, "alice", "bob")
	msg := h.sendEphemeral(t, chat.ID, "alice", 60)
	if err := h.messages.DeleteMessage(ctx, "alice", chat.ID, msg.ID); err != nil {
		t.Fatalf("DeleteMessage: %v", err)
	}

	got, err := h.expirer.ExpireMedia(ctx, chat.ID, msg.ID, nil)
	if err != nil {
		t.Fatalf("ExpireMedia on deleted: %v", err)
	}
	if !got.Deleted || got.Text != "" {
		t.Fatalf("deleted message rewritten: %+v", got)
	}
}

func TestExpireMediaAs(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	chat := h.group(t, "alice", "bob")
	msg := h.sendEphemeral(t, chat.ID, "alice", 60)

	_, err := h.expirer.ExpireMediaAs(ctx, "mallory", chat.ID, msg.ID, nil)
	assertErrorIs(t, err, apperrors.ErrPermissionDenied)

	_, err = h.expirer.ExpireMediaAs(ctx, "bob", chat.ID, msg.ID, nil)
	assertErrorIs(t, err, apperrors.ErrPermissionDenied)

	if _, err := h.expirer.ExpireMediaAs(ctx, "alice", chat.ID, msg.ID, nil); err != nil {
		t.Fatalf("sender expiry: %v", err)
	}

	other := h.sendEphemeral(t, chat.ID, "alice", 10)
	h.expirer.Cancel(other.ID)
	h.clock.Advance(11 * time.Second)
	if _, err := h.expirer.ExpireMediaAs(ctx, "bob", chat.ID, other.ID, nil); err != nil {
		t.Fatalf("recipient expiry after countdown: %v", err)
	}
}

func TestRecoverReschedulesPendingExpiries(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	chat := h.group(t, "alice", "bob")

	// Simulate a restart: timers armed before the stop are lost
	h.expirer.Stop()
	overdue := h.sendEphemeral(t, chat.ID, "alice", 5)
	upcoming := h.sendEphemeral(t, chat.ID, "alice", 60)
	h.clock.Advance(10 * time.Second)

	restarted := NewExpirer(h.store, h.store, h.blobs, h.publisher, h.clock, nil, "", zerolog.Nop())
	defer restarted.Stop()

	scheduled, err := restarted.Recover(ctx)
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if scheduled != 1 {
		t.Fatalf("scheduled = %d, want 1", scheduled)
	}
	stored, _ := h.store.GetMessage(ctx, chat.ID, overdue.ID)
	assertExpired(t, stored, DefaultEphemeralPlaceholder)

	stored, _ = h.store.GetMessage(ctx, chat.ID, upcoming.ID)
	if stored.MediaURL == "" {
		t.Fatal("upcoming expiry fired early")
	}
	h.clock.Advance(time.Minute)
	stored, _ = h.store.GetMessage(ctx, chat.ID, upcoming.ID)
	assertExpired(t, stored, DefaultEphemeralPlaceholder)
}

func TestSweepExpiresOverdueMessages(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	chat := h.group(t, "alice", "bob")

	h.expirer.Stop()
	h.sendEphemeral(t, chat.ID, "alice", 5)
	h.sendEphemeral(t, chat.ID, "bob", 300)
	h.clock.Advance(time.Minute)

	expired, err := h.expirer.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if expired != 1 {
		t.Fatalf("expired = %d, want 1", expired)
	}
	expired, err = h.expirer.Sweep(ctx)
	if err != nil || expired != 0 {
		t.Fatalf("second sweep = %d, %v", expired, err)
	}
}

func TestScheduleAfterStop(t *testing.T) {
	h := newHarness(t)
	h.expirer.Stop()
	err := h.expirer.Schedule("chat", "msg", h.clock.Now().Add(time.Minute))
	assertErrorIs(t, err, ErrExpirerStopped)
}
