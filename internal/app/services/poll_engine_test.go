package services

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/yigit/clubchat/internal/app/models"
	"github.com/yigit/clubchat/internal/pkg/apperrors"
)

func (h *harness) poll(t *testing.T, chatID string, allowMultiple bool, expiresAt *time.Time) *models.Message {
	t.Helper()
	msg, err := h.polls.CreatePoll(context.Background(), chatID, models.Sender{ID: "alice", Name: "Alice"}, models.PollDraft{
		Question:           "Which crag on Saturday?",
		Options:            []string{"North wall", "Quarry", "Boulder field"},
		AllowMultipleVotes: allowMultiple,
		ExpiresAt:          expiresAt,
	})
	if err != nil {
		t.Fatalf("CreatePoll: %v", err)
	}
	h.background.Wait()
	return msg
}

func TestCreatePollNormalizesDraft(t *testing.T) {
	h := newHarness(t)
	chat := h.group(t, "alice", "bob")

	msg, err := h.polls.CreatePoll(context.Background(), chat.ID, models.Sender{ID: "alice"}, models.PollDraft{
		Question: "  Where to eat?  ",
		Options:  []string{" Tacos ", "", "Ramen", "Tacos", "  ", "Ramen "},
	})
	if err != nil {
		t.Fatalf("CreatePoll: %v", err)
	}
	if msg.Type != models.MessageTypePoll {
		t.Fatalf("type = %s", msg.Type)
	}
	if msg.Poll.Question != "Where to eat?" {
		t.Fatalf("question = %q", msg.Poll.Question)
	}
	if want := []string{"Tacos", "Ramen"}; !reflect.DeepEqual(msg.Poll.Options, want) {
		t.Fatalf("options = %v, want %v", msg.Poll.Options, want)
	}
	h.background.Wait()

	notes := h.notifications.forRecipient("bob")
	last := notes[len(notes)-1]
	if last.Type != models.NotificationTypeNewPoll {
		t.Fatalf("notification type = %s, want new_poll", last.Type)
	}
}

func TestCreatePollValidation(t *testing.T) {
	h := newHarness(t)
	chat := h.group(t, "alice", "bob")
	now := h.clock.Now()

	tests := []struct {
		name  string
		draft models.PollDraft
	}{
		{"blank question", models.PollDraft{Question: "  ", Options: []string{"a", "b"}}},
		{"single option", models.PollDraft{Question: "q", Options: []string{"a"}}},
		{"duplicates collapse", models.PollDraft{Question: "q", Options: []string{"a", "a ", " a"}}},
		{"expiry now", models.PollDraft{Question: "q", Options: []string{"a", "b"}, ExpiresAt: &now}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.polls.CreatePoll(context.Background(), chat.ID, models.Sender{ID: "alice"}, tt.draft)
			assertErrorIs(t, err, apperrors.ErrInvalidPoll)
		})
	}
	if got := h.store.messageCount(); got != 0 {
		t.Fatalf("%d messages persisted", got)
	}
}

func TestVoteSingleChoiceMovesSelection(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	chat := h.group(t, "alice", "bob")
	msg := h.poll(t, chat.ID, false, nil)

	if _, err := h.polls.Vote(ctx, chat.ID, msg.ID, "bob", 0); err != nil {
		t.Fatalf("vote 0: %v", err)
	}
	updated, err := h.polls.Vote(ctx, chat.ID, msg.ID, "bob", 2)
	if err != nil {
		t.Fatalf("vote 2: %v", err)
	}

	if updated.Poll.HasVoted(0, "bob") {
		t.Fatal("single-choice poll kept the previous selection")
	}
	if !updated.Poll.HasVoted(2, "bob") {
		t.Fatal("new selection missing")
	}
	tally := updated.Poll.Tally()
	if tally.TotalVoters != 1 || tally.Counts[2] != 1 || tally.Counts[0] != 0 {
		t.Fatalf("tally = %+v", tally)
	}
}

func TestVoteToggleUnvotes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	chat := h.group(t, "alice", "bob")
	msg := h.poll(t, chat.ID, false, nil)

	for i := 0; i < 2; i++ {
		if _, err := h.polls.Vote(ctx, chat.ID, msg.ID, "bob", 1); err != nil {
			t.Fatalf("vote #%d: %v", i+1, err)
		}
	}
	stored, _ := h.store.GetMessage(ctx, chat.ID, msg.ID)
	if stored.Poll.HasVoted(1, "bob") {
		t.Fatal("second vote on the same option did not unvote")
	}
}

func TestVoteMultipleChoiceKeepsSelections(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	chat := h.group(t, "alice", "bob", "carol")
	msg := h.poll(t, chat.ID, true, nil)

	for _, vote := range []struct {
		voter  string
		option int
	}{{"bob", 0}, {"bob", 1}, {"carol", 1}} {
		if _, err := h.polls.Vote(ctx, chat.ID, msg.ID, vote.voter, vote.option); err != nil {
			t.Fatalf("vote %+v: %v", vote, err)
		}
	}

	tally, err := h.polls.Tally(ctx, "alice", chat.ID, msg.ID)
	if err != nil {
		t.Fatalf("Tally: %v", err)
	}
	if want := []int{1, 2, 0}; !reflect.DeepEqual(tally.Counts, want) {
		t.Fatalf("counts = %v, want %v", tally.Counts, want)
	}
	if tally.TotalVoters != 2 {
		t.Fatalf("totalVoters = %d, want 2", tally.TotalVoters)
	}
}

func TestVoteAfterExpiry(t *testing.T) {
	h := newHarness(t)
	chat := h.group(t, "alice", "bob")
	closesAt := h.clock.Now().Add(time.Hour)
	msg := h.poll(t, chat.ID, false, &closesAt)

	if _, err := h.polls.Vote(context.Background(), chat.ID, msg.ID, "bob", 0); err != nil {
		t.Fatalf("vote before expiry: %v", err)
	}

	h.clock.Advance(2 * time.Hour)
	_, err := h.polls.Vote(context.Background(), chat.ID, msg.ID, "bob", 1)
	assertErrorIs(t, err, apperrors.ErrPollExpired)

	stored, _ := h.store.GetMessage(context.Background(), chat.ID, msg.ID)
	if !stored.Poll.HasVoted(0, "bob") || stored.Poll.HasVoted(1, "bob") {
		t.Fatalf("votes changed after expiry: %v", stored.Poll.Votes)
	}
}

func TestVoteRejections(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	chat := h.group(t, "alice", "bob")
	poll := h.poll(t, chat.ID, false, nil)
	text := h.sendText(t, chat.ID, "alice", "not a poll")

	deleted := h.poll(t, chat.ID, false, nil)
	if err := h.messages.DeleteMessage(ctx, "alice", chat.ID, deleted.ID); err != nil {
		t.Fatalf("DeleteMessage: %v", err)
	}

	tests := []struct {
		name      string
		messageID string
		voter     string
		option    int
		target    error
	}{
		{"negative option", poll.ID, "bob", -1, apperrors.ErrInvalidOption},
		{"option out of range", poll.ID, "bob", 3, apperrors.ErrInvalidOption},
		{"non participant", poll.ID, "mallory", 0, apperrors.ErrPermissionDenied},
		{"text message", text.ID, "bob", 0, apperrors.ErrInvalidPoll},
		{"deleted poll", deleted.ID, "bob", 0, apperrors.ErrResourceNotFound},
		{"missing message", "nope", "bob", 0, apperrors.ErrResourceNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.polls.Vote(ctx, chat.ID, tt.messageID, tt.voter, tt.option)
			assertErrorIs(t, err, tt.target)
		})
	}

	stored, _ := h.store.GetMessage(ctx, chat.ID, poll.ID)
	if tally := stored.Poll.Tally(); tally.TotalVoters != 0 {
		t.Fatalf("rejected votes were recorded: %+v", tally)
	}
}
