package services

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/yigit/clubchat/internal/app/models"
	"github.com/yigit/clubchat/internal/pkg/apperrors"
	"github.com/yigit/clubchat/internal/pkg/clock"
	"github.com/yigit/clubchat/internal/pkg/metrics"
	"github.com/yigit/clubchat/internal/pkg/websocket"
)

// PollEngine creates polls and applies votes
type PollEngine interface {
	CreatePoll(ctx context.Context, chatID string, sender models.Sender, draft models.PollDraft) (*models.Message, error)
	// Vote toggles voter's selection of optionIndex and returns the updated
	// message. In single-choice polls the voter's other selections are cleared.
	Vote(ctx context.Context, chatID, messageID, voterID string, optionIndex int) (*models.Message, error)
	Tally(ctx context.Context, userID, chatID, messageID string) (*models.PollTally, error)
}

// pollEngineImpl implements PollEngine
type pollEngineImpl struct {
	chats     ChatStore
	messages  MessageRepository
	sender    MessageStore
	publisher EventPublisher
	clock     clock.Clock
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

// NewPollEngine creates a new PollEngine
func NewPollEngine(
	chats ChatStore,
	messages MessageRepository,
	sender MessageStore,
	publisher EventPublisher,
	clk clock.Clock,
	m *metrics.Metrics,
	logger zerolog.Logger,
) PollEngine {
	return &pollEngineImpl{
		chats:     chats,
		messages:  messages,
		sender:    sender,
		publisher: publisher,
		clock:     clk,
		metrics:   m,
		logger:    logger,
	}
}

func (s *pollEngineImpl) CreatePoll(ctx context.Context, chatID string, sender models.Sender, draft models.PollDraft) (*models.Message, error) {
	if err := validatePollDraft(&draft, s.clock.Now()); err != nil {
		return nil, err
	}
	return s.sender.SendMessage(ctx, chatID, sender, models.OutgoingMessage{Poll: &draft})
}

func (s *pollEngineImpl) Vote(ctx context.Context, chatID, messageID, voterID string, optionIndex int) (*models.Message, error) {
	voterID = strings.TrimSpace(voterID)
	if voterID == "" {
		return nil, apperrors.NewInvalidPayloadError("Voter is required")
	}

	chat, err := s.chats.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !chat.HasParticipant(voterID) {
		return nil, apperrors.NewForbiddenError("User is not a participant in this chat")
	}

	var selected bool
	updated, err := s.messages.UpdatePoll(ctx, chatID, messageID, func(msg *models.Message) error {
		if msg.Deleted {
			return apperrors.NewResourceNotFoundError("Message not found")
		}
		if msg.Type != models.MessageTypePoll || msg.Poll == nil {
			return apperrors.NewInvalidPollError("Message is not a poll")
		}
		if msg.Poll.IsExpired(s.clock.Now()) {
			return apperrors.NewPollExpiredError()
		}
		if optionIndex < 0 || optionIndex >= len(msg.Poll.Options) {
			return apperrors.NewInvalidOptionError(optionIndex, len(msg.Poll.Options))
		}
		selected = msg.Poll.Toggle(optionIndex, voterID)
		return nil
	})
	if err != nil {
		return nil, apperrors.NewStorageError("update poll", err)
	}

	s.metrics.VoteApplied()
	s.logger.Debug().
		Str("chatID", chatID).
		Str("messageID", messageID).
		Str("voterID", voterID).
		Int("option", optionIndex).
		Bool("selected", selected).
		Msg("Vote applied")

	s.publisher.Publish(websocket.MessagesTopic(chatID), websocket.EventMessageUpdated, updated)
	return updated, nil
}

func (s *pollEngineImpl) Tally(ctx context.Context, userID, chatID, messageID string) (*models.PollTally, error) {
	msg, err := s.sender.GetMessage(ctx, userID, chatID, messageID)
	if err != nil {
		return nil, err
	}
	if msg.Deleted || msg.Poll == nil {
		return nil, apperrors.NewInvalidPollError("Message is not a poll")
	}
	tally := msg.Poll.Tally()
	return &tally, nil
}
