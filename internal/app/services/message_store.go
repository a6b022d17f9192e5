package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/yigit/clubchat/internal/app/models"
	"github.com/yigit/clubchat/internal/pkg/apperrors"
	"github.com/yigit/clubchat/internal/pkg/blobstore"
	"github.com/yigit/clubchat/internal/pkg/clock"
	"github.com/yigit/clubchat/internal/pkg/metrics"
	"github.com/yigit/clubchat/internal/pkg/telemetry"
	"github.com/yigit/clubchat/internal/pkg/websocket"
)

const (
	defaultMessagePage = 50
	maxMessagePage     = 200
	maxTextLength      = 4000
	maxEphemeral       = 7 * 24 * 60 * 60
)

// MessageStore validates, persists and summarizes messages
type MessageStore interface {
	SendMessage(ctx context.Context, chatID string, sender models.Sender, payload models.OutgoingMessage) (*models.Message, error)
	DeleteMessage(ctx context.Context, actor, chatID, messageID string) error
	ListMessages(ctx context.Context, userID, chatID string, before *time.Time, limit int) ([]*models.Message, error)
	GetMessage(ctx context.Context, userID, chatID, messageID string) (*models.Message, error)
}

// messageStoreImpl implements MessageStore
type messageStoreImpl struct {
	chats      ChatStore
	messages   MessageRepository
	blobs      BlobStore
	expirer    Expirer
	unread     UnreadTracker
	dispatcher NotificationDispatcher
	publisher  EventPublisher
	background *Background
	clock      clock.Clock
	metrics    *metrics.Metrics
	pageSize   int
	logger     zerolog.Logger
}

// NewMessageStore creates a new MessageStore
func NewMessageStore(
	chats ChatStore,
	messages MessageRepository,
	blobs BlobStore,
	expirer Expirer,
	unread UnreadTracker,
	dispatcher NotificationDispatcher,
	publisher EventPublisher,
	background *Background,
	clk clock.Clock,
	m *metrics.Metrics,
	pageSize int,
	logger zerolog.Logger,
) MessageStore {
	if pageSize <= 0 || pageSize > maxMessagePage {
		pageSize = defaultMessagePage
	}
	return &messageStoreImpl{
		chats:      chats,
		messages:   messages,
		blobs:      blobs,
		expirer:    expirer,
		unread:     unread,
		dispatcher: dispatcher,
		publisher:  publisher,
		background: background,
		clock:      clk,
		metrics:    m,
		pageSize:   pageSize,
		logger:     logger,
	}
}

// validatePayload checks the payload shape. Nothing has been written yet
// when it fails.
func validatePayload(payload *models.OutgoingMessage, now time.Time) error {
	hasText := strings.TrimSpace(payload.Text) != ""

	switch {
	case payload.Poll != nil:
		if payload.Media != nil || hasText {
			return apperrors.NewInvalidPayloadError("A poll cannot carry text or media")
		}
		if err := validatePollDraft(payload.Poll, now); err != nil {
			return err
		}
	case payload.Media != nil:
		if !payload.Media.Type.IsMedia() {
			return apperrors.NewInvalidPayloadError(fmt.Sprintf("Unsupported media type %q", payload.Media.Type))
		}
		if payload.Media.Body == nil {
			return apperrors.NewInvalidPayloadError("Media payload is empty")
		}
		if payload.Media.DurationSeconds < 0 {
			return apperrors.NewInvalidPayloadError("Media duration cannot be negative")
		}
	case !hasText:
		return apperrors.NewInvalidPayloadError("Message must contain text, one media item or a poll")
	}

	if len(payload.Text) > maxTextLength {
		return apperrors.NewInvalidPayloadError(fmt.Sprintf("Text exceeds %d characters", maxTextLength))
	}
	if payload.EphemeralSeconds < 0 || payload.EphemeralSeconds > maxEphemeral {
		return apperrors.NewInvalidPayloadError("Ephemeral duration out of range")
	}
	if payload.EphemeralSeconds > 0 && payload.Media == nil {
		return apperrors.NewInvalidPayloadError("Only media messages can be ephemeral")
	}
	return nil
}

// validatePollDraft normalizes the draft in place
func validatePollDraft(draft *models.PollDraft, now time.Time) error {
	draft.Question = strings.TrimSpace(draft.Question)
	if draft.Question == "" {
		return apperrors.NewInvalidPollError("Poll question is required")
	}
	draft.Options = models.NormalizePollOptions(draft.Options)
	if len(draft.Options) < 2 {
		return apperrors.NewInvalidPollError("A poll needs at least two distinct options")
	}
	if draft.ExpiresAt != nil && !draft.ExpiresAt.After(now) {
		return apperrors.NewInvalidPollError("Poll expiry must be in the future")
	}
	return nil
}

// SendMessage runs the send pipeline: validate, authorize, upload, persist,
// then the best-effort side effects.
func (s *messageStoreImpl) SendMessage(
	ctx context.Context,
	chatID string,
	sender models.Sender,
	payload models.OutgoingMessage,
) (*models.Message, error) {
	start := s.clock.Now()
	ctx, span := telemetry.Tracer().Start(ctx, "MessageStore.SendMessage")
	defer span.End()
	span.SetAttributes(attribute.String("chat.id", chatID), attribute.String("message.type", string(payload.Type())))

	msg, chat, err := s.send(ctx, chatID, sender, payload, start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "send failed")
		s.metrics.SendFailed(failureReason(err))
		return nil, err
	}
	s.metrics.MessageSent(string(msg.Type), s.clock.Now().Sub(start))

	s.afterSend(ctx, chat, msg)
	return msg, nil
}

func (s *messageStoreImpl) send(
	ctx context.Context,
	chatID string,
	sender models.Sender,
	payload models.OutgoingMessage,
	now time.Time,
) (*models.Message, *models.Chat, error) {
	if strings.TrimSpace(sender.ID) == "" {
		return nil, nil, apperrors.NewInvalidPayloadError("Sender is required")
	}
	if err := validatePayload(&payload, now); err != nil {
		return nil, nil, err
	}

	chat, err := s.chats.GetChat(ctx, chatID)
	if err != nil {
		return nil, nil, err
	}
	if !chat.HasParticipant(sender.ID) {
		return nil, nil, apperrors.NewForbiddenError("User is not a participant in this chat")
	}
	if !chat.CanPost(sender.ID) {
		return nil, nil, apperrors.NewForbiddenError("Only allowed senders can post in this broadcast")
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, nil, fmt.Errorf("allocate message id: %w", err)
	}

	msg := &models.Message{
		ID:               id.String(),
		ChatID:           chat.ID,
		SenderID:         sender.ID,
		SenderName:       sender.Name,
		Type:             payload.Type(),
		Text:             payload.Text,
		EphemeralSeconds: payload.EphemeralSeconds,
		CreatedAt:        now.UTC(),
	}

	if payload.Poll != nil {
		msg.Poll = &models.Poll{
			Question:           payload.Poll.Question,
			Options:            payload.Poll.Options,
			Votes:              map[int][]string{},
			AllowMultipleVotes: payload.Poll.AllowMultipleVotes,
			ExpiresAt:          payload.Poll.ExpiresAt,
		}
	}

	if payload.Media != nil {
		stored, err := s.blobs.Upload(ctx, blobstore.Object{
			ChatID:      chat.ID,
			MessageID:   msg.ID,
			FileName:    payload.Media.FileName,
			ContentType: payload.Media.ContentType,
			Size:        payload.Media.Size,
			Body:        payload.Media.Body,
		})
		if err != nil {
			s.logger.Error().Err(err).Str("chatID", chat.ID).Str("messageID", msg.ID).Msg("Media upload failed")
			return nil, nil, apperrors.NewStorageError("upload media", err)
		}
		msg.MediaURL = stored.URL
		msg.MediaKey = stored.Key
		msg.MediaType = payload.Media.ContentType
		msg.DurationSeconds = payload.Media.DurationSeconds
	}

	if err := s.messages.InsertMessage(ctx, msg); err != nil {
		s.logger.Error().Err(err).Str("chatID", chat.ID).Str("messageID", msg.ID).Msg("Failed to persist message")
		if msg.MediaKey != "" {
			if rmErr := s.blobs.Remove(ctx, msg.MediaKey); rmErr != nil {
				s.logger.Warn().Err(rmErr).Str("key", msg.MediaKey).Msg("Failed to remove orphaned media")
			}
		}
		if apperrors.Is(err, apperrors.ErrResourceNotFound) {
			return nil, nil, err
		}
		return nil, nil, apperrors.NewStorageError("insert message", err)
	}

	createdAt := msg.CreatedAt
	chat.LastMessageAt = &createdAt
	chat.LastMessagePreview = msg.Preview()
	return msg, chat, nil
}

// afterSend runs the side effects of a persisted message. None of them can
// fail the send.
func (s *messageStoreImpl) afterSend(ctx context.Context, chat *models.Chat, msg *models.Message) {
	if msg.ExpiresAt != nil {
		if err := s.expirer.Schedule(chat.ID, msg.ID, *msg.ExpiresAt); err != nil {
			s.metrics.SideEffectFailed("expiry_schedule")
			s.logger.Warn().Err(err).Str("chatID", chat.ID).Str("messageID", msg.ID).Msg("Failed to schedule media expiry")
		}
	}

	if err := s.unread.OnMessage(ctx, chat, msg); err != nil {
		s.metrics.SideEffectFailed("unread")
		s.logger.Warn().Err(err).Str("chatID", chat.ID).Str("messageID", msg.ID).Msg("Failed to update unread counters")
	}

	s.publisher.Publish(websocket.MessagesTopic(chat.ID), websocket.EventMessageCreated, msg)
	for _, participant := range chat.Participants {
		s.publisher.Publish(websocket.ChatsTopic(participant), websocket.EventChatUpdated, chat)
	}

	recipients := chat.OtherParticipants(msg.SenderID)
	if len(recipients) == 0 {
		return
	}
	notificationType, title, body := describeMessage(chat, msg)
	data := models.NotificationData{ChatID: chat.ID, MessageID: msg.ID}
	started := s.background.Go(ctx, func(ctx context.Context) {
		result := s.dispatcher.DispatchBulk(ctx, recipients, notificationType, title, body, data)
		for recipientID, err := range result.Failed {
			s.metrics.SideEffectFailed("notification")
			s.logger.Warn().Err(err).
				Str("chatID", chat.ID).
				Str("messageID", msg.ID).
				Str("recipientID", recipientID).
				Msg("Notification fan-out failed for recipient")
		}
	})
	if !started {
		s.metrics.SideEffectFailed("notification")
		s.logger.Warn().Str("chatID", chat.ID).Str("messageID", msg.ID).Msg("Shutting down, notification fan-out skipped")
	}
}

// describeMessage builds the notification of a new message
func describeMessage(chat *models.Chat, msg *models.Message) (models.NotificationType, string, string) {
	notificationType := models.NotificationTypeNewMessage
	switch {
	case msg.Type == models.MessageTypePoll:
		notificationType = models.NotificationTypeNewPoll
	case chat.Mode == models.ChatModeBroadcast:
		notificationType = models.NotificationTypeBroadcast
	}

	sender := msg.SenderName
	if sender == "" {
		sender = msg.SenderID
	}
	body := msg.Preview()
	if msg.Type == models.MessageTypePoll && msg.Poll != nil {
		body = models.PreviewPoll + ": " + msg.Poll.Question
	}

	switch chat.Kind {
	case models.ChatKindPrivate:
		return notificationType, sender, body
	case models.ChatKindGroup:
		return notificationType, chat.Name, sender + ": " + body
	default:
		return notificationType, chat.Name, body
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, apperrors.ErrInvalidPayload):
		return "invalid_payload"
	case errors.Is(err, apperrors.ErrInvalidPoll):
		return "invalid_poll"
	case errors.Is(err, apperrors.ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, apperrors.ErrResourceNotFound):
		return "not_found"
	case errors.Is(err, apperrors.ErrStorageFailure):
		return "storage"
	default:
		return "other"
	}
}

// DeleteMessage tombstones a message. Only its sender or the chat creator
// may delete it; deleting twice is a no-op.
func (s *messageStoreImpl) DeleteMessage(ctx context.Context, actor, chatID, messageID string) error {
	chat, err := s.chats.GetChat(ctx, chatID)
	if err != nil {
		return err
	}
	msg, err := s.messages.GetMessage(ctx, chatID, messageID)
	if err != nil {
		return err
	}
	if msg.SenderID != actor && !chat.IsCreator(actor) {
		return apperrors.NewForbiddenError("Only the sender or the chat creator can delete this message")
	}
	if msg.Deleted {
		return nil
	}

	previous, err := s.messages.TombstoneMessage(ctx, chatID, messageID)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrResourceNotFound) {
			return err
		}
		return apperrors.NewStorageError("delete message", err)
	}
	s.expirer.Cancel(messageID)

	if previous.MediaKey != "" {
		if err := s.blobs.Remove(ctx, previous.MediaKey); err != nil {
			s.metrics.SideEffectFailed("blob_remove")
			s.logger.Warn().Err(err).Str("chatID", chatID).Str("messageID", messageID).Msg("Failed to remove media of deleted message")
		}
	}

	tombstone := *previous
	tombstone.Deleted = true
	tombstone.Text = ""
	tombstone.MediaURL = ""
	tombstone.MediaType = ""
	tombstone.MediaKey = ""
	tombstone.ExpiresAt = nil
	tombstone.EphemeralSeconds = 0
	s.publisher.Publish(websocket.MessagesTopic(chatID), websocket.EventMessageUpdated, &tombstone)

	s.logger.Info().Str("chatID", chatID).Str("messageID", messageID).Str("actor", actor).Msg("Message deleted")
	return nil
}

func (s *messageStoreImpl) ListMessages(ctx context.Context, userID, chatID string, before *time.Time, limit int) ([]*models.Message, error) {
	chat, err := s.chats.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !chat.HasParticipant(userID) {
		return nil, apperrors.NewForbiddenError("User is not a participant in this chat")
	}
	if limit <= 0 {
		limit = s.pageSize
	}
	if limit > maxMessagePage {
		limit = maxMessagePage
	}

	messages, err := s.messages.ListMessages(ctx, chatID, before, limit)
	if err != nil {
		return nil, apperrors.NewStorageError("list messages", err)
	}
	return messages, nil
}

func (s *messageStoreImpl) GetMessage(ctx context.Context, userID, chatID, messageID string) (*models.Message, error) {
	chat, err := s.chats.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !chat.HasParticipant(userID) {
		return nil, apperrors.NewForbiddenError("User is not a participant in this chat")
	}
	return s.messages.GetMessage(ctx, chatID, messageID)
}
