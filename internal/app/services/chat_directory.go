package services

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/yigit/clubchat/internal/app/models"
	"github.com/yigit/clubchat/internal/pkg/apperrors"
	"github.com/yigit/clubchat/internal/pkg/clock"
	"github.com/yigit/clubchat/internal/pkg/websocket"
)

// ChatDirectory owns chat lifecycle and membership
type ChatDirectory interface {
	// CreatePrivateChat returns the chat between a and b, creating it on first contact
	CreatePrivateChat(ctx context.Context, a, b string) (*models.Chat, error)
	CreateGroupChat(ctx context.Context, name, creator string, members []string) (*models.Chat, error)
	CreateBroadcastChat(ctx context.Context, scope models.BroadcastScope, owner, name string, audience []string) (*models.Chat, error)
	AddMember(ctx context.Context, actor, chatID, userID string) (*models.Chat, error)
	RemoveMember(ctx context.Context, actor, chatID, userID string) error
	LeaveGroup(ctx context.Context, chatID, userID string) error
	DeleteGroup(ctx context.Context, actor, chatID string) error
	GetChat(ctx context.Context, userID, chatID string) (*models.Chat, error)
	ListChats(ctx context.Context, userID string) ([]*models.Chat, error)
	SetBroadcastSender(ctx context.Context, actor, chatID, userID string, allowed bool) (*models.Chat, error)
}

// chatDirectoryImpl implements ChatDirectory
type chatDirectoryImpl struct {
	chats      ChatStore
	unread     UnreadTracker
	dispatcher NotificationDispatcher
	publisher  EventPublisher
	background *Background
	clock      clock.Clock
	logger     zerolog.Logger
}

// NewChatDirectory creates a new ChatDirectory
func NewChatDirectory(
	chats ChatStore,
	unread UnreadTracker,
	dispatcher NotificationDispatcher,
	publisher EventPublisher,
	background *Background,
	clk clock.Clock,
	logger zerolog.Logger,
) ChatDirectory {
	return &chatDirectoryImpl{
		chats:      chats,
		unread:     unread,
		dispatcher: dispatcher,
		publisher:  publisher,
		background: background,
		clock:      clk,
		logger:     logger,
	}
}

func (s *chatDirectoryImpl) CreatePrivateChat(ctx context.Context, a, b string) (*models.Chat, error) {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == "" || b == "" {
		return nil, apperrors.NewInvalidPayloadError("Both participants are required")
	}
	if a == b {
		return nil, apperrors.NewInvalidPayloadError("Cannot open a private chat with yourself")
	}

	chat := &models.Chat{
		ID:           models.PrivateChatID(a, b),
		Kind:         models.ChatKindPrivate,
		Mode:         models.ChatModeNormal,
		CreatedBy:    a,
		Participants: []string{a, b},
		CreatedAt:    s.clock.Now().UTC(),
	}
	created, err := s.chats.CreateChat(ctx, chat)
	if err != nil {
		return nil, apperrors.NewStorageError("create private chat", err)
	}
	if !created {
		existing, err := s.chats.GetChat(ctx, chat.ID)
		if err != nil {
			return nil, err
		}
		if existing.Kind != models.ChatKindPrivate || !existing.HasParticipant(a) || !existing.HasParticipant(b) {
			s.logger.Error().Str("chatID", chat.ID).Msg("Private chat id is held by another conversation")
			return nil, apperrors.NewConflictError("Private chat id is already in use")
		}
		return existing, nil
	}

	s.logger.Info().Str("chatID", chat.ID).Msg("Private chat created")
	s.publishChat(chat, chat.Participants...)
	return chat, nil
}

func (s *chatDirectoryImpl) CreateGroupChat(ctx context.Context, name, creator string, members []string) (*models.Chat, error) {
	return s.createGroup(ctx, name, creator, members, models.ChatModeNormal, "")
}

func (s *chatDirectoryImpl) CreateBroadcastChat(
	ctx context.Context,
	scope models.BroadcastScope,
	owner, name string,
	audience []string,
) (*models.Chat, error) {
	if !scope.Valid() {
		return nil, apperrors.NewInvalidPayloadError("Unknown broadcast scope")
	}
	return s.createGroup(ctx, name, owner, audience, models.ChatModeBroadcast, scope)
}

func (s *chatDirectoryImpl) createGroup(
	ctx context.Context,
	name, creator string,
	members []string,
	mode models.ChatMode,
	scope models.BroadcastScope,
) (*models.Chat, error) {
	name = strings.TrimSpace(name)
	creator = strings.TrimSpace(creator)
	if name == "" {
		return nil, apperrors.NewInvalidPayloadError("Group name is required")
	}
	if creator == "" {
		return nil, apperrors.NewInvalidPayloadError("Creator is required")
	}

	chat := &models.Chat{
		ID:             uuid.NewString(),
		Kind:           models.ChatKindGroup,
		Mode:           mode,
		Name:           name,
		CreatedBy:      creator,
		BroadcastScope: scope,
		Participants:   models.DedupIDs(append([]string{creator}, members...)...),
		CreatedAt:      s.clock.Now().UTC(),
	}
	if mode == models.ChatModeBroadcast {
		chat.AllowedSenders = []string{creator}
	}

	if _, err := s.chats.CreateChat(ctx, chat); err != nil {
		return nil, apperrors.NewStorageError("create group chat", err)
	}

	s.logger.Info().
		Str("chatID", chat.ID).
		Str("mode", string(mode)).
		Int("participants", len(chat.Participants)).
		Msg("Group chat created")

	s.publishChat(chat, chat.Participants...)
	s.notifyAdded(ctx, chat, chat.OtherParticipants(creator))
	return chat, nil
}

// loadGroup fetches chatID and rejects private chats
func (s *chatDirectoryImpl) loadGroup(ctx context.Context, chatID string) (*models.Chat, error) {
	chat, err := s.chats.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	switch chat.Kind {
	case models.ChatKindGroup:
		return chat, nil
	case models.ChatKindPrivate:
		return nil, apperrors.NewForbiddenError("Private chat membership cannot be changed")
	default:
		return nil, apperrors.NewInvalidPayloadError("Unknown chat kind")
	}
}

func (s *chatDirectoryImpl) AddMember(ctx context.Context, actor, chatID, userID string) (*models.Chat, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, apperrors.NewInvalidPayloadError("User is required")
	}
	chat, err := s.loadGroup(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !chat.HasParticipant(actor) {
		return nil, apperrors.NewForbiddenError("Only participants can add members")
	}
	if chat.HasParticipant(userID) {
		return chat, nil
	}

	added, err := s.chats.AddParticipant(ctx, chatID, userID)
	if err != nil {
		return nil, apperrors.NewStorageError("add participant", err)
	}
	updated, err := s.chats.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !added {
		return updated, nil
	}

	s.unread.Forget(ctx, chatID, userID)
	s.logger.Info().Str("chatID", chatID).Str("userID", userID).Str("actor", actor).Msg("Member added")
	s.publishChat(updated, updated.Participants...)
	s.notifyAdded(ctx, updated, []string{userID})
	return updated, nil
}

func (s *chatDirectoryImpl) RemoveMember(ctx context.Context, actor, chatID, userID string) error {
	chat, err := s.loadGroup(ctx, chatID)
	if err != nil {
		return err
	}
	if !chat.IsCreator(actor) {
		return apperrors.NewForbiddenError("Only the group creator can remove members")
	}
	if !chat.HasParticipant(userID) {
		return nil
	}
	return s.removeParticipant(ctx, chat, userID)
}

func (s *chatDirectoryImpl) LeaveGroup(ctx context.Context, chatID, userID string) error {
	chat, err := s.loadGroup(ctx, chatID)
	if err != nil {
		return err
	}
	if !chat.HasParticipant(userID) {
		return apperrors.NewForbiddenError("User is not a participant in this chat")
	}
	return s.removeParticipant(ctx, chat, userID)
}

// removeParticipant drops userID and deletes the chat once it is empty
func (s *chatDirectoryImpl) removeParticipant(ctx context.Context, chat *models.Chat, userID string) error {
	deleted, err := s.chats.RemoveParticipant(ctx, chat.ID, userID)
	if err != nil {
		return apperrors.NewStorageError("remove participant", err)
	}
	s.unread.Forget(ctx, chat.ID, userID)
	s.publisher.Publish(websocket.ChatsTopic(userID), websocket.EventChatRemoved, chat.ID)

	if deleted {
		s.publisher.Disconnect(websocket.MessagesTopic(chat.ID))
		s.logger.Info().Str("chatID", chat.ID).Msg("Last member left, chat deleted")
		return nil
	}
	s.publisher.Disconnect(websocket.MessagesTopic(chat.ID), userID)

	s.logger.Info().Str("chatID", chat.ID).Str("userID", userID).Msg("Member removed")
	updated, err := s.chats.GetChat(ctx, chat.ID)
	if err != nil {
		s.logger.Warn().Err(err).Str("chatID", chat.ID).Msg("Failed to reload chat after removal")
		return nil
	}
	s.publishChat(updated, updated.Participants...)
	return nil
}

func (s *chatDirectoryImpl) DeleteGroup(ctx context.Context, actor, chatID string) error {
	chat, err := s.loadGroup(ctx, chatID)
	if err != nil {
		return err
	}
	if !chat.IsCreator(actor) {
		return apperrors.NewForbiddenError("Only the group creator can delete the group")
	}

	if err := s.chats.DeleteChat(ctx, chatID); err != nil {
		if apperrors.Is(err, apperrors.ErrResourceNotFound) {
			return err
		}
		return apperrors.NewStorageError("delete chat", err)
	}
	s.unread.Forget(ctx, chatID, chat.Participants...)
	s.publisher.Disconnect(websocket.MessagesTopic(chatID))

	s.logger.Info().Str("chatID", chatID).Str("actor", actor).Msg("Group deleted")
	for _, participant := range chat.Participants {
		s.publisher.Publish(websocket.ChatsTopic(participant), websocket.EventChatRemoved, chatID)
	}
	return nil
}

func (s *chatDirectoryImpl) GetChat(ctx context.Context, userID, chatID string) (*models.Chat, error) {
	chat, err := s.chats.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !chat.HasParticipant(userID) {
		return nil, apperrors.NewForbiddenError("User is not a participant in this chat")
	}
	return chat, nil
}

func (s *chatDirectoryImpl) ListChats(ctx context.Context, userID string) ([]*models.Chat, error) {
	chats, err := s.chats.ListChatsForUser(ctx, userID)
	if err != nil {
		return nil, apperrors.NewStorageError("list chats", err)
	}
	return chats, nil
}

func (s *chatDirectoryImpl) SetBroadcastSender(ctx context.Context, actor, chatID, userID string, allowed bool) (*models.Chat, error) {
	chat, err := s.loadGroup(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if chat.Mode != models.ChatModeBroadcast {
		return nil, apperrors.NewInvalidPayloadError("Chat is not a broadcast")
	}
	if !chat.IsCreator(actor) {
		return nil, apperrors.NewForbiddenError("Only the broadcast owner can change senders")
	}
	if !chat.HasParticipant(userID) {
		return nil, apperrors.NewInvalidPayloadError("User is not a participant in this chat")
	}
	if !allowed && chat.IsCreator(userID) {
		return nil, apperrors.NewInvalidPayloadError("The owner always remains an allowed sender")
	}

	if err := s.chats.SetAllowedSender(ctx, chatID, userID, allowed); err != nil {
		return nil, apperrors.NewStorageError("set allowed sender", err)
	}
	updated, err := s.chats.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	s.publishChat(updated, updated.Participants...)
	return updated, nil
}

func (s *chatDirectoryImpl) publishChat(chat *models.Chat, userIDs ...string) {
	for _, userID := range userIDs {
		s.publisher.Publish(websocket.ChatsTopic(userID), websocket.EventChatUpdated, chat)
	}
}

// notifyAdded sends group_added notifications off the request path
func (s *chatDirectoryImpl) notifyAdded(ctx context.Context, chat *models.Chat, userIDs []string) {
	if len(userIDs) == 0 {
		return
	}
	body := "You were added to " + chat.Name
	if chat.Mode == models.ChatModeBroadcast {
		body = "You now receive announcements from " + chat.Name
	}
	data := models.NotificationData{ChatID: chat.ID}
	started := s.background.Go(ctx, func(ctx context.Context) {
		result := s.dispatcher.DispatchBulk(ctx, userIDs, models.NotificationTypeGroupAdded, chat.Name, body, data)
		for recipientID, err := range result.Failed {
			s.logger.Warn().Err(err).Str("chatID", chat.ID).Str("recipientID", recipientID).Msg("Failed to notify added member")
		}
	})
	if !started {
		s.logger.Warn().Str("chatID", chat.ID).Msg("Shutting down, member notifications skipped")
	}
}
