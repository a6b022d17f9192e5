package services

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/yigit/clubchat/internal/app/models"
	"github.com/yigit/clubchat/internal/pkg/apperrors"
	"github.com/yigit/clubchat/internal/pkg/clock"
	"github.com/yigit/clubchat/internal/pkg/metrics"
)

// UnreadSummary is the aggregate unread state of a user
type UnreadSummary struct {
	Chats         map[string]int64 `json:"chats"`
	Notifications int64            `json:"notifications"`
	Total         int64            `json:"total"`
}

// UnreadTracker maintains per-chat read cursors and unread counts
type UnreadTracker interface {
	UnreadCount(ctx context.Context, userID, chatID string) (int64, error)
	TotalUnread(ctx context.Context, userID string) (*UnreadSummary, error)
	// MarkChatAsSeen moves the cursor to now. The cursor never moves backward.
	MarkChatAsSeen(ctx context.Context, userID, chatID string) (time.Time, error)
	// OnMessage accounts for a freshly persisted message
	OnMessage(ctx context.Context, chat *models.Chat, msg *models.Message) error
	// Forget drops the cached counts of users whose membership changed
	Forget(ctx context.Context, chatID string, userIDs ...string)
}

// unreadTrackerImpl implements UnreadTracker
type unreadTrackerImpl struct {
	chats         ChatStore
	messages      MessageRepository
	cursors       ReadCursorStore
	counter       UnreadCounter
	notifications NotificationStore
	clock         clock.Clock
	metrics       *metrics.Metrics
	logger        zerolog.Logger
}

// NewUnreadTracker creates a new UnreadTracker. counter may be nil, in
// which case every read is computed from the store.
func NewUnreadTracker(
	chats ChatStore,
	messages MessageRepository,
	cursors ReadCursorStore,
	counter UnreadCounter,
	notifications NotificationStore,
	clk clock.Clock,
	m *metrics.Metrics,
	logger zerolog.Logger,
) UnreadTracker {
	return &unreadTrackerImpl{
		chats:         chats,
		messages:      messages,
		cursors:       cursors,
		counter:       counter,
		notifications: notifications,
		clock:         clk,
		metrics:       m,
		logger:        logger,
	}
}

func (s *unreadTrackerImpl) UnreadCount(ctx context.Context, userID, chatID string) (int64, error) {
	chat, err := s.chats.GetChat(ctx, chatID)
	if err != nil {
		return 0, err
	}
	if !chat.HasParticipant(userID) {
		return 0, apperrors.NewForbiddenError("User is not a participant in this chat")
	}
	return s.count(ctx, userID, chatID)
}

// count reads the cached counter or recomputes it from the message store
func (s *unreadTrackerImpl) count(ctx context.Context, userID, chatID string) (int64, error) {
	if s.counter != nil {
		n, ok, err := s.counter.Get(ctx, userID, chatID)
		if err != nil {
			s.metrics.SideEffectFailed("unread_cache")
			s.logger.Warn().Err(err).Str("userID", userID).Str("chatID", chatID).Msg("Unread cache read failed, recomputing")
		} else if ok {
			return n, nil
		}
	}
	return s.recompute(ctx, userID, chatID)
}

func (s *unreadTrackerImpl) recompute(ctx context.Context, userID, chatID string) (int64, error) {
	lastSeen, err := s.cursors.GetLastSeen(ctx, userID, chatID)
	if err != nil {
		return 0, apperrors.NewStorageError("get last seen", err)
	}
	n, watermark, err := s.messages.CountUnread(ctx, chatID, userID, lastSeen)
	if err != nil {
		return 0, apperrors.NewStorageError("count unread", err)
	}

	if s.counter != nil {
		if err := s.counter.Store(ctx, userID, chatID, n, lastSeen, watermark); err != nil {
			s.metrics.SideEffectFailed("unread_cache")
			s.logger.Warn().Err(err).Str("userID", userID).Str("chatID", chatID).Msg("Failed to cache unread count")
		}
	}
	return n, nil
}

func (s *unreadTrackerImpl) TotalUnread(ctx context.Context, userID string) (*UnreadSummary, error) {
	chats, err := s.chats.ListChatsForUser(ctx, userID)
	if err != nil {
		return nil, apperrors.NewStorageError("list chats", err)
	}

	summary := &UnreadSummary{Chats: make(map[string]int64, len(chats))}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, chat := range chats {
		chatID := chat.ID
		g.Go(func() error {
			n, err := s.count(gctx, userID, chatID)
			if err != nil {
				return err
			}
			mu.Lock()
			summary.Chats[chatID] = n
			mu.Unlock()
			return nil
		})
	}
	g.Go(func() error {
		n, err := s.notifications.CountUnread(gctx, userID)
		if err != nil {
			return apperrors.NewStorageError("count unread notifications", err)
		}
		mu.Lock()
		summary.Notifications = n
		mu.Unlock()
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	summary.Total = summary.Notifications
	for _, n := range summary.Chats {
		summary.Total += n
	}
	return summary, nil
}

func (s *unreadTrackerImpl) MarkChatAsSeen(ctx context.Context, userID, chatID string) (time.Time, error) {
	chat, err := s.chats.GetChat(ctx, chatID)
	if err != nil {
		return time.Time{}, err
	}
	if !chat.HasParticipant(userID) {
		return time.Time{}, apperrors.NewForbiddenError("User is not a participant in this chat")
	}

	lastSeen, err := s.cursors.MarkSeen(ctx, userID, chatID, s.clock.Now().UTC())
	if err != nil {
		return time.Time{}, apperrors.NewStorageError("mark chat as seen", err)
	}

	// Messages stamped after the cursor stay unread
	if _, err := s.recompute(ctx, userID, chatID); err != nil {
		s.logger.Warn().Err(err).Str("userID", userID).Str("chatID", chatID).Msg("Failed to refresh unread count after mark")
		if s.counter != nil {
			_ = s.counter.Invalidate(ctx, chatID, userID)
		}
	}
	return lastSeen, nil
}

func (s *unreadTrackerImpl) OnMessage(ctx context.Context, chat *models.Chat, msg *models.Message) error {
	if s.counter == nil {
		return nil
	}
	recipients := chat.OtherParticipants(msg.SenderID)
	if err := s.counter.IncrementExisting(ctx, chat.ID, recipients, msg.CreatedAt); err != nil {
		// Stale entries would undercount; drop them so they are recomputed
		if invErr := s.counter.Invalidate(ctx, chat.ID, recipients...); invErr != nil {
			s.logger.Error().Err(invErr).Str("chatID", chat.ID).Msg("Failed to invalidate unread counters")
		}
		return err
	}
	return nil
}

func (s *unreadTrackerImpl) Forget(ctx context.Context, chatID string, userIDs ...string) {
	if s.counter == nil || len(userIDs) == 0 {
		return
	}
	if err := s.counter.Invalidate(ctx, chatID, userIDs...); err != nil {
		s.metrics.SideEffectFailed("unread_cache")
		s.logger.Warn().Err(err).Str("chatID", chatID).Strs("userIDs", userIDs).Msg("Failed to invalidate unread counters")
	}
}
