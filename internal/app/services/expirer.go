package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/yigit/clubchat/internal/app/models"
	"github.com/yigit/clubchat/internal/pkg/apperrors"
	"github.com/yigit/clubchat/internal/pkg/clock"
	"github.com/yigit/clubchat/internal/pkg/metrics"
	"github.com/yigit/clubchat/internal/pkg/websocket"
)

// Expiry triggers, used as metric labels
const (
	TriggerTimer   = "timer"
	TriggerClient  = "client"
	TriggerRecover = "recover"
	TriggerSweep   = "sweep"
)

// DefaultEphemeralPlaceholder replaces the text of expired media
const DefaultEphemeralPlaceholder = "⏱ This media has expired"

// ErrExpirerStopped is returned by Schedule after Stop
var ErrExpirerStopped = errors.New("expirer stopped")

// Expirer removes the media of ephemeral messages once they expire
type Expirer interface {
	Schedule(chatID, messageID string, expiresAt time.Time) error
	Cancel(messageID string)
	// ExpireMedia performs the terminal write. Calling it again is a no-op.
	ExpireMedia(ctx context.Context, chatID, messageID string, replacement *string) (*models.Message, error)
	// ExpireMediaAs is the client-triggered variant; actor must be a
	// participant and the countdown must have elapsed unless actor sent it.
	ExpireMediaAs(ctx context.Context, actor, chatID, messageID string, replacement *string) (*models.Message, error)
	// Recover schedules every pending expiry, expiring overdue ones at once
	Recover(ctx context.Context) (int, error)
	// Sweep expires every overdue message
	Sweep(ctx context.Context) (int, error)
	Pending() int
	Stop()
}

// expirerImpl implements Expirer
type expirerImpl struct {
	messages    MessageRepository
	chats       ChatStore
	blobs       BlobStore
	publisher   EventPublisher
	clock       clock.Clock
	metrics     *metrics.Metrics
	placeholder string
	timeout     time.Duration
	logger      zerolog.Logger

	mu      sync.Mutex
	timers  map[string]*clock.Timer
	stopped bool
}

// NewExpirer creates a new Expirer
func NewExpirer(
	messages MessageRepository,
	chats ChatStore,
	blobs BlobStore,
	publisher EventPublisher,
	clk clock.Clock,
	m *metrics.Metrics,
	placeholder string,
	logger zerolog.Logger,
) Expirer {
	if placeholder == "" {
		placeholder = DefaultEphemeralPlaceholder
	}
	return &expirerImpl{
		messages:    messages,
		chats:       chats,
		blobs:       blobs,
		publisher:   publisher,
		clock:       clk,
		metrics:     m,
		placeholder: placeholder,
		timeout:     30 * time.Second,
		logger:      logger,
		timers:      make(map[string]*clock.Timer),
	}
}

// Schedule arms (or re-arms) the timer of messageID. An expiry already in
// the past is performed before Schedule returns.
func (s *expirerImpl) Schedule(chatID, messageID string, expiresAt time.Time) error {
	delay := expiresAt.Sub(s.clock.Now())

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrExpirerStopped
	}
	if existing, ok := s.timers[messageID]; ok {
		existing.Stop()
		delete(s.timers, messageID)
	}
	if delay <= 0 {
		s.mu.Unlock()
		s.fire(chatID, messageID, nil)
		return nil
	}

	var timer *clock.Timer
	timer = s.clock.AfterFunc(delay, func() {
		s.fire(chatID, messageID, timer)
	})
	s.timers[messageID] = timer
	s.mu.Unlock()

	s.logger.Debug().
		Str("chatID", chatID).
		Str("messageID", messageID).
		Time("expiresAt", expiresAt).
		Msg("Media expiry scheduled")
	return nil
}

func (s *expirerImpl) fire(chatID, messageID string, timer *clock.Timer) {
	if timer != nil {
		s.mu.Lock()
		current, ok := s.timers[messageID]
		if !ok || current != timer {
			// Cancelled or re-armed in the meantime
			s.mu.Unlock()
			return
		}
		delete(s.timers, messageID)
		s.mu.Unlock()
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if _, err := s.expire(ctx, chatID, messageID, nil, TriggerTimer); err != nil {
		s.metrics.SideEffectFailed("expiry")
		s.logger.Error().Err(err).
			Str("chatID", chatID).
			Str("messageID", messageID).
			Msg("Scheduled media expiry failed")
	}
}

// Cancel stops a pending timer
func (s *expirerImpl) Cancel(messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if timer, ok := s.timers[messageID]; ok {
		timer.Stop()
		delete(s.timers, messageID)
	}
}

func (s *expirerImpl) ExpireMedia(ctx context.Context, chatID, messageID string, replacement *string) (*models.Message, error) {
	return s.expire(ctx, chatID, messageID, replacement, TriggerClient)
}

func (s *expirerImpl) ExpireMediaAs(ctx context.Context, actor, chatID, messageID string, replacement *string) (*models.Message, error) {
	chat, err := s.chats.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !chat.HasParticipant(actor) {
		return nil, apperrors.NewForbiddenError("User is not a participant in this chat")
	}
	msg, err := s.messages.GetMessage(ctx, chatID, messageID)
	if err != nil {
		return nil, err
	}
	if msg.ExpiresAt != nil && s.clock.Now().Before(*msg.ExpiresAt) && msg.SenderID != actor {
		return nil, apperrors.NewForbiddenError("Media has not expired yet")
	}
	return s.expire(ctx, chatID, messageID, replacement, TriggerClient)
}

func (s *expirerImpl) expire(ctx context.Context, chatID, messageID string, replacement *string, trigger string) (*models.Message, error) {
	current, err := s.messages.GetMessage(ctx, chatID, messageID)
	if err != nil {
		return nil, err
	}
	if current.Deleted {
		s.Cancel(messageID)
		return current, nil
	}
	if !current.Type.IsMedia() {
		return nil, apperrors.NewInvalidPayloadError("Only media messages can expire")
	}

	text := s.placeholder
	if replacement != nil {
		text = *replacement
	}

	previous, err := s.messages.ExpireMedia(ctx, chatID, messageID, text)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrResourceNotFound) {
			return nil, err
		}
		return nil, apperrors.NewStorageError("expire media", err)
	}
	s.Cancel(messageID)

	if previous.Deleted {
		return previous, nil
	}

	if previous.MediaKey != "" {
		if err := s.blobs.Remove(ctx, previous.MediaKey); err != nil {
			s.metrics.SideEffectFailed("blob_remove")
			s.logger.Warn().Err(err).
				Str("chatID", chatID).
				Str("messageID", messageID).
				Str("key", previous.MediaKey).
				Msg("Failed to remove expired media blob")
		}
	}

	expired := *previous
	expired.MediaURL = ""
	expired.MediaType = ""
	expired.MediaKey = ""
	expired.EphemeralSeconds = 0
	expired.ExpiresAt = nil
	expired.Text = text

	if previous.MediaURL != "" || previous.ExpiresAt != nil {
		s.metrics.Expired(trigger)
		s.logger.Info().
			Str("chatID", chatID).
			Str("messageID", messageID).
			Str("trigger", trigger).
			Msg("Ephemeral media expired")
	}
	s.publisher.Publish(websocket.MessagesTopic(chatID), websocket.EventMessageUpdated, &expired)
	return &expired, nil
}

func (s *expirerImpl) Recover(ctx context.Context) (int, error) {
	pending, err := s.messages.ListPendingEphemeral(ctx, nil)
	if err != nil {
		return 0, apperrors.NewStorageError("list pending ephemeral", err)
	}

	now := s.clock.Now()
	scheduled := 0
	for _, msg := range pending {
		if msg.ExpiresAt == nil {
			continue
		}
		if !msg.ExpiresAt.After(now) {
			if _, err := s.expire(ctx, msg.ChatID, msg.ID, nil, TriggerRecover); err != nil {
				s.logger.Error().Err(err).Str("chatID", msg.ChatID).Str("messageID", msg.ID).Msg("Overdue media expiry failed")
			}
			continue
		}
		if err := s.Schedule(msg.ChatID, msg.ID, *msg.ExpiresAt); err != nil {
			return scheduled, err
		}
		scheduled++
	}

	s.logger.Info().Int("scheduled", scheduled).Int("pending", len(pending)).Msg("Ephemeral expiry timers recovered")
	return scheduled, nil
}

func (s *expirerImpl) Sweep(ctx context.Context) (int, error) {
	now := s.clock.Now()
	due, err := s.messages.ListPendingEphemeral(ctx, &now)
	if err != nil {
		return 0, apperrors.NewStorageError("list due ephemeral", err)
	}

	expired := 0
	var errs []error
	for _, msg := range due {
		if _, err := s.expire(ctx, msg.ChatID, msg.ID, nil, TriggerSweep); err != nil {
			errs = append(errs, err)
			continue
		}
		expired++
	}
	if len(errs) > 0 {
		s.logger.Warn().Int("failed", len(errs)).Int("expired", expired).Msg("Ephemeral sweep finished with errors")
		return expired, errors.Join(errs...)
	}
	if expired > 0 {
		s.logger.Info().Int("expired", expired).Msg("Ephemeral sweep finished")
	}
	return expired, nil
}

// Pending returns the number of armed timers
func (s *expirerImpl) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop cancels every timer; later Schedule calls fail
func (s *expirerImpl) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for id, timer := range s.timers {
		timer.Stop()
		delete(s.timers, id)
	}
}
