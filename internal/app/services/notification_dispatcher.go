package services

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/yigit/clubchat/internal/app/models"
	"github.com/yigit/clubchat/internal/pkg/apperrors"
	"github.com/yigit/clubchat/internal/pkg/clock"
	"github.com/yigit/clubchat/internal/pkg/metrics"
	"github.com/yigit/clubchat/internal/pkg/push"
	"github.com/yigit/clubchat/internal/pkg/telemetry"
	"github.com/yigit/clubchat/internal/pkg/websocket"
)

const (
	defaultNotificationPage = 50
	maxNotificationPage     = 200
)

// BulkResult reports the outcome of a fan-out
type BulkResult struct {
	Delivered int
	Failed    map[string]error
}

// NotificationDispatcher writes in-app notifications and forwards them to push
type NotificationDispatcher interface {
	Dispatch(ctx context.Context, recipientID string, notificationType models.NotificationType, title, body string, data models.NotificationData) (*models.AppNotification, error)
	DispatchBulk(ctx context.Context, recipientIDs []string, notificationType models.NotificationType, title, body string, data models.NotificationData) BulkResult
	List(ctx context.Context, userID string, unreadOnly bool, limit int) ([]*models.AppNotification, error)
	MarkRead(ctx context.Context, userID, notificationID string) error
	MarkAllRead(ctx context.Context, userID string) (int64, error)
	UnreadCount(ctx context.Context, userID string) (int64, error)

	GetPushSettings(ctx context.Context, userID string) (*models.PushSettings, error)
	SetPushEnabled(ctx context.Context, userID string, enabled bool) (*models.PushSettings, error)
	RegisterToken(ctx context.Context, userID, token, platform string) (*models.PushSettings, error)
	UnregisterToken(ctx context.Context, userID, token string) (*models.PushSettings, error)
}

// notificationDispatcherImpl implements NotificationDispatcher
type notificationDispatcherImpl struct {
	notifications NotificationStore
	registry      PushRegistry
	gateway       PushGateway
	publisher     EventPublisher
	clock         clock.Clock
	metrics       *metrics.Metrics
	concurrency   int
	logger        zerolog.Logger
}

// NewNotificationDispatcher creates a new NotificationDispatcher.
// concurrency bounds the number of recipients handled at once by DispatchBulk.
func NewNotificationDispatcher(
	notifications NotificationStore,
	registry PushRegistry,
	gateway PushGateway,
	publisher EventPublisher,
	clk clock.Clock,
	m *metrics.Metrics,
	concurrency int,
	logger zerolog.Logger,
) NotificationDispatcher {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &notificationDispatcherImpl{
		notifications: notifications,
		registry:      registry,
		gateway:       gateway,
		publisher:     publisher,
		clock:         clk,
		metrics:       m,
		concurrency:   concurrency,
		logger:        logger,
	}
}

// Dispatch stores the notification and then attempts a push. Only the store
// write can fail the call.
func (s *notificationDispatcherImpl) Dispatch(
	ctx context.Context,
	recipientID string,
	notificationType models.NotificationType,
	title, body string,
	data models.NotificationData,
) (*models.AppNotification, error) {
	recipientID = strings.TrimSpace(recipientID)
	if recipientID == "" {
		return nil, apperrors.NewInvalidPayloadError("Notification recipient is required")
	}
	if !notificationType.Valid() {
		return nil, apperrors.NewInvalidPayloadError("Unknown notification type")
	}

	notification := &models.AppNotification{
		ID:          uuid.NewString(),
		RecipientID: recipientID,
		Type:        notificationType,
		Title:       title,
		Body:        body,
		Data:        data,
		CreatedAt:   s.clock.Now().UTC(),
	}
	if err := s.notifications.InsertNotification(ctx, notification); err != nil {
		s.logger.Error().Err(err).
			Str("recipientID", recipientID).
			Str("type", string(notificationType)).
			Msg("Failed to store notification")
		return nil, apperrors.NewStorageError("insert notification", err)
	}
	s.metrics.NotificationCreated(string(notificationType))
	s.publisher.Publish(websocket.NotificationsTopic(recipientID), websocket.EventNotificationCreated, notification)

	s.forwardPush(ctx, notification)
	return notification, nil
}

// forwardPush is best-effort; failures are logged and counted
func (s *notificationDispatcherImpl) forwardPush(ctx context.Context, n *models.AppNotification) {
	settings, err := s.registry.GetPushSettings(ctx, n.RecipientID)
	if err != nil {
		s.metrics.PushFailed()
		s.logger.Warn().Err(err).Str("recipientID", n.RecipientID).Msg("Failed to load push settings")
		return
	}
	if !settings.Deliverable() {
		return
	}

	endpoints := make([]push.Endpoint, 0, len(settings.Tokens))
	for _, token := range settings.Tokens {
		endpoints = append(endpoints, push.Endpoint{Token: token.Token, Platform: token.Platform})
	}
	err = s.gateway.Send(ctx, push.Notification{
		RecipientID: n.RecipientID,
		Title:       n.Title,
		Body:        n.Body,
		Data:        n.Data.AsMap(),
	}, endpoints)
	if err != nil {
		s.metrics.PushFailed()
		s.logger.Warn().Err(err).
			Str("recipientID", n.RecipientID).
			Str("notificationID", n.ID).
			Int("endpoints", len(endpoints)).
			Msg("Push forward failed")
	}
}

// DispatchBulk dispatches to every recipient concurrently. A failing
// recipient is recorded in the result and does not affect the others.
func (s *notificationDispatcherImpl) DispatchBulk(
	ctx context.Context,
	recipientIDs []string,
	notificationType models.NotificationType,
	title, body string,
	data models.NotificationData,
) BulkResult {
	recipients := models.DedupIDs(recipientIDs...)
	result := BulkResult{Failed: make(map[string]error)}
	if len(recipients) == 0 {
		return result
	}

	ctx, span := telemetry.Tracer().Start(ctx, "NotificationDispatcher.DispatchBulk")
	defer span.End()
	span.SetAttributes(
		attribute.Int("recipients", len(recipients)),
		attribute.String("notification.type", string(notificationType)),
	)

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for _, recipientID := range recipients {
		recipientID := recipientID
		g.Go(func() error {
			_, err := s.Dispatch(ctx, recipientID, notificationType, title, body, data)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed[recipientID] = err
				return nil
			}
			result.Delivered++
			return nil
		})
	}
	_ = g.Wait()

	if len(result.Failed) > 0 {
		span.SetStatus(codes.Error, "partial fan-out failure")
		s.logger.Warn().
			Int("failed", len(result.Failed)).
			Int("delivered", result.Delivered).
			Str("type", string(notificationType)).
			Msg("Notification fan-out completed with failures")
	}
	return result
}

// List returns the newest notifications of userID
func (s *notificationDispatcherImpl) List(ctx context.Context, userID string, unreadOnly bool, limit int) ([]*models.AppNotification, error) {
	if limit <= 0 {
		limit = defaultNotificationPage
	}
	if limit > maxNotificationPage {
		limit = maxNotificationPage
	}
	notifications, err := s.notifications.ListNotifications(ctx, userID, unreadOnly, limit)
	if err != nil {
		return nil, apperrors.NewStorageError("list notifications", err)
	}
	return notifications, nil
}

// MarkRead marks one notification of userID as read
func (s *notificationDispatcherImpl) MarkRead(ctx context.Context, userID, notificationID string) error {
	if err := s.notifications.MarkRead(ctx, userID, notificationID); err != nil {
		if apperrors.Is(err, apperrors.ErrResourceNotFound) {
			return err
		}
		return apperrors.NewStorageError("mark notification read", err)
	}
	s.publisher.Publish(websocket.NotificationsTopic(userID), websocket.EventNotificationsRead, []string{notificationID})
	return nil
}

// MarkAllRead marks every notification of userID as read
func (s *notificationDispatcherImpl) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	n, err := s.notifications.MarkAllRead(ctx, userID)
	if err != nil {
		return 0, apperrors.NewStorageError("mark all notifications read", err)
	}
	if n > 0 {
		s.publisher.Publish(websocket.NotificationsTopic(userID), websocket.EventNotificationsRead, nil)
	}
	return n, nil
}

func (s *notificationDispatcherImpl) UnreadCount(ctx context.Context, userID string) (int64, error) {
	n, err := s.notifications.CountUnread(ctx, userID)
	if err != nil {
		return 0, apperrors.NewStorageError("count unread notifications", err)
	}
	return n, nil
}

func (s *notificationDispatcherImpl) GetPushSettings(ctx context.Context, userID string) (*models.PushSettings, error) {
	settings, err := s.registry.GetPushSettings(ctx, userID)
	if err != nil {
		return nil, apperrors.NewStorageError("get push settings", err)
	}
	return settings, nil
}

func (s *notificationDispatcherImpl) SetPushEnabled(ctx context.Context, userID string, enabled bool) (*models.PushSettings, error) {
	if err := s.registry.SetPushEnabled(ctx, userID, enabled); err != nil {
		return nil, apperrors.NewStorageError("set push enabled", err)
	}
	s.logger.Info().Str("userID", userID).Bool("enabled", enabled).Msg("Push preference updated")
	return s.GetPushSettings(ctx, userID)
}

// RegisterToken adds a device token. A token already registered by another
// user moves to userID.
func (s *notificationDispatcherImpl) RegisterToken(ctx context.Context, userID, token, platform string) (*models.PushSettings, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, apperrors.NewInvalidPayloadError("Push token is required")
	}
	err := s.registry.AddToken(ctx, userID, models.PushToken{
		Token:     token,
		Platform:  strings.ToLower(strings.TrimSpace(platform)),
		CreatedAt: s.clock.Now().UTC(),
	})
	if err != nil {
		return nil, apperrors.NewStorageError("register push token", err)
	}
	return s.GetPushSettings(ctx, userID)
}

func (s *notificationDispatcherImpl) UnregisterToken(ctx context.Context, userID, token string) (*models.PushSettings, error) {
	if err := s.registry.RemoveToken(ctx, userID, token); err != nil {
		return nil, apperrors.NewStorageError("unregister push token", err)
	}
	return s.GetPushSettings(ctx, userID)
}
