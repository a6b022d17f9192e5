package repositories

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/yigit/clubchat/internal/app/models"
	"github.com/yigit/clubchat/internal/db"
	"github.com/yigit/clubchat/internal/pkg/apperrors"
)

// NotificationRepository handles database operations for in-app notifications
type NotificationRepository struct {
	db *db.PostgresDB
}

// NewNotificationRepository creates a new NotificationRepository
func NewNotificationRepository(database *db.PostgresDB) *NotificationRepository {
	return &NotificationRepository{db: database}
}

func (r *NotificationRepository) InsertNotification(ctx context.Context, n *models.AppNotification) error {
	data, err := json.Marshal(n.Data)
	if err != nil {
		return fmt.Errorf("error encoding notification data: %w", err)
	}
	sql, args, err := squirrel.Insert("notifications").
		Columns("id", "recipient_id", "type", "title", "body", "data", "read", "created_at").
		Values(n.ID, n.RecipientID, n.Type, n.Title, n.Body, data, n.Read, n.CreatedAt).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("error building SQL: %w", err)
	}
	if _, err := r.db.Pool.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("error inserting notification: %w", err)
	}
	return nil
}

// ListNotifications returns the newest notifications of recipientID
func (r *NotificationRepository) ListNotifications(ctx context.Context, recipientID string, unreadOnly bool, limit int) ([]*models.AppNotification, error) {
	builder := squirrel.Select("id::text", "recipient_id", "type", "title", "body", "data", "read", "created_at").
		From("notifications").
		Where(squirrel.Eq{"recipient_id": recipientID}).
		OrderBy("created_at DESC").
		Limit(uint64(limit)).
		PlaceholderFormat(squirrel.Dollar)
	if unreadOnly {
		builder = builder.Where(squirrel.Eq{"read": false})
	}

	sql, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("error building SQL: %w", err)
	}
	rows, err := r.db.Pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("error executing query: %w", err)
	}
	defer rows.Close()

	notifications := []*models.AppNotification{}
	for rows.Next() {
		var n models.AppNotification
		var data []byte
		if err := rows.Scan(&n.ID, &n.RecipientID, &n.Type, &n.Title, &n.Body, &data, &n.Read, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("error scanning notification row: %w", err)
		}
		if err := json.Unmarshal(data, &n.Data); err != nil {
			return nil, fmt.Errorf("error decoding notification data: %w", err)
		}
		notifications = append(notifications, &n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating notification rows: %w", err)
	}
	return notifications, nil
}

// MarkRead marks a notification read. Notifications of other users are
// reported as not found.
func (r *NotificationRepository) MarkRead(ctx context.Context, recipientID, notificationID string) error {
	if _, err := uuid.Parse(notificationID); err != nil {
		return apperrors.NewResourceNotFoundError("Notification not found")
	}
	sql, args, err := squirrel.Update("notifications").
		Set("read", true).
		Where(squirrel.Eq{"id": notificationID, "recipient_id": recipientID}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("error building SQL: %w", err)
	}
	tag, err := r.db.Pool.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("error marking notification read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NewResourceNotFoundError("Notification not found")
	}
	return nil
}

func (r *NotificationRepository) MarkAllRead(ctx context.Context, recipientID string) (int64, error) {
	sql, args, err := squirrel.Update("notifications").
		Set("read", true).
		Where(squirrel.Eq{"recipient_id": recipientID, "read": false}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("error building SQL: %w", err)
	}
	tag, err := r.db.Pool.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("error marking notifications read: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *NotificationRepository) CountUnread(ctx context.Context, recipientID string) (int64, error) {
	sql, args, err := squirrel.Select("COUNT(*)").
		From("notifications").
		Where(squirrel.Eq{"recipient_id": recipientID, "read": false}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("error building SQL: %w", err)
	}
	var n int64
	if err := r.db.Pool.QueryRow(ctx, sql, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("error counting notifications: %w", err)
	}
	return n, nil
}
