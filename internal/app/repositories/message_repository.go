package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/yigit/clubchat/internal/app/models"
	"github.com/yigit/clubchat/internal/db"
	"github.com/yigit/clubchat/internal/pkg/apperrors"
	"github.com/yigit/clubchat/internal/pkg/helpers"
)

var messageColumns = []string{
	"id::text", "chat_id", "sender_id", "sender_name", "type", "text",
	"media_url", "media_type", "media_key", "duration_seconds", "ephemeral_seconds",
	"expires_at", "poll", "deleted", "created_at",
}

// MessageRepository handles database operations for messages
type MessageRepository struct {
	db *db.PostgresDB
}

// NewMessageRepository creates a new MessageRepository
func NewMessageRepository(database *db.PostgresDB) *MessageRepository {
	return &MessageRepository{db: database}
}

func errMessageNotFound(messageID string) error {
	return apperrors.NewResourceNotFoundError(fmt.Sprintf("Message %s not found", messageID))
}

func scanMessage(row pgx.Row) (*models.Message, error) {
	var msg models.Message
	var poll []byte
	err := row.Scan(
		&msg.ID,
		&msg.ChatID,
		&msg.SenderID,
		&msg.SenderName,
		&msg.Type,
		&msg.Text,
		&msg.MediaURL,
		&msg.MediaType,
		&msg.MediaKey,
		&msg.DurationSeconds,
		&msg.EphemeralSeconds,
		&msg.ExpiresAt,
		&poll,
		&msg.Deleted,
		&msg.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(poll) > 0 {
		msg.Poll = &models.Poll{}
		if err := json.Unmarshal(poll, msg.Poll); err != nil {
			return nil, fmt.Errorf("error decoding poll: %w", err)
		}
	}
	return &msg, nil
}

func encodePoll(poll *models.Poll) ([]byte, error) {
	if poll == nil {
		return nil, nil
	}
	data, err := json.Marshal(poll)
	if err != nil {
		return nil, fmt.Errorf("error encoding poll: %w", err)
	}
	return data, nil
}

// InsertMessage stores msg and moves the chat's last message fields in the
// same transaction. The chat row lock serializes inserts per chat.
func (r *MessageRepository) InsertMessage(ctx context.Context, msg *models.Message) error {
	poll, err := encodePoll(msg.Poll)
	if err != nil {
		return err
	}

	var createdAt time.Time
	var expiresAt *time.Time
	err = r.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var last *time.Time
		err := tx.QueryRow(ctx, `SELECT last_message_at FROM chats WHERE id = $1 FOR UPDATE`, msg.ChatID).Scan(&last)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return errChatNotFound(msg.ChatID)
			}
			return fmt.Errorf("error locking chat: %w", err)
		}

		createdAt = helpers.MicrosecondTimestamp(msg.CreatedAt)
		if last != nil && !createdAt.After(*last) {
			createdAt = last.UTC().Add(time.Microsecond)
		}
		expiresAt = nil
		if msg.EphemeralSeconds > 0 {
			at := createdAt.Add(time.Duration(msg.EphemeralSeconds) * time.Second)
			expiresAt = &at
		}

		sql, args, err := squirrel.Insert("messages").
			Columns(
				"id", "chat_id", "sender_id", "sender_name", "type", "text",
				"media_url", "media_type", "media_key", "duration_seconds", "ephemeral_seconds",
				"expires_at", "poll", "deleted", "created_at",
			).
			Values(
				msg.ID, msg.ChatID, msg.SenderID, msg.SenderName, msg.Type, msg.Text,
				msg.MediaURL, msg.MediaType, msg.MediaKey, msg.DurationSeconds, msg.EphemeralSeconds,
				expiresAt, poll, false, createdAt,
			).
			PlaceholderFormat(squirrel.Dollar).
			ToSql()
		if err != nil {
			return fmt.Errorf("error building SQL: %w", err)
		}
		if _, err := tx.Exec(ctx, sql, args...); err != nil {
			return fmt.Errorf("error inserting message: %w", err)
		}

		sql, args, err = squirrel.Update("chats").
			Set("last_message_at", createdAt).
			Set("last_message_preview", msg.Preview()).
			Where(squirrel.Eq{"id": msg.ChatID}).
			PlaceholderFormat(squirrel.Dollar).
			ToSql()
		if err != nil {
			return fmt.Errorf("error building SQL: %w", err)
		}
		if _, err := tx.Exec(ctx, sql, args...); err != nil {
			return fmt.Errorf("error updating chat preview: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	msg.CreatedAt = createdAt
	msg.ExpiresAt = expiresAt
	return nil
}

func (r *MessageRepository) selectMessage(chatID, messageID string) squirrel.SelectBuilder {
	return squirrel.Select(messageColumns...).
		From("messages").
		Where(squirrel.Eq{"id": messageID, "chat_id": chatID}).
		PlaceholderFormat(squirrel.Dollar)
}

// getMessage reads one message, optionally locking its row
func (r *MessageRepository) getMessage(ctx context.Context, q db.Querier, chatID, messageID string, forUpdate bool) (*models.Message, error) {
	if _, err := uuid.Parse(messageID); err != nil {
		return nil, errMessageNotFound(messageID)
	}
	builder := r.selectMessage(chatID, messageID)
	if forUpdate {
		builder = builder.Suffix("FOR UPDATE")
	}
	sql, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("error building SQL: %w", err)
	}

	msg, err := scanMessage(q.QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errMessageNotFound(messageID)
		}
		return nil, fmt.Errorf("error retrieving message: %w", err)
	}
	return msg, nil
}

func (r *MessageRepository) GetMessage(ctx context.Context, chatID, messageID string) (*models.Message, error) {
	return r.getMessage(ctx, r.db.Pool, chatID, messageID, false)
}

// ListMessages returns up to limit messages older than before, newest first
func (r *MessageRepository) ListMessages(ctx context.Context, chatID string, before *time.Time, limit int) ([]*models.Message, error) {
	builder := squirrel.Select(messageColumns...).
		From("messages").
		Where(squirrel.Eq{"chat_id": chatID}).
		OrderBy("created_at DESC").
		Limit(uint64(limit)).
		PlaceholderFormat(squirrel.Dollar)
	if before != nil {
		builder = builder.Where(squirrel.Lt{"created_at": *before})
	}
	return r.queryMessages(ctx, builder)
}

func (r *MessageRepository) queryMessages(ctx context.Context, builder squirrel.SelectBuilder) ([]*models.Message, error) {
	sql, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("error building SQL: %w", err)
	}
	rows, err := r.db.Pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("error executing query: %w", err)
	}
	defer rows.Close()

	messages := []*models.Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning message row: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating message rows: %w", err)
	}
	return messages, nil
}

// clearMedia runs the update built by set on a locked message and returns
// the message as it was before
func (r *MessageRepository) clearMedia(
	ctx context.Context,
	chatID, messageID string,
	set func(squirrel.UpdateBuilder, *models.Message) (squirrel.UpdateBuilder, bool),
) (*models.Message, error) {
	var previous *models.Message
	err := r.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		msg, err := r.getMessage(ctx, tx, chatID, messageID, true)
		if err != nil {
			return err
		}
		previous = msg

		builder, write := set(squirrel.Update("messages").
			Set("media_url", "").
			Set("media_type", "").
			Set("media_key", "").
			Set("expires_at", nil).
			Set("ephemeral_seconds", 0).
			Where(squirrel.Eq{"id": messageID}).
			PlaceholderFormat(squirrel.Dollar), msg)
		if !write {
			return nil
		}
		sql, args, err := builder.ToSql()
		if err != nil {
			return fmt.Errorf("error building SQL: %w", err)
		}
		if _, err := tx.Exec(ctx, sql, args...); err != nil {
			return fmt.Errorf("error updating message: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return previous, nil
}

func (r *MessageRepository) TombstoneMessage(ctx context.Context, chatID, messageID string) (*models.Message, error) {
	return r.clearMedia(ctx, chatID, messageID, func(b squirrel.UpdateBuilder, _ *models.Message) (squirrel.UpdateBuilder, bool) {
		return b.Set("deleted", true).Set("text", ""), true
	})
}

func (r *MessageRepository) ExpireMedia(ctx context.Context, chatID, messageID, text string) (*models.Message, error) {
	return r.clearMedia(ctx, chatID, messageID, func(b squirrel.UpdateBuilder, current *models.Message) (squirrel.UpdateBuilder, bool) {
		if current.Deleted {
			return b, false
		}
		return b.Set("text", text), true
	})
}

// UpdatePoll is a read-modify-write of the poll under a row lock
func (r *MessageRepository) UpdatePoll(ctx context.Context, chatID, messageID string, mutate func(*models.Message) error) (*models.Message, error) {
	var updated *models.Message
	err := r.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		msg, err := r.getMessage(ctx, tx, chatID, messageID, true)
		if err != nil {
			return err
		}
		if err := mutate(msg); err != nil {
			return err
		}

		poll, err := encodePoll(msg.Poll)
		if err != nil {
			return err
		}
		sql, args, err := squirrel.Update("messages").
			Set("poll", poll).
			Where(squirrel.Eq{"id": messageID}).
			PlaceholderFormat(squirrel.Dollar).
			ToSql()
		if err != nil {
			return fmt.Errorf("error building SQL: %w", err)
		}
		if _, err := tx.Exec(ctx, sql, args...); err != nil {
			return fmt.Errorf("error updating poll: %w", err)
		}
		updated = msg
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *MessageRepository) ListPendingEphemeral(ctx context.Context, dueBy *time.Time) ([]*models.Message, error) {
	builder := squirrel.Select(messageColumns...).
		From("messages").
		Where("expires_at IS NOT NULL").
		Where(squirrel.Eq{"deleted": false}).
		OrderBy("expires_at").
		PlaceholderFormat(squirrel.Dollar)
	if dueBy != nil {
		builder = builder.Where(squirrel.LtOrEq{"expires_at": *dueBy})
	}
	return r.queryMessages(ctx, builder)
}

// CountUnread reads the count and the chat watermark in one statement so
// both come from the same snapshot
func (r *MessageRepository) CountUnread(ctx context.Context, chatID, userID string, after time.Time) (int64, time.Time, error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM messages
			 WHERE chat_id = $1 AND created_at > $2 AND sender_id <> $3),
			(SELECT last_message_at FROM chats WHERE id = $1)
	`
	var n int64
	var watermark *time.Time
	if err := r.db.Pool.QueryRow(ctx, query, chatID, after, userID).Scan(&n, &watermark); err != nil {
		return 0, time.Time{}, fmt.Errorf("error counting unread messages: %w", err)
	}
	if watermark == nil {
		return n, time.Time{}, nil
	}
	return n, *watermark, nil
}
