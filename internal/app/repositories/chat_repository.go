package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/yigit/clubchat/internal/app/models"
	"github.com/yigit/clubchat/internal/db"
	"github.com/yigit/clubchat/internal/pkg/apperrors"
	"github.com/yigit/clubchat/internal/pkg/dberrors"
)

var chatColumns = []string{
	"c.id", "c.kind", "c.mode", "c.name", "c.created_by", "c.broadcast_scope",
	"c.last_message_at", "c.last_message_preview", "c.created_at",
}

// ChatRepository handles database operations for chats and their membership
type ChatRepository struct {
	db *db.PostgresDB
}

// NewChatRepository creates a new ChatRepository
func NewChatRepository(database *db.PostgresDB) *ChatRepository {
	return &ChatRepository{db: database}
}

func errChatNotFound(chatID string) error {
	return apperrors.NewResourceNotFoundError(fmt.Sprintf("Chat %s not found", chatID))
}

// CreateChat inserts the chat with its participants. An existing chat with
// the same id is left untouched.
func (r *ChatRepository) CreateChat(ctx context.Context, chat *models.Chat) (bool, error) {
	created := false
	err := r.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		sql, args, err := squirrel.Insert("chats").
			Columns("id", "kind", "mode", "name", "created_by", "broadcast_scope", "created_at").
			Values(chat.ID, chat.Kind, chat.Mode, chat.Name, chat.CreatedBy, chat.BroadcastScope, chat.CreatedAt).
			Suffix("ON CONFLICT (id) DO NOTHING").
			PlaceholderFormat(squirrel.Dollar).
			ToSql()
		if err != nil {
			return fmt.Errorf("error building SQL: %w", err)
		}
		tag, err := tx.Exec(ctx, sql, args...)
		if err != nil {
			return fmt.Errorf("error creating chat: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}

		if err := insertMembers(ctx, tx, "chat_participants", chat.ID, chat.Participants); err != nil {
			return err
		}
		if err := insertMembers(ctx, tx, "chat_allowed_senders", chat.ID, chat.AllowedSenders); err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

func insertMembers(ctx context.Context, q db.Querier, table, chatID string, userIDs []string) error {
	if len(userIDs) == 0 {
		return nil
	}
	builder := squirrel.Insert(table).Columns("chat_id", "user_id").PlaceholderFormat(squirrel.Dollar)
	for _, userID := range userIDs {
		builder = builder.Values(chatID, userID)
	}
	sql, args, err := builder.Suffix("ON CONFLICT DO NOTHING").ToSql()
	if err != nil {
		return fmt.Errorf("error building SQL: %w", err)
	}
	if _, err := q.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("error inserting into %s: %w", table, err)
	}
	return nil
}

func scanChat(row pgx.Row) (*models.Chat, error) {
	var chat models.Chat
	err := row.Scan(
		&chat.ID,
		&chat.Kind,
		&chat.Mode,
		&chat.Name,
		&chat.CreatedBy,
		&chat.BroadcastScope,
		&chat.LastMessageAt,
		&chat.LastMessagePreview,
		&chat.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &chat, nil
}

// GetChat retrieves a chat with its participants and allowed senders
func (r *ChatRepository) GetChat(ctx context.Context, chatID string) (*models.Chat, error) {
	sql, args, err := squirrel.Select(chatColumns...).
		From("chats c").
		Where(squirrel.Eq{"c.id": chatID}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("error building SQL: %w", err)
	}

	chat, err := scanChat(r.db.Pool.QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errChatNotFound(chatID)
		}
		return nil, fmt.Errorf("error retrieving chat: %w", err)
	}

	if err := r.loadMembers(ctx, []*models.Chat{chat}); err != nil {
		return nil, err
	}
	return chat, nil
}

// ListChatsForUser returns the chats userID participates in, most recently active first
func (r *ChatRepository) ListChatsForUser(ctx context.Context, userID string) ([]*models.Chat, error) {
	sql, args, err := squirrel.Select(chatColumns...).
		From("chats c").
		Join("chat_participants p ON p.chat_id = c.id").
		Where(squirrel.Eq{"p.user_id": userID}).
		OrderBy("c.last_message_at DESC NULLS LAST", "c.created_at DESC").
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("error building SQL: %w", err)
	}

	rows, err := r.db.Pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("error executing query: %w", err)
	}
	defer rows.Close()

	var chats []*models.Chat
	for rows.Next() {
		chat, err := scanChat(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning chat row: %w", err)
		}
		chats = append(chats, chat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating chat rows: %w", err)
	}

	if err := r.loadMembers(ctx, chats); err != nil {
		return nil, err
	}
	return chats, nil
}

// loadMembers fills Participants and AllowedSenders of chats
func (r *ChatRepository) loadMembers(ctx context.Context, chats []*models.Chat) error {
	if len(chats) == 0 {
		return nil
	}
	byID := make(map[string]*models.Chat, len(chats))
	ids := make([]string, 0, len(chats))
	for _, chat := range chats {
		byID[chat.ID] = chat
		ids = append(ids, chat.ID)
		chat.Participants = []string{}
	}

	participants := squirrel.Select("chat_id", "user_id", "'participant'").
		From("chat_participants").
		Where(squirrel.Eq{"chat_id": ids}).
		OrderBy("seq")
	senders := squirrel.Select("chat_id", "user_id", "'sender'").
		From("chat_allowed_senders").
		Where(squirrel.Eq{"chat_id": ids}).
		OrderBy("user_id")

	for _, builder := range []squirrel.SelectBuilder{participants, senders} {
		sql, args, err := builder.PlaceholderFormat(squirrel.Dollar).ToSql()
		if err != nil {
			return fmt.Errorf("error building SQL: %w", err)
		}
		rows, err := r.db.Pool.Query(ctx, sql, args...)
		if err != nil {
			return fmt.Errorf("error executing query: %w", err)
		}
		for rows.Next() {
			var chatID, userID, role string
			if err := rows.Scan(&chatID, &userID, &role); err != nil {
				rows.Close()
				return fmt.Errorf("error scanning member row: %w", err)
			}
			chat := byID[chatID]
			if role == "participant" {
				chat.Participants = append(chat.Participants, userID)
			} else {
				chat.AllowedSenders = append(chat.AllowedSenders, userID)
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("error iterating member rows: %w", err)
		}
	}
	return nil
}

// AddParticipant adds userID to the chat. added is false if already present.
func (r *ChatRepository) AddParticipant(ctx context.Context, chatID, userID string) (bool, error) {
	sql, args, err := squirrel.Insert("chat_participants").
		Columns("chat_id", "user_id").
		Values(chatID, userID).
		Suffix("ON CONFLICT DO NOTHING").
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("error building SQL: %w", err)
	}
	tag, err := r.db.Pool.Exec(ctx, sql, args...)
	if err != nil {
		if dberrors.IsForeignKeyViolation(err) {
			return false, errChatNotFound(chatID)
		}
		return false, fmt.Errorf("error adding participant: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// RemoveParticipant removes userID and deletes the chat when nobody is left
func (r *ChatRepository) RemoveParticipant(ctx context.Context, chatID, userID string) (bool, error) {
	deleted := false
	err := r.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var locked string
		err := tx.QueryRow(ctx, `SELECT id FROM chats WHERE id = $1 FOR UPDATE`, chatID).Scan(&locked)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return errChatNotFound(chatID)
			}
			return fmt.Errorf("error locking chat: %w", err)
		}

		for _, table := range []string{"chat_participants", "chat_allowed_senders"} {
			sql, args, err := squirrel.Delete(table).
				Where(squirrel.Eq{"chat_id": chatID, "user_id": userID}).
				PlaceholderFormat(squirrel.Dollar).
				ToSql()
			if err != nil {
				return fmt.Errorf("error building SQL: %w", err)
			}
			if _, err := tx.Exec(ctx, sql, args...); err != nil {
				return fmt.Errorf("error removing from %s: %w", table, err)
			}
		}

		var remaining int
		if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM chat_participants WHERE chat_id = $1`, chatID).Scan(&remaining); err != nil {
			return fmt.Errorf("error counting participants: %w", err)
		}
		if remaining > 0 {
			return nil
		}

		if _, err := tx.Exec(ctx, `DELETE FROM chats WHERE id = $1`, chatID); err != nil {
			return fmt.Errorf("error deleting empty chat: %w", err)
		}
		deleted = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return deleted, nil
}

// DeleteChat removes the chat; messages, members and cursors cascade
func (r *ChatRepository) DeleteChat(ctx context.Context, chatID string) error {
	sql, args, err := squirrel.Delete("chats").
		Where(squirrel.Eq{"id": chatID}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("error building SQL: %w", err)
	}
	tag, err := r.db.Pool.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("error deleting chat: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errChatNotFound(chatID)
	}
	return nil
}

func (r *ChatRepository) SetAllowedSender(ctx context.Context, chatID, userID string, allowed bool) error {
	if allowed {
		err := insertMembers(ctx, r.db.Pool, "chat_allowed_senders", chatID, []string{userID})
		if err != nil && dberrors.IsForeignKeyViolation(err) {
			return errChatNotFound(chatID)
		}
		return err
	}

	sql, args, err := squirrel.Delete("chat_allowed_senders").
		Where(squirrel.Eq{"chat_id": chatID, "user_id": userID}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("error building SQL: %w", err)
	}
	if _, err := r.db.Pool.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("error revoking sender: %w", err)
	}
	return nil
}
