package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/yigit/clubchat/internal/db"
	"github.com/yigit/clubchat/internal/pkg/dberrors"
	"github.com/yigit/clubchat/internal/pkg/helpers"
)

// ReadCursorRepository stores per-user read cursors (chat_metadata)
type ReadCursorRepository struct {
	db *db.PostgresDB
}

// NewReadCursorRepository creates a new ReadCursorRepository
func NewReadCursorRepository(database *db.PostgresDB) *ReadCursorRepository {
	return &ReadCursorRepository{db: database}
}

func (r *ReadCursorRepository) GetLastSeen(ctx context.Context, userID, chatID string) (time.Time, error) {
	var lastSeen time.Time
	err := r.db.Pool.QueryRow(ctx,
		`SELECT last_seen FROM chat_metadata WHERE user_id = $1 AND chat_id = $2`,
		userID, chatID,
	).Scan(&lastSeen)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("error retrieving last seen: %w", err)
	}
	return lastSeen, nil
}

// MarkSeen upserts the cursor with GREATEST so it never moves backward
func (r *ReadCursorRepository) MarkSeen(ctx context.Context, userID, chatID string, at time.Time) (time.Time, error) {
	query := `
		INSERT INTO chat_metadata (user_id, chat_id, last_seen)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, chat_id)
		DO UPDATE SET last_seen = GREATEST(chat_metadata.last_seen, EXCLUDED.last_seen)
		RETURNING last_seen
	`
	var stored time.Time
	if err := r.db.Pool.QueryRow(ctx, query, userID, chatID, helpers.MicrosecondTimestamp(at)).Scan(&stored); err != nil {
		if dberrors.IsForeignKeyViolation(err) {
			return time.Time{}, errChatNotFound(chatID)
		}
		return time.Time{}, fmt.Errorf("error marking chat as seen: %w", err)
	}
	return stored, nil
}
