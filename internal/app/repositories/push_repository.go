package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/yigit/clubchat/internal/app/models"
	"github.com/yigit/clubchat/internal/db"
)

// PushRepository is the per-user push registry. Users without a settings
// row have push enabled.
type PushRepository struct {
	db *db.PostgresDB
}

// NewPushRepository creates a new PushRepository
func NewPushRepository(database *db.PostgresDB) *PushRepository {
	return &PushRepository{db: database}
}

func (r *PushRepository) GetPushSettings(ctx context.Context, userID string) (*models.PushSettings, error) {
	settings := &models.PushSettings{UserID: userID, Enabled: true, Tokens: []models.PushToken{}}

	err := r.db.Pool.QueryRow(ctx, `SELECT enabled FROM push_settings WHERE user_id = $1`, userID).Scan(&settings.Enabled)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("error retrieving push settings: %w", err)
	}

	sql, args, err := squirrel.Select("token", "platform", "created_at").
		From("push_tokens").
		Where(squirrel.Eq{"user_id": userID}).
		OrderBy("created_at").
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
	for rows.Next() {
		var token models.PushToken
		if err := rows.Scan(&token.Token, &token.Platform, &token.CreatedAt); err != nil {
			return nil, fmt.Errorf("error scanning push token: %w", err)
		}
		settings.Tokens = append(settings.Tokens, token)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating push tokens: %w", err)
	}
	return settings, nil
}

func (r *PushRepository) SetPushEnabled(ctx context.Context, userID string, enabled bool) error {
	query := `
		INSERT INTO push_settings (user_id, enabled, updated_at)
		VALUES ($1, $2, CURRENT_TIMESTAMP)
		ON CONFLICT (user_id)
		DO UPDATE SET enabled = EXCLUDED.enabled, updated_at = EXCLUDED.updated_at
	`
	if _, err := r.db.Pool.Exec(ctx, query, userID, enabled); err != nil {
		return fmt.Errorf("error updating push settings: %w", err)
	}
	return nil
}

// AddToken registers a device token; a token owned by another user is moved
func (r *PushRepository) AddToken(ctx context.Context, userID string, token models.PushToken) error {
	sql, args, err := squirrel.Insert("push_tokens").
		Columns("token", "user_id", "platform", "created_at").
		Values(token.Token, userID, token.Platform, token.CreatedAt).
		Suffix("ON CONFLICT (token) DO UPDATE SET user_id = EXCLUDED.user_id, platform = EXCLUDED.platform").
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("error building SQL: %w", err)
	}
	if _, err := r.db.Pool.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("error registering push token: %w", err)
	}
	return nil
}

func (r *PushRepository) RemoveToken(ctx context.Context, userID, token string) error {
	sql, args, err := squirrel.Delete("push_tokens").
		Where(squirrel.Eq{"token": token, "user_id": userID}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("error building SQL: %w", err)
	}
	if _, err := r.db.Pool.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("error removing push token: %w", err)
	}
	return nil
}
