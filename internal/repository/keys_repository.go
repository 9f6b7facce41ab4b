package repository

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/nileshdv/postmux/internal/models"
)

type ApiKeyRepository interface {
	Create(ctx context.Context, key *models.ApiKey) (int64, error)
	GetUserIDByKey(ctx context.Context, apiKey string) (int64, error)
	ListByUserID(ctx context.Context, userID int64) ([]*models.ApiKey, error)
	Remove(ctx context.Context, userID, id int64) error
}

type apiKeyRepository struct {
	db *sql.DB
}

func NewApiKeyRepository(db *sql.DB) ApiKeyRepository {
	return &apiKeyRepository{db: db}
}

func (r *apiKeyRepository) Create(ctx context.Context, key *models.ApiKey) (int64, error) {
	query := `
		INSERT INTO api_keys (user_id, api_key)
		VALUES ($1, $2)
		RETURNING id
	`

	var id int64
	err := r.db.QueryRowContext(ctx, query, key.UserID, key.ApiKey).Scan(&id)
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	return id, nil
}

func (r *apiKeyRepository) GetUserIDByKey(ctx context.Context, apiKey string) (int64, error) {
	query := `SELECT user_id FROM api_keys WHERE api_key = $1`

	var userID int64
	err := r.db.QueryRowContext(ctx, query, apiKey).Scan(&userID)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, nil
		}
		slog.Info(err.Error())
		return 0, err
	}

	return userID, nil
}

func (r *apiKeyRepository) ListByUserID(ctx context.Context, userID int64) ([]*models.ApiKey, error) {
	query := `SELECT id, user_id, api_key, created_at FROM api_keys WHERE user_id = $1`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var keys []*models.ApiKey
	for rows.Next() {
		var key models.ApiKey
		if err := rows.Scan(&key.ID, &key.UserID, &key.ApiKey, &key.CreatedAt); err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		keys = append(keys, &key)
	}
	return keys, rows.Err()
}

func (r *apiKeyRepository) Remove(ctx context.Context, userID, id int64) error {
	query := `DELETE FROM api_keys WHERE id = $1 AND user_id = $2`
	_, err := r.db.ExecContext(ctx, query, id, userID)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}
