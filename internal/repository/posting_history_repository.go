package repository

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/nileshdv/postmux/internal/models"
)

type PostingHistoryRepository interface {
	Create(ctx context.Context, ph *models.PostingHistory) (int64, error)
	ListByPostID(ctx context.Context, postID int64) ([]*models.PostingHistory, error)
	ListByUserID(ctx context.Context, userID int64) ([]*models.PostingHistory, error)
}

type postingHistoryRepository struct {
	db *sql.DB
}

func NewPostingHistoryRepository(db *sql.DB) PostingHistoryRepository {
	return &postingHistoryRepository{db: db}
}

func (r *postingHistoryRepository) Create(ctx context.Context, ph *models.PostingHistory) (int64, error) {
	query := `
		INSERT INTO posting_history (user_id, post_id, platform, success, external_post_id, external_post_url, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`

	var id int64
	err := r.db.QueryRowContext(ctx, query, ph.UserID, ph.PostID, ph.Platform,
		ph.Success, ph.ExternalID, ph.ExternalURL, ph.ErrorMessage).Scan(&id)
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	return id, nil
}

func (r *postingHistoryRepository) ListByPostID(ctx context.Context, postID int64) ([]*models.PostingHistory, error) {
	query := `SELECT id, user_id, post_id, platform, success, external_post_id, external_post_url, error_message, created_at
		FROM posting_history WHERE post_id = $1 ORDER BY created_at DESC`

	return r.list(ctx, query, postID)
}

func (r *postingHistoryRepository) ListByUserID(ctx context.Context, userID int64) ([]*models.PostingHistory, error) {
	query := `SELECT id, user_id, post_id, platform, success, external_post_id, external_post_url, error_message, created_at
		FROM posting_history WHERE user_id = $1 ORDER BY created_at DESC`

	return r.list(ctx, query, userID)
}

func (r *postingHistoryRepository) list(ctx context.Context, query string, arg any) ([]*models.PostingHistory, error) {
	rows, err := r.db.QueryContext(ctx, query, arg)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var entries []*models.PostingHistory
	for rows.Next() {
		var ph models.PostingHistory
		err := rows.Scan(&ph.ID, &ph.UserID, &ph.PostID, &ph.Platform, &ph.Success,
			&ph.ExternalID, &ph.ExternalURL, &ph.ErrorMessage, &ph.CreatedAt)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		entries = append(entries, &ph)
	}
	return entries, rows.Err()
}
