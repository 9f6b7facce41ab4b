package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/lib/pq"
	"github.com/nileshdv/postmux/internal/models"
)

type PostRepository interface {
	Create(ctx context.Context, tx *sql.Tx, post *models.Post) (int64, error)
	GetByID(ctx context.Context, id int64) (*models.Post, error)
	GetByUserID(ctx context.Context, userID int64) ([]*models.Post, error)
	ListDue(ctx context.Context, now time.Time) ([]*models.Post, error)
	MarkPublished(ctx context.Context, postID int64, publishedAt time.Time) error
	MarkFailed(ctx context.Context, postID int64) error
	Reschedule(ctx context.Context, postID int64, scheduledTime time.Time, platforms []string) error
	CheckByUserID(ctx context.Context, postID, userID int64) (bool, error)
	Remove(ctx context.Context, id int64) error
}

type postRepository struct {
	db *sql.DB
}

func NewPostRepository(db *sql.DB) PostRepository {
	return &postRepository{db: db}
}

const postColumns = `id, user_id, content, platforms, hashtags, content_warning, scheduled_time, published_at, status, created_at, updated_at`

func scanPost(row interface{ Scan(...any) error }) (*models.Post, error) {
	var post models.Post
	err := row.Scan(&post.ID, &post.UserID, &post.Content, &post.Platforms, &post.Hashtags,
		&post.ContentWarning, &post.ScheduledTime, &post.PublishedAt, &post.Status,
		&post.CreatedAt, &post.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &post, nil
}

func (r *postRepository) Create(ctx context.Context, tx *sql.Tx, post *models.Post) (int64, error) {
	query := `
		INSERT INTO posts (user_id, content, platforms, hashtags, content_warning, scheduled_time, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`

	var id int64
	var err error

	args := []any{post.UserID, post.Content, pq.Array(post.Platforms), pq.Array(post.Hashtags),
		post.ContentWarning, post.ScheduledTime, post.Status}

	if tx != nil {
		err = tx.QueryRowContext(ctx, query, args...).Scan(&id)
	} else {
		err = r.db.QueryRowContext(ctx, query, args...).Scan(&id)
	}
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	return id, nil
}

func (r *postRepository) GetByID(ctx context.Context, id int64) (*models.Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts WHERE id = $1`

	post, err := scanPost(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}

	return post, nil
}

func (r *postRepository) GetByUserID(ctx context.Context, userID int64) ([]*models.Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts WHERE user_id = $1 ORDER BY scheduled_time DESC`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var posts []*models.Post
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		posts = append(posts, post)
	}
	return posts, rows.Err()
}

// ListDue returns scheduled posts whose scheduled time has passed.
func (r *postRepository) ListDue(ctx context.Context, now time.Time) ([]*models.Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts WHERE status = $1 AND scheduled_time <= $2 ORDER BY scheduled_time`

	rows, err := r.db.QueryContext(ctx, query, models.PostStatusScheduled, now)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var posts []*models.Post
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		posts = append(posts, post)
	}
	return posts, rows.Err()
}

// MarkPublished only fires from the scheduled state; status transitions
// are forward-only.
func (r *postRepository) MarkPublished(ctx context.Context, postID int64, publishedAt time.Time) error {
	query := `
		UPDATE posts
		SET status = $1, published_at = $2, updated_at = $3
		WHERE id = $4 AND status = $5
	`
	_, err := r.db.ExecContext(ctx, query, models.PostStatusPublished, publishedAt, time.Now(), postID, models.PostStatusScheduled)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *postRepository) MarkFailed(ctx context.Context, postID int64) error {
	query := `
		UPDATE posts
		SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4
	`
	_, err := r.db.ExecContext(ctx, query, models.PostStatusFailed, time.Now(), postID, models.PostStatusScheduled)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

// Reschedule moves a failed post back to scheduled, optionally narrowing
// the platform set to the failed subset. Only failed posts qualify.
func (r *postRepository) Reschedule(ctx context.Context, postID int64, scheduledTime time.Time, platforms []string) error {
	query := `
		UPDATE posts
		SET status = $1,
			scheduled_time = $2,
			platforms = COALESCE($3, platforms),
			updated_at = $4
		WHERE id = $5 AND status = $6
	`

	var platformsArg any
	if len(platforms) > 0 {
		platformsArg = pq.Array(platforms)
	}

	result, err := r.db.ExecContext(ctx, query, models.PostStatusScheduled, scheduledTime,
		platformsArg, time.Now(), postID, models.PostStatusFailed)
	if err != nil {
		slog.Info(err.Error())
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	if affected != 1 {
		return ErrInvalidTransition
	}

	return nil
}

func (r *postRepository) CheckByUserID(ctx context.Context, postID, userID int64) (bool, error) {
	query := `SELECT 1 FROM posts WHERE id = $1 AND user_id = $2`

	var result int
	err := r.db.QueryRowContext(ctx, query, postID, userID).Scan(&result)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		slog.Info(err.Error())
		return false, err
	}

	return result == 1, nil
}

func (r *postRepository) Remove(ctx context.Context, id int64) error {
	query := `DELETE FROM posts WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}
