package models

import (
	"database/sql"
	"time"

	"github.com/lib/pq"
)

type Post struct {
	ID             int64          `db:"id" json:"id"`
	UserID         int64          `db:"user_id" json:"user_id"`
	Content        string         `db:"content" json:"content"`
	Platforms      pq.StringArray `db:"platforms" json:"platforms"`
	Hashtags       pq.StringArray `db:"hashtags" json:"hashtags"`
	ContentWarning string         `db:"content_warning" json:"content_warning"`
	ScheduledTime  time.Time      `db:"scheduled_time" json:"scheduled_time"`
	PublishedAt    sql.NullTime   `db:"published_at" json:"published_at"`
	Status         string         `db:"status" json:"status"` // draft, scheduled, published, failed
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at" json:"updated_at"`
}

type MediaAsset struct {
	ID        int64     `db:"id"`
	UserID    int64     `db:"user_id"`
	FileName  string    `db:"file_name"`
	FileType  string    `db:"file_type"`
	FileSize  int64     `db:"file_size"`
	FileURL   string    `db:"file_url"`
	CreatedAt time.Time `db:"created_at"`
}

type PostMedia struct {
	PostID       int64     `db:"post_id"`
	AssetID      int64     `db:"asset_id"`
	DisplayOrder int       `db:"display_order"`
	AltText      string    `db:"alt_text"`
	CreatedAt    time.Time `db:"created_at"`
}

const (
	PostStatusDraft     = "draft"
	PostStatusScheduled = "scheduled"
	PostStatusPublished = "published"
	PostStatusFailed    = "failed"
)
