package models

import "time"

// PostingHistory records one publish attempt for a (post, platform) pair.
type PostingHistory struct {
	ID           int64     `db:"id" json:"id"`
	UserID       int64     `db:"user_id" json:"user_id"`
	PostID       int64     `db:"post_id" json:"post_id"`
	Platform     string    `db:"platform" json:"platform"`
	Success      bool      `db:"success" json:"success"`
	ExternalID   string    `db:"external_post_id" json:"external_post_id"`
	ExternalURL  string    `db:"external_post_url" json:"external_post_url"`
	ErrorMessage string    `db:"error_message" json:"error_message"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}
