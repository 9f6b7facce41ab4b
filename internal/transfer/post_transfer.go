package transfer

import "time"

// PostCreation carries the multipart form fields of a create request.
// Files and AltTexts are parallel slices ordered by display position.
type PostCreation struct {
	Content        string
	Platforms      []string
	Hashtags       []string
	ContentWarning string
	ScheduledTime  time.Time
	PublishNow     bool
	AltTexts       []string
}

type PostReschedule struct {
	ScheduledTime time.Time `json:"scheduled_time"`
	Platforms     []string  `json:"platforms"`
}

type PostInfo struct {
	ID             int64             `json:"id"`
	Content        string            `json:"content"`
	Platforms      []string          `json:"platforms"`
	Hashtags       []string          `json:"hashtags"`
	ContentWarning string            `json:"content_warning,omitempty"`
	Status         string            `json:"status"`
	ScheduledTime  time.Time         `json:"scheduled_time"`
	PublishedAt    *time.Time        `json:"published_at,omitempty"`
	Media          []PostMediaInfo   `json:"media,omitempty"`
	History        []PlatformOutcome `json:"history,omitempty"`
}

type PostMediaInfo struct {
	URL          string `json:"url"`
	AltText      string `json:"alt_text,omitempty"`
	DisplayOrder int    `json:"display_order"`
}

type PlatformOutcome struct {
	Platform     string    `json:"platform"`
	Success      bool      `json:"success"`
	ExternalID   string    `json:"external_post_id,omitempty"`
	ExternalURL  string    `json:"external_post_url,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
