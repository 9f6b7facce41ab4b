package platform

import (
	"context"
	"net/http"
	"time"
)

const (
	PlatformInstagram = "instagram"
	PlatformFacebook  = "facebook"
	PlatformBluesky   = "bluesky"
	PlatformMastodon  = "mastodon"
)

// Credentials is what a successful code exchange or refresh yields.
// AccountID and profile fields are only populated by ExchangeCode.
type Credentials struct {
	AccessToken     string
	RefreshToken    string
	TokenExpiresAt  time.Time
	AccountID       string
	AccountName     string
	AccountUsername string
}

// Tokens are the decrypted credentials handed to an adapter for use.
type Tokens struct {
	AccessToken     string
	RefreshToken    string
	AccountID       string
	AccountUsername string
}

// Media is one attachment resolved from the post's media rows, in display order.
type Media struct {
	URL     string
	AltText string
}

// PublishRequest is the normalized input to Publish. Text and Hashtags are
// raw; each adapter applies its own limits via NormalizeContent before
// talking to the platform.
type PublishRequest struct {
	Text           string
	Hashtags       []string
	Media          []Media
	ContentWarning string
}

// PublishResult is the per-platform outcome of one publish attempt.
// Err is nil on success and a *Error otherwise.
type PublishResult struct {
	Platform    string
	Success     bool
	ExternalID  string
	ExternalURL string
	Err         error
}

func (r *PublishResult) ErrorMessage() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// Adapter is implemented once per platform. OAuth-style and
// password-session-style platforms both conform; for the latter,
// AuthURL points at the platform's credential-management page and
// ExchangeCode receives the user-supplied credentials as the code.
type Adapter interface {
	Platform() string
	Limits() Limits
	AuthURL(redirectURI, state string) string
	ExchangeCode(ctx context.Context, code, redirectURI string) (*Credentials, error)
	Refresh(ctx context.Context, tokens Tokens) (*Credentials, error)
	ValidateTokens(ctx context.Context, tokens Tokens) bool
	Publish(ctx context.Context, req *PublishRequest, tokens Tokens) *PublishResult
}

// One client for all adapters. The timeout bounds how long a stuck
// platform call can hold a scheduler worker.
var httpClient = &http.Client{Timeout: 60 * time.Second}

func failure(platformName string, err error) *PublishResult {
	return &PublishResult{Platform: platformName, Success: false, Err: err}
}
