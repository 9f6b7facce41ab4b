package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"
)

// Mastodon access tokens do not expire; refresh just re-probes the token
// and pushes the bookkeeping expiry forward by this much.
const mastodonTokenLifetime = 365 * 24 * time.Hour

type mastodonAdapter struct {
	server       string
	clientID     string
	clientSecret string
}

func NewMastodonAdapter(server, clientID, clientSecret string) Adapter {
	return &mastodonAdapter{
		server:       strings.TrimRight(server, "/"),
		clientID:     clientID,
		clientSecret: clientSecret,
	}
}

func (a *mastodonAdapter) Platform() string { return PlatformMastodon }

func (a *mastodonAdapter) Limits() Limits { return limitsByPlatform[PlatformMastodon] }

func (a *mastodonAdapter) AuthURL(redirectURI, state string) string {
	params := url.Values{}
	params.Add("client_id", a.clientID)
	params.Add("redirect_uri", redirectURI)
	params.Add("response_type", "code")
	params.Add("scope", "read write:statuses write:media")
	params.Add("state", state)

	return fmt.Sprintf("%s/oauth/authorize?%s", a.server, params.Encode())
}

func (a *mastodonAdapter) ExchangeCode(ctx context.Context, code, redirectURI string) (*Credentials, error) {
	data := url.Values{}
	data.Set("client_id", a.clientID)
	data.Set("client_secret", a.clientSecret)
	data.Set("grant_type", "authorization_code")
	data.Set("redirect_uri", redirectURI)
	data.Set("code", code)
	data.Set("scope", "read write:statuses write:media")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.server+"/oauth/token",
		strings.NewReader(data.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := httpClient.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return nil, newError(PlatformMastodon, KindAuthExchange, "token request failed: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, newError(PlatformMastodon, KindAuthExchange, "token exchange: %s", string(body))
	}

	var result struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, newError(PlatformMastodon, KindAuthExchange, "decoding token response: %v", err)
	}

	account, err := a.verifyCredentials(ctx, result.AccessToken)
	if err != nil {
		return nil, err
	}

	return &Credentials{
		AccessToken:     result.AccessToken,
		TokenExpiresAt:  time.Now().Add(mastodonTokenLifetime),
		AccountID:       account.ID,
		AccountName:     account.DisplayName,
		AccountUsername: account.Username,
	}, nil
}

type mastodonAccount struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	URL         string `json:"url"`
}

func (a *mastodonAdapter) verifyCredentials(ctx context.Context, accessToken string) (*mastodonAccount, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		a.server+"/api/v1/accounts/verify_credentials", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, newError(PlatformMastodon, KindNetwork, "verify_credentials failed: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(PlatformMastodon, resp.StatusCode, string(body))
	}

	var account mastodonAccount
	if err := json.Unmarshal(body, &account); err != nil {
		return nil, newError(PlatformMastodon, KindNetwork, "decoding account: %v", err)
	}

	return &account, nil
}

// Refresh re-probes the non-expiring token and extends the stored expiry.
func (a *mastodonAdapter) Refresh(ctx context.Context, tokens Tokens) (*Credentials, error) {
	if _, err := a.verifyCredentials(ctx, tokens.AccessToken); err != nil {
		// Only an active rejection of the token invalidates the account;
		// transport trouble stays a network error.
		if IsKind(err, KindAuthExchange) {
			return nil, newError(PlatformMastodon, KindRefresh, "token no longer valid: %v", err)
		}
		return nil, err
	}

	return &Credentials{
		AccessToken:    tokens.AccessToken,
		TokenExpiresAt: time.Now().Add(mastodonTokenLifetime),
	}, nil
}

func (a *mastodonAdapter) ValidateTokens(ctx context.Context, tokens Tokens) bool {
	_, err := a.verifyCredentials(ctx, tokens.AccessToken)
	return err == nil
}

func (a *mastodonAdapter) Publish(ctx context.Context, req *PublishRequest, tokens Tokens) *PublishResult {
	limits := a.Limits()
	status := NormalizeContent(req.Text, req.Hashtags, limits)

	media := req.Media
	if len(media) > limits.MaxMedia {
		media = media[:limits.MaxMedia]
	}

	mediaIDs := make([]string, 0, len(media))
	for _, m := range media {
		mediaID, err := a.uploadMedia(ctx, tokens.AccessToken, m)
		if err != nil {
			return failure(PlatformMastodon, err)
		}
		mediaIDs = append(mediaIDs, mediaID)
	}

	form := url.Values{}
	form.Set("status", status)
	if req.ContentWarning != "" {
		form.Set("spoiler_text", req.ContentWarning)
	}
	for _, id := range mediaIDs {
		form.Add("media_ids[]", id)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.server+"/api/v1/statuses",
		strings.NewReader(form.Encode()))
	if err != nil {
		return failure(PlatformMastodon, err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Authorization", "Bearer "+tokens.AccessToken)

	resp, err := httpClient.Do(httpReq)
	if err != nil {
		return failure(PlatformMastodon, newError(PlatformMastodon, KindNetwork, "status post failed: %v", err))
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return failure(PlatformMastodon, statusError(PlatformMastodon, resp.StatusCode, string(body)))
	}

	var result struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return failure(PlatformMastodon, newError(PlatformMastodon, KindNetwork, "decoding status response: %v", err))
	}

	return &PublishResult{
		Platform:    PlatformMastodon,
		Success:     true,
		ExternalID:  result.ID,
		ExternalURL: result.URL,
	}
}

func (a *mastodonAdapter) uploadMedia(ctx context.Context, accessToken string, m Media) (string, error) {
	data, contentType, err := fetchMedia(ctx, m.URL)
	if err != nil {
		return "", newError(PlatformMastodon, KindNetwork, "fetching media: %v", err)
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="file"; filename="media"`)
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}
	if m.AltText != "" {
		if err := writer.WriteField("description", m.AltText); err != nil {
			return "", err
		}
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.server+"/api/v2/media", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := httpClient.Do(req)
	if err != nil {
		return "", newError(PlatformMastodon, KindNetwork, "media upload failed: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return "", statusError(PlatformMastodon, resp.StatusCode, string(body))
	}

	var result struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", newError(PlatformMastodon, KindNetwork, "decoding media response: %v", err)
	}

	return result.ID, nil
}
