package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	instagramOAuthBase = "https://api.instagram.com"
	instagramGraphBase = "https://graph.instagram.com"
	instagramAuthURL   = "https://www.instagram.com/oauth/authorize"

	carouselChildCap = 20
)

type instagramAdapter struct {
	clientID     string
	clientSecret string
	oauthBase    string
	graphBase    string

	// container readiness polling
	pollAttempts int
	pollBase     time.Duration
}

func NewInstagramAdapter(clientID, clientSecret string) Adapter {
	return &instagramAdapter{
		clientID:     clientID,
		clientSecret: clientSecret,
		oauthBase:    instagramOAuthBase,
		graphBase:    instagramGraphBase,
		pollAttempts: 6,
		pollBase:     2 * time.Second,
	}
}

func (a *instagramAdapter) Platform() string { return PlatformInstagram }

func (a *instagramAdapter) Limits() Limits { return limitsByPlatform[PlatformInstagram] }

func (a *instagramAdapter) AuthURL(redirectURI, state string) string {
	params := url.Values{}
	params.Add("client_id", a.clientID)
	params.Add("scope", "instagram_business_basic,instagram_business_content_publish")
	params.Add("response_type", "code")
	params.Add("redirect_uri", redirectURI)
	params.Add("state", state)

	return fmt.Sprintf("%s?%s", instagramAuthURL, params.Encode())
}

func (a *instagramAdapter) ExchangeCode(ctx context.Context, code, redirectURI string) (*Credentials, error) {
	shortLived, err := a.shortLivedToken(ctx, code, redirectURI)
	if err != nil {
		return nil, err
	}

	longLived, expiresAt, err := a.longLivedToken(ctx, shortLived)
	if err != nil {
		return nil, err
	}

	profile, err := a.profile(ctx, longLived)
	if err != nil {
		return nil, err
	}

	// Instagram has no separate refresh token; the long-lived token
	// refreshes itself by re-exchange.
	return &Credentials{
		AccessToken:     longLived,
		RefreshToken:    longLived,
		TokenExpiresAt:  expiresAt,
		AccountID:       profile.ID,
		AccountName:     profile.Name,
		AccountUsername: profile.Username,
	}, nil
}

func (a *instagramAdapter) shortLivedToken(ctx context.Context, code, redirectURI string) (string, error) {
	data := url.Values{}
	data.Set("client_id", a.clientID)
	data.Set("client_secret", a.clientSecret)
	data.Set("grant_type", "authorization_code")
	data.Set("redirect_uri", redirectURI)
	data.Set("code", code)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.oauthBase+"/oauth/access_token",
		strings.NewReader(data.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := httpClient.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return "", newError(PlatformInstagram, KindAuthExchange, "short-lived token request failed: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", newError(PlatformInstagram, KindAuthExchange, "short-lived token exchange: %s", string(body))
	}

	var result struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", newError(PlatformInstagram, KindAuthExchange, "decoding token response: %v", err)
	}

	return result.AccessToken, nil
}

func (a *instagramAdapter) longLivedToken(ctx context.Context, shortLived string) (string, time.Time, error) {
	reqURL := fmt.Sprintf(
		"%s/access_token?grant_type=ig_exchange_token&client_secret=%s&access_token=%s",
		a.graphBase, a.clientSecret, shortLived,
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", time.Time{}, err
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return "", time.Time{}, newError(PlatformInstagram, KindAuthExchange, "long-lived token request failed: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", time.Time{}, newError(PlatformInstagram, KindAuthExchange, "long-lived token exchange: %s", string(body))
	}

	var result struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", time.Time{}, newError(PlatformInstagram, KindAuthExchange, "decoding long-lived token response: %v", err)
	}

	return result.AccessToken, time.Now().Add(time.Duration(result.ExpiresIn) * time.Second), nil
}

type instagramProfile struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
}

func (a *instagramAdapter) profile(ctx context.Context, accessToken string) (*instagramProfile, error) {
	reqURL := fmt.Sprintf("%s/me?fields=id,username,name&access_token=%s", a.graphBase, accessToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return nil, newError(PlatformInstagram, KindNetwork, "profile request failed: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(PlatformInstagram, resp.StatusCode, string(body))
	}

	var profile instagramProfile
	if err := json.Unmarshal(body, &profile); err != nil {
		return nil, newError(PlatformInstagram, KindNetwork, "decoding profile: %v", err)
	}

	return &profile, nil
}

// Refresh re-exchanges the long-lived token against the refresh endpoint.
func (a *instagramAdapter) Refresh(ctx context.Context, tokens Tokens) (*Credentials, error) {
	reqURL := fmt.Sprintf(
		"%s/refresh_access_token?grant_type=ig_refresh_token&access_token=%s",
		a.graphBase, tokens.RefreshToken,
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return nil, newError(PlatformInstagram, KindNetwork, "refresh request failed: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, refreshStatusError(PlatformInstagram, resp.StatusCode, string(body))
	}

	var result struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, newError(PlatformInstagram, KindNetwork, "decoding refresh response: %v", err)
	}

	return &Credentials{
		AccessToken:    result.AccessToken,
		RefreshToken:   result.AccessToken,
		TokenExpiresAt: time.Now().Add(time.Duration(result.ExpiresIn) * time.Second),
	}, nil
}

func (a *instagramAdapter) ValidateTokens(ctx context.Context, tokens Tokens) bool {
	_, err := a.profile(ctx, tokens.AccessToken)
	return err == nil
}

func (a *instagramAdapter) Publish(ctx context.Context, req *PublishRequest, tokens Tokens) *PublishResult {
	limits := a.Limits()
	caption := NormalizeContent(req.Text, req.Hashtags, limits)

	if len(req.Media) == 0 {
		return failure(PlatformInstagram, newError(PlatformInstagram, KindContentRejected,
			"instagram requires at least one media item"))
	}

	profile, err := a.profile(ctx, tokens.AccessToken)
	if err != nil {
		return failure(PlatformInstagram, err)
	}

	media := req.Media
	if len(media) > limits.MaxMedia {
		media = media[:limits.MaxMedia]
	}

	var containerID string
	if len(media) == 1 {
		containerID, err = a.createContainer(ctx, profile.ID, tokens.AccessToken, map[string]any{
			"image_url": media[0].URL,
			"caption":   caption,
		})
	} else {
		containerID, err = a.createCarousel(ctx, profile.ID, tokens.AccessToken, caption, media)
	}
	if err != nil {
		return failure(PlatformInstagram, err)
	}

	if err := a.waitForContainer(ctx, containerID, tokens.AccessToken); err != nil {
		return failure(PlatformInstagram, err)
	}

	mediaID, err := a.publishContainer(ctx, profile.ID, containerID, tokens.AccessToken)
	if err != nil {
		// The staged container stays uncommitted on the platform side;
		// it never becomes publicly visible.
		return failure(PlatformInstagram, err)
	}

	permalink, err := a.permalink(ctx, mediaID, tokens.AccessToken)
	if err != nil {
		slog.Info("instagram permalink lookup failed", "media_id", mediaID, "error", err)
		permalink = fmt.Sprintf("https://www.instagram.com/%s/", profile.Username)
	}

	return &PublishResult{
		Platform:    PlatformInstagram,
		Success:     true,
		ExternalID:  mediaID,
		ExternalURL: permalink,
	}
}

func (a *instagramAdapter) createCarousel(ctx context.Context, accountID, accessToken, caption string, media []Media) (string, error) {
	if len(media) > carouselChildCap {
		media = media[:carouselChildCap]
	}

	childIDs := make([]string, 0, len(media))
	for _, m := range media {
		// Children are created sequentially; any failure aborts the whole
		// carousel so a partial one is never published.
		childID, err := a.createContainer(ctx, accountID, accessToken, map[string]any{
			"image_url":        m.URL,
			"is_carousel_item": true,
		})
		if err != nil {
			return "", err
		}
		childIDs = append(childIDs, childID)
	}

	return a.createContainer(ctx, accountID, accessToken, map[string]any{
		"media_type": "CAROUSEL",
		"caption":    caption,
		"children":   childIDs,
	})
}

func (a *instagramAdapter) createContainer(ctx context.Context, accountID, accessToken string, payload map[string]any) (string, error) {
	payload["access_token"] = accessToken

	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	reqURL := fmt.Sprintf("%s/v21.0/%s/media", a.graphBase, accountID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewBuffer(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return "", newError(PlatformInstagram, KindNetwork, "container creation failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", statusError(PlatformInstagram, resp.StatusCode, string(respBody))
	}

	var result struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", newError(PlatformInstagram, KindNetwork, "decoding container response: %v", err)
	}
	if result.ID == "" {
		return "", newError(PlatformInstagram, KindContentRejected, "no container id returned: %s", string(respBody))
	}

	return result.ID, nil
}

// waitForContainer polls the container's processing status with bounded
// exponential backoff instead of sleeping a fixed duration; media
// transcoding time varies too much for a constant wait.
func (a *instagramAdapter) waitForContainer(ctx context.Context, containerID, accessToken string) error {
	delay := a.pollBase
	for attempt := 0; attempt < a.pollAttempts; attempt++ {
		status, err := a.containerStatus(ctx, containerID, accessToken)
		if err != nil {
			return err
		}

		switch status {
		case "FINISHED":
			return nil
		case "ERROR", "EXPIRED":
			return newError(PlatformInstagram, KindContentRejected, "container %s entered status %s", containerID, status)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}

	return newError(PlatformInstagram, KindNetwork, "container %s not ready after %d checks", containerID, a.pollAttempts)
}

func (a *instagramAdapter) containerStatus(ctx context.Context, containerID, accessToken string) (string, error) {
	reqURL := fmt.Sprintf("%s/v21.0/%s?fields=status_code&access_token=%s", a.graphBase, containerID, accessToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", err
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return "", newError(PlatformInstagram, KindNetwork, "container status check failed: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", statusError(PlatformInstagram, resp.StatusCode, string(body))
	}

	var result struct {
		StatusCode string `json:"status_code"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", newError(PlatformInstagram, KindNetwork, "decoding status response: %v", err)
	}

	return result.StatusCode, nil
}

func (a *instagramAdapter) publishContainer(ctx context.Context, accountID, containerID, accessToken string) (string, error) {
	payload := map[string]string{
		"creation_id":  containerID,
		"access_token": accessToken,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	reqURL := fmt.Sprintf("%s/v21.0/%s/media_publish", a.graphBase, accountID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewBuffer(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return "", newError(PlatformInstagram, KindNetwork, "media publish failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", statusError(PlatformInstagram, resp.StatusCode, string(respBody))
	}

	var result struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", newError(PlatformInstagram, KindNetwork, "decoding publish response: %v", err)
	}
	if result.ID == "" {
		return "", newError(PlatformInstagram, KindContentRejected, "no media id returned: %s", string(respBody))
	}

	return result.ID, nil
}

func (a *instagramAdapter) permalink(ctx context.Context, mediaID, accessToken string) (string, error) {
	reqURL := fmt.Sprintf("%s/v21.0/%s?fields=permalink&access_token=%s", a.graphBase, mediaID, accessToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", err
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("permalink lookup: unexpected status %d", resp.StatusCode)
	}

	var result struct {
		Permalink string `json:"permalink"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", err
	}

	return result.Permalink, nil
}
