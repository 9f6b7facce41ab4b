package platform

import (
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
	facebookGraphBase = "https://graph.facebook.com"
	facebookAuthURL   = "https://www.facebook.com/v21.0/dialog/oauth"
)

type facebookAdapter struct {
	appID     string
	appSecret string
	graphBase string
}

func NewFacebookAdapter(appID, appSecret string) Adapter {
	return &facebookAdapter{
		appID:     appID,
		appSecret: appSecret,
		graphBase: facebookGraphBase,
	}
}

func (a *facebookAdapter) Platform() string { return PlatformFacebook }

func (a *facebookAdapter) Limits() Limits { return limitsByPlatform[PlatformFacebook] }

func (a *facebookAdapter) AuthURL(redirectURI, state string) string {
	params := url.Values{}
	params.Add("client_id", a.appID)
	params.Add("redirect_uri", redirectURI)
	params.Add("response_type", "code")
	params.Add("scope", "pages_manage_posts,pages_read_engagement,pages_show_list")
	params.Add("state", state)

	return fmt.Sprintf("%s?%s", facebookAuthURL, params.Encode())
}

func (a *facebookAdapter) ExchangeCode(ctx context.Context, code, redirectURI string) (*Credentials, error) {
	params := url.Values{}
	params.Set("client_id", a.appID)
	params.Set("client_secret", a.appSecret)
	params.Set("redirect_uri", redirectURI)
	params.Set("code", code)

	token, _, err := a.tokenRequest(ctx, params, KindAuthExchange)
	if err != nil {
		return nil, err
	}

	longLived, expiresAt, err := a.exchangeLongLived(ctx, token, KindAuthExchange)
	if err != nil {
		return nil, err
	}

	profile, err := a.profile(ctx, longLived)
	if err != nil {
		return nil, err
	}

	// Facebook long-lived user tokens refresh by re-exchange; the access
	// token doubles as the refresh value.
	return &Credentials{
		AccessToken:    longLived,
		RefreshToken:   longLived,
		TokenExpiresAt: expiresAt,
		AccountID:      profile.ID,
		AccountName:    profile.Name,
	}, nil
}

func (a *facebookAdapter) Refresh(ctx context.Context, tokens Tokens) (*Credentials, error) {
	longLived, expiresAt, err := a.exchangeLongLived(ctx, tokens.RefreshToken, KindRefresh)
	if err != nil {
		return nil, err
	}

	return &Credentials{
		AccessToken:    longLived,
		RefreshToken:   longLived,
		TokenExpiresAt: expiresAt,
	}, nil
}

func (a *facebookAdapter) exchangeLongLived(ctx context.Context, token string, kind ErrorKind) (string, time.Time, error) {
	params := url.Values{}
	params.Set("grant_type", "fb_exchange_token")
	params.Set("client_id", a.appID)
	params.Set("client_secret", a.appSecret)
	params.Set("fb_exchange_token", token)

	return a.tokenRequest(ctx, params, kind)
}

func (a *facebookAdapter) tokenRequest(ctx context.Context, params url.Values, kind ErrorKind) (string, time.Time, error) {
	reqURL := fmt.Sprintf("%s/v21.0/oauth/access_token?%s", a.graphBase, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", time.Time{}, err
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return "", time.Time{}, newError(PlatformFacebook, KindNetwork, "token request failed: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		if kind == KindRefresh {
			return "", time.Time{}, refreshStatusError(PlatformFacebook, resp.StatusCode, string(body))
		}
		return "", time.Time{}, newError(PlatformFacebook, kind, "token exchange: %s", string(body))
	}

	var result struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", time.Time{}, newError(PlatformFacebook, KindNetwork, "decoding token response: %v", err)
	}

	expiresIn := result.ExpiresIn
	if expiresIn == 0 {
		// Long-lived user tokens report no expiry; Facebook documents
		// roughly sixty days.
		expiresIn = int64((60 * 24 * time.Hour).Seconds())
	}

	return result.AccessToken, time.Now().Add(time.Duration(expiresIn) * time.Second), nil
}

type facebookProfile struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (a *facebookAdapter) profile(ctx context.Context, accessToken string) (*facebookProfile, error) {
	reqURL := fmt.Sprintf("%s/v21.0/me?fields=id,name&access_token=%s", a.graphBase, accessToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return nil, newError(PlatformFacebook, KindNetwork, "profile request failed: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(PlatformFacebook, resp.StatusCode, string(body))
	}

	var profile facebookProfile
	if err := json.Unmarshal(body, &profile); err != nil {
		return nil, newError(PlatformFacebook, KindNetwork, "decoding profile: %v", err)
	}

	return &profile, nil
}

func (a *facebookAdapter) ValidateTokens(ctx context.Context, tokens Tokens) bool {
	_, err := a.profile(ctx, tokens.AccessToken)
	return err == nil
}

type facebookPage struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	AccessToken string `json:"access_token"`
}

func (a *facebookAdapter) pages(ctx context.Context, accessToken string) ([]facebookPage, error) {
	reqURL := fmt.Sprintf("%s/v21.0/me/accounts?access_token=%s", a.graphBase, accessToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, newError(PlatformFacebook, KindNetwork, "page listing failed: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(PlatformFacebook, resp.StatusCode, string(body))
	}

	var result struct {
		Data []facebookPage `json:"data"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, newError(PlatformFacebook, KindNetwork, "decoding page listing: %v", err)
	}

	return result.Data, nil
}

// Publish posts to the first page of the connected account. Multi-page
// selection is deliberately not supported.
func (a *facebookAdapter) Publish(ctx context.Context, req *PublishRequest, tokens Tokens) *PublishResult {
	message := NormalizeContent(req.Text, req.Hashtags, a.Limits())

	pages, err := a.pages(ctx, tokens.AccessToken)
	if err != nil {
		return failure(PlatformFacebook, err)
	}
	if len(pages) == 0 {
		return failure(PlatformFacebook, newError(PlatformFacebook, KindContentRejected,
			"account has no pages to publish to"))
	}
	page := pages[0]

	params := url.Values{}
	params.Set("access_token", page.AccessToken)

	var endpoint string
	if len(req.Media) > 0 {
		// Single-call publish: the first media item rides along as a photo
		// attachment, the rest are dropped per the limits table.
		endpoint = fmt.Sprintf("%s/v21.0/%s/photos", a.graphBase, page.ID)
		params.Set("url", req.Media[0].URL)
		params.Set("caption", message)
		if alt := req.Media[0].AltText; alt != "" {
			params.Set("alt_text_custom", alt)
		}
	} else {
		endpoint = fmt.Sprintf("%s/v21.0/%s/feed", a.graphBase, page.ID)
		params.Set("message", message)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		strings.NewReader(params.Encode()))
	if err != nil {
		return failure(PlatformFacebook, err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := httpClient.Do(httpReq)
	if err != nil {
		return failure(PlatformFacebook, newError(PlatformFacebook, KindNetwork, "publish request failed: %v", err))
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return failure(PlatformFacebook, statusError(PlatformFacebook, resp.StatusCode, string(body)))
	}

	var result struct {
		ID     string `json:"id"`
		PostID string `json:"post_id"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return failure(PlatformFacebook, newError(PlatformFacebook, KindNetwork, "decoding publish response: %v", err))
	}

	externalID := result.PostID
	if externalID == "" {
		externalID = result.ID
	}
	if externalID == "" {
		return failure(PlatformFacebook, newError(PlatformFacebook, KindContentRejected,
			"no post id returned: %s", string(body)))
	}

	return &PublishResult{
		Platform:    PlatformFacebook,
		Success:     true,
		ExternalID:  externalID,
		ExternalURL: fmt.Sprintf("https://www.facebook.com/%s", externalID),
	}
}
