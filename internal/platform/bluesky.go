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
	"regexp"
	"sort"
	"strings"
	"time"
)

const blueskyAppPasswordsURL = "https://bsky.app/settings/app-passwords"

// Access JWTs from createSession/refreshSession are short-lived; the
// refresh JWT is what survives between uses.
const blueskySessionTTL = 2 * time.Hour

type blueskyAdapter struct {
	pdsBase string
}

func NewBlueskyAdapter(pdsBase string) Adapter {
	return &blueskyAdapter{pdsBase: pdsBase}
}

func (a *blueskyAdapter) Platform() string { return PlatformBluesky }

func (a *blueskyAdapter) Limits() Limits { return limitsByPlatform[PlatformBluesky] }

// AuthURL points at the app-password management page; Bluesky has no
// redirect-based authorization flow.
func (a *blueskyAdapter) AuthURL(redirectURI, state string) string {
	return blueskyAppPasswordsURL
}

// ExchangeCode creates a session from "handle:app-password" credentials.
// Handles cannot contain colons, so splitting on the first one is safe.
func (a *blueskyAdapter) ExchangeCode(ctx context.Context, code, redirectURI string) (*Credentials, error) {
	identifier, password, found := strings.Cut(code, ":")
	if !found || identifier == "" || password == "" {
		return nil, newError(PlatformBluesky, KindAuthExchange, "expected handle and app password")
	}

	payload, err := json.Marshal(map[string]string{
		"identifier": identifier,
		"password":   password,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.pdsBase+"/xrpc/com.atproto.server.createSession",
		bytes.NewBuffer(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return nil, newError(PlatformBluesky, KindAuthExchange, "session creation failed: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, newError(PlatformBluesky, KindAuthExchange, "session rejected: %s", string(body))
	}

	var session struct {
		AccessJwt  string `json:"accessJwt"`
		RefreshJwt string `json:"refreshJwt"`
		Handle     string `json:"handle"`
		Did        string `json:"did"`
	}
	if err := json.Unmarshal(body, &session); err != nil {
		return nil, newError(PlatformBluesky, KindAuthExchange, "decoding session: %v", err)
	}

	displayName := session.Handle
	if profile, err := a.profile(ctx, session.AccessJwt, session.Did); err == nil && profile.DisplayName != "" {
		displayName = profile.DisplayName
	}

	return &Credentials{
		AccessToken:     session.AccessJwt,
		RefreshToken:    session.RefreshJwt,
		TokenExpiresAt:  time.Now().Add(blueskySessionTTL),
		AccountID:       session.Did,
		AccountName:     displayName,
		AccountUsername: session.Handle,
	}, nil
}

type blueskyProfile struct {
	DisplayName string `json:"displayName"`
	Handle      string `json:"handle"`
}

func (a *blueskyAdapter) profile(ctx context.Context, accessJwt, actor string) (*blueskyProfile, error) {
	reqURL := fmt.Sprintf("%s/xrpc/app.bsky.actor.getProfile?actor=%s", a.pdsBase, url.QueryEscape(actor))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessJwt)

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(PlatformBluesky, resp.StatusCode, string(body))
	}

	var profile blueskyProfile
	if err := json.Unmarshal(body, &profile); err != nil {
		return nil, err
	}

	return &profile, nil
}

func (a *blueskyAdapter) Refresh(ctx context.Context, tokens Tokens) (*Credentials, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.pdsBase+"/xrpc/com.atproto.server.refreshSession", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+tokens.RefreshToken)

	resp, err := httpClient.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return nil, newError(PlatformBluesky, KindNetwork, "session refresh failed: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, refreshStatusError(PlatformBluesky, resp.StatusCode, string(body))
	}

	var session struct {
		AccessJwt  string `json:"accessJwt"`
		RefreshJwt string `json:"refreshJwt"`
	}
	if err := json.Unmarshal(body, &session); err != nil {
		return nil, newError(PlatformBluesky, KindNetwork, "decoding refreshed session: %v", err)
	}

	return &Credentials{
		AccessToken:    session.AccessJwt,
		RefreshToken:   session.RefreshJwt,
		TokenExpiresAt: time.Now().Add(blueskySessionTTL),
	}, nil
}

func (a *blueskyAdapter) ValidateTokens(ctx context.Context, tokens Tokens) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		a.pdsBase+"/xrpc/com.atproto.server.getSession", nil)
	if err != nil {
		return false
	}
	req.Header.Set("Authorization", "Bearer "+tokens.AccessToken)

	resp, err := httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}

type blueskyFacet struct {
	Index    blueskyByteSlice      `json:"index"`
	Features []blueskyFacetFeature `json:"features"`
}

type blueskyByteSlice struct {
	ByteStart int `json:"byteStart"`
	ByteEnd   int `json:"byteEnd"`
}

type blueskyFacetFeature struct {
	Type string `json:"$type"`
	URI  string `json:"uri,omitempty"`
	Tag  string `json:"tag,omitempty"`
}

var (
	blueskyURLPattern = regexp.MustCompile(`https?://[^\s]+`)
	blueskyTagPattern = regexp.MustCompile(`#[\p{L}\p{N}_]+`)
)

// computeFacets scans the final text for links and hashtags and records
// their spans as UTF-8 byte offsets. Go regexp indices are already byte
// offsets, which is exactly what the protocol requires; multi-byte
// characters before a match must shift the offsets accordingly.
func computeFacets(text string) []blueskyFacet {
	var facets []blueskyFacet

	links := blueskyURLPattern.FindAllStringIndex(text, -1)
	for _, loc := range links {
		facets = append(facets, blueskyFacet{
			Index: blueskyByteSlice{ByteStart: loc[0], ByteEnd: loc[1]},
			Features: []blueskyFacetFeature{{
				Type: "app.bsky.richtext.facet#link",
				URI:  text[loc[0]:loc[1]],
			}},
		})
	}

	for _, loc := range blueskyTagPattern.FindAllStringIndex(text, -1) {
		// A '#' inside a URL is part of the link, not a tag.
		if overlapsAny(loc, links) {
			continue
		}
		facets = append(facets, blueskyFacet{
			Index: blueskyByteSlice{ByteStart: loc[0], ByteEnd: loc[1]},
			Features: []blueskyFacetFeature{{
				Type: "app.bsky.richtext.facet#tag",
				Tag:  strings.TrimPrefix(text[loc[0]:loc[1]], "#"),
			}},
		})
	}

	sort.Slice(facets, func(i, j int) bool {
		return facets[i].Index.ByteStart < facets[j].Index.ByteStart
	})

	return facets
}

func overlapsAny(loc []int, spans [][]int) bool {
	for _, span := range spans {
		if loc[0] < span[1] && loc[1] > span[0] {
			return true
		}
	}
	return false
}

func (a *blueskyAdapter) Publish(ctx context.Context, req *PublishRequest, tokens Tokens) *PublishResult {
	limits := a.Limits()
	text := NormalizeContent(req.Text, req.Hashtags, limits)

	record := map[string]any{
		"$type":     "app.bsky.feed.post",
		"text":      text,
		"createdAt": time.Now().UTC().Format(time.RFC3339),
	}

	if facets := computeFacets(text); len(facets) > 0 {
		record["facets"] = facets
	}

	media := req.Media
	if len(media) > limits.MaxMedia {
		media = media[:limits.MaxMedia]
	}
	if len(media) > 0 {
		images := make([]map[string]any, 0, len(media))
		for _, m := range media {
			blob, err := a.uploadBlob(ctx, tokens.AccessToken, m.URL)
			if err != nil {
				return failure(PlatformBluesky, err)
			}
			images = append(images, map[string]any{
				"image": blob,
				"alt":   m.AltText,
			})
		}
		record["embed"] = map[string]any{
			"$type":  "app.bsky.embed.images",
			"images": images,
		}
	}

	payload, err := json.Marshal(map[string]any{
		"repo":       tokens.AccountID,
		"collection": "app.bsky.feed.post",
		"record":     record,
	})
	if err != nil {
		return failure(PlatformBluesky, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.pdsBase+"/xrpc/com.atproto.repo.createRecord",
		bytes.NewBuffer(payload))
	if err != nil {
		return failure(PlatformBluesky, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+tokens.AccessToken)

	resp, err := httpClient.Do(httpReq)
	if err != nil {
		return failure(PlatformBluesky, newError(PlatformBluesky, KindNetwork, "createRecord failed: %v", err))
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return failure(PlatformBluesky, statusError(PlatformBluesky, resp.StatusCode, string(body)))
	}

	var result struct {
		URI string `json:"uri"`
		Cid string `json:"cid"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return failure(PlatformBluesky, newError(PlatformBluesky, KindNetwork, "decoding createRecord response: %v", err))
	}

	// at://did:plc:xxx/app.bsky.feed.post/<rkey>
	rkey := result.URI
	if i := strings.LastIndex(result.URI, "/"); i >= 0 {
		rkey = result.URI[i+1:]
	}

	return &PublishResult{
		Platform:    PlatformBluesky,
		Success:     true,
		ExternalID:  result.URI,
		ExternalURL: fmt.Sprintf("https://bsky.app/profile/%s/post/%s", tokens.AccountUsername, rkey),
	}
}

// uploadBlob downloads the media asset and re-uploads it to the PDS,
// returning the blob reference to embed in the record.
func (a *blueskyAdapter) uploadBlob(ctx context.Context, accessJwt, mediaURL string) (json.RawMessage, error) {
	data, contentType, err := fetchMedia(ctx, mediaURL)
	if err != nil {
		return nil, newError(PlatformBluesky, KindNetwork, "fetching media: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.pdsBase+"/xrpc/com.atproto.repo.uploadBlob",
		bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+accessJwt)

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, newError(PlatformBluesky, KindNetwork, "blob upload failed: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(PlatformBluesky, resp.StatusCode, string(body))
	}

	var result struct {
		Blob json.RawMessage `json:"blob"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, newError(PlatformBluesky, KindNetwork, "decoding blob response: %v", err)
	}

	return result.Blob, nil
}
