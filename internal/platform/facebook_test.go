package platform

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFacebookTestServer(t *testing.T, pages []facebookPage, onPublish func(r *http.Request)) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/v21.0/me/accounts", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"data": pages})
	})
	mux.HandleFunc("/v21.0/page-1/feed", func(w http.ResponseWriter, r *http.Request) {
		onPublish(r)
		json.NewEncoder(w).Encode(map[string]string{"id": "page-1_post-9"})
	})
	mux.HandleFunc("/v21.0/page-1/photos", func(w http.ResponseWriter, r *http.Request) {
		onPublish(r)
		json.NewEncoder(w).Encode(map[string]string{"id": "photo-3", "post_id": "page-1_post-3"})
	})

	return httptest.NewServer(mux)
}

func TestFacebookPublishTextToFirstPage(t *testing.T) {
	var form map[string][]string
	pages := []facebookPage{
		{ID: "page-1", Name: "First", AccessToken: "page-token"},
		{ID: "page-2", Name: "Second", AccessToken: "other-token"},
	}

	srv := newFacebookTestServer(t, pages, func(r *http.Request) {
		require.NoError(t, r.ParseForm())
		form = r.PostForm
	})
	defer srv.Close()

	a := &facebookAdapter{appID: "app", appSecret: "secret", graphBase: srv.URL}
	result := a.Publish(context.Background(), &PublishRequest{Text: "page update"}, Tokens{AccessToken: "user-token"})

	require.True(t, result.Success, "publish failed: %v", result.Err)
	assert.Equal(t, "page-1_post-9", result.ExternalID)
	assert.Equal(t, "https://www.facebook.com/page-1_post-9", result.ExternalURL)

	// The page's own token signs the publish, not the user token.
	assert.Equal(t, []string{"page-token"}, form["access_token"])
	assert.Equal(t, []string{"page update"}, form["message"])
}

func TestFacebookPublishPhotoAttachment(t *testing.T) {
	var form map[string][]string
	pages := []facebookPage{{ID: "page-1", AccessToken: "page-token"}}

	srv := newFacebookTestServer(t, pages, func(r *http.Request) {
		require.Equal(t, "/v21.0/page-1/photos", r.URL.Path)
		require.NoError(t, r.ParseForm())
		form = r.PostForm
	})
	defer srv.Close()

	a := &facebookAdapter{appID: "app", appSecret: "secret", graphBase: srv.URL}
	result := a.Publish(context.Background(), &PublishRequest{
		Text:  "look at this",
		Media: []Media{{URL: "https://cdn.example/pic.jpg", AltText: "a picture"}},
	}, Tokens{AccessToken: "user-token"})

	require.True(t, result.Success, "publish failed: %v", result.Err)
	assert.Equal(t, "page-1_post-3", result.ExternalID)
	assert.Equal(t, []string{"https://cdn.example/pic.jpg"}, form["url"])
	assert.Equal(t, []string{"a picture"}, form["alt_text_custom"])
}

func TestFacebookPublishNoPages(t *testing.T) {
	srv := newFacebookTestServer(t, nil, func(r *http.Request) {})
	defer srv.Close()

	a := &facebookAdapter{appID: "app", appSecret: "secret", graphBase: srv.URL}
	result := a.Publish(context.Background(), &PublishRequest{Text: "orphan"}, Tokens{AccessToken: "user-token"})

	require.False(t, result.Success)
	assert.True(t, IsKind(result.Err, KindContentRejected))
}

func TestFacebookTokenRequestDefaultsExpiry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"access_token": "long-lived"})
	}))
	defer srv.Close()

	a := &facebookAdapter{appID: "app", appSecret: "secret", graphBase: srv.URL}
	token, expiresAt, err := a.exchangeLongLived(context.Background(), "short", KindRefresh)

	require.NoError(t, err)
	assert.Equal(t, "long-lived", token)

	// No expires_in in the response falls back to the documented sixty days.
	assert.WithinDuration(t, time.Now().Add(60*24*time.Hour), expiresAt, time.Minute)
}

func TestFacebookRefreshRejectionIsRefreshKind(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"token expired"}}`))
	}))
	defer srv.Close()

	a := &facebookAdapter{appID: "app", appSecret: "secret", graphBase: srv.URL}
	_, err := a.Refresh(context.Background(), Tokens{RefreshToken: "stale"})

	require.Error(t, err)
	assert.True(t, IsKind(err, KindRefresh))
}

func TestFacebookRefreshServerErrorIsNetworkKind(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":{"message":"try again later"}}`))
	}))
	defer srv.Close()

	a := &facebookAdapter{appID: "app", appSecret: "secret", graphBase: srv.URL}
	_, err := a.Refresh(context.Background(), Tokens{RefreshToken: "still-good"})

	require.Error(t, err)
	assert.False(t, IsKind(err, KindRefresh))
	assert.True(t, IsKind(err, KindNetwork))
}
