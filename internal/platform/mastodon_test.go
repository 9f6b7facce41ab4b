package platform

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMastodonPublishMapsContentWarning(t *testing.T) {
	var form map[string][]string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/statuses", r.URL.Path)
		require.Equal(t, "Bearer token", r.Header.Get("Authorization"))
		require.NoError(t, r.ParseForm())
		form = r.PostForm

		json.NewEncoder(w).Encode(map[string]string{
			"id":  "status-1",
			"url": "https://mastodon.example/@tester/status-1",
		})
	}))
	defer srv.Close()

	a := NewMastodonAdapter(srv.URL, "id", "secret")
	result := a.Publish(context.Background(), &PublishRequest{
		Text:           "long post body",
		Hashtags:       []string{"#go"},
		ContentWarning: "politics",
	}, Tokens{AccessToken: "token"})

	require.True(t, result.Success, "publish failed: %v", result.Err)
	assert.Equal(t, "status-1", result.ExternalID)
	assert.Equal(t, "https://mastodon.example/@tester/status-1", result.ExternalURL)

	assert.Equal(t, []string{"long post body\n\n#go"}, form["status"])
	assert.Equal(t, []string{"politics"}, form["spoiler_text"])
}

func TestMastodonPublishOmitsEmptyContentWarning(t *testing.T) {
	var form map[string][]string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		form = r.PostForm
		json.NewEncoder(w).Encode(map[string]string{"id": "status-2", "url": "https://mastodon.example/2"})
	}))
	defer srv.Close()

	a := NewMastodonAdapter(srv.URL, "id", "secret")
	result := a.Publish(context.Background(), &PublishRequest{Text: "hello"}, Tokens{AccessToken: "token"})

	require.True(t, result.Success)
	_, present := form["spoiler_text"]
	assert.False(t, present)
}

func TestMastodonRefreshExtendsExpiry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/accounts/verify_credentials", r.URL.Path)
		json.NewEncoder(w).Encode(mastodonAccount{ID: "1", Username: "tester"})
	}))
	defer srv.Close()

	a := NewMastodonAdapter(srv.URL, "id", "secret")
	creds, err := a.Refresh(context.Background(), Tokens{AccessToken: "token"})

	require.NoError(t, err)
	assert.Equal(t, "token", creds.AccessToken)
	assert.False(t, creds.TokenExpiresAt.IsZero())
}

func TestMastodonRefreshInvalidTokenIsRefreshKind(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"The access token is invalid"}`))
	}))
	defer srv.Close()

	a := NewMastodonAdapter(srv.URL, "id", "secret")
	_, err := a.Refresh(context.Background(), Tokens{AccessToken: "revoked"})

	require.Error(t, err)
	assert.True(t, IsKind(err, KindRefresh))
}

func TestMastodonRefreshServerErrorIsNetworkKind(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"instance is overloaded"}`))
	}))
	defer srv.Close()

	a := NewMastodonAdapter(srv.URL, "id", "secret")
	_, err := a.Refresh(context.Background(), Tokens{AccessToken: "still-good"})

	require.Error(t, err)
	assert.False(t, IsKind(err, KindRefresh))
	assert.True(t, IsKind(err, KindNetwork))
}

func TestMastodonRefreshTransientFailureIsNetworkKind(t *testing.T) {
	// Nothing listens here; the probe dies at the transport layer.
	a := NewMastodonAdapter("http://127.0.0.1:1", "id", "secret")
	_, err := a.Refresh(context.Background(), Tokens{AccessToken: "still-good"})

	require.Error(t, err)
	assert.False(t, IsKind(err, KindRefresh))
	assert.True(t, IsKind(err, KindNetwork))
}
