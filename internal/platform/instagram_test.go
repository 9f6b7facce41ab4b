package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testInstagramAdapter(graphBase string) *instagramAdapter {
	return &instagramAdapter{
		clientID:     "client",
		clientSecret: "secret",
		oauthBase:    graphBase,
		graphBase:    graphBase,
		pollAttempts: 3,
		pollBase:     time.Millisecond,
	}
}

type igServer struct {
	mu              *http.ServeMux
	childPayloads   []map[string]any
	carouselPayload map[string]any
	published       bool
}

func newIGServer(t *testing.T, failChildAfter int) (*httptest.Server, *igServer) {
	t.Helper()

	s := &igServer{mu: http.NewServeMux()}
	containerSeq := 0

	s.mu.HandleFunc("/me", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(instagramProfile{ID: "ig-user", Username: "tester", Name: "Tester"})
	})

	s.mu.HandleFunc("/v21.0/ig-user/media", func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))

		if payload["is_carousel_item"] == true {
			if failChildAfter > 0 && len(s.childPayloads) >= failChildAfter {
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte(`{"error":{"message":"bad child"}}`))
				return
			}
			s.childPayloads = append(s.childPayloads, payload)
		} else if payload["media_type"] == "CAROUSEL" {
			s.carouselPayload = payload
		}

		containerSeq++
		json.NewEncoder(w).Encode(map[string]string{"id": fmt.Sprintf("container-%d", containerSeq)})
	})

	s.mu.HandleFunc("/v21.0/ig-user/media_publish", func(w http.ResponseWriter, r *http.Request) {
		s.published = true
		json.NewEncoder(w).Encode(map[string]string{"id": "media-1"})
	})

	s.mu.HandleFunc("/v21.0/", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("fields") {
		case "status_code":
			json.NewEncoder(w).Encode(map[string]string{"status_code": "FINISHED"})
		case "permalink":
			json.NewEncoder(w).Encode(map[string]string{"permalink": "https://www.instagram.com/p/xyz/"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	return httptest.NewServer(s.mu), s
}

func TestInstagramPublishSingleImage(t *testing.T) {
	srv, state := newIGServer(t, 0)
	defer srv.Close()

	a := testInstagramAdapter(srv.URL)
	result := a.Publish(context.Background(), &PublishRequest{
		Text:  "caption here",
		Media: []Media{{URL: "https://cdn.example/1.jpg"}},
	}, Tokens{AccessToken: "token"})

	require.True(t, result.Success, "publish failed: %v", result.Err)
	assert.Equal(t, "media-1", result.ExternalID)
	assert.Equal(t, "https://www.instagram.com/p/xyz/", result.ExternalURL)
	assert.True(t, state.published)
	assert.Empty(t, state.childPayloads)
}

func TestInstagramPublishRequiresMedia(t *testing.T) {
	a := testInstagramAdapter("http://unused")
	result := a.Publish(context.Background(), &PublishRequest{Text: "no media"}, Tokens{})

	require.False(t, result.Success)
	assert.True(t, IsKind(result.Err, KindContentRejected))
}

func TestInstagramCarouselCapsChildren(t *testing.T) {
	srv, state := newIGServer(t, 0)
	defer srv.Close()

	media := make([]Media, 25)
	for i := range media {
		media[i] = Media{URL: fmt.Sprintf("https://cdn.example/%d.jpg", i)}
	}

	a := testInstagramAdapter(srv.URL)
	result := a.Publish(context.Background(), &PublishRequest{Text: "big batch", Media: media}, Tokens{AccessToken: "token"})

	require.True(t, result.Success, "publish failed: %v", result.Err)
	assert.Len(t, state.childPayloads, 20)

	require.NotNil(t, state.carouselPayload)
	children := state.carouselPayload["children"].([]any)
	assert.Len(t, children, 20)
}

func TestInstagramCarouselAbortsOnChildFailure(t *testing.T) {
	srv, state := newIGServer(t, 2)
	defer srv.Close()

	media := []Media{
		{URL: "https://cdn.example/1.jpg"},
		{URL: "https://cdn.example/2.jpg"},
		{URL: "https://cdn.example/3.jpg"},
	}

	a := testInstagramAdapter(srv.URL)
	result := a.Publish(context.Background(), &PublishRequest{Text: "caption", Media: media}, Tokens{AccessToken: "token"})

	require.False(t, result.Success)
	assert.Nil(t, state.carouselPayload, "no carousel container after a child failure")
	assert.False(t, state.published, "nothing published after a child failure")
}

func TestInstagramContainerErrorStatus(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/me", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(instagramProfile{ID: "ig-user", Username: "tester"})
	})
	mux.HandleFunc("/v21.0/ig-user/media", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"id": "container-1"})
	})
	mux.HandleFunc("/v21.0/", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status_code": "ERROR"})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	a := testInstagramAdapter(srv.URL)
	result := a.Publish(context.Background(), &PublishRequest{
		Text:  "caption",
		Media: []Media{{URL: "https://cdn.example/1.jpg"}},
	}, Tokens{AccessToken: "token"})

	require.False(t, result.Success)
	assert.True(t, IsKind(result.Err, KindContentRejected))
}

func TestInstagramRefreshRejectionIsRefreshKind(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"expired"}}`))
	}))
	defer srv.Close()

	a := testInstagramAdapter(srv.URL)
	_, err := a.Refresh(context.Background(), Tokens{RefreshToken: "stale"})

	require.Error(t, err)
	assert.True(t, IsKind(err, KindRefresh))
}

func TestInstagramRefreshServerErrorIsNetworkKind(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":{"message":"temporarily unavailable"}}`))
	}))
	defer srv.Close()

	a := testInstagramAdapter(srv.URL)
	_, err := a.Refresh(context.Background(), Tokens{RefreshToken: "still-good"})

	require.Error(t, err)
	assert.False(t, IsKind(err, KindRefresh))
	assert.True(t, IsKind(err, KindNetwork))
}
