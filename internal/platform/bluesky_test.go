package platform

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeFacetsByteOffsets(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []blueskyFacet
	}{
		{
			name: "no features",
			text: "plain text only",
			want: nil,
		},
		{
			name: "link at ascii offsets",
			text: "see https://example.com now",
			want: []blueskyFacet{{
				Index:    blueskyByteSlice{ByteStart: 4, ByteEnd: 23},
				Features: []blueskyFacetFeature{{Type: "app.bsky.richtext.facet#link", URI: "https://example.com"}},
			}},
		},
		{
			// "héllo " is 7 bytes but 6 characters; offsets must count bytes.
			name: "multibyte prefix shifts offsets",
			text: "héllo #tag",
			want: []blueskyFacet{{
				Index:    blueskyByteSlice{ByteStart: 7, ByteEnd: 11},
				Features: []blueskyFacetFeature{{Type: "app.bsky.richtext.facet#tag", Tag: "tag"}},
			}},
		},
		{
			name: "unicode hashtag",
			text: "post #日本語 done",
			want: []blueskyFacet{{
				Index:    blueskyByteSlice{ByteStart: 5, ByteEnd: 15},
				Features: []blueskyFacetFeature{{Type: "app.bsky.richtext.facet#tag", Tag: "日本語"}},
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, computeFacets(tt.text))
		})
	}
}

func TestComputeFacetsLinkAndTags(t *testing.T) {
	facets := computeFacets("read https://a.example #one #two")
	require.Len(t, facets, 3)
	assert.Equal(t, "https://a.example", facets[0].Features[0].URI)
	assert.Equal(t, "one", facets[1].Features[0].Tag)
	assert.Equal(t, "two", facets[2].Features[0].Tag)
}

func TestComputeFacetsSkipsTagsInsideLinks(t *testing.T) {
	facets := computeFacets("see https://example.com/a#frag now")
	require.Len(t, facets, 1)
	assert.Equal(t, "app.bsky.richtext.facet#link", facets[0].Features[0].Type)
	assert.Equal(t, "https://example.com/a#frag", facets[0].Features[0].URI)
}

func TestComputeFacetsInSpanOrder(t *testing.T) {
	facets := computeFacets("#first then https://a.example")
	require.Len(t, facets, 2)
	assert.Equal(t, "first", facets[0].Features[0].Tag)
	assert.Equal(t, "https://a.example", facets[1].Features[0].URI)
	assert.Less(t, facets[0].Index.ByteStart, facets[1].Index.ByteStart)
}

func TestBlueskyExchangeCodeRejectsMalformedCredentials(t *testing.T) {
	a := &blueskyAdapter{pdsBase: "http://unused"}

	_, err := a.ExchangeCode(context.Background(), "no-separator", "")
	require.Error(t, err)
	assert.True(t, IsKind(err, KindAuthExchange))

	_, err = a.ExchangeCode(context.Background(), ":passwordonly", "")
	require.Error(t, err)
	assert.True(t, IsKind(err, KindAuthExchange))
}

func TestBlueskyPublishTextPost(t *testing.T) {
	var captured struct {
		Repo       string `json:"repo"`
		Collection string `json:"collection"`
		Record     struct {
			Type   string         `json:"$type"`
			Text   string         `json:"text"`
			Facets []blueskyFacet `json:"facets"`
		} `json:"record"`
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/xrpc/com.atproto.repo.createRecord", r.URL.Path)
		require.Equal(t, "Bearer access-jwt", r.Header.Get("Authorization"))

		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &captured))

		json.NewEncoder(w).Encode(map[string]string{
			"uri": "at://did:plc:abc/app.bsky.feed.post/3kxyz",
			"cid": "bafy123",
		})
	}))
	defer srv.Close()

	a := &blueskyAdapter{pdsBase: srv.URL}
	result := a.Publish(context.Background(), &PublishRequest{
		Text:     "hello https://example.com",
		Hashtags: []string{"#go"},
	}, Tokens{
		AccessToken:     "access-jwt",
		AccountID:       "did:plc:abc",
		AccountUsername: "alice.bsky.social",
	})

	require.True(t, result.Success)
	assert.Equal(t, "at://did:plc:abc/app.bsky.feed.post/3kxyz", result.ExternalID)
	assert.Equal(t, "https://bsky.app/profile/alice.bsky.social/post/3kxyz", result.ExternalURL)

	assert.Equal(t, "did:plc:abc", captured.Repo)
	assert.Equal(t, "app.bsky.feed.post", captured.Collection)
	assert.Equal(t, "hello https://example.com\n\n#go", captured.Record.Text)
	require.Len(t, captured.Record.Facets, 2)
}

func TestBlueskyPublishSurfacesRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"InvalidRequest"}`))
	}))
	defer srv.Close()

	a := &blueskyAdapter{pdsBase: srv.URL}
	result := a.Publish(context.Background(), &PublishRequest{Text: "hi"}, Tokens{AccountID: "did:plc:abc"})

	require.False(t, result.Success)
	assert.True(t, IsKind(result.Err, KindContentRejected))
	assert.Contains(t, result.ErrorMessage(), "InvalidRequest")
}

func TestBlueskyRefreshUsesRefreshToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/xrpc/com.atproto.server.refreshSession", r.URL.Path)
		require.Equal(t, "Bearer refresh-jwt", r.Header.Get("Authorization"))

		json.NewEncoder(w).Encode(map[string]string{
			"accessJwt":  "new-access",
			"refreshJwt": "new-refresh",
		})
	}))
	defer srv.Close()

	a := &blueskyAdapter{pdsBase: srv.URL}
	creds, err := a.Refresh(context.Background(), Tokens{RefreshToken: "refresh-jwt"})

	require.NoError(t, err)
	assert.Equal(t, "new-access", creds.AccessToken)
	assert.Equal(t, "new-refresh", creds.RefreshToken)
	assert.False(t, creds.TokenExpiresAt.IsZero())
}

func TestBlueskyRefreshRejectionIsRefreshKind(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"ExpiredToken"}`))
	}))
	defer srv.Close()

	a := &blueskyAdapter{pdsBase: srv.URL}
	_, err := a.Refresh(context.Background(), Tokens{RefreshToken: "stale"})

	require.Error(t, err)
	assert.True(t, IsKind(err, KindRefresh))
}

func TestBlueskyRefreshTransientFailureIsNetworkKind(t *testing.T) {
	// Nothing listens here; the request dies at the transport layer.
	a := &blueskyAdapter{pdsBase: "http://127.0.0.1:1"}
	_, err := a.Refresh(context.Background(), Tokens{RefreshToken: "refresh-jwt"})

	require.Error(t, err)
	assert.False(t, IsKind(err, KindRefresh))
	assert.True(t, IsKind(err, KindNetwork))
}

func TestBlueskyRefreshServerErrorIsNetworkKind(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`upstream unavailable`))
	}))
	defer srv.Close()

	a := &blueskyAdapter{pdsBase: srv.URL}
	_, err := a.Refresh(context.Background(), Tokens{RefreshToken: "refresh-jwt"})

	require.Error(t, err)
	assert.False(t, IsKind(err, KindRefresh))
	assert.True(t, IsKind(err, KindNetwork))
}
