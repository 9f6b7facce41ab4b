package platform

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

type stubAdapter struct {
	name string
}

func (s *stubAdapter) Platform() string { return s.name }
func (s *stubAdapter) Limits() Limits   { return Limits{CharacterBudget: 100} }
func (s *stubAdapter) AuthURL(redirectURI, state string) string {
	return "https://example.com/auth"
}
func (s *stubAdapter) ExchangeCode(ctx context.Context, code, redirectURI string) (*Credentials, error) {
	return &Credentials{}, nil
}
func (s *stubAdapter) Refresh(ctx context.Context, tokens Tokens) (*Credentials, error) {
	return &Credentials{}, nil
}
func (s *stubAdapter) ValidateTokens(ctx context.Context, tokens Tokens) bool { return true }
func (s *stubAdapter) Publish(ctx context.Context, req *PublishRequest, tokens Tokens) *PublishResult {
	return &PublishResult{Platform: s.name, Success: true}
}

func TestRegistry(t *testing.T) {
	registry := NewRegistry(&stubAdapter{name: "alpha"}, &stubAdapter{name: "beta"})

	a, ok := registry.Get("alpha")
	assert.True(t, ok)
	assert.Equal(t, "alpha", a.Platform())

	_, ok = registry.Get("gamma")
	assert.False(t, ok)

	assert.ElementsMatch(t, []string{"alpha", "beta"}, registry.Platforms())
}
