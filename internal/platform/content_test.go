package platform

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeContent(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		hashtags []string
		limits   Limits
		want     string
	}{
		{
			name:   "short text unchanged",
			text:   "hello world",
			limits: Limits{CharacterBudget: 300},
			want:   "hello world",
		},
		{
			name:   "over budget truncated with ellipsis",
			text:   strings.Repeat("a", 320),
			limits: Limits{CharacterBudget: 280},
			want:   strings.Repeat("a", 277) + "...",
		},
		{
			name:     "truncation drops hashtags entirely",
			text:     strings.Repeat("a", 320),
			hashtags: []string{"#go", "#news"},
			limits:   Limits{CharacterBudget: 280, MaxHashtags: 5},
			want:     strings.Repeat("a", 277) + "...",
		},
		{
			name:     "hashtags appended after blank line",
			text:     "hello",
			hashtags: []string{"#go", "#release"},
			limits:   Limits{CharacterBudget: 300, MaxHashtags: 5},
			want:     "hello\n\n#go #release",
		},
		{
			name:     "hashtags omitted when joined list does not fit",
			text:     strings.Repeat("a", 295),
			hashtags: []string{"#go", "#release"},
			limits:   Limits{CharacterBudget: 300, MaxHashtags: 5},
			want:     strings.Repeat("a", 295),
		},
		{
			name:     "hashtag count capped",
			text:     "hi",
			hashtags: []string{"#a", "#b", "#c", "#d", "#e"},
			limits:   Limits{CharacterBudget: 300, MaxHashtags: 3},
			want:     "hi\n\n#a #b #c",
		},
		{
			name:     "joined list exactly fills the budget",
			text:     "hey",
			hashtags: []string{"#ab"},
			limits:   Limits{CharacterBudget: 8, MaxHashtags: 3},
			want:     "hey\n\n#ab",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeContent(tt.text, tt.hashtags, tt.limits)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeContentMultibyte(t *testing.T) {
	// Budget is in characters; four-byte runes still count as one each.
	text := strings.Repeat("語", 10)
	got := NormalizeContent(text, nil, Limits{CharacterBudget: 8})
	assert.Equal(t, strings.Repeat("語", 5)+"...", got)
}

func TestLimitsFor(t *testing.T) {
	limits, ok := LimitsFor(PlatformBluesky)
	assert.True(t, ok)
	assert.Equal(t, 300, limits.CharacterBudget)

	_, ok = LimitsFor("myspace")
	assert.False(t, ok)
}
