package platform

import (
	"strings"
)

const ellipsis = "..."

// NormalizeContent applies a platform's limits to raw text and hashtags.
// Text over the character budget is truncated with the last three
// characters reserved for an ellipsis marker. Hashtags are appended after
// a blank line only when the entire joined list fits inside the remaining
// budget; they are never partially appended.
func NormalizeContent(text string, hashtags []string, limits Limits) string {
	runes := []rune(text)

	if len(runes) > limits.CharacterBudget {
		cut := limits.CharacterBudget - len(ellipsis)
		if cut < 0 {
			cut = 0
		}
		return string(runes[:cut]) + ellipsis
	}

	if len(hashtags) == 0 {
		return text
	}

	tags := hashtags
	if limits.MaxHashtags > 0 && len(tags) > limits.MaxHashtags {
		tags = tags[:limits.MaxHashtags]
	}

	joined := strings.Join(tags, " ")
	if len(runes)+2+len([]rune(joined)) <= limits.CharacterBudget {
		return text + "\n\n" + joined
	}

	return text
}
