package platform

// Limits holds the per-platform content constraints consulted by the
// normalization step. Character budgets are in characters, not bytes.
type Limits struct {
	CharacterBudget        int
	MaxHashtags            int
	MaxMedia               int
	SupportsContentWarning bool
	RequiresMedia          bool
	Notes                  string
}

var limitsByPlatform = map[string]Limits{
	PlatformBluesky: {
		CharacterBudget: 300,
		MaxHashtags:     3,
		MaxMedia:        4,
		Notes:           "links and tags must be sent as byte-offset facets",
	},
	PlatformMastodon: {
		CharacterBudget:        500,
		MaxHashtags:            5,
		MaxMedia:               4,
		SupportsContentWarning: true,
		Notes:                  "content warning maps to spoiler_text",
	},
	PlatformInstagram: {
		CharacterBudget: 2200,
		MaxHashtags:     30,
		MaxMedia:        20,
		RequiresMedia:   true,
		Notes:           "container-based publish; carousels capped at 20 children",
	},
	PlatformFacebook: {
		CharacterBudget: 5000,
		MaxHashtags:     30,
		MaxMedia:        1,
		Notes:           "publishes to the first page of the connected account",
	},
}

// LimitsFor returns the limits table entry for a platform tag.
func LimitsFor(platformName string) (Limits, bool) {
	l, ok := limitsByPlatform[platformName]
	return l, ok
}
