package domain

import "strings"

// Provider identifies the LLM operator behind a bot user agent.
// The engine treats it as an opaque partitioning key except for
// equality and the exclusion set.
type Provider string

// Known providers.
const (
	ProviderOpenAI     Provider = "OpenAI"
	ProviderAnthropic  Provider = "Anthropic"
	ProviderPerplexity Provider = "Perplexity"
	ProviderGoogle     Provider = "Google"
	ProviderMicrosoft  Provider = "Microsoft"
	ProviderApple      Provider = "Apple"
	ProviderUnknown    Provider = "Unknown"
)

// String returns the string representation.
func (p Provider) String() string {
	return string(p)
}

// BotCategory classifies what a bot request is for.
type BotCategory string

// Available bot categories.
const (
	// CategoryUserRequest is a fetch made on behalf of a live user query.
	// Only these requests form query fan-out sessions.
	CategoryUserRequest BotCategory = "user_request"

	// CategoryCrawler is training or search-index crawling traffic.
	CategoryCrawler BotCategory = "crawler"

	// CategoryOther is anything that cannot be classified.
	CategoryOther BotCategory = "other"
)

// botSignature binds a user-agent substring to its classification.
type botSignature struct {
	pattern  string
	provider Provider
	category BotCategory
}

// botSignatures lists bot name patterns with their provider and
// category. The first matching pattern wins, so more specific patterns
// must precede shorter ones. bingbot is a regular search crawler, not
// Copilot user traffic, and is excluded from fan-out analysis by the
// default provider exclusion set.
var botSignatures = []botSignature{
	// OpenAI
	{"GPTBot", ProviderOpenAI, CategoryCrawler},
	{"ChatGPT-User", ProviderOpenAI, CategoryUserRequest},
	{"OAI-SearchBot", ProviderOpenAI, CategoryUserRequest},
	// Anthropic
	{"ClaudeBot", ProviderAnthropic, CategoryCrawler},
	{"Claude-User", ProviderAnthropic, CategoryUserRequest},
	{"Claude-SearchBot", ProviderAnthropic, CategoryUserRequest},
	// Google
	{"Google-Extended", ProviderGoogle, CategoryCrawler},
	// Perplexity
	{"PerplexityBot", ProviderPerplexity, CategoryUserRequest},
	// Apple
	{"Applebot-Extended", ProviderApple, CategoryCrawler},
	// Microsoft
	{"bingbot", ProviderMicrosoft, CategoryCrawler},
}

// ClassifyUserAgent derives (provider, category) from a raw user-agent
// string. The first matching signature wins; unrecognised agents
// classify as (Unknown, other).
func ClassifyUserAgent(userAgent string) (Provider, BotCategory) {
	for _, sig := range botSignatures {
		if strings.Contains(userAgent, sig.pattern) {
			return sig.provider, sig.category
		}
	}
	return ProviderUnknown, CategoryOther
}

// KnownBotNames returns the bot name patterns the classifier
// recognises, in match order.
func KnownBotNames() []string {
	names := make([]string, 0, len(botSignatures))
	for _, sig := range botSignatures {
		names = append(names, sig.pattern)
	}
	return names
}
