package tokenize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("default numeric limit", func(t *testing.T) {
		tok := New()
		assert.Equal(t, DefaultNumericLimit, tok.numericLimit)
	})

	t.Run("custom numeric limit", func(t *testing.T) {
		tok := New(WithNumericLimit(4))
		assert.Equal(t, 4, tok.numericLimit)
	})

	t.Run("non-positive limit ignored", func(t *testing.T) {
		tok := New(WithNumericLimit(0))
		assert.Equal(t, DefaultNumericLimit, tok.numericLimit)
	})
}

func TestTokenizeRaw_PathRules(t *testing.T) {
	tok := New()

	t.Run("splits on slashes and separators", func(t *testing.T) {
		tokens := tok.TokenizeRaw("", "/blog/home-buying-guide", "")
		assert.Equal(t, []string{"blog", "home", "buying", "guide"}, tokens)
	})

	t.Run("drops empty segments", func(t *testing.T) {
		tokens := tok.TokenizeRaw("", "//mortgage///calculator/", "")
		assert.Equal(t, []string{"mortgage", "calculator"}, tokens)
	})

	t.Run("splits camelCase", func(t *testing.T) {
		tokens := tok.TokenizeRaw("", "/docs/camelCase", "")
		assert.Equal(t, []string{"docs", "camel", "case"}, tokens)
	})

	t.Run("replaces long numeric ids with sentinel", func(t *testing.T) {
		tokens := tok.TokenizeRaw("", "/orders/1234567/items", "")
		assert.Equal(t, []string{"orders", SentinelNumeric, "items"}, tokens)
	})

	t.Run("keeps short numbers", func(t *testing.T) {
		tokens := tok.TokenizeRaw("", "/api/v2/page/42", "")
		assert.Equal(t, []string{"api", "v2", "page", "42"}, tokens)
	})

	t.Run("extracts file extension as prefixed token", func(t *testing.T) {
		tokens := tok.TokenizeRaw("", "/docs/guide.html", "")
		assert.Equal(t, []string{"docs", "guide", "ext:html"}, tokens)
	})

	t.Run("dotted segment without extension stays split", func(t *testing.T) {
		tokens := tok.TokenizeRaw("", "/docs/api.v2.json", "")
		assert.Equal(t, []string{"docs", "api", "v2", "ext:json"}, tokens)
	})

	t.Run("lowercases everything", func(t *testing.T) {
		tokens := tok.TokenizeRaw("", "/Blog/GUIDE", "")
		assert.Equal(t, []string{"blog", "guide"}, tokens)
	})
}

func TestTokenizeRaw_HostAndQuery(t *testing.T) {
	tok := New()

	t.Run("host token is prefixed", func(t *testing.T) {
		tokens := tok.TokenizeRaw("Example.COM", "/a", "")
		assert.Equal(t, []string{"h:example.com", "a"}, tokens)
	})

	t.Run("query keys only, values dropped", func(t *testing.T) {
		tokens := tok.TokenizeRaw("", "/search", "q=secret+terms&utm_source=chat")
		assert.Equal(t, []string{"search", "q:q", "q:utm_source"}, tokens)
	})

	t.Run("query leaked into path is ignored", func(t *testing.T) {
		tokens := tok.TokenizeRaw("", "/a/b?tracking=1", "")
		assert.Equal(t, []string{"a", "b"}, tokens)
	})
}

func TestTokenize_Dedup(t *testing.T) {
	tok := New()

	raw := tok.TokenizeRaw("", "/news/news/news", "")
	assert.Equal(t, []string{"news", "news", "news"}, raw)

	deduped := tok.Tokenize("", "/news/news/news", "")
	assert.Equal(t, []string{"news"}, deduped)
}

func TestTokenize_Deterministic(t *testing.T) {
	tok := New()

	first := tok.TokenizeRaw("www.example.com", "/api/weather/forecast-daily.json", "units=metric")
	second := tok.TokenizeRaw("www.example.com", "/api/weather/forecast-daily.json", "units=metric")
	require.Equal(t, first, second)

	// The deduplicated form is deterministic too.
	assert.Equal(t, tok.Tokenize("", "/a/b", ""), tok.Tokenize("", "/a/b", ""))
}

func TestTokenizeRaw_Empty(t *testing.T) {
	tok := New()
	assert.Empty(t, tok.TokenizeRaw("", "", ""))
	assert.Empty(t, tok.TokenizeRaw("", "/", ""))
}
