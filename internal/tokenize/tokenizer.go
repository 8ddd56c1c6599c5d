// Package tokenize provides deterministic URL tokenization for
// embedding. Tokenization is pure: the same (host, path, query) input
// always yields the same token sequence.
package tokenize

import (
	"strings"
	"unicode"
)

// SentinelNumeric replaces long pure-numeric segments, which are
// almost always object ids rather than topical words.
const SentinelNumeric = "<num>"

// DefaultNumericLimit is the digit count above which a pure-numeric
// part is replaced with SentinelNumeric.
const DefaultNumericLimit = 6

// Prefixes distinguishing token origins in the shared vocabulary.
const (
	prefixHost  = "h:"
	prefixQuery = "q:"
	prefixExt   = "ext:"
)

// Tokenizer converts request URLs into lowercased token sequences.
type Tokenizer struct {
	numericLimit int
}

// Option configures the tokenizer.
type Option func(*Tokenizer)

// WithNumericLimit sets the digit count above which pure-numeric parts
// become the numeric sentinel.
func WithNumericLimit(limit int) Option {
	return func(t *Tokenizer) {
		if limit > 0 {
			t.numericLimit = limit
		}
	}
}

// New creates a tokenizer with the given options.
func New(opts ...Option) *Tokenizer {
	t := &Tokenizer{numericLimit: DefaultNumericLimit}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Tokenize returns the ordered token sequence for a URL with
// duplicates removed. The term-frequency step uses TokenizeRaw so
// repeated tokens still count.
func (t *Tokenizer) Tokenize(host, path, query string) []string {
	raw := t.TokenizeRaw(host, path, query)
	seen := make(map[string]struct{}, len(raw))
	tokens := make([]string, 0, len(raw))
	for _, tok := range raw {
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		tokens = append(tokens, tok)
	}
	return tokens
}

// TokenizeRaw returns the ordered token sequence with duplicates kept.
// Order: host token, path tokens, extension token, query-key tokens.
func (t *Tokenizer) TokenizeRaw(host, path, query string) []string {
	var tokens []string

	if host != "" {
		tokens = append(tokens, prefixHost+strings.ToLower(host))
	}

	// Strip any stray query/fragment that leaked into the path.
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}

	segments := splitNonEmpty(path, '/')
	var ext string
	if len(segments) > 0 {
		last := len(segments) - 1
		segments[last], ext = splitExtension(segments[last])
	}

	for _, segment := range segments {
		for _, part := range splitSeparators(segment) {
			for _, word := range splitCamel(part) {
				tokens = append(tokens, t.normalize(word))
			}
		}
	}

	if ext != "" {
		tokens = append(tokens, prefixExt+strings.ToLower(ext))
	}

	// Query parameter keys only; values are session/tracking noise.
	for _, pair := range splitNonEmpty(query, '&') {
		key := pair
		if i := strings.IndexByte(pair, '='); i >= 0 {
			key = pair[:i]
		}
		if key != "" {
			tokens = append(tokens, prefixQuery+strings.ToLower(key))
		}
	}

	return tokens
}

// normalize lowercases a word, replacing long pure-numeric parts with
// the sentinel.
func (t *Tokenizer) normalize(word string) string {
	if len(word) > t.numericLimit && isDigits(word) {
		return SentinelNumeric
	}
	return strings.ToLower(word)
}

// splitNonEmpty splits on a byte and drops empty elements.
func splitNonEmpty(s string, sep byte) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, string(sep))
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// splitSeparators splits a path segment on '-', '_' and '.'.
func splitSeparators(segment string) []string {
	return strings.FieldsFunc(segment, func(r rune) bool {
		return r == '-' || r == '_' || r == '.'
	})
}

// splitCamel splits on lower-to-upper case transitions:
// "camelCase" -> ["camel", "Case"].
func splitCamel(word string) []string {
	var words []string
	start := 0
	runes := []rune(word)
	for i := 1; i < len(runes); i++ {
		if unicode.IsLower(runes[i-1]) && unicode.IsUpper(runes[i]) {
			words = append(words, string(runes[start:i]))
			start = i
		}
	}
	words = append(words, string(runes[start:]))
	return words
}

// splitExtension separates a trailing file extension from the final
// path segment. An extension is 1-5 alphanumeric characters after the
// last dot, starting with a letter.
func splitExtension(segment string) (rest, ext string) {
	i := strings.LastIndexByte(segment, '.')
	if i < 0 || i == len(segment)-1 {
		return segment, ""
	}
	candidate := segment[i+1:]
	if len(candidate) > 5 || !isAlnum(candidate) || !unicode.IsLetter(rune(candidate[0])) {
		return segment, ""
	}
	return segment[:i], candidate
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

func isAlnum(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
	}
	return s != ""
}
