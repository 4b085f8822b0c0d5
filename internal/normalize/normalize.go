// Package normalize canonicalizes raw entity names for comparison.
//
// Two variants exist: Normalize is the comparable form used for exact
// alias lookups, and Simplify additionally strips trailing corporate and
// administrative suffix words for fuzzy/keyword comparisons. Exact
// lookups stay suffix-sensitive so that e.g. "st vincents hospital" and
// "st vincents health" never collapse into one key.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// suffixWords lists trailing corporate/administrative words stripped by
// Simplify. Multi-word suffixes are handled by stripping repeatedly
// ("pty ltd" falls out as "ltd" then "pty").
var suffixWords = map[string]bool{
	"pty":      true,
	"ltd":      true,
	"inc":      true,
	"limited":  true,
	"hospital": true,
	"health":   true,
	"medical":  true,
	"centre":   true,
	"center":   true,
}

// deaccent decomposes runes and drops combining marks so that accented
// names compare equal to their plain-ASCII spellings.
var deaccent = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Normalize canonicalizes a raw name: folds diacritics, lowercases,
// keeps only [a-z0-9] and spaces (hyphens and slashes become spaces,
// everything else is dropped), collapses whitespace, and trims.
// Idempotent: Normalize(Normalize(x)) == Normalize(x).
func Normalize(raw string) string {
	if folded, _, err := transform.String(deaccent, raw); err == nil {
		raw = folded
	}
	raw = strings.ToLower(raw)

	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '\t', r == '\n', r == '-', r == '/':
			b.WriteByte(' ')
		}
	}

	return strings.Join(strings.Fields(b.String()), " ")
}

// Simplify returns the normalized form with trailing suffix words
// removed, for fuzzy and token-overlap comparisons. At least one word is
// always kept, so a name consisting only of suffix words (e.g. "Medical
// Centre") simplifies to itself rather than the empty string.
func Simplify(raw string) string {
	words := strings.Fields(Normalize(raw))
	for len(words) > 1 && suffixWords[words[len(words)-1]] {
		words = words[:len(words)-1]
	}
	return strings.Join(words, " ")
}

// Tokens returns the significant words of the simplified form: words
// longer than 3 characters, deduplicated, order not meaningful.
func Tokens(raw string) map[string]bool {
	tokens := make(map[string]bool)
	for _, w := range strings.Fields(Simplify(raw)) {
		if len(w) > 3 {
			tokens[w] = true
		}
	}
	return tokens
}

// Bucket returns the candidate-pruning bucket for a name: the first byte
// of its normalized form, or "" if the name normalizes to nothing.
// Bucketing keeps fuzzy scoring sub-quadratic across large alias sets.
func Bucket(raw string) string {
	n := Normalize(raw)
	if n == "" {
		return ""
	}
	return n[:1]
}
