package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"lowercase", "WA Health", "wa health"},
		{"whitespace", "  WA  Health ", "wa health"},
		{"punctuation", "St. Vincent's Hospital", "st vincents hospital"},
		{"hyphen becomes space", "Gippsland Health Alliance - Imaging Upgrade", "gippsland health alliance imaging upgrade"},
		{"slash becomes space", "Radiology/Imaging", "radiology imaging"},
		{"diacritics", "Hôpital Général", "hopital general"},
		{"digits kept", "Ward 7B", "ward 7b"},
		{"empty", "", ""},
		{"only punctuation", "!!!", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.input))
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	inputs := []string{"  WA  Health ", "St. Vincent's Hospital", "Hôpital Général", "already normal"}
	for _, in := range inputs {
		once := Normalize(in)
		assert.Equal(t, once, Normalize(once), "input %q", in)
	}
}

func TestNormalize_CaseAndWhitespaceInsensitive(t *testing.T) {
	assert.Equal(t, Normalize("wa health"), Normalize("  WA  Health "))
}

func TestSimplify(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"pty ltd stripped", "Acme Holdings Pty Ltd", "acme holdings"},
		{"single suffix", "Ramsay Health", "ramsay"},
		{"chained suffixes", "Bayside Medical Centre", "bayside"},
		{"no suffix", "Western Health Group", "western health group"},
		{"suffix mid-name kept", "Health First Partners", "health first partners"},
		{"never empties", "Medical Centre", "medical"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Simplify(tt.input))
		})
	}
}

func TestTokens(t *testing.T) {
	tokens := Tokens("GHA Imaging Upgrade")
	// "gha" is too short to be significant.
	assert.Equal(t, map[string]bool{"imaging": true, "upgrade": true}, tokens)

	assert.Empty(t, Tokens(""))
	assert.Empty(t, Tokens("a bb ccc"))
}

func TestBucket(t *testing.T) {
	assert.Equal(t, "w", Bucket("WA Health"))
	assert.Equal(t, "7", Bucket("7-Eleven"))
	assert.Equal(t, "", Bucket("  !! "))
}
