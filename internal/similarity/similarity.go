// Package similarity scores how close two entity names are, bounded to [0,1].
package similarity

import (
	"github.com/agnivade/levenshtein"

	"github.com/sells-group/resolve-cli/internal/normalize"
)

// Score returns 1 - editDistance(a', b')/max(len(a'), len(b')) where a'
// and b' are the normalized forms. Symmetric and deterministic; 1.0 when
// both normalize empty, 0.0 when exactly one does.
func Score(a, b string) float64 {
	return Normalized(normalize.Normalize(a), normalize.Normalize(b))
}

// Normalized is Score for inputs that are already normalized. Callers
// that compare one name against many candidates normalize once and use
// this to avoid re-normalizing per pair.
func Normalized(a, b string) float64 {
	if a == "" && b == "" {
		return 1.0
	}
	if a == "" || b == "" {
		return 0.0
	}

	la := len([]rune(a))
	lb := len([]rune(b))
	maxLen := la
	if lb > maxLen {
		maxLen = lb
	}

	dist := levenshtein.ComputeDistance(a, b)
	if dist >= maxLen {
		return 0.0
	}
	return 1.0 - float64(dist)/float64(maxLen)
}
