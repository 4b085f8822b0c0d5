// Package matcher resolves one source record to a canonical entity via a
// deterministic ordered strategy cascade: reference-number exact, exact
// normalized name, fuzzy similarity, then token overlap.
package matcher

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/resolve-cli/internal/model"
	"github.com/sells-group/resolve-cli/internal/normalize"
	"github.com/sells-group/resolve-cli/internal/similarity"
)

// Confidence assigned to the deterministic strategies. Fuzzy and keyword
// confidence is the computed score itself.
const (
	confReferenceNumber = 1.0
	confExactName       = 0.95
)

// Config holds the matcher thresholds.
type Config struct {
	// FuzzyThreshold is the minimum similarity score for a fuzzy match.
	FuzzyThreshold float64 `yaml:"fuzzy_threshold" mapstructure:"fuzzy_threshold"`

	// OverlapThreshold is the minimum token-overlap ratio for a keyword match.
	OverlapThreshold float64 `yaml:"overlap_threshold" mapstructure:"overlap_threshold"`

	// AmbiguityMargin routes a result to human review when the top two
	// distinct canonical candidates score within this margin of each other.
	AmbiguityMargin float64 `yaml:"ambiguity_margin" mapstructure:"ambiguity_margin"`

	// EntityType optionally restricts the candidate set to one entity type.
	EntityType model.EntityType `yaml:"entity_type" mapstructure:"entity_type"`
}

// DefaultConfig returns the standard matcher thresholds.
func DefaultConfig() Config {
	return Config{
		FuzzyThreshold:   0.85,
		OverlapThreshold: 0.6,
		AmbiguityMargin:  0.03,
	}
}

// Reader is the read-only store view the matcher needs. Both store
// backends satisfy it; reads are safe to run concurrently.
type Reader interface {
	ResolveAlias(ctx context.Context, text string, scope model.AliasScope) (string, error)
	CandidateAliases(ctx context.Context, bucket string, typ model.EntityType) ([]model.Alias, error)
}

// Matcher resolves source records against the alias registry.
type Matcher struct {
	store Reader
	cfg   Config
	now   func() time.Time
}

// New creates a Matcher. Zero thresholds in cfg fall back to defaults.
func New(store Reader, cfg Config) *Matcher {
	def := DefaultConfig()
	if cfg.FuzzyThreshold <= 0 {
		cfg.FuzzyThreshold = def.FuzzyThreshold
	}
	if cfg.OverlapThreshold <= 0 {
		cfg.OverlapThreshold = def.OverlapThreshold
	}
	if cfg.AmbiguityMargin <= 0 {
		cfg.AmbiguityMargin = def.AmbiguityMargin
	}
	return &Matcher{store: store, cfg: cfg, now: func() time.Time { return time.Now().UTC() }}
}

// Match runs the cascade for one record. It never panics on malformed
// input; an empty or unusable raw name classifies as invalid_input.
// Store read errors propagate; the pipeline decides how to continue.
func (m *Matcher) Match(ctx context.Context, rec model.SourceRecord) (model.MatchResult, error) {
	res := model.MatchResult{
		SourceID:  rec.SourceID,
		Strategy:  model.StrategyNone,
		MatchedAt: m.now(),
	}

	// 1. Reference-number exact match. Trusted regardless of how
	// dissimilar the raw name is.
	if rec.ReferenceNumber != "" {
		id, err := m.store.ResolveAlias(ctx, rec.ReferenceNumber, model.ScopeReferenceNumber)
		if err != nil {
			return res, eris.Wrap(err, "matcher: reference lookup")
		}
		if id != "" {
			res.CanonicalID = id
			res.Strategy = model.StrategyReferenceNumber
			res.Confidence = confReferenceNumber
			res.Reason = "reference number match"
			return res, nil
		}
	}

	rawNorm := normalize.Normalize(rec.RawName)
	if rawNorm == "" {
		res.Reason = string(model.ReasonInvalidInput)
		return res, nil
	}

	// 2. Exact normalized-name match (suffix-sensitive by design of the
	// alias key; see the normalize package).
	id, err := m.store.ResolveAlias(ctx, rawNorm, model.ScopeName)
	if err != nil {
		return res, eris.Wrap(err, "matcher: name lookup")
	}
	if id != "" {
		res.CanonicalID = id
		res.Strategy = model.StrategyExactName
		res.Confidence = confExactName
		res.Reason = "exact normalized name"
		return res, nil
	}

	candidates, err := m.store.CandidateAliases(ctx, normalize.Bucket(rawNorm), m.cfg.EntityType)
	if err != nil {
		return res, eris.Wrap(err, "matcher: candidate lookup")
	}
	if len(candidates) == 0 {
		res.Reason = string(model.ReasonNoMatch)
		return res, nil
	}

	// 3. Fuzzy similarity over normalized forms.
	fuzzy := scoreCandidates(candidates, func(aliasText string) float64 {
		return similarity.Normalized(rawNorm, aliasText)
	})
	if out, ok := accept(fuzzy, m.cfg.FuzzyThreshold, m.cfg.AmbiguityMargin); ok {
		out.SourceID = res.SourceID
		out.Strategy = model.StrategyFuzzy
		out.MatchedAt = res.MatchedAt
		return out, nil
	}

	// 4. Token-overlap heuristic over simplified forms.
	rawTokens := normalize.Tokens(rec.RawName)
	keyword := scoreCandidates(candidates, func(aliasText string) float64 {
		return overlapRatio(rawTokens, normalize.Tokens(aliasText))
	})
	if out, ok := accept(keyword, m.cfg.OverlapThreshold, m.cfg.AmbiguityMargin); ok {
		out.SourceID = res.SourceID
		out.Strategy = model.StrategyKeyword
		out.MatchedAt = res.MatchedAt
		return out, nil
	}

	res.Reason = string(model.ReasonNoMatch)
	return res, nil
}

// candidate is one canonical entity's best-scoring alias.
type candidate struct {
	canonicalID string
	aliasText   string
	score       float64
}

// scoreCandidates scores every alias and keeps the best score per
// canonical entity, sorted by score descending then canonical id
// ascending so exact ties resolve deterministically.
func scoreCandidates(aliases []model.Alias, score func(aliasText string) float64) []candidate {
	best := make(map[string]candidate, len(aliases))
	for _, a := range aliases {
		s := score(a.Text)
		if s <= 0 {
			continue
		}
		cur, ok := best[a.CanonicalID]
		if !ok || s > cur.score || (s == cur.score && a.Text < cur.aliasText) {
			best[a.CanonicalID] = candidate{canonicalID: a.CanonicalID, aliasText: a.Text, score: s}
		}
	}

	out := make([]candidate, 0, len(best))
	for _, c := range best {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		return out[i].canonicalID < out[j].canonicalID
	})
	return out
}

// accept applies the threshold and ambiguity rules to a scored candidate
// list. A result within the ambiguity margin of a different canonical
// entity is returned unaccepted (no canonical id) and marked ambiguous
// so the pipeline routes it to review instead of silently mis-merging.
func accept(scored []candidate, threshold, margin float64) (model.MatchResult, bool) {
	if len(scored) == 0 || scored[0].score < threshold {
		return model.MatchResult{}, false
	}

	top := scored[0]
	if len(scored) > 1 && top.score-scored[1].score < margin && scored[1].score >= threshold {
		return model.MatchResult{
			Confidence: top.score,
			Ambiguous:  true,
			Reason: fmt.Sprintf("ambiguous: %s (%.3f) vs %s (%.3f)",
				top.canonicalID, top.score, scored[1].canonicalID, scored[1].score),
		}, true
	}

	return model.MatchResult{
		CanonicalID: top.canonicalID,
		Confidence:  top.score,
		Reason:      fmt.Sprintf("matched alias %q (%.3f)", top.aliasText, top.score),
	}, true
}

// overlapRatio computes |intersection| / min(|a|, |b|) over significant
// tokens, requiring at least two shared tokens. Short source names are
// routinely contained in longer official aliases, so containment against
// the smaller set is the useful ratio here.
func overlapRatio(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	shared := 0
	for t := range a {
		if b[t] {
			shared++
		}
	}
	if shared < 2 {
		return 0
	}
	minLen := len(a)
	if len(b) < minLen {
		minLen = len(b)
	}
	return float64(shared) / float64(minLen)
}
