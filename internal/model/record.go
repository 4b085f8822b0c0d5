package model

import "time"

// SourceRecord is one raw row from an external source system (CRM export,
// spreadsheet, ledger). Read-only input owned by the producing collaborator.
type SourceRecord struct {
	SourceID        string            `json:"source_id"`
	SourceSystem    string            `json:"source_system"`
	RawName         string            `json:"raw_name"`
	ReferenceNumber string            `json:"reference_number,omitempty"`
	Attributes      map[string]string `json:"attributes,omitempty"`
}

// MatchStrategy identifies which cascade step produced a match.
type MatchStrategy string

const (
	StrategyReferenceNumber MatchStrategy = "reference_number"
	StrategyExactName       MatchStrategy = "exact_name"
	StrategyFuzzy           MatchStrategy = "fuzzy"
	StrategyKeyword         MatchStrategy = "keyword"
	StrategyAutoCreate      MatchStrategy = "auto_create"
	StrategyNone            MatchStrategy = "none"
)

// MatchResult records the outcome of resolving one source record in one
// pipeline run. Keyed by (source_id, run_id); re-running a pipeline
// overwrites the previous row for the same key.
type MatchResult struct {
	SourceID    string        `json:"source_id"`
	RunID       string        `json:"run_id"`
	CanonicalID string        `json:"canonical_id,omitempty"`
	Strategy    MatchStrategy `json:"strategy"`
	Confidence  float64       `json:"confidence"`
	Ambiguous   bool          `json:"ambiguous"`
	Reason      string        `json:"reason,omitempty"`
	MatchedAt   time.Time     `json:"matched_at"`
}

// Matched reports whether the result carries an accepted canonical identity.
func (r MatchResult) Matched() bool {
	return r.CanonicalID != "" && !r.Ambiguous
}

// UnresolvedReason classifies why a record could not be auto-resolved.
type UnresolvedReason string

const (
	ReasonNoMatch      UnresolvedReason = "no_match"
	ReasonAmbiguous    UnresolvedReason = "ambiguous"
	ReasonInvalidInput UnresolvedReason = "invalid_input"
)

// UnresolvedRecord queues a source record for manual stewardship. It is
// cleared (resolved=true) when a later run or a manual alias resolves it.
type UnresolvedRecord struct {
	SourceID  string           `json:"source_id"`
	RawName   string           `json:"raw_name"`
	Reason    UnresolvedReason `json:"reason"`
	FirstSeen time.Time        `json:"first_seen"`
	Resolved  bool             `json:"resolved"`
}

// DerivedRecord is a downstream fact derived from resolution, e.g.
// "this opportunity has no counterpart in system B". NaturalKey is the
// strongest available key: the reference number when present, otherwise
// the normalized name.
type DerivedRecord struct {
	ID           string    `json:"id"`
	Kind         string    `json:"kind"`
	TargetSystem string    `json:"target_system"`
	SourceID     string    `json:"source_id"`
	NaturalKey   string    `json:"natural_key"`
	Payload      string    `json:"payload,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
