// Package model defines the core types shared across the resolution engine.
package model

import "time"

// EntityType distinguishes the two kinds of canonical entities.
type EntityType string

const (
	EntityClient      EntityType = "client"
	EntityOpportunity EntityType = "opportunity"
)

// Valid reports whether t is a recognized entity type.
func (t EntityType) Valid() bool {
	return t == EntityClient || t == EntityOpportunity
}

// CanonicalEntity is the single authoritative record for a real-world
// client or sales opportunity. The id is immutable and is the join key
// for every downstream rollup; the display name may be edited.
type CanonicalEntity struct {
	ID             string            `json:"id"`
	CanonicalName  string            `json:"canonical_name"`
	NormalizedName string            `json:"normalized_name"`
	Type           EntityType        `json:"entity_type"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	MergedInto     string            `json:"merged_into,omitempty"`
	Retired        bool              `json:"retired"`
	CreatedAt      time.Time         `json:"created_at"`
}

// AliasScope distinguishes name aliases from reference-number aliases.
type AliasScope string

const (
	ScopeName            AliasScope = "name"
	ScopeReferenceNumber AliasScope = "reference_number"
)

// Valid reports whether s is a recognized alias scope.
func (s AliasScope) Valid() bool {
	return s == ScopeName || s == ScopeReferenceNumber
}

// Alias maps an alternate spelling or external reference number to a
// canonical entity. (alias_text, scope) is unique among active aliases.
type Alias struct {
	Text        string     `json:"alias_text"`
	CanonicalID string     `json:"canonical_id"`
	Scope       AliasScope `json:"scope"`
	Active      bool       `json:"active"`
	CreatedAt   time.Time  `json:"created_at"`
}
