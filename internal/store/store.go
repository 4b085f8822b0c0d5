// Package store persists canonical entities, aliases, match results, and
// unresolved/derived records. Two backends exist: SQLite (embedded,
// default) and Postgres (shared deployments).
package store

import (
	"context"

	"github.com/sells-group/resolve-cli/internal/model"
)

// EntityFilter specifies criteria for listing canonical entities.
type EntityFilter struct {
	Type           model.EntityType `json:"entity_type,omitempty"`
	IncludeRetired bool             `json:"include_retired,omitempty"`
	Limit          int              `json:"limit,omitempty"`
	Offset         int              `json:"offset,omitempty"`
}

// Store defines the persistence interface for the resolution engine.
// Read methods are safe for concurrent use; callers serialize writes
// (the pipeline runs a single writer).
type Store interface {
	// Canonical entities
	CreateEntity(ctx context.Context, name string, typ model.EntityType, metadata map[string]string) (*model.CanonicalEntity, error)
	GetEntity(ctx context.Context, id string) (*model.CanonicalEntity, error)
	RenameEntity(ctx context.Context, id, name string) error
	ListEntities(ctx context.Context, filter EntityFilter) ([]model.CanonicalEntity, error)

	// Alias registry. ResolveAlias is bidirectional: it checks active
	// aliases first, then (for scope=name) whether text is itself the
	// normalized canonical name of a live entity. Returns "" on no hit.
	ResolveAlias(ctx context.Context, text string, scope model.AliasScope) (string, error)
	InsertAlias(ctx context.Context, text, canonicalID string, scope model.AliasScope) error
	AliasesFor(ctx context.Context, canonicalID string) ([]model.Alias, error)
	CandidateAliases(ctx context.Context, bucket string, typ model.EntityType) ([]model.Alias, error)
	CheckIntegrity(ctx context.Context) ([]model.Alias, error)

	// Merge repoints all aliases and match results from loserID to
	// winnerID, keeps the loser's name resolvable as an alias of the
	// winner, and retires the loser. Atomic: ErrMergeConflict leaves
	// both entities untouched.
	Merge(ctx context.Context, winnerID, loserID string) error

	// Match results, keyed (source_id, run_id); re-runs overwrite.
	UpsertMatchResult(ctx context.Context, res model.MatchResult) error
	ListMatchResults(ctx context.Context, runID string) ([]model.MatchResult, error)

	// Unresolved queue
	UpsertUnresolved(ctx context.Context, rec model.UnresolvedRecord) error
	MarkResolved(ctx context.Context, sourceID string) error
	ListUnresolved(ctx context.Context, includeResolved bool) ([]model.UnresolvedRecord, error)

	// Derived records. UpsertDerived returns true when a new row was
	// inserted, false when the natural key already existed.
	UpsertDerived(ctx context.Context, rec model.DerivedRecord) (bool, error)
	DerivedExists(ctx context.Context, kind, targetSystem, naturalKey string) (bool, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
