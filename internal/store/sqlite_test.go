package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/resolve-cli/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func mustEntity(t *testing.T, st *SQLiteStore, name string, typ model.EntityType) *model.CanonicalEntity {
	t.Helper()
	ent, err := st.CreateEntity(context.Background(), name, typ, nil)
	require.NoError(t, err)
	return ent
}

// --- Entities ---

func TestSQLite_CreateAndGetEntity(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	ent, err := st.CreateEntity(ctx, "Western Australia Department Of Health", model.EntityClient,
		map[string]string{"region": "WA"})
	require.NoError(t, err)
	assert.NotEmpty(t, ent.ID)
	assert.Equal(t, "western australia department of health", ent.NormalizedName)

	got, err := st.GetEntity(ctx, ent.ID)
	require.NoError(t, err)
	assert.Equal(t, ent.CanonicalName, got.CanonicalName)
	assert.Equal(t, map[string]string{"region": "WA"}, got.Metadata)
	assert.False(t, got.Retired)
}

func TestSQLite_GetEntity_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)

	_, err := st.GetEntity(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_CreateEntity_InvalidType(t *testing.T) {
	st := newTestSQLiteStore(t)

	_, err := st.CreateEntity(context.Background(), "X", model.EntityType("project"), nil)
	assert.Error(t, err)
}

func TestSQLite_RenameEntity(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	ent := mustEntity(t, st, "Old Name", model.EntityClient)

	require.NoError(t, st.RenameEntity(ctx, ent.ID, "New Name Pty Ltd"))

	got, err := st.GetEntity(ctx, ent.ID)
	require.NoError(t, err)
	assert.Equal(t, "New Name Pty Ltd", got.CanonicalName)
	assert.Equal(t, "new name pty ltd", got.NormalizedName)

	assert.ErrorIs(t, st.RenameEntity(ctx, "missing", "X"), ErrNotFound)
}

func TestSQLite_ListEntities_Filters(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	mustEntity(t, st, "Alpha Client", model.EntityClient)
	mustEntity(t, st, "Beta Opportunity", model.EntityOpportunity)

	clients, err := st.ListEntities(ctx, EntityFilter{Type: model.EntityClient})
	require.NoError(t, err)
	require.Len(t, clients, 1)
	assert.Equal(t, "Alpha Client", clients[0].CanonicalName)

	all, err := st.ListEntities(ctx, EntityFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

// --- Aliases ---

func TestSQLite_InsertAndResolveAlias(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	ent := mustEntity(t, st, "Western Australia Department Of Health", model.EntityClient)

	require.NoError(t, st.InsertAlias(ctx, "WA Health", ent.ID, model.ScopeName))

	// Lookup is spelling-insensitive through normalization.
	id, err := st.ResolveAlias(ctx, "  wa  HEALTH ", model.ScopeName)
	require.NoError(t, err)
	assert.Equal(t, ent.ID, id)

	// Scope is part of the key.
	id, err = st.ResolveAlias(ctx, "WA Health", model.ScopeReferenceNumber)
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestSQLite_ResolveAlias_SelfAlias(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	ent := mustEntity(t, st, "Ramsay Health Care", model.EntityClient)

	// The canonical name itself resolves without an explicit alias row.
	id, err := st.ResolveAlias(ctx, "ramsay health care", model.ScopeName)
	require.NoError(t, err)
	assert.Equal(t, ent.ID, id)
}

func TestSQLite_InsertAlias_Idempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	ent := mustEntity(t, st, "Acme", model.EntityClient)

	require.NoError(t, st.InsertAlias(ctx, "Acme Corp", ent.ID, model.ScopeName))
	require.NoError(t, st.InsertAlias(ctx, "Acme Corp", ent.ID, model.ScopeName))

	aliases, err := st.AliasesFor(ctx, ent.ID)
	require.NoError(t, err)
	assert.Len(t, aliases, 1)
}

func TestSQLite_InsertAlias_Duplicate(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	a := mustEntity(t, st, "Alpha", model.EntityClient)
	b := mustEntity(t, st, "Beta", model.EntityClient)

	require.NoError(t, st.InsertAlias(ctx, "Shared Name", a.ID, model.ScopeName))
	err := st.InsertAlias(ctx, "Shared Name", b.ID, model.ScopeName)
	assert.ErrorIs(t, err, ErrDuplicateAlias)

	// Same text under a different scope is a distinct key.
	require.NoError(t, st.InsertAlias(ctx, "Shared Name", b.ID, model.ScopeReferenceNumber))
}

func TestSQLite_InsertAlias_MissingEntity(t *testing.T) {
	st := newTestSQLiteStore(t)

	err := st.InsertAlias(context.Background(), "X", "missing", model.ScopeName)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_CandidateAliases_Bucketed(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	w := mustEntity(t, st, "Western Health", model.EntityClient)
	mustEntity(t, st, "Eastern Health", model.EntityClient)
	require.NoError(t, st.InsertAlias(ctx, "West Hlth", w.ID, model.ScopeName))

	got, err := st.CandidateAliases(ctx, "w", "")
	require.NoError(t, err)
	require.Len(t, got, 2) // alias + self-name, eastern excluded
	for _, a := range got {
		assert.Equal(t, w.ID, a.CanonicalID)
	}

	none, err := st.CandidateAliases(ctx, "", "")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSQLite_CandidateAliases_TypeFilter(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	mustEntity(t, st, "Westside Client", model.EntityClient)
	opp := mustEntity(t, st, "Westside Upgrade", model.EntityOpportunity)

	got, err := st.CandidateAliases(ctx, "w", model.EntityOpportunity)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, opp.ID, got[0].CanonicalID)
}

func TestSQLite_CheckIntegrity(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	ent := mustEntity(t, st, "Acme", model.EntityClient)
	require.NoError(t, st.InsertAlias(ctx, "Acme Corp", ent.ID, model.ScopeName))

	orphans, err := st.CheckIntegrity(ctx)
	require.NoError(t, err)
	assert.Empty(t, orphans)

	// Orphan the alias behind the store's back.
	_, err = st.db.Exec(`DELETE FROM canonical_entities WHERE id = ?`, ent.ID)
	require.NoError(t, err)

	orphans, err = st.CheckIntegrity(ctx)
	require.NoError(t, err)
	require.Len(t, orphans, 1)
	assert.Equal(t, "acme corp", orphans[0].Text)

	// Report only; nothing was deleted.
	aliases, err := st.AliasesFor(ctx, ent.ID)
	require.NoError(t, err)
	assert.Len(t, aliases, 1)
}

// --- Merge ---

func TestSQLite_Merge_RepointsEverything(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	winner := mustEntity(t, st, "Western Australia Department Of Health", model.EntityClient)
	loser := mustEntity(t, st, "WA Dept Health", model.EntityClient)
	require.NoError(t, st.InsertAlias(ctx, "wa health", loser.ID, model.ScopeName))
	require.NoError(t, st.InsertAlias(ctx, "REF-7", loser.ID, model.ScopeReferenceNumber))
	require.NoError(t, st.UpsertMatchResult(ctx, model.MatchResult{
		SourceID: "s1", RunID: "r1", CanonicalID: loser.ID,
		Strategy: model.StrategyExactName, Confidence: 0.95, MatchedAt: time.Now().UTC(),
	}))

	require.NoError(t, st.Merge(ctx, winner.ID, loser.ID))

	// Every alias of the old loser resolves to the winner.
	for _, probe := range []struct {
		text  string
		scope model.AliasScope
	}{
		{"wa health", model.ScopeName},
		{"REF-7", model.ScopeReferenceNumber},
		{"WA Dept Health", model.ScopeName}, // the loser's own name
	} {
		id, err := st.ResolveAlias(ctx, probe.text, probe.scope)
		require.NoError(t, err)
		assert.Equal(t, winner.ID, id, "probe %q", probe.text)
	}

	// Match results repointed.
	results, err := st.ListMatchResults(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, winner.ID, results[0].CanonicalID)

	// Loser retired, never reused.
	got, err := st.GetEntity(ctx, loser.ID)
	require.NoError(t, err)
	assert.True(t, got.Retired)
	assert.Equal(t, winner.ID, got.MergedInto)
}

func TestSQLite_Merge_ConflictAborts(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	winner := mustEntity(t, st, "Winner", model.EntityClient)
	loser := mustEntity(t, st, "Contested Name", model.EntityClient)
	third := mustEntity(t, st, "Third Party", model.EntityClient)

	// A third entity already holds the loser's name as an alias.
	require.NoError(t, st.InsertAlias(ctx, "Contested Name", third.ID, model.ScopeName))
	require.NoError(t, st.InsertAlias(ctx, "Loser Alias", loser.ID, model.ScopeName))

	err := st.Merge(ctx, winner.ID, loser.ID)
	assert.ErrorIs(t, err, ErrMergeConflict)

	// Atomic: nothing was repointed, loser not retired.
	id, err := st.ResolveAlias(ctx, "Loser Alias", model.ScopeName)
	require.NoError(t, err)
	assert.Equal(t, loser.ID, id)

	got, err := st.GetEntity(ctx, loser.ID)
	require.NoError(t, err)
	assert.False(t, got.Retired)
}

func TestSQLite_Merge_MissingOrSelf(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	ent := mustEntity(t, st, "Solo", model.EntityClient)

	assert.ErrorIs(t, st.Merge(ctx, ent.ID, "missing"), ErrNotFound)
	assert.Error(t, st.Merge(ctx, ent.ID, ent.ID))
}

// --- Match results ---

func TestSQLite_UpsertMatchResult_Idempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	ent := mustEntity(t, st, "Acme", model.EntityClient)

	first := model.MatchResult{
		SourceID: "s1", RunID: "r1", CanonicalID: ent.ID,
		Strategy: model.StrategyFuzzy, Confidence: 0.88,
		Reason: "first", MatchedAt: time.Now().UTC(),
	}
	require.NoError(t, st.UpsertMatchResult(ctx, first))

	second := first
	second.Strategy = model.StrategyExactName
	second.Confidence = 0.95
	second.Reason = "second"
	require.NoError(t, st.UpsertMatchResult(ctx, second))

	results, err := st.ListMatchResults(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, model.StrategyExactName, results[0].Strategy)
	assert.Equal(t, 0.95, results[0].Confidence)
	assert.Equal(t, "second", results[0].Reason)
}

// --- Unresolved ---

func TestSQLite_Unresolved_Lifecycle(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	firstSeen := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, st.UpsertUnresolved(ctx, model.UnresolvedRecord{
		SourceID: "s1", RawName: "Mystery Corp", Reason: model.ReasonNoMatch, FirstSeen: firstSeen,
	}))

	// Re-upsert keeps first_seen, updates reason, reopens.
	require.NoError(t, st.MarkResolved(ctx, "s1"))
	require.NoError(t, st.UpsertUnresolved(ctx, model.UnresolvedRecord{
		SourceID: "s1", RawName: "Mystery Corp", Reason: model.ReasonAmbiguous,
		FirstSeen: firstSeen.Add(24 * time.Hour),
	}))

	open, err := st.ListUnresolved(ctx, false)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, model.ReasonAmbiguous, open[0].Reason)
	assert.Equal(t, firstSeen, open[0].FirstSeen.UTC())

	require.NoError(t, st.MarkResolved(ctx, "s1"))
	open, err = st.ListUnresolved(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, open)

	all, err := st.ListUnresolved(ctx, true)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, all[0].Resolved)
}

// --- Derived ---

func TestSQLite_UpsertDerived_DedupAcrossRuns(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	rec := model.DerivedRecord{
		Kind: "missing_in_target", TargetSystem: "system_b",
		SourceID: "s1", NaturalKey: "ref:PO-1001",
	}

	inserted, err := st.UpsertDerived(ctx, rec)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = st.UpsertDerived(ctx, rec)
	require.NoError(t, err)
	assert.False(t, inserted)

	exists, err := st.DerivedExists(ctx, "missing_in_target", "system_b", "ref:PO-1001")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = st.DerivedExists(ctx, "missing_in_target", "system_b", "ref:PO-9999")
	require.NoError(t, err)
	assert.False(t, exists)
}
