package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/resolve-cli/internal/model"
	"github.com/sells-group/resolve-cli/internal/store"
)

const seedYAML = `entities:
  - canonical_name: Western Australia Department Of Health
    entity_type: client
    aliases:
      - WA Health
      - WA Dept Health
    reference_numbers:
      - REF-100
    metadata:
      region: WA
  - canonical_name: GHA Imaging Upgrade
    entity_type: opportunity
`

func writeSeedFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := store.NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func TestLoad(t *testing.T) {
	sf, err := Load(writeSeedFile(t, seedYAML))
	require.NoError(t, err)
	require.Len(t, sf.Entities, 2)
	assert.Equal(t, "Western Australia Department Of Health", sf.Entities[0].CanonicalName)
	assert.Equal(t, model.EntityClient, sf.Entities[0].EntityType)
	assert.Equal(t, []string{"WA Health", "WA Dept Health"}, sf.Entities[0].Aliases)
	assert.Equal(t, []string{"REF-100"}, sf.Entities[0].ReferenceNumbers)
	assert.Equal(t, map[string]string{"region": "WA"}, sf.Entities[0].Metadata)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"missing canonical name", "entities:\n  - entity_type: client\n"},
		{"bad entity type", "entities:\n  - canonical_name: X\n    entity_type: project\n"},
		{"malformed yaml", "entities: ["},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeSeedFile(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestApply(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	sf, err := Load(writeSeedFile(t, seedYAML))
	require.NoError(t, err)

	sum, err := Apply(ctx, st, sf)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.EntitiesCreated)
	assert.Equal(t, 3, sum.AliasesAdded)
	assert.Empty(t, sum.Conflicts)

	id, err := st.ResolveAlias(ctx, "WA Health", model.ScopeName)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	ref, err := st.ResolveAlias(ctx, "REF-100", model.ScopeReferenceNumber)
	require.NoError(t, err)
	assert.Equal(t, id, ref)

	ent, err := st.GetEntity(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"region": "WA"}, ent.Metadata)
}

func TestApply_Idempotent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	sf, err := Load(writeSeedFile(t, seedYAML))
	require.NoError(t, err)

	_, err = Apply(ctx, st, sf)
	require.NoError(t, err)

	sum, err := Apply(ctx, st, sf)
	require.NoError(t, err)
	assert.Equal(t, 0, sum.EntitiesCreated)
	assert.Equal(t, 0, sum.AliasesAdded)
	assert.Empty(t, sum.Conflicts)

	ents, err := st.ListEntities(ctx, store.EntityFilter{})
	require.NoError(t, err)
	assert.Len(t, ents, 2)
}

func TestApply_ConflictNotStolen(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	other, err := st.CreateEntity(ctx, "Other Entity", model.EntityClient, nil)
	require.NoError(t, err)
	require.NoError(t, st.InsertAlias(ctx, "WA Health", other.ID, model.ScopeName))

	sf, err := Load(writeSeedFile(t, seedYAML))
	require.NoError(t, err)

	sum, err := Apply(ctx, st, sf)
	require.NoError(t, err)
	require.Len(t, sum.Conflicts, 1)
	assert.Contains(t, sum.Conflicts[0], "WA Health")

	// The alias still maps to its original owner.
	id, err := st.ResolveAlias(ctx, "WA Health", model.ScopeName)
	require.NoError(t, err)
	assert.Equal(t, other.ID, id)
}
