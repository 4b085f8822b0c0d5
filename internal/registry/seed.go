// Package registry loads steward-maintained alias seed files into the
// store. Seed files replace the hardcoded name→canonical tables the
// legacy scripts embedded in code: they are plain YAML, editable without
// a redeploy, and applying them is idempotent.
package registry

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/resolve-cli/internal/model"
	"github.com/sells-group/resolve-cli/internal/store"
)

// SeedFile is the on-disk format of an alias seed file.
type SeedFile struct {
	Entities []SeedEntity `yaml:"entities"`
}

// SeedEntity declares one canonical entity with its known aliases and
// reference numbers.
type SeedEntity struct {
	CanonicalName    string            `yaml:"canonical_name"`
	EntityType       model.EntityType  `yaml:"entity_type"`
	Aliases          []string          `yaml:"aliases"`
	ReferenceNumbers []string          `yaml:"reference_numbers"`
	Metadata         map[string]string `yaml:"metadata"`
}

// Summary reports what applying a seed file changed.
type Summary struct {
	EntitiesCreated int
	AliasesAdded    int
	Conflicts       []string
}

// Load parses a seed file from disk.
func Load(path string) (*SeedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "registry: read %s", path)
	}

	var sf SeedFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return nil, eris.Wrapf(err, "registry: parse %s", path)
	}

	for i, e := range sf.Entities {
		if e.CanonicalName == "" {
			return nil, eris.Errorf("registry: entity %d has no canonical_name", i)
		}
		if !e.EntityType.Valid() {
			return nil, eris.Errorf("registry: entity %q has invalid entity_type %q", e.CanonicalName, e.EntityType)
		}
	}
	return &sf, nil
}

// Apply upserts every seed entity and its aliases into the store.
// Existing entities are recognized by canonical name; aliases already
// mapping to the right entity are no-ops. Aliases held by a different
// entity are recorded as conflicts for steward review, never stolen.
func Apply(ctx context.Context, st store.Store, sf *SeedFile) (*Summary, error) {
	log := zap.L().With(zap.String("component", "registry"))
	sum := &Summary{}

	for _, e := range sf.Entities {
		canonicalID, err := st.ResolveAlias(ctx, e.CanonicalName, model.ScopeName)
		if err != nil {
			return sum, eris.Wrapf(err, "registry: resolve %q", e.CanonicalName)
		}
		if canonicalID == "" {
			ent, err := st.CreateEntity(ctx, e.CanonicalName, e.EntityType, e.Metadata)
			if err != nil {
				return sum, eris.Wrapf(err, "registry: create %q", e.CanonicalName)
			}
			canonicalID = ent.ID
			sum.EntitiesCreated++
			log.Info("seed entity created",
				zap.String("canonical_id", ent.ID),
				zap.String("canonical_name", e.CanonicalName),
			)
		}

		for _, alias := range e.Aliases {
			if err := insertSeedAlias(ctx, st, sum, alias, canonicalID, model.ScopeName); err != nil {
				return sum, err
			}
		}
		for _, ref := range e.ReferenceNumbers {
			if err := insertSeedAlias(ctx, st, sum, ref, canonicalID, model.ScopeReferenceNumber); err != nil {
				return sum, err
			}
		}
	}

	return sum, nil
}

func insertSeedAlias(ctx context.Context, st store.Store, sum *Summary, text, canonicalID string, scope model.AliasScope) error {
	resolved, err := st.ResolveAlias(ctx, text, scope)
	if err != nil {
		return eris.Wrapf(err, "registry: resolve alias %q", text)
	}
	if resolved == canonicalID {
		return nil
	}

	err = st.InsertAlias(ctx, text, canonicalID, scope)
	if errors.Is(err, store.ErrDuplicateAlias) {
		sum.Conflicts = append(sum.Conflicts,
			fmt.Sprintf("%s alias %q already maps elsewhere", scope, text))
		return nil
	}
	if err != nil {
		return eris.Wrapf(err, "registry: insert alias %q", text)
	}
	sum.AliasesAdded++
	return nil
}
