package pipeline

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/resolve-cli/internal/model"
	"github.com/sells-group/resolve-cli/internal/normalize"
	"github.com/sells-group/resolve-cli/internal/store"
)

// DedupWriter inserts derived records (e.g. "opportunity not found in
// system B") exactly once across repeated runs. The natural key is the
// strongest available: reference number when present, otherwise the
// normalized name — and both keys are checked before insertion so a
// record first seen without its reference number is still recognized.
type DedupWriter struct {
	store store.Store
}

// NewDedupWriter creates a DedupWriter over the given store.
func NewDedupWriter(st store.Store) *DedupWriter {
	return &DedupWriter{store: st}
}

// Record writes one derived record for rec. Returns true when a new row
// was inserted, false when an equivalent row already existed.
func (w *DedupWriter) Record(ctx context.Context, kind, targetSystem string, rec model.SourceRecord, payload string) (bool, error) {
	keys := naturalKeys(rec)
	if len(keys) == 0 {
		return false, eris.Errorf("dedup: record %s has no usable natural key", rec.SourceID)
	}

	// Reference-number key first, then name key.
	for _, key := range keys {
		exists, err := w.store.DerivedExists(ctx, kind, targetSystem, key)
		if err != nil {
			return false, eris.Wrap(err, "dedup: existence check")
		}
		if exists {
			return false, nil
		}
	}

	inserted, err := w.store.UpsertDerived(ctx, model.DerivedRecord{
		Kind:         kind,
		TargetSystem: targetSystem,
		SourceID:     rec.SourceID,
		NaturalKey:   keys[0],
		Payload:      payload,
	})
	if err != nil {
		return false, eris.Wrap(err, "dedup: upsert")
	}
	return inserted, nil
}

func naturalKeys(rec model.SourceRecord) []string {
	var keys []string
	if rec.ReferenceNumber != "" {
		keys = append(keys, "ref:"+rec.ReferenceNumber)
	}
	if name := normalize.Normalize(rec.RawName); name != "" {
		keys = append(keys, "name:"+name)
	}
	return keys
}
