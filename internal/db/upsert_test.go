package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUpsertSQL(t *testing.T) {
	tests := []struct {
		name         string
		table        string
		columns      []string
		conflictKeys []string
		updateCols   []string
		want         string
	}{
		{
			name:    "plain insert without conflict keys",
			table:   "events",
			columns: []string{"id", "kind"},
			want:    "INSERT INTO events (id, kind) VALUES ($1, $2)",
		},
		{
			name:         "do nothing on empty update cols",
			table:        "derived_records",
			columns:      []string{"id", "kind", "natural_key"},
			conflictKeys: []string{"kind", "natural_key"},
			updateCols:   []string{},
			want:         "INSERT INTO derived_records (id, kind, natural_key) VALUES ($1, $2, $3) ON CONFLICT (kind, natural_key) DO NOTHING",
		},
		{
			name:         "nil update cols updates all non-conflict columns",
			table:        "match_results",
			columns:      []string{"source_id", "run_id", "strategy", "confidence"},
			conflictKeys: []string{"source_id", "run_id"},
			want: "INSERT INTO match_results (source_id, run_id, strategy, confidence) VALUES ($1, $2, $3, $4) " +
				"ON CONFLICT (source_id, run_id) DO UPDATE SET strategy = EXCLUDED.strategy, confidence = EXCLUDED.confidence",
		},
		{
			name:         "explicit update cols",
			table:        "unresolved_records",
			columns:      []string{"source_id", "raw_name", "first_seen"},
			conflictKeys: []string{"source_id"},
			updateCols:   []string{"raw_name"},
			want: "INSERT INTO unresolved_records (source_id, raw_name, first_seen) VALUES ($1, $2, $3) " +
				"ON CONFLICT (source_id) DO UPDATE SET raw_name = EXCLUDED.raw_name",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := UpsertSQL(tt.table, tt.columns, tt.conflictKeys, tt.updateCols)
			assert.Equal(t, tt.want, got)
		})
	}
}
