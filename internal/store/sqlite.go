package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/resolve-cli/internal/model"
	"github.com/sells-group/resolve-cli/internal/normalize"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS canonical_entities (
	id              TEXT PRIMARY KEY,
	canonical_name  TEXT NOT NULL,
	normalized_name TEXT NOT NULL,
	entity_type     TEXT NOT NULL,
	metadata        TEXT,
	merged_into     TEXT,
	retired         INTEGER NOT NULL DEFAULT 0,
	created_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS aliases (
	alias_text   TEXT NOT NULL,
	scope        TEXT NOT NULL,
	canonical_id TEXT NOT NULL,
	active       INTEGER NOT NULL DEFAULT 1,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS match_results (
	source_id    TEXT NOT NULL,
	run_id       TEXT NOT NULL,
	canonical_id TEXT,
	strategy     TEXT NOT NULL,
	confidence   REAL NOT NULL,
	ambiguous    INTEGER NOT NULL DEFAULT 0,
	reason       TEXT,
	matched_at   DATETIME NOT NULL,
	PRIMARY KEY (source_id, run_id)
);

CREATE TABLE IF NOT EXISTS unresolved_records (
	source_id  TEXT PRIMARY KEY,
	raw_name   TEXT NOT NULL,
	reason     TEXT NOT NULL,
	first_seen DATETIME NOT NULL,
	resolved   INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS derived_records (
	id            TEXT PRIMARY KEY,
	kind          TEXT NOT NULL,
	target_system TEXT NOT NULL,
	source_id     TEXT NOT NULL,
	natural_key   TEXT NOT NULL,
	payload       TEXT,
	created_at    DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_entities_normalized ON canonical_entities(normalized_name);
CREATE UNIQUE INDEX IF NOT EXISTS idx_aliases_text_scope ON aliases(alias_text, scope) WHERE active = 1;
CREATE INDEX IF NOT EXISTS idx_aliases_canonical ON aliases(canonical_id);
CREATE INDEX IF NOT EXISTS idx_match_results_canonical ON match_results(canonical_id);
CREATE INDEX IF NOT EXISTS idx_match_results_run ON match_results(run_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_derived_natural ON derived_records(kind, target_system, natural_key);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateEntity(ctx context.Context, name string, typ model.EntityType, metadata map[string]string) (*model.CanonicalEntity, error) {
	if !typ.Valid() {
		return nil, eris.Errorf("sqlite: invalid entity type %q", typ)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, eris.New("sqlite: empty canonical name")
	}

	ent := &model.CanonicalEntity{
		ID:             uuid.New().String(),
		CanonicalName:  name,
		NormalizedName: normalize.Normalize(name),
		Type:           typ,
		Metadata:       metadata,
		CreatedAt:      time.Now().UTC(),
	}

	var metaJSON []byte
	if len(metadata) > 0 {
		var err error
		metaJSON, err = json.Marshal(metadata)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: marshal metadata")
		}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO canonical_entities (id, canonical_name, normalized_name, entity_type, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		ent.ID, ent.CanonicalName, ent.NormalizedName, string(ent.Type), nullableString(string(metaJSON)), ent.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert entity")
	}
	return ent, nil
}

func (s *SQLiteStore) GetEntity(ctx context.Context, id string) (*model.CanonicalEntity, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, canonical_name, normalized_name, entity_type, metadata, merged_into, retired, created_at
		 FROM canonical_entities WHERE id = ?`, id)
	ent, err := scanEntity(row)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: entity %s", id)
	}
	return ent, err
}

func (s *SQLiteStore) RenameEntity(ctx context.Context, id, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return eris.New("sqlite: empty canonical name")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE canonical_entities SET canonical_name = ?, normalized_name = ? WHERE id = ? AND retired = 0`,
		name, normalize.Normalize(name), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: rename entity %s", id)
	}
	return checkRowsAffected(res, "entity", id)
}

func (s *SQLiteStore) ListEntities(ctx context.Context, filter EntityFilter) ([]model.CanonicalEntity, error) {
	query := `SELECT id, canonical_name, normalized_name, entity_type, metadata, merged_into, retired, created_at
	          FROM canonical_entities WHERE 1=1`
	var args []any

	if filter.Type != "" {
		query += ` AND entity_type = ?`
		args = append(args, string(filter.Type))
	}
	if !filter.IncludeRetired {
		query += ` AND retired = 0`
	}
	query += ` ORDER BY canonical_name, id`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ? OFFSET ?`
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list entities")
	}
	defer rows.Close()

	var out []model.CanonicalEntity
	for rows.Next() {
		ent, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ent)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list entities")
}

// aliasKey returns the stored form of alias text for a scope: names are
// normalized so lookups are spelling-insensitive, reference numbers are
// kept verbatim apart from surrounding whitespace.
func aliasKey(text string, scope model.AliasScope) string {
	if scope == model.ScopeName {
		return normalize.Normalize(text)
	}
	return strings.TrimSpace(text)
}

func (s *SQLiteStore) ResolveAlias(ctx context.Context, text string, scope model.AliasScope) (string, error) {
	key := aliasKey(text, scope)
	if key == "" {
		return "", nil
	}

	var canonicalID string
	err := s.db.QueryRowContext(ctx,
		`SELECT canonical_id FROM aliases WHERE alias_text = ? AND scope = ? AND active = 1`,
		key, string(scope),
	).Scan(&canonicalID)
	if err == nil {
		return canonicalID, nil
	}
	if err != sql.ErrNoRows {
		return "", eris.Wrap(err, "sqlite: resolve alias")
	}

	if scope != model.ScopeName {
		return "", nil
	}

	// Self-alias: the text may be the canonical name of a live entity.
	err = s.db.QueryRowContext(ctx,
		`SELECT id FROM canonical_entities WHERE normalized_name = ? AND retired = 0 ORDER BY id LIMIT 1`,
		key,
	).Scan(&canonicalID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", eris.Wrap(err, "sqlite: resolve self-alias")
	}
	return canonicalID, nil
}

func (s *SQLiteStore) InsertAlias(ctx context.Context, text, canonicalID string, scope model.AliasScope) error {
	if !scope.Valid() {
		return eris.Errorf("sqlite: invalid alias scope %q", scope)
	}
	key := aliasKey(text, scope)
	if key == "" {
		return eris.New("sqlite: empty alias text")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin insert alias")
	}
	defer tx.Rollback() //nolint:errcheck

	var retired int
	err = tx.QueryRowContext(ctx,
		`SELECT retired FROM canonical_entities WHERE id = ?`, canonicalID,
	).Scan(&retired)
	if err == sql.ErrNoRows {
		return eris.Wrapf(ErrNotFound, "sqlite: entity %s", canonicalID)
	}
	if err != nil {
		return eris.Wrap(err, "sqlite: check entity")
	}
	if retired != 0 {
		return eris.Wrapf(ErrNotFound, "sqlite: entity %s is retired", canonicalID)
	}

	var existing string
	err = tx.QueryRowContext(ctx,
		`SELECT canonical_id FROM aliases WHERE alias_text = ? AND scope = ? AND active = 1`,
		key, string(scope),
	).Scan(&existing)
	switch {
	case err == nil && existing == canonicalID:
		return nil // idempotent
	case err == nil:
		return eris.Wrapf(ErrDuplicateAlias, "sqlite: %q (%s) already maps to %s", key, scope, existing)
	case err != sql.ErrNoRows:
		return eris.Wrap(err, "sqlite: check alias")
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO aliases (alias_text, scope, canonical_id, active, created_at) VALUES (?, ?, ?, 1, ?)`,
		key, string(scope), canonicalID, time.Now().UTC(),
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: insert alias")
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit insert alias")
}

func (s *SQLiteStore) AliasesFor(ctx context.Context, canonicalID string) ([]model.Alias, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT alias_text, scope, canonical_id, active, created_at FROM aliases
		 WHERE canonical_id = ? ORDER BY scope, alias_text`, canonicalID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: aliases for")
	}
	defer rows.Close()
	return scanAliases(rows)
}

func (s *SQLiteStore) CandidateAliases(ctx context.Context, bucket string, typ model.EntityType) ([]model.Alias, error) {
	if bucket == "" {
		return nil, nil
	}
	// Candidate set is name-scope aliases plus entity self-names, pruned
	// to the caller's first-letter bucket before any scoring happens.
	query := `
SELECT a.alias_text, a.scope, a.canonical_id, a.active, a.created_at
FROM aliases a
JOIN canonical_entities e ON e.id = a.canonical_id
WHERE a.active = 1 AND a.scope = 'name' AND e.retired = 0
  AND substr(a.alias_text, 1, 1) = ?1
  AND (?2 = '' OR e.entity_type = ?2)
UNION
SELECT e.normalized_name, 'name', e.id, 1, e.created_at
FROM canonical_entities e
WHERE e.retired = 0 AND e.normalized_name != ''
  AND substr(e.normalized_name, 1, 1) = ?1
  AND (?2 = '' OR e.entity_type = ?2)
ORDER BY 1, 3`

	rows, err := s.db.QueryContext(ctx, query, bucket, string(typ))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: candidate aliases")
	}
	defer rows.Close()
	return scanAliases(rows)
}

func (s *SQLiteStore) CheckIntegrity(ctx context.Context) ([]model.Alias, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT a.alias_text, a.scope, a.canonical_id, a.active, a.created_at
FROM aliases a
LEFT JOIN canonical_entities e ON e.id = a.canonical_id
WHERE e.id IS NULL
ORDER BY a.scope, a.alias_text`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: check integrity")
	}
	defer rows.Close()
	return scanAliases(rows)
}

func (s *SQLiteStore) Merge(ctx context.Context, winnerID, loserID string) error {
	if winnerID == loserID {
		return eris.New("sqlite: merge of an entity into itself")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin merge")
	}
	defer tx.Rollback() //nolint:errcheck

	winner, err := entityForUpdate(ctx, tx, winnerID)
	if err != nil {
		return err
	}
	loser, err := entityForUpdate(ctx, tx, loserID)
	if err != nil {
		return err
	}
	if winner.Retired {
		return eris.Wrapf(ErrMergeConflict, "sqlite: winner %s is retired", winnerID)
	}
	if loser.Retired {
		return eris.Wrapf(ErrMergeConflict, "sqlite: loser %s is retired", loserID)
	}

	// The loser's canonical name must stay resolvable against the winner.
	// If that alias slot is held by a third entity the merge cannot
	// proceed; the steward resolves the conflicting alias first.
	if key := loser.NormalizedName; key != "" {
		var existing string
		err := tx.QueryRowContext(ctx,
			`SELECT canonical_id FROM aliases WHERE alias_text = ? AND scope = 'name' AND active = 1`,
			key,
		).Scan(&existing)
		switch {
		case err == sql.ErrNoRows:
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO aliases (alias_text, scope, canonical_id, active, created_at) VALUES (?, 'name', ?, 1, ?)`,
				key, winnerID, time.Now().UTC(),
			); err != nil {
				return eris.Wrap(err, "sqlite: merge insert name alias")
			}
		case err != nil:
			return eris.Wrap(err, "sqlite: merge check name alias")
		case existing != winnerID && existing != loserID:
			return eris.Wrapf(ErrMergeConflict, "sqlite: alias %q held by %s", key, existing)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE aliases SET canonical_id = ? WHERE canonical_id = ?`, winnerID, loserID,
	); err != nil {
		return eris.Wrap(err, "sqlite: merge repoint aliases")
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE match_results SET canonical_id = ? WHERE canonical_id = ?`, winnerID, loserID,
	); err != nil {
		return eris.Wrap(err, "sqlite: merge repoint match results")
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE canonical_entities SET retired = 1, merged_into = ? WHERE id = ?`, winnerID, loserID,
	); err != nil {
		return eris.Wrap(err, "sqlite: merge retire loser")
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit merge")
}

func (s *SQLiteStore) UpsertMatchResult(ctx context.Context, res model.MatchResult) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO match_results (source_id, run_id, canonical_id, strategy, confidence, ambiguous, reason, matched_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (source_id, run_id) DO UPDATE SET
	canonical_id = excluded.canonical_id,
	strategy     = excluded.strategy,
	confidence   = excluded.confidence,
	ambiguous    = excluded.ambiguous,
	reason       = excluded.reason,
	matched_at   = excluded.matched_at`,
		res.SourceID, res.RunID, nullableString(res.CanonicalID), string(res.Strategy),
		res.Confidence, boolToInt(res.Ambiguous), nullableString(res.Reason), res.MatchedAt,
	)
	return eris.Wrap(err, "sqlite: upsert match result")
}

func (s *SQLiteStore) ListMatchResults(ctx context.Context, runID string) ([]model.MatchResult, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT source_id, run_id, canonical_id, strategy, confidence, ambiguous, reason, matched_at
FROM match_results WHERE run_id = ? ORDER BY source_id`, runID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list match results")
	}
	defer rows.Close()

	var out []model.MatchResult
	for rows.Next() {
		var (
			r           model.MatchResult
			canonicalID sql.NullString
			reason      sql.NullString
			ambiguous   int
		)
		if err := rows.Scan(&r.SourceID, &r.RunID, &canonicalID, &r.Strategy, &r.Confidence, &ambiguous, &reason, &r.MatchedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan match result")
		}
		r.CanonicalID = canonicalID.String
		r.Reason = reason.String
		r.Ambiguous = ambiguous != 0
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list match results")
}

func (s *SQLiteStore) UpsertUnresolved(ctx context.Context, rec model.UnresolvedRecord) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO unresolved_records (source_id, raw_name, reason, first_seen, resolved)
VALUES (?, ?, ?, ?, 0)
ON CONFLICT (source_id) DO UPDATE SET
	raw_name = excluded.raw_name,
	reason   = excluded.reason,
	resolved = 0`,
		rec.SourceID, rec.RawName, string(rec.Reason), rec.FirstSeen,
	)
	return eris.Wrap(err, "sqlite: upsert unresolved")
}

func (s *SQLiteStore) MarkResolved(ctx context.Context, sourceID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE unresolved_records SET resolved = 1 WHERE source_id = ?`, sourceID)
	return eris.Wrap(err, "sqlite: mark resolved")
}

func (s *SQLiteStore) ListUnresolved(ctx context.Context, includeResolved bool) ([]model.UnresolvedRecord, error) {
	query := `SELECT source_id, raw_name, reason, first_seen, resolved FROM unresolved_records`
	if !includeResolved {
		query += ` WHERE resolved = 0`
	}
	query += ` ORDER BY first_seen, source_id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list unresolved")
	}
	defer rows.Close()

	var out []model.UnresolvedRecord
	for rows.Next() {
		var (
			r        model.UnresolvedRecord
			resolved int
		)
		if err := rows.Scan(&r.SourceID, &r.RawName, &r.Reason, &r.FirstSeen, &resolved); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan unresolved")
		}
		r.Resolved = resolved != 0
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list unresolved")
}

func (s *SQLiteStore) UpsertDerived(ctx context.Context, rec model.DerivedRecord) (bool, error) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
INSERT INTO derived_records (id, kind, target_system, source_id, natural_key, payload, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (kind, target_system, natural_key) DO NOTHING`,
		rec.ID, rec.Kind, rec.TargetSystem, rec.SourceID, rec.NaturalKey,
		nullableString(rec.Payload), rec.CreatedAt,
	)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: upsert derived")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: upsert derived rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) DerivedExists(ctx context.Context, kind, targetSystem, naturalKey string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM derived_records WHERE kind = ? AND target_system = ? AND natural_key = ?`,
		kind, targetSystem, naturalKey,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrap(err, "sqlite: derived exists")
	}
	return true, nil
}

// --- scan helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(row rowScanner) (*model.CanonicalEntity, error) {
	var (
		ent        model.CanonicalEntity
		metaJSON   sql.NullString
		mergedInto sql.NullString
		retired    int
	)
	err := row.Scan(&ent.ID, &ent.CanonicalName, &ent.NormalizedName, &ent.Type,
		&metaJSON, &mergedInto, &retired, &ent.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan entity")
	}
	if metaJSON.Valid && metaJSON.String != "" {
		if err := json.Unmarshal([]byte(metaJSON.String), &ent.Metadata); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal metadata")
		}
	}
	ent.MergedInto = mergedInto.String
	ent.Retired = retired != 0
	return &ent, nil
}

func scanAliases(rows *sql.Rows) ([]model.Alias, error) {
	var out []model.Alias
	for rows.Next() {
		var (
			a      model.Alias
			active int
		)
		if err := rows.Scan(&a.Text, &a.Scope, &a.CanonicalID, &active, &a.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan alias")
		}
		a.Active = active != 0
		out = append(out, a)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: scan aliases")
}

func entityForUpdate(ctx context.Context, tx *sql.Tx, id string) (*model.CanonicalEntity, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT id, canonical_name, normalized_name, entity_type, metadata, merged_into, retired, created_at
		 FROM canonical_entities WHERE id = ?`, id)
	ent, err := scanEntity(row)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: entity %s", id)
	}
	return ent, err
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrapf(err, "sqlite: rows affected for %s %s", entity, id)
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "sqlite: %s %s", entity, id)
	}
	return nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
