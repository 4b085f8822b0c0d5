package store

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/resolve-cli/internal/db"
	"github.com/sells-group/resolve-cli/internal/model"
	"github.com/sells-group/resolve-cli/internal/normalize"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool db.Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresFromPool wraps an existing pool (used by tests with pgxmock).
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS canonical_entities (
	id              TEXT PRIMARY KEY,
	canonical_name  TEXT NOT NULL,
	normalized_name TEXT NOT NULL,
	entity_type     TEXT NOT NULL,
	metadata        JSONB,
	merged_into     TEXT,
	retired         BOOLEAN NOT NULL DEFAULT FALSE,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS aliases (
	alias_text   TEXT NOT NULL,
	scope        TEXT NOT NULL,
	canonical_id TEXT NOT NULL,
	active       BOOLEAN NOT NULL DEFAULT TRUE,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS match_results (
	source_id    TEXT NOT NULL,
	run_id       TEXT NOT NULL,
	canonical_id TEXT,
	strategy     TEXT NOT NULL,
	confidence   DOUBLE PRECISION NOT NULL,
	ambiguous    BOOLEAN NOT NULL DEFAULT FALSE,
	reason       TEXT,
	matched_at   TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (source_id, run_id)
);

CREATE TABLE IF NOT EXISTS unresolved_records (
	source_id  TEXT PRIMARY KEY,
	raw_name   TEXT NOT NULL,
	reason     TEXT NOT NULL,
	first_seen TIMESTAMPTZ NOT NULL,
	resolved   BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS derived_records (
	id            TEXT PRIMARY KEY,
	kind          TEXT NOT NULL,
	target_system TEXT NOT NULL,
	source_id     TEXT NOT NULL,
	natural_key   TEXT NOT NULL,
	payload       TEXT,
	created_at    TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_entities_normalized ON canonical_entities(normalized_name);
CREATE UNIQUE INDEX IF NOT EXISTS idx_aliases_text_scope ON aliases(alias_text, scope) WHERE active;
CREATE INDEX IF NOT EXISTS idx_aliases_canonical ON aliases(canonical_id);
CREATE INDEX IF NOT EXISTS idx_match_results_canonical ON match_results(canonical_id);
CREATE INDEX IF NOT EXISTS idx_match_results_run ON match_results(run_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_derived_natural ON derived_records(kind, target_system, natural_key);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) CreateEntity(ctx context.Context, name string, typ model.EntityType, metadata map[string]string) (*model.CanonicalEntity, error) {
	if !typ.Valid() {
		return nil, eris.Errorf("postgres: invalid entity type %q", typ)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, eris.New("postgres: empty canonical name")
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
			return nil, eris.Wrap(err, "postgres: marshal metadata")
		}
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO canonical_entities (id, canonical_name, normalized_name, entity_type, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		ent.ID, ent.CanonicalName, ent.NormalizedName, string(ent.Type), metaJSON, ent.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert entity")
	}
	return ent, nil
}

const pgSelectEntity = `SELECT id, canonical_name, normalized_name, entity_type, metadata, merged_into, retired, created_at
FROM canonical_entities`

func (s *PostgresStore) GetEntity(ctx context.Context, id string) (*model.CanonicalEntity, error) {
	row := s.pool.QueryRow(ctx, pgSelectEntity+` WHERE id = $1`, id)
	ent, err := scanPgEntity(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: entity %s", id)
	}
	return ent, err
}

func (s *PostgresStore) RenameEntity(ctx context.Context, id, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return eris.New("postgres: empty canonical name")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE canonical_entities SET canonical_name = $1, normalized_name = $2 WHERE id = $3 AND NOT retired`,
		name, normalize.Normalize(name), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: rename entity %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: entity %s", id)
	}
	return nil
}

func (s *PostgresStore) ListEntities(ctx context.Context, filter EntityFilter) ([]model.CanonicalEntity, error) {
	query := pgSelectEntity + ` WHERE ($1 = '' OR entity_type = $1)`
	if !filter.IncludeRetired {
		query += ` AND NOT retired`
	}
	query += ` ORDER BY canonical_name, id LIMIT $2 OFFSET $3`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx, query, string(filter.Type), limit, filter.Offset)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list entities")
	}
	defer rows.Close()

	var out []model.CanonicalEntity
	for rows.Next() {
		ent, err := scanPgEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ent)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list entities")
}

func (s *PostgresStore) ResolveAlias(ctx context.Context, text string, scope model.AliasScope) (string, error) {
	key := aliasKey(text, scope)
	if key == "" {
		return "", nil
	}

	var canonicalID string
	err := s.pool.QueryRow(ctx,
		`SELECT canonical_id FROM aliases WHERE alias_text = $1 AND scope = $2 AND active`,
		key, string(scope),
	).Scan(&canonicalID)
	if err == nil {
		return canonicalID, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", eris.Wrap(err, "postgres: resolve alias")
	}

	if scope != model.ScopeName {
		return "", nil
	}

	err = s.pool.QueryRow(ctx,
		`SELECT id FROM canonical_entities WHERE normalized_name = $1 AND NOT retired ORDER BY id LIMIT 1`,
		key,
	).Scan(&canonicalID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", eris.Wrap(err, "postgres: resolve self-alias")
	}
	return canonicalID, nil
}

func (s *PostgresStore) InsertAlias(ctx context.Context, text, canonicalID string, scope model.AliasScope) error {
	if !scope.Valid() {
		return eris.Errorf("postgres: invalid alias scope %q", scope)
	}
	key := aliasKey(text, scope)
	if key == "" {
		return eris.New("postgres: empty alias text")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin insert alias")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var retired bool
	err = tx.QueryRow(ctx,
		`SELECT retired FROM canonical_entities WHERE id = $1`, canonicalID,
	).Scan(&retired)
	if errors.Is(err, pgx.ErrNoRows) {
		return eris.Wrapf(ErrNotFound, "postgres: entity %s", canonicalID)
	}
	if err != nil {
		return eris.Wrap(err, "postgres: check entity")
	}
	if retired {
		return eris.Wrapf(ErrNotFound, "postgres: entity %s is retired", canonicalID)
	}

	var existing string
	err = tx.QueryRow(ctx,
		`SELECT canonical_id FROM aliases WHERE alias_text = $1 AND scope = $2 AND active`,
		key, string(scope),
	).Scan(&existing)
	switch {
	case err == nil && existing == canonicalID:
		return nil // idempotent
	case err == nil:
		return eris.Wrapf(ErrDuplicateAlias, "postgres: %q (%s) already maps to %s", key, scope, existing)
	case !errors.Is(err, pgx.ErrNoRows):
		return eris.Wrap(err, "postgres: check alias")
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO aliases (alias_text, scope, canonical_id, active, created_at) VALUES ($1, $2, $3, TRUE, $4)`,
		key, string(scope), canonicalID, time.Now().UTC(),
	)
	if err != nil {
		return eris.Wrap(err, "postgres: insert alias")
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit insert alias")
}

const pgSelectAlias = `SELECT alias_text, scope, canonical_id, active, created_at FROM aliases`

func (s *PostgresStore) AliasesFor(ctx context.Context, canonicalID string) ([]model.Alias, error) {
	rows, err := s.pool.Query(ctx,
		pgSelectAlias+` WHERE canonical_id = $1 ORDER BY scope, alias_text`, canonicalID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: aliases for")
	}
	defer rows.Close()
	return scanPgAliases(rows)
}

func (s *PostgresStore) CandidateAliases(ctx context.Context, bucket string, typ model.EntityType) ([]model.Alias, error) {
	if bucket == "" {
		return nil, nil
	}
	query := `
SELECT a.alias_text, a.scope, a.canonical_id, a.active, a.created_at
FROM aliases a
JOIN canonical_entities e ON e.id = a.canonical_id
WHERE a.active AND a.scope = 'name' AND NOT e.retired
  AND left(a.alias_text, 1) = $1
  AND ($2 = '' OR e.entity_type = $2)
UNION
SELECT e.normalized_name, 'name', e.id, TRUE, e.created_at
FROM canonical_entities e
WHERE NOT e.retired AND e.normalized_name != ''
  AND left(e.normalized_name, 1) = $1
  AND ($2 = '' OR e.entity_type = $2)
ORDER BY 1, 3`

	rows, err := s.pool.Query(ctx, query, bucket, string(typ))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: candidate aliases")
	}
	defer rows.Close()
	return scanPgAliases(rows)
}

func (s *PostgresStore) CheckIntegrity(ctx context.Context) ([]model.Alias, error) {
	rows, err := s.pool.Query(ctx, `
SELECT a.alias_text, a.scope, a.canonical_id, a.active, a.created_at
FROM aliases a
LEFT JOIN canonical_entities e ON e.id = a.canonical_id
WHERE e.id IS NULL
ORDER BY a.scope, a.alias_text`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: check integrity")
	}
	defer rows.Close()
	return scanPgAliases(rows)
}

func (s *PostgresStore) Merge(ctx context.Context, winnerID, loserID string) error {
	if winnerID == loserID {
		return eris.New("postgres: merge of an entity into itself")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin merge")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	winner, err := pgEntityForUpdate(ctx, tx, winnerID)
	if err != nil {
		return err
	}
	loser, err := pgEntityForUpdate(ctx, tx, loserID)
	if err != nil {
		return err
	}
	if winner.Retired {
		return eris.Wrapf(ErrMergeConflict, "postgres: winner %s is retired", winnerID)
	}
	if loser.Retired {
		return eris.Wrapf(ErrMergeConflict, "postgres: loser %s is retired", loserID)
	}

	if key := loser.NormalizedName; key != "" {
		var existing string
		err := tx.QueryRow(ctx,
			`SELECT canonical_id FROM aliases WHERE alias_text = $1 AND scope = 'name' AND active`,
			key,
		).Scan(&existing)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			if _, err := tx.Exec(ctx,
				`INSERT INTO aliases (alias_text, scope, canonical_id, active, created_at) VALUES ($1, 'name', $2, TRUE, $3)`,
				key, winnerID, time.Now().UTC(),
			); err != nil {
				return eris.Wrap(err, "postgres: merge insert name alias")
			}
		case err != nil:
			return eris.Wrap(err, "postgres: merge check name alias")
		case existing != winnerID && existing != loserID:
			return eris.Wrapf(ErrMergeConflict, "postgres: alias %q held by %s", key, existing)
		}
	}

	if _, err := tx.Exec(ctx,
		`UPDATE aliases SET canonical_id = $1 WHERE canonical_id = $2`, winnerID, loserID,
	); err != nil {
		return eris.Wrap(err, "postgres: merge repoint aliases")
	}
	if _, err := tx.Exec(ctx,
		`UPDATE match_results SET canonical_id = $1 WHERE canonical_id = $2`, winnerID, loserID,
	); err != nil {
		return eris.Wrap(err, "postgres: merge repoint match results")
	}
	if _, err := tx.Exec(ctx,
		`UPDATE canonical_entities SET retired = TRUE, merged_into = $1 WHERE id = $2`, winnerID, loserID,
	); err != nil {
		return eris.Wrap(err, "postgres: merge retire loser")
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit merge")
}

var upsertMatchResultSQL = db.UpsertSQL(
	"match_results",
	[]string{"source_id", "run_id", "canonical_id", "strategy", "confidence", "ambiguous", "reason", "matched_at"},
	[]string{"source_id", "run_id"},
	nil,
)

func (s *PostgresStore) UpsertMatchResult(ctx context.Context, res model.MatchResult) error {
	_, err := s.pool.Exec(ctx, upsertMatchResultSQL,
		res.SourceID, res.RunID, pgNullable(res.CanonicalID), string(res.Strategy),
		res.Confidence, res.Ambiguous, pgNullable(res.Reason), res.MatchedAt,
	)
	return eris.Wrap(err, "postgres: upsert match result")
}

func (s *PostgresStore) ListMatchResults(ctx context.Context, runID string) ([]model.MatchResult, error) {
	rows, err := s.pool.Query(ctx, `
SELECT source_id, run_id, canonical_id, strategy, confidence, ambiguous, reason, matched_at
FROM match_results WHERE run_id = $1 ORDER BY source_id`, runID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list match results")
	}
	defer rows.Close()

	var out []model.MatchResult
	for rows.Next() {
		var (
			r           model.MatchResult
			canonicalID *string
			reason      *string
		)
		if err := rows.Scan(&r.SourceID, &r.RunID, &canonicalID, &r.Strategy, &r.Confidence, &r.Ambiguous, &reason, &r.MatchedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan match result")
		}
		if canonicalID != nil {
			r.CanonicalID = *canonicalID
		}
		if reason != nil {
			r.Reason = *reason
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list match results")
}

var upsertUnresolvedSQL = db.UpsertSQL(
	"unresolved_records",
	[]string{"source_id", "raw_name", "reason", "first_seen", "resolved"},
	[]string{"source_id"},
	[]string{"raw_name", "reason", "resolved"},
)

func (s *PostgresStore) UpsertUnresolved(ctx context.Context, rec model.UnresolvedRecord) error {
	_, err := s.pool.Exec(ctx, upsertUnresolvedSQL,
		rec.SourceID, rec.RawName, string(rec.Reason), rec.FirstSeen, false,
	)
	return eris.Wrap(err, "postgres: upsert unresolved")
}

func (s *PostgresStore) MarkResolved(ctx context.Context, sourceID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE unresolved_records SET resolved = TRUE WHERE source_id = $1`, sourceID)
	return eris.Wrap(err, "postgres: mark resolved")
}

func (s *PostgresStore) ListUnresolved(ctx context.Context, includeResolved bool) ([]model.UnresolvedRecord, error) {
	query := `SELECT source_id, raw_name, reason, first_seen, resolved FROM unresolved_records`
	if !includeResolved {
		query += ` WHERE NOT resolved`
	}
	query += ` ORDER BY first_seen, source_id`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list unresolved")
	}
	defer rows.Close()

	var out []model.UnresolvedRecord
	for rows.Next() {
		var r model.UnresolvedRecord
		if err := rows.Scan(&r.SourceID, &r.RawName, &r.Reason, &r.FirstSeen, &r.Resolved); err != nil {
			return nil, eris.Wrap(err, "postgres: scan unresolved")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list unresolved")
}

var upsertDerivedSQL = db.UpsertSQL(
	"derived_records",
	[]string{"id", "kind", "target_system", "source_id", "natural_key", "payload", "created_at"},
	[]string{"kind", "target_system", "natural_key"},
	[]string{},
)

func (s *PostgresStore) UpsertDerived(ctx context.Context, rec model.DerivedRecord) (bool, error) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	tag, err := s.pool.Exec(ctx, upsertDerivedSQL,
		rec.ID, rec.Kind, rec.TargetSystem, rec.SourceID, rec.NaturalKey,
		pgNullable(rec.Payload), rec.CreatedAt,
	)
	if err != nil {
		return false, eris.Wrap(err, "postgres: upsert derived")
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) DerivedExists(ctx context.Context, kind, targetSystem, naturalKey string) (bool, error) {
	var one int
	err := s.pool.QueryRow(ctx,
		`SELECT 1 FROM derived_records WHERE kind = $1 AND target_system = $2 AND natural_key = $3`,
		kind, targetSystem, naturalKey,
	).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrap(err, "postgres: derived exists")
	}
	return true, nil
}

// --- scan helpers ---

func scanPgEntity(row pgx.Row) (*model.CanonicalEntity, error) {
	var (
		ent        model.CanonicalEntity
		metaJSON   []byte
		mergedInto *string
	)
	err := row.Scan(&ent.ID, &ent.CanonicalName, &ent.NormalizedName, &ent.Type,
		&metaJSON, &mergedInto, &ent.Retired, &ent.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan entity")
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &ent.Metadata); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal metadata")
		}
	}
	if mergedInto != nil {
		ent.MergedInto = *mergedInto
	}
	return &ent, nil
}

func scanPgAliases(rows pgx.Rows) ([]model.Alias, error) {
	var out []model.Alias
	for rows.Next() {
		var a model.Alias
		if err := rows.Scan(&a.Text, &a.Scope, &a.CanonicalID, &a.Active, &a.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan alias")
		}
		out = append(out, a)
	}
	return out, eris.Wrap(rows.Err(), "postgres: scan aliases")
}

func pgEntityForUpdate(ctx context.Context, tx pgx.Tx, id string) (*model.CanonicalEntity, error) {
	row := tx.QueryRow(ctx, pgSelectEntity+` WHERE id = $1 FOR UPDATE`, id)
	ent, err := scanPgEntity(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: entity %s", id)
	}
	return ent, err
}

func pgNullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
