// Package pipeline batch-orchestrates resolution: normalization and
// matching run concurrently across records, classification and
// persistence go through a single writer. Runs are idempotent per
// (source_id, run_id).
package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/resolve-cli/internal/matcher"
	"github.com/sells-group/resolve-cli/internal/model"
	"github.com/sells-group/resolve-cli/internal/normalize"
	"github.com/sells-group/resolve-cli/internal/resilience"
	"github.com/sells-group/resolve-cli/internal/store"
)

// Config controls batch execution and the auto-alias/auto-create paths.
type Config struct {
	// Workers sizes the matching worker pool. Default: 8.
	Workers int `yaml:"workers" mapstructure:"workers"`

	// AutoAliasThreshold is the minimum confidence for persisting a
	// fuzzy/keyword decision as a permanent alias. Stricter than the
	// match-acceptance thresholds. Default: 0.95.
	AutoAliasThreshold float64 `yaml:"auto_alias_threshold" mapstructure:"auto_alias_threshold"`

	// AutoCreateCanonical lazily creates a canonical entity for records
	// with no match. Off by default: uncontrolled auto-creation
	// fragments identities, so every creation is warn-logged.
	AutoCreateCanonical bool `yaml:"auto_create_canonical" mapstructure:"auto_create_canonical"`

	// AutoCreateType is the entity type for auto-created canonicals.
	AutoCreateType model.EntityType `yaml:"auto_create_type" mapstructure:"auto_create_type"`

	// WriteRate throttles store writes (writes/sec); 0 means unlimited.
	WriteRate float64 `yaml:"write_rate" mapstructure:"write_rate"`

	// Retry controls backoff for transient store-write failures.
	Retry resilience.RetryConfig `yaml:"-" mapstructure:"-"`
}

// Report summarizes one pipeline run for operator triage.
type Report struct {
	RunID      string                      `json:"run_id"`
	Total      int                         `json:"total"`
	Matched    int                         `json:"matched"`
	Ambiguous  int                         `json:"ambiguous"`
	NoMatch    int                         `json:"no_match"`
	Invalid    int                         `json:"invalid"`
	AutoAlias  int                         `json:"auto_alias"`
	AutoCreate int                         `json:"auto_create"`
	Errors     int                         `json:"errors"`
	ByStrategy map[model.MatchStrategy]int `json:"by_strategy"`
	Elapsed    time.Duration               `json:"elapsed"`
}

// Pipeline resolves batches of source records against the store.
type Pipeline struct {
	store   store.Store
	matcher *matcher.Matcher
	cfg     Config

	// Matching is read-only and parallel; every store write goes
	// through writeMu so concurrent auto-alias insertions for the same
	// new name cannot both succeed.
	writeMu sync.Mutex
	limiter *rate.Limiter
}

// New creates a Pipeline. Zero config values fall back to defaults.
func New(st store.Store, m *matcher.Matcher, cfg Config) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.AutoAliasThreshold <= 0 {
		cfg.AutoAliasThreshold = 0.95
	}
	if cfg.AutoCreateType == "" {
		cfg.AutoCreateType = model.EntityClient
	}
	p := &Pipeline{store: st, matcher: m, cfg: cfg}
	if cfg.WriteRate > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(cfg.WriteRate), 1)
	}
	return p
}

// Run resolves all records under runID. One bad record never aborts the
// batch; failures are counted and logged. A context deadline stops the
// scheduling of further records, leaving them to the next run.
func (p *Pipeline) Run(ctx context.Context, runID string, records []model.SourceRecord) (*Report, error) {
	if runID == "" {
		return nil, errors.New("pipeline: empty run id")
	}

	log := zap.L().With(zap.String("run_id", runID))
	start := time.Now()
	report := &Report{RunID: runID, ByStrategy: make(map[model.MatchStrategy]int)}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers)

	for _, rec := range records {
		if gctx.Err() != nil {
			break
		}
		report.Total++
		g.Go(func() error {
			res, err := p.matcher.Match(gctx, rec)
			if err != nil {
				log.Error("match failed",
					zap.String("source_id", rec.SourceID),
					zap.Error(err),
				)
				p.count(report, func(r *Report) { r.Errors++ })
				return nil
			}
			res.RunID = runID

			if err := p.persist(gctx, log, rec, res, report); err != nil {
				log.Error("persist failed",
					zap.String("source_id", rec.SourceID),
					zap.Error(err),
				)
				p.count(report, func(r *Report) { r.Errors++ })
			}
			return nil
		})
	}

	err := g.Wait()
	report.Elapsed = time.Since(start)
	log.Info("run complete",
		zap.Int("total", report.Total),
		zap.Int("matched", report.Matched),
		zap.Int("ambiguous", report.Ambiguous),
		zap.Int("no_match", report.NoMatch),
		zap.Int("invalid", report.Invalid),
		zap.Int("auto_alias", report.AutoAlias),
		zap.Int("errors", report.Errors),
		zap.Duration("elapsed", report.Elapsed),
	)
	return report, err
}

func (p *Pipeline) count(report *Report, fn func(*Report)) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	fn(report)
}

// persist classifies the match result and writes it under the single
// writer. Integrity violations surface immediately; transient store
// failures are retried with backoff.
func (p *Pipeline) persist(ctx context.Context, log *zap.Logger, rec model.SourceRecord, res model.MatchResult, report *Report) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	switch {
	case res.Ambiguous:
		report.Ambiguous++
		report.ByStrategy[res.Strategy]++
		if err := p.write(ctx, "upsert match result", func(ctx context.Context) error {
			return p.store.UpsertMatchResult(ctx, res)
		}); err != nil {
			return err
		}
		return p.write(ctx, "upsert unresolved", func(ctx context.Context) error {
			return p.store.UpsertUnresolved(ctx, model.UnresolvedRecord{
				SourceID:  rec.SourceID,
				RawName:   rec.RawName,
				Reason:    model.ReasonAmbiguous,
				FirstSeen: res.MatchedAt,
			})
		})

	case res.CanonicalID != "":
		report.Matched++
		report.ByStrategy[res.Strategy]++
		if err := p.write(ctx, "upsert match result", func(ctx context.Context) error {
			return p.store.UpsertMatchResult(ctx, res)
		}); err != nil {
			return err
		}
		if err := p.write(ctx, "mark resolved", func(ctx context.Context) error {
			return p.store.MarkResolved(ctx, rec.SourceID)
		}); err != nil {
			return err
		}
		p.maybeAutoAlias(ctx, log, rec, res, report)
		return nil

	case res.Reason == string(model.ReasonInvalidInput):
		report.Invalid++
		report.ByStrategy[model.StrategyNone]++
		if err := p.write(ctx, "upsert match result", func(ctx context.Context) error {
			return p.store.UpsertMatchResult(ctx, res)
		}); err != nil {
			return err
		}
		return p.write(ctx, "upsert unresolved", func(ctx context.Context) error {
			return p.store.UpsertUnresolved(ctx, model.UnresolvedRecord{
				SourceID:  rec.SourceID,
				RawName:   rec.RawName,
				Reason:    model.ReasonInvalidInput,
				FirstSeen: res.MatchedAt,
			})
		})

	default: // no match
		if p.cfg.AutoCreateCanonical {
			return p.autoCreate(ctx, log, rec, res, report)
		}
		report.NoMatch++
		report.ByStrategy[model.StrategyNone]++
		if err := p.write(ctx, "upsert match result", func(ctx context.Context) error {
			return p.store.UpsertMatchResult(ctx, res)
		}); err != nil {
			return err
		}
		return p.write(ctx, "upsert unresolved", func(ctx context.Context) error {
			return p.store.UpsertUnresolved(ctx, model.UnresolvedRecord{
				SourceID:  rec.SourceID,
				RawName:   rec.RawName,
				Reason:    model.ReasonNoMatch,
				FirstSeen: res.MatchedAt,
			})
		})
	}
}

// maybeAutoAlias persists a high-confidence fuzzy/keyword decision as a
// permanent alias so future runs hit the cheap exact-match path. A
// duplicate-alias conflict is surfaced and skipped, never retried.
func (p *Pipeline) maybeAutoAlias(ctx context.Context, log *zap.Logger, rec model.SourceRecord, res model.MatchResult, report *Report) {
	if res.Strategy != model.StrategyFuzzy && res.Strategy != model.StrategyKeyword {
		return
	}
	if res.Confidence < p.cfg.AutoAliasThreshold {
		return
	}

	err := p.write(ctx, "auto alias", func(ctx context.Context) error {
		return p.store.InsertAlias(ctx, rec.RawName, res.CanonicalID, model.ScopeName)
	})
	switch {
	case err == nil:
		report.AutoAlias++
		log.Info("auto-alias inserted",
			zap.String("alias", normalize.Normalize(rec.RawName)),
			zap.String("canonical_id", res.CanonicalID),
			zap.Float64("confidence", res.Confidence),
		)
	case errors.Is(err, store.ErrDuplicateAlias):
		log.Warn("auto-alias conflict",
			zap.String("alias", normalize.Normalize(rec.RawName)),
			zap.String("canonical_id", res.CanonicalID),
			zap.Error(err),
		)
	default:
		log.Error("auto-alias failed", zap.Error(err))
	}
}

// autoCreate lazily creates a canonical entity for an unmatched record.
// Rare by design and always warn-logged.
func (p *Pipeline) autoCreate(ctx context.Context, log *zap.Logger, rec model.SourceRecord, res model.MatchResult, report *Report) error {
	ent, err := resilience.DoVal(ctx, p.retryCfg("auto create"), func(ctx context.Context) (*model.CanonicalEntity, error) {
		return p.store.CreateEntity(ctx, rec.RawName, p.cfg.AutoCreateType, map[string]string{
			"source_system": rec.SourceSystem,
			"created_by":    "pipeline",
		})
	})
	if err != nil {
		return err
	}

	log.Warn("auto-created canonical entity",
		zap.String("canonical_id", ent.ID),
		zap.String("canonical_name", ent.CanonicalName),
		zap.String("source_id", rec.SourceID),
	)

	if rec.ReferenceNumber != "" {
		if err := p.write(ctx, "auto create reference alias", func(ctx context.Context) error {
			return p.store.InsertAlias(ctx, rec.ReferenceNumber, ent.ID, model.ScopeReferenceNumber)
		}); err != nil && !errors.Is(err, store.ErrDuplicateAlias) {
			return err
		}
	}

	res.CanonicalID = ent.ID
	res.Strategy = model.StrategyAutoCreate
	res.Confidence = 1.0
	res.Reason = "auto-created canonical"

	report.AutoCreate++
	report.Matched++
	report.ByStrategy[model.StrategyAutoCreate]++

	if err := p.write(ctx, "upsert match result", func(ctx context.Context) error {
		return p.store.UpsertMatchResult(ctx, res)
	}); err != nil {
		return err
	}
	return p.write(ctx, "mark resolved", func(ctx context.Context) error {
		return p.store.MarkResolved(ctx, rec.SourceID)
	})
}

func (p *Pipeline) write(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return resilience.Do(ctx, p.retryCfg(op), fn)
}

func (p *Pipeline) retryCfg(op string) resilience.RetryConfig {
	cfg := p.cfg.Retry
	if cfg.MaxAttempts == 0 {
		cfg = resilience.DefaultRetryConfig()
	}
	if cfg.OnRetry == nil {
		cfg.OnRetry = resilience.RetryLogger(op)
	}
	if cfg.ShouldRetry == nil {
		cfg.ShouldRetry = func(err error) bool {
			if errors.Is(err, store.ErrDuplicateAlias) ||
				errors.Is(err, store.ErrMergeConflict) ||
				errors.Is(err, store.ErrNotFound) {
				return false
			}
			return resilience.IsTransient(err)
		}
	}
	return cfg
}
