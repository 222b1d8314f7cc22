package validation

import (
	"context"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/turtacn/ConceptGuard/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/ConceptGuard/internal/intelligence/hints"
	apperrors "github.com/turtacn/ConceptGuard/pkg/errors"
)

// Metric stage and outcome labels.
const (
	StageIngest      = "ingest"
	StageCombined    = "combined"
	StageConfidence  = "confidence"
	StageValidation  = "validation"
	StageRestoration = "restoration"
	StageDedup       = "dedup"

	OutcomeKept     = "kept"
	OutcomeDropped  = "dropped"
	OutcomeAdded    = "added"
	OutcomeRestored = "restored"

	statusOK    = "ok"
	statusError = "error"
)

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

// Config tunes the engine.
type Config struct {
	Window              int     `json:"window" yaml:"window"`
	MinConfidence       float64 `json:"min_confidence" yaml:"min_confidence"`
	EnableRestoration   bool    `json:"enable_restoration" yaml:"enable_restoration"`
	EnableCombinedHints bool    `json:"enable_combined_hints" yaml:"enable_combined_hints"`
	BatchConcurrency    int     `json:"batch_concurrency" yaml:"batch_concurrency"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Window:              DefaultWindow,
		EnableRestoration:   true,
		EnableCombinedHints: true,
		BatchConcurrency:    4,
	}
}

// ExtractOption overrides engine configuration for one call.
type ExtractOption func(*Config)

// WithMinConfidence drops entities below c before validation. Zero disables
// the filter.
func WithMinConfidence(c float64) ExtractOption {
	return func(cfg *Config) { cfg.MinConfidence = c }
}

// WithRestoration toggles candidate restoration.
func WithRestoration(enabled bool) ExtractOption {
	return func(cfg *Config) { cfg.EnableRestoration = enabled }
}

// WithCombinedHints toggles combined-hint matching.
func WithCombinedHints(enabled bool) ExtractOption {
	return func(cfg *Config) { cfg.EnableCombinedHints = enabled }
}

// ---------------------------------------------------------------------------
// Engine
// ---------------------------------------------------------------------------

// Result is the outcome of one document.
type Result struct {
	Entities            []*Entity     `json:"entities"`
	CombinedHintMatches []hints.Match `json:"combined_hint_matches"`
	MissingConcepts     []string      `json:"missing_concepts"`
	Restored            []string      `json:"restored"`
	ProcessingTimeMs    int64         `json:"processing_time_ms"`
}

// Engine extracts validated concepts from text.
type Engine interface {
	Extract(ctx context.Context, text string, opts ...ExtractOption) (*Result, error)
	ExtractBatch(ctx context.Context, texts []string, opts ...ExtractOption) ([]*Result, error)
}

// Option configures an engine.
type Option func(*engineImpl)

// WithCandidateGenerator sets the candidate source used for restoration.
// When unset, a recognizer that also implements CandidateGenerator is used.
func WithCandidateGenerator(g CandidateGenerator) Option {
	return func(e *engineImpl) { e.generator = g }
}

// WithConceptLookup sets the metadata source for restored entities.
func WithConceptLookup(l ConceptLookup) Option {
	return func(e *engineImpl) { e.lookup = l }
}

// WithLogger sets the engine logger. A nil logger is ignored.
func WithLogger(l logging.Logger) Option {
	return func(e *engineImpl) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMetrics sets the recorder for per-document outcomes.
func WithMetrics(m Metrics) Option {
	return func(e *engineImpl) {
		if m != nil {
			e.metrics = m
		}
	}
}

type engineImpl struct {
	recognizer Recognizer
	generator  CandidateGenerator
	lookup     ConceptLookup
	stores     StoreProvider
	config     Config
	logger     logging.Logger
	metrics    Metrics

	resolver *Resolver
	restorer *Restorer
}

// NewEngine wires an engine around a recognizer and a rule store provider.
func NewEngine(recognizer Recognizer, stores StoreProvider, cfg Config, opts ...Option) (Engine, error) {
	if recognizer == nil {
		return nil, apperrors.New(apperrors.ErrCodeValidation, "recognizer is required")
	}
	if stores == nil {
		return nil, apperrors.New(apperrors.ErrCodeValidation, "rule store provider is required")
	}
	e := &engineImpl{
		recognizer: recognizer,
		stores:     stores,
		config:     cfg,
		logger:     logging.NewNopLogger(),
		metrics:    noopMetrics{},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.generator == nil {
		if g, ok := recognizer.(CandidateGenerator); ok {
			e.generator = g
		}
	}
	if e.config.BatchConcurrency <= 0 {
		e.config.BatchConcurrency = 1
	}
	e.resolver = NewResolver(cfg.Window, e.logger.Named("resolver"))
	e.restorer = NewRestorer(e.generator, e.lookup, e.resolver, e.logger.Named("restore"))
	return e, nil
}

// Extract runs the full pipeline on one document. Recognizer and candidate
// generator errors are returned unchanged.
func (e *engineImpl) Extract(ctx context.Context, text string, opts ...ExtractOption) (*Result, error) {
	cfg := e.config
	for _, opt := range opts {
		opt(&cfg)
	}
	start := time.Now()
	res := &Result{
		Entities:            []*Entity{},
		CombinedHintMatches: []hints.Match{},
		MissingConcepts:     []string{},
		Restored:            []string{},
	}
	if strings.TrimSpace(text) == "" {
		return res, nil
	}

	// One store snapshot for the whole call.
	store := e.stores.Current()
	logger := e.logger.WithContext(ctx)

	raw, err := e.recognizer.GetEntities(ctx, text)
	if err != nil {
		e.metrics.ObserveDocument(statusError, time.Since(start))
		return nil, err
	}

	set := NewEntitySet()
	dropped := 0
	for i := range raw {
		ent := raw[i]
		if ent.End <= ent.Start || ent.Start < 0 || ent.End > len(text) {
			dropped++
			continue
		}
		if ent.TypeIDs == nil {
			ent.TypeIDs = []string{}
		}
		if !set.Add(&ent) {
			ent.Key = EntityKey{}
			set.Add(&ent)
		}
	}
	e.metrics.ObserveEntities(StageIngest, OutcomeKept, set.Len())
	e.metrics.ObserveEntities(StageIngest, OutcomeDropped, dropped)

	if cfg.EnableCombinedHints {
		res.CombinedHintMatches = append(res.CombinedHintMatches, store.Hints().FindMatches(text)...)
		n := addCombinedEntities(set, res.CombinedHintMatches)
		e.metrics.ObserveEntities(StageCombined, OutcomeAdded, n)
	}

	if cfg.MinConfidence > 0 {
		n := set.Filter(func(ent *Entity) bool { return ent.Confidence >= cfg.MinConfidence })
		e.metrics.ObserveEntities(StageConfidence, OutcomeDropped, n)
	}

	initialCount := set.Len()
	before := set.Len()
	missing := e.resolver.ApplyRules(store, text, set)
	e.metrics.ObserveEntities(StageValidation, OutcomeDropped, before-set.Len())
	e.metrics.ObserveEntities(StageValidation, OutcomeKept, set.Len())

	if cfg.EnableRestoration {
		restored, err := e.restorer.Restore(ctx, store, text, set, missing, initialCount)
		if err != nil {
			e.metrics.ObserveDocument(statusError, time.Since(start))
			return nil, err
		}
		res.Restored = append(res.Restored, restored...)
		e.metrics.ObserveEntities(StageRestoration, OutcomeRestored, len(restored))
	}

	e.metrics.ObserveEntities(StageDedup, OutcomeDropped, Deduplicate(set))

	res.Entities = set.All()
	for id := range missing {
		res.MissingConcepts = append(res.MissingConcepts, id)
	}
	sort.Strings(res.MissingConcepts)
	res.ProcessingTimeMs = time.Since(start).Milliseconds()
	e.metrics.ObserveDocument(statusOK, time.Since(start))

	logger.Debug("document processed",
		logging.Int("entities", len(res.Entities)),
		logging.Int("combined_matches", len(res.CombinedHintMatches)),
		logging.Int("missing", len(res.MissingConcepts)),
		logging.Int("restored", len(res.Restored)),
		logging.Duration("elapsed", time.Since(start)),
	)
	return res, nil
}

// addCombinedEntities turns matches into synthetic entities keyed from the
// first unused combined_N onward and returns how many were added.
func addCombinedEntities(set *EntitySet, matches []hints.Match) int {
	if len(matches) == 0 {
		return 0
	}
	offset := 0
	for set.Has(CombinedKey(offset)) {
		offset++
	}
	added := 0
	for i, m := range matches {
		key := CombinedKey(offset + i)
		if set.Has(key) {
			continue
		}
		set.Add(&Entity{
			Key:          key,
			ConceptID:    m.ConceptID,
			Start:        m.Start,
			End:          m.End,
			DetectedName: m.Name,
			SourceValue:  m.MatchedText,
			PrettyName:   m.Name,
			Confidence:   1.0,
			TypeIDs:      []string{},
			Synthetic:    true,
		})
		added++
	}
	return added
}

// ExtractBatch processes texts concurrently, preserving order. The first
// failure cancels the remaining documents and is returned.
func (e *engineImpl) ExtractBatch(ctx context.Context, texts []string, opts ...ExtractOption) ([]*Result, error) {
	results := make([]*Result, len(texts))
	if len(texts) == 0 {
		return results, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.config.BatchConcurrency)
	for i, text := range texts {
		i, text := i, text
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := e.Extract(gctx, text, opts...)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
