// Package extraction provides the application-level service for entity
// extraction. It sits between the transports (HTTP, CLI, Kafka worker) and
// the validation engine.
package extraction

import (
	"context"
	"strings"
	"time"

	"github.com/turtacn/ConceptGuard/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/ConceptGuard/internal/intelligence/evaluation"
	"github.com/turtacn/ConceptGuard/internal/intelligence/hints"
	"github.com/turtacn/ConceptGuard/internal/intelligence/rules"
	"github.com/turtacn/ConceptGuard/internal/intelligence/validation"
	"github.com/turtacn/ConceptGuard/pkg/errors"
)

// DefaultMaxBatchSize bounds ExtractBatch and Evaluate when no limit is set.
const DefaultMaxBatchSize = 256

// Service defines the extraction use cases.
type Service interface {
	Extract(ctx context.Context, input *ExtractInput) (*validation.Result, error)
	ExtractBatch(ctx context.Context, input *BatchInput) ([]*validation.Result, error)
	Evaluate(ctx context.Context, input *EvaluateInput) (*evaluation.RunResult, error)
	MatchHints(ctx context.Context, text string) []hints.Match
	GetRule(ctx context.Context, conceptID string) (*rules.Rule, error)
	RulesInfo(ctx context.Context) rules.Info
	ReloadRules(ctx context.Context) (rules.Info, error)
}

// Overrides adjusts the engine configuration for one call. Nil fields keep
// the configured value.
type Overrides struct {
	MinConfidence       *float64
	EnableRestoration   *bool
	EnableCombinedHints *bool
}

func (o Overrides) validate() error {
	if o.MinConfidence != nil && (*o.MinConfidence < 0 || *o.MinConfidence > 1) {
		return errors.Newf(errors.ErrCodeValidation, "min_confidence %.3f is out of range [0, 1]", *o.MinConfidence)
	}
	return nil
}

func (o Overrides) options() []validation.ExtractOption {
	var opts []validation.ExtractOption
	if o.MinConfidence != nil {
		opts = append(opts, validation.WithMinConfidence(*o.MinConfidence))
	}
	if o.EnableRestoration != nil {
		opts = append(opts, validation.WithRestoration(*o.EnableRestoration))
	}
	if o.EnableCombinedHints != nil {
		opts = append(opts, validation.WithCombinedHints(*o.EnableCombinedHints))
	}
	return opts
}

// ExtractInput contains input for a single-document extraction.
type ExtractInput struct {
	Text string
	Overrides
}

// BatchInput contains input for a batch extraction.
type BatchInput struct {
	Texts []string
	Overrides
}

// EvaluateInput contains an annotated dataset to score.
type EvaluateInput struct {
	Documents []evaluation.Document
	Overrides
}

// Option configures the service.
type Option func(*serviceImpl)

// WithMaxBatchSize caps the number of documents per batch or evaluation.
func WithMaxBatchSize(n int) Option {
	return func(s *serviceImpl) {
		if n > 0 {
			s.maxBatch = n
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(l logging.Logger) Option {
	return func(s *serviceImpl) {
		if l != nil {
			s.logger = l
		}
	}
}

type serviceImpl struct {
	engine   validation.Engine
	holder   *rules.Holder
	maxBatch int
	logger   logging.Logger
}

// NewService creates the extraction service over engine and the rule holder
// the engine reads from.
func NewService(engine validation.Engine, holder *rules.Holder, opts ...Option) (Service, error) {
	if engine == nil {
		return nil, errors.New(errors.ErrCodeValidation, "engine is required")
	}
	if holder == nil {
		return nil, errors.New(errors.ErrCodeValidation, "rule holder is required")
	}
	s := &serviceImpl{
		engine:   engine,
		holder:   holder,
		maxBatch: DefaultMaxBatchSize,
		logger:   logging.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("extraction")
	return s, nil
}

func (s *serviceImpl) Extract(ctx context.Context, input *ExtractInput) (*validation.Result, error) {
	if input == nil {
		return nil, errors.New(errors.ErrCodeInvalidRequest, "input is required")
	}
	if err := input.validate(); err != nil {
		return nil, err
	}

	res, err := s.engine.Extract(ctx, input.Text, input.options()...)
	if err != nil {
		s.logger.WithContext(ctx).Error("extraction failed", logging.Err(err))
		return nil, err
	}
	s.logger.WithContext(ctx).Debug("document extracted",
		logging.Int("text_bytes", len(input.Text)),
		logging.Int("entities", len(res.Entities)),
		logging.Int("restored", len(res.Restored)))
	return res, nil
}

func (s *serviceImpl) ExtractBatch(ctx context.Context, input *BatchInput) ([]*validation.Result, error) {
	if input == nil {
		return nil, errors.New(errors.ErrCodeInvalidRequest, "input is required")
	}
	if err := s.checkBatch(len(input.Texts)); err != nil {
		return nil, err
	}
	if err := input.validate(); err != nil {
		return nil, err
	}
	if len(input.Texts) == 0 {
		return []*validation.Result{}, nil
	}

	start := time.Now()
	results, err := s.engine.ExtractBatch(ctx, input.Texts, input.options()...)
	if err != nil {
		s.logger.WithContext(ctx).Error("batch extraction failed", logging.Int("documents", len(input.Texts)), logging.Err(err))
		return nil, err
	}
	s.logger.WithContext(ctx).Info("batch extracted",
		logging.Int("documents", len(input.Texts)),
		logging.Duration("elapsed", time.Since(start)))
	return results, nil
}

func (s *serviceImpl) Evaluate(ctx context.Context, input *EvaluateInput) (*evaluation.RunResult, error) {
	if input == nil || len(input.Documents) == 0 {
		return nil, errors.New(errors.ErrCodeInvalidRequest, "at least one document is required")
	}
	if err := s.checkBatch(len(input.Documents)); err != nil {
		return nil, err
	}
	if err := input.validate(); err != nil {
		return nil, err
	}

	run, err := evaluation.Run(ctx, s.engine, input.Documents, input.options()...)
	if err != nil {
		return nil, err
	}
	s.logger.WithContext(ctx).Info("evaluation finished",
		logging.Int("documents", len(input.Documents)),
		logging.Float64("exact_f1", run.Overall.ExactMatch.F1),
		logging.Float64("partial_f1", run.Overall.PartialMatch.F1))
	return run, nil
}

func (s *serviceImpl) checkBatch(n int) error {
	if n > s.maxBatch {
		return errors.Newf(errors.ErrCodeBatchTooLarge, "batch of %d documents exceeds the maximum of %d", n, s.maxBatch)
	}
	return nil
}

// MatchHints runs only the combined-hint matcher of the active store.
func (s *serviceImpl) MatchHints(_ context.Context, text string) []hints.Match {
	matches := s.holder.Current().Hints().FindMatches(text)
	if matches == nil {
		return []hints.Match{}
	}
	return matches
}

func (s *serviceImpl) GetRule(_ context.Context, conceptID string) (*rules.Rule, error) {
	if strings.TrimSpace(conceptID) == "" {
		return nil, errors.New(errors.ErrCodeInvalidRequest, "concept id is required")
	}
	r, ok := s.holder.Current().Lookup(conceptID)
	if !ok {
		return nil, errors.Newf(errors.ErrCodeRuleNotFound, "no rule for concept %s", conceptID)
	}
	return r, nil
}

func (s *serviceImpl) RulesInfo(_ context.Context) rules.Info {
	return s.holder.Current().Info()
}

// ReloadRules rebuilds the store from its source. The previous store stays
// active when the reload fails.
func (s *serviceImpl) ReloadRules(ctx context.Context) (rules.Info, error) {
	st, err := s.holder.Reload(ctx)
	if err != nil {
		return s.holder.Current().Info(), err
	}
	return st.Info(), nil
}
