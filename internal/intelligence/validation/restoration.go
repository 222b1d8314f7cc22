package validation

import (
	"context"
	"sort"
	"strings"

	"github.com/turtacn/ConceptGuard/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/ConceptGuard/internal/intelligence/rules"
)

// Restorer recovers concepts from the recognizer's pre-linking candidates.
type Restorer struct {
	generator CandidateGenerator
	lookup    ConceptLookup
	resolver  *Resolver
	logger    logging.Logger
}

// NewRestorer wires a restorer. lookup may be nil, in which case restored
// entities are named after their surface text.
func NewRestorer(generator CandidateGenerator, lookup ConceptLookup, resolver *Resolver, logger logging.Logger) *Restorer {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if resolver == nil {
		resolver = NewResolver(DefaultWindow, logger)
	}
	return &Restorer{generator: generator, lookup: lookup, resolver: resolver, logger: logger}
}

// Restore adds to set at most one entity per concept id for the concepts in
// missing and, when the recognizer found nothing at all (initialCount == 0),
// for pooled concepts whose rule deserves a second look. It returns the
// restored concept ids in the order they were added. A candidate generator
// error is returned unchanged.
func (r *Restorer) Restore(ctx context.Context, store *rules.Store, text string, set *EntitySet, missing map[string]struct{}, initialCount int) ([]string, error) {
	if r.generator == nil || store.Len() == 0 {
		return nil, nil
	}
	if len(missing) == 0 && initialCount != 0 {
		return nil, nil
	}

	pool, err := r.generator.Candidates(ctx, text)
	if err != nil {
		return nil, err
	}
	if len(pool) == 0 {
		return nil, nil
	}
	pool = normalizePool(pool)

	existing := set.ConceptIDs()
	attempt := make(map[string]struct{}, len(missing))
	for id := range missing {
		attempt[normalizeID(id)] = struct{}{}
	}
	if initialCount == 0 {
		for id, cands := range pool {
			if _, ok := existing[id]; ok {
				continue
			}
			if _, ok := attempt[id]; ok {
				continue
			}
			rule, ok := store.Lookup(id)
			if !ok || len(cands) == 0 {
				continue
			}
			if worthRetrying(rule, cands[0]) {
				attempt[id] = struct{}{}
			}
		}
	}

	ids := make([]string, 0, len(attempt))
	for id := range attempt {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var restored []string
	for _, id := range ids {
		if _, ok := existing[id]; ok {
			continue
		}
		rule, ok := store.Lookup(id)
		if !ok {
			continue
		}
		for _, cand := range pool[id] {
			e := r.candidateEntity(ctx, id, cand, text)
			if e == nil {
				continue
			}
			v := r.resolver.evaluate(rule, text, e, phaseRestore)
			if !v.keep {
				continue
			}
			e.Key = set.NextKey()
			if v.match != nil {
				e.AddValueHint(v.match.Hint(rule))
			}
			set.Add(e)
			existing[id] = struct{}{}
			restored = append(restored, id)
			r.logger.Debug("concept restored",
				logging.String("concept_id", id),
				logging.Int("start", e.Start),
				logging.Int("end", e.End),
			)
			break
		}
	}
	return restored, nil
}

// worthRetrying decides whether a pooled concept the recognizer never
// emitted should be tried when the document produced no entities.
func worthRetrying(rule *rules.Rule, first Candidate) bool {
	switch {
	case len(rule.RequiredComponents) > 0 || rule.RequiresValue || rule.IsNumeric:
		return true
	case rule.ShouldEnforceSurface():
		return candidateSurface(first) == rule.NormalizedKeyword
	default:
		return len(rule.ValuePatterns) > 0
	}
}

func candidateSurface(c Candidate) string {
	return rules.NormalizeSurface(c.Text, c.DetectedName)
}

// candidateEntity builds the entity a candidate would become. Candidates with
// an invalid span yield nil.
func (r *Restorer) candidateEntity(ctx context.Context, id string, c Candidate, text string) *Entity {
	if c.End <= c.Start || c.Start < 0 || c.End > len(text) {
		return nil
	}
	textValue := c.Text
	if textValue == "" {
		textValue = strings.ReplaceAll(c.DetectedName, "~", " ")
	}
	detected := c.DetectedName
	if detected == "" {
		detected = strings.ReplaceAll(textValue, " ", "~")
	}

	e := &Entity{
		ConceptID:    id,
		Start:        c.Start,
		End:          c.End,
		DetectedName: detected,
		SourceValue:  textValue,
		PrettyName:   textValue,
		Confidence:   1.0,
		TypeIDs:      []string{},
	}
	if r.lookup == nil {
		return e
	}
	info, ok, err := r.lookup.Lookup(ctx, id)
	if err != nil {
		r.logger.WithError(err).Warn("concept lookup failed; using surface text", logging.String("concept_id", id))
		return e
	}
	if !ok {
		return e
	}
	if info.PreferredName != "" {
		e.PrettyName = info.PreferredName
	}
	e.TypeIDs = normalizeTypeIDs(info.TypeIDs)
	return e
}

func normalizeTypeIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, t := range ids {
		if t = normalizeID(t); t != "" {
			out = append(out, t)
		}
	}
	sort.Strings(out)
	return out
}

func normalizePool(pool CandidatePool) CandidatePool {
	out := make(CandidatePool, len(pool))
	for id, cands := range pool {
		key := normalizeID(id)
		if key == "" {
			continue
		}
		out[key] = append(out[key], cands...)
	}
	return out
}
