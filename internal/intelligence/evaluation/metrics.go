// Package evaluation scores extracted entities against gold annotations with
// exact-span, overlapping-span and type-level metrics.
package evaluation

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/turtacn/ConceptGuard/internal/intelligence/validation"
	apperrors "github.com/turtacn/ConceptGuard/pkg/errors"
)

// Annotation is one predicted or gold entity span. End is exclusive.
type Annotation struct {
	ConceptID string   `json:"cui"`
	Start     int      `json:"start"`
	End       int      `json:"end"`
	TypeIDs   []string `json:"type_ids,omitempty"`
}

// UnmarshalJSON accepts "cui" or "concept_id" for the concept and "type_ids"
// or "types" for the type list. Missing keys are reported as errors.
func (a *Annotation) UnmarshalJSON(b []byte) error {
	var raw struct {
		CUI       *string  `json:"cui"`
		ConceptID *string  `json:"concept_id"`
		Start     *int     `json:"start"`
		End       *int     `json:"end"`
		TypeIDs   []string `json:"type_ids"`
		Types     []string `json:"types"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	var missing []string
	id := raw.CUI
	if id == nil {
		id = raw.ConceptID
	}
	if id == nil {
		missing = append(missing, "cui")
	}
	if raw.Start == nil {
		missing = append(missing, "start")
	}
	if raw.End == nil {
		missing = append(missing, "end")
	}
	if len(missing) > 0 {
		return fmt.Errorf("annotation is missing required keys: %s", strings.Join(missing, ", "))
	}
	a.ConceptID = *id
	a.Start = *raw.Start
	a.End = *raw.End
	a.TypeIDs = raw.TypeIDs
	if len(a.TypeIDs) == 0 {
		a.TypeIDs = raw.Types
	}
	return nil
}

// FromEntities converts engine output into annotations.
func FromEntities(entities []*validation.Entity) []Annotation {
	out := make([]Annotation, 0, len(entities))
	for _, e := range entities {
		if e == nil {
			continue
		}
		out = append(out, Annotation{ConceptID: e.ConceptID, Start: e.Start, End: e.End, TypeIDs: e.TypeIDs})
	}
	return out
}

// SpanScores holds precision, recall and F1 with the counts behind them.
type SpanScores struct {
	Precision      float64 `json:"precision"`
	Recall         float64 `json:"recall"`
	F1             float64 `json:"f1"`
	TP             int     `json:"tp"`
	FP             int     `json:"fp"`
	FN             int     `json:"fn"`
	Matched        int     `json:"matched"`
	TotalPredicted int     `json:"total_predicted"`
	TotalGold      int     `json:"total_gold"`
}

// TypeScores is the share of overlapping same-concept pairs whose gold types
// are covered by the predicted types.
type TypeScores struct {
	Accuracy float64 `json:"accuracy"`
	Matched  int     `json:"matched"`
	Correct  int     `json:"correct"`
}

// Report is the full evaluation of one or more documents.
type Report struct {
	ExactMatch   SpanScores `json:"exact_match"`
	PartialMatch SpanScores `json:"partial_match"`
	TypeAccuracy TypeScores `json:"type_accuracy"`
	EntityCount  int        `json:"entity_count"`
	GoldCount    int        `json:"gold_count"`
}

type entity struct {
	cui        string
	start, end int
	types      map[string]struct{}
}

func (e entity) overlaps(o entity) bool {
	return e.start < o.end && o.start < e.end
}

func normalize(anns []Annotation, role string) ([]entity, error) {
	out := make([]entity, 0, len(anns))
	for i, a := range anns {
		cui := strings.ToUpper(strings.TrimSpace(a.ConceptID))
		if a.Start >= a.End {
			return nil, apperrors.Newf(apperrors.ErrCodeValidation,
				"invalid %s span %d for %s: start=%d, end=%d", role, i, cui, a.Start, a.End)
		}
		types := make(map[string]struct{}, len(a.TypeIDs))
		for _, t := range a.TypeIDs {
			if t = strings.ToUpper(strings.TrimSpace(t)); t != "" {
				types[t] = struct{}{}
			}
		}
		out = append(out, entity{cui: cui, start: a.Start, end: a.End, types: types})
	}
	return out, nil
}

// Evaluate compares predicted annotations of a single document with its gold
// annotations. Annotations with start >= end are rejected.
func Evaluate(predicted, gold []Annotation) (Report, error) {
	var acc Accumulator
	if err := acc.Add(predicted, gold); err != nil {
		return Report{}, err
	}
	return acc.Report(), nil
}

// Accumulator sums counts over many documents so spans of different documents
// are never compared with each other.
type Accumulator struct {
	exactTP, partialTP   int
	predicted, gold      int
	typeMatched, typeHit int
}

// Add scores one document and folds its counts into the totals.
func (a *Accumulator) Add(predicted, gold []Annotation) error {
	p, err := normalize(predicted, "predicted")
	if err != nil {
		return err
	}
	g, err := normalize(gold, "gold")
	if err != nil {
		return err
	}
	a.exactTP += exactMatches(p, g)
	a.partialTP += partialMatches(p, g)
	matched, correct := typeMatches(p, g)
	a.typeMatched += matched
	a.typeHit += correct
	a.predicted += len(p)
	a.gold += len(g)
	return nil
}

// Report computes the metrics for everything added so far.
func (a *Accumulator) Report() Report {
	acc := 0.0
	if a.typeMatched > 0 {
		acc = float64(a.typeHit) / float64(a.typeMatched)
	}
	return Report{
		ExactMatch:   scores(a.exactTP, a.predicted, a.gold),
		PartialMatch: scores(a.partialTP, a.predicted, a.gold),
		TypeAccuracy: TypeScores{Accuracy: acc, Matched: a.typeMatched, Correct: a.typeHit},
		EntityCount:  a.predicted,
		GoldCount:    a.gold,
	}
}

func scores(tp, predicted, gold int) SpanScores {
	s := SpanScores{
		TP:             tp,
		FP:             predicted - tp,
		FN:             gold - tp,
		Matched:        tp,
		TotalPredicted: predicted,
		TotalGold:      gold,
	}
	if predicted > 0 {
		s.Precision = float64(tp) / float64(predicted)
	}
	if gold > 0 {
		s.Recall = float64(tp) / float64(gold)
	}
	if s.Precision+s.Recall > 0 {
		s.F1 = 2 * s.Precision * s.Recall / (s.Precision + s.Recall)
	}
	return s
}

type spanKey struct {
	start, end int
	cui        string
}

// exactMatches counts predictions whose (start, end, cui) equals a gold entry.
// When gold repeats a key only its last occurrence can be matched, once.
func exactMatches(predicted, gold []entity) int {
	lookup := make(map[spanKey]int, len(gold))
	for i, g := range gold {
		lookup[spanKey{g.start, g.end, g.cui}] = i
	}
	used := make(map[int]struct{})
	tp := 0
	for _, p := range predicted {
		idx, ok := lookup[spanKey{p.start, p.end, p.cui}]
		if !ok {
			continue
		}
		if _, dup := used[idx]; dup {
			continue
		}
		used[idx] = struct{}{}
		tp++
	}
	return tp
}

// partialMatches pairs each prediction with the first unused overlapping gold
// entry of the same concept.
func partialMatches(predicted, gold []entity) int {
	used := make([]bool, len(gold))
	tp := 0
	for _, p := range predicted {
		for i, g := range gold {
			if used[i] || g.cui != p.cui || !p.overlaps(g) {
				continue
			}
			used[i] = true
			tp++
			break
		}
	}
	return tp
}

// typeMatches pairs each prediction with the first overlapping gold entry of
// the same concept (gold entries may be reused) and checks type coverage.
func typeMatches(predicted, gold []entity) (matched, correct int) {
	byCUI := make(map[string][]entity)
	for _, g := range gold {
		byCUI[g.cui] = append(byCUI[g.cui], g)
	}
	for _, p := range predicted {
		for _, g := range byCUI[p.cui] {
			if !p.overlaps(g) {
				continue
			}
			matched++
			if subset(g.types, p.types) {
				correct++
			}
			break
		}
	}
	return matched, correct
}

func subset(a, b map[string]struct{}) bool {
	for t := range a {
		if _, ok := b[t]; !ok {
			return false
		}
	}
	return true
}
