package evaluation

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/ConceptGuard/internal/intelligence/validation"
	apperrors "github.com/turtacn/ConceptGuard/pkg/errors"
)

func TestEvaluate_PerfectMatch(t *testing.T) {
	gold := []Annotation{
		{ConceptID: "C1", Start: 0, End: 5, TypeIDs: []string{"T1"}},
		{ConceptID: "C2", Start: 10, End: 15},
	}
	r, err := Evaluate(gold, gold)
	require.NoError(t, err)

	assert.Equal(t, 1.0, r.ExactMatch.Precision)
	assert.Equal(t, 1.0, r.ExactMatch.Recall)
	assert.Equal(t, 1.0, r.ExactMatch.F1)
	assert.Equal(t, 2, r.ExactMatch.TP)
	assert.Equal(t, 0, r.ExactMatch.FP)
	assert.Equal(t, 0, r.ExactMatch.FN)
	assert.Equal(t, 1.0, r.PartialMatch.F1)
	assert.Equal(t, TypeScores{Accuracy: 1, Matched: 2, Correct: 2}, r.TypeAccuracy)
	assert.Equal(t, 2, r.EntityCount)
	assert.Equal(t, 2, r.GoldCount)
}

func TestEvaluate_ExactVersusPartial(t *testing.T) {
	predicted := []Annotation{
		{ConceptID: "c1", Start: 0, End: 5},
		{ConceptID: "C2", Start: 11, End: 14},
		{ConceptID: "C3", Start: 20, End: 25},
	}
	gold := []Annotation{
		{ConceptID: "C1", Start: 0, End: 5},
		{ConceptID: "C2", Start: 10, End: 15},
		{ConceptID: "C4", Start: 30, End: 35},
	}
	r, err := Evaluate(predicted, gold)
	require.NoError(t, err)

	assert.Equal(t, 1, r.ExactMatch.TP)
	assert.Equal(t, 2, r.ExactMatch.FP)
	assert.Equal(t, 2, r.ExactMatch.FN)
	assert.InDelta(t, 1.0/3, r.ExactMatch.Precision, 1e-9)
	assert.InDelta(t, 1.0/3, r.ExactMatch.F1, 1e-9)

	assert.Equal(t, 2, r.PartialMatch.TP)
	assert.Equal(t, 1, r.PartialMatch.FP)
	assert.Equal(t, 1, r.PartialMatch.FN)
	assert.InDelta(t, 2.0/3, r.PartialMatch.Recall, 1e-9)
	assert.Equal(t, 3, r.PartialMatch.TotalPredicted)
	assert.Equal(t, 3, r.PartialMatch.TotalGold)
}

func TestEvaluate_GoldUsedOnce(t *testing.T) {
	predicted := []Annotation{
		{ConceptID: "C1", Start: 0, End: 5},
		{ConceptID: "C1", Start: 0, End: 5},
		{ConceptID: "C1", Start: 2, End: 4},
	}
	gold := []Annotation{{ConceptID: "C1", Start: 0, End: 5}}
	r, err := Evaluate(predicted, gold)
	require.NoError(t, err)
	assert.Equal(t, 1, r.ExactMatch.TP)
	assert.Equal(t, 1, r.PartialMatch.TP)
	assert.Equal(t, 3, r.TypeAccuracy.Matched, "type pairing may reuse gold")
}

func TestEvaluate_TypeAccuracy(t *testing.T) {
	predicted := []Annotation{
		{ConceptID: "C1", Start: 0, End: 5, TypeIDs: []string{"t1", "T2"}},
		{ConceptID: "C2", Start: 10, End: 15, TypeIDs: []string{"T9"}},
		{ConceptID: "C3", Start: 20, End: 25},
		{ConceptID: "C4", Start: 40, End: 45},
	}
	gold := []Annotation{
		{ConceptID: "C1", Start: 1, End: 4, TypeIDs: []string{"T1"}},
		{ConceptID: "C2", Start: 10, End: 15, TypeIDs: []string{"T2"}},
		{ConceptID: "C3", Start: 20, End: 25},
	}
	r, err := Evaluate(predicted, gold)
	require.NoError(t, err)
	assert.Equal(t, 3, r.TypeAccuracy.Matched)
	assert.Equal(t, 2, r.TypeAccuracy.Correct)
	assert.InDelta(t, 2.0/3, r.TypeAccuracy.Accuracy, 1e-9)
}

func TestEvaluate_Empty(t *testing.T) {
	r, err := Evaluate(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, Report{}, r)

	r, err = Evaluate([]Annotation{{ConceptID: "C1", Start: 0, End: 1}}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0.0, r.ExactMatch.Precision)
	assert.Equal(t, 0.0, r.ExactMatch.Recall)
	assert.Equal(t, 0.0, r.ExactMatch.F1)
	assert.Equal(t, 1, r.ExactMatch.FP)
}

func TestEvaluate_InvalidSpan(t *testing.T) {
	_, err := Evaluate([]Annotation{{ConceptID: "C1", Start: 5, End: 5}}, nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidation))

	_, err = Evaluate(nil, []Annotation{{ConceptID: "C1", Start: 6, End: 2}})
	assert.Error(t, err)
}

func TestAccumulator_KeepsDocumentsApart(t *testing.T) {
	var acc Accumulator
	require.NoError(t, acc.Add(
		[]Annotation{{ConceptID: "C1", Start: 0, End: 5}},
		[]Annotation{{ConceptID: "C1", Start: 0, End: 5}},
	))
	require.NoError(t, acc.Add(
		[]Annotation{{ConceptID: "C1", Start: 0, End: 5}},
		nil,
	))
	r := acc.Report()
	assert.Equal(t, 1, r.ExactMatch.TP)
	assert.Equal(t, 1, r.ExactMatch.FP)
	assert.Equal(t, 0.5, r.ExactMatch.Precision)
	assert.Equal(t, 1.0, r.ExactMatch.Recall)
	assert.Equal(t, 2, r.EntityCount)
	assert.Equal(t, 1, r.GoldCount)
}

func TestAnnotation_UnmarshalJSON(t *testing.T) {
	var a Annotation
	require.NoError(t, json.Unmarshal([]byte(`{"concept_id":"c1","start":1,"end":3,"types":["T1"]}`), &a))
	assert.Equal(t, Annotation{ConceptID: "c1", Start: 1, End: 3, TypeIDs: []string{"T1"}}, a)

	require.NoError(t, json.Unmarshal([]byte(`{"cui":"C2","start":0,"end":2,"type_ids":["A"],"types":["B"]}`), &a))
	assert.Equal(t, []string{"A"}, a.TypeIDs)

	err := json.Unmarshal([]byte(`{"cui":"C2","end":2}`), &a)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start")
}

func TestFromEntities(t *testing.T) {
	got := FromEntities([]*validation.Entity{
		nil,
		{Key: validation.IntKey(0), ConceptID: "C1", Start: 1, End: 4, TypeIDs: []string{"T1"}},
	})
	assert.Equal(t, []Annotation{{ConceptID: "C1", Start: 1, End: 4, TypeIDs: []string{"T1"}}}, got)
}
