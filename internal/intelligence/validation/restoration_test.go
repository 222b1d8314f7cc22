package validation

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/ConceptGuard/internal/intelligence/rules"
)

func TestRestore_MissingConceptFromLaterCandidate(t *testing.T) {
	store := testStore(t)
	text := "HR noted." + strings.Repeat(" ", 100) + "Heart rate 88 bpm"
	set := setOf(t, entityAt(t, text, "HR", "HR"))
	resolver := NewResolver(0, nil)

	missing := resolver.ApplyRules(store, text, set)
	require.Contains(t, missing, "HR")
	require.Equal(t, 0, set.Len())

	gen := staticPool(CandidatePool{
		"hr": {candidateAt(t, text, "HR", 0), candidateAt(t, text, "Heart rate", 0)},
	})
	restored, err := NewRestorer(gen, nil, resolver, nil).Restore(context.Background(), store, text, set, missing, 1)

	require.NoError(t, err)
	assert.Equal(t, []string{"HR"}, restored)
	require.Equal(t, 1, set.Len())
	e := set.All()[0]
	assert.Equal(t, "Heart rate", text[e.Start:e.End])
	assert.Equal(t, 1.0, e.Confidence)
	require.Len(t, e.ValueHints, 1)
	assert.Equal(t, 88.0, e.ValueHints[0].Value)
	// Key 0 was handed out before the original entity was dropped.
	assert.Equal(t, IntKey(1), e.Key)
}

func TestRestore_OpportunisticWhenNothingFound(t *testing.T) {
	store := testStore(t)
	text := "Heart rate 72 at rest, chest pain at night."
	gen := staticPool(CandidatePool{
		"HR": {candidateAt(t, text, "Heart rate", 0)},
		"CP": {candidateAt(t, text, "chest pain", 0)},
	})
	lookup := MapConceptLookup{
		"HR": {PreferredName: "Heart rate", TypeIDs: []string{"t201", "T033"}},
	}
	set := NewEntitySet()

	restored, err := NewRestorer(gen, lookup, nil, nil).Restore(context.Background(), store, text, set, map[string]struct{}{}, 0)

	require.NoError(t, err)
	assert.Equal(t, []string{"CP", "HR"}, restored)
	require.Equal(t, 2, set.Len())

	byID := map[string]*Entity{}
	for _, e := range set.All() {
		byID[e.ConceptID] = e
	}
	hr := byID["HR"]
	require.NotNil(t, hr)
	assert.Equal(t, "Heart rate", hr.PrettyName)
	assert.Equal(t, []string{"T033", "T201"}, hr.TypeIDs)
	assert.Equal(t, 72.0, hr.ValueHints[0].Value)

	cp := byID["CP"]
	require.NotNil(t, cp)
	assert.Equal(t, "chest pain", cp.PrettyName)
	assert.Empty(t, cp.ValueHints)
}

func TestRestore_OpportunisticOnlyForEmptyDocuments(t *testing.T) {
	store := testStore(t)
	text := "Heart rate 72, chest pain."
	gen := staticPool(CandidatePool{"CP": {candidateAt(t, text, "chest pain", 0)}})
	set := setOf(t, entityAt(t, text, "Heart rate", "HR"))

	restored, err := NewRestorer(gen, nil, nil, nil).Restore(context.Background(), store, text, set, map[string]struct{}{}, 1)

	require.NoError(t, err)
	assert.Empty(t, restored)
	assert.Equal(t, 0, gen.calls, "no candidates needed when nothing is missing")
	assert.Equal(t, 1, set.Len())
}

func TestRestore_SurfaceEnforcementRejectsSoleCandidate(t *testing.T) {
	store := testStore(t)
	text := "Reports chest ache since Monday."
	gen := staticPool(CandidatePool{"CP": {candidateAt(t, text, "chest ache", 0)}})
	set := NewEntitySet()

	// Even when the concept was explicitly dropped, the surface must match.
	missing := map[string]struct{}{"CP": {}}
	restored, err := NewRestorer(gen, nil, nil, nil).Restore(context.Background(), store, text, set, missing, 0)

	require.NoError(t, err)
	assert.Empty(t, restored)
	assert.Equal(t, 0, set.Len())
}

func TestRestore_SurfaceUsesDetectedNameWhenTextEmpty(t *testing.T) {
	store := testStore(t)
	text := "Reports chest pain since Monday."
	c := candidateAt(t, text, "chest pain", 0)
	c.Text = ""
	c.DetectedName = "chest~pain"
	gen := staticPool(CandidatePool{"CP": {c}})
	set := NewEntitySet()

	restored, err := NewRestorer(gen, nil, nil, nil).Restore(context.Background(), store, text, set, nil, 0)

	require.NoError(t, err)
	assert.Equal(t, []string{"CP"}, restored)
	e := set.All()[0]
	assert.Equal(t, "chest pain", e.SourceValue)
	assert.Equal(t, "chest~pain", e.DetectedName)
}

func TestRestore_AtMostOnePerConcept(t *testing.T) {
	store := testStore(t)
	text := "Heart rate 70, later heart rate 75."
	gen := staticPool(CandidatePool{"HR": {
		candidateAt(t, text, "Heart rate", 0),
		candidateAt(t, text, "heart rate", 0),
	}})
	set := NewEntitySet()

	restored, err := NewRestorer(gen, nil, nil, nil).Restore(context.Background(), store, text, set, map[string]struct{}{"HR": {}}, 0)

	require.NoError(t, err)
	assert.Equal(t, []string{"HR"}, restored)
	require.Equal(t, 1, set.Len())
	assert.Equal(t, 70.0, set.All()[0].ValueHints[0].Value)
}

func TestRestore_SkipsConceptsAlreadyPresent(t *testing.T) {
	store := testStore(t)
	text := "Heart rate 70, heart rate 75."
	set := setOf(t, entityAt(t, text, "Heart rate", "HR"))
	gen := staticPool(CandidatePool{"HR": {candidateAt(t, text, "heart rate", 0)}})

	restored, err := NewRestorer(gen, nil, nil, nil).Restore(context.Background(), store, text, set, map[string]struct{}{"HR": {}}, 1)

	require.NoError(t, err)
	assert.Empty(t, restored)
	assert.Equal(t, 1, set.Len())
}

func TestRestore_NoPassingCandidate(t *testing.T) {
	store := testStore(t)
	text := "BMI 100, BMI 75."
	gen := staticPool(CandidatePool{"BMI": {candidateAt(t, text, "BMI", 0)}})
	set := NewEntitySet()

	restored, err := NewRestorer(gen, nil, nil, nil).Restore(context.Background(), store, text, set, map[string]struct{}{"BMI": {}}, 0)

	require.NoError(t, err)
	assert.Empty(t, restored)
	assert.Equal(t, 0, set.Len())
}

func TestRestore_InvalidCandidateSpansSkipped(t *testing.T) {
	store := testStore(t)
	text := "Heart rate 70"
	gen := staticPool(CandidatePool{"HR": {
		{Start: 5, End: 5, Text: "x"},
		{Start: 0, End: 500, Text: "Heart rate"},
		candidateAt(t, text, "Heart rate", 0),
	}})
	set := NewEntitySet()

	restored, err := NewRestorer(gen, nil, nil, nil).Restore(context.Background(), store, text, set, map[string]struct{}{"HR": {}}, 0)

	require.NoError(t, err)
	assert.Equal(t, []string{"HR"}, restored)
	assert.Equal(t, 0, set.All()[0].Start)
}

func TestRestore_GeneratorErrorUnchanged(t *testing.T) {
	store := testStore(t)
	boom := errors.New("recognizer pipeline crashed")
	gen := &mockGenerator{candidatesFn: func(context.Context, string) (CandidatePool, error) {
		return nil, boom
	}}

	_, err := NewRestorer(gen, nil, nil, nil).Restore(context.Background(), store, "Heart rate", NewEntitySet(), map[string]struct{}{"HR": {}}, 0)

	assert.Same(t, boom, err)
}

func TestRestore_LookupErrorFallsBackToSurface(t *testing.T) {
	store := testStore(t)
	text := "Heart rate 70"
	gen := staticPool(CandidatePool{"HR": {candidateAt(t, text, "Heart rate", 0)}})
	lookup := &mockLookup{lookupFn: func(context.Context, string) (ConceptInfo, bool, error) {
		return ConceptInfo{}, false, errors.New("db down")
	}}
	set := NewEntitySet()

	restored, err := NewRestorer(gen, lookup, nil, nil).Restore(context.Background(), store, text, set, map[string]struct{}{"HR": {}}, 0)

	require.NoError(t, err)
	assert.Equal(t, []string{"HR"}, restored)
	assert.Equal(t, "Heart rate", set.All()[0].PrettyName)
}

func TestRestore_NoopWithoutRules(t *testing.T) {
	gen := staticPool(CandidatePool{"HR": {{Start: 0, End: 2, Text: "HR"}}})
	restored, err := NewRestorer(gen, nil, nil, nil).Restore(context.Background(), rules.Empty(), "HR 70", NewEntitySet(), nil, 0)

	require.NoError(t, err)
	assert.Empty(t, restored)
	assert.Equal(t, 0, gen.calls)
}

func TestWorthRetrying(t *testing.T) {
	store := testStore(t)
	assert.True(t, worthRetrying(mustRule(t, store, "HR"), Candidate{Text: "anything"}))
	assert.True(t, worthRetrying(mustRule(t, store, "NV"), Candidate{Text: "anything"}))
	assert.True(t, worthRetrying(mustRule(t, store, "CP"), Candidate{Text: "Chest Pain"}))
	assert.False(t, worthRetrying(mustRule(t, store, "CP"), Candidate{Text: "chest ache"}))
}

func TestRestore_NumericConceptNeedsInRangeNumber(t *testing.T) {
	store := testStore(t)

	cases := []struct {
		name string
		text string
	}{
		{"out of range", "Temperature 99 recorded at noon."},
		{"pattern only", "Temperature afebrile today."},
		{"pattern beats a number", "Temperature afebrile, reading 37 at noon."},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gen := staticPool(CandidatePool{"TMP": {candidateAt(t, tc.text, "Temperature", 0)}})
			set := NewEntitySet()
			missing := map[string]struct{}{"TMP": {}}

			restored, err := NewRestorer(gen, nil, nil, nil).Restore(context.Background(), store, tc.text, set, missing, 1)

			require.NoError(t, err)
			assert.Empty(t, restored)
			assert.Equal(t, 0, set.Len())
		})
	}

	t.Run("in range", func(t *testing.T) {
		text := "Temperature 38.5 recorded at noon."
		gen := staticPool(CandidatePool{"TMP": {candidateAt(t, text, "Temperature", 0)}})
		set := NewEntitySet()

		restored, err := NewRestorer(gen, nil, nil, nil).Restore(context.Background(), store, text, set, map[string]struct{}{"TMP": {}}, 1)

		require.NoError(t, err)
		assert.Equal(t, []string{"TMP"}, restored)
		require.Equal(t, 1, set.Len())
		assert.Equal(t, 38.5, set.All()[0].ValueHints[0].Value)
	})
}

func TestRestore_OpportunisticSkipsUnsupportedNumeric(t *testing.T) {
	store := testStore(t)
	text := "Heart rate 500, temperature afebrile."
	gen := staticPool(CandidatePool{
		"HR":  {candidateAt(t, text, "Heart rate", 0)},
		"TMP": {candidateAt(t, text, "temperature", 0)},
	})
	set := NewEntitySet()

	restored, err := NewRestorer(gen, nil, nil, nil).Restore(context.Background(), store, text, set, nil, 0)

	require.NoError(t, err)
	assert.Empty(t, restored)
	assert.Equal(t, 0, set.Len())
}
