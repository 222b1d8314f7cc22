package validation

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/turtacn/ConceptGuard/internal/intelligence/hints"
	"github.com/turtacn/ConceptGuard/internal/intelligence/rules"
)

// =========================================================================
// Mocks
// =========================================================================

type mockRecognizer struct {
	getEntitiesFn func(ctx context.Context, text string) ([]Entity, error)
}

func (m *mockRecognizer) GetEntities(ctx context.Context, text string) ([]Entity, error) {
	if m.getEntitiesFn != nil {
		return m.getEntitiesFn(ctx, text)
	}
	return nil, nil
}

type mockGenerator struct {
	candidatesFn func(ctx context.Context, text string) (CandidatePool, error)
	mu           sync.Mutex
	calls        int
}

func (m *mockGenerator) Candidates(ctx context.Context, text string) (CandidatePool, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.candidatesFn != nil {
		return m.candidatesFn(ctx, text)
	}
	return nil, nil
}

func staticPool(pool CandidatePool) *mockGenerator {
	return &mockGenerator{candidatesFn: func(context.Context, string) (CandidatePool, error) {
		return pool, nil
	}}
}

type mockLookup struct {
	lookupFn func(ctx context.Context, id string) (ConceptInfo, bool, error)
}

func (m *mockLookup) Lookup(ctx context.Context, id string) (ConceptInfo, bool, error) {
	return m.lookupFn(ctx, id)
}

type recordingMetrics struct {
	mu        sync.Mutex
	entities  map[string]int
	documents map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{entities: map[string]int{}, documents: map[string]int{}}
}

func (m *recordingMetrics) ObserveEntities(stage, outcome string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entities[stage+"/"+outcome] += n
}

func (m *recordingMetrics) ObserveDocument(status string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.documents[status]++
}

// =========================================================================
// Fixtures
// =========================================================================

// Concepts used across the tests:
//
//	HR   numeric, [30,220]
//	BMI  numeric, [10,60]
//	TMP  numeric with a textual pattern, [35,42]; only a number satisfies it
//	SMK  textual patterns only
//	PS   "Pain/Swelling", pattern "severe", components pain and swelling
//	CP   value-free, surface enforced
//	NV   "Nausea/Vomiting", value-free with components
//	FSC  requires a value it can never find; only reachable via combined hints
func testStore(t *testing.T) *rules.Store {
	t.Helper()
	rows := []rules.Row{
		{Source: "numerical", Keyword: "Heart rate", ConceptID: "HR", ClusterID: "C1", ClusterTitle: "Vitals"},
		{Source: "numerical", Keyword: "BMI", ConceptID: "BMI", ClusterID: "C1", ClusterTitle: "Vitals"},
		{Source: "numerical", Keyword: "Temperature", ConceptID: "TMP", ClusterID: "C1", ClusterTitle: "Vitals", DataValue: "afebrile"},
		{Source: "internal", Keyword: "Smoking status", ConceptID: "SMK", ClusterID: "C2", DataValue: "never smoked|current smoker"},
		{Source: "internal", Keyword: "Pain/Swelling", ConceptID: "PS", ClusterID: "C3", DataHints: "severe"},
		{Source: "internal", Keyword: "Chest pain", ConceptID: "CP", ClusterID: "C4"},
		{Source: "internal", Keyword: "Nausea/Vomiting", ConceptID: "NV", ClusterID: "C4"},
		{Source: "internal", Keyword: "Fasting sugar check", ConceptID: "FSC", ClusterID: "C5"},
	}
	ranges := rules.NumericRanges{
		ByKeyword: map[string][]rules.Range{
			"heart rate":  {{Lower: 30, Upper: 220}},
			"bmi":         {{Lower: 10, Upper: 60}},
			"temperature": {{Lower: 35, Upper: 42}},
		},
		ByCluster: map[string][]rules.Range{},
	}
	overrides := rules.Overrides{
		Concepts: map[string]struct{}{},
		Clusters: map[string]struct{}{"C4": {}},
	}
	defs := []hints.Definition{
		{ConceptID: "FSC", Name: "Fasting sugar check", Components: []string{"check", "sugar"}, MaxGap: 3},
	}
	s := rules.NewStore(rules.Tables{Rows: rows, Ranges: ranges, Overrides: overrides, Hints: defs}, rules.PolicyOverride, nil)
	require.Equal(t, 8, s.Len())
	return s
}

func mustRule(t *testing.T, s *rules.Store, id string) *rules.Rule {
	t.Helper()
	r, ok := s.Lookup(id)
	require.True(t, ok, "rule %s", id)
	return r
}

// entityAt builds an entity over the first occurrence of surface in text.
func entityAt(t *testing.T, text, surface, conceptID string) Entity {
	t.Helper()
	start := strings.Index(text, surface)
	require.GreaterOrEqual(t, start, 0, "%q not in text", surface)
	return Entity{
		ConceptID:    conceptID,
		Start:        start,
		End:          start + len(surface),
		DetectedName: strings.ReplaceAll(strings.ToLower(surface), " ", "~"),
		SourceValue:  surface,
		PrettyName:   surface,
		Confidence:   0.9,
	}
}

// candidateAt builds a candidate over the n-th (0-based) occurrence of
// surface in text.
func candidateAt(t *testing.T, text, surface string, n int) Candidate {
	t.Helper()
	offset := 0
	for i := 0; ; i++ {
		idx := strings.Index(text[offset:], surface)
		require.GreaterOrEqual(t, idx, 0, "occurrence %d of %q not in text", n, surface)
		if i == n {
			start := offset + idx
			return Candidate{Start: start, End: start + len(surface), DetectedName: strings.ReplaceAll(surface, " ", "~"), Text: surface}
		}
		offset += idx + len(surface)
	}
}

func setOf(t *testing.T, ents ...Entity) *EntitySet {
	t.Helper()
	s := NewEntitySet()
	for i := range ents {
		e := ents[i]
		require.True(t, s.Add(&e))
	}
	return s
}
