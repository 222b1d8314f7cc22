package validation

import (
	"context"
	"time"

	"github.com/turtacn/ConceptGuard/internal/intelligence/rules"
)

// ---------------------------------------------------------------------------
// Collaborators
// ---------------------------------------------------------------------------

// Recognizer is the primary concept recognizer and linker. Returned entities
// may carry keys; entities without one get the next free integer key.
type Recognizer interface {
	GetEntities(ctx context.Context, text string) ([]Entity, error)
}

// Candidate is one raw span the recognizer considered for a concept before
// linking committed to an answer.
type Candidate struct {
	Start        int    `json:"start"`
	End          int    `json:"end"`
	DetectedName string `json:"detected_name"`
	Text         string `json:"text"`
}

// CandidatePool maps upper-cased concept ids to their candidate spans in the
// order the recognizer produced them.
type CandidatePool map[string][]Candidate

// CandidateGenerator re-runs recognition up to, but not including, linking.
// Implementations must be idempotent and must not mutate shared state.
type CandidateGenerator interface {
	Candidates(ctx context.Context, text string) (CandidatePool, error)
}

// ConceptInfo is the dictionary metadata of a concept.
type ConceptInfo struct {
	PreferredName string   `json:"preferred_name"`
	TypeIDs       []string `json:"type_ids"`
}

// ConceptLookup backfills display fields of restored entities.
type ConceptLookup interface {
	Lookup(ctx context.Context, conceptID string) (ConceptInfo, bool, error)
}

// StoreProvider hands out the rule store to use for one call. *rules.Holder
// satisfies it.
type StoreProvider interface {
	Current() *rules.Store
}

// Metrics records per-stage outcomes. *prometheus.AppMetrics satisfies it.
type Metrics interface {
	ObserveEntities(stage, outcome string, n int)
	ObserveDocument(status string, d time.Duration)
}

// staticStore serves a fixed store.
type staticStore struct{ s *rules.Store }

func (s staticStore) Current() *rules.Store { return s.s }

// StaticStore wraps a store that never changes.
func StaticStore(s *rules.Store) StoreProvider { return staticStore{s: s} }

// MapConceptLookup is an in-memory ConceptLookup keyed by upper-cased id.
type MapConceptLookup map[string]ConceptInfo

func (m MapConceptLookup) Lookup(_ context.Context, conceptID string) (ConceptInfo, bool, error) {
	info, ok := m[normalizeID(conceptID)]
	return info, ok, nil
}

type noopMetrics struct{}

func (noopMetrics) ObserveEntities(string, string, int)   {}
func (noopMetrics) ObserveDocument(string, time.Duration) {}
