package lexicon

import (
	"context"
	"sort"
	"sync/atomic"

	"github.com/turtacn/ConceptGuard/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/ConceptGuard/internal/intelligence/rules"
	"github.com/turtacn/ConceptGuard/internal/intelligence/validation"
)

// Recognizer finds dictionary phrases in text. It implements both
// validation.Recognizer and validation.CandidateGenerator. The dictionary is
// swapped atomically on Rebuild, so scans in flight finish on the dictionary
// they started with.
type Recognizer struct {
	dict   atomic.Pointer[dictionary]
	logger logging.Logger
}

// Option configures a Recognizer.
type Option func(*Recognizer)

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(r *Recognizer) {
		if l != nil {
			r.logger = l
		}
	}
}

var (
	_ validation.Recognizer         = (*Recognizer)(nil)
	_ validation.CandidateGenerator = (*Recognizer)(nil)
)

// NewRecognizer builds a recognizer over entries.
func NewRecognizer(entries []Entry, opts ...Option) *Recognizer {
	r := &Recognizer{logger: logging.NewNopLogger()}
	for _, opt := range opts {
		opt(r)
	}
	r.dict.Store(newDictionary(entries))
	return r
}

// Rebuild replaces the dictionary.
func (r *Recognizer) Rebuild(entries []Entry) {
	d := newDictionary(entries)
	r.dict.Store(d)
	r.logger.Info("lexicon rebuilt", logging.Int("entries", d.entries))
}

// Len returns the number of distinct (phrase, concept, kind) entries.
func (r *Recognizer) Len() int { return r.dict.Load().entries }

// Follow rebuilds the dictionary from h's current store plus extra, and again
// every time h publishes a new store.
func (r *Recognizer) Follow(h *rules.Holder, extra ...Entry) {
	rebuild := func(s *rules.Store) {
		entries := EntriesFromStore(s)
		r.Rebuild(append(entries, extra...))
	}
	rebuild(h.Current())
	h.Subscribe(rebuild)
}

// GetEntities returns the longest non-overlapping occurrences of phrases that
// name exactly one concept. Ambiguous phrases only reach the candidate pool.
func (r *Recognizer) GetEntities(ctx context.Context, text string) ([]validation.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type scored struct {
		m     match
		entry Entry
	}
	var pool []scored
	for _, m := range r.dict.Load().scan(text) {
		concepts := m.concepts()
		if len(concepts) != 1 {
			continue
		}
		pool = append(pool, scored{m: m, entry: concepts[0]})
	}
	sort.SliceStable(pool, func(i, j int) bool {
		a, b := pool[i], pool[j]
		if a.m.tokens() != b.m.tokens() {
			return a.m.tokens() > b.m.tokens()
		}
		if a.entry.Kind.Score() != b.entry.Kind.Score() {
			return a.entry.Kind.Score() > b.entry.Kind.Score()
		}
		return a.m.start < b.m.start
	})

	var chosen []scored
	for _, c := range pool {
		clash := false
		for _, k := range chosen {
			if c.m.firstTok < k.m.lastTok && k.m.firstTok < c.m.lastTok {
				clash = true
				break
			}
		}
		if !clash {
			chosen = append(chosen, c)
		}
	}
	sort.Slice(chosen, func(i, j int) bool { return chosen[i].m.start < chosen[j].m.start })

	out := make([]validation.Entity, 0, len(chosen))
	for i, c := range chosen {
		out = append(out, validation.Entity{
			Key:          validation.IntKey(i),
			ConceptID:    c.entry.ConceptID,
			Start:        c.m.start,
			End:          c.m.end,
			DetectedName: c.m.detected,
			SourceValue:  text[c.m.start:c.m.end],
			PrettyName:   c.entry.Name,
			Confidence:   c.entry.Kind.Score(),
			TypeIDs:      append([]string(nil), c.entry.TypeIDs...),
		})
	}
	r.logger.Debug("lexicon entities", logging.Int("matches", len(pool)), logging.Int("entities", len(out)))
	return out, nil
}

// Candidates returns every phrase occurrence for every concept it may link to,
// ambiguous ones included, in text order with longer spans first.
func (r *Recognizer) Candidates(ctx context.Context, text string) (validation.CandidatePool, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pool := make(validation.CandidatePool)
	for _, m := range r.dict.Load().scan(text) {
		for _, e := range m.concepts() {
			pool[e.ConceptID] = append(pool[e.ConceptID], validation.Candidate{
				Start:        m.start,
				End:          m.end,
				DetectedName: m.detected,
				Text:         text[m.start:m.end],
			})
		}
	}
	return pool, nil
}
