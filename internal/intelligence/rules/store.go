package rules

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/turtacn/ConceptGuard/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/ConceptGuard/internal/intelligence/hints"
	apperrors "github.com/turtacn/ConceptGuard/pkg/errors"
)

// ---------------------------------------------------------------------------
// Store
// ---------------------------------------------------------------------------

// Info summarises how a Store was built.
type Info struct {
	Source    string              `json:"source"`
	LoadedAt  time.Time           `json:"loaded_at"`
	Policy    RequiresValuePolicy `json:"policy"`
	Rows      int                 `json:"rows"`
	Skipped   int                 `json:"skipped_rows"`
	Concepts  int                 `json:"concepts"`
	Ranges    int                 `json:"range_entries"`
	Overrides int                 `json:"override_ids"`
	Hints     int                 `json:"combined_hints"`
}

// Store is an immutable snapshot of every concept rule plus the compiled
// combined-hint matcher. A nil *Store behaves as an empty one.
type Store struct {
	rules   map[string]*Rule
	ordered []*Rule
	matcher *hints.Matcher
	info    Info
}

// Empty returns a store without rules or hints.
func Empty() *Store {
	return &Store{rules: map[string]*Rule{}, matcher: hints.NewMatcher(nil, nil)}
}

// Lookup returns the rule for a concept id, case-insensitively.
func (s *Store) Lookup(conceptID string) (*Rule, bool) {
	if s == nil {
		return nil, false
	}
	r, ok := s.rules[strings.ToUpper(strings.TrimSpace(conceptID))]
	return r, ok
}

// Len returns the number of concept rules.
func (s *Store) Len() int {
	if s == nil {
		return 0
	}
	return len(s.rules)
}

// Rules returns every rule sorted by concept id.
func (s *Store) Rules() []*Rule {
	if s == nil {
		return nil
	}
	out := make([]*Rule, len(s.ordered))
	copy(out, s.ordered)
	return out
}

// Hints returns the combined-hint matcher. Never nil.
func (s *Store) Hints() *hints.Matcher {
	if s == nil || s.matcher == nil {
		return hints.NewMatcher(nil, nil)
	}
	return s.matcher
}

// Info reports build statistics.
func (s *Store) Info() Info {
	if s == nil {
		return Info{}
	}
	return s.info
}

// ---------------------------------------------------------------------------
// Building
// ---------------------------------------------------------------------------

// Tables carries parsed rule inputs.
type Tables struct {
	Rows      []Row
	Ranges    NumericRanges
	Overrides Overrides
	Hints     []hints.Definition
}

// Options controls Build.
type Options struct {
	RowsFile      string
	RangesFile    string
	OverridesFile string
	HintsFile     string
	Policy        RequiresValuePolicy
	Logger        logging.Logger
}

// DefaultOptions returns the conventional file names with the override policy.
func DefaultOptions() Options {
	return Options{
		RowsFile:      "internal.csv",
		RangesFile:    "numerical_model.json",
		OverridesFile: "hc.yaml",
		HintsFile:     "internal_combined_hints.json",
		Policy:        PolicyOverride,
	}
}

type conceptBuilder struct {
	keyword      string
	clusterID    string
	clusterTitle string
	sources      map[string]struct{}
	rawValues    map[string]struct{}
	terms        map[string]struct{}
}

// NewStore aggregates rows per concept and derives every rule. Rows without a
// concept id are counted as skipped.
func NewStore(t Tables, policy RequiresValuePolicy, logger logging.Logger) *Store {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if policy == "" {
		policy = PolicyOverride
	}

	builders := make(map[string]*conceptBuilder)
	skipped := 0
	for _, row := range t.Rows {
		id := strings.ToUpper(strings.TrimSpace(row.ConceptID))
		if id == "" {
			skipped++
			continue
		}
		b, ok := builders[id]
		if !ok {
			b = &conceptBuilder{
				sources:   map[string]struct{}{},
				rawValues: map[string]struct{}{},
				terms:     map[string]struct{}{},
			}
			builders[id] = b
		}
		if b.keyword == "" {
			b.keyword = strings.TrimSpace(row.Keyword)
		}
		if b.clusterID == "" {
			b.clusterID = strings.TrimSpace(row.ClusterID)
		}
		if b.clusterTitle == "" {
			b.clusterTitle = strings.TrimSpace(row.ClusterTitle)
		}
		if src := strings.TrimSpace(row.Source); src != "" {
			b.sources[src] = struct{}{}
		}
		for _, v := range SplitValues(row.DataValue) {
			b.rawValues[v] = struct{}{}
		}
		for _, v := range SplitValues(row.DataHints) {
			b.rawValues[v] = struct{}{}
		}
		for _, v := range SplitValues(row.KeywordHints) {
			if term := NormalizeHintTerm(v); term != "" {
				b.terms[term] = struct{}{}
			}
		}
	}
	if skipped > 0 {
		logger.Debug("skipped rule rows without concept id", logging.Int("count", skipped))
	}

	s := &Store{
		rules:   make(map[string]*Rule, len(builders)),
		ordered: make([]*Rule, 0, len(builders)),
		matcher: hints.NewMatcher(t.Hints, logger),
	}
	for id, b := range builders {
		r := buildRule(id, b, t.Ranges, t.Overrides, policy)
		s.rules[id] = r
		s.ordered = append(s.ordered, r)
	}
	sort.Slice(s.ordered, func(i, j int) bool { return s.ordered[i].ConceptID < s.ordered[j].ConceptID })

	s.info = Info{
		LoadedAt:  time.Now().UTC(),
		Policy:    policy,
		Rows:      len(t.Rows),
		Skipped:   skipped,
		Concepts:  len(s.rules),
		Ranges:    t.Ranges.Len(),
		Overrides: t.Overrides.Len(),
		Hints:     s.matcher.Len(),
	}
	return s
}

func buildRule(id string, b *conceptBuilder, ranges NumericRanges, ov Overrides, policy RequiresValuePolicy) *Rule {
	r := &Rule{
		ConceptID:    id,
		Keyword:      b.keyword,
		ClusterID:    b.clusterID,
		ClusterTitle: b.clusterTitle,
		Sources:      sortedKeys(b.sources),
	}
	_, r.IsNumeric = b.sources["numerical"]
	r.RequiresValue = policy.requiresValue(id, b.clusterID, b.clusterTitle, r.IsNumeric, ov)
	if r.IsNumeric {
		r.NumericRanges = ranges.Lookup(b.keyword, b.clusterTitle)
	}
	for _, raw := range sortedKeys(b.rawValues) {
		if re := CompileValuePattern(raw); re != nil {
			r.ValuePatterns = append(r.ValuePatterns, re)
		}
	}
	r.RequiredComponents = DeriveRequiredComponents(b.keyword)
	r.NormalizedKeyword = NormalizeKeyword(b.keyword)
	r.Terms = sortedKeys(b.terms)
	r.Strategy = deriveStrategy(r)
	return r
}

func sortedKeys(m map[string]struct{}) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Build reads the rule tables from src and builds a Store. A missing rows
// table yields an empty store. Missing or malformed side tables disable the
// feature they drive and are logged. Only a source that cannot be reached is
// an error.
func Build(ctx context.Context, src Source, opts Options) (*Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	logger = logger.With(logging.String("source", src.Describe()))

	var tables Tables

	found, err := readTable(ctx, src, opts.RowsFile, func(r io.Reader) error {
		rows, err := ReadRows(r, logger)
		tables.Rows = rows
		return err
	})
	if err != nil {
		return nil, err
	}
	if !found {
		logger.Warn("rule table not found; validation disabled", logging.String("file", opts.RowsFile))
		s := Empty()
		s.info.Source = src.Describe()
		s.info.LoadedAt = time.Now().UTC()
		s.info.Policy = opts.Policy
		return s, nil
	}

	if _, err := readTable(ctx, src, opts.RangesFile, func(r io.Reader) error {
		rg, err := LoadNumericRanges(r)
		tables.Ranges = rg
		return err
	}); err != nil {
		if !apperrors.IsCode(err, apperrors.ErrCodeRulesMalformed) {
			return nil, err
		}
		logger.WithError(err).Warn("ignoring numeric range table")
		tables.Ranges = NumericRanges{}
	}

	if _, err := readTable(ctx, src, opts.OverridesFile, func(r io.Reader) error {
		ov, err := LoadOverrides(r)
		tables.Overrides = ov
		return err
	}); err != nil {
		if !apperrors.IsCode(err, apperrors.ErrCodeRulesMalformed) {
			return nil, err
		}
		logger.WithError(err).Warn("ignoring override file")
		tables.Overrides = Overrides{}
	}

	if _, err := readTable(ctx, src, opts.HintsFile, func(r io.Reader) error {
		defs, err := hints.LoadDefinitions(r, logger)
		tables.Hints = defs
		return err
	}); err != nil {
		if !apperrors.IsCode(err, apperrors.ErrCodeHintsMalformed) {
			return nil, err
		}
		logger.WithError(err).Warn("ignoring combined hint definitions")
		tables.Hints = nil
	}

	s := NewStore(tables, opts.Policy, logger)
	s.info.Source = src.Describe()
	logger.Info("rule store built",
		logging.Int("concepts", s.info.Concepts),
		logging.Int("rows", s.info.Rows),
		logging.Int("range_entries", s.info.Ranges),
		logging.Int("override_ids", s.info.Overrides),
		logging.Int("combined_hints", s.info.Hints),
	)
	return s, nil
}

// readTable opens name and hands it to parse. It reports found=false for an
// empty name or a missing table.
func readTable(ctx context.Context, src Source, name string, parse func(io.Reader) error) (bool, error) {
	if name == "" {
		return false, nil
	}
	rc, err := src.Open(ctx, name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, apperrors.Wrapf(err, apperrors.ErrCodeRulesSourceUnavailable, "open %s", name)
	}
	defer rc.Close()
	return true, parse(rc)
}
