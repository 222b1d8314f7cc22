package validation

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/turtacn/ConceptGuard/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/ConceptGuard/internal/intelligence/rules"
)

// DefaultWindow is the number of bytes inspected on each side of an entity.
const DefaultWindow = 80

var numberPattern = regexp.MustCompile(`\b\d+(?:\.\d+)?\b`)

// ValueMatch is evidence found near an entity. Offsets are absolute.
type ValueMatch struct {
	Kind    string
	Numeric float64
	Text    string
	Pattern string
	Start   int
	End     int
}

// Hint converts the match into the value hint recorded on the entity.
func (m *ValueMatch) Hint(rule *rules.Rule) ValueHint {
	h := ValueHint{
		RuleKeyword: rule.Keyword,
		Type:        m.Kind,
		MatchedText: m.Text,
		Start:       m.Start,
		End:         m.End,
	}
	if m.Kind == HintNumeric {
		h.Value = m.Numeric
	} else {
		h.Value = m.Text
		h.Pattern = m.Pattern
	}
	return h
}

type phase int

const (
	phaseValidate phase = iota
	phaseRestore
)

// Rejection reasons, used in logs and tests.
const (
	reasonSurface       = "surface_mismatch"
	reasonComponents    = "components_missing"
	reasonNoValue       = "no_value"
	reasonOutOfRange    = "out_of_range"
	reasonNotNumeric    = "not_numeric"
	reasonUnsatisfiable = "unsatisfiable"
)

// verdict is the outcome of evaluating one entity against its rule.
type verdict struct {
	keep   bool
	match  *ValueMatch
	reason string
}

// Resolver applies concept rules to entities.
type Resolver struct {
	span   int
	logger logging.Logger
}

// NewResolver returns a resolver inspecting window bytes on each side of an
// entity. A non-positive window selects DefaultWindow.
func NewResolver(window int, logger logging.Logger) *Resolver {
	if window <= 0 {
		window = DefaultWindow
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Resolver{span: window, logger: logger}
}

// ApplyRules validates every non-synthetic entity in set against store,
// removes the ones that fail and returns their concept ids. Entities without
// a rule, or whose rule does not require a value, are left untouched.
func (r *Resolver) ApplyRules(store *rules.Store, text string, set *EntitySet) map[string]struct{} {
	missing := make(map[string]struct{})
	if store.Len() == 0 {
		return missing
	}

	var drop []EntityKey
	for _, e := range set.All() {
		if e.Synthetic || e.Key.IsCombined() {
			continue
		}
		rule, ok := store.Lookup(e.ConceptID)
		if !ok {
			continue
		}
		v := r.evaluate(rule, text, e, phaseValidate)
		if !v.keep {
			r.logger.Debug("entity rejected",
				logging.String("concept_id", rule.ConceptID),
				logging.String("reason", v.reason),
				logging.Int("start", e.Start),
				logging.Int("end", e.End),
			)
			missing[rule.ConceptID] = struct{}{}
			drop = append(drop, e.Key)
			continue
		}
		if v.match != nil {
			e.AddValueHint(v.match.Hint(rule))
		}
	}
	set.Remove(drop...)
	return missing
}

// evaluate is the single decision point over rule strategies. During
// validation value-free rules are never checked; during restoration they
// still have to pass the surface and component checks, and any value found
// is recorded as optional evidence.
func (r *Resolver) evaluate(rule *rules.Rule, text string, e *Entity, p phase) verdict {
	if p == phaseValidate && !rule.RequiresValue {
		return verdict{keep: true}
	}
	if p == phaseRestore && rule.ShouldEnforceSurface() {
		if rules.NormalizeSurface(e.SourceValue, e.DetectedName) != rule.NormalizedKeyword {
			return verdict{reason: reasonSurface}
		}
	}
	if !r.componentsPresent(rule, text, e) {
		return verdict{reason: reasonComponents}
	}

	switch rule.Strategy {
	case rules.StrategySurface:
		return verdict{keep: true}
	case rules.StrategyPassThrough:
		return verdict{keep: true, match: r.findValueMatch(rule, text, e)}
	case rules.StrategyPattern, rules.StrategyNumeric, rules.StrategyPatternOrNumeric:
		m := r.findValueMatch(rule, text, e)
		if m == nil {
			return verdict{reason: reasonNoValue}
		}
		if rule.IsNumeric {
			// A numeric rule is satisfied only by an in-range number. A text
			// pattern that wins the search leaves it without one.
			if m.Kind != HintNumeric {
				return verdict{reason: reasonNotNumeric, match: m}
			}
			if !rule.InRange(m.Numeric) {
				return verdict{reason: reasonOutOfRange, match: m}
			}
		}
		return verdict{keep: true, match: m}
	case rules.StrategyUnsatisfiable:
		return verdict{reason: reasonUnsatisfiable}
	default:
		return verdict{reason: reasonUnsatisfiable}
	}
}

// window returns the inspected slice of text around e and its offset.
func (r *Resolver) window(text string, e *Entity) (string, int) {
	start := e.Start - r.span
	if start < 0 {
		start = 0
	}
	end := e.End + r.span
	if end > len(text) {
		end = len(text)
	}
	if start >= end {
		return "", start
	}
	return text[start:end], start
}

func (r *Resolver) componentsPresent(rule *rules.Rule, text string, e *Entity) bool {
	if len(rule.RequiredComponents) == 0 {
		return true
	}
	win, _ := r.window(text, e)
	win = strings.ToLower(win)
	for _, c := range rule.RequiredComponents {
		if !strings.Contains(win, c) {
			return false
		}
	}
	return true
}

// findValueMatch tries the rule's value patterns in order, then, for numeric
// rules, the number nearest the entity.
func (r *Resolver) findValueMatch(rule *rules.Rule, text string, e *Entity) *ValueMatch {
	win, offset := r.window(text, e)
	if win == "" {
		return nil
	}
	for _, re := range rule.ValuePatterns {
		loc := re.FindStringIndex(win)
		if loc == nil {
			continue
		}
		return &ValueMatch{
			Kind:    HintText,
			Text:    win[loc[0]:loc[1]],
			Pattern: re.String(),
			Start:   offset + loc[0],
			End:     offset + loc[1],
		}
	}
	if !rule.IsNumeric {
		return nil
	}
	return nearestNumber(win, offset, e)
}

// nearestNumber picks among the numbers in win: the closest one starting at
// or after the entity end, else the closest one ending at or before the
// entity start, else the one whose centre is closest to the entity's.
func nearestNumber(win string, offset int, e *Entity) *ValueMatch {
	var (
		best     *ValueMatch
		bestTier int
		bestDist float64
	)
	mid := float64(e.Start+e.End) / 2
	for _, loc := range numberPattern.FindAllStringIndex(win, -1) {
		raw := win[loc[0]:loc[1]]
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			continue
		}
		start, end := offset+loc[0], offset+loc[1]

		var tier int
		var dist float64
		switch {
		case start >= e.End:
			tier, dist = 0, float64(start-e.End)
		case end <= e.Start:
			tier, dist = 1, float64(e.Start-end)
		default:
			tier, dist = 2, math.Abs(float64(start+end)/2-mid)
		}

		if best != nil {
			if tier > bestTier {
				continue
			}
			if tier == bestTier && (dist > bestDist || (dist == bestDist && start >= best.Start)) {
				continue
			}
		}
		best = &ValueMatch{Kind: HintNumeric, Numeric: v, Text: raw, Start: start, End: end}
		bestTier, bestDist = tier, dist
	}
	return best
}

func normalizeID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}
