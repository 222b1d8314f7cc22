// Package rules builds the per-concept validation rules from the tabular
// concept source, the numeric range table and the override list. A Store is
// immutable once built and safe for concurrent readers.
package rules

import (
	"regexp"
)

// Strategy is the validation shape of a rule, derived once at build time so
// the resolver dispatches on a single value instead of re-deriving flags.
type Strategy int

const (
	// StrategySurface: value-free, no components, no patterns, not numeric.
	// Restored candidates must match the keyword literally.
	StrategySurface Strategy = iota
	// StrategyPassThrough: value-free but with components or value evidence.
	StrategyPassThrough
	// StrategyPattern: requires a textual value pattern.
	StrategyPattern
	// StrategyNumeric: requires a number, optionally inside NumericRanges.
	StrategyNumeric
	// StrategyPatternOrNumeric: patterns are searched first, but only an
	// in-range number satisfies the rule.
	StrategyPatternOrNumeric
	// StrategyUnsatisfiable: requires a value but has no way to find one.
	StrategyUnsatisfiable
)

var strategyNames = map[Strategy]string{
	StrategySurface:          "surface",
	StrategyPassThrough:      "pass_through",
	StrategyPattern:          "pattern",
	StrategyNumeric:          "numeric",
	StrategyPatternOrNumeric: "pattern_or_numeric",
	StrategyUnsatisfiable:    "unsatisfiable",
}

func (s Strategy) String() string {
	if n, ok := strategyNames[s]; ok {
		return n
	}
	return "unknown"
}

// MarshalText renders the strategy name in JSON payloads.
func (s Strategy) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// RequiresValue reports whether the strategy demands value evidence.
func (s Strategy) RequiresValue() bool {
	return s >= StrategyPattern
}

// Range is an inclusive numeric interval.
type Range struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// Contains reports whether v lies inside the closed interval.
func (r Range) Contains(v float64) bool {
	return r.Lower <= v && v <= r.Upper
}

// Rule describes what evidence a concept needs before an occurrence of it is
// accepted. Rules are shared between goroutines and must not be mutated.
type Rule struct {
	ConceptID          string           `json:"concept_id"`
	Keyword            string           `json:"keyword"`
	ClusterID          string           `json:"cluster_id"`
	ClusterTitle       string           `json:"cluster_title"`
	Sources            []string         `json:"sources"`
	RequiresValue      bool             `json:"requires_value"`
	IsNumeric          bool             `json:"is_numeric"`
	NumericRanges      []Range          `json:"numeric_ranges,omitempty"`
	ValuePatterns      []*regexp.Regexp `json:"-"`
	RequiredComponents []string         `json:"required_components,omitempty"`
	NormalizedKeyword  string           `json:"normalized_keyword"`

	// Terms are the surface forms declared in keyword_hints, normalized.
	Terms    []string `json:"terms,omitempty"`
	Strategy Strategy `json:"strategy"`
}

// InRange reports whether v is accepted by the rule's ranges. A rule without
// ranges accepts every number.
func (r *Rule) InRange(v float64) bool {
	if len(r.NumericRanges) == 0 {
		return true
	}
	for _, rg := range r.NumericRanges {
		if rg.Contains(v) {
			return true
		}
	}
	return false
}

// PatternStrings returns the source text of the compiled value patterns.
func (r *Rule) PatternStrings() []string {
	out := make([]string, len(r.ValuePatterns))
	for i, p := range r.ValuePatterns {
		out[i] = p.String()
	}
	return out
}

// ShouldEnforceSurface reports whether restored candidates must match the
// keyword literally.
func (r *Rule) ShouldEnforceSurface() bool {
	return r.Strategy == StrategySurface
}

// deriveStrategy classifies a fully-populated rule.
func deriveStrategy(r *Rule) Strategy {
	hasPatterns := len(r.ValuePatterns) > 0
	if !r.RequiresValue {
		if len(r.RequiredComponents) == 0 && !r.IsNumeric && !hasPatterns {
			return StrategySurface
		}
		return StrategyPassThrough
	}
	switch {
	case hasPatterns && r.IsNumeric:
		return StrategyPatternOrNumeric
	case hasPatterns:
		return StrategyPattern
	case r.IsNumeric:
		return StrategyNumeric
	default:
		return StrategyUnsatisfiable
	}
}
