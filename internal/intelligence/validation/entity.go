// Package validation decides, per concept occurrence, whether the text around
// it carries the evidence its rule demands, and restores concepts the primary
// recognizer missed from its lower-confidence candidates.
package validation

import (
	"encoding/json"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// EntityKey
// ---------------------------------------------------------------------------

// CombinedKeyPrefix namespaces keys of entities synthesised from combined
// hints.
const CombinedKeyPrefix = "combined_"

// EntityKey identifies an entity within one call. Recognizer and restored
// entities use integer keys; combined-hint entities use "combined_N".
type EntityKey struct {
	num   int
	str   string
	isStr bool
	set   bool
}

// IntKey returns an integer key.
func IntKey(n int) EntityKey { return EntityKey{num: n, set: true} }

// StringKey returns a string key.
func StringKey(s string) EntityKey { return EntityKey{str: s, isStr: true, set: true} }

// CombinedKey returns the key of the n-th combined-hint entity.
func CombinedKey(n int) EntityKey { return StringKey(CombinedKeyPrefix + strconv.Itoa(n)) }

// IsZero reports whether the key was never assigned.
func (k EntityKey) IsZero() bool { return !k.set }

// Int returns the numeric value of the key. String keys made only of digits
// count as numeric.
func (k EntityKey) Int() (int, bool) {
	if !k.set {
		return 0, false
	}
	if !k.isStr {
		return k.num, true
	}
	if k.str == "" {
		return 0, false
	}
	for _, r := range k.str {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(k.str)
	return n, err == nil
}

// IsCombined reports whether the key belongs to a combined-hint entity.
func (k EntityKey) IsCombined() bool {
	return k.isStr && strings.HasPrefix(k.str, CombinedKeyPrefix)
}

func (k EntityKey) String() string {
	if k.isStr {
		return k.str
	}
	return strconv.Itoa(k.num)
}

// MarshalJSON renders integer keys as numbers and string keys as strings.
func (k EntityKey) MarshalJSON() ([]byte, error) {
	if !k.set {
		return []byte("null"), nil
	}
	if k.isStr {
		return json.Marshal(k.str)
	}
	return []byte(strconv.Itoa(k.num)), nil
}

// UnmarshalJSON accepts a number or a string.
func (k *EntityKey) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" || s == "" {
		*k = EntityKey{}
		return nil
	}
	if s[0] == '"' {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		*k = StringKey(str)
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	*k = IntKey(n)
	return nil
}

// ---------------------------------------------------------------------------
// Entity
// ---------------------------------------------------------------------------

// Value hint kinds.
const (
	HintNumeric = "numeric"
	HintText    = "text"
)

// ValueHint records the evidence that validated an entity. Value is a
// float64 for numeric hints and a string for text hints.
type ValueHint struct {
	RuleKeyword string      `json:"rule_keyword"`
	Type        string      `json:"type"`
	Value       interface{} `json:"value"`
	MatchedText string      `json:"matched_text,omitempty"`
	Pattern     string      `json:"pattern,omitempty"`
	Start       int         `json:"start"`
	End         int         `json:"end"`
}

// Entity is one concept occurrence. Offsets are byte offsets into the text,
// End exclusive.
type Entity struct {
	Key          EntityKey   `json:"key"`
	ConceptID    string      `json:"concept_id"`
	Start        int         `json:"start"`
	End          int         `json:"end"`
	DetectedName string      `json:"detected_name"`
	SourceValue  string      `json:"source_value"`
	PrettyName   string      `json:"pretty_name"`
	Confidence   float64     `json:"confidence"`
	TypeIDs      []string    `json:"type_ids"`
	ValueHints   []ValueHint `json:"value_hints,omitempty"`
	Synthetic    bool        `json:"synthetic,omitempty"`
}

// ValidSpan reports whether the entity covers at least one byte.
func (e *Entity) ValidSpan() bool {
	return e.End > e.Start
}

// AddValueHint appends h. Hints are never removed.
func (e *Entity) AddValueHint(h ValueHint) {
	e.ValueHints = append(e.ValueHints, h)
}

// NormalizedConceptID is the upper-cased concept id used for rule lookups.
func (e *Entity) NormalizedConceptID() string {
	return strings.ToUpper(strings.TrimSpace(e.ConceptID))
}
