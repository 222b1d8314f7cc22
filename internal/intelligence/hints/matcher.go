// Package hints finds gap-tolerant multi-component phrases ("combined hints")
// in free text. Each definition compiles to one regular expression; matches
// are pre-validated evidence for their concept.
package hints

import (
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/turtacn/ConceptGuard/internal/infrastructure/monitoring/logging"
	apperrors "github.com/turtacn/ConceptGuard/pkg/errors"
)

// maxGapLimit keeps the gap repetition inside RE2's repeat bound.
const maxGapLimit = 1000

// RE2's \w and \b are ASCII-only, so words are spelled out with Unicode
// classes.
const (
	wordClass    = `[\p{L}\p{N}_]`
	nonWordClass = `[^\p{L}\p{N}_]`
)

// Definition describes one combined hint.
type Definition struct {
	ConceptID  string   `json:"concept_id"`
	Name       string   `json:"name"`
	Components []string `json:"components"`
	MaxGap     int      `json:"max_gap"`
	SourceHint string   `json:"source_hint"`
}

// Match is one hit of a definition in a document. Offsets are byte offsets.
type Match struct {
	ConceptID   string `json:"concept_id"`
	Name        string `json:"name"`
	SourceHint  string `json:"source_hint"`
	Start       int    `json:"start"`
	End         int    `json:"end"`
	MatchedText string `json:"matched_text"`
}

type compiled struct {
	def Definition
	re  *regexp.Regexp
	// leadGuard requires a word boundary before the first component.
	leadGuard bool
}

// Matcher holds the compiled definitions. It is immutable and safe for
// concurrent use.
type Matcher struct {
	defs []compiled
}

// CompilePattern builds the expression for d. Components are quoted and
// joined by up to MaxGap intervening words. The whole phrase is capture group
// 1; a word-final last component is followed by one guard character (or the
// end of text) that is not part of the phrase. The boundary before the first
// component cannot be expressed in RE2 and is checked by FindMatches.
func CompilePattern(d Definition) (*regexp.Regexp, error) {
	if len(d.Components) == 0 {
		return nil, fmt.Errorf("hints: %s has no components", d.ConceptID)
	}
	gap := d.MaxGap
	if gap < 0 {
		gap = 0
	}
	if gap > maxGapLimit {
		return nil, fmt.Errorf("hints: %s max_gap %d exceeds %d", d.ConceptID, d.MaxGap, maxGapLimit)
	}

	var sb strings.Builder
	sb.WriteString("(?i)(")
	for i, c := range d.Components {
		if strings.TrimSpace(c) == "" {
			return nil, fmt.Errorf("hints: %s has an empty component", d.ConceptID)
		}
		if i > 0 {
			fmt.Fprintf(&sb, `(?:%s+%s+){0,%d}%s+`, nonWordClass, wordClass, gap, nonWordClass)
		}
		sb.WriteString(regexp.QuoteMeta(c))
	}
	sb.WriteString(")")
	last := d.Components[len(d.Components)-1]
	if r, _ := utf8.DecodeLastRuneInString(last); isWordRune(r) {
		sb.WriteString(`(?:` + nonWordClass + `|\z)`)
	}
	return regexp.Compile(sb.String())
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsNumber(r)
}

// NewMatcher compiles defs, skipping (and logging) any that cannot compile.
func NewMatcher(defs []Definition, logger logging.Logger) *Matcher {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	m := &Matcher{defs: make([]compiled, 0, len(defs))}
	for _, d := range defs {
		re, err := CompilePattern(d)
		if err != nil {
			logger.Debug("skipping combined hint", logging.String("concept_id", d.ConceptID), logging.Err(err))
			continue
		}
		first, _ := utf8.DecodeRuneInString(d.Components[0])
		m.defs = append(m.defs, compiled{def: d, re: re, leadGuard: isWordRune(first)})
	}
	return m
}

// Len returns the number of usable definitions.
func (m *Matcher) Len() int {
	if m == nil {
		return 0
	}
	return len(m.defs)
}

// Definitions returns the usable definitions in load order.
func (m *Matcher) Definitions() []Definition {
	if m == nil {
		return nil
	}
	out := make([]Definition, len(m.defs))
	for i, c := range m.defs {
		out[i] = c.def
	}
	return out
}

// findAll returns the non-overlapping phrase spans of c in text. A hit that
// starts inside a word is skipped and the search resumes one rune later.
func (c compiled) findAll(text string) [][2]int {
	var out [][2]int
	for pos := 0; pos < len(text); {
		loc := c.re.FindStringSubmatchIndex(text[pos:])
		if loc == nil {
			break
		}
		start, end := pos+loc[2], pos+loc[3]
		if c.leadGuard && start > 0 {
			if r, _ := utf8.DecodeLastRuneInString(text[:start]); isWordRune(r) {
				_, size := utf8.DecodeRuneInString(text[start:])
				pos = start + size
				continue
			}
		}
		out = append(out, [2]int{start, end})
		pos = end
	}
	return out
}

// FindMatches returns every non-overlapping match of every definition, in
// definition order and then text order.
func (m *Matcher) FindMatches(text string) []Match {
	if m == nil || text == "" {
		return nil
	}
	var out []Match
	for _, c := range m.defs {
		for _, loc := range c.findAll(text) {
			out = append(out, Match{
				ConceptID:   c.def.ConceptID,
				Name:        c.def.Name,
				SourceHint:  c.def.SourceHint,
				Start:       loc[0],
				End:         loc[1],
				MatchedText: text[loc[0]:loc[1]],
			})
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// LoadDefinitions parses a JSON array of definitions. Items missing an id or
// a name, or with fields of the wrong shape, are skipped. The concept id may
// be given as concept_id or cui.
func LoadDefinitions(r io.Reader, logger logging.Logger) ([]Definition, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	var items []map[string]json.RawMessage
	if err := json.NewDecoder(r).Decode(&items); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, apperrors.Wrap(err, apperrors.ErrCodeHintsMalformed, "decode combined hint definitions")
	}

	defs := make([]Definition, 0, len(items))
	for i, item := range items {
		d, err := parseDefinition(item)
		if err != nil {
			logger.Debug("skipping combined hint definition", logging.Int("index", i), logging.Err(err))
			continue
		}
		defs = append(defs, d)
	}
	return defs, nil
}

func parseDefinition(item map[string]json.RawMessage) (Definition, error) {
	var d Definition
	id, err := scalarString(item["concept_id"])
	if err != nil || id == "" {
		if id, err = scalarString(item["cui"]); err != nil || id == "" {
			return d, fmt.Errorf("missing concept id")
		}
	}
	name, err := scalarString(item["name"])
	if err != nil || item["name"] == nil {
		return d, fmt.Errorf("missing name")
	}
	d.ConceptID = id
	d.Name = name

	if raw, ok := item["components"]; ok && string(raw) != "null" {
		var parts []json.RawMessage
		if err := json.Unmarshal(raw, &parts); err != nil {
			return d, fmt.Errorf("components: %w", err)
		}
		for _, p := range parts {
			s, err := scalarString(p)
			if err != nil {
				return d, fmt.Errorf("component: %w", err)
			}
			d.Components = append(d.Components, s)
		}
	}

	if raw, ok := item["max_gap"]; ok && string(raw) != "null" {
		s, err := scalarString(raw)
		if err != nil {
			return d, fmt.Errorf("max_gap: %w", err)
		}
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return d, fmt.Errorf("max_gap: %w", err)
		}
		d.MaxGap = n
	}

	if raw, ok := item["source_hint"]; ok {
		d.SourceHint, _ = scalarString(raw)
	}
	return d, nil
}

// scalarString renders a JSON string or number as a string.
func scalarString(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("expected string or number")
	}
	return n.String(), nil
}
