// Package lexicon is a deterministic dictionary recognizer. It matches rule
// keywords, hint terms, concept names and keyword components as token
// sequences and serves both primary entities and the raw candidate pool used
// for restoration.
package lexicon

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/turtacn/ConceptGuard/internal/intelligence/rules"
)

// ---------------------------------------------------------------------------
// Entries
// ---------------------------------------------------------------------------

// Kind says where a dictionary phrase came from. It fixes the confidence of
// entities recognized through the phrase.
type Kind int

const (
	KindKeyword Kind = iota
	KindName
	KindHint
	KindComponent
)

var kindScores = map[Kind]float64{
	KindKeyword:   1.0,
	KindName:      0.95,
	KindHint:      0.9,
	KindComponent: 0.6,
}

var kindNames = map[Kind]string{
	KindKeyword:   "keyword",
	KindName:      "name",
	KindHint:      "hint",
	KindComponent: "component",
}

// Score is the confidence assigned to matches of this kind.
func (k Kind) Score() float64 { return kindScores[k] }

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Entry maps one phrase to one concept.
type Entry struct {
	ConceptID string
	Phrase    string
	Name      string
	Kind      Kind
	TypeIDs   []string
}

// EntriesFromStore derives dictionary entries from every rule in s: the
// keyword with and without its bracketed parts, the keyword_hints terms and
// the slash-separated components.
func EntriesFromStore(s *rules.Store) []Entry {
	var out []Entry
	for _, r := range s.Rules() {
		add := func(phrase string, kind Kind) {
			if strings.TrimSpace(phrase) == "" {
				return
			}
			out = append(out, Entry{ConceptID: r.ConceptID, Phrase: phrase, Name: r.Keyword, Kind: kind})
		}
		add(r.Keyword, KindKeyword)
		if stripped := stripBrackets(r.Keyword); stripped != r.Keyword {
			add(stripped, KindKeyword)
		}
		for _, term := range r.Terms {
			add(term, KindHint)
		}
		for _, c := range r.RequiredComponents {
			add(c, KindComponent)
		}
	}
	return out
}

// NameEntry builds an entry for a concept's preferred name.
func NameEntry(conceptID, name string, typeIDs []string) Entry {
	return Entry{
		ConceptID: strings.ToUpper(strings.TrimSpace(conceptID)),
		Phrase:    name,
		Name:      name,
		Kind:      KindName,
		TypeIDs:   typeIDs,
	}
}

func stripBrackets(s string) string {
	var b strings.Builder
	depth := 0
	for _, r := range s {
		switch {
		case r == '[':
			depth++
		case r == ']' && depth > 0:
			depth--
		case depth == 0:
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// ---------------------------------------------------------------------------
// Tokens
// ---------------------------------------------------------------------------

type token struct {
	norm       string
	start, end int
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r)
}

// tokenize splits s into runs of letters, digits and marks. Offsets are byte
// offsets into s; the normalized form is NFKC lower case.
func tokenize(s string) []token {
	var toks []token
	start := -1
	flush := func(end int) {
		if start >= 0 {
			toks = append(toks, token{norm: strings.ToLower(norm.NFKC.String(s[start:end])), start: start, end: end})
			start = -1
		}
	}
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if isWordRune(r) {
			if start < 0 {
				start = i
			}
		} else {
			flush(i)
		}
		i += size
	}
	flush(len(s))
	return toks
}

// ---------------------------------------------------------------------------
// Trie
// ---------------------------------------------------------------------------

type node struct {
	next    map[string]*node
	entries []Entry
}

// dictionary is immutable once built.
type dictionary struct {
	root    *node
	entries int
}

func newDictionary(entries []Entry) *dictionary {
	d := &dictionary{root: &node{}}
	for _, e := range entries {
		e.ConceptID = strings.ToUpper(strings.TrimSpace(e.ConceptID))
		toks := tokenize(e.Phrase)
		if e.ConceptID == "" || len(toks) == 0 {
			continue
		}
		n := d.root
		for _, t := range toks {
			if n.next == nil {
				n.next = make(map[string]*node)
			}
			child, ok := n.next[t.norm]
			if !ok {
				child = &node{}
				n.next[t.norm] = child
			}
			n = child
		}
		if !hasEntry(n.entries, e) {
			n.entries = append(n.entries, e)
			d.entries++
		}
	}
	return d
}

func hasEntry(list []Entry, e Entry) bool {
	for _, x := range list {
		if x.ConceptID == e.ConceptID && x.Kind == e.Kind {
			return true
		}
	}
	return false
}

// match is one phrase occurrence. Byte offsets are into the scanned text.
type match struct {
	firstTok, lastTok int
	start, end        int
	detected          string
	entries           []Entry
}

func (m match) tokens() int { return m.lastTok - m.firstTok }

// concepts returns the distinct concept ids of the match, each with the best
// scoring entry.
func (m match) concepts() []Entry {
	best := make(map[string]Entry, len(m.entries))
	for _, e := range m.entries {
		if cur, ok := best[e.ConceptID]; !ok || e.Kind.Score() > cur.Kind.Score() {
			best[e.ConceptID] = e
		}
	}
	out := make([]Entry, 0, len(best))
	for _, e := range best {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConceptID < out[j].ConceptID })
	return out
}

// scan returns every phrase occurrence ordered by start, longest first.
func (d *dictionary) scan(text string) []match {
	if d == nil || d.root.next == nil {
		return nil
	}
	toks := tokenize(text)
	var out []match
	for i := range toks {
		n := d.root
		var found []match
		for j := i; j < len(toks); j++ {
			n = n.next[toks[j].norm]
			if n == nil {
				break
			}
			if len(n.entries) == 0 {
				continue
			}
			names := make([]string, 0, j-i+1)
			for _, t := range toks[i : j+1] {
				names = append(names, t.norm)
			}
			found = append(found, match{
				firstTok: i,
				lastTok:  j + 1,
				start:    toks[i].start,
				end:      toks[j].end,
				detected: strings.Join(names, "~"),
				entries:  n.entries,
			})
		}
		for k := len(found) - 1; k >= 0; k-- {
			out = append(out, found[k])
		}
	}
	return out
}
