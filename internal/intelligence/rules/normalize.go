package rules

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// CombinedHintMarker separates the parts of a multi-part value hint.
const CombinedHintMarker = "[combined_hint]"

var (
	bracketContent    = regexp.MustCompile(`\[(.*?)\]`)
	bracketAnnotation = regexp.MustCompile(`\[.*?\]`)
)

// NormalizeKeyword unwraps bracketed annotations ("Pulse [rate]" becomes
// "pulse rate"), applies NFKC, lower-cases and collapses whitespace. Surface
// comparisons during restoration use this form on both sides.
func NormalizeKeyword(s string) string {
	if s == "" {
		return ""
	}
	s = bracketContent.ReplaceAllString(s, " ${1}")
	s = norm.NFKC.String(s)
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// NormalizeSurface picks the text to compare against a keyword: the trimmed
// source value when present, otherwise the detected name with "~" token
// separators turned back into spaces.
func NormalizeSurface(sourceValue, detectedName string) string {
	surface := strings.TrimSpace(sourceValue)
	if surface == "" {
		surface = strings.ReplaceAll(detectedName, "~", " ")
	}
	return NormalizeKeyword(surface)
}

// CompileValuePattern turns a raw value hint into a case-insensitive pattern.
// Parts separated by CombinedHintMarker are matched literally, in order, with
// any text in between. Empty input yields nil.
func CompileValuePattern(raw string) *regexp.Regexp {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var escaped []string
	for _, part := range strings.Split(raw, CombinedHintMarker) {
		if part = strings.TrimSpace(part); part != "" {
			escaped = append(escaped, regexp.QuoteMeta(part))
		}
	}
	if len(escaped) == 0 {
		return nil
	}
	re, err := regexp.Compile("(?i)" + strings.Join(escaped, ".*?"))
	if err != nil {
		return nil
	}
	return re
}

// DeriveRequiredComponents splits a compound keyword such as "A/B [unit]"
// into its lower-cased parts. Keywords with fewer than two parts have no
// required components.
func DeriveRequiredComponents(keyword string) []string {
	base := strings.ToLower(bracketAnnotation.ReplaceAllString(keyword, ""))
	var parts []string
	for _, p := range strings.Split(base, "/") {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) > 1 {
		return parts
	}
	return nil
}

// NormalizeHintTerm drops combined-hint markers from a keyword hint and
// normalizes the remainder for lexicon use.
func NormalizeHintTerm(term string) string {
	return NormalizeKeyword(strings.ReplaceAll(term, CombinedHintMarker, " "))
}

// SplitValues splits a pipe-delimited cell into trimmed, non-empty parts.
func SplitValues(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(raw, "|") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
