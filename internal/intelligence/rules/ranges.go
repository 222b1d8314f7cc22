package rules

import (
	"encoding/json"
	"io"
	"strings"

	apperrors "github.com/turtacn/ConceptGuard/pkg/errors"
)

// NumericRanges is the side table of accepted ranges, keyed by lower-cased
// keyword or lower-cased cluster title.
type NumericRanges struct {
	ByKeyword map[string][]Range
	ByCluster map[string][]Range
}

// Lookup returns the ranges for a keyword, falling back to the cluster title.
func (n NumericRanges) Lookup(keyword, clusterTitle string) []Range {
	if rs := n.ByKeyword[strings.ToLower(keyword)]; len(rs) > 0 {
		return rs
	}
	return n.ByCluster[strings.ToLower(clusterTitle)]
}

// Len returns the number of keyed entries.
func (n NumericRanges) Len() int {
	return len(n.ByKeyword) + len(n.ByCluster)
}

type rangeFile struct {
	Entries []json.RawMessage `json:"ranges_kws"`
}

type rangeEntry struct {
	Keyword string            `json:"keyword"`
	Cluster string            `json:"cluster"`
	Ranges  []json.RawMessage `json:"ranges"`
}

// LoadNumericRanges parses {"ranges_kws":[{"keyword"|"cluster", "ranges":[[lo,hi],...]}]}.
// Entries and ranges that are not well formed are skipped. A document that is
// not JSON at all is an error. An entry naming both keyword and cluster is
// filed under the keyword.
func LoadNumericRanges(r io.Reader) (NumericRanges, error) {
	out := NumericRanges{ByKeyword: map[string][]Range{}, ByCluster: map[string][]Range{}}

	var file rangeFile
	if err := json.NewDecoder(r).Decode(&file); err != nil {
		if err == io.EOF {
			return out, nil
		}
		return out, apperrors.Wrap(err, apperrors.ErrCodeRulesMalformed, "decode numeric range table")
	}

	for _, raw := range file.Entries {
		var e rangeEntry
		if err := json.Unmarshal(raw, &e); err != nil {
			continue
		}
		var ranges []Range
		for _, rr := range e.Ranges {
			var pair []float64
			if err := json.Unmarshal(rr, &pair); err != nil || len(pair) != 2 {
				continue
			}
			ranges = append(ranges, Range{Lower: pair[0], Upper: pair[1]})
		}
		if len(ranges) == 0 {
			continue
		}
		keyword := strings.ToLower(strings.TrimSpace(e.Keyword))
		cluster := strings.ToLower(strings.TrimSpace(e.Cluster))
		switch {
		case keyword != "":
			out.ByKeyword[keyword] = append(out.ByKeyword[keyword], ranges...)
		case cluster != "":
			out.ByCluster[cluster] = append(out.ByCluster[cluster], ranges...)
		}
	}
	return out, nil
}
