package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func spans(set *EntitySet) [][2]int {
	var out [][2]int
	for _, e := range set.All() {
		out = append(out, [2]int{e.Start, e.End})
	}
	return out
}

func TestDeduplicate_PrefersEarliestThenLongest(t *testing.T) {
	set := NewEntitySet()
	set.Add(&Entity{ConceptID: "A", Start: 5, End: 9})
	set.Add(&Entity{ConceptID: "A", Start: 0, End: 4})
	set.Add(&Entity{ConceptID: "A", Start: 0, End: 7})
	set.Add(&Entity{ConceptID: "A", Start: 10, End: 12})

	removed := Deduplicate(set)

	assert.Equal(t, 2, removed)
	assert.ElementsMatch(t, [][2]int{{0, 7}, {10, 12}}, spans(set))
}

func TestDeduplicate_DifferentConceptsMayOverlap(t *testing.T) {
	set := NewEntitySet()
	set.Add(&Entity{ConceptID: "A", Start: 0, End: 10})
	set.Add(&Entity{ConceptID: "B", Start: 2, End: 6})
	set.Add(&Entity{ConceptID: "b", Start: 4, End: 8})

	Deduplicate(set)

	require.Equal(t, 2, set.Len())
	assert.ElementsMatch(t, [][2]int{{0, 10}, {2, 6}}, spans(set))
}

func TestDeduplicate_DropsEmptySpans(t *testing.T) {
	set := NewEntitySet()
	set.Add(&Entity{ConceptID: "A", Start: 3, End: 3})
	set.Add(&Entity{ConceptID: "A", Start: 5, End: 2})
	set.Add(&Entity{ConceptID: "B", Start: 0, End: 1})

	assert.Equal(t, 2, Deduplicate(set))
	assert.Equal(t, [][2]int{{0, 1}}, spans(set))
}

func TestDeduplicate_AdjacentSpansKept(t *testing.T) {
	set := NewEntitySet()
	set.Add(&Entity{ConceptID: "A", Start: 0, End: 4})
	set.Add(&Entity{ConceptID: "A", Start: 4, End: 8})

	assert.Equal(t, 0, Deduplicate(set))
	assert.Equal(t, 2, set.Len())
}

func TestDeduplicate_Idempotent(t *testing.T) {
	set := NewEntitySet()
	for _, s := range [][2]int{{0, 5}, {3, 9}, {8, 12}, {12, 15}, {14, 20}} {
		set.Add(&Entity{ConceptID: "A", Start: s[0], End: s[1]})
	}
	Deduplicate(set)
	first := spans(set)

	assert.Equal(t, 0, Deduplicate(set))
	assert.Equal(t, first, spans(set))

	// No two survivors overlap.
	all := set.All()
	for i := range all {
		for j := i + 1; j < len(all); j++ {
			assert.False(t, spansOverlap(all[i].Start, all[i].End, all[j].Start, all[j].End))
		}
	}
}
