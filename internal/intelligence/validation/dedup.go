package validation

import "sort"

// Deduplicate removes empty spans and, per concept id, every span that
// overlaps an earlier or longer one of the same concept. It returns the
// number of entities removed. Running it twice is a no-op the second time.
func Deduplicate(set *EntitySet) int {
	groups := make(map[string][]*Entity)
	for _, e := range set.All() {
		id := e.NormalizedConceptID()
		groups[id] = append(groups[id], e)
	}

	keep := make(map[*Entity]struct{}, set.Len())
	for _, group := range groups {
		sort.SliceStable(group, func(i, j int) bool {
			if group[i].Start != group[j].Start {
				return group[i].Start < group[j].Start
			}
			return group[i].End-group[i].Start > group[j].End-group[j].Start
		})
		var selected []*Entity
		for _, e := range group {
			if !e.ValidSpan() {
				continue
			}
			overlaps := false
			for _, s := range selected {
				if spansOverlap(e.Start, e.End, s.Start, s.End) {
					overlaps = true
					break
				}
			}
			if !overlaps {
				selected = append(selected, e)
				keep[e] = struct{}{}
			}
		}
	}

	return set.Filter(func(e *Entity) bool {
		_, ok := keep[e]
		return ok
	})
}

func spansOverlap(s1, e1, s2, e2 int) bool {
	return s1 < e2 && s2 < e1
}
