package validation

// KeyGenerator hands out integer keys. It starts one past the largest numeric
// key it has observed and only ever increases, so a key is never reused
// within a call even after entities are removed.
type KeyGenerator struct {
	next int
}

// Observe raises the generator above k when k is numeric.
func (g *KeyGenerator) Observe(k EntityKey) {
	if n, ok := k.Int(); ok && n >= g.next {
		g.next = n + 1
	}
}

// Next returns a fresh key.
func (g *KeyGenerator) Next() EntityKey {
	k := IntKey(g.next)
	g.next++
	return k
}

// EntitySet is the ordered working set of one extraction call. It is not
// safe for concurrent use.
type EntitySet struct {
	entities []*Entity
	index    map[string]int
	keys     KeyGenerator
}

// NewEntitySet returns an empty set.
func NewEntitySet() *EntitySet {
	return &EntitySet{index: map[string]int{}}
}

// Add inserts e. An entity without a key gets the next integer key. An
// entity whose key is already present is not added and Add returns false.
func (s *EntitySet) Add(e *Entity) bool {
	if e.Key.IsZero() {
		e.Key = s.keys.Next()
	}
	id := e.Key.String()
	if _, dup := s.index[id]; dup {
		return false
	}
	s.keys.Observe(e.Key)
	s.index[id] = len(s.entities)
	s.entities = append(s.entities, e)
	return true
}

// NextKey reserves a fresh integer key.
func (s *EntitySet) NextKey() EntityKey {
	return s.keys.Next()
}

// Has reports whether key is present.
func (s *EntitySet) Has(key EntityKey) bool {
	_, ok := s.index[key.String()]
	return ok
}

// Get returns the entity stored under key.
func (s *EntitySet) Get(key EntityKey) (*Entity, bool) {
	i, ok := s.index[key.String()]
	if !ok {
		return nil, false
	}
	return s.entities[i], true
}

// Len returns the number of entities.
func (s *EntitySet) Len() int {
	return len(s.entities)
}

// All returns the entities in insertion order. The slice is a copy; the
// entities are shared.
func (s *EntitySet) All() []*Entity {
	out := make([]*Entity, len(s.entities))
	copy(out, s.entities)
	return out
}

// Remove deletes the entities under keys and returns how many were present.
func (s *EntitySet) Remove(keys ...EntityKey) int {
	if len(keys) == 0 {
		return 0
	}
	drop := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := s.index[k.String()]; ok {
			drop[k.String()] = struct{}{}
		}
	}
	if len(drop) == 0 {
		return 0
	}
	return s.Filter(func(e *Entity) bool {
		_, gone := drop[e.Key.String()]
		return !gone
	})
}

// Filter keeps the entities for which keep returns true and returns how many
// were removed.
func (s *EntitySet) Filter(keep func(*Entity) bool) int {
	kept := s.entities[:0]
	removed := 0
	for _, e := range s.entities {
		if keep(e) {
			kept = append(kept, e)
		} else {
			removed++
		}
	}
	for i := len(kept); i < len(s.entities); i++ {
		s.entities[i] = nil
	}
	s.entities = kept
	s.index = make(map[string]int, len(kept))
	for i, e := range kept {
		s.index[e.Key.String()] = i
	}
	return removed
}

// ConceptIDs returns the set of upper-cased concept ids present.
func (s *EntitySet) ConceptIDs() map[string]struct{} {
	out := make(map[string]struct{}, len(s.entities))
	for _, e := range s.entities {
		out[e.NormalizedConceptID()] = struct{}{}
	}
	return out
}
