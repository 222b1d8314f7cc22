package validation

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntityKey_Int(t *testing.T) {
	n, ok := IntKey(4).Int()
	assert.True(t, ok)
	assert.Equal(t, 4, n)

	n, ok = StringKey("12").Int()
	assert.True(t, ok)
	assert.Equal(t, 12, n)

	_, ok = StringKey("combined_3").Int()
	assert.False(t, ok)
	_, ok = StringKey("").Int()
	assert.False(t, ok)
	_, ok = EntityKey{}.Int()
	assert.False(t, ok)
}

func TestEntityKey_JSON(t *testing.T) {
	b, err := json.Marshal([]EntityKey{IntKey(3), CombinedKey(0)})
	require.NoError(t, err)
	assert.JSONEq(t, `[3, "combined_0"]`, string(b))

	var keys []EntityKey
	require.NoError(t, json.Unmarshal([]byte(`[7, "combined_2", null]`), &keys))
	require.Len(t, keys, 3)
	assert.Equal(t, IntKey(7), keys[0])
	assert.True(t, keys[1].IsCombined())
	assert.True(t, keys[2].IsZero())
}

func TestEntitySet_AssignsKeys(t *testing.T) {
	s := NewEntitySet()
	a := &Entity{ConceptID: "A", Start: 0, End: 1}
	b := &Entity{ConceptID: "B", Start: 2, End: 3}
	require.True(t, s.Add(a))
	require.True(t, s.Add(b))
	assert.Equal(t, IntKey(0), a.Key)
	assert.Equal(t, IntKey(1), b.Key)
}

func TestEntitySet_RejectsDuplicateKey(t *testing.T) {
	s := NewEntitySet()
	require.True(t, s.Add(&Entity{Key: IntKey(5), ConceptID: "A", End: 1}))
	assert.False(t, s.Add(&Entity{Key: IntKey(5), ConceptID: "B", End: 1}))
	assert.Equal(t, 1, s.Len())
}

func TestEntitySet_NumericStringKeysSeedGenerator(t *testing.T) {
	s := NewEntitySet()
	require.True(t, s.Add(&Entity{Key: StringKey("7"), ConceptID: "A", End: 1}))
	require.True(t, s.Add(&Entity{Key: CombinedKey(40), ConceptID: "B", End: 1}))
	assert.Equal(t, IntKey(8), s.NextKey())
}

func TestEntitySet_KeysNeverReused(t *testing.T) {
	s := NewEntitySet()
	a := &Entity{ConceptID: "A", End: 1}
	b := &Entity{ConceptID: "B", End: 1}
	s.Add(a)
	s.Add(b)
	assert.Equal(t, 1, s.Remove(b.Key))

	c := &Entity{ConceptID: "C", End: 1}
	s.Add(c)
	assert.Equal(t, IntKey(2), c.Key)
	assert.False(t, s.Has(IntKey(1)))
}

func TestEntitySet_RemoveAndFilter(t *testing.T) {
	s := NewEntitySet()
	for _, id := range []string{"A", "B", "C", "D"} {
		s.Add(&Entity{ConceptID: id, End: 1})
	}
	assert.Equal(t, 0, s.Remove())
	assert.Equal(t, 0, s.Remove(IntKey(99)))
	assert.Equal(t, 2, s.Remove(IntKey(0), IntKey(2)))

	got := s.All()
	require.Len(t, got, 2)
	assert.Equal(t, "B", got[0].ConceptID)
	assert.Equal(t, "D", got[1].ConceptID)

	e, ok := s.Get(IntKey(3))
	require.True(t, ok)
	assert.Equal(t, "D", e.ConceptID)

	removed := s.Filter(func(e *Entity) bool { return e.ConceptID != "B" })
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, s.Len())
}

func TestEntitySet_ConceptIDs(t *testing.T) {
	s := NewEntitySet()
	s.Add(&Entity{ConceptID: "hr ", End: 1})
	s.Add(&Entity{ConceptID: "BMI", End: 1})
	ids := s.ConceptIDs()
	assert.Len(t, ids, 2)
	assert.Contains(t, ids, "HR")
	assert.Contains(t, ids, "BMI")
}

func TestEntity_AddValueHintAppends(t *testing.T) {
	e := &Entity{}
	e.AddValueHint(ValueHint{Type: HintText, Value: "a"})
	e.AddValueHint(ValueHint{Type: HintNumeric, Value: 1.0})
	require.Len(t, e.ValueHints, 2)
	assert.Equal(t, "a", e.ValueHints[0].Value)
}
