package rid

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// movable is a reference whose identity can change, like a document saved
// inside a transaction.
type movable struct {
	id RID
}

func (m *movable) Identity() RID { return m.id }

func TestRID(t *testing.T) {
	t.Run("Validity", func(t *testing.T) {
		assert.True(t, RID{Partition: 1, Position: 0}.IsValid())
		assert.False(t, Invalid.IsValid())
		assert.False(t, Invalid.IsProvisional())

		p := Provisional(3, 0)
		assert.True(t, p.IsProvisional())
		assert.False(t, p.IsValid())
		assert.NotEqual(t, Provisional(3, 0), Provisional(3, 1))
	})

	t.Run("StringParse", func(t *testing.T) {
		for _, r := range []RID{{1, 0}, {7, 123456}, Provisional(2, 5), Invalid} {
			parsed, err := Parse(r.String())
			require.NoError(t, err)
			assert.Equal(t, r, parsed)
		}

		for _, s := range []string{"", "1:2", "#1", "#x:1", "#1:y"} {
			_, err := Parse(s)
			assert.Error(t, err, s)
		}
	})

	t.Run("JSON", func(t *testing.T) {
		in := RID{Partition: 4, Position: 9}
		b, err := json.Marshal(in)
		require.NoError(t, err)
		assert.Equal(t, `"#4:9"`, string(b))

		var out RID
		require.NoError(t, json.Unmarshal(b, &out))
		assert.Equal(t, in, out)
	})

	t.Run("Compare", func(t *testing.T) {
		assert.Equal(t, -1, RID{1, 5}.Compare(RID{2, 0}))
		assert.Equal(t, 1, RID{1, 5}.Compare(RID{1, 4}))
		assert.Equal(t, 0, RID{1, 5}.Compare(RID{1, 5}))
	})
}

func TestSet(t *testing.T) {
	t.Run("UniqueMembership", func(t *testing.T) {
		s := NewSet()
		assert.True(t, s.Add(RID{1, 1}))
		assert.False(t, s.Add(RID{1, 1}))
		assert.True(t, s.Add(RID{1, 2}))
		assert.Equal(t, 2, s.Len())
		assert.True(t, s.Contains(RID{1, 2}))
		assert.True(t, s.Remove(RID{1, 2}))
		assert.False(t, s.Remove(RID{1, 2}))
		assert.Equal(t, []RID{{1, 1}}, s.IDs())
	})

	t.Run("NilSet", func(t *testing.T) {
		var s *Set
		assert.Equal(t, 0, s.Len())
		assert.False(t, s.Contains(RID{1, 1}))
		assert.Nil(t, s.IDs())
		assert.Equal(t, 0, s.Clone().Len())
	})

	t.Run("Union", func(t *testing.T) {
		a := NewSet(RID{1, 1}, RID{1, 2})
		b := NewSet(RID{1, 2}, RID{2, 0})
		a.Union(b)
		assert.Equal(t, []RID{{1, 1}, {1, 2}, {2, 0}}, a.IDs())
		assert.Equal(t, 2, b.Len())
	})

	t.Run("RehashAfterIdentityChange", func(t *testing.T) {
		doc := &movable{id: Provisional(1, 0)}
		s := NewSet(doc)
		require.True(t, s.Contains(doc))

		// commit assigns the final position
		doc.id = RID{Partition: 1, Position: 42}
		assert.False(t, s.Contains(doc), "stale key must not match the new identity")
		assert.True(t, s.Stale())

		fixed := s.Rehash()
		assert.True(t, fixed.Contains(doc))
		assert.False(t, fixed.Stale())
		assert.Equal(t, []RID{{1, 42}}, fixed.IDs())

		// the original set is left untouched
		assert.False(t, s.Contains(doc))
	})

	t.Run("CloneIsIndependent", func(t *testing.T) {
		s := NewSet(RID{1, 1})
		c := s.Clone()
		c.Add(RID{1, 2})
		assert.Equal(t, 1, s.Len())
		assert.Equal(t, 2, c.Len())
	})

	t.Run("String", func(t *testing.T) {
		assert.Equal(t, "[#1:1, #2:0]", NewSet(RID{2, 0}, RID{1, 1}).String())
	})
}
