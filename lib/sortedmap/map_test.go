package sortedmap

import (
	"fmt"
	"testing"
	"time"

	"github.com/ValentinKolb/dDB/lib/common"
	"github.com/ValentinKolb/dDB/lib/db"
	"github.com/ValentinKolb/dDB/lib/db/engines/maple"
	"github.com/ValentinKolb/dDB/lib/records"
	"github.com/ValentinKolb/dDB/lib/rid"
	"github.com/ValentinKolb/dDB/lib/store/lstore"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRecords(t *testing.T) (*records.Store, uint32) {
	t.Helper()
	rs, err := records.Open(lstore.NewLocalStore(func() db.KVDB { return maple.NewMapleDB(nil) }))
	require.NoError(t, err)
	pid, err := rs.CreatePartition("__index")
	require.NoError(t, err)
	return rs, pid
}

func newMap(t *testing.T, opts Options) (*BTreeMap, *records.Store) {
	t.Helper()
	rs, pid := newRecords(t)
	m, err := New(rs, pid, opts)
	require.NoError(t, err)
	return m, rs
}

func collect(t *testing.T, seq func(func(any, *rid.Set) bool)) []any {
	t.Helper()
	var keys []any
	for k := range seq {
		keys = append(keys, k)
	}
	return keys
}

func TestKeys(t *testing.T) {
	t.Run("Normalize", func(t *testing.T) {
		k, err := Normalize(int32(4))
		require.NoError(t, err)
		assert.Equal(t, int64(4), k)

		k, err = Normalize(float32(0.5))
		require.NoError(t, err)
		assert.Equal(t, float64(0.5), k)

		for _, bad := range []any{nil, []byte("x"), struct{}{}, uint64(1 << 63)} {
			_, err := Normalize(bad)
			assert.True(t, errors.Is(err, ErrInvalidKey), "%T", bad)
		}
	})

	t.Run("Compare", func(t *testing.T) {
		assert.Negative(t, Compare("a", "b"))
		assert.Negative(t, Compare(int64(2), int64(10)))
		assert.Zero(t, Compare(int64(5), float64(5)))
		assert.Negative(t, Compare(int64(5), float64(5.5)))
		assert.Negative(t, Compare(false, true))
		assert.Negative(t, Compare(true, int64(0)), "kinds order by rank")
		assert.Negative(t, Compare(int64(99), "a"))
		assert.Positive(t, Compare(rid.RID{Partition: 1, Position: 2}, rid.RID{Partition: 1, Position: 1}))
	})

	t.Run("Encoding", func(t *testing.T) {
		now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
		for _, key := range []any{"", "héllo", int64(-7), 3.25, true, now, rid.RID{Partition: 3, Position: 9}} {
			buf, err := appendKey(nil, key)
			require.NoError(t, err)
			r := &reader{buf: buf}
			got := r.readKey()
			require.NoError(t, r.done())
			assert.Zero(t, Compare(key, got), "%v", key)
		}
	})
}

func TestMapOperations(t *testing.T) {
	m, _ := newMap(t, DefaultOptions())
	assert.True(t, m.IsLoaded())
	assert.True(t, m.Identity().IsValid())

	set, ok, err := m.Get("missing")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, set)

	require.NoError(t, m.Put("b", rid.NewSet(rid.RID{Partition: 1, Position: 1})))
	require.NoError(t, m.Put("a", rid.NewSet(rid.RID{Partition: 1, Position: 2})))
	require.NoError(t, m.Put(5, rid.NewSet()))
	assert.Equal(t, 3, m.Size())

	set, ok, err = m.Get(int64(5))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 0, set.Len())

	seq, err := m.Ascend()
	require.NoError(t, err)
	assert.Equal(t, []any{int64(5), "a", "b"}, collect(t, seq))

	removed, err := m.Remove("a")
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = m.Remove("a")
	require.NoError(t, err)
	assert.False(t, removed)

	assert.True(t, errors.Is(m.Put(nil, rid.NewSet()), ErrInvalidKey))

	require.NoError(t, m.Clear())
	assert.Zero(t, m.Size())
}

func TestMapRange(t *testing.T) {
	m, _ := newMap(t, DefaultOptions())
	for i := range 10 {
		require.NoError(t, m.Put(i, rid.NewSet(rid.RID{Partition: 1, Position: int64(i)})))
	}

	tests := []struct {
		name           string
		lo, hi         any
		loIncl, hiIncl bool
		want           []any
	}{
		{"Inclusive", 2, 5, true, true, []any{int64(2), int64(3), int64(4), int64(5)}},
		{"Exclusive", 2, 5, false, false, []any{int64(3), int64(4)}},
		{"OpenLow", nil, 1, false, true, []any{int64(0), int64(1)}},
		{"OpenHigh", 8, nil, true, false, []any{int64(8), int64(9)}},
		{"Empty", 20, 30, true, true, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seq, err := m.Range(tt.lo, tt.loIncl, tt.hi, tt.hiIncl)
			require.NoError(t, err)
			assert.Equal(t, tt.want, collect(t, seq))
		})
	}

	t.Run("EarlyStop", func(t *testing.T) {
		seq, err := m.Ascend()
		require.NoError(t, err)
		n := 0
		for range seq {
			n++
			if n == 3 {
				break
			}
		}
		assert.Equal(t, 3, n)
	})
}

func TestMapPersistence(t *testing.T) {
	for _, c := range []common.Compression{common.CompressionNone, common.CompressionZSTD, common.CompressionLZ4} {
		t.Run(string(c), func(t *testing.T) {
			opts := Options{PageSize: 4, MaxUpdatesBeforeSave: 100, Compression: c}
			m, rs := newMap(t, opts)
			for i := range 25 {
				set := rid.NewSet(rid.RID{Partition: 2, Position: int64(i)}, rid.RID{Partition: 2, Position: int64(i + 100)})
				require.NoError(t, m.Put(fmt.Sprintf("key-%02d", i), set))
			}
			require.NoError(t, m.Save())
			assert.Equal(t, 7, m.EntryPointSize())

			reopened := Open(rs, m.Identity(), opts)
			assert.False(t, reopened.IsLoaded())
			_, _, err := reopened.Get("key-00")
			assert.True(t, errors.Is(err, ErrNotLoaded))

			require.NoError(t, reopened.Load())
			assert.Equal(t, 25, reopened.Size())
			set, ok, err := reopened.Get("key-07")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, []rid.RID{{Partition: 2, Position: 7}, {Partition: 2, Position: 107}}, set.IDs())
		})
	}
}

func TestMapSaving(t *testing.T) {
	t.Run("OnlyChangedPagesAreWritten", func(t *testing.T) {
		m, _ := newMap(t, Options{PageSize: 4})
		for i := range 12 {
			require.NoError(t, m.Put(i, rid.NewSet()))
		}
		require.NoError(t, m.Save())
		before := append([]pageRef(nil), m.pages...)

		set, _, err := m.Get(5)
		require.NoError(t, err)
		set.Add(rid.RID{Partition: 1, Position: 1})
		require.NoError(t, m.Put(5, set))
		require.NoError(t, m.Save())

		require.Len(t, m.pages, 3)
		for i := range m.pages {
			assert.Equal(t, before[i].id, m.pages[i].id, "pages are rewritten in place")
		}
		assert.Equal(t, before[0].checksum, m.pages[0].checksum)
		assert.NotEqual(t, before[1].checksum, m.pages[1].checksum)
		assert.Equal(t, before[2].checksum, m.pages[2].checksum)
	})

	t.Run("OptimizeRewritesAllPages", func(t *testing.T) {
		m, rs := newMap(t, Options{PageSize: 4, OptimizeThreshold: 3})
		for i := range 12 {
			require.NoError(t, m.Put(i, rid.NewSet()))
		}
		require.NoError(t, m.Save())
		before := map[rid.RID]bool{}
		for _, p := range m.pages {
			before[p.id] = true
		}

		for _, k := range []int{0, 1, 2} {
			_, err := m.Remove(k)
			require.NoError(t, err)
		}
		require.NoError(t, m.Save())

		require.Len(t, m.pages, 3)
		for _, p := range m.pages {
			assert.False(t, before[p.id], "page %s reused", p.id)
		}
		n, err := rs.Count(m.Identity().Partition)
		require.NoError(t, err)
		assert.Equal(t, int64(4), n, "header plus three pages, old pages released")
	})

	t.Run("ShrinkReleasesPages", func(t *testing.T) {
		m, rs := newMap(t, Options{PageSize: 2})
		for i := range 6 {
			require.NoError(t, m.Put(i, rid.NewSet()))
		}
		require.NoError(t, m.Save())
		require.NoError(t, m.Clear())
		require.NoError(t, m.Save())

		n, err := rs.Count(m.Identity().Partition)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		assert.Zero(t, m.EntryPointSize())
	})

	t.Run("LazySave", func(t *testing.T) {
		m, _ := newMap(t, Options{MaxUpdatesBeforeSave: 5})
		assert.Equal(t, 5, m.MaxUpdatesBeforeSave())
		for i := range 4 {
			require.NoError(t, m.Put(i, rid.NewSet()))
		}
		saved, err := m.LazySave()
		require.NoError(t, err)
		assert.False(t, saved)
		assert.Equal(t, 4, m.Dirty())

		require.NoError(t, m.Put(4, rid.NewSet()))
		saved, err = m.LazySave()
		require.NoError(t, err)
		assert.True(t, saved)
		assert.Zero(t, m.Dirty())
	})

	t.Run("UnloadSaves", func(t *testing.T) {
		m, _ := newMap(t, Options{MaxUpdatesBeforeSave: 1000})
		require.NoError(t, m.Put("x", rid.NewSet(rid.RID{Partition: 1, Position: 1})))
		require.NoError(t, m.Unload())
		assert.False(t, m.IsLoaded())
		assert.Zero(t, m.EntryPointSize())
		assert.Equal(t, 1, m.Size())

		require.NoError(t, m.Load())
		set, ok, err := m.Get("x")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 1, set.Len())
	})

	t.Run("RebindDropsUnsaved", func(t *testing.T) {
		m, _ := newMap(t, Options{})
		require.NoError(t, m.Put("x", rid.NewSet()))
		m.Rebind(m.Identity())
		require.NoError(t, m.Load())
		assert.Zero(t, m.Size())
	})
}

func TestMapCorruption(t *testing.T) {
	m, rs := newMap(t, Options{PageSize: 2})
	for i := range 4 {
		require.NoError(t, m.Put(i, rid.NewSet()))
	}
	require.NoError(t, m.Save())

	page := m.pages[1].id
	require.NoError(t, rs.Write(page, []byte{compNone, 0, 0, 0, 0}))

	reopened := Open(rs, m.Identity(), Options{})
	err := reopened.Load()
	assert.True(t, errors.Is(err, ErrCorrupt))
	assert.False(t, reopened.IsLoaded())

	require.NoError(t, rs.Write(m.Identity(), []byte("garbage")))
	assert.True(t, errors.Is(Open(rs, m.Identity(), Options{}).Load(), ErrCorrupt))
}

func TestMapDelete(t *testing.T) {
	m, rs := newMap(t, Options{PageSize: 2})
	for i := range 5 {
		require.NoError(t, m.Put(i, rid.NewSet()))
	}
	require.NoError(t, m.Save())
	require.NoError(t, m.Unload())

	id := m.Identity()
	require.NoError(t, m.Delete())
	assert.Equal(t, rid.Invalid, m.Identity())

	n, err := rs.Count(id.Partition)
	require.NoError(t, err)
	assert.Zero(t, n)
}
