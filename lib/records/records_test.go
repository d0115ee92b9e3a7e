package records

import (
	"testing"

	"github.com/ValentinKolb/dDB/lib/db"
	"github.com/ValentinKolb/dDB/lib/db/engines/maple"
	"github.com/ValentinKolb/dDB/lib/rid"
	"github.com/ValentinKolb/dDB/lib/store"
	"github.com/ValentinKolb/dDB/lib/store/lstore"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newKV() store.IStore {
	return lstore.NewLocalStore(func() db.KVDB { return maple.NewMapleDB(nil) })
}

func TestPartitions(t *testing.T) {
	s, err := Open(newKV())
	require.NoError(t, err)

	a, err := s.CreatePartition("person")
	require.NoError(t, err)
	b, err := s.CreatePartition("city")
	require.NoError(t, err)
	again, err := s.CreatePartition("person")
	require.NoError(t, err)

	assert.Equal(t, a, again)
	assert.NotEqual(t, a, b)
	assert.Equal(t, []string{"person", "city"}, s.Partitions())

	name, ok := s.PartitionName(b)
	assert.True(t, ok)
	assert.Equal(t, "city", name)

	_, err = s.CreatePartition("")
	assert.Error(t, err)

	_, err = s.Allocate(99)
	assert.True(t, errors.Is(err, ErrPartitionUnknown))
}

func TestRecords(t *testing.T) {
	s, err := Open(newKV())
	require.NoError(t, err)
	pid, err := s.CreatePartition("docs")
	require.NoError(t, err)

	ids := make([]rid.RID, 5)
	for i := range ids {
		ids[i], err = s.Create(pid, []byte{byte(i)})
		require.NoError(t, err)
		assert.Equal(t, int64(i), ids[i].Position)
	}

	data, err := s.Read(ids[2])
	require.NoError(t, err)
	assert.Equal(t, []byte{2}, data)

	require.NoError(t, s.Write(ids[2], []byte("updated")))
	data, err = s.Read(ids[2])
	require.NoError(t, err)
	assert.Equal(t, []byte("updated"), data)

	require.NoError(t, s.Delete(ids[1]))
	assert.False(t, s.Exists(ids[1]))
	_, err = s.Read(ids[1])
	assert.True(t, errors.Is(err, ErrRecordNotFound))
	assert.True(t, errors.Is(s.Delete(ids[1]), ErrRecordNotFound))
	assert.True(t, errors.Is(s.Write(ids[1], nil), ErrRecordNotFound))

	n, err := s.Count(pid)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	// positions are not reused after a delete
	next, err := s.Create(pid, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(5), next.Position)

	assert.False(t, s.Exists(rid.Provisional(pid, 0)))
}

func TestBrowse(t *testing.T) {
	s, err := Open(newKV())
	require.NoError(t, err)
	pid, _ := s.CreatePartition("docs")

	for i := 0; i < 20; i++ {
		_, err := s.Create(pid, []byte{byte(i)})
		require.NoError(t, err)
	}
	require.NoError(t, s.Delete(rid.RID{Partition: pid, Position: 3}))

	var positions []int64
	for rec, err := range s.Browse(pid) {
		require.NoError(t, err)
		assert.Equal(t, []byte{byte(rec.ID.Position)}, rec.Data)
		positions = append(positions, rec.ID.Position)
	}
	assert.Len(t, positions, 19)
	assert.NotContains(t, positions, int64(3))
	assert.IsIncreasing(t, positions)

	// early stop
	seen := 0
	for range s.Browse(pid) {
		seen++
		if seen == 2 {
			break
		}
	}
	assert.Equal(t, 2, seen)

	for _, err := range s.Browse(42) {
		assert.True(t, errors.Is(err, ErrPartitionUnknown))
	}
}

func TestFlushAndReopen(t *testing.T) {
	kv := newKV()
	s, err := Open(kv)
	require.NoError(t, err)
	pid, _ := s.CreatePartition("docs")
	for i := 0; i < 10; i++ {
		_, err := s.Create(pid, []byte{byte(i)})
		require.NoError(t, err)
	}
	require.NoError(t, s.Delete(rid.RID{Partition: pid, Position: 0}))
	require.NoError(t, s.Flush())

	reopened, err := Open(kv)
	require.NoError(t, err)
	n, err := reopened.Count(pid)
	require.NoError(t, err)
	assert.Equal(t, int64(9), n)

	id, err := reopened.Create(pid, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(10), id.Position)

	t.Run("RebuildMissingLiveSet", func(t *testing.T) {
		require.NoError(t, kv.Delete(liveKey(pid)))
		rebuilt, err := Open(kv)
		require.NoError(t, err)
		n, err := rebuilt.Count(pid)
		require.NoError(t, err)
		// includes the record created after the flush
		assert.Equal(t, int64(10), n)
		assert.False(t, rebuilt.Exists(rid.RID{Partition: pid, Position: 0}))
	})
}
