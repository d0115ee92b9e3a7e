package docstore

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/dDB/lib/db"
	"github.com/ValentinKolb/dDB/lib/db/engines/maple"
	"github.com/ValentinKolb/dDB/lib/records"
	"github.com/ValentinKolb/dDB/lib/rid"
	"github.com/ValentinKolb/dDB/lib/store"
	"github.com/ValentinKolb/dDB/lib/store/lstore"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	return newStoreOn(t, lstore.NewLocalStore(func() db.KVDB { return maple.NewMapleDB(nil) }))
}

func newStoreOn(t *testing.T, kv store.IStore) *Store {
	t.Helper()
	rs, err := records.Open(kv)
	require.NoError(t, err)
	s, err := New(rs, 16)
	require.NoError(t, err)
	require.NoError(t, s.CreatePartition("person"))
	return s
}

// recorder logs record and transaction events, optionally vetoing creates
type recorder struct {
	NopDatabaseListener
	events []string
	veto   error
}

func (r *recorder) OnRecordCreated(after *Document) error {
	r.events = append(r.events, fmt.Sprintf("create %s", after.Identity()))
	return r.veto
}

func (r *recorder) OnRecordUpdated(before, after *Document) error {
	b, _ := before.Field("name")
	a, _ := after.Field("name")
	r.events = append(r.events, fmt.Sprintf("update %v->%v", b, a))
	return nil
}

func (r *recorder) OnRecordDeleted(before *Document) error {
	r.events = append(r.events, fmt.Sprintf("delete %s", before.Identity()))
	return nil
}

func (r *recorder) OnBeforeTxBegin(*Tx)   { r.events = append(r.events, "begin") }
func (r *recorder) OnAfterTxCommit(*Tx)   { r.events = append(r.events, "commit") }
func (r *recorder) OnAfterTxRollback(*Tx) { r.events = append(r.events, "rollback") }
func (r *recorder) OnClose(*Store)        { r.events = append(r.events, "close") }

// flakyKV fails the failAt-th write to keys with the given prefix
type flakyKV struct {
	store.IStore
	prefix string
	failAt int
	sets   int
}

func (k *flakyKV) Set(key string, value []byte) error {
	if k.prefix != "" && strings.HasPrefix(key, k.prefix) {
		k.sets++
		if k.sets == k.failAt {
			return errors.New("disk full")
		}
	}
	return k.IStore.Set(key, value)
}

// selfRemover unregisters itself on the first record event
type selfRemover struct {
	s     *Store
	calls int
}

func (r *selfRemover) OnRecordCreated(*Document) error {
	r.calls++
	r.s.UnregisterRecordListener(r)
	return nil
}

func (r *selfRemover) OnRecordUpdated(_, _ *Document) error { return nil }
func (r *selfRemover) OnRecordDeleted(*Document) error      { return nil }

func TestDocument(t *testing.T) {
	d := NewDocument(map[string]any{"age": 42, "addr": map[string]any{"city": "Ulm"}})
	assert.Equal(t, rid.Invalid, d.Identity())

	v, ok := d.Field("age")
	assert.True(t, ok)
	assert.Equal(t, int64(42), v)

	v, ok = d.Field("addr.city")
	assert.True(t, ok)
	assert.Equal(t, "Ulm", v)

	_, ok = d.Field("addr.zip")
	assert.False(t, ok)

	d.Set("score", float32(1.5))
	v, _ = d.Field("score")
	assert.Equal(t, float64(1.5), v)

	d.Unset("score")
	assert.NotContains(t, d.Fields(), "score")
}

func TestSaveLoad(t *testing.T) {
	s := newStore(t)

	doc := NewDocument(map[string]any{"name": "ada", "age": 36})
	require.NoError(t, s.Save("person", doc))
	require.True(t, doc.Identity().IsValid())
	assert.Equal(t, "person", doc.Partition())

	loaded, err := s.Load(doc.Identity())
	require.NoError(t, err)
	assert.Same(t, doc, loaded, "cached instance is shared")

	// decode from storage after eviction
	s.cache.Purge()
	loaded, err = s.Load(doc.Identity())
	require.NoError(t, err)
	age, _ := loaded.Field("age")
	assert.Equal(t, int64(36), age)

	doc.Set("age", 37)
	require.NoError(t, s.Save("", doc))
	s.cache.Purge()
	loaded, err = s.Load(doc.Identity())
	require.NoError(t, err)
	age, _ = loaded.Field("age")
	assert.Equal(t, int64(37), age)

	require.NoError(t, s.Delete(doc))
	assert.Equal(t, rid.Invalid, doc.Identity())
	_, err = s.Load(loaded.Identity())
	assert.True(t, errors.Is(err, records.ErrRecordNotFound))

	assert.True(t, errors.Is(s.Save("nope", NewDocument(nil)), records.ErrPartitionUnknown))
}

func TestBlob(t *testing.T) {
	s := newStore(t)
	b, err := s.SaveBlob("person", []byte("raw"))
	require.NoError(t, err)

	_, err = s.Load(b.Identity())
	assert.True(t, errors.Is(err, ErrNotDocument))

	got, err := s.LoadBlob(b.Identity())
	require.NoError(t, err)
	assert.Equal(t, []byte("raw"), got.Data)

	n, err := s.Count("person")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, s.DeleteBlob(b))
	n, _ = s.Count("person")
	assert.Zero(t, n)
}

func TestBrowse(t *testing.T) {
	s := newStore(t)
	for i := range 5 {
		require.NoError(t, s.Save("person", NewDocument(map[string]any{"n": i})))
	}
	_, err := s.SaveBlob("person", []byte{1})
	require.NoError(t, err)

	var docs, blobs int
	for ref, err := range s.Browse("person") {
		require.NoError(t, err)
		switch ref.(type) {
		case *Document:
			docs++
		case *Blob:
			blobs++
		}
	}
	assert.Equal(t, 5, docs)
	assert.Equal(t, 1, blobs)

	for _, err := range s.Browse("missing") {
		assert.True(t, errors.Is(err, records.ErrPartitionUnknown))
	}
}

func TestListeners(t *testing.T) {
	t.Run("VetoUndoesCreate", func(t *testing.T) {
		s := newStore(t)
		r := &recorder{veto: errors.New("duplicate")}
		s.RegisterRecordListener(r)

		doc := NewDocument(map[string]any{"name": "x"})
		assert.Error(t, s.Save("person", doc))
		assert.Equal(t, rid.Invalid, doc.Identity())

		n, err := s.Count("person")
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("UpdateSeesBeforeImage", func(t *testing.T) {
		s := newStore(t)
		r := &recorder{}
		s.RegisterRecordListener(r)

		doc := NewDocument(map[string]any{"name": "a"})
		require.NoError(t, s.Save("person", doc))
		doc.Set("name", "b")
		require.NoError(t, s.Save("person", doc))

		assert.Equal(t, "update a->b", r.events[1])
	})

	t.Run("UnregisterDuringCallback", func(t *testing.T) {
		s := newStore(t)
		r := &selfRemover{s: s}
		s.RegisterRecordListener(r)

		done := make(chan struct{})
		go func() {
			defer close(done)
			assert.NoError(t, s.Save("person", NewDocument(map[string]any{"name": "a"})))
			assert.NoError(t, s.Save("person", NewDocument(map[string]any{"name": "b"})))
		}()
		select {
		case <-done:
		case <-time.After(10 * time.Second):
			t.Fatal("save blocked on listener registration")
		}
		assert.Equal(t, 1, r.calls)
	})

	t.Run("Unregister", func(t *testing.T) {
		s := newStore(t)
		r := &recorder{}
		s.RegisterRecordListener(r)
		s.UnregisterRecordListener(r)
		s.RegisterListener(r)
		s.UnregisterListener(r)

		require.NoError(t, s.Save("person", NewDocument(nil)))
		require.NoError(t, s.Close())
		assert.Empty(t, r.events)
	})
}

func TestTransactions(t *testing.T) {
	t.Run("CommitAssignsFinalIdentity", func(t *testing.T) {
		s := newStore(t)
		r := &recorder{}
		s.RegisterListener(r)
		s.RegisterRecordListener(r)

		tx, err := s.Begin()
		require.NoError(t, err)
		assert.NotEmpty(t, tx.ID)

		_, err = s.Begin()
		assert.True(t, errors.Is(err, ErrTxActive))

		doc := NewDocument(map[string]any{"name": "a"})
		require.NoError(t, s.Save("person", doc))
		assert.True(t, doc.Identity().IsProvisional())
		assert.Equal(t, 1, tx.Len())

		n, _ := s.Count("person")
		assert.Zero(t, n, "buffered until commit")

		require.NoError(t, s.Commit())
		assert.True(t, doc.Identity().IsValid())
		assert.False(t, s.InTx())

		n, _ = s.Count("person")
		assert.Equal(t, int64(1), n)

		assert.Equal(t, []string{"begin", fmt.Sprintf("create %s", rid.Provisional(doc.Identity().Partition, 0)), "commit"}, r.events)
	})

	t.Run("RollbackCompensates", func(t *testing.T) {
		s := newStore(t)
		r := &recorder{}

		kept := NewDocument(map[string]any{"name": "a"})
		require.NoError(t, s.Save("person", kept))

		s.RegisterListener(r)
		s.RegisterRecordListener(r)

		_, err := s.Begin()
		require.NoError(t, err)
		fresh := NewDocument(map[string]any{"name": "n"})
		require.NoError(t, s.Save("person", fresh))
		provisional := fresh.Identity()
		kept.Set("name", "b")
		require.NoError(t, s.Save("person", kept))
		require.NoError(t, s.Rollback())

		assert.Equal(t, rid.Invalid, fresh.Identity())
		name, _ := kept.Field("name")
		assert.Equal(t, "a", name)

		assert.Equal(t, []string{
			"begin",
			fmt.Sprintf("create %s", provisional),
			"update a->b",
			"update b->a",
			fmt.Sprintf("delete %s", provisional),
			"rollback",
		}, r.events)

		n, _ := s.Count("person")
		assert.Equal(t, int64(1), n)
	})

	t.Run("DeleteInsideTx", func(t *testing.T) {
		s := newStore(t)
		doc := NewDocument(map[string]any{"name": "a"})
		require.NoError(t, s.Save("person", doc))
		id := doc.Identity()

		_, err := s.Begin()
		require.NoError(t, err)
		require.NoError(t, s.Delete(doc))
		assert.Equal(t, id, doc.Identity())
		require.NoError(t, s.Commit())

		assert.Equal(t, rid.Invalid, doc.Identity())
		_, err = s.Load(id)
		assert.Error(t, err)
	})

	t.Run("FailedCommitRollsBack", func(t *testing.T) {
		kv := &flakyKV{IStore: lstore.NewLocalStore(func() db.KVDB { return maple.NewMapleDB(nil) })}
		s := newStoreOn(t, kv)
		kept := NewDocument(map[string]any{"name": "a"})
		require.NoError(t, s.Save("person", kept))

		r := &recorder{}
		s.RegisterListener(r)
		s.RegisterRecordListener(r)

		_, err := s.Begin()
		require.NoError(t, err)
		first := NewDocument(map[string]any{"name": "x"})
		require.NoError(t, s.Save("person", first))
		p0 := first.Identity()
		kept.Set("name", "b")
		require.NoError(t, s.Save("person", kept))
		second := NewDocument(map[string]any{"name": "y"})
		require.NoError(t, s.Save("person", second))
		p1 := second.Identity()

		// the create of second fails after first and kept were written
		pid, _ := s.records.PartitionID("person")
		kv.prefix = fmt.Sprintf("rec/%d/", pid)
		kv.failAt = 3
		err = s.Commit()
		require.Error(t, err)
		kv.prefix = ""

		assert.False(t, s.InTx())
		assert.Equal(t, rid.Invalid, first.Identity())
		assert.Equal(t, rid.Invalid, second.Identity())
		n, _ := s.Count("person")
		assert.Equal(t, int64(1), n)

		name, _ := kept.Field("name")
		assert.Equal(t, "a", name)
		s.cache.Purge()
		stored, err := s.Load(kept.Identity())
		require.NoError(t, err)
		name, _ = stored.Field("name")
		assert.Equal(t, "a", name, "update was undone in storage")

		assert.Equal(t, []string{
			"begin",
			fmt.Sprintf("create %s", p0),
			"update a->b",
			fmt.Sprintf("create %s", p1),
			fmt.Sprintf("delete %s", p1),
			"update b->a",
			fmt.Sprintf("delete %s", p0),
			"rollback",
		}, r.events)
	})

	t.Run("CommitFailsForVanishedRecord", func(t *testing.T) {
		s := newStore(t)
		doc := NewDocument(map[string]any{"name": "a"})
		require.NoError(t, s.Save("person", doc))
		id := doc.Identity()

		_, err := s.Begin()
		require.NoError(t, err)
		fresh := NewDocument(map[string]any{"name": "n"})
		require.NoError(t, s.Save("person", fresh))
		require.NoError(t, s.Delete(doc))
		require.NoError(t, s.records.Delete(id))

		err = s.Commit()
		assert.True(t, errors.Is(err, records.ErrRecordNotFound))
		assert.Equal(t, rid.Invalid, fresh.Identity(), "nothing was written")
		assert.Equal(t, id, doc.Identity())
		assert.False(t, s.InTx())
	})

	t.Run("NoTx", func(t *testing.T) {
		s := newStore(t)
		assert.True(t, errors.Is(s.Commit(), ErrNoTx))
		assert.True(t, errors.Is(s.Rollback(), ErrNoTx))
	})
}

func TestClose(t *testing.T) {
	s := newStore(t)
	r := &recorder{}
	s.RegisterListener(r)

	_, err := s.Begin()
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	assert.Equal(t, []string{"begin", "rollback", "close"}, r.events)
	assert.True(t, errors.Is(s.Save("person", NewDocument(nil)), ErrClosed))
}
