package lstore

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ValentinKolb/dDB/lib/db"
	"github.com/ValentinKolb/dDB/lib/db/engines/maple"
	"github.com/ValentinKolb/dDB/lib/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore() store.IStore {
	return NewLocalStore(func() db.KVDB { return maple.NewMapleDB(nil) })
}

func TestLocalStore(t *testing.T) {
	t.Run("CRUD", func(t *testing.T) {
		s := newStore()
		defer s.Close()

		require.NoError(t, s.Set("a", []byte("1")))
		v, ok, err := s.Get("a")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, []byte("1"), v)

		has, err := s.Has("a")
		require.NoError(t, err)
		assert.True(t, has)

		require.NoError(t, s.Delete("a"))
		_, ok, err = s.Get("a")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Scan", func(t *testing.T) {
		s := newStore()
		defer s.Close()

		require.NoError(t, s.Set("rec/1", []byte("x")))
		require.NoError(t, s.Set("rec/2", []byte("y")))
		require.NoError(t, s.Set("meta", []byte("z")))

		seen := map[string]string{}
		require.NoError(t, s.Scan("rec/", func(k string, v []byte) bool {
			seen[k] = string(v)
			return true
		}))
		assert.Equal(t, map[string]string{"rec/1": "x", "rec/2": "y"}, seen)
	})

	t.Run("SaveLoadKeepsWritesOrdered", func(t *testing.T) {
		src := newStore()
		defer src.Close()
		for i := 0; i < 10; i++ {
			require.NoError(t, src.Set("k", []byte{byte(i)}))
		}

		var buf bytes.Buffer
		require.NoError(t, src.Save(&buf))

		dst := newStore()
		defer dst.Close()
		require.NoError(t, dst.Load(&buf))

		// a write after the load must not be treated as stale
		require.NoError(t, dst.Set("k", []byte("after")))
		v, _, err := dst.Get("k")
		require.NoError(t, err)
		assert.Equal(t, []byte("after"), v)
	})

	t.Run("ClosedStore", func(t *testing.T) {
		s := newStore()
		require.NoError(t, s.Close())
		require.NoError(t, s.Close())

		err := s.Set("a", nil)
		var storeErr *store.Error
		require.True(t, errors.As(err, &storeErr))
		assert.Equal(t, store.RetCInvalidOperation, storeErr.Code)
	})
}
