package lock

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLock(t *testing.T) {
	t.Run("OwnersAreUnique", func(t *testing.T) {
		a, b := NewOwner(), NewOwner()
		assert.NotEqual(t, a, b)
		assert.NotZero(t, a)
	})

	t.Run("ExclusiveReentrant", func(t *testing.T) {
		l := NewLock()
		o := NewOwner()

		l.AcquireExclusive(o)
		l.AcquireExclusive(o)
		l.AcquireShared(o)
		assert.True(t, l.HoldsExclusive(o))

		l.ReleaseShared(o)
		l.ReleaseExclusive(o)
		assert.True(t, l.HoldsExclusive(o), "outer hold must survive the inner release")
		l.ReleaseExclusive(o)
		assert.False(t, l.HoldsExclusive(o))
	})

	t.Run("SharedHoldsRunInParallel", func(t *testing.T) {
		l := NewLock()
		var inside atomic.Int32
		var peak atomic.Int32
		var wg sync.WaitGroup
		start := make(chan struct{})

		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				o := NewOwner()
				<-start
				l.AcquireShared(o)
				n := inside.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(20 * time.Millisecond)
				inside.Add(-1)
				l.ReleaseShared(o)
			}()
		}
		close(start)
		wg.Wait()
		assert.Greater(t, peak.Load(), int32(1))
	})

	t.Run("ExclusiveExcludesReaders", func(t *testing.T) {
		l := NewLock()
		w := NewOwner()
		l.AcquireExclusive(w)

		acquired := make(chan struct{})
		go func() {
			r := NewOwner()
			l.AcquireShared(r)
			close(acquired)
			l.ReleaseShared(r)
		}()

		select {
		case <-acquired:
			t.Fatal("reader entered while the exclusive lock was held")
		case <-time.After(30 * time.Millisecond):
		}

		l.ReleaseExclusive(w)
		select {
		case <-acquired:
		case <-time.After(time.Second):
			t.Fatal("reader was not admitted after release")
		}
	})

	t.Run("WriterWaitsForReaders", func(t *testing.T) {
		l := NewLock()
		r := NewOwner()
		l.AcquireShared(r)

		acquired := make(chan struct{})
		go func() {
			w := NewOwner()
			l.AcquireExclusive(w)
			close(acquired)
			l.ReleaseExclusive(w)
		}()

		select {
		case <-acquired:
			t.Fatal("writer entered while a reader held the lock")
		case <-time.After(30 * time.Millisecond):
		}

		// a nested shared hold does not queue behind the waiting writer
		l.AcquireShared(r)
		l.ReleaseShared(r)

		l.ReleaseShared(r)
		select {
		case <-acquired:
		case <-time.After(time.Second):
			t.Fatal("writer was not admitted after the reader left")
		}
	})

	t.Run("UpgradePanics", func(t *testing.T) {
		l := NewLock()
		o := NewOwner()
		l.AcquireShared(o)
		require.Panics(t, func() { l.AcquireExclusive(o) })
	})

	t.Run("UnheldReleasePanics", func(t *testing.T) {
		l := NewLock()
		o := NewOwner()
		assert.Panics(t, func() { l.ReleaseShared(o) })
		assert.Panics(t, func() { l.ReleaseExclusive(o) })
	})
}
