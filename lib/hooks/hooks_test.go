package hooks

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfiler(t *testing.T) {
	t.Run("LazyEvaluation", func(t *testing.T) {
		p := New()
		calls := 0
		p.Register("db.items", func() any { calls++; return calls })
		assert.Zero(t, calls)

		v, ok := p.Value("db.items")
		require.True(t, ok)
		assert.Equal(t, 1, v)
		v, _ = p.Value("db.items")
		assert.Equal(t, 2, v)

		_, ok = p.Value("missing")
		assert.False(t, ok)
	})

	t.Run("LastWriterWins", func(t *testing.T) {
		p := New()
		p.Register("x", func() any { return "first" })
		p.Register("x", func() any { return "second" })
		v, _ := p.Value("x")
		assert.Equal(t, "second", v)
		assert.Equal(t, 1, p.Len())

		p.Unregister("x")
		assert.Zero(t, p.Len())
	})

	t.Run("Names", func(t *testing.T) {
		p := New()
		for _, n := range []string{"b", "c", "a"} {
			p.Register(n, func() any { return 0 })
		}
		assert.Equal(t, []string{"a", "b", "c"}, p.Names())
	})

	t.Run("ConcurrentRegister", func(t *testing.T) {
		p := New()
		var wg sync.WaitGroup
		for i := range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for range 100 {
					p.Register("shared", func() any { return i })
					p.Value("shared")
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, p.Len())
	})

	t.Run("Default", func(t *testing.T) {
		assert.Same(t, Default(), Default())
	})
}

func TestRendering(t *testing.T) {
	p := New()
	p.Register("index.byName.items", func() any { return int64(7) })
	p.Register("index.byName.entryPointSize", func() any { return "-" })
	p.Register("ratio", func() any { return 0.5 })

	t.Run("Dump", func(t *testing.T) {
		out := p.Dump()
		assert.Contains(t, out, "HOOK")
		assert.Contains(t, out, "index.byName.items")
		assert.Contains(t, out, "| 7")
		assert.Contains(t, out, "| -")
	})

	t.Run("Prometheus", func(t *testing.T) {
		var buf bytes.Buffer
		p.WritePrometheus(&buf)
		out := buf.String()
		assert.Contains(t, out, "index_byName_items 7")
		assert.Contains(t, out, "ratio 0.5")
		assert.NotContains(t, out, "entryPointSize", "non numeric hooks are skipped")
	})

	t.Run("MetricName", func(t *testing.T) {
		assert.Equal(t, "index_a_b_items", MetricName("index.a-b.items"))
		assert.Equal(t, "_1x", MetricName("1x"))
	})
}
