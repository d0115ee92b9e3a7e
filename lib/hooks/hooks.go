package hooks

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"

	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var log = logger.GetLogger("hooks")

// --------------------------------------------------------------------------
// Interface
// --------------------------------------------------------------------------

// Hook returns the current value of a metric. It is evaluated only when the
// value is read, never pushed.
type Hook func() any

// Registry is the sink components publish their hooks to
type Registry interface {
	// Register binds name to hook. A later registration under the same name
	// replaces the earlier one.
	Register(name string, hook Hook)
	// Unregister removes the hook bound to name, if any
	Unregister(name string)
}

// --------------------------------------------------------------------------
// Profiler
// --------------------------------------------------------------------------

// Profiler is the default Registry implementation. It keeps the hooks in
// memory and renders them as a text table or in Prometheus exposition format.
//
// Thread-safety: all methods are safe for concurrent use. Hooks are evaluated
// on the goroutine that reads them.
type Profiler struct {
	hooks *xsync.MapOf[string, Hook]
}

// New creates an empty profiler
func New() *Profiler {
	return &Profiler{hooks: xsync.NewMapOf[string, Hook]()}
}

var (
	defaultOnce sync.Once
	defaultProf *Profiler
)

// Default returns the process-wide profiler
func Default() *Profiler {
	defaultOnce.Do(func() { defaultProf = New() })
	return defaultProf
}

func (p *Profiler) Register(name string, hook Hook) {
	if _, replaced := p.hooks.LoadAndStore(name, hook); replaced {
		log.Debugf("hook %q replaced", name)
	}
}

func (p *Profiler) Unregister(name string) {
	p.hooks.Delete(name)
}

// Value evaluates the hook bound to name
func (p *Profiler) Value(name string) (any, bool) {
	h, ok := p.hooks.Load(name)
	if !ok {
		return nil, false
	}
	return h(), true
}

// Names returns all registered names in ascending order
func (p *Profiler) Names() []string {
	names := make([]string, 0, p.hooks.Size())
	p.hooks.Range(func(name string, _ Hook) bool {
		names = append(names, name)
		return true
	})
	slices.Sort(names)
	return names
}

// Len returns the number of registered hooks
func (p *Profiler) Len() int {
	return p.hooks.Size()
}

// --------------------------------------------------------------------------
// Rendering
// --------------------------------------------------------------------------

// Dump evaluates every hook and renders an aligned table sorted by name
func (p *Profiler) Dump() string {
	names := p.Names()
	width := len("HOOK")
	for _, n := range names {
		width = max(width, len(n))
	}

	var sb strings.Builder
	line := strings.Repeat("-", width+2) + "+" + strings.Repeat("-", 22) + "\n"
	sb.WriteString(line)
	fmt.Fprintf(&sb, " %-*s | %s\n", width, "HOOK", "VALUE")
	sb.WriteString(line)
	for _, n := range names {
		v, ok := p.Value(n)
		if !ok {
			continue
		}
		fmt.Fprintf(&sb, " %-*s | %v\n", width, n, v)
	}
	sb.WriteString(line)
	return sb.String()
}

// WritePrometheus writes every hook with a numeric value as gauge. Names are
// sanitized to the Prometheus charset, non numeric values are skipped.
func (p *Profiler) WritePrometheus(w io.Writer) {
	set := metrics.NewSet()
	seen := make(map[string]bool)
	for _, n := range p.Names() {
		v, ok := p.Value(n)
		if !ok {
			continue
		}
		f, ok := toFloat(v)
		if !ok {
			continue
		}
		metric := MetricName(n)
		if seen[metric] {
			continue
		}
		seen[metric] = true
		set.NewGauge(metric, func() float64 { return f })
	}
	set.WritePrometheus(w)
}

// MetricName maps a hook name onto a valid Prometheus metric name
func MetricName(name string) string {
	var sb strings.Builder
	sb.Grow(len(name) + 1)
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
			sb.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				sb.WriteByte('_')
			}
			sb.WriteRune(r)
		default:
			sb.WriteByte('_')
		}
	}
	return sb.String()
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return float64(x), true
	case float32:
		return float64(x), true
	case float64:
		return x, true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}
