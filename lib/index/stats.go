package index

import (
	"time"

	metrics "github.com/rcrowley/go-metrics"
)

// stats counts the operations of one index
type stats struct {
	gets            metrics.Counter
	ranges          metrics.Counter
	puts            metrics.Counter
	removes         metrics.Counter
	fixups          metrics.Counter
	rebuildFailures metrics.Counter
	rebuilds        metrics.Timer
}

func newStats(name string, r metrics.Registry) *stats {
	if r == nil {
		r = metrics.NewRegistry()
	}
	prefix := "index." + name + "."
	return &stats{
		gets:            metrics.GetOrRegisterCounter(prefix+"gets", r),
		ranges:          metrics.GetOrRegisterCounter(prefix+"ranges", r),
		puts:            metrics.GetOrRegisterCounter(prefix+"puts", r),
		removes:         metrics.GetOrRegisterCounter(prefix+"removes", r),
		fixups:          metrics.GetOrRegisterCounter(prefix+"fixups", r),
		rebuildFailures: metrics.GetOrRegisterCounter(prefix+"rebuildFailures", r),
		rebuilds:        metrics.GetOrRegisterTimer(prefix+"rebuilds", r),
	}
}

// StatsSnapshot is a point in time copy of the operation counters
type StatsSnapshot struct {
	Gets            int64
	Ranges          int64
	Puts            int64
	Removes         int64
	Fixups          int64
	Rebuilds        int64
	RebuildFailures int64
	RebuildMean     time.Duration
}

func (s *stats) snapshot() StatsSnapshot {
	return StatsSnapshot{
		Gets:            s.gets.Count(),
		Ranges:          s.ranges.Count(),
		Puts:            s.puts.Count(),
		Removes:         s.removes.Count(),
		Fixups:          s.fixups.Count(),
		Rebuilds:        s.rebuilds.Count(),
		RebuildFailures: s.rebuildFailures.Count(),
		RebuildMean:     time.Duration(s.rebuilds.Mean()),
	}
}
