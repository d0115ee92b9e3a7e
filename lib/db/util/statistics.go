package util

import (
	"math"
	"sort"
	"sync/atomic"
)

// ----------------------------------------------------------------------------
// Spread statistics
// ----------------------------------------------------------------------------

type Stats struct {
	StdDeviation float64 `json:"std_deviation"`
	Min          float64 `json:"min"`
	Max          float64 `json:"max"`
	Mean         float64 `json:"mean"`
	MinMaxRatio  float64 `json:"min_max_ratio"`
}

// NewStats computes mean, population standard deviation and the min/max
// ratio of the given values.
func NewStats(values []float64) Stats {
	if len(values) == 0 {
		return Stats{}
	}

	s := Stats{Min: values[0], Max: values[0]}
	var sum float64
	for _, v := range values {
		sum += v
		s.Min = math.Min(s.Min, v)
		s.Max = math.Max(s.Max, v)
	}
	s.Mean = sum / float64(len(values))

	var sq float64
	for _, v := range values {
		sq += (v - s.Mean) * (v - s.Mean)
	}
	s.StdDeviation = math.Sqrt(sq / float64(len(values)))

	s.MinMaxRatio = 1
	if s.Max > 0 {
		s.MinMaxRatio = s.Min / s.Max
	}
	return s
}

type DistributionStats struct {
	Stats
	DistributionQuality float64 `json:"distribution_quality"`
}

// NewDistributionStats rates how evenly items are spread over buckets
// (shards, pages). 1 is a perfect spread, values near 0 mean most items
// sit in few buckets.
func NewDistributionStats(bucketSizes []float64) DistributionStats {
	stats := NewStats(bucketSizes)

	// coefficient of variation
	var cv float64
	if stats.Mean > 0 {
		cv = stats.StdDeviation / stats.Mean
	}

	return DistributionStats{
		Stats:               stats,
		DistributionQuality: (1.0-math.Min(1.0, cv))*0.5 + stats.MinMaxRatio*0.5,
	}
}

// ----------------------------------------------------------------------------
// SizeHistogram
// ----------------------------------------------------------------------------

// histogramBounds are the upper bounds of the buckets, from 16 B up to 4 GiB
// in steps of four. One more bucket takes everything larger.
var histogramBounds = []int{
	16, 64, 256, 1 << 10, 1 << 12, 1 << 14, 1 << 16, 1 << 18,
	1 << 20, 1 << 22, 1 << 24, 1 << 26, 1 << 28, 1 << 30, 1 << 32,
}

// SizeHistogram counts byte sizes in exponential buckets so that size
// estimates can be reported without keeping every sample.
//
// Thread-safety: all methods are safe for concurrent use.
type SizeHistogram struct {
	buckets [16]atomic.Int64
	count   atomic.Int64
	sum     atomic.Int64
}

// NewSizeHistogram creates an empty histogram
func NewSizeHistogram() *SizeHistogram {
	return &SizeHistogram{}
}

// AddSample records one size
func (h *SizeHistogram) AddSample(size int) {
	i := sort.SearchInts(histogramBounds, size)
	h.buckets[i].Add(1)
	h.count.Add(1)
	h.sum.Add(int64(size))
}

// GetCount returns the total number of samples
func (h *SizeHistogram) GetCount() int64 {
	return h.count.Load()
}

// AverageSize returns the exact mean of all samples
func (h *SizeHistogram) AverageSize() int {
	n := h.count.Load()
	if n == 0 {
		return 0
	}
	return int(h.sum.Load() / n)
}

// MedianEstimate estimates the median from the bucket counts
func (h *SizeHistogram) MedianEstimate() int {
	return h.GetPercentileEstimate(50)
}

// GetPercentileEstimate returns the midpoint of the bucket holding the given
// percentile (0-100)
func (h *SizeHistogram) GetPercentileEstimate(percentile int) int {
	n := h.count.Load()
	if n == 0 || percentile < 0 || percentile > 100 {
		return 0
	}

	target := int64(math.Ceil(float64(n) * float64(percentile) / 100.0))
	var cumulative int64
	for i := range h.buckets {
		cumulative += h.buckets[i].Load()
		if cumulative >= target {
			return bucketMidpoint(i)
		}
	}
	return int(h.sum.Load() / n)
}

func bucketMidpoint(i int) int {
	switch {
	case i == 0:
		return histogramBounds[0] / 2
	case i < len(histogramBounds):
		return (histogramBounds[i-1] + histogramBounds[i]) / 2
	default:
		return histogramBounds[len(histogramBounds)-1] * 2
	}
}
