package util

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashString(t *testing.T) {
	assert.Equal(t, HashString("key", 1), HashString("key", 1))
	assert.NotEqual(t, HashString("key", 1), HashString("key", 2))
	assert.NotEqual(t, HashString("key-a", 1), HashString("key-b", 1))
}

func TestStats(t *testing.T) {
	s := NewStats([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	assert.InDelta(t, 5.0, s.Mean, 1e-9)
	assert.InDelta(t, 2.0, s.StdDeviation, 1e-9)
	assert.Equal(t, 2.0, s.Min)
	assert.Equal(t, 9.0, s.Max)

	assert.Equal(t, Stats{}, NewStats(nil))

	even := NewDistributionStats([]float64{10, 10, 10})
	skewed := NewDistributionStats([]float64{1, 1, 28})
	assert.InDelta(t, 1.0, even.DistributionQuality, 1e-9)
	assert.Less(t, skewed.DistributionQuality, even.DistributionQuality)
}

func TestSizeHistogram(t *testing.T) {
	h := NewSizeHistogram()
	assert.Equal(t, 0, h.MedianEstimate())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				h.AddSample(100)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1000), h.GetCount())
	assert.Equal(t, 100, h.AverageSize())
	// 100 falls into the (64, 256] bucket
	assert.Equal(t, 160, h.MedianEstimate())
	assert.Equal(t, 0, h.GetPercentileEstimate(101))

	h.AddSample(1 << 40)
	assert.Equal(t, 1<<33, h.GetPercentileEstimate(100))
}
