// Package util provides statistic helpers for DatabaseInfo reporting.
// This file implements a size histogram with exponential buckets so that the
// engine can report value-size distributions without scanning every record,
// plus summary statistics over sampled values.
package util

import (
	"math"
	"sync"
)

// ----------------------------------------------------------------------------
// Summary statistics
// ----------------------------------------------------------------------------

type Stats struct {
	StdDeviation float64 `json:"std_deviation"`
	Min          float64 `json:"min"`
	Max          float64 `json:"max"`
	Mean         float64 `json:"mean"`
	MinMaxRatio  float64 `json:"min_max_ratio"`
}

// NewStats computes standard deviation, minimum, maximum and mean
// from an array of float64 values.
func NewStats(values []float64) Stats {
	if len(values) == 0 {
		return Stats{}
	}

	min := values[0]
	max := values[0]

	var sum float64
	for _, v := range values {
		sum += v

		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}

	mean := sum / float64(len(values))

	var sumSquaredDiffs float64
	for _, v := range values {
		diff := v - mean
		sumSquaredDiffs += diff * diff
	}

	// population formula
	stdDev := math.Sqrt(sumSquaredDiffs / float64(len(values)))

	var minMaxRatio float64 = 1.0
	if max > 0 {
		minMaxRatio = min / max
	}

	return Stats{
		StdDeviation: stdDev,
		Min:          min,
		Max:          max,
		Mean:         mean,
		MinMaxRatio:  minMaxRatio,
	}
}

// ----------------------------------------------------------------------------
// SizeHistogram
// ----------------------------------------------------------------------------

// SizeHistogram tracks the distribution of value sizes.
// Sizes are organized into exponentially growing buckets for minimal memory
// overhead while still providing usable estimations, covering values from
// single bytes to multiple gigabytes.
type SizeHistogram struct {
	mu      sync.Mutex
	buckets []uint64 // bucket i counts sizes in [2^i, 2^(i+1))
	count   uint64
	total   uint64
}

const histogramBuckets = 36 // up to 64 GiB

// NewSizeHistogram creates an empty histogram
func NewSizeHistogram() *SizeHistogram {
	return &SizeHistogram{
		buckets: make([]uint64, histogramBuckets),
	}
}

// AddSample records one value size.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (h *SizeHistogram) AddSample(size int) {
	if size < 0 {
		return
	}

	idx := bucketIndex(size)

	h.mu.Lock()
	h.buckets[idx]++
	h.count++
	h.total += uint64(size)
	h.mu.Unlock()
}

// Count returns the number of recorded samples
func (h *SizeHistogram) Count() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// AverageSize returns the mean sample size in bytes
func (h *SizeHistogram) AverageSize() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.count == 0 {
		return 0
	}
	return int(h.total / h.count)
}

// MedianEstimate estimates the median sample size from the buckets.
// The estimate is the geometric middle of the bucket containing the median.
func (h *SizeHistogram) MedianEstimate() int {
	return h.PercentileEstimate(50)
}

// PercentileEstimate estimates the given percentile (0-100) of sample sizes
func (h *SizeHistogram) PercentileEstimate(p int) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.count == 0 {
		return 0
	}

	target := h.count * uint64(p) / 100
	if target == 0 {
		target = 1
	}

	var seen uint64
	for i, c := range h.buckets {
		seen += c
		if seen >= target {
			lo := bucketLow(i)
			hi := lo * 2
			if hi < lo { // overflow guard for the top bucket
				hi = math.MaxInt64
			}
			return int((lo + hi) / 2)
		}
	}

	return 0
}

// bucketIndex maps a size to its bucket
func bucketIndex(size int) int {
	idx := 0
	for s := size; s > 1; s >>= 1 {
		idx++
	}
	if idx >= histogramBuckets {
		idx = histogramBuckets - 1
	}
	return idx
}

// bucketLow returns the inclusive lower bound of a bucket
func bucketLow(idx int) uint64 {
	if idx == 0 {
		return 0
	}
	return uint64(1) << uint(idx)
}
