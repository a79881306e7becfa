package util

import (
	"math"
	"testing"
)

func TestStats(t *testing.T) {
	s := NewStats([]float64{2, 4, 4, 4, 5, 5, 7, 9})

	if s.Mean != 5 {
		t.Errorf("expected mean 5, got %f", s.Mean)
	}
	if s.Min != 2 || s.Max != 9 {
		t.Errorf("unexpected min/max: %f/%f", s.Min, s.Max)
	}
	if math.Abs(s.StdDeviation-2) > 1e-9 {
		t.Errorf("expected std deviation 2, got %f", s.StdDeviation)
	}
}

func TestStatsEmpty(t *testing.T) {
	s := NewStats(nil)
	if s.Mean != 0 || s.Min != 0 || s.Max != 0 {
		t.Errorf("expected zero stats for empty input, got %+v", s)
	}
}

func TestSizeHistogram(t *testing.T) {
	h := NewSizeHistogram()

	for i := 0; i < 100; i++ {
		h.AddSample(100) // all samples in the [64,128) bucket
	}

	if h.Count() != 100 {
		t.Errorf("expected 100 samples, got %d", h.Count())
	}
	if h.AverageSize() != 100 {
		t.Errorf("expected average 100, got %d", h.AverageSize())
	}

	// median estimate must land in the sample's bucket
	m := h.MedianEstimate()
	if m < 64 || m >= 128 {
		t.Errorf("median estimate %d outside bucket [64,128)", m)
	}
}

func TestSizeHistogramPercentiles(t *testing.T) {
	h := NewSizeHistogram()

	// 90 small values, 10 large ones
	for i := 0; i < 90; i++ {
		h.AddSample(10)
	}
	for i := 0; i < 10; i++ {
		h.AddSample(100000)
	}

	p50 := h.PercentileEstimate(50)
	p99 := h.PercentileEstimate(99)

	if p50 >= 64 {
		t.Errorf("p50 should be in the small bucket, got %d", p50)
	}
	if p99 < 65536 {
		t.Errorf("p99 should be in the large bucket, got %d", p99)
	}
}
