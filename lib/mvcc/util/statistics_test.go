package util

import "testing"

func TestNewStats(t *testing.T) {
	stats := NewStats([]float64{2, 4, 4, 4, 5, 5, 7, 9})

	if stats.Mean != 5 || stats.StdDeviation != 2 {
		t.Errorf("Expected mean 5 and std deviation 2, got %v", stats)
	}
	if stats.Min != 2 || stats.Max != 9 {
		t.Errorf("Expected min 2 and max 9, got %v", stats)
	}
	if (NewStats(nil) != Stats{}) {
		t.Error("Stats of no values should be zero")
	}
}

func TestDistributionQuality(t *testing.T) {
	even := NewDistributionStats([]float64{10, 10, 10, 10})
	if even.DistributionQuality != 1 {
		t.Errorf("Even distribution should have quality 1, got %f", even.DistributionQuality)
	}

	skewed := NewDistributionStats([]float64{0, 0, 0, 40})
	if skewed.DistributionQuality >= even.DistributionQuality {
		t.Errorf("Skewed distribution rated %f, even %f", skewed.DistributionQuality, even.DistributionQuality)
	}
}

func TestSizeHistogram(t *testing.T) {
	h := NewSizeHistogram()
	if h.MedianEstimate() != 0 || h.AverageSize() != 0 {
		t.Error("Empty histogram should report zero")
	}

	for i := 0; i < 90; i++ {
		h.AddSample(10)
	}
	for i := 0; i < 10; i++ {
		h.AddSample(100000)
	}

	if h.Count() != 100 {
		t.Errorf("Expected 100 samples, got %d", h.Count())
	}
	if h.AverageSize() != (90*10+10*100000)/100 {
		t.Errorf("Unexpected average %d", h.AverageSize())
	}
	if h.MedianEstimate() != 8 {
		t.Errorf("Median should fall into the first bucket, got %d", h.MedianEstimate())
	}
	if p := h.PercentileEstimate(99); p < 65536 || p > 262144 {
		t.Errorf("p99 should fall into the 256K bucket, got %d", p)
	}
	if h.PercentileEstimate(101) != 0 {
		t.Error("Invalid percentile should return 0")
	}
}
