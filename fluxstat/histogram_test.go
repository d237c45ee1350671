package fluxstat

import (
	"math/rand"
	"testing"
)

// TestHistogramBasics fills a histogram with a known distribution and
// checks the derived statistics.
func TestHistogramBasics(t *testing.T) {
	h := NewHistogram(DefaultShift)
	if h.Count() != 0 || h.Mean() != 0 || h.Min() != 0 {
		t.Fatal("fresh histogram is not empty")
	}

	// Bimodal MFM-like distribution: mostly two-cell spacings with some
	// three-cell ones. 72 MHz ticks at 500 kbps.
	for i := 0; i < 300; i++ {
		h.Add(144)
	}
	for i := 0; i < 100; i++ {
		h.Add(216)
	}

	if h.Count() != 400 {
		t.Errorf("Count() = %d, expected 400", h.Count())
	}
	if h.Min() != 144 || h.Max() != 216 {
		t.Errorf("Min/Max = %d/%d, expected 144/216", h.Min(), h.Max())
	}
	if h.Mean() != 162 {
		t.Errorf("Mean() = %d, expected 162", h.Mean())
	}

	bin, count := h.Peak()
	if bin != 144>>DefaultShift || count != 300 {
		t.Errorf("Peak() = (%d, %d), expected (%d, 300)", bin, count, 144>>DefaultShift)
	}
}

// TestHistogramRateEstimate recovers the data rate from jittered intervals.
func TestHistogramRateEstimate(t *testing.T) {
	const tickHz = 72000000

	cases := []struct {
		name     string
		rateKHz  uint32
		interval uint32 // dominant two-cell spacing in ticks
	}{
		{"250kbps", 250, 288},
		{"500kbps", 500, 144},
		{"1mbps", 1000, 72},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rng := rand.New(rand.NewSource(42))
			h := NewHistogram(DefaultShift)
			for i := 0; i < 1000; i++ {
				jitter := rng.Intn(7) - 3
				h.Add(uint32(int(tc.interval) + jitter))
			}

			got := h.EstimateRateKHz(tickHz)
			lo := tc.rateKHz * 95 / 100
			hi := tc.rateKHz * 105 / 100
			if got < lo || got > hi {
				t.Errorf("EstimateRateKHz() = %d, expected %d within 5%%", got, tc.rateKHz)
			}
		})
	}
}

// TestHistogramOverflowBin clamps out-of-range intervals into the last bin.
func TestHistogramOverflowBin(t *testing.T) {
	h := NewHistogram(DefaultShift)
	h.Add(1 << 20)
	if got := h.Bin(NumBins - 1); got != 1 {
		t.Errorf("overflow bin = %d, expected 1", got)
	}
	if h.Max() != 1<<20 {
		t.Errorf("Max() = %d", h.Max())
	}
}

// TestHistogramReset clears bins and statistics.
func TestHistogramReset(t *testing.T) {
	h := NewHistogram(DefaultShift)
	h.Add(144)
	h.Add(288)
	h.Reset()
	if h.Count() != 0 || h.Max() != 0 || h.Mean() != 0 {
		t.Error("Reset left state behind")
	}
	h.Add(100)
	if h.Min() != 100 {
		t.Errorf("Min() after reset = %d, expected 100", h.Min())
	}
}

// TestCalculateRPM covers the index-period conversion.
func TestCalculateRPM(t *testing.T) {
	cases := []struct {
		name     string
		period   uint32
		tickHz   uint32
		expected uint32
	}{
		{"300rpm", 14400000, 72000000, 300},
		{"360rpm", 12000000, 72000000, 360},
		{"ZeroPeriod", 0, 72000000, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CalculateRPM(tc.period, tc.tickHz); got != tc.expected {
				t.Errorf("CalculateRPM(%d) = %d, expected %d", tc.period, got, tc.expected)
			}
		})
	}
}
