// Package fluxstat provides statistical analysis of flux interval streams:
// interval histograms for data-rate estimation, and multi-pass bit-cell
// voting for recovering sectors from marginal media.
package fluxstat

// NumBins is the histogram resolution. Intervals are right-shifted into a
// bin, so the covered range scales with the shift.
const NumBins = 256

// Histogram accumulates flux interval statistics for one track or
// revolution.
type Histogram struct {
	bins  [NumBins]uint32
	shift uint
	count uint64
	sum   uint64
	min   uint32
	max   uint32
}

// DefaultShift maps intervals up to 1024 ticks into the bin range, which
// covers every floppy data rate at the usual capture clocks.
const DefaultShift = 2

// NewHistogram creates a histogram binning intervals by interval>>shift.
func NewHistogram(shift uint) *Histogram {
	h := &Histogram{shift: shift}
	h.min = ^uint32(0)
	return h
}

// Add records one flux interval, in ticks.
func (h *Histogram) Add(interval uint32) {
	bin := interval >> h.shift
	if bin >= NumBins {
		bin = NumBins - 1
	}
	h.bins[bin]++
	h.count++
	h.sum += uint64(interval)
	if interval < h.min {
		h.min = interval
	}
	if interval > h.max {
		h.max = interval
	}
}

// Count returns the number of recorded intervals.
func (h *Histogram) Count() uint64 {
	return h.count
}

// Bin returns the raw count of one bin.
func (h *Histogram) Bin(i int) uint32 {
	if i < 0 || i >= NumBins {
		return 0
	}
	return h.bins[i]
}

// Peak returns the most populated bin and its count.
func (h *Histogram) Peak() (bin int, count uint32) {
	for i, c := range h.bins {
		if c > count {
			bin, count = i, c
		}
	}
	return bin, count
}

// Mean returns the average interval in ticks, zero when empty.
func (h *Histogram) Mean() uint32 {
	if h.count == 0 {
		return 0
	}
	return uint32(h.sum / h.count)
}

// Min returns the shortest recorded interval, zero when empty.
func (h *Histogram) Min() uint32 {
	if h.count == 0 {
		return 0
	}
	return h.min
}

// Max returns the longest recorded interval.
func (h *Histogram) Max() uint32 {
	return h.max
}

// PeakInterval returns the center of the peak bin in ticks. On
// self-clocking media this is the dominant flux spacing, which for MFM is
// two bit cells and for FM one cell-pair.
func (h *Histogram) PeakInterval() uint32 {
	bin, count := h.Peak()
	if count == 0 {
		return 0
	}
	return uint32(bin)<<h.shift + 1<<h.shift>>1
}

// EstimateRateKHz estimates the bit rate from the peak interval, assuming
// the dominant spacing is two bit cells, one bit time (the MFM/GCR case).
func (h *Histogram) EstimateRateKHz(tickHz uint32) uint32 {
	interval := h.PeakInterval()
	if interval == 0 {
		return 0
	}
	return tickHz / interval / 1000
}

// Reset clears all bins and statistics.
func (h *Histogram) Reset() {
	*h = Histogram{shift: h.shift}
	h.min = ^uint32(0)
}

// CalculateRPM converts an index-to-index period in ticks to revolutions
// per minute, zero for a zero period.
func CalculateRPM(periodTicks, tickHz uint32) uint32 {
	if periodTicks == 0 {
		return 0
	}
	return uint32(uint64(tickHz) * 60 / uint64(periodTicks))
}
