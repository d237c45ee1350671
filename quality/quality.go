// Package quality derives per-revolution signal health from DPLL lock
// tracking and flux interval jitter.
package quality

// Metrics is the quality register image, refreshed once per revolution.
// The values are instantaneous, not cumulative; callers wanting sticky
// degraded/critical behavior OR the flags across revolutions themselves.
type Metrics struct {
	Quality     uint8
	Stability   uint8
	Consistency uint8
	Degraded    bool
	Critical    bool
}

const (
	// DegradedThreshold marks media that needs retries or multi-pass
	// recovery.
	DegradedThreshold = 100
	// CriticalThreshold marks media unlikely to decode at all.
	CriticalThreshold = 50
)

// Monitor accumulates per-edge observations and folds them into Metrics on
// each index boundary.
type Monitor struct {
	nominal uint32 // nominal flux interval, ticks, for jitter normalization

	lockSum  uint64
	deltaSum uint64
	last     uint32
	haveLast bool
	edges    uint64
}

// NewMonitor creates a monitor normalizing jitter against the nominal flux
// interval in ticks.
func NewMonitor(nominalInterval uint32) *Monitor {
	if nominalInterval == 0 {
		nominalInterval = 1
	}
	return &Monitor{nominal: nominalInterval}
}

// ObserveEdge records one flux edge: the DPLL's lock quality at that edge
// and the interval since the previous edge.
func (m *Monitor) ObserveEdge(lockQuality uint8, interval uint32) {
	m.lockSum += uint64(lockQuality)
	if m.haveLast {
		d := int64(interval) - int64(m.last)
		if d < 0 {
			d = -d
		}
		m.deltaSum += uint64(d)
	}
	m.last = interval
	m.haveLast = true
	m.edges++
}

// EndRevolution folds the accumulated observations into Metrics and clears
// the accumulators for the next revolution.
func (m *Monitor) EndRevolution() Metrics {
	var met Metrics
	if m.edges > 0 {
		met.Stability = uint8(m.lockSum / m.edges)

		// Mean |interval delta| scaled against the nominal interval:
		// a full nominal period of average jitter saturates to zero
		// consistency.
		meanDelta := m.deltaSum / m.edges
		penalty := meanDelta * 255 / uint64(m.nominal)
		if penalty > 255 {
			penalty = 255
		}
		met.Consistency = uint8(255 - penalty)

		met.Quality = uint8((uint16(met.Stability) + uint16(met.Consistency)) / 2)
		met.Degraded = met.Quality < DegradedThreshold
		met.Critical = met.Quality < CriticalThreshold
	}

	m.lockSum = 0
	m.deltaSum = 0
	m.haveLast = false
	m.edges = 0
	return met
}

// Reset discards any partial revolution.
func (m *Monitor) Reset() {
	m.EndRevolution()
}
