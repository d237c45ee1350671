package quality

import "testing"

// TestMonitorCleanRevolution scores a healthy revolution: full lock quality
// and perfectly even spacing.
func TestMonitorCleanRevolution(t *testing.T) {
	m := NewMonitor(144)
	for i := 0; i < 5; i++ {
		m.ObserveEdge(200, 144)
	}
	met := m.EndRevolution()

	if met.Stability != 200 {
		t.Errorf("Stability = %d, expected 200", met.Stability)
	}
	if met.Consistency != 255 {
		t.Errorf("Consistency = %d, expected 255 for zero jitter", met.Consistency)
	}
	if met.Quality != 227 {
		t.Errorf("Quality = %d, expected 227", met.Quality)
	}
	if met.Degraded || met.Critical {
		t.Errorf("clean revolution flagged: %+v", met)
	}
}

// TestMonitorNoisyRevolution scores a failing revolution with weak lock and
// heavy interval jitter, checked against hand-computed values.
func TestMonitorNoisyRevolution(t *testing.T) {
	m := NewMonitor(144)
	for _, interval := range []uint32{144, 60, 228, 60, 228} {
		m.ObserveEdge(40, interval)
	}
	met := m.EndRevolution()

	if met.Stability != 40 {
		t.Errorf("Stability = %d, expected 40", met.Stability)
	}
	// Deltas 84, 168, 168, 168 over 5 edges: mean 117, penalty 207.
	if met.Consistency != 48 {
		t.Errorf("Consistency = %d, expected 48", met.Consistency)
	}
	if met.Quality != 44 {
		t.Errorf("Quality = %d, expected 44", met.Quality)
	}
	if !met.Degraded || !met.Critical {
		t.Errorf("failing revolution not flagged: %+v", met)
	}
}

// TestMonitorPenaltySaturation clamps jitter beyond a full nominal period.
func TestMonitorPenaltySaturation(t *testing.T) {
	m := NewMonitor(144)
	m.ObserveEdge(255, 100)
	m.ObserveEdge(255, 1000)
	met := m.EndRevolution()
	if met.Consistency != 0 {
		t.Errorf("Consistency = %d, expected 0", met.Consistency)
	}
}

// TestMonitorEmptyRevolution returns zero metrics without dividing by zero.
func TestMonitorEmptyRevolution(t *testing.T) {
	m := NewMonitor(144)
	if met := m.EndRevolution(); met != (Metrics{}) {
		t.Errorf("empty revolution produced %+v", met)
	}
}

// TestMonitorRevolutionBoundary clears accumulators between revolutions,
// including the previous-interval memory.
func TestMonitorRevolutionBoundary(t *testing.T) {
	m := NewMonitor(144)
	m.ObserveEdge(10, 50)
	m.ObserveEdge(10, 250)
	m.EndRevolution()

	// The second revolution starts clean: one edge, no delta baseline.
	m.ObserveEdge(200, 999)
	m.ObserveEdge(200, 999)
	met := m.EndRevolution()
	if met.Stability != 200 || met.Consistency != 255 {
		t.Errorf("state leaked across revolutions: %+v", met)
	}
}

// TestMonitorReset discards a partial revolution.
func TestMonitorReset(t *testing.T) {
	m := NewMonitor(144)
	m.ObserveEdge(10, 50)
	m.Reset()
	m.ObserveEdge(180, 144)
	m.ObserveEdge(180, 144)
	if met := m.EndRevolution(); met.Stability != 180 || met.Consistency != 255 {
		t.Errorf("Reset did not discard partial state: %+v", met)
	}
}
