package fluxstat

// PassInfo records the raw capture shape of one pass: how many flux
// transitions arrived and the index-to-index period in ticks.
type PassInfo struct {
	FluxCount   uint32
	IndexPeriod uint32
}

// CaptureSummary aggregates the pass bookkeeping of one session. Flux-count
// spread across passes is a cheap health signal: a pass that saw far fewer
// transitions than its siblings was a bad read before any decoding ran.
type CaptureSummary struct {
	Passes    int
	MinFlux   uint32
	MaxFlux   uint32
	TotalFlux uint64

	MinIndexPeriod uint32
	MaxIndexPeriod uint32
}

// CaptureStats accumulates per-pass capture bookkeeping across a multi-pass
// session. The zero value is ready to use.
type CaptureStats struct {
	passes []PassInfo
}

// RecordPass adds one pass.
func (c *CaptureStats) RecordPass(fluxCount, indexPeriod uint32) {
	c.passes = append(c.passes, PassInfo{FluxCount: fluxCount, IndexPeriod: indexPeriod})
}

// Passes returns the number of recorded passes.
func (c *CaptureStats) Passes() int {
	return len(c.passes)
}

// Pass returns one recorded pass.
func (c *CaptureStats) Pass(i int) (PassInfo, bool) {
	if i < 0 || i >= len(c.passes) {
		return PassInfo{}, false
	}
	return c.passes[i], true
}

// Summary folds the recorded passes into min/max/total figures.
func (c *CaptureStats) Summary() CaptureSummary {
	s := CaptureSummary{Passes: len(c.passes)}
	for i, p := range c.passes {
		s.TotalFlux += uint64(p.FluxCount)
		if i == 0 || p.FluxCount < s.MinFlux {
			s.MinFlux = p.FluxCount
		}
		if p.FluxCount > s.MaxFlux {
			s.MaxFlux = p.FluxCount
		}
		if i == 0 || p.IndexPeriod < s.MinIndexPeriod {
			s.MinIndexPeriod = p.IndexPeriod
		}
		if p.IndexPeriod > s.MaxIndexPeriod {
			s.MaxIndexPeriod = p.IndexPeriod
		}
	}
	return s
}

// Reset clears the bookkeeping for a new session.
func (c *CaptureStats) Reset() {
	c.passes = c.passes[:0]
}
