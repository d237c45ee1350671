package detect

import (
	"github.com/fluxrip/fluxrip/encoding"
	"github.com/fluxrip/fluxrip/pll"
)

// Probe windows. A rate is viable only when the DPLL locks quickly and a
// sync pattern follows shortly after; both windows keep the whole probe
// sequence read-only and bounded.
const (
	probeLockWindowUs = 780
	probeSyncWindowUs = 3000
)

// ProbeResult is the outcome of replaying a capture at one candidate rate.
type ProbeResult struct {
	Rate   DataRate
	Locked bool
	Synced bool
	Kind   encoding.Kind // encoding seen during sync detection, if any
}

// Supported reports whether the rate passed both probe stages.
func (r ProbeResult) Supported() bool {
	return r.Locked && r.Synced
}

// tickSource feeds intervals to the DPLL while tracking elapsed time.
type tickSource struct {
	intervals []uint32
	pos       int
	elapsed   uint64
}

func (s *tickSource) NextInterval() uint32 {
	if s.pos >= len(s.intervals) {
		return 0
	}
	v := s.intervals[s.pos]
	s.pos++
	s.elapsed += uint64(v)
	return v
}

// ProbeRates replays a captured interval stream at each candidate data rate
// and reports which rates achieve DPLL lock within the lock window and sync
// detection within the sync window. The probe never writes to the media.
func ProbeRates(intervals []uint32, tickHz uint32) []ProbeResult {
	rates := [...]DataRate{Rate1M, Rate500K, Rate300K, Rate250K}
	lockWindow := uint64(tickHz) * probeLockWindowUs / 1e6
	syncWindow := uint64(tickHz) * probeSyncWindowUs / 1e6

	out := make([]ProbeResult, 0, len(rates))
	for _, rate := range rates {
		res := ProbeResult{Rate: rate}
		src := &tickSource{intervals: intervals}
		dec := pll.NewDecoder(pll.DefaultConfig(uint16(rate.KHz()), tickHz), src)
		cls := encoding.NewClassifier(1)

		for !dec.IsDone() && src.elapsed <= syncWindow {
			bit := dec.NextBit()
			if !res.Locked {
				if dec.State().Locked {
					res.Locked = true
				} else if src.elapsed > lockWindow {
					break
				}
			}
			if res.Locked && !res.Synced {
				if det, ok := cls.Feed(bit); ok {
					res.Synced = true
					res.Kind = det.Kind
				}
			}
			if res.Synced {
				break
			}
		}
		out = append(out, res)
	}
	return out
}

// SupportedRates filters probe results down to the rates that passed.
func SupportedRates(results []ProbeResult) []DataRate {
	var rates []DataRate
	for _, r := range results {
		if r.Supported() {
			rates = append(rates, r.Rate)
		}
	}
	return rates
}
