package pipeline

import (
	"context"

	"github.com/fluxrip/fluxrip/encoding"
	"github.com/fluxrip/fluxrip/flux"
	"github.com/fluxrip/fluxrip/fluxstat"
	"github.com/fluxrip/fluxrip/pll"
	"github.com/fluxrip/fluxrip/sector"
)

// SectorID names one physical sector.
type SectorID struct {
	Cylinder uint8
	Head     uint8
	Sector   uint8
}

// RecoverResult is the outcome of a multi-pass recovery session. When
// Verified is false the Sector carries the highest-confidence
// reconstruction, never a silently-claimed success.
type RecoverResult struct {
	Sector     sector.DecodedSector
	Found      bool
	Verified   bool
	Passes     int
	Confidence uint8
	Ambiguous  int
	Capture    fluxstat.CaptureSummary
}

// Recover re-reads one sector across multiple revolution captures and
// votes per bit-cell position. Passes are aligned at the index pulse. The
// session stops early once the composite yields the target sector with a
// passing check, on abort, or when the pass budget is exhausted.
func (p *Pipeline) Recover(ctx context.Context, revolutions [][]flux.Sample, target SectorID) (RecoverResult, error) {
	kind := p.detector.Profile().Encoding
	if kind == encoding.Unknown {
		// Fall back to classifying the first pass.
		kind = p.classifyFirst(revolutions)
	}
	if kind == encoding.Unknown {
		p.counters.Increment(MissingAM)
		p.counters.AddOps(1)
		return RecoverResult{}, nil
	}
	secdec, err := p.sectorDecoder(kind)
	if err != nil {
		return RecoverResult{}, err
	}

	findTarget := func(cells []byte) (sector.DecodedSector, bool) {
		sectors, _ := secdec.DecodeTrack(cells)
		for _, s := range sectors {
			if s.Cylinder == target.Cylinder && s.Head == target.Head && s.Sector == target.Sector {
				return s, true
			}
		}
		return sector.DecodedSector{}, false
	}
	verify := func(cells []byte) bool {
		s, ok := findTarget(cells)
		return ok && s.CRCOK
	}

	session := fluxstat.NewSession(p.cfg.Passes, verify)
	var stats fluxstat.CaptureStats
	for _, samples := range revolutions {
		if err := ctx.Err(); err != nil {
			break
		}
		if session.Done() {
			break
		}
		cells, bits := p.decodeCells(samples)
		if bits == 0 {
			continue
		}
		var period uint64
		if ivs, err := flux.Intervals(samples); err == nil {
			for _, iv := range ivs {
				period += uint64(iv)
			}
		}
		stats.RecordPass(uint32(len(samples)), uint32(period))
		session.AddPass(cells, bits)
		if session.Converged() {
			break
		}
	}

	voted := session.Result()
	res := RecoverResult{
		Passes:     session.Passes(),
		Confidence: voted.Confidence,
		Ambiguous:  voted.Ambiguous,
		Capture:    stats.Summary(),
	}
	if s, ok := findTarget(voted.Data); ok {
		res.Sector = s
		res.Found = true
		res.Verified = s.CRCOK
	}
	if !res.Verified {
		p.counters.Increment(CRCData)
	}
	p.counters.AddOps(1)
	return res, ctx.Err()
}

// decodeCells runs only the clock-recovery stage over one revolution.
func (p *Pipeline) decodeCells(samples []flux.Sample) ([]byte, int) {
	intervals, err := flux.Intervals(samples)
	if err != nil || len(intervals) == 0 {
		return nil, 0
	}
	dec := pll.NewDecoder(pll.DefaultConfig(p.cfg.BitRateKHz, p.cfg.TickHz),
		pll.NewIntervalIterator(intervals))
	var cells []byte
	bits := 0
	for !dec.IsDone() {
		bit := dec.NextBit()
		if dec.IsDone() {
			break
		}
		if bits%8 == 0 {
			cells = append(cells, 0)
		}
		if bit {
			cells[len(cells)-1] |= 1 << (7 - bits%8)
		}
		bits++
	}
	return cells, bits
}

func (p *Pipeline) classifyFirst(revolutions [][]flux.Sample) encoding.Kind {
	for _, samples := range revolutions {
		cells, bits := p.decodeCells(samples)
		if bits == 0 {
			continue
		}
		if kind, _ := encoding.Classify(cells, p.cfg.Confirmations); kind != encoding.Unknown {
			return kind
		}
	}
	return encoding.Unknown
}
