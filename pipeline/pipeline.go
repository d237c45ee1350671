package pipeline

import (
	"fmt"

	"github.com/fluxrip/fluxrip/detect"
	"github.com/fluxrip/fluxrip/encoding"
	"github.com/fluxrip/fluxrip/flux"
	"github.com/fluxrip/fluxrip/pll"
	"github.com/fluxrip/fluxrip/quality"
	"github.com/fluxrip/fluxrip/sector"
)

// Config selects the decode parameters for one channel.
type Config struct {
	// TickHz is the capture counter frequency.
	TickHz uint32
	// BitRateKHz is the nominal media bit rate.
	BitRateKHz uint16
	// Confirmations is the consecutive sync detections needed to classify
	// an encoding; zero selects the default.
	Confirmations int
	// ResyncThreshold is the consecutive address-mark-free revolutions
	// tolerated before the confirmed encoding is dropped and the stream
	// re-classified without it; zero selects the default.
	ResyncThreshold int
	// ECCBytes selects Reed-Solomon protection on the data field
	// (0, 4, 6 or 10).
	ECCBytes int
	// QueueDepth bounds the live-capture revolution queue.
	QueueDepth int
	// Passes is the multi-pass recovery budget; zero selects the default.
	Passes int
	// Loop gain overrides, in percent; zero keeps the DPLL defaults.
	PeriodAdjPct int
	PhaseAdjPct  int
	MaxAdjPct    int
}

// Revolution is the decoded result of one index-to-index capture.
type Revolution struct {
	Kind    encoding.Kind
	Cells   []byte
	Bits    int
	Sectors []sector.DecodedSector
	Quality quality.Metrics
	Locked  bool
	Unlocks uint32
}

// DefaultResyncThreshold is the address-mark failure tolerance when the
// config leaves it unset.
const DefaultResyncThreshold = 3

// Pipeline is the ordered decode chain for one channel. The drive detector
// and error counters accumulate across revolutions until Reset.
type Pipeline struct {
	cfg      Config
	counters *Counters
	detector *detect.Detector
	monitor  *quality.Monitor
	decoders map[encoding.Kind]*sector.Decoder

	// lockedKind persists the confirmed encoding across revolutions;
	// amFailures counts consecutive revolutions it produced no marks for.
	lockedKind encoding.Kind
	amFailures int
}

// New creates a pipeline.
func New(cfg Config) (*Pipeline, error) {
	if cfg.TickHz == 0 {
		return nil, fmt.Errorf("pipeline: tick frequency not set")
	}
	if cfg.BitRateKHz == 0 {
		return nil, fmt.Errorf("pipeline: bit rate not set")
	}
	cellTicks := cfg.TickHz / (uint32(cfg.BitRateKHz) * 1000 * 2)
	return &Pipeline{
		cfg:      cfg,
		counters: &Counters{},
		detector: detect.NewDetector(cfg.TickHz),
		// The dominant flux spacing on self-clocking media is two cells.
		monitor:  quality.NewMonitor(2 * cellTicks),
		decoders: make(map[encoding.Kind]*sector.Decoder),
	}, nil
}

// Counters exposes the channel's error counters.
func (p *Pipeline) Counters() *Counters {
	return p.counters
}

// Detector exposes the drive auto-detection state machine.
func (p *Pipeline) Detector() *detect.Detector {
	return p.detector
}

// Profile returns the current drive profile snapshot.
func (p *Pipeline) Profile() detect.Profile {
	return p.detector.Profile()
}

// observedSource feeds intervals to the DPLL while queuing them for
// per-edge quality observation.
type observedSource struct {
	intervals []uint32
	pos       int
	queued    []uint32
}

func (s *observedSource) NextInterval() uint32 {
	if s.pos >= len(s.intervals) {
		return 0
	}
	v := s.intervals[s.pos]
	s.pos++
	s.queued = append(s.queued, v)
	return v
}

func (s *observedSource) drain() []uint32 {
	q := s.queued
	s.queued = s.queued[:0]
	return q
}

// DecodeRevolution runs the full chain over one revolution of samples:
// clock recovery, encoding classification, sector decode and quality
// accounting. Sample order is preserved throughout; the transforms are
// inherently sequential.
func (p *Pipeline) DecodeRevolution(samples []flux.Sample) (Revolution, error) {
	var rev Revolution

	for _, s := range samples {
		if s.Overflow {
			p.counters.Increment(Overflow)
		}
		if s.SectorHole {
			p.detector.ObserveSectorHole()
		}
	}

	intervals, err := flux.Intervals(samples)
	if err != nil {
		return rev, err
	}
	if len(intervals) == 0 {
		p.counters.Increment(MissingAM)
		p.counters.AddOps(1)
		return rev, nil
	}

	var periodTicks uint64
	for _, iv := range intervals {
		periodTicks += uint64(iv)
		p.detector.ObserveInterval(iv)
	}
	p.detector.ObserveIndexPeriod(uint32(periodTicks))

	// Clock recovery, observing lock quality at every edge.
	src := &observedSource{intervals: intervals}
	dec := pll.NewDecoder(p.pllConfig(), src)
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
		st := dec.State()
		for _, iv := range src.drain() {
			p.monitor.ObserveEdge(st.LockQuality, iv)
		}
	}
	rev.Cells = cells
	rev.Bits = bits
	rev.Unlocks = dec.Unlocks()
	rev.Locked = dec.State().Locked
	p.counters.Add(PLLUnlock, dec.Unlocks())

	rev.Quality = p.monitor.EndRevolution()
	p.detector.SetQuality(rev.Quality.Quality)

	// Encoding classification. A confirmed encoding persists across
	// revolutions until it stops yielding address marks.
	kind := p.lockedKind
	if kind == encoding.Unknown {
		kind, _ = encoding.Classify(cells, p.cfg.Confirmations)
	}
	rev.Kind = kind
	if kind == encoding.Unknown {
		// One revolution without a recognizable address mark: report
		// promptly, retry policy lives in the caller.
		p.counters.Increment(MissingAM)
		p.counters.AddOps(1)
		return rev, nil
	}
	p.lockedKind = kind
	p.detector.ObserveEncoding(kind)

	sectors, counts, err := p.decodeSectors(kind, cells)
	if err != nil {
		return rev, err
	}

	// A revolution where no mark matched at all counts against the lock;
	// CRC errors and missing data fields are evidence the encoding is
	// right, so they reset the tally.
	if len(sectors) == 0 && counts.CRCAddr == 0 && counts.CRCData == 0 && counts.MissingDAM == 0 {
		p.amFailures++
		if p.amFailures >= p.resyncThreshold() {
			p.amFailures = 0
			p.lockedKind = encoding.Unknown
			if next, _ := encoding.ClassifyExcluding(cells, p.cfg.Confirmations, kind); next != encoding.Unknown {
				kind = next
				p.lockedKind = next
				rev.Kind = next
				p.detector.ObserveEncoding(next)
				sectors, counts, err = p.decodeSectors(kind, cells)
				if err != nil {
					return rev, err
				}
			}
		}
	} else {
		p.amFailures = 0
	}
	rev.Sectors = sectors

	p.counters.Add(CRCData, counts.CRCData)
	p.counters.Add(CRCAddr, counts.CRCAddr)
	p.counters.Add(MissingAM, counts.MissingAM)
	p.counters.Add(MissingDAM, counts.MissingDAM)
	p.counters.Add(EccUncorrectable, counts.EccUncorrectable)
	p.counters.AddOps(1 + len(sectors))

	return rev, nil
}

// ObserveHeadPosition feeds the physical head position and a decoded
// header's cylinder to the track-density tracker. The pipeline cannot know
// the head position itself; the caller owning the positioner reports it.
func (p *Pipeline) ObserveHeadPosition(physicalTrack int, sec sector.DecodedSector) {
	p.detector.ObserveHeader(physicalTrack, int(sec.Cylinder))
}

// pllConfig builds the DPLL configuration with any loop gain overrides.
func (p *Pipeline) pllConfig() pll.Config {
	cfg := pll.DefaultConfig(p.cfg.BitRateKHz, p.cfg.TickHz)
	if p.cfg.PeriodAdjPct > 0 {
		cfg.PeriodAdjPct = p.cfg.PeriodAdjPct
	}
	if p.cfg.PhaseAdjPct > 0 {
		cfg.PhaseAdjPct = p.cfg.PhaseAdjPct
	}
	if p.cfg.MaxAdjPct > 0 {
		cfg.MaxAdjPct = p.cfg.MaxAdjPct
	}
	return cfg
}

// decodeSectors runs one sector decode pass over recovered cells.
func (p *Pipeline) decodeSectors(kind encoding.Kind, cells []byte) ([]sector.DecodedSector, sector.Counts, error) {
	secdec, err := p.sectorDecoder(kind)
	if err != nil {
		return nil, sector.Counts{}, err
	}
	sectors, counts := secdec.DecodeTrack(cells)
	return sectors, counts, nil
}

// resyncThreshold resolves the configured address-mark failure tolerance.
func (p *Pipeline) resyncThreshold() int {
	if p.cfg.ResyncThreshold > 0 {
		return p.cfg.ResyncThreshold
	}
	return DefaultResyncThreshold
}

func (p *Pipeline) sectorDecoder(kind encoding.Kind) (*sector.Decoder, error) {
	if d, ok := p.decoders[kind]; ok {
		return d, nil
	}
	d, err := sector.NewDecoder(kind, sector.Options{ECCBytes: p.cfg.ECCBytes})
	if err != nil {
		return nil, err
	}
	p.decoders[kind] = d
	return d, nil
}

// Reset clears all cross-revolution state for an unrelated session.
func (p *Pipeline) Reset() {
	p.counters.Reset()
	p.detector.Reset()
	p.monitor.Reset()
	p.lockedKind = encoding.Unknown
	p.amFailures = 0
}
