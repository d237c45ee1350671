package detect

import (
	"github.com/fluxrip/fluxrip/encoding"
	"github.com/fluxrip/fluxrip/fluxstat"
)

/*============================================================================
 * Layer 1: signal-level, near-zero latency
 *============================================================================*/

// RPMClass is the classified spindle speed band.
type RPMClass uint8

const (
	RPMUnknown RPMClass = iota
	RPM300
	RPM360
)

func (c RPMClass) String() string {
	switch c {
	case RPM300:
		return "300rpm"
	case RPM360:
		return "360rpm"
	}
	return "unknown"
}

// rpmBandPct is the tolerance around each nominal speed.
const rpmBandPct = 5

// StatusLines are the drive signals passed through without interpretation.
type StatusLines struct {
	Ready        bool
	WriteProtect bool
	Track0       bool
	HardSector   bool // hard-sector pulses present
}

// Layer1 classifies spindle speed from index timing and records the direct
// drive signals.
type Layer1 struct {
	tickHz uint32

	rpm      uint32
	rpmClass RPMClass

	status     StatusLines
	headLoad   bool
	sectorHole bool
}

// NewLayer1 creates the signal-level layer for the given capture clock.
func NewLayer1(tickHz uint32) *Layer1 {
	return &Layer1{tickHz: tickHz}
}

// ObserveIndexPeriod classifies one index-to-index interval. Values outside
// both nominal bands leave the RPM unknown rather than guessing.
func (l *Layer1) ObserveIndexPeriod(ticks uint32) {
	rpm := fluxstat.CalculateRPM(ticks, l.tickHz)
	l.rpm = rpm
	l.rpmClass = classifyRPM(rpm)
}

func classifyRPM(rpm uint32) RPMClass {
	inBand := func(nominal uint32) bool {
		lo := nominal - nominal*rpmBandPct/100
		hi := nominal + nominal*rpmBandPct/100
		return rpm >= lo && rpm <= hi
	}
	switch {
	case inBand(300):
		return RPM300
	case inBand(360):
		return RPM360
	default:
		return RPMUnknown
	}
}

// SetStatus records the direct status signals. These carry full confidence;
// they need no interpretation.
func (l *Layer1) SetStatus(s StatusLines) {
	l.status = s
}

// ObserveHeadLoad records head-load control activity. A 360 RPM drive that
// responds to head-load is an 8-inch mechanism; one that does not is a
// 5.25-inch HD mechanism.
func (l *Layer1) ObserveHeadLoad(asserted bool) {
	if asserted {
		l.headLoad = true
	}
}

// ObserveSectorHole latches a sector-hole pulse seen in the flux stream.
// Soft-sectored media never produces one between index pulses.
func (l *Layer1) ObserveSectorHole() {
	l.sectorHole = true
}

// RPM returns the measured speed and its band.
func (l *Layer1) RPM() (uint32, RPMClass) {
	return l.rpm, l.rpmClass
}

// Status returns the pass-through signals.
func (l *Layer1) Status() StatusLines {
	return l.status
}

// HeadLoad reports whether head-load activity has been observed.
func (l *Layer1) HeadLoad() bool {
	return l.headLoad
}

// HardSector reports hard-sectored media, from the status line or from
// sector-hole pulses observed in the capture itself.
func (l *Layer1) HardSector() bool {
	return l.sectorHole || l.status.HardSector
}

// Complete reports whether the layer has a classified RPM, which is all a
// valid profile requires.
func (l *Layer1) Complete() bool {
	return l.rpmClass != RPMUnknown
}

// Reset clears all observations for a new session.
func (l *Layer1) Reset() {
	*l = Layer1{tickHz: l.tickHz}
}

/*============================================================================
 * Layer 2: behavioral, requires reading data
 *============================================================================*/

// DataRate is the classified media data rate.
type DataRate uint8

const (
	RateUnknown DataRate = iota
	Rate250K
	Rate300K
	Rate500K
	Rate1M
)

var rateKHz = [...]uint32{0, 250, 300, 500, 1000}

// KHz returns the rate in kilobits per second.
func (r DataRate) KHz() uint32 {
	if int(r) < len(rateKHz) {
		return rateKHz[r]
	}
	return 0
}

func (r DataRate) String() string {
	switch r {
	case Rate250K:
		return "250kbps"
	case Rate300K:
		return "300kbps"
	case Rate500K:
		return "500kbps"
	case Rate1M:
		return "1mbps"
	}
	return "unknown"
}

// Density returns the density class a data rate implies.
func (r DataRate) Density() Density {
	switch r {
	case Rate1M:
		return DensityED
	case Rate500K:
		return DensityHD
	case Rate250K, Rate300K:
		return DensityDD
	}
	return DensityUnknown
}

const (
	// minHeaderSamples is the smallest consistent run that justifies a
	// track-density call.
	minHeaderSamples = 8
	// rateLockSamples is the consecutive-consistent run that locks the
	// data-rate bucket.
	rateLockSamples = 256
)

// Data-rate bucket boundaries, in nanoseconds of running-average interval.
const (
	rateBoundary1M   = 1500
	rateBoundary500K = 2650
	rateBoundary300K = 3650
)

// Layer2 infers track density from header/position comparison and data rate
// from flux interval statistics.
type Layer2 struct {
	tickHz uint32

	// track density
	matchRun  int
	doubleRun int
	density   TrackDensity

	// data rate
	avg      uint32 // running-average interval, ticks
	rateCand DataRate
	rateRun  int
	rate     DataRate
	locked   bool
}

// NewLayer2 creates the behavioral layer for the given capture clock.
func NewLayer2(tickHz uint32) *Layer2 {
	return &Layer2{tickHz: tickHz, density: TracksUnknown}
}

// ObserveHeader compares the logical cylinder from a decoded sector header
// against the physical head position. A sustained 2:1 mismatch means
// 40-track media in an 80-track mechanism and yields a double-step
// recommendation.
func (l *Layer2) ObserveHeader(physicalTrack, logicalCylinder int) {
	switch {
	case physicalTrack == logicalCylinder*2 && physicalTrack != 0:
		l.doubleRun++
		l.matchRun = 0
	case physicalTrack == logicalCylinder:
		l.matchRun++
		l.doubleRun = 0
	default:
		l.matchRun = 0
		l.doubleRun = 0
	}
	if l.doubleRun >= minHeaderSamples {
		l.density = Tracks40
	} else if l.matchRun >= minHeaderSamples {
		l.density = Tracks80
	}
}

// TrackDensity returns the inferred track density class.
func (l *Layer2) TrackDensity() TrackDensity {
	return l.density
}

// DoubleStep reports whether the mechanism should double-step.
func (l *Layer2) DoubleStep() bool {
	return l.density == Tracks40
}

// ObserveInterval folds one flux interval into the running average and the
// rate bucket. The bucket locks after rateLockSamples consecutive samples
// that agree.
func (l *Layer2) ObserveInterval(ticks uint32) {
	if l.locked {
		return
	}
	if l.avg == 0 {
		l.avg = ticks
	} else {
		diff := int64(ticks) - int64(l.avg)
		l.avg = uint32(int64(l.avg) + diff/8)
	}

	ns := uint64(l.avg) * 1e9 / uint64(l.tickHz)
	var bucket DataRate
	switch {
	case ns < rateBoundary1M:
		bucket = Rate1M
	case ns < rateBoundary500K:
		bucket = Rate500K
	case ns < rateBoundary300K:
		bucket = Rate300K
	default:
		bucket = Rate250K
	}

	if bucket == l.rateCand {
		l.rateRun++
	} else {
		l.rateCand = bucket
		l.rateRun = 1
	}
	if l.rateRun >= rateLockSamples {
		l.rate = bucket
		l.locked = true
	}
}

// Rate returns the bucketed data rate, RateUnknown until enough consistent
// samples arrive.
func (l *Layer2) Rate() DataRate {
	if !l.locked {
		return RateUnknown
	}
	return l.rate
}

// RateLocked reports whether the data-rate bucket has locked.
func (l *Layer2) RateLocked() bool {
	return l.locked
}

// Complete reports whether both behavioral measurements have settled.
func (l *Layer2) Complete() bool {
	return l.locked && l.density != TracksUnknown
}

// Reset clears all observations for a new session.
func (l *Layer2) Reset() {
	*l = Layer2{tickHz: l.tickHz, density: TracksUnknown}
}

/*============================================================================
 * Layer 3: inference
 *============================================================================*/

// Evidence is the combined layer 1 and 2 input to the decision table.
type Evidence struct {
	RPM        RPMClass
	HeadLoad   bool
	HardSector bool
	Density    Density
	Encoding   encoding.Kind
}

// Inference is one decision-table outcome.
type Inference struct {
	FormFactor FormFactor
	Confidence uint8 // percent
	Ambiguous  bool  // resolved to a default; profile must not lock
}

// Layer3 resolves evidence through a fixed, ordered decision table.
type Layer3 struct {
	// AmbiguousDefault is the form factor reported for the 300 RPM + DD +
	// MFM case, which two form factors can produce. Configurable policy;
	// the result stays non-locked either way.
	AmbiguousDefault FormFactor
}

// NewLayer3 creates the inference layer with the default ambiguity policy.
func NewLayer3() *Layer3 {
	return &Layer3{AmbiguousDefault: Form35}
}

// Infer walks the decision table top to bottom and returns the first match.
func (l *Layer3) Infer(ev Evidence) Inference {
	isGCR := ev.Encoding == encoding.GCRApple || ev.Encoding == encoding.GCRApple5 ||
		ev.Encoding == encoding.GCRCBM

	switch {
	case ev.RPM == RPM360 && ev.HeadLoad:
		// Head-load control only exists on 8" mechanisms.
		return Inference{FormFactor: Form8, Confidence: 95}
	case ev.RPM == RPM360 && !ev.HeadLoad:
		return Inference{FormFactor: Form525, Confidence: 90}
	case ev.RPM == RPM300 && isGCR && ev.Density != DensityHD && ev.Density != DensityED:
		return Inference{FormFactor: Form525, Confidence: 80}
	case ev.RPM == RPM300 && ev.Density == DensityED:
		return Inference{FormFactor: Form35, Confidence: 90}
	case ev.RPM == RPM300 && ev.Density == DensityHD:
		return Inference{FormFactor: Form35, Confidence: 85}
	case ev.RPM == RPM300 && ev.Density == DensityDD && ev.Encoding == encoding.MFM:
		// Could be 3.5" DD or 5.25" DD; resolved by policy, never locked.
		return Inference{FormFactor: l.AmbiguousDefault, Confidence: 60, Ambiguous: true}
	case ev.RPM == RPM300:
		return Inference{FormFactor: Form35, Confidence: 50, Ambiguous: true}
	default:
		return Inference{FormFactor: FormUnknown, Confidence: 0, Ambiguous: true}
	}
}
