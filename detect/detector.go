package detect

import (
	"sync"

	"github.com/fluxrip/fluxrip/encoding"
)

// stableRuns is how many consecutive identical inferences lock the profile.
const stableRuns = 3

// Detector combines the three layers into a drive profile. It accumulates
// state across calls and is safe to share between the decode path and a
// status reader; Reset is the only coordination point a second goroutine
// needs.
type Detector struct {
	mu sync.Mutex

	l1 *Layer1
	l2 *Layer2
	l3 *Layer3

	enc     encoding.Kind
	lastInf Inference
	run     int
	profile Profile
}

// NewDetector creates a detector for the given capture clock.
func NewDetector(tickHz uint32) *Detector {
	return &Detector{
		l1: NewLayer1(tickHz),
		l2: NewLayer2(tickHz),
		l3: NewLayer3(),
	}
}

// SetAmbiguousDefault overrides the form factor reported for the documented
// ambiguous case (300 RPM, double density, MFM).
func (d *Detector) SetAmbiguousDefault(f FormFactor) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.l3.AmbiguousDefault = f
}

// ObserveIndexPeriod feeds one index-to-index interval in ticks.
func (d *Detector) ObserveIndexPeriod(ticks uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.l1.ObserveIndexPeriod(ticks)
	d.update()
}

// SetStatus records the pass-through drive signals.
func (d *Detector) SetStatus(s StatusLines) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.l1.SetStatus(s)
	d.update()
}

// ObserveSectorHole records a sector-hole pulse from the flux stream.
func (d *Detector) ObserveSectorHole() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.l1.ObserveSectorHole()
	d.update()
}

// ObserveHeadLoad records head-load control activity.
func (d *Detector) ObserveHeadLoad(asserted bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.l1.ObserveHeadLoad(asserted)
	d.update()
}

// ObserveInterval feeds one flux interval to the data-rate tracker.
func (d *Detector) ObserveInterval(ticks uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.l2.ObserveInterval(ticks)
	d.update()
}

// ObserveHeader feeds one decoded header to the track-density tracker.
func (d *Detector) ObserveHeader(physicalTrack, logicalCylinder int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.l2.ObserveHeader(physicalTrack, logicalCylinder)
	d.update()
}

// ObserveEncoding records the classified encoding.
func (d *Detector) ObserveEncoding(kind encoding.Kind) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if kind != encoding.Unknown {
		d.enc = kind
	}
	d.update()
}

// SetQuality stores the latest signal quality score in the profile.
func (d *Detector) SetQuality(q uint8) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.profile.Quality = q
}

// update recomputes the profile. Valid follows layer 1; Locked requires
// the behavioral layer to settle and the inference to repeat unchanged.
func (d *Detector) update() {
	rpm, class := d.l1.RPM()
	rate := d.l2.Rate()

	ev := Evidence{
		RPM:        class,
		HeadLoad:   d.l1.HeadLoad(),
		HardSector: d.l1.HardSector(),
		Density:    rate.Density(),
		Encoding:   d.enc,
	}
	inf := d.l3.Infer(ev)

	if inf == d.lastInf {
		if d.run < stableRuns {
			d.run++
		}
	} else {
		d.lastInf = inf
		d.run = 1
	}

	d.profile.FormFactor = inf.FormFactor
	d.profile.Confidence = inf.Confidence
	d.profile.Density = ev.Density
	d.profile.TrackDensity = d.l2.TrackDensity()
	d.profile.Encoding = d.enc
	d.profile.HardSectored = ev.HardSector
	// CBM GCR media is zone-recorded; the bit rate changes across the
	// cylinder range.
	d.profile.VariableSpeed = d.enc == encoding.GCRCBM
	d.profile.HeadLoad = ev.HeadLoad
	d.profile.RPM = uint16(rpm)

	d.profile.Valid = d.l1.Complete()
	d.profile.Locked = d.profile.Valid &&
		d.l2.Complete() &&
		!inf.Ambiguous &&
		d.run >= stableRuns
}

// Profile returns a snapshot of the current profile.
func (d *Detector) Profile() Profile {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.profile
}

// DoubleStep reports the track-density recommendation.
func (d *Detector) DoubleStep() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.l2.DoubleStep()
}

// Reset clears every layer for an unrelated capture session.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.l1.Reset()
	d.l2.Reset()
	d.enc = encoding.Unknown
	d.lastInf = Inference{}
	d.run = 0
	d.profile = Profile{}
}
