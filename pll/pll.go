package pll

// Digital PLL constants. Loop behavior follows the SCP-style software PLL:
// proportional phase correction on every transition, slow period pull
// towards the observed rate while in sync, and towards the nominal rate
// when transitions stop arriving where expected.
const (
	// CLOCK_MAX_ADJ is the +/- period adjustment range (90%-110% of nominal).
	CLOCK_MAX_ADJ = 10
	// PERIOD_ADJ_PCT is the period adjustment percentage per transition.
	PERIOD_ADJ_PCT = 5
	// PHASE_ADJ_PCT is the phase adjustment percentage per transition.
	PHASE_ADJ_PCT = 60

	// maxSyncZeros is the longest run of clocked zeros that still counts as
	// in-sync for period tracking. Longer runs pull the period back to
	// nominal instead of chasing noise.
	maxSyncZeros = 3

	// dropoutZeros is the zero run beyond which the stream looks
	// unformatted or demagnetized. Bits are still emitted, but lock
	// quality decays for every further empty cell.
	dropoutZeros = 4
)

// Source provides flux intervals in capture ticks.
// A zero interval means the stream is exhausted: two transitions can never
// coincide, so zero is free to act as the sentinel.
type Source interface {
	NextInterval() uint32
}

// IntervalIterator replays a slice of flux intervals. It implements Source.
type IntervalIterator struct {
	intervals []uint32
	index     int
}

// NewIntervalIterator creates an iterator over interval ticks.
func NewIntervalIterator(intervals []uint32) *IntervalIterator {
	return &IntervalIterator{intervals: intervals}
}

// NextInterval implements the Source interface.
func (it *IntervalIterator) NextInterval() uint32 {
	if it.index >= len(it.intervals) {
		return 0
	}
	iv := it.intervals[it.index]
	it.index++
	return iv
}

// IsDone returns true once all intervals have been consumed.
func (it *IntervalIterator) IsDone() bool {
	return it.index >= len(it.intervals)
}

// Config holds the loop parameters for one decoder instance.
type Config struct {
	TickHz     uint32 // capture timestamp resolution
	BitRateKHz uint16 // nominal data rate in kbit/s

	PeriodAdjPct int // period adjustment percentage per transition
	PhaseAdjPct  int // phase adjustment percentage per transition
	MaxAdjPct    int // +/- period bound, percent of nominal

	LockThreshold   uint8 // lock quality required to declare lock
	LockRun         int   // consecutive good edges required to declare lock
	UnlockThreshold uint8 // lock quality below which lock is dropped
}

// DefaultConfig returns the standard loop parameters for a data rate and
// capture tick frequency.
func DefaultConfig(bitRateKHz uint16, tickHz uint32) Config {
	return Config{
		TickHz:          tickHz,
		BitRateKHz:      bitRateKHz,
		PeriodAdjPct:    PERIOD_ADJ_PCT,
		PhaseAdjPct:     PHASE_ADJ_PCT,
		MaxAdjPct:       CLOCK_MAX_ADJ,
		LockThreshold:   192,
		LockRun:         16,
		UnlockThreshold: 48,
	}
}

// State is the externally visible PLL state. It is updated once per flux
// edge and safe to copy as a snapshot.
type State struct {
	PhaseError  int32  // offset of the last edge from its cell boundary, ticks<<8
	FreqWord    uint32 // current bit-cell period, ticks<<8
	LockQuality uint8  // exponentially weighted measure of recent phase error
	Locked      bool
}

// Decoder recovers a raw bit-cell stream from flux intervals.
// One bit is produced per synthesized cell boundary: 1 when a transition
// fell inside the cell, 0 otherwise.
type Decoder struct {
	cfg   Config
	state State

	src          Source
	nominal      uint32 // nominal cell period, ticks<<8
	flux         int64  // accumulated flux time since the last boundary, ticks<<8
	clockedZeros int    // consecutive cells without a transition
	goodRun      int    // consecutive edges with small phase error
	unlocks      uint32 // lock-loss events since creation
	exhausted    bool
}

// NewDecoder creates a decoder pulling intervals from src.
// The bit-cell rate is twice the data rate (self-clocking encodings carry
// one clock and one data cell per bit).
func NewDecoder(cfg Config, src Source) *Decoder {
	cellHz := uint64(cfg.BitRateKHz) * 1000 * 2
	nominal := uint32((uint64(cfg.TickHz) << 8) / cellHz)
	d := &Decoder{
		cfg:     cfg,
		src:     src,
		nominal: nominal,
	}
	d.state.FreqWord = nominal
	return d
}

// State returns a snapshot of the current PLL state.
func (d *Decoder) State() State {
	return d.state
}

// Unlocks returns the number of lock-loss events observed so far.
func (d *Decoder) Unlocks() uint32 {
	return d.unlocks
}

// IsDone returns true once the interval source is exhausted.
func (d *Decoder) IsDone() bool {
	return d.exhausted
}

// ClockedZeros returns the current run of cells without a transition.
func (d *Decoder) ClockedZeros() int {
	return d.clockedZeros
}

// NextBit synthesizes the next bit-cell boundary and returns the recovered
// bit. After the source is exhausted it keeps returning zeros.
func (d *Decoder) NextBit() bool {
	period := int64(d.state.FreqWord)

	// Accumulate flux until the next transition lands past the midpoint
	// of the current cell.
	for d.flux < period/2 {
		interval := d.src.NextInterval()
		if interval == 0 {
			d.exhausted = true
			d.emptyCell()
			return false
		}
		d.flux += int64(interval) << 8
	}

	// Advance one cell.
	d.flux -= period

	if d.flux >= period/2 {
		// No transition in this cell.
		d.emptyCell()
		return false
	}

	// Transition detected: d.flux is now the signed offset of the edge
	// from the synthesized boundary.
	d.state.PhaseError = int32(d.flux)

	if d.clockedZeros <= maxSyncZeros {
		// In sync: pull the period by a fraction of the phase mismatch.
		period += d.flux * int64(d.cfg.PeriodAdjPct) / 100
	} else {
		// Out of sync: pull the period back towards nominal.
		period += (int64(d.nominal) - period) * int64(d.cfg.PeriodAdjPct) / 100
	}

	// Clamp to the acquisition range.
	pMin := int64(d.nominal) * int64(100-d.cfg.MaxAdjPct) / 100
	pMax := int64(d.nominal) * int64(100+d.cfg.MaxAdjPct) / 100
	if period < pMin {
		period = pMin
	}
	if period > pMax {
		period = pMax
	}
	d.state.FreqWord = uint32(period)

	// Correct phase immediately by a fraction of the mismatch.
	d.flux = d.flux * int64(100-d.cfg.PhaseAdjPct) / 100

	d.updateLock(period)
	d.clockedZeros = 0
	return true
}

// emptyCell accounts for a synthesized boundary with no transition.
func (d *Decoder) emptyCell() {
	d.clockedZeros++
	if d.clockedZeros > dropoutZeros {
		// Likely unformatted track or media dropout: keep emitting but
		// mark the output as low confidence.
		d.decayLock()
	}
}

// updateLock folds the phase error of one edge into the lock quality and
// maintains the locked flag.
func (d *Decoder) updateLock(period int64) {
	err := int64(d.state.PhaseError)
	if err < 0 {
		err = -err
	}
	good := err < period/4

	q := int(d.state.LockQuality)
	if good {
		q += (255 - q) >> 3
		d.goodRun++
	} else {
		q -= q >> 2
		d.goodRun = 0
	}
	d.state.LockQuality = uint8(q)

	if !d.state.Locked {
		if d.state.LockQuality >= d.cfg.LockThreshold && d.goodRun >= d.cfg.LockRun {
			d.state.Locked = true
		}
	} else if d.state.LockQuality < d.cfg.UnlockThreshold {
		d.state.Locked = false
		d.unlocks++
	}
}

// decayLock reduces lock quality during transition dropouts.
func (d *Decoder) decayLock() {
	q := int(d.state.LockQuality)
	q -= q >> 3
	d.state.LockQuality = uint8(q)
	d.goodRun = 0
	if d.state.Locked && d.state.LockQuality < d.cfg.UnlockThreshold {
		d.state.Locked = false
		d.unlocks++
	}
}

// DecodeAll runs the decoder until the source is exhausted and returns the
// recovered bit cells packed MSB-first.
func (d *Decoder) DecodeAll() []byte {
	var cells []byte
	var current byte
	count := 0
	for {
		bit := d.NextBit()
		if d.exhausted {
			break
		}
		current <<= 1
		if bit {
			current |= 1
		}
		count++
		if count == 8 {
			cells = append(cells, current)
			current = 0
			count = 0
		}
	}
	if count > 0 {
		cells = append(cells, current<<(8-count))
	}
	return cells
}
