// Package pipeline runs the decode chain: flux samples through the DPLL,
// encoding classification, sector decode and quality tracking, with a
// bounded-queue worker for live capture and multi-pass voting recovery for
// marginal media.
package pipeline

import "sync"

// ErrorKind identifies one entry of the error taxonomy. Every kind is
// counted and surfaced; none of them aborts a session.
type ErrorKind uint8

const (
	// Integrity level.
	CRCData ErrorKind = iota
	CRCAddr
	EccUncorrectable
	// Framing level.
	MissingAM
	MissingDAM
	// Signal level.
	PLLUnlock
	// Resource level.
	Overrun
	Underrun
	Overflow

	numErrorKinds
)

var errorKindNames = [...]string{
	CRCData:          "crc_data",
	CRCAddr:          "crc_addr",
	EccUncorrectable: "ecc_uncorrectable",
	MissingAM:        "missing_am",
	MissingDAM:       "missing_dam",
	PLLUnlock:        "pll_unlock",
	Overrun:          "overrun",
	Underrun:         "underrun",
	Overflow:         "overflow",
}

func (k ErrorKind) String() string {
	if int(k) < len(errorKindNames) {
		return errorKindNames[k]
	}
	return "invalid"
}

// ErrorKinds lists every kind, for iteration by metrics exporters.
func ErrorKinds() []ErrorKind {
	kinds := make([]ErrorKind, numErrorKinds)
	for i := range kinds {
		kinds[i] = ErrorKind(i)
	}
	return kinds
}

// Counters holds one saturating lifetime counter per error kind plus the
// operation count the error rate is derived from. Safe for concurrent use.
type Counters struct {
	mu     sync.Mutex
	counts [numErrorKinds]uint32
	ops    uint64
	errs   uint64
}

// Increment adds one to a counter, saturating instead of wrapping.
func (c *Counters) Increment(kind ErrorKind) {
	c.Add(kind, 1)
}

// Add folds n occurrences of a kind into its counter.
func (c *Counters) Add(kind ErrorKind, n uint32) {
	if n == 0 || int(kind) >= int(numErrorKinds) {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts[kind] > ^uint32(0)-n {
		c.counts[kind] = ^uint32(0)
	} else {
		c.counts[kind] += n
	}
	c.errs += uint64(n)
}

// AddOps records completed operations for the rate denominator.
func (c *Counters) AddOps(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ops += uint64(n)
}

// Count returns one counter's value.
func (c *Counters) Count(kind ErrorKind) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if int(kind) >= int(numErrorKinds) {
		return 0
	}
	return c.counts[kind]
}

// Rate returns errors per 1000 operations, saturating at 255. Zero when no
// operations have completed.
func (c *Counters) Rate() uint8 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ops == 0 {
		return 0
	}
	rate := c.errs * 1000 / c.ops
	if rate > 255 {
		rate = 255
	}
	return uint8(rate)
}

// Snapshot copies every counter for export.
func (c *Counters) Snapshot() map[ErrorKind]uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := make(map[ErrorKind]uint32, numErrorKinds)
	for i := ErrorKind(0); i < numErrorKinds; i++ {
		snap[i] = c.counts[i]
	}
	return snap
}

// Reset zeroes every counter and the operation count.
func (c *Counters) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts = [numErrorKinds]uint32{}
	c.ops = 0
	c.errs = 0
}
