package encoding

// Signature is one encoding's sync pattern over raw bit cells.
// Several signatures exploit deliberate clock violations, so they cannot
// occur in that encoding's ordinary data stream.
type Signature struct {
	Kind    Kind
	Pattern uint32 // raw cells, most recent cell in bit 0
	Bits    int    // significant width of Pattern
}

// Signatures lists the sync patterns in tie-break priority order,
// most distinctive first. When one window satisfies several patterns,
// the earliest entry wins.
//
// Pattern derivations:
//
//	GCR-Apple     address prologue D5 AA 96, raw nibbles appear literally
//	GCR-Apple-5&3 address prologue D5 AA B5 (13-sector format)
//	GCR-CBM       ten sync ones followed by GCR(0x08) = 01010 01001
//	M2FM          ID mark: data 0x0E under clock 0x70, cells interleaved
//	Agat          840K sector prologue cells 95 6A (adjacent ones violate MFM)
//	Tandy-FM      data mark 0xFA under clock 0xC7
//	MFM           A1 with missing clock between bits 5 and 4 (cells 4489)
//	FM            ID mark 0xFE under clock 0xC7
var Signatures = []Signature{
	{Kind: GCRApple, Pattern: 0xD5AA96, Bits: 24},
	{Kind: GCRApple5, Pattern: 0xD5AAB5, Bits: 24},
	{Kind: GCRCBM, Pattern: 0xFFD49, Bits: 20},
	{Kind: M2FM, Pattern: 0x2A54, Bits: 16},
	{Kind: Agat, Pattern: 0x956A, Bits: 16},
	{Kind: TandyFM, Pattern: 0xF56E, Bits: 16},
	{Kind: MFM, Pattern: 0x4489, Bits: 16},
	{Kind: FM, Pattern: 0xF57E, Bits: 16},
}

// DefaultConfirmations is the number of consecutive detections of the same
// encoding required before the classification is trusted.
const DefaultConfirmations = 3

// Detection reports one confirmed sync match.
type Detection struct {
	Kind Kind
	Pos  int // bit-cell index of the cell that completed the sync pattern
}

// Classifier evaluates all sync matchers concurrently against one bit-cell
// stream and locks onto the encoding that produces the required run of
// consecutive detections.
type Classifier struct {
	confirmations int

	history  uint32
	pos      int
	lastKind Kind
	run      int

	active      Kind
	confirmedAt int
	exclude     Kind
}

// NewClassifier creates a classifier requiring the given number of
// consecutive same-encoding detections (0 means DefaultConfirmations).
func NewClassifier(confirmations int) *Classifier {
	if confirmations <= 0 {
		confirmations = DefaultConfirmations
	}
	return &Classifier{confirmations: confirmations, lastKind: Unknown}
}

// Active returns the confirmed encoding, or Unknown.
func (c *Classifier) Active() Kind {
	return c.active
}

// ConfirmedAt returns the bit-cell position of the detection that confirmed
// the active encoding. Only meaningful when Active() != Unknown.
func (c *Classifier) ConfirmedAt() int {
	return c.confirmedAt
}

// Exclude removes one encoding from consideration, for re-classifying a
// stream whose confirmed encoding turned out to yield no address marks.
func (c *Classifier) Exclude(kind Kind) {
	c.exclude = kind
}

// Reset clears all matcher state, for an explicit channel or track change.
// The exclusion survives; it is policy, not stream state.
func (c *Classifier) Reset() {
	c.history = 0
	c.pos = 0
	c.lastKind = Unknown
	c.run = 0
	c.active = Unknown
	c.confirmedAt = 0
}

// Feed shifts one recovered cell into every matcher. It returns a confirmed
// detection the first time an encoding reaches the required run.
func (c *Classifier) Feed(bit bool) (Detection, bool) {
	c.history <<= 1
	if bit {
		c.history |= 1
	}
	c.pos++

	kind, ok := c.match()
	if !ok {
		return Detection{}, false
	}

	// Tandy-FM tracks interleave standard FM address marks with the 0xFA
	// data mark: an FM detection extends a Tandy-FM run, and the Tandy
	// data mark upgrades an FM run instead of resetting it.
	if kind == FM && c.lastKind == TandyFM {
		kind = TandyFM
	}
	if kind == TandyFM && c.lastKind == FM {
		c.lastKind = TandyFM
	}

	if kind == c.lastKind {
		c.run++
	} else {
		c.lastKind = kind
		c.run = 1
	}

	if c.active == Unknown && c.run >= c.confirmations {
		c.active = kind
		c.confirmedAt = c.pos
		return Detection{Kind: kind, Pos: c.pos}, true
	}
	return Detection{}, false
}

// match checks the current window against all signatures in priority order.
func (c *Classifier) match() (Kind, bool) {
	for _, sig := range Signatures {
		if sig.Kind == c.exclude {
			continue
		}
		mask := uint32(1)<<sig.Bits - 1
		if c.history&mask == sig.Pattern {
			return sig.Kind, true
		}
	}
	return Unknown, false
}

// Classify scans packed bit cells (MSB-first) and returns the confirmed
// encoding plus the cell position just past the confirming sync. It returns
// Unknown when no encoding is confirmed within the stream.
func Classify(cells []byte, confirmations int) (Kind, int) {
	return ClassifyExcluding(cells, confirmations, Unknown)
}

// ClassifyExcluding classifies with one encoding removed from
// consideration, for re-synchronizing after a confirmed encoding stopped
// producing address marks.
func ClassifyExcluding(cells []byte, confirmations int, exclude Kind) (Kind, int) {
	c := NewClassifier(confirmations)
	c.Exclude(exclude)
	for i := 0; i < len(cells)*8; i++ {
		bit := cells[i/8]&(1<<(7-i%8)) != 0
		if det, ok := c.Feed(bit); ok {
			return det.Kind, det.Pos
		}
	}
	return Unknown, 0
}
