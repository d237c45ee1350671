package fluxstat

// Multi-pass recovery. Each pass re-reads the same track and contributes
// one vote per bit-cell position; positions where the passes disagree are
// resolved by majority, and the spread of agreement becomes a confidence
// figure the caller can act on.

const (
	// MinPasses is the fewest passes that allow a meaningful vote.
	MinPasses = 2
	// MaxPasses bounds a recovery session.
	MaxPasses = 64
	// DefaultPasses balances recovery odds against capture time.
	DefaultPasses = 8
)

// BitClass grades one voted bit-cell position.
type BitClass uint8

const (
	// BitAmbiguous means the passes split too evenly to trust either value.
	BitAmbiguous BitClass = iota
	BitStrong1
	BitWeak1
	BitStrong0
	BitWeak0
)

var bitClassNames = [...]string{
	BitAmbiguous: "ambiguous",
	BitStrong1:   "strong-1",
	BitWeak1:     "weak-1",
	BitStrong0:   "strong-0",
	BitWeak0:     "weak-0",
}

func (c BitClass) String() string {
	if int(c) < len(bitClassNames) {
		return bitClassNames[c]
	}
	return "invalid"
}

// Agreement thresholds, in percent of votes for the majority value.
const (
	confStrong = 90
	confWeak   = 60
)

// vote tallies one bit-cell position. A pass contributes at most one vote,
// so zeros+ones never exceeds the pass count.
type vote struct {
	zeros uint16
	ones  uint16
}

// Result is the outcome of a voting session.
type Result struct {
	// Data is the majority-vote bit-cell stream, MSB-first packed.
	Data []byte
	// Bits is the number of voted positions.
	Bits int
	// Ambiguous counts positions graded BitAmbiguous.
	Ambiguous int
	// Confidence is the mean majority agreement, 0..255.
	Confidence uint8
	// Verified reports whether the session's verify hook accepted Data.
	Verified bool
}

// Session accumulates bit-cell passes over one track and votes on the
// composite. The zero value is not usable; construct with NewSession.
type Session struct {
	target int
	done   int
	votes  []vote
	verify func([]byte) bool
}

// NewSession creates a voting session targeting the given number of
// passes, clamped to [MinPasses, MaxPasses]; zero selects DefaultPasses.
// The optional verify hook is applied to the composite after each pass so
// the session can converge early.
func NewSession(passes int, verify func(cells []byte) bool) *Session {
	switch {
	case passes == 0:
		passes = DefaultPasses
	case passes < MinPasses:
		passes = MinPasses
	case passes > MaxPasses:
		passes = MaxPasses
	}
	return &Session{target: passes, verify: verify}
}

// Passes returns the number of passes recorded so far.
func (s *Session) Passes() int {
	return s.done
}

// Target returns the configured pass count.
func (s *Session) Target() int {
	return s.target
}

// AddPass records one pass of nbits bit cells (MSB-first packed). Passes
// may differ in length; positions beyond a short pass simply receive no
// vote from it. Extra passes beyond the target are ignored.
func (s *Session) AddPass(cells []byte, nbits int) {
	if s.done >= s.target {
		return
	}
	if nbits > len(cells)*8 {
		nbits = len(cells) * 8
	}
	if nbits > len(s.votes) {
		grown := make([]vote, nbits)
		copy(grown, s.votes)
		s.votes = grown
	}
	for i := 0; i < nbits; i++ {
		if cells[i/8]&(1<<(7-i%8)) != 0 {
			s.votes[i].ones++
		} else {
			s.votes[i].zeros++
		}
	}
	s.done++
}

// Converged reports whether the session can stop early: enough passes are
// in and the composite satisfies the verify hook.
func (s *Session) Converged() bool {
	if s.done < MinPasses || s.verify == nil {
		return false
	}
	return s.verify(s.composite())
}

// Done reports whether the session has all its target passes.
func (s *Session) Done() bool {
	return s.done >= s.target
}

// Classify grades one voted position.
func (s *Session) Classify(i int) BitClass {
	if i < 0 || i >= len(s.votes) {
		return BitAmbiguous
	}
	v := s.votes[i]
	total := int(v.zeros) + int(v.ones)
	if total == 0 {
		return BitAmbiguous
	}
	majority := int(v.ones)
	one := true
	if v.zeros > v.ones {
		majority = int(v.zeros)
		one = false
	}
	pct := majority * 100 / total
	switch {
	case pct >= confStrong && one:
		return BitStrong1
	case pct >= confStrong:
		return BitStrong0
	case pct >= confWeak && one:
		return BitWeak1
	case pct >= confWeak:
		return BitWeak0
	default:
		return BitAmbiguous
	}
}

// composite builds the majority-vote cell stream.
func (s *Session) composite() []byte {
	data := make([]byte, (len(s.votes)+7)/8)
	for i, v := range s.votes {
		if v.ones > v.zeros {
			data[i/8] |= 1 << (7 - i%8)
		}
	}
	return data
}

// Result votes on everything recorded so far.
func (s *Session) Result() Result {
	res := Result{
		Data: s.composite(),
		Bits: len(s.votes),
	}
	if len(s.votes) > 0 {
		var sum uint64
		for i, v := range s.votes {
			total := int(v.zeros) + int(v.ones)
			majority := int(v.ones)
			if v.zeros > v.ones {
				majority = int(v.zeros)
			}
			if total > 0 {
				sum += uint64(majority * 255 / total)
			}
			if s.Classify(i) == BitAmbiguous {
				res.Ambiguous++
			}
		}
		res.Confidence = uint8(sum / uint64(len(s.votes)))
	}
	if s.verify != nil {
		res.Verified = s.verify(res.Data)
	}
	return res
}

// Reset clears all votes so the session can be reused for another track.
func (s *Session) Reset() {
	s.votes = s.votes[:0]
	s.done = 0
}
