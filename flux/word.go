package flux

// Host-facing flux word, 32 bits:
//
//	bit 31     index pulse occurred since the previous word
//	bit 30     capture FIFO overflowed since the previous word
//	bit 29     sector hole pulse since the previous word (hard-sectored media)
//	bits 28:27 drive/channel id (0-3)
//	bits 26:0  transition timestamp, fixed resolution, wraps
//
// A pulse flag means the event happened strictly between the previous and
// the current transition, not at the current transition.
const (
	WordIndex      = uint32(1) << 31
	WordOverflow   = uint32(1) << 30
	WordSectorHole = uint32(1) << 29

	channelShift = 27
	channelMask  = uint32(0x3)

	// TimestampBits is the width of the wrapping timestamp field.
	TimestampBits = 27
	// TimestampMask extracts the timestamp from a flux word.
	TimestampMask = uint32(1)<<TimestampBits - 1
)

// Sample is one captured flux transition.
type Sample struct {
	Timestamp  uint32 // wrapping tick count, TimestampBits wide
	Channel    uint8  // drive/channel id (0-3)
	Index      bool   // index pulse since previous sample
	SectorHole bool   // sector hole pulse since previous sample
	Overflow   bool   // capture buffer overflowed since previous sample
}

// ParseWord unpacks a 32-bit host flux word into a Sample.
func ParseWord(w uint32) Sample {
	return Sample{
		Timestamp:  w & TimestampMask,
		Channel:    uint8((w >> channelShift) & channelMask),
		Index:      w&WordIndex != 0,
		SectorHole: w&WordSectorHole != 0,
		Overflow:   w&WordOverflow != 0,
	}
}

// Word packs the sample back into the 32-bit host format.
func (s Sample) Word() uint32 {
	w := s.Timestamp & TimestampMask
	w |= (uint32(s.Channel) & channelMask) << channelShift
	if s.Index {
		w |= WordIndex
	}
	if s.SectorHole {
		w |= WordSectorHole
	}
	if s.Overflow {
		w |= WordOverflow
	}
	return w
}

// Interval returns the tick count from prev to cur, modulo the wrap period
// of the timestamp counter.
func Interval(prev, cur uint32) uint32 {
	return (cur - prev) & TimestampMask
}
