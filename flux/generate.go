package flux

// GenerateSamples converts bit cells to a flux sample stream: every one
// cell produces a transition at the end of its cell window, timestamped
// with the wrapping capture counter. The pending index flag is attached to
// the first sample emitted after each index event.
func GenerateSamples(cells []byte, nbits int, cellTicks uint32, channel uint8) []Sample {
	return generate(cells, nbits, cellTicks, channel, 0, true)
}

// GenerateRevolutions repeats one track the given number of times, raising
// the index flag at each revolution boundary and emitting one trailing
// index-carrying sample so the final revolution is bounded on both sides.
func GenerateRevolutions(cells []byte, nbits int, cellTicks uint32, channel uint8, revs int) []Sample {
	var out []Sample
	var t uint64
	for r := 0; r < revs; r++ {
		samples := generate(cells, nbits, cellTicks, channel, t, true)
		out = append(out, samples...)
		t += uint64(nbits) * uint64(cellTicks)
	}
	out = append(out, Sample{
		Timestamp: uint32(t+uint64(cellTicks)) & TimestampMask,
		Channel:   channel,
		Index:     true,
	})
	return out
}

func generate(cells []byte, nbits int, cellTicks uint32, channel uint8, start uint64, index bool) []Sample {
	if nbits > len(cells)*8 {
		nbits = len(cells) * 8
	}
	var out []Sample
	t := start
	pendingIndex := index
	for i := 0; i < nbits; i++ {
		t += uint64(cellTicks)
		if cells[i/8]&(1<<(7-i%8)) == 0 {
			continue
		}
		s := Sample{
			Timestamp: uint32(t) & TimestampMask,
			Channel:   channel,
			Index:     pendingIndex,
		}
		pendingIndex = false
		out = append(out, s)
	}
	return out
}
