package flux

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Source provides an ordered stream of flux samples.
// Implementations must not reorder or drop samples: phase tracking and
// sync detection depend on arrival order.
type Source interface {
	// NextSample returns the next sample, or ok=false when the stream ends.
	NextSample() (Sample, bool)
}

// SliceSource replays samples from memory. It implements Source.
type SliceSource struct {
	samples []Sample
	index   int
}

// NewSliceSource creates a source over a sample slice.
func NewSliceSource(samples []Sample) *SliceSource {
	return &SliceSource{samples: samples}
}

// NextSample implements the Source interface.
func (s *SliceSource) NextSample() (Sample, bool) {
	if s.index >= len(s.samples) {
		return Sample{}, false
	}
	sample := s.samples[s.index]
	s.index++
	return sample, true
}

// WordReader decodes a stream of little-endian 32-bit flux words.
// It implements Source.
type WordReader struct {
	r   io.Reader
	buf [4]byte
	err error
}

// NewWordReader creates a source that reads flux words from r.
func NewWordReader(r io.Reader) *WordReader {
	return &WordReader{r: r}
}

// NextSample implements the Source interface. The stream ends on EOF or on
// an all-zero word, the in-band terminator used by transports that never
// reach EOF (serial ports).
func (w *WordReader) NextSample() (Sample, bool) {
	if w.err != nil {
		return Sample{}, false
	}
	if _, err := io.ReadFull(w.r, w.buf[:]); err != nil {
		w.err = err
		return Sample{}, false
	}
	word := binary.LittleEndian.Uint32(w.buf[:])
	if word == 0 {
		w.err = io.EOF
		return Sample{}, false
	}
	return ParseWord(word), true
}

// Err returns the terminating error, if any, other than EOF.
func (w *WordReader) Err() error {
	if w.err == io.EOF {
		return nil
	}
	return w.err
}

// ReadAll drains a source into a slice.
func ReadAll(src Source) []Sample {
	var samples []Sample
	for {
		s, ok := src.NextSample()
		if !ok {
			return samples
		}
		samples = append(samples, s)
	}
}

// Intervals converts consecutive samples of one channel into flux intervals
// in ticks, handling timestamp wrap. Samples from other channels are an
// error: the caller is expected to demultiplex first.
func Intervals(samples []Sample) ([]uint32, error) {
	if len(samples) == 0 {
		return nil, nil
	}
	channel := samples[0].Channel
	intervals := make([]uint32, 0, len(samples)-1)
	prev := samples[0].Timestamp
	for _, s := range samples[1:] {
		if s.Channel != channel {
			return nil, fmt.Errorf("sample from channel %d in channel %d stream", s.Channel, channel)
		}
		intervals = append(intervals, Interval(prev, s.Timestamp))
		prev = s.Timestamp
	}
	return intervals, nil
}

// SplitRevolutions groups samples into index-to-index windows.
// Samples before the first index pulse are discarded, as are samples after
// the last one. The index flag marks an event strictly between the previous
// and the current sample, so the flagged sample starts the new revolution.
func SplitRevolutions(samples []Sample) [][]Sample {
	var revolutions [][]Sample
	var current []Sample
	started := false
	for _, s := range samples {
		if s.Index {
			if started && len(current) > 0 {
				revolutions = append(revolutions, current)
			}
			started = true
			current = nil
		}
		if started {
			current = append(current, s)
		}
	}
	return revolutions
}
