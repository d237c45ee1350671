package sector

import "errors"

// errEndOfTrack terminates a scan when the bit-cell stream runs out.
var errEndOfTrack = errors.New("end of track")

// bitReader walks a raw bit-cell stream (MSB-first packed bytes).
type bitReader struct {
	cells []byte
	pos   int // current cell index
}

func newBitReader(cells []byte) *bitReader {
	return &bitReader{cells: cells}
}

// readCell returns the next raw cell.
func (r *bitReader) readCell() (int, error) {
	if r.pos >= len(r.cells)*8 {
		return -1, errEndOfTrack
	}
	byteIdx := r.pos / 8
	bitIdx := 7 - (r.pos & 7)
	cell := (r.cells[byteIdx] >> bitIdx) & 1
	r.pos++
	return int(cell), nil
}

// readByteClocked reads one data byte from a clock/data interleaved stream
// (FM, MFM and their variants): sixteen cells, data in the second cell of
// each pair.
func (r *bitReader) readByteClocked() (byte, error) {
	var result byte
	for i := 0; i < 8; i++ {
		if _, err := r.readCell(); err != nil {
			return 0, err
		}
		bit, err := r.readCell()
		if err != nil {
			return 0, err
		}
		result = result<<1 | byte(bit)
	}
	return result, nil
}

// readByteRaw reads eight cells as a literal byte (Apple GCR nibbles appear
// directly in the cell stream).
func (r *bitReader) readByteRaw() (byte, error) {
	var result byte
	for i := 0; i < 8; i++ {
		bit, err := r.readCell()
		if err != nil {
			return 0, err
		}
		result = result<<1 | byte(bit)
	}
	return result, nil
}

// backup rewinds the reader by n cells.
func (r *bitReader) backup(n int) {
	r.pos -= n
	if r.pos < 0 {
		r.pos = 0
	}
}

// readQuintet reads five cells (one CBM GCR group).
func (r *bitReader) readQuintet() (int, error) {
	var result int
	for i := 0; i < 5; i++ {
		bit, err := r.readCell()
		if err != nil {
			return -1, err
		}
		result = result<<1 | bit
	}
	return result, nil
}
