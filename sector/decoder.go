// Package sector extracts and validates sector fields from a recovered
// bit-cell stream, once the encoding has been classified.
package sector

import (
	"fmt"

	"github.com/fluxrip/fluxrip/encoding"
	"github.com/fluxrip/fluxrip/rs"
)

// DecodedSector is one decoded sector. Immutable once emitted.
type DecodedSector struct {
	Cylinder     uint8
	Head         uint8
	Sector       uint8
	SizeCode     uint8
	Data         []byte
	CRCOK        bool
	ECCCorrected uint8
}

// Counts are the integrity and framing error tallies for one decode pass.
// None of these abort decoding; the caller decides whether to retry.
type Counts struct {
	CRCData          uint32
	CRCAddr          uint32
	MissingAM        uint32
	MissingDAM       uint32
	EccUncorrectable uint32
}

// Add folds another tally into this one.
func (c *Counts) Add(o Counts) {
	c.CRCData += o.CRCData
	c.CRCAddr += o.CRCAddr
	c.MissingAM += o.MissingAM
	c.MissingDAM += o.MissingDAM
	c.EccUncorrectable += o.EccUncorrectable
}

// Options selects the data-field integrity scheme.
type Options struct {
	// ECCBytes selects Reed-Solomon protection of 512-byte payloads with
	// 4, 6 or 10 parity bytes. Zero selects the CRC16 trailer.
	ECCBytes int
}

// SizeBytes converts a size code to the data field byte count.
func SizeBytes(sizeCode uint8) int {
	return 128 << (sizeCode & 7)
}

// maxDAMGapCells bounds how far past a valid ID field the matching data
// mark may start. Beyond it the data field is considered missing.
const maxDAMGapCells = 96 * 16

// Decoder decodes sectors of one encoding from aligned bit-cell streams.
type Decoder struct {
	kind encoding.Kind
	ecc  *rs.Codec
}

// NewDecoder creates a decoder for the given encoding.
func NewDecoder(kind encoding.Kind, opt Options) (*Decoder, error) {
	d := &Decoder{kind: kind}
	switch opt.ECCBytes {
	case 0:
	case 4, 6, 10:
		codec, err := rs.NewCodec(512+opt.ECCBytes, 512)
		if err != nil {
			return nil, err
		}
		d.ecc = codec
	default:
		return nil, fmt.Errorf("unsupported ECC size %d (want 0, 4, 6 or 10)", opt.ECCBytes)
	}
	switch kind {
	case encoding.MFM, encoding.FM, encoding.TandyFM, encoding.M2FM, encoding.Agat,
		encoding.GCRCBM, encoding.GCRApple, encoding.GCRApple5:
		return d, nil
	default:
		return nil, fmt.Errorf("cannot decode encoding %s", kind)
	}
}

// Kind returns the active encoding.
func (d *Decoder) Kind() encoding.Kind {
	return d.kind
}

// DecodeTrack scans one revolution's worth of bit cells and returns every
// sector found, including ones that failed their integrity check
// (CRCOK=false), so that multi-pass recovery can vote on raw attempts.
func (d *Decoder) DecodeTrack(cells []byte) ([]DecodedSector, Counts) {
	switch d.kind {
	case encoding.GCRCBM:
		return d.decodeTrackCBM(cells)
	case encoding.GCRApple, encoding.GCRApple5:
		return d.decodeTrackApple(cells)
	default:
		return d.decodeTrackIBM(cells)
	}
}

/*============================================================================
 * IBM-style framing (MFM, FM, Tandy FM, M2FM, Agat)
 *============================================================================*/

// scannedMark is one located address mark.
type scannedMark struct {
	id  bool
	tag byte
	pos int // cell position just past the mark
}

// ibmMarks describes one encoding's address marks.
type ibmMarks struct {
	// tagged style: a prologue pattern followed by a clocked tag byte
	// (MFM triple-A1, Agat prologue).
	tagged       bool
	prologue     uint64
	prologueBits int
	idTags       []byte
	dataTags     []byte

	// embedded style: the whole mark, tag included, is one raw pattern
	// (FM and M2FM clock-violation marks).
	patterns []ibmPattern

	// crcPrefix is fed to the CRC before the tag byte (the sync bytes
	// covered by the on-disk checksum).
	crcPrefix []byte
}

type ibmPattern struct {
	pattern uint64
	bits    int
	id      bool
	tag     byte
}

func ibmMarksFor(kind encoding.Kind) *ibmMarks {
	switch kind {
	case encoding.MFM:
		return &ibmMarks{
			tagged:       true,
			prologue:     0x448944894489,
			prologueBits: 48,
			idTags:       []byte{0xFE},
			dataTags:     []byte{0xFB, 0xF8},
			crcPrefix:    []byte{0xA1, 0xA1, 0xA1},
		}
	case encoding.Agat:
		return &ibmMarks{
			tagged:       true,
			prologue:     0x956A,
			prologueBits: 16,
			idTags:       []byte{0xFE},
			dataTags:     []byte{0xFB, 0xF8},
		}
	case encoding.FM:
		return &ibmMarks{
			patterns: []ibmPattern{
				{pattern: 0xF57E, bits: 16, id: true, tag: 0xFE},
				{pattern: 0xF56F, bits: 16, id: false, tag: 0xFB},
				{pattern: 0xF56A, bits: 16, id: false, tag: 0xF8},
			},
		}
	case encoding.TandyFM:
		return &ibmMarks{
			patterns: []ibmPattern{
				{pattern: 0xF57E, bits: 16, id: true, tag: 0xFE},
				{pattern: 0xF56F, bits: 16, id: false, tag: 0xFB},
				{pattern: 0xF56E, bits: 16, id: false, tag: 0xFA},
				{pattern: 0xF56A, bits: 16, id: false, tag: 0xF8},
			},
		}
	case encoding.M2FM:
		return &ibmMarks{
			patterns: []ibmPattern{
				{pattern: 0x2A54, bits: 16, id: true, tag: 0x0E},
				{pattern: 0x2A45, bits: 16, id: false, tag: 0x0B},
			},
		}
	}
	return nil
}

// scan advances to the next address mark.
func (m *ibmMarks) scan(r *bitReader) (scannedMark, error) {
	var history uint64
	seen := 0
	for {
		cell, err := r.readCell()
		if err != nil {
			return scannedMark{}, err
		}
		history = history<<1 | uint64(cell)
		seen++

		if m.tagged {
			mask := uint64(1)<<m.prologueBits - 1
			if seen >= m.prologueBits && history&mask == m.prologue {
				tag, err := r.readByteClocked()
				if err != nil {
					return scannedMark{}, err
				}
				for _, t := range m.idTags {
					if t == tag {
						return scannedMark{id: true, tag: tag, pos: r.pos}, nil
					}
				}
				for _, t := range m.dataTags {
					if t == tag {
						return scannedMark{id: false, tag: tag, pos: r.pos}, nil
					}
				}
				// Unknown tag, keep scanning.
				history = 0
				seen = 0
			}
			continue
		}

		for _, p := range m.patterns {
			mask := uint64(1)<<p.bits - 1
			if seen >= p.bits && history&mask == p.pattern {
				return scannedMark{id: p.id, tag: p.tag, pos: r.pos}, nil
			}
		}
	}
}

// ibmHeader is a validated ID field.
type ibmHeader struct {
	cylinder uint8
	head     uint8
	sector   uint8
	sizeCode uint8
}

// readHeaderIBM decodes and CRC-checks the ID field after an ID mark.
func (d *Decoder) readHeaderIBM(r *bitReader, m *ibmMarks, tag byte) (ibmHeader, bool) {
	var fields [4]byte
	for i := range fields {
		b, err := r.readByteClocked()
		if err != nil {
			return ibmHeader{}, false
		}
		fields[i] = b
	}
	sumHigh, err := r.readByteClocked()
	if err != nil {
		return ibmHeader{}, false
	}
	sumLow, err := r.readByteClocked()
	if err != nil {
		return ibmHeader{}, false
	}
	sum := uint16(sumHigh)<<8 | uint16(sumLow)

	crc := crc16CCITT(0xFFFF, m.crcPrefix)
	crc = crc16CCITTByte(crc, tag)
	crc = crc16CCITT(crc, fields[:])
	if crc != sum {
		return ibmHeader{}, false
	}
	return ibmHeader{
		cylinder: fields[0],
		head:     fields[1],
		sector:   fields[2],
		sizeCode: fields[3],
	}, true
}

// readDataIBM decodes the data field and validates it with CRC16 or, on
// ECC-protected paths, Reed-Solomon.
func (d *Decoder) readDataIBM(r *bitReader, m *ibmMarks, hdr ibmHeader, tag byte, counts *Counts) (DecodedSector, bool) {
	sec := DecodedSector{
		Cylinder: hdr.cylinder,
		Head:     hdr.head,
		Sector:   hdr.sector,
		SizeCode: hdr.sizeCode,
	}

	if d.ecc != nil {
		// Hard-drive path: 512-byte payload plus RS parity.
		codeword := make([]byte, d.ecc.N())
		for i := range codeword {
			b, err := r.readByteClocked()
			if err != nil {
				return sec, false
			}
			codeword[i] = b
		}
		corrected, err := d.ecc.Decode(codeword)
		sec.Data = codeword[:d.ecc.K()]
		if err != nil {
			counts.EccUncorrectable++
			sec.CRCOK = false
			return sec, true
		}
		sec.CRCOK = true
		sec.ECCCorrected = uint8(corrected)
		return sec, true
	}

	size := SizeBytes(hdr.sizeCode)
	data := make([]byte, size)
	for i := range data {
		b, err := r.readByteClocked()
		if err != nil {
			return sec, false
		}
		data[i] = b
	}
	sumHigh, err := r.readByteClocked()
	if err != nil {
		return sec, false
	}
	sumLow, err := r.readByteClocked()
	if err != nil {
		return sec, false
	}
	sum := uint16(sumHigh)<<8 | uint16(sumLow)

	crc := crc16CCITT(0xFFFF, m.crcPrefix)
	crc = crc16CCITTByte(crc, tag)
	crc = crc16CCITT(crc, data)

	sec.Data = data
	sec.CRCOK = crc == sum
	if !sec.CRCOK {
		counts.CRCData++
	}
	return sec, true
}

func (d *Decoder) decodeTrackIBM(cells []byte) ([]DecodedSector, Counts) {
	r := newBitReader(cells)
	m := ibmMarksFor(d.kind)

	var out []DecodedSector
	var counts Counts
	idsSeen := 0
	var pending *scannedMark

	for {
		var mk scannedMark
		if pending != nil {
			mk, pending = *pending, nil
		} else {
			var err error
			mk, err = m.scan(r)
			if err != nil {
				break
			}
		}

		if !mk.id {
			// Orphan data mark: no trusted header to pin it to.
			continue
		}

		hdr, ok := d.readHeaderIBM(r, m, mk.tag)
		if !ok {
			// Abandon this attempt: decoding a data field at a
			// possibly-wrong offset is worse than rescanning.
			counts.CRCAddr++
			continue
		}
		idsSeen++

		next, err := m.scan(r)
		if err != nil {
			counts.MissingDAM++
			break
		}
		if next.id || next.pos-mk.pos > maxDAMGapCells {
			counts.MissingDAM++
			pending = &next
			continue
		}

		sec, ok := d.readDataIBM(r, m, hdr, next.tag, &counts)
		if !ok {
			counts.MissingDAM++
			break
		}
		out = append(out, sec)
	}

	if idsSeen == 0 {
		counts.MissingAM++
	}
	return out, counts
}

/*============================================================================
 * Commodore GCR framing
 *============================================================================*/

const (
	cbmHeaderID = 0x08
	cbmDataID   = 0x07
	cbmSyncRun  = 10 // minimum run of one-cells forming a sync mark
)

// readByteCBM reads two GCR quintets and decodes them to one byte.
func (r *bitReader) readByteCBM() (byte, error) {
	hi, err := r.readQuintet()
	if err != nil {
		return 0, err
	}
	lo, err := r.readQuintet()
	if err != nil {
		return 0, err
	}
	hn := cbmGCRInv[hi]
	ln := cbmGCRInv[lo]
	if hn < 0 || ln < 0 {
		return 0, fmt.Errorf("invalid GCR group %02x/%02x", hi, lo)
	}
	return byte(hn)<<4 | byte(ln), nil
}

// scanSyncCBM advances past the next sync mark (a run of at least ten one
// cells) and leaves the reader at the first cell of the block.
func scanSyncCBM(r *bitReader) error {
	run := 0
	for {
		cell, err := r.readCell()
		if err != nil {
			return err
		}
		if cell == 1 {
			run++
			continue
		}
		if run >= cbmSyncRun {
			// The zero just read is the first cell of the block ID group.
			r.backup(1)
			return nil
		}
		run = 0
	}
}

func (d *Decoder) decodeTrackCBM(cells []byte) ([]DecodedSector, Counts) {
	r := newBitReader(cells)

	var out []DecodedSector
	var counts Counts
	headersSeen := 0
	var pendingTrack, pendingSector uint8
	havePending := false

	for {
		if err := scanSyncCBM(r); err != nil {
			break
		}
		blockID, err := r.readByteCBM()
		if err != nil {
			continue
		}

		switch blockID {
		case cbmHeaderID:
			var fields [7]byte
			bad := false
			for i := range fields {
				b, err := r.readByteCBM()
				if err != nil {
					counts.CRCAddr++
					bad = true
					break
				}
				fields[i] = b
			}
			if bad {
				continue
			}
			checksum := fields[0]
			sectorNum := fields[1]
			track := fields[2]
			id2 := fields[3]
			id1 := fields[4]
			if checksum != sectorNum^track^id2^id1 {
				counts.CRCAddr++
				continue
			}
			headersSeen++
			if havePending {
				// Previous header never got its data block.
				counts.MissingDAM++
			}
			pendingTrack, pendingSector = track, sectorNum
			havePending = true

		case cbmDataID:
			if !havePending {
				continue
			}
			data := make([]byte, 256)
			bad := false
			for i := range data {
				b, err := r.readByteCBM()
				if err != nil {
					counts.CRCData++
					bad = true
					break
				}
				data[i] = b
			}
			if bad {
				havePending = false
				continue
			}
			checksum, err := r.readByteCBM()
			if err != nil {
				counts.CRCData++
				havePending = false
				continue
			}
			var sum byte
			for _, b := range data {
				sum ^= b
			}
			sec := DecodedSector{
				Cylinder: pendingTrack,
				Sector:   pendingSector,
				SizeCode: 1,
				Data:     data,
				CRCOK:    sum == checksum,
			}
			if !sec.CRCOK {
				counts.CRCData++
			}
			out = append(out, sec)
			havePending = false
		}
	}

	if havePending {
		counts.MissingDAM++
	}
	if headersSeen == 0 {
		counts.MissingAM++
	}
	return out, counts
}

/*============================================================================
 * Apple GCR framing (6&2 and 5&3)
 *============================================================================*/

const (
	appleEpilogue1 = 0xDE
	appleEpilogue2 = 0xAA
	appleDataMark  = 0xAD // third prologue nibble of a data field
)

// appleAddressMark returns the third prologue nibble of the address field.
func (d *Decoder) appleAddressMark() byte {
	if d.kind == encoding.GCRApple5 {
		return 0xB5
	}
	return 0x96
}

// scanAppleMark advances past the next D5 AA xx prologue and returns the
// third nibble.
func scanAppleMark(r *bitReader) (byte, error) {
	var history uint32
	seen := 0
	for {
		cell, err := r.readCell()
		if err != nil {
			return 0, err
		}
		history = history<<1 | uint32(cell)
		seen++
		if seen >= 24 && history&0xFFFF00 == 0xD5AA00 {
			return byte(history), nil
		}
	}
}

// readAddressApple decodes the 4&4 encoded address field.
func readAddressApple(r *bitReader) (volume, track, sectorNum uint8, ok bool) {
	var raw [8]byte
	for i := range raw {
		b, err := r.readByteRaw()
		if err != nil {
			return 0, 0, 0, false
		}
		raw[i] = b
	}
	volume = decode44(raw[0], raw[1])
	track = decode44(raw[2], raw[3])
	sectorNum = decode44(raw[4], raw[5])
	checksum := decode44(raw[6], raw[7])
	if checksum != volume^track^sectorNum {
		return 0, 0, 0, false
	}
	return volume, track, sectorNum, true
}

// readData62 decodes a 342-nibble 6&2 data field into 256 bytes.
func readData62(r *bitReader) ([]byte, bool, error) {
	six := make([]byte, 342)
	prev := byte(0)
	for i := range six {
		nib, err := r.readByteRaw()
		if err != nil {
			return nil, false, err
		}
		v := apple62Inv[nib]
		if v < 0 {
			return nil, false, nil
		}
		prev ^= byte(v)
		six[i] = prev
	}
	nib, err := r.readByteRaw()
	if err != nil {
		return nil, false, err
	}
	v := apple62Inv[nib]
	// The running XOR leaves prev equal to the last stored value; the
	// checksum nibble must decode to it.
	checksumOK := v >= 0 && byte(v) == prev

	data := make([]byte, 256)
	for j := 0; j < 256; j++ {
		data[j] = six[86+j] << 2
	}
	for i := 0; i < 86; i++ {
		two := six[i]
		data[i] |= rev2(two & 3)
		data[i+86] |= rev2((two >> 2) & 3)
		if i+172 < 256 {
			data[i+172] |= rev2((two >> 4) & 3)
		}
	}
	return data, checksumOK, nil
}

// readData53 decodes a 410-nibble 5&3 data field into 256 bytes: each
// nibble yields five payload bits, repacked MSB-first, with the final two
// bits of the last group as padding.
func readData53(r *bitReader) ([]byte, bool, error) {
	five := make([]byte, 410)
	prev := byte(0)
	for i := range five {
		nib, err := r.readByteRaw()
		if err != nil {
			return nil, false, err
		}
		v := apple53Inv[nib]
		if v < 0 {
			return nil, false, nil
		}
		prev ^= byte(v)
		five[i] = prev
	}
	nib, err := r.readByteRaw()
	if err != nil {
		return nil, false, err
	}
	v := apple53Inv[nib]
	checksumOK := v >= 0 && byte(v) == prev

	data := make([]byte, 256)
	bitPos := 0
	for _, group := range five {
		for k := 4; k >= 0; k-- {
			if bitPos >= 2048 {
				break
			}
			if group&(1<<k) != 0 {
				data[bitPos/8] |= 1 << (7 - bitPos%8)
			}
			bitPos++
		}
	}
	return data, checksumOK, nil
}

func (d *Decoder) decodeTrackApple(cells []byte) ([]DecodedSector, Counts) {
	r := newBitReader(cells)
	addrMark := d.appleAddressMark()

	var out []DecodedSector
	var counts Counts
	headersSeen := 0
	var pendingTrack, pendingSector uint8
	havePending := false

	for {
		mark, err := scanAppleMark(r)
		if err != nil {
			break
		}

		switch mark {
		case addrMark:
			_, track, sectorNum, ok := readAddressApple(r)
			if !ok {
				counts.CRCAddr++
				continue
			}
			headersSeen++
			if havePending {
				counts.MissingDAM++
			}
			pendingTrack, pendingSector = track, sectorNum
			havePending = true

		case appleDataMark:
			if !havePending {
				continue
			}
			var data []byte
			var ok bool
			if d.kind == encoding.GCRApple5 {
				data, ok, err = readData53(r)
			} else {
				data, ok, err = readData62(r)
			}
			if err != nil {
				counts.CRCData++
				havePending = false
				continue
			}
			if data == nil {
				// Invalid nibble inside the field.
				counts.CRCData++
				havePending = false
				continue
			}
			sec := DecodedSector{
				Cylinder: pendingTrack,
				Sector:   pendingSector,
				SizeCode: 1,
				Data:     data,
				CRCOK:    ok,
			}
			if !sec.CRCOK {
				counts.CRCData++
			}
			out = append(out, sec)
			havePending = false
		}
	}

	if havePending {
		counts.MissingDAM++
	}
	if headersSeen == 0 {
		counts.MissingAM++
	}
	return out, counts
}
