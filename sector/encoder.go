package sector

import (
	"fmt"

	"github.com/fluxrip/fluxrip/encoding"
	"github.com/fluxrip/fluxrip/rs"
)

// SectorSpec describes one sector to lay out on a track.
type SectorSpec struct {
	Cylinder uint8
	Head     uint8
	Sector   uint8
	SizeCode uint8
	Data     []byte
}

// Encoder lays out complete tracks as raw bit cells, the exact inverse of
// Decoder. Used to build golden tracks for round-trip verification and to
// synthesize flux for drive-free testing.
type Encoder struct {
	kind encoding.Kind
	ecc  *rs.Codec
}

// NewEncoder creates an encoder for the given encoding.
func NewEncoder(kind encoding.Kind, opt Options) (*Encoder, error) {
	e := &Encoder{kind: kind}
	switch opt.ECCBytes {
	case 0:
	case 4, 6, 10:
		codec, err := rs.NewCodec(512+opt.ECCBytes, 512)
		if err != nil {
			return nil, err
		}
		e.ecc = codec
	default:
		return nil, fmt.Errorf("unsupported ECC size %d (want 0, 4, 6 or 10)", opt.ECCBytes)
	}
	switch kind {
	case encoding.MFM, encoding.FM, encoding.TandyFM, encoding.M2FM, encoding.Agat,
		encoding.GCRCBM, encoding.GCRApple, encoding.GCRApple5:
		return e, nil
	default:
		return nil, fmt.Errorf("cannot encode encoding %s", kind)
	}
}

// EncodeTrack lays out the given sectors as one revolution of bit cells
// (MSB-first packed).
func (e *Encoder) EncodeTrack(sectors []SectorSpec) ([]byte, error) {
	switch e.kind {
	case encoding.GCRCBM:
		return e.encodeTrackCBM(sectors)
	case encoding.GCRApple, encoding.GCRApple5:
		return e.encodeTrackApple(sectors)
	default:
		return e.encodeTrackIBM(sectors)
	}
}

// trackWriter accumulates raw bit cells, tracking the state the clocking
// rules need.
type trackWriter struct {
	cells       []byte
	bits        int
	lastDataBit byte
	lastClock   byte
}

func (w *trackWriter) writeCell(bit byte) {
	if w.bits%8 == 0 {
		w.cells = append(w.cells, 0)
	}
	if bit != 0 {
		w.cells[len(w.cells)-1] |= 1 << (7 - w.bits%8)
	}
	w.bits++
}

// writeRaw emits literal cells, MSB first. The caller is responsible for
// fixing up the clocking state afterwards when the pattern carries
// deliberate violations.
func (w *trackWriter) writeRaw(pattern uint32, bits int) {
	for i := bits - 1; i >= 0; i-- {
		w.writeCell(byte(pattern>>i) & 1)
	}
}

// writeByteMFM emits one data byte with standard MFM clocking: a clock cell
// is one only between two zero data bits.
func (w *trackWriter) writeByteMFM(b byte) {
	for i := 7; i >= 0; i-- {
		d := (b >> i) & 1
		var clock byte
		if d == 0 && w.lastDataBit == 0 {
			clock = 1
		}
		w.writeCell(clock)
		w.writeCell(d)
		w.lastDataBit = d
		w.lastClock = clock
	}
}

// writeByteM2FM emits one data byte with M2FM clocking: a clock cell is one
// only between two zero data bits when the previous clock was also zero.
func (w *trackWriter) writeByteM2FM(b byte) {
	for i := 7; i >= 0; i-- {
		d := (b >> i) & 1
		var clock byte
		if d == 0 && w.lastDataBit == 0 && w.lastClock == 0 {
			clock = 1
		}
		w.writeCell(clock)
		w.writeCell(d)
		w.lastDataBit = d
		w.lastClock = clock
	}
}

// writeByteFM emits one byte with an explicit clock byte. Ordinary FM data
// uses clock 0xFF; address marks carry violated clocks like 0xC7.
func (w *trackWriter) writeByteFM(clock, data byte) {
	for i := 7; i >= 0; i-- {
		c := (clock >> i) & 1
		d := (data >> i) & 1
		w.writeCell(c)
		w.writeCell(d)
		w.lastDataBit = d
		w.lastClock = c
	}
}

// writeByteRaw emits eight literal cells (Apple GCR nibbles).
func (w *trackWriter) writeByteRaw(b byte) {
	for i := 7; i >= 0; i-- {
		w.writeCell((b >> i) & 1)
	}
}

/*============================================================================
 * IBM-style layouts
 *============================================================================*/

// ibmLayout collects the per-encoding framing parameters for the IBM track
// builder.
type ibmLayout struct {
	gapByte   byte
	syncCount int
	writeByte func(w *trackWriter, b byte)
	writeID   func(w *trackWriter)
	writeData func(w *trackWriter)
	idTag     byte
	dataTag   byte
	crcPrefix []byte
}

func ibmLayoutFor(kind encoding.Kind) *ibmLayout {
	mfmByte := func(w *trackWriter, b byte) { w.writeByteMFM(b) }
	m2fmByte := func(w *trackWriter, b byte) { w.writeByteM2FM(b) }
	fmByte := func(w *trackWriter, b byte) { w.writeByteFM(0xFF, b) }

	mfmMarker := func(w *trackWriter) {
		for i := 0; i < 3; i++ {
			w.writeRaw(0x4489, 16)
		}
		w.lastDataBit = 1
		w.lastClock = 0
	}
	agatMarker := func(w *trackWriter) {
		w.writeRaw(0x956A, 16)
		w.lastDataBit = 0
		w.lastClock = 1
	}

	switch kind {
	case encoding.MFM:
		return &ibmLayout{
			gapByte: 0x4E, syncCount: 12, writeByte: mfmByte,
			writeID: mfmMarker, writeData: mfmMarker,
			idTag: 0xFE, dataTag: 0xFB,
			crcPrefix: []byte{0xA1, 0xA1, 0xA1},
		}
	case encoding.Agat:
		return &ibmLayout{
			gapByte: 0xAA, syncCount: 12, writeByte: mfmByte,
			writeID: agatMarker, writeData: agatMarker,
			idTag: 0xFE, dataTag: 0xFB,
		}
	case encoding.FM:
		return &ibmLayout{
			gapByte: 0xFF, syncCount: 6, writeByte: fmByte,
			writeID:   func(w *trackWriter) { w.writeByteFM(0xC7, 0xFE) },
			writeData: func(w *trackWriter) { w.writeByteFM(0xC7, 0xFB) },
		}
	case encoding.TandyFM:
		// Same framing as FM but the data field carries the 0xFA mark.
		return &ibmLayout{
			gapByte: 0xFF, syncCount: 6, writeByte: fmByte,
			writeID:   func(w *trackWriter) { w.writeByteFM(0xC7, 0xFE) },
			writeData: func(w *trackWriter) { w.writeByteFM(0xC7, 0xFA) },
		}
	case encoding.M2FM:
		return &ibmLayout{
			gapByte: 0xFF, syncCount: 6, writeByte: m2fmByte,
			writeID:   func(w *trackWriter) { w.writeByteFM(0x70, 0x0E) },
			writeData: func(w *trackWriter) { w.writeByteFM(0x70, 0x0B) },
		}
	}
	return nil
}

func (e *Encoder) encodeTrackIBM(sectors []SectorSpec) ([]byte, error) {
	l := ibmLayoutFor(e.kind)
	w := &trackWriter{}

	writeGap := func(n int) {
		for i := 0; i < n; i++ {
			l.writeByte(w, l.gapByte)
		}
	}
	writeSync := func() {
		for i := 0; i < l.syncCount; i++ {
			l.writeByte(w, 0x00)
		}
	}

	writeGap(32)

	for _, s := range sectors {
		expect := 128 << (s.SizeCode & 7)
		if e.ecc != nil {
			expect = e.ecc.K()
		}
		if len(s.Data) != expect {
			return nil, fmt.Errorf("sector %d: data is %d bytes, want %d",
				s.Sector, len(s.Data), expect)
		}

		// ID field.
		writeSync()
		l.writeID(w)
		if l.idTag != 0 {
			// FM-family marks carry the tag themselves; only the
			// prologue styles write it separately.
			l.writeByte(w, l.idTag)
		}
		fields := [4]byte{s.Cylinder, s.Head, s.Sector, s.SizeCode}
		crc := crc16CCITT(0xFFFF, l.crcPrefix)
		crc = crc16CCITTByte(crc, e.idTagByte())
		crc = crc16CCITT(crc, fields[:])
		for _, b := range fields {
			l.writeByte(w, b)
		}
		l.writeByte(w, byte(crc>>8))
		l.writeByte(w, byte(crc))
		writeGap(22)

		// Data field.
		writeSync()
		l.writeData(w)
		if l.dataTag != 0 {
			l.writeByte(w, l.dataTag)
		}
		if e.ecc != nil {
			codeword, err := e.ecc.Encode(s.Data)
			if err != nil {
				return nil, err
			}
			for _, b := range codeword {
				l.writeByte(w, b)
			}
		} else {
			crc = crc16CCITT(0xFFFF, l.crcPrefix)
			crc = crc16CCITTByte(crc, e.dataTagByte())
			crc = crc16CCITT(crc, s.Data)
			for _, b := range s.Data {
				l.writeByte(w, b)
			}
			l.writeByte(w, byte(crc>>8))
			l.writeByte(w, byte(crc))
		}
		writeGap(24)
	}

	writeGap(64)
	return w.cells, nil
}

// idTagByte returns the address mark tag the CRC covers.
func (e *Encoder) idTagByte() byte {
	if e.kind == encoding.M2FM {
		return 0x0E
	}
	return 0xFE
}

// dataTagByte returns the data mark tag the CRC covers.
func (e *Encoder) dataTagByte() byte {
	switch e.kind {
	case encoding.M2FM:
		return 0x0B
	case encoding.TandyFM:
		return 0xFA
	default:
		return 0xFB
	}
}

/*============================================================================
 * Commodore GCR layout
 *============================================================================*/

// writeByteCBM emits one byte as two GCR quintets.
func (w *trackWriter) writeByteCBM(b byte) {
	hi := cbmGCR[b>>4]
	lo := cbmGCR[b&0x0F]
	w.writeRaw(uint32(hi), 5)
	w.writeRaw(uint32(lo), 5)
}

func (e *Encoder) encodeTrackCBM(sectors []SectorSpec) ([]byte, error) {
	w := &trackWriter{}

	writeSync := func() {
		for i := 0; i < 40; i++ {
			w.writeCell(1)
		}
	}
	writeGap := func(n int) {
		for i := 0; i < n; i++ {
			w.writeRaw(0x55, 8)
		}
	}
	const id1, id2 = 0x30, 0x30

	writeGap(8)
	for _, s := range sectors {
		if len(s.Data) != 256 {
			return nil, fmt.Errorf("sector %d: data is %d bytes, want 256",
				s.Sector, len(s.Data))
		}

		// Header block.
		writeSync()
		checksum := s.Sector ^ s.Cylinder ^ id2 ^ id1
		for _, b := range []byte{cbmHeaderID, checksum, s.Sector, s.Cylinder, id2, id1, 0x0F, 0x0F} {
			w.writeByteCBM(b)
		}
		writeGap(9)

		// Data block.
		writeSync()
		w.writeByteCBM(cbmDataID)
		var sum byte
		for _, b := range s.Data {
			w.writeByteCBM(b)
			sum ^= b
		}
		w.writeByteCBM(sum)
		writeGap(9)
	}
	writeGap(16)
	return w.cells, nil
}

/*============================================================================
 * Apple GCR layouts
 *============================================================================*/

// writeSelfSync emits one Apple self-sync nibble: 0xFF padded with two
// trailing zero cells.
func (w *trackWriter) writeSelfSync() {
	w.writeByteRaw(0xFF)
	w.writeCell(0)
	w.writeCell(0)
}

func (e *Encoder) encodeTrackApple(sectors []SectorSpec) ([]byte, error) {
	w := &trackWriter{}
	const volume = 0xFE
	addrMark := byte(0x96)
	if e.kind == encoding.GCRApple5 {
		addrMark = 0xB5
	}

	writeGap := func(n int) {
		for i := 0; i < n; i++ {
			w.writeSelfSync()
		}
	}
	writeEpilogue := func() {
		w.writeByteRaw(appleEpilogue1)
		w.writeByteRaw(appleEpilogue2)
		w.writeByteRaw(0xEB)
	}

	writeGap(16)
	for _, s := range sectors {
		if len(s.Data) != 256 {
			return nil, fmt.Errorf("sector %d: data is %d bytes, want 256",
				s.Sector, len(s.Data))
		}

		// Address field.
		w.writeByteRaw(0xD5)
		w.writeByteRaw(0xAA)
		w.writeByteRaw(addrMark)
		for _, v := range []byte{volume, s.Cylinder, s.Sector, volume ^ s.Cylinder ^ s.Sector} {
			odd, even := encode44(v)
			w.writeByteRaw(odd)
			w.writeByteRaw(even)
		}
		writeEpilogue()
		writeGap(6)

		// Data field.
		w.writeByteRaw(0xD5)
		w.writeByteRaw(0xAA)
		w.writeByteRaw(appleDataMark)
		if e.kind == encoding.GCRApple5 {
			writeData53(w, s.Data)
		} else {
			writeData62(w, s.Data)
		}
		writeEpilogue()
		writeGap(16)
	}
	return w.cells, nil
}

// writeData62 emits a 256-byte payload as 342 6&2 nibbles plus checksum.
func writeData62(w *trackWriter, data []byte) {
	var six [342]byte
	for i := 0; i < 86; i++ {
		two := rev2(data[i] & 3)
		two |= rev2(data[i+86]&3) << 2
		if i+172 < 256 {
			two |= rev2(data[i+172]&3) << 4
		}
		six[i] = two
	}
	for j := 0; j < 256; j++ {
		six[86+j] = data[j] >> 2
	}

	prev := byte(0)
	for _, v := range six {
		w.writeByteRaw(apple62[v^prev])
		prev = v
	}
	w.writeByteRaw(apple62[prev])
}

// writeData53 emits a 256-byte payload as 410 5&3 nibbles plus checksum.
// Payload bits are taken MSB-first, five per group, with two zero bits of
// padding in the final group.
func writeData53(w *trackWriter, data []byte) {
	var five [410]byte
	bitPos := 0
	for g := range five {
		var v byte
		for k := 4; k >= 0; k-- {
			if bitPos < 2048 && data[bitPos/8]&(1<<(7-bitPos%8)) != 0 {
				v |= 1 << k
			}
			bitPos++
		}
		five[g] = v
	}

	prev := byte(0)
	for _, v := range five {
		w.writeByteRaw(apple53[v^prev])
		prev = v
	}
	w.writeByteRaw(apple53[prev])
}
