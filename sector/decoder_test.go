package sector

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/fluxrip/fluxrip/encoding"
)

// Helper function: patternData builds a deterministic payload of the given
// size.
func patternData(size int, seed int64) []byte {
	rng := rand.New(rand.NewSource(seed))
	data := make([]byte, size)
	rng.Read(data)
	return data
}

// Helper function: encodeTrack lays out sectors and fails the test on
// encoder errors.
func encodeTrack(t *testing.T, kind encoding.Kind, opt Options, sectors []SectorSpec) []byte {
	t.Helper()
	enc, err := NewEncoder(kind, opt)
	if err != nil {
		t.Fatalf("NewEncoder(%s): %v", kind, err)
	}
	cells, err := enc.EncodeTrack(sectors)
	if err != nil {
		t.Fatalf("EncodeTrack(%s): %v", kind, err)
	}
	return cells
}

// Helper function: decodeTrack runs the decoder and fails the test on
// construction errors.
func decodeTrack(t *testing.T, kind encoding.Kind, opt Options, cells []byte) ([]DecodedSector, Counts) {
	t.Helper()
	dec, err := NewDecoder(kind, opt)
	if err != nil {
		t.Fatalf("NewDecoder(%s): %v", kind, err)
	}
	return dec.DecodeTrack(cells)
}

// Helper function: verifySector checks one decoded sector against its spec.
func verifySector(t *testing.T, got DecodedSector, want SectorSpec) {
	t.Helper()
	if got.Cylinder != want.Cylinder || got.Sector != want.Sector {
		t.Errorf("sector identity C%d S%d, expected C%d S%d",
			got.Cylinder, got.Sector, want.Cylinder, want.Sector)
	}
	if !got.CRCOK {
		t.Errorf("sector C%d S%d failed its integrity check", want.Cylinder, want.Sector)
	}
	if !bytes.Equal(got.Data, want.Data) {
		t.Errorf("sector C%d S%d data mismatch", want.Cylinder, want.Sector)
	}
}

// TestRoundTripIBM encodes and decodes tracks in every IBM-style framing.
func TestRoundTripIBM(t *testing.T) {
	kinds := []encoding.Kind{
		encoding.MFM, encoding.FM, encoding.TandyFM, encoding.M2FM, encoding.Agat,
	}
	for _, kind := range kinds {
		t.Run(kind.String(), func(t *testing.T) {
			sectors := []SectorSpec{
				{Cylinder: 5, Head: 0, Sector: 1, SizeCode: 1, Data: patternData(256, 1)},
				{Cylinder: 5, Head: 0, Sector: 2, SizeCode: 1, Data: patternData(256, 2)},
				{Cylinder: 5, Head: 0, Sector: 3, SizeCode: 1, Data: patternData(256, 3)},
			}
			cells := encodeTrack(t, kind, Options{}, sectors)
			decoded, counts := decodeTrack(t, kind, Options{}, cells)

			if len(decoded) != len(sectors) {
				t.Fatalf("decoded %d sectors, expected %d", len(decoded), len(sectors))
			}
			for i, got := range decoded {
				verifySector(t, got, sectors[i])
				if got.Head != sectors[i].Head {
					t.Errorf("sector %d head = %d", i, got.Head)
				}
			}
			if counts != (Counts{}) {
				t.Errorf("clean track produced error counts %+v", counts)
			}
		})
	}
}

// TestTandyDataMark pins the nonstandard Tandy data mark: the encoded
// track must carry the 0xFA-under-0xC7 cells (0xF56E) and a plain FM
// decoder must not find the data field.
func TestTandyDataMark(t *testing.T) {
	spec := SectorSpec{Cylinder: 17, Head: 0, Sector: 5, SizeCode: 1, Data: patternData(256, 11)}
	cells := encodeTrack(t, encoding.TandyFM, Options{}, []SectorSpec{spec})

	var window uint32
	found := false
	for i := 0; i < len(cells)*8; i++ {
		window <<= 1
		if cells[i/8]&(1<<(7-i%8)) != 0 {
			window |= 1
		}
		if i >= 15 && window&0xFFFF == 0xF56E {
			found = true
			break
		}
	}
	if !found {
		t.Fatal("encoded track carries no 0xF56E data mark")
	}

	decoded, counts := decodeTrack(t, encoding.TandyFM, Options{}, cells)
	if len(decoded) != 1 {
		t.Fatalf("decoded %d sectors, expected 1", len(decoded))
	}
	verifySector(t, decoded[0], spec)
	if counts != (Counts{}) {
		t.Errorf("clean track produced error counts %+v", counts)
	}

	// The shared ID mark reads fine in plain FM, but the data mark must
	// not: FM has no 0xFA mark.
	fmDecoded, fmCounts := decodeTrack(t, encoding.FM, Options{}, cells)
	if len(fmDecoded) != 0 {
		t.Fatalf("plain FM decoded %d sectors from a Tandy track", len(fmDecoded))
	}
	if fmCounts.MissingDAM != 1 {
		t.Errorf("MissingDAM = %d, expected 1", fmCounts.MissingDAM)
	}
}

// TestRoundTripGCR encodes and decodes the Commodore and Apple framings.
func TestRoundTripGCR(t *testing.T) {
	kinds := []encoding.Kind{encoding.GCRCBM, encoding.GCRApple, encoding.GCRApple5}
	for _, kind := range kinds {
		t.Run(kind.String(), func(t *testing.T) {
			sectors := []SectorSpec{
				{Cylinder: 18, Sector: 0, Data: patternData(256, 4)},
				{Cylinder: 18, Sector: 1, Data: patternData(256, 5)},
			}
			cells := encodeTrack(t, kind, Options{}, sectors)
			decoded, counts := decodeTrack(t, kind, Options{}, cells)

			if len(decoded) != len(sectors) {
				t.Fatalf("decoded %d sectors, expected %d", len(decoded), len(sectors))
			}
			for i, got := range decoded {
				verifySector(t, got, sectors[i])
			}
			if counts != (Counts{}) {
				t.Errorf("clean track produced error counts %+v", counts)
			}
		})
	}
}

// TestRoundTripSizeCodes covers the 128 << sizeCode data field sizes.
func TestRoundTripSizeCodes(t *testing.T) {
	for sizeCode := uint8(0); sizeCode <= 3; sizeCode++ {
		size := SizeBytes(sizeCode)
		sectors := []SectorSpec{
			{Cylinder: 1, Sector: 1, SizeCode: sizeCode, Data: patternData(size, int64(sizeCode))},
		}
		cells := encodeTrack(t, encoding.MFM, Options{}, sectors)
		decoded, _ := decodeTrack(t, encoding.MFM, Options{}, cells)
		if len(decoded) != 1 {
			t.Fatalf("size code %d: decoded %d sectors", sizeCode, len(decoded))
		}
		if decoded[0].SizeCode != sizeCode || len(decoded[0].Data) != size {
			t.Errorf("size code %d: got code %d, %d bytes",
				sizeCode, decoded[0].SizeCode, len(decoded[0].Data))
		}
	}
}

// findFirstDiff locates the first cell where two tracks differ. Encoding
// the same layout with one data byte changed pins the start of the data
// field without hardcoding the framing overhead.
func findFirstDiff(t *testing.T, a, b []byte) int {
	t.Helper()
	for i := 0; i < len(a)*8 && i < len(b)*8; i++ {
		mask := byte(1) << (7 - i%8)
		if a[i/8]&mask != b[i/8]&mask {
			return i
		}
	}
	t.Fatal("tracks are identical")
	return -1
}

// flipCell toggles one cell in a packed track.
func flipCell(cells []byte, pos int) {
	cells[pos/8] ^= 1 << (7 - pos%8)
}

// TestSingleBitFlip flips one data-field cell and expects the sector to
// surface with a failed check and exactly one data CRC error.
func TestSingleBitFlip(t *testing.T) {
	data := patternData(512, 7)
	spec := SectorSpec{Cylinder: 5, Head: 0, Sector: 3, SizeCode: 2, Data: data}

	cells := encodeTrack(t, encoding.MFM, Options{}, []SectorSpec{spec})

	altered := make([]byte, len(data))
	copy(altered, data)
	altered[0] ^= 0x80
	altSpec := spec
	altSpec.Data = altered
	altCells := encodeTrack(t, encoding.MFM, Options{}, []SectorSpec{altSpec})

	flipCell(cells, findFirstDiff(t, cells, altCells))

	decoded, counts := decodeTrack(t, encoding.MFM, Options{}, cells)
	if len(decoded) != 1 {
		t.Fatalf("decoded %d sectors, expected 1", len(decoded))
	}
	if decoded[0].CRCOK {
		t.Error("corrupted sector passed its CRC")
	}
	if counts.CRCData != 1 {
		t.Errorf("CRCData = %d, expected exactly 1", counts.CRCData)
	}
	if counts.CRCAddr != 0 || counts.MissingAM != 0 || counts.MissingDAM != 0 {
		t.Errorf("unexpected side counts %+v", counts)
	}
}

// TestHeaderCorruption flips a cell in the ID field: the header is
// abandoned and the data field never trusted.
func TestHeaderCorruption(t *testing.T) {
	specA := SectorSpec{Cylinder: 5, Head: 0, Sector: 3, SizeCode: 1, Data: patternData(256, 8)}
	specB := specA
	specB.Cylinder = 6 // differs in the first header field

	cellsA := encodeTrack(t, encoding.MFM, Options{}, []SectorSpec{specA})
	cellsB := encodeTrack(t, encoding.MFM, Options{}, []SectorSpec{specB})

	flipCell(cellsA, findFirstDiff(t, cellsA, cellsB))

	decoded, counts := decodeTrack(t, encoding.MFM, Options{}, cellsA)
	if len(decoded) != 0 {
		t.Fatalf("decoded %d sectors from a corrupt header", len(decoded))
	}
	if counts.CRCAddr != 1 {
		t.Errorf("CRCAddr = %d, expected 1", counts.CRCAddr)
	}
}

// TestMissingAM reports a track with no recognizable address mark.
func TestMissingAM(t *testing.T) {
	cells := make([]byte, 1024) // no transitions at all
	decoded, counts := decodeTrack(t, encoding.MFM, Options{}, cells)
	if len(decoded) != 0 {
		t.Fatalf("decoded %d sectors from an empty track", len(decoded))
	}
	if counts.MissingAM != 1 {
		t.Errorf("MissingAM = %d, expected 1", counts.MissingAM)
	}
}

// TestMissingDAM truncates a track after the ID field.
func TestMissingDAM(t *testing.T) {
	spec := SectorSpec{Cylinder: 2, Head: 1, Sector: 4, SizeCode: 1, Data: patternData(256, 9)}
	cells := encodeTrack(t, encoding.MFM, Options{}, []SectorSpec{spec})

	// Keep the leading gap, sync, ID field and a little slack; drop the
	// rest of the track including the data mark.
	truncated := cells[:200]
	decoded, counts := decodeTrack(t, encoding.MFM, Options{}, truncated)
	if len(decoded) != 0 {
		t.Fatalf("decoded %d sectors without a data field", len(decoded))
	}
	if counts.MissingDAM != 1 {
		t.Errorf("MissingDAM = %d, expected 1", counts.MissingDAM)
	}
}

// TestRoundTripECC exercises the Reed-Solomon data path for every parity
// size, including correction of in-field corruption.
func TestRoundTripECC(t *testing.T) {
	for _, eccBytes := range []int{4, 6, 10} {
		t.Run(map[int]string{4: "RS4", 6: "RS6", 10: "RS10"}[eccBytes], func(t *testing.T) {
			opt := Options{ECCBytes: eccBytes}
			data := patternData(512, int64(eccBytes))
			spec := SectorSpec{Cylinder: 1, Head: 0, Sector: 1, SizeCode: 2, Data: data}

			cells := encodeTrack(t, encoding.MFM, opt, []SectorSpec{spec})
			decoded, counts := decodeTrack(t, encoding.MFM, opt, cells)
			if len(decoded) != 1 {
				t.Fatalf("decoded %d sectors, expected 1", len(decoded))
			}
			verifySector(t, decoded[0], spec)
			if decoded[0].ECCCorrected != 0 {
				t.Errorf("clean codeword reported %d corrections", decoded[0].ECCCorrected)
			}
			if counts.EccUncorrectable != 0 {
				t.Errorf("clean codeword counted as uncorrectable")
			}
		})
	}
}

// TestECCCorrection corrupts one data byte inside an RS-protected field and
// expects transparent correction.
func TestECCCorrection(t *testing.T) {
	opt := Options{ECCBytes: 6}
	data := patternData(512, 11)
	spec := SectorSpec{Cylinder: 3, Head: 0, Sector: 2, SizeCode: 2, Data: data}

	cells := encodeTrack(t, encoding.MFM, opt, []SectorSpec{spec})

	altered := make([]byte, len(data))
	copy(altered, data)
	altered[100] ^= 0x01
	altSpec := spec
	altSpec.Data = altered
	altCells := encodeTrack(t, encoding.MFM, opt, []SectorSpec{altSpec})

	flipCell(cells, findFirstDiff(t, cells, altCells))

	decoded, counts := decodeTrack(t, encoding.MFM, opt, cells)
	if len(decoded) != 1 {
		t.Fatalf("decoded %d sectors, expected 1", len(decoded))
	}
	if !decoded[0].CRCOK {
		t.Fatal("single-symbol error not corrected")
	}
	if decoded[0].ECCCorrected != 1 {
		t.Errorf("ECCCorrected = %d, expected 1", decoded[0].ECCCorrected)
	}
	if !bytes.Equal(decoded[0].Data, data) {
		t.Error("corrected payload does not match the original")
	}
	if counts.EccUncorrectable != 0 {
		t.Error("corrected codeword counted as uncorrectable")
	}
}

// TestDecoderRejectsUnknown covers constructor validation.
func TestDecoderRejectsUnknown(t *testing.T) {
	if _, err := NewDecoder(encoding.Unknown, Options{}); err == nil {
		t.Error("unknown encoding accepted")
	}
	if _, err := NewDecoder(encoding.MFM, Options{ECCBytes: 5}); err == nil {
		t.Error("odd ECC size accepted")
	}
}

// TestCRC16KnownAnswer pins the CRC16-CCITT implementation to published
// check values.
func TestCRC16KnownAnswer(t *testing.T) {
	if got := crc16CCITT(0xFFFF, []byte("123456789")); got != 0x29B1 {
		t.Errorf("crc16(123456789) = %#04x, expected 0x29b1", got)
	}
	// The A1 A1 A1 sync run, as fed ahead of every MFM address mark.
	if got := crc16CCITT(0xFFFF, []byte{0xA1, 0xA1, 0xA1}); got != 0xCDB4 {
		t.Errorf("crc16(A1 A1 A1) = %#04x, expected 0xcdb4", got)
	}
}

// TestGCRTables verifies the translation tables invert cleanly and that
// the Commodore groups keep sync runs unique.
func TestGCRTables(t *testing.T) {
	for nibble, group := range cbmGCR {
		if cbmGCRInv[group] != int8(nibble) {
			t.Errorf("CBM GCR group %#02x does not invert to %#x", group, nibble)
		}
	}
	// No pair of adjacent groups may produce a ten-one sync run.
	for _, a := range cbmGCR {
		for _, b := range cbmGCR {
			pair := uint16(a)<<5 | uint16(b)
			run, best := 0, 0
			for i := 9; i >= 0; i-- {
				if pair&(1<<i) != 0 {
					run++
				} else {
					run = 0
				}
				if run > best {
					best = run
				}
			}
			if best >= cbmSyncRun {
				t.Errorf("groups %#02x %#02x form a %d-one run", a, b, best)
			}
		}
	}
	for v := 0; v < 64; v++ {
		if apple62Inv[apple62[v]] != int16(v) {
			t.Errorf("6&2 nibble for %#02x does not invert", v)
		}
	}
	for v := 0; v < 32; v++ {
		if apple53Inv[apple53[v]] != int16(v) {
			t.Errorf("5&3 nibble for %#02x does not invert", v)
		}
	}
	for v := 0; v < 256; v++ {
		odd, even := encode44(byte(v))
		if decode44(odd, even) != byte(v) {
			t.Errorf("4&4 round trip failed for %#02x", v)
		}
	}
}
