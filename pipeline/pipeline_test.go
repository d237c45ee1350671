package pipeline

import (
	"bytes"
	"context"
	"math/rand"
	"testing"

	"github.com/fluxrip/fluxrip/detect"
	"github.com/fluxrip/fluxrip/encoding"
	"github.com/fluxrip/fluxrip/flux"
	"github.com/fluxrip/fluxrip/sector"
)

const (
	testTickHz  = 72000000
	testRateKHz = 500
	// One bit cell at 500 kbps and 72 MHz.
	testCellTicks = testTickHz / (testRateKHz * 1000 * 2)
)

// Helper function: testPipeline builds a pipeline for the synthetic 500 kbps
// capture clock.
func testPipeline(t *testing.T, cfg Config) *Pipeline {
	t.Helper()
	if cfg.TickHz == 0 {
		cfg.TickHz = testTickHz
	}
	if cfg.BitRateKHz == 0 {
		cfg.BitRateKHz = testRateKHz
	}
	p, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

// Helper function: encodeTrack lays out one MFM revolution of bit cells.
func encodeTrack(t *testing.T, specs []sector.SectorSpec) []byte {
	t.Helper()
	return encodeTrackFor(t, encoding.MFM, specs)
}

// Helper function: encodeTrackFor lays out one revolution in the given
// encoding.
func encodeTrackFor(t *testing.T, kind encoding.Kind, specs []sector.SectorSpec) []byte {
	t.Helper()
	enc, err := sector.NewEncoder(kind, sector.Options{})
	if err != nil {
		t.Fatal(err)
	}
	cells, err := enc.EncodeTrack(specs)
	if err != nil {
		t.Fatal(err)
	}
	return cells
}

// Helper function: revolutionsFor converts track cells to flux samples split
// at index pulses.
func revolutionsFor(cells []byte, revs int) [][]flux.Sample {
	samples := flux.GenerateRevolutions(cells, len(cells)*8, testCellTicks, 0, revs)
	return flux.SplitRevolutions(samples)
}

// Helper function: findFirstDiff returns the first bit-cell position where
// two tracks differ.
func findFirstDiff(t *testing.T, a, b []byte) int {
	t.Helper()
	for i := 0; i < len(a)*8 && i < len(b)*8; i++ {
		mask := byte(1 << (7 - i%8))
		if a[i/8]&mask != b[i/8]&mask {
			return i
		}
	}
	t.Fatal("tracks are identical")
	return 0
}

// Helper function: flipCell toggles one bit cell of a track copy.
func flipCell(cells []byte, pos int) []byte {
	out := make([]byte, len(cells))
	copy(out, cells)
	out[pos/8] ^= 1 << (7 - pos%8)
	return out
}

// TestDecodeRevolution runs the full chain over a clean synthetic track and
// checks that every stage agrees with what was written.
func TestDecodeRevolution(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	data3 := make([]byte, 512)
	data4 := make([]byte, 512)
	rng.Read(data3)
	rng.Read(data4)

	cells := encodeTrack(t, []sector.SectorSpec{
		{Cylinder: 5, Head: 0, Sector: 3, SizeCode: 2, Data: data3},
		{Cylinder: 5, Head: 0, Sector: 4, SizeCode: 2, Data: data4},
	})
	revs := revolutionsFor(cells, 1)
	if len(revs) != 1 {
		t.Fatalf("got %d revolutions, expected 1", len(revs))
	}

	p := testPipeline(t, Config{})
	rev, err := p.DecodeRevolution(revs[0])
	if err != nil {
		t.Fatalf("DecodeRevolution: %v", err)
	}

	if rev.Kind != encoding.MFM {
		t.Errorf("Kind = %s, expected MFM", rev.Kind)
	}
	if !rev.Locked || rev.Unlocks != 0 {
		t.Errorf("Locked=%v Unlocks=%d on a clean track", rev.Locked, rev.Unlocks)
	}
	if rev.Bits == 0 || len(rev.Cells) == 0 {
		t.Fatal("no cells recovered")
	}
	if len(rev.Sectors) != 2 {
		t.Fatalf("decoded %d sectors, expected 2", len(rev.Sectors))
	}
	for i, want := range [][]byte{data3, data4} {
		s := rev.Sectors[i]
		if s.Cylinder != 5 || s.Head != 0 || s.Sector != uint8(3+i) || s.SizeCode != 2 {
			t.Errorf("sector %d header: %d/%d/%d size %d", i, s.Cylinder, s.Head, s.Sector, s.SizeCode)
		}
		if !s.CRCOK {
			t.Errorf("sector %d failed CRC", i)
		}
		if !bytes.Equal(s.Data, want) {
			t.Errorf("sector %d data mismatch", i)
		}
	}

	c := p.Counters()
	for _, kind := range []ErrorKind{CRCData, CRCAddr, MissingAM, MissingDAM, PLLUnlock} {
		if n := c.Count(kind); n != 0 {
			t.Errorf("%s = %d on a clean track", kind, n)
		}
	}
	if c.Rate() != 0 {
		t.Errorf("Rate() = %d, expected 0", c.Rate())
	}
	if rev.Quality.Degraded {
		t.Errorf("clean track scored degraded: %+v", rev.Quality)
	}
}

// TestDecodeRevolutionBitError corrupts a single data-field cell and checks
// it surfaces as exactly one data CRC error.
func TestDecodeRevolutionBitError(t *testing.T) {
	data := make([]byte, 512)
	data[0] = 0x80
	spec := sector.SectorSpec{Cylinder: 5, Head: 0, Sector: 3, SizeCode: 2, Data: data}
	cells := encodeTrack(t, []sector.SectorSpec{spec})

	alt := make([]byte, 512)
	copy(alt, data)
	alt[0] = 0x00
	altSpec := spec
	altSpec.Data = alt
	altCells := encodeTrack(t, []sector.SectorSpec{altSpec})

	// The first differing cell is the leading data bit of the data field;
	// clearing it removes one flux transition mid-payload.
	pos := findFirstDiff(t, cells, altCells)
	revs := revolutionsFor(flipCell(cells, pos), 1)

	p := testPipeline(t, Config{})
	rev, err := p.DecodeRevolution(revs[0])
	if err != nil {
		t.Fatalf("DecodeRevolution: %v", err)
	}
	if rev.Kind != encoding.MFM {
		t.Fatalf("Kind = %s", rev.Kind)
	}
	if got := p.Counters().Count(CRCData); got != 1 {
		t.Errorf("CRCData = %d, expected 1", got)
	}
	if got := p.Counters().Count(CRCAddr); got != 0 {
		t.Errorf("CRCAddr = %d, expected 0", got)
	}
	for _, s := range rev.Sectors {
		if s.CRCOK {
			t.Error("corrupted sector passed CRC")
		}
	}
}

// TestDecodeRevolutionUnknown feeds a legal flux stream with no address
// marks. The revolution reports promptly instead of hunting forever.
func TestDecodeRevolutionUnknown(t *testing.T) {
	cells := bytes.Repeat([]byte{0x55}, 256) // alternating cells, no sync pattern
	revs := revolutionsFor(cells, 1)

	p := testPipeline(t, Config{})
	rev, err := p.DecodeRevolution(revs[0])
	if err != nil {
		t.Fatalf("DecodeRevolution: %v", err)
	}
	if rev.Kind != encoding.Unknown {
		t.Errorf("Kind = %s, expected unknown", rev.Kind)
	}
	if len(rev.Sectors) != 0 {
		t.Errorf("got %d sectors from an unclassified stream", len(rev.Sectors))
	}
	if got := p.Counters().Count(MissingAM); got != 1 {
		t.Errorf("MissingAM = %d, expected 1", got)
	}
}

// TestDecodeRevolutionEmpty treats a transition-free revolution as a missing
// address mark, not an error.
func TestDecodeRevolutionEmpty(t *testing.T) {
	p := testPipeline(t, Config{})
	rev, err := p.DecodeRevolution(nil)
	if err != nil {
		t.Fatalf("DecodeRevolution(nil): %v", err)
	}
	if rev.Bits != 0 || len(rev.Sectors) != 0 {
		t.Errorf("empty revolution produced output: %+v", rev)
	}
	if got := p.Counters().Count(MissingAM); got != 1 {
		t.Errorf("MissingAM = %d, expected 1", got)
	}
}

// TestDecodeRevolutionHardSector surfaces sector-hole pulses from the flux
// stream in the drive profile.
func TestDecodeRevolutionHardSector(t *testing.T) {
	cells := encodeTrack(t, []sector.SectorSpec{
		{Cylinder: 1, Head: 0, Sector: 1, SizeCode: 1, Data: make([]byte, 256)},
	})
	revs := revolutionsFor(cells, 1)
	samples := revs[0]
	for i := range samples {
		if i > 0 && i%16 == 0 {
			samples[i].SectorHole = true
		}
	}

	p := testPipeline(t, Config{})
	if p.Profile().HardSectored {
		t.Fatal("hard-sectored before any capture")
	}
	rev, err := p.DecodeRevolution(samples)
	if err != nil {
		t.Fatalf("DecodeRevolution: %v", err)
	}
	if len(rev.Sectors) != 1 {
		t.Fatalf("decoded %d sectors, expected 1", len(rev.Sectors))
	}
	if !p.Profile().HardSectored {
		t.Error("sector-hole pulses not reflected in the profile")
	}
}

// TestDecodeRevolutionResync drops a confirmed encoding that yields no
// address marks and re-classifies the same revolution without it.
func TestDecodeRevolutionResync(t *testing.T) {
	fmCells := encodeTrackFor(t, encoding.FM, []sector.SectorSpec{
		{Cylinder: 3, Head: 0, Sector: 1, SizeCode: 1, Data: make([]byte, 256)},
		{Cylinder: 3, Head: 0, Sector: 2, SizeCode: 1, Data: make([]byte, 256)},
	})

	// A gap byte, three A1-style sync words and a trailing nibble: enough
	// consecutive detections to confirm the wrong encoding, with no
	// decodable sector behind them.
	prefix := []byte{0xFF, 0x44, 0x89, 0x44, 0x89, 0x44, 0x89, 0x11}
	cells := append(append([]byte{}, prefix...), fmCells...)
	revs := revolutionsFor(cells, 1)

	p := testPipeline(t, Config{ResyncThreshold: 1})
	rev, err := p.DecodeRevolution(revs[0])
	if err != nil {
		t.Fatalf("DecodeRevolution: %v", err)
	}
	if rev.Kind != encoding.FM {
		t.Fatalf("Kind = %s, expected FM after resync", rev.Kind)
	}
	if len(rev.Sectors) != 2 {
		t.Fatalf("decoded %d sectors after resync, expected 2", len(rev.Sectors))
	}
	for i, s := range rev.Sectors {
		if !s.CRCOK || s.Cylinder != 3 || s.Sector != uint8(1+i) {
			t.Errorf("sector %d after resync: %+v", i, s)
		}
	}
}

// TestDecodeRevolutionResyncThreshold keeps the confirmed encoding until
// the configured run of markless revolutions, then re-synchronizes.
func TestDecodeRevolutionResyncThreshold(t *testing.T) {
	fmCells := encodeTrackFor(t, encoding.FM, []sector.SectorSpec{
		{Cylinder: 3, Head: 0, Sector: 1, SizeCode: 1, Data: make([]byte, 256)},
		{Cylinder: 3, Head: 0, Sector: 2, SizeCode: 1, Data: make([]byte, 256)},
	})
	prefix := []byte{0xFF, 0x44, 0x89, 0x44, 0x89, 0x44, 0x89, 0x11}
	cells := append(append([]byte{}, prefix...), fmCells...)
	revs := revolutionsFor(cells, 1)

	p := testPipeline(t, Config{ResyncThreshold: 2})
	first, err := p.DecodeRevolution(revs[0])
	if err != nil {
		t.Fatalf("first DecodeRevolution: %v", err)
	}
	if first.Kind != encoding.MFM || len(first.Sectors) != 0 {
		t.Fatalf("first revolution: kind %s, %d sectors", first.Kind, len(first.Sectors))
	}

	second, err := p.DecodeRevolution(revs[0])
	if err != nil {
		t.Fatalf("second DecodeRevolution: %v", err)
	}
	if second.Kind != encoding.FM || len(second.Sectors) != 2 {
		t.Fatalf("second revolution: kind %s, %d sectors", second.Kind, len(second.Sectors))
	}
}

// TestCountersSaturation pins the saturating counter and rate arithmetic.
func TestCountersSaturation(t *testing.T) {
	var c Counters
	c.Add(CRCData, ^uint32(0)-1)
	c.Add(CRCData, 5)
	if got := c.Count(CRCData); got != ^uint32(0) {
		t.Errorf("Count = %d, expected saturation", got)
	}

	var r Counters
	if r.Rate() != 0 {
		t.Error("rate nonzero with no operations")
	}
	r.AddOps(1000)
	r.Add(CRCAddr, 7)
	if got := r.Rate(); got != 7 {
		t.Errorf("Rate() = %d, expected 7 per 1000", got)
	}
	r.Add(CRCAddr, 1000000)
	if got := r.Rate(); got != 255 {
		t.Errorf("Rate() = %d, expected cap 255", got)
	}

	snap := r.Snapshot()
	if snap[CRCData] != 0 || snap[CRCAddr] == 0 {
		t.Errorf("Snapshot = %v", snap)
	}
	r.Reset()
	if r.Rate() != 0 || r.Count(CRCAddr) != 0 {
		t.Error("Reset left counters behind")
	}
}

// TestChannelOverrun drops a revolution when the queue is full and surfaces
// the overrun instead of overwriting.
func TestChannelOverrun(t *testing.T) {
	p := testPipeline(t, Config{QueueDepth: 1})
	ch := NewChannel(p)

	cells := encodeTrack(t, []sector.SectorSpec{
		{Cylinder: 1, Head: 0, Sector: 1, SizeCode: 1, Data: make([]byte, 256)},
	})
	revs := revolutionsFor(cells, 1)

	if err := ch.Push(revs[0]); err != nil {
		t.Fatalf("first Push: %v", err)
	}
	if err := ch.Push(revs[0]); err != ErrOverrun {
		t.Fatalf("second Push = %v, expected ErrOverrun", err)
	}
	if got := p.Counters().Count(Overrun); got != 1 {
		t.Errorf("Overrun = %d, expected 1", got)
	}

	ch.Close()
	if err := ch.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	var got []Revolution
	for rev := range ch.Results() {
		got = append(got, rev)
	}
	if len(got) != 1 {
		t.Fatalf("drained %d revolutions, expected 1", len(got))
	}
	if len(got[0].Sectors) != 1 || !got[0].Sectors[0].CRCOK {
		t.Errorf("queued revolution decoded badly: %+v", got[0])
	}
}

// TestChannelFeed splits a raw sample stream into revolutions at index
// pulses and decodes each one.
func TestChannelFeed(t *testing.T) {
	p := testPipeline(t, Config{})
	ch := NewChannel(p)

	cells := encodeTrack(t, []sector.SectorSpec{
		{Cylinder: 2, Head: 1, Sector: 1, SizeCode: 1, Data: make([]byte, 256)},
	})
	samples := flux.GenerateRevolutions(cells, len(cells)*8, testCellTicks, 0, 2)
	if err := ch.Feed(samples); err != nil {
		t.Fatalf("Feed: %v", err)
	}

	ch.Close()
	if err := ch.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	var count int
	for rev := range ch.Results() {
		count++
		if len(rev.Sectors) != 1 || rev.Sectors[0].Cylinder != 2 || rev.Sectors[0].Head != 1 {
			t.Errorf("revolution %d: %+v", count, rev.Sectors)
		}
	}
	if count != 2 {
		t.Errorf("decoded %d revolutions, expected 2", count)
	}
}

// TestChannelUnderrun counts a capture stream that dries up before the
// revolution in flight completes.
func TestChannelUnderrun(t *testing.T) {
	p := testPipeline(t, Config{})
	ch := NewChannel(p)

	cells := encodeTrack(t, []sector.SectorSpec{
		{Cylinder: 4, Head: 0, Sector: 1, SizeCode: 1, Data: make([]byte, 256)},
	})
	samples := flux.GenerateRevolutions(cells, len(cells)*8, testCellTicks, 0, 2)

	// Drop the tail of the second revolution along with its closing index
	// pulse.
	if err := ch.Feed(samples[:len(samples)-len(samples)/4]); err != nil {
		t.Fatalf("Feed: %v", err)
	}
	ch.Close()
	if got := p.Counters().Count(Underrun); got != 1 {
		t.Errorf("Underrun = %d, expected 1", got)
	}

	if err := ch.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	var count int
	for rev := range ch.Results() {
		count++
		if len(rev.Sectors) != 1 {
			t.Errorf("revolution %d decoded %d sectors", count, len(rev.Sectors))
		}
	}
	if count != 1 {
		t.Errorf("decoded %d revolutions, expected only the complete one", count)
	}
}

// TestChannelRunCanceled returns the context error when canceled with an
// idle queue.
func TestChannelRunCanceled(t *testing.T) {
	p := testPipeline(t, Config{})
	ch := NewChannel(p)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := ch.Run(ctx); err != context.Canceled {
		t.Errorf("Run = %v, expected context.Canceled", err)
	}
}

// TestRecover reconstructs a sector no single pass can read. Every pass
// carries one dropped transition at a different payload position; the
// per-position vote recovers the written data.
func TestRecover(t *testing.T) {
	data := make([]byte, 512)
	for i := 0; i < 16; i++ {
		data[i] = 0xFF
	}
	spec := sector.SectorSpec{Cylinder: 7, Head: 1, Sector: 2, SizeCode: 2, Data: data}
	cells := encodeTrack(t, []sector.SectorSpec{spec})

	// Locate the data field: flip the last bit of the payload's first byte
	// and find where the layouts diverge.
	alt := make([]byte, 512)
	copy(alt, data)
	alt[0] = 0xFE
	altSpec := spec
	altSpec.Data = alt
	pos := findFirstDiff(t, cells, encodeTrack(t, []sector.SectorSpec{altSpec}))

	// A run of 0xFF payload bytes puts a transition every other cell, so
	// pos, pos-2, pos-4, ... are all ones that can be dropped safely.
	var passes [][]flux.Sample
	for i := 0; i < 8; i++ {
		damaged := flipCell(cells, pos-2*i)
		passes = append(passes, revolutionsFor(damaged, 1)[0])
	}

	// Each pass alone fails its data CRC.
	single := testPipeline(t, Config{})
	if _, err := single.DecodeRevolution(passes[0]); err != nil {
		t.Fatal(err)
	}
	if got := single.Counters().Count(CRCData); got != 1 {
		t.Fatalf("single damaged pass: CRCData = %d, expected 1", got)
	}

	p := testPipeline(t, Config{Passes: 8})
	res, err := p.Recover(context.Background(), passes, SectorID{Cylinder: 7, Head: 1, Sector: 2})
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if !res.Found || !res.Verified {
		t.Fatalf("recovery failed: %+v", res)
	}
	// Two damaged passes tie on their flipped positions; the third breaks
	// the tie and the composite verifies.
	if res.Passes != 3 {
		t.Errorf("Passes = %d, expected early convergence at 3", res.Passes)
	}
	if !res.Sector.CRCOK || !bytes.Equal(res.Sector.Data, data) {
		t.Error("recovered sector does not match what was written")
	}
	// Every pass drops exactly one transition from the same track, so the
	// capture bookkeeping sees identical flux counts.
	cs := res.Capture
	if cs.Passes != 3 || cs.MinFlux == 0 || cs.MinFlux != cs.MaxFlux {
		t.Errorf("capture summary: %+v", cs)
	}
	if cs.TotalFlux != 3*uint64(cs.MinFlux) {
		t.Errorf("TotalFlux = %d with MinFlux %d", cs.TotalFlux, cs.MinFlux)
	}
}

// TestRecoverUnclassifiable gives up cleanly when no pass carries an
// address mark.
func TestRecoverUnclassifiable(t *testing.T) {
	cells := bytes.Repeat([]byte{0x55}, 64)
	passes := revolutionsFor(cells, 1)

	p := testPipeline(t, Config{})
	res, err := p.Recover(context.Background(), passes, SectorID{})
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if res.Found || res.Verified {
		t.Errorf("recovery claimed success: %+v", res)
	}
	if got := p.Counters().Count(MissingAM); got != 1 {
		t.Errorf("MissingAM = %d, expected 1", got)
	}
}

// TestObserveHeadPosition routes decoded headers to the track-density
// tracker.
func TestObserveHeadPosition(t *testing.T) {
	p := testPipeline(t, Config{})
	for cyl := 0; cyl < 8; cyl++ {
		p.ObserveHeadPosition(cyl, sector.DecodedSector{Cylinder: uint8(cyl)})
	}
	if got := p.Profile().TrackDensity; got != detect.Tracks80 {
		t.Errorf("TrackDensity = %s, expected 80-track", got)
	}
	if p.Detector().DoubleStep() {
		t.Error("matching headers recommended double-step")
	}
}
