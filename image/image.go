// Package image assembles decoded sectors into a flat IMG-style disk
// image: a raw, sector-by-sector binary copy in cylinder, head, sector
// order. Unread sectors are zero-filled and counted.
package image

import (
	"fmt"
	"os"

	"github.com/fluxrip/fluxrip/sector"
)

// key addresses one sector slot.
type key struct {
	cyl, head, sec int
}

// Builder collects decoded sectors and lays them out on demand. Geometry
// is inferred from what was actually decoded.
type Builder struct {
	slots      map[key][]byte
	sectorSize int

	maxCyl, maxHead int
	minSec, maxSec  int
}

// NewBuilder creates an empty image builder.
func NewBuilder() *Builder {
	return &Builder{
		slots:  make(map[key][]byte),
		minSec: -1,
	}
}

// Add places one decoded sector. Sectors that failed their integrity check
// are rejected so a bad read cannot overwrite a good one; re-adding the
// same location replaces the previous data.
func (b *Builder) Add(s sector.DecodedSector) error {
	if !s.CRCOK {
		return fmt.Errorf("sector C%d H%d S%d failed its integrity check",
			s.Cylinder, s.Head, s.Sector)
	}
	if b.sectorSize == 0 {
		b.sectorSize = len(s.Data)
	} else if len(s.Data) != b.sectorSize {
		return fmt.Errorf("sector C%d H%d S%d is %d bytes, image uses %d",
			s.Cylinder, s.Head, s.Sector, len(s.Data), b.sectorSize)
	}

	c, h, n := int(s.Cylinder), int(s.Head), int(s.Sector)
	b.slots[key{c, h, n}] = s.Data
	if c > b.maxCyl {
		b.maxCyl = c
	}
	if h > b.maxHead {
		b.maxHead = h
	}
	if b.minSec < 0 || n < b.minSec {
		b.minSec = n
	}
	if n > b.maxSec {
		b.maxSec = n
	}
	return nil
}

// Count returns the number of sectors collected.
func (b *Builder) Count() int {
	return len(b.slots)
}

// Layout returns the inferred geometry: cylinders, heads, sectors per
// track and the first sector number (1 for IBM formats, 0 for most GCR).
func (b *Builder) Layout() (cyls, heads, spt, first int) {
	if len(b.slots) == 0 {
		return 0, 0, 0, 0
	}
	return b.maxCyl + 1, b.maxHead + 1, b.maxSec - b.minSec + 1, b.minSec
}

// Bytes lays the image out in cylinder, head, sector order. Missing slots
// stay zero-filled; their count is returned alongside.
func (b *Builder) Bytes() ([]byte, int) {
	cyls, heads, spt, first := b.Layout()
	if cyls == 0 {
		return nil, 0
	}

	out := make([]byte, cyls*heads*spt*b.sectorSize)
	missing := 0
	i := 0
	for c := 0; c < cyls; c++ {
		for h := 0; h < heads; h++ {
			for s := 0; s < spt; s++ {
				data, ok := b.slots[key{c, h, s + first}]
				if ok {
					copy(out[i:], data)
				} else {
					missing++
				}
				i += b.sectorSize
			}
		}
	}
	return out, missing
}

// Write stores the assembled image in a file and returns the number of
// zero-filled sectors.
func (b *Builder) Write(filename string) (int, error) {
	data, missing := b.Bytes()
	if data == nil {
		return 0, fmt.Errorf("no sectors to write")
	}
	if err := os.WriteFile(filename, data, 0644); err != nil {
		return missing, err
	}
	return missing, nil
}
