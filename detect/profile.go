// Package detect implements three-layer drive auto-detection: signal-level
// measurements (RPM, status lines, head-load), behavioral measurements that
// require reading data (track density, data rate), and an inference layer
// that combines both into a confidence-qualified drive profile.
package detect

import "github.com/fluxrip/fluxrip/encoding"

// FormFactor is the physical drive size.
type FormFactor uint8

const (
	FormUnknown FormFactor = iota
	Form35                 // 3.5"
	Form525                // 5.25"
	Form8                  // 8"
)

var formNames = [...]string{"unknown", "3.5\"", "5.25\"", "8\""}

func (f FormFactor) String() string {
	if int(f) < len(formNames) {
		return formNames[f]
	}
	return "invalid"
}

// Density is the media density capability.
type Density uint8

const (
	DensityDD Density = iota
	DensityHD
	DensityED
	DensityUnknown
)

var densityNames = [...]string{"DD", "HD", "ED", "unknown"}

func (d Density) String() string {
	if int(d) < len(densityNames) {
		return densityNames[d]
	}
	return "invalid"
}

// TrackDensity is the cylinder count class of the mechanism/media pairing.
type TrackDensity uint8

const (
	Tracks40 TrackDensity = iota
	Tracks80
	Tracks77
	TracksUnknown
)

var trackNames = [...]string{"40-track", "80-track", "77-track", "unknown"}

func (t TrackDensity) String() string {
	if int(t) < len(trackNames) {
		return trackNames[t]
	}
	return "invalid"
}

// Profile is the host-facing drive profile. Pack produces the bit-exact
// 32-bit register image; Valid and Locked travel in a separate status word
// and must be checked before trusting the packed fields.
type Profile struct {
	FormFactor    FormFactor
	Density       Density
	TrackDensity  TrackDensity
	Encoding      encoding.Kind
	HardSectored  bool
	VariableSpeed bool
	HeadLoad      bool
	RPM           uint16
	Quality       uint8

	Valid      bool
	Locked     bool
	Confidence uint8 // percent, from the inference rule that produced FormFactor
}

// Packed profile word layout.
const (
	profileFFShift      = 0
	profileDensShift    = 2
	profileTracksShift  = 4
	profileEncShift     = 6
	profileHardSector   = 1 << 9
	profileVariable     = 1 << 10
	profileHeadLoad     = 1 << 11
	profileRPMShift     = 16
	profileQualityShift = 24
)

// Status word bits, exposed alongside the packed profile. Consumers check
// Valid before reading any packed field and Locked before treating the
// profile as final.
const (
	StatusLocked = uint32(1) << 14
	StatusValid  = uint32(1) << 15
)

// Pack returns the 32-bit register image of the profile fields.
func (p Profile) Pack() uint32 {
	w := uint32(p.FormFactor&3) << profileFFShift
	w |= uint32(p.Density&3) << profileDensShift
	w |= uint32(p.TrackDensity&3) << profileTracksShift
	w |= uint32(p.Encoding.ProfileCode()&7) << profileEncShift
	if p.HardSectored {
		w |= profileHardSector
	}
	if p.VariableSpeed {
		w |= profileVariable
	}
	if p.HeadLoad {
		w |= profileHeadLoad
	}
	w |= (uint32(p.RPM/10) & 0xFF) << profileRPMShift
	w |= uint32(p.Quality) << profileQualityShift
	return w
}

// Status returns the status word carrying the Valid and Locked bits.
func (p Profile) Status() uint32 {
	var s uint32
	if p.Valid {
		s |= StatusValid
	}
	if p.Locked {
		s |= StatusLocked
	}
	return s
}

// UnpackProfile rebuilds profile fields from a register image and its
// status word.
func UnpackProfile(w, status uint32) Profile {
	return Profile{
		FormFactor:    FormFactor(w >> profileFFShift & 3),
		Density:       Density(w >> profileDensShift & 3),
		TrackDensity:  TrackDensity(w >> profileTracksShift & 3),
		Encoding:      encoding.KindFromProfileCode(uint8(w >> profileEncShift & 7)),
		HardSectored:  w&profileHardSector != 0,
		VariableSpeed: w&profileVariable != 0,
		HeadLoad:      w&profileHeadLoad != 0,
		RPM:           uint16(w>>profileRPMShift&0xFF) * 10,
		Quality:       uint8(w >> profileQualityShift),
		Valid:         status&StatusValid != 0,
		Locked:        status&StatusLocked != 0,
	}
}
