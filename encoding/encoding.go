// Package encoding identifies the self-clocking bit encoding used on a
// track by matching per-encoding sync signatures against the raw bit-cell
// stream recovered by the PLL.
package encoding

// Kind enumerates the supported encodings. At most one kind is active per
// logical channel at any time.
type Kind uint8

const (
	Unknown Kind = iota
	FM
	MFM
	GCRApple  // Apple II / Mac 6&2 GCR
	GCRCBM    // Commodore 1541-style GCR
	M2FM      // Intel MDS modified MFM
	TandyFM   // TRS-80 FM with nonstandard data marks
	GCRApple5 // Apple II 13-sector 5&3 GCR
	Agat      // Agat 840K MFM variant
)

var kindNames = map[Kind]string{
	Unknown:   "unknown",
	FM:        "FM",
	MFM:       "MFM",
	GCRApple:  "GCR-Apple",
	GCRCBM:    "GCR-CBM",
	M2FM:      "M2FM",
	TandyFM:   "Tandy-FM",
	GCRApple5: "GCR-Apple-5&3",
	Agat:      "Agat",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "invalid"
}

// ProfileCode returns the 3-bit encoding code used in the packed drive
// profile. GCRApple5 shares the GCRApple code: the packed field has room
// for eight values and the 5&3 layout is a density variant of the same
// recording scheme.
func (k Kind) ProfileCode() uint8 {
	switch k {
	case FM:
		return 1
	case MFM:
		return 2
	case GCRApple, GCRApple5:
		return 3
	case GCRCBM:
		return 4
	case M2FM:
		return 5
	case TandyFM:
		return 6
	case Agat:
		return 7
	default:
		return 0
	}
}

// KindFromProfileCode is the inverse of ProfileCode.
func KindFromProfileCode(code uint8) Kind {
	switch code {
	case 1:
		return FM
	case 2:
		return MFM
	case 3:
		return GCRApple
	case 4:
		return GCRCBM
	case 5:
		return M2FM
	case 6:
		return TandyFM
	case 7:
		return Agat
	default:
		return Unknown
	}
}
