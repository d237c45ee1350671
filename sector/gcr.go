package sector

// GCR translation tables.

// cbmGCR maps a nibble to its Commodore 5-bit group. No concatenation of
// groups produces more than eight consecutive ones, so a run of ten only
// occurs in sync marks.
var cbmGCR = [16]byte{
	0x0A, 0x0B, 0x12, 0x13, 0x0E, 0x0F, 0x16, 0x17,
	0x09, 0x19, 0x1A, 0x1B, 0x0D, 0x1D, 0x1E, 0x15,
}

// cbmGCRInv maps a 5-bit group back to its nibble, -1 for invalid groups.
var cbmGCRInv = func() [32]int8 {
	var inv [32]int8
	for i := range inv {
		inv[i] = -1
	}
	for nibble, group := range cbmGCR {
		inv[group] = int8(nibble)
	}
	return inv
}()

// apple62 maps a 6-bit value to its disk nibble (6&2 encoding).
var apple62 = [64]byte{
	0x96, 0x97, 0x9A, 0x9B, 0x9D, 0x9E, 0x9F, 0xA6,
	0xA7, 0xAB, 0xAC, 0xAD, 0xAE, 0xAF, 0xB2, 0xB3,
	0xB4, 0xB5, 0xB6, 0xB7, 0xB9, 0xBA, 0xBB, 0xBC,
	0xBD, 0xBE, 0xBF, 0xCB, 0xCD, 0xCE, 0xCF, 0xD3,
	0xD6, 0xD7, 0xD9, 0xDA, 0xDB, 0xDC, 0xDD, 0xDE,
	0xDF, 0xE5, 0xE6, 0xE7, 0xE9, 0xEA, 0xEB, 0xEC,
	0xED, 0xEE, 0xEF, 0xF2, 0xF3, 0xF4, 0xF5, 0xF6,
	0xF7, 0xF9, 0xFA, 0xFB, 0xFC, 0xFD, 0xFE, 0xFF,
}

// apple62Inv maps a disk nibble back to its 6-bit value, -1 for invalid.
var apple62Inv = func() [256]int16 {
	var inv [256]int16
	for i := range inv {
		inv[i] = -1
	}
	for v, nibble := range apple62 {
		inv[nibble] = int16(v)
	}
	return inv
}()

// apple53 maps a 5-bit value to its disk nibble (5&3 encoding, 13-sector).
var apple53 = [32]byte{
	0xAB, 0xAD, 0xAE, 0xAF, 0xB5, 0xB6, 0xB7, 0xBA,
	0xBB, 0xBD, 0xBE, 0xBF, 0xD6, 0xD7, 0xDA, 0xDB,
	0xDD, 0xDE, 0xDF, 0xEA, 0xEB, 0xED, 0xEE, 0xEF,
	0xF5, 0xF6, 0xF7, 0xFA, 0xFB, 0xFD, 0xFE, 0xFF,
}

// apple53Inv maps a disk nibble back to its 5-bit value, -1 for invalid.
var apple53Inv = func() [256]int16 {
	var inv [256]int16
	for i := range inv {
		inv[i] = -1
	}
	for v, nibble := range apple53 {
		inv[nibble] = int16(v)
	}
	return inv
}()

// odd-even (4&4) encoding: the value's odd bits in the first nibble byte,
// even bits in the second, unused positions forced to one.

func encode44(v byte) (byte, byte) {
	return (v >> 1) | 0xAA, v | 0xAA
}

func decode44(odd, even byte) byte {
	return (odd<<1 | 1) & even
}

// rev2 swaps the two bits of a 2-bit value (6&2 auxiliary buffer layout).
func rev2(v byte) byte {
	return (v&1)<<1 | (v>>1)&1
}
