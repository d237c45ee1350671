// Package rs implements a systematic Reed-Solomon codec for the
// ECC-protected sector data path. The code works over GF(2^16) so that a
// full 512-byte payload fits in one codeword: bytes pair big-endian into
// 16-bit symbols, and the 4/6/10 parity-byte variants become 2/3/5 parity
// symbols with correction capability t = (N-K)/2 symbols.
package rs

import (
	"errors"
	"fmt"
)

// ErrUncorrectable reports more symbol errors than the code can correct.
// The payload must not be trusted.
var ErrUncorrectable = errors.New("rs: uncorrectable codeword")

/*============================================================================
 * GF(2^16) arithmetic
 *============================================================================*/

// fieldPoly is the primitive reduction polynomial x^16+x^12+x^3+x+1.
const (
	fieldPoly  = 0x1100B
	fieldOrder = 1 << 16
	groupOrder = fieldOrder - 1
)

var (
	expTable [2 * groupOrder]uint16
	logTable [fieldOrder]int32
)

func init() {
	x := 1
	for i := 0; i < groupOrder; i++ {
		expTable[i] = uint16(x)
		logTable[x] = int32(i)
		x <<= 1
		if x&fieldOrder != 0 {
			x ^= fieldPoly
		}
	}
	for i := groupOrder; i < len(expTable); i++ {
		expTable[i] = expTable[i-groupOrder]
	}
}

func gfMul(a, b uint16) uint16 {
	if a == 0 || b == 0 {
		return 0
	}
	return expTable[logTable[a]+logTable[b]]
}

func gfDiv(a, b uint16) uint16 {
	if a == 0 {
		return 0
	}
	return expTable[logTable[a]-logTable[b]+groupOrder]
}

func gfInv(a uint16) uint16 {
	return expTable[groupOrder-logTable[a]]
}

// alpha returns the generator element raised to the i-th power.
func alpha(i int) uint16 {
	return expTable[i%groupOrder]
}

// polyEval evaluates a polynomial in ascending-coefficient form at x.
func polyEval(p []uint16, x uint16) uint16 {
	var y uint16
	for i := len(p) - 1; i >= 0; i-- {
		y = gfMul(y, x) ^ p[i]
	}
	return y
}

// polyEvalDeriv evaluates the formal derivative of p at x. In
// characteristic two only the odd-degree terms survive.
func polyEvalDeriv(p []uint16, x uint16) uint16 {
	x2 := gfMul(x, x)
	var y uint16
	for i := 1; i < len(p); i += 2 {
		term := p[i]
		for j := 0; j < (i-1)/2; j++ {
			term = gfMul(term, x2)
		}
		y ^= term
	}
	return y
}

/*============================================================================
 * Codec
 *============================================================================*/

// Codec is one (N,K) configuration. Lengths are in bytes; both must be
// even so the payload packs into whole symbols.
type Codec struct {
	nBytes, kBytes int
	n, k           int // symbol counts
	gen            []uint16
	genLFSR        []uint16 // descending, leading coefficient stripped
}

// NewCodec creates a systematic codec with nBytes total and kBytes payload.
func NewCodec(nBytes, kBytes int) (*Codec, error) {
	if kBytes <= 0 || nBytes <= kBytes {
		return nil, fmt.Errorf("rs: invalid lengths N=%d K=%d", nBytes, kBytes)
	}
	if nBytes%2 != 0 || kBytes%2 != 0 {
		return nil, fmt.Errorf("rs: lengths must be even, got N=%d K=%d", nBytes, kBytes)
	}
	n := nBytes / 2
	k := kBytes / 2
	if n > groupOrder {
		return nil, fmt.Errorf("rs: codeword of %d symbols exceeds field capacity", n)
	}
	parity := n - k

	// Generator polynomial: product of (x - alpha^i) for i in [0, parity).
	gen := make([]uint16, 1, parity+1)
	gen[0] = 1
	for i := 0; i < parity; i++ {
		next := make([]uint16, len(gen)+1)
		for d, c := range gen {
			next[d+1] ^= c
			next[d] ^= gfMul(c, alpha(i))
		}
		gen = next
	}
	genLFSR := make([]uint16, parity)
	for j := 0; j < parity; j++ {
		genLFSR[j] = gen[parity-1-j]
	}

	return &Codec{
		nBytes: nBytes, kBytes: kBytes,
		n: n, k: k,
		gen: gen, genLFSR: genLFSR,
	}, nil
}

// N returns the codeword length in bytes.
func (c *Codec) N() int { return c.nBytes }

// K returns the payload length in bytes.
func (c *Codec) K() int { return c.kBytes }

// T returns the correction capability in symbols.
func (c *Codec) T() int { return (c.n - c.k) / 2 }

func packSymbols(data []byte) []uint16 {
	syms := make([]uint16, len(data)/2)
	for i := range syms {
		syms[i] = uint16(data[2*i])<<8 | uint16(data[2*i+1])
	}
	return syms
}

func unpackSymbols(syms []uint16, out []byte) {
	for i, s := range syms {
		out[2*i] = byte(s >> 8)
		out[2*i+1] = byte(s)
	}
}

// Encode appends parity to a payload and returns the full codeword,
// payload first.
func (c *Codec) Encode(data []byte) ([]byte, error) {
	if len(data) != c.kBytes {
		return nil, fmt.Errorf("rs: payload is %d bytes, want %d", len(data), c.kBytes)
	}
	msg := packSymbols(data)
	parity := make([]uint16, c.n-c.k)

	// Polynomial long division by the generator, LFSR form.
	for _, s := range msg {
		factor := s ^ parity[0]
		copy(parity, parity[1:])
		parity[len(parity)-1] = 0
		if factor != 0 {
			for j := range parity {
				parity[j] ^= gfMul(c.genLFSR[j], factor)
			}
		}
	}

	out := make([]byte, c.nBytes)
	copy(out, data)
	unpackSymbols(parity, out[c.kBytes:])
	return out, nil
}

// Decode corrects a codeword in place and returns the number of symbol
// errors repaired. It returns ErrUncorrectable when the error count
// exceeds the code's capability; the codeword is left unmodified then.
func (c *Codec) Decode(codeword []byte) (int, error) {
	if len(codeword) != c.nBytes {
		return 0, fmt.Errorf("rs: codeword is %d bytes, want %d", len(codeword), c.nBytes)
	}
	syms := packSymbols(codeword)
	parity := c.n - c.k

	synd := make([]uint16, parity)
	clean := true
	for i := range synd {
		var s uint16
		a := alpha(i)
		for _, v := range syms {
			s = gfMul(s, a) ^ v
		}
		synd[i] = s
		if s != 0 {
			clean = false
		}
	}
	if clean {
		return 0, nil
	}

	sigma, ok := berlekampMassey(synd)
	if !ok {
		return 0, ErrUncorrectable
	}
	numErrors := len(sigma) - 1
	if numErrors > c.T() {
		return 0, ErrUncorrectable
	}

	// Chien search over the shortened codeword's positions.
	var errIdx []int
	var errLoc []uint16 // X_l for each error
	for j := 0; j < c.n; j++ {
		p := c.n - 1 - j
		xinv := expTable[(groupOrder-p%groupOrder)%groupOrder]
		if polyEval(sigma, xinv) == 0 {
			errIdx = append(errIdx, j)
			errLoc = append(errLoc, alpha(p))
		}
	}
	if len(errIdx) != numErrors {
		return 0, ErrUncorrectable
	}

	// Error evaluator: omega(x) = S(x) sigma(x) mod x^parity.
	omega := make([]uint16, parity)
	for i := 0; i < parity; i++ {
		for j := 0; j < len(sigma) && j <= i; j++ {
			omega[i] ^= gfMul(sigma[j], synd[i-j])
		}
	}

	// Forney algorithm for the error values.
	for l, j := range errIdx {
		xinv := gfInv(errLoc[l])
		den := polyEvalDeriv(sigma, xinv)
		if den == 0 {
			return 0, ErrUncorrectable
		}
		num := gfMul(errLoc[l], polyEval(omega, xinv))
		syms[j] ^= gfDiv(num, den)
	}

	// Recompute syndromes to reject miscorrections.
	for i := 0; i < parity; i++ {
		var s uint16
		a := alpha(i)
		for _, v := range syms {
			s = gfMul(s, a) ^ v
		}
		if s != 0 {
			return 0, ErrUncorrectable
		}
	}

	unpackSymbols(syms, codeword)
	return numErrors, nil
}

// berlekampMassey finds the minimal error locator polynomial for the given
// syndromes, ascending coefficients with sigma[0] = 1. It reports failure
// when the locator degree is inconsistent with the syndrome count.
func berlekampMassey(synd []uint16) ([]uint16, bool) {
	sigma := []uint16{1}
	prev := []uint16{1}
	l := 0
	m := 1
	b := uint16(1)

	for i := 0; i < len(synd); i++ {
		d := synd[i]
		for j := 1; j <= l && j < len(sigma); j++ {
			d ^= gfMul(sigma[j], synd[i-j])
		}
		if d == 0 {
			m++
			continue
		}

		coef := gfDiv(d, b)
		need := m + len(prev)
		next := make([]uint16, max(len(sigma), need))
		copy(next, sigma)
		for j, p := range prev {
			next[m+j] ^= gfMul(coef, p)
		}

		if 2*l <= i {
			prev = sigma
			l = i + 1 - l
			b = d
			m = 1
		} else {
			m++
		}
		sigma = next
	}

	deg := len(sigma) - 1
	for deg > 0 && sigma[deg] == 0 {
		deg--
	}
	sigma = sigma[:deg+1]
	if 2*deg > len(synd) {
		return nil, false
	}
	return sigma, true
}
