package checksum

import "math/bits"

type word interface {
	~uint32 | ~uint64
}

// engine does GF(2) polynomial arithmetic modulo a reflected CRC polynomial.
// In the reflected representation the top bit is x^0 and bit 0 is x^(w-1).
type engine[T word] struct {
	poly  T
	one   T     // x^0
	power [67]T // power[k] = x^(2^k) mod P, enough for x^(8n) with 64-bit n
}

func newEngine[T word](poly T) *engine[T] {
	e := &engine[T]{poly: poly}
	e.one = T(1) << (width[T]() - 1)

	p := e.one >> 1 // x^1
	e.power[0] = p
	for k := 1; k < len(e.power); k++ {
		p = e.mul(p, p)
		e.power[k] = p
	}
	return e
}

func width[T word]() uint {
	var zero T
	if uint64(^zero) == uint64(^uint32(0)) {
		return 32
	}
	return 64
}

// mul returns a*b mod P.
func (e *engine[T]) mul(a, b T) T {
	var p T
	m := e.one
	for a != 0 {
		if a&m != 0 {
			p ^= b
			a ^= m
		}
		m >>= 1
		if b&1 != 0 {
			b = b>>1 ^ e.poly
		} else {
			b >>= 1
		}
	}
	return p
}

// xpow8 returns x^(8n) mod P.
func (e *engine[T]) xpow8(n uint64) T {
	p := e.one
	k := 3
	for n != 0 {
		if n&1 != 0 {
			p = e.mul(e.power[k], p)
		}
		n >>= 1
		k++
	}
	return p
}

// shift advances crc over n zero bytes with no pre- or post-inversion.
func (e *engine[T]) shift(crc T, n uint64) T {
	if crc == 0 || n == 0 {
		return crc
	}
	return e.mul(e.xpow8(n), crc)
}

func (e *engine[T]) combine(xyInit, xInit, xFinal T, xSize uint64, yInit, yFinal T, ySize uint64) T {
	total, carry := bits.Add64(xSize, ySize, 0)
	crc := yFinal ^ e.shift(xFinal^yInit, ySize)
	if carry == 0 {
		return crc ^ e.shift(xyInit^xInit, total)
	}
	// |X|+|Y| overflowed 64 bits: shift in two steps.
	return crc ^ e.shift(e.shift(xyInit^xInit, xSize), ySize)
}
