// Package checksum computes CRC-32C and CRC-64/Jones checksums and combines
// two checksums into the checksum of the concatenated data without reading
// the data again.
//
// Both widths use the reflected table-driven algorithm with the register
// inverted before and after the update, so that Compute(nil, seed) == seed
// and a running checksum can be extended by passing it back in as the seed:
//
//	crc := checksum.Compute32(a, 0)
//	crc = checksum.Compute32(b, crc) // == Compute32(a||b, 0)
//
// Combine32 and Combine64 take the seeds, results and lengths of two ranges
// X and Y and return what Compute would have returned over X||Y for an
// arbitrary seed. The caller must pass values that really belong together;
// inconsistent inputs yield a meaningless checksum and are not detected.
//
// The tables are built once at package init and are read-only afterwards.
package checksum

import (
	"hash/crc32"
	"hash/crc64"
)

const (
	// Castagnoli is the reflected CRC-32C polynomial.
	Castagnoli uint32 = 0x82F63B78

	// Jones is the reflected CRC-64/Jones polynomial.
	Jones uint64 = 0x9A6C9329AC4BC9B5
)

var (
	table32 = crc32.MakeTable(crc32.Castagnoli)
	table64 = crc64.MakeTable(Jones)

	engine32 = newEngine(Castagnoli)
	engine64 = newEngine(Jones)
)

// Compute32 returns the CRC-32C of buf continuing from seed.
func Compute32(buf []byte, seed uint32) uint32 {
	return crc32.Update(seed, table32, buf)
}

// Compute64 returns the CRC-64/Jones of buf continuing from seed.
func Compute64(buf []byte, seed uint64) uint64 {
	return crc64.Update(seed, table64, buf)
}

// Combine32 returns Compute32(X||Y, xyInit) given
//
//	xFinal = Compute32(X, xInit), len(X) == xSize
//	yFinal = Compute32(Y, yInit), len(Y) == ySize
func Combine32(xyInit, xInit, xFinal uint32, xSize uint64, yInit, yFinal uint32, ySize uint64) uint32 {
	return engine32.combine(xyInit, xInit, xFinal, xSize, yInit, yFinal, ySize)
}

// Combine64 is Combine32 for CRC-64/Jones.
func Combine64(xyInit, xInit, xFinal uint64, xSize uint64, yInit, yFinal uint64, ySize uint64) uint64 {
	return engine64.combine(xyInit, xInit, xFinal, xSize, yInit, yFinal, ySize)
}

// Append32 extends crc, the Compute32 result over some prefix, by a range
// whose checksum from seed 0 is yFinal and whose length is ySize.
func Append32(crc, yFinal uint32, ySize uint64) uint32 {
	return engine32.combine(0, 0, crc, 0, 0, yFinal, ySize)
}
