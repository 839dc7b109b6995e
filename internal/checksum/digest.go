package checksum

import "hash"

// Size32 and Size64 are the checksum sizes in bytes.
const (
	Size32 = 4
	Size64 = 8
)

// Digest32 is a streaming CRC-32C with a configurable seed. Sum32 after
// writing buf equals Compute32(buf, seed).
type Digest32 struct {
	seed uint32
	crc  uint32
	n    uint64
}

var _ hash.Hash32 = (*Digest32)(nil)

// NewDigest32 returns a digest starting at seed.
func NewDigest32(seed uint32) *Digest32 {
	return &Digest32{seed: seed, crc: seed}
}

func (d *Digest32) Write(p []byte) (int, error) {
	d.crc = Compute32(p, d.crc)
	d.n += uint64(len(p))
	return len(p), nil
}

// Sum32 returns the checksum of everything written so far.
func (d *Digest32) Sum32() uint32 { return d.crc }

// Len returns the number of bytes written since the last Reset.
func (d *Digest32) Len() uint64 { return d.n }

func (d *Digest32) Sum(in []byte) []byte {
	s := d.crc
	return append(in, byte(s>>24), byte(s>>16), byte(s>>8), byte(s))
}

func (d *Digest32) Reset() {
	d.crc = d.seed
	d.n = 0
}

func (d *Digest32) Size() int { return Size32 }

func (d *Digest32) BlockSize() int { return 1 }

// Merge appends another digest's data as if it had been written to d.
// The other digest may have used any seed.
func (d *Digest32) Merge(o *Digest32) {
	d.crc = Combine32(d.seed, d.seed, d.crc, d.n, o.seed, o.crc, o.n)
	d.n += o.n
}
