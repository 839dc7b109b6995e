package journal

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/xtxerr/perfkit/config"
	"github.com/xtxerr/perfkit/internal/checksum"
	"github.com/xtxerr/perfkit/internal/errors"
	"github.com/xtxerr/perfkit/internal/snapshot"
)

// ReaderStats holds journal reader statistics.
type ReaderStats struct {
	RecordsRead int64
	BytesRead   int64
}

// Reader reads and verifies the batches of one segment.
type Reader struct {
	path string
	file *os.File
	r    *bufio.Reader

	running Trailer
	trailer *Trailer
	done    bool
	stats   ReaderStats
}

// NewReader opens a segment and checks its header.
func NewReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open segment: %w", err)
	}

	r := &Reader{
		path: path,
		file: f,
		r:    bufio.NewReader(f),
	}

	var header [headerSize]byte
	if _, err := io.ReadFull(r.r, header[:]); err != nil {
		f.Close()
		return nil, fmt.Errorf("read header of %s: %w", path, truncated(err))
	}

	if magic := binary.LittleEndian.Uint64(header[0:8]); magic != segmentMagic {
		f.Close()
		return nil, fmt.Errorf("%s: invalid magic %x: %w", path, magic, errors.ErrCorruptRecord)
	}
	if version := binary.LittleEndian.Uint32(header[8:12]); version != segmentVersion {
		f.Close()
		return nil, fmt.Errorf("%s: unsupported version %d: %w", path, version, errors.ErrCorruptRecord)
	}
	r.stats.BytesRead = headerSize
	return r, nil
}

// Next returns the next batch. It returns io.EOF after the trailer, or at
// the end of a segment that has none. Damage is reported as
// ErrChecksumMismatch, ErrCorruptRecord or ErrTruncated.
func (r *Reader) Next() (*snapshot.Batch, error) {
	if r.done {
		return nil, io.EOF
	}

	var header [recordHeaderSize]byte
	n, err := io.ReadFull(r.r, header[:])
	if err == io.EOF {
		r.done = true
		return nil, io.EOF
	}
	if err != nil {
		return nil, r.errorf("record header after %d bytes: %w", n, truncated(err))
	}

	if binary.LittleEndian.Uint64(header[:]) == trailerMagic {
		return nil, r.readTrailer()
	}

	length := binary.LittleEndian.Uint32(header[0:4])
	expectedCRC := binary.LittleEndian.Uint32(header[4:8])
	if uint64(length) > config.DefaultJournalMaxRecordSize {
		return nil, r.errorf("record %d: length %d exceeds limit: %w",
			r.stats.RecordsRead, length, errors.ErrCorruptRecord)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r.r, payload); err != nil {
		return nil, r.errorf("record %d payload: %w", r.stats.RecordsRead, truncated(err))
	}

	actualCRC := checksum.Compute32(payload, 0)
	if actualCRC != expectedCRC {
		return nil, r.errorf("record %d: crc 0x%08x, header says 0x%08x: %w",
			r.stats.RecordsRead, actualCRC, expectedCRC, errors.ErrChecksumMismatch)
	}

	batch, err := snapshot.Unmarshal(payload)
	if err != nil {
		return nil, r.errorf("record %d: %w", r.stats.RecordsRead, err)
	}

	r.running.CRC = checksum.Append32(r.running.CRC, actualCRC, uint64(length))
	r.running.PayloadBytes += uint64(length)
	r.running.Records++
	r.stats.RecordsRead++
	r.stats.BytesRead += int64(recordHeaderSize) + int64(length)
	return batch, nil
}

func (r *Reader) readTrailer() error {
	var rest [trailerSize - 8]byte
	if _, err := io.ReadFull(r.r, rest[:]); err != nil {
		return r.errorf("trailer: %w", truncated(err))
	}
	t := decodeTrailer(rest[:])

	if t.Records != r.running.Records || t.PayloadBytes != r.running.PayloadBytes {
		return r.errorf("trailer counts %d records / %d bytes, read %d / %d: %w",
			t.Records, t.PayloadBytes, r.running.Records, r.running.PayloadBytes, errors.ErrCorruptRecord)
	}
	if t.CRC != r.running.CRC {
		return r.errorf("segment crc 0x%08x, trailer says 0x%08x: %w",
			r.running.CRC, t.CRC, errors.ErrChecksumMismatch)
	}

	if _, err := r.r.ReadByte(); err != io.EOF {
		return r.errorf("data after trailer: %w", errors.ErrCorruptRecord)
	}

	r.stats.BytesRead += trailerSize
	r.trailer = &t
	r.done = true
	return io.EOF
}

func (r *Reader) errorf(format string, args ...any) error {
	r.done = true
	return fmt.Errorf("%s: "+format, append([]any{r.path}, args...)...)
}

func truncated(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return errors.ErrTruncated
	}
	return err
}

// Trailer returns the verified trailer, or nil if none has been read.
func (r *Reader) Trailer() *Trailer {
	return r.trailer
}

// Running returns the trailer computed from the records read so far.
func (r *Reader) Running() Trailer {
	return r.running
}

// Stats returns reader statistics.
func (r *Reader) Stats() ReaderStats {
	return r.stats
}

// Path returns the segment path.
func (r *Reader) Path() string {
	return r.path
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.file.Close()
}

// SegmentSummary is the result of verifying one segment.
type SegmentSummary struct {
	Path     string
	Records  uint32
	Payload  uint64
	CRC      uint32
	Complete bool // the segment has a valid trailer
	Batches  []*snapshot.Batch
}

// ReadSegment reads and verifies a whole segment. On damage it returns the
// batches read before it together with the error.
func ReadSegment(path string) (*SegmentSummary, error) {
	r, err := NewReader(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	sum := &SegmentSummary{Path: path}
	for {
		b, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			sum.fill(r)
			return sum, err
		}
		sum.Batches = append(sum.Batches, b)
	}
	sum.fill(r)
	return sum, nil
}

func (s *SegmentSummary) fill(r *Reader) {
	run := r.Running()
	s.Records = run.Records
	s.Payload = run.PayloadBytes
	s.CRC = run.CRC
	s.Complete = r.Trailer() != nil
}

// ReadDir reads every segment in dir, oldest first, stopping at the first
// damaged segment.
func ReadDir(dir string) ([]*SegmentSummary, error) {
	paths, err := ListSegments(dir)
	if err != nil {
		return nil, err
	}
	out := make([]*SegmentSummary, 0, len(paths))
	for _, p := range paths {
		sum, err := ReadSegment(p)
		if sum != nil {
			out = append(out, sum)
		}
		if err != nil {
			return out, err
		}
	}
	return out, nil
}
