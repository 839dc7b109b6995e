// Package journal writes counter snapshots to CRC-framed segment files and
// reads them back for verification.
//
// Segment format (little-endian):
//
//	header:  magic u64 | version u32
//	record:  length u32 | crc32c u32 | payload
//	trailer: trailerMagic u64 | records u32 | payloadBytes u64 | segmentCRC u32
//
// Each payload is one protobuf-encoded snapshot.Batch. segmentCRC is the
// CRC-32C of all payloads concatenated; the writer maintains it with
// checksum.Append32 as records are appended, and the reader recomputes it
// the same way. A segment without a trailer was not closed cleanly.
package journal

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/xtxerr/perfkit/internal/errors"
)

const (
	segmentMagic   uint64 = 0x504B4A524E4C0001 // "PKJRNL" + 1
	segmentVersion uint32 = 1

	// The low word of trailerMagic is larger than any record length a
	// reader accepts, so a trailer can never be mistaken for a record header.
	trailerMagic uint64 = 0x504B5452FFFFFFFF

	headerSize       = 12 // magic + version
	recordHeaderSize = 8  // length + crc
	trailerSize      = 24 // magic + records + payloadBytes + crc

	segmentExt = ".pkj"
)

// SyncMode controls when written records reach the disk.
type SyncMode string

const (
	// SyncAsync flushes the write buffer when it fills, on Flush and on
	// rotation.
	SyncAsync SyncMode = "async"

	// SyncWrite flushes the buffer to the OS after every batch.
	SyncWrite SyncMode = "sync"

	// SyncFsync flushes and fsyncs after every batch.
	SyncFsync SyncMode = "fsync"
)

// ParseSyncMode parses "async", "sync" or "fsync".
func ParseSyncMode(s string) (SyncMode, error) {
	switch m := SyncMode(strings.ToLower(strings.TrimSpace(s))); m {
	case SyncAsync, SyncWrite, SyncFsync:
		return m, nil
	case "":
		return SyncAsync, nil
	}
	return "", fmt.Errorf("sync mode %q: %w", s, errors.ErrInvalidConfig)
}

// Trailer summarizes a cleanly closed segment.
type Trailer struct {
	Records      uint32
	PayloadBytes uint64
	CRC          uint32
}

func (t Trailer) appendTo(buf []byte) []byte {
	buf = binary.LittleEndian.AppendUint64(buf, trailerMagic)
	buf = binary.LittleEndian.AppendUint32(buf, t.Records)
	buf = binary.LittleEndian.AppendUint64(buf, t.PayloadBytes)
	buf = binary.LittleEndian.AppendUint32(buf, t.CRC)
	return buf
}

// decodeTrailer decodes the trailer fields following trailerMagic.
func decodeTrailer(b []byte) Trailer {
	return Trailer{
		Records:      binary.LittleEndian.Uint32(b[0:4]),
		PayloadBytes: binary.LittleEndian.Uint64(b[4:12]),
		CRC:          binary.LittleEndian.Uint32(b[12:16]),
	}
}

func segmentName(seq int64) string {
	return fmt.Sprintf("%016d%s", seq, segmentExt)
}

func parseSegmentName(name string) (int64, bool) {
	if len(name) != 16+len(segmentExt) || !strings.HasSuffix(name, segmentExt) {
		return 0, false
	}
	var seq int64
	if _, err := fmt.Sscanf(name[:16], "%016d", &seq); err != nil {
		return 0, false
	}
	return seq, true
}
