package journal

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/xtxerr/perfkit/config"
	"github.com/xtxerr/perfkit/internal/checksum"
	"github.com/xtxerr/perfkit/internal/errors"
	"github.com/xtxerr/perfkit/internal/logging"
	"github.com/xtxerr/perfkit/internal/snapshot"
)

// Options configures the journal writer.
type Options struct {
	// MaxSegmentSize rotates the segment before a record would push it
	// past this size. A segment always holds at least one record.
	MaxSegmentSize int64

	// MaxSegments keeps only the newest segments after rotation.
	// Zero keeps everything.
	MaxSegments int

	SyncMode SyncMode

	// BufferSize is the size of the write buffer.
	BufferSize int
}

// DefaultOptions returns default journal options.
func DefaultOptions() Options {
	return Options{
		MaxSegmentSize: config.DefaultJournalMaxSegmentSize,
		SyncMode:       SyncAsync,
		BufferSize:     config.DefaultJournalBufferSize,
	}
}

// WriterStats holds journal writer statistics.
type WriterStats struct {
	SegmentsCreated int64
	SegmentsDeleted int64
	RecordsWritten  int64
	BytesWritten    int64
	SyncsPerformed  int64
	Errors          int64
}

// Writer appends snapshot batches to the current segment.
// It is safe for concurrent use.
type Writer struct {
	mu sync.Mutex

	dir         string
	file        *os.File
	currentPath string
	currentSize int64
	segmentSeq  int64
	writer      *bufio.Writer

	// running trailer of the current segment
	trailer Trailer

	opts   Options
	stats  WriterStats
	closed bool
	log    *slog.Logger
}

// NewWriter opens a writer on dir, creating it if needed. Numbering
// continues after the highest existing segment.
func NewWriter(dir string, opts Options) (*Writer, error) {
	def := DefaultOptions()
	if opts.MaxSegmentSize <= 0 {
		opts.MaxSegmentSize = def.MaxSegmentSize
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = def.BufferSize
	}
	if opts.SyncMode == "" {
		opts.SyncMode = def.SyncMode
	}
	if _, err := ParseSyncMode(string(opts.SyncMode)); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}

	w := &Writer{
		dir:  dir,
		opts: opts,
		log:  logging.Component("journal"),
	}

	segments, err := listSegments(dir)
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}
	if len(segments) > 0 {
		w.segmentSeq = segments[len(segments)-1].seq + 1
	}

	if err := w.rotateLocked(); err != nil {
		return nil, fmt.Errorf("create initial segment: %w", err)
	}
	return w, nil
}

// Write appends one batch as one record.
func (w *Writer) Write(b *snapshot.Batch) error {
	payload := snapshot.Marshal(b)

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return errors.ErrWriterClosed
	}
	if uint64(len(payload)) > config.DefaultJournalMaxRecordSize {
		w.stats.Errors++
		return fmt.Errorf("record of %d bytes exceeds limit: %w", len(payload), errors.ErrInvalidArgs)
	}

	recordSize := int64(recordHeaderSize + len(payload))
	if w.trailer.Records > 0 && w.currentSize+recordSize+trailerSize > w.opts.MaxSegmentSize {
		if err := w.rotateLocked(); err != nil {
			w.stats.Errors++
			return fmt.Errorf("rotate segment: %w", err)
		}
	}

	if err := w.writeRecord(payload); err != nil {
		w.stats.Errors++
		return fmt.Errorf("write record: %w", err)
	}

	w.stats.RecordsWritten++
	w.stats.BytesWritten += recordSize

	if w.opts.SyncMode != SyncAsync {
		if err := w.syncLocked(); err != nil {
			w.stats.Errors++
			return fmt.Errorf("sync: %w", err)
		}
	}
	return nil
}

func (w *Writer) writeRecord(payload []byte) error {
	crc := checksum.Compute32(payload, 0)

	var header [recordHeaderSize]byte
	binary.LittleEndian.PutUint32(header[0:4], uint32(len(payload)))
	binary.LittleEndian.PutUint32(header[4:8], crc)

	if _, err := w.writer.Write(header[:]); err != nil {
		return err
	}
	if _, err := w.writer.Write(payload); err != nil {
		return err
	}

	w.currentSize += int64(recordHeaderSize + len(payload))
	w.trailer.CRC = checksum.Append32(w.trailer.CRC, crc, uint64(len(payload)))
	w.trailer.PayloadBytes += uint64(len(payload))
	w.trailer.Records++
	return nil
}

// Flush writes buffered records to the OS, and fsyncs in fsync mode.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return errors.ErrWriterClosed
	}
	return w.syncLocked()
}

func (w *Writer) syncLocked() error {
	if w.writer == nil {
		return nil
	}
	if err := w.writer.Flush(); err != nil {
		return err
	}
	if w.opts.SyncMode == SyncFsync {
		if err := w.file.Sync(); err != nil {
			return err
		}
	}
	w.stats.SyncsPerformed++
	return nil
}

// Rotate seals the current segment and starts a new one.
func (w *Writer) Rotate() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return errors.ErrWriterClosed
	}
	return w.rotateLocked()
}

func (w *Writer) rotateLocked() error {
	if err := w.sealLocked(); err != nil {
		return err
	}

	path := filepath.Join(w.dir, segmentName(w.segmentSeq))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("create segment %s: %w", path, err)
	}

	var header [headerSize]byte
	binary.LittleEndian.PutUint64(header[0:8], segmentMagic)
	binary.LittleEndian.PutUint32(header[8:12], segmentVersion)
	if _, err := f.Write(header[:]); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("write header: %w", err)
	}

	w.file = f
	w.currentPath = path
	w.currentSize = headerSize
	w.writer = bufio.NewWriterSize(f, w.opts.BufferSize)
	w.trailer = Trailer{}
	w.segmentSeq++
	w.stats.SegmentsCreated++

	w.log.Debug("segment opened", "path", path)
	w.pruneLocked()
	return nil
}

// sealLocked writes the trailer and closes the current segment.
func (w *Writer) sealLocked() error {
	if w.file == nil {
		return nil
	}
	f := w.file
	w.file = nil

	trailer := w.trailer.appendTo(make([]byte, 0, trailerSize))
	if _, err := w.writer.Write(trailer); err != nil {
		f.Close()
		return fmt.Errorf("write trailer: %w", err)
	}
	if err := w.writer.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("flush segment: %w", err)
	}
	if w.opts.SyncMode == SyncFsync {
		if err := f.Sync(); err != nil {
			f.Close()
			return fmt.Errorf("sync segment: %w", err)
		}
	}

	w.log.Debug("segment sealed",
		"path", w.currentPath,
		"records", w.trailer.Records,
		"payload_bytes", w.trailer.PayloadBytes,
		"crc", fmt.Sprintf("0x%08x", w.trailer.CRC))
	return f.Close()
}

// pruneLocked deletes the oldest segments beyond MaxSegments.
func (w *Writer) pruneLocked() {
	if w.opts.MaxSegments <= 0 {
		return
	}
	segments, err := listSegments(w.dir)
	if err != nil {
		w.log.Warn("list segments for pruning", "error", err)
		return
	}
	for len(segments) > w.opts.MaxSegments {
		s := segments[0]
		segments = segments[1:]
		if s.path == w.currentPath {
			continue
		}
		if err := os.Remove(s.path); err != nil {
			w.log.Warn("delete segment", "path", s.path, "error", err)
			continue
		}
		w.stats.SegmentsDeleted++
	}
}

// Close seals the current segment. Later writes fail with ErrWriterClosed.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return w.sealLocked()
}

// Stats returns writer statistics.
func (w *Writer) Stats() WriterStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// CurrentSegment returns the path of the segment being written.
func (w *Writer) CurrentSegment() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.currentPath
}

// Dir returns the journal directory.
func (w *Writer) Dir() string {
	return w.dir
}

type segmentInfo struct {
	path string
	seq  int64
}

func listSegments(dir string) ([]segmentInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var segments []segmentInfo
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		seq, ok := parseSegmentName(entry.Name())
		if !ok {
			continue
		}
		segments = append(segments, segmentInfo{
			path: filepath.Join(dir, entry.Name()),
			seq:  seq,
		})
	}

	sort.Slice(segments, func(i, j int) bool {
		return segments[i].seq < segments[j].seq
	})
	return segments, nil
}

// ListSegments returns the segment paths in dir, oldest first.
func ListSegments(dir string) ([]string, error) {
	segments, err := listSegments(dir)
	if err != nil {
		return nil, err
	}
	paths := make([]string, len(segments))
	for i, s := range segments {
		paths[i] = s.path
	}
	return paths, nil
}
